package design

import (
	"fmt"
	"math"
)

// driftColumns returns the drift basis and its column names. The constant
// term is always last.
func driftColumns(model DriftModel, frameTimes []float64, hfcut float64, order int) ([][]float64, []string, error) {
	switch model {
	case CosineDrift:
		if hfcut <= 0 {
			return nil, nil, fmt.Errorf("cosine drift needs a positive high-pass cutoff, got %g", hfcut)
		}
		return cosineDrift(frameTimes, hfcut)
	case PolynomialDrift:
		return polynomialDrift(frameTimes, order)
	case BlankDrift:
		return [][]float64{constant(len(frameTimes))}, []string{"constant"}, nil
	}
	return nil, nil, fmt.Errorf("unknown drift model %v", model)
}

// cosineDrift builds a discrete cosine basis covering periods longer than
// hfcut seconds.
func cosineDrift(frameTimes []float64, hfcut float64) ([][]float64, []string, error) {
	n := len(frameTimes)
	dt := frameTimes[1] - frameTimes[0]
	order := int(math.Floor(2 * float64(n) * dt / hfcut))
	if order < 1 {
		order = 1
	}
	nfct := math.Sqrt(2 / float64(n))

	cols := make([][]float64, 0, order)
	names := make([]string, 0, order)
	for k := 1; k < order; k++ {
		col := make([]float64, n)
		for t := range col {
			col[t] = nfct * math.Cos(math.Pi/float64(n)*(float64(t)+0.5)*float64(k))
		}
		cols = append(cols, col)
		names = append(names, fmt.Sprintf("drift_%d", k))
	}
	cols = append(cols, constant(n))
	names = append(names, "constant")
	return cols, names, nil
}

// polynomialDrift builds orthogonalized powers of normalized time up to
// order, followed by the constant.
func polynomialDrift(frameTimes []float64, order int) ([][]float64, []string, error) {
	if order < 0 {
		return nil, nil, fmt.Errorf("polynomial drift order must be non-negative, got %d", order)
	}
	n := len(frameTimes)
	tmax := frameTimes[n-1]
	cols := make([][]float64, order+1)
	for k := 0; k <= order; k++ {
		col := make([]float64, n)
		for t, ft := range frameTimes {
			col[t] = math.Pow(ft/tmax, float64(k))
		}
		cols[k] = col
	}
	orthogonalize(cols)

	out := make([][]float64, 0, order+1)
	out = append(out, cols[1:]...)
	out = append(out, cols[0])
	names := make([]string, 0, order+1)
	for k := 1; k <= order; k++ {
		names = append(names, fmt.Sprintf("drift_%d", k))
	}
	names = append(names, "constant")
	return out, names, nil
}

func constant(n int) []float64 {
	col := make([]float64, n)
	for i := range col {
		col[i] = 1
	}
	return col
}
