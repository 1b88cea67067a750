package design

import (
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat/distuv"
)

// Canonical double-gamma HRF parameters.
const (
	hrfDelay      = 6.0
	hrfUndershoot = 16.0
	hrfRatio      = 0.167
	hrfLength     = 32.0

	// oversampling is the number of high-resolution samples per TR
	oversampling = 16

	// minOnset is how far before the first frame the high-resolution grid starts
	minOnset = -24.0

	// derivativeStep is the onset shift in seconds of the finite-difference derivative
	derivativeStep = 0.1
)

// canonicalHRF samples the SPM double-gamma response at tr/oversampling
// resolution, normalized to unit sum.
func canonicalHRF(tr float64, onset float64) []float64 {
	dt := tr / oversampling
	n := int(hrfLength / dt)
	stamps := make([]float64, n)
	floats.Span(stamps, 0, hrfLength)

	loc := dt
	peak := distuv.Gamma{Alpha: hrfDelay, Beta: 1}
	under := distuv.Gamma{Alpha: hrfUndershoot, Beta: 1}
	hrf := make([]float64, n)
	for i, t := range stamps {
		t -= onset
		hrf[i] = gammaPDF(peak, t-loc) - hrfRatio*gammaPDF(under, t-loc)
	}
	if sum := floats.Sum(hrf); sum != 0 {
		floats.Scale(1/sum, hrf)
	}
	return hrf
}

// canonicalDerivative is the finite-difference temporal derivative of the
// canonical response.
func canonicalDerivative(tr float64) []float64 {
	a := canonicalHRF(tr, 0)
	b := canonicalHRF(tr, derivativeStep)
	d := make([]float64, len(a))
	for i := range a {
		d[i] = (a[i] - b[i]) / derivativeStep
	}
	return d
}

func gammaPDF(g distuv.Gamma, x float64) float64 {
	if x <= 0 {
		return 0
	}
	return g.Prob(x)
}

// highResGrid returns the oversampled time grid used to build regressors,
// starting minOnset seconds before the first frame.
func highResGrid(frameTimes []float64) []float64 {
	n := len(frameTimes)
	tmin, tmax := frameTimes[0], frameTimes[n-1]
	end := tmax * (1 + 1/float64(n-1))
	count := int(math.Floor(float64(n-1)/(tmax-tmin)*(end-tmin-minOnset)*oversampling)) + 1
	grid := make([]float64, count)
	floats.Span(grid, tmin+minOnset, end)
	return grid
}

// boxcar samples the on/off time course of a condition on the grid.
func boxcar(grid, onsets, durations []float64) []float64 {
	n := len(grid)
	x := make([]float64, n)
	for i := range onsets {
		on := min(searchSorted(grid, onsets[i]), n-1)
		off := min(searchSorted(grid, onsets[i]+durations[i]), n-1)
		if off != 0 && on == off {
			off++
		}
		x[on]++
		if off < n {
			x[off]--
		}
	}
	floats.CumSum(x, x)
	return x
}

// searchSorted returns the first index i with a[i] >= v.
func searchSorted(a []float64, v float64) int {
	lo, hi := 0, len(a)
	for lo < hi {
		mid := (lo + hi) / 2
		if a[mid] < v {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	return lo
}

// convolve returns the causal convolution of x with kernel, truncated to len(x).
func convolve(x, kernel []float64) []float64 {
	out := make([]float64, len(x))
	for i := range x {
		if x[i] == 0 {
			continue
		}
		for j, k := range kernel {
			if i+j >= len(out) {
				break
			}
			out[i+j] += x[i] * k
		}
	}
	return out
}

// resample linearly interpolates a signal defined on grid at times.
func resample(grid, signal, times []float64) []float64 {
	out := make([]float64, len(times))
	for i, t := range times {
		j := searchSorted(grid, t)
		switch {
		case j <= 0:
			out[i] = signal[0]
		case j >= len(grid):
			out[i] = signal[len(signal)-1]
		default:
			w := (t - grid[j-1]) / (grid[j] - grid[j-1])
			out[i] = (1-w)*signal[j-1] + w*signal[j]
		}
	}
	return out
}

// orthogonalize makes every column orthogonal to the columns before it,
// without normalizing.
func orthogonalize(cols [][]float64) {
	for i := 1; i < len(cols); i++ {
		for j := 0; j < i; j++ {
			den := floats.Dot(cols[j], cols[j])
			if den == 0 {
				continue
			}
			floats.AddScaled(cols[i], -floats.Dot(cols[i], cols[j])/den, cols[j])
		}
	}
}
