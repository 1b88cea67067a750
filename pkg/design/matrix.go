package design

import (
	"fmt"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// Spec gathers everything needed to build a design matrix.
type Spec struct {
	// TR is the repetition time in seconds
	TR float64

	// NScans is the number of acquired volumes
	NScans int

	// Paradigm lists the stimulation events
	Paradigm Paradigm

	// HRF selects the hemodynamic response model
	HRF HRFModel

	// Drift selects the drift basis
	Drift DriftModel

	// DriftOrder is the polynomial drift order
	DriftOrder int

	// HFCut is the high-pass period cutoff in seconds for cosine drift
	HFCut float64

	// Nuisance holds extra regressors, one row per scan
	Nuisance [][]float64

	// NuisanceNames names the nuisance columns; generated when empty
	NuisanceNames []string
}

// HFCutForBlocks is the high-pass cutoff used for block designs: twice the
// period of one on/off cycle of blocks lasting blockDuration seconds.
func HFCutForBlocks(blockDuration float64) float64 {
	return 2 * 2 * blockDuration
}

// Matrix is a design matrix with named columns.
type Matrix struct {
	// Names labels each column
	Names []string

	// FrameTimes holds the acquisition time of each row in seconds
	FrameTimes []float64

	// X has one row per scan and one column per regressor
	X *mat.Dense

	// Conditions lists the condition labels in column order
	Conditions []string

	// HRF is the model used for the condition columns
	HRF HRFModel

	// NuisanceColumns and DriftColumns count the trailing column groups
	NuisanceColumns int
	DriftColumns    int
}

// Columns returns the number of regressors.
func (m *Matrix) Columns() int {
	return len(m.Names)
}

// Rows returns the number of scans.
func (m *Matrix) Rows() int {
	return len(m.FrameTimes)
}

// Index returns the column of a regressor name.
func (m *Matrix) Index(name string) (int, bool) {
	for i, n := range m.Names {
		if n == name {
			return i, true
		}
	}
	return 0, false
}

// ConditionColumn returns the main-effect column of a condition.
func (m *Matrix) ConditionColumn(condition string) (int, bool) {
	for i, c := range m.Conditions {
		if c == condition {
			return i * m.HRF.ColumnsPerCondition(), true
		}
	}
	return 0, false
}

// FrameTimes returns n acquisition times spaced tr seconds apart from 0.
func FrameTimes(tr float64, n int) []float64 {
	t := make([]float64, n)
	for i := range t {
		t[i] = float64(i) * tr
	}
	return t
}

// Build assembles the design matrix. Columns are ordered as condition
// regressors (sorted by label, each followed by its derivative when the HRF
// model has one), nuisance regressors, then drift terms ending with the
// constant. Adding nuisance regressors never moves a condition column.
func Build(spec Spec) (*Matrix, error) {
	if spec.TR <= 0 {
		return nil, fmt.Errorf("repetition time must be positive, got %g", spec.TR)
	}
	if spec.NScans < 2 {
		return nil, fmt.Errorf("at least 2 scans are required, got %d", spec.NScans)
	}
	if err := spec.Paradigm.Validate(); err != nil {
		return nil, err
	}
	if len(spec.Nuisance) > 0 && len(spec.Nuisance) != spec.NScans {
		return nil, fmt.Errorf("nuisance regressors have %d rows, expected %d scans", len(spec.Nuisance), spec.NScans)
	}

	frameTimes := FrameTimes(spec.TR, spec.NScans)
	conditions := spec.Paradigm.ConditionNames()

	var cols [][]float64
	var names []string

	grid := highResGrid(frameTimes)
	kernels := [][]float64{canonicalHRF(spec.TR, 0)}
	if spec.HRF == CanonicalWithDerivative {
		kernels = append(kernels, canonicalDerivative(spec.TR))
	}
	for _, cond := range conditions {
		onsets, durations := spec.Paradigm.events(cond)
		hr := boxcar(grid, onsets, durations)
		group := make([][]float64, len(kernels))
		for k, kernel := range kernels {
			group[k] = resample(grid, convolve(hr, kernel), frameTimes)
		}
		orthogonalize(group)
		cols = append(cols, group...)
		names = append(names, cond)
		if spec.HRF == CanonicalWithDerivative {
			names = append(names, cond+"_derivative")
		}
	}

	nuisance := 0
	if len(spec.Nuisance) > 0 {
		width := len(spec.Nuisance[0])
		if len(spec.NuisanceNames) > 0 && len(spec.NuisanceNames) != width {
			return nil, fmt.Errorf("%d nuisance names for %d nuisance columns", len(spec.NuisanceNames), width)
		}
		for j := 0; j < width; j++ {
			col := make([]float64, spec.NScans)
			for i, row := range spec.Nuisance {
				if len(row) != width {
					return nil, fmt.Errorf("nuisance row %d has %d values, expected %d", i, len(row), width)
				}
				col[i] = row[j]
			}
			cols = append(cols, col)
			if len(spec.NuisanceNames) > 0 {
				names = append(names, spec.NuisanceNames[j])
			} else {
				names = append(names, fmt.Sprintf("reg%d", j+1))
			}
		}
		nuisance = width
	}

	drift, driftNames, err := driftColumns(spec.Drift, frameTimes, spec.HFCut, spec.DriftOrder)
	if err != nil {
		return nil, err
	}
	cols = append(cols, drift...)
	names = append(names, driftNames...)

	x := mat.NewDense(spec.NScans, len(cols), nil)
	for j, col := range cols {
		x.SetCol(j, col)
	}

	return &Matrix{
		Names:           names,
		FrameTimes:      frameTimes,
		X:               x,
		Conditions:      conditions,
		HRF:             spec.HRF,
		NuisanceColumns: nuisance,
		DriftColumns:    len(drift),
	}, nil
}

// Column returns a copy of column j.
func (m *Matrix) Column(j int) []float64 {
	return mat.Col(nil, j, m.X)
}

// MaxAbs returns the largest absolute value of column j.
func (m *Matrix) MaxAbs(j int) float64 {
	col := m.Column(j)
	return max(floats.Max(col), -floats.Min(col))
}
