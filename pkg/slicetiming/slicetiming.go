// Package slicetiming corrects for the sequential acquisition of slices
// within each volume. Every voxel series is resampled by linear
// interpolation to the acquisition time of a reference slice.
package slicetiming

import (
	"fmt"

	"fmripipeline/internal/models"
	"fmripipeline/pkg/nifti"
)

// Prefix is prepended to the basename of corrected runs.
const Prefix = "a"

// Params configure the correction.
type Params struct {
	// Order is "ascending" or "descending"
	Order string

	// Interleaved acquires every other slice first
	Interleaved bool

	// RefSlice is the slice whose acquisition time is the target
	RefSlice int

	// TR overrides the repetition time stored in the volume header when
	// positive
	TR float64
}

// Fitted holds the estimated acquisition timing.
type Fitted struct {
	TR float64

	// SliceTimes holds the acquisition offset in seconds of each slice
	SliceTimes []float64

	// RefTime is the acquisition offset of the reference slice
	RefTime float64
}

// Corrector is the slice-timing stage.
type Corrector struct {
	params Params
}

// New returns a corrector with the given parameters.
func New(p Params) *Corrector {
	return &Corrector{params: p}
}

func (c *Corrector) Name() string    { return "slice_timing" }
func (c *Corrector) Version() string { return "1" }
func (c *Corrector) Config() any     { return c.params }

// AcquisitionOrder returns the slice indices in the order they were
// acquired.
func AcquisitionOrder(n int, order string, interleaved bool) ([]int, error) {
	seq := make([]int, 0, n)
	if interleaved {
		for k := 0; k < n; k += 2 {
			seq = append(seq, k)
		}
		for k := 1; k < n; k += 2 {
			seq = append(seq, k)
		}
	} else {
		for k := 0; k < n; k++ {
			seq = append(seq, k)
		}
	}
	switch order {
	case "ascending":
	case "descending":
		for i, j := 0, len(seq)-1; i < j; i, j = i+1, j-1 {
			seq[i], seq[j] = seq[j], seq[i]
		}
	default:
		return nil, fmt.Errorf("unknown slice order %q", order)
	}
	return seq, nil
}

// Fit derives slice acquisition times from the geometry of the first run.
func (c *Corrector) Fit(store models.VolumeStore, runs []models.VolumeSet) (Fitted, error) {
	if len(runs) == 0 {
		return Fitted{}, fmt.Errorf("no functional runs")
	}
	v, err := store.Load(runs[0][0])
	if err != nil {
		return Fitted{}, err
	}
	tr := c.params.TR
	if tr <= 0 {
		tr = v.TR
	}
	if tr <= 0 {
		return Fitted{}, fmt.Errorf("repetition time unknown for %s", runs[0][0])
	}
	if c.params.RefSlice >= v.Nz {
		return Fitted{}, fmt.Errorf("reference slice %d out of range for %d slices", c.params.RefSlice, v.Nz)
	}

	seq, err := AcquisitionOrder(v.Nz, c.params.Order, c.params.Interleaved)
	if err != nil {
		return Fitted{}, err
	}
	f := Fitted{TR: tr, SliceTimes: make([]float64, v.Nz)}
	for i, z := range seq {
		f.SliceTimes[z] = float64(i) * tr / float64(v.Nz)
	}
	f.RefTime = f.SliceTimes[c.params.RefSlice]
	return f, nil
}

// Transform writes one corrected 4-D file per run into outDir.
func (c *Corrector) Transform(store models.VolumeStore, f Fitted, runs []models.VolumeSet, outDir string) (models.StageOutput, error) {
	out := models.StageOutput{Stage: c.Name()}
	for _, run := range runs {
		v, err := store.LoadSet(run)
		if err != nil {
			return out, err
		}
		if v.Nz != len(f.SliceTimes) {
			return out, fmt.Errorf("%s has %d slices, timing was estimated for %d", run[0], v.Nz, len(f.SliceTimes))
		}
		set, err := store.SaveVolumes(Correct(v, f), outDir, Prefix+nifti.Basename(run[0]))
		if err != nil {
			return out, err
		}
		out.Func = append(out.Func, set)
	}
	return out, nil
}

// Correct returns v with every slice shifted to the reference time.
func Correct(v *models.Volume, f Fitted) *models.Volume {
	out := v.Clone()
	series := make([]float64, v.Nt)
	for z := 0; z < v.Nz; z++ {
		shift := (f.RefTime - f.SliceTimes[z]) / f.TR
		if shift == 0 {
			continue
		}
		for y := 0; y < v.Ny; y++ {
			for x := 0; x < v.Nx; x++ {
				for t := range series {
					series[t] = v.Data[v.Index(x, y, z, t)]
				}
				for t := range series {
					out.Data[v.Index(x, y, z, t)] = sample(series, float64(t)+shift)
				}
			}
		}
	}
	return out
}

// sample linearly interpolates s at fractional position p, clamping to the
// first and last samples.
func sample(s []float64, p float64) float64 {
	if p <= 0 {
		return s[0]
	}
	last := len(s) - 1
	if p >= float64(last) {
		return s[last]
	}
	i := int(p)
	w := p - float64(i)
	return (1-w)*s[i] + w*s[i+1]
}
