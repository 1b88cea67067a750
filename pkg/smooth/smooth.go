// Package smooth applies an isotropic or anisotropic Gaussian kernel to
// every frame of functional runs.
package smooth

import (
	"fmt"
	"math"

	"fmripipeline/internal/models"
	"fmripipeline/pkg/nifti"
)

// Prefix is prepended to the basename of smoothed runs.
const Prefix = "s"

// fwhmToSigma converts a full width at half maximum to a standard deviation.
var fwhmToSigma = 1 / (2 * math.Sqrt(2*math.Ln2))

// Params configure the smoothing.
type Params struct {
	// FWHM is the kernel width in mm along x, y and z
	FWHM [3]float64
}

// Fitted holds the kernel widths in voxels.
type Fitted struct {
	Sigma [3]float64
}

// Smoother is the smoothing stage.
type Smoother struct {
	params Params
}

// New returns a smoother with the given parameters.
func New(p Params) *Smoother {
	return &Smoother{params: p}
}

func (s *Smoother) Name() string    { return "smoothing" }
func (s *Smoother) Version() string { return "1" }
func (s *Smoother) Config() any     { return s.params }

// Fit converts the kernel width to voxel units using the voxel size of the
// first run.
func (s *Smoother) Fit(store models.VolumeStore, runs []models.VolumeSet) (Fitted, error) {
	if len(runs) == 0 {
		return Fitted{}, fmt.Errorf("no functional runs")
	}
	v, err := store.Load(runs[0][0])
	if err != nil {
		return Fitted{}, err
	}
	var f Fitted
	for i, w := range s.params.FWHM {
		if w < 0 {
			return Fitted{}, fmt.Errorf("fwhm component %d is negative", i)
		}
		if v.VoxelSize[i] <= 0 {
			return Fitted{}, fmt.Errorf("voxel size along axis %d is not positive", i)
		}
		f.Sigma[i] = w * fwhmToSigma / v.VoxelSize[i]
	}
	return f, nil
}

// Transform writes one smoothed 4-D file per run.
func (s *Smoother) Transform(store models.VolumeStore, f Fitted, runs []models.VolumeSet, outDir string) (models.StageOutput, error) {
	out := models.StageOutput{Stage: s.Name()}
	for _, run := range runs {
		v, err := store.LoadSet(run)
		if err != nil {
			return out, err
		}
		set, err := store.SaveVolumes(Apply(v, f.Sigma), outDir, Prefix+nifti.Basename(run[0]))
		if err != nil {
			return out, err
		}
		out.Func = append(out.Func, set)
	}
	return out, nil
}

// Apply convolves every frame of v with a separable Gaussian of the given
// standard deviations in voxels. Kernels are renormalized at the edges so
// a constant image stays constant.
func Apply(v *models.Volume, sigma [3]float64) *models.Volume {
	out := v.Clone()
	dims := [3]int{v.Nx, v.Ny, v.Nz}
	strides := [3]int{1, v.Nx, v.Nx * v.Ny}
	n := v.NumVoxels()
	for axis := 0; axis < 3; axis++ {
		k := kernel(sigma[axis])
		if len(k) == 1 {
			continue
		}
		for t := 0; t < v.Nt; t++ {
			convolveAxis(out.Data[t*n:(t+1)*n], dims, strides, axis, k)
		}
	}
	return out
}

// kernel returns a Gaussian sampled out to three standard deviations on
// either side.
func kernel(sigma float64) []float64 {
	if sigma <= 0 {
		return []float64{1}
	}
	r := int(math.Ceil(3 * sigma))
	k := make([]float64, 2*r+1)
	for i := range k {
		d := float64(i - r)
		k[i] = math.Exp(-d * d / (2 * sigma * sigma))
	}
	return k
}

func convolveAxis(data []float64, dims, strides [3]int, axis int, k []float64) {
	r := len(k) / 2
	n := dims[axis]
	stride := strides[axis]
	line := make([]float64, n)

	// iterate over every line along axis
	var other [2]int
	j := 0
	for a := 0; a < 3; a++ {
		if a != axis {
			other[j] = a
			j++
		}
	}
	for u := 0; u < dims[other[0]]; u++ {
		for w := 0; w < dims[other[1]]; w++ {
			base := u*strides[other[0]] + w*strides[other[1]]
			for i := range line {
				line[i] = data[base+i*stride]
			}
			for i := 0; i < n; i++ {
				var sum, norm float64
				for o := -r; o <= r; o++ {
					p := i + o
					if p < 0 || p >= n {
						continue
					}
					sum += k[o+r] * line[p]
					norm += k[o+r]
				}
				data[base+i*stride] = sum / norm
			}
		}
	}
}
