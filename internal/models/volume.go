package models

import (
	"fmt"
	"math"
)

// Affine is a 4x4 voxel-to-world mapping, row-major.
type Affine [4][4]float64

// IdentityAffine returns the 4x4 identity mapping.
func IdentityAffine() Affine {
	var a Affine
	for i := 0; i < 4; i++ {
		a[i][i] = 1
	}
	return a
}

// Volume represents a 3-D or 4-D image held in memory.
type Volume struct {
	// Data holds voxel intensities with x varying fastest, then y, z and t.
	Data []float64

	// Nx, Ny, Nz are the spatial dimensions in voxels
	Nx, Ny, Nz int

	// Nt is the number of timepoints (1 for a 3-D volume)
	Nt int

	// Affine maps voxel indices (i, j, k, 1) to world coordinates in mm
	Affine Affine

	// VoxelSize is the physical size of each voxel in mm
	VoxelSize [3]float64

	// TR is the repetition time in seconds; zero when unknown
	TR float64
}

// NewVolume allocates a zero-filled volume with the given dimensions.
func NewVolume(nx, ny, nz, nt int, affine Affine) *Volume {
	if nt < 1 {
		nt = 1
	}
	return &Volume{
		Data:      make([]float64, nx*ny*nz*nt),
		Nx:        nx,
		Ny:        ny,
		Nz:        nz,
		Nt:        nt,
		Affine:    affine,
		VoxelSize: voxelSizeFromAffine(affine),
	}
}

// NumVoxels returns the number of voxels in one 3-D frame.
func (v *Volume) NumVoxels() int {
	return v.Nx * v.Ny * v.Nz
}

// Index returns the flat index of voxel (x, y, z) at timepoint t.
func (v *Volume) Index(x, y, z, t int) int {
	return ((t*v.Nz+z)*v.Ny+y)*v.Nx + x
}

// Frame returns the 3-D volume at timepoint t. The returned volume shares
// no memory with v.
func (v *Volume) Frame(t int) (*Volume, error) {
	if t < 0 || t >= v.Nt {
		return nil, fmt.Errorf("frame %d out of range [0, %d)", t, v.Nt)
	}
	n := v.NumVoxels()
	out := &Volume{
		Data:      make([]float64, n),
		Nx:        v.Nx,
		Ny:        v.Ny,
		Nz:        v.Nz,
		Nt:        1,
		Affine:    v.Affine,
		VoxelSize: v.VoxelSize,
		TR:        v.TR,
	}
	copy(out.Data, v.Data[t*n:(t+1)*n])
	return out, nil
}

// Clone returns a deep copy of the volume.
func (v *Volume) Clone() *Volume {
	out := *v
	out.Data = make([]float64, len(v.Data))
	copy(out.Data, v.Data)
	return &out
}

// SameGrid reports whether two volumes share spatial dimensions.
func (v *Volume) SameGrid(o *Volume) bool {
	return v.Nx == o.Nx && v.Ny == o.Ny && v.Nz == o.Nz
}

// Concat stacks 3-D or 4-D volumes along time. All volumes must share
// the spatial grid; the first volume's affine and TR are kept.
func Concat(vols []*Volume) (*Volume, error) {
	if len(vols) == 0 {
		return nil, fmt.Errorf("no volumes to concatenate")
	}
	if len(vols) == 1 {
		return vols[0], nil
	}
	first := vols[0]
	nt := 0
	for i, v := range vols {
		if !v.SameGrid(first) {
			return nil, fmt.Errorf("volume %d has grid %dx%dx%d, expected %dx%dx%d",
				i, v.Nx, v.Ny, v.Nz, first.Nx, first.Ny, first.Nz)
		}
		nt += v.Nt
	}
	out := NewVolume(first.Nx, first.Ny, first.Nz, nt, first.Affine)
	out.VoxelSize = first.VoxelSize
	out.TR = first.TR
	offset := 0
	for _, v := range vols {
		copy(out.Data[offset:], v.Data)
		offset += len(v.Data)
	}
	return out, nil
}

func voxelSizeFromAffine(a Affine) [3]float64 {
	var size [3]float64
	for j := 0; j < 3; j++ {
		var s float64
		for i := 0; i < 3; i++ {
			s += a[i][j] * a[i][j]
		}
		size[j] = math.Sqrt(s)
	}
	return size
}
