package glm

import (
	"fmt"
	"sort"

	"fmripipeline/internal/models"
)

// Bounds of the intensity range searched for the mask threshold, as
// fractions of the sorted mean intensities.
const (
	maskLowerCut = 0.2
	maskUpperCut = 0.9
)

// MeanImage averages a 4-D volume over time.
func MeanImage(data *models.Volume) *models.Volume {
	mean := models.NewVolume(data.Nx, data.Ny, data.Nz, 1, data.Affine)
	mean.VoxelSize = data.VoxelSize
	n := data.NumVoxels()
	for t := 0; t < data.Nt; t++ {
		frame := data.Data[t*n : (t+1)*n]
		for i, v := range frame {
			mean.Data[i] += v
		}
	}
	for i := range mean.Data {
		mean.Data[i] /= float64(data.Nt)
	}
	return mean
}

// ComputeMask separates brain from background in an EPI time series. The
// mean image is thresholded in the middle of the widest gap between
// consecutive sorted intensities lying between the 20th and 90th
// percentiles. The result holds 1 inside the mask and 0 outside.
func ComputeMask(data *models.Volume) (*models.Volume, error) {
	if data.NumVoxels() == 0 || data.Nt == 0 {
		return nil, fmt.Errorf("cannot compute a mask of an empty volume")
	}
	mean := MeanImage(data)

	sorted := append([]float64(nil), mean.Data...)
	sort.Float64s(sorted)
	lo := int(maskLowerCut * float64(len(sorted)))
	hi := int(maskUpperCut * float64(len(sorted)))
	threshold := sorted[lo]
	if hi-lo >= 2 {
		limiter := sorted[lo:hi]
		gap, at := -1.0, 0
		for i := 0; i+1 < len(limiter); i++ {
			if d := limiter[i+1] - limiter[i]; d > gap {
				gap, at = d, i
			}
		}
		threshold = 0.5 * (limiter[at] + limiter[at+1])
	}

	mask := models.NewVolume(data.Nx, data.Ny, data.Nz, 1, data.Affine)
	mask.VoxelSize = data.VoxelSize
	inside := 0
	for i, v := range mean.Data {
		if v >= threshold {
			mask.Data[i] = 1
			inside++
		}
	}
	if inside == 0 {
		return nil, fmt.Errorf("mask is empty at threshold %g", threshold)
	}
	return mask, nil
}

// maskedVoxels returns the flat spatial indices inside mask.
func maskedVoxels(mask *models.Volume) []int {
	var idx []int
	for i, v := range mask.Data {
		if v > 0 {
			idx = append(idx, i)
		}
	}
	return idx
}
