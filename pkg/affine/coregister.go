package affine

import (
	"fmt"

	"fmripipeline/internal/models"
)

// Coregister returns a copy of anat whose voxel data is unchanged and whose
// affine is solve(M, anat.Affine), where M is the rigid transform built from
// the estimated parameter vector q. The reference volume only identifies the
// target space; its data is not read.
func Coregister(anat, ref *models.Volume, q []float64) (*models.Volume, error) {
	if anat == nil || ref == nil {
		return nil, fmt.Errorf("coregistration requires both anatomical and reference volumes")
	}
	m, err := FromParams(q)
	if err != nil {
		return nil, err
	}
	affine, err := Solve(m, anat.Affine)
	if err != nil {
		return nil, fmt.Errorf("composing coregistration transform: %w", err)
	}
	out := anat.Clone()
	out.Affine = affine
	return out, nil
}
