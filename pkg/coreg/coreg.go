// Package coreg estimates the rigid-body transform aligning an anatomical
// volume with a functional reference.
package coreg

import (
	"fmt"
	"math"

	"fmripipeline/internal/models"
	"fmripipeline/pkg/affine"
)

// Estimator aligns intensity centers of mass. The estimate is a 6-element
// rigid-body parameter vector (translations in mm, rotations in radians)
// mapping fixed-space coordinates into moving space.
type Estimator struct{}

// New returns a center-of-mass estimator.
func New() *Estimator { return &Estimator{} }

func (e *Estimator) Name() string    { return "coregistration" }
func (e *Estimator) Version() string { return "1" }

// Estimate returns the parameters that bring the center of mass of moving
// onto that of fixed. Only the first frame of each volume is used.
func (e *Estimator) Estimate(moving, fixed *models.Volume) ([]float64, error) {
	cm, err := CenterOfMass(moving, 0)
	if err != nil {
		return nil, fmt.Errorf("moving volume: %w", err)
	}
	cf, err := CenterOfMass(fixed, 0)
	if err != nil {
		return nil, fmt.Errorf("fixed volume: %w", err)
	}
	return []float64{cm[0] - cf[0], cm[1] - cf[1], cm[2] - cf[2], 0, 0, 0}, nil
}

// CenterOfMass returns the intensity-weighted center of frame t in world
// coordinates. Negative intensities are ignored.
func CenterOfMass(v *models.Volume, t int) ([3]float64, error) {
	var c [3]float64
	if t < 0 || t >= v.Nt {
		return c, fmt.Errorf("frame %d out of range [0, %d)", t, v.Nt)
	}
	var total, sx, sy, sz float64
	for z := 0; z < v.Nz; z++ {
		for y := 0; y < v.Ny; y++ {
			for x := 0; x < v.Nx; x++ {
				w := v.Data[v.Index(x, y, z, t)]
				if w <= 0 || math.IsNaN(w) {
					continue
				}
				total += w
				sx += w * float64(x)
				sy += w * float64(y)
				sz += w * float64(z)
			}
		}
	}
	if total == 0 {
		return c, fmt.Errorf("frame %d has no positive intensity", t)
	}
	c[0], c[1], c[2] = affine.Apply(v.Affine, sx/total, sy/total, sz/total)
	return c, nil
}
