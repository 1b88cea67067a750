// Package affine composes and applies 4x4 spatial transforms used to align
// anatomical and functional coordinate frames.
package affine

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"

	"fmripipeline/internal/models"
)

// defaultParams are the values used for parameters missing from a short
// vector: no translation, no rotation, unit zoom, no shear.
var defaultParams = [12]float64{0, 0, 0, 0, 0, 0, 1, 1, 1, 0, 0, 0}

// FromParams builds the affine matrix described by a parameter vector of
// up to 12 elements:
//
//	[0:3]  translations x, y, z (mm)
//	[3:6]  rotations about x, y, z (radians)
//	[6:9]  zooms
//	[9:12] shears
//
// The matrix is T * R1 * R2 * R3 * Z * S, the same composition order used
// by the rigid-body estimators. A 6-element vector yields a rigid transform.
func FromParams(q []float64) (models.Affine, error) {
	if len(q) == 0 || len(q) > 12 {
		return models.Affine{}, fmt.Errorf("affine parameter vector must have 1 to 12 elements, got %d", len(q))
	}
	p := defaultParams
	copy(p[:], q)

	t := mat.NewDense(4, 4, []float64{
		1, 0, 0, p[0],
		0, 1, 0, p[1],
		0, 0, 1, p[2],
		0, 0, 0, 1,
	})
	c1, s1 := math.Cos(p[3]), math.Sin(p[3])
	r1 := mat.NewDense(4, 4, []float64{
		1, 0, 0, 0,
		0, c1, s1, 0,
		0, -s1, c1, 0,
		0, 0, 0, 1,
	})
	c2, s2 := math.Cos(p[4]), math.Sin(p[4])
	r2 := mat.NewDense(4, 4, []float64{
		c2, 0, s2, 0,
		0, 1, 0, 0,
		-s2, 0, c2, 0,
		0, 0, 0, 1,
	})
	c3, s3 := math.Cos(p[5]), math.Sin(p[5])
	r3 := mat.NewDense(4, 4, []float64{
		c3, s3, 0, 0,
		-s3, c3, 0, 0,
		0, 0, 1, 0,
		0, 0, 0, 1,
	})
	z := mat.NewDense(4, 4, []float64{
		p[6], 0, 0, 0,
		0, p[7], 0, 0,
		0, 0, p[8], 0,
		0, 0, 0, 1,
	})
	s := mat.NewDense(4, 4, []float64{
		1, p[9], p[10], 0,
		0, 1, p[11], 0,
		0, 0, 1, 0,
		0, 0, 0, 1,
	})

	var m mat.Dense
	m.Product(t, r1, r2, r3, z, s)
	return FromDense(&m), nil
}

// Solve returns X such that M * X = A. The system is solved by LU
// factorization rather than by forming the inverse of M.
func Solve(m, a models.Affine) (models.Affine, error) {
	var x mat.Dense
	if err := x.Solve(ToDense(m), ToDense(a)); err != nil {
		return models.Affine{}, fmt.Errorf("solving affine system: %w", err)
	}
	return FromDense(&x), nil
}

// Multiply returns a * b.
func Multiply(a, b models.Affine) models.Affine {
	var m mat.Dense
	m.Mul(ToDense(a), ToDense(b))
	return FromDense(&m)
}

// Apply maps the point (x, y, z) through a.
func Apply(a models.Affine, x, y, z float64) (float64, float64, float64) {
	return a[0][0]*x + a[0][1]*y + a[0][2]*z + a[0][3],
		a[1][0]*x + a[1][1]*y + a[1][2]*z + a[1][3],
		a[2][0]*x + a[2][1]*y + a[2][2]*z + a[2][3]
}

// ToDense copies a into a gonum matrix.
func ToDense(a models.Affine) *mat.Dense {
	m := mat.NewDense(4, 4, nil)
	for i := 0; i < 4; i++ {
		for j := 0; j < 4; j++ {
			m.Set(i, j, a[i][j])
		}
	}
	return m
}

// FromDense copies a 4x4 gonum matrix into an Affine.
func FromDense(m mat.Matrix) models.Affine {
	var a models.Affine
	for i := 0; i < 4; i++ {
		for j := 0; j < 4; j++ {
			a[i][j] = m.At(i, j)
		}
	}
	return a
}

// Equal reports whether two affines match element-wise within tol.
func Equal(a, b models.Affine, tol float64) bool {
	for i := 0; i < 4; i++ {
		for j := 0; j < 4; j++ {
			if math.Abs(a[i][j]-b[i][j]) > tol {
				return false
			}
		}
	}
	return true
}
