package coreg

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fmripipeline/internal/models"
	"fmripipeline/pkg/affine"
)

// blob places a bright 2x2x2 cube with its corner at (x, y, z).
func blob(x, y, z int, a models.Affine) *models.Volume {
	v := models.NewVolume(8, 8, 8, 1, a)
	for dz := 0; dz < 2; dz++ {
		for dy := 0; dy < 2; dy++ {
			for dx := 0; dx < 2; dx++ {
				v.Data[v.Index(x+dx, y+dy, z+dz, 0)] = 100
			}
		}
	}
	return v
}

func TestCenterOfMass(t *testing.T) {
	a := models.IdentityAffine()
	a[0][0], a[1][1], a[2][2] = 2, 2, 2
	a[0][3] = -10
	c, err := CenterOfMass(blob(2, 2, 2, a), 0)
	require.NoError(t, err)
	assert.InDeltaSlice(t, []float64{-5, 5, 5}, c[:], 1e-12)

	_, err = CenterOfMass(models.NewVolume(2, 2, 2, 1, a), 0)
	assert.Error(t, err)
	_, err = CenterOfMass(blob(0, 0, 0, a), 3)
	assert.Error(t, err)
}

func TestEstimateAlignsCenters(t *testing.T) {
	anat := blob(4, 4, 4, models.IdentityAffine())
	fn := blob(1, 2, 3, models.IdentityAffine())

	q, err := New().Estimate(anat, fn)
	require.NoError(t, err)
	assert.Equal(t, []float64{3, 2, 1, 0, 0, 0}, q)

	out, err := affine.Coregister(anat, fn, q)
	require.NoError(t, err)
	got, err := CenterOfMass(out, 0)
	require.NoError(t, err)
	want, _ := CenterOfMass(fn, 0)
	assert.InDeltaSlice(t, want[:], got[:], 1e-9)
	assert.Equal(t, anat.Data, out.Data)
}
