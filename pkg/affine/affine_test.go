package affine

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fmripipeline/internal/models"
)

func scannerAffine() models.Affine {
	return models.Affine{
		{-3, 0, 0, 96},
		{0, 3, 0, -114},
		{0, 0, 3, -72},
		{0, 0, 0, 1},
	}
}

func TestFromParamsIdentity(t *testing.T) {
	m, err := FromParams([]float64{0, 0, 0, 0, 0, 0})
	require.NoError(t, err)
	assert.True(t, Equal(m, models.IdentityAffine(), 1e-12))
}

func TestFromParamsTranslation(t *testing.T) {
	m, err := FromParams([]float64{1, -2, 3})
	require.NoError(t, err)
	x, y, z := Apply(m, 0, 0, 0)
	assert.InDelta(t, 1, x, 1e-12)
	assert.InDelta(t, -2, y, 1e-12)
	assert.InDelta(t, 3, z, 1e-12)
}

func TestFromParamsRotationIsOrthonormal(t *testing.T) {
	m, err := FromParams([]float64{0, 0, 0, 0.1, -0.2, 0.3})
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		var norm float64
		for j := 0; j < 3; j++ {
			norm += m[i][j] * m[i][j]
		}
		assert.InDelta(t, 1, norm, 1e-12, "row %d", i)
	}
}

func TestFromParamsRejectsBadLength(t *testing.T) {
	_, err := FromParams(nil)
	assert.Error(t, err)
	_, err = FromParams(make([]float64, 13))
	assert.Error(t, err)
}

func TestSolveMatchesDefinition(t *testing.T) {
	m, err := FromParams([]float64{4, -1, 2, 0.05, 0.02, -0.03})
	require.NoError(t, err)
	a := scannerAffine()

	x, err := Solve(m, a)
	require.NoError(t, err)

	// M * X must reproduce the original affine.
	assert.True(t, Equal(Multiply(m, x), a, 1e-9))
}

func TestSolveSingular(t *testing.T) {
	var singular models.Affine
	_, err := Solve(singular, scannerAffine())
	assert.Error(t, err)
}

func TestCoregister(t *testing.T) {
	anat := models.NewVolume(4, 4, 4, 1, scannerAffine())
	for i := range anat.Data {
		anat.Data[i] = float64(i)
	}
	ref := models.NewVolume(2, 2, 2, 1, models.IdentityAffine())

	t.Run("identity parameters keep the affine", func(t *testing.T) {
		out, err := Coregister(anat, ref, []float64{0, 0, 0, 0, 0, 0})
		require.NoError(t, err)
		assert.True(t, Equal(out.Affine, anat.Affine, 1e-12))
	})

	t.Run("estimated transform is solved into the affine", func(t *testing.T) {
		q := []float64{2, 0, -5, 0, 0, math.Pi / 36}
		out, err := Coregister(anat, ref, q)
		require.NoError(t, err)

		m, err := FromParams(q)
		require.NoError(t, err)
		want, err := Solve(m, anat.Affine)
		require.NoError(t, err)
		assert.True(t, Equal(out.Affine, want, 1e-12))
		assert.False(t, Equal(out.Affine, anat.Affine, 1e-6))
		assert.Equal(t, anat.Data, out.Data)
	})

	t.Run("input is not mutated", func(t *testing.T) {
		before := anat.Affine
		_, err := Coregister(anat, ref, []float64{10, 10, 10})
		require.NoError(t, err)
		assert.Equal(t, before, anat.Affine)
	})

	t.Run("missing volumes", func(t *testing.T) {
		_, err := Coregister(nil, ref, []float64{0})
		assert.Error(t, err)
	})
}
