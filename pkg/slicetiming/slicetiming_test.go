package slicetiming

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fmripipeline/internal/models"
	"fmripipeline/pkg/nifti"
)

func TestAcquisitionOrder(t *testing.T) {
	tests := []struct {
		order       string
		interleaved bool
		want        []int
	}{
		{"ascending", false, []int{0, 1, 2, 3, 4}},
		{"descending", false, []int{4, 3, 2, 1, 0}},
		{"ascending", true, []int{0, 2, 4, 1, 3}},
		{"descending", true, []int{3, 1, 4, 2, 0}},
	}
	for _, tt := range tests {
		got, err := AcquisitionOrder(5, tt.order, tt.interleaved)
		require.NoError(t, err)
		assert.Equal(t, tt.want, got, "%s interleaved=%v", tt.order, tt.interleaved)
	}
	_, err := AcquisitionOrder(5, "random", false)
	assert.Error(t, err)
}

// rampRun is a run whose intensity at slice z and frame t equals the
// acquisition time of that sample in seconds.
func rampRun(t *testing.T, dir string, tr float64, nz, nt int) string {
	t.Helper()
	v := models.NewVolume(2, 2, nz, nt, models.IdentityAffine())
	v.TR = tr
	for tt := 0; tt < nt; tt++ {
		for z := 0; z < nz; z++ {
			for y := 0; y < 2; y++ {
				for x := 0; x < 2; x++ {
					v.Data[v.Index(x, y, z, tt)] = float64(tt)*tr + float64(z)*tr/float64(nz)
				}
			}
		}
	}
	set, err := nifti.NewStore().SaveVolumes(v, dir, "bold")
	require.NoError(t, err)
	return set[0]
}

func TestFitAndTransform(t *testing.T) {
	dir := t.TempDir()
	ref := rampRun(t, dir, 2, 4, 10)
	store := nifti.NewStore()

	c := New(Params{Order: "ascending", RefSlice: 0})
	f, err := c.Fit(store, []models.VolumeSet{{ref}})
	require.NoError(t, err)
	assert.Equal(t, 2.0, f.TR)
	assert.Equal(t, []float64{0, 0.5, 1, 1.5}, f.SliceTimes)
	assert.Equal(t, 0.0, f.RefTime)

	out, err := c.Transform(store, f, []models.VolumeSet{{ref}}, filepath.Join(dir, "stc"))
	require.NoError(t, err)
	require.Len(t, out.Func, 1)
	assert.Equal(t, "slice_timing", out.Stage)
	assert.Equal(t, "abold", nifti.Basename(out.Func[0][0]))

	got, err := store.LoadSet(out.Func[0])
	require.NoError(t, err)
	// away from the clamped first frame every slice reads the reference time
	for tt := 1; tt < got.Nt; tt++ {
		for z := 0; z < got.Nz; z++ {
			assert.InDelta(t, float64(tt)*2, got.Data[got.Index(1, 1, z, tt)], 1e-4, "t=%d z=%d", tt, z)
		}
	}
}

func TestFitErrors(t *testing.T) {
	dir := t.TempDir()
	ref := rampRun(t, dir, 2, 4, 3)
	store := nifti.NewStore()

	_, err := New(Params{Order: "ascending", RefSlice: 4}).Fit(store, []models.VolumeSet{{ref}})
	assert.Error(t, err)
	_, err = New(Params{Order: "sideways"}).Fit(store, []models.VolumeSet{{ref}})
	assert.Error(t, err)
	_, err = New(Params{Order: "ascending"}).Fit(store, nil)
	assert.Error(t, err)
	_, err = New(Params{Order: "ascending"}).Fit(store, []models.VolumeSet{{filepath.Join(dir, "missing.nii")}})
	assert.Error(t, err)
}

func TestSample(t *testing.T) {
	s := []float64{0, 10, 20}
	assert.Equal(t, 0.0, sample(s, -1))
	assert.Equal(t, 5.0, sample(s, 0.5))
	assert.Equal(t, 20.0, sample(s, 7))
}
