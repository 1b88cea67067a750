package realign

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fmripipeline/internal/models"
	"fmripipeline/pkg/nifti"
)

// movingRun saves a run whose bright cube starts at x0 and moves by one
// voxel along x per frame.
func movingRun(t *testing.T, dir, name string, x0, frames int) models.VolumeSet {
	t.Helper()
	v := models.NewVolume(10, 6, 6, frames, models.IdentityAffine())
	v.TR = 2
	for f := 0; f < frames; f++ {
		for z := 2; z < 4; z++ {
			for y := 2; y < 4; y++ {
				for x := x0 + f; x < x0+f+2; x++ {
					v.Data[v.Index(x, y, z, f)] = 50
				}
			}
		}
	}
	set, err := nifti.NewStore().SaveVolumes(v, dir, name)
	require.NoError(t, err)
	return set
}

func TestFitEstimatesTranslation(t *testing.T) {
	dir := t.TempDir()
	runs := []models.VolumeSet{movingRun(t, dir, "run1", 1, 3), movingRun(t, dir, "run2", 3, 2)}

	f, err := New(Params{Sessions: 1}).Fit(nifti.NewStore(), runs)
	require.NoError(t, err)
	require.Len(t, f.Motion, 2)
	assert.InDelta(t, 0, f.Motion[0][0][0], 1e-9)
	assert.InDelta(t, 2, f.Motion[0][2][0], 1e-6)
	assert.InDelta(t, 3, f.Motion[1][1][0], 1e-6)
	assert.Equal(t, []int{0, 0}, f.Session)
}

func TestTransformRealignsFrames(t *testing.T) {
	dir := t.TempDir()
	store := nifti.NewStore()
	runs := []models.VolumeSet{movingRun(t, dir, "run1", 1, 3), movingRun(t, dir, "run2", 3, 2)}

	r := New(Params{Sessions: 2})
	f, err := r.Fit(store, runs)
	require.NoError(t, err)
	assert.Equal(t, []int{0, 1}, f.Session)

	out, err := r.Transform(store, f, runs, filepath.Join(dir, "mc"))
	require.NoError(t, err)
	require.Len(t, out.Func, 2)
	require.Len(t, out.RealignmentParameters, 2)
	assert.Equal(t, "rrun1", nifti.Basename(out.Func[0][0]))
	assert.Equal(t, "rp_run2.txt", filepath.Base(out.RealignmentParameters[1]))
	assert.Len(t, out.Artifacts(), 4)

	first, err := store.Load(runs[0][0])
	require.NoError(t, err)
	ref, _ := first.Frame(0)
	for _, set := range out.Func {
		v, err := store.LoadSet(set)
		require.NoError(t, err)
		for tt := 0; tt < v.Nt; tt++ {
			frame, _ := v.Frame(tt)
			assert.InDeltaSlice(t, ref.Data, frame.Data, 1e-4, "frame %d of %s", tt, set[0])
		}
	}

	// the second session is reported relative to its own first frame
	rows, err := ReadParameters(out.RealignmentParameters[1])
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.InDelta(t, 0, rows[0][0], 1e-6)
	assert.InDelta(t, 1, rows[1][0], 1e-6)
}

func TestFitErrors(t *testing.T) {
	dir := t.TempDir()
	runs := []models.VolumeSet{movingRun(t, dir, "run1", 1, 2)}
	_, err := New(Params{Sessions: 2}).Fit(nifti.NewStore(), runs)
	assert.Error(t, err)
	_, err = New(Params{Sessions: 1}).Fit(nifti.NewStore(), nil)
	assert.Error(t, err)
}

func TestParametersRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rp_bold.txt")
	in := [][6]float64{{0, 0, 0, 0, 0, 0}, {0.5, -1.25, 3, 0.01, 0, -0.02}}
	require.NoError(t, WriteParameters(path, in))

	rows, err := ReadParameters(path)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.InDeltaSlice(t, in[1][:], rows[1], 1e-9)

	_, err = ReadParameters(filepath.Join(t.TempDir(), "missing.txt"))
	assert.Error(t, err)
}
