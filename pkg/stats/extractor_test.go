package stats

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"fmripipeline/internal/models"
	"fmripipeline/pkg/contrast"
	"fmripipeline/pkg/glm"
	"fmripipeline/pkg/nifti"
)

// fakeModel returns constant maps and fails for contrasts whose first
// entry is negative.
type fakeModel struct {
	calls []float64
}

func (f *fakeModel) Contrast(c []float64) (*glm.Maps, error) {
	f.calls = append(f.calls, c[0])
	if c[0] < 0 {
		return nil, errors.New("singular contrast")
	}
	mk := func(v float64) *models.Volume {
		vol := models.NewVolume(2, 2, 1, 1, models.IdentityAffine())
		for i := range vol.Data {
			vol.Data[i] = v
		}
		return vol
	}
	return &glm.Maps{Z: mk(3), T: mk(2.5), Effect: mk(1), Variance: mk(0.16)}, nil
}

// failingStore fails to save maps of one contrast.
type failingStore struct {
	*nifti.Store
	fail string
}

func (s failingStore) SaveVolume(v *models.Volume, dir, basename string) (string, error) {
	if basename == s.fail+".nii.gz" {
		return "", errors.New("disk full")
	}
	return s.Store.SaveVolume(v, dir, basename)
}

func listMaps(t *testing.T, statsDir string) []string {
	t.Helper()
	var files []string
	require.NoError(t, filepath.Walk(statsDir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() {
			rel, _ := filepath.Rel(statsDir, path)
			files = append(files, rel)
		}
		return nil
	}))
	return files
}

func TestExtractSingleContrast(t *testing.T) {
	dir := t.TempDir()
	e := NewExtractor(nifti.NewStore(), dir, zaptest.NewLogger(t))
	res, err := e.Extract(&fakeModel{}, []contrast.Contrast{
		{Name: "active-rest", Vector: []float64{1, -1}},
	}, "active-rest")
	require.NoError(t, err)
	require.NoError(t, res.Err())

	assert.ElementsMatch(t, []string{
		filepath.Join("z_maps", "active-rest.nii.gz"),
		filepath.Join("t_maps", "active-rest.nii.gz"),
		filepath.Join("effects_maps", "active-rest.nii.gz"),
		filepath.Join("variance_maps", "active-rest.nii.gz"),
	}, listMaps(t, dir))

	require.NotNil(t, res.Retained)
	assert.Equal(t, 3.0, res.Retained.Data[0])
	assert.Equal(t, filepath.Join(dir, "z_maps", "active-rest.nii.gz"), res.Paths["active-rest"][ZMap])

	z, err := nifti.NewStore().Load(res.Paths["active-rest"][ZMap])
	require.NoError(t, err)
	assert.Equal(t, 3.0, z.Data[0])
}

func TestExtractContinuesAfterFailedContrast(t *testing.T) {
	dir := t.TempDir()
	model := &fakeModel{}
	e := NewExtractor(nifti.NewStore(), dir, nil)
	res, err := e.Extract(model, []contrast.Contrast{
		{Name: "active", Vector: []float64{1, 0}},
		{Name: "broken", Vector: []float64{-1, 0}},
		{Name: "rest", Vector: []float64{0, 1}},
	}, "broken")
	require.NoError(t, err)

	assert.Len(t, model.calls, 3)
	require.Len(t, res.Errors, 1)
	assert.Equal(t, "broken", res.Errors[0].Contrast)
	assert.Empty(t, res.Errors[0].MapType)
	assert.Nil(t, res.Retained)
	assert.Contains(t, res.Paths, "rest")
	assert.NotContains(t, res.Paths, "broken")
	assert.Len(t, listMaps(t, dir), 8)
	assert.ErrorContains(t, res.Err(), "singular contrast")
}

func TestExtractContinuesAfterFailedSave(t *testing.T) {
	dir := t.TempDir()
	store := failingStore{Store: nifti.NewStore(), fail: "active"}
	e := NewExtractor(store, dir, nil)
	res, err := e.Extract(&fakeModel{}, []contrast.Contrast{
		{Name: "active", Vector: []float64{1, 0}},
		{Name: "rest", Vector: []float64{0, 1}},
	}, "rest")
	require.NoError(t, err)

	require.Len(t, res.Errors, len(MapTypes))
	var ce *ContrastError
	require.ErrorAs(t, res.Err(), &ce)
	assert.Equal(t, "active", ce.Contrast)
	assert.Len(t, res.Paths["rest"], 4)
	assert.NotNil(t, res.Retained)
}

func TestExtractUnwritableDir(t *testing.T) {
	base := t.TempDir()
	file := filepath.Join(base, "stats")
	require.NoError(t, os.WriteFile(file, []byte("x"), 0644))

	e := NewExtractor(nifti.NewStore(), file, nil)
	_, err := e.Extract(&fakeModel{}, nil, "")
	assert.Error(t, err)
}
