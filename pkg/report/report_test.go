package report

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fmripipeline/pkg/contrast"
	"fmripipeline/pkg/design"
)

func TestWriteStats(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "stats", "report_stats.html")
	d := Data{
		SubjectID:  "sub001",
		Config:     "3f2a",
		TR:         7,
		NScans:     96,
		HFCut:      168,
		DriftModel: "cosine",
		HRFModel:   "canonical with derivative",
		Paradigm:   design.BlockParadigm([]string{"rest", "active"}, 42),
		Columns:    []string{"active", "rest", "constant"},
		Contrasts: []contrast.Contrast{
			{Name: "active-rest", Vector: []float64{1, -1, 0}},
		},
		DesignMatrix: filepath.Join(dir, "stats", "design_matrix.png"),
		Overlays: []Overlay{{
			Contrast:       "active-rest",
			Images:         []string{filepath.Join(dir, "stats", "zmap_active-rest_z.png")},
			PeakZ:          6.1,
			Suprathreshold: 12,
		}},
		ZThreshold:       3.1,
		ClusterThreshold: 50,
		MotionChart:      filepath.Join(dir, "stats", "motion_parameters.html"),
		Failures:         []string{"contrast rest: disk full"},
	}
	require.NoError(t, WriteStats(path, d))

	b, err := os.ReadFile(path)
	require.NoError(t, err)
	html := string(b)
	assert.Contains(t, html, "<title>Statistics report: sub001</title>")
	assert.Contains(t, html, "<table>")
	assert.Contains(t, html, `src="design_matrix.png"`)
	assert.Contains(t, html, `src="zmap_active-rest_z.png"`)
	assert.Contains(t, html, "Peak z = 6.10")
	assert.Contains(t, html, "below the 50 voxel cluster threshold")
	assert.Contains(t, html, `href="motion_parameters.html"`)
	assert.Contains(t, html, "<code>3f2a</code>")
	assert.Contains(t, html, "disk full")
}

func TestWriteStatsIsReproducible(t *testing.T) {
	dir := t.TempDir()
	d := Data{
		SubjectID: "sub001",
		Config:    "3f2a",
		TR:        7,
		NScans:    96,
		Paradigm:  design.BlockParadigm([]string{"rest", "active"}, 42),
	}
	a, b := filepath.Join(dir, "a.html"), filepath.Join(dir, "b.html")
	require.NoError(t, WriteStats(a, d))
	require.NoError(t, WriteStats(b, d))
	assert.Equal(t, readAll(t, a), readAll(t, b))
}

func readAll(t *testing.T, path string) []byte {
	t.Helper()
	b, err := os.ReadFile(path)
	require.NoError(t, err)
	return b
}

func TestWriteMotionChart(t *testing.T) {
	path := filepath.Join(t.TempDir(), "motion_parameters.html")
	params := [][]float64{
		{0, 0, 0, 0, 0, 0},
		{0.1, -0.2, 0.05, 0.001, 0, 0},
	}
	require.NoError(t, WriteMotionChart(path, "sub001", params))

	b, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(b), "Realignment parameters")
	assert.Contains(t, string(b), "tx (mm)")

	again := filepath.Join(filepath.Dir(path), "again.html")
	require.NoError(t, WriteMotionChart(again, "sub001", params))
	assert.Equal(t, b, readAll(t, again), "chart output does not depend on the invocation")

	assert.Error(t, WriteMotionChart(path, "sub001", nil))
	assert.Error(t, WriteMotionChart(path, "sub001", [][]float64{{1, 2}}))
}
