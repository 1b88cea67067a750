package pipeline

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestSweepIsolatesFailures(t *testing.T) {
	base := writeSubject(t, t.TempDir())
	boom := errors.New("realignment diverged")

	var jobs []Job
	for _, v := range base.Sweep([]float64{4, 4, 4})[:3] {
		jobs = append(jobs, Job{Label: v.Label, Config: v.Config})
	}
	failing := base.Clone()
	failing.Stats.OutputDirBasename = "failing"
	stages := DefaultStages(failing)
	stages.MotionCorrection = failingStage{err: boom}
	jobs = append(jobs[:1], append([]Job{{Label: "failing", Config: failing, Stages: &stages}}, jobs[1:]...)...)

	results := Sweep(jobs, 2, zaptest.NewLogger(t))
	require.Len(t, results, len(jobs))

	for i, r := range results {
		assert.Equal(t, jobs[i].Label, r.Job.Label)
		assert.NotEmpty(t, r.RunID)
		if r.Job.Label == "failing" {
			assert.ErrorIs(t, r.Err, boom)
			continue
		}
		require.NoError(t, r.Err, r.Job.Label)
		assert.FileExists(t, filepath.Join(base.Subject.OutputDir, r.Job.Label, ReportFile))
	}
}

func TestSweepNoJobs(t *testing.T) {
	assert.Empty(t, Sweep(nil, 4, nil))
}
