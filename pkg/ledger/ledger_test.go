package ledger

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTemp(t *testing.T) *Ledger {
	t.Helper()
	l, err := Open(filepath.Join(t.TempDir(), "runs.db"))
	require.NoError(t, err)
	t.Cleanup(func() { l.Close() })
	return l
}

func TestRecordAndList(t *testing.T) {
	l := openTemp(t)
	start := time.Unix(1700000000, 0)

	ok := Run{
		RunID: "a", Subject: "sub001", Label: "_with_stc", Fingerprint: "f1",
		State: "smoothed_done", StatsDir: "/out/_with_stc",
		CacheHits: 4, CacheMisses: 2, Started: start, Duration: 3 * time.Second,
	}
	failed := Run{
		RunID: "b", Subject: "sub002", Label: "_without_stc", Fingerprint: "f2",
		State: "failed", Error: "stage motion_correction failed", Started: start.Add(time.Second),
	}
	require.NoError(t, l.Record(failed))
	require.NoError(t, l.Record(ok))

	runs, err := l.Runs("")
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, "a", runs[0].RunID)
	assert.True(t, runs[0].Started.Equal(start))
	assert.Equal(t, 3*time.Second, runs[0].Duration)
	assert.Equal(t, 4, runs[0].CacheHits)
	assert.Empty(t, runs[0].Error)
	assert.Equal(t, "stage motion_correction failed", runs[1].Error)

	runs, err = l.Runs("sub002")
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, "b", runs[0].RunID)
}

func TestRecordReplacesSameRunID(t *testing.T) {
	l := openTemp(t)
	r := Run{RunID: "a", Subject: "s", Label: "l", Fingerprint: "f", State: "raw", Started: time.Now()}
	require.NoError(t, l.Record(r))
	r.State = "smoothed_done"
	require.NoError(t, l.Record(r))

	runs, err := l.Runs("s")
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, "smoothed_done", runs[0].State)
}

func TestReopenKeepsRuns(t *testing.T) {
	path := filepath.Join(t.TempDir(), "runs.db")
	l, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, l.Record(Run{RunID: "a", Subject: "s", Label: "l", Fingerprint: "f", State: "raw", Started: time.Now()}))
	require.NoError(t, l.Close())

	l, err = Open(path)
	require.NoError(t, err)
	defer l.Close()
	runs, err := l.Runs("")
	require.NoError(t, err)
	assert.Len(t, runs, 1)
}
