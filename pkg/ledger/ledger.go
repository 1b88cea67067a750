// Package ledger records pipeline invocations in a SQLite database so
// sweeps can be inspected after the fact.
package ledger

import (
	"database/sql"
	_ "embed"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// schema.sql creates the runs table and its subject index.
//
//go:embed schema.sql
var schemaSQL string

// Run is one recorded invocation.
type Run struct {
	RunID       string
	Subject     string
	Label       string
	Fingerprint string
	State       string
	Error       string
	StatsDir    string
	CacheHits   int
	CacheMisses int
	Started     time.Time
	Duration    time.Duration
}

// Ledger is a run database.
type Ledger struct {
	*sql.DB
}

// Open opens or creates the ledger at path.
func Open(path string) (*Ledger, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize ledger schema: %w", err)
	}
	return &Ledger{db}, nil
}

// Record stores r, replacing an earlier record with the same run id.
func (l *Ledger) Record(r Run) error {
	query := `
		INSERT OR REPLACE INTO runs (run_id, subject, label, fingerprint, state, error, stats_dir,
			cache_hits, cache_misses, started_ns, duration_ns)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	var errText sql.NullString
	if r.Error != "" {
		errText = sql.NullString{String: r.Error, Valid: true}
	}
	_, err := l.Exec(query, r.RunID, r.Subject, r.Label, r.Fingerprint, r.State, errText, r.StatsDir,
		r.CacheHits, r.CacheMisses, r.Started.UnixNano(), int64(r.Duration))
	if err != nil {
		return fmt.Errorf("failed to record run %s: %w", r.RunID, err)
	}
	return nil
}

// Runs returns the recorded runs, oldest first. An empty subject returns
// every subject.
func (l *Ledger) Runs(subject string) ([]Run, error) {
	query := `
		SELECT run_id, subject, label, fingerprint, state, error, stats_dir,
			cache_hits, cache_misses, started_ns, duration_ns
		FROM runs
		WHERE ? = '' OR subject = ?
		ORDER BY started_ns, run_id
	`
	rows, err := l.Query(query, subject, subject)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var (
			r        Run
			errText  sql.NullString
			statsDir sql.NullString
			started  int64
			duration int64
		)
		if err := rows.Scan(&r.RunID, &r.Subject, &r.Label, &r.Fingerprint, &r.State, &errText, &statsDir,
			&r.CacheHits, &r.CacheMisses, &started, &duration); err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		r.Error = errText.String
		r.StatsDir = statsDir.String
		r.Started = time.Unix(0, started)
		r.Duration = time.Duration(duration)
		runs = append(runs, r)
	}
	return runs, rows.Err()
}
