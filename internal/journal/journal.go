// Package journal keeps a local SQLite audit trail of reconcile actions.
// The reconciler only ever writes to it; decisions are always made against
// the platform.
package journal

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/agentic-research/cfsync/internal/codefresh"
	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS actions (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	run_id TEXT NOT NULL,
	at TEXT NOT NULL,
	kind TEXT NOT NULL,
	name TEXT NOT NULL,
	project TEXT,
	action TEXT NOT NULL,
	dry_run INTEGER NOT NULL DEFAULT 0,
	checksum_manifest TEXT,
	checksum_template TEXT,
	error TEXT
);
CREATE INDEX IF NOT EXISTS idx_actions_run ON actions(run_id);
`

// Entry is one recorded action.
type Entry struct {
	RunID            string
	At               time.Time
	Kind             string
	Name             string
	Project          string
	Action           codefresh.Action
	DryRun           bool
	ChecksumManifest string
	ChecksumTemplate string
	Error            string
}

// Journal appends outcomes under a run ID fixed at Open.
type Journal struct {
	db    *sql.DB
	runID string
	now   func() time.Time
	mu    sync.Mutex
}

// Open creates or opens the journal database at path.
func Open(path string) (*Journal, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		_ = db.Close()
		return nil, err
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return &Journal{db: db, runID: uuid.NewString(), now: time.Now}, nil
}

// RunID identifies the entries written through this Journal.
func (j *Journal) RunID() string {
	return j.runID
}

// Record implements codefresh.Recorder.
func (j *Journal) Record(ctx context.Context, o codefresh.Outcome) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	var errText sql.NullString
	if o.Err != nil {
		errText = sql.NullString{String: o.Err.Error(), Valid: true}
	}
	// A cancelled run still gets its last outcomes written.
	_, err := j.db.ExecContext(context.WithoutCancel(ctx), `
		INSERT INTO actions (run_id, at, kind, name, project, action, dry_run, checksum_manifest, checksum_template, error)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		j.runID,
		j.now().UTC().Format(time.RFC3339Nano),
		o.Kind,
		o.Name,
		o.Project,
		string(o.Action),
		o.DryRun,
		o.Fingerprint.ChecksumManifest,
		o.Fingerprint.ChecksumTemplate,
		errText,
	)
	if err != nil {
		return fmt.Errorf("record %s %s: %w", o.Kind, o.Name, err)
	}
	return nil
}

// Entries returns the entries of runID in write order. An empty runID
// selects the most recent run.
func (j *Journal) Entries(ctx context.Context, runID string) ([]Entry, error) {
	if runID == "" {
		last, err := j.LastRun(ctx)
		if err != nil || last == "" {
			return nil, err
		}
		runID = last
	}

	rows, err := j.db.QueryContext(ctx, `
		SELECT run_id, at, kind, name, project, action, dry_run, checksum_manifest, checksum_template, error
		FROM actions WHERE run_id = ? ORDER BY id`, runID)
	if err != nil {
		return nil, fmt.Errorf("query entries: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []Entry
	for rows.Next() {
		var (
			e                    Entry
			at, action           string
			project, cm, ct, msg sql.NullString
		)
		if err := rows.Scan(&e.RunID, &at, &e.Kind, &e.Name, &project, &action, &e.DryRun, &cm, &ct, &msg); err != nil {
			return nil, fmt.Errorf("scan entry: %w", err)
		}
		e.At, err = time.Parse(time.RFC3339Nano, at)
		if err != nil {
			return nil, fmt.Errorf("parse time %q: %w", at, err)
		}
		e.Action = codefresh.Action(action)
		e.Project = project.String
		e.ChecksumManifest = cm.String
		e.ChecksumTemplate = ct.String
		e.Error = msg.String
		out = append(out, e)
	}
	return out, rows.Err()
}

// LastRun returns the run ID of the most recent entry, or "" when the
// journal is empty.
func (j *Journal) LastRun(ctx context.Context) (string, error) {
	var runID string
	err := j.db.QueryRowContext(ctx, `SELECT run_id FROM actions ORDER BY id DESC LIMIT 1`).Scan(&runID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("query last run: %w", err)
	}
	return runID, nil
}

func (j *Journal) Close() error {
	return j.db.Close()
}
