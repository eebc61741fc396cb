package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"pkt.systems/eyewitness2/schema"
	"pkt.systems/pslog"
)

// HistoryFile is the sqlite database filename under the state directory.
const HistoryFile = "history.db"

const historySchema = `
CREATE TABLE IF NOT EXISTS runs (
	id TEXT PRIMARY KEY,
	started_at TEXT NOT NULL,
	finished_at TEXT NOT NULL,
	output_dir TEXT NOT NULL,
	targets INTEGER NOT NULL,
	errors INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS results (
	run_id TEXT NOT NULL REFERENCES runs(id),
	idx INTEGER NOT NULL,
	url TEXT NOT NULL,
	final_url TEXT,
	status INTEGER,
	title TEXT,
	category TEXT,
	error TEXT,
	PRIMARY KEY (run_id, idx)
);

CREATE INDEX IF NOT EXISTS idx_runs_started ON runs(started_at);
`

// History indexes past scan runs in sqlite.
type History struct {
	db  *sql.DB
	log pslog.Logger
}

// OpenHistory opens (creating if needed) the history database under stateDir.
func OpenHistory(stateDir string, logger pslog.Logger) (*History, error) {
	if strings.TrimSpace(stateDir) == "" {
		return nil, errors.New("state directory is required")
	}
	if logger == nil {
		logger = pslog.Ctx(context.Background())
	}
	if err := os.MkdirAll(stateDir, 0o700); err != nil {
		return nil, err
	}
	path := filepath.Join(stateDir, HistoryFile)
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open history: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enable WAL: %w", err)
	}
	if _, err := db.Exec(historySchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init history schema: %w", err)
	}
	logger.Debug("history opened", "path", path)
	return &History{db: db, log: logger}, nil
}

// Close releases the database.
func (h *History) Close() error {
	if h == nil || h.db == nil {
		return nil
	}
	return h.db.Close()
}

// RecordRun stores a run summary with its per-target rows in one transaction.
func (h *History) RecordRun(ctx context.Context, summary schema.RunSummary, results []schema.TargetResult) error {
	tx, err := h.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO runs (id, started_at, finished_at, output_dir, targets, errors) VALUES (?, ?, ?, ?, ?, ?)`,
		string(summary.ID),
		summary.StartedAt.UTC().Format(time.RFC3339),
		summary.FinishedAt.UTC().Format(time.RFC3339),
		summary.OutputDir,
		summary.Targets,
		summary.Errors,
	)
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}
	for _, result := range results {
		_, err = tx.ExecContext(ctx,
			`INSERT INTO results (run_id, idx, url, final_url, status, title, category, error) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			string(summary.ID),
			result.Index,
			result.URL,
			result.FinalURL,
			result.Status,
			result.Title,
			result.Category,
			result.Error,
		)
		if err != nil {
			return fmt.Errorf("insert result: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	h.log.Debug("run recorded", "run", summary.ID, "targets", summary.Targets, "errors", summary.Errors)
	return nil
}

// ListRuns returns the most recent runs, newest first.
func (h *History) ListRuns(ctx context.Context, limit int) ([]schema.RunSummary, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := h.db.QueryContext(ctx,
		`SELECT id, started_at, finished_at, output_dir, targets, errors FROM runs ORDER BY started_at DESC LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []schema.RunSummary
	for rows.Next() {
		summary, err := scanRunRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, summary)
	}
	return out, rows.Err()
}

// LatestRun returns the most recent run, or ErrRunNotFound when the history
// is empty.
func (h *History) LatestRun(ctx context.Context) (schema.RunSummary, error) {
	row := h.db.QueryRowContext(ctx,
		`SELECT id, started_at, finished_at, output_dir, targets, errors FROM runs ORDER BY started_at DESC LIMIT 1`)
	summary, err := scanRunRow(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return schema.RunSummary{}, schema.ErrRunNotFound
		}
		return schema.RunSummary{}, err
	}
	return summary, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRunRow(row rowScanner) (schema.RunSummary, error) {
	var summary schema.RunSummary
	var id, started, finished string
	if err := row.Scan(&id, &started, &finished, &summary.OutputDir, &summary.Targets, &summary.Errors); err != nil {
		return schema.RunSummary{}, err
	}
	summary.ID = schema.RunID(id)
	startedAt, err := time.Parse(time.RFC3339, started)
	if err != nil {
		return schema.RunSummary{}, fmt.Errorf("parse started_at: %w", err)
	}
	finishedAt, err := time.Parse(time.RFC3339, finished)
	if err != nil {
		return schema.RunSummary{}, fmt.Errorf("parse finished_at: %w", err)
	}
	summary.StartedAt = startedAt
	summary.FinishedAt = finishedAt
	return summary, nil
}
