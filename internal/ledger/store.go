// SPDX-License-Identifier: MIT

package ledger

import (
	"context"
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite" // SQLite driver (pure Go, no CGO)
)

// Store provides SQLite persistence for jobs and logs.
type Store struct {
	db *sql.DB
}

// NewStore initializes the SQLite store and runs migrations.
func NewStore(dbPath string) (*Store, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)", dbPath)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB exposes the underlying handle for health checks.
func (s *Store) DB() *sql.DB {
	return s.db
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS jobs (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		owner TEXT NOT NULL,
		template TEXT NOT NULL,
		label TEXT NOT NULL,
		parent_id INTEGER NOT NULL DEFAULT 0,
		status TEXT NOT NULL DEFAULT 'new'
			CHECK(status IN ('new', 'processing', 'cancelled', 'done', 'warning', 'error', 'timeout')),
		progress INTEGER NOT NULL DEFAULT 0,
		total INTEGER NOT NULL DEFAULT -1,
		start_ts INTEGER NOT NULL DEFAULT 0,
		done_ts INTEGER NOT NULL DEFAULT 0,
		message TEXT NOT NULL DEFAULT '',
		progress_message TEXT NOT NULL DEFAULT ''
	);

	CREATE INDEX IF NOT EXISTS idx_jobs_template_status ON jobs(template, status);
	CREATE INDEX IF NOT EXISTS idx_jobs_start ON jobs(start_ts);

	CREATE TABLE IF NOT EXISTS logs (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		level TEXT NOT NULL,
		tag TEXT NOT NULL DEFAULT '',
		message TEXT NOT NULL,
		caller_id TEXT NOT NULL DEFAULT '',
		ts INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_logs_ts ON logs(ts);
	`
	_, err := s.db.Exec(schema)
	return err
}

// InsertJob persists a new job and returns its generated id.
func (s *Store) InsertJob(ctx context.Context, j *Job) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
	INSERT INTO jobs (owner, template, label, parent_id, status, progress, total, start_ts, done_ts, message, progress_message)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		j.Owner, j.Template, j.Label, j.ParentID, string(j.Status),
		j.Progress, j.Total, j.StartTime, j.DoneTime, j.Message, j.ProgressMessage)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// GetJob retrieves one job by id, or nil when absent.
func (s *Store) GetJob(ctx context.Context, id int64) (*Job, error) {
	row := s.db.QueryRowContext(ctx, `
	SELECT id, owner, template, label, parent_id, status, progress, total, start_ts, done_ts, message, progress_message
	FROM jobs WHERE id = ?`, id)
	j, err := scanJob(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return j, nil
}

// UpdateJob persists the mutable fields of a job.
func (s *Store) UpdateJob(ctx context.Context, j *Job) error {
	_, err := s.db.ExecContext(ctx, `
	UPDATE jobs SET status = ?, progress = ?, total = ?, done_ts = ?, message = ?, progress_message = ?
	WHERE id = ?`,
		string(j.Status), j.Progress, j.Total, j.DoneTime, j.Message, j.ProgressMessage, j.ID)
	return err
}

// RunningForTemplate lists jobs for a template still in processing state.
func (s *Store) RunningForTemplate(ctx context.Context, template string) ([]Job, error) {
	rows, err := s.db.QueryContext(ctx, `
	SELECT id, owner, template, label, parent_id, status, progress, total, start_ts, done_ts, message, progress_message
	FROM jobs WHERE template = ? AND status = ? ORDER BY start_ts`, template, string(JobProcessing))
	if err != nil {
		return nil, err
	}
	return collectJobs(rows)
}

// ListJobs lists all jobs, most recent first.
func (s *Store) ListJobs(ctx context.Context, limit int) ([]Job, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
	SELECT id, owner, template, label, parent_id, status, progress, total, start_ts, done_ts, message, progress_message
	FROM jobs ORDER BY start_ts DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	return collectJobs(rows)
}

// ClearTerminatedJobs removes jobs in a terminal status.
func (s *Store) ClearTerminatedJobs(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM jobs WHERE status IN ('cancelled', 'done', 'error', 'timeout')`)
	return err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (*Job, error) {
	var j Job
	var status string
	if err := row.Scan(&j.ID, &j.Owner, &j.Template, &j.Label, &j.ParentID, &status,
		&j.Progress, &j.Total, &j.StartTime, &j.DoneTime, &j.Message, &j.ProgressMessage); err != nil {
		return nil, err
	}
	j.Status = JobStatus(status)
	return &j, nil
}

func collectJobs(rows *sql.Rows) ([]Job, error) {
	defer func() { _ = rows.Close() }()
	var out []Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *j)
	}
	return out, rows.Err()
}

// InsertLog appends one log row.
func (s *Store) InsertLog(ctx context.Context, e *LogEntry) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO logs (level, tag, message, caller_id, ts) VALUES (?, ?, ?, ?, ?)`,
		e.Level, e.Tag, e.Message, e.CallerID, e.Timestamp)
	return err
}

// ListLogs returns the most recent log rows.
func (s *Store) ListLogs(ctx context.Context, limit int) ([]LogEntry, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, level, tag, message, caller_id, ts FROM logs ORDER BY ts DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []LogEntry
	for rows.Next() {
		var e LogEntry
		if err := rows.Scan(&e.ID, &e.Level, &e.Tag, &e.Message, &e.CallerID, &e.Timestamp); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// ClearLogs bulk-deletes the log trail. Individual rows are never deleted.
func (s *Store) ClearLogs(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM logs`)
	return err
}
