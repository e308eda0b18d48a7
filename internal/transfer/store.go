// SPDX-License-Identifier: MIT

package transfer

import (
	"context"
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite" // SQLite driver (pure Go, no CGO)
)

// Store provides SQLite persistence for transfer records.
type Store struct {
	db *sql.DB
}

// NewStore initializes the SQLite store and runs migrations.
func NewStore(dbPath string) (*Store, error) {
	dsn := fmt.Sprintf("file:%s?_busy_timeout=5000&_journal_mode=WAL&_synchronous=NORMAL", dbPath)

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
	CREATE TABLE IF NOT EXISTS transfers (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		account_id TEXT NOT NULL,
		node_path TEXT NOT NULL,
		type TEXT NOT NULL CHECK(type IN ('download', 'upload')),
		local_path TEXT NOT NULL DEFAULT '',
		size INTEGER NOT NULL DEFAULT -1,
		transferred INTEGER NOT NULL DEFAULT 0,
		status TEXT NOT NULL DEFAULT 'new'
			CHECK(status IN ('new', 'processing', 'paused', 'cancelled', 'done', 'error')),
		owner TEXT NOT NULL DEFAULT 'user',
		created_at INTEGER NOT NULL,
		started_at INTEGER NOT NULL DEFAULT 0,
		done_at INTEGER NOT NULL DEFAULT 0,
		error TEXT NOT NULL DEFAULT '',
		job_id INTEGER NOT NULL DEFAULT 0
	);

	CREATE INDEX IF NOT EXISTS idx_transfers_account_status ON transfers(account_id, status);
	CREATE INDEX IF NOT EXISTS idx_transfers_created ON transfers(created_at);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Insert persists a new transfer and returns its generated id.
func (s *Store) Insert(ctx context.Context, t *Transfer) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
	INSERT INTO transfers (account_id, node_path, type, local_path, size, transferred, status, owner, created_at, started_at, done_at, error, job_id)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.AccountID, t.NodePath, string(t.Type), t.LocalPath, t.Size, t.Transferred,
		string(t.Status), t.Owner, t.CreatedAt, t.StartedAt, t.DoneAt, t.Error, t.JobID)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

const transferColumns = `id, account_id, node_path, type, local_path, size, transferred, status, owner, created_at, started_at, done_at, error, job_id`

// Get retrieves one transfer scoped to an account, or nil when absent.
func (s *Store) Get(ctx context.Context, accountID string, id int64) (*Transfer, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+transferColumns+` FROM transfers WHERE id = ? AND account_id = ?`, id, accountID)
	t, err := scanTransfer(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return t, nil
}

// GetByID retrieves one transfer regardless of account, or nil when absent.
// Used by the queue runner, which only carries ids.
func (s *Store) GetByID(ctx context.Context, id int64) (*Transfer, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+transferColumns+` FROM transfers WHERE id = ?`, id)
	t, err := scanTransfer(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return t, nil
}

// Update persists the mutable fields of a transfer.
func (s *Store) Update(ctx context.Context, t *Transfer) error {
	_, err := s.db.ExecContext(ctx, `
	UPDATE transfers SET size = ?, transferred = ?, status = ?, started_at = ?, done_at = ?, error = ?, local_path = ?, job_id = ?
	WHERE id = ?`,
		t.Size, t.Transferred, string(t.Status), t.StartedAt, t.DoneAt, t.Error, t.LocalPath, t.JobID, t.ID)
	return err
}

// List queries transfers for an account, filtered and ordered.
func (s *Store) List(ctx context.Context, accountID string, filter Filter, order Order) ([]Transfer, error) {
	query := `SELECT ` + transferColumns + ` FROM transfers WHERE account_id = ?`
	args := []any{accountID}
	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(filter.Status))
	}
	switch order {
	case OrderByStatus:
		query += ` ORDER BY status, created_at DESC, id DESC`
	default:
		query += ` ORDER BY created_at DESC, id DESC`
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []Transfer
	for rows.Next() {
		t, err := scanTransfer(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *t)
	}
	return out, rows.Err()
}

// Pending lists queued transfers (status new) for all accounts, oldest first.
// Used to restore the queue after a restart.
func (s *Store) Pending(ctx context.Context) ([]Transfer, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+transferColumns+` FROM transfers WHERE status = 'new' ORDER BY created_at, id`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []Transfer
	for rows.Next() {
		t, err := scanTransfer(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *t)
	}
	return out, rows.Err()
}

// RequeueOrphaned puts rows left in processing by an unclean shutdown back
// onto the queue. Reports how many rows were reset.
func (s *Store) RequeueOrphaned(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE transfers SET status = 'new' WHERE status = 'processing'`)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// Delete removes one transfer row.
func (s *Store) Delete(ctx context.Context, accountID string, id int64) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM transfers WHERE id = ? AND account_id = ?`, id, accountID)
	return err
}

// ClearTerminated removes all terminal transfers for an account.
func (s *Store) ClearTerminated(ctx context.Context, accountID string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM transfers WHERE account_id = ? AND status IN ('cancelled', 'done', 'error')`, accountID)
	return err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTransfer(row rowScanner) (*Transfer, error) {
	var t Transfer
	var typ, status string
	if err := row.Scan(&t.ID, &t.AccountID, &t.NodePath, &typ, &t.LocalPath, &t.Size,
		&t.Transferred, &status, &t.Owner, &t.CreatedAt, &t.StartedAt, &t.DoneAt, &t.Error, &t.JobID); err != nil {
		return nil, err
	}
	t.Type = Type(typ)
	t.Status = Status(status)
	return &t, nil
}
