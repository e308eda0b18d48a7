// SPDX-License-Identifier: MIT

package account

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite" // SQLite driver (pure Go, no CGO)
)

// Store provides SQLite persistence for accounts and session state.
type Store struct {
	db *sql.DB
}

// NewStore initializes the SQLite store and runs migrations.
// WAL mode + busy_timeout avoid "database locked" errors under the
// concurrent writers this store sees (switch flow, monitor, API).
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
	CREATE TABLE IF NOT EXISTS accounts (
		id TEXT PRIMARY KEY,
		server_url TEXT NOT NULL,
		username TEXT NOT NULL,
		generation TEXT NOT NULL CHECK(generation IN ('legacy', 'modern')),
		custom_color TEXT NOT NULL DEFAULT '',
		created_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS sessions (
		account_id TEXT PRIMARY KEY REFERENCES accounts(id) ON DELETE CASCADE,
		auth_status TEXT NOT NULL DEFAULT 'new',
		is_reachable INTEGER NOT NULL DEFAULT 0,
		is_foreground INTEGER NOT NULL DEFAULT 0
	);

	CREATE INDEX IF NOT EXISTS idx_sessions_foreground ON sessions(is_foreground);
	`
	_, err := s.db.Exec(schema)
	return err
}

// UpsertAccount inserts or updates an account row.
func (s *Store) UpsertAccount(ctx context.Context, a Account) error {
	if a.CreatedAt == 0 {
		a.CreatedAt = time.Now().Unix()
	}
	query := `
	INSERT INTO accounts (id, server_url, username, generation, custom_color, created_at)
	VALUES (?, ?, ?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		server_url = excluded.server_url,
		username = excluded.username,
		generation = excluded.generation,
		custom_color = excluded.custom_color
	`
	if _, err := s.db.ExecContext(ctx, query,
		a.ID, a.ServerURL, a.Username, string(a.Generation), a.CustomColor, a.CreatedAt); err != nil {
		return err
	}
	// A session row always accompanies an account row.
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sessions (account_id) VALUES (?) ON CONFLICT(account_id) DO NOTHING`, a.ID)
	return err
}

// GetAccount retrieves a single account by ID, or nil when absent.
func (s *Store) GetAccount(ctx context.Context, id string) (*Account, error) {
	var a Account
	var gen string
	err := s.db.QueryRowContext(ctx,
		`SELECT id, server_url, username, generation, custom_color, created_at FROM accounts WHERE id = ?`,
		id).Scan(&a.ID, &a.ServerURL, &a.Username, &gen, &a.CustomColor, &a.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	a.Generation = Generation(gen)
	return &a, nil
}

// ListAccounts retrieves all accounts ordered by creation time.
func (s *Store) ListAccounts(ctx context.Context) ([]Account, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, server_url, username, generation, custom_color, created_at FROM accounts ORDER BY created_at, id`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []Account
	for rows.Next() {
		var a Account
		var gen string
		if err := rows.Scan(&a.ID, &a.ServerURL, &a.Username, &gen, &a.CustomColor, &a.CreatedAt); err != nil {
			return nil, err
		}
		a.Generation = Generation(gen)
		out = append(out, a)
	}
	return out, rows.Err()
}

// DeleteAccount removes an account and its session row.
func (s *Store) DeleteAccount(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()
	if _, err := tx.ExecContext(ctx, `DELETE FROM sessions WHERE account_id = ?`, id); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM accounts WHERE id = ?`, id); err != nil {
		return err
	}
	return tx.Commit()
}

// SetForeground marks one account's session as foreground, clearing any other.
func (s *Store) SetForeground(ctx context.Context, accountID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `UPDATE sessions SET is_foreground = 0 WHERE is_foreground = 1`); err != nil {
		return err
	}
	res, err := tx.ExecContext(ctx, `UPDATE sessions SET is_foreground = 1 WHERE account_id = ?`, accountID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("no session for account %s", accountID)
	}
	return tx.Commit()
}

// SetAuthStatus updates the auth status of one session.
func (s *Store) SetAuthStatus(ctx context.Context, accountID string, status AuthStatus) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET auth_status = ? WHERE account_id = ?`, string(status), accountID)
	return err
}

// SetReachable updates the reachability flag of one session.
func (s *Store) SetReachable(ctx context.Context, accountID string, reachable bool) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET is_reachable = ? WHERE account_id = ?`, boolToInt(reachable), accountID)
	return err
}

// ForegroundView loads the projection of the current foreground session,
// or nil when no account is foregrounded.
func (s *Store) ForegroundView(ctx context.Context) (*View, error) {
	query := `
	SELECT a.id, a.username, a.server_url, a.generation, a.custom_color, s.auth_status, s.is_reachable
	FROM sessions s JOIN accounts a ON a.id = s.account_id
	WHERE s.is_foreground = 1
	`
	var v View
	var gen, auth string
	var reachable int
	err := s.db.QueryRowContext(ctx, query).Scan(
		&v.AccountID, &v.Username, &v.ServerURL, &gen, &v.CustomColor, &auth, &reachable)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	v.Generation = Generation(gen)
	v.AuthStatus = AuthStatus(auth)
	v.Reachable = reachable != 0
	return &v, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
