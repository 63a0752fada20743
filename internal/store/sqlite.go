package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite" // Pure-Go SQLite driver.

	"brokerlink/internal/domain"
	"brokerlink/internal/session"
)

// Compile-time interface checks.
var _ OutcomeJournal = (*OutcomeStore)(nil)
var _ session.Store = (*SessionStore)(nil)

// DefaultProfile names the session used when no profile is given.
const DefaultProfile = "default"

var migrations = []string{
	`CREATE TABLE IF NOT EXISTS sessions (
		profile     TEXT PRIMARY KEY,
		user_id     TEXT NOT NULL,
		user_secret TEXT NOT NULL,
		account_id  TEXT NOT NULL,
		updated_at  INTEGER NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS outcomes (
		id                 INTEGER PRIMARY KEY AUTOINCREMENT,
		profile            TEXT NOT NULL DEFAULT 'default',
		at                 INTEGER NOT NULL,
		op                 TEXT NOT NULL,
		account_id         TEXT NOT NULL,
		trade_id           TEXT NOT NULL,
		brokerage_order_id TEXT NOT NULL,
		status             TEXT NOT NULL,
		error              TEXT NOT NULL
	)`,
}

// indexes run after columns added to older databases exist.
var indexes = []string{
	`DROP INDEX IF EXISTS outcomes_at`,
	`CREATE INDEX IF NOT EXISTS outcomes_profile_at ON outcomes(profile, at)`,
}

// SQLiteStore hands out per-profile session stores and outcome journals,
// backed by a SQLite database.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) a SQLite database at dbPath and returns
// a ready-to-use SQLiteStore.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, err
	}
	// One writer; SQLite serialises writes anyway.
	db.SetMaxOpenConns(1)

	for _, m := range migrations {
		if _, err := db.Exec(m); err != nil {
			db.Close()
			return nil, fmt.Errorf("migrating %s: %w", dbPath, err)
		}
	}
	// Journals written before outcomes were scoped belong to the default profile.
	if err := addColumn(db, "outcomes", "profile", `TEXT NOT NULL DEFAULT 'default'`); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrating %s: %w", dbPath, err)
	}
	for _, m := range indexes {
		if _, err := db.Exec(m); err != nil {
			db.Close()
			return nil, fmt.Errorf("migrating %s: %w", dbPath, err)
		}
	}
	return &SQLiteStore{db: db}, nil
}

// addColumn adds column to table unless it already exists.
func addColumn(db *sql.DB, table, column, decl string) error {
	rows, err := db.Query(`SELECT name FROM pragma_table_info(?)`, table)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return err
		}
		if name == column {
			return nil
		}
	}
	if err := rows.Err(); err != nil {
		return err
	}
	rows.Close()
	_, err = db.Exec(fmt.Sprintf(`ALTER TABLE %s ADD COLUMN %s %s`, table, column, decl))
	return err
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// ---------------------------------------------------------------------------
// Sessions
// ---------------------------------------------------------------------------

// SessionStore is the session.Store of one profile.
type SessionStore struct {
	db      *sql.DB
	profile string
}

// Sessions returns the session store for profile ("" selects
// DefaultProfile).
func (s *SQLiteStore) Sessions(profile string) *SessionStore {
	if profile == "" {
		profile = DefaultProfile
	}
	return &SessionStore{db: s.db, profile: profile}
}

// Load implements session.Store.
func (s *SessionStore) Load(ctx context.Context) (*session.Snapshot, error) {
	var (
		snap    session.Snapshot
		updated int64
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT user_id, user_secret, account_id, updated_at FROM sessions WHERE profile = ?`,
		s.profile,
	).Scan(&snap.UserID, &snap.UserSecret, &snap.AccountID, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("loading session %q: %w", s.profile, err)
	}
	snap.UpdatedAt = time.UnixMilli(updated).UTC()
	return &snap, nil
}

// Save implements session.Store.
func (s *SessionStore) Save(ctx context.Context, snap session.Snapshot) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sessions (profile, user_id, user_secret, account_id, updated_at)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(profile) DO UPDATE SET
		   user_id = excluded.user_id,
		   user_secret = excluded.user_secret,
		   account_id = excluded.account_id,
		   updated_at = excluded.updated_at`,
		s.profile, snap.UserID, snap.UserSecret, snap.AccountID, snap.UpdatedAt.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("saving session %q: %w", s.profile, err)
	}
	return nil
}

// Clear implements session.Store.
func (s *SessionStore) Clear(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE profile = ?`, s.profile); err != nil {
		return fmt.Errorf("clearing session %q: %w", s.profile, err)
	}
	return nil
}

// ---------------------------------------------------------------------------
// OutcomeJournal implementation
// ---------------------------------------------------------------------------

// OutcomeStore is the OutcomeJournal of one profile.
type OutcomeStore struct {
	db      *sql.DB
	profile string
}

// Outcomes returns the outcome journal for profile ("" selects
// DefaultProfile).
func (s *SQLiteStore) Outcomes(profile string) *OutcomeStore {
	if profile == "" {
		profile = DefaultProfile
	}
	return &OutcomeStore{db: s.db, profile: profile}
}

// RecordOutcome inserts one outcome record.
func (s *OutcomeStore) RecordOutcome(ctx context.Context, rec domain.OutcomeRecord) error {
	if rec.At.IsZero() {
		rec.At = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO outcomes (profile, at, op, account_id, trade_id, brokerage_order_id, status, error)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		s.profile, rec.At.UnixMilli(), rec.Op, rec.AccountID, rec.TradeID, rec.BrokerageOrderID, rec.Status, rec.Error,
	)
	if err != nil {
		return fmt.Errorf("recording outcome: %w", err)
	}
	return nil
}

// ListOutcomes returns the profile's most recent outcomes, newest first, up
// to limit.
func (s *OutcomeStore) ListOutcomes(ctx context.Context, limit int) ([]domain.OutcomeRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT at, op, account_id, trade_id, brokerage_order_id, status, error
		 FROM outcomes WHERE profile = ? ORDER BY at DESC, id DESC LIMIT ?`, s.profile, limit)
	if err != nil {
		return nil, fmt.Errorf("listing outcomes: %w", err)
	}
	defer rows.Close()

	var out []domain.OutcomeRecord
	for rows.Next() {
		var (
			rec domain.OutcomeRecord
			at  int64
		)
		if err := rows.Scan(&at, &rec.Op, &rec.AccountID, &rec.TradeID, &rec.BrokerageOrderID, &rec.Status, &rec.Error); err != nil {
			return nil, fmt.Errorf("scanning outcome: %w", err)
		}
		rec.At = time.UnixMilli(at).UTC()
		out = append(out, rec)
	}
	return out, rows.Err()
}
