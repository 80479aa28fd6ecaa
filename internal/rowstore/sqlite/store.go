// Package sqlite implements rowstore.Store on top of modernc.org/sqlite,
// following the migration and query style of this project's original
// SQLite storage layer.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"linkcheck/internal/row"
	"linkcheck/internal/rowstore"
)

// Store implements rowstore.Store for SQLite.
type Store struct {
	db         *sql.DB
	historyCap int
}

// New opens dataSourceName and runs migrations. historyCap bounds every
// hydrated row's verdict history ring.
func New(ctx context.Context, dataSourceName string, historyCap int) (*Store, error) {
	db, err := sql.Open("sqlite", fmt.Sprintf("%s?_foreign_keys=on&_journal_mode=WAL", dataSourceName))
	if err != nil {
		return nil, fmt.Errorf("unable to open sqlite database: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("unable to ping database: %w", err)
	}
	store := &Store{db: db, historyCap: historyCap}
	if err := store.migrate(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error { return s.db.Close() }

func (s *Store) migrate(ctx context.Context) error {
	schema := `
CREATE TABLE IF NOT EXISTS rows (
	identifier      TEXT PRIMARY KEY,
	owner_id        TEXT NOT NULL,
	target          TEXT NOT NULL,
	last_check_time TEXT NOT NULL DEFAULT '',
	is_good         INTEGER NOT NULL DEFAULT 0,
	is_bad          INTEGER NOT NULL DEFAULT 0,
	history         TEXT NOT NULL DEFAULT '[]'
);
CREATE INDEX IF NOT EXISTS idx_rows_owner_bad_last_check ON rows (owner_id, is_bad, last_check_time);
`
	_, err := s.db.ExecContext(ctx, schema)
	return err
}

func encodeHistory(h []row.Verdict) (string, error) {
	b, err := json.Marshal(h)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func decodeHistory(s string) ([]row.Verdict, error) {
	var h []row.Verdict
	if s == "" {
		return nil, nil
	}
	if err := json.Unmarshal([]byte(s), &h); err != nil {
		return nil, err
	}
	return h, nil
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format(time.RFC3339Nano)
}

func parseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

func (s *Store) scanRow(scan func(dest ...any) error) (row.Row, error) {
	var r row.Row
	var lastCheck, history string
	var isGood, isBad int
	if err := scan(&r.Identifier, &r.OwnerID, &r.Target, &lastCheck, &isGood, &isBad, &history); err != nil {
		return row.Row{}, err
	}
	r.LastCheckTime = parseTime(lastCheck)
	r.IsGood = isGood != 0
	r.IsBad = isBad != 0
	r.HistoryCap = s.historyCap
	h, err := decodeHistory(history)
	if err != nil {
		return row.Row{}, fmt.Errorf("decode history: %w", err)
	}
	r.History = h
	return r, nil
}

const selectCols = "identifier, owner_id, target, last_check_time, is_good, is_bad, history"

// Get implements rowstore.Store.
func (s *Store) Get(ctx context.Context, identifier string) (row.Row, error) {
	query := "SELECT " + selectCols + " FROM rows WHERE identifier = ?"
	r, err := s.scanRow(s.db.QueryRowContext(ctx, query, identifier).Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return row.Row{}, rowstore.ErrNotFound
	}
	if err != nil {
		return row.Row{}, fmt.Errorf("get row: %w", err)
	}
	return r, nil
}

// Insert implements rowstore.Store.
func (s *Store) Insert(ctx context.Context, r row.Row) error {
	history, err := encodeHistory(r.History)
	if err != nil {
		return fmt.Errorf("encode history: %w", err)
	}
	query := `INSERT INTO rows (identifier, owner_id, target, last_check_time, is_good, is_bad, history)
VALUES (?, ?, ?, ?, ?, ?, ?)`
	_, err = s.db.ExecContext(ctx, query, r.Identifier, r.OwnerID, r.Target, formatTime(r.LastCheckTime), boolToInt(r.IsGood), boolToInt(r.IsBad), history)
	if err != nil {
		if isUniqueViolation(err) {
			return rowstore.ErrDuplicateKey
		}
		return fmt.Errorf("insert row: %w", err)
	}
	return nil
}

// Update implements rowstore.Store.
func (s *Store) Update(ctx context.Context, r row.Row) error {
	history, err := encodeHistory(r.History)
	if err != nil {
		return fmt.Errorf("encode history: %w", err)
	}
	query := `UPDATE rows SET owner_id = ?, target = ?, last_check_time = ?, is_good = ?, is_bad = ?, history = ? WHERE identifier = ?`
	res, err := s.db.ExecContext(ctx, query, r.OwnerID, r.Target, formatTime(r.LastCheckTime), boolToInt(r.IsGood), boolToInt(r.IsBad), history, r.Identifier)
	if err != nil {
		return fmt.Errorf("update row: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return rowstore.ErrNotFound
	}
	return nil
}

// Delete implements rowstore.Store.
func (s *Store) Delete(ctx context.Context, identifier string) error {
	_, err := s.db.ExecContext(ctx, "DELETE FROM rows WHERE identifier = ?", identifier)
	if err != nil {
		return fmt.Errorf("delete row: %w", err)
	}
	return nil
}

// ListAll implements rowstore.Store.
func (s *Store) ListAll(ctx context.Context, afterIdentifier string, limit int) ([]row.Row, error) {
	query := "SELECT " + selectCols + " FROM rows WHERE identifier > ? ORDER BY identifier LIMIT ?"
	rows, err := s.db.QueryContext(ctx, query, afterIdentifier, limit)
	if err != nil {
		return nil, fmt.Errorf("list all rows: %w", err)
	}
	defer rows.Close()
	var out []row.Row
	for rows.Next() {
		r, err := s.scanRow(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// ListOwners implements rowstore.Store.
func (s *Store) ListOwners(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT DISTINCT owner_id FROM rows ORDER BY owner_id")
	if err != nil {
		return nil, fmt.Errorf("list owners: %w", err)
	}
	defer rows.Close()
	var owners []string
	for rows.Next() {
		var o string
		if err := rows.Scan(&o); err != nil {
			return nil, fmt.Errorf("scan owner: %w", err)
		}
		owners = append(owners, o)
	}
	return owners, rows.Err()
}

// ListEligible implements rowstore.Store.
func (s *Store) ListEligible(ctx context.Context, params rowstore.EligibleParams) ([]row.Row, error) {
	query := "SELECT " + selectCols + " FROM rows WHERE owner_id = ? AND is_bad = ? AND last_check_time < ? ORDER BY last_check_time LIMIT ?"
	rows, err := s.db.QueryContext(ctx, query, params.Owner, boolToInt(params.Bad), formatTime(params.Before), params.Limit)
	if err != nil {
		return nil, fmt.Errorf("list eligible rows: %w", err)
	}
	defer rows.Close()
	var out []row.Row
	for rows.Next() {
		r, err := s.scanRow(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func isUniqueViolation(err error) bool {
	// modernc.org/sqlite wraps the underlying SQLite error message rather
	// than a typed error; match on text the same way the rest of the
	// driver ecosystem does for this backend.
	return err != nil && containsAny(err.Error(), "UNIQUE constraint failed", "constraint failed: UNIQUE")
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if len(s) >= len(sub) {
			for i := 0; i+len(sub) <= len(s); i++ {
				if s[i:i+len(sub)] == sub {
					return true
				}
			}
		}
	}
	return false
}
