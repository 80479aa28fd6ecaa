// Package postgres implements rowstore.Store on top of pgx/v5's
// connection pool, completing the transaction and pagination handling this
// project's original Postgres store left as TODOs.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"linkcheck/internal/row"
	"linkcheck/internal/rowstore"
)

// Store implements rowstore.Store for PostgreSQL.
type Store struct {
	db         *pgxpool.Pool
	historyCap int
}

// New creates a Store and runs migrations against connString.
func New(ctx context.Context, connString string, historyCap int) (*Store, error) {
	pool, err := pgxpool.New(ctx, connString)
	if err != nil {
		return nil, fmt.Errorf("unable to create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("unable to ping database: %w", err)
	}
	store := &Store{db: pool, historyCap: historyCap}
	if err := store.migrate(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	return store, nil
}

// Close closes the connection pool.
func (s *Store) Close() { s.db.Close() }

func (s *Store) migrate(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS rows (
		identifier      TEXT PRIMARY KEY,
		owner_id        TEXT NOT NULL,
		target          TEXT NOT NULL,
		last_check_time TIMESTAMPTZ,
		is_good         BOOLEAN NOT NULL DEFAULT FALSE,
		is_bad          BOOLEAN NOT NULL DEFAULT FALSE,
		history         JSONB NOT NULL DEFAULT '[]'
	);
	CREATE INDEX IF NOT EXISTS idx_rows_owner_bad_last_check ON rows (owner_id, is_bad, last_check_time);
	`
	_, err := s.db.Exec(ctx, schema)
	return err
}

func scanRow(scannable pgx.Row, historyCap int) (rowRes row.Row, err error) {
	var lastCheck *time.Time
	var history []byte
	if err := scannable.Scan(&rowRes.Identifier, &rowRes.OwnerID, &rowRes.Target, &lastCheck, &rowRes.IsGood, &rowRes.IsBad, &history); err != nil {
		return row.Row{}, err
	}
	if lastCheck != nil {
		rowRes.LastCheckTime = *lastCheck
	}
	rowRes.HistoryCap = historyCap
	if len(history) > 0 {
		if err := json.Unmarshal(history, &rowRes.History); err != nil {
			return row.Row{}, fmt.Errorf("decode history: %w", err)
		}
	}
	return rowRes, nil
}

const selectCols = "identifier, owner_id, target, last_check_time, is_good, is_bad, history"

// Get implements rowstore.Store.
func (s *Store) Get(ctx context.Context, identifier string) (row.Row, error) {
	query := `SELECT ` + selectCols + ` FROM rows WHERE identifier = $1`
	r, err := scanRow(s.db.QueryRow(ctx, query, identifier), s.historyCap)
	if errors.Is(err, pgx.ErrNoRows) {
		return row.Row{}, rowstore.ErrNotFound
	}
	if err != nil {
		return row.Row{}, fmt.Errorf("get row: %w", err)
	}
	return r, nil
}

func nullableTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

// Insert implements rowstore.Store, using a transaction so the caller's
// commit boundary matches the reconciler's single-row-at-a-time write
// pattern.
func (s *Store) Insert(ctx context.Context, r row.Row) error {
	history, err := json.Marshal(r.History)
	if err != nil {
		return fmt.Errorf("encode history: %w", err)
	}
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	query := `INSERT INTO rows (identifier, owner_id, target, last_check_time, is_good, is_bad, history)
VALUES ($1, $2, $3, $4, $5, $6, $7)`
	_, err = tx.Exec(ctx, query, r.Identifier, r.OwnerID, r.Target, nullableTime(r.LastCheckTime), r.IsGood, r.IsBad, history)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return rowstore.ErrDuplicateKey
		}
		return fmt.Errorf("insert row: %w", err)
	}
	return tx.Commit(ctx)
}

// Update implements rowstore.Store.
func (s *Store) Update(ctx context.Context, r row.Row) error {
	history, err := json.Marshal(r.History)
	if err != nil {
		return fmt.Errorf("encode history: %w", err)
	}
	query := `UPDATE rows SET owner_id = $1, target = $2, last_check_time = $3, is_good = $4, is_bad = $5, history = $6 WHERE identifier = $7`
	tag, err := s.db.Exec(ctx, query, r.OwnerID, r.Target, nullableTime(r.LastCheckTime), r.IsGood, r.IsBad, history, r.Identifier)
	if err != nil {
		return fmt.Errorf("update row: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return rowstore.ErrNotFound
	}
	return nil
}

// Delete implements rowstore.Store.
func (s *Store) Delete(ctx context.Context, identifier string) error {
	_, err := s.db.Exec(ctx, "DELETE FROM rows WHERE identifier = $1", identifier)
	if err != nil {
		return fmt.Errorf("delete row: %w", err)
	}
	return nil
}

// ListAll implements rowstore.Store.
func (s *Store) ListAll(ctx context.Context, afterIdentifier string, limit int) ([]row.Row, error) {
	query := `SELECT ` + selectCols + ` FROM rows WHERE identifier > $1 ORDER BY identifier LIMIT $2`
	rows, err := s.db.Query(ctx, query, afterIdentifier, limit)
	if err != nil {
		return nil, fmt.Errorf("list all rows: %w", err)
	}
	defer rows.Close()
	var out []row.Row
	for rows.Next() {
		r, err := scanRow(rows, s.historyCap)
		if err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// ListOwners implements rowstore.Store.
func (s *Store) ListOwners(ctx context.Context) ([]string, error) {
	rows, err := s.db.Query(ctx, "SELECT DISTINCT owner_id FROM rows ORDER BY owner_id")
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
	query := `SELECT ` + selectCols + ` FROM rows WHERE owner_id = $1 AND is_bad = $2 AND (last_check_time IS NULL OR last_check_time < $3) ORDER BY last_check_time NULLS FIRST LIMIT $4`
	rows, err := s.db.Query(ctx, query, params.Owner, params.Bad, params.Before, params.Limit)
	if err != nil {
		return nil, fmt.Errorf("list eligible rows: %w", err)
	}
	defer rows.Close()
	var out []row.Row
	for rows.Next() {
		r, err := scanRow(rows, s.historyCap)
		if err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
