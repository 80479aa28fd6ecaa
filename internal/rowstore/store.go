// Package rowstore defines the checker's own persistence contract: the
// CRUD and paged-scan operations the reconciler and scheduler need against
// the durable row.Row table.
package rowstore

import (
	"context"
	"errors"
	"time"

	"linkcheck/internal/row"
)

var (
	// ErrNotFound is returned when a requested row does not exist.
	ErrNotFound = errors.New("row not found")
	// ErrDuplicateKey is returned when attempting to insert a row whose
	// identifier already exists.
	ErrDuplicateKey = errors.New("duplicate identifier")
)

// EligibleParams selects rows eligible for a workset slice: one owner's
// bad-or-good/unvisited rows whose last check happened before Before,
// ordered ascending by last check time (unvisited rows sort first).
type EligibleParams struct {
	Owner  string
	Bad    bool
	Before time.Time
	Limit  int
}

// Store is the interface the reconciler and workset scheduler use to read
// and write the checker's own row table.
type Store interface {
	// Get returns a single row by identifier.
	Get(ctx context.Context, identifier string) (row.Row, error)
	// Insert creates a new row. Returns ErrDuplicateKey if it already exists.
	Insert(ctx context.Context, r row.Row) error
	// Update persists an existing row's mutable fields.
	Update(ctx context.Context, r row.Row) error
	// Delete removes a row by identifier.
	Delete(ctx context.Context, identifier string) error

	// ListAll performs a paged full scan ordered ascending by identifier,
	// for the reconciler's merge-join against the authoritative store.
	ListAll(ctx context.Context, afterIdentifier string, limit int) ([]row.Row, error)

	// ListOwners returns the distinct set of owners with at least one row.
	ListOwners(ctx context.Context) ([]string, error)

	// ListEligible returns up to params.Limit rows for one owner matching
	// params.Bad and the last-check-time cutoff, ordered ascending by last
	// check time, for workset loading (spec.md §4.3.1).
	ListEligible(ctx context.Context, params EligibleParams) ([]row.Row, error)
}
