// Package identstore describes the authoritative identifier store this
// checker consumes. The store itself lives outside this repository (per
// spec.md's out-of-scope external collaborators); this package is the
// interface and wire type this repo uses to talk to it.
package identstore

import "context"

// SourceRow is one row from the authoritative store's paged listing. The
// store's public/production query params pre-filter most ineligible rows
// server-side, but the reconciler still checks Eligible itself: it is the
// one place that must hold spec's stream-S invariant, not a side effect of
// how the HTTP client happens to be called.
type SourceRow struct {
	Identifier      string
	Owner           string
	Target          string
	Status          string
	IsTest          bool
	IsDefaultTarget bool
}

// Eligible reports whether the row belongs in spec's stream S: a public,
// production identifier whose target is not the store's default
// placeholder and is not a test identifier.
func (r SourceRow) Eligible() bool {
	return r.Status == "public" && !r.IsTest && !r.IsDefaultTarget
}

// Page is one page of a store.Page call: rows plus the cursor to pass to
// the next call, or an empty cursor when exhausted.
type Page struct {
	Rows []SourceRow
	Next string
}

// Client pages through the authoritative store ordered ascending by
// identifier, keyed by the last-seen identifier, per spec.md §6.
type Client interface {
	Page(ctx context.Context, cursor string, size int) (Page, error)
}
