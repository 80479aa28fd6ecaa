// Package fake provides an in-memory identstore.Client for tests, grounded
// on the teacher's own in-memory testStore double.
package fake

import (
	"context"
	"sort"

	"linkcheck/internal/identstore"
)

// Store is a sorted, in-memory identstore.Client.
type Store struct {
	rows []identstore.SourceRow
}

// New builds a Store from rows, sorting them by identifier as the real
// paged store would return them.
func New(rows []identstore.SourceRow) *Store {
	sorted := append([]identstore.SourceRow(nil), rows...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Identifier < sorted[j].Identifier })
	return &Store{rows: sorted}
}

// Page implements identstore.Client.
func (s *Store) Page(ctx context.Context, cursor string, size int) (identstore.Page, error) {
	start := 0
	if cursor != "" {
		start = sort.Search(len(s.rows), func(i int) bool { return s.rows[i].Identifier > cursor })
	}
	end := start + size
	if end > len(s.rows) {
		end = len(s.rows)
	}
	page := identstore.Page{Rows: s.rows[start:end]}
	if end < len(s.rows) {
		page.Next = s.rows[end-1].Identifier
	}
	return page, nil
}
