// Package reconcile keeps the checker's own row table in sync with the
// authoritative identifier store by merge-joining two ascending-by-identifier
// streams, mirroring the paged, keyset-ordered scans this project's original
// SQLite store used for its own listings.
package reconcile

import (
	"context"
	"fmt"
	"log"

	"linkcheck/internal/identstore"
	"linkcheck/internal/row"
	"linkcheck/internal/rowstore"
)

// ExclusionChecker reports whether an owner is permanently excluded, so the
// reconciler never creates rows for them.
type ExclusionChecker interface {
	IsPermanent(owner string) bool
}

// Stats summarizes one reconciliation cycle.
type Stats struct {
	Inserted      int
	Deleted       int
	Updated       int
	Unchanged     int
	SkippedErrors int
}

// Reconciler merge-joins the checker's row store against the authoritative
// identifier store.
type Reconciler struct {
	rows       rowstore.Store
	source     identstore.Client
	exclusions ExclusionChecker
	historyCap int
	pageSize   int
}

// New builds a Reconciler. pageSize bounds how many rows are held in memory
// from each stream at a time.
func New(rows rowstore.Store, source identstore.Client, exclusions ExclusionChecker, historyCap, pageSize int) *Reconciler {
	if pageSize <= 0 {
		pageSize = 1000
	}
	return &Reconciler{rows: rows, source: source, exclusions: exclusions, historyCap: historyCap, pageSize: pageSize}
}

// Run performs one merge-join pass, inserting, deleting, and updating rows
// as needed. Per-row persistence errors are logged and skipped; the cycle
// proceeds. A paging failure on either stream aborts the cycle.
func (r *Reconciler) Run(ctx context.Context) (Stats, error) {
	var stats Stats

	local := newRowSeq(r.rows, r.pageSize)
	source := newSourceSeq(r.source, r.exclusions, r.pageSize)

	for {
		lRow, lOK, err := local.Peek(ctx)
		if err != nil {
			return stats, fmt.Errorf("scan checker rows: %w", err)
		}
		sRow, sOK, err := source.Peek(ctx)
		if err != nil {
			return stats, fmt.Errorf("scan source rows: %w", err)
		}
		if !lOK && !sOK {
			break
		}

		switch {
		case !sOK || (lOK && lRow.Identifier < sRow.Identifier):
			if err := r.rows.Delete(ctx, lRow.Identifier); err != nil {
				log.Printf("reconcile: delete %s: %v", lRow.Identifier, err)
				stats.SkippedErrors++
			} else {
				stats.Deleted++
			}
			local.Advance()

		case !lOK || (sOK && sRow.Identifier < lRow.Identifier):
			newRow := row.New(sRow.Identifier, sRow.Owner, sRow.Target, r.historyCap)
			if err := r.rows.Insert(ctx, newRow); err != nil {
				log.Printf("reconcile: insert %s: %v", sRow.Identifier, err)
				stats.SkippedErrors++
			} else {
				stats.Inserted++
			}
			source.Advance()

		default:
			if lRow.OwnerID != sRow.Owner || lRow.Target != sRow.Target {
				lRow.Retarget(sRow.Owner, sRow.Target)
				if err := r.rows.Update(ctx, lRow); err != nil {
					log.Printf("reconcile: update %s: %v", lRow.Identifier, err)
					stats.SkippedErrors++
				} else {
					stats.Updated++
				}
			} else {
				stats.Unchanged++
			}
			local.Advance()
			source.Advance()
		}
	}

	return stats, nil
}

// rowSeq is a Peek/Advance cursor over the checker's own row store, paged by
// identifier.
type rowSeq struct {
	store     rowstore.Store
	pageSize  int
	buf       []row.Row
	idx       int
	cursor    string
	exhausted bool
}

func newRowSeq(store rowstore.Store, pageSize int) *rowSeq {
	return &rowSeq{store: store, pageSize: pageSize}
}

func (s *rowSeq) Peek(ctx context.Context) (row.Row, bool, error) {
	for s.idx >= len(s.buf) && !s.exhausted {
		page, err := s.store.ListAll(ctx, s.cursor, s.pageSize)
		if err != nil {
			return row.Row{}, false, err
		}
		s.buf = page
		s.idx = 0
		if len(page) < s.pageSize {
			s.exhausted = true
		}
		if len(page) == 0 {
			break
		}
		s.cursor = page[len(page)-1].Identifier
	}
	if s.idx >= len(s.buf) {
		return row.Row{}, false, nil
	}
	return s.buf[s.idx], true, nil
}

func (s *rowSeq) Advance() { s.idx++ }

// sourceSeq is a Peek/Advance cursor over the authoritative identifier
// store, paged by its own next-cursor, transparently skipping rows whose
// owner is permanently excluded or that fail spec's stream-S eligibility
// predicate (public, non-test, non-default-target).
type sourceSeq struct {
	client     identstore.Client
	exclusions ExclusionChecker
	pageSize   int
	buf        []identstore.SourceRow
	idx        int
	cursor     string
	exhausted  bool
}

func newSourceSeq(client identstore.Client, exclusions ExclusionChecker, pageSize int) *sourceSeq {
	return &sourceSeq{client: client, exclusions: exclusions, pageSize: pageSize}
}

func (s *sourceSeq) Peek(ctx context.Context) (identstore.SourceRow, bool, error) {
	for {
		for s.idx < len(s.buf) {
			candidate := s.buf[s.idx]
			if !candidate.Eligible() {
				s.idx++
				continue
			}
			if s.exclusions != nil && s.exclusions.IsPermanent(candidate.Owner) {
				s.idx++
				continue
			}
			return candidate, true, nil
		}
		if s.exhausted {
			return identstore.SourceRow{}, false, nil
		}
		page, err := s.client.Page(ctx, s.cursor, s.pageSize)
		if err != nil {
			return identstore.SourceRow{}, false, err
		}
		s.buf = page.Rows
		s.idx = 0
		if page.Next == "" {
			s.exhausted = true
		} else {
			s.cursor = page.Next
		}
		if len(page.Rows) == 0 {
			s.exhausted = true
		}
	}
}

func (s *sourceSeq) Advance() { s.idx++ }
