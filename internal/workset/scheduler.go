// Package workset implements the round-robin, per-owner-cooldown dispatch
// scheduler at the heart of the checker, generalizing this project's
// original single-flag-per-host limiter into one lock per owner plus a
// rotating cursor over the round's worksets.
package workset

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"linkcheck/internal/row"
	"linkcheck/internal/rowstore"
)

// ExclusionSource is the mid-round exclusion collaborator: refreshed at
// every dispatch decision so exclusions take effect without a restart.
type ExclusionSource interface {
	Refresh(now time.Time) error
	IsExcluded(owner string) bool
}

// Status tags the outcome of a dispatch attempt.
type Status int

const (
	// Ready means a link was dispatched; call MarkChecked when done.
	Ready Status = iota
	// Wait means every unfinished owner is locked or in cooldown; the
	// caller should sleep briefly and retry.
	Wait
	// Finished means every owner in the workset is done or excluded.
	Finished
)

func (s Status) String() string {
	switch s {
	case Ready:
		return "READY"
	case Wait:
		return "WAIT"
	case Finished:
		return "FINISHED"
	default:
		return "UNKNOWN"
	}
}

// Dispatch is the result of a NextLink call.
type Dispatch struct {
	Status Status
	Index  int
	Row    row.Row
}

// ownerSet is one owner's transient per-round workset.
type ownerSet struct {
	OwnerID       string
	Links         []row.Row
	NextIndex     int
	IsLocked      bool
	LastCheckTime time.Time
}

func (o *ownerSet) finished() bool { return o.NextIndex >= len(o.Links) }

// OwnerSnapshot is a read-only view of one owner's workset state, for the
// operator status surface.
type OwnerSnapshot struct {
	OwnerID       string
	TotalLinks    int
	NextIndex     int
	IsLocked      bool
	LastCheckTime time.Time
}

// Scheduler serializes dispatch decisions over the round's owner worksets
// under a single mutex that is never held across I/O.
type Scheduler struct {
	mu         sync.Mutex
	sets       []*ownerSet
	cursor     int
	revisit    time.Duration
	exclusions ExclusionSource
}

// New builds a Scheduler. revisit is the minimum wall-clock gap between
// consecutive dispatches of the same owner.
func New(revisit time.Duration, exclusions ExclusionSource) *Scheduler {
	return &Scheduler{revisit: revisit, exclusions: exclusions}
}

// Load populates the round's workset vector: for each owner not excluded,
// up to maxLinks bad rows past badInterval, topped up with good/unvisited
// rows past goodInterval (spec §4.3.1). Owners with no eligible links are
// omitted. The cursor resets to the start of the new vector.
func (s *Scheduler) Load(ctx context.Context, store rowstore.Store, now time.Time, badInterval, goodInterval time.Duration, maxLinks int) error {
	owners, err := store.ListOwners(ctx)
	if err != nil {
		return fmt.Errorf("list owners: %w", err)
	}

	var sets []*ownerSet
	for _, owner := range owners {
		if s.exclusions.IsExcluded(owner) {
			continue
		}

		bad, err := store.ListEligible(ctx, rowstore.EligibleParams{
			Owner: owner, Bad: true, Before: now.Add(-badInterval), Limit: maxLinks,
		})
		if err != nil {
			return fmt.Errorf("list bad rows for owner %s: %w", owner, err)
		}
		links := append([]row.Row(nil), bad...)

		if len(links) < maxLinks {
			good, err := store.ListEligible(ctx, rowstore.EligibleParams{
				Owner: owner, Bad: false, Before: now.Add(-goodInterval), Limit: maxLinks - len(links),
			})
			if err != nil {
				return fmt.Errorf("list good rows for owner %s: %w", owner, err)
			}
			links = append(links, good...)
		}

		if len(links) == 0 {
			continue
		}
		sets = append(sets, &ownerSet{OwnerID: owner, Links: links})
	}

	s.mu.Lock()
	s.sets = sets
	s.cursor = 0
	s.mu.Unlock()
	return nil
}

// NextLink implements the rotating-cursor dispatch algorithm of spec §4.3.2.
// On a Ready result the cursor moves past the just-dispatched owner, so the
// next call starts at the following owner: an owner is dispatched again only
// after every other owner has had its turn, which is what gives round-robin
// fairness across calls.
func (s *Scheduler) NextLink(now time.Time) Dispatch {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.exclusions.Refresh(now); err != nil {
		log.Printf("workset: refresh exclusions: %v", err)
	}

	n := len(s.sets)
	if n == 0 {
		return Dispatch{Status: Finished}
	}

	start := s.cursor
	sawBlocked := false
	for {
		w := s.sets[s.cursor]
		finished := w.finished() || s.exclusions.IsExcluded(w.OwnerID)
		if !finished {
			if !w.IsLocked && now.Sub(w.LastCheckTime) >= s.revisit {
				w.IsLocked = true
				index := s.cursor
				s.cursor = (s.cursor + 1) % n
				return Dispatch{Status: Ready, Index: index, Row: w.Links[w.NextIndex]}
			}
			sawBlocked = true
		}
		s.cursor = (s.cursor + 1) % n
		if s.cursor == start {
			if sawBlocked {
				return Dispatch{Status: Wait}
			}
			return Dispatch{Status: Finished}
		}
	}
}

// MarkChecked records completion of the dispatch at index: advances that
// owner's cursor, stamps its last-check time, and releases its lock.
func (s *Scheduler) MarkChecked(index int, now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if index < 0 || index >= len(s.sets) {
		return
	}
	w := s.sets[index]
	w.NextIndex++
	w.LastCheckTime = now
	w.IsLocked = false
}

// Snapshot returns a point-in-time view of every owner's workset state, for
// the operator status surface. It never blocks on I/O.
func (s *Scheduler) Snapshot() []OwnerSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]OwnerSnapshot, len(s.sets))
	for i, w := range s.sets {
		out[i] = OwnerSnapshot{
			OwnerID:       w.OwnerID,
			TotalLinks:    len(w.Links),
			NextIndex:     w.NextIndex,
			IsLocked:      w.IsLocked,
			LastCheckTime: w.LastCheckTime,
		}
	}
	return out
}

// OwnerLinks returns a copy of one owner's current workset links, for the
// operator per-owner surface.
func (s *Scheduler) OwnerLinks(ownerID string) ([]row.Row, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, w := range s.sets {
		if w.OwnerID == ownerID {
			return append([]row.Row(nil), w.Links...), true
		}
	}
	return nil, false
}

// Len reports the number of owners in the current round's workset.
func (s *Scheduler) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sets)
}
