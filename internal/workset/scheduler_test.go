package workset

import (
	"context"
	"strconv"
	"testing"
	"time"

	"linkcheck/internal/row"
	"linkcheck/internal/rowstore"
	"linkcheck/internal/rowstore/sqlite"
)

type noExclusions struct{}

func (noExclusions) Refresh(time.Time) error { return nil }
func (noExclusions) IsExcluded(string) bool  { return false }

type mutableExclusions struct {
	excluded map[string]bool
}

func (m *mutableExclusions) Refresh(time.Time) error { return nil }
func (m *mutableExclusions) IsExcluded(owner string) bool {
	return m.excluded[owner]
}

func linksFor(owner string, n int) []row.Row {
	links := make([]row.Row, n)
	for i := range links {
		links[i] = row.New(owner+"-link", owner, "https://example.org", 5)
	}
	return links
}

func TestRoundRobinAlternatesOwners(t *testing.T) {
	s := New(0, noExclusions{})
	s.sets = []*ownerSet{
		{OwnerID: "A", Links: linksFor("A", 3)},
		{OwnerID: "B", Links: linksFor("B", 3)},
	}

	now := time.Now()
	var order []string
	for i := 0; i < 6; i++ {
		d := s.NextLink(now)
		if d.Status != Ready {
			t.Fatalf("dispatch %d: expected Ready, got %v", i, d.Status)
		}
		order = append(order, s.sets[d.Index].OwnerID)
		s.MarkChecked(d.Index, now)
	}
	want := []string{"A", "B", "A", "B", "A", "B"}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("dispatch order = %v, want alternation like %v", order, want)
		}
	}
}

func TestPerOwnerCooldownEnforced(t *testing.T) {
	revisit := 10 * time.Second
	s := New(revisit, noExclusions{})
	s.sets = []*ownerSet{{OwnerID: "A", Links: linksFor("A", 3)}}

	now := time.Now()
	d := s.NextLink(now)
	if d.Status != Ready {
		t.Fatalf("expected Ready, got %v", d.Status)
	}
	s.MarkChecked(d.Index, now)

	// Immediately after, the owner is within its cooldown window and the
	// only owner in the workset, so the scheduler must WAIT rather than
	// dispatch again.
	d2 := s.NextLink(now.Add(time.Second))
	if d2.Status != Wait {
		t.Fatalf("expected Wait within cooldown, got %v", d2.Status)
	}

	d3 := s.NextLink(now.Add(revisit + time.Millisecond))
	if d3.Status != Ready {
		t.Fatalf("expected Ready after cooldown elapses, got %v", d3.Status)
	}
}

func TestNoDoubleDispatch(t *testing.T) {
	s := New(0, noExclusions{})
	s.sets = []*ownerSet{{OwnerID: "A", Links: linksFor("A", 3)}}

	now := time.Now()
	d := s.NextLink(now)
	if d.Status != Ready {
		t.Fatalf("expected Ready, got %v", d.Status)
	}
	// Owner A is now locked; a second call before MarkChecked must not
	// dispatch it again.
	d2 := s.NextLink(now)
	if d2.Status == Ready {
		t.Fatalf("expected owner to be locked, got Ready dispatch of %+v", d2)
	}
}

func TestAllOwnersExcludedFinishesImmediately(t *testing.T) {
	excl := &mutableExclusions{excluded: map[string]bool{"A": true, "B": true}}
	s := New(0, excl)
	s.sets = []*ownerSet{
		{OwnerID: "A", Links: linksFor("A", 2)},
		{OwnerID: "B", Links: linksFor("B", 2)},
	}
	d := s.NextLink(time.Now())
	if d.Status != Finished {
		t.Fatalf("expected Finished, got %v", d.Status)
	}
}

func TestMidRoundExclusionStopsDispatch(t *testing.T) {
	excl := &mutableExclusions{excluded: map[string]bool{}}
	s := New(0, excl)
	s.sets = []*ownerSet{{OwnerID: "A", Links: linksFor("A", 5)}}

	now := time.Now()
	d := s.NextLink(now)
	if d.Status != Ready {
		t.Fatalf("expected Ready, got %v", d.Status)
	}
	s.MarkChecked(d.Index, now)

	excl.excluded["A"] = true
	d2 := s.NextLink(now)
	if d2.Status != Finished {
		t.Fatalf("expected Finished once owner excluded mid-round, got %v", d2.Status)
	}
}

func TestFinishedWorksetReportsFinished(t *testing.T) {
	s := New(0, noExclusions{})
	s.sets = []*ownerSet{{OwnerID: "A", Links: linksFor("A", 1), NextIndex: 1}}
	d := s.NextLink(time.Now())
	if d.Status != Finished {
		t.Fatalf("expected Finished for exhausted owner, got %v", d.Status)
	}
}

func newRowStoreForLoad(t *testing.T) *sqlite.Store {
	t.Helper()
	store, err := sqlite.New(context.Background(), ":memory:", 5)
	if err != nil {
		t.Fatalf("sqlite.New: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestLoadPrioritizesBadRowsThenGood(t *testing.T) {
	ctx := context.Background()
	store := newRowStoreForLoad(t)

	old := time.Now().Add(-72 * time.Hour)
	for i := 0; i < 5; i++ {
		r := row.New(rowID("bad", i), "owner-x", "https://example.org", 5)
		r.AppendVerdict(row.Verdict{Time: old, Code: 500, Success: false})
		if err := store.Insert(ctx, r); err != nil {
			t.Fatalf("insert bad row: %v", err)
		}
	}
	for i := 0; i < 100; i++ {
		r := row.New(rowID("good", i), "owner-x", "https://example.org", 5)
		r.AppendVerdict(row.Verdict{Time: old.Add(time.Duration(i) * time.Minute), Code: 200, Success: true})
		if err := store.Insert(ctx, r); err != nil {
			t.Fatalf("insert good row: %v", err)
		}
	}

	s := New(0, noExclusions{})
	if err := s.Load(ctx, store, time.Now(), 24*time.Hour, time.Hour, 7); err != nil {
		t.Fatalf("Load: %v", err)
	}

	links, ok := s.OwnerLinks("owner-x")
	if !ok {
		t.Fatalf("expected owner-x workset to be loaded")
	}
	if len(links) != 7 {
		t.Fatalf("expected 7 links (5 bad + 2 good), got %d", len(links))
	}
	for i := 0; i < 5; i++ {
		if !links[i].IsBad {
			t.Fatalf("expected first 5 links to be bad, link %d was not: %+v", i, links[i])
		}
	}
	for i := 5; i < 7; i++ {
		if links[i].IsBad {
			t.Fatalf("expected links after the bad prefix to be good, link %d was bad", i)
		}
	}
}

func TestLoadRespectsBlackoutWindow(t *testing.T) {
	ctx := context.Background()
	store := newRowStoreForLoad(t)

	r := row.New("recent", "owner-x", "https://example.org", 5)
	r.AppendVerdict(row.Verdict{Time: time.Now(), Code: 200, Success: true})
	if err := store.Insert(ctx, r); err != nil {
		t.Fatalf("insert: %v", err)
	}

	s := New(0, noExclusions{})
	if err := s.Load(ctx, store, time.Now(), time.Hour, 24*time.Hour, 10); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if s.Len() != 0 {
		t.Fatalf("expected recently-checked row to be in blackout, got workset of size %d", s.Len())
	}
}

func TestLoadSkipsExcludedOwners(t *testing.T) {
	ctx := context.Background()
	store := newRowStoreForLoad(t)
	if err := store.Insert(ctx, row.New("id-1", "owner-banned", "https://example.org", 5)); err != nil {
		t.Fatalf("insert: %v", err)
	}

	excl := &mutableExclusions{excluded: map[string]bool{"owner-banned": true}}
	s := New(0, excl)
	if err := s.Load(ctx, store, time.Now(), time.Hour, time.Hour, 10); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if s.Len() != 0 {
		t.Fatalf("expected excluded owner to produce empty workset, got %d", s.Len())
	}
}

func TestLoadOmitsOwnersWithNoEligibleLinks(t *testing.T) {
	ctx := context.Background()
	store := newRowStoreForLoad(t)
	r := row.New("id-1", "owner-x", "https://example.org", 5)
	r.AppendVerdict(row.Verdict{Time: time.Now(), Code: 200, Success: true})
	if err := store.Insert(ctx, r); err != nil {
		t.Fatalf("insert: %v", err)
	}

	s := New(0, noExclusions{})
	if err := s.Load(ctx, store, time.Now(), time.Hour, 24*time.Hour, 10); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if s.Len() != 0 {
		t.Fatalf("expected owner with no eligible links to be omitted, got %d", s.Len())
	}
}

var _ rowstore.Store = (*sqlite.Store)(nil)

func rowID(prefix string, i int) string {
	return prefix + "-" + strconv.Itoa(i)
}
