package row

import (
	"testing"
	"time"
)

func TestAppendVerdictEvictsOldest(t *testing.T) {
	r := New("ark:/1", "owner-a", "http://example.com", 3)
	base := time.Now()
	for i := 0; i < 5; i++ {
		r.AppendVerdict(Verdict{Time: base.Add(time.Duration(i) * time.Minute), Code: 200, Success: true})
	}
	if len(r.History) != 3 {
		t.Fatalf("expected history capped at 3, got %d", len(r.History))
	}
	if r.History[0].Time != base.Add(2*time.Minute) {
		t.Errorf("expected oldest surviving entry to be index 2, got %v", r.History[0].Time)
	}
}

func TestIsGoodXorIsBadWhenVisited(t *testing.T) {
	r := New("ark:/1", "owner-a", "http://example.com", 5)
	if r.IsVisited() {
		t.Fatal("expected unvisited row")
	}
	r.AppendVerdict(Verdict{Time: time.Now(), Code: 200, Success: true})
	if !r.IsVisited() {
		t.Fatal("expected visited row after append")
	}
	if r.IsGood == r.IsBad {
		t.Fatalf("expected IsGood xor IsBad, got good=%v bad=%v", r.IsGood, r.IsBad)
	}
}

func TestRetargetClearsHistory(t *testing.T) {
	r := New("ark:/1", "owner-a", "http://old.example.com", 5)
	r.AppendVerdict(Verdict{Time: time.Now(), Code: 500, Success: false})
	r.Retarget("owner-b", "http://new.example.com")
	if len(r.History) != 0 {
		t.Errorf("expected empty history after retarget, got %d entries", len(r.History))
	}
	if r.IsVisited() {
		t.Error("expected unvisited row after retarget")
	}
	if r.OwnerID != "owner-b" || r.Target != "http://new.example.com" {
		t.Errorf("retarget did not update owner/target: %+v", r)
	}
}

func TestConsecutiveFailures(t *testing.T) {
	r := New("ark:/1", "owner-a", "http://example.com", 10)
	base := time.Now()
	seq := []bool{true, false, false, false}
	for i, ok := range seq {
		r.AppendVerdict(Verdict{Time: base.Add(time.Duration(i) * time.Hour), Success: ok})
	}
	if got := r.ConsecutiveFailures(); got != 3 {
		t.Errorf("expected 3 consecutive failures, got %d", got)
	}
}

func TestNotificationWorthy(t *testing.T) {
	r := New("ark:/1", "owner-a", "http://example.com", 10)
	base := time.Now().Add(-72 * time.Hour)
	for i := 0; i < 6; i++ {
		r.AppendVerdict(Verdict{Time: base.Add(time.Duration(i) * 12 * time.Hour), Success: false})
	}
	now := base.Add(6 * 12 * time.Hour)
	if !r.NotificationWorthy(5, 48*time.Hour, now) {
		t.Error("expected row to be notification-worthy")
	}
	if r.NotificationWorthy(5, 200*time.Hour, now) {
		t.Error("expected row to fall short of the min-span requirement")
	}
	if r.NotificationWorthy(10, 1*time.Hour, now) {
		t.Error("expected row to fall short of the failure-count threshold")
	}
}
