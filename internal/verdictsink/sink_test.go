package verdictsink

import (
	"context"
	"testing"
	"time"

	"linkcheck/internal/verdict"
)

func newTestSink(t *testing.T) *SQLiteSink {
	t.Helper()
	s, err := NewSQLiteSink(context.Background(), ":memory:")
	if err != nil {
		t.Fatalf("NewSQLiteSink: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestRecordAndList(t *testing.T) {
	s := newTestSink(t)
	ctx := context.Background()

	report := NewReport(verdict.NotificationReport{
		Identifier:          "ark:/1",
		Owner:               "owner-1",
		Target:              "https://example.org",
		ConsecutiveFailures: 6,
		FailureSpan:         72 * time.Hour,
		LatestReturnCode:    500,
		LatestDetail:        "server error",
	}, time.Now())

	if report.ID == "" {
		t.Fatalf("expected NewReport to stamp a non-empty ID")
	}

	if err := s.Record(ctx, report); err != nil {
		t.Fatalf("Record: %v", err)
	}

	got, err := s.List(ctx, 10)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(got) != 1 || got[0].Identifier != "ark:/1" {
		t.Fatalf("unexpected list result: %+v", got)
	}
	if got[0].ConsecutiveFailures != 6 || got[0].LatestReturnCode != 500 {
		t.Fatalf("fields not preserved: %+v", got[0])
	}
}

func TestHumanSpanRendersRelativeDuration(t *testing.T) {
	now := time.Now()
	report := NewReport(verdict.NotificationReport{
		Identifier:  "ark:/1",
		FailureSpan: 72 * time.Hour,
	}, now)

	got := report.HumanSpan()
	if got == "" {
		t.Fatalf("expected non-empty human span")
	}
}

func TestRecordUpsertsByIdentifier(t *testing.T) {
	s := newTestSink(t)
	ctx := context.Background()

	first := NewReport(verdict.NotificationReport{Identifier: "ark:/1", ConsecutiveFailures: 5, LatestReturnCode: 500}, time.Now())
	if err := s.Record(ctx, first); err != nil {
		t.Fatalf("first Record: %v", err)
	}

	second := NewReport(verdict.NotificationReport{Identifier: "ark:/1", ConsecutiveFailures: 8, LatestReturnCode: 503}, time.Now().Add(time.Hour))
	if err := s.Record(ctx, second); err != nil {
		t.Fatalf("second Record: %v", err)
	}

	got, err := s.List(ctx, 10)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("expected upsert to keep a single row per identifier, got %d", len(got))
	}
	if got[0].ConsecutiveFailures != 8 || got[0].LatestReturnCode != 503 {
		t.Fatalf("expected latest values to win, got %+v", got[0])
	}
}
