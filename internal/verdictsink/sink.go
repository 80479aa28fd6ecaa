// Package verdictsink writes the notification-worthy rows spec.md calls
// "the surface an external notifier operates on" this repo owns writing to,
// but does not itself consume. Grounded on the checker-owned row store's
// own sqlite migration style, in a table of its own.
package verdictsink

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"

	_ "modernc.org/sqlite"

	"linkcheck/internal/verdict"
)

// Report is one persisted notification-worthy row.
type Report struct {
	ID                  string
	Identifier          string
	Owner               string
	Target              string
	ConsecutiveFailures int
	FailureSpan         time.Duration
	LatestReturnCode    int
	LatestDetail        string
	RecordedAt          time.Time
}

// NewReport stamps a fresh, uniquely-identified Report from a
// verdict.NotificationReport.
func NewReport(nr verdict.NotificationReport, now time.Time) Report {
	return Report{
		ID:                  uuid.NewString(),
		Identifier:          nr.Identifier,
		Owner:               nr.Owner,
		Target:              nr.Target,
		ConsecutiveFailures: nr.ConsecutiveFailures,
		FailureSpan:         nr.FailureSpan,
		LatestReturnCode:    nr.LatestReturnCode,
		LatestDetail:        nr.LatestDetail,
		RecordedAt:          now,
	}
}

// HumanSpan renders FailureSpan the way an operator dashboard would, e.g.
// "3 days".
func (r Report) HumanSpan() string {
	return humanize.RelTime(r.RecordedAt.Add(-r.FailureSpan), r.RecordedAt, "", "")
}

// Sink persists and lists notification-worthy rows.
type Sink interface {
	Record(ctx context.Context, r Report) error
	List(ctx context.Context, limit int) ([]Report, error)
}

// SQLiteSink is the default Sink, backed by its own table in a sqlite
// database file.
type SQLiteSink struct {
	db *sql.DB
}

// NewSQLiteSink opens dataSourceName and creates the notifications table if
// it doesn't exist.
func NewSQLiteSink(ctx context.Context, dataSourceName string) (*SQLiteSink, error) {
	db, err := sql.Open("sqlite", fmt.Sprintf("%s?_foreign_keys=on&_journal_mode=WAL", dataSourceName))
	if err != nil {
		return nil, fmt.Errorf("unable to open sqlite database: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("unable to ping database: %w", err)
	}
	schema := `
CREATE TABLE IF NOT EXISTS notifications (
	id                   TEXT PRIMARY KEY,
	identifier           TEXT NOT NULL UNIQUE,
	owner_id             TEXT NOT NULL,
	target               TEXT NOT NULL,
	consecutive_failures INTEGER NOT NULL,
	failure_span_seconds REAL NOT NULL,
	latest_return_code   INTEGER NOT NULL,
	latest_detail        TEXT NOT NULL,
	recorded_at          TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_notifications_recorded_at ON notifications (recorded_at);
`
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	return &SQLiteSink{db: db}, nil
}

// Close closes the underlying database connection.
func (s *SQLiteSink) Close() error { return s.db.Close() }

// Record implements Sink. A row is re-recorded (upserted) each time it
// remains notification-worthy across cycles, so the latest failure detail
// is always what an operator sees.
func (s *SQLiteSink) Record(ctx context.Context, r Report) error {
	query := `INSERT INTO notifications
(id, identifier, owner_id, target, consecutive_failures, failure_span_seconds, latest_return_code, latest_detail, recorded_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(identifier) DO UPDATE SET
	consecutive_failures = excluded.consecutive_failures,
	failure_span_seconds = excluded.failure_span_seconds,
	latest_return_code   = excluded.latest_return_code,
	latest_detail        = excluded.latest_detail,
	recorded_at          = excluded.recorded_at`
	_, err := s.db.ExecContext(ctx, query, r.ID, r.Identifier, r.Owner, r.Target,
		r.ConsecutiveFailures, r.FailureSpan.Seconds(), r.LatestReturnCode, r.LatestDetail,
		r.RecordedAt.Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("record notification for %s: %w", r.Identifier, err)
	}
	return nil
}

// List implements Sink, returning the most recently recorded reports first.
func (s *SQLiteSink) List(ctx context.Context, limit int) ([]Report, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, identifier, owner_id, target, consecutive_failures, failure_span_seconds, latest_return_code, latest_detail, recorded_at
		 FROM notifications ORDER BY recorded_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list notifications: %w", err)
	}
	defer rows.Close()

	var out []Report
	for rows.Next() {
		var r Report
		var spanSeconds float64
		var recordedAt string
		if err := rows.Scan(&r.ID, &r.Identifier, &r.Owner, &r.Target, &r.ConsecutiveFailures,
			&spanSeconds, &r.LatestReturnCode, &r.LatestDetail, &recordedAt); err != nil {
			return nil, fmt.Errorf("scan notification: %w", err)
		}
		r.FailureSpan = time.Duration(spanSeconds * float64(time.Second))
		r.RecordedAt, _ = time.Parse(time.RFC3339Nano, recordedAt)
		out = append(out, r)
	}
	return out, rows.Err()
}
