// Package verdict applies a fetch.Outcome to a row.Row, the state machine
// step between the fetcher and the row store.
package verdict

import (
	"time"

	"linkcheck/internal/fetch"
	"linkcheck/internal/row"
)

// Apply appends out to r's history, evicting the oldest entry beyond
// capacity, and recomputes IsGood/IsBad/LastCheckTime.
func Apply(r *row.Row, out fetch.Outcome, now time.Time) {
	v := row.Verdict{
		Time:    now,
		Code:    out.ReturnCode,
		Detail:  out.Detail,
		Success: out.Success,
	}
	r.AppendVerdict(v)
}

// NotificationReport is filled in when the row crosses the configured
// notification threshold, for internal/verdictsink to persist.
type NotificationReport struct {
	Identifier          string
	Owner               string
	Target              string
	ConsecutiveFailures int
	FailureSpan         time.Duration
	LatestReturnCode    int
	LatestDetail        string
}

// CheckNotificationWorthy returns a NotificationReport and true if r
// currently satisfies spec's threshold+span notification rule.
func CheckNotificationWorthy(r *row.Row, threshold int, minSpan time.Duration, now time.Time) (NotificationReport, bool) {
	if !r.NotificationWorthy(threshold, minSpan, now) {
		return NotificationReport{}, false
	}
	failures := r.ConsecutiveFailures()
	oldest := r.History[len(r.History)-failures]
	latest := r.History[len(r.History)-1]
	return NotificationReport{
		Identifier:          r.Identifier,
		Owner:               r.OwnerID,
		Target:              r.Target,
		ConsecutiveFailures: failures,
		FailureSpan:         now.Sub(oldest.Time),
		LatestReturnCode:    latest.Code,
		LatestDetail:        latest.Detail,
	}, true
}
