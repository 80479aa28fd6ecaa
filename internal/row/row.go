// Package row defines the checker's durable per-identifier record: the
// row's target, visitation state, and bounded verdict history ring.
package row

import "time"

// Verdict is one entry in a row's bounded history ring: the outcome of a
// single probe of the row's target.
type Verdict struct {
	Time    time.Time `json:"time"`
	Code    int       `json:"return_code"`
	Detail  string    `json:"detail"` // MIME type on success, exception text on failure
	Success bool      `json:"success"`
}

// Row is the checker's durable record for one tracked identifier.
type Row struct {
	Identifier    string    `json:"identifier"`
	OwnerID       string    `json:"owner_id"`
	Target        string    `json:"target"`
	LastCheckTime time.Time `json:"last_check_time"`
	IsGood        bool      `json:"is_good"`
	IsBad         bool      `json:"is_bad"`
	History       []Verdict `json:"history"`
	HistoryCap    int       `json:"-"`
}

// New creates an unvisited row for an identifier freshly seen in the
// authoritative store.
func New(identifier, owner, target string, historyCap int) Row {
	return Row{
		Identifier: identifier,
		OwnerID:    owner,
		Target:     target,
		HistoryCap: historyCap,
	}
}

// IsVisited reports whether the row has ever been checked.
func (r *Row) IsVisited() bool {
	return !r.LastCheckTime.IsZero()
}

// Retarget rewrites the row's owner and target, clearing history and
// visitation state per the reconciler's target-change invariant.
func (r *Row) Retarget(owner, target string) {
	r.OwnerID = owner
	r.Target = target
	r.History = nil
	r.LastCheckTime = time.Time{}
	r.IsGood = false
	r.IsBad = false
}

// AppendVerdict records a probe outcome, evicting the oldest entry when the
// ring is full, and recomputes the row's derived visitation fields.
func (r *Row) AppendVerdict(v Verdict) {
	cap := r.HistoryCap
	if cap <= 0 {
		cap = 1
	}
	r.History = append(r.History, v)
	if len(r.History) > cap {
		r.History = r.History[len(r.History)-cap:]
	}
	r.LastCheckTime = v.Time
	r.IsGood = v.Success
	r.IsBad = !v.Success
}

// ConsecutiveFailures counts the trailing run of failed verdicts, most
// recent first, stopping at the first success (or the start of history).
func (r *Row) ConsecutiveFailures() int {
	n := 0
	for i := len(r.History) - 1; i >= 0; i-- {
		if r.History[i].Success {
			break
		}
		n++
	}
	return n
}

// NotificationWorthy reports whether the row's trailing failure run both
// exceeds threshold and spans more than minSpan from its oldest member to
// now.
func (r *Row) NotificationWorthy(threshold int, minSpan time.Duration, now time.Time) bool {
	n := r.ConsecutiveFailures()
	if n <= threshold || n == 0 {
		return false
	}
	oldest := r.History[len(r.History)-n]
	return now.Sub(oldest.Time) > minSpan
}
