package api

import (
	"encoding/json"
	"log"
	"net/http"
	"strconv"
	"time"

	"linkcheck/internal/loop"
	"linkcheck/internal/row"
	"linkcheck/internal/verdictsink"
)

// Handlers holds dependencies for the operator API handlers. The surface is
// read-only: it reports scheduler and notification state, it never mutates
// the row store or the exclusion registry.
type Handlers struct {
	loop *loop.Loop
	sink verdictsink.Sink
}

// NewHandlers creates a new Handlers struct.
func NewHandlers(l *loop.Loop, sink verdictsink.Sink) *Handlers {
	return &Handlers{loop: l, sink: sink}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// Healthz is a simple health check endpoint.
func (h *Handlers) Healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
}

type statusResponse struct {
	Phase                  string    `json:"phase"`
	CycleStart             time.Time `json:"cycle_start"`
	Round                  int       `json:"round"`
	WorksetOwners          int       `json:"workset_owners"`
	Dispatched             uint64    `json:"dispatched"`
	WaitSleeps             uint64    `json:"wait_sleeps"`
	LastReconcileInserted  int       `json:"last_reconcile_inserted"`
	LastReconcileDeleted   int       `json:"last_reconcile_deleted"`
	LastReconcileUpdated   int       `json:"last_reconcile_updated"`
	LastReconcileUnchanged int       `json:"last_reconcile_unchanged"`
	LastReconcileAt        time.Time `json:"last_reconcile_at"`
}

// Status reports the current cycle phase, round number, workset owner
// count, and cumulative dispatch/wait counters.
func (h *Handlers) Status(w http.ResponseWriter, r *http.Request) {
	s := h.loop.Status()
	writeJSON(w, http.StatusOK, statusResponse{
		Phase:                  string(s.Phase),
		CycleStart:             s.CycleStart,
		Round:                  s.Round,
		WorksetOwners:          s.WorksetOwners,
		Dispatched:             s.Dispatched,
		WaitSleeps:             s.WaitSleeps,
		LastReconcileInserted:  s.LastReconcile.Inserted,
		LastReconcileDeleted:   s.LastReconcile.Deleted,
		LastReconcileUpdated:   s.LastReconcile.Updated,
		LastReconcileUnchanged: s.LastReconcile.Unchanged,
		LastReconcileAt:        s.LastReconcileAt,
	})
}

type ownerLinksResponse struct {
	OwnerID string    `json:"owner_id"`
	Links   []row.Row `json:"links"`
}

// OwnerLinks reports the row IDs and verdicts for one owner's current
// workset.
func (h *Handlers) OwnerLinks(w http.ResponseWriter, r *http.Request) {
	ownerID := r.PathValue("owner_id")
	if ownerID == "" {
		http.Error(w, "owner_id required", http.StatusBadRequest)
		return
	}
	links, ok := h.loop.OwnerLinks(ownerID)
	if !ok {
		http.Error(w, "owner not in current workset", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, ownerLinksResponse{OwnerID: ownerID, Links: links})
}

type notificationItem struct {
	ID                  string    `json:"id"`
	Identifier          string    `json:"identifier"`
	Owner               string    `json:"owner"`
	Target              string    `json:"target"`
	ConsecutiveFailures int       `json:"consecutive_failures"`
	HumanSpan           string    `json:"human_span"`
	LatestReturnCode    int       `json:"latest_return_code"`
	LatestDetail        string    `json:"latest_detail"`
	RecordedAt          time.Time `json:"recorded_at"`
}

type notificationsResponse struct {
	Items []notificationItem `json:"items"`
}

// Notifications reports rows currently notification-worthy, with the
// consecutive-failure span rendered as an operator-facing relative string.
func (h *Handlers) Notifications(w http.ResponseWriter, r *http.Request) {
	limit := 100
	if l := r.URL.Query().Get("limit"); l != "" {
		if v, err := strconv.Atoi(l); err == nil && v > 0 {
			limit = v
		}
	}
	reports, err := h.sink.List(r.Context(), limit)
	if err != nil {
		log.Printf("list notifications error: %v", err)
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}
	items := make([]notificationItem, len(reports))
	for i, rep := range reports {
		items[i] = notificationItem{
			ID:                  rep.ID,
			Identifier:          rep.Identifier,
			Owner:               rep.Owner,
			Target:              rep.Target,
			ConsecutiveFailures: rep.ConsecutiveFailures,
			HumanSpan:           rep.HumanSpan(),
			LatestReturnCode:    rep.LatestReturnCode,
			LatestDetail:        rep.LatestDetail,
			RecordedAt:          rep.RecordedAt,
		}
	}
	writeJSON(w, http.StatusOK, notificationsResponse{Items: items})
}
