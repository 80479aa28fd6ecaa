package api

import (
	"net/http"

	"linkcheck/internal/loop"
	"linkcheck/internal/verdictsink"
)

// NewRouter creates a new http.ServeMux and registers the operator API
// handlers.
func NewRouter(l *loop.Loop, sink verdictsink.Sink) *http.ServeMux {
	mux := http.NewServeMux()
	h := NewHandlers(l, sink)

	mux.HandleFunc("GET /healthz", h.Healthz)
	mux.HandleFunc("GET /v1/status", h.Status)
	mux.HandleFunc("GET /v1/owners/{owner_id}", h.OwnerLinks)
	mux.HandleFunc("GET /v1/notifications", h.Notifications)

	return mux
}
