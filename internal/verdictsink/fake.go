package verdictsink

import (
	"context"
	"sync"
)

// MemSink is an in-memory Sink, for tests and small deployments that don't
// want a second sqlite file.
type MemSink struct {
	mu      sync.Mutex
	reports map[string]Report
}

// NewMemSink builds an empty MemSink.
func NewMemSink() *MemSink {
	return &MemSink{reports: make(map[string]Report)}
}

// Record implements Sink.
func (m *MemSink) Record(ctx context.Context, r Report) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reports[r.Identifier] = r
	return nil
}

// List implements Sink. Order is unspecified.
func (m *MemSink) List(ctx context.Context, limit int) ([]Report, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Report, 0, len(m.reports))
	for _, r := range m.reports {
		out = append(out, r)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}
