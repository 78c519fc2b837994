package audit

import (
	"context"
	"maps"
	"sync"
)

// MemoryRecorder keeps events in process memory, newest last.
type MemoryRecorder struct {
	mu     sync.Mutex
	events []Event
}

// NewMemoryRecorder returns an empty MemoryRecorder.
func NewMemoryRecorder() *MemoryRecorder {
	return &MemoryRecorder{}
}

func (m *MemoryRecorder) Record(_ context.Context, ev Event) error {
	ev, err := prepare(ev)
	if err != nil {
		return err
	}
	ev.Meta = maps.Clone(ev.Meta)

	m.mu.Lock()
	m.events = append(m.events, ev)
	m.mu.Unlock()
	return nil
}

func (m *MemoryRecorder) List(_ context.Context, limit int) ([]Event, error) {
	limit = ClampLimit(limit)

	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]Event, 0, min(limit, len(m.events)))
	for i := len(m.events) - 1; i >= 0 && len(out) < limit; i-- {
		ev := m.events[i]
		ev.Meta = maps.Clone(ev.Meta)
		out = append(out, ev)
	}
	return out, nil
}

func (m *MemoryRecorder) CountSince(_ context.Context, q CountQuery) (int, error) {
	ip := normalizeIP(q.IP)

	m.mu.Lock()
	defer m.mu.Unlock()

	n := 0
	for _, ev := range m.events {
		if ev.Action == q.Action && ev.Subject == q.Subject && ev.IP == ip && !ev.CreatedAt.Before(q.Since) {
			n++
		}
	}
	return n, nil
}

var _ Recorder = (*MemoryRecorder)(nil)
