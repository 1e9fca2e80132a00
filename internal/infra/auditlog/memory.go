package auditlog

import (
	"context"
	"sync"
	"time"

	"qrtrust/internal/domain"
)

const defaultMemoryCapacity = 10000

// MemorySink keeps the most recent scan events in process. Oldest events are
// dropped once capacity is reached.
type MemorySink struct {
	mu       sync.Mutex
	events   []domain.ScanEvent
	capacity int
	now      func() time.Time
}

func NewMemorySink(capacity int) *MemorySink {
	if capacity <= 0 {
		capacity = defaultMemoryCapacity
	}
	return &MemorySink{capacity: capacity, now: time.Now}
}

func (m *MemorySink) Record(_ context.Context, event domain.ScanEvent) error {
	event = normalize(event, m.now)
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.events) >= m.capacity {
		copy(m.events, m.events[1:])
		m.events = m.events[:len(m.events)-1]
	}
	m.events = append(m.events, event)
	return nil
}

func (m *MemorySink) ListByReference(_ context.Context, ref domain.LedgerReference, limit int) ([]domain.ScanEvent, error) {
	limit = clampLimit(limit)
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.ScanEvent
	for i := len(m.events) - 1; i >= 0 && len(out) < limit; i-- {
		if m.events[i].LedgerReference == ref {
			out = append(out, m.events[i])
		}
	}
	return out, nil
}

func (m *MemorySink) Events() []domain.ScanEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]domain.ScanEvent(nil), m.events...)
}
