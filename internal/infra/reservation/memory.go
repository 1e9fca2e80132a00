package reservation

import (
	"context"
	"fmt"
	"sync"

	"qrtrust/internal/domain"
)

// Memory reserves product identifiers within a single process. The mutex only
// guards the map; nothing is held while the caller anchors.
type Memory struct {
	mu   sync.Mutex
	held map[string]struct{}
}

func NewMemory() *Memory {
	return &Memory{held: make(map[string]struct{})}
}

func (m *Memory) Reserve(ctx context.Context, productID string) (func(), error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	if _, busy := m.held[productID]; busy {
		m.mu.Unlock()
		return nil, fmt.Errorf("%w: issuance for %q already in progress", domain.ErrDuplicateProduct, productID)
	}
	m.held[productID] = struct{}{}
	m.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			m.mu.Lock()
			delete(m.held, productID)
			m.mu.Unlock()
		})
	}, nil
}

func (m *Memory) Held() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.held)
}
