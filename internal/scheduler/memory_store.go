package scheduler

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore is an in-memory deadline store for demo/development mode.
type MemoryStore struct {
	deadlines map[string]*Deadline
	mu        sync.RWMutex
}

// NewMemoryStore creates a new in-memory deadline store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{deadlines: make(map[string]*Deadline)}
}

var _ Store = (*MemoryStore)(nil)

func (m *MemoryStore) Upsert(ctx context.Context, d *Deadline) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp := *d
	m.deadlines[d.TradeID] = &cp
	return nil
}

func (m *MemoryStore) Delete(ctx context.Context, tradeID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.deadlines[tradeID]; !ok {
		return false, nil
	}
	delete(m.deadlines, tradeID)
	return true, nil
}

func (m *MemoryStore) ListDue(ctx context.Context, now time.Time, limit int) ([]*Deadline, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var due []*Deadline
	for _, d := range m.deadlines {
		if !d.FiresAt.After(now) {
			cp := *d
			due = append(due, &cp)
		}
	}

	sort.Slice(due, func(i, j int) bool {
		return due[i].FiresAt.Before(due[j].FiresAt)
	})
	if len(due) > limit {
		due = due[:limit]
	}
	return due, nil
}
