package custodian

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is an in-memory escrow store for demo/development mode.
type MemoryStore struct {
	escrows map[string]*Escrow
	mu      sync.RWMutex
}

// NewMemoryStore creates a new in-memory escrow store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{escrows: make(map[string]*Escrow)}
}

var _ Store = (*MemoryStore)(nil)

func (m *MemoryStore) Create(ctx context.Context, e *Escrow) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.escrows[e.TradeID]; ok {
		return ErrAlreadyLocked
	}
	cp := *e
	m.escrows[e.TradeID] = &cp
	return nil
}

func (m *MemoryStore) Get(ctx context.Context, tradeID string) (*Escrow, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	e, ok := m.escrows[tradeID]
	if !ok {
		return nil, ErrNotLocked
	}
	cp := *e
	if e.SettledAt != nil {
		t := *e.SettledAt
		cp.SettledAt = &t
	}
	return &cp, nil
}

func (m *MemoryStore) MarkSettled(ctx context.Context, tradeID, status, receiptID string, settledAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.escrows[tradeID]
	if !ok {
		return ErrNotLocked
	}
	if e.Status != StatusLocked {
		return ErrAlreadySettled
	}
	e.Status = status
	e.ReceiptID = receiptID
	e.SettledAt = &settledAt
	return nil
}
