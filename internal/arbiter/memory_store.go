package arbiter

import (
	"context"
	"sync"
	"time"

	"github.com/mvbraga/peertrade/internal/idgen"
)

// MemoryStore is an in-memory dispute store for demo/development mode.
type MemoryStore struct {
	disputes map[string]*Dispute
	mu       sync.RWMutex
}

// NewMemoryStore creates a new in-memory dispute store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{disputes: make(map[string]*Dispute)}
}

var _ Store = (*MemoryStore)(nil)

func (m *MemoryStore) Create(ctx context.Context, d *Dispute) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.disputes[d.TradeID]; ok {
		return ErrAlreadyDisputed
	}
	m.disputes[d.TradeID] = cloneDispute(d)
	return nil
}

func (m *MemoryStore) Get(ctx context.Context, tradeID string) (*Dispute, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	d, ok := m.disputes[tradeID]
	if !ok {
		return nil, ErrDisputeNotFound
	}
	return cloneDispute(d), nil
}

func (m *MemoryStore) AddEvidence(ctx context.Context, e *Evidence) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	d, ok := m.disputes[e.TradeID]
	if !ok {
		return ErrDisputeNotFound
	}
	e.ID = idgen.WithPrefix("evd_")
	d.Evidence = append(d.Evidence, *e)
	return nil
}

func (m *MemoryStore) Decide(ctx context.Context, tradeID, decision, decidedBy, reason string, decidedAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	d, ok := m.disputes[tradeID]
	if !ok {
		return ErrDisputeNotFound
	}
	if d.Status != StatusOpen {
		return ErrAlreadyDecided
	}

	d.Status = StatusDecided
	d.Decision = decision
	d.DecidedBy = decidedBy
	d.DecisionReason = reason
	d.DecidedAt = &decidedAt
	return nil
}

func cloneDispute(d *Dispute) *Dispute {
	cp := *d
	cp.Evidence = append([]Evidence(nil), d.Evidence...)
	if d.DecidedAt != nil {
		t := *d.DecidedAt
		cp.DecidedAt = &t
	}
	return &cp
}
