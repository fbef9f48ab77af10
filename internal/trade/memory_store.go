package trade

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore is an in-memory trade store for development and tests.
type MemoryStore struct {
	mu     sync.RWMutex
	trades map[string]*Trade
}

// NewMemoryStore creates an in-memory trade store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{trades: make(map[string]*Trade)}
}

var _ Store = (*MemoryStore)(nil)

func (s *MemoryStore) Create(ctx context.Context, t *Trade) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.trades[t.ID] = cloneTrade(t)
	return nil
}

func (s *MemoryStore) Get(ctx context.Context, id string) (*Trade, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.trades[id]
	if !ok {
		return nil, ErrTradeNotFound
	}
	return cloneTrade(t), nil
}

func (s *MemoryStore) Update(ctx context.Context, t *Trade) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.trades[t.ID]; !ok {
		return ErrTradeNotFound
	}
	s.trades[t.ID] = cloneTrade(t)
	return nil
}

func (s *MemoryStore) ListForUser(ctx context.Context, userID string, before *time.Time, beforeID string, limit int) ([]*Trade, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*Trade
	for _, t := range s.trades {
		if t.BuyerID != userID && t.SellerID != userID {
			continue
		}
		if before != nil {
			if t.CreatedAt.After(*before) {
				continue
			}
			if t.CreatedAt.Equal(*before) && t.ID >= beforeID {
				continue
			}
		}
		out = append(out, cloneTrade(t))
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID > out[j].ID
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryStore) ListByPhase(ctx context.Context, phase Phase, limit int) ([]*Trade, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*Trade
	for _, t := range s.trades {
		if t.Phase == phase {
			out = append(out, cloneTrade(t))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func cloneTrade(t *Trade) *Trade {
	c := *t
	if t.EscrowExpiresAt != nil {
		exp := *t.EscrowExpiresAt
		c.EscrowExpiresAt = &exp
	}
	if t.Proof != nil {
		p := *t.Proof
		c.Proof = &p
	}
	return &c
}
