package chat

import (
	"context"
	"sync"

	"github.com/mvbraga/peertrade/internal/idgen"
)

// MemoryStore is an in-memory message store for demo/development mode.
type MemoryStore struct {
	messages map[string][]*Message // tradeID -> messages in seq order
	mu       sync.RWMutex
}

// NewMemoryStore creates a new in-memory message store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{messages: make(map[string][]*Message)}
}

var _ Store = (*MemoryStore)(nil)

func (m *MemoryStore) Append(ctx context.Context, msg *Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	log := m.messages[msg.TradeID]
	msg.ID = idgen.WithPrefix("msg_")
	msg.Seq = int64(len(log)) + 1

	cp := *msg
	m.messages[msg.TradeID] = append(log, &cp)
	return nil
}

func (m *MemoryStore) ListAfter(ctx context.Context, tradeID string, afterSeq int64, limit int) ([]*Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	log := m.messages[tradeID]
	out := make([]*Message, 0, limit)
	for _, msg := range log {
		if msg.Seq <= afterSeq {
			continue
		}
		cp := *msg
		out = append(out, &cp)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}
