package ledger

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/mvbraga/peertrade/internal/token"
)

// MemoryStore is an in-memory ledger store for demo/development mode.
type MemoryStore struct {
	balances map[string]*Balance
	entries  []*Entry
	mu       sync.RWMutex
}

// NewMemoryStore creates a new in-memory ledger store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		balances: make(map[string]*Balance),
		entries:  make([]*Entry, 0),
	}
}

var _ Store = (*MemoryStore)(nil)

func emptyBalance(userID string) *Balance {
	return &Balance{
		UserID:    userID,
		Available: "0",
		Escrowed:  "0",
		TotalIn:   "0",
		TotalOut:  "0",
		UpdatedAt: time.Now(),
	}
}

func (m *MemoryStore) GetBalance(ctx context.Context, userID string) (*Balance, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if bal, ok := m.balances[userID]; ok {
		cp := *bal
		return &cp, nil
	}
	return emptyBalance(userID), nil
}

func (m *MemoryStore) Credit(ctx context.Context, userID, amount, reference, description string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	bal, ok := m.balances[userID]
	if !ok {
		bal = emptyBalance(userID)
		m.balances[userID] = bal
	}

	avail, _ := token.Parse(bal.Available)
	totalIn, _ := token.Parse(bal.TotalIn)
	add, _ := token.Parse(amount)

	avail.Add(avail, add)
	totalIn.Add(totalIn, add)

	bal.Available = token.Format(avail)
	bal.TotalIn = token.Format(totalIn)
	bal.UpdatedAt = time.Now()

	m.appendEntry(userID, "deposit", amount, reference, description)
	return nil
}

func (m *MemoryStore) Debit(ctx context.Context, userID, amount, reference, description string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	bal, ok := m.balances[userID]
	if !ok {
		return ErrAccountNotFound
	}

	avail, _ := token.Parse(bal.Available)
	totalOut, _ := token.Parse(bal.TotalOut)
	sub, _ := token.Parse(amount)

	if avail.Cmp(sub) < 0 {
		return ErrInsufficientBalance
	}

	avail.Sub(avail, sub)
	totalOut.Add(totalOut, sub)

	bal.Available = token.Format(avail)
	bal.TotalOut = token.Format(totalOut)
	bal.UpdatedAt = time.Now()

	m.appendEntry(userID, "withdrawal", amount, reference, description)
	return nil
}

func (m *MemoryStore) EscrowLock(ctx context.Context, userID, amount, reference string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	bal, ok := m.balances[userID]
	if !ok {
		return ErrAccountNotFound
	}

	avail, _ := token.Parse(bal.Available)
	escrow, _ := token.Parse(bal.Escrowed)
	sub, _ := token.Parse(amount)

	if avail.Cmp(sub) < 0 {
		return ErrInsufficientBalance
	}

	avail.Sub(avail, sub)
	escrow.Add(escrow, sub)

	bal.Available = token.Format(avail)
	bal.Escrowed = token.Format(escrow)
	bal.UpdatedAt = time.Now()

	m.appendEntry(userID, "escrow_lock", amount, reference, "escrow_locked")
	return nil
}

func (m *MemoryStore) ReleaseEscrow(ctx context.Context, fromUserID, toUserID, amount, reference string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	fromBal, ok := m.balances[fromUserID]
	if !ok {
		return ErrAccountNotFound
	}

	escrow, _ := token.Parse(fromBal.Escrowed)
	totalOut, _ := token.Parse(fromBal.TotalOut)
	sub, _ := token.Parse(amount)

	if escrow.Cmp(sub) < 0 {
		return ErrInsufficientBalance
	}

	escrow.Sub(escrow, sub)
	totalOut.Add(totalOut, sub)
	fromBal.Escrowed = token.Format(escrow)
	fromBal.TotalOut = token.Format(totalOut)
	fromBal.UpdatedAt = time.Now()

	toBal, ok := m.balances[toUserID]
	if !ok {
		toBal = emptyBalance(toUserID)
		m.balances[toUserID] = toBal
	}

	toAvail, _ := token.Parse(toBal.Available)
	toTotalIn, _ := token.Parse(toBal.TotalIn)
	toAvail.Add(toAvail, sub)
	toTotalIn.Add(toTotalIn, sub)
	toBal.Available = token.Format(toAvail)
	toBal.TotalIn = token.Format(toTotalIn)
	toBal.UpdatedAt = time.Now()

	m.appendEntry(fromUserID, "escrow_release", amount, reference, "escrow_released")
	m.appendEntry(toUserID, "escrow_receive", amount, reference, "escrow_payment_received")
	return nil
}

func (m *MemoryStore) RefundEscrow(ctx context.Context, userID, amount, reference string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	bal, ok := m.balances[userID]
	if !ok {
		return ErrAccountNotFound
	}

	avail, _ := token.Parse(bal.Available)
	escrow, _ := token.Parse(bal.Escrowed)
	sub, _ := token.Parse(amount)

	if escrow.Cmp(sub) < 0 {
		return ErrInsufficientBalance
	}

	escrow.Sub(escrow, sub)
	avail.Add(avail, sub)

	bal.Available = token.Format(avail)
	bal.Escrowed = token.Format(escrow)
	bal.UpdatedAt = time.Now()

	m.appendEntry(userID, "escrow_refund", amount, reference, "escrow_refunded")
	return nil
}

func (m *MemoryStore) GetHistory(ctx context.Context, userID string, limit int) ([]*Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*Entry, 0, limit)
	for i := len(m.entries) - 1; i >= 0 && len(out) < limit; i-- {
		if m.entries[i].UserID == userID {
			cp := *m.entries[i]
			out = append(out, &cp)
		}
	}
	return out, nil
}

// appendEntry must be called with the write lock held.
func (m *MemoryStore) appendEntry(userID, entryType, amount, reference, description string) {
	m.entries = append(m.entries, &Entry{
		ID:          fmt.Sprintf("entry_%d", len(m.entries)+1),
		UserID:      userID,
		Type:        entryType,
		Amount:      amount,
		Reference:   reference,
		Description: description,
		CreatedAt:   time.Now(),
	})
}
