// Package ledger tracks platform token balances.
//
// Every user has one account split into an available and an escrowed
// portion. Trades never move tokens directly; they go through the
// escrow custodian, which drives the EscrowLock / ReleaseEscrow /
// RefundEscrow operations here.
package ledger

import (
	"context"
	"errors"
	"time"

	"github.com/mvbraga/peertrade/internal/token"
)

var (
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrAccountNotFound     = errors.New("account not found")
	ErrInvalidAmount       = errors.New("invalid amount")
)

// Entry is a single movement on a user's account.
type Entry struct {
	ID          string    `json:"id"`
	UserID      string    `json:"userId"`
	Type        string    `json:"type"` // deposit, withdrawal, escrow_lock, escrow_release, escrow_receive, escrow_refund
	Amount      string    `json:"amount"`
	Reference   string    `json:"reference,omitempty"` // trade ID for escrow movements
	Description string    `json:"description,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
}

// Balance is a user's current account state. Amounts are decimal
// strings with token.Decimals places.
type Balance struct {
	UserID    string    `json:"userId"`
	Available string    `json:"available"`
	Escrowed  string    `json:"escrowed"`
	TotalIn   string    `json:"totalIn"`
	TotalOut  string    `json:"totalOut"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Store persists ledger data.
type Store interface {
	GetBalance(ctx context.Context, userID string) (*Balance, error)
	Credit(ctx context.Context, userID, amount, reference, description string) error
	Debit(ctx context.Context, userID, amount, reference, description string) error
	EscrowLock(ctx context.Context, userID, amount, reference string) error
	ReleaseEscrow(ctx context.Context, fromUserID, toUserID, amount, reference string) error
	RefundEscrow(ctx context.Context, userID, amount, reference string) error
	GetHistory(ctx context.Context, userID string, limit int) ([]*Entry, error)
}

// Ledger manages user balances.
type Ledger struct {
	store Store
}

// New creates a new ledger.
func New(store Store) *Ledger {
	return &Ledger{store: store}
}

// GetBalance returns a user's current balance.
func (l *Ledger) GetBalance(ctx context.Context, userID string) (*Balance, error) {
	return l.store.GetBalance(ctx, userID)
}

// Deposit credits a user's available balance.
func (l *Ledger) Deposit(ctx context.Context, userID, amount, reference string) error {
	amountBig, ok := token.Parse(amount)
	if !ok || amountBig.Sign() <= 0 {
		return ErrInvalidAmount
	}
	return l.store.Credit(ctx, userID, amount, reference, "deposit")
}

// Withdraw debits a user's available balance.
func (l *Ledger) Withdraw(ctx context.Context, userID, amount, reference string) error {
	amountBig, ok := token.Parse(amount)
	if !ok || amountBig.Sign() <= 0 {
		return ErrInvalidAmount
	}

	bal, err := l.store.GetBalance(ctx, userID)
	if err != nil {
		return err
	}
	availableBig, _ := token.Parse(bal.Available)
	if availableBig.Cmp(amountBig) < 0 {
		return ErrInsufficientBalance
	}

	return l.store.Debit(ctx, userID, amount, reference, "withdrawal")
}

// EscrowLock moves amount from a user's available to escrowed balance.
func (l *Ledger) EscrowLock(ctx context.Context, userID, amount, reference string) error {
	amountBig, ok := token.Parse(amount)
	if !ok || amountBig.Sign() <= 0 {
		return ErrInvalidAmount
	}
	return l.store.EscrowLock(ctx, userID, amount, reference)
}

// ReleaseEscrow settles escrowed funds to the counterparty's available
// balance.
func (l *Ledger) ReleaseEscrow(ctx context.Context, fromUserID, toUserID, amount, reference string) error {
	amountBig, ok := token.Parse(amount)
	if !ok || amountBig.Sign() <= 0 {
		return ErrInvalidAmount
	}
	return l.store.ReleaseEscrow(ctx, fromUserID, toUserID, amount, reference)
}

// RefundEscrow returns escrowed funds to the owner's available balance.
func (l *Ledger) RefundEscrow(ctx context.Context, userID, amount, reference string) error {
	amountBig, ok := token.Parse(amount)
	if !ok || amountBig.Sign() <= 0 {
		return ErrInvalidAmount
	}
	return l.store.RefundEscrow(ctx, userID, amount, reference)
}

// CanCover reports whether a user's available balance covers amount.
func (l *Ledger) CanCover(ctx context.Context, userID, amount string) (bool, error) {
	amountBig, ok := token.Parse(amount)
	if !ok {
		return false, ErrInvalidAmount
	}
	bal, err := l.store.GetBalance(ctx, userID)
	if err != nil {
		return false, err
	}
	availableBig, _ := token.Parse(bal.Available)
	return availableBig.Cmp(amountBig) >= 0, nil
}

// GetHistory returns ledger entries for a user, newest first.
func (l *Ledger) GetHistory(ctx context.Context, userID string, limit int) ([]*Entry, error) {
	if limit <= 0 {
		limit = 50
	}
	return l.store.GetHistory(ctx, userID, limit)
}
