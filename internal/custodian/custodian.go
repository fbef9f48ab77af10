// Package custodian holds escrowed tokens for active trades.
//
// A trade locks the seller's tokens when it opens and settles exactly
// once: release pays the buyer, refund returns the seller. Settlement
// is idempotent. Repeating a settlement in the same direction returns
// the original receipt, while the opposite direction fails with
// ErrAlreadySettled.
//
// Callers are expected to serialize operations per trade; the trade
// engine holds the trade's lock across every custodian call.
package custodian

import (
	"context"
	"errors"
	"time"
)

var (
	ErrInsufficientFunds = errors.New("insufficient funds for escrow")
	ErrAlreadySettled    = errors.New("escrow already settled")
	ErrAlreadyLocked     = errors.New("escrow already locked")
	ErrNotLocked         = errors.New("no escrow locked for trade")
	ErrUnavailable       = errors.New("custodian unavailable")
)

// Settlement directions.
const (
	DirectionRelease = "release"
	DirectionRefund  = "refund"
)

// Escrow statuses.
const (
	StatusLocked   = "locked"
	StatusReleased = "released"
	StatusRefunded = "refunded"
)

// LockRequest identifies the funds to lock for a trade.
type LockRequest struct {
	TradeID  string
	SellerID string
	BuyerID  string
	Amount   string
	Currency string
}

// Receipt proves a settlement happened.
type Receipt struct {
	ID        string    `json:"id"`
	TradeID   string    `json:"tradeId"`
	Direction string    `json:"direction"` // release or refund
	Amount    string    `json:"amount"`
	Currency  string    `json:"currency"`
	SettledAt time.Time `json:"settledAt"`
}

// Escrow is the custodian's record for one trade.
type Escrow struct {
	TradeID   string     `json:"tradeId"`
	SellerID  string     `json:"sellerId"`
	BuyerID   string     `json:"buyerId"`
	Amount    string     `json:"amount"`
	Currency  string     `json:"currency"`
	Status    string     `json:"status"`
	ReceiptID string     `json:"receiptId,omitempty"`
	LockedAt  time.Time  `json:"lockedAt"`
	SettledAt *time.Time `json:"settledAt,omitempty"`
}

// Custodian is the escrow contract the trade engine depends on.
type Custodian interface {
	// Lock reserves funds for a trade. It fails with
	// ErrInsufficientFunds when the seller cannot cover the amount and
	// ErrAlreadyLocked when the trade already has an escrow.
	Lock(ctx context.Context, req LockRequest) error

	// Release settles the escrow to the buyer.
	Release(ctx context.Context, tradeID string) (*Receipt, error)

	// Refund returns the escrow to the seller.
	Refund(ctx context.Context, tradeID string) (*Receipt, error)

	// Get returns the escrow record for a trade.
	Get(ctx context.Context, tradeID string) (*Escrow, error)
}

// receipt builds a Receipt view over a settled escrow record.
func (e *Escrow) receipt() *Receipt {
	direction := DirectionRelease
	if e.Status == StatusRefunded {
		direction = DirectionRefund
	}
	settledAt := time.Time{}
	if e.SettledAt != nil {
		settledAt = *e.SettledAt
	}
	return &Receipt{
		ID:        e.ReceiptID,
		TradeID:   e.TradeID,
		Direction: direction,
		Amount:    e.Amount,
		Currency:  e.Currency,
		SettledAt: settledAt,
	}
}
