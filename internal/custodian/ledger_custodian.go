package custodian

import (
	"context"
	"errors"
	"time"

	"github.com/mvbraga/peertrade/internal/idgen"
	"github.com/mvbraga/peertrade/internal/ledger"
	"github.com/mvbraga/peertrade/internal/token"
)

// Store persists escrow records.
type Store interface {
	Create(ctx context.Context, e *Escrow) error
	Get(ctx context.Context, tradeID string) (*Escrow, error)
	MarkSettled(ctx context.Context, tradeID, status, receiptID string, settledAt time.Time) error
}

// LedgerCustodian implements Custodian on top of the platform ledger.
type LedgerCustodian struct {
	store  Store
	ledger *ledger.Ledger
}

// NewLedgerCustodian creates a custodian backed by the platform ledger.
func NewLedgerCustodian(store Store, l *ledger.Ledger) *LedgerCustodian {
	return &LedgerCustodian{store: store, ledger: l}
}

var _ Custodian = (*LedgerCustodian)(nil)

// Lock moves the seller's tokens into escrow and records the hold.
func (c *LedgerCustodian) Lock(ctx context.Context, req LockRequest) error {
	amountBig, ok := token.Parse(req.Amount)
	if !ok || amountBig.Sign() <= 0 {
		return ledger.ErrInvalidAmount
	}

	if _, err := c.store.Get(ctx, req.TradeID); err == nil {
		return ErrAlreadyLocked
	} else if !errors.Is(err, ErrNotLocked) {
		return err
	}

	if err := c.ledger.EscrowLock(ctx, req.SellerID, req.Amount, req.TradeID); err != nil {
		if errors.Is(err, ledger.ErrInsufficientBalance) || errors.Is(err, ledger.ErrAccountNotFound) {
			return ErrInsufficientFunds
		}
		return err
	}

	return c.store.Create(ctx, &Escrow{
		TradeID:  req.TradeID,
		SellerID: req.SellerID,
		BuyerID:  req.BuyerID,
		Amount:   req.Amount,
		Currency: req.Currency,
		Status:   StatusLocked,
		LockedAt: time.Now(),
	})
}

// Release settles the escrow to the buyer. Calling it again returns the
// original receipt.
func (c *LedgerCustodian) Release(ctx context.Context, tradeID string) (*Receipt, error) {
	return c.settle(ctx, tradeID, StatusReleased)
}

// Refund returns the escrow to the seller. Calling it again returns the
// original receipt.
func (c *LedgerCustodian) Refund(ctx context.Context, tradeID string) (*Receipt, error) {
	return c.settle(ctx, tradeID, StatusRefunded)
}

// Get returns the escrow record for a trade.
func (c *LedgerCustodian) Get(ctx context.Context, tradeID string) (*Escrow, error) {
	return c.store.Get(ctx, tradeID)
}

func (c *LedgerCustodian) settle(ctx context.Context, tradeID, target string) (*Receipt, error) {
	e, err := c.store.Get(ctx, tradeID)
	if err != nil {
		return nil, err
	}

	switch e.Status {
	case target:
		return e.receipt(), nil
	case StatusLocked:
		// fall through to settle
	default:
		return nil, ErrAlreadySettled
	}

	if target == StatusReleased {
		err = c.ledger.ReleaseEscrow(ctx, e.SellerID, e.BuyerID, e.Amount, e.TradeID)
	} else {
		err = c.ledger.RefundEscrow(ctx, e.SellerID, e.Amount, e.TradeID)
	}
	if err != nil {
		return nil, err
	}

	receiptID := idgen.Receipt()
	settledAt := time.Now()
	if err := c.store.MarkSettled(ctx, tradeID, target, receiptID, settledAt); err != nil {
		return nil, err
	}

	e.Status = target
	e.ReceiptID = receiptID
	e.SettledAt = &settledAt
	return e.receipt(), nil
}
