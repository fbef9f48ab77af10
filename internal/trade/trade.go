// Package trade runs individual trade lifecycles against published orders.
//
// Flow:
//  1. A taker opens a trade against an active order → seller tokens
//     locked in escrow, payment deadline armed
//  2. Buyer pays fiat off-platform, marks payment sent, may attach proof
//  3. Seller confirms receipt → escrow released to buyer, trade completed
//  4. Either side may cancel before payment is claimed → escrow refunded
//  5. Either side may dispute → arbiter decides release or refund
//  6. Deadline expiry before payment → automatic refund to seller
//
// Every transition appends a system message to the trade's chat log and
// publishes a lifecycle event. A trade whose settlement hit a custodian
// outage parks in a pending phase and is driven to its terminal state by
// the background settler.
package trade

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var (
	ErrTradeNotFound     = errors.New("trade not found")
	ErrAmountOutOfBounds = errors.New("amount outside order limits")
	ErrSelfTrade         = errors.New("cannot trade against your own order")
	ErrNotParticipant    = errors.New("caller is not a trade participant")
	ErrNotBuyer          = errors.New("only the buyer may perform this operation")
	ErrNotSeller         = errors.New("only the seller may perform this operation")
	ErrInvalidTransition = errors.New("operation not valid in current phase")
	ErrProofNotAllowed   = errors.New("payment proof no longer accepted")
	ErrCancelAfterProof  = errors.New("cannot cancel after payment proof was submitted")
	ErrNotDisputed       = errors.New("trade is not disputed")
	ErrCustodianFailure  = errors.New("custodian operation failed")
)

// Phase is the lifecycle state of a trade.
type Phase string

const (
	PhaseInitiated        Phase = "initiated"         // Escrow locked, waiting for buyer to pay
	PhasePaymentPending   Phase = "payment_pending"   // Buyer claims fiat was sent
	PhasePaymentConfirmed Phase = "payment_confirmed" // Seller confirmed, release settlement retrying
	PhaseRefundPending    Phase = "refund_pending"    // Refund settlement retrying
	PhaseDisputed         Phase = "disputed"          // Waiting for arbiter decision
	PhaseCompleted        Phase = "completed"         // Tokens released to buyer
	PhaseCancelled        Phase = "cancelled"         // Tokens refunded to seller
)

// IsTerminal returns true if the phase admits no further transitions.
func (p Phase) IsTerminal() bool {
	return p == PhaseCompleted || p == PhaseCancelled
}

// EscrowStatus is the escrow view derived from the phase.
type EscrowStatus string

const (
	EscrowLocked   EscrowStatus = "locked"
	EscrowDisputed EscrowStatus = "disputed"
	EscrowReleased EscrowStatus = "released"
)

// PaymentProof is the buyer's evidence that the fiat leg was paid.
type PaymentProof struct {
	Type        string    `json:"type"` // "image" or "file"
	Location    string    `json:"location"`
	SubmittedAt time.Time `json:"submittedAt"`
}

// Trade is one escrow-backed exchange between a buyer and a seller.
type Trade struct {
	ID                  string        `json:"id"`
	OrderID             string        `json:"orderId"`
	BuyerID             string        `json:"buyerId"`
	SellerID            string        `json:"sellerId"`
	Amount              string        `json:"amount"` // Token amount, decimal string
	UnitPrice           string        `json:"unitPrice"`
	TokenSymbol         string        `json:"tokenSymbol"`
	FiatCurrency        string        `json:"fiatCurrency"`
	Phase               Phase         `json:"phase"`
	EscrowExpiresAt     *time.Time    `json:"escrowExpiresAt,omitempty"`
	Proof               *PaymentProof `json:"proof,omitempty"`
	SettlementReceiptID string        `json:"settlementReceiptId,omitempty"`
	CreatedAt           time.Time     `json:"createdAt"`
	UpdatedAt           time.Time     `json:"updatedAt"`
}

// EscrowStatus derives the escrow view from the current phase.
func (t *Trade) EscrowStatus() EscrowStatus {
	return escrowStatusFor(t.Phase)
}

func escrowStatusFor(p Phase) EscrowStatus {
	switch p {
	case PhaseDisputed:
		return EscrowDisputed
	case PhaseCompleted, PhaseCancelled:
		return EscrowReleased
	default:
		return EscrowLocked
	}
}

// Participant reports whether userID is the buyer or the seller.
func (t *Trade) Participant(userID string) bool {
	return userID == t.BuyerID || userID == t.SellerID
}

// Counterparty returns the other side of the trade, or "" if userID is
// not a participant.
func (t *Trade) Counterparty(userID string) string {
	switch userID {
	case t.BuyerID:
		return t.SellerID
	case t.SellerID:
		return t.BuyerID
	}
	return ""
}

// Store persists trades.
type Store interface {
	Create(ctx context.Context, t *Trade) error
	Get(ctx context.Context, id string) (*Trade, error)
	Update(ctx context.Context, t *Trade) error

	// ListForUser returns trades where userID is buyer or seller,
	// newest first, starting after the cursor position.
	ListForUser(ctx context.Context, userID string, before *time.Time, beforeID string, limit int) ([]*Trade, error)

	// ListByPhase returns up to limit trades in the given phase,
	// oldest first.
	ListByPhase(ctx context.Context, phase Phase, limit int) ([]*Trade, error)
}

// invalidTransition wraps ErrInvalidTransition with what was attempted.
func invalidTransition(trigger string, phase Phase) error {
	return fmt.Errorf("%w: %s in phase %s", ErrInvalidTransition, trigger, phase)
}
