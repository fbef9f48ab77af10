// Package arbiter keeps the dispute record for contested trades.
//
// A dispute freezes its trade until an arbiter reviews the evidence
// bundle and issues a binding decision: release settles the escrow to
// the buyer and completes the trade, refund returns it to the seller
// and cancels the trade. The trade engine owns applying the decision;
// this package owns recording it exactly once.
package arbiter

import (
	"context"
	"errors"
	"time"
)

var (
	ErrDisputeNotFound = errors.New("dispute not found")
	ErrAlreadyDisputed = errors.New("trade already has a dispute")
	ErrAlreadyDecided  = errors.New("dispute already decided")
	ErrInvalidDecision = errors.New("invalid decision")
)

// Decisions.
const (
	DecisionRelease = "release"
	DecisionRefund  = "refund"
)

// Dispute statuses.
const (
	StatusOpen    = "open"
	StatusDecided = "decided"
)

// Evidence is one item a party attached to the dispute.
type Evidence struct {
	ID            string    `json:"id"`
	TradeID       string    `json:"tradeId"`
	ActorID       string    `json:"actorId"`
	Note          string    `json:"note,omitempty"`
	AttachmentURL string    `json:"attachmentUrl,omitempty"`
	CreatedAt     time.Time `json:"createdAt"`
}

// Dispute is the contested state of one trade.
type Dispute struct {
	TradeID        string     `json:"tradeId"`
	OpenedBy       string     `json:"openedBy"`
	Reason         string     `json:"reason"`
	Status         string     `json:"status"`
	Decision       string     `json:"decision,omitempty"`
	DecidedBy      string     `json:"decidedBy,omitempty"`
	DecisionReason string     `json:"decisionReason,omitempty"`
	OpenedAt       time.Time  `json:"openedAt"`
	DecidedAt      *time.Time `json:"decidedAt,omitempty"`
	Evidence       []Evidence `json:"evidence,omitempty"`
}

// Store persists disputes.
type Store interface {
	Create(ctx context.Context, d *Dispute) error
	Get(ctx context.Context, tradeID string) (*Dispute, error)
	AddEvidence(ctx context.Context, e *Evidence) error
	// Decide moves an open dispute to decided. It fails with
	// ErrAlreadyDecided when the dispute is no longer open.
	Decide(ctx context.Context, tradeID, decision, decidedBy, reason string, decidedAt time.Time) error
}

// Service manages dispute records.
type Service struct {
	store Store
}

// NewService creates an arbiter service.
func NewService(store Store) *Service {
	return &Service{store: store}
}

// Open records a new dispute for a trade.
func (s *Service) Open(ctx context.Context, tradeID, openedBy, reason string) (*Dispute, error) {
	d := &Dispute{
		TradeID:  tradeID,
		OpenedBy: openedBy,
		Reason:   reason,
		Status:   StatusOpen,
		OpenedAt: time.Now(),
	}
	if err := s.store.Create(ctx, d); err != nil {
		return nil, err
	}
	return d, nil
}

// Get returns the dispute for a trade, including its evidence bundle.
func (s *Service) Get(ctx context.Context, tradeID string) (*Dispute, error) {
	return s.store.Get(ctx, tradeID)
}

// AddEvidence attaches an item to an open dispute.
func (s *Service) AddEvidence(ctx context.Context, tradeID, actorID, note, attachmentURL string) (*Evidence, error) {
	d, err := s.store.Get(ctx, tradeID)
	if err != nil {
		return nil, err
	}
	if d.Status != StatusOpen {
		return nil, ErrAlreadyDecided
	}

	e := &Evidence{
		TradeID:       tradeID,
		ActorID:       actorID,
		Note:          note,
		AttachmentURL: attachmentURL,
		CreatedAt:     time.Now(),
	}
	if err := s.store.AddEvidence(ctx, e); err != nil {
		return nil, err
	}
	return e, nil
}

// Decide records the binding decision for an open dispute.
func (s *Service) Decide(ctx context.Context, tradeID, decision, decidedBy, reason string) (*Dispute, error) {
	if decision != DecisionRelease && decision != DecisionRefund {
		return nil, ErrInvalidDecision
	}

	if err := s.store.Decide(ctx, tradeID, decision, decidedBy, reason, time.Now()); err != nil {
		return nil, err
	}
	return s.store.Get(ctx, tradeID)
}
