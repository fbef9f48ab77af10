// Package order manages the book of posted buy/sell offers.
//
// An order advertises a price and an amount range for exchanging BZR
// against fiat. Trades are opened against active orders; the order
// itself never moves funds.
package order

import (
	"context"
	"errors"
	"math/big"
	"time"

	"github.com/mvbraga/peertrade/internal/idgen"
	"github.com/mvbraga/peertrade/internal/token"
)

var (
	ErrOrderNotFound  = errors.New("order not found")
	ErrNotOwner       = errors.New("caller does not own this order")
	ErrOrderNotActive = errors.New("order is not active")
	ErrInvalidStatus  = errors.New("invalid status transition")
	ErrInvalidOrder   = errors.New("invalid order")
)

// Order sides. The side is the owner's side: a sell order means the
// owner sells BZR and receives fiat.
const (
	SideSell = "sell"
	SideBuy  = "buy"
)

// Order statuses.
const (
	StatusActive    = "active"
	StatusPaused    = "paused"
	StatusCompleted = "completed"
	StatusCancelled = "cancelled"
)

// Order is a posted offer to exchange tokens for fiat.
type Order struct {
	ID             string        `json:"id"`
	OwnerID        string        `json:"ownerId"`
	Side           string        `json:"side"`
	TokenSymbol    string        `json:"tokenSymbol"`
	FiatCurrency   string        `json:"fiatCurrency"`
	UnitPrice      string        `json:"unitPrice"` // fiat per token
	MinAmount      string        `json:"minAmount"` // token units
	MaxAmount      string        `json:"maxAmount"`
	PaymentMethods []string      `json:"paymentMethods"`
	PaymentWindow  time.Duration `json:"paymentWindow"` // 0 means platform default
	Terms          string        `json:"terms,omitempty"`
	Status         string        `json:"status"`
	CreatedAt      time.Time     `json:"createdAt"`
	UpdatedAt      time.Time     `json:"updatedAt"`
}

// CreateRequest is the payload for posting an order.
type CreateRequest struct {
	Side           string   `json:"side" binding:"required"`
	UnitPrice      string   `json:"unitPrice" binding:"required"`
	MinAmount      string   `json:"minAmount" binding:"required"`
	MaxAmount      string   `json:"maxAmount" binding:"required"`
	PaymentMethods []string `json:"paymentMethods" binding:"required"`
	PaymentWindow  string   `json:"paymentWindow,omitempty"` // Go duration string
	Terms          string   `json:"terms,omitempty"`
}

// UpdateRequest is the payload for editing an order. Empty fields are
// left unchanged; Terms is a pointer so it can be cleared.
type UpdateRequest struct {
	UnitPrice      string   `json:"unitPrice,omitempty"`
	MinAmount      string   `json:"minAmount,omitempty"`
	MaxAmount      string   `json:"maxAmount,omitempty"`
	PaymentMethods []string `json:"paymentMethods,omitempty"`
	PaymentWindow  string   `json:"paymentWindow,omitempty"` // Go duration string
	Terms          *string  `json:"terms,omitempty"`
}

// ListFilter narrows List results. Zero values match everything.
type ListFilter struct {
	Side    string
	Status  string
	OwnerID string
	Limit   int
}

// Store persists orders.
type Store interface {
	Create(ctx context.Context, o *Order) error
	Get(ctx context.Context, id string) (*Order, error)
	Update(ctx context.Context, o *Order) error
	List(ctx context.Context, filter ListFilter) ([]*Order, error)
}

// Service manages the order book.
type Service struct {
	store        Store
	tokenSymbol  string
	fiatCurrency string
	platformMin  *big.Int
	platformMax  *big.Int
}

// NewService creates an order service. tokenSymbol and fiatCurrency are
// the platform pair every order trades in.
func NewService(store Store, tokenSymbol, fiatCurrency string) *Service {
	return &Service{store: store, tokenSymbol: tokenSymbol, fiatCurrency: fiatCurrency}
}

// WithBounds sets platform-wide trade size limits. Orders may not offer
// amounts outside these. Unparseable bounds are ignored.
func (s *Service) WithBounds(min, max string) *Service {
	if amt, ok := token.Parse(min); ok {
		s.platformMin = amt
	}
	if amt, ok := token.Parse(max); ok {
		s.platformMax = amt
	}
	return s
}

// Create validates and posts a new order for ownerID.
func (s *Service) Create(ctx context.Context, ownerID string, req CreateRequest) (*Order, error) {
	if req.Side != SideSell && req.Side != SideBuy {
		return nil, ErrInvalidOrder
	}

	price, ok := token.Parse(req.UnitPrice)
	if !ok || price.Sign() <= 0 {
		return nil, ErrInvalidOrder
	}
	minAmt, ok := token.Parse(req.MinAmount)
	if !ok || minAmt.Sign() <= 0 {
		return nil, ErrInvalidOrder
	}
	maxAmt, ok := token.Parse(req.MaxAmount)
	if !ok || maxAmt.Cmp(minAmt) < 0 {
		return nil, ErrInvalidOrder
	}
	if s.platformMin != nil && minAmt.Cmp(s.platformMin) < 0 {
		return nil, ErrInvalidOrder
	}
	if s.platformMax != nil && maxAmt.Cmp(s.platformMax) > 0 {
		return nil, ErrInvalidOrder
	}
	if len(req.PaymentMethods) == 0 {
		return nil, ErrInvalidOrder
	}

	var window time.Duration
	if req.PaymentWindow != "" {
		parsed, err := time.ParseDuration(req.PaymentWindow)
		if err != nil || parsed <= 0 {
			return nil, ErrInvalidOrder
		}
		window = parsed
	}

	now := time.Now()
	o := &Order{
		ID:             idgen.Order(),
		OwnerID:        ownerID,
		Side:           req.Side,
		TokenSymbol:    s.tokenSymbol,
		FiatCurrency:   s.fiatCurrency,
		UnitPrice:      req.UnitPrice,
		MinAmount:      req.MinAmount,
		MaxAmount:      req.MaxAmount,
		PaymentMethods: req.PaymentMethods,
		PaymentWindow:  window,
		Terms:          req.Terms,
		Status:         StatusActive,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	if err := s.store.Create(ctx, o); err != nil {
		return nil, err
	}
	return o, nil
}

// Edit reprices or rescopes an order the owner still has on the book.
// Trades already opened against it are unaffected: a trade snapshots
// the unit price when it opens. Terminal orders cannot be edited.
func (s *Service) Edit(ctx context.Context, callerID, id string, req UpdateRequest) (*Order, error) {
	o, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if o.OwnerID != callerID {
		return nil, ErrNotOwner
	}
	if o.Status != StatusActive && o.Status != StatusPaused {
		return nil, ErrInvalidStatus
	}

	if req.UnitPrice != "" {
		price, ok := token.Parse(req.UnitPrice)
		if !ok || price.Sign() <= 0 {
			return nil, ErrInvalidOrder
		}
		o.UnitPrice = req.UnitPrice
	}
	if req.MinAmount != "" {
		minAmt, ok := token.Parse(req.MinAmount)
		if !ok || minAmt.Sign() <= 0 {
			return nil, ErrInvalidOrder
		}
		o.MinAmount = req.MinAmount
	}
	if req.MaxAmount != "" {
		if _, ok := token.Parse(req.MaxAmount); !ok {
			return nil, ErrInvalidOrder
		}
		o.MaxAmount = req.MaxAmount
	}

	// Re-check the merged range, whichever side changed.
	minAmt, _ := token.Parse(o.MinAmount)
	maxAmt, _ := token.Parse(o.MaxAmount)
	if maxAmt.Cmp(minAmt) < 0 {
		return nil, ErrInvalidOrder
	}
	if s.platformMin != nil && minAmt.Cmp(s.platformMin) < 0 {
		return nil, ErrInvalidOrder
	}
	if s.platformMax != nil && maxAmt.Cmp(s.platformMax) > 0 {
		return nil, ErrInvalidOrder
	}

	if req.PaymentMethods != nil {
		if len(req.PaymentMethods) == 0 {
			return nil, ErrInvalidOrder
		}
		o.PaymentMethods = req.PaymentMethods
	}
	if req.PaymentWindow != "" {
		parsed, err := time.ParseDuration(req.PaymentWindow)
		if err != nil || parsed <= 0 {
			return nil, ErrInvalidOrder
		}
		o.PaymentWindow = parsed
	}
	if req.Terms != nil {
		o.Terms = *req.Terms
	}

	o.UpdatedAt = time.Now()
	if err := s.store.Update(ctx, o); err != nil {
		return nil, err
	}
	return o, nil
}

// Get returns an order by ID.
func (s *Service) Get(ctx context.Context, id string) (*Order, error) {
	return s.store.Get(ctx, id)
}

// List returns orders matching the filter, newest first.
func (s *Service) List(ctx context.Context, filter ListFilter) ([]*Order, error) {
	if filter.Limit <= 0 || filter.Limit > 200 {
		filter.Limit = 50
	}
	return s.store.List(ctx, filter)
}

// Pause takes an active order off the book without cancelling it.
func (s *Service) Pause(ctx context.Context, callerID, id string) (*Order, error) {
	return s.setStatus(ctx, callerID, id, StatusPaused, StatusActive)
}

// Resume puts a paused order back on the book.
func (s *Service) Resume(ctx context.Context, callerID, id string) (*Order, error) {
	return s.setStatus(ctx, callerID, id, StatusActive, StatusPaused)
}

// Complete marks an order as filled. Terminal.
func (s *Service) Complete(ctx context.Context, callerID, id string) (*Order, error) {
	return s.setStatus(ctx, callerID, id, StatusCompleted, StatusActive, StatusPaused)
}

// Cancel withdraws an order from the book. Terminal.
func (s *Service) Cancel(ctx context.Context, callerID, id string) (*Order, error) {
	return s.setStatus(ctx, callerID, id, StatusCancelled, StatusActive, StatusPaused)
}

func (s *Service) setStatus(ctx context.Context, callerID, id, target string, from ...string) (*Order, error) {
	o, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if o.OwnerID != callerID {
		return nil, ErrNotOwner
	}

	allowed := false
	for _, f := range from {
		if o.Status == f {
			allowed = true
			break
		}
	}
	if !allowed {
		return nil, ErrInvalidStatus
	}

	o.Status = target
	o.UpdatedAt = time.Now()
	if err := s.store.Update(ctx, o); err != nil {
		return nil, err
	}
	return o, nil
}
