// Package events fans trade lifecycle events out to subscribers.
//
// Two delivery paths share the same Event type: in-process listeners
// (the websocket hub) get events synchronously, and registered
// webhooks get signed HTTP deliveries with retry. Webhook deliveries
// are at least once; receivers deduplicate on the idempotency key,
// which is stable per (trade, resulting state).
package events

import (
	"context"
	"errors"
	"time"
)

var ErrSubscriptionNotFound = errors.New("subscription not found")

// EventType represents the type of lifecycle event.
type EventType string

const (
	EventTradeOpened           EventType = "trade.opened"
	EventTradePaymentSent      EventType = "trade.payment_sent"
	EventTradeProofSubmitted   EventType = "trade.proof_submitted"
	EventTradePaymentConfirmed EventType = "trade.payment_confirmed"
	EventTradeCompleted        EventType = "trade.completed"
	EventTradeCancelled        EventType = "trade.cancelled"
	EventTradeDisputed         EventType = "trade.disputed"
	EventTradeDecided          EventType = "trade.decided"
	EventTradeExpired          EventType = "trade.expired"
	EventChatMessage           EventType = "chat.message"
)

// Event is one notification.
type Event struct {
	ID             string         `json:"id"`
	Type           EventType      `json:"type"`
	TradeID        string         `json:"tradeId"`
	IdempotencyKey string         `json:"idempotencyKey,omitempty"`
	Timestamp      time.Time      `json:"timestamp"`
	Data           map[string]any `json:"data,omitempty"`
}

// Subscription is a registered webhook endpoint.
type Subscription struct {
	ID          string      `json:"id"`
	OwnerID     string      `json:"ownerId"`
	URL         string      `json:"url"`
	Secret      string      `json:"-"` // used for HMAC signing
	Events      []EventType `json:"events"`
	Active      bool        `json:"active"`
	CreatedAt   time.Time   `json:"createdAt"`
	LastSuccess *time.Time  `json:"lastSuccess,omitempty"`
	LastError   string      `json:"lastError,omitempty"`
}

// Wants reports whether the subscription covers eventType.
func (s *Subscription) Wants(eventType EventType) bool {
	for _, et := range s.Events {
		if et == eventType {
			return true
		}
	}
	return false
}

// Store persists webhook subscriptions.
type Store interface {
	Create(ctx context.Context, sub *Subscription) error
	Get(ctx context.Context, id string) (*Subscription, error)
	GetByOwner(ctx context.Context, ownerID string) ([]*Subscription, error)
	GetByEvent(ctx context.Context, eventType EventType) ([]*Subscription, error)
	Update(ctx context.Context, sub *Subscription) error
	Delete(ctx context.Context, id string) error
}
