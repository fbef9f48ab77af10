// Package chat is the per-trade message log.
//
// Every message gets a per-trade sequence number assigned at append
// time: dense, starting at 1, never reused. The sequence is the
// authoritative order of the conversation; timestamps are advisory.
// Lifecycle transitions append system messages to the same log, so a
// reader can reconstruct what happened to a trade from its messages
// alone.
package chat

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/mvbraga/peertrade/internal/validation"
)

var (
	ErrNotParticipant = errors.New("sender is not a trade participant")
	ErrEmptyMessage   = errors.New("message body is empty")
	ErrMessageTooLong = errors.New("message body too long")
	ErrInvalidType    = errors.New("invalid message type")
)

// Message types. System messages are synthesized by the trade engine
// on state transitions; the rest come from the counterparties.
const (
	TypeText   = "text"
	TypeImage  = "image"
	TypeFile   = "file"
	TypeSystem = "system"
)

// SystemSender is the sender ID recorded on system messages.
const SystemSender = "system"

// Message is one entry in a trade's log.
type Message struct {
	ID            string    `json:"id"`
	TradeID       string    `json:"tradeId"`
	Seq           int64     `json:"seq"`
	SenderID      string    `json:"senderId"`
	Type          string    `json:"type"`
	Body          string    `json:"body"`
	AttachmentURL string    `json:"attachmentUrl,omitempty"`
	CreatedAt     time.Time `json:"createdAt"`
}

// Store persists messages and assigns sequence numbers.
type Store interface {
	// Append stores m, assigning its ID and the next sequence number
	// for the trade.
	Append(ctx context.Context, m *Message) error

	// ListAfter returns up to limit messages with seq > afterSeq, in
	// ascending sequence order.
	ListAfter(ctx context.Context, tradeID string, afterSeq int64, limit int) ([]*Message, error)
}

// Participants resolves who may post into a trade's log.
type Participants interface {
	TradeParties(ctx context.Context, tradeID string) (buyerID, sellerID string, err error)
}

// Log provides chat over a trade.
type Log struct {
	store        Store
	participants Participants
}

// NewLog creates a chat log. participants may be nil, in which case
// Post performs no membership check (the caller must).
func NewLog(store Store, participants Participants) *Log {
	return &Log{store: store, participants: participants}
}

// Post appends a message from senderID. msgType must be text, image or
// file; image and file messages carry an attachment URL as their
// payload and may have an empty body.
func (l *Log) Post(ctx context.Context, tradeID, senderID, msgType, body, attachmentURL string) (*Message, error) {
	body = strings.TrimSpace(body)
	switch msgType {
	case TypeText:
		if body == "" {
			return nil, ErrEmptyMessage
		}
	case TypeImage, TypeFile:
		if attachmentURL == "" {
			return nil, ErrEmptyMessage
		}
	default:
		return nil, ErrInvalidType
	}
	if len(body) > validation.MaxMessageLength {
		return nil, ErrMessageTooLong
	}

	if l.participants != nil {
		buyerID, sellerID, err := l.participants.TradeParties(ctx, tradeID)
		if err != nil {
			return nil, err
		}
		if senderID != buyerID && senderID != sellerID {
			return nil, ErrNotParticipant
		}
	}

	m := &Message{
		TradeID:       tradeID,
		SenderID:      senderID,
		Type:          msgType,
		Body:          body,
		AttachmentURL: attachmentURL,
		CreatedAt:     time.Now(),
	}
	if err := l.store.Append(ctx, m); err != nil {
		return nil, err
	}
	return m, nil
}

// System appends a lifecycle message. No membership check.
func (l *Log) System(ctx context.Context, tradeID, body string) (*Message, error) {
	m := &Message{
		TradeID:   tradeID,
		SenderID:  SystemSender,
		Type:      TypeSystem,
		Body:      body,
		CreatedAt: time.Now(),
	}
	if err := l.store.Append(ctx, m); err != nil {
		return nil, err
	}
	return m, nil
}

// ListAfter returns messages with seq > afterSeq, oldest first.
func (l *Log) ListAfter(ctx context.Context, tradeID string, afterSeq int64, limit int) ([]*Message, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	return l.store.ListAfter(ctx, tradeID, afterSeq, limit)
}
