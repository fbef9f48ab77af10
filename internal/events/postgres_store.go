package events

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/lib/pq"
)

// PostgresStore implements Store with PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed subscription store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

var _ Store = (*PostgresStore)(nil)

func (p *PostgresStore) Create(ctx context.Context, sub *Subscription) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO webhook_subscriptions (id, owner_id, url, secret, events, active, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, sub.ID, sub.OwnerID, sub.URL, sub.Secret, pq.Array(eventStrings(sub.Events)), sub.Active, sub.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create subscription: %w", err)
	}
	return nil
}

func (p *PostgresStore) Get(ctx context.Context, id string) (*Subscription, error) {
	return scanSubscription(p.db.QueryRowContext(ctx, `
		SELECT id, owner_id, url, secret, events, active, created_at, last_success, COALESCE(last_error, '')
		FROM webhook_subscriptions WHERE id = $1
	`, id))
}

func (p *PostgresStore) GetByOwner(ctx context.Context, ownerID string) ([]*Subscription, error) {
	return p.query(ctx, `
		SELECT id, owner_id, url, secret, events, active, created_at, last_success, COALESCE(last_error, '')
		FROM webhook_subscriptions WHERE owner_id = $1
	`, ownerID)
}

func (p *PostgresStore) GetByEvent(ctx context.Context, eventType EventType) ([]*Subscription, error) {
	return p.query(ctx, `
		SELECT id, owner_id, url, secret, events, active, created_at, last_success, COALESCE(last_error, '')
		FROM webhook_subscriptions WHERE $1 = ANY(events)
	`, string(eventType))
}

func (p *PostgresStore) Update(ctx context.Context, sub *Subscription) error {
	result, err := p.db.ExecContext(ctx, `
		UPDATE webhook_subscriptions SET url = $2, events = $3, active = $4,
			last_success = $5, last_error = $6
		WHERE id = $1
	`, sub.ID, sub.URL, pq.Array(eventStrings(sub.Events)), sub.Active, sub.LastSuccess, sub.LastError)
	if err != nil {
		return fmt.Errorf("failed to update subscription: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return ErrSubscriptionNotFound
	}
	return nil
}

func (p *PostgresStore) Delete(ctx context.Context, id string) error {
	result, err := p.db.ExecContext(ctx, `
		DELETE FROM webhook_subscriptions WHERE id = $1
	`, id)
	if err != nil {
		return fmt.Errorf("failed to delete subscription: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return ErrSubscriptionNotFound
	}
	return nil
}

func (p *PostgresStore) query(ctx context.Context, query string, args ...any) ([]*Subscription, error) {
	rows, err := p.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query subscriptions: %w", err)
	}
	defer rows.Close()

	var subs []*Subscription
	for rows.Next() {
		sub, err := scanSubscription(rows)
		if err != nil {
			return nil, err
		}
		subs = append(subs, sub)
	}
	return subs, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanSubscription(s scanner) (*Subscription, error) {
	sub := &Subscription{}
	var eventNames pq.StringArray
	var lastSuccess sql.NullTime

	err := s.Scan(&sub.ID, &sub.OwnerID, &sub.URL, &sub.Secret, &eventNames,
		&sub.Active, &sub.CreatedAt, &lastSuccess, &sub.LastError)
	if err == sql.ErrNoRows {
		return nil, ErrSubscriptionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan subscription: %w", err)
	}

	for _, name := range eventNames {
		sub.Events = append(sub.Events, EventType(name))
	}
	if lastSuccess.Valid {
		t := lastSuccess.Time
		sub.LastSuccess = &t
	}
	return sub, nil
}

func eventStrings(events []EventType) []string {
	out := make([]string, len(events))
	for i, et := range events {
		out[i] = string(et)
	}
	return out
}
