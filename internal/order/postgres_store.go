package order

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/lib/pq"
)

// PostgresStore implements Store with PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed order store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

var _ Store = (*PostgresStore)(nil)

func (p *PostgresStore) Create(ctx context.Context, o *Order) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO orders (id, owner_id, side, token_symbol, fiat_currency, unit_price,
			min_amount, max_amount, payment_methods, payment_window_seconds, terms, status,
			created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6::NUMERIC(30,8), $7::NUMERIC(30,8), $8::NUMERIC(30,8),
			$9, $10, $11, $12, $13, $14)
	`, o.ID, o.OwnerID, o.Side, o.TokenSymbol, o.FiatCurrency, o.UnitPrice,
		o.MinAmount, o.MaxAmount, pq.Array(o.PaymentMethods), int64(o.PaymentWindow/time.Second),
		o.Terms, o.Status, o.CreatedAt, o.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create order: %w", err)
	}
	return nil
}

func (p *PostgresStore) Get(ctx context.Context, id string) (*Order, error) {
	return scanOrder(p.db.QueryRowContext(ctx, `
		SELECT id, owner_id, side, token_symbol, fiat_currency, unit_price,
			min_amount, max_amount, payment_methods, payment_window_seconds,
			COALESCE(terms, ''), status, created_at, updated_at
		FROM orders WHERE id = $1
	`, id))
}

func (p *PostgresStore) Update(ctx context.Context, o *Order) error {
	result, err := p.db.ExecContext(ctx, `
		UPDATE orders SET status = $2, unit_price = $3::NUMERIC(30,8),
			min_amount = $4::NUMERIC(30,8), max_amount = $5::NUMERIC(30,8),
			payment_methods = $6, terms = $7, updated_at = $8
		WHERE id = $1
	`, o.ID, o.Status, o.UnitPrice, o.MinAmount, o.MaxAmount,
		pq.Array(o.PaymentMethods), o.Terms, o.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to update order: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return ErrOrderNotFound
	}
	return nil
}

func (p *PostgresStore) List(ctx context.Context, filter ListFilter) ([]*Order, error) {
	query := `
		SELECT id, owner_id, side, token_symbol, fiat_currency, unit_price,
			min_amount, max_amount, payment_methods, payment_window_seconds,
			COALESCE(terms, ''), status, created_at, updated_at
		FROM orders
		WHERE ($1 = '' OR side = $1)
		  AND ($2 = '' OR status = $2)
		  AND ($3 = '' OR owner_id = $3)
		ORDER BY created_at DESC
		LIMIT $4
	`
	rows, err := p.db.QueryContext(ctx, query, filter.Side, filter.Status, filter.OwnerID, filter.Limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list orders: %w", err)
	}
	defer rows.Close()

	var orders []*Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		orders = append(orders, o)
	}
	return orders, rows.Err()
}

// scanner abstracts sql.Row and sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanOrder(s scanner) (*Order, error) {
	o := &Order{}
	var methods pq.StringArray
	var windowSeconds int64

	err := s.Scan(&o.ID, &o.OwnerID, &o.Side, &o.TokenSymbol, &o.FiatCurrency, &o.UnitPrice,
		&o.MinAmount, &o.MaxAmount, &methods, &windowSeconds,
		&o.Terms, &o.Status, &o.CreatedAt, &o.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrOrderNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan order: %w", err)
	}

	o.PaymentMethods = []string(methods)
	o.PaymentWindow = time.Duration(windowSeconds) * time.Second
	return o, nil
}
