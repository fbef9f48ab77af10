package custodian

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

// NewPostgresStore creates a new PostgreSQL-backed escrow store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

var _ Store = (*PostgresStore)(nil)

func (p *PostgresStore) Create(ctx context.Context, e *Escrow) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO escrows (trade_id, seller_id, buyer_id, amount, currency, status, locked_at)
		VALUES ($1, $2, $3, $4::NUMERIC(30,8), $5, $6, $7)
	`, e.TradeID, e.SellerID, e.BuyerID, e.Amount, e.Currency, e.Status, e.LockedAt)
	if err != nil {
		if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == "23505" {
			return ErrAlreadyLocked
		}
		return fmt.Errorf("failed to create escrow: %w", err)
	}
	return nil
}

func (p *PostgresStore) Get(ctx context.Context, tradeID string) (*Escrow, error) {
	e := &Escrow{}
	var receiptID sql.NullString
	var settledAt sql.NullTime

	err := p.db.QueryRowContext(ctx, `
		SELECT trade_id, seller_id, buyer_id, amount, currency, status, receipt_id, locked_at, settled_at
		FROM escrows WHERE trade_id = $1
	`, tradeID).Scan(&e.TradeID, &e.SellerID, &e.BuyerID, &e.Amount, &e.Currency, &e.Status, &receiptID, &e.LockedAt, &settledAt)

	if err == sql.ErrNoRows {
		return nil, ErrNotLocked
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get escrow: %w", err)
	}

	if receiptID.Valid {
		e.ReceiptID = receiptID.String
	}
	if settledAt.Valid {
		t := settledAt.Time
		e.SettledAt = &t
	}
	return e, nil
}

func (p *PostgresStore) MarkSettled(ctx context.Context, tradeID, status, receiptID string, settledAt time.Time) error {
	result, err := p.db.ExecContext(ctx, `
		UPDATE escrows SET status = $2, receipt_id = $3, settled_at = $4
		WHERE trade_id = $1 AND status = 'locked'
	`, tradeID, status, receiptID, settledAt)
	if err != nil {
		return fmt.Errorf("failed to settle escrow: %w", err)
	}

	rows, _ := result.RowsAffected()
	if rows == 0 {
		if _, err := p.Get(ctx, tradeID); err != nil {
			return err
		}
		return ErrAlreadySettled
	}
	return nil
}
