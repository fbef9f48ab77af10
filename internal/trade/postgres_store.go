package trade

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// PostgresStore implements Store with PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed trade store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

var _ Store = (*PostgresStore)(nil)

func (p *PostgresStore) Create(ctx context.Context, t *Trade) error {
	var proofType, proofLocation sql.NullString
	var proofAt sql.NullTime
	if t.Proof != nil {
		proofType = sql.NullString{String: t.Proof.Type, Valid: true}
		proofLocation = sql.NullString{String: t.Proof.Location, Valid: true}
		proofAt = sql.NullTime{Time: t.Proof.SubmittedAt, Valid: true}
	}
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO trades (id, order_id, buyer_id, seller_id, amount, unit_price,
			token_symbol, fiat_currency, phase, escrow_expires_at,
			proof_type, proof_location, proof_submitted_at,
			settlement_receipt_id, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5::NUMERIC(30,8), $6::NUMERIC(30,8),
			$7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
	`, t.ID, t.OrderID, t.BuyerID, t.SellerID, t.Amount, t.UnitPrice,
		t.TokenSymbol, t.FiatCurrency, t.Phase, t.EscrowExpiresAt,
		proofType, proofLocation, proofAt,
		nullIfEmpty(t.SettlementReceiptID), t.CreatedAt, t.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create trade: %w", err)
	}
	return nil
}

func (p *PostgresStore) Get(ctx context.Context, id string) (*Trade, error) {
	return scanTrade(p.db.QueryRowContext(ctx, `
		SELECT id, order_id, buyer_id, seller_id, amount, unit_price,
			token_symbol, fiat_currency, phase, escrow_expires_at,
			proof_type, proof_location, proof_submitted_at,
			COALESCE(settlement_receipt_id, ''), created_at, updated_at
		FROM trades WHERE id = $1
	`, id))
}

func (p *PostgresStore) Update(ctx context.Context, t *Trade) error {
	var proofType, proofLocation sql.NullString
	var proofAt sql.NullTime
	if t.Proof != nil {
		proofType = sql.NullString{String: t.Proof.Type, Valid: true}
		proofLocation = sql.NullString{String: t.Proof.Location, Valid: true}
		proofAt = sql.NullTime{Time: t.Proof.SubmittedAt, Valid: true}
	}
	result, err := p.db.ExecContext(ctx, `
		UPDATE trades SET phase = $2, escrow_expires_at = $3,
			proof_type = $4, proof_location = $5, proof_submitted_at = $6,
			settlement_receipt_id = $7, updated_at = $8
		WHERE id = $1
	`, t.ID, t.Phase, t.EscrowExpiresAt, proofType, proofLocation, proofAt,
		nullIfEmpty(t.SettlementReceiptID), t.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to update trade: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return ErrTradeNotFound
	}
	return nil
}

func (p *PostgresStore) ListForUser(ctx context.Context, userID string, before *time.Time, beforeID string, limit int) ([]*Trade, error) {
	query := `
		SELECT id, order_id, buyer_id, seller_id, amount, unit_price,
			token_symbol, fiat_currency, phase, escrow_expires_at,
			proof_type, proof_location, proof_submitted_at,
			COALESCE(settlement_receipt_id, ''), created_at, updated_at
		FROM trades
		WHERE (buyer_id = $1 OR seller_id = $1)
		  AND ($2::TIMESTAMPTZ IS NULL OR (created_at, id) < ($2, $3))
		ORDER BY created_at DESC, id DESC
		LIMIT $4
	`
	rows, err := p.db.QueryContext(ctx, query, userID, before, beforeID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list trades: %w", err)
	}
	defer rows.Close()
	return collectTrades(rows)
}

func (p *PostgresStore) ListByPhase(ctx context.Context, phase Phase, limit int) ([]*Trade, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, order_id, buyer_id, seller_id, amount, unit_price,
			token_symbol, fiat_currency, phase, escrow_expires_at,
			proof_type, proof_location, proof_submitted_at,
			COALESCE(settlement_receipt_id, ''), created_at, updated_at
		FROM trades
		WHERE phase = $1
		ORDER BY created_at ASC
		LIMIT $2
	`, phase, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list trades by phase: %w", err)
	}
	defer rows.Close()
	return collectTrades(rows)
}

type scanner interface {
	Scan(dest ...any) error
}

func scanTrade(row scanner) (*Trade, error) {
	var t Trade
	var expiresAt sql.NullTime
	var proofType, proofLocation sql.NullString
	var proofAt sql.NullTime
	err := row.Scan(&t.ID, &t.OrderID, &t.BuyerID, &t.SellerID, &t.Amount, &t.UnitPrice,
		&t.TokenSymbol, &t.FiatCurrency, &t.Phase, &expiresAt,
		&proofType, &proofLocation, &proofAt,
		&t.SettlementReceiptID, &t.CreatedAt, &t.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrTradeNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan trade: %w", err)
	}
	if expiresAt.Valid {
		t.EscrowExpiresAt = &expiresAt.Time
	}
	if proofType.Valid {
		t.Proof = &PaymentProof{
			Type:        proofType.String,
			Location:    proofLocation.String,
			SubmittedAt: proofAt.Time,
		}
	}
	return &t, nil
}

func collectTrades(rows *sql.Rows) ([]*Trade, error) {
	var trades []*Trade
	for rows.Next() {
		t, err := scanTrade(rows)
		if err != nil {
			return nil, err
		}
		trades = append(trades, t)
	}
	return trades, rows.Err()
}

func nullIfEmpty(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
