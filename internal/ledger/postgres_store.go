package ledger

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/mvbraga/peertrade/internal/idgen"
)

// PostgresStore implements Store with PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed ledger store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

var _ Store = (*PostgresStore)(nil)

// GetBalance retrieves a user's balance.
func (p *PostgresStore) GetBalance(ctx context.Context, userID string) (*Balance, error) {
	bal := &Balance{UserID: userID}

	err := p.db.QueryRowContext(ctx, `
		SELECT available, escrowed, total_in, total_out, updated_at
		FROM accounts WHERE user_id = $1
	`, userID).Scan(&bal.Available, &bal.Escrowed, &bal.TotalIn, &bal.TotalOut, &bal.UpdatedAt)

	if err == sql.ErrNoRows {
		return emptyBalance(userID), nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get balance: %w", err)
	}
	return bal, nil
}

// Credit adds to a user's available balance, creating the account if needed.
func (p *PostgresStore) Credit(ctx context.Context, userID, amount, reference, description string) error {
	tx, err := p.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return err
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO accounts (user_id, available, total_in, updated_at)
		VALUES ($1, $2::NUMERIC(30,8), $2::NUMERIC(30,8), NOW())
		ON CONFLICT (user_id) DO UPDATE SET
			available  = accounts.available + $2::NUMERIC(30,8),
			total_in   = accounts.total_in  + $2::NUMERIC(30,8),
			updated_at = NOW()
	`, userID, amount)
	if err != nil {
		return fmt.Errorf("failed to credit account: %w", err)
	}

	if err := insertEntry(ctx, tx, userID, "deposit", amount, reference, description); err != nil {
		return err
	}
	return tx.Commit()
}

// Debit subtracts from a user's available balance.
func (p *PostgresStore) Debit(ctx context.Context, userID, amount, reference, description string) error {
	tx, err := p.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return err
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx, `
		UPDATE accounts SET
			available  = available - $2::NUMERIC(30,8),
			total_out  = total_out + $2::NUMERIC(30,8),
			updated_at = NOW()
		WHERE user_id = $1 AND available >= $2::NUMERIC(30,8)
	`, userID, amount)
	if err != nil {
		return fmt.Errorf("failed to debit account: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return debitFailure(ctx, tx, userID)
	}

	if err := insertEntry(ctx, tx, userID, "withdrawal", amount, reference, description); err != nil {
		return err
	}
	return tx.Commit()
}

// EscrowLock moves funds from available to escrowed.
func (p *PostgresStore) EscrowLock(ctx context.Context, userID, amount, reference string) error {
	tx, err := p.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return err
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx, `
		UPDATE accounts SET
			available  = available - $2::NUMERIC(30,8),
			escrowed   = escrowed  + $2::NUMERIC(30,8),
			updated_at = NOW()
		WHERE user_id = $1 AND available >= $2::NUMERIC(30,8)
	`, userID, amount)
	if err != nil {
		return fmt.Errorf("failed to lock escrow: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return debitFailure(ctx, tx, userID)
	}

	if err := insertEntry(ctx, tx, userID, "escrow_lock", amount, reference, "escrow_locked"); err != nil {
		return err
	}
	return tx.Commit()
}

// ReleaseEscrow moves escrowed funds to the counterparty's available balance.
func (p *PostgresStore) ReleaseEscrow(ctx context.Context, fromUserID, toUserID, amount, reference string) error {
	tx, err := p.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return err
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx, `
		UPDATE accounts SET
			escrowed   = escrowed  - $2::NUMERIC(30,8),
			total_out  = total_out + $2::NUMERIC(30,8),
			updated_at = NOW()
		WHERE user_id = $1 AND escrowed >= $2::NUMERIC(30,8)
	`, fromUserID, amount)
	if err != nil {
		return fmt.Errorf("failed to debit escrow: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return debitFailure(ctx, tx, fromUserID)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO accounts (user_id, available, total_in, updated_at)
		VALUES ($1, $2::NUMERIC(30,8), $2::NUMERIC(30,8), NOW())
		ON CONFLICT (user_id) DO UPDATE SET
			available  = accounts.available + $2::NUMERIC(30,8),
			total_in   = accounts.total_in  + $2::NUMERIC(30,8),
			updated_at = NOW()
	`, toUserID, amount)
	if err != nil {
		return fmt.Errorf("failed to credit counterparty: %w", err)
	}

	if err := insertEntry(ctx, tx, fromUserID, "escrow_release", amount, reference, "escrow_released"); err != nil {
		return err
	}
	if err := insertEntry(ctx, tx, toUserID, "escrow_receive", amount, reference, "escrow_payment_received"); err != nil {
		return err
	}
	return tx.Commit()
}

// RefundEscrow returns escrowed funds to the owner's available balance.
func (p *PostgresStore) RefundEscrow(ctx context.Context, userID, amount, reference string) error {
	tx, err := p.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return err
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx, `
		UPDATE accounts SET
			escrowed   = escrowed  - $2::NUMERIC(30,8),
			available  = available + $2::NUMERIC(30,8),
			updated_at = NOW()
		WHERE user_id = $1 AND escrowed >= $2::NUMERIC(30,8)
	`, userID, amount)
	if err != nil {
		return fmt.Errorf("failed to refund escrow: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return debitFailure(ctx, tx, userID)
	}

	if err := insertEntry(ctx, tx, userID, "escrow_refund", amount, reference, "escrow_refunded"); err != nil {
		return err
	}
	return tx.Commit()
}

// GetHistory returns a user's ledger entries, newest first.
func (p *PostgresStore) GetHistory(ctx context.Context, userID string, limit int) ([]*Entry, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, user_id, type, amount, COALESCE(reference, ''), COALESCE(description, ''), created_at
		FROM ledger_entries
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query history: %w", err)
	}
	defer rows.Close()

	var entries []*Entry
	for rows.Next() {
		e := &Entry{}
		var createdAt time.Time
		if err := rows.Scan(&e.ID, &e.UserID, &e.Type, &e.Amount, &e.Reference, &e.Description, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan entry: %w", err)
		}
		e.CreatedAt = createdAt
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func insertEntry(ctx context.Context, tx *sql.Tx, userID, entryType, amount, reference, description string) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO ledger_entries (id, user_id, type, amount, reference, description, created_at)
		VALUES ($1, $2, $3, $4::NUMERIC(30,8), $5, $6, NOW())
	`, idgen.WithPrefix("ent_"), userID, entryType, amount, reference, description)
	if err != nil {
		return fmt.Errorf("failed to record %s entry: %w", entryType, err)
	}
	return nil
}

// debitFailure distinguishes a missing account from an insufficient
// balance after a guarded UPDATE touched zero rows.
func debitFailure(ctx context.Context, tx *sql.Tx, userID string) error {
	var exists bool
	if err := tx.QueryRowContext(ctx, `
		SELECT EXISTS (SELECT 1 FROM accounts WHERE user_id = $1)
	`, userID).Scan(&exists); err != nil {
		return err
	}
	if !exists {
		return ErrAccountNotFound
	}
	return ErrInsufficientBalance
}
