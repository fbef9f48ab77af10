package scheduler

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

// NewPostgresStore creates a new PostgreSQL-backed deadline store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

var _ Store = (*PostgresStore)(nil)

func (p *PostgresStore) Upsert(ctx context.Context, d *Deadline) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO trade_deadlines (trade_id, fires_at, armed_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (trade_id) DO UPDATE SET
			fires_at = EXCLUDED.fires_at,
			armed_at = EXCLUDED.armed_at
	`, d.TradeID, d.FiresAt, d.ArmedAt)
	if err != nil {
		return fmt.Errorf("failed to arm deadline: %w", err)
	}
	return nil
}

func (p *PostgresStore) Delete(ctx context.Context, tradeID string) (bool, error) {
	result, err := p.db.ExecContext(ctx, `
		DELETE FROM trade_deadlines WHERE trade_id = $1
	`, tradeID)
	if err != nil {
		return false, fmt.Errorf("failed to disarm deadline: %w", err)
	}
	rows, _ := result.RowsAffected()
	return rows > 0, nil
}

func (p *PostgresStore) ListDue(ctx context.Context, now time.Time, limit int) ([]*Deadline, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT trade_id, fires_at, armed_at
		FROM trade_deadlines
		WHERE fires_at <= $1
		ORDER BY fires_at ASC
		LIMIT $2
	`, now, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list due deadlines: %w", err)
	}
	defer rows.Close()

	var due []*Deadline
	for rows.Next() {
		d := &Deadline{}
		if err := rows.Scan(&d.TradeID, &d.FiresAt, &d.ArmedAt); err != nil {
			return nil, fmt.Errorf("failed to scan deadline: %w", err)
		}
		due = append(due, d)
	}
	return due, rows.Err()
}
