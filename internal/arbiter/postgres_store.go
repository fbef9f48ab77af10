package arbiter

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/mvbraga/peertrade/internal/idgen"
)

// PostgresStore implements Store with PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed dispute store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

var _ Store = (*PostgresStore)(nil)

func (p *PostgresStore) Create(ctx context.Context, d *Dispute) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO disputes (trade_id, opened_by, reason, status, opened_at)
		VALUES ($1, $2, $3, $4, $5)
	`, d.TradeID, d.OpenedBy, d.Reason, d.Status, d.OpenedAt)
	if err != nil {
		if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == "23505" {
			return ErrAlreadyDisputed
		}
		return fmt.Errorf("failed to create dispute: %w", err)
	}
	return nil
}

func (p *PostgresStore) Get(ctx context.Context, tradeID string) (*Dispute, error) {
	d := &Dispute{}
	var decision, decidedBy, decisionReason sql.NullString
	var decidedAt sql.NullTime

	err := p.db.QueryRowContext(ctx, `
		SELECT trade_id, opened_by, reason, status, decision, decided_by, decision_reason, opened_at, decided_at
		FROM disputes WHERE trade_id = $1
	`, tradeID).Scan(&d.TradeID, &d.OpenedBy, &d.Reason, &d.Status,
		&decision, &decidedBy, &decisionReason, &d.OpenedAt, &decidedAt)

	if err == sql.ErrNoRows {
		return nil, ErrDisputeNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get dispute: %w", err)
	}

	d.Decision = decision.String
	d.DecidedBy = decidedBy.String
	d.DecisionReason = decisionReason.String
	if decidedAt.Valid {
		t := decidedAt.Time
		d.DecidedAt = &t
	}

	rows, err := p.db.QueryContext(ctx, `
		SELECT id, trade_id, actor_id, COALESCE(note, ''), COALESCE(attachment_url, ''), created_at
		FROM dispute_evidence
		WHERE trade_id = $1
		ORDER BY created_at ASC
	`, tradeID)
	if err != nil {
		return nil, fmt.Errorf("failed to list evidence: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var e Evidence
		if err := rows.Scan(&e.ID, &e.TradeID, &e.ActorID, &e.Note, &e.AttachmentURL, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan evidence: %w", err)
		}
		d.Evidence = append(d.Evidence, e)
	}
	return d, rows.Err()
}

func (p *PostgresStore) AddEvidence(ctx context.Context, e *Evidence) error {
	e.ID = idgen.WithPrefix("evd_")

	result, err := p.db.ExecContext(ctx, `
		INSERT INTO dispute_evidence (id, trade_id, actor_id, note, attachment_url, created_at)
		SELECT $1, $2, $3, $4, $5, $6
		WHERE EXISTS (SELECT 1 FROM disputes WHERE trade_id = $2)
	`, e.ID, e.TradeID, e.ActorID, e.Note, e.AttachmentURL, e.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to add evidence: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return ErrDisputeNotFound
	}
	return nil
}

func (p *PostgresStore) Decide(ctx context.Context, tradeID, decision, decidedBy, reason string, decidedAt time.Time) error {
	result, err := p.db.ExecContext(ctx, `
		UPDATE disputes SET status = 'decided', decision = $2, decided_by = $3,
			decision_reason = $4, decided_at = $5
		WHERE trade_id = $1 AND status = 'open'
	`, tradeID, decision, decidedBy, reason, decidedAt)
	if err != nil {
		return fmt.Errorf("failed to decide dispute: %w", err)
	}

	rows, _ := result.RowsAffected()
	if rows == 0 {
		if _, err := p.Get(ctx, tradeID); err != nil {
			return err
		}
		return ErrAlreadyDecided
	}
	return nil
}
