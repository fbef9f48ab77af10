package chat

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/lib/pq"

	"github.com/mvbraga/peertrade/internal/idgen"
)

// PostgresStore implements Store with PostgreSQL.
//
// Sequence numbers come from a MAX(seq)+1 insert guarded by a unique
// (trade_id, seq) index. Concurrent appends to the same trade can
// collide on that index; the append retries with a fresh number.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed message store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

var _ Store = (*PostgresStore)(nil)

const appendRetries = 5

func (p *PostgresStore) Append(ctx context.Context, m *Message) error {
	m.ID = idgen.WithPrefix("msg_")

	for attempt := 0; attempt < appendRetries; attempt++ {
		err := p.db.QueryRowContext(ctx, `
			INSERT INTO trade_messages (id, trade_id, seq, sender_id, type, body, attachment_url, created_at)
			SELECT $1, $2, COALESCE(MAX(seq), 0) + 1, $3, $4, $5, $6, $7
			FROM trade_messages WHERE trade_id = $2
			RETURNING seq
		`, m.ID, m.TradeID, m.SenderID, m.Type, m.Body, m.AttachmentURL, m.CreatedAt).Scan(&m.Seq)
		if err == nil {
			return nil
		}
		if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == "23505" {
			continue
		}
		return fmt.Errorf("failed to append message: %w", err)
	}
	return fmt.Errorf("failed to append message after %d attempts", appendRetries)
}

func (p *PostgresStore) ListAfter(ctx context.Context, tradeID string, afterSeq int64, limit int) ([]*Message, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, trade_id, seq, sender_id, type, body, COALESCE(attachment_url, ''), created_at
		FROM trade_messages
		WHERE trade_id = $1 AND seq > $2
		ORDER BY seq ASC
		LIMIT $3
	`, tradeID, afterSeq, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list messages: %w", err)
	}
	defer rows.Close()

	var messages []*Message
	for rows.Next() {
		m := &Message{}
		if err := rows.Scan(&m.ID, &m.TradeID, &m.Seq, &m.SenderID, &m.Type, &m.Body, &m.AttachmentURL, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		messages = append(messages, m)
	}
	return messages, rows.Err()
}
