package messaging

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/hadirot/renewal-engine/internal/conversation"
)

// Message directions in the log.
const (
	DirectionInbound  = "inbound"
	DirectionOutbound = "outbound"
)

type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// LogStore appends every inbound and outbound SMS to the message_log table.
// The log is append-only; nothing in the engine updates or deletes rows.
type LogStore struct {
	pool Querier
}

func NewLogStore(pool Querier) *LogStore {
	if pool == nil {
		return nil
	}
	return &LogStore{pool: pool}
}

var _ conversation.MessageLog = (*LogStore)(nil)

// HasProviderMessage reports whether an inbound provider message id was
// already logged, which makes webhook redelivery idempotent.
func (s *LogStore) HasProviderMessage(ctx context.Context, providerMessageID string) (bool, error) {
	query := `SELECT EXISTS (
		SELECT 1 FROM message_log
		WHERE direction = 'inbound' AND provider_message_id = $1
	)`
	var exists bool
	if err := s.pool.QueryRow(ctx, query, providerMessageID).Scan(&exists); err != nil {
		return false, fmt.Errorf("messaging: provider message lookup: %w", err)
	}
	return exists, nil
}

// AppendInbound records a received message.
func (s *LogStore) AppendInbound(ctx context.Context, msg conversation.InboundMessage) error {
	query := `
		INSERT INTO message_log (id, direction, phone, body, source, status, provider_message_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, NULLIF($7, ''), $8)
	`
	_, err := s.pool.Exec(ctx, query,
		uuid.New(), DirectionInbound, msg.Phone, msg.Body,
		conversation.SourceWebhookReply, "received", msg.ProviderMessageID, time.Now(),
	)
	if err != nil {
		return fmt.Errorf("messaging: append inbound: %w", err)
	}
	return nil
}

// AppendOutbound records a sent (or failed) reply with its conversation and
// listing references.
func (s *LogStore) AppendOutbound(ctx context.Context, reply conversation.OutboundReply, status string) error {
	query := `
		INSERT INTO message_log (id, direction, phone, body, source, status, provider_message_id, conversation_id, listing_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, NULLIF($7, ''), $8, $9, $10)
	`
	_, err := s.pool.Exec(ctx, query,
		uuid.New(), DirectionOutbound, reply.To, reply.Body,
		reply.Source, status, reply.Metadata["provider_message_id"],
		reply.ConversationID, reply.ListingID, time.Now(),
	)
	if err != nil {
		return fmt.Errorf("messaging: append outbound: %w", err)
	}
	return nil
}
