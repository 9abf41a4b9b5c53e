package conversation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// ErrNotFound is returned when a conversation id has no row.
var ErrNotFound = errors.New("conversation: not found")

// Querier is satisfied by pgxpool.Pool, pgx.Tx and pgxmock pools.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PgxPool is the pool surface the store needs; pgxmock satisfies it in tests.
type PgxPool interface {
	Querier
	Begin(ctx context.Context) (pgx.Tx, error)
}

// Store persists conversations in Postgres.
type Store struct {
	pool PgxPool
}

func NewStore(pool PgxPool) *Store {
	if pool == nil {
		return nil
	}
	return &Store{pool: pool}
}

// Begin opens a transaction for a transition's listing mutation and
// conversation update to commit as one unit.
func (s *Store) Begin(ctx context.Context) (pgx.Tx, error) {
	return s.pool.Begin(ctx)
}

const conversationColumns = `id, phone, listing_id, batch_id, batch_position, batch_size,
	state, kind, expires_at, metadata, last_reply, action_taken, found_via_hadirot,
	prompt_sent_at, reply_received_at, created_at, updated_at`

// ActiveByPhone returns all routable conversations for a phone number, most
// recently updated first. Pending conversations are excluded: their prompt has
// not gone out yet, so no reply can belong to them.
func (s *Store) ActiveByPhone(ctx context.Context, q Querier, phone string) ([]*Conversation, error) {
	if q == nil {
		q = s.pool
	}
	query := `
		SELECT ` + conversationColumns + `
		FROM conversations
		WHERE phone = $1 AND state NOT IN ('pending', 'completed', 'expired_link')
		ORDER BY updated_at DESC
	`
	rows, err := q.Query(ctx, query, phone)
	if err != nil {
		return nil, fmt.Errorf("conversation: active by phone: %w", err)
	}
	defer rows.Close()

	var out []*Conversation
	for rows.Next() {
		conv, err := scanConversation(rows)
		if err != nil {
			return nil, fmt.Errorf("conversation: scan active: %w", err)
		}
		out = append(out, conv)
	}
	return out, rows.Err()
}

// GetByID fetches one conversation.
func (s *Store) GetByID(ctx context.Context, q Querier, id uuid.UUID) (*Conversation, error) {
	if q == nil {
		q = s.pool
	}
	query := `SELECT ` + conversationColumns + ` FROM conversations WHERE id = $1`
	conv, err := scanConversation(q.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("conversation: get by id: %w", err)
	}
	return conv, nil
}

// Insert persists a freshly created conversation.
func (s *Store) Insert(ctx context.Context, q Querier, conv *Conversation) error {
	if q == nil {
		q = s.pool
	}
	if conv.ID == uuid.Nil {
		conv.ID = uuid.New()
	}
	metadata, err := json.Marshal(conv.Metadata)
	if err != nil {
		return fmt.Errorf("conversation: marshal metadata: %w", err)
	}
	now := time.Now()
	if conv.CreatedAt.IsZero() {
		conv.CreatedAt = now
	}
	conv.UpdatedAt = now
	query := `
		INSERT INTO conversations (
			id, phone, listing_id, batch_id, batch_position, batch_size,
			state, kind, expires_at, metadata, last_reply, action_taken, found_via_hadirot,
			prompt_sent_at, reply_received_at, created_at, updated_at
		)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17)
	`
	_, err = q.Exec(ctx, query,
		conv.ID, conv.Phone, conv.ListingID, conv.BatchID, nullableInt(conv.BatchPosition), nullableInt(conv.BatchSize),
		conv.State, conv.Kind, conv.ExpiresAt, metadata, conv.LastReply, nullableAction(conv.ActionTaken), conv.FoundViaHadirot,
		conv.PromptSentAt, conv.ReplyReceivedAt, conv.CreatedAt, conv.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("conversation: insert: %w", err)
	}
	return nil
}

// Update persists the mutable fields of an existing conversation.
func (s *Store) Update(ctx context.Context, q Querier, conv *Conversation) error {
	if q == nil {
		q = s.pool
	}
	metadata, err := json.Marshal(conv.Metadata)
	if err != nil {
		return fmt.Errorf("conversation: marshal metadata: %w", err)
	}
	conv.UpdatedAt = time.Now()
	query := `
		UPDATE conversations
		SET listing_id = $2,
			state = $3,
			metadata = $4,
			last_reply = $5,
			action_taken = $6,
			found_via_hadirot = $7,
			prompt_sent_at = $8,
			reply_received_at = $9,
			updated_at = $10
		WHERE id = $1
	`
	tag, err := q.Exec(ctx, query,
		conv.ID, conv.ListingID, conv.State, metadata, conv.LastReply, nullableAction(conv.ActionTaken),
		conv.FoundViaHadirot, conv.PromptSentAt, conv.ReplyReceivedAt, conv.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("conversation: update: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// NextPendingInBatch returns the pending conversation with the lowest batch
// position greater than afterPosition, or nil when the batch is finished.
func (s *Store) NextPendingInBatch(ctx context.Context, q Querier, batchID uuid.UUID, afterPosition int) (*Conversation, error) {
	if q == nil {
		q = s.pool
	}
	query := `
		SELECT ` + conversationColumns + `
		FROM conversations
		WHERE batch_id = $1 AND state = 'pending' AND batch_position > $2
		ORDER BY batch_position
		LIMIT 1
	`
	conv, err := scanConversation(q.QueryRow(ctx, query, batchID, afterPosition))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("conversation: next pending in batch: %w", err)
	}
	return conv, nil
}

func scanConversation(row pgx.Row) (*Conversation, error) {
	var (
		conv        Conversation
		metadata    []byte
		batchPos    *int
		batchSize   *int
		actionTaken *string
	)
	err := row.Scan(
		&conv.ID, &conv.Phone, &conv.ListingID, &conv.BatchID, &batchPos, &batchSize,
		&conv.State, &conv.Kind, &conv.ExpiresAt, &metadata, &conv.LastReply, &actionTaken, &conv.FoundViaHadirot,
		&conv.PromptSentAt, &conv.ReplyReceivedAt, &conv.CreatedAt, &conv.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if batchPos != nil {
		conv.BatchPosition = *batchPos
	}
	if batchSize != nil {
		conv.BatchSize = *batchSize
	}
	if actionTaken != nil {
		conv.ActionTaken = Action(*actionTaken)
	}
	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &conv.Metadata); err != nil {
			return nil, fmt.Errorf("decode metadata: %w", err)
		}
	}
	return &conv, nil
}

func nullableInt(n int) *int {
	if n == 0 {
		return nil
	}
	return &n
}

func nullableAction(a Action) *string {
	if a == "" {
		return nil
	}
	s := string(a)
	return &s
}
