package listings

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// ErrNotFound is returned when a listing id has no row.
var ErrNotFound = errors.New("listings: not found")

// Querier is satisfied by pgxpool.Pool, pgx.Tx and pgxmock pools.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store reads and mutates listing records in Postgres.
type Store struct {
	pool Querier
}

func NewStore(pool Querier) *Store {
	if pool == nil {
		return nil
	}
	return &Store{pool: pool}
}

const listingColumns = `id, phone, bedrooms, cross_street, neighborhood, kind,
	is_active, approved, deactivated_at, expires_at, last_published_at, found_via_hadirot`

// GetByID fetches one listing. Pass a pgx.Tx as q to read inside a transaction,
// or nil to use the pool.
func (s *Store) GetByID(ctx context.Context, q Querier, id uuid.UUID) (*Listing, error) {
	if q == nil {
		q = s.pool
	}
	query := `SELECT ` + listingColumns + ` FROM listings WHERE id = $1`
	row := q.QueryRow(ctx, query, id)
	listing, err := scanListing(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("listings: get by id: %w", err)
	}
	return listing, nil
}

// ActiveApprovedByPhone returns the sender's listings that are both active and
// approved, most recently published first. Used by the unsolicited flow.
func (s *Store) ActiveApprovedByPhone(ctx context.Context, q Querier, phone string) ([]Listing, error) {
	if q == nil {
		q = s.pool
	}
	query := `
		SELECT ` + listingColumns + `
		FROM listings
		WHERE phone = $1 AND is_active = TRUE AND approved = TRUE
		ORDER BY last_published_at DESC NULLS LAST, id
	`
	rows, err := q.Query(ctx, query, phone)
	if err != nil {
		return nil, fmt.Errorf("listings: active by phone: %w", err)
	}
	defer rows.Close()

	var out []Listing
	for rows.Next() {
		listing, err := scanListing(rows)
		if err != nil {
			return nil, fmt.Errorf("listings: scan active listing: %w", err)
		}
		out = append(out, *listing)
	}
	return out, rows.Err()
}

// Extend renews the listing: expiration moves to newExpiry, the listing is
// reactivated, any deactivation stamp is cleared, and last_published_at is
// refreshed.
func (s *Store) Extend(ctx context.Context, q Querier, id uuid.UUID, newExpiry, now time.Time) error {
	if q == nil {
		q = s.pool
	}
	query := `
		UPDATE listings
		SET is_active = TRUE,
			expires_at = $2,
			deactivated_at = NULL,
			last_published_at = $3,
			updated_at = $3
		WHERE id = $1
	`
	tag, err := q.Exec(ctx, query, id, newExpiry, now)
	if err != nil {
		return fmt.Errorf("listings: extend: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// Deactivate marks the listing inactive and stamps its deactivation time.
func (s *Store) Deactivate(ctx context.Context, q Querier, id uuid.UUID, now time.Time) error {
	if q == nil {
		q = s.pool
	}
	query := `
		UPDATE listings
		SET is_active = FALSE,
			deactivated_at = $2,
			updated_at = $2
		WHERE id = $1
	`
	tag, err := q.Exec(ctx, query, id, now)
	if err != nil {
		return fmt.Errorf("listings: deactivate: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// SetAttribution records whether the tenant or buyer found the listing
// through the platform.
func (s *Store) SetAttribution(ctx context.Context, q Querier, id uuid.UUID, foundViaHadirot bool) error {
	if q == nil {
		q = s.pool
	}
	query := `
		UPDATE listings
		SET found_via_hadirot = $2,
			updated_at = now()
		WHERE id = $1
	`
	tag, err := q.Exec(ctx, query, id, foundViaHadirot)
	if err != nil {
		return fmt.Errorf("listings: set attribution: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func scanListing(row pgx.Row) (*Listing, error) {
	var l Listing
	err := row.Scan(
		&l.ID, &l.Phone, &l.Bedrooms, &l.CrossStreet, &l.Neighborhood, &l.Kind,
		&l.IsActive, &l.Approved, &l.DeactivatedAt, &l.ExpiresAt, &l.LastPublishedAt, &l.FoundViaHadirot,
	)
	if err != nil {
		return nil, err
	}
	return &l, nil
}
