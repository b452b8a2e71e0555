package store

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"vaxhunterbot/internal/domain"
)

// CreateSubscription inserts one subscription row. Inserting a (user, postal
// code) pair that already exists is a no-op thanks to the unique index, so
// re-applying the same subscribe mention never duplicates rows.
func (s *PostgresStore) CreateSubscription(ctx context.Context, sub domain.Subscription) (*domain.Subscription, error) {
	if sub.ID == "" {
		sub.ID = uuid.NewString()
	}

	err := s.pool.QueryRow(ctx, `
		INSERT INTO subscriptions (id, user_id, username, postal_code, source_post_id, confirmed)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (user_id, postal_code) DO UPDATE SET username = EXCLUDED.username
		RETURNING id, user_id, username, postal_code, source_post_id, confirmed, created_at
	`, sub.ID, sub.UserID, sub.Username, sub.PostalCode, sub.SourcePostID, sub.Confirmed).Scan(
		&sub.ID, &sub.UserID, &sub.Username, &sub.PostalCode,
		&sub.SourcePostID, &sub.Confirmed, &sub.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("inserting subscription: %w", err)
	}

	return &sub, nil
}

// FindSubscriptionsByUser returns every subscription held by one user.
func (s *PostgresStore) FindSubscriptionsByUser(ctx context.Context, userID string) ([]domain.Subscription, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, user_id, username, postal_code, source_post_id, confirmed, created_at
		FROM subscriptions
		WHERE user_id = $1
		ORDER BY created_at
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("querying subscriptions by user: %w", err)
	}
	defer rows.Close()

	return scanSubscriptions(rows)
}

// FindSubscriptionsByPostalCodes returns every subscription whose postal code
// is in the given set.
func (s *PostgresStore) FindSubscriptionsByPostalCodes(ctx context.Context, postalCodes []string) ([]domain.Subscription, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, user_id, username, postal_code, source_post_id, confirmed, created_at
		FROM subscriptions
		WHERE postal_code = ANY($1)
		ORDER BY created_at
	`, postalCodes)
	if err != nil {
		return nil, fmt.Errorf("querying subscriptions by postal codes: %w", err)
	}
	defer rows.Close()

	return scanSubscriptions(rows)
}

// ListSubscriptions returns every subscription, newest first.
func (s *PostgresStore) ListSubscriptions(ctx context.Context) ([]domain.Subscription, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, user_id, username, postal_code, source_post_id, confirmed, created_at
		FROM subscriptions
		ORDER BY created_at DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("querying subscriptions: %w", err)
	}
	defer rows.Close()

	return scanSubscriptions(rows)
}

// DeleteSubscriptionsByUser removes every subscription held by one user and
// returns how many rows were deleted.
func (s *PostgresStore) DeleteSubscriptionsByUser(ctx context.Context, userID string) (int64, error) {
	tag, err := s.pool.Exec(ctx,
		"DELETE FROM subscriptions WHERE user_id = $1", userID)
	if err != nil {
		return 0, fmt.Errorf("deleting subscriptions: %w", err)
	}
	return tag.RowsAffected(), nil
}

// PendingConfirmations returns unconfirmed subscriptions deduplicated by the
// mention that created them, so one mention gets one confirmation reply no
// matter how many postal codes it subscribed to.
func (s *PostgresStore) PendingConfirmations(ctx context.Context) ([]domain.Subscription, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT DISTINCT ON (source_post_id)
			id, user_id, username, postal_code, source_post_id, confirmed, created_at
		FROM subscriptions
		WHERE confirmed = false
		ORDER BY source_post_id, created_at
	`)
	if err != nil {
		return nil, fmt.Errorf("querying pending confirmations: %w", err)
	}
	defer rows.Close()

	return scanSubscriptions(rows)
}

// MarkConfirmedByUsername flips confirmed on every row held under a display
// handle. Keyed by username rather than user ID to mirror what the reply is
// addressed to; a handle change mid-cycle can misapply this.
func (s *PostgresStore) MarkConfirmedByUsername(ctx context.Context, username string) error {
	_, err := s.pool.Exec(ctx,
		"UPDATE subscriptions SET confirmed = true WHERE username = $1", username)
	if err != nil {
		return fmt.Errorf("marking subscriptions confirmed: %w", err)
	}
	return nil
}

// CountSubscriptions returns the total number of subscription rows.
func (s *PostgresStore) CountSubscriptions(ctx context.Context) (int, error) {
	var count int
	err := s.pool.QueryRow(ctx, "SELECT COUNT(*) FROM subscriptions").Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("counting subscriptions: %w", err)
	}
	return count, nil
}

// PostalCodeCount is one row of the per-postal-code breakdown.
type PostalCodeCount struct {
	PostalCode string `json:"postal_code"`
	Count      int    `json:"count"`
}

// PostalCodeBreakdown returns the most-subscribed postal codes, busiest
// first, limited to top entries.
func (s *PostgresStore) PostalCodeBreakdown(ctx context.Context, limit int) ([]PostalCodeCount, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT postal_code, COUNT(*) AS count
		FROM subscriptions
		GROUP BY postal_code
		ORDER BY count DESC, postal_code
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("querying postal code breakdown: %w", err)
	}
	defer rows.Close()

	var breakdown []PostalCodeCount
	for rows.Next() {
		var pc PostalCodeCount
		if err := rows.Scan(&pc.PostalCode, &pc.Count); err != nil {
			return nil, fmt.Errorf("scanning postal code count: %w", err)
		}
		breakdown = append(breakdown, pc)
	}

	if breakdown == nil {
		breakdown = []PostalCodeCount{}
	}

	return breakdown, nil
}

type pgxRows interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
}

func scanSubscriptions(rows pgxRows) ([]domain.Subscription, error) {
	var subs []domain.Subscription
	for rows.Next() {
		var sub domain.Subscription
		err := rows.Scan(
			&sub.ID, &sub.UserID, &sub.Username, &sub.PostalCode,
			&sub.SourcePostID, &sub.Confirmed, &sub.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scanning subscription: %w", err)
		}
		subs = append(subs, sub)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating subscriptions: %w", err)
	}

	if subs == nil {
		subs = []domain.Subscription{}
	}

	return subs, nil
}
