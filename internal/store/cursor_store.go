package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// GetCursor returns the stored value for a named cursor, or empty string if
// the cursor has never been written.
func (s *PostgresStore) GetCursor(ctx context.Context, name string) (string, error) {
	var value string
	err := s.pool.QueryRow(ctx,
		"SELECT value FROM mentions_cursors WHERE name = $1", name,
	).Scan(&value)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", nil
		}
		return "", fmt.Errorf("querying cursor %q: %w", name, err)
	}
	return value, nil
}

// SetCursor upserts the value for a named cursor.
func (s *PostgresStore) SetCursor(ctx context.Context, name, value string) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO mentions_cursors (name, value)
		VALUES ($1, $2)
		ON CONFLICT (name) DO UPDATE SET value = EXCLUDED.value, updated_at = NOW()
	`, name, value)
	if err != nil {
		return fmt.Errorf("upserting cursor %q: %w", name, err)
	}
	return nil
}
