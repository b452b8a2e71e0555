package domain

import "time"

// Subscription represents one user's interest in one postal code. A user can
// hold many subscriptions, but never two rows for the same postal code.
type Subscription struct {
	ID           string    `json:"id"`
	UserID       string    `json:"user_id"`
	Username     string    `json:"username"`
	PostalCode   string    `json:"postal_code"`
	SourcePostID string    `json:"source_post_id"`
	Confirmed    bool      `json:"confirmed"`
	CreatedAt    time.Time `json:"created_at"`
}
