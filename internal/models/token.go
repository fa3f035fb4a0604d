package models

import "time"

// RefreshToken represents a persisted refresh token session. A session is
// identified by possession of the current token value; rows are deleted, not
// flagged, when consumed or revoked.
type RefreshToken struct {
	ID        string    `db:"id" json:"id"`
	SubjectID string    `db:"subject_id" json:"subject_id"`
	Token     string    `db:"token" json:"token"`
	ExpiresAt time.Time `db:"expires_at" json:"expires_at"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// Expired reports whether the row is past its expiry at the given instant.
// The store may lazily prune expired rows, so callers must always check.
func (t *RefreshToken) Expired(now time.Time) bool {
	return now.After(t.ExpiresAt)
}
