package repository

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/noah-isme/odyssey-auth/internal/models"
	appErrors "github.com/noah-isme/odyssey-auth/pkg/errors"
)

const (
	tokenColumns = `id, subject_id, token, expires_at, created_at`

	// Postgres error code for unique constraint violations. The token
	// column carries a unique index; a collision means the generated value
	// must be retried with fresh entropy.
	uniqueViolation = "23505"

	createAttempts = 3
)

// TokenRepository persists refresh-token rows. It is the only component in
// the service that writes state.
type TokenRepository struct {
	db         *sqlx.DB
	refreshTTL time.Duration
	now        func() time.Time
}

// NewTokenRepository creates a TokenRepository issuing rows with the given
// refresh TTL.
func NewTokenRepository(db *sqlx.DB, refreshTTL time.Duration) *TokenRepository {
	return &TokenRepository{db: db, refreshTTL: refreshTTL, now: time.Now}
}

// Create generates a high-entropy token value and persists a new row for the
// subject. A unique-index collision on the value is retried with a fresh
// value; transient insert failures get one bounded retry before surfacing as
// an upstream failure.
func (r *TokenRepository) Create(ctx context.Context, subjectID string) (*models.RefreshToken, error) {
	const query = `INSERT INTO refresh_tokens (id, subject_id, token, expires_at, created_at) VALUES (:id, :subject_id, :token, :expires_at, :created_at)`

	retried := false
	for attempt := 0; attempt < createAttempts; attempt++ {
		value, err := generateTokenValue()
		if err != nil {
			return nil, fmt.Errorf("generate token value: %w", err)
		}

		now := r.now().UTC()
		row := &models.RefreshToken{
			ID:        uuid.NewString(),
			SubjectID: subjectID,
			Token:     value,
			ExpiresAt: now.Add(r.refreshTTL),
			CreatedAt: now,
		}

		_, err = r.db.NamedExecContext(ctx, query, row)
		if err == nil {
			return row, nil
		}

		var pqErr *pq.Error
		if errors.As(err, &pqErr) && string(pqErr.Code) == uniqueViolation {
			continue
		}
		if !retried && ctx.Err() == nil {
			retried = true
			continue
		}
		return nil, appErrors.Wrap(err, appErrors.ErrUpstreamUnavailable.Code, appErrors.ErrUpstreamUnavailable.Status, "refresh token store unavailable")
	}

	return nil, appErrors.Clone(appErrors.ErrUpstreamUnavailable, "could not persist refresh token")
}

// Consume deletes the row matching the value and returns it, in a single
// statement. Under concurrent calls for the same value, exactly one caller
// observes the row; all others get sql.ErrNoRows. This is what makes refresh
// rotation single-use.
func (r *TokenRepository) Consume(ctx context.Context, value string) (*models.RefreshToken, error) {
	const query = `DELETE FROM refresh_tokens WHERE token = $1 RETURNING ` + tokenColumns

	var row models.RefreshToken
	if err := r.db.GetContext(ctx, &row, query, value); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, appErrors.Wrap(err, appErrors.ErrUpstreamUnavailable.Code, appErrors.ErrUpstreamUnavailable.Status, "refresh token store unavailable")
	}
	return &row, nil
}

// FindByValue returns the row matching the value without consuming it.
func (r *TokenRepository) FindByValue(ctx context.Context, value string) (*models.RefreshToken, error) {
	const query = `SELECT ` + tokenColumns + ` FROM refresh_tokens WHERE token = $1 LIMIT 1`

	var row models.RefreshToken
	if err := r.db.GetContext(ctx, &row, query, value); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, appErrors.Wrap(err, appErrors.ErrUpstreamUnavailable.Code, appErrors.ErrUpstreamUnavailable.Status, "refresh token store unavailable")
	}
	return &row, nil
}

// DeleteByValue removes the row matching the value. It reports whether a row
// was deleted; deleting an absent value is not an error, which keeps logout
// idempotent.
func (r *TokenRepository) DeleteByValue(ctx context.Context, value string) (bool, error) {
	const query = `DELETE FROM refresh_tokens WHERE token = $1`

	res, err := r.db.ExecContext(ctx, query, value)
	if err != nil {
		return false, appErrors.Wrap(err, appErrors.ErrUpstreamUnavailable.Code, appErrors.ErrUpstreamUnavailable.Status, "refresh token store unavailable")
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("delete refresh token: %w", err)
	}
	return affected > 0, nil
}

// DeleteByID removes the row with the given id. Deleting an absent id is a
// no-op.
func (r *TokenRepository) DeleteByID(ctx context.Context, id string) error {
	const query = `DELETE FROM refresh_tokens WHERE id = $1`

	if _, err := r.db.ExecContext(ctx, query, id); err != nil {
		return appErrors.Wrap(err, appErrors.ErrUpstreamUnavailable.Code, appErrors.ErrUpstreamUnavailable.Status, "refresh token store unavailable")
	}
	return nil
}

// DeleteBySubject removes every session row for a subject. No HTTP endpoint
// fans out to this; it exists for operational revocation.
func (r *TokenRepository) DeleteBySubject(ctx context.Context, subjectID string) error {
	const query = `DELETE FROM refresh_tokens WHERE subject_id = $1`

	if _, err := r.db.ExecContext(ctx, query, subjectID); err != nil {
		return appErrors.Wrap(err, appErrors.ErrUpstreamUnavailable.Code, appErrors.ErrUpstreamUnavailable.Status, "refresh token store unavailable")
	}
	return nil
}

// DeleteExpired prunes rows past their expiry. Refresh always re-checks
// expiry itself, so this is purely housekeeping.
func (r *TokenRepository) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	const query = `DELETE FROM refresh_tokens WHERE expires_at < $1`

	res, err := r.db.ExecContext(ctx, query, now.UTC())
	if err != nil {
		return 0, fmt.Errorf("delete expired refresh tokens: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("delete expired refresh tokens: %w", err)
	}
	return affected, nil
}

// generateTokenValue returns 256 bits of entropy encoded as URL-safe base64.
func generateTokenValue() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
