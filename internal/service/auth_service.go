package service

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/odyssey-auth/internal/models"
	appErrors "github.com/noah-isme/odyssey-auth/pkg/errors"
)

// refreshTokenStore is the persistence adapter for refresh-token rows.
// Consume must be atomic: of N concurrent calls for the same value, exactly
// one receives the row.
type refreshTokenStore interface {
	Create(ctx context.Context, subjectID string) (*models.RefreshToken, error)
	Consume(ctx context.Context, value string) (*models.RefreshToken, error)
	DeleteByValue(ctx context.Context, value string) (bool, error)
}

// AuthService orchestrates the session lifecycle: login, refresh rotation,
// logout and per-request verification.
type AuthService struct {
	dir       userDirectory
	tokens    refreshTokenStore
	verifier  *CredentialVerifier
	codec     *TokenCodec
	validator *validator.Validate
	logger    *zap.Logger
	metrics   *MetricsService
	now       func() time.Time
}

// NewAuthService constructs an AuthService instance.
func NewAuthService(dir userDirectory, tokens refreshTokenStore, codec *TokenCodec, validate *validator.Validate, logger *zap.Logger, metrics *MetricsService) *AuthService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if validate == nil {
		validate = validator.New()
	}
	return &AuthService{
		dir:       dir,
		tokens:    tokens,
		verifier:  NewCredentialVerifier(dir),
		codec:     codec,
		validator: validate,
		logger:    logger,
		metrics:   metrics,
		now:       time.Now,
	}
}

// Login authenticates a user and returns a new token pair with a persisted
// refresh session.
func (s *AuthService) Login(ctx context.Context, req models.LoginRequest) (*models.TokenPairResponse, error) {
	if err := s.validator.Struct(req); err != nil {
		s.metrics.RecordAuthOp("login", "missing")
		return nil, appErrors.Wrap(err, appErrors.ErrMissingCredentials.Code, appErrors.ErrMissingCredentials.Status, appErrors.ErrMissingCredentials.Message)
	}

	user, err := s.verifier.Verify(ctx, req.Username, req.Password)
	if err != nil {
		s.metrics.RecordAuthOp("login", "denied")
		s.logger.Info("login rejected",
			zap.String("identifier", req.Username),
			zap.String("reason", appErrors.FromError(err).Code),
			zap.String("ip", req.IP))
		return nil, err
	}

	pair, err := s.issuePair(ctx, user)
	if err != nil {
		s.metrics.RecordAuthOp("login", "error")
		return nil, err
	}

	s.metrics.RecordAuthOp("login", "ok")
	s.logger.Info("login succeeded",
		zap.String("subject_id", user.ID),
		zap.String("username", user.Username),
		zap.String("ip", req.IP),
		zap.String("user_agent", req.UserAgent))
	return pair, nil
}

// Refresh rotates a refresh token: the presented value is atomically
// consumed before any new token is issued, so a value can never be redeemed
// twice. A failure after the consume loses the session, which is the
// intended trade-off; the caller must log in again.
func (s *AuthService) Refresh(ctx context.Context, req models.RefreshRequest) (*models.TokenPairResponse, error) {
	if err := s.validator.Struct(req); err != nil {
		s.metrics.RecordAuthOp("refresh", "missing")
		return nil, appErrors.Wrap(err, appErrors.ErrMissingRefreshToken.Code, appErrors.ErrMissingRefreshToken.Status, appErrors.ErrMissingRefreshToken.Message)
	}

	row, err := s.tokens.Consume(ctx, req.RefreshToken)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			s.metrics.RecordAuthOp("refresh", "invalid")
			return nil, appErrors.ErrInvalidRefreshToken
		}
		s.metrics.RecordAuthOp("refresh", "error")
		return nil, err
	}

	// Unknown and expired values are indistinguishable to the caller. The
	// consume above already removed the stale row.
	if row.Expired(s.now().UTC()) {
		s.metrics.RecordAuthOp("refresh", "invalid")
		s.logger.Info("refresh rejected, token expired", zap.String("subject_id", row.SubjectID))
		return nil, appErrors.ErrInvalidRefreshToken
	}

	user, err := s.dir.FindByID(ctx, row.SubjectID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			s.metrics.RecordAuthOp("refresh", "invalid")
			return nil, appErrors.ErrInvalidRefreshToken
		}
		s.metrics.RecordAuthOp("refresh", "error")
		s.logger.Error("refresh directory lookup failed, session lost",
			zap.String("subject_id", row.SubjectID), zap.Error(err))
		return nil, appErrors.Wrap(err, appErrors.ErrUpstreamUnavailable.Code, appErrors.ErrUpstreamUnavailable.Status, "user directory unavailable")
	}

	// The session row is already gone, so a disabled account loses its
	// session here regardless of the failure.
	if !user.Active {
		s.metrics.RecordAuthOp("refresh", "disabled")
		s.logger.Info("refresh rejected, account disabled", zap.String("subject_id", user.ID))
		return nil, appErrors.ErrAccountDisabled
	}

	pair, err := s.issuePair(ctx, user)
	if err != nil {
		s.metrics.RecordAuthOp("refresh", "error")
		s.logger.Error("refresh reissue failed, session lost",
			zap.String("subject_id", user.ID), zap.Error(err))
		return nil, err
	}

	s.metrics.RecordAuthOp("refresh", "ok")
	s.logger.Info("refresh rotated", zap.String("subject_id", user.ID), zap.String("ip", req.IP))
	return pair, nil
}

// Logout revokes the session tied to the presented refresh value. Revoking
// an unknown or already-revoked value is a no-op, not an error.
func (s *AuthService) Logout(ctx context.Context, refreshValue string) error {
	deleted, err := s.tokens.DeleteByValue(ctx, refreshValue)
	if err != nil {
		s.metrics.RecordAuthOp("logout", "error")
		return err
	}

	s.metrics.RecordAuthOp("logout", "ok")
	s.logger.Info("logout", zap.Bool("session_revoked", deleted))
	return nil
}

// Authenticate verifies a bearer access token and re-checks account state
// against the directory. Decode alone is not sufficient: an account disabled
// after issuance must be rejected before the token expires.
func (s *AuthService) Authenticate(ctx context.Context, bearerToken string) (*models.User, error) {
	claims, err := s.codec.Decode(bearerToken)
	if err != nil {
		return nil, err
	}

	user, err := s.dir.FindByID(ctx, claims.UserID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.ErrUserNotFound
		}
		return nil, appErrors.Wrap(err, appErrors.ErrUpstreamUnavailable.Code, appErrors.ErrUpstreamUnavailable.Status, "user directory unavailable")
	}
	if !user.Active {
		return nil, appErrors.ErrAccountDisabled
	}

	return user, nil
}

// CurrentUser returns the identity projection for an authenticated subject.
func (s *AuthService) CurrentUser(ctx context.Context, subjectID string) (*models.UserInfo, error) {
	user, err := s.dir.FindByID(ctx, subjectID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.ErrUserNotFound
		}
		return nil, appErrors.Wrap(err, appErrors.ErrUpstreamUnavailable.Code, appErrors.ErrUpstreamUnavailable.Status, "user directory unavailable")
	}

	info := user.Info()
	return &info, nil
}

func (s *AuthService) issuePair(ctx context.Context, user *models.User) (*models.TokenPairResponse, error) {
	accessToken, err := s.codec.Issue(user)
	if err != nil {
		return nil, err
	}

	refreshToken, err := s.tokens.Create(ctx, user.ID)
	if err != nil {
		return nil, err
	}

	return &models.TokenPairResponse{
		User:         user.Info(),
		AccessToken:  accessToken,
		RefreshToken: refreshToken.Token,
		ExpiresIn:    s.codec.AccessTTL().Milliseconds(),
	}, nil
}
