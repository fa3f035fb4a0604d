package service

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/noah-isme/odyssey-auth/internal/models"
	"github.com/noah-isme/odyssey-auth/pkg/config"
	appErrors "github.com/noah-isme/odyssey-auth/pkg/errors"
)

// TokenCodec issues and validates signed access tokens. It is pure: no I/O,
// no mutable state beyond the immutable secret and TTL it is constructed
// with.
type TokenCodec struct {
	secret    []byte
	accessTTL time.Duration
	issuer    string
	now       func() time.Time
}

// NewTokenCodec constructs a TokenCodec from the auth configuration.
func NewTokenCodec(cfg config.AuthConfig) *TokenCodec {
	return &TokenCodec{
		secret:    []byte(cfg.Secret),
		accessTTL: cfg.AccessTTL,
		issuer:    cfg.Issuer,
		now:       time.Now,
	}
}

// AccessTTL exposes the configured access-token lifetime.
func (t *TokenCodec) AccessTTL() time.Duration {
	return t.accessTTL
}

// Issue signs an access token for the user carrying role names and
// flattened permissions.
func (t *TokenCodec) Issue(user *models.User) (string, error) {
	issuedAt := t.now().UTC()
	claims := &models.AccessTokenClaims{
		UserID:      user.ID,
		Username:    user.Username,
		Roles:       user.RoleNames(),
		Permissions: user.FlattenPermissions(),
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    t.issuer,
			Subject:   user.ID,
			IssuedAt:  jwt.NewNumericDate(issuedAt),
			NotBefore: jwt.NewNumericDate(issuedAt),
			ExpiresAt: jwt.NewNumericDate(issuedAt.Add(t.accessTTL)),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(t.secret)
	if err != nil {
		return "", appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to sign access token")
	}
	return signed, nil
}

// Decode verifies the signature and expiry of an access token and returns
// its claims. An expired token is reported distinctly from a tampered or
// malformed one so callers can tell "log in again" from "reject".
func (t *TokenCodec) Decode(tokenString string) (*models.AccessTokenClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &models.AccessTokenClaims{}, func(token *jwt.Token) (interface{}, error) {
		if token.Method != jwt.SigningMethodHS256 {
			return nil, errors.New("unexpected signing method")
		}
		return t.secret, nil
	}, jwt.WithTimeFunc(func() time.Time { return t.now() }))
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, appErrors.Wrap(err, appErrors.ErrTokenExpired.Code, appErrors.ErrTokenExpired.Status, appErrors.ErrTokenExpired.Message)
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInvalidToken.Code, appErrors.ErrInvalidToken.Status, appErrors.ErrInvalidToken.Message)
	}

	claims, ok := token.Claims.(*models.AccessTokenClaims)
	if !ok || !token.Valid {
		return nil, appErrors.Clone(appErrors.ErrInvalidToken, "invalid token claims")
	}
	if claims.UserID == "" || claims.Username == "" || claims.ExpiresAt == nil || claims.IssuedAt == nil {
		return nil, appErrors.Clone(appErrors.ErrInvalidToken, "token claims incomplete")
	}

	return claims, nil
}
