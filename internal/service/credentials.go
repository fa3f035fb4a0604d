package service

import (
	"context"
	"database/sql"
	"errors"

	"github.com/nyaruka/phonenumbers"
	"golang.org/x/crypto/bcrypt"

	"github.com/noah-isme/odyssey-auth/internal/models"
	appErrors "github.com/noah-isme/odyssey-auth/pkg/errors"
)

// userDirectory is the narrow read-only interface onto the external user
// directory.
type userDirectory interface {
	FindByUsername(ctx context.Context, username string) (*models.User, error)
	FindByEmail(ctx context.Context, email string) (*models.User, error)
	FindByPhone(ctx context.Context, phone string) (*models.User, error)
	FindByID(ctx context.Context, id string) (*models.User, error)
}

// dummyHash is a bcrypt hash of an unguessable value. When no account
// matches the identifier we still run one bcrypt comparison against it so
// that a directory miss and a wrong password take similar time.
var dummyHash = []byte("$2a$10$N9qo8uLOickgx2ZMRZoMyeIjZAgcfl7p92ldGxad68LJZdL17lhWy")

// CredentialVerifier checks an identifier/password pair against the user
// directory. Read-only; no side effects.
type CredentialVerifier struct {
	dir userDirectory
}

// NewCredentialVerifier constructs a CredentialVerifier.
func NewCredentialVerifier(dir userDirectory) *CredentialVerifier {
	return &CredentialVerifier{dir: dir}
}

// Verify resolves the identifier (username, then email, then phone when the
// identifier is phone-shaped) and compares the password. A directory miss
// and a password mismatch return the same failure.
func (v *CredentialVerifier) Verify(ctx context.Context, identifier, password string) (*models.User, error) {
	if identifier == "" || password == "" {
		return nil, appErrors.ErrMissingCredentials
	}

	user, err := v.resolve(ctx, identifier)
	if err != nil {
		return nil, err
	}
	if user == nil {
		_ = bcrypt.CompareHashAndPassword(dummyHash, []byte(password))
		return nil, appErrors.ErrInvalidCredentials
	}

	// Account state is checked before the password so a disabled account
	// never gets a credential-validity signal.
	if !user.Active {
		return nil, appErrors.ErrAccountDisabled
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return nil, appErrors.ErrInvalidCredentials
	}

	return user, nil
}

// resolve tries identifier shapes in order; the first directory hit wins.
func (v *CredentialVerifier) resolve(ctx context.Context, identifier string) (*models.User, error) {
	lookups := []func(context.Context, string) (*models.User, error){
		v.dir.FindByUsername,
		v.dir.FindByEmail,
	}
	if phone, ok := normalizePhone(identifier); ok {
		identifierByPhone := func(ctx context.Context, _ string) (*models.User, error) {
			return v.dir.FindByPhone(ctx, phone)
		}
		lookups = append(lookups, identifierByPhone)
	}

	for _, lookup := range lookups {
		user, err := lookup(ctx, identifier)
		if err == nil {
			return user, nil
		}
		if errors.Is(err, sql.ErrNoRows) {
			continue
		}
		return nil, appErrors.Wrap(err, appErrors.ErrUpstreamUnavailable.Code, appErrors.ErrUpstreamUnavailable.Status, "user directory unavailable")
	}

	return nil, nil
}

// normalizePhone reports whether the identifier parses as a possible phone
// number, returning its E.164 form for the directory lookup. Region-less
// parsing requires the international prefix, so only "+"-prefixed input is
// ever treated as a phone number.
func normalizePhone(identifier string) (string, bool) {
	num, err := phonenumbers.Parse(identifier, "")
	if err != nil || !phonenumbers.IsPossibleNumber(num) {
		return "", false
	}
	return phonenumbers.Format(num, phonenumbers.E164), true
}
