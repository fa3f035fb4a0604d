package service

import (
	"context"
	"database/sql"
	"sync"
	"testing"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
	"golang.org/x/crypto/bcrypt"

	"github.com/noah-isme/odyssey-auth/internal/models"
	"github.com/noah-isme/odyssey-auth/pkg/config"
	appErrors "github.com/noah-isme/odyssey-auth/pkg/errors"
)

type mockDirectory struct {
	mu         sync.Mutex
	byUsername map[string]*models.User
	byEmail    map[string]*models.User
	byPhone    map[string]*models.User
	byID       map[string]*models.User
	findErr    error
}

func newMockDirectory(users ...*models.User) *mockDirectory {
	d := &mockDirectory{
		byUsername: map[string]*models.User{},
		byEmail:    map[string]*models.User{},
		byPhone:    map[string]*models.User{},
		byID:       map[string]*models.User{},
	}
	for _, u := range users {
		d.byUsername[u.Username] = u
		d.byEmail[u.Email] = u
		if u.Phone != nil {
			d.byPhone[*u.Phone] = u
		}
		d.byID[u.ID] = u
	}
	return d
}

func (d *mockDirectory) find(m map[string]*models.User, key string) (*models.User, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.findErr != nil {
		return nil, d.findErr
	}
	if u, ok := m[key]; ok {
		return u, nil
	}
	return nil, sql.ErrNoRows
}

func (d *mockDirectory) FindByUsername(ctx context.Context, v string) (*models.User, error) {
	return d.find(d.byUsername, v)
}

func (d *mockDirectory) FindByEmail(ctx context.Context, v string) (*models.User, error) {
	return d.find(d.byEmail, v)
}

func (d *mockDirectory) FindByPhone(ctx context.Context, v string) (*models.User, error) {
	return d.find(d.byPhone, v)
}

func (d *mockDirectory) FindByID(ctx context.Context, v string) (*models.User, error) {
	return d.find(d.byID, v)
}

// mockTokenStore mirrors the real adapter's contract: Consume removes and
// returns the row under a single lock, so concurrent consumers race exactly
// as they would against the database's atomic delete.
type mockTokenStore struct {
	mu         sync.Mutex
	rows       map[string]*models.RefreshToken
	issued     []string
	refreshTTL time.Duration
	createErr  error
}

func newMockTokenStore(ttl time.Duration) *mockTokenStore {
	return &mockTokenStore{rows: map[string]*models.RefreshToken{}, refreshTTL: ttl}
}

func (s *mockTokenStore) Create(ctx context.Context, subjectID string) (*models.RefreshToken, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.createErr != nil {
		return nil, s.createErr
	}
	now := time.Now().UTC()
	row := &models.RefreshToken{
		ID:        uuid.NewString(),
		SubjectID: subjectID,
		Token:     uuid.NewString(),
		ExpiresAt: now.Add(s.refreshTTL),
		CreatedAt: now,
	}
	s.rows[row.Token] = row
	s.issued = append(s.issued, row.Token)
	return row, nil
}

func (s *mockTokenStore) Consume(ctx context.Context, value string) (*models.RefreshToken, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.rows[value]
	if !ok {
		return nil, sql.ErrNoRows
	}
	delete(s.rows, value)
	return row, nil
}

func (s *mockTokenStore) DeleteByValue(ctx context.Context, value string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.rows[value]
	delete(s.rows, value)
	return ok, nil
}

func (s *mockTokenStore) insert(row *models.RefreshToken) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rows[row.Token] = row
}

func (s *mockTokenStore) has(value string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.rows[value]
	return ok
}

func activeUser(t *testing.T, password string) *models.User {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	require.NoError(t, err)
	phone := "+6281234567890"
	return &models.User{
		ID:           "u1",
		Username:     "alice",
		Email:        "alice@example.com",
		Phone:        &phone,
		PasswordHash: string(hash),
		FullName:     "Alice Carter",
		Active:       true,
		Roles: []models.Role{
			{Name: "editor", Permissions: []string{"catalog:read", "catalog:write"}},
			{Name: "viewer", Permissions: []string{"catalog:read"}},
		},
	}
}

func newAuthService(dir userDirectory, tokens refreshTokenStore) *AuthService {
	codec := NewTokenCodec(config.AuthConfig{Secret: "secret", AccessTTL: time.Hour, Issuer: "test"})
	return NewAuthService(dir, tokens, codec, validator.New(), zap.NewNop(), NewMetricsService())
}

func TestLoginSuccess(t *testing.T) {
	user := activeUser(t, "correct-pw")
	store := newMockTokenStore(24 * time.Hour)
	svc := newAuthService(newMockDirectory(user), store)

	res, err := svc.Login(context.Background(), models.LoginRequest{Username: "alice", Password: "correct-pw"})
	require.NoError(t, err)
	assert.NotEmpty(t, res.AccessToken)
	assert.NotEmpty(t, res.RefreshToken)
	assert.Equal(t, int64(3600000), res.ExpiresIn)
	assert.Equal(t, "alice", res.User.Username)
	assert.Equal(t, []string{"editor", "viewer"}, res.User.Roles)
	assert.Equal(t, []string{"catalog:read", "catalog:write"}, res.User.Permissions)
	assert.True(t, store.has(res.RefreshToken))
}

func TestLoginByEmailAndPhone(t *testing.T) {
	user := activeUser(t, "correct-pw")
	svc := newAuthService(newMockDirectory(user), newMockTokenStore(time.Hour))

	res, err := svc.Login(context.Background(), models.LoginRequest{Username: "alice@example.com", Password: "correct-pw"})
	require.NoError(t, err)
	assert.Equal(t, "u1", res.User.ID)

	res, err = svc.Login(context.Background(), models.LoginRequest{Username: "+62 812 3456 7890", Password: "correct-pw"})
	require.NoError(t, err)
	assert.Equal(t, "u1", res.User.ID)
}

func TestLoginAntiEnumeration(t *testing.T) {
	user := activeUser(t, "correct-pw")
	svc := newAuthService(newMockDirectory(user), newMockTokenStore(time.Hour))

	_, errUnknown := svc.Login(context.Background(), models.LoginRequest{Username: "nobody", Password: "whatever"})
	_, errWrongPw := svc.Login(context.Background(), models.LoginRequest{Username: "alice", Password: "wrong-pw"})

	require.Error(t, errUnknown)
	require.Error(t, errWrongPw)
	assert.Equal(t, appErrors.FromError(errUnknown).Code, appErrors.FromError(errWrongPw).Code)
	assert.Equal(t, appErrors.ErrInvalidCredentials.Code, appErrors.FromError(errUnknown).Code)
}

func TestLoginDisabledAccount(t *testing.T) {
	user := activeUser(t, "correct-pw")
	user.Active = false
	svc := newAuthService(newMockDirectory(user), newMockTokenStore(time.Hour))

	_, err := svc.Login(context.Background(), models.LoginRequest{Username: "alice", Password: "correct-pw"})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrAccountDisabled.Code, appErrors.FromError(err).Code)
}

func TestLoginMissingCredentials(t *testing.T) {
	svc := newAuthService(newMockDirectory(), newMockTokenStore(time.Hour))

	_, err := svc.Login(context.Background(), models.LoginRequest{Username: "", Password: ""})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrMissingCredentials.Code, appErrors.FromError(err).Code)
}

func TestRefreshRotationInvalidatesPredecessor(t *testing.T) {
	user := activeUser(t, "correct-pw")
	store := newMockTokenStore(24 * time.Hour)
	svc := newAuthService(newMockDirectory(user), store)

	login, err := svc.Login(context.Background(), models.LoginRequest{Username: "alice", Password: "correct-pw"})
	require.NoError(t, err)

	rotated, err := svc.Refresh(context.Background(), models.RefreshRequest{RefreshToken: login.RefreshToken})
	require.NoError(t, err)
	assert.NotEqual(t, login.RefreshToken, rotated.RefreshToken)
	assert.Equal(t, int64(3600000), rotated.ExpiresIn)

	_, err = svc.Refresh(context.Background(), models.RefreshRequest{RefreshToken: login.RefreshToken})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrInvalidRefreshToken.Code, appErrors.FromError(err).Code)
}

func TestRefreshConcurrentSingleUse(t *testing.T) {
	user := activeUser(t, "correct-pw")
	store := newMockTokenStore(24 * time.Hour)
	svc := newAuthService(newMockDirectory(user), store)

	login, err := svc.Login(context.Background(), models.LoginRequest{Username: "alice", Password: "correct-pw"})
	require.NoError(t, err)

	const callers = 16
	var wg sync.WaitGroup
	results := make(chan error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.Refresh(context.Background(), models.RefreshRequest{RefreshToken: login.RefreshToken})
			results <- err
		}()
	}
	wg.Wait()
	close(results)

	var successes, invalid int
	for err := range results {
		if err == nil {
			successes++
			continue
		}
		if appErrors.FromError(err).Code == appErrors.ErrInvalidRefreshToken.Code {
			invalid++
		}
	}
	assert.Equal(t, 1, successes)
	assert.Equal(t, callers-1, invalid)
}

func TestRefreshExpiredToken(t *testing.T) {
	user := activeUser(t, "correct-pw")
	store := newMockTokenStore(24 * time.Hour)
	svc := newAuthService(newMockDirectory(user), store)

	stale := &models.RefreshToken{
		ID:        "rt-old",
		SubjectID: user.ID,
		Token:     "stale-value",
		ExpiresAt: time.Now().UTC().Add(-time.Millisecond),
		CreatedAt: time.Now().UTC().Add(-time.Hour),
	}
	store.insert(stale)

	_, err := svc.Refresh(context.Background(), models.RefreshRequest{RefreshToken: "stale-value"})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrInvalidRefreshToken.Code, appErrors.FromError(err).Code)
	assert.False(t, store.has("stale-value"), "stale row should be consumed")
}

func TestRefreshDisabledAccountTerminatesSession(t *testing.T) {
	user := activeUser(t, "correct-pw")
	store := newMockTokenStore(24 * time.Hour)
	svc := newAuthService(newMockDirectory(user), store)

	login, err := svc.Login(context.Background(), models.LoginRequest{Username: "alice", Password: "correct-pw"})
	require.NoError(t, err)

	user.Active = false

	_, err = svc.Refresh(context.Background(), models.RefreshRequest{RefreshToken: login.RefreshToken})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrAccountDisabled.Code, appErrors.FromError(err).Code)
	assert.False(t, store.has(login.RefreshToken), "session row should be deleted even on the disabled path")
}

func TestRefreshDirectoryFailureLogsLostSession(t *testing.T) {
	user := activeUser(t, "correct-pw")
	dir := newMockDirectory(user)
	store := newMockTokenStore(24 * time.Hour)
	core, logs := observer.New(zap.ErrorLevel)
	codec := NewTokenCodec(config.AuthConfig{Secret: "secret", AccessTTL: time.Hour, Issuer: "test"})
	svc := NewAuthService(dir, store, codec, validator.New(), zap.New(core), NewMetricsService())

	login, err := svc.Login(context.Background(), models.LoginRequest{Username: "alice", Password: "correct-pw"})
	require.NoError(t, err)

	dir.findErr = assert.AnError

	_, err = svc.Refresh(context.Background(), models.RefreshRequest{RefreshToken: login.RefreshToken})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrUpstreamUnavailable.Code, appErrors.FromError(err).Code)
	assert.False(t, store.has(login.RefreshToken), "row is consumed before the lookup")
	assert.Equal(t, 1, logs.FilterMessage("refresh directory lookup failed, session lost").Len())
}

func TestRefreshMissingToken(t *testing.T) {
	svc := newAuthService(newMockDirectory(), newMockTokenStore(time.Hour))

	_, err := svc.Refresh(context.Background(), models.RefreshRequest{})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrMissingRefreshToken.Code, appErrors.FromError(err).Code)
}

func TestRefreshTokenValuesNeverRepeat(t *testing.T) {
	user := activeUser(t, "correct-pw")
	store := newMockTokenStore(24 * time.Hour)
	svc := newAuthService(newMockDirectory(user), store)

	login, err := svc.Login(context.Background(), models.LoginRequest{Username: "alice", Password: "correct-pw"})
	require.NoError(t, err)

	current := login.RefreshToken
	for i := 0; i < 5; i++ {
		rotated, err := svc.Refresh(context.Background(), models.RefreshRequest{RefreshToken: current})
		require.NoError(t, err)
		current = rotated.RefreshToken
	}

	seen := make(map[string]struct{})
	for _, v := range store.issued {
		_, dup := seen[v]
		assert.False(t, dup, "refresh value issued twice: %s", v)
		seen[v] = struct{}{}
	}
}

func TestLogoutIdempotent(t *testing.T) {
	user := activeUser(t, "correct-pw")
	store := newMockTokenStore(24 * time.Hour)
	svc := newAuthService(newMockDirectory(user), store)

	login, err := svc.Login(context.Background(), models.LoginRequest{Username: "alice", Password: "correct-pw"})
	require.NoError(t, err)

	require.NoError(t, svc.Logout(context.Background(), login.RefreshToken))
	require.NoError(t, svc.Logout(context.Background(), login.RefreshToken))
	assert.False(t, store.has(login.RefreshToken))

	_, err = svc.Refresh(context.Background(), models.RefreshRequest{RefreshToken: login.RefreshToken})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrInvalidRefreshToken.Code, appErrors.FromError(err).Code)
}

func TestAuthenticateRejectsDisabledAccount(t *testing.T) {
	user := activeUser(t, "correct-pw")
	svc := newAuthService(newMockDirectory(user), newMockTokenStore(time.Hour))

	login, err := svc.Login(context.Background(), models.LoginRequest{Username: "alice", Password: "correct-pw"})
	require.NoError(t, err)

	got, err := svc.Authenticate(context.Background(), login.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, user.ID, got.ID)

	user.Active = false
	_, err = svc.Authenticate(context.Background(), login.AccessToken)
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrAccountDisabled.Code, appErrors.FromError(err).Code)
}

func TestCurrentUser(t *testing.T) {
	user := activeUser(t, "correct-pw")
	svc := newAuthService(newMockDirectory(user), newMockTokenStore(time.Hour))

	info, err := svc.CurrentUser(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, "alice", info.Username)

	_, err = svc.CurrentUser(context.Background(), "gone")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrUserNotFound.Code, appErrors.FromError(err).Code)
}
