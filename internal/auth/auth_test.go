package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ycchat/ycchat/internal/apperr"
	"github.com/ycchat/ycchat/internal/user"
)

var testSecret = []byte("0123456789abcdef0123456789abcdef")

type fakeUserRepo struct {
	users map[string]user.User
}

func (r *fakeUserRepo) Create(_ context.Context, u user.User) error {
	r.users[u.Username] = u
	return nil
}

func (r *fakeUserRepo) GetByID(_ context.Context, id user.ID) (user.User, error) {
	for _, u := range r.users {
		if u.ID == id {
			return u, nil
		}
	}
	return user.User{}, user.ErrNotFound
}

func (r *fakeUserRepo) GetByUsername(_ context.Context, username string) (user.User, error) {
	u, ok := r.users[username]
	if !ok {
		return user.User{}, user.ErrNotFound
	}
	return u, nil
}

type memoryRefreshStore struct {
	mu     sync.Mutex
	tokens map[string]user.ID
}

func (m *memoryRefreshStore) Save(_ context.Context, token string, id user.ID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tokens[token] = id
	return nil
}

func (m *memoryRefreshStore) Consume(_ context.Context, token string) (user.ID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.tokens[token]
	if !ok {
		return "", ErrUnauthorized
	}
	delete(m.tokens, token)
	return id, nil
}

func (m *memoryRefreshStore) Revoke(_ context.Context, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.tokens, token)
	return nil
}

func newTestService(t *testing.T) (*Service, *memoryRefreshStore) {
	t.Helper()
	users := user.NewService(&fakeUserRepo{users: make(map[string]user.User)})
	refresh := &memoryRefreshStore{tokens: make(map[string]user.ID)}
	svc, err := NewService(users, refresh, Config{Secret: testSecret})
	require.NoError(t, err)
	return svc, refresh
}

func TestNewServiceRejectsShortSecret(t *testing.T) {
	_, err := NewService(nil, nil, Config{Secret: []byte("short")})
	require.Error(t, err)
}

func TestRegisterAndLogin(t *testing.T) {
	svc, refresh := newTestService(t)
	ctx := context.Background()

	u, session, err := svc.Register(ctx, "Alice", "correct horse")
	require.NoError(t, err)
	assert.Equal(t, "alice", u.Username)
	assert.NotEqual(t, "correct horse", u.PasswordHash)
	assert.Len(t, refresh.tokens, 1)

	id, err := svc.ValidateToken(session.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, u.ID, id)

	_, _, err = svc.Login(ctx, "alice", "wrong password")
	assert.ErrorIs(t, err, ErrUnauthorized)
	_, _, err = svc.Login(ctx, "nobody", "correct horse")
	assert.ErrorIs(t, err, apperr.ErrUnauthenticated)

	found, login, err := svc.Login(ctx, " ALICE ", "correct horse")
	require.NoError(t, err)
	assert.Equal(t, u.ID, found.ID)
	assert.NotEqual(t, session.RefreshToken, login.RefreshToken)
}

func TestRegisterValidation(t *testing.T) {
	svc, _ := newTestService(t)
	_, _, err := svc.Register(context.Background(), "bob", "short")
	assert.ErrorIs(t, err, apperr.ErrInvalidArgument)
	_, _, err = svc.Register(context.Background(), "  ", "long enough")
	assert.ErrorIs(t, err, apperr.ErrInvalidArgument)

	_, _, err = svc.Register(context.Background(), "bob", "long enough")
	require.NoError(t, err)
	_, _, err = svc.Register(context.Background(), "bob", "long enough")
	assert.ErrorIs(t, err, apperr.ErrAlreadyExists)
}

func TestRefreshRotatesToken(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	u, session, err := svc.Register(ctx, "carol", "long enough")
	require.NoError(t, err)

	next, err := svc.Refresh(ctx, session.RefreshToken)
	require.NoError(t, err)
	assert.Equal(t, u.ID, next.UserID)
	assert.NotEqual(t, session.RefreshToken, next.RefreshToken)

	_, err = svc.Refresh(ctx, session.RefreshToken)
	assert.ErrorIs(t, err, apperr.ErrUnauthenticated)

	require.NoError(t, svc.Logout(ctx, next.RefreshToken))
	_, err = svc.Refresh(ctx, next.RefreshToken)
	assert.ErrorIs(t, err, apperr.ErrUnauthenticated)
}

func TestValidateTokenRejections(t *testing.T) {
	svc, _ := newTestService(t)
	_, session, err := svc.Register(context.Background(), "dave", "long enough")
	require.NoError(t, err)

	svc.now = func() time.Time { return time.Now().Add(2 * time.Hour) }
	_, err = svc.ValidateToken(session.AccessToken)
	assert.ErrorIs(t, err, ErrTokenExpired)
	svc.now = time.Now

	foreign := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Issuer:    "someone-else",
		Subject:   "dave",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	})
	signed, err := foreign.SignedString(testSecret)
	require.NoError(t, err)
	_, err = svc.ValidateToken(signed)
	assert.ErrorIs(t, err, ErrUnauthorized)

	unsigned, err := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.RegisteredClaims{
		Issuer:    Issuer,
		Subject:   "dave",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}).SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)
	_, err = svc.ValidateToken(unsigned)
	assert.ErrorIs(t, err, ErrUnauthorized)

	_, err = svc.ValidateToken(session.AccessToken + "x")
	assert.ErrorIs(t, err, ErrUnauthorized)
	_, err = svc.ValidateToken("")
	assert.ErrorIs(t, err, ErrUnauthorized)
}

func TestTokenFromRequest(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/connect?token=query", nil)
	assert.Equal(t, "query", TokenFromRequest(r))

	r.Header.Set("Authorization", "Bearer header")
	assert.Equal(t, "header", TokenFromRequest(r))

	r.Header.Set("Authorization", "Basic abc")
	assert.Empty(t, TokenFromRequest(r))
}

func TestMiddleware(t *testing.T) {
	svc, _ := newTestService(t)
	u, session, err := svc.Register(context.Background(), "erin", "long enough")
	require.NoError(t, err)

	var seen user.ID
	h := Middleware(svc, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = UserIDFromContext(r.Context())
		w.WriteHeader(http.StatusNoContent)
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/users/me", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), "unauthenticated"))

	req := httptest.NewRequest(http.MethodGet, "/users/me", nil)
	req.Header.Set("Authorization", "Bearer "+session.AccessToken)
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, u.ID, seen)
}
