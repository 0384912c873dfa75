package auth

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	"github.com/ycchat/ycchat/internal/apperr"
	"github.com/ycchat/ycchat/internal/user"
)

const (
	Issuer = "ycchat"

	DefaultAccessTTL  = time.Hour
	minPasswordLength = 8
	minSecretLength   = 32
)

var (
	ErrInvalidInput = fmt.Errorf("auth: %w", apperr.ErrInvalidArgument)
	ErrUnauthorized = fmt.Errorf("%w: invalid credentials", apperr.ErrUnauthenticated)
	ErrTokenExpired = fmt.Errorf("%w: token expired", apperr.ErrUnauthenticated)
)

// Session is the pair of tokens handed to a client after authenticating.
type Session struct {
	AccessToken  string
	RefreshToken string
	UserID       user.ID
	ExpiresAt    time.Time
}

// RefreshStore keeps issued refresh tokens until they expire or are revoked.
type RefreshStore interface {
	Save(ctx context.Context, token string, userID user.ID) error
	Consume(ctx context.Context, token string) (user.ID, error)
	Revoke(ctx context.Context, token string) error
}

type Config struct {
	Secret    []byte
	AccessTTL time.Duration
}

type Service struct {
	users     *user.Service
	refresh   RefreshStore
	secret    []byte
	accessTTL time.Duration
	now       func() time.Time
}

func NewService(users *user.Service, refresh RefreshStore, cfg Config) (*Service, error) {
	if len(cfg.Secret) < minSecretLength {
		return nil, fmt.Errorf("jwt secret must be at least %d bytes", minSecretLength)
	}
	if cfg.AccessTTL <= 0 {
		cfg.AccessTTL = DefaultAccessTTL
	}
	return &Service{
		users:     users,
		refresh:   refresh,
		secret:    cfg.Secret,
		accessTTL: cfg.AccessTTL,
		now:       time.Now,
	}, nil
}

func (s *Service) Register(ctx context.Context, username, password string) (user.User, Session, error) {
	if s.users == nil || s.refresh == nil {
		return user.User{}, Session{}, errors.New("services are required")
	}
	if user.NormalizeUsername(username) == "" || len(password) < minPasswordLength {
		return user.User{}, Session{}, ErrInvalidInput
	}

	hash, err := hashPassword(password)
	if err != nil {
		return user.User{}, Session{}, err
	}
	created, err := s.users.CreateWithPassword(ctx, username, hash)
	if err != nil {
		return user.User{}, Session{}, err
	}
	session, err := s.issue(ctx, created.ID)
	if err != nil {
		return user.User{}, Session{}, err
	}
	return created, session, nil
}

func (s *Service) Login(ctx context.Context, username, password string) (user.User, Session, error) {
	if s.users == nil || s.refresh == nil {
		return user.User{}, Session{}, errors.New("services are required")
	}
	if user.NormalizeUsername(username) == "" || strings.TrimSpace(password) == "" {
		return user.User{}, Session{}, ErrInvalidInput
	}

	found, err := s.users.GetByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, user.ErrNotFound) {
			return user.User{}, Session{}, ErrUnauthorized
		}
		return user.User{}, Session{}, err
	}
	if found.PasswordHash == "" || checkPassword(found.PasswordHash, password) != nil {
		return user.User{}, Session{}, ErrUnauthorized
	}

	session, err := s.issue(ctx, found.ID)
	if err != nil {
		return user.User{}, Session{}, err
	}
	return found, session, nil
}

// Refresh redeems a refresh token for a new session. The old refresh token
// stops working.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (Session, error) {
	if strings.TrimSpace(refreshToken) == "" {
		return Session{}, ErrUnauthorized
	}
	userID, err := s.refresh.Consume(ctx, refreshToken)
	if err != nil {
		return Session{}, err
	}
	return s.issue(ctx, userID)
}

func (s *Service) Logout(ctx context.Context, refreshToken string) error {
	if strings.TrimSpace(refreshToken) == "" {
		return ErrInvalidInput
	}
	return s.refresh.Revoke(ctx, refreshToken)
}

// ValidateToken checks an access token and returns the user it was issued to.
func (s *Service) ValidateToken(token string) (user.ID, error) {
	if strings.TrimSpace(token) == "" {
		return "", ErrUnauthorized
	}
	claims := &jwt.RegisteredClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return s.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(Issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return "", ErrTokenExpired
		}
		return "", ErrUnauthorized
	}
	if !parsed.Valid || claims.Subject == "" {
		return "", ErrUnauthorized
	}
	return user.ID(claims.Subject), nil
}

func (s *Service) issue(ctx context.Context, userID user.ID) (Session, error) {
	now := s.now()
	expires := now.Add(s.accessTTL)
	claims := jwt.RegisteredClaims{
		Issuer:    Issuer,
		Subject:   string(userID),
		IssuedAt:  jwt.NewNumericDate(now),
		NotBefore: jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(expires),
	}
	access, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return Session{}, fmt.Errorf("sign access token: %w", err)
	}

	refresh, err := randomToken()
	if err != nil {
		return Session{}, err
	}
	if err := s.refresh.Save(ctx, refresh, userID); err != nil {
		return Session{}, err
	}
	return Session{
		AccessToken:  access,
		RefreshToken: refresh,
		UserID:       userID,
		ExpiresAt:    expires,
	}, nil
}

func hashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

func checkPassword(hashed, password string) error {
	return bcrypt.CompareHashAndPassword([]byte(hashed), []byte(password))
}

func randomToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
