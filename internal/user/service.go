package user

import (
	"context"
	"errors"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/oklog/ulid/v2"
)

const maxUsernameLen = 32

type Service struct {
	repo  Repository
	idGen func() ID
	now   func() time.Time
}

func NewService(repo Repository) *Service {
	return &Service{
		repo: repo,
		idGen: func() ID {
			return ID(ulid.Make().String())
		},
		now: time.Now,
	}
}

func (s *Service) CreateWithPassword(ctx context.Context, username, passwordHash string) (User, error) {
	if s.repo == nil {
		return User{}, errors.New("repository is required")
	}

	name := NormalizeUsername(username)
	if name == "" || utf8.RuneCountInString(name) > maxUsernameLen || strings.TrimSpace(passwordHash) == "" {
		return User{}, ErrInvalidInput
	}

	if _, err := s.repo.GetByUsername(ctx, name); err == nil {
		return User{}, ErrUsernameTaken
	} else if !errors.Is(err, ErrNotFound) {
		return User{}, err
	}

	u := User{
		ID:           s.idGen(),
		Username:     name,
		PasswordHash: passwordHash,
		CreatedAt:    s.now().UTC(),
	}
	if err := s.repo.Create(ctx, u); err != nil {
		return User{}, err
	}
	return u, nil
}

func (s *Service) GetByID(ctx context.Context, id ID) (User, error) {
	if s.repo == nil {
		return User{}, errors.New("repository is required")
	}
	if id == "" {
		return User{}, ErrInvalidInput
	}
	return s.repo.GetByID(ctx, id)
}

func (s *Service) GetByUsername(ctx context.Context, username string) (User, error) {
	if s.repo == nil {
		return User{}, errors.New("repository is required")
	}
	name := NormalizeUsername(username)
	if name == "" {
		return User{}, ErrInvalidInput
	}
	return s.repo.GetByUsername(ctx, name)
}

func NormalizeUsername(username string) string {
	return strings.ToLower(strings.TrimSpace(username))
}
