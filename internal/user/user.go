package user

import (
	"context"
	"fmt"
	"time"

	"github.com/ycchat/ycchat/internal/apperr"
)

type ID string

type User struct {
	ID           ID
	Username     string
	PasswordHash string
	CreatedAt    time.Time
}

var (
	ErrNotFound      = fmt.Errorf("user %w", apperr.ErrNotFound)
	ErrInvalidInput  = fmt.Errorf("user: %w", apperr.ErrInvalidArgument)
	ErrUsernameTaken = fmt.Errorf("username %w", apperr.ErrAlreadyExists)
)

type Repository interface {
	Create(ctx context.Context, user User) error
	GetByID(ctx context.Context, id ID) (User, error)
	GetByUsername(ctx context.Context, username string) (User, error)
}
