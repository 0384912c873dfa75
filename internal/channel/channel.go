package channel

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/ycchat/ycchat/internal/apperr"
	"github.com/ycchat/ycchat/internal/server"
	"github.com/ycchat/ycchat/internal/user"
)

type ID string

type Channel struct {
	ID          ID
	Audience    Audience
	DisplayName string
	Description string
	CreatedAt   time.Time
	// UnreadCount is only set when a single channel is read for a user.
	UnreadCount *int64
}

// Audience decides who may read and receive a channel's messages. It is one of
// Saved, Direct or ServerAudience.
type Audience interface {
	Kind() string
}

// Saved is a private channel for a single user.
type Saved struct {
	Owner user.ID
}

// Direct is a conversation between exactly two users.
type Direct struct {
	Participants [2]user.ID
}

// ServerAudience opens the channel to every member of a server.
type ServerAudience struct {
	Server server.ID
}

const (
	KindSaved  = "saved"
	KindDirect = "direct"
	KindServer = "server"
)

func (Saved) Kind() string          { return KindSaved }
func (Direct) Kind() string         { return KindDirect }
func (ServerAudience) Kind() string { return KindServer }

var (
	ErrNotFound     = fmt.Errorf("channel %w", apperr.ErrNotFound)
	ErrInvalidInput = fmt.Errorf("channel: %w", apperr.ErrInvalidArgument)
	ErrForbidden    = fmt.Errorf("%w: channel access denied", apperr.ErrPermissionDenied)
)

type Repository interface {
	Create(ctx context.Context, ch Channel) error
	Get(ctx context.Context, id ID) (Channel, error)
	Delete(ctx context.Context, id ID) error
	ListByServer(ctx context.Context, serverID server.ID, limit int, after ID) ([]Channel, error)
	CountByServer(ctx context.Context, serverID server.ID) (int64, error)
	FindSaved(ctx context.Context, owner user.ID) (Channel, error)
	FindDirect(ctx context.Context, a, b user.ID) (Channel, error)
}

const namePrefix = "channels/"

func (c Channel) Name() string {
	return namePrefix + string(c.ID)
}

// ParseName extracts the id from a "channels/{id}" resource name.
func ParseName(name string) (ID, error) {
	id, ok := strings.CutPrefix(name, namePrefix)
	if !ok || id == "" || strings.Contains(id, "/") {
		return "", fmt.Errorf("%w: invalid channel name %q", apperr.ErrInvalidArgument, name)
	}
	return ID(id), nil
}
