package server

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/ycchat/ycchat/internal/apperr"
	"github.com/ycchat/ycchat/internal/user"
)

type ID string

type MemberID string

type Server struct {
	ID          ID
	OwnerID     user.ID
	DisplayName string
	Description string
	CreatedAt   time.Time
}

// Member is a user's membership record in a server.
type Member struct {
	ID          MemberID  `json:"id"`
	ServerID    ID        `json:"server"`
	UserID      user.ID   `json:"user"`
	DisplayName string    `json:"display_name"`
	Description string    `json:"description,omitempty"`
	CreatedAt   time.Time `json:"create_time"`
}

var (
	ErrNotFound         = fmt.Errorf("server %w", apperr.ErrNotFound)
	ErrMemberNotFound   = fmt.Errorf("server member %w", apperr.ErrNotFound)
	ErrInvalidInput     = fmt.Errorf("server: %w", apperr.ErrInvalidArgument)
	ErrAlreadyMember    = fmt.Errorf("server member %w", apperr.ErrAlreadyExists)
	ErrNotMember        = fmt.Errorf("%w: not a member of the server", apperr.ErrPermissionDenied)
	ErrOwnerCannotLeave = fmt.Errorf("%w: the owner cannot leave the server", apperr.ErrPermissionDenied)
)

type Repository interface {
	// Create stores the server together with the owner's membership.
	Create(ctx context.Context, srv Server, owner Member) error
	Get(ctx context.Context, id ID) (Server, error)
	ListForUser(ctx context.Context, userID user.ID, limit int, after ID) ([]Server, error)
	CountForUser(ctx context.Context, userID user.ID) (int64, error)

	AddMember(ctx context.Context, m Member) error
	GetMember(ctx context.Context, serverID ID, userID user.ID) (Member, error)
	RemoveMember(ctx context.Context, serverID ID, userID user.ID) error
	ListMembers(ctx context.Context, serverID ID, limit int, after MemberID) ([]Member, error)
	CountMembers(ctx context.Context, serverID ID) (int64, error)
	ListMemberUserIDs(ctx context.Context, serverID ID) ([]user.ID, error)
	IsMember(ctx context.Context, serverID ID, userID user.ID) (bool, error)
}

// Publisher announces membership changes to live streams.
type Publisher interface {
	PublishMemberJoined(ctx context.Context, m Member) error
	PublishMemberLeft(ctx context.Context, m Member) error
}

const namePrefix = "servers/"

func (s Server) Name() string {
	return namePrefix + string(s.ID)
}

func (m Member) Name() string {
	return namePrefix + string(m.ServerID) + "/members/" + string(m.ID)
}

// ParseName extracts the id from a "servers/{id}" resource name.
func ParseName(name string) (ID, error) {
	id, ok := strings.CutPrefix(name, namePrefix)
	if !ok || id == "" || strings.Contains(id, "/") {
		return "", fmt.Errorf("%w: invalid server name %q", apperr.ErrInvalidArgument, name)
	}
	return ID(id), nil
}
