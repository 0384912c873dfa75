package channel

import (
	"context"
	"errors"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/oklog/ulid/v2"

	"github.com/ycchat/ycchat/internal/paging"
	"github.com/ycchat/ycchat/internal/server"
	"github.com/ycchat/ycchat/internal/user"
)

const maxDisplayNameLen = 100

// Authorizer applies the audience rule.
type Authorizer interface {
	Authorize(ctx context.Context, userID user.ID, ch Channel) error
	AuthorizeServer(ctx context.Context, userID user.ID, serverID server.ID) error
}

type ServerLookup interface {
	Get(ctx context.Context, id server.ID) (server.Server, error)
}

type UserLookup interface {
	GetByID(ctx context.Context, id user.ID) (user.User, error)
}

// UnreadReader reports how many messages a user has not seen in a channel.
type UnreadReader interface {
	Unread(ctx context.Context, userID user.ID, channelID ID) (int64, error)
}

type Service struct {
	repo    Repository
	authz   Authorizer
	servers ServerLookup
	users   UserLookup
	unread  UnreadReader
	idGen   func() string
	now     func() time.Time
}

func NewService(repo Repository, authz Authorizer, servers ServerLookup, users UserLookup, unread UnreadReader) *Service {
	return &Service{
		repo:    repo,
		authz:   authz,
		servers: servers,
		users:   users,
		unread:  unread,
		idGen:   func() string { return ulid.Make().String() },
		now:     time.Now,
	}
}

func (s *Service) CreateServerChannel(ctx context.Context, userID user.ID, serverID server.ID, displayName, description string) (Channel, error) {
	if s.repo == nil {
		return Channel{}, errors.New("repository is required")
	}
	if userID == "" || serverID == "" {
		return Channel{}, ErrInvalidInput
	}
	if err := s.authz.AuthorizeServer(ctx, userID, serverID); err != nil {
		return Channel{}, err
	}
	return s.create(ctx, ServerAudience{Server: serverID}, displayName, description)
}

// CreateSaved returns the user's saved channel, creating it on first use.
func (s *Service) CreateSaved(ctx context.Context, userID user.ID, displayName, description string) (Channel, error) {
	if s.repo == nil {
		return Channel{}, errors.New("repository is required")
	}
	if userID == "" {
		return Channel{}, ErrInvalidInput
	}
	if existing, err := s.repo.FindSaved(ctx, userID); err == nil {
		return existing, nil
	} else if !errors.Is(err, ErrNotFound) {
		return Channel{}, err
	}
	if strings.TrimSpace(displayName) == "" {
		displayName = "Saved messages"
	}
	return s.create(ctx, Saved{Owner: userID}, displayName, description)
}

// CreateDirect returns the direct channel between the two users, creating it
// on first use.
func (s *Service) CreateDirect(ctx context.Context, userID, participant user.ID, displayName, description string) (Channel, error) {
	if s.repo == nil {
		return Channel{}, errors.New("repository is required")
	}
	if userID == "" || participant == "" || userID == participant {
		return Channel{}, ErrInvalidInput
	}
	if s.users != nil {
		if _, err := s.users.GetByID(ctx, participant); err != nil {
			return Channel{}, err
		}
	}
	if existing, err := s.repo.FindDirect(ctx, userID, participant); err == nil {
		return existing, nil
	} else if !errors.Is(err, ErrNotFound) {
		return Channel{}, err
	}
	if strings.TrimSpace(displayName) == "" {
		displayName = "Direct messages"
	}
	return s.create(ctx, Direct{Participants: [2]user.ID{userID, participant}}, displayName, description)
}

// Get returns the channel with the caller's unread count attached.
func (s *Service) Get(ctx context.Context, userID user.ID, id ID) (Channel, error) {
	if s.repo == nil {
		return Channel{}, errors.New("repository is required")
	}
	if userID == "" || id == "" {
		return Channel{}, ErrInvalidInput
	}
	ch, err := s.repo.Get(ctx, id)
	if err != nil {
		return Channel{}, err
	}
	if err := s.authz.Authorize(ctx, userID, ch); err != nil {
		return Channel{}, err
	}
	if s.unread != nil {
		n, err := s.unread.Unread(ctx, userID, id)
		if err != nil {
			return Channel{}, err
		}
		ch.UnreadCount = &n
	}
	return ch, nil
}

func (s *Service) ListServerChannels(ctx context.Context, userID user.ID, serverID server.ID, req paging.Request) (paging.Page[Channel], error) {
	if s.repo == nil {
		return paging.Page[Channel]{}, errors.New("repository is required")
	}
	if userID == "" || serverID == "" {
		return paging.Page[Channel]{}, ErrInvalidInput
	}
	if err := s.authz.AuthorizeServer(ctx, userID, serverID); err != nil {
		return paging.Page[Channel]{}, err
	}
	return paging.Paginate[Channel](ctx, serverChannelPager{repo: s.repo, serverID: serverID}, req)
}

// Delete removes a channel. Saved channels can be deleted by their owner,
// direct channels by either participant and server channels by the server
// owner.
func (s *Service) Delete(ctx context.Context, userID user.ID, id ID) error {
	if s.repo == nil {
		return errors.New("repository is required")
	}
	if userID == "" || id == "" {
		return ErrInvalidInput
	}
	ch, err := s.repo.Get(ctx, id)
	if err != nil {
		return err
	}
	if err := s.authz.Authorize(ctx, userID, ch); err != nil {
		return err
	}
	if aud, ok := ch.Audience.(ServerAudience); ok {
		if s.servers == nil {
			return errors.New("server lookup is required")
		}
		srv, err := s.servers.Get(ctx, aud.Server)
		if err != nil {
			return err
		}
		if srv.OwnerID != userID {
			return ErrForbidden
		}
	}
	return s.repo.Delete(ctx, id)
}

func (s *Service) create(ctx context.Context, aud Audience, displayName, description string) (Channel, error) {
	name := strings.TrimSpace(displayName)
	if name == "" || utf8.RuneCountInString(name) > maxDisplayNameLen {
		return Channel{}, ErrInvalidInput
	}
	ch := Channel{
		ID:          ID(s.idGen()),
		Audience:    aud,
		DisplayName: name,
		Description: strings.TrimSpace(description),
		CreatedAt:   s.now().UTC(),
	}
	if err := s.repo.Create(ctx, ch); err != nil {
		return Channel{}, err
	}
	return ch, nil
}

type serverChannelPager struct {
	repo     Repository
	serverID server.ID
}

func (p serverChannelPager) List(ctx context.Context, _ string, limit int, offsetID string) ([]Channel, error) {
	return p.repo.ListByServer(ctx, p.serverID, limit, ID(offsetID))
}

func (p serverChannelPager) ItemID(c Channel) string { return string(c.ID) }

func (p serverChannelPager) Count(ctx context.Context, _ string) (int64, error) {
	return p.repo.CountByServer(ctx, p.serverID)
}
