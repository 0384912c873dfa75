package server

import (
	"context"
	"errors"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/oklog/ulid/v2"

	"github.com/ycchat/ycchat/internal/paging"
	"github.com/ycchat/ycchat/internal/user"
)

const maxDisplayNameLen = 100

type Service struct {
	repo  Repository
	pub   Publisher
	idGen func() string
	now   func() time.Time
}

func NewService(repo Repository, pub Publisher) *Service {
	return &Service{
		repo:  repo,
		pub:   pub,
		idGen: func() string { return ulid.Make().String() },
		now:   time.Now,
	}
}

func (s *Service) CreateServer(ctx context.Context, owner user.ID, displayName, description string) (Server, error) {
	if s.repo == nil {
		return Server{}, errors.New("repository is required")
	}
	name := strings.TrimSpace(displayName)
	if owner == "" || !validDisplayName(name) {
		return Server{}, ErrInvalidInput
	}

	now := s.now().UTC()
	srv := Server{
		ID:          ID(s.idGen()),
		OwnerID:     owner,
		DisplayName: name,
		Description: strings.TrimSpace(description),
		CreatedAt:   now,
	}
	m := Member{
		ID:          MemberID(s.idGen()),
		ServerID:    srv.ID,
		UserID:      owner,
		DisplayName: name,
		CreatedAt:   now,
	}
	if err := s.repo.Create(ctx, srv, m); err != nil {
		return Server{}, err
	}
	return srv, nil
}

func (s *Service) Get(ctx context.Context, id ID) (Server, error) {
	if s.repo == nil {
		return Server{}, errors.New("repository is required")
	}
	if id == "" {
		return Server{}, ErrInvalidInput
	}
	return s.repo.Get(ctx, id)
}

// ListServers pages through the servers the user belongs to.
func (s *Service) ListServers(ctx context.Context, userID user.ID, req paging.Request) (paging.Page[Server], error) {
	if s.repo == nil {
		return paging.Page[Server]{}, errors.New("repository is required")
	}
	if userID == "" {
		return paging.Page[Server]{}, ErrInvalidInput
	}
	return paging.Paginate[Server](ctx, serverPager{repo: s.repo, userID: userID}, req)
}

func (s *Service) JoinServer(ctx context.Context, userID user.ID, serverID ID, displayName string) (Member, error) {
	if s.repo == nil {
		return Member{}, errors.New("repository is required")
	}
	if userID == "" || serverID == "" {
		return Member{}, ErrInvalidInput
	}
	name := strings.TrimSpace(displayName)
	if name != "" && !validDisplayName(name) {
		return Member{}, ErrInvalidInput
	}
	if _, err := s.repo.Get(ctx, serverID); err != nil {
		return Member{}, err
	}

	m := Member{
		ID:          MemberID(s.idGen()),
		ServerID:    serverID,
		UserID:      userID,
		DisplayName: name,
		CreatedAt:   s.now().UTC(),
	}
	if err := s.repo.AddMember(ctx, m); err != nil {
		return Member{}, err
	}
	if s.pub != nil {
		if err := s.pub.PublishMemberJoined(ctx, m); err != nil {
			return Member{}, err
		}
	}
	return m, nil
}

func (s *Service) LeaveServer(ctx context.Context, userID user.ID, serverID ID) error {
	if s.repo == nil {
		return errors.New("repository is required")
	}
	if userID == "" || serverID == "" {
		return ErrInvalidInput
	}
	srv, err := s.repo.Get(ctx, serverID)
	if err != nil {
		return err
	}
	if srv.OwnerID == userID {
		return ErrOwnerCannotLeave
	}
	m, err := s.repo.GetMember(ctx, serverID, userID)
	if err != nil {
		if errors.Is(err, ErrMemberNotFound) {
			return ErrNotMember
		}
		return err
	}
	if err := s.repo.RemoveMember(ctx, serverID, userID); err != nil {
		return err
	}
	if s.pub != nil {
		return s.pub.PublishMemberLeft(ctx, m)
	}
	return nil
}

// ListMembers pages through a server's members. Only members may list them.
func (s *Service) ListMembers(ctx context.Context, userID user.ID, serverID ID, req paging.Request) (paging.Page[Member], error) {
	if s.repo == nil {
		return paging.Page[Member]{}, errors.New("repository is required")
	}
	if userID == "" || serverID == "" {
		return paging.Page[Member]{}, ErrInvalidInput
	}
	ok, err := s.repo.IsMember(ctx, serverID, userID)
	if err != nil {
		return paging.Page[Member]{}, err
	}
	if !ok {
		return paging.Page[Member]{}, ErrNotMember
	}
	return paging.Paginate[Member](ctx, memberPager{repo: s.repo, serverID: serverID}, req)
}

func validDisplayName(name string) bool {
	return name != "" && utf8.RuneCountInString(name) <= maxDisplayNameLen
}

type serverPager struct {
	repo   Repository
	userID user.ID
}

func (p serverPager) List(ctx context.Context, _ string, limit int, offsetID string) ([]Server, error) {
	return p.repo.ListForUser(ctx, p.userID, limit, ID(offsetID))
}

func (p serverPager) ItemID(s Server) string { return string(s.ID) }

func (p serverPager) Count(ctx context.Context, _ string) (int64, error) {
	return p.repo.CountForUser(ctx, p.userID)
}

type memberPager struct {
	repo     Repository
	serverID ID
}

func (p memberPager) List(ctx context.Context, _ string, limit int, offsetID string) ([]Member, error) {
	return p.repo.ListMembers(ctx, p.serverID, limit, MemberID(offsetID))
}

func (p memberPager) ItemID(m Member) string { return string(m.ID) }

func (p memberPager) Count(ctx context.Context, _ string) (int64, error) {
	return p.repo.CountMembers(ctx, p.serverID)
}
