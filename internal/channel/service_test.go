package channel

import (
	"context"
	"errors"
	"sort"
	"testing"

	"github.com/ycchat/ycchat/internal/apperr"
	"github.com/ycchat/ycchat/internal/paging"
	"github.com/ycchat/ycchat/internal/server"
	"github.com/ycchat/ycchat/internal/user"
)

type fakeRepo struct {
	channels map[ID]Channel
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{channels: make(map[ID]Channel)}
}

func (r *fakeRepo) Create(_ context.Context, ch Channel) error {
	r.channels[ch.ID] = ch
	return nil
}

func (r *fakeRepo) Get(_ context.Context, id ID) (Channel, error) {
	ch, ok := r.channels[id]
	if !ok {
		return Channel{}, ErrNotFound
	}
	return ch, nil
}

func (r *fakeRepo) Delete(_ context.Context, id ID) error {
	if _, ok := r.channels[id]; !ok {
		return ErrNotFound
	}
	delete(r.channels, id)
	return nil
}

func (r *fakeRepo) ListByServer(_ context.Context, serverID server.ID, limit int, after ID) ([]Channel, error) {
	var out []Channel
	for _, ch := range r.channels {
		aud, ok := ch.Audience.(ServerAudience)
		if ok && aud.Server == serverID && (after == "" || ch.ID < after) {
			out = append(out, ch)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *fakeRepo) CountByServer(ctx context.Context, serverID server.ID) (int64, error) {
	all, _ := r.ListByServer(ctx, serverID, 1<<30, "")
	return int64(len(all)), nil
}

func (r *fakeRepo) FindSaved(_ context.Context, owner user.ID) (Channel, error) {
	for _, ch := range r.channels {
		if aud, ok := ch.Audience.(Saved); ok && aud.Owner == owner {
			return ch, nil
		}
	}
	return Channel{}, ErrNotFound
}

func (r *fakeRepo) FindDirect(_ context.Context, a, b user.ID) (Channel, error) {
	for _, ch := range r.channels {
		aud, ok := ch.Audience.(Direct)
		if !ok {
			continue
		}
		p := aud.Participants
		if (p[0] == a && p[1] == b) || (p[0] == b && p[1] == a) {
			return ch, nil
		}
	}
	return Channel{}, ErrNotFound
}

// fakeAuthz treats members[server] as the only server members and lets
// participants of saved and direct channels through.
type fakeAuthz struct {
	members map[server.ID][]user.ID
}

func (a fakeAuthz) Authorize(ctx context.Context, userID user.ID, ch Channel) error {
	switch aud := ch.Audience.(type) {
	case Saved:
		if aud.Owner == userID {
			return nil
		}
	case Direct:
		if aud.Participants[0] == userID || aud.Participants[1] == userID {
			return nil
		}
	case ServerAudience:
		return a.AuthorizeServer(ctx, userID, aud.Server)
	}
	return ErrForbidden
}

func (a fakeAuthz) AuthorizeServer(_ context.Context, userID user.ID, serverID server.ID) error {
	for _, m := range a.members[serverID] {
		if m == userID {
			return nil
		}
	}
	return ErrForbidden
}

type fakeServers map[server.ID]server.Server

func (f fakeServers) Get(_ context.Context, id server.ID) (server.Server, error) {
	srv, ok := f[id]
	if !ok {
		return server.Server{}, server.ErrNotFound
	}
	return srv, nil
}

type fakeUsers map[user.ID]bool

func (f fakeUsers) GetByID(_ context.Context, id user.ID) (user.User, error) {
	if !f[id] {
		return user.User{}, user.ErrNotFound
	}
	return user.User{ID: id}, nil
}

type fakeUnread map[ID]int64

func (f fakeUnread) Unread(_ context.Context, _ user.ID, id ID) (int64, error) {
	return f[id], nil
}

func newTestService() (*Service, *fakeRepo, fakeUnread) {
	repo := newFakeRepo()
	authz := fakeAuthz{members: map[server.ID][]user.ID{"s1": {"alice", "bob"}}}
	servers := fakeServers{"s1": {ID: "s1", OwnerID: "alice"}}
	users := fakeUsers{"alice": true, "bob": true}
	unread := fakeUnread{}
	return NewService(repo, authz, servers, users, unread), repo, unread
}

func TestCreateServerChannelRequiresMembership(t *testing.T) {
	svc, _, _ := newTestService()
	ctx := context.Background()

	ch, err := svc.CreateServerChannel(ctx, "bob", "s1", " general ", "talk")
	if err != nil {
		t.Fatalf("CreateServerChannel() error: %v", err)
	}
	if ch.DisplayName != "general" || ch.Audience != (ServerAudience{Server: "s1"}) {
		t.Fatalf("unexpected channel: %+v", ch)
	}
	if _, err := svc.CreateServerChannel(ctx, "mallory", "s1", "x", ""); !errors.Is(err, apperr.ErrPermissionDenied) {
		t.Fatalf("non-member error = %v, want PermissionDenied", err)
	}
	if _, err := svc.CreateServerChannel(ctx, "bob", "s1", "  ", ""); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("blank name error = %v, want ErrInvalidInput", err)
	}
}

func TestCreateSavedIsIdempotent(t *testing.T) {
	svc, _, _ := newTestService()
	first, err := svc.CreateSaved(context.Background(), "alice", "", "")
	if err != nil {
		t.Fatalf("CreateSaved() error: %v", err)
	}
	second, err := svc.CreateSaved(context.Background(), "alice", "other", "")
	if err != nil {
		t.Fatalf("CreateSaved() second error: %v", err)
	}
	if first.ID != second.ID {
		t.Fatalf("saved channel recreated: %s != %s", first.ID, second.ID)
	}
}

func TestCreateDirect(t *testing.T) {
	svc, _, _ := newTestService()
	ctx := context.Background()

	ch, err := svc.CreateDirect(ctx, "alice", "bob", "", "")
	if err != nil {
		t.Fatalf("CreateDirect() error: %v", err)
	}
	again, err := svc.CreateDirect(ctx, "bob", "alice", "", "")
	if err != nil {
		t.Fatalf("CreateDirect() reverse error: %v", err)
	}
	if again.ID != ch.ID {
		t.Fatalf("direct channel not reused: %s != %s", again.ID, ch.ID)
	}
	if _, err := svc.CreateDirect(ctx, "alice", "alice", "", ""); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("self direct error = %v, want ErrInvalidInput", err)
	}
	if _, err := svc.CreateDirect(ctx, "alice", "ghost", "", ""); !errors.Is(err, user.ErrNotFound) {
		t.Fatalf("unknown participant error = %v, want user.ErrNotFound", err)
	}
}

func TestGetAttachesUnreadCount(t *testing.T) {
	svc, _, unread := newTestService()
	ctx := context.Background()
	ch, _ := svc.CreateServerChannel(ctx, "alice", "s1", "general", "")
	unread[ch.ID] = 7

	got, err := svc.Get(ctx, "bob", ch.ID)
	if err != nil {
		t.Fatalf("Get() error: %v", err)
	}
	if got.UnreadCount == nil || *got.UnreadCount != 7 {
		t.Fatalf("UnreadCount = %v, want 7", got.UnreadCount)
	}
	if _, err := svc.Get(ctx, "mallory", ch.ID); !errors.Is(err, apperr.ErrPermissionDenied) {
		t.Fatalf("Get() by outsider error = %v, want PermissionDenied", err)
	}
	if _, err := svc.Get(ctx, "bob", "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Get() missing error = %v, want ErrNotFound", err)
	}
}

func TestListServerChannelsPages(t *testing.T) {
	svc, _, _ := newTestService()
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		if _, err := svc.CreateServerChannel(ctx, "alice", "s1", "room", ""); err != nil {
			t.Fatalf("CreateServerChannel() error: %v", err)
		}
	}

	seen := make(map[ID]bool)
	req := paging.Request{PageSize: 2}
	for pages := 0; ; pages++ {
		if pages > 5 {
			t.Fatal("pagination did not terminate")
		}
		page, err := svc.ListServerChannels(ctx, "bob", "s1", req)
		if err != nil {
			t.Fatalf("ListServerChannels() error: %v", err)
		}
		for _, ch := range page.Items {
			if seen[ch.ID] {
				t.Fatalf("channel %s returned twice", ch.ID)
			}
			seen[ch.ID] = true
		}
		if page.NextPageToken == "" {
			break
		}
		req = paging.Request{PageToken: page.NextPageToken}
	}
	if len(seen) != 5 {
		t.Fatalf("saw %d channels, want 5", len(seen))
	}
}

func TestDeleteServerChannelOwnerOnly(t *testing.T) {
	svc, repo, _ := newTestService()
	ctx := context.Background()
	ch, _ := svc.CreateServerChannel(ctx, "bob", "s1", "general", "")

	if err := svc.Delete(ctx, "bob", ch.ID); !errors.Is(err, ErrForbidden) {
		t.Fatalf("Delete() by member error = %v, want ErrForbidden", err)
	}
	if err := svc.Delete(ctx, "alice", ch.ID); err != nil {
		t.Fatalf("Delete() by owner error: %v", err)
	}
	if _, ok := repo.channels[ch.ID]; ok {
		t.Fatal("channel still stored")
	}
}

func TestParseName(t *testing.T) {
	if id, err := ParseName("channels/abc"); err != nil || id != "abc" {
		t.Fatalf("ParseName() = %q, %v", id, err)
	}
	for _, bad := range []string{"", "channels/", "servers/abc", "channels/a/messages/b"} {
		if _, err := ParseName(bad); !errors.Is(err, apperr.ErrInvalidArgument) {
			t.Fatalf("ParseName(%q) error = %v, want InvalidArgument", bad, err)
		}
	}
}
