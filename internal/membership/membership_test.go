package membership

import (
	"context"
	"errors"
	"testing"

	"github.com/ycchat/ycchat/internal/apperr"
	"github.com/ycchat/ycchat/internal/channel"
	"github.com/ycchat/ycchat/internal/server"
	"github.com/ycchat/ycchat/internal/user"
)

type fakeChannels map[channel.ID]channel.Channel

func (f fakeChannels) Get(_ context.Context, id channel.ID) (channel.Channel, error) {
	ch, ok := f[id]
	if !ok {
		return channel.Channel{}, channel.ErrNotFound
	}
	return ch, nil
}

type fakeMembers struct {
	members map[server.ID][]user.ID
	err     error
}

func (f fakeMembers) ListMemberUserIDs(_ context.Context, id server.ID) ([]user.ID, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.members[id], nil
}

func (f fakeMembers) IsMember(_ context.Context, id server.ID, u user.ID) (bool, error) {
	if f.err != nil {
		return false, f.err
	}
	for _, m := range f.members[id] {
		if m == u {
			return true, nil
		}
	}
	return false, nil
}

var channels = fakeChannels{
	"saved":  {ID: "saved", Audience: channel.Saved{Owner: "alice"}},
	"direct": {ID: "direct", Audience: channel.Direct{Participants: [2]user.ID{"alice", "bob"}}},
	"srv":    {ID: "srv", Audience: channel.ServerAudience{Server: "s1"}},
}

func newResolver(err error) *Resolver {
	members := fakeMembers{members: map[server.ID][]user.ID{"s1": {"alice", "carol", "dave"}}, err: err}
	return NewResolver(channels, members)
}

func TestRecipientsPerAudience(t *testing.T) {
	r := newResolver(nil)
	tests := []struct {
		channel channel.ID
		want    []user.ID
	}{
		{"saved", []user.ID{"alice"}},
		{"direct", []user.ID{"alice", "bob"}},
		{"srv", []user.ID{"alice", "carol", "dave"}},
	}
	for _, tc := range tests {
		got, err := r.ChannelRecipients(context.Background(), tc.channel)
		if err != nil {
			t.Fatalf("ChannelRecipients(%s) error: %v", tc.channel, err)
		}
		if len(got) != len(tc.want) {
			t.Fatalf("ChannelRecipients(%s) = %v, want %v", tc.channel, got, tc.want)
		}
		for i := range got {
			if got[i] != tc.want[i] {
				t.Fatalf("ChannelRecipients(%s) = %v, want %v", tc.channel, got, tc.want)
			}
		}
	}
}

func TestAuthorize(t *testing.T) {
	r := newResolver(nil)
	tests := []struct {
		user    user.ID
		channel channel.ID
		allowed bool
	}{
		{"alice", "saved", true},
		{"bob", "saved", false},
		{"bob", "direct", true},
		{"carol", "direct", false},
		{"carol", "srv", true},
		{"bob", "srv", false},
	}
	for _, tc := range tests {
		err := r.Authorize(context.Background(), tc.user, channels[tc.channel])
		if tc.allowed && err != nil {
			t.Fatalf("Authorize(%s, %s) error: %v", tc.user, tc.channel, err)
		}
		if !tc.allowed && !errors.Is(err, apperr.ErrPermissionDenied) {
			t.Fatalf("Authorize(%s, %s) error = %v, want PermissionDenied", tc.user, tc.channel, err)
		}
	}
}

func TestResolverFailurePropagates(t *testing.T) {
	boom := errors.New("db down")
	r := newResolver(boom)
	if _, err := r.ChannelRecipients(context.Background(), "srv"); !errors.Is(err, boom) {
		t.Fatalf("ChannelRecipients() error = %v, want %v", err, boom)
	}
	err := r.AuthorizeServer(context.Background(), "alice", "s1")
	if !errors.Is(err, boom) || errors.Is(err, apperr.ErrPermissionDenied) {
		t.Fatalf("AuthorizeServer() error = %v, want wrapped %v", err, boom)
	}
	if _, err := r.ChannelRecipients(context.Background(), "missing"); !errors.Is(err, channel.ErrNotFound) {
		t.Fatalf("ChannelRecipients(missing) error = %v, want ErrNotFound", err)
	}
}
