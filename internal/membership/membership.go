// Package membership resolves which users make up a channel's audience. It is
// the only place that interprets channel.Audience.
package membership

import (
	"context"
	"fmt"

	"github.com/ycchat/ycchat/internal/apperr"
	"github.com/ycchat/ycchat/internal/channel"
	"github.com/ycchat/ycchat/internal/server"
	"github.com/ycchat/ycchat/internal/user"
)

var ErrNotInAudience = fmt.Errorf("%w: not a member of the channel audience", apperr.ErrPermissionDenied)

type ChannelStore interface {
	Get(ctx context.Context, id channel.ID) (channel.Channel, error)
}

type ServerMembers interface {
	ListMemberUserIDs(ctx context.Context, serverID server.ID) ([]user.ID, error)
	IsMember(ctx context.Context, serverID server.ID, userID user.ID) (bool, error)
}

type Resolver struct {
	channels ChannelStore
	members  ServerMembers
}

func NewResolver(channels ChannelStore, members ServerMembers) *Resolver {
	return &Resolver{channels: channels, members: members}
}

// Recipients returns every user entitled to receive messages of ch.
func (r *Resolver) Recipients(ctx context.Context, ch channel.Channel) ([]user.ID, error) {
	switch aud := ch.Audience.(type) {
	case channel.Saved:
		return []user.ID{aud.Owner}, nil
	case channel.Direct:
		if aud.Participants[0] == aud.Participants[1] {
			return []user.ID{aud.Participants[0]}, nil
		}
		return []user.ID{aud.Participants[0], aud.Participants[1]}, nil
	case channel.ServerAudience:
		return r.ServerRecipients(ctx, aud.Server)
	default:
		return nil, fmt.Errorf("channel %s: unknown audience %T", ch.ID, ch.Audience)
	}
}

func (r *Resolver) ChannelRecipients(ctx context.Context, id channel.ID) ([]user.ID, error) {
	ch, err := r.channels.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return r.Recipients(ctx, ch)
}

func (r *Resolver) ServerRecipients(ctx context.Context, serverID server.ID) ([]user.ID, error) {
	ids, err := r.members.ListMemberUserIDs(ctx, serverID)
	if err != nil {
		return nil, fmt.Errorf("list members of server %s: %w", serverID, err)
	}
	return ids, nil
}

// Authorize fails with ErrNotInAudience unless userID is in ch's audience.
func (r *Resolver) Authorize(ctx context.Context, userID user.ID, ch channel.Channel) error {
	switch aud := ch.Audience.(type) {
	case channel.Saved:
		if aud.Owner == userID {
			return nil
		}
	case channel.Direct:
		if aud.Participants[0] == userID || aud.Participants[1] == userID {
			return nil
		}
	case channel.ServerAudience:
		return r.AuthorizeServer(ctx, userID, aud.Server)
	default:
		return fmt.Errorf("channel %s: unknown audience %T", ch.ID, ch.Audience)
	}
	return ErrNotInAudience
}

func (r *Resolver) AuthorizeServer(ctx context.Context, userID user.ID, serverID server.ID) error {
	ok, err := r.members.IsMember(ctx, serverID, userID)
	if err != nil {
		return fmt.Errorf("check membership of server %s: %w", serverID, err)
	}
	if !ok {
		return ErrNotInAudience
	}
	return nil
}
