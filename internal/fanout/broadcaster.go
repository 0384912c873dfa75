package fanout

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/ycchat/ycchat/internal/channel"
	"github.com/ycchat/ycchat/internal/logging"
	"github.com/ycchat/ycchat/internal/message"
	"github.com/ycchat/ycchat/internal/metrics"
	"github.com/ycchat/ycchat/internal/server"
	"github.com/ycchat/ycchat/internal/user"
)

const (
	DefaultSendTimeout = 2 * time.Second
	DefaultWorkers     = 64
)

// Recipients resolves who should receive an event.
type Recipients interface {
	ChannelRecipients(ctx context.Context, id channel.ID) ([]user.ID, error)
	ServerRecipients(ctx context.Context, id server.ID) ([]user.ID, error)
}

type Config struct {
	SendTimeout time.Duration
	Workers     int
}

// Broadcaster pushes signals to every live connection of the recipients.
// Each send runs as its own task with a timeout, so a stalled connection
// cannot hold up the others; a failed connection is closed and dropped.
type Broadcaster struct {
	registry   *Registry
	recipients Recipients
	log        *slog.Logger
	metrics    *metrics.Metrics
	cfg        Config
}

func NewBroadcaster(registry *Registry, recipients Recipients, log *slog.Logger, m *metrics.Metrics, cfg Config) *Broadcaster {
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = DefaultSendTimeout
	}
	if cfg.Workers <= 0 {
		cfg.Workers = DefaultWorkers
	}
	if log == nil {
		log = logging.Discard()
	}
	if m == nil {
		m = metrics.New()
	}
	return &Broadcaster{
		registry:   registry,
		recipients: recipients,
		log:        log,
		metrics:    m,
		cfg:        cfg,
	}
}

// Deliver sends msg to every online member of its channel's audience. Only a
// failure to resolve the audience is returned; per-connection failures are
// handled by dropping that connection.
func (b *Broadcaster) Deliver(ctx context.Context, msg message.Message) error {
	users, err := b.recipients.ChannelRecipients(ctx, msg.Channel)
	if err != nil {
		return fmt.Errorf("resolve recipients of channel %s: %w", msg.Channel, err)
	}
	b.send(ctx, users, MessageSignal(msg))
	return nil
}

// DeliverMemberEvent announces a server membership change to the server's
// members. The member concerned is always included, so a leaving user still
// learns about the departure on their other devices.
func (b *Broadcaster) DeliverMemberEvent(ctx context.Context, kind Kind, m server.Member) error {
	if kind != KindServerEntryUser && kind != KindServerLeaveUser {
		return fmt.Errorf("unexpected member signal kind %q", kind)
	}
	users, err := b.recipients.ServerRecipients(ctx, m.ServerID)
	if err != nil {
		return fmt.Errorf("resolve members of server %s: %w", m.ServerID, err)
	}
	users = appendUnique(users, m.UserID)
	b.send(ctx, users, Signal{Kind: kind, Member: &m})
	return nil
}

// Dispatch routes an event received from the pub/sub bridge.
func (b *Broadcaster) Dispatch(ctx context.Context, ev Event) error {
	switch ev.Kind {
	case EventMessage:
		if ev.Message == nil {
			return fmt.Errorf("%s event without message", ev.Kind)
		}
		return b.Deliver(ctx, *ev.Message)
	case EventMemberJoined, EventMemberLeft:
		if ev.Member == nil {
			return fmt.Errorf("%s event without member", ev.Kind)
		}
		kind := KindServerEntryUser
		if ev.Kind == EventMemberLeft {
			kind = KindServerLeaveUser
		}
		return b.DeliverMemberEvent(ctx, kind, *ev.Member)
	default:
		return fmt.Errorf("unknown event kind %q", ev.Kind)
	}
}

func (b *Broadcaster) send(ctx context.Context, users []user.ID, sig Signal) {
	var g errgroup.Group
	g.SetLimit(b.cfg.Workers)

	for _, u := range users {
		for _, conn := range b.registry.ConnectionsFor(u) {
			g.Go(func() error {
				sendCtx, cancel := context.WithTimeout(ctx, b.cfg.SendTimeout)
				defer cancel()

				if err := conn.Handle.Send(sendCtx, sig); err != nil {
					b.drop(u, conn, sig.Kind, err)
					return nil
				}
				b.metrics.SignalsDelivered.WithLabelValues(string(sig.Kind)).Inc()
				return nil
			})
		}
	}
	// Waiting keeps consecutive signals in order on each connection.
	_ = g.Wait()
}

func (b *Broadcaster) drop(u user.ID, conn Connection, kind Kind, err error) {
	b.metrics.SendFailures.WithLabelValues(string(kind)).Inc()
	if b.registry.Deregister(u, conn.ID) {
		conn.Handle.Close(CloseReasonSendFailed)
	}
	b.log.Warn("dropping stream after failed send",
		"user_id", u,
		"conn_id", conn.ID,
		"signal", kind,
		"error", err.Error(),
	)
}

func appendUnique(users []user.ID, id user.ID) []user.ID {
	for _, u := range users {
		if u == id {
			return users
		}
	}
	return append(users[:len(users):len(users)], id)
}
