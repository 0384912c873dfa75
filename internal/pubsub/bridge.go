// Package pubsub carries delivery events between server instances.
package pubsub

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/ycchat/ycchat/internal/apperr"
	"github.com/ycchat/ycchat/internal/fanout"
	"github.com/ycchat/ycchat/internal/logging"
	"github.com/ycchat/ycchat/internal/message"
	"github.com/ycchat/ycchat/internal/metrics"
	"github.com/ycchat/ycchat/internal/server"
)

const (
	DefaultChannel = "ycchat:pubsub"

	eventBuffer = 256
)

type Dispatcher interface {
	Dispatch(ctx context.Context, ev fanout.Event) error
}

// Bridge publishes events to the shared transport and feeds every event it
// receives into the local dispatcher.
type Bridge struct {
	transport  Transport
	channel    string
	dispatcher Dispatcher
	log        *slog.Logger
	metrics    *metrics.Metrics
	newBackOff func() backoff.BackOff
}

func NewBridge(transport Transport, channel string, dispatcher Dispatcher, log *slog.Logger, m *metrics.Metrics) *Bridge {
	if channel == "" {
		channel = DefaultChannel
	}
	if log == nil {
		log = logging.Discard()
	}
	if m == nil {
		m = metrics.New()
	}
	return &Bridge{
		transport:  transport,
		channel:    channel,
		dispatcher: dispatcher,
		log:        log,
		metrics:    m,
		newBackOff: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = 100 * time.Millisecond
			b.MaxInterval = 10 * time.Second
			b.MaxElapsedTime = 0
			return b
		},
	}
}

// Publish sends ev to every instance, this one included. A transport failure
// is reported as apperr.ErrUnavailable.
func (b *Bridge) Publish(ctx context.Context, ev fanout.Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode %s event: %w", ev.Kind, err)
	}
	if err := b.transport.Publish(ctx, b.channel, payload); err != nil {
		return fmt.Errorf("%w: publish %s event: %v", apperr.ErrUnavailable, ev.Kind, err)
	}
	b.metrics.PubSubEvents.WithLabelValues("published").Inc()
	return nil
}

func (b *Bridge) PublishMessage(ctx context.Context, msg message.Message) error {
	return b.Publish(ctx, fanout.Event{Kind: fanout.EventMessage, Message: &msg})
}

func (b *Bridge) PublishMemberJoined(ctx context.Context, m server.Member) error {
	return b.Publish(ctx, fanout.Event{Kind: fanout.EventMemberJoined, Member: &m})
}

func (b *Bridge) PublishMemberLeft(ctx context.Context, m server.Member) error {
	return b.Publish(ctx, fanout.Event{Kind: fanout.EventMemberLeft, Member: &m})
}

// Run subscribes and dispatches events until ctx is canceled. A lost
// subscription is re-established with exponential backoff.
func (b *Bridge) Run(ctx context.Context) error {
	payloads := make(chan []byte, eventBuffer)
	done := make(chan struct{})
	go func() {
		defer close(done)
		defer close(payloads)
		b.receiveLoop(ctx, payloads)
	}()

	for payload := range payloads {
		b.metrics.PubSubEvents.WithLabelValues("received").Inc()

		var ev fanout.Event
		if err := json.Unmarshal(payload, &ev); err != nil {
			b.metrics.PubSubEvents.WithLabelValues("dropped").Inc()
			logging.Error(b.log, "skipping undecodable pubsub payload", err, "bytes", len(payload))
			continue
		}
		if err := b.dispatcher.Dispatch(ctx, ev); err != nil {
			b.metrics.PubSubEvents.WithLabelValues("dropped").Inc()
			logging.Error(b.log, "dispatch pubsub event", err, "kind", ev.Kind)
		}
	}
	<-done
	return nil
}

func (b *Bridge) receiveLoop(ctx context.Context, out chan<- []byte) {
	bo := b.newBackOff()
	for {
		sub, err := b.transport.Subscribe(ctx, b.channel)
		if err == nil {
			b.log.Info("pubsub subscribed", "channel", b.channel)
			bo.Reset()
			err = b.pump(ctx, sub, out)
			_ = sub.Close()
		}
		if ctx.Err() != nil {
			return
		}

		wait := bo.NextBackOff()
		if wait == backoff.Stop {
			wait = time.Second
		}
		b.metrics.PubSubReconnects.Inc()
		b.log.Warn("pubsub subscription lost, retrying",
			"channel", b.channel,
			"error", err.Error(),
			"retry_in", wait.String(),
		)
		select {
		case <-ctx.Done():
			return
		case <-time.After(wait):
		}
	}
}

func (b *Bridge) pump(ctx context.Context, sub Subscription, out chan<- []byte) error {
	for {
		payload, err := sub.Receive(ctx)
		if err != nil {
			return err
		}
		select {
		case out <- payload:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
