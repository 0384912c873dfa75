package pubsub

import (
	"context"
	"errors"
	"sync"

	"github.com/redis/go-redis/v9"
)

// Transport is a broadcast channel shared by every instance.
type Transport interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (Subscription, error)
}

// Subscription yields payloads in publish order. Receive blocks until a
// payload arrives, ctx is done or the transport fails.
type Subscription interface {
	Receive(ctx context.Context) ([]byte, error)
	Close() error
}

type RedisTransport struct {
	client *redis.Client
}

func NewRedisTransport(client *redis.Client) *RedisTransport {
	return &RedisTransport{client: client}
}

func (t *RedisTransport) Publish(ctx context.Context, channel string, payload []byte) error {
	return t.client.Publish(ctx, channel, payload).Err()
}

func (t *RedisTransport) Subscribe(ctx context.Context, channel string) (Subscription, error) {
	ps := t.client.Subscribe(ctx, channel)
	// Wait for the confirmation so no publish after this call is missed.
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, err
	}
	return &redisSubscription{ps: ps}, nil
}

type redisSubscription struct {
	ps *redis.PubSub
}

func (s *redisSubscription) Receive(ctx context.Context) ([]byte, error) {
	msg, err := s.ps.ReceiveMessage(ctx)
	if err != nil {
		return nil, err
	}
	return []byte(msg.Payload), nil
}

func (s *redisSubscription) Close() error {
	return s.ps.Close()
}

var ErrSubscriptionClosed = errors.New("subscription closed")

// MemoryTransport is an in-process Transport for tests and single-instance
// deployments.
type MemoryTransport struct {
	mu   sync.Mutex
	subs map[string]map[*memorySubscription]struct{}
}

func NewMemoryTransport() *MemoryTransport {
	return &MemoryTransport{subs: make(map[string]map[*memorySubscription]struct{})}
}

const memoryBuffer = 256

func (t *MemoryTransport) Publish(ctx context.Context, channel string, payload []byte) error {
	t.mu.Lock()
	subs := make([]*memorySubscription, 0, len(t.subs[channel]))
	for s := range t.subs[channel] {
		subs = append(subs, s)
	}
	t.mu.Unlock()

	for _, s := range subs {
		select {
		case s.ch <- append([]byte(nil), payload...):
		case <-s.done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

func (t *MemoryTransport) Subscribe(_ context.Context, channel string) (Subscription, error) {
	s := &memorySubscription{
		ch:   make(chan []byte, memoryBuffer),
		done: make(chan struct{}),
	}
	s.close = func() {
		t.mu.Lock()
		delete(t.subs[channel], s)
		t.mu.Unlock()
	}

	t.mu.Lock()
	if t.subs[channel] == nil {
		t.subs[channel] = make(map[*memorySubscription]struct{})
	}
	t.subs[channel][s] = struct{}{}
	t.mu.Unlock()
	return s, nil
}

type memorySubscription struct {
	ch    chan []byte
	done  chan struct{}
	once  sync.Once
	close func()
}

func (s *memorySubscription) Receive(ctx context.Context) ([]byte, error) {
	select {
	case payload := <-s.ch:
		return payload, nil
	case <-s.done:
		return nil, ErrSubscriptionClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (s *memorySubscription) Close() error {
	s.once.Do(func() {
		s.close()
		close(s.done)
	})
	return nil
}
