package fanout

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/ycchat/ycchat/internal/metrics"
	"github.com/ycchat/ycchat/internal/user"
)

// Handle is the outbound side of one live stream.
type Handle interface {
	// Send queues sig for delivery, giving up when ctx is done.
	Send(ctx context.Context, sig Signal) error
	Close(reason string)
}

type ConnID string

// Reasons passed to Handle.Close.
const (
	CloseReasonSendFailed = "send failed"
	CloseReasonShutdown   = "server shutdown"
)

type Connection struct {
	ID     ConnID
	Handle Handle
}

// Registry tracks the live streams of every connected user on this instance.
type Registry struct {
	mu      sync.RWMutex
	conns   map[user.ID]map[ConnID]Handle
	metrics *metrics.Metrics
}

func NewRegistry(m *metrics.Metrics) *Registry {
	if m == nil {
		m = metrics.New()
	}
	return &Registry{
		conns:   make(map[user.ID]map[ConnID]Handle),
		metrics: m,
	}
}

// Register adds h to the user's live connections. Existing connections of the
// same user are kept.
func (r *Registry) Register(userID user.ID, h Handle) ConnID {
	id := ConnID(uuid.NewString())

	r.mu.Lock()
	set, ok := r.conns[userID]
	if !ok {
		set = make(map[ConnID]Handle)
		r.conns[userID] = set
	}
	set[id] = h
	r.mu.Unlock()

	r.metrics.Connections.Inc()
	return id
}

// Deregister removes one connection and reports whether it was registered.
func (r *Registry) Deregister(userID user.ID, id ConnID) bool {
	r.mu.Lock()
	set, ok := r.conns[userID]
	if ok {
		_, ok = set[id]
		delete(set, id)
		if len(set) == 0 {
			delete(r.conns, userID)
		}
	}
	r.mu.Unlock()

	if ok {
		r.metrics.Connections.Dec()
	}
	return ok
}

// ConnectionsFor returns a snapshot of the user's connections. An offline user
// has none.
func (r *Registry) ConnectionsFor(userID user.ID) []Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()

	set := r.conns[userID]
	out := make([]Connection, 0, len(set))
	for id, h := range set {
		out = append(out, Connection{ID: id, Handle: h})
	}
	return out
}

func (r *Registry) Online(userID user.ID) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns[userID]) > 0
}

func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := 0
	for _, set := range r.conns {
		n += len(set)
	}
	return n
}

// CloseAll closes and forgets every connection.
func (r *Registry) CloseAll(reason string) {
	r.mu.Lock()
	conns := r.conns
	r.conns = make(map[user.ID]map[ConnID]Handle)
	r.mu.Unlock()

	for _, set := range conns {
		for _, h := range set {
			h.Close(reason)
			r.metrics.Connections.Dec()
		}
	}
}
