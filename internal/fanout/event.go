package fanout

import (
	"github.com/ycchat/ycchat/internal/message"
	"github.com/ycchat/ycchat/internal/server"
)

type EventKind string

const (
	EventMessage      EventKind = "message"
	EventMemberJoined EventKind = "member_joined"
	EventMemberLeft   EventKind = "member_left"
)

// Event is what instances exchange over pub/sub.
type Event struct {
	Kind    EventKind        `json:"kind"`
	Message *message.Message `json:"message,omitempty"`
	Member  *server.Member   `json:"member,omitempty"`
}
