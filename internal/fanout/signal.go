package fanout

import (
	"encoding/json"
	"fmt"

	"github.com/ycchat/ycchat/internal/message"
	"github.com/ycchat/ycchat/internal/server"
)

type Kind string

const (
	KindPing                  Kind = "ping"
	KindChannelReceiveMessage Kind = "channel_receive_message"
	KindServerEntryUser       Kind = "server_entry_user"
	KindServerLeaveUser       Kind = "server_leave_user"
)

// Signal is one frame pushed down a stream.
type Signal struct {
	Kind    Kind
	Message *message.Message
	Member  *server.Member
}

func PingSignal() Signal {
	return Signal{Kind: KindPing}
}

func MessageSignal(msg message.Message) Signal {
	return Signal{Kind: KindChannelReceiveMessage, Message: &msg}
}

type messagePayload struct {
	Message *message.Message `json:"message"`
}

type memberPayload struct {
	Member *server.Member `json:"member"`
}

// MarshalJSON writes {"type": kind, kind: payload}.
func (s Signal) MarshalJSON() ([]byte, error) {
	var payload any
	switch s.Kind {
	case KindPing:
		payload = struct{}{}
	case KindChannelReceiveMessage:
		if s.Message == nil {
			return nil, fmt.Errorf("signal %s without message", s.Kind)
		}
		payload = messagePayload{Message: s.Message}
	case KindServerEntryUser, KindServerLeaveUser:
		if s.Member == nil {
			return nil, fmt.Errorf("signal %s without member", s.Kind)
		}
		payload = memberPayload{Member: s.Member}
	default:
		return nil, fmt.Errorf("unknown signal kind %q", s.Kind)
	}
	return json.Marshal(map[string]any{
		"type":         s.Kind,
		string(s.Kind): payload,
	})
}
