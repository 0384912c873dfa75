package message

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/ycchat/ycchat/internal/apperr"
	"github.com/ycchat/ycchat/internal/channel"
	"github.com/ycchat/ycchat/internal/user"
)

type ID string

type Message struct {
	ID         ID         `json:"id"`
	Author     user.ID    `json:"author"`
	Channel    channel.ID `json:"channel"`
	Content    string     `json:"content"`
	CreateTime time.Time  `json:"create_time"`
	UpdateTime *time.Time `json:"update_time,omitempty"`
}

var (
	ErrNotFound     = fmt.Errorf("message %w", apperr.ErrNotFound)
	ErrInvalidInput = fmt.Errorf("message: %w", apperr.ErrInvalidArgument)
	ErrNotAuthor    = fmt.Errorf("%w: only the author may change a message", apperr.ErrPermissionDenied)
)

type Repository interface {
	Save(ctx context.Context, msg Message) error
	Get(ctx context.Context, id ID) (Message, error)
	Update(ctx context.Context, msg Message) error
	Delete(ctx context.Context, id ID) error
	ListByChannel(ctx context.Context, channelID channel.ID, limit int, after ID) ([]Message, error)
	CountByChannel(ctx context.Context, channelID channel.ID) (int64, error)
}

func (m Message) Name() string {
	return "channels/" + string(m.Channel) + "/messages/" + string(m.ID)
}

// ParseName splits "channels/{channel}/messages/{message}".
func ParseName(name string) (channel.ID, ID, error) {
	parts := strings.Split(name, "/")
	if len(parts) != 4 || parts[0] != "channels" || parts[2] != "messages" || parts[1] == "" || parts[3] == "" {
		return "", "", fmt.Errorf("%w: invalid message name %q", apperr.ErrInvalidArgument, name)
	}
	return channel.ID(parts[1]), ID(parts[3]), nil
}
