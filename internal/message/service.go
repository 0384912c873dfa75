package message

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/oklog/ulid/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/ycchat/ycchat/internal/channel"
	"github.com/ycchat/ycchat/internal/logging"
	"github.com/ycchat/ycchat/internal/paging"
	"github.com/ycchat/ycchat/internal/user"
)

const maxContentLen = 4000

type ChannelStore interface {
	Get(ctx context.Context, id channel.ID) (channel.Channel, error)
}

// Audience is the membership resolver as seen by the message service.
type Audience interface {
	Authorize(ctx context.Context, userID user.ID, ch channel.Channel) error
	Recipients(ctx context.Context, ch channel.Channel) ([]user.ID, error)
}

// Publisher hands a stored message to live delivery.
type Publisher interface {
	PublishMessage(ctx context.Context, msg Message) error
}

type UnreadCounter interface {
	Increment(ctx context.Context, userIDs []user.ID, channelID channel.ID) error
	Reset(ctx context.Context, userID user.ID, channelID channel.ID) error
}

type Service struct {
	repo     Repository
	channels ChannelStore
	audience Audience
	pub      Publisher
	unread   UnreadCounter
	log      *slog.Logger
	tracer   trace.Tracer
	idGen    func() string
	now      func() time.Time
}

type Option func(*Service)

func WithUnreadCounter(c UnreadCounter) Option {
	return func(s *Service) { s.unread = c }
}

func WithLogger(log *slog.Logger) Option {
	return func(s *Service) { s.log = log }
}

func NewService(repo Repository, channels ChannelStore, audience Audience, pub Publisher, opts ...Option) *Service {
	s := &Service{
		repo:     repo,
		channels: channels,
		audience: audience,
		pub:      pub,
		log:      logging.Discard(),
		tracer:   otel.Tracer("github.com/ycchat/ycchat/internal/message"),
		idGen:    func() string { return ulid.Make().String() },
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Send stores a new message from author in channelID and publishes it for
// live delivery. If publishing fails the message stays stored and the
// returned error wraps apperr.ErrUnavailable.
func (s *Service) Send(ctx context.Context, author user.ID, channelID channel.ID, content string) (msg Message, err error) {
	ctx, span := s.tracer.Start(ctx, "message.Send", trace.WithAttributes(
		attribute.String("channel.id", string(channelID)),
	))
	defer func() { endSpan(span, err) }()

	if s.repo == nil {
		return Message{}, errors.New("repository is required")
	}
	if author == "" || channelID == "" {
		return Message{}, ErrInvalidInput
	}
	ch, err := s.channels.Get(ctx, channelID)
	if err != nil {
		return Message{}, err
	}
	if err := s.audience.Authorize(ctx, author, ch); err != nil {
		return Message{}, err
	}
	content, err = validateContent(content)
	if err != nil {
		return Message{}, err
	}

	msg = Message{
		ID:         ID(s.idGen()),
		Author:     author,
		Channel:    channelID,
		Content:    content,
		CreateTime: s.now().UTC(),
	}
	if err := s.repo.Save(ctx, msg); err != nil {
		return Message{}, err
	}
	span.SetAttributes(attribute.String("message.id", string(msg.ID)))

	if err := s.pub.PublishMessage(ctx, msg); err != nil {
		return Message{}, fmt.Errorf("message %s stored but not delivered: %w", msg.ID, err)
	}
	s.countUnread(ctx, ch, author)
	return msg, nil
}

// List pages through a channel's messages, newest first. Reading the first
// page marks the channel as read for the caller.
func (s *Service) List(ctx context.Context, userID user.ID, channelID channel.ID, req paging.Request) (page paging.Page[Message], err error) {
	ctx, span := s.tracer.Start(ctx, "message.List", trace.WithAttributes(
		attribute.String("channel.id", string(channelID)),
	))
	defer func() { endSpan(span, err) }()

	if s.repo == nil {
		return paging.Page[Message]{}, errors.New("repository is required")
	}
	if userID == "" || channelID == "" {
		return paging.Page[Message]{}, ErrInvalidInput
	}
	ch, err := s.channels.Get(ctx, channelID)
	if err != nil {
		return paging.Page[Message]{}, err
	}
	if err := s.audience.Authorize(ctx, userID, ch); err != nil {
		return paging.Page[Message]{}, err
	}

	page, err = paging.Paginate[Message](ctx, messagePager{repo: s.repo, channelID: channelID}, req)
	if err != nil {
		return paging.Page[Message]{}, err
	}
	if req.PageToken == "" && s.unread != nil {
		if err := s.unread.Reset(ctx, userID, channelID); err != nil {
			logging.Error(s.log, "reset unread count", err, "user_id", userID, "channel_id", channelID)
		}
	}
	return page, nil
}

// Update replaces the content of the author's own message and publishes the
// new revision.
func (s *Service) Update(ctx context.Context, userID user.ID, channelID channel.ID, id ID, content string) (msg Message, err error) {
	ctx, span := s.tracer.Start(ctx, "message.Update")
	defer func() { endSpan(span, err) }()

	msg, ch, err := s.ownMessage(ctx, userID, channelID, id)
	if err != nil {
		return Message{}, err
	}
	if err := s.audience.Authorize(ctx, userID, ch); err != nil {
		return Message{}, err
	}
	content, err = validateContent(content)
	if err != nil {
		return Message{}, err
	}

	now := s.now().UTC()
	msg.Content = content
	msg.UpdateTime = &now
	if err := s.repo.Update(ctx, msg); err != nil {
		return Message{}, err
	}
	if err := s.pub.PublishMessage(ctx, msg); err != nil {
		return Message{}, fmt.Errorf("message %s updated but not delivered: %w", msg.ID, err)
	}
	return msg, nil
}

func (s *Service) Delete(ctx context.Context, userID user.ID, channelID channel.ID, id ID) (err error) {
	ctx, span := s.tracer.Start(ctx, "message.Delete")
	defer func() { endSpan(span, err) }()

	if _, _, err := s.ownMessage(ctx, userID, channelID, id); err != nil {
		return err
	}
	return s.repo.Delete(ctx, id)
}

func (s *Service) ownMessage(ctx context.Context, userID user.ID, channelID channel.ID, id ID) (Message, channel.Channel, error) {
	if s.repo == nil {
		return Message{}, channel.Channel{}, errors.New("repository is required")
	}
	if userID == "" || channelID == "" || id == "" {
		return Message{}, channel.Channel{}, ErrInvalidInput
	}
	msg, err := s.repo.Get(ctx, id)
	if err != nil {
		return Message{}, channel.Channel{}, err
	}
	if msg.Channel != channelID {
		return Message{}, channel.Channel{}, ErrNotFound
	}
	if msg.Author != userID {
		return Message{}, channel.Channel{}, ErrNotAuthor
	}
	ch, err := s.channels.Get(ctx, channelID)
	if err != nil {
		return Message{}, channel.Channel{}, err
	}
	return msg, ch, nil
}

func (s *Service) countUnread(ctx context.Context, ch channel.Channel, author user.ID) {
	if s.unread == nil {
		return
	}
	recipients, err := s.audience.Recipients(ctx, ch)
	if err != nil {
		logging.Error(s.log, "resolve unread recipients", err, "channel_id", ch.ID)
		return
	}
	others := make([]user.ID, 0, len(recipients))
	for _, id := range recipients {
		if id != author {
			others = append(others, id)
		}
	}
	if len(others) == 0 {
		return
	}
	if err := s.unread.Increment(ctx, others, ch.ID); err != nil {
		logging.Error(s.log, "increment unread count", err, "channel_id", ch.ID)
	}
}

func validateContent(content string) (string, error) {
	trimmed := strings.TrimSpace(content)
	if trimmed == "" || utf8.RuneCountInString(trimmed) > maxContentLen || !utf8.ValidString(trimmed) {
		return "", ErrInvalidInput
	}
	return trimmed, nil
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

type messagePager struct {
	repo      Repository
	channelID channel.ID
}

func (p messagePager) List(ctx context.Context, _ string, limit int, offsetID string) ([]Message, error) {
	return p.repo.ListByChannel(ctx, p.channelID, limit, ID(offsetID))
}

func (p messagePager) ItemID(m Message) string { return string(m.ID) }

func (p messagePager) Count(ctx context.Context, _ string) (int64, error) {
	return p.repo.CountByChannel(ctx, p.channelID)
}
