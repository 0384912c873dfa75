// Package redisstore keeps short-lived state in Redis: refresh tokens and
// per-user unread counters.
package redisstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ycchat/ycchat/internal/apperr"
	"github.com/ycchat/ycchat/internal/channel"
	"github.com/ycchat/ycchat/internal/user"
)

// NewClient connects to the Redis server at url (redis://...) and checks it
// responds.
func NewClient(ctx context.Context, url string) (*redis.Client, error) {
	if url == "" {
		return nil, fmt.Errorf("redis url is required")
	}
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return client, nil
}

var ErrRefreshTokenNotFound = fmt.Errorf("%w: refresh token is invalid or expired", apperr.ErrUnauthenticated)

const DefaultRefreshTTL = 14 * 24 * time.Hour

type RefreshTokens struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRefreshTokens(client *redis.Client, ttl time.Duration) *RefreshTokens {
	if ttl <= 0 {
		ttl = DefaultRefreshTTL
	}
	return &RefreshTokens{client: client, ttl: ttl}
}

func refreshKey(token string) string {
	return "ycchat:auth:refresh_token:" + token
}

func (s *RefreshTokens) Save(ctx context.Context, token string, userID user.ID) error {
	if err := s.client.Set(ctx, refreshKey(token), string(userID), s.ttl).Err(); err != nil {
		return fmt.Errorf("save refresh token: %w", err)
	}
	return nil
}

func (s *RefreshTokens) Lookup(ctx context.Context, token string) (user.ID, error) {
	id, err := s.client.Get(ctx, refreshKey(token)).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrRefreshTokenNotFound
	}
	if err != nil {
		return "", fmt.Errorf("lookup refresh token: %w", err)
	}
	return user.ID(id), nil
}

// Consume returns the token's user and deletes the token in one step, so a
// refresh token can be redeemed only once.
func (s *RefreshTokens) Consume(ctx context.Context, token string) (user.ID, error) {
	id, err := s.client.GetDel(ctx, refreshKey(token)).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrRefreshTokenNotFound
	}
	if err != nil {
		return "", fmt.Errorf("consume refresh token: %w", err)
	}
	return user.ID(id), nil
}

func (s *RefreshTokens) Revoke(ctx context.Context, token string) error {
	if err := s.client.Del(ctx, refreshKey(token)).Err(); err != nil {
		return fmt.Errorf("revoke refresh token: %w", err)
	}
	return nil
}

type UnreadCounter struct {
	client *redis.Client
}

func NewUnreadCounter(client *redis.Client) *UnreadCounter {
	return &UnreadCounter{client: client}
}

func unreadKey(userID user.ID, channelID channel.ID) string {
	return fmt.Sprintf("ycchat:members:%s:channels:%s:unread", userID, channelID)
}

func (c *UnreadCounter) Increment(ctx context.Context, userIDs []user.ID, channelID channel.ID) error {
	if len(userIDs) == 0 {
		return nil
	}
	pipe := c.client.Pipeline()
	for _, id := range userIDs {
		pipe.Incr(ctx, unreadKey(id, channelID))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("increment unread counters: %w", err)
	}
	return nil
}

func (c *UnreadCounter) Reset(ctx context.Context, userID user.ID, channelID channel.ID) error {
	if err := c.client.Del(ctx, unreadKey(userID, channelID)).Err(); err != nil {
		return fmt.Errorf("reset unread counter: %w", err)
	}
	return nil
}

func (c *UnreadCounter) Unread(ctx context.Context, userID user.ID, channelID channel.ID) (int64, error) {
	n, err := c.client.Get(ctx, unreadKey(userID, channelID)).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read unread counter: %w", err)
	}
	return n, nil
}
