package ws

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"nhooyr.io/websocket"

	"github.com/ycchat/ycchat/internal/auth"
	"github.com/ycchat/ycchat/internal/fanout"
	"github.com/ycchat/ycchat/internal/logging"
	"github.com/ycchat/ycchat/internal/user"
)

const (
	sendBuffer   = 16
	writeTimeout = 5 * time.Second

	DefaultPingInterval = 30 * time.Second
)

var ErrClosed = errors.New("stream closed")

type TokenValidator interface {
	ValidateToken(token string) (user.ID, error)
}

// Handler serves GET /connect. Each accepted websocket becomes a fanout.Handle
// registered for the authenticated user until either side closes it.
type Handler struct {
	registry     *fanout.Registry
	tokens       TokenValidator
	log          *slog.Logger
	pingInterval time.Duration
}

func NewHandler(registry *fanout.Registry, tokens TokenValidator, log *slog.Logger, pingInterval time.Duration) *Handler {
	if log == nil {
		log = logging.Discard()
	}
	if pingInterval <= 0 {
		pingInterval = DefaultPingInterval
	}
	return &Handler{
		registry:     registry,
		tokens:       tokens,
		log:          log,
		pingInterval: pingInterval,
	}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if h.registry == nil || h.tokens == nil {
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	token := auth.TokenFromRequest(r)
	if token == "" {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}
	userID, err := h.tokens.ValidateToken(token)
	if err != nil {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}

	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		logging.Error(h.log, "websocket accept failed", err, "user_id", userID)
		return
	}

	// The stream is push only; CloseRead keeps control frames flowing and
	// cancels the context once the peer goes away.
	ctx, cancel := context.WithCancel(conn.CloseRead(r.Context()))
	client := newClient(ctx, cancel, conn)

	id := h.registry.Register(userID, client)
	h.log.Info("stream opened", "user_id", userID, "conn_id", id)

	go client.writeLoop()
	go client.pingLoop(h.pingInterval)
	_ = client.Send(ctx, fanout.PingSignal())

	<-ctx.Done()

	h.registry.Deregister(userID, id)
	client.closeWith(websocket.StatusNormalClosure, "bye")
	h.log.Info("stream closed", "user_id", userID, "conn_id", id)
}

// Client is one live websocket stream.
type Client struct {
	conn      *websocket.Conn
	ctx       context.Context
	cancel    context.CancelFunc
	send      chan fanout.Signal
	closeOnce sync.Once
}

func newClient(ctx context.Context, cancel context.CancelFunc, conn *websocket.Conn) *Client {
	return &Client{
		conn:   conn,
		ctx:    ctx,
		cancel: cancel,
		send:   make(chan fanout.Signal, sendBuffer),
	}
}

// Send queues sig, waiting for buffer space until ctx is done.
func (c *Client) Send(ctx context.Context, sig fanout.Signal) error {
	select {
	case <-c.ctx.Done():
		return ErrClosed
	default:
	}

	select {
	case c.send <- sig:
		return nil
	case <-c.ctx.Done():
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Client) Close(reason string) {
	status := websocket.StatusPolicyViolation
	if reason == fanout.CloseReasonShutdown {
		status = websocket.StatusGoingAway
	}
	c.closeWith(status, reason)
}

func (c *Client) closeWith(status websocket.StatusCode, reason string) {
	c.closeOnce.Do(func() {
		c.cancel()
		if c.conn != nil {
			_ = c.conn.Close(status, reason)
		}
	})
}

func (c *Client) writeLoop() {
	for {
		select {
		case <-c.ctx.Done():
			return
		case sig := <-c.send:
			data, err := json.Marshal(sig)
			if err != nil {
				continue
			}
			ctx, cancel := context.WithTimeout(c.ctx, writeTimeout)
			err = c.conn.Write(ctx, websocket.MessageText, data)
			cancel()
			if err != nil {
				c.closeWith(websocket.StatusInternalError, "write failed")
				return
			}
		}
	}
}

func (c *Client) pingLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-c.ctx.Done():
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(c.ctx, writeTimeout)
			err := c.Send(ctx, fanout.PingSignal())
			if err == nil {
				err = c.conn.Ping(ctx)
			}
			cancel()
			if err != nil {
				c.closeWith(websocket.StatusGoingAway, "ping failed")
				return
			}
		}
	}
}
