package httpapi

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/ycchat/ycchat/internal/apperr"
	"github.com/ycchat/ycchat/internal/auth"
	"github.com/ycchat/ycchat/internal/channel"
	"github.com/ycchat/ycchat/internal/logging"
	"github.com/ycchat/ycchat/internal/message"
	"github.com/ycchat/ycchat/internal/metrics"
	"github.com/ycchat/ycchat/internal/paging"
	"github.com/ycchat/ycchat/internal/server"
	"github.com/ycchat/ycchat/internal/user"
)

const (
	maxBodyBytes  = 1 << 20
	timeLayout    = time.RFC3339Nano
	healthTimeout = 2 * time.Second
)

type AuthService interface {
	Register(ctx context.Context, username, password string) (user.User, auth.Session, error)
	Login(ctx context.Context, username, password string) (user.User, auth.Session, error)
	Refresh(ctx context.Context, refreshToken string) (auth.Session, error)
	Logout(ctx context.Context, refreshToken string) error
	ValidateToken(token string) (user.ID, error)
}

type UserService interface {
	GetByID(ctx context.Context, id user.ID) (user.User, error)
}

type ServerService interface {
	CreateServer(ctx context.Context, owner user.ID, displayName, description string) (server.Server, error)
	ListServers(ctx context.Context, userID user.ID, req paging.Request) (paging.Page[server.Server], error)
	JoinServer(ctx context.Context, userID user.ID, serverID server.ID, displayName string) (server.Member, error)
	LeaveServer(ctx context.Context, userID user.ID, serverID server.ID) error
	ListMembers(ctx context.Context, userID user.ID, serverID server.ID, req paging.Request) (paging.Page[server.Member], error)
}

type ChannelService interface {
	CreateServerChannel(ctx context.Context, userID user.ID, serverID server.ID, displayName, description string) (channel.Channel, error)
	CreateSaved(ctx context.Context, userID user.ID, displayName, description string) (channel.Channel, error)
	CreateDirect(ctx context.Context, userID, participant user.ID, displayName, description string) (channel.Channel, error)
	Get(ctx context.Context, userID user.ID, id channel.ID) (channel.Channel, error)
	ListServerChannels(ctx context.Context, userID user.ID, serverID server.ID, req paging.Request) (paging.Page[channel.Channel], error)
	Delete(ctx context.Context, userID user.ID, id channel.ID) error
}

type MessageService interface {
	Send(ctx context.Context, author user.ID, channelID channel.ID, content string) (message.Message, error)
	List(ctx context.Context, userID user.ID, channelID channel.ID, req paging.Request) (paging.Page[message.Message], error)
	Update(ctx context.Context, userID user.ID, channelID channel.ID, id message.ID, content string) (message.Message, error)
	Delete(ctx context.Context, userID user.ID, channelID channel.ID, id message.ID) error
}

// SendLimiter throttles message sends per caller.
type SendLimiter interface {
	Allow(key string) bool
}

// HealthCheck is one dependency probed by GET /health.
type HealthCheck struct {
	Name  string
	Check func(ctx context.Context) error
}

type Deps struct {
	Auth     AuthService
	Users    UserService
	Servers  ServerService
	Channels ChannelService
	Messages MessageService
	Limiter  SendLimiter
	Stream   http.Handler
	Health   []HealthCheck
	Metrics  *metrics.Metrics
	Log      *slog.Logger
}

type Handler struct {
	auth     AuthService
	users    UserService
	servers  ServerService
	channels ChannelService
	messages MessageService
	limiter  SendLimiter
	stream   http.Handler
	health   []HealthCheck
	metrics  *metrics.Metrics
	log      *slog.Logger
}

func NewHandler(d Deps) *Handler {
	if d.Log == nil {
		d.Log = logging.Discard()
	}
	if d.Metrics == nil {
		d.Metrics = metrics.New()
	}
	return &Handler{
		auth:     d.Auth,
		users:    d.Users,
		servers:  d.Servers,
		channels: d.Channels,
		messages: d.Messages,
		limiter:  d.Limiter,
		stream:   d.Stream,
		health:   d.Health,
		metrics:  d.Metrics,
		log:      d.Log,
	}
}

func (h *Handler) Register(mux *http.ServeMux) {
	mux.Handle("/auth/register", h.instrument("/auth/register", h.handleRegister))
	mux.Handle("/auth/login", h.instrument("/auth/login", h.handleLogin))
	mux.Handle("/auth/refresh", h.instrument("/auth/refresh", h.handleRefresh))
	mux.Handle("/auth/logout", h.instrument("/auth/logout", h.handleLogout))
	mux.Handle("/health", h.instrument("/health", h.handleHealth))
	mux.Handle("/metrics", h.metrics.Handler())

	h.protect(mux, "/users/me", h.handleMe)
	h.protect(mux, "/servers", h.handleServers)
	h.protect(mux, "/servers/members", h.handleServerMembers)
	h.protect(mux, "/servers/channels", h.handleServerChannels)
	h.protect(mux, "/channels", h.handleChannels)
	h.protect(mux, "/channels/messages", h.handleChannelMessages)
	h.protect(mux, "/messages", h.handleMessages)

	if h.stream != nil {
		mux.Handle("/connect", h.stream)
	}
}

func (h *Handler) protect(mux *http.ServeMux, route string, fn http.HandlerFunc) {
	mux.Handle(route, h.instrument(route, auth.Middleware(h.auth, fn).ServeHTTP))
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}

func (h *Handler) instrument(route string, fn http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		fn(sw, r)
		h.metrics.HTTPRequests.WithLabelValues(route, strconv.Itoa(sw.status)).Inc()
	})
}

// callerID returns the user set by auth.Middleware.
func callerID(r *http.Request) user.ID {
	id, _ := auth.UserIDFromContext(r.Context())
	return id
}

type credentialsRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

func (h *Handler) handleRegister(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req credentialsRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}

	u, session, err := h.auth.Register(r.Context(), req.Username, req.Password)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, newSessionResponse(session, u.Username))
}

func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req credentialsRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}

	u, session, err := h.auth.Login(r.Context(), req.Username, req.Password)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newSessionResponse(session, u.Username))
}

func (h *Handler) handleRefresh(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req refreshRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}

	session, err := h.auth.Refresh(r.Context(), req.RefreshToken)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newSessionResponse(session, ""))
}

func (h *Handler) handleLogout(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req refreshRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}

	if err := h.auth.Logout(r.Context(), req.RefreshToken); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleMe(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	u, err := h.users.GetByID(r.Context(), callerID(r))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newUserResponse(u))
}

type createServerRequest struct {
	DisplayName string `json:"display_name"`
	Description string `json:"description"`
}

func (h *Handler) handleServers(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		req, err := pageRequest(r, "")
		if err != nil {
			h.writeError(w, r, err)
			return
		}
		page, err := h.servers.ListServers(r.Context(), callerID(r), req)
		if err != nil {
			h.writeError(w, r, err)
			return
		}
		resp := serverListResponse{Servers: make([]serverResponse, 0, len(page.Items)), pageInfo: newPageInfo(page.NextPageToken, page.PrevPageToken, page.TotalSize)}
		for _, srv := range page.Items {
			resp.Servers = append(resp.Servers, newServerResponse(srv))
		}
		writeJSON(w, http.StatusOK, resp)
	case http.MethodPost:
		var req createServerRequest
		if err := decodeJSON(w, r, &req); err != nil {
			h.writeError(w, r, err)
			return
		}
		srv, err := h.servers.CreateServer(r.Context(), callerID(r), req.DisplayName, req.Description)
		if err != nil {
			h.writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, newServerResponse(srv))
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

type joinServerRequest struct {
	Parent      string `json:"parent"`
	DisplayName string `json:"display_name"`
}

func (h *Handler) handleServerMembers(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		serverID, err := server.ParseName(r.URL.Query().Get("parent"))
		if err != nil {
			h.writeError(w, r, err)
			return
		}
		req, err := pageRequest(r, string(serverID))
		if err != nil {
			h.writeError(w, r, err)
			return
		}
		page, err := h.servers.ListMembers(r.Context(), callerID(r), serverID, req)
		if err != nil {
			h.writeError(w, r, err)
			return
		}
		resp := memberListResponse{Members: make([]memberResponse, 0, len(page.Items)), pageInfo: newPageInfo(page.NextPageToken, page.PrevPageToken, page.TotalSize)}
		for _, m := range page.Items {
			resp.Members = append(resp.Members, newMemberResponse(m))
		}
		writeJSON(w, http.StatusOK, resp)
	case http.MethodPost:
		var req joinServerRequest
		if err := decodeJSON(w, r, &req); err != nil {
			h.writeError(w, r, err)
			return
		}
		serverID, err := server.ParseName(req.Parent)
		if err != nil {
			h.writeError(w, r, err)
			return
		}
		m, err := h.servers.JoinServer(r.Context(), callerID(r), serverID, req.DisplayName)
		if err != nil {
			h.writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, newMemberResponse(m))
	case http.MethodDelete:
		serverID, err := server.ParseName(r.URL.Query().Get("parent"))
		if err != nil {
			h.writeError(w, r, err)
			return
		}
		if err := h.servers.LeaveServer(r.Context(), callerID(r), serverID); err != nil {
			h.writeError(w, r, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

type createServerChannelRequest struct {
	Parent      string `json:"parent"`
	DisplayName string `json:"display_name"`
	Description string `json:"description"`
}

func (h *Handler) handleServerChannels(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		serverID, err := server.ParseName(r.URL.Query().Get("parent"))
		if err != nil {
			h.writeError(w, r, err)
			return
		}
		req, err := pageRequest(r, string(serverID))
		if err != nil {
			h.writeError(w, r, err)
			return
		}
		page, err := h.channels.ListServerChannels(r.Context(), callerID(r), serverID, req)
		if err != nil {
			h.writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, newChannelListResponse(page))
	case http.MethodPost:
		var req createServerChannelRequest
		if err := decodeJSON(w, r, &req); err != nil {
			h.writeError(w, r, err)
			return
		}
		serverID, err := server.ParseName(req.Parent)
		if err != nil {
			h.writeError(w, r, err)
			return
		}
		ch, err := h.channels.CreateServerChannel(r.Context(), callerID(r), serverID, req.DisplayName, req.Description)
		if err != nil {
			h.writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, newChannelResponse(ch))
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

type createChannelRequest struct {
	Type        string `json:"type"`
	Participant string `json:"participant"`
	DisplayName string `json:"display_name"`
	Description string `json:"description"`
}

func (h *Handler) handleChannels(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		id, err := channel.ParseName(r.URL.Query().Get("name"))
		if err != nil {
			h.writeError(w, r, err)
			return
		}
		ch, err := h.channels.Get(r.Context(), callerID(r), id)
		if err != nil {
			h.writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, newChannelResponse(ch))
	case http.MethodPost:
		var req createChannelRequest
		if err := decodeJSON(w, r, &req); err != nil {
			h.writeError(w, r, err)
			return
		}
		var (
			ch  channel.Channel
			err error
		)
		switch strings.ToLower(strings.TrimSpace(req.Type)) {
		case channel.KindSaved:
			ch, err = h.channels.CreateSaved(r.Context(), callerID(r), req.DisplayName, req.Description)
		case channel.KindDirect:
			participant := user.ID(strings.TrimPrefix(strings.TrimSpace(req.Participant), "users/"))
			ch, err = h.channels.CreateDirect(r.Context(), callerID(r), participant, req.DisplayName, req.Description)
		default:
			err = fmt.Errorf("%w: channel type must be saved or direct", apperr.ErrInvalidArgument)
		}
		if err != nil {
			h.writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, newChannelResponse(ch))
	case http.MethodDelete:
		id, err := channel.ParseName(r.URL.Query().Get("name"))
		if err != nil {
			h.writeError(w, r, err)
			return
		}
		if err := h.channels.Delete(r.Context(), callerID(r), id); err != nil {
			h.writeError(w, r, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

type sendMessageRequest struct {
	Parent  string `json:"parent"`
	Content string `json:"content"`
}

func (h *Handler) handleChannelMessages(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		channelID, err := channel.ParseName(r.URL.Query().Get("parent"))
		if err != nil {
			h.writeError(w, r, err)
			return
		}
		req, err := pageRequest(r, string(channelID))
		if err != nil {
			h.writeError(w, r, err)
			return
		}
		page, err := h.messages.List(r.Context(), callerID(r), channelID, req)
		if err != nil {
			h.writeError(w, r, err)
			return
		}
		resp := messageListResponse{Messages: make([]messageResponse, 0, len(page.Items)), pageInfo: newPageInfo(page.NextPageToken, page.PrevPageToken, page.TotalSize)}
		for _, msg := range page.Items {
			resp.Messages = append(resp.Messages, newMessageResponse(msg))
		}
		writeJSON(w, http.StatusOK, resp)
	case http.MethodPost:
		caller := callerID(r)
		if h.limiter != nil && !h.limiter.Allow(string(caller)) {
			h.metrics.RateLimited.Inc()
			h.writeError(w, r, fmt.Errorf("%w: too many messages", apperr.ErrRateLimited))
			return
		}

		var req sendMessageRequest
		if err := decodeJSON(w, r, &req); err != nil {
			h.writeError(w, r, err)
			return
		}
		channelID, err := channel.ParseName(req.Parent)
		if err != nil {
			h.writeError(w, r, err)
			return
		}
		msg, err := h.messages.Send(r.Context(), caller, channelID, req.Content)
		if err != nil {
			h.writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, newMessageResponse(msg))
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

type updateMessageRequest struct {
	Name    string `json:"name"`
	Content string `json:"content"`
}

func (h *Handler) handleMessages(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPatch:
		var req updateMessageRequest
		if err := decodeJSON(w, r, &req); err != nil {
			h.writeError(w, r, err)
			return
		}
		channelID, id, err := message.ParseName(req.Name)
		if err != nil {
			h.writeError(w, r, err)
			return
		}
		msg, err := h.messages.Update(r.Context(), callerID(r), channelID, id, req.Content)
		if err != nil {
			h.writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, newMessageResponse(msg))
	case http.MethodDelete:
		channelID, id, err := message.ParseName(r.URL.Query().Get("name"))
		if err != nil {
			h.writeError(w, r, err)
			return
		}
		if err := h.messages.Delete(r.Context(), callerID(r), channelID, id); err != nil {
			h.writeError(w, r, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

type healthResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), healthTimeout)
	defer cancel()

	resp := healthResponse{Status: "ok", Checks: make(map[string]string, len(h.health))}
	status := http.StatusOK
	for _, hc := range h.health {
		if err := hc.Check(ctx); err != nil {
			logging.Error(h.log, "health check failed", err, "check", hc.Name)
			resp.Checks[hc.Name] = "unavailable"
			resp.Status = "degraded"
			status = http.StatusServiceUnavailable
			continue
		}
		resp.Checks[hc.Name] = "ok"
	}
	writeJSON(w, status, resp)
}

func pageRequest(r *http.Request, parent string) (paging.Request, error) {
	q := r.URL.Query()
	req := paging.Request{Parent: parent, PageToken: strings.TrimSpace(q.Get("page_token"))}
	if raw := strings.TrimSpace(q.Get("page_size")); raw != "" {
		size, err := strconv.ParseUint(raw, 10, 32)
		if err != nil {
			return paging.Request{}, fmt.Errorf("%w: page_size must be a non-negative integer", apperr.ErrInvalidArgument)
		}
		req.PageSize = uint32(size)
	}
	return req, nil
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return fmt.Errorf("%w: %v", apperr.ErrInvalidArgument, err)
	}
	if dec.More() {
		return fmt.Errorf("%w: multiple json objects are not allowed", apperr.ErrInvalidArgument)
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

type errorResponse struct {
	Error string      `json:"error"`
	Code  apperr.Code `json:"code"`
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := apperr.HTTPStatus(err)
	msg := err.Error()
	if status >= http.StatusInternalServerError {
		logging.Error(h.log, "request failed", err, "method", r.Method, "path", r.URL.Path)
		if status == http.StatusInternalServerError {
			msg = "internal error"
		}
	}
	writeJSON(w, status, errorResponse{Error: msg, Code: apperr.CodeOf(err)})
}
