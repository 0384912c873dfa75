package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/ycchat/ycchat/internal/auth"
	"github.com/ycchat/ycchat/internal/channel"
	"github.com/ycchat/ycchat/internal/config"
	"github.com/ycchat/ycchat/internal/fanout"
	"github.com/ycchat/ycchat/internal/httpapi"
	"github.com/ycchat/ycchat/internal/logging"
	"github.com/ycchat/ycchat/internal/membership"
	"github.com/ycchat/ycchat/internal/message"
	"github.com/ycchat/ycchat/internal/metrics"
	"github.com/ycchat/ycchat/internal/pubsub"
	"github.com/ycchat/ycchat/internal/ratelimit"
	"github.com/ycchat/ycchat/internal/redisstore"
	"github.com/ycchat/ycchat/internal/server"
	"github.com/ycchat/ycchat/internal/storage"
	"github.com/ycchat/ycchat/internal/tracing"
	"github.com/ycchat/ycchat/internal/user"
	"github.com/ycchat/ycchat/internal/ws"
)

const serviceName = "ycchat"

func main() {
	if err := config.LoadDotEnv(); err != nil {
		fmt.Fprintf(os.Stderr, "load .env: %v\n", err)
		os.Exit(1)
	}
	cfg, err := loadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}

	log := logging.New(logging.Config{Level: cfg.LogLevel, Format: cfg.LogFormat, Output: os.Stderr})
	slog.SetDefault(log)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		logging.Error(log, "server failed", err)
		os.Exit(1)
	}
}

func loadConfig() (config.Config, error) {
	cfg, err := config.LoadFromEnv()
	if err != nil {
		return config.Config{}, fmt.Errorf("config load failed: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return config.Config{}, fmt.Errorf("config invalid: %w", err)
	}
	return cfg, nil
}

func run(ctx context.Context, cfg config.Config, log *slog.Logger) error {
	var traceOut io.Writer
	if cfg.TraceStdout {
		traceOut = os.Stdout
	}
	shutdownTracing, err := tracing.Setup(serviceName, traceOut)
	if err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdownTracing(ctx)
	}()

	storeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	store, err := storage.NewPostgresStore(storeCtx, cfg.DBURL)
	if err != nil {
		return fmt.Errorf("init store: %w", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = store.Close(ctx)
	}()

	migrateCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if err := store.Migrate(migrateCtx); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}

	redisCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	redisClient, err := redisstore.NewClient(redisCtx, cfg.RedisURL)
	if err != nil {
		return fmt.Errorf("init redis: %w", err)
	}
	defer redisClient.Close()

	m := metrics.New()
	refreshTokens := redisstore.NewRefreshTokens(redisClient, cfg.RefreshTokenTTL)
	unread := redisstore.NewUnreadCounter(redisClient)

	resolver := membership.NewResolver(store.Channels(), store.Servers())
	registry := fanout.NewRegistry(m)
	broadcaster := fanout.NewBroadcaster(registry, resolver, log, m, fanout.Config{
		SendTimeout: cfg.FanoutSendTimeout,
		Workers:     cfg.FanoutWorkers,
	})
	bridge := pubsub.NewBridge(pubsub.NewRedisTransport(redisClient), cfg.PubSubChannel, broadcaster, log, m)

	userService := user.NewService(store.Users())
	authService, err := auth.NewService(userService, refreshTokens, auth.Config{
		Secret:    cfg.JWTSecret,
		AccessTTL: cfg.AccessTokenTTL,
	})
	if err != nil {
		return fmt.Errorf("init auth: %w", err)
	}
	serverService := server.NewService(store.Servers(), bridge)
	channelService := channel.NewService(store.Channels(), resolver, serverService, userService, unread)
	messageService := message.NewService(store.Messages(), store.Channels(), resolver, bridge,
		message.WithUnreadCounter(unread),
		message.WithLogger(log),
	)

	limiter := ratelimit.New(ratelimit.Options{
		Limit:  rate.Limit(cfg.SendRateLimit),
		Burst:  cfg.SendRateBurst,
		Expiry: time.Hour,
	})

	api := httpapi.NewHandler(httpapi.Deps{
		Auth:     authService,
		Users:    userService,
		Servers:  serverService,
		Channels: channelService,
		Messages: messageService,
		Limiter:  limiter,
		Stream:   ws.NewHandler(registry, authService, log, cfg.PingInterval),
		Health: []httpapi.HealthCheck{
			{Name: "postgres", Check: store.Ping},
			{Name: "redis", Check: func(ctx context.Context) error { return redisClient.Ping(ctx).Err() }},
		},
		Metrics: m,
		Log:     log,
	})
	mux := http.NewServeMux()
	api.Register(mux)

	srv := newHTTPServer(cfg.ListenAddr, logging.Middleware(log, mux))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return bridge.Run(gctx)
	})
	g.Go(func() error {
		limiter.Run(gctx)
		return nil
	})
	g.Go(func() error {
		return serve(gctx, srv, cfg.TLSCertPath, cfg.TLSKeyPath, log, func() {
			registry.CloseAll(fanout.CloseReasonShutdown)
		})
	})
	return g.Wait()
}

// newHTTPServer leaves read and write timeouts unset because /connect streams
// are long lived; the ws package bounds each write itself.
func newHTTPServer(addr string, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
}

// serve runs srv until ctx is done, then calls beforeShutdown and drains
// in-flight requests.
func serve(ctx context.Context, srv *http.Server, certPath, keyPath string, log *slog.Logger, beforeShutdown func()) error {
	errCh := make(chan error, 1)
	go func() {
		if certPath != "" && keyPath != "" {
			log.Info("listening with TLS", "addr", srv.Addr)
			errCh <- srv.ListenAndServeTLS(certPath, keyPath)
			return
		}
		log.Info("listening", "addr", srv.Addr)
		errCh <- srv.ListenAndServe()
	}()

	var err error
	select {
	case <-ctx.Done():
		log.Info("shutting down")
		if beforeShutdown != nil {
			beforeShutdown()
		}
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		err = <-errCh
	case err = <-errCh:
	}

	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server failed: %w", err)
	}
	return nil
}
