package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/sharetube/syncroom/internal/controller"
	"github.com/sharetube/syncroom/internal/metrics"
	connInmemory "github.com/sharetube/syncroom/internal/repository/connection/inmemory"
	roomInmemory "github.com/sharetube/syncroom/internal/repository/room/inmemory"
	"github.com/sharetube/syncroom/internal/repository/token"
	tokenInmemory "github.com/sharetube/syncroom/internal/repository/token/inmemory"
	tokenRedis "github.com/sharetube/syncroom/internal/repository/token/redis"
	"github.com/sharetube/syncroom/internal/service/room"
	"github.com/sharetube/syncroom/pkg/ctxlogger"
	"github.com/sharetube/syncroom/pkg/redisclient"
	"github.com/sharetube/syncroom/pkg/wsconn"
)

const (
	TokenStoreMemory = "memory"
	TokenStoreRedis  = "redis"
)

const shutdownTimeout = 30 * time.Second

type AppConfig struct {
	Host              string        `json:"host"`
	Port              int           `json:"port"`
	LogLevel          string        `json:"log_level"`
	HeartbeatInterval time.Duration `json:"heartbeat_interval"`
	ShareTokenTTL     time.Duration `json:"share_token_ttl"`
	PendingRequestTTL time.Duration `json:"pending_request_ttl"`
	SendBuffer        int           `json:"send_buffer"`
	MessagesPerSecond float64       `json:"messages_per_second"`
	MessageBurst      int           `json:"message_burst"`
	TokenStore        string        `json:"token_store"`
	RedisHost         string        `json:"redis_host"`
	RedisPort         int           `json:"redis_port"`
	RedisPassword     string        `json:"-"`
}

func (cfg *AppConfig) Validate() error {
	if cfg.Port < 1 || cfg.Port > 65535 {
		return fmt.Errorf("port must be between 1 and 65535, got %d", cfg.Port)
	}
	if _, err := parseLogLevel(cfg.LogLevel); err != nil {
		return err
	}
	if cfg.HeartbeatInterval <= 0 {
		return errors.New("heartbeat interval must be positive")
	}
	if cfg.ShareTokenTTL <= 0 {
		return errors.New("share token ttl must be positive")
	}
	if cfg.PendingRequestTTL < 0 {
		return errors.New("pending request ttl must not be negative")
	}
	if cfg.SendBuffer < 1 {
		return errors.New("send buffer must be greater than 0")
	}
	if cfg.MessagesPerSecond < 0 {
		return errors.New("messages per second must not be negative")
	}
	if cfg.MessagesPerSecond > 0 && cfg.MessageBurst < 1 {
		return errors.New("message burst must be greater than 0 when rate limiting is enabled")
	}

	switch cfg.TokenStore {
	case TokenStoreMemory:
	case TokenStoreRedis:
		if cfg.RedisHost == "" {
			return errors.New("redis host is required for the redis token store")
		}
		if cfg.RedisPort < 1 || cfg.RedisPort > 65535 {
			return fmt.Errorf("redis port must be between 1 and 65535, got %d", cfg.RedisPort)
		}
	default:
		return fmt.Errorf("unknown token store %q", cfg.TokenStore)
	}

	return nil
}

func parseLogLevel(s string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.ToUpper(s))); err != nil {
		return level, fmt.Errorf("invalid log level %q: %w", s, err)
	}

	return level, nil
}

type tokenRepo interface {
	Set(ctx context.Context, t token.ShareToken) error
	Get(ctx context.Context, roomID, value string) (token.ShareToken, error)
	Remove(ctx context.Context, roomID, value string) error
	RemoveRoomTokens(ctx context.Context, roomID string) error
}

// newTokenRepo returns the configured share token store and a func releasing it.
func newTokenRepo(ctx context.Context, cfg *AppConfig, logger *slog.Logger) (tokenRepo, func(), error) {
	if cfg.TokenStore != TokenStoreRedis {
		return tokenInmemory.NewRepo(logger), func() {}, nil
	}

	rc, err := redisclient.NewRedisClient(ctx, &redisclient.Config{
		Host:     cfg.RedisHost,
		Port:     cfg.RedisPort,
		Password: cfg.RedisPassword,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create redis client: %w", err)
	}

	return tokenRedis.NewRepo(rc, logger, cfg.ShareTokenTTL), func() { rc.Close() }, nil
}

// sweepPendingRequests expires stale join requests until ctx is done.
func sweepPendingRequests(ctx context.Context, clock clockwork.Clock, every time.Duration, expire func(context.Context)) {
	ticker := clock.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			expire(ctx)
		}
	}
}

// sweepInterval checks often enough that a request never outlives its ttl by more than a quarter.
func sweepInterval(ttl time.Duration) time.Duration {
	return max(ttl/4, 100*time.Millisecond)
}

func Run(ctx context.Context, cfg *AppConfig) error {
	logLevel, err := parseLogLevel(cfg.LogLevel)
	if err != nil {
		return err
	}

	h := ctxlogger.ContextHandler{
		Handler: slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level:     logLevel,
			AddSource: true,
		}),
	}

	logger := slog.New(&h)
	slog.SetDefault(logger)

	tokenRepo, closeTokenRepo, err := newTokenRepo(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeTokenRepo()

	clock := clockwork.NewRealClock()
	roomRepo := roomInmemory.NewRepo(clock, logger)
	connectionRepo := connInmemory.NewRepo(logger)
	roomService := room.NewService(roomRepo, tokenRepo, connectionRepo, clock, logger, room.Config{
		ShareTokenTTL:     cfg.ShareTokenTTL,
		PendingRequestTTL: cfg.PendingRequestTTL,
	})

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	collector := metrics.NewCollector(reg, func() int {
		return len(roomRepo.RoomIDs(context.Background()))
	})

	controller := controller.NewController(roomService, connectionRepo, collector, logger, controller.Config{
		Conn:              wsconn.Config{SendBuffer: cfg.SendBuffer},
		MessagesPerSecond: cfg.MessagesPerSecond,
		MessageBurst:      cfg.MessageBurst,
		HeartbeatInterval: cfg.HeartbeatInterval,
	})
	server := &http.Server{Addr: fmt.Sprintf("%s:%d", cfg.Host, cfg.Port), Handler: controller.Mux()}

	// graceful shutdown
	serverCtx, serverStopCtx := context.WithCancel(ctx)
	defer serverStopCtx()

	if cfg.PendingRequestTTL > 0 {
		go sweepPendingRequests(serverCtx, clock, sweepInterval(cfg.PendingRequestTTL), controller.ExpirePendingRequests)
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGHUP, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)
	defer signal.Stop(sig)

	shutdownErr := make(chan error, 1)
	go func() {
		select {
		case <-sig:
		case <-serverCtx.Done():
		}

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		shutdownErr <- server.Shutdown(shutdownCtx)
		serverStopCtx()
	}()

	logger.InfoContext(serverCtx, "starting server", "address", server.Addr)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}

	if err := <-shutdownErr; err != nil {
		return fmt.Errorf("graceful shutdown failed: %w", err)
	}
	logger.InfoContext(ctx, "server stopped")

	return nil
}
