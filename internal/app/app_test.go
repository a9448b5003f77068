package app

import (
	"context"
	"log/slog"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/jonboulle/clockwork"
	"github.com/sharetube/syncroom/internal/repository/token"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() AppConfig {
	return AppConfig{
		Host:              "0.0.0.0",
		Port:              8080,
		LogLevel:          "info",
		HeartbeatInterval: 500 * time.Millisecond,
		ShareTokenTTL:     24 * time.Hour,
		SendBuffer:        64,
		MessagesPerSecond: 50,
		MessageBurst:      100,
		TokenStore:        TokenStoreMemory,
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(cfg *AppConfig)
		wantErr bool
	}{
		{name: "valid", modify: func(cfg *AppConfig) {}},
		{name: "bad port", modify: func(cfg *AppConfig) { cfg.Port = 0 }, wantErr: true},
		{name: "bad log level", modify: func(cfg *AppConfig) { cfg.LogLevel = "loud" }, wantErr: true},
		{name: "zero heartbeat", modify: func(cfg *AppConfig) { cfg.HeartbeatInterval = 0 }, wantErr: true},
		{name: "zero token ttl", modify: func(cfg *AppConfig) { cfg.ShareTokenTTL = 0 }, wantErr: true},
		{name: "negative pending ttl", modify: func(cfg *AppConfig) { cfg.PendingRequestTTL = -time.Second }, wantErr: true},
		{name: "zero send buffer", modify: func(cfg *AppConfig) { cfg.SendBuffer = 0 }, wantErr: true},
		{name: "rate limit without burst", modify: func(cfg *AppConfig) { cfg.MessageBurst = 0 }, wantErr: true},
		{name: "rate limit disabled", modify: func(cfg *AppConfig) { cfg.MessagesPerSecond = 0; cfg.MessageBurst = 0 }},
		{name: "unknown token store", modify: func(cfg *AppConfig) { cfg.TokenStore = "etcd" }, wantErr: true},
		{name: "redis without host", modify: func(cfg *AppConfig) { cfg.TokenStore = TokenStoreRedis; cfg.RedisPort = 6379 }, wantErr: true},
		{name: "redis", modify: func(cfg *AppConfig) {
			cfg.TokenStore = TokenStoreRedis
			cfg.RedisHost = "localhost"
			cfg.RedisPort = 6379
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.modify(&cfg)

			err := cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestNewTokenRepoRedis(t *testing.T) {
	s := miniredis.RunT(t)
	port, err := strconv.Atoi(s.Port())
	require.NoError(t, err)

	cfg := validConfig()
	cfg.TokenStore = TokenStoreRedis
	cfg.RedisHost = s.Host()
	cfg.RedisPort = port

	ctx := context.Background()
	repo, closeRepo, err := newTokenRepo(ctx, &cfg, slog.Default())
	require.NoError(t, err)
	defer closeRepo()

	now := time.Now()
	require.NoError(t, repo.Set(ctx, token.ShareToken{
		Token:     "abc",
		RoomID:    "room",
		CreatedBy: "leader",
		CreatedAt: now,
		ExpiresAt: now.Add(time.Hour),
	}))

	got, err := repo.Get(ctx, "room", "abc")
	require.NoError(t, err)
	assert.Equal(t, "leader", got.CreatedBy)
	assert.NotEmpty(t, s.Keys())
}

func TestNewTokenRepoRedisUnreachable(t *testing.T) {
	cfg := validConfig()
	cfg.TokenStore = TokenStoreRedis
	cfg.RedisHost = "127.0.0.1"
	cfg.RedisPort = 1

	_, _, err := newTokenRepo(context.Background(), &cfg, slog.Default())
	assert.Error(t, err)
}

func TestSweepPendingRequests(t *testing.T) {
	clock := clockwork.NewFakeClock()
	ctx, cancel := context.WithCancel(context.Background())

	var calls atomic.Int32
	done := make(chan struct{})
	go func() {
		sweepPendingRequests(ctx, clock, time.Second, func(context.Context) { calls.Add(1) })
		close(done)
	}()

	require.NoError(t, clock.BlockUntilContext(ctx, 1))
	clock.Advance(time.Second)
	assert.Eventually(t, func() bool { return calls.Load() == 1 }, time.Second, 5*time.Millisecond)

	clock.Advance(time.Second)
	assert.Eventually(t, func() bool { return calls.Load() == 2 }, time.Second, 5*time.Millisecond)

	cancel()
	<-done
}

func TestSweepInterval(t *testing.T) {
	assert.Equal(t, 15*time.Second, sweepInterval(time.Minute))
	assert.Equal(t, 100*time.Millisecond, sweepInterval(time.Millisecond))
}
