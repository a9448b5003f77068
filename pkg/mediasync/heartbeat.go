package mediasync

import (
	"context"
	"log/slog"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/sharetube/syncroom/pkg/protocol"
)

const DefaultHeartbeatInterval = 500 * time.Millisecond

// Heartbeat reports the leader's player state on a fixed cadence.
type Heartbeat struct {
	player   Player
	clock    clockwork.Clock
	interval time.Duration
	send     func(context.Context, protocol.LeaderHeartbeatInput) error
	logger   *slog.Logger
}

func NewHeartbeat(
	player Player,
	clock clockwork.Clock,
	interval time.Duration,
	send func(context.Context, protocol.LeaderHeartbeatInput) error,
	logger *slog.Logger,
) *Heartbeat {
	if interval <= 0 {
		interval = DefaultHeartbeatInterval
	}

	return &Heartbeat{
		player:   player,
		clock:    clock,
		interval: interval,
		send:     send,
		logger:   logger,
	}
}

// Run sends heartbeats until ctx is done. Cancel ctx as soon as leadership is lost.
func (h *Heartbeat) Run(ctx context.Context) {
	ticker := h.clock.NewTicker(h.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			// ctx may have been cancelled while the tick was pending
			if ctx.Err() != nil {
				return
			}
			if err := h.send(ctx, h.state()); err != nil {
				h.logger.WarnContext(ctx, "failed to send heartbeat", "error", err)
			}
		}
	}
}

// state reports a buffering leader as playing so followers keep going through its stalls.
func (h *Heartbeat) state() protocol.LeaderHeartbeatInput {
	st := h.player.PlaybackState()
	return protocol.LeaderHeartbeatInput{
		MediaTime: h.player.CurrentTime(),
		IsPlaying: st == Playing || st == Buffering,
	}
}
