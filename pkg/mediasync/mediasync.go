// Package mediasync keeps a local player in step with the leader's broadcast state.
package mediasync

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/sharetube/syncroom/pkg/protocol"
)

const (
	DefaultThreshold           = 150 * time.Millisecond
	DefaultDirectSeekThreshold = 500 * time.Millisecond
	DefaultGentleFactor        = 0.1
	DefaultHistorySize         = 10
)

// Expected extrapolates the leader position to local time localNowMs. offset is the estimated
// server time minus local time.
func Expected(state protocol.State, localNowMs int64, offset time.Duration) float64 {
	if !state.IsPlaying {
		return state.LeaderMediaTime
	}

	elapsedMs := localNowMs + offset.Milliseconds() - state.LeaderServerTs
	return state.LeaderMediaTime + float64(elapsedMs)/1000
}

type OffsetSource interface {
	Offset() time.Duration
}

type CorrectionKind int

const (
	CorrectionNone CorrectionKind = iota
	CorrectionGentle
	CorrectionDirect
)

func (k CorrectionKind) String() string {
	switch k {
	case CorrectionGentle:
		return "gentle"
	case CorrectionDirect:
		return "direct"
	}

	return "none"
}

// Result describes what a reconcile pass did to the player.
type Result struct {
	Played     bool
	Paused     bool
	Expected   float64
	Drift      float64
	Correction CorrectionKind
	SeekedTo   float64
}

type Config struct {
	// Threshold is the drift tolerated without any correction.
	Threshold time.Duration
	// DirectSeekThreshold is the drift from which the player seeks straight to the expected
	// position instead of nudging towards it.
	DirectSeekThreshold time.Duration
	// GentleFactor is the share of the drift removed by a gentle correction.
	GentleFactor float64
	HistorySize  int
}

func (cfg Config) withDefaults() Config {
	if cfg.Threshold <= 0 {
		cfg.Threshold = DefaultThreshold
	}
	if cfg.DirectSeekThreshold <= 0 {
		cfg.DirectSeekThreshold = DefaultDirectSeekThreshold
	}
	if cfg.GentleFactor <= 0 || cfg.GentleFactor > 1 {
		cfg.GentleFactor = DefaultGentleFactor
	}
	if cfg.HistorySize <= 0 {
		cfg.HistorySize = DefaultHistorySize
	}

	return cfg
}

type mediaKey struct {
	kind string
	ref  string
}

// Reconciler corrects a follower's player each time a leader state arrives. It keeps the last
// drift samples, which are discarded whenever the timeline jumps.
type Reconciler struct {
	player Player
	offset OffsetSource
	clock  clockwork.Clock
	logger *slog.Logger
	cfg    Config

	mu      sync.Mutex
	media   mediaKey
	history []float64
}

func NewReconciler(player Player, offset OffsetSource, clock clockwork.Clock, logger *slog.Logger, cfg Config) *Reconciler {
	cfg = cfg.withDefaults()

	return &Reconciler{
		player:  player,
		offset:  offset,
		clock:   clock,
		logger:  logger,
		cfg:     cfg,
		history: make([]float64, 0, cfg.HistorySize),
	}
}

// Reconcile applies the leader's play state first and then corrects drift.
func (r *Reconciler) Reconcile(ctx context.Context, state protocol.State) (Result, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var res Result

	if key := (mediaKey{kind: state.MediaKind, ref: state.MediaRef}); key != r.media {
		r.media = key
		r.resetHistory()
	}
	if state.MediaKind == "" || state.MediaKind == protocol.MediaNone {
		return res, nil
	}

	playback := r.player.PlaybackState()
	switch {
	case state.IsPlaying && playback != Playing && playback != Buffering:
		if err := r.player.Play(); err != nil {
			return res, fmt.Errorf("failed to play: %w", err)
		}
		res.Played = true
	case !state.IsPlaying && playback == Playing:
		if err := r.player.Pause(); err != nil {
			return res, fmt.Errorf("failed to pause: %w", err)
		}
		res.Paused = true
	}

	// a buffering player reports a stale position
	if playback == Buffering {
		return res, nil
	}

	res.Expected = Expected(state, r.clock.Now().UnixMilli(), r.offset.Offset())
	actual := r.player.CurrentTime()
	res.Drift = actual - res.Expected
	r.record(res.Drift)

	abs := math.Abs(res.Drift)
	switch {
	case abs <= r.cfg.Threshold.Seconds():
		return res, nil
	case abs < r.cfg.DirectSeekThreshold.Seconds():
		res.Correction = CorrectionGentle
		res.SeekedTo = actual - res.Drift*r.cfg.GentleFactor
	default:
		res.Correction = CorrectionDirect
		res.SeekedTo = res.Expected
	}

	if err := r.player.SeekTo(res.SeekedTo); err != nil {
		return res, fmt.Errorf("failed to seek: %w", err)
	}
	r.resetHistory()

	r.logger.DebugContext(ctx, "corrected drift",
		"drift", res.Drift,
		"correction", res.Correction.String(),
		"seeked_to", res.SeekedTo,
	)

	return res, nil
}

// ResetHistory drops drift samples taken before an explicit seek.
func (r *Reconciler) ResetHistory() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.resetHistory()
}

func (r *Reconciler) resetHistory() {
	r.history = r.history[:0]
}

func (r *Reconciler) record(drift float64) {
	if len(r.history) == r.cfg.HistorySize {
		copy(r.history, r.history[1:])
		r.history = r.history[:len(r.history)-1]
	}
	r.history = append(r.history, drift)
}

// History returns the drift samples since the last seek, oldest first.
func (r *Reconciler) History() []float64 {
	r.mu.Lock()
	defer r.mu.Unlock()

	return append([]float64(nil), r.history...)
}
