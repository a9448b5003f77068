// Package clocksync estimates the offset between the local clock and the server clock by round-trip
// probing. The estimate assumes symmetric network latency.
package clocksync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

const defaultBurst = 5

var ErrNoSamples = errors.New("no probe succeeded")

// Prober asks the server for its current time in unix milliseconds.
type Prober interface {
	Probe(ctx context.Context) (int64, error)
}

// Sample is the result of a single probe.
type Sample struct {
	Offset time.Duration
	RTT    time.Duration
}

// NewSample computes the offset of a probe sent at t0 and answered with server time s at t1, all in
// unix milliseconds.
func NewSample(t0, t1, s int64) Sample {
	return Sample{
		Offset: time.Duration(s+(t1-t0)/2-t1) * time.Millisecond,
		RTT:    time.Duration(t1-t0) * time.Millisecond,
	}
}

type Option func(*Estimator)

// WithBurst sets how many probes a refresh sends. Only the lowest-RTT sample of a burst is kept.
func WithBurst(n int) Option {
	return func(e *Estimator) {
		if n > 0 {
			e.burst = n
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(e *Estimator) {
		e.logger = logger
	}
}

type Estimator struct {
	prober Prober
	clock  clockwork.Clock
	burst  int
	logger *slog.Logger

	mu     sync.RWMutex
	sample Sample
	synced bool
}

func NewEstimator(prober Prober, clock clockwork.Clock, opts ...Option) *Estimator {
	e := &Estimator{
		prober: prober,
		clock:  clock,
		burst:  defaultBurst,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}

	return e
}

// Refresh sends a burst of probes and adopts the sample with the lowest round trip. The previous
// estimate is kept when every probe fails.
func (e *Estimator) Refresh(ctx context.Context) (Sample, error) {
	var (
		best  Sample
		found bool
		errs  []error
	)
	for i := 0; i < e.burst; i++ {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}

		t0 := e.clock.Now().UnixMilli()
		s, err := e.prober.Probe(ctx)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		t1 := e.clock.Now().UnixMilli()

		sample := NewSample(t0, t1, s)
		if !found || sample.RTT < best.RTT {
			best = sample
			found = true
		}
	}

	if !found {
		return Sample{}, fmt.Errorf("%w: %w", ErrNoSamples, errors.Join(errs...))
	}

	e.mu.Lock()
	e.sample = best
	e.synced = true
	e.mu.Unlock()

	e.logger.DebugContext(ctx, "clock offset refreshed", "offset_ms", best.Offset.Milliseconds(), "rtt_ms", best.RTT.Milliseconds())

	return best, nil
}

// Run refreshes the estimate every interval until ctx is done.
func (e *Estimator) Run(ctx context.Context, interval time.Duration) {
	ticker := e.clock.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			if _, err := e.Refresh(ctx); err != nil && ctx.Err() == nil {
				e.logger.WarnContext(ctx, "failed to refresh clock offset", "error", err)
			}
		}
	}
}

// Offset is the estimated server time minus local time. It is zero until the first refresh.
func (e *Estimator) Offset() time.Duration {
	e.mu.RLock()
	defer e.mu.RUnlock()

	return e.sample.Offset
}

func (e *Estimator) Synced() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()

	return e.synced
}

func (e *Estimator) ServerNow() time.Time {
	return e.clock.Now().Add(e.Offset())
}
