package mediasync

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/sharetube/syncroom/pkg/protocol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakePlayer struct {
	mu       sync.Mutex
	state    PlaybackState
	time     float64
	duration float64
	calls    []string
	seeks    []float64
	seekErr  error
}

func (p *fakePlayer) Play() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, "play")
	p.state = Playing
	return nil
}

func (p *fakePlayer) Pause() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, "pause")
	p.state = Paused
	return nil
}

func (p *fakePlayer) SeekTo(seconds float64) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.seekErr != nil {
		return p.seekErr
	}
	p.calls = append(p.calls, "seek")
	p.seeks = append(p.seeks, seconds)
	p.time = seconds
	return nil
}

func (p *fakePlayer) CurrentTime() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.time
}

func (p *fakePlayer) Duration() float64 {
	return p.duration
}

func (p *fakePlayer) PlaybackState() PlaybackState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

func (p *fakePlayer) setTime(t float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.time = t
}

type fixedOffset time.Duration

func (o fixedOffset) Offset() time.Duration {
	return time.Duration(o)
}

var leaderTs = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func playing(t float64) protocol.State {
	return protocol.State{
		MediaKind:       protocol.MediaStreamedVideo,
		MediaRef:        "video-1",
		IsPlaying:       true,
		LeaderMediaTime: t,
		LeaderServerTs:  leaderTs.UnixMilli(),
	}
}

// newTestReconciler returns a reconciler whose local clock reads leaderTs + after with a 50ms offset.
func newTestReconciler(player *fakePlayer, after time.Duration) (*Reconciler, *clockwork.FakeClock) {
	clock := clockwork.NewFakeClockAt(leaderTs.Add(after))
	return NewReconciler(player, fixedOffset(50*time.Millisecond), clock, slog.Default(), Config{}), clock
}

func TestExpected(t *testing.T) {
	state := playing(10)

	assert.InDelta(t, 10.75, Expected(state, leaderTs.Add(700*time.Millisecond).UnixMilli(), 50*time.Millisecond), 1e-9)
	assert.InDelta(t, 9.9, Expected(state, leaderTs.UnixMilli(), -100*time.Millisecond), 1e-9)

	state.IsPlaying = false
	assert.Equal(t, 10.0, Expected(state, leaderTs.Add(time.Hour).UnixMilli(), time.Second))
}

func TestExpectedIdempotentHeartbeat(t *testing.T) {
	now := leaderTs.Add(time.Second).UnixMilli()

	assert.Equal(t, Expected(playing(3), now, 20*time.Millisecond), Expected(playing(3), now, 20*time.Millisecond))
}

func TestReconcileDirectSeek(t *testing.T) {
	player := &fakePlayer{state: Playing, time: 11.4}
	r, _ := newTestReconciler(player, 700*time.Millisecond)

	// a few samples in history first
	r.history = append(r.history, 0.01, 0.02)

	res, err := r.Reconcile(context.Background(), playing(10))
	require.NoError(t, err)

	assert.Equal(t, CorrectionDirect, res.Correction)
	assert.InDelta(t, 10.75, res.Expected, 1e-9)
	assert.InDelta(t, 0.65, res.Drift, 1e-9)
	require.Len(t, player.seeks, 1)
	assert.InDelta(t, 10.75, player.seeks[0], 1e-9)
	assert.Empty(t, r.History())
}

func TestReconcileGentleSeek(t *testing.T) {
	player := &fakePlayer{state: Playing, time: 11.05}
	r, _ := newTestReconciler(player, 700*time.Millisecond)

	res, err := r.Reconcile(context.Background(), playing(10))
	require.NoError(t, err)

	assert.Equal(t, CorrectionGentle, res.Correction)
	assert.InDelta(t, 0.3, res.Drift, 1e-9)
	require.Len(t, player.seeks, 1)
	assert.InDelta(t, 11.02, player.seeks[0], 1e-9)
	assert.Empty(t, r.History())
}

func TestReconcileGentleSeekBehind(t *testing.T) {
	player := &fakePlayer{state: Playing, time: 10.45}
	r, _ := newTestReconciler(player, 700*time.Millisecond)

	res, err := r.Reconcile(context.Background(), playing(10))
	require.NoError(t, err)

	assert.Equal(t, CorrectionGentle, res.Correction)
	require.Len(t, player.seeks, 1)
	assert.InDelta(t, 10.48, player.seeks[0], 1e-9)
}

func TestReconcileWithinThreshold(t *testing.T) {
	player := &fakePlayer{state: Playing, time: 10.8}
	r, _ := newTestReconciler(player, 700*time.Millisecond)

	res, err := r.Reconcile(context.Background(), playing(10))
	require.NoError(t, err)

	assert.Equal(t, CorrectionNone, res.Correction)
	assert.Empty(t, player.seeks)
	require.Len(t, r.History(), 1)
	assert.InDelta(t, 0.05, r.History()[0], 1e-9)
}

func TestReconcileHistoryIsBounded(t *testing.T) {
	player := &fakePlayer{state: Playing}
	r, clock := newTestReconciler(player, 0)

	for i := 0; i < 12; i++ {
		clock.Advance(100 * time.Millisecond)
		player.setTime(Expected(playing(10), clock.Now().UnixMilli(), 50*time.Millisecond) + float64(i)/1000)

		_, err := r.Reconcile(context.Background(), playing(10))
		require.NoError(t, err)
	}

	history := r.History()
	require.Len(t, history, DefaultHistorySize)
	assert.InDelta(t, 0.002, history[0], 1e-9)
	assert.InDelta(t, 0.011, history[len(history)-1], 1e-9)
	assert.Empty(t, player.seeks)
}

func TestReconcilePlayBeforeDrift(t *testing.T) {
	player := &fakePlayer{state: Paused, time: 10.75}
	r, _ := newTestReconciler(player, 700*time.Millisecond)

	res, err := r.Reconcile(context.Background(), playing(10))
	require.NoError(t, err)

	assert.True(t, res.Played)
	assert.Equal(t, []string{"play"}, player.calls)
	assert.Equal(t, CorrectionNone, res.Correction)
}

func TestReconcileBufferingSuppressesPlay(t *testing.T) {
	player := &fakePlayer{state: Buffering, time: 3}
	r, _ := newTestReconciler(player, 700*time.Millisecond)

	res, err := r.Reconcile(context.Background(), playing(10))
	require.NoError(t, err)

	assert.False(t, res.Played)
	assert.Empty(t, player.calls)
	assert.Empty(t, r.History())
}

func TestReconcilePause(t *testing.T) {
	player := &fakePlayer{state: Playing, time: 42.1}
	r, _ := newTestReconciler(player, 700*time.Millisecond)

	state := playing(42)
	state.IsPlaying = false

	res, err := r.Reconcile(context.Background(), state)
	require.NoError(t, err)

	assert.True(t, res.Paused)
	assert.Equal(t, 42.0, res.Expected)
	assert.Equal(t, []string{"pause"}, player.calls)
	assert.Equal(t, CorrectionNone, res.Correction)
}

func TestReconcileMediaChangeResetsHistory(t *testing.T) {
	player := &fakePlayer{state: Playing, time: 10.8}
	r, _ := newTestReconciler(player, 700*time.Millisecond)

	_, err := r.Reconcile(context.Background(), playing(10))
	require.NoError(t, err)
	require.Len(t, r.History(), 1)

	state := playing(10)
	state.MediaRef = "video-2"
	_, err = r.Reconcile(context.Background(), state)
	require.NoError(t, err)
	assert.Len(t, r.History(), 1)
}

func TestReconcileNoMedia(t *testing.T) {
	player := &fakePlayer{state: Paused, time: 5}
	r, _ := newTestReconciler(player, 0)

	res, err := r.Reconcile(context.Background(), protocol.State{MediaKind: protocol.MediaNone, IsPlaying: true})
	require.NoError(t, err)

	assert.Equal(t, Result{}, res)
	assert.Empty(t, player.calls)
}

func TestReconcileSeekError(t *testing.T) {
	player := &fakePlayer{state: Playing, time: 30, seekErr: errors.New("not ready")}
	r, _ := newTestReconciler(player, 700*time.Millisecond)

	_, err := r.Reconcile(context.Background(), playing(10))
	assert.Error(t, err)
}

func TestResetHistory(t *testing.T) {
	player := &fakePlayer{state: Playing, time: 10.8}
	r, _ := newTestReconciler(player, 700*time.Millisecond)

	_, err := r.Reconcile(context.Background(), playing(10))
	require.NoError(t, err)

	r.ResetHistory()
	assert.Empty(t, r.History())
}

func TestHeartbeat(t *testing.T) {
	clock := clockwork.NewFakeClock()
	player := &fakePlayer{state: Playing, time: 12.5}

	var (
		mu   sync.Mutex
		sent []protocol.LeaderHeartbeatInput
	)
	hb := NewHeartbeat(player, clock, 0, func(_ context.Context, input protocol.LeaderHeartbeatInput) error {
		mu.Lock()
		defer mu.Unlock()
		sent = append(sent, input)
		return nil
	}, slog.Default())
	count := func() int {
		mu.Lock()
		defer mu.Unlock()
		return len(sent)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		hb.Run(ctx)
		close(done)
	}()

	require.NoError(t, clock.BlockUntilContext(ctx, 1))
	clock.Advance(DefaultHeartbeatInterval)
	assert.Eventually(t, func() bool { return count() == 1 }, time.Second, 5*time.Millisecond)

	player.mu.Lock()
	player.state = Buffering
	player.mu.Unlock()
	clock.Advance(DefaultHeartbeatInterval)
	assert.Eventually(t, func() bool { return count() == 2 }, time.Second, 5*time.Millisecond)

	player.Pause()
	clock.Advance(DefaultHeartbeatInterval)
	assert.Eventually(t, func() bool { return count() == 3 }, time.Second, 5*time.Millisecond)

	cancel()
	<-done
	clock.Advance(10 * DefaultHeartbeatInterval)

	assert.Equal(t, 3, count())
	assert.Equal(t, protocol.LeaderHeartbeatInput{MediaTime: 12.5, IsPlaying: true}, sent[0])
	assert.Equal(t, protocol.LeaderHeartbeatInput{MediaTime: 12.5, IsPlaying: true}, sent[1], "a buffering leader still plays")
	assert.Equal(t, protocol.LeaderHeartbeatInput{MediaTime: 12.5, IsPlaying: false}, sent[2])
}
