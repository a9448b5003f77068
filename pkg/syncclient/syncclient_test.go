package syncclient

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/sharetube/syncroom/pkg/mediasync"
	"github.com/sharetube/syncroom/pkg/protocol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakePlayer struct {
	mu    sync.Mutex
	state mediasync.PlaybackState
	time  float64
	calls []string
	seeks []float64
}

func (p *fakePlayer) Play() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, "play")
	p.state = mediasync.Playing
	return nil
}

func (p *fakePlayer) Pause() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, "pause")
	p.state = mediasync.Paused
	return nil
}

func (p *fakePlayer) SeekTo(seconds float64) error {
	p.mu.Lock()
	defer p.mu.Unlock()
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
	return 600
}

func (p *fakePlayer) PlaybackState() mediasync.PlaybackState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

func (p *fakePlayer) seeksSnapshot() []float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]float64(nil), p.seeks...)
}

// peer is the server side of a client connection.
type peer struct {
	t  *testing.T
	ws *websocket.Conn
}

func (p *peer) expect(messageType string) protocol.Message {
	p.t.Helper()

	require.NoError(p.t, p.ws.SetReadDeadline(time.Now().Add(2*time.Second)))
	var msg protocol.Message
	require.NoError(p.t, p.ws.ReadJSON(&msg))
	require.Equal(p.t, messageType, msg.Type, "payload: %s", msg.Payload)

	return msg
}

func (p *peer) send(messageType, ref string, payload any) {
	p.t.Helper()

	require.NoError(p.t, p.ws.WriteJSON(protocol.Output{Type: messageType, Ref: ref, Payload: payload}))
}

type harness struct {
	client *Client
	server *peer
	player *fakePlayer
	clock  *clockwork.FakeClock
}

func newHarness(t *testing.T, cfg Config) *harness {
	t.Helper()

	conns := make(chan *websocket.Conn, 1)
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		conns <- ws
	}))
	t.Cleanup(srv.Close)

	clock := clockwork.NewFakeClockAt(time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC))
	player := &fakePlayer{state: mediasync.Unstarted}

	cfg.URL = "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	cfg.Clock = clock
	cfg.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	if cfg.OffsetRefreshInterval == 0 {
		cfg.OffsetRefreshInterval = -1
	}

	client, err := Dial(context.Background(), cfg, player)
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })

	var ws *websocket.Conn
	select {
	case ws = <-conns:
	case <-time.After(2 * time.Second):
		t.Fatal("server did not accept the connection")
	}
	t.Cleanup(func() { ws.Close() })

	return &harness{client: client, server: &peer{t: t, ws: ws}, player: player, clock: clock}
}

type joinResult struct {
	joined protocol.JoinedRoomPayload
	err    error
}

func (h *harness) joinAsync(roomID, name, token string) <-chan joinResult {
	res := make(chan joinResult, 1)
	go func() {
		joined, err := h.client.Join(context.Background(), roomID, name, token)
		res <- joinResult{joined: joined, err: err}
	}()

	return res
}

func wait[T any](t *testing.T, ch <-chan T) T {
	t.Helper()

	select {
	case v := <-ch:
		return v
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting")
	}

	var zero T
	return zero
}

func decode[T any](t *testing.T, msg protocol.Message) T {
	t.Helper()

	var v T
	require.NoError(t, json.Unmarshal(msg.Payload, &v))
	return v
}

func (h *harness) joined(ref, participantID, leaderID string, state protocol.State) protocol.JoinedRoomPayload {
	payload := protocol.JoinedRoomPayload{
		ParticipantID: participantID,
		IsLeader:      participantID == leaderID,
		Room: protocol.Snapshot{
			RoomID:   "R1",
			LeaderID: leaderID,
			State:    state,
			ServerTs: h.clock.Now().UnixMilli(),
		},
		HeartbeatIntervalMs: 500,
	}
	h.server.send(protocol.TypeJoinedRoom, ref, payload)

	return payload
}

func TestJoinAsLeaderRunsHeartbeat(t *testing.T) {
	h := newHarness(t, Config{})
	h.player.state = mediasync.Playing
	h.player.time = 12.5

	res := h.joinAsync("R1", "alice", "")
	msg := h.server.expect(protocol.TypeJoinRoom)
	input := decode[protocol.JoinRoomInput](t, msg)
	assert.Equal(t, protocol.JoinRoomInput{RoomID: "R1", Name: "alice"}, input)

	h.joined(msg.Ref, "p1", "p1", protocol.State{MediaKind: protocol.MediaNone})
	result := wait(t, res)
	require.NoError(t, result.err)
	assert.True(t, result.joined.IsLeader)
	assert.True(t, h.client.IsLeader())
	assert.Equal(t, "p1", h.client.ParticipantID())

	ctx := context.Background()
	require.NoError(t, h.clock.BlockUntilContext(ctx, 1))
	h.clock.Advance(500 * time.Millisecond)

	heartbeat := decode[protocol.LeaderHeartbeatInput](t, h.server.expect(protocol.TypeLeaderHeartbeat))
	assert.Equal(t, protocol.LeaderHeartbeatInput{MediaTime: 12.5, IsPlaying: true}, heartbeat)

	// leadership lost
	h.server.send(protocol.TypeLeaderChanged, "", protocol.LeaderChangedPayload{LeaderID: "p2"})
	require.NoError(t, h.clock.BlockUntilContext(ctx, 0))
	assert.False(t, h.client.IsLeader())

	// and regained
	h.server.send(protocol.TypeLeaderChanged, "", protocol.LeaderChangedPayload{LeaderID: "p1"})
	require.NoError(t, h.clock.BlockUntilContext(ctx, 1))
	assert.True(t, h.client.IsLeader())

	h.server.send(protocol.TypeRoomClosed, "", protocol.RoomClosedPayload{RoomID: "R1", Reason: protocol.ReasonLeaderLeft})
	require.NoError(t, h.clock.BlockUntilContext(ctx, 0))
	assert.Empty(t, h.client.ParticipantID())
}

func TestJoinPendingThenApproved(t *testing.T) {
	var (
		mu       sync.Mutex
		observed []string
	)
	h := newHarness(t, Config{OnMessage: func(msg protocol.Message) {
		mu.Lock()
		defer mu.Unlock()
		observed = append(observed, msg.Type)
	}})
	h.player.state = mediasync.Paused

	res := h.joinAsync("R1", "bob", "")
	msg := h.server.expect(protocol.TypeJoinRoom)
	h.server.send(protocol.TypeJoinPending, msg.Ref, protocol.JoinPendingPayload{RoomID: "R1", RequestID: "req-1"})

	state := protocol.State{
		MediaKind:       protocol.MediaStreamedVideo,
		MediaRef:        "video",
		IsPlaying:       true,
		LeaderMediaTime: 5,
		LeaderServerTs:  h.clock.Now().UnixMilli(),
	}
	// approval arrives without a ref
	h.joined("", "p2", "p1", state)

	result := wait(t, res)
	require.NoError(t, result.err)
	assert.Equal(t, "p2", result.joined.ParticipantID)
	assert.False(t, h.client.IsLeader())

	assert.Eventually(t, func() bool { return len(h.player.seeksSnapshot()) == 1 }, 2*time.Second, 5*time.Millisecond)
	assert.InDelta(t, 5.0, h.player.seeksSnapshot()[0], 1e-9)
	assert.Equal(t, mediasync.Playing, h.player.PlaybackState())

	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(observed) == 2
	}, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{protocol.TypeJoinPending, protocol.TypeJoinedRoom}, observed)
}

func TestJoinTimeoutLeavesLateAdmission(t *testing.T) {
	h := newHarness(t, Config{})

	res := h.joinAsync("R1", "bob", "")
	msg := h.server.expect(protocol.TypeJoinRoom)
	h.server.send(protocol.TypeJoinPending, msg.Ref, protocol.JoinPendingPayload{RoomID: "R1", RequestID: "req-1"})

	require.NoError(t, h.clock.BlockUntilContext(context.Background(), 1))
	h.clock.Advance(DefaultJoinTimeout)

	result := wait(t, res)
	assert.ErrorIs(t, result.err, ErrJoinTimeout)

	h.joined("", "p2", "p1", protocol.State{})
	h.server.expect(protocol.TypeLeaveRoom)
	assert.Empty(t, h.client.ParticipantID())
}

func TestJoinRejected(t *testing.T) {
	h := newHarness(t, Config{})

	res := h.joinAsync("R1", "bob", "")
	msg := h.server.expect(protocol.TypeJoinRoom)
	h.server.send(protocol.TypeJoinPending, msg.Ref, protocol.JoinPendingPayload{RoomID: "R1", RequestID: "req-1"})
	h.server.send(protocol.TypeJoinRejected, "", protocol.JoinRejectedPayload{RoomID: "R1"})

	assert.ErrorIs(t, wait(t, res).err, ErrJoinRejected)
}

func TestJoinTokenExpired(t *testing.T) {
	h := newHarness(t, Config{})

	res := h.joinAsync("R1", "bob", "old-token")
	msg := h.server.expect(protocol.TypeJoinRoom)
	assert.Equal(t, "old-token", decode[protocol.JoinRoomInput](t, msg).ShareToken)
	h.server.send(protocol.TypeJoinFailed, msg.Ref, protocol.JoinFailedPayload{
		RoomID:  "R1",
		Code:    protocol.CodeTokenExpired,
		Message: "link expired, request a new one",
	})

	err := wait(t, res).err
	assert.ErrorIs(t, err, ErrTokenExpired)

	var serverErr *ServerError
	require.True(t, errors.As(err, &serverErr))
	assert.Equal(t, protocol.CodeTokenExpired, serverErr.Code)
}

func TestJoinTwice(t *testing.T) {
	h := newHarness(t, Config{})

	res := h.joinAsync("R1", "alice", "")
	msg := h.server.expect(protocol.TypeJoinRoom)

	_, err := h.client.Join(context.Background(), "R2", "alice", "")
	assert.ErrorIs(t, err, ErrJoinInProgress)

	h.joined(msg.Ref, "p1", "p1", protocol.State{})
	require.NoError(t, wait(t, res).err)

	_, err = h.client.Join(context.Background(), "R2", "alice", "")
	assert.ErrorIs(t, err, ErrAlreadyInRoom)
}

func (h *harness) joinAsFollower(t *testing.T, state protocol.State) {
	t.Helper()

	res := h.joinAsync("R1", "bob", "token")
	msg := h.server.expect(protocol.TypeJoinRoom)
	h.joined(msg.Ref, "p2", "p1", state)
	require.NoError(t, wait(t, res).err)
}

func TestFollowerReconcilesSyncState(t *testing.T) {
	h := newHarness(t, Config{})
	h.player.state = mediasync.Paused
	h.joinAsFollower(t, protocol.State{MediaKind: protocol.MediaStreamedVideo, MediaRef: "video"})

	h.server.send(protocol.TypeSyncState, "", protocol.State{
		MediaKind:       protocol.MediaStreamedVideo,
		MediaRef:        "video",
		IsPlaying:       true,
		LeaderMediaTime: 10,
		LeaderServerTs:  h.clock.Now().UnixMilli(),
	})

	assert.Eventually(t, func() bool { return len(h.player.seeksSnapshot()) == 1 }, 2*time.Second, 5*time.Millisecond)
	assert.InDelta(t, 10.0, h.player.seeksSnapshot()[0], 1e-9)
	assert.Equal(t, mediasync.Playing, h.player.PlaybackState())
}

func TestFollowerPausesOnControl(t *testing.T) {
	h := newHarness(t, Config{})
	h.player.state = mediasync.Playing
	h.player.time = 42
	h.joinAsFollower(t, protocol.State{
		MediaKind:       protocol.MediaStreamedVideo,
		MediaRef:        "video",
		IsPlaying:       true,
		LeaderMediaTime: 42,
		LeaderServerTs:  h.clock.Now().UnixMilli(),
	})

	h.server.send(protocol.TypePlayerControl, "", protocol.PlayerControlPayload{
		Action: protocol.ActionPause,
		State: protocol.State{
			MediaKind:       protocol.MediaStreamedVideo,
			MediaRef:        "video",
			LeaderMediaTime: 42,
			LeaderServerTs:  h.clock.Now().UnixMilli(),
		},
	})

	assert.Eventually(t, func() bool { return h.player.PlaybackState() == mediasync.Paused }, 2*time.Second, 5*time.Millisecond)
	assert.Empty(t, h.player.seeksSnapshot())
}

func TestSyncClockOverTimeSync(t *testing.T) {
	h := newHarness(t, Config{})

	done := make(chan error, 1)
	go func() {
		_, err := h.client.SyncClock(context.Background())
		done <- err
	}()

	for i := 0; i < 5; i++ {
		msg := h.server.expect(protocol.TypeTimeSync)
		input := decode[protocol.TimeSyncInput](t, msg)
		h.server.send(protocol.TypeTimeSync, msg.Ref, protocol.TimeSyncPayload{
			ClientTs: input.ClientTs,
			ServerTs: input.ClientTs + 2000,
		})
	}

	require.NoError(t, wait(t, done))
	assert.Equal(t, 2*time.Second, h.client.Offset())
}

func TestCreateShareToken(t *testing.T) {
	h := newHarness(t, Config{})

	type tokenResult struct {
		created protocol.ShareTokenCreatedPayload
		err     error
	}
	res := make(chan tokenResult, 2)
	create := func(token string) {
		created, err := h.client.CreateShareToken(context.Background(), token)
		res <- tokenResult{created: created, err: err}
	}

	go create("")
	msg := h.server.expect(protocol.TypeCreateShareToken)
	h.server.send(protocol.TypeShareTokenCreated, msg.Ref, protocol.ShareTokenCreatedPayload{Token: "abc", ExpiresAt: 42})

	result := wait(t, res)
	require.NoError(t, result.err)
	assert.Equal(t, "abc", result.created.Token)

	go create("taken")
	msg = h.server.expect(protocol.TypeCreateShareToken)
	h.server.send(protocol.TypeError, msg.Ref, protocol.ErrorPayload{Code: protocol.CodeInvalid, Message: "validation failed"})

	var serverErr *ServerError
	require.True(t, errors.As(wait(t, res).err, &serverErr))
	assert.Equal(t, protocol.CodeInvalid, serverErr.Code)
}

func TestLeaveAndCommands(t *testing.T) {
	h := newHarness(t, Config{})

	assert.ErrorIs(t, h.client.Leave(), ErrNotInRoom)

	h.joinAsFollower(t, protocol.State{})

	toTime := 42.0
	require.NoError(t, h.client.Control(protocol.ActionSeek, &toTime))
	control := decode[protocol.PlayerControlInput](t, h.server.expect(protocol.TypePlayerControl))
	assert.Equal(t, protocol.ActionSeek, control.Action)
	require.NotNil(t, control.ToTime)
	assert.Equal(t, 42.0, *control.ToTime)

	require.NoError(t, h.client.ApproveJoin("req-1"))
	assert.Equal(t, "req-1", decode[protocol.RequestIDInput](t, h.server.expect(protocol.TypeApproveJoin)).RequestID)

	require.NoError(t, h.client.Leave())
	h.server.expect(protocol.TypeLeaveRoom)
	assert.Empty(t, h.client.ParticipantID())
}

func TestServerGoneFailsJoin(t *testing.T) {
	h := newHarness(t, Config{})

	res := h.joinAsync("R1", "bob", "")
	h.server.expect(protocol.TypeJoinRoom)
	h.server.ws.Close()

	assert.ErrorIs(t, wait(t, res).err, ErrClosed)
	wait(t, h.client.Done())
}
