// Package syncclient connects a local player to a room on the sync server. Followers reconcile their
// player to every leader state they receive, and the leader reports its own state on the cadence the
// server announces.
package syncclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/sharetube/syncroom/pkg/clocksync"
	"github.com/sharetube/syncroom/pkg/mediasync"
	"github.com/sharetube/syncroom/pkg/protocol"
)

const (
	DefaultJoinTimeout           = 30 * time.Second
	DefaultOffsetRefreshInterval = 30 * time.Second
	writeWait                    = 10 * time.Second
)

type Config struct {
	// URL of the websocket endpoint, e.g. ws://localhost/ws.
	URL         string
	JoinTimeout time.Duration
	// OffsetRefreshInterval of zero uses the default, a negative value disables background refresh.
	OffsetRefreshInterval time.Duration
	// Prober defaults to TIME_SYNC round trips over the websocket.
	Prober    clocksync.Prober
	Reconcile mediasync.Config
	// OnMessage observes every inbound message after the client handled it.
	OnMessage func(protocol.Message)
	Clock     clockwork.Clock
	Logger    *slog.Logger
}

func (cfg Config) withDefaults() Config {
	if cfg.JoinTimeout <= 0 {
		cfg.JoinTimeout = DefaultJoinTimeout
	}
	if cfg.OffsetRefreshInterval == 0 {
		cfg.OffsetRefreshInterval = DefaultOffsetRefreshInterval
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	return cfg
}

type joinOutcome struct {
	joined protocol.JoinedRoomPayload
	err    error
}

type joinCall struct {
	roomID string
	ref    string
	result chan joinOutcome
}

type session struct {
	roomID            string
	participantID     string
	leaderID          string
	heartbeatInterval time.Duration
	stopHeartbeat     context.CancelFunc
}

func (s *session) isLeader() bool {
	return s.leaderID == s.participantID
}

type Client struct {
	ws         *websocket.Conn
	player     mediasync.Player
	estimator  *clocksync.Estimator
	reconciler *mediasync.Reconciler
	clock      clockwork.Clock
	logger     *slog.Logger
	cfg        Config

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	writeMu sync.Mutex

	mu      sync.Mutex
	replies map[string]chan protocol.Message
	join    *joinCall
	session *session
}

// Dial connects to the server. The returned client owns player until Close.
func Dial(ctx context.Context, cfg Config, player mediasync.Player) (*Client, error) {
	cfg = cfg.withDefaults()

	ws, _, err := websocket.DefaultDialer.DialContext(ctx, cfg.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to dial %s: %w", cfg.URL, err)
	}

	clientCtx, cancel := context.WithCancel(context.Background())
	c := &Client{
		ws:      ws,
		player:  player,
		clock:   cfg.Clock,
		logger:  cfg.Logger,
		cfg:     cfg,
		ctx:     clientCtx,
		cancel:  cancel,
		done:    make(chan struct{}),
		replies: make(map[string]chan protocol.Message),
	}

	prober := cfg.Prober
	if prober == nil {
		prober = c
	}
	c.estimator = clocksync.NewEstimator(prober, c.clock, clocksync.WithLogger(c.logger))
	c.reconciler = mediasync.NewReconciler(player, c.estimator, c.clock, c.logger, cfg.Reconcile)

	go c.readLoop()

	if cfg.OffsetRefreshInterval > 0 {
		go func() {
			if _, err := c.estimator.Refresh(c.ctx); err != nil && c.ctx.Err() == nil {
				c.logger.WarnContext(c.ctx, "initial clock sync failed", "error", err)
			}
			c.estimator.Run(c.ctx, cfg.OffsetRefreshInterval)
		}()
	}

	return c, nil
}

// Close leaves the connection without a LEAVE_ROOM; the server treats it as a disconnect.
func (c *Client) Close() error {
	c.cancel()

	c.writeMu.Lock()
	c.ws.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
	c.writeMu.Unlock()

	err := c.ws.Close()
	<-c.done

	return err
}

// Done is closed once the connection is gone.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// Offset is the current server clock offset estimate.
func (c *Client) Offset() time.Duration {
	return c.estimator.Offset()
}

// SyncClock refreshes the clock offset estimate now.
func (c *Client) SyncClock(ctx context.Context) (clocksync.Sample, error) {
	return c.estimator.Refresh(ctx)
}

func (c *Client) ParticipantID() string {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.session == nil {
		return ""
	}
	return c.session.participantID
}

func (c *Client) IsLeader() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.session != nil && c.session.isLeader()
}

// DriftHistory returns the drift samples since the last seek.
func (c *Client) DriftHistory() []float64 {
	return c.reconciler.History()
}

func (c *Client) send(messageType, ref string, payload any) error {
	b, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", messageType, err)
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if err := c.ws.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	if err := c.ws.WriteJSON(protocol.Message{Type: messageType, Ref: ref, Payload: b}); err != nil {
		return fmt.Errorf("failed to send %s: %w", messageType, err)
	}

	return nil
}

// request sends a message and waits for the reply carrying the same ref.
func (c *Client) request(ctx context.Context, messageType string, payload any) (protocol.Message, error) {
	ref := uuid.NewString()
	reply := make(chan protocol.Message, 1)

	c.mu.Lock()
	c.replies[ref] = reply
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		delete(c.replies, ref)
		c.mu.Unlock()
	}()

	if err := c.send(messageType, ref, payload); err != nil {
		return protocol.Message{}, err
	}

	select {
	case msg := <-reply:
		if msg.Type == protocol.TypeError {
			return msg, decodeServerError(msg)
		}
		return msg, nil
	case <-ctx.Done():
		return protocol.Message{}, ctx.Err()
	case <-c.done:
		return protocol.Message{}, ErrClosed
	}
}

func decodeServerError(msg protocol.Message) error {
	var payload protocol.ErrorPayload
	if err := json.Unmarshal(msg.Payload, &payload); err != nil {
		return fmt.Errorf("failed to decode error: %w", err)
	}

	return &ServerError{Code: payload.Code, Message: payload.Message}
}

// Probe implements clocksync.Prober with a TIME_SYNC round trip.
func (c *Client) Probe(ctx context.Context) (int64, error) {
	msg, err := c.request(ctx, protocol.TypeTimeSync, protocol.TimeSyncInput{ClientTs: c.clock.Now().UnixMilli()})
	if err != nil {
		return 0, err
	}

	var payload protocol.TimeSyncPayload
	if err := json.Unmarshal(msg.Payload, &payload); err != nil {
		return 0, fmt.Errorf("failed to decode time sync: %w", err)
	}

	return payload.ServerTs, nil
}

// Join joins roomID and waits until the client is admitted. A request that needs the leader's
// approval keeps waiting; if no answer arrives within the join timeout, ErrJoinTimeout is returned
// and a late admission is left immediately.
func (c *Client) Join(ctx context.Context, roomID, name, shareToken string) (protocol.JoinedRoomPayload, error) {
	call := &joinCall{
		roomID: roomID,
		ref:    uuid.NewString(),
		result: make(chan joinOutcome, 1),
	}

	c.mu.Lock()
	switch {
	case c.session != nil:
		c.mu.Unlock()
		return protocol.JoinedRoomPayload{}, ErrAlreadyInRoom
	case c.join != nil:
		c.mu.Unlock()
		return protocol.JoinedRoomPayload{}, ErrJoinInProgress
	}
	c.join = call
	c.mu.Unlock()

	abandon := func() {
		c.mu.Lock()
		if c.join == call {
			c.join = nil
		}
		c.mu.Unlock()
	}

	timer := c.clock.NewTimer(c.cfg.JoinTimeout)
	defer timer.Stop()

	if err := c.send(protocol.TypeJoinRoom, call.ref, protocol.JoinRoomInput{
		RoomID:     roomID,
		Name:       name,
		ShareToken: shareToken,
	}); err != nil {
		abandon()
		return protocol.JoinedRoomPayload{}, err
	}

	select {
	case outcome := <-call.result:
		return outcome.joined, outcome.err
	case <-timer.Chan():
		abandon()
		return protocol.JoinedRoomPayload{}, ErrJoinTimeout
	case <-ctx.Done():
		abandon()
		return protocol.JoinedRoomPayload{}, ctx.Err()
	case <-c.done:
		abandon()
		return protocol.JoinedRoomPayload{}, ErrClosed
	}
}

// Leave leaves the current room.
func (c *Client) Leave() error {
	c.mu.Lock()
	if c.session == nil {
		c.mu.Unlock()
		return ErrNotInRoom
	}
	c.endSession()
	c.mu.Unlock()

	return c.send(protocol.TypeLeaveRoom, "", struct{}{})
}

func (c *Client) ApproveJoin(requestID string) error {
	return c.send(protocol.TypeApproveJoin, "", protocol.RequestIDInput{RequestID: requestID})
}

func (c *Client) RejectJoin(requestID string) error {
	return c.send(protocol.TypeRejectJoin, "", protocol.RequestIDInput{RequestID: requestID})
}

func (c *Client) Kick(participantID string) error {
	return c.send(protocol.TypeKickMember, "", protocol.ParticipantIDInput{ParticipantID: participantID})
}

func (c *Client) Promote(participantID string) error {
	return c.send(protocol.TypePromoteMember, "", protocol.ParticipantIDInput{ParticipantID: participantID})
}

func (c *Client) SetMedia(kind, ref string) error {
	return c.send(protocol.TypeSetMedia, "", protocol.SetMediaInput{Kind: kind, Ref: ref})
}

// Control issues a PLAY, PAUSE or SEEK. toTime may be nil.
func (c *Client) Control(action string, toTime *float64) error {
	return c.send(protocol.TypePlayerControl, "", protocol.PlayerControlInput{Action: action, ToTime: toTime})
}

// CreateShareToken asks for a share token; an empty token lets the server generate one.
func (c *Client) CreateShareToken(ctx context.Context, token string) (protocol.ShareTokenCreatedPayload, error) {
	msg, err := c.request(ctx, protocol.TypeCreateShareToken, protocol.CreateShareTokenInput{Token: token})
	if err != nil {
		return protocol.ShareTokenCreatedPayload{}, err
	}

	var payload protocol.ShareTokenCreatedPayload
	if err := json.Unmarshal(msg.Payload, &payload); err != nil {
		return payload, fmt.Errorf("failed to decode share token: %w", err)
	}

	return payload, nil
}

// Snapshot fetches the room state and reconciles the player to it when following.
func (c *Client) Snapshot(ctx context.Context) (protocol.Snapshot, error) {
	msg, err := c.request(ctx, protocol.TypeGetSnapshot, struct{}{})
	if err != nil {
		return protocol.Snapshot{}, err
	}

	var snapshot protocol.Snapshot
	if err := json.Unmarshal(msg.Payload, &snapshot); err != nil {
		return snapshot, fmt.Errorf("failed to decode snapshot: %w", err)
	}

	if !c.IsLeader() {
		c.reconcile(snapshot.State)
	}

	return snapshot, nil
}

func (c *Client) sendHeartbeat(_ context.Context, input protocol.LeaderHeartbeatInput) error {
	return c.send(protocol.TypeLeaderHeartbeat, "", input)
}

func (c *Client) reconcile(state protocol.State) {
	if _, err := c.reconciler.Reconcile(c.ctx, state); err != nil {
		c.logger.WarnContext(c.ctx, "failed to reconcile player", "error", err)
	}
}

// startSession must be called with mu held.
func (c *Client) startSession(joined protocol.JoinedRoomPayload) {
	c.session = &session{
		roomID:            joined.Room.RoomID,
		participantID:     joined.ParticipantID,
		leaderID:          joined.Room.LeaderID,
		heartbeatInterval: time.Duration(joined.HeartbeatIntervalMs) * time.Millisecond,
	}
	c.reconciler.ResetHistory()
	c.updateHeartbeat()
}

// endSession must be called with mu held.
func (c *Client) endSession() {
	if c.session == nil {
		return
	}
	if c.session.stopHeartbeat != nil {
		c.session.stopHeartbeat()
	}
	c.session = nil
}

// updateHeartbeat runs the heartbeat exactly while the session holds leadership. It must be called
// with mu held.
func (c *Client) updateHeartbeat() {
	s := c.session
	switch {
	case s.isLeader() && s.stopHeartbeat == nil:
		ctx, cancel := context.WithCancel(c.ctx)
		s.stopHeartbeat = cancel
		hb := mediasync.NewHeartbeat(c.player, c.clock, s.heartbeatInterval, c.sendHeartbeat, c.logger)
		go hb.Run(ctx)
	case !s.isLeader() && s.stopHeartbeat != nil:
		s.stopHeartbeat()
		s.stopHeartbeat = nil
	}
}

func (c *Client) readLoop() {
	defer func() {
		c.cancel()
		c.mu.Lock()
		c.endSession()
		c.mu.Unlock()
		close(c.done)
	}()

	for {
		var msg protocol.Message
		if err := c.ws.ReadJSON(&msg); err != nil {
			if c.ctx.Err() == nil && !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				c.logger.InfoContext(c.ctx, "connection lost", "error", err)
			}
			return
		}

		c.dispatch(msg)
		if c.cfg.OnMessage != nil {
			c.cfg.OnMessage(msg)
		}
	}
}

func (c *Client) dispatch(msg protocol.Message) {
	if msg.Ref != "" {
		c.mu.Lock()
		reply, ok := c.replies[msg.Ref]
		c.mu.Unlock()
		if ok {
			reply <- msg
			return
		}
	}

	var err error
	switch msg.Type {
	case protocol.TypeJoinedRoom:
		err = c.onJoined(msg)
	case protocol.TypeJoinFailed:
		err = c.onJoinFailed(msg)
	case protocol.TypeJoinRejected:
		err = c.onJoinRejected(msg)
	case protocol.TypeError:
		c.onError(msg)
	case protocol.TypeSyncState:
		err = c.onSyncState(msg)
	case protocol.TypePlayerControl:
		err = c.onPlayerControl(msg)
	case protocol.TypeLeaderChanged:
		err = c.onLeaderChanged(msg)
	case protocol.TypeKicked, protocol.TypeRoomClosed:
		c.mu.Lock()
		c.endSession()
		c.mu.Unlock()
	}
	if err != nil {
		c.logger.WarnContext(c.ctx, "failed to handle message", "message_type", msg.Type, "error", err)
	}
}

// takeJoin returns the in-flight join the message answers. Replies after an approval carry no ref
// and are matched by room.
func (c *Client) takeJoin(ref, roomID string) *joinCall {
	call := c.join
	if call == nil || (ref != call.ref && roomID != call.roomID) {
		return nil
	}
	c.join = nil

	return call
}

func (c *Client) onJoined(msg protocol.Message) error {
	var joined protocol.JoinedRoomPayload
	if err := json.Unmarshal(msg.Payload, &joined); err != nil {
		return err
	}

	c.mu.Lock()
	call := c.takeJoin(msg.Ref, joined.Room.RoomID)
	if call == nil {
		inRoom := c.session != nil
		c.mu.Unlock()
		if inRoom {
			return fmt.Errorf("unexpected admission to room %s", joined.Room.RoomID)
		}

		c.logger.InfoContext(c.ctx, "leaving room admitted after the join was abandoned", "room_id", joined.Room.RoomID)
		return c.send(protocol.TypeLeaveRoom, "", struct{}{})
	}
	c.startSession(joined)
	isLeader := c.session.isLeader()
	c.mu.Unlock()

	call.result <- joinOutcome{joined: joined}

	if !isLeader {
		c.reconcile(joined.Room.State)
	}

	return nil
}

func (c *Client) onJoinFailed(msg protocol.Message) error {
	var payload protocol.JoinFailedPayload
	if err := json.Unmarshal(msg.Payload, &payload); err != nil {
		return err
	}

	c.mu.Lock()
	call := c.takeJoin(msg.Ref, payload.RoomID)
	c.mu.Unlock()
	if call != nil {
		call.result <- joinOutcome{err: &ServerError{Code: payload.Code, Message: payload.Message}}
	}

	return nil
}

func (c *Client) onJoinRejected(msg protocol.Message) error {
	var payload protocol.JoinRejectedPayload
	if err := json.Unmarshal(msg.Payload, &payload); err != nil {
		return err
	}

	c.mu.Lock()
	call := c.takeJoin(msg.Ref, payload.RoomID)
	c.mu.Unlock()
	if call != nil {
		call.result <- joinOutcome{err: ErrJoinRejected}
	}

	return nil
}

// onError fails the join whose JOIN_ROOM was refused.
func (c *Client) onError(msg protocol.Message) {
	c.mu.Lock()
	var call *joinCall
	if c.join != nil && msg.Ref != "" && msg.Ref == c.join.ref {
		call = c.join
		c.join = nil
	}
	c.mu.Unlock()

	if call != nil {
		call.result <- joinOutcome{err: decodeServerError(msg)}
	}
}

func (c *Client) following() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.session != nil && !c.session.isLeader()
}

func (c *Client) onSyncState(msg protocol.Message) error {
	var state protocol.State
	if err := json.Unmarshal(msg.Payload, &state); err != nil {
		return err
	}

	if c.following() {
		c.reconcile(state)
	}

	return nil
}

func (c *Client) onPlayerControl(msg protocol.Message) error {
	var payload protocol.PlayerControlPayload
	if err := json.Unmarshal(msg.Payload, &payload); err != nil {
		return err
	}

	c.mu.Lock()
	inRoom := c.session != nil
	c.mu.Unlock()
	if !inRoom {
		return nil
	}

	if payload.Action == protocol.ActionSeek {
		c.reconciler.ResetHistory()
	}
	c.reconcile(payload.State)

	return nil
}

func (c *Client) onLeaderChanged(msg protocol.Message) error {
	var payload protocol.LeaderChangedPayload
	if err := json.Unmarshal(msg.Payload, &payload); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.session == nil {
		return errors.New("leader change outside of a room")
	}
	c.session.leaderID = payload.LeaderID
	c.updateHeartbeat()

	return nil
}
