package room

import (
	"context"

	"github.com/sharetube/syncroom/internal/repository/connection"
	"github.com/sharetube/syncroom/internal/repository/room"
	"github.com/sharetube/syncroom/pkg/protocol"
)

type SetMediaParams struct {
	SenderID string
	Kind     string
	Ref      string
}

// SetMedia switches the room to new media, paused at its start. Followers learn about it from the
// next state message.
func (s service) SetMedia(ctx context.Context, params *SetMediaParams) (protocol.State, error) {
	kind := room.MediaKind(params.Kind)
	if !kind.Valid() {
		return protocol.State{}, ErrInvalidMediaKind
	}

	rm, unlock, err := s.lockLeaderRoom(ctx, params.SenderID)
	if err != nil {
		return protocol.State{}, err
	}
	defer unlock()

	rm.MediaKind = kind
	rm.MediaRef = params.Ref
	rm.IsPlaying = false
	rm.LeaderMediaTime = 0
	rm.LeaderServerTs = s.ServerTime()

	s.logger.InfoContext(ctx, "media set", "room_id", rm.ID, "kind", kind)
	return toState(rm), nil
}

type ControlParams struct {
	SenderID string
	Action   string
	ToTime   *float64
}

type ControlResponse struct {
	Action string
	State  protocol.State
	// Conns include the leader.
	Conns []connection.Conn
}

func (s service) Control(ctx context.Context, params *ControlParams) (ControlResponse, error) {
	rm, unlock, err := s.lockLeaderRoom(ctx, params.SenderID)
	if err != nil {
		return ControlResponse{}, err
	}
	defer unlock()

	switch params.Action {
	case protocol.ActionPlay:
		rm.IsPlaying = true
	case protocol.ActionPause:
		rm.IsPlaying = false
	case protocol.ActionSeek:
	default:
		return ControlResponse{}, ErrInvalidAction
	}
	if params.ToTime != nil {
		rm.LeaderMediaTime = *params.ToTime
	}
	rm.LeaderServerTs = s.ServerTime()

	return ControlResponse{
		Action: params.Action,
		State:  toState(rm),
		Conns:  s.getConns(rm.ParticipantIDs()),
	}, nil
}

type LeaderHeartbeatParams struct {
	SenderID  string
	MediaTime float64
	IsPlaying bool
}

type LeaderHeartbeatResponse struct {
	State protocol.State
	// Conns exclude the leader.
	Conns []connection.Conn
}

func (s service) LeaderHeartbeat(ctx context.Context, params *LeaderHeartbeatParams) (LeaderHeartbeatResponse, error) {
	rm, unlock, err := s.lockLeaderRoom(ctx, params.SenderID)
	if err != nil {
		return LeaderHeartbeatResponse{}, err
	}
	defer unlock()

	rm.LeaderMediaTime = params.MediaTime
	rm.IsPlaying = params.IsPlaying
	rm.LeaderServerTs = s.ServerTime()

	return LeaderHeartbeatResponse{
		State: toState(rm),
		Conns: s.getConnsExcept(rm, params.SenderID),
	}, nil
}

// Snapshot returns the last known canonical state of the sender's room.
func (s service) Snapshot(ctx context.Context, senderID string) (protocol.Snapshot, error) {
	rm, unlock, err := s.lockMemberRoom(ctx, senderID)
	if err != nil {
		return protocol.Snapshot{}, err
	}
	defer unlock()

	return s.toSnapshot(rm), nil
}
