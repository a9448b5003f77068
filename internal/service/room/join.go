package room

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sharetube/syncroom/internal/repository/connection"
	"github.com/sharetube/syncroom/internal/repository/room"
	"github.com/sharetube/syncroom/internal/repository/token"
	"github.com/sharetube/syncroom/pkg/protocol"
)

type JoinStatus int

const (
	JoinAdmitted JoinStatus = iota
	JoinPending
)

type JoinRoomParams struct {
	ConnID     string
	RoomID     string
	Name       string
	ShareToken string
}

type JoinRoomResponse struct {
	Status JoinStatus
	// Set when admitted.
	IsLeader     bool
	Snapshot     protocol.Snapshot
	JoinedMember protocol.Participant
	Conns        []connection.Conn
	// Set when pending.
	Request    protocol.JoinRequestPayload
	LeaderConn connection.Conn
}

// JoinRoom admits the connection directly when the room has no leader, with a valid share token, or
// otherwise files a join request for the leader to approve.
func (s service) JoinRoom(ctx context.Context, params *JoinRoomParams) (JoinRoomResponse, error) {
	if _, ok := s.roomRepo.RoomOf(ctx, params.ConnID); ok {
		return JoinRoomResponse{}, ErrAlreadyInRoom
	}
	if _, ok := s.roomRepo.PendingOf(ctx, params.ConnID); ok {
		return JoinRoomResponse{}, ErrAlreadyPending
	}

	unlock := s.locks.Lock(params.RoomID)
	defer unlock()

	rm, exists := s.roomRepo.Get(ctx, params.RoomID)
	if !exists {
		// tokens surviving from an earlier room with the same id must not admit anyone
		if err := s.tokenRepo.RemoveRoomTokens(ctx, params.RoomID); err != nil {
			s.logger.WarnContext(ctx, "failed to purge stale share tokens", "error", err)
		}
	}

	if !exists || rm.LeaderID == "" {
		return s.admit(ctx, params.RoomID, params.ConnID, params.Name)
	}

	if params.ShareToken != "" {
		admit, err := s.checkShareToken(ctx, params.RoomID, params.ShareToken)
		if err != nil {
			return JoinRoomResponse{}, err
		}
		if admit {
			return s.admit(ctx, params.RoomID, params.ConnID, params.Name)
		}
	}

	req := room.PendingRequest{
		ID:          s.generator.NewID(),
		RequesterID: params.ConnID,
		Name:        params.Name,
		RequestedAt: s.clock.Now(),
	}
	if err := s.roomRepo.AddPendingRequest(ctx, params.RoomID, req); err != nil {
		switch {
		case errors.Is(err, room.ErrAlreadyPending):
			return JoinRoomResponse{}, ErrAlreadyPending
		case errors.Is(err, room.ErrRoomNotFound):
			return JoinRoomResponse{}, ErrRoomNotFound
		}
		return JoinRoomResponse{}, fmt.Errorf("failed to add pending request: %w", err)
	}

	s.logger.InfoContext(ctx, "join request filed", "room_id", params.RoomID, "request_id", req.ID)

	return JoinRoomResponse{
		Status:     JoinPending,
		Request:    toJoinRequest(params.RoomID, req),
		LeaderConn: s.getConn(rm.LeaderID),
	}, nil
}

// checkShareToken reports whether value admits to roomID. Unknown tokens fall back to approval,
// expired ones are purged and fail the join.
func (s service) checkShareToken(ctx context.Context, roomID, value string) (bool, error) {
	t, err := s.tokenRepo.Get(ctx, roomID, value)
	if err != nil {
		if errors.Is(err, token.ErrTokenNotFound) {
			return false, nil
		}
		return false, fmt.Errorf("failed to get share token: %w", err)
	}

	if !t.ValidAt(s.clock.Now()) {
		if err := s.tokenRepo.Remove(ctx, roomID, value); err != nil && !errors.Is(err, token.ErrTokenNotFound) {
			s.logger.WarnContext(ctx, "failed to purge expired share token", "error", err)
		}
		return false, ErrTokenExpired
	}

	return true, nil
}

// admit must be called with the room lock held.
func (s service) admit(ctx context.Context, roomID, connID, name string) (JoinRoomResponse, error) {
	rm, err := s.roomRepo.AddParticipant(ctx, roomID, connID, name)
	if err != nil {
		if errors.Is(err, room.ErrAlreadyInRoom) {
			return JoinRoomResponse{}, ErrAlreadyInRoom
		}
		return JoinRoomResponse{}, fmt.Errorf("failed to add participant: %w", err)
	}

	s.logger.InfoContext(ctx, "participant admitted", "room_id", roomID, "participant_id", connID, "is_leader", rm.IsLeader(connID))

	return JoinRoomResponse{
		Status:       JoinAdmitted,
		IsLeader:     rm.IsLeader(connID),
		Snapshot:     s.toSnapshot(rm),
		JoinedMember: toParticipant(rm.Participants[connID]),
		Conns:        s.getConnsExcept(rm, connID),
	}, nil
}

type ResolveJoinParams struct {
	SenderID  string
	RequestID string
}

type ApproveJoinResponse struct {
	RequesterConn connection.Conn
	Snapshot      protocol.Snapshot
	JoinedMember  protocol.Participant
	// Conns are the members other than the admitted requester.
	Conns []connection.Conn
}

func (s service) ApproveJoin(ctx context.Context, params *ResolveJoinParams) (ApproveJoinResponse, error) {
	rm, unlock, err := s.lockLeaderRoom(ctx, params.SenderID)
	if err != nil {
		return ApproveJoinResponse{}, err
	}
	defer unlock()
	roomID := rm.ID

	req, err := s.roomRepo.TakePendingRequest(ctx, roomID, params.RequestID)
	if err != nil {
		return ApproveJoinResponse{}, ErrRequestNotFound
	}

	requesterConn := s.getConn(req.RequesterID)
	if requesterConn == nil {
		return ApproveJoinResponse{}, ErrRequesterGone
	}

	resp, err := s.admit(ctx, roomID, req.RequesterID, req.Name)
	if err != nil {
		return ApproveJoinResponse{}, err
	}

	// The disconnect path drops the connection before it looks the requester up, so a requester
	// that vanished mid-approval is either caught here or found in the room by that path.
	if s.getConn(req.RequesterID) == nil {
		s.roomRepo.RemoveParticipant(ctx, roomID, req.RequesterID)
		s.logger.InfoContext(ctx, "requester vanished during approval", "room_id", roomID, "request_id", req.ID)
		return ApproveJoinResponse{}, ErrRequesterGone
	}

	return ApproveJoinResponse{
		RequesterConn: requesterConn,
		Snapshot:      resp.Snapshot,
		JoinedMember:  resp.JoinedMember,
		Conns:         resp.Conns,
	}, nil
}

type RejectJoinResponse struct {
	RoomID        string
	RequesterConn connection.Conn
}

func (s service) RejectJoin(ctx context.Context, params *ResolveJoinParams) (RejectJoinResponse, error) {
	rm, unlock, err := s.lockLeaderRoom(ctx, params.SenderID)
	if err != nil {
		return RejectJoinResponse{}, err
	}
	defer unlock()
	roomID := rm.ID

	req, err := s.roomRepo.TakePendingRequest(ctx, roomID, params.RequestID)
	if err != nil {
		return RejectJoinResponse{}, ErrRequestNotFound
	}

	s.logger.InfoContext(ctx, "join request rejected", "room_id", roomID, "request_id", req.ID)

	return RejectJoinResponse{
		RoomID:        roomID,
		RequesterConn: s.getConn(req.RequesterID),
	}, nil
}

type ExpiredRequest struct {
	RoomID        string
	RequestID     string
	RequesterConn connection.Conn
}

// ExpirePendingRequests drops join requests older than the configured TTL. It does nothing when the
// TTL is zero.
func (s service) ExpirePendingRequests(ctx context.Context) []ExpiredRequest {
	if s.cfg.PendingRequestTTL <= 0 {
		return nil
	}

	deadline := s.clock.Now().Add(-s.cfg.PendingRequestTTL)

	var expired []ExpiredRequest
	for _, roomID := range s.roomRepo.RoomIDs(ctx) {
		expired = append(expired, s.expireRoomRequests(ctx, roomID, deadline)...)
	}

	return expired
}

func (s service) expireRoomRequests(ctx context.Context, roomID string, deadline time.Time) []ExpiredRequest {
	unlock := s.locks.Lock(roomID)
	defer unlock()

	rm, ok := s.roomRepo.Get(ctx, roomID)
	if !ok {
		return nil
	}

	var expired []ExpiredRequest
	for _, req := range rm.PendingList() {
		if req.RequestedAt.After(deadline) {
			break
		}

		if _, err := s.roomRepo.TakePendingRequest(ctx, roomID, req.ID); err != nil {
			continue
		}

		s.logger.InfoContext(ctx, "join request expired", "room_id", roomID, "request_id", req.ID)
		expired = append(expired, ExpiredRequest{
			RoomID:        roomID,
			RequestID:     req.ID,
			RequesterConn: s.getConn(req.RequesterID),
		})
	}

	return expired
}
