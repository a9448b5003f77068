package room

import (
	"context"

	"github.com/sharetube/syncroom/internal/repository/connection"
	"github.com/sharetube/syncroom/internal/repository/room"
	"github.com/sharetube/syncroom/pkg/protocol"
)

type RoomClosed struct {
	RoomID string
	// Reason is one of the protocol departure reasons.
	Reason string
	// Conns are all members at the time of closing, including the departing leader.
	Conns []connection.Conn
	// PendingConns are requesters whose join requests died with the room.
	PendingConns []connection.Conn
}

type MemberLeft struct {
	RoomID       string
	Member       protocol.Participant
	Participants []protocol.Participant
	Conns        []connection.Conn
}

// LeaderChange describes a leadership handover and the pending requests the new leader now owns.
type LeaderChange struct {
	RoomID     string
	LeaderID   string
	Conns      []connection.Conn
	LeaderConn connection.Conn
	Requests   []protocol.JoinRequestPayload
}

type LeaveRoomResponse struct {
	// Exactly one of Closed and Left is set.
	Closed *RoomClosed
	Left   *MemberLeft
}

// LeaveRoom removes a member on its own request. A leader leaving closes the room for everyone.
func (s service) LeaveRoom(ctx context.Context, participantID string) (LeaveRoomResponse, error) {
	rm, unlock, err := s.lockMemberRoom(ctx, participantID)
	if err != nil {
		return LeaveRoomResponse{}, err
	}
	defer unlock()

	if rm.IsLeader(participantID) {
		s.logger.InfoContext(ctx, "leader left, closing room", "room_id", rm.ID)
		return LeaveRoomResponse{Closed: s.closeRoom(ctx, rm, protocol.ReasonLeaderLeft)}, nil
	}

	member := toParticipant(rm.Participants[participantID])
	rm, _ = s.roomRepo.RemoveParticipant(ctx, rm.ID, participantID)

	return LeaveRoomResponse{Left: s.memberLeft(rm, member)}, nil
}

// closeRoom must be called with the room lock held.
func (s service) closeRoom(ctx context.Context, rm *room.Room, reason string) *RoomClosed {
	closed := &RoomClosed{
		RoomID:       rm.ID,
		Reason:       reason,
		Conns:        s.getConns(rm.ParticipantIDs()),
		PendingConns: s.getPendingConns(rm),
	}

	s.roomRepo.Delete(ctx, rm.ID)
	if err := s.tokenRepo.RemoveRoomTokens(ctx, rm.ID); err != nil {
		s.logger.WarnContext(ctx, "failed to purge share tokens", "room_id", rm.ID, "error", err)
	}

	return closed
}

func (s service) memberLeft(rm *room.Room, member protocol.Participant) *MemberLeft {
	return &MemberLeft{
		RoomID:       rm.ID,
		Member:       member,
		Participants: toParticipants(rm),
		Conns:        s.getConns(rm.ParticipantIDs()),
	}
}

// leaderChange must be called with the room lock held.
func (s service) leaderChange(rm *room.Room) *LeaderChange {
	return &LeaderChange{
		RoomID:     rm.ID,
		LeaderID:   rm.LeaderID,
		Conns:      s.getConns(rm.ParticipantIDs()),
		LeaderConn: s.getConn(rm.LeaderID),
		Requests:   toJoinRequests(rm),
	}
}

type DisconnectResponse struct {
	// CancelledRequest is the request id dropped because its requester went away.
	CancelledRequest string
	Closed           *RoomClosed
	Left             *MemberLeft
	LeaderChanged    *LeaderChange
}

// DisconnectMember runs the departure path for a vanished connection. Its pending request is
// cancelled and a departing leader is replaced by the longest-standing remaining member.
func (s service) DisconnectMember(ctx context.Context, participantID string) (DisconnectResponse, error) {
	var resp DisconnectResponse

	if ref, ok := s.roomRepo.PendingOf(ctx, participantID); ok {
		resp.CancelledRequest = s.cancelPendingRequest(ctx, participantID, ref)
	}

	rm, unlock, err := s.lockMemberRoom(ctx, participantID)
	if err != nil {
		if resp.CancelledRequest != "" {
			return resp, nil
		}
		return resp, err
	}
	defer unlock()

	if len(rm.Participants) == 1 {
		s.logger.InfoContext(ctx, "last participant disconnected", "room_id", rm.ID)
		resp.Closed = s.closeRoom(ctx, rm, protocol.ReasonDisconnected)
		return resp, nil
	}

	wasLeader := rm.IsLeader(participantID)
	member := toParticipant(rm.Participants[participantID])
	rm, _ = s.roomRepo.RemoveParticipant(ctx, rm.ID, participantID)
	resp.Left = s.memberLeft(rm, member)

	if wasLeader {
		successor, ok := rm.OldestParticipant("")
		if !ok {
			return resp, nil
		}
		if rm, ok = s.roomRepo.SetLeader(ctx, rm.ID, successor.ID); !ok {
			return resp, nil
		}

		s.logger.InfoContext(ctx, "leader disconnected, leadership handed over", "room_id", rm.ID, "leader_id", successor.ID)
		resp.LeaderChanged = s.leaderChange(rm)
	}

	return resp, nil
}

func (s service) cancelPendingRequest(ctx context.Context, requesterID string, ref room.PendingRef) string {
	unlock := s.locks.Lock(ref.RoomID)
	defer unlock()

	req, err := s.roomRepo.TakePendingRequest(ctx, ref.RoomID, ref.RequestID)
	if err != nil || req.RequesterID != requesterID {
		return ""
	}

	s.logger.InfoContext(ctx, "join request cancelled", "room_id", ref.RoomID, "request_id", req.ID)
	return req.ID
}

type MemberParams struct {
	SenderID string
	MemberID string
}

type KickMemberResponse struct {
	KickedConn connection.Conn
	Left       *MemberLeft
}

func (s service) KickMember(ctx context.Context, params *MemberParams) (KickMemberResponse, error) {
	rm, unlock, err := s.lockLeaderRoom(ctx, params.SenderID)
	if err != nil {
		return KickMemberResponse{}, err
	}
	defer unlock()

	if params.MemberID == params.SenderID {
		return KickMemberResponse{}, ErrInvalidTarget
	}
	target, ok := rm.Participants[params.MemberID]
	if !ok {
		return KickMemberResponse{}, ErrMemberNotFound
	}

	rm, _ = s.roomRepo.RemoveParticipant(ctx, rm.ID, target.ID)
	s.logger.InfoContext(ctx, "member kicked", "room_id", rm.ID, "participant_id", target.ID)

	return KickMemberResponse{
		KickedConn: s.getConn(target.ID),
		Left:       s.memberLeft(rm, toParticipant(target)),
	}, nil
}

func (s service) PromoteMember(ctx context.Context, params *MemberParams) (*LeaderChange, error) {
	rm, unlock, err := s.lockLeaderRoom(ctx, params.SenderID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	if params.MemberID == params.SenderID {
		return nil, ErrInvalidTarget
	}

	rm, ok := s.roomRepo.SetLeader(ctx, rm.ID, params.MemberID)
	if !ok {
		return nil, ErrMemberNotFound
	}

	s.logger.InfoContext(ctx, "leadership transferred", "room_id", rm.ID, "leader_id", rm.LeaderID)
	return s.leaderChange(rm), nil
}
