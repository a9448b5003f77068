package controller

import (
	"context"

	"github.com/sharetube/syncroom/internal/repository/connection"
	"github.com/sharetube/syncroom/internal/service/room"
	"github.com/sharetube/syncroom/pkg/protocol"
)

func (c controller) publishJoined(ctx context.Context, conn connection.Conn, ref string, isLeader bool, snapshot protocol.Snapshot) {
	if conn == nil {
		return
	}

	c.writeToConn(ctx, conn, &protocol.Output{
		Type: protocol.TypeJoinedRoom,
		Ref:  ref,
		Payload: protocol.JoinedRoomPayload{
			ParticipantID:       conn.ID(),
			IsLeader:            isLeader,
			Room:                snapshot,
			HeartbeatIntervalMs: c.cfg.HeartbeatInterval.Milliseconds(),
		},
	})
}

func (c controller) publishMemberJoined(ctx context.Context, conns []connection.Conn, member protocol.Participant, participants []protocol.Participant) {
	c.broadcast(ctx, conns, &protocol.Output{
		Type: protocol.TypeMemberJoined,
		Payload: protocol.MemberJoinedPayload{
			Participant:  member,
			Participants: participants,
		},
	})
}

func (c controller) publishMemberLeft(ctx context.Context, left *room.MemberLeft, reason string) {
	c.broadcast(ctx, left.Conns, &protocol.Output{
		Type: protocol.TypeMemberLeft,
		Payload: protocol.MemberLeftPayload{
			Participant:  left.Member,
			Reason:       reason,
			Participants: left.Participants,
		},
	})
}

func (c controller) publishRoomClosed(ctx context.Context, closed *room.RoomClosed) {
	c.broadcast(ctx, closed.Conns, &protocol.Output{
		Type: protocol.TypeRoomClosed,
		Payload: protocol.RoomClosedPayload{
			RoomID: closed.RoomID,
			Reason: closed.Reason,
		},
	})

	c.broadcast(ctx, closed.PendingConns, &protocol.Output{
		Type: protocol.TypeJoinFailed,
		Payload: protocol.JoinFailedPayload{
			RoomID:  closed.RoomID,
			Code:    protocol.CodeRoomClosed,
			Message: "room closed",
		},
	})
}

// publishLeaderChanged also hands the pending join requests over to the new leader.
func (c controller) publishLeaderChanged(ctx context.Context, change *room.LeaderChange) {
	c.broadcast(ctx, change.Conns, &protocol.Output{
		Type:    protocol.TypeLeaderChanged,
		Payload: protocol.LeaderChangedPayload{LeaderID: change.LeaderID},
	})

	for _, req := range change.Requests {
		c.writeToConn(ctx, change.LeaderConn, &protocol.Output{
			Type:    protocol.TypeJoinRequest,
			Payload: req,
		})
	}
}
