package controller

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/sharetube/syncroom/internal/metrics"
	"github.com/sharetube/syncroom/internal/service/room"
	"github.com/sharetube/syncroom/pkg/ctxlogger"
	"github.com/sharetube/syncroom/pkg/protocol"
	"github.com/sharetube/syncroom/pkg/validator"
	"github.com/sharetube/syncroom/pkg/wsconn"
	"github.com/sharetube/syncroom/pkg/wsrouter"
)

type EmptyInput struct{}

func (c controller) handleJoinRoom(ctx context.Context, conn *wsconn.Conn, input protocol.JoinRoomInput) error {
	ref := wsrouter.GetRefFromCtx(ctx)
	ctx = ctxlogger.AppendCtx(ctx, slog.String("room_id", input.RoomID))

	joinRoomResp, err := c.roomService.JoinRoom(ctx, &room.JoinRoomParams{
		ConnID:     conn.ID(),
		RoomID:     input.RoomID,
		Name:       input.Name,
		ShareToken: input.ShareToken,
	})
	if err != nil {
		c.metrics.JoinResult(metrics.JoinFailed)
		c.logger.InfoContext(ctx, "failed to join room", "room_id", input.RoomID, "error", err)

		code, message := joinFailure(err)
		c.writeToConn(ctx, conn, &protocol.Output{
			Type: protocol.TypeJoinFailed,
			Ref:  ref,
			Payload: protocol.JoinFailedPayload{
				RoomID:  input.RoomID,
				Code:    code,
				Message: message,
			},
		})
		return nil
	}

	if joinRoomResp.Status == room.JoinPending {
		c.metrics.JoinResult(metrics.JoinPending)
		c.writeToConn(ctx, conn, &protocol.Output{
			Type: protocol.TypeJoinPending,
			Ref:  ref,
			Payload: protocol.JoinPendingPayload{
				RoomID:    input.RoomID,
				RequestID: joinRoomResp.Request.RequestID,
			},
		})
		c.writeToConn(ctx, joinRoomResp.LeaderConn, &protocol.Output{
			Type:    protocol.TypeJoinRequest,
			Payload: joinRoomResp.Request,
		})
		return nil
	}

	c.metrics.JoinResult(metrics.JoinAdmitted)
	c.publishJoined(ctx, conn, ref, joinRoomResp.IsLeader, joinRoomResp.Snapshot)
	c.publishMemberJoined(ctx, joinRoomResp.Conns, joinRoomResp.JoinedMember, joinRoomResp.Snapshot.Participants)

	return nil
}

func (c controller) handleApproveJoin(ctx context.Context, conn *wsconn.Conn, input protocol.RequestIDInput) error {
	approveJoinResp, err := c.roomService.ApproveJoin(ctx, &room.ResolveJoinParams{
		SenderID:  conn.ID(),
		RequestID: input.RequestID,
	})
	if err != nil {
		return fmt.Errorf("failed to approve join: %w", err)
	}

	c.metrics.JoinResult(metrics.JoinApproved)
	c.publishJoined(ctx, approveJoinResp.RequesterConn, "", false, approveJoinResp.Snapshot)
	c.publishMemberJoined(ctx, approveJoinResp.Conns, approveJoinResp.JoinedMember, approveJoinResp.Snapshot.Participants)

	return nil
}

func (c controller) handleRejectJoin(ctx context.Context, conn *wsconn.Conn, input protocol.RequestIDInput) error {
	rejectJoinResp, err := c.roomService.RejectJoin(ctx, &room.ResolveJoinParams{
		SenderID:  conn.ID(),
		RequestID: input.RequestID,
	})
	if err != nil {
		return fmt.Errorf("failed to reject join: %w", err)
	}

	c.metrics.JoinResult(metrics.JoinRejected)
	c.writeToConn(ctx, rejectJoinResp.RequesterConn, &protocol.Output{
		Type:    protocol.TypeJoinRejected,
		Payload: protocol.JoinRejectedPayload{RoomID: rejectJoinResp.RoomID},
	})

	return nil
}

func (c controller) handleLeaveRoom(ctx context.Context, conn *wsconn.Conn, _ EmptyInput) error {
	leaveRoomResp, err := c.roomService.LeaveRoom(ctx, conn.ID())
	if err != nil {
		return fmt.Errorf("failed to leave room: %w", err)
	}

	if leaveRoomResp.Closed != nil {
		c.publishRoomClosed(ctx, leaveRoomResp.Closed)
	}
	if leaveRoomResp.Left != nil {
		c.publishMemberLeft(ctx, leaveRoomResp.Left, protocol.ReasonLeft)
	}

	return nil
}

func (c controller) handleKickMember(ctx context.Context, conn *wsconn.Conn, input protocol.ParticipantIDInput) error {
	kickMemberResp, err := c.roomService.KickMember(ctx, &room.MemberParams{
		SenderID: conn.ID(),
		MemberID: input.ParticipantID,
	})
	if err != nil {
		return fmt.Errorf("failed to kick member: %w", err)
	}

	c.writeToConn(ctx, kickMemberResp.KickedConn, &protocol.Output{
		Type:    protocol.TypeKicked,
		Payload: protocol.KickedPayload{RoomID: kickMemberResp.Left.RoomID},
	})
	c.publishMemberLeft(ctx, kickMemberResp.Left, protocol.ReasonKicked)

	return nil
}

func (c controller) handlePromoteMember(ctx context.Context, conn *wsconn.Conn, input protocol.ParticipantIDInput) error {
	leaderChange, err := c.roomService.PromoteMember(ctx, &room.MemberParams{
		SenderID: conn.ID(),
		MemberID: input.ParticipantID,
	})
	if err != nil {
		return fmt.Errorf("failed to promote member: %w", err)
	}

	c.publishLeaderChanged(ctx, leaderChange)

	return nil
}

func (c controller) handleCreateShareToken(ctx context.Context, conn *wsconn.Conn, input protocol.CreateShareTokenInput) error {
	createShareTokenResp, err := c.roomService.CreateShareToken(ctx, &room.CreateShareTokenParams{
		SenderID: conn.ID(),
		Token:    input.Token,
	})
	if err != nil {
		if errors.Is(err, room.ErrTokenTaken) {
			return &validationError{errs: []validator.ValidationError{{
				Field:   "token",
				Code:    "TAKEN",
				Message: err.Error(),
			}}}
		}
		return fmt.Errorf("failed to create share token: %w", err)
	}

	c.writeToConn(ctx, conn, &protocol.Output{
		Type: protocol.TypeShareTokenCreated,
		Ref:  wsrouter.GetRefFromCtx(ctx),
		Payload: protocol.ShareTokenCreatedPayload{
			Token:     createShareTokenResp.Token,
			ExpiresAt: createShareTokenResp.ExpiresAt.UnixMilli(),
		},
	})

	return nil
}

func (c controller) handleSetMedia(ctx context.Context, conn *wsconn.Conn, input protocol.SetMediaInput) error {
	if _, err := c.roomService.SetMedia(ctx, &room.SetMediaParams{
		SenderID: conn.ID(),
		Kind:     input.Kind,
		Ref:      input.Ref,
	}); err != nil {
		return fmt.Errorf("failed to set media: %w", err)
	}

	return nil
}

func (c controller) handlePlayerControl(ctx context.Context, conn *wsconn.Conn, input protocol.PlayerControlInput) error {
	controlResp, err := c.roomService.Control(ctx, &room.ControlParams{
		SenderID: conn.ID(),
		Action:   input.Action,
		ToTime:   input.ToTime,
	})
	if err != nil {
		return fmt.Errorf("failed to control player: %w", err)
	}

	c.broadcast(ctx, controlResp.Conns, &protocol.Output{
		Type: protocol.TypePlayerControl,
		Payload: protocol.PlayerControlPayload{
			Action: controlResp.Action,
			State:  controlResp.State,
		},
	})

	return nil
}

func (c controller) handleLeaderHeartbeat(ctx context.Context, conn *wsconn.Conn, input protocol.LeaderHeartbeatInput) error {
	heartbeatResp, err := c.roomService.LeaderHeartbeat(ctx, &room.LeaderHeartbeatParams{
		SenderID:  conn.ID(),
		MediaTime: input.MediaTime,
		IsPlaying: input.IsPlaying,
	})
	if err != nil {
		return fmt.Errorf("failed to handle heartbeat: %w", err)
	}

	c.broadcast(ctx, heartbeatResp.Conns, &protocol.Output{
		Type:    protocol.TypeSyncState,
		Payload: heartbeatResp.State,
	})

	return nil
}

func (c controller) handleGetSnapshot(ctx context.Context, conn *wsconn.Conn, _ EmptyInput) error {
	snapshot, err := c.roomService.Snapshot(ctx, conn.ID())
	if err != nil {
		return fmt.Errorf("failed to get snapshot: %w", err)
	}

	c.writeToConn(ctx, conn, &protocol.Output{
		Type:    protocol.TypeRoomSnapshot,
		Ref:     wsrouter.GetRefFromCtx(ctx),
		Payload: snapshot,
	})

	return nil
}

func (c controller) handleTimeSync(ctx context.Context, conn *wsconn.Conn, input protocol.TimeSyncInput) error {
	c.writeToConn(ctx, conn, &protocol.Output{
		Type: protocol.TypeTimeSync,
		Ref:  wsrouter.GetRefFromCtx(ctx),
		Payload: protocol.TimeSyncPayload{
			ClientTs: input.ClientTs,
			ServerTs: c.roomService.ServerTime(),
		},
	})

	return nil
}

// ExpirePendingRequests fails join requests that waited longer than the configured TTL.
func (c controller) ExpirePendingRequests(ctx context.Context) {
	for _, expired := range c.roomService.ExpirePendingRequests(ctx) {
		c.metrics.JoinResult(metrics.JoinExpired)
		c.writeToConn(ctx, expired.RequesterConn, &protocol.Output{
			Type: protocol.TypeJoinFailed,
			Payload: protocol.JoinFailedPayload{
				RoomID:  expired.RoomID,
				Code:    protocol.CodeRequestExpired,
				Message: "join request expired",
			},
		})
	}
}
