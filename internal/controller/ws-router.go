package controller

import (
	"context"

	"github.com/sharetube/syncroom/pkg/protocol"
	"github.com/sharetube/syncroom/pkg/wsconn"
	"github.com/sharetube/syncroom/pkg/wsrouter"
)

func (c controller) getWSRouter(opts ...wsrouter.Option) *wsrouter.WSRouter {
	mux := wsrouter.New(opts...)
	mux.Use(c.wsRequestIDMw, c.wsLoggerMw)

	// membership
	handle(c, mux, protocol.TypeJoinRoom, c.handleJoinRoom)
	handle(c, mux, protocol.TypeLeaveRoom, c.handleLeaveRoom)
	handle(c, mux, protocol.TypeApproveJoin, c.handleApproveJoin)
	handle(c, mux, protocol.TypeRejectJoin, c.handleRejectJoin)
	handle(c, mux, protocol.TypeKickMember, c.handleKickMember)
	handle(c, mux, protocol.TypePromoteMember, c.handlePromoteMember)
	handle(c, mux, protocol.TypeCreateShareToken, c.handleCreateShareToken)

	// player
	handle(c, mux, protocol.TypeSetMedia, c.handleSetMedia)
	handle(c, mux, protocol.TypePlayerControl, c.handlePlayerControl)
	handle(c, mux, protocol.TypeLeaderHeartbeat, c.handleLeaderHeartbeat)
	handle(c, mux, protocol.TypeGetSnapshot, c.handleGetSnapshot)

	// clock
	handle(c, mux, protocol.TypeTimeSync, c.handleTimeSync)

	return mux
}

// handle registers h behind payload validation.
func handle[T any](c controller, mux *wsrouter.WSRouter, messageType string, h func(context.Context, *wsconn.Conn, T) error) {
	wsrouter.Handle(mux, messageType, func(ctx context.Context, conn *wsconn.Conn, input T) error {
		if errs, ok := c.validate.Validate(input); !ok {
			return &validationError{errs: errs}
		}

		return h(ctx, conn, input)
	})
}
