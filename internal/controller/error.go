package controller

import (
	"context"
	"errors"

	"github.com/sharetube/syncroom/internal/metrics"
	"github.com/sharetube/syncroom/internal/service/room"
	"github.com/sharetube/syncroom/pkg/protocol"
	"github.com/sharetube/syncroom/pkg/validator"
	"github.com/sharetube/syncroom/pkg/wsconn"
	"github.com/sharetube/syncroom/pkg/wsrouter"
)

type validationError struct {
	errs []validator.ValidationError
}

func (e *validationError) Error() string {
	return "validation failed"
}

// handleError decides what the sender learns about a failed message. Authorization failures and
// most service errors are dropped without a reply.
func (c controller) handleError(ctx context.Context, conn *wsconn.Conn, err error) {
	ref := wsrouter.GetRefFromCtx(ctx)

	var vErr *validationError
	switch {
	case errors.As(err, &vErr):
		c.metrics.MessageDropped(metrics.DropInvalid)
		c.writeToConn(ctx, conn, &protocol.Output{
			Type: protocol.TypeError,
			Ref:  ref,
			Payload: protocol.ErrorPayload{
				Code:    protocol.CodeInvalid,
				Message: vErr.Error(),
				Errors:  vErr.errs,
			},
		})
	case errors.Is(err, wsrouter.ErrInvalidPayload), errors.Is(err, wsrouter.ErrUnknownType):
		c.metrics.MessageDropped(metrics.DropInvalid)
		c.writeToConn(ctx, conn, &protocol.Output{
			Type: protocol.TypeError,
			Ref:  ref,
			Payload: protocol.ErrorPayload{
				Code:    protocol.CodeInvalid,
				Message: err.Error(),
			},
		})
	case errors.Is(err, wsrouter.ErrRateLimited):
		c.metrics.MessageDropped(metrics.DropRateLimited)
		c.writeToConn(ctx, conn, &protocol.Output{
			Type: protocol.TypeError,
			Ref:  ref,
			Payload: protocol.ErrorPayload{
				Code:    protocol.CodeRateLimited,
				Message: err.Error(),
			},
		})
	case errors.Is(err, room.ErrPermissionDenied):
		c.metrics.MessageDropped(metrics.DropUnauthorized)
		c.logger.DebugContext(ctx, "dropped unauthorized message")
	default:
		c.logger.InfoContext(ctx, "message had no effect", "error", err)
	}
}

// joinFailure maps a join error to its JOIN_FAILED code.
func joinFailure(err error) (code, message string) {
	switch {
	case errors.Is(err, room.ErrTokenExpired):
		return protocol.CodeTokenExpired, room.ErrTokenExpired.Error()
	case errors.Is(err, room.ErrAlreadyInRoom), errors.Is(err, room.ErrAlreadyPending):
		return protocol.CodeAlreadyInRoom, err.Error()
	case errors.Is(err, room.ErrRoomNotFound):
		return protocol.CodeRoomNotFound, err.Error()
	}

	return protocol.CodeInternal, "failed to join room"
}
