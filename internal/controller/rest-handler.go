package controller

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/sharetube/syncroom/pkg/ctxlogger"
	"github.com/sharetube/syncroom/pkg/protocol"
	"github.com/sharetube/syncroom/pkg/wsconn"
)

// health doubles as the clock probe of syncclient.
func (c controller) health(w http.ResponseWriter, r *http.Request) {
	c.writeJSON(w, http.StatusOK, protocol.Health{
		Status:          "ok",
		ServerTimestamp: c.roomService.ServerTime(),
	})
}

func (c controller) serveWS(w http.ResponseWriter, r *http.Request) {
	ws, err := c.upgrader.Upgrade(w, r, nil)
	if err != nil {
		c.logger.WarnContext(r.Context(), "failed to upgrade to websocket", "error", err)
		return
	}

	conn := wsconn.New(ws, c.cfg.Conn)
	ctx, cancel := context.WithCancel(ctxlogger.AppendCtx(r.Context(), slog.String("connection_id", conn.ID())))
	defer cancel()

	if err := c.connRepo.Add(conn); err != nil {
		c.logger.WarnContext(ctx, "failed to register connection", "error", err)
		conn.Close()
		return
	}
	c.metrics.ConnectionOpened()
	defer c.disconnect(ctx, conn)

	c.logger.InfoContext(ctx, "connection opened", "remote_addr", r.RemoteAddr)

	go func() {
		if err := conn.WritePump(ctx); err != nil {
			c.logger.DebugContext(ctx, "write pump stopped", "error", err)
		}
		// unblocks the reader when the writer fails first
		cancel()
		conn.Close()
	}()

	if err := c.wsRouter.ServeConn(ctx, conn); err != nil {
		c.logger.InfoContext(ctx, "connection closed", "reason", err)
	}
}

// disconnect runs the departure path of a connection once its read loop is over.
func (c controller) disconnect(ctx context.Context, conn *wsconn.Conn) {
	if err := c.connRepo.Remove(conn.ID()); err != nil {
		c.logger.WarnContext(ctx, "failed to remove connection", "error", err)
	}
	conn.Close()
	c.metrics.ConnectionClosed()

	resp, err := c.roomService.DisconnectMember(ctx, conn.ID())
	if err != nil {
		c.logger.DebugContext(ctx, "disconnected connection held no membership", "error", err)
		return
	}

	if resp.CancelledRequest != "" {
		c.logger.InfoContext(ctx, "pending join request cancelled", "request_id", resp.CancelledRequest)
	}

	if resp.Closed != nil {
		c.publishRoomClosed(ctx, resp.Closed)
	}

	if resp.Left != nil {
		c.publishMemberLeft(ctx, resp.Left, protocol.ReasonDisconnected)
	}

	if resp.LeaderChanged != nil {
		c.publishLeaderChanged(ctx, resp.LeaderChanged)
	}
}
