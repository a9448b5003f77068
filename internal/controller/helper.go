package controller

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/sharetube/syncroom/internal/metrics"
	"github.com/sharetube/syncroom/internal/repository/connection"
	"github.com/sharetube/syncroom/pkg/protocol"
	"github.com/sharetube/syncroom/pkg/wsconn"
)

// generateTimeBasedID returns a uuid v7, which sorts by creation time.
func (c controller) generateTimeBasedID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}

	return id.String()
}

// writeToConn is fire-and-forget: failures are logged and counted, never returned. A nil conn is
// skipped.
func (c controller) writeToConn(ctx context.Context, conn connection.Conn, output *protocol.Output) {
	if conn == nil {
		return
	}

	if err := conn.Send(output); err != nil {
		if errors.Is(err, wsconn.ErrSendBufferFull) {
			c.metrics.MessageDropped(metrics.DropBufferFull)
		}
		c.logger.WarnContext(ctx, "failed to write to conn",
			"to_connection_id", conn.ID(),
			"type", output.Type,
			"error", err,
		)
	}
}

func (c controller) broadcast(ctx context.Context, conns []connection.Conn, output *protocol.Output) {
	for _, conn := range conns {
		c.writeToConn(ctx, conn, output)
	}
}

func (c controller) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		c.logger.Warn("failed to write json", "error", err)
	}
}
