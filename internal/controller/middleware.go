package controller

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/sharetube/syncroom/pkg/ctxlogger"
	"github.com/sharetube/syncroom/pkg/wsconn"
	"github.com/sharetube/syncroom/pkg/wsrouter"
)

func (c controller) requestIDMw(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := ctxlogger.AppendCtx(r.Context(), slog.String("request_id", c.generateTimeBasedID()))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (c controller) requestLoggingMw(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c.logger.DebugContext(r.Context(), "request",
			"method", r.Method,
			"url", r.URL.String(),
			"remote_addr", r.RemoteAddr,
		)
		next.ServeHTTP(w, r)
	})
}

func (c controller) wsRequestIDMw(next wsrouter.HandlerFunc) wsrouter.HandlerFunc {
	return func(ctx context.Context, conn *wsconn.Conn, payload json.RawMessage) error {
		ctx = ctxlogger.AppendCtx(ctx, slog.String("ws_request_id", c.generateTimeBasedID()))
		return next(ctx, conn, payload)
	}
}

func (c controller) wsLoggerMw(next wsrouter.HandlerFunc) wsrouter.HandlerFunc {
	return func(ctx context.Context, conn *wsconn.Conn, payload json.RawMessage) error {
		messageType := wsrouter.GetMessageTypeFromCtx(ctx)
		ctx = ctxlogger.AppendCtx(ctx, slog.String("message_type", messageType))
		c.logger.DebugContext(ctx, "websocket message received", "payload", string(payload))

		start := time.Now()
		err := next(ctx, conn, payload)
		elapsed := time.Since(start)

		c.metrics.MessageHandled(messageType, elapsed)
		c.logger.DebugContext(ctx, "websocket message handled", "processing_time_us", elapsed.Microseconds())

		return err
	}
}
