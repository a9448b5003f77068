package wsrouter

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/sharetube/syncroom/pkg/protocol"
	"github.com/sharetube/syncroom/pkg/wsconn"
	"golang.org/x/time/rate"
)

var (
	ErrUnknownType    = errors.New("unknown message type")
	ErrInvalidPayload = errors.New("invalid payload")
	ErrRateLimited    = errors.New("rate limit exceeded")
)

type HandlerFunc func(ctx context.Context, conn *wsconn.Conn, payload json.RawMessage) error

type Middleware func(next HandlerFunc) HandlerFunc

type ErrorHandlerFunc func(ctx context.Context, conn *wsconn.Conn, err error)

type WSRouter struct {
	routes       map[string]HandlerFunc
	middlewares  []Middleware
	errorHandler ErrorHandlerFunc
	limit        rate.Limit
	burst        int
}

type Option func(*WSRouter)

// WithRateLimit limits every connection served by the router to limit messages per second.
func WithRateLimit(limit rate.Limit, burst int) Option {
	return func(r *WSRouter) {
		r.limit = limit
		r.burst = burst
	}
}

func WithErrorHandler(h ErrorHandlerFunc) Option {
	return func(r *WSRouter) {
		r.errorHandler = h
	}
}

func New(opts ...Option) *WSRouter {
	r := &WSRouter{
		routes: make(map[string]HandlerFunc),
		limit:  rate.Inf,
		errorHandler: func(ctx context.Context, conn *wsconn.Conn, err error) {
			conn.Send(&protocol.Output{
				Type: protocol.TypeError,
				Ref:  GetRefFromCtx(ctx),
				Payload: protocol.ErrorPayload{
					Code:    protocol.CodeInternal,
					Message: err.Error(),
				},
			})
		},
	}

	for _, opt := range opts {
		opt(r)
	}

	return r
}

// Use appends middlewares. The first one added is the outermost.
func (r *WSRouter) Use(mws ...Middleware) {
	r.middlewares = append(r.middlewares, mws...)
}

func (r *WSRouter) Handle(messageType string, handler HandlerFunc) {
	r.routes[messageType] = handler
}

// Handle registers a handler whose payload is decoded into T.
func Handle[T any](r *WSRouter, messageType string, handler func(context.Context, *wsconn.Conn, T) error) {
	r.Handle(messageType, func(ctx context.Context, conn *wsconn.Conn, payload json.RawMessage) error {
		var input T
		if len(payload) > 0 {
			if err := json.Unmarshal(payload, &input); err != nil {
				return fmt.Errorf("%w: %w", ErrInvalidPayload, err)
			}
		}

		return handler(ctx, conn, input)
	})
}

func (r *WSRouter) chain(h HandlerFunc) HandlerFunc {
	for i := len(r.middlewares) - 1; i >= 0; i-- {
		h = r.middlewares[i](h)
	}

	return h
}

// ServeConn reads messages until the connection fails or ctx is done. Messages of one connection are
// handled sequentially in arrival order.
func (r *WSRouter) ServeConn(ctx context.Context, conn *wsconn.Conn) error {
	limiter := rate.NewLimiter(r.limit, r.burst)

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		var msg protocol.Message
		if err := conn.ReadJSON(&msg); err != nil {
			return err
		}

		msgCtx := context.WithValue(ctx, messageTypeKey, msg.Type)
		msgCtx = context.WithValue(msgCtx, refKey, msg.Ref)

		if !limiter.Allow() {
			r.errorHandler(msgCtx, conn, ErrRateLimited)
			continue
		}

		handler, ok := r.routes[msg.Type]
		if !ok {
			r.errorHandler(msgCtx, conn, fmt.Errorf("%w: %q", ErrUnknownType, msg.Type))
			continue
		}

		if err := r.chain(handler)(msgCtx, conn, msg.Payload); err != nil {
			r.errorHandler(msgCtx, conn, err)
		}
	}
}
