package controller

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sharetube/syncroom/internal/repository/connection"
	"github.com/sharetube/syncroom/internal/service/room"
	"github.com/sharetube/syncroom/pkg/protocol"
	"github.com/sharetube/syncroom/pkg/validator"
	"github.com/sharetube/syncroom/pkg/wsconn"
	"github.com/sharetube/syncroom/pkg/wsrouter"
	"golang.org/x/time/rate"
)

type iRoomService interface {
	JoinRoom(context.Context, *room.JoinRoomParams) (room.JoinRoomResponse, error)
	ApproveJoin(context.Context, *room.ResolveJoinParams) (room.ApproveJoinResponse, error)
	RejectJoin(context.Context, *room.ResolveJoinParams) (room.RejectJoinResponse, error)
	ExpirePendingRequests(context.Context) []room.ExpiredRequest
	LeaveRoom(context.Context, string) (room.LeaveRoomResponse, error)
	DisconnectMember(context.Context, string) (room.DisconnectResponse, error)
	KickMember(context.Context, *room.MemberParams) (room.KickMemberResponse, error)
	PromoteMember(context.Context, *room.MemberParams) (*room.LeaderChange, error)
	CreateShareToken(context.Context, *room.CreateShareTokenParams) (room.CreateShareTokenResponse, error)
	SetMedia(context.Context, *room.SetMediaParams) (protocol.State, error)
	Control(context.Context, *room.ControlParams) (room.ControlResponse, error)
	LeaderHeartbeat(context.Context, *room.LeaderHeartbeatParams) (room.LeaderHeartbeatResponse, error)
	Snapshot(context.Context, string) (protocol.Snapshot, error)
	ServerTime() int64
}

type iConnRepo interface {
	Add(conn connection.Conn) error
	Remove(id string) error
}

type iMetrics interface {
	ConnectionOpened()
	ConnectionClosed()
	MessageHandled(messageType string, duration time.Duration)
	MessageDropped(reason string)
	JoinResult(result string)
	Handler() http.Handler
}

type Config struct {
	Conn              wsconn.Config
	MessagesPerSecond float64
	MessageBurst      int
	// HeartbeatInterval is announced to joining clients.
	HeartbeatInterval time.Duration
}

type controller struct {
	roomService iRoomService
	connRepo    iConnRepo
	metrics     iMetrics
	upgrader    websocket.Upgrader
	validate    *validator.Validator
	wsRouter    *wsrouter.WSRouter
	logger      *slog.Logger
	cfg         Config
}

func NewController(roomService iRoomService, connRepo iConnRepo, metrics iMetrics, logger *slog.Logger, cfg Config) *controller {
	c := &controller{
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
		roomService: roomService,
		connRepo:    connRepo,
		metrics:     metrics,
		validate:    validator.NewValidator(),
		logger:      logger,
		cfg:         cfg,
	}

	limit := rate.Inf
	if cfg.MessagesPerSecond > 0 {
		limit = rate.Limit(cfg.MessagesPerSecond)
	}
	c.wsRouter = c.getWSRouter(wsrouter.WithRateLimit(limit, cfg.MessageBurst), wsrouter.WithErrorHandler(c.handleError))

	return c
}
