package room

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/sharetube/syncroom/internal/repository/connection"
	"github.com/sharetube/syncroom/internal/repository/room"
	"github.com/sharetube/syncroom/internal/repository/token"
)

var (
	ErrPermissionDenied = errors.New("permission denied")
	ErrNotInRoom        = errors.New("connection is not in a room")
	ErrAlreadyInRoom    = errors.New("connection is already in a room")
	ErrAlreadyPending   = errors.New("connection already has a pending join request")
	ErrTokenExpired     = errors.New("link expired, request a new one")
	ErrRoomNotFound     = errors.New("room not found")
	ErrRequestNotFound  = errors.New("join request not found")
	ErrMemberNotFound   = errors.New("member not found")
	ErrInvalidTarget    = errors.New("invalid target member")
	ErrInvalidMediaKind = errors.New("invalid media kind")
	ErrRequesterGone    = errors.New("requester disconnected")
	ErrInvalidAction    = errors.New("invalid control action")
	ErrTokenTaken       = errors.New("share token already in use")
)

const defaultShareTokenTTL = 24 * time.Hour

type iRoomRepo interface {
	Get(ctx context.Context, roomID string) (*room.Room, bool)
	Delete(ctx context.Context, roomID string)
	AddParticipant(ctx context.Context, roomID, participantID, name string) (*room.Room, error)
	RemoveParticipant(ctx context.Context, roomID, participantID string) (*room.Room, bool)
	SetLeader(ctx context.Context, roomID, participantID string) (*room.Room, bool)
	RoomOf(ctx context.Context, participantID string) (string, bool)
	AddPendingRequest(ctx context.Context, roomID string, req room.PendingRequest) error
	TakePendingRequest(ctx context.Context, roomID, requestID string) (room.PendingRequest, error)
	PendingOf(ctx context.Context, requesterID string) (room.PendingRef, bool)
	RoomIDs(ctx context.Context) []string
}

type iTokenRepo interface {
	Set(ctx context.Context, t token.ShareToken) error
	Get(ctx context.Context, roomID, value string) (token.ShareToken, error)
	Remove(ctx context.Context, roomID, value string) error
	RemoveRoomTokens(ctx context.Context, roomID string) error
}

type iConnRepo interface {
	Get(id string) (connection.Conn, error)
	GetMany(ids []string) []connection.Conn
}

type iGenerator interface {
	NewID() string
}

type Config struct {
	// ShareTokenTTL defaults to 24h.
	ShareTokenTTL time.Duration
	// PendingRequestTTL of zero keeps join requests pending until the leader answers.
	PendingRequestTTL time.Duration
}

type service struct {
	roomRepo  iRoomRepo
	tokenRepo iTokenRepo
	connRepo  iConnRepo
	generator iGenerator
	locks     *keyedMutex
	clock     clockwork.Clock
	logger    *slog.Logger
	cfg       Config
}

func NewService(
	roomRepo iRoomRepo,
	tokenRepo iTokenRepo,
	connRepo iConnRepo,
	clock clockwork.Clock,
	logger *slog.Logger,
	cfg Config,
) *service {
	if cfg.ShareTokenTTL <= 0 {
		cfg.ShareTokenTTL = defaultShareTokenTTL
	}

	return &service{
		roomRepo:  roomRepo,
		tokenRepo: tokenRepo,
		connRepo:  connRepo,
		generator: uuidGenerator{},
		locks:     newKeyedMutex(),
		clock:     clock,
		logger:    logger,
		cfg:       cfg,
	}
}

// ServerTime returns the room authority's clock in unix milliseconds.
func (s service) ServerTime() int64 {
	return s.clock.Now().UnixMilli()
}
