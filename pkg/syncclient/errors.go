package syncclient

import (
	"errors"
	"fmt"

	"github.com/sharetube/syncroom/pkg/protocol"
)

var (
	ErrJoinTimeout    = errors.New("join timed out")
	ErrJoinRejected   = errors.New("join rejected by the room leader")
	ErrJoinInProgress = errors.New("another join is in progress")
	ErrAlreadyInRoom  = errors.New("already in a room")
	ErrNotInRoom      = errors.New("not in a room")
	ErrClosed         = errors.New("client closed")

	ErrTokenExpired   = errors.New("link expired, request a new one")
	ErrRoomNotFound   = errors.New("room not found")
	ErrRoomClosed     = errors.New("room closed")
	ErrRequestExpired = errors.New("join request expired")
)

var codeErrors = map[string]error{
	protocol.CodeTokenExpired:   ErrTokenExpired,
	protocol.CodeRoomNotFound:   ErrRoomNotFound,
	protocol.CodeRoomClosed:     ErrRoomClosed,
	protocol.CodeRequestExpired: ErrRequestExpired,
	protocol.CodeAlreadyInRoom:  ErrAlreadyInRoom,
}

// ServerError is a failure reported by the server, either as JOIN_FAILED or ERROR.
type ServerError struct {
	Code    string
	Message string
}

func (e *ServerError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *ServerError) Unwrap() error {
	return codeErrors[e.Code]
}
