package connection

import "errors"

var (
	ErrNotFound      = errors.New("connection not found")
	ErrAlreadyExists = errors.New("connection already exists")
)

// Conn is the send side of a client connection.
type Conn interface {
	ID() string
	Send(v any) error
}
