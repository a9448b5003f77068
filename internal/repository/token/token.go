package token

import (
	"errors"
	"time"
)

var (
	ErrTokenNotFound      = errors.New("share token not found")
	ErrTokenAlreadyExists = errors.New("share token already exists")
)

// ShareToken admits its bearer to RoomID without leader approval until ExpiresAt.
type ShareToken struct {
	Token     string
	RoomID    string
	CreatedBy string
	CreatedAt time.Time
	ExpiresAt time.Time
}

// ValidAt reports whether the token can still be used at now.
func (t ShareToken) ValidAt(now time.Time) bool {
	return now.Before(t.ExpiresAt)
}
