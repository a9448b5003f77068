package room

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sharetube/syncroom/internal/repository/token"
)

type CreateShareTokenParams struct {
	SenderID string
	// Token is generated when empty.
	Token string
}

type CreateShareTokenResponse struct {
	RoomID    string
	Token     string
	ExpiresAt time.Time
}

// CreateShareToken issues a reusable token admitting its bearers without approval until it expires.
func (s service) CreateShareToken(ctx context.Context, params *CreateShareTokenParams) (CreateShareTokenResponse, error) {
	rm, unlock, err := s.lockLeaderRoom(ctx, params.SenderID)
	if err != nil {
		return CreateShareTokenResponse{}, err
	}
	defer unlock()

	value := params.Token
	if value == "" {
		value = s.generator.NewID()
	}

	now := s.clock.Now()
	t := token.ShareToken{
		Token:     value,
		RoomID:    rm.ID,
		CreatedBy: params.SenderID,
		CreatedAt: now,
		ExpiresAt: now.Add(s.cfg.ShareTokenTTL),
	}
	if err := s.tokenRepo.Set(ctx, t); err != nil {
		if errors.Is(err, token.ErrTokenAlreadyExists) {
			return CreateShareTokenResponse{}, ErrTokenTaken
		}
		return CreateShareTokenResponse{}, fmt.Errorf("failed to set share token: %w", err)
	}

	s.logger.InfoContext(ctx, "share token created", "room_id", rm.ID, "expires_at", t.ExpiresAt)

	return CreateShareTokenResponse{
		RoomID:    rm.ID,
		Token:     t.Token,
		ExpiresAt: t.ExpiresAt,
	}, nil
}
