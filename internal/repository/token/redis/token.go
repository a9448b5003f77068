package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sharetube/syncroom/internal/repository/token"
)

type storedToken struct {
	CreatedBy string `redis:"created_by"`
	CreatedAt int64  `redis:"created_at"`
	ExpiresAt int64  `redis:"expires_at"`
}

func (r repo) Set(ctx context.Context, t token.ShareToken) error {
	r.logger.DebugContext(ctx, "called", "room_id", t.RoomID, "expires_at", t.ExpiresAt)
	created, err := r.rc.EvalSha(ctx, r.setIfNotExistsScript,
		[]string{r.getTokenKey(t.RoomID, t.Token)},
		t.CreatedBy,
		strconv.FormatInt(t.CreatedAt.UnixMilli(), 10),
		strconv.FormatInt(t.ExpiresAt.UnixMilli(), 10),
		strconv.FormatInt(t.ExpiresAt.Add(r.retention).UnixMilli(), 10),
	).Int()
	if err != nil {
		r.logger.DebugContext(ctx, "returned", "error", err)
		return fmt.Errorf("failed to set share token: %w", err)
	}

	if created == 0 {
		r.logger.DebugContext(ctx, "returned", "error", token.ErrTokenAlreadyExists)
		return token.ErrTokenAlreadyExists
	}

	return nil
}

func (r repo) Get(ctx context.Context, roomID, value string) (token.ShareToken, error) {
	cmd := r.rc.HGetAll(ctx, r.getTokenKey(roomID, value))
	if err := cmd.Err(); err != nil {
		if errors.Is(err, redis.Nil) {
			return token.ShareToken{}, token.ErrTokenNotFound
		}
		return token.ShareToken{}, fmt.Errorf("failed to get share token: %w", err)
	}

	if len(cmd.Val()) == 0 {
		return token.ShareToken{}, token.ErrTokenNotFound
	}

	var stored storedToken
	if err := cmd.Scan(&stored); err != nil {
		return token.ShareToken{}, fmt.Errorf("failed to scan share token: %w", err)
	}

	return token.ShareToken{
		Token:     value,
		RoomID:    roomID,
		CreatedBy: stored.CreatedBy,
		CreatedAt: time.UnixMilli(stored.CreatedAt),
		ExpiresAt: time.UnixMilli(stored.ExpiresAt),
	}, nil
}

func (r repo) Remove(ctx context.Context, roomID, value string) error {
	r.logger.DebugContext(ctx, "called", "room_id", roomID)
	res, err := r.rc.Del(ctx, r.getTokenKey(roomID, value)).Result()
	if err != nil {
		return fmt.Errorf("failed to remove share token: %w", err)
	}

	if res == 0 {
		return token.ErrTokenNotFound
	}

	return nil
}

func (r repo) RemoveRoomTokens(ctx context.Context, roomID string) error {
	r.logger.DebugContext(ctx, "called", "room_id", roomID)
	removed, err := r.rc.EvalSha(ctx, r.deleteKeysWithPrefixScript, nil, r.getRoomTokensPattern(roomID)).Int()
	if err != nil {
		return fmt.Errorf("failed to remove room share tokens: %w", err)
	}

	r.logger.DebugContext(ctx, "returned", "removed", removed)
	return nil
}
