package inmemory

import (
	"context"
	"log/slog"
	"sync"

	"github.com/sharetube/syncroom/internal/repository/token"
)

type repo struct {
	mu     sync.RWMutex
	tokens map[string]map[string]token.ShareToken
	logger *slog.Logger
}

func NewRepo(logger *slog.Logger) *repo {
	return &repo{
		tokens: make(map[string]map[string]token.ShareToken),
		logger: logger,
	}
}

func (r *repo) Set(ctx context.Context, t token.ShareToken) error {
	r.logger.DebugContext(ctx, "called", "room_id", t.RoomID, "expires_at", t.ExpiresAt)
	r.mu.Lock()
	defer r.mu.Unlock()

	roomTokens, ok := r.tokens[t.RoomID]
	if !ok {
		roomTokens = make(map[string]token.ShareToken)
		r.tokens[t.RoomID] = roomTokens
	}

	if _, ok := roomTokens[t.Token]; ok {
		r.logger.DebugContext(ctx, "returned", "error", token.ErrTokenAlreadyExists)
		return token.ErrTokenAlreadyExists
	}

	roomTokens[t.Token] = t
	return nil
}

func (r *repo) Get(ctx context.Context, roomID, value string) (token.ShareToken, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	t, ok := r.tokens[roomID][value]
	if !ok {
		return token.ShareToken{}, token.ErrTokenNotFound
	}

	return t, nil
}

func (r *repo) Remove(ctx context.Context, roomID, value string) error {
	r.logger.DebugContext(ctx, "called", "room_id", roomID)
	r.mu.Lock()
	defer r.mu.Unlock()

	roomTokens, ok := r.tokens[roomID]
	if !ok {
		return token.ErrTokenNotFound
	}
	if _, ok := roomTokens[value]; !ok {
		return token.ErrTokenNotFound
	}

	delete(roomTokens, value)
	if len(roomTokens) == 0 {
		delete(r.tokens, roomID)
	}

	return nil
}

func (r *repo) RemoveRoomTokens(ctx context.Context, roomID string) error {
	r.logger.DebugContext(ctx, "called", "room_id", roomID)
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.tokens, roomID)
	return nil
}
