package inmemory

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/sharetube/syncroom/internal/repository/token"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokenLifecycle(t *testing.T) {
	r := NewRepo(slog.Default())
	ctx := context.Background()
	now := time.Now()

	st := token.ShareToken{Token: "abc", RoomID: "R1", CreatedBy: "L", CreatedAt: now, ExpiresAt: now.Add(time.Hour)}
	require.NoError(t, r.Set(ctx, st))
	assert.ErrorIs(t, r.Set(ctx, st), token.ErrTokenAlreadyExists)

	got, err := r.Get(ctx, "R1", "abc")
	require.NoError(t, err)
	assert.Equal(t, st, got)

	_, err = r.Get(ctx, "R2", "abc")
	assert.ErrorIs(t, err, token.ErrTokenNotFound, "tokens are scoped to one room")

	require.NoError(t, r.Remove(ctx, "R1", "abc"))
	assert.ErrorIs(t, r.Remove(ctx, "R1", "abc"), token.ErrTokenNotFound)
}

func TestRemoveRoomTokens(t *testing.T) {
	r := NewRepo(slog.Default())
	ctx := context.Background()

	require.NoError(t, r.Set(ctx, token.ShareToken{Token: "a", RoomID: "R1"}))
	require.NoError(t, r.Set(ctx, token.ShareToken{Token: "b", RoomID: "R1"}))
	require.NoError(t, r.Set(ctx, token.ShareToken{Token: "c", RoomID: "R2"}))

	require.NoError(t, r.RemoveRoomTokens(ctx, "R1"))

	_, err := r.Get(ctx, "R1", "a")
	assert.ErrorIs(t, err, token.ErrTokenNotFound)
	_, err = r.Get(ctx, "R2", "c")
	assert.NoError(t, err)
}

func TestShareTokenValidAtBoundary(t *testing.T) {
	now := time.Now()

	assert.False(t, token.ShareToken{ExpiresAt: now.Add(-time.Millisecond)}.ValidAt(now))
	assert.False(t, token.ShareToken{ExpiresAt: now}.ValidAt(now))
	assert.True(t, token.ShareToken{ExpiresAt: now.Add(time.Millisecond)}.ValidAt(now))
}
