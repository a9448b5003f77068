package controller

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/sharetube/syncroom/pkg/mediasync"
	"github.com/sharetube/syncroom/pkg/protocol"
	"github.com/sharetube/syncroom/pkg/syncclient"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type idlePlayer struct{}

func (idlePlayer) Play() error                            { return nil }
func (idlePlayer) Pause() error                           { return nil }
func (idlePlayer) SeekTo(float64) error                   { return nil }
func (idlePlayer) CurrentTime() float64                   { return 0 }
func (idlePlayer) Duration() float64                      { return 0 }
func (idlePlayer) PlaybackState() mediasync.PlaybackState { return mediasync.Unstarted }

func (s *testServer) syncClient(t *testing.T, onMessage func(protocol.Message)) *syncclient.Client {
	t.Helper()

	client, err := syncclient.Dial(context.Background(), syncclient.Config{
		URL:                   "ws" + strings.TrimPrefix(s.URL, "http") + "/ws",
		OffsetRefreshInterval: -1,
		OnMessage:             onMessage,
		Logger:                slog.New(slog.NewTextHandler(io.Discard, nil)),
	}, idlePlayer{})
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })

	return client
}

func TestSyncClientApprovalFlow(t *testing.T) {
	s := newTestServer(t)
	ctx := context.Background()

	requests := make(chan protocol.JoinRequestPayload, 1)
	leader := s.syncClient(t, func(msg protocol.Message) {
		if msg.Type == protocol.TypeJoinRequest {
			var req protocol.JoinRequestPayload
			if err := json.Unmarshal(msg.Payload, &req); err == nil {
				requests <- req
			}
		}
	})

	joined, err := leader.Join(ctx, "R1", "leader", "")
	require.NoError(t, err)
	assert.True(t, joined.IsLeader)
	assert.Equal(t, int64(500), joined.HeartbeatIntervalMs)

	_, err = leader.SyncClock(ctx)
	require.NoError(t, err)
	assert.InDelta(t, s.clock.Now().UnixMilli(), time.Now().Add(leader.Offset()).UnixMilli(), 1000)

	follower := s.syncClient(t, nil)
	followerJoined := make(chan error, 1)
	go func() {
		_, err := follower.Join(ctx, "R1", "follower", "")
		followerJoined <- err
	}()

	var req protocol.JoinRequestPayload
	select {
	case req = <-requests:
	case <-time.After(2 * time.Second):
		t.Fatal("leader never saw the join request")
	}
	assert.Equal(t, "follower", req.Name)
	require.NoError(t, leader.ApproveJoin(req.RequestID))

	select {
	case err := <-followerJoined:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("follower join never resolved")
	}
	assert.False(t, follower.IsLeader())
	assert.NotEmpty(t, follower.ParticipantID())

	snapshot, err := follower.Snapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, leader.ParticipantID(), snapshot.LeaderID)
	assert.Len(t, snapshot.Participants, 2)

	token, err := leader.CreateShareToken(ctx, "")
	require.NoError(t, err)
	assert.NotEmpty(t, token.Token)
}
