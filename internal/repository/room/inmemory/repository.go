// Package inmemory implements the room registry: the process-lifetime map of room id to room and
// every structural mutation on it.
package inmemory

import (
	"context"
	"log/slog"
	"sync"

	"github.com/jonboulle/clockwork"
	"github.com/sharetube/syncroom/internal/repository/room"
	"golang.org/x/exp/maps"
)

// repo guards its maps and indexes with mu. Fields of a *room.Room returned by it are not guarded by
// mu: callers serialize access per room id.
type repo struct {
	mu    sync.RWMutex
	rooms map[string]*room.Room
	// drafts hold rooms created without participants. They are published on the first AddParticipant.
	drafts    map[string]*room.Room
	memberOf  map[string]string
	pendingOf map[string]room.PendingRef
	seq       uint64
	clock     clockwork.Clock
	logger    *slog.Logger
}

func NewRepo(clock clockwork.Clock, logger *slog.Logger) *repo {
	return &repo{
		rooms:     make(map[string]*room.Room),
		drafts:    make(map[string]*room.Room),
		memberOf:  make(map[string]string),
		pendingOf: make(map[string]room.PendingRef),
		clock:     clock,
		logger:    logger,
	}
}

func (r *repo) createOrGet(roomID string) *room.Room {
	if rm, ok := r.rooms[roomID]; ok {
		return rm
	}

	rm, ok := r.drafts[roomID]
	if !ok {
		rm = room.New(roomID)
		r.drafts[roomID] = rm
	}

	return rm
}

// CreateOrGet is idempotent. A room it creates stays invisible to Get and RoomIDs until its first
// participant is added.
func (r *repo) CreateOrGet(ctx context.Context, roomID string) *room.Room {
	r.logger.DebugContext(ctx, "called", "room_id", roomID)
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.createOrGet(roomID)
}

func (r *repo) Get(ctx context.Context, roomID string) (*room.Room, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rm, ok := r.rooms[roomID]
	return rm, ok
}

func (r *repo) delete(roomID string) {
	rm, ok := r.rooms[roomID]
	if !ok {
		return
	}

	for participantID := range rm.Participants {
		if r.memberOf[participantID] == roomID {
			delete(r.memberOf, participantID)
		}
	}
	for _, req := range rm.PendingRequests {
		if ref, ok := r.pendingOf[req.RequesterID]; ok && ref.RoomID == roomID {
			delete(r.pendingOf, req.RequesterID)
		}
	}

	delete(r.rooms, roomID)
}

// Delete destroys the room and drops every index entry pointing at it. Missing rooms are ignored.
func (r *repo) Delete(ctx context.Context, roomID string) {
	r.logger.DebugContext(ctx, "called", "room_id", roomID)
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.drafts, roomID)
	r.delete(roomID)
}

// AddParticipant admits participantID, creating the room when absent. The participant becomes leader
// when the room has none.
func (r *repo) AddParticipant(ctx context.Context, roomID, participantID, name string) (*room.Room, error) {
	r.logger.DebugContext(ctx, "called", "room_id", roomID, "participant_id", participantID)
	r.mu.Lock()
	defer r.mu.Unlock()

	if current, ok := r.memberOf[participantID]; ok && current != roomID {
		r.logger.DebugContext(ctx, "returned", "error", room.ErrAlreadyInRoom)
		return nil, room.ErrAlreadyInRoom
	}

	rm := r.createOrGet(roomID)
	delete(r.drafts, roomID)
	r.rooms[roomID] = rm
	if _, ok := rm.Participants[participantID]; !ok {
		r.seq++
		rm.Participants[participantID] = room.Participant{
			ID:       participantID,
			Name:     name,
			JoinedAt: r.clock.Now(),
			Seq:      r.seq,
		}
	}
	r.memberOf[participantID] = roomID

	if rm.LeaderID == "" {
		rm.LeaderID = participantID
	}

	return rm, nil
}

// RemoveParticipant returns false when the room does not exist afterwards, either because it was
// missing or because the removal emptied it. Removing the leader leaves the room leaderless.
func (r *repo) RemoveParticipant(ctx context.Context, roomID, participantID string) (*room.Room, bool) {
	r.logger.DebugContext(ctx, "called", "room_id", roomID, "participant_id", participantID)
	r.mu.Lock()
	defer r.mu.Unlock()

	rm, ok := r.rooms[roomID]
	if !ok {
		return nil, false
	}

	delete(rm.Participants, participantID)
	if r.memberOf[participantID] == roomID {
		delete(r.memberOf, participantID)
	}
	if rm.LeaderID == participantID {
		rm.LeaderID = ""
	}

	if len(rm.Participants) == 0 {
		r.delete(roomID)
		return nil, false
	}

	return rm, true
}

// SetLeader fails when the room is missing or participantID is not one of its members.
func (r *repo) SetLeader(ctx context.Context, roomID, participantID string) (*room.Room, bool) {
	r.logger.DebugContext(ctx, "called", "room_id", roomID, "participant_id", participantID)
	r.mu.Lock()
	defer r.mu.Unlock()

	rm, ok := r.rooms[roomID]
	if !ok || !rm.HasParticipant(participantID) {
		return nil, false
	}

	rm.LeaderID = participantID
	return rm, true
}

func (r *repo) RoomOf(ctx context.Context, participantID string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	roomID, ok := r.memberOf[participantID]
	return roomID, ok
}

func (r *repo) AddPendingRequest(ctx context.Context, roomID string, req room.PendingRequest) error {
	r.logger.DebugContext(ctx, "called", "room_id", roomID, "request", req)
	r.mu.Lock()
	defer r.mu.Unlock()

	rm, ok := r.rooms[roomID]
	if !ok {
		return room.ErrRoomNotFound
	}
	if _, ok := r.pendingOf[req.RequesterID]; ok {
		return room.ErrAlreadyPending
	}

	rm.PendingRequests[req.ID] = req
	r.pendingOf[req.RequesterID] = room.PendingRef{RoomID: roomID, RequestID: req.ID}

	return nil
}

// TakePendingRequest removes and returns the request, resolving it.
func (r *repo) TakePendingRequest(ctx context.Context, roomID, requestID string) (room.PendingRequest, error) {
	r.logger.DebugContext(ctx, "called", "room_id", roomID, "request_id", requestID)
	r.mu.Lock()
	defer r.mu.Unlock()

	rm, ok := r.rooms[roomID]
	if !ok {
		return room.PendingRequest{}, room.ErrRoomNotFound
	}

	req, ok := rm.PendingRequests[requestID]
	if !ok {
		return room.PendingRequest{}, room.ErrRequestNotFound
	}

	delete(rm.PendingRequests, requestID)
	if ref, ok := r.pendingOf[req.RequesterID]; ok && ref.RequestID == requestID {
		delete(r.pendingOf, req.RequesterID)
	}

	return req, nil
}

func (r *repo) PendingOf(ctx context.Context, requesterID string) (room.PendingRef, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ref, ok := r.pendingOf[requesterID]
	return ref, ok
}

func (r *repo) RoomIDs(ctx context.Context) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return maps.Keys(r.rooms)
}
