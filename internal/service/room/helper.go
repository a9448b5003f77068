package room

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/sharetube/syncroom/internal/repository/connection"
	"github.com/sharetube/syncroom/internal/repository/room"
)

type uuidGenerator struct{}

func (uuidGenerator) NewID() string {
	return uuid.NewString()
}

type refMutex struct {
	sync.Mutex
	refs int
}

// keyedMutex serializes work per room id. Entries are dropped once nobody holds or waits for them.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*refMutex
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{locks: make(map[string]*refMutex)}
}

func (k *keyedMutex) Lock(key string) (unlock func()) {
	k.mu.Lock()
	m, ok := k.locks[key]
	if !ok {
		m = &refMutex{}
		k.locks[key] = m
	}
	m.refs++
	k.mu.Unlock()

	m.Lock()

	return func() {
		m.Unlock()

		k.mu.Lock()
		m.refs--
		if m.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}

func (s service) getConns(ids []string) []connection.Conn {
	return s.connRepo.GetMany(ids)
}

func (s service) getConnsExcept(rm *room.Room, exclude string) []connection.Conn {
	ids := make([]string, 0, len(rm.Participants))
	for _, id := range rm.ParticipantIDs() {
		if id != exclude {
			ids = append(ids, id)
		}
	}

	return s.getConns(ids)
}

// getConn returns nil when the connection is gone.
func (s service) getConn(id string) connection.Conn {
	conn, err := s.connRepo.Get(id)
	if err != nil {
		return nil
	}

	return conn
}

// lockMemberRoom locks the room participantID belongs to. The returned unlock is nil on error.
func (s service) lockMemberRoom(ctx context.Context, participantID string) (*room.Room, func(), error) {
	roomID, ok := s.roomRepo.RoomOf(ctx, participantID)
	if !ok {
		return nil, nil, ErrNotInRoom
	}

	unlock := s.locks.Lock(roomID)
	rm, ok := s.roomRepo.Get(ctx, roomID)
	if !ok || !rm.HasParticipant(participantID) {
		unlock()
		return nil, nil, ErrNotInRoom
	}

	return rm, unlock, nil
}

// lockLeaderRoom is lockMemberRoom that also requires participantID to hold leadership.
func (s service) lockLeaderRoom(ctx context.Context, participantID string) (*room.Room, func(), error) {
	rm, unlock, err := s.lockMemberRoom(ctx, participantID)
	if err != nil {
		return nil, nil, ErrPermissionDenied
	}

	if !rm.IsLeader(participantID) {
		unlock()
		return nil, nil, ErrPermissionDenied
	}

	return rm, unlock, nil
}

func (s service) getPendingConns(rm *room.Room) []connection.Conn {
	ids := make([]string, 0, len(rm.PendingRequests))
	for _, req := range rm.PendingList() {
		ids = append(ids, req.RequesterID)
	}

	return s.getConns(ids)
}
