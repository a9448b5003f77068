package room

import (
	"github.com/sharetube/syncroom/internal/repository/room"
	"github.com/sharetube/syncroom/pkg/protocol"
)

func toParticipant(p room.Participant) protocol.Participant {
	return protocol.Participant{
		ID:   p.ID,
		Name: p.Name,
	}
}

func toParticipants(rm *room.Room) []protocol.Participant {
	list := rm.ParticipantList()
	participants := make([]protocol.Participant, 0, len(list))
	for _, p := range list {
		participants = append(participants, toParticipant(p))
	}

	return participants
}

func toState(rm *room.Room) protocol.State {
	return protocol.State{
		MediaKind:       string(rm.MediaKind),
		MediaRef:        rm.MediaRef,
		IsPlaying:       rm.IsPlaying,
		LeaderMediaTime: rm.LeaderMediaTime,
		LeaderServerTs:  rm.LeaderServerTs,
	}
}

func (s service) toSnapshot(rm *room.Room) protocol.Snapshot {
	return protocol.Snapshot{
		RoomID:       rm.ID,
		LeaderID:     rm.LeaderID,
		State:        toState(rm),
		Participants: toParticipants(rm),
		ServerTs:     s.ServerTime(),
	}
}

func toJoinRequest(roomID string, req room.PendingRequest) protocol.JoinRequestPayload {
	return protocol.JoinRequestPayload{
		RoomID:      roomID,
		RequestID:   req.ID,
		RequesterID: req.RequesterID,
		Name:        req.Name,
		RequestedAt: req.RequestedAt.UnixMilli(),
	}
}

func toJoinRequests(rm *room.Room) []protocol.JoinRequestPayload {
	pending := rm.PendingList()
	requests := make([]protocol.JoinRequestPayload, 0, len(pending))
	for _, req := range pending {
		requests = append(requests, toJoinRequest(rm.ID, req))
	}

	return requests
}
