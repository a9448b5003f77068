package room

import (
	"errors"
	"time"

	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"
)

var (
	ErrRoomNotFound    = errors.New("room not found")
	ErrAlreadyInRoom   = errors.New("participant already in a room")
	ErrAlreadyPending  = errors.New("participant already has a pending request")
	ErrRequestNotFound = errors.New("pending request not found")
)

type MediaKind string

const (
	MediaNone          MediaKind = "none"
	MediaStreamedVideo MediaKind = "streamed-video"
	MediaDirectAudio   MediaKind = "direct-audio"
)

func (k MediaKind) Valid() bool {
	switch k {
	case MediaNone, MediaStreamedVideo, MediaDirectAudio:
		return true
	}
	return false
}

type Participant struct {
	ID       string
	Name     string
	JoinedAt time.Time
	// Seq orders participants by admission.
	Seq uint64
}

type PendingRequest struct {
	ID          string
	RequesterID string
	Name        string
	RequestedAt time.Time
}

// PendingRef locates the pending request of a requester.
type PendingRef struct {
	RoomID    string
	RequestID string
}

// Room is guarded by the caller: every read or write must happen while holding the room's lock.
type Room struct {
	ID       string
	LeaderID string

	MediaKind       MediaKind
	MediaRef        string
	IsPlaying       bool
	LeaderMediaTime float64
	LeaderServerTs  int64

	Participants    map[string]Participant
	PendingRequests map[string]PendingRequest
}

func New(id string) *Room {
	return &Room{
		ID:              id,
		MediaKind:       MediaNone,
		Participants:    make(map[string]Participant),
		PendingRequests: make(map[string]PendingRequest),
	}
}

func (r *Room) IsLeader(participantID string) bool {
	return r.LeaderID != "" && r.LeaderID == participantID
}

func (r *Room) HasParticipant(participantID string) bool {
	_, ok := r.Participants[participantID]
	return ok
}

// ParticipantList returns participants in admission order.
func (r *Room) ParticipantList() []Participant {
	list := maps.Values(r.Participants)
	slices.SortFunc(list, func(a, b Participant) int {
		switch {
		case a.Seq < b.Seq:
			return -1
		case a.Seq > b.Seq:
			return 1
		}
		return 0
	})

	return list
}

// ParticipantIDs returns participant ids in admission order.
func (r *Room) ParticipantIDs() []string {
	list := r.ParticipantList()
	ids := make([]string, 0, len(list))
	for _, p := range list {
		ids = append(ids, p.ID)
	}

	return ids
}

// PendingList returns pending requests oldest first.
func (r *Room) PendingList() []PendingRequest {
	list := maps.Values(r.PendingRequests)
	slices.SortFunc(list, func(a, b PendingRequest) int {
		return a.RequestedAt.Compare(b.RequestedAt)
	})

	return list
}

// Longest-standing participant other than exclude, used to fill a vacant leadership.
func (r *Room) OldestParticipant(exclude string) (Participant, bool) {
	for _, p := range r.ParticipantList() {
		if p.ID != exclude {
			return p, true
		}
	}

	return Participant{}, false
}
