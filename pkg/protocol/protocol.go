// Package protocol holds the websocket wire format shared by the server and syncclient.
package protocol

import "encoding/json"

// Inbound message types.
const (
	TypeJoinRoom         = "JOIN_ROOM"
	TypeLeaveRoom        = "LEAVE_ROOM"
	TypeApproveJoin      = "APPROVE_JOIN"
	TypeRejectJoin       = "REJECT_JOIN"
	TypeKickMember       = "KICK_MEMBER"
	TypePromoteMember    = "PROMOTE_MEMBER"
	TypeCreateShareToken = "CREATE_SHARE_TOKEN"
	TypeSetMedia         = "SET_MEDIA"
	TypePlayerControl    = "PLAYER_CONTROL"
	TypeLeaderHeartbeat  = "LEADER_HEARTBEAT"
	TypeGetSnapshot      = "GET_SNAPSHOT"
	TypeTimeSync         = "TIME_SYNC"
)

// Outbound message types. PLAYER_CONTROL and TIME_SYNC are echoed with the same names.
const (
	TypeJoinedRoom        = "JOINED_ROOM"
	TypeJoinPending       = "JOIN_PENDING"
	TypeJoinRejected      = "JOIN_REJECTED"
	TypeJoinFailed        = "JOIN_FAILED"
	TypeJoinRequest       = "JOIN_REQUEST"
	TypeMemberJoined      = "MEMBER_JOINED"
	TypeMemberLeft        = "MEMBER_LEFT"
	TypeKicked            = "KICKED"
	TypeLeaderChanged     = "LEADER_CHANGED"
	TypeRoomClosed        = "ROOM_CLOSED"
	TypeShareTokenCreated = "SHARE_TOKEN_CREATED"
	TypeSyncState         = "SYNC_STATE"
	TypeRoomSnapshot      = "ROOM_SNAPSHOT"
	TypeError             = "ERROR"
)

// Join failure codes.
const (
	CodeRoomNotFound   = "room_not_found"
	CodeTokenExpired   = "token_expired"
	CodeAlreadyInRoom  = "already_in_room"
	CodeRequestExpired = "request_expired"
	CodeRoomClosed     = "room_closed"
	CodeInvalid        = "validation_error"
	CodeRateLimited    = "rate_limited"
	CodeInternal       = "internal_error"
)

// Departure reasons carried by MEMBER_LEFT and ROOM_CLOSED.
const (
	ReasonLeft         = "left"
	ReasonKicked       = "kicked"
	ReasonDisconnected = "disconnected"
	ReasonLeaderLeft   = "leader left"
)

// Control actions.
const (
	ActionPlay  = "PLAY"
	ActionPause = "PAUSE"
	ActionSeek  = "SEEK"
)

// Media kinds.
const (
	MediaNone          = "none"
	MediaStreamedVideo = "streamed-video"
	MediaDirectAudio   = "direct-audio"
)

// Message is the envelope of every websocket frame. Ref correlates a reply with the request that
// caused it and is echoed back unchanged.
type Message struct {
	Type    string          `json:"type"`
	Ref     string          `json:"ref,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Output is an outbound envelope with a not yet encoded payload.
type Output struct {
	Type    string `json:"type"`
	Ref     string `json:"ref,omitempty"`
	Payload any    `json:"payload,omitempty"`
}

type JoinRoomInput struct {
	RoomID     string `json:"room_id" validate:"required,max=64"`
	Name       string `json:"name" validate:"required,max=32"`
	ShareToken string `json:"share_token,omitempty" validate:"max=128"`
}

type RequestIDInput struct {
	RequestID string `json:"request_id" validate:"required"`
}

type ParticipantIDInput struct {
	ParticipantID string `json:"participant_id" validate:"required"`
}

type CreateShareTokenInput struct {
	Token string `json:"token,omitempty" validate:"max=128"`
}

type SetMediaInput struct {
	Kind string `json:"kind" validate:"required,oneof=none streamed-video direct-audio"`
	Ref  string `json:"ref" validate:"max=2048"`
}

type PlayerControlInput struct {
	Action string   `json:"action" validate:"required,oneof=PLAY PAUSE SEEK"`
	ToTime *float64 `json:"to_time,omitempty" validate:"omitempty,min=0"`
}

type LeaderHeartbeatInput struct {
	MediaTime float64 `json:"media_time" validate:"min=0"`
	IsPlaying bool    `json:"is_playing"`
}

type TimeSyncInput struct {
	ClientTs int64 `json:"client_ts"`
}

type Participant struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// State is the canonical playback state of a room as last reported by its leader.
type State struct {
	MediaKind       string  `json:"media_kind"`
	MediaRef        string  `json:"media_ref"`
	IsPlaying       bool    `json:"is_playing"`
	LeaderMediaTime float64 `json:"leader_media_time"`
	LeaderServerTs  int64   `json:"leader_server_ts"`
}

type Snapshot struct {
	RoomID       string        `json:"room_id"`
	LeaderID     string        `json:"leader_id"`
	State        State         `json:"state"`
	Participants []Participant `json:"participants"`
	ServerTs     int64         `json:"server_ts"`
}

type JoinedRoomPayload struct {
	ParticipantID string   `json:"participant_id"`
	IsLeader      bool     `json:"is_leader"`
	Room          Snapshot `json:"room"`
	// HeartbeatIntervalMs is the cadence the leader is expected to report its state at.
	HeartbeatIntervalMs int64 `json:"heartbeat_interval_ms"`
}

type JoinPendingPayload struct {
	RoomID    string `json:"room_id"`
	RequestID string `json:"request_id"`
}

type JoinFailedPayload struct {
	RoomID  string `json:"room_id"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

type JoinRejectedPayload struct {
	RoomID string `json:"room_id"`
}

type JoinRequestPayload struct {
	RoomID      string `json:"room_id"`
	RequestID   string `json:"request_id"`
	RequesterID string `json:"requester_id"`
	Name        string `json:"name"`
	RequestedAt int64  `json:"requested_at"`
}

type MemberJoinedPayload struct {
	Participant  Participant   `json:"participant"`
	Participants []Participant `json:"participants"`
}

type MemberLeftPayload struct {
	Participant  Participant   `json:"participant"`
	Reason       string        `json:"reason"`
	Participants []Participant `json:"participants"`
}

type KickedPayload struct {
	RoomID string `json:"room_id"`
}

type LeaderChangedPayload struct {
	LeaderID string `json:"leader_id"`
}

type RoomClosedPayload struct {
	RoomID string `json:"room_id"`
	Reason string `json:"reason"`
}

type ShareTokenCreatedPayload struct {
	Token     string `json:"token"`
	ExpiresAt int64  `json:"expires_at"`
}

type PlayerControlPayload struct {
	Action string `json:"action"`
	State  State  `json:"state"`
}

type TimeSyncPayload struct {
	ClientTs int64 `json:"client_ts"`
	ServerTs int64 `json:"server_ts"`
}

type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Errors  any    `json:"errors,omitempty"`
}

// Health is returned by GET /health and used as a round-trip clock probe.
type Health struct {
	Status          string `json:"status"`
	ServerTimestamp int64  `json:"server_timestamp"`
}
