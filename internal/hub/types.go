// Package hub implements the signaling and admission-control core: the Room
// Registry, the per-room Admission Controller, Signaling Broker, Side-Channel
// Fanout, and Transcription Coordinator.
package hub

import "time"

// RoomID identifies a meeting room; opaque, UUID-shaped.
type RoomID string

// UserID identifies an authenticated principal; stable across reconnects.
type UserID string

// ConnID identifies one live socket connection; not stable across reconnects.
type ConnID string

// DisplayName is the human-readable name shown for a participant.
type DisplayName string

// MediaState tracks a participant's self-reported audio/video toggle state.
type MediaState struct {
	Audio bool `json:"audio"`
	Video bool `json:"video"`
}

// Participant is one live ConnID's presence in a room.
type Participant struct {
	ConnID      ConnID      `json:"conn_id"`
	UserID      UserID      `json:"user_id"`
	DisplayName DisplayName `json:"display_name"`
	IsHost      bool        `json:"is_host"`
	MediaState  MediaState  `json:"media_state"`
	JoinedAt    time.Time   `json:"joined_at"`
}

// RequestStatus enumerates the lifecycle of a PendingRequest.
type RequestStatus string

const (
	RequestStatusPending  RequestStatus = "pending"
	RequestStatusApproved RequestStatus = "approved"
	RequestStatusDenied   RequestStatus = "denied"
	RequestStatusExpired  RequestStatus = "expired"
)

// PendingRequest is a UserID waiting on a host decision. Keyed by UserID (not
// ConnID) within a room so refreshes do not duplicate queue entries. ConnID
// is server-assigned and unstable across reconnects (spec.md §3) and must
// never reach a client, hence json:"-".
type PendingRequest struct {
	UserID      UserID        `json:"user_id"`
	DisplayName DisplayName   `json:"display_name"`
	ConnID      ConnID        `json:"-"` // may be the zero value if the requester's socket dropped while waiting
	RequestedAt time.Time     `json:"requested_at"`
	Status      RequestStatus `json:"status"`
}

// DenyRecord marks a UserID as denied entry to a room, until the room ends.
type DenyRecord struct {
	UserID   UserID
	DeniedAt time.Time
	Reason   string
}

// TranscriptEntry is an immutable, finalized utterance appended to a room's
// transcript log. Duplicates are suppressed by EntryID.
type TranscriptEntry struct {
	EntryID            string      `json:"entry_id"`
	UserID             UserID      `json:"user_id"`
	DisplayName        DisplayName `json:"display_name"`
	Text               string      `json:"text"`
	WallTime           time.Time   `json:"wall_time"`
	SecondsIntoMeeting float64     `json:"seconds_into_meeting"`
	Confidence         float64     `json:"confidence"`
	IsFinal            bool        `json:"is_final"`
}

// InterimEntry is an ephemeral, overwrite-in-place live caption for one
// speaker. Never persisted; replaced or cleared as new interim text arrives.
type InterimEntry struct {
	UserID      UserID
	DisplayName DisplayName
	Text        string
	LastUpdate  time.Time
}

// RoomSettings holds the per-room configuration the host may toggle.
type RoomSettings struct {
	WaitingRoomEnabled bool `json:"waiting_room_enabled"`
}
