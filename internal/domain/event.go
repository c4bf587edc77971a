package domain

import (
	"time"

	"github.com/google/uuid"
)

// Outbound event types. Every event carries the full authoritative
// snapshot of the fields that changed so a client that missed one event
// reconciles on the next.
const (
	EventCallRinging  = "call_ringing"
	EventCallAccepted = "call_accepted"
	EventCallRejected = "call_rejected"
	EventCallStable   = "call_stable"
	EventCallEnded    = "call_ended"
	EventCallMedia    = "call_media"

	EventRoomStarted       = "room_started"
	EventSeatUpdated       = "seat_updated"
	EventViewerCount       = "viewer_count_changed"
	EventReactionAggregate = "reaction_aggregate"
	EventRoomEnded         = "room_ended"

	EventErrorAck = "error_ack"
)

// Event is the outbound envelope routed to affected participants.
// CorrelationID echoes the client-supplied id when present so optimistic
// client strategies can reconcile against the server echo.
type Event struct {
	Type          string    `json:"type"`
	SessionID     uuid.UUID `json:"session_id,omitempty"`
	ActorID       uuid.UUID `json:"actor_id,omitempty"`
	CorrelationID string    `json:"correlation_id,omitempty"`
	Payload       any       `json:"payload,omitempty"`
	Timestamp     time.Time `json:"timestamp"`
}

// CallSnapshot is the call-side event payload
type CallSnapshot struct {
	CallID      uuid.UUID                 `json:"call_id"`
	CallerID    uuid.UUID                 `json:"caller_id"`
	CalleeID    uuid.UUID                 `json:"callee_id"`
	Kind        CallKind                  `json:"kind"`
	State       CallState                 `json:"state"`
	Names       map[uuid.UUID]string      `json:"names,omitempty"`
	Media       map[uuid.UUID]*MediaState `json:"media"`
	ConnectedAt *time.Time                `json:"connected_at,omitempty"`
	EndedAt     *time.Time                `json:"ended_at,omitempty"`
}

// Snapshot captures the session's current state; caller must hold the
// session lock.
func (s *CallSession) Snapshot() CallSnapshot {
	media := make(map[uuid.UUID]*MediaState, len(s.Media))
	for id, m := range s.Media {
		cp := *m
		media[id] = &cp
	}
	return CallSnapshot{
		CallID:      s.CallID,
		CallerID:    s.CallerID,
		CalleeID:    s.CalleeID,
		Kind:        s.Kind,
		State:       s.State,
		Names:       s.Names,
		Media:       media,
		ConnectedAt: s.ConnectedAt,
		EndedAt:     s.EndedAt,
	}
}

// SeatUpdate is emitted whenever any seat changes occupancy
type SeatUpdate struct {
	RoomID uuid.UUID `json:"room_id"`
	Seats  []Seat    `json:"seats"`
}

// ViewerCount is emitted whenever the viewer set changes
type ViewerCount struct {
	RoomID  uuid.UUID `json:"room_id"`
	Viewers int       `json:"viewers"`
}

// ReactionAggregate carries the full counts-by-type map
type ReactionAggregate struct {
	RoomID uuid.UUID        `json:"room_id"`
	Counts map[string]int64 `json:"counts"`
}

// RoomSnapshot is the full room state, sent on start and over REST
type RoomSnapshot struct {
	RoomID     uuid.UUID        `json:"room_id"`
	HostID     uuid.UUID        `json:"host_id"`
	HostName   string           `json:"host_name,omitempty"`
	Kind       RoomKind         `json:"kind"`
	SourceType SourceType       `json:"source_type"`
	SourceID   uuid.UUID        `json:"source_id,omitempty"`
	Status     RoomStatus       `json:"status"`
	Capacity   int              `json:"capacity"`
	Seats      []Seat           `json:"seats"`
	Viewers    int              `json:"viewers"`
	Reactions  map[string]int64 `json:"reactions"`
	StartedAt  time.Time        `json:"started_at"`
}

// RoomSnap captures the room's current state; caller must hold the room lock.
func (r *LiveRoom) RoomSnap() RoomSnapshot {
	return RoomSnapshot{
		RoomID:     r.RoomID,
		HostID:     r.HostID,
		HostName:   r.HostName,
		Kind:       r.Kind,
		SourceType: r.SourceType,
		SourceID:   r.SourceID,
		Status:     r.Status,
		Capacity:   r.Capacity,
		Seats:      r.SeatsSnapshot(),
		Viewers:    len(r.Viewers),
		Reactions:  r.ReactionSnapshot(),
		StartedAt:  r.StartedAt,
	}
}
