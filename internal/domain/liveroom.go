package domain

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// RoomKind describes what participants transmit in a live room
type RoomKind string

const (
	RoomKindVideo       RoomKind = "video"
	RoomKindVoiceSeated RoomKind = "voice_seated"
	RoomKindVoiceFree   RoomKind = "voice_free"
)

// SourceType identifies the community surface a room is hosted against
type SourceType string

const (
	SourceTypeChannel SourceType = "channel"
	SourceTypeGroup   SourceType = "group"
	SourceTypeGuild   SourceType = "guild"
	SourceTypePublic  SourceType = "public"
)

// RoomStatus transitions only Live -> Ended, never back
type RoomStatus string

const (
	RoomStatusLive  RoomStatus = "live"
	RoomStatusEnded RoomStatus = "ended"
)

// Seat is one capacity-bounded stage slot. OccupantID is uuid.Nil when
// the seat is empty.
type Seat struct {
	Position   int       `json:"position"`
	OccupantID uuid.UUID `json:"occupant_id,omitempty"`
}

// Occupied reports whether the seat holds a user
func (s *Seat) Occupied() bool {
	return s.OccupantID != uuid.Nil
}

// Reaction is one appended reaction event
type Reaction struct {
	UserID    uuid.UUID `json:"user_id"`
	Type      string    `json:"type"`
	CreatedAt time.Time `json:"created_at"`
}

// ReactionOther is the catch-all bucket for reaction types outside the
// known set, keeping the aggregate map and metric label space bounded
// against arbitrary client input.
const ReactionOther = "other"

var knownReactionTypes = map[string]struct{}{
	"fire":  {},
	"clap":  {},
	"heart": {},
	"laugh": {},
	"hype":  {},
	"gg":    {},
}

// NormalizeReactionType maps a client-supplied reaction type onto the
// bounded known set
func NormalizeReactionType(t string) string {
	if _, ok := knownReactionTypes[t]; ok {
		return t
	}
	return ReactionOther
}

// LiveRoom is the in-memory authoritative state of one hosted session.
// Seats has fixed length Capacity for the room's lifetime (0 for kinds
// other than VoiceSeated). Viewers and seat occupants are disjoint sets.
type LiveRoom struct {
	Mu sync.Mutex `json:"-"`

	RoomID     uuid.UUID  `json:"room_id"`
	HostID     uuid.UUID  `json:"host_id"`
	HostName   string     `json:"host_name,omitempty"`
	Kind       RoomKind   `json:"kind"`
	SourceType SourceType `json:"source_type"`
	SourceID   uuid.UUID  `json:"source_id,omitempty"` // uuid.Nil for public
	Unlisted   bool       `json:"unlisted"`
	Status     RoomStatus `json:"status"`

	Capacity int                    `json:"capacity"`
	Seats    []Seat                 `json:"seats"`
	Viewers  map[uuid.UUID]struct{} `json:"-"`

	// Aggregated reaction counts by type; the raw event stream goes to
	// the archive, clients only ever see the counts.
	ReactionCounts map[string]int64 `json:"reaction_counts"`

	PeakViewers int        `json:"peak_viewers"`
	StartedAt   time.Time  `json:"started_at"`
	EndedAt     *time.Time `json:"ended_at,omitempty"`

	// HostGraceTimer is armed when the host's presence drops and
	// cancelled if the host reconnects before it fires.
	HostGraceTimer *time.Timer `json:"-"`
}

// NewLiveRoom creates a room in Live status with capacity seats
func NewLiveRoom(hostID uuid.UUID, kind RoomKind, sourceType SourceType, sourceID uuid.UUID, capacity int, unlisted bool) *LiveRoom {
	if kind != RoomKindVoiceSeated {
		capacity = 0
	}
	seats := make([]Seat, capacity)
	for i := range seats {
		seats[i].Position = i
	}
	return &LiveRoom{
		RoomID:         uuid.New(),
		HostID:         hostID,
		Kind:           kind,
		SourceType:     sourceType,
		SourceID:       sourceID,
		Unlisted:       unlisted,
		Status:         RoomStatusLive,
		Capacity:       capacity,
		Seats:          seats,
		Viewers:        make(map[uuid.UUID]struct{}),
		ReactionCounts: make(map[string]int64),
		StartedAt:      time.Now(),
	}
}

// SeatOf returns the seat occupied by userID, or nil
func (r *LiveRoom) SeatOf(userID uuid.UUID) *Seat {
	for i := range r.Seats {
		if r.Seats[i].OccupantID == userID {
			return &r.Seats[i]
		}
	}
	return nil
}

// FirstEmptySeat returns the lowest-numbered empty seat, or nil if full
func (r *LiveRoom) FirstEmptySeat() *Seat {
	for i := range r.Seats {
		if !r.Seats[i].Occupied() {
			return &r.Seats[i]
		}
	}
	return nil
}

// OccupiedSeats counts seats currently holding a user
func (r *LiveRoom) OccupiedSeats() int {
	n := 0
	for i := range r.Seats {
		if r.Seats[i].Occupied() {
			n++
		}
	}
	return n
}

// SeatsSnapshot copies the seat slice for emission outside the lock
func (r *LiveRoom) SeatsSnapshot() []Seat {
	out := make([]Seat, len(r.Seats))
	copy(out, r.Seats)
	return out
}

// ReactionSnapshot copies the aggregate counts
func (r *LiveRoom) ReactionSnapshot() map[string]int64 {
	out := make(map[string]int64, len(r.ReactionCounts))
	for k, v := range r.ReactionCounts {
		out[k] = v
	}
	return out
}

// Participants returns every user currently seated or viewing, plus the host
func (r *LiveRoom) Participants() []uuid.UUID {
	seen := map[uuid.UUID]struct{}{r.HostID: {}}
	out := []uuid.UUID{r.HostID}
	for i := range r.Seats {
		if id := r.Seats[i].OccupantID; id != uuid.Nil {
			if _, ok := seen[id]; !ok {
				seen[id] = struct{}{}
				out = append(out, id)
			}
		}
	}
	for id := range r.Viewers {
		if _, ok := seen[id]; !ok {
			seen[id] = struct{}{}
			out = append(out, id)
		}
	}
	return out
}

// Duration is endedAt - startedAt, or 0 while the room is live
func (r *LiveRoom) Duration() time.Duration {
	if r.EndedAt == nil {
		return 0
	}
	return r.EndedAt.Sub(r.StartedAt)
}

// LiveSessionSummary is the terminal, durable record of a finished room
type LiveSessionSummary struct {
	RoomID         uuid.UUID        `json:"room_id"`
	HostID         uuid.UUID        `json:"host_id"`
	Kind           RoomKind         `json:"kind"`
	SourceType     SourceType       `json:"source_type"`
	SourceID       uuid.UUID        `json:"source_id,omitempty"`
	PeakViewers    int              `json:"peak_viewers"`
	ReactionCounts map[string]int64 `json:"reaction_counts"`
	Duration       int              `json:"duration"` // seconds
	StartedAt      time.Time        `json:"started_at"`
	EndedAt        time.Time        `json:"ended_at"`
}
