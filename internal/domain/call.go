package domain

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// CallKind distinguishes audio-only from video calls
type CallKind string

const (
	CallKindAudio CallKind = "audio"
	CallKindVideo CallKind = "video"
)

// CallState is the primary state of a 1:1 call session
type CallState string

const (
	CallStateIdle       CallState = "idle"
	CallStateRinging    CallState = "ringing"
	CallStateConnecting CallState = "connecting"
	CallStateStable     CallState = "stable"
	CallStateEnded      CallState = "ended"
)

// CallOutcome is recorded in the call log at termination
type CallOutcome string

const (
	CallOutcomeCompleted CallOutcome = "completed"
	CallOutcomeMissed    CallOutcome = "missed"
	CallOutcomeRejected  CallOutcome = "rejected"
)

// MediaState holds one party's advisory media flags.
// Flags are set absolutely, never toggled against a counter, so a
// duplicated control message leaves the state unchanged.
type MediaState struct {
	Muted         bool   `json:"muted"`
	VideoOff      bool   `json:"video_off"`
	ScreenSharing bool   `json:"screen_sharing"`
	CameraFacing  string `json:"camera_facing"` // front, back
}

// CallSession is the in-memory authoritative state of one active call.
// All field access after creation happens under Mu; the session is the
// serialization domain for its own mutations.
type CallSession struct {
	Mu sync.Mutex `json:"-"`

	CallID   uuid.UUID `json:"call_id"`
	CallerID uuid.UUID `json:"caller_id"`
	CalleeID uuid.UUID `json:"callee_id"`
	Kind     CallKind  `json:"kind"`
	State    CallState `json:"state"`

	// Names holds directory display names resolved at invite time. The
	// map is written once before the session is published and read-only
	// afterwards.
	Names map[uuid.UUID]string `json:"names,omitempty"`

	// Per-party media flags, keyed by participant
	Media map[uuid.UUID]*MediaState `json:"media"`

	CreatedAt   time.Time  `json:"created_at"`
	ConnectedAt *time.Time `json:"connected_at,omitempty"`
	EndedAt     *time.Time `json:"ended_at,omitempty"`

	// RingTimer fires the missed-call transition; GraceTimers hold the
	// pending disconnect timer per party, cancelled on reconnect.
	RingTimer   *time.Timer               `json:"-"`
	GraceTimers map[uuid.UUID]*time.Timer `json:"-"`
}

// NewCallSession creates a ringing session between caller and callee
func NewCallSession(callerID, calleeID uuid.UUID, kind CallKind) *CallSession {
	return &CallSession{
		CallID:   uuid.New(),
		CallerID: callerID,
		CalleeID: calleeID,
		Kind:     kind,
		State:    CallStateRinging,
		Media: map[uuid.UUID]*MediaState{
			callerID: {CameraFacing: "front"},
			calleeID: {CameraFacing: "front"},
		},
		CreatedAt:   time.Now(),
		GraceTimers: make(map[uuid.UUID]*time.Timer),
	}
}

// Terminal reports whether the session has reached its final state
func (s *CallSession) Terminal() bool {
	return s.State == CallStateEnded
}

// HasParticipant reports whether userID is one of the two parties
func (s *CallSession) HasParticipant(userID uuid.UUID) bool {
	return s.CallerID == userID || s.CalleeID == userID
}

// PeerOf returns the other party of the call
func (s *CallSession) PeerOf(userID uuid.UUID) uuid.UUID {
	if s.CallerID == userID {
		return s.CalleeID
	}
	return s.CallerID
}

// Duration is endedAt - connectedAt, or 0 for calls that never reached
// Stable or are still running
func (s *CallSession) Duration() time.Duration {
	if s.ConnectedAt == nil || s.EndedAt == nil {
		return 0
	}
	return s.EndedAt.Sub(*s.ConnectedAt)
}

// CallLog is the terminal, durable record of a finished call
type CallLog struct {
	CallID    uuid.UUID   `json:"call_id"`
	CallerID  uuid.UUID   `json:"caller_id"`
	CalleeID  uuid.UUID   `json:"callee_id"`
	Kind      CallKind    `json:"kind"`
	Outcome   CallOutcome `json:"outcome"`
	Duration  int         `json:"duration"` // seconds
	StartedAt time.Time   `json:"started_at"`
	EndedAt   time.Time   `json:"ended_at"`
}
