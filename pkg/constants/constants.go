// Package constants defines application-wide constants for timeouts, limits, and durations.
package constants

import "time"

// Time-related constants
const (
	// WebSocketPingInterval is the interval for WebSocket ping/pong
	WebSocketPingInterval = 60 * time.Second

	// WebSocketWriteTimeout bounds a single WebSocket write
	WebSocketWriteTimeout = 10 * time.Second

	// GracefulShutdownTimeout is the timeout for graceful server shutdown
	GracefulShutdownTimeout = 30 * time.Second
)

// Call signaling policy constants
const (
	// RingingTimeout is how long a call may ring before it is recorded as missed
	RingingTimeout = 45 * time.Second

	// CallDisconnectGrace is how long a Connecting/Stable call survives a
	// party's presence drop before it is treated as a hang-up
	CallDisconnectGrace = 10 * time.Second
)

// Live room policy constants
const (
	// HostDisconnectGrace is how long a room survives the host's presence
	// drop before it auto-ends; seated participants and viewers get no
	// grace, their slots free immediately
	HostDisconnectGrace = 30 * time.Second

	// MaxSeatCapacity bounds the seat count a host may request
	MaxSeatCapacity = 50
)

// Presence constants
const (
	// PresenceTTL is how long the Redis presence key lives without a
	// heartbeat; the mirror is refreshed on every ping tick
	PresenceTTL = 5 * time.Minute
)

// Durable write constants
const (
	// SummaryWriteTimeout bounds one attempt to persist a terminal record
	SummaryWriteTimeout = 10 * time.Second
)

// Reaction archive constants
const (
	// ReactionBucketDuration is the time-bucket width for the Cassandra
	// reaction event stream
	ReactionBucketDuration = 1 * time.Hour
)
