package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Live room metrics for monitoring hosted session lifecycle and fan-out
var (
	// Lifecycle metrics
	LiveRoomsStartedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "live_rooms_started_total",
		Help: "Total number of live rooms started",
	}, []string{"kind", "source_type"})

	LiveRoomsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "live_rooms_active",
		Help: "Current number of active live rooms",
	})

	LiveRoomsEndedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "live_rooms_ended_total",
		Help: "Total number of ended live rooms",
	}, []string{"kind", "reason"}) // "host_request", "host_disconnect", "shutdown"

	LiveRoomDurationSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "live_room_duration_seconds",
		Help:    "Duration of ended live rooms",
		Buckets: []float64{60, 300, 600, 1800, 3600, 7200, 14400},
	}, []string{"kind"})

	// Seat metrics
	LiveSeatJoinsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "live_seat_joins_total",
		Help: "Total number of seat join attempts",
	}, []string{"result"}) // "ok", "seat_taken", "room_full", "already_seated"

	LiveSeatsOccupied = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "live_seats_occupied",
		Help: "Current number of occupied seats across all rooms",
	})

	// Viewer metrics
	LiveViewersCurrent = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "live_viewers_current",
		Help: "Current number of viewers across all rooms",
	})

	// Reaction metrics
	LiveReactionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "live_reactions_total",
		Help: "Total number of reactions recorded",
	}, []string{"type"})

	LiveReactionArchiveErrorsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "live_reaction_archive_errors_total",
		Help: "Total number of reaction archive write failures",
	})

	// Disconnect handling metrics
	LiveHostGraceArmedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "live_host_grace_armed_total",
		Help: "Total number of host disconnect grace timers armed",
	})

	LiveHostGraceCancelledTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "live_host_grace_cancelled_total",
		Help: "Total number of host disconnect grace timers cancelled by reconnect",
	})
)
