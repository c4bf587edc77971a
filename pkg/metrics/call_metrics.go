package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Call signaling metrics for monitoring the 1:1 call lifecycle
var (
	// Lifecycle metrics
	CallInvitesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "call_invites_total",
		Help: "Total number of call invites",
	}, []string{"kind", "result"}) // "ringing", "busy", "offline", "invalid_target"

	CallsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "calls_active",
		Help: "Current number of active call sessions",
	})

	CallsEndedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "calls_ended_total",
		Help: "Total number of terminated call sessions",
	}, []string{"kind", "outcome"})

	CallDurationSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "call_duration_seconds",
		Help:    "Duration of completed calls",
		Buckets: []float64{10, 30, 60, 300, 600, 1800, 3600, 7200},
	}, []string{"kind"})

	// Media control metrics
	CallMediaSignalsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "call_media_signals_total",
		Help: "Total number of media-control signals relayed",
	}, []string{"control"})

	// Disconnect handling metrics
	CallDisconnectGraceArmedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "call_disconnect_grace_armed_total",
		Help: "Total number of disconnect grace timers armed for calls",
	})

	CallDisconnectGraceCancelledTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "call_disconnect_grace_cancelled_total",
		Help: "Total number of disconnect grace timers cancelled by reconnect",
	})

	// Error metrics
	CallStaleSessionTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "call_stale_session_total",
		Help: "Total number of signaling events for sessions no longer active",
	})
)
