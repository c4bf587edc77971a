package resilience

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"arenalive-backend/pkg/logger"
)

// CircuitBreakerState represents the state of the circuit breaker
type CircuitBreakerState string

const (
	CircuitBreakerClosed   CircuitBreakerState = "closed"
	CircuitBreakerHalfOpen CircuitBreakerState = "half_open"
	CircuitBreakerOpen     CircuitBreakerState = "open"
)

// DurableWriter wraps terminal persistence writes (call logs, session
// summaries) with retry, timeout, and circuit breaker. A failed write is
// retried with backoff and logged; it never blocks or reverses the
// in-memory terminal transition that triggered it.
type DurableWriter struct {
	name                string
	mu                  sync.RWMutex
	state               CircuitBreakerState
	consecutiveFailures int
	lastFailureTime     time.Time
	halfOpenAttempts    int
	metrics             *writerMetrics
}

// writerMetrics tracks durable write metrics
type writerMetrics struct {
	writesTotal         *prometheus.CounterVec
	errorsTotal         *prometheus.CounterVec
	circuitBreakerState *prometheus.GaugeVec
}

var (
	writerMetricsInstance *writerMetrics
	writerMetricsOnce     sync.Once
)

// init registers durable write metrics with Prometheus
func init() {
	writerMetricsOnce.Do(func() {
		writerMetricsInstance = &writerMetrics{
			writesTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "durable_writes_total",
					Help: "Total number of terminal persistence writes",
				},
				[]string{"writer", "operation", "status"},
			),
			errorsTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "durable_write_errors_total",
					Help: "Total number of terminal persistence write errors",
				},
				[]string{"writer", "operation", "error_type"},
			),
			circuitBreakerState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
				Name: "durable_write_circuit_breaker_state",
				Help: "State of durable write circuit breaker (0=closed, 1=half_open, 2=open)",
			}, []string{"writer"}),
		}
		prometheus.MustRegister(writerMetricsInstance.writesTotal)
		prometheus.MustRegister(writerMetricsInstance.errorsTotal)
		prometheus.MustRegister(writerMetricsInstance.circuitBreakerState)
	})
}

// NewDurableWriter creates a named durable write wrapper
func NewDurableWriter(name string) *DurableWriter {
	return &DurableWriter{
		name:    name,
		state:   CircuitBreakerClosed,
		metrics: writerMetricsInstance,
	}
}

// Execute runs a write with retry, timeout, and circuit breaker
func (w *DurableWriter) Execute(
	ctx context.Context,
	operation string,
	fn func() error,
) error {
	timeoutCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	var lastErr error
	var attempts int
	initialInterval := 100 * time.Millisecond
	maxInterval := 5 * time.Second
	maxElapsedTime := 30 * time.Second
	startTime := time.Now()

	for time.Since(startTime) < maxElapsedTime {
		attempts++

		w.mu.RLock()
		state := w.state
		halfOpenAttempts := w.halfOpenAttempts
		w.mu.RUnlock()

		if state == CircuitBreakerOpen {
			logger.Error("durable writer circuit breaker is OPEN - writes blocked",
				zap.String("writer", w.name),
				zap.String("operation", operation),
			)
			w.metrics.writesTotal.WithLabelValues(w.name, operation, "circuit_breaker_open").Inc()
			return fmt.Errorf("durable store temporarily unavailable (circuit breaker open)")
		}

		if state == CircuitBreakerHalfOpen {
			halfOpenAttempts++
			if halfOpenAttempts > 3 {
				w.mu.Lock()
				w.state = CircuitBreakerClosed
				w.consecutiveFailures = 0
				w.halfOpenAttempts = 0
				w.lastFailureTime = time.Time{}
				w.mu.Unlock()
				logger.Info("durable writer circuit breaker CLOSED - recovered",
					zap.String("writer", w.name),
					zap.String("operation", operation),
				)
				w.metrics.circuitBreakerState.WithLabelValues(w.name).Set(0)
			}
		}

		if attempts > 1 {
			logger.Warn("durable write retry",
				zap.String("writer", w.name),
				zap.String("operation", operation),
				zap.Int("attempt", attempts),
				zap.Error(lastErr),
			)
		}

		err := fn()
		lastErr = err

		if err == nil {
			w.mu.Lock()
			if w.state != CircuitBreakerClosed {
				w.state = CircuitBreakerClosed
				w.consecutiveFailures = 0
				w.halfOpenAttempts = 0
				w.lastFailureTime = time.Time{}
				w.metrics.circuitBreakerState.WithLabelValues(w.name).Set(0)
			}
			w.mu.Unlock()

			w.metrics.writesTotal.WithLabelValues(w.name, operation, "success").Inc()
			return nil
		}

		w.mu.Lock()
		w.consecutiveFailures++
		w.lastFailureTime = time.Now()

		w.metrics.errorsTotal.WithLabelValues(w.name, operation, classifyError(err)).Inc()
		w.metrics.writesTotal.WithLabelValues(w.name, operation, "failure").Inc()

		// Open circuit after 3 consecutive failures
		if w.consecutiveFailures >= 3 {
			w.state = CircuitBreakerOpen
			w.metrics.circuitBreakerState.WithLabelValues(w.name).Set(2)
			logger.Error("durable writer circuit breaker OPEN - too many consecutive failures",
				zap.String("writer", w.name),
				zap.String("operation", operation),
				zap.Int("consecutive_failures", w.consecutiveFailures),
			)
		}

		// Half-open after 10 seconds of quiet
		if w.consecutiveFailures > 0 && time.Since(w.lastFailureTime) > 10*time.Second {
			w.state = CircuitBreakerHalfOpen
			w.halfOpenAttempts = 0
			w.metrics.circuitBreakerState.WithLabelValues(w.name).Set(1)
		}
		w.mu.Unlock()

		backoff := time.Duration(float64(attempts) * float64(initialInterval))
		if backoff > maxInterval {
			backoff = maxInterval
		}

		select {
		case <-timeoutCtx.Done():
			return fmt.Errorf("durable write timed out after %d attempts: %w", attempts, lastErr)
		case <-time.After(backoff):
		}
	}

	return fmt.Errorf("durable write failed after %d attempts: %w", attempts, lastErr)
}

// GetCircuitBreakerState returns the current circuit breaker state
func (w *DurableWriter) GetCircuitBreakerState() CircuitBreakerState {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.state
}

// classifyError classifies errors for better metrics
func classifyError(err error) string {
	if err == nil {
		return "none"
	}

	errMsg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(errMsg, "timeout") || strings.Contains(errMsg, "deadline exceeded"):
		return "timeout"
	case strings.Contains(errMsg, "connection refused") || strings.Contains(errMsg, "network unreachable"):
		return "network"
	case strings.Contains(errMsg, "no such host") || strings.Contains(errMsg, "dns"):
		return "dns"
	case strings.Contains(errMsg, "not found"):
		return "not_found"
	case strings.Contains(errMsg, "permission denied") || strings.Contains(errMsg, "access denied"):
		return "permission"
	case strings.Contains(errMsg, "circuit breaker"):
		return "circuit_breaker"
	default:
		return "unknown"
	}
}
