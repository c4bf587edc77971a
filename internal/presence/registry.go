// Package presence tracks which users currently hold a live connection
// and routes outbound events to them. The registry is its own lock
// domain; no session lock is ever required to bind or unbind a
// connection.
package presence

import (
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"arenalive-backend/internal/domain"
	"arenalive-backend/pkg/logger"
)

// Conn is the send side of one live client connection. TrySend must
// never block; implementations buffer and report overflow as an error.
type Conn interface {
	TrySend(event *domain.Event) error
}

// Watcher observes presence changes for a user identity
type Watcher func(userID uuid.UUID)

// Registry maps a user identity to zero-or-one live connection handle
type Registry struct {
	mu    sync.RWMutex
	conns map[uuid.UUID]Conn

	dropWatchers      []Watcher
	reconnectWatchers []Watcher
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{
		conns: make(map[uuid.UUID]Conn),
	}
}

// OnDrop registers a watcher called after a user's connection is gone.
// Watchers run on their own goroutine so the unbind path never blocks.
func (r *Registry) OnDrop(w Watcher) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.dropWatchers = append(r.dropWatchers, w)
}

// OnReconnect registers a watcher called when a user binds a connection
// while already known to the engines (cancels pending grace timers)
func (r *Registry) OnReconnect(w Watcher) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reconnectWatchers = append(r.reconnectWatchers, w)
}

// Bind associates userID with conn, replacing any previous handle.
// A replaced handle counts as a reconnect, not a drop.
func (r *Registry) Bind(userID uuid.UUID, conn Conn) {
	r.mu.Lock()
	_, reconnect := r.conns[userID]
	r.conns[userID] = conn
	watchers := r.reconnectWatchers
	r.mu.Unlock()

	logger.Debug("presence bind",
		zap.String("user_id", userID.String()),
		zap.Bool("reconnect", reconnect))

	for _, w := range watchers {
		go w(userID)
	}
}

// Unbind removes the binding only if conn is still the current handle,
// so a stale unbind from a replaced connection cannot knock out a
// fresh reconnect. Drop watchers are notified asynchronously.
func (r *Registry) Unbind(userID uuid.UUID, conn Conn) {
	r.mu.Lock()
	current, ok := r.conns[userID]
	if !ok || current != conn {
		r.mu.Unlock()
		return
	}
	delete(r.conns, userID)
	watchers := r.dropWatchers
	r.mu.Unlock()

	logger.Debug("presence unbind", zap.String("user_id", userID.String()))

	for _, w := range watchers {
		go w(userID)
	}
}

// IsOnline answers "is user X reachable now"
func (r *Registry) IsOnline(userID uuid.UUID) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.conns[userID]
	return ok
}

// Send routes an event to userID's connection if one exists. Unreachable
// users are skipped silently; a client that missed an event reconciles
// from the next full snapshot.
func (r *Registry) Send(userID uuid.UUID, event *domain.Event) {
	r.mu.RLock()
	conn, ok := r.conns[userID]
	r.mu.RUnlock()
	if !ok {
		return
	}
	if err := conn.TrySend(event); err != nil {
		logger.Warn("event dropped: send buffer full",
			zap.String("user_id", userID.String()),
			zap.String("event_type", event.Type))
	}
}

// SendAll routes an event to every listed user
func (r *Registry) SendAll(userIDs []uuid.UUID, event *domain.Event) {
	for _, id := range userIDs {
		r.Send(id, event)
	}
}

// Count returns the number of bound connections
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}
