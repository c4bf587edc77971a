package presence

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"

	"arenalive-backend/internal/domain"
)

// recordingConn captures sent events; failSend simulates a full buffer
type recordingConn struct {
	mu       sync.Mutex
	events   []*domain.Event
	failSend bool
}

func (c *recordingConn) TrySend(event *domain.Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.failSend {
		return errors.New("send buffer full")
	}
	c.events = append(c.events, event)
	return nil
}

func (c *recordingConn) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.events)
}

func TestBindUnbind(t *testing.T) {
	r := NewRegistry()
	userID := uuid.New()
	conn := &recordingConn{}

	assert.False(t, r.IsOnline(userID))

	r.Bind(userID, conn)
	assert.True(t, r.IsOnline(userID))
	assert.Equal(t, 1, r.Count())

	r.Unbind(userID, conn)
	assert.False(t, r.IsOnline(userID))
	assert.Equal(t, 0, r.Count())
}

// TestUnbind_StaleHandle tests that an old connection's unbind cannot
// knock out a replacement that already took over
func TestUnbind_StaleHandle(t *testing.T) {
	r := NewRegistry()
	userID := uuid.New()
	oldConn := &recordingConn{}
	newConn := &recordingConn{}

	r.Bind(userID, oldConn)
	r.Bind(userID, newConn) // reconnect replaces the handle

	// The old connection closes late; the user must stay online
	r.Unbind(userID, oldConn)
	assert.True(t, r.IsOnline(userID))

	r.Unbind(userID, newConn)
	assert.False(t, r.IsOnline(userID))
}

func TestSend(t *testing.T) {
	r := NewRegistry()
	userID := uuid.New()
	conn := &recordingConn{}
	r.Bind(userID, conn)

	event := &domain.Event{Type: domain.EventCallRinging, Timestamp: time.Now()}
	r.Send(userID, event)
	assert.Equal(t, 1, conn.count())

	// Sending to an unknown user is a silent no-op
	r.Send(uuid.New(), event)

	// A full buffer drops the event without affecting the binding
	conn.failSend = true
	r.Send(userID, event)
	assert.True(t, r.IsOnline(userID))
	assert.Equal(t, 1, conn.count())
}

func TestSendAll(t *testing.T) {
	r := NewRegistry()
	u1, u2, offline := uuid.New(), uuid.New(), uuid.New()
	c1, c2 := &recordingConn{}, &recordingConn{}
	r.Bind(u1, c1)
	r.Bind(u2, c2)

	event := &domain.Event{Type: domain.EventRoomEnded, Timestamp: time.Now()}
	r.SendAll([]uuid.UUID{u1, u2, offline}, event)

	assert.Equal(t, 1, c1.count())
	assert.Equal(t, 1, c2.count())
}

// TestWatchers tests drop and reconnect notification
func TestWatchers(t *testing.T) {
	r := NewRegistry()
	userID := uuid.New()

	drops := make(chan uuid.UUID, 1)
	reconnects := make(chan uuid.UUID, 2)
	r.OnDrop(func(id uuid.UUID) { drops <- id })
	r.OnReconnect(func(id uuid.UUID) { reconnects <- id })

	first := &recordingConn{}
	r.Bind(userID, first)

	// A bind over an existing handle is a reconnect, not a drop
	second := &recordingConn{}
	r.Bind(userID, second)

	seen := 0
	deadline := time.After(time.Second)
	for seen < 2 {
		select {
		case id := <-reconnects:
			assert.Equal(t, userID, id)
			seen++
		case <-deadline:
			t.Fatal("reconnect watcher never fired")
		}
	}

	r.Unbind(userID, second)
	select {
	case id := <-drops:
		assert.Equal(t, userID, id)
	case <-time.After(time.Second):
		t.Fatal("drop watcher never fired")
	}
}
