package call

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"arenalive-backend/internal/domain"
	"arenalive-backend/internal/store"
	"arenalive-backend/pkg/errors"
)

// fakeSender records emitted events per recipient and tracks an online set
type fakeSender struct {
	mu     sync.Mutex
	events map[uuid.UUID][]*domain.Event
	online map[uuid.UUID]bool
}

func newFakeSender(online ...uuid.UUID) *fakeSender {
	s := &fakeSender{
		events: make(map[uuid.UUID][]*domain.Event),
		online: make(map[uuid.UUID]bool),
	}
	for _, id := range online {
		s.online[id] = true
	}
	return s
}

func (s *fakeSender) Send(userID uuid.UUID, event *domain.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events[userID] = append(s.events[userID], event)
}

func (s *fakeSender) IsOnline(userID uuid.UUID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.online[userID]
}

func (s *fakeSender) setOnline(userID uuid.UUID, online bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if online {
		s.online[userID] = true
	} else {
		delete(s.online, userID)
	}
}

func (s *fakeSender) eventTypes(userID uuid.UUID) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var types []string
	for _, e := range s.events[userID] {
		types = append(types, e.Type)
	}
	return types
}

func (s *fakeSender) lastEvent(userID uuid.UUID) *domain.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	evs := s.events[userID]
	if len(evs) == 0 {
		return nil
	}
	return evs[len(evs)-1]
}

// MockCallLogWriter is a mock implementation of CallLogWriter
type MockCallLogWriter struct {
	mock.Mock
}

func (m *MockCallLogWriter) Append(ctx context.Context, log *domain.CallLog) error {
	args := m.Called(ctx, log)
	return args.Error(0)
}

// MockDirectory is a mock implementation of Directory
type MockDirectory struct {
	mock.Mock
}

func (m *MockDirectory) UserExists(ctx context.Context, userID uuid.UUID) (bool, error) {
	args := m.Called(ctx, userID)
	return args.Bool(0), args.Error(1)
}

func (m *MockDirectory) GetDisplayName(ctx context.Context, userID uuid.UUID) (string, error) {
	args := m.Called(ctx, userID)
	return args.String(0), args.Error(1)
}

// TestInvite tests a successful invite
func TestInvite(t *testing.T) {
	caller := uuid.New()
	callee := uuid.New()
	sender := newFakeSender(caller, callee)
	mockDirectory := new(MockDirectory)
	service := NewService(store.NewSessionStore(), sender, nil, mockDirectory)

	// Setup expectations
	mockDirectory.On("UserExists", mock.Anything, callee).Return(true, nil)
	mockDirectory.On("GetDisplayName", mock.Anything, caller).Return("CallerName", nil)
	mockDirectory.On("GetDisplayName", mock.Anything, callee).Return("CalleeName", nil)

	// Execute
	snap, err := service.Invite(context.Background(), caller, callee, domain.CallKindVideo, "corr-1")

	// Assert
	assert.NoError(t, err)
	assert.NotNil(t, snap)
	assert.Equal(t, domain.CallStateRinging, snap.State)
	assert.Equal(t, caller, snap.CallerID)
	assert.Equal(t, callee, snap.CalleeID)

	// Callee got the ringing event, caller got nothing yet
	assert.Equal(t, []string{domain.EventCallRinging}, sender.eventTypes(callee))
	assert.Empty(t, sender.eventTypes(caller))
	assert.Equal(t, "corr-1", sender.lastEvent(callee).CorrelationID)

	// Both parties are decorated with their directory display names
	assert.Equal(t, "CallerName", snap.Names[caller])
	assert.Equal(t, "CalleeName", snap.Names[callee])

	mockDirectory.AssertExpectations(t)
}

// TestInvite_SelfCall tests that calling yourself is refused
func TestInvite_SelfCall(t *testing.T) {
	caller := uuid.New()
	sender := newFakeSender(caller)
	service := NewService(store.NewSessionStore(), sender, nil, nil)

	_, err := service.Invite(context.Background(), caller, caller, domain.CallKindAudio, "")

	assert.True(t, errors.Is(err, errors.ErrCodeInvalidTarget))
}

// TestInvite_Offline tests that an unreachable callee is refused
func TestInvite_Offline(t *testing.T) {
	caller := uuid.New()
	callee := uuid.New()
	sender := newFakeSender(caller) // callee not online
	service := NewService(store.NewSessionStore(), sender, nil, nil)

	_, err := service.Invite(context.Background(), caller, callee, domain.CallKindAudio, "")

	assert.True(t, errors.Is(err, errors.ErrCodeOffline))
}

// TestInvite_Busy tests that a party already in a call is refused
func TestInvite_Busy(t *testing.T) {
	caller := uuid.New()
	callee := uuid.New()
	other := uuid.New()
	sender := newFakeSender(caller, callee, other)
	service := NewService(store.NewSessionStore(), sender, nil, nil)

	_, err := service.Invite(context.Background(), caller, callee, domain.CallKindAudio, "")
	assert.NoError(t, err)

	// Busy no matter which side of the active call is targeted
	_, err = service.Invite(context.Background(), other, callee, domain.CallKindAudio, "")
	assert.True(t, errors.Is(err, errors.ErrCodeBusy))

	_, err = service.Invite(context.Background(), caller, other, domain.CallKindAudio, "")
	assert.True(t, errors.Is(err, errors.ErrCodeBusy))
}

// TestInvite_DirectoryFailsOpen tests that a directory outage does not
// block an otherwise valid invite
func TestInvite_DirectoryFailsOpen(t *testing.T) {
	caller := uuid.New()
	callee := uuid.New()
	sender := newFakeSender(caller, callee)
	mockDirectory := new(MockDirectory)
	service := NewService(store.NewSessionStore(), sender, nil, mockDirectory)

	mockDirectory.On("UserExists", mock.Anything, callee).Return(false, assert.AnError)
	mockDirectory.On("GetDisplayName", mock.Anything, mock.Anything).Return("", assert.AnError)

	snap, err := service.Invite(context.Background(), caller, callee, domain.CallKindAudio, "")

	assert.NoError(t, err)
	assert.Equal(t, domain.CallStateRinging, snap.State)

	// Names stay undecorated when the directory is down
	assert.Empty(t, snap.Names)
}

// TestAcceptFlow tests invite -> accept -> first media signal -> stable
func TestAcceptFlow(t *testing.T) {
	caller := uuid.New()
	callee := uuid.New()
	sender := newFakeSender(caller, callee)
	service := NewService(store.NewSessionStore(), sender, nil, nil)

	snap, err := service.Invite(context.Background(), caller, callee, domain.CallKindVideo, "")
	assert.NoError(t, err)
	callID := snap.CallID

	// Caller cannot accept their own call
	_, err = service.Accept(context.Background(), callID, caller, "")
	assert.True(t, errors.Is(err, errors.ErrCodeForbidden))

	snap2, err := service.Accept(context.Background(), callID, callee, "")
	assert.NoError(t, err)
	assert.Equal(t, domain.CallStateConnecting, snap2.State)
	assert.Equal(t, []string{domain.EventCallAccepted}, sender.eventTypes(caller))

	// First media signal in Connecting marks the call Stable
	snap3, err := service.MediaControl(context.Background(), callID, caller, ControlMute, true, "", "")
	assert.NoError(t, err)
	assert.Equal(t, domain.CallStateStable, snap3.State)
	assert.NotNil(t, snap3.ConnectedAt)
	assert.True(t, snap3.Media[caller].Muted)

	// Both parties observe the stable transition
	assert.Contains(t, sender.eventTypes(caller), domain.EventCallStable)
	assert.Contains(t, sender.eventTypes(callee), domain.EventCallStable)
}

// TestMediaControl_Idempotent tests that a duplicated control message
// leaves the state unchanged
func TestMediaControl_Idempotent(t *testing.T) {
	caller := uuid.New()
	callee := uuid.New()
	sender := newFakeSender(caller, callee)
	service := NewService(store.NewSessionStore(), sender, nil, nil)

	snap, _ := service.Invite(context.Background(), caller, callee, domain.CallKindVideo, "")
	service.Accept(context.Background(), snap.CallID, callee, "")

	s1, err := service.MediaControl(context.Background(), snap.CallID, caller, ControlMute, true, "", "")
	assert.NoError(t, err)
	s2, err := service.MediaControl(context.Background(), snap.CallID, caller, ControlMute, true, "", "")
	assert.NoError(t, err)

	assert.True(t, s1.Media[caller].Muted)
	assert.True(t, s2.Media[caller].Muted)

	// Second signal relays to the peer only, state already Stable
	assert.Equal(t, domain.EventCallMedia, sender.lastEvent(callee).Type)
}

// TestReject tests callee rejection
func TestReject(t *testing.T) {
	caller := uuid.New()
	callee := uuid.New()
	sender := newFakeSender(caller, callee)
	st := store.NewSessionStore()
	service := NewService(st, sender, nil, nil)

	snap, _ := service.Invite(context.Background(), caller, callee, domain.CallKindAudio, "")

	err := service.Reject(context.Background(), snap.CallID, callee, "")
	assert.NoError(t, err)

	// Session is gone and both parties saw the rejection
	assert.Equal(t, 0, st.CallCount())
	assert.Contains(t, sender.eventTypes(caller), domain.EventCallRejected)
	assert.Contains(t, sender.eventTypes(callee), domain.EventCallRejected)

	// Both parties are free again
	_, found := st.ActiveCallOf(caller)
	assert.False(t, found)
}

// TestEnd_WritesCallLog tests that ending a stable call records a
// completed outcome with a duration
func TestEnd_WritesCallLog(t *testing.T) {
	caller := uuid.New()
	callee := uuid.New()
	sender := newFakeSender(caller, callee)
	mockLogs := new(MockCallLogWriter)
	st := store.NewSessionStore()
	service := NewService(st, sender, mockLogs, nil)

	written := make(chan *domain.CallLog, 1)
	mockLogs.On("Append", mock.Anything, mock.AnythingOfType("*domain.CallLog")).
		Run(func(args mock.Arguments) {
			written <- args.Get(1).(*domain.CallLog)
		}).Return(nil)

	snap, _ := service.Invite(context.Background(), caller, callee, domain.CallKindVideo, "")
	service.Accept(context.Background(), snap.CallID, callee, "")
	service.MediaControl(context.Background(), snap.CallID, callee, ControlMute, false, "", "")

	// Backdate the stable transition so the recorded duration is visible
	sess, _ := st.GetCall(snap.CallID)
	sess.Mu.Lock()
	connected := time.Now().Add(-90 * time.Second)
	sess.ConnectedAt = &connected
	sess.Mu.Unlock()

	err := service.End(context.Background(), snap.CallID, caller, "")
	assert.NoError(t, err)
	assert.Equal(t, 0, st.CallCount())

	select {
	case log := <-written:
		assert.Equal(t, snap.CallID, log.CallID)
		assert.Equal(t, domain.CallOutcomeCompleted, log.Outcome)
		assert.Equal(t, 90, log.Duration)
	case <-time.After(2 * time.Second):
		t.Fatal("call log was never written")
	}

	mockLogs.AssertExpectations(t)
}

// TestReject_WritesCallLog tests that a call which never connected is
// recorded with a zero duration
func TestReject_WritesCallLog(t *testing.T) {
	caller := uuid.New()
	callee := uuid.New()
	sender := newFakeSender(caller, callee)
	mockLogs := new(MockCallLogWriter)
	st := store.NewSessionStore()
	service := NewService(st, sender, mockLogs, nil)

	written := make(chan *domain.CallLog, 1)
	mockLogs.On("Append", mock.Anything, mock.AnythingOfType("*domain.CallLog")).
		Run(func(args mock.Arguments) {
			written <- args.Get(1).(*domain.CallLog)
		}).Return(nil)

	snap, _ := service.Invite(context.Background(), caller, callee, domain.CallKindAudio, "")
	err := service.Reject(context.Background(), snap.CallID, callee, "")
	assert.NoError(t, err)

	select {
	case log := <-written:
		assert.Equal(t, domain.CallOutcomeRejected, log.Outcome)
		assert.Equal(t, 0, log.Duration)
	case <-time.After(2 * time.Second):
		t.Fatal("call log was never written")
	}
}

// TestEnd_NonParticipant tests that outsiders cannot end a call
func TestEnd_NonParticipant(t *testing.T) {
	caller := uuid.New()
	callee := uuid.New()
	sender := newFakeSender(caller, callee)
	service := NewService(store.NewSessionStore(), sender, nil, nil)

	snap, _ := service.Invite(context.Background(), caller, callee, domain.CallKindAudio, "")
	service.Accept(context.Background(), snap.CallID, callee, "")

	err := service.End(context.Background(), snap.CallID, uuid.New(), "")
	assert.True(t, errors.Is(err, errors.ErrCodeForbidden))
}

// TestStaleSession tests operations against an id that no longer exists
func TestStaleSession(t *testing.T) {
	sender := newFakeSender()
	service := NewService(store.NewSessionStore(), sender, nil, nil)

	_, err := service.Accept(context.Background(), uuid.New(), uuid.New(), "")
	assert.True(t, errors.Is(err, errors.ErrCodeStaleSession))

	err = service.End(context.Background(), uuid.New(), uuid.New(), "")
	assert.True(t, errors.Is(err, errors.ErrCodeStaleSession))
}

// TestRingingTimeout tests the unanswered-call policy
func TestRingingTimeout(t *testing.T) {
	caller := uuid.New()
	callee := uuid.New()
	sender := newFakeSender(caller, callee)
	st := store.NewSessionStore()
	service := NewService(st, sender, nil, nil)
	service.SetPolicy(30*time.Millisecond, time.Second)

	_, err := service.Invite(context.Background(), caller, callee, domain.CallKindAudio, "")
	assert.NoError(t, err)

	assert.Eventually(t, func() bool {
		return st.CallCount() == 0
	}, time.Second, 10*time.Millisecond)

	assert.Contains(t, sender.eventTypes(caller), domain.EventCallEnded)
	assert.Contains(t, sender.eventTypes(callee), domain.EventCallEnded)
}

// TestDisconnectGrace tests that a party dropping mid-call ends it after
// the grace window
func TestDisconnectGrace(t *testing.T) {
	caller := uuid.New()
	callee := uuid.New()
	sender := newFakeSender(caller, callee)
	st := store.NewSessionStore()
	service := NewService(st, sender, nil, nil)
	service.SetPolicy(time.Second, 30*time.Millisecond)

	snap, _ := service.Invite(context.Background(), caller, callee, domain.CallKindAudio, "")
	service.Accept(context.Background(), snap.CallID, callee, "")

	sender.setOnline(callee, false)
	service.HandleDisconnect(callee)

	assert.Eventually(t, func() bool {
		return st.CallCount() == 0
	}, time.Second, 10*time.Millisecond)

	assert.Contains(t, sender.eventTypes(caller), domain.EventCallEnded)
}

// TestDisconnectGrace_Reconnect tests that a reconnect inside the grace
// window keeps the call alive
func TestDisconnectGrace_Reconnect(t *testing.T) {
	caller := uuid.New()
	callee := uuid.New()
	sender := newFakeSender(caller, callee)
	st := store.NewSessionStore()
	service := NewService(st, sender, nil, nil)
	service.SetPolicy(time.Second, 50*time.Millisecond)

	snap, _ := service.Invite(context.Background(), caller, callee, domain.CallKindAudio, "")
	service.Accept(context.Background(), snap.CallID, callee, "")

	sender.setOnline(callee, false)
	service.HandleDisconnect(callee)
	sender.setOnline(callee, true)
	service.HandleReconnect(callee)

	// Well past the grace window the call must still be alive
	time.Sleep(150 * time.Millisecond)
	assert.Equal(t, 1, st.CallCount())

	sess, found := st.GetCall(snap.CallID)
	assert.True(t, found)
	sess.Mu.Lock()
	assert.Equal(t, domain.CallStateConnecting, sess.State)
	sess.Mu.Unlock()
}

// TestDisconnect_StaleAfterRebind tests that a drop notification arriving
// after the user already rebound arms no grace timer. Watcher goroutines
// carry no ordering, so the reconnect may be observed first.
func TestDisconnect_StaleAfterRebind(t *testing.T) {
	caller := uuid.New()
	callee := uuid.New()
	sender := newFakeSender(caller, callee)
	st := store.NewSessionStore()
	service := NewService(st, sender, nil, nil)
	service.SetPolicy(time.Second, 30*time.Millisecond)

	snap, _ := service.Invite(context.Background(), caller, callee, domain.CallKindAudio, "")
	service.Accept(context.Background(), snap.CallID, callee, "")

	// The callee is still online: the reconnect watcher already ran for
	// the replacement connection before this stale drop arrives
	service.HandleReconnect(callee)
	service.HandleDisconnect(callee)

	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, 1, st.CallCount())
}

// TestDisconnectGrace_RebindWithoutCancel tests that the grace expiry
// re-checks reachability: a party who rebound without a cancel being
// observed must still keep the call alive.
func TestDisconnectGrace_RebindWithoutCancel(t *testing.T) {
	caller := uuid.New()
	callee := uuid.New()
	sender := newFakeSender(caller, callee)
	st := store.NewSessionStore()
	service := NewService(st, sender, nil, nil)
	service.SetPolicy(time.Second, 30*time.Millisecond)

	snap, _ := service.Invite(context.Background(), caller, callee, domain.CallKindAudio, "")
	service.Accept(context.Background(), snap.CallID, callee, "")

	sender.setOnline(callee, false)
	service.HandleDisconnect(callee)

	// Rebind without HandleReconnect ever firing
	sender.setOnline(callee, true)

	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, 1, st.CallCount())
}

// TestDisconnect_WhileRinging tests that a drop during Ringing arms no
// grace timer; the ringing timeout already covers it
func TestDisconnect_WhileRinging(t *testing.T) {
	caller := uuid.New()
	callee := uuid.New()
	sender := newFakeSender(caller, callee)
	st := store.NewSessionStore()
	service := NewService(st, sender, nil, nil)
	service.SetPolicy(time.Second, 20*time.Millisecond)

	snap, _ := service.Invite(context.Background(), caller, callee, domain.CallKindAudio, "")

	sender.setOnline(callee, false)
	service.HandleDisconnect(callee)
	time.Sleep(80 * time.Millisecond)

	// Still ringing: the grace policy applies only to calls in progress
	assert.Equal(t, 1, st.CallCount())

	sess, _ := st.GetCall(snap.CallID)
	sess.Mu.Lock()
	assert.Equal(t, domain.CallStateRinging, sess.State)
	sess.Mu.Unlock()
}

// TestShutdown tests that shutdown terminates every active call
func TestShutdown(t *testing.T) {
	a, b, c, d := uuid.New(), uuid.New(), uuid.New(), uuid.New()
	sender := newFakeSender(a, b, c, d)
	st := store.NewSessionStore()
	service := NewService(st, sender, nil, nil)

	s1, _ := service.Invite(context.Background(), a, b, domain.CallKindAudio, "")
	service.Accept(context.Background(), s1.CallID, b, "")
	service.Invite(context.Background(), c, d, domain.CallKindVideo, "")

	service.Shutdown()

	assert.Equal(t, 0, st.CallCount())
	assert.Contains(t, sender.eventTypes(a), domain.EventCallEnded)
	assert.Contains(t, sender.eventTypes(d), domain.EventCallEnded)
}
