package live

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

// fakeSender records emitted events per recipient and tracks an online
// set; users are offline unless marked otherwise
type fakeSender struct {
	mu     sync.Mutex
	events map[uuid.UUID][]*domain.Event
	online map[uuid.UUID]bool
}

func newFakeSender() *fakeSender {
	return &fakeSender{
		events: make(map[uuid.UUID][]*domain.Event),
		online: make(map[uuid.UUID]bool),
	}
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

// MockAuthorizer is a mock implementation of Authorizer
type MockAuthorizer struct {
	mock.Mock
}

func (m *MockAuthorizer) MayHost(ctx context.Context, userID uuid.UUID, sourceType domain.SourceType, sourceID uuid.UUID) (bool, error) {
	args := m.Called(ctx, userID, sourceType, sourceID)
	return args.Bool(0), args.Error(1)
}

// MockSummaryWriter is a mock implementation of SummaryWriter
type MockSummaryWriter struct {
	mock.Mock
}

func (m *MockSummaryWriter) Append(ctx context.Context, summary *domain.LiveSessionSummary) error {
	args := m.Called(ctx, summary)
	return args.Error(0)
}

// MockReactionArchiver is a mock implementation of ReactionArchiver
type MockReactionArchiver struct {
	mock.Mock
}

func (m *MockReactionArchiver) Append(roomID uuid.UUID, reaction *domain.Reaction) error {
	args := m.Called(roomID, reaction)
	return args.Error(0)
}

// MockDirectory is a mock implementation of Directory
type MockDirectory struct {
	mock.Mock
}

func (m *MockDirectory) GetDisplayName(ctx context.Context, userID uuid.UUID) (string, error) {
	args := m.Called(ctx, userID)
	return args.String(0), args.Error(1)
}

// allowAll returns an authorizer that approves every host
func allowAll() *MockAuthorizer {
	authz := new(MockAuthorizer)
	authz.On("MayHost", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(true, nil)
	return authz
}

func startSeatedRoom(t *testing.T, service *Service, host uuid.UUID, capacity int) *domain.RoomSnapshot {
	t.Helper()
	snap, err := service.Start(context.Background(), &StartInput{
		HostID:     host,
		Kind:       domain.RoomKindVoiceSeated,
		SourceType: domain.SourceTypePublic,
		Capacity:   capacity,
	}, "")
	assert.NoError(t, err)
	return snap
}

// TestStart tests room creation
func TestStart(t *testing.T) {
	host := uuid.New()
	sender := newFakeSender()
	st := store.NewSessionStore()
	service := NewService(st, sender, nil, nil, allowAll(), nil)

	snap := startSeatedRoom(t, service, host, 4)

	assert.Equal(t, domain.RoomStatusLive, snap.Status)
	assert.Equal(t, 4, snap.Capacity)
	assert.Len(t, snap.Seats, 4)
	assert.Equal(t, 1, st.RoomCount())

	// The host observes the room_started event
	assert.Equal(t, []string{domain.EventRoomStarted}, sender.eventTypes(host))
}

// TestStart_DecoratesHostName tests directory decoration of the room
// snapshot
func TestStart_DecoratesHostName(t *testing.T) {
	host := uuid.New()
	directory := new(MockDirectory)
	directory.On("GetDisplayName", mock.Anything, host).Return("HostName", nil)
	service := NewService(store.NewSessionStore(), newFakeSender(), nil, nil, allowAll(), directory)

	snap, err := service.Start(context.Background(), &StartInput{
		HostID:     host,
		Kind:       domain.RoomKindVideo,
		SourceType: domain.SourceTypePublic,
	}, "")

	assert.NoError(t, err)
	assert.Equal(t, "HostName", snap.HostName)
	directory.AssertExpectations(t)
}

// TestStart_InvalidCapacity tests capacity bounds for seated rooms
func TestStart_InvalidCapacity(t *testing.T) {
	service := NewService(store.NewSessionStore(), newFakeSender(), nil, nil, allowAll(), nil)

	for _, capacity := range []int{0, -1, 51} {
		_, err := service.Start(context.Background(), &StartInput{
			HostID:     uuid.New(),
			Kind:       domain.RoomKindVoiceSeated,
			SourceType: domain.SourceTypePublic,
			Capacity:   capacity,
		}, "")
		assert.True(t, errors.Is(err, errors.ErrCodeInvalidCapacity), "capacity %d", capacity)
	}
}

// TestStart_Forbidden tests that a denied host cannot start a room
func TestStart_Forbidden(t *testing.T) {
	authz := new(MockAuthorizer)
	authz.On("MayHost", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(false, nil)
	service := NewService(store.NewSessionStore(), newFakeSender(), nil, nil, authz, nil)

	_, err := service.Start(context.Background(), &StartInput{
		HostID:     uuid.New(),
		Kind:       domain.RoomKindVideo,
		SourceType: domain.SourceTypeGuild,
		SourceID:   uuid.New(),
	}, "")

	assert.True(t, errors.Is(err, errors.ErrCodeForbidden))
}

// TestStart_NonSeatedHasNoSeats tests that only voice_seated rooms carry seats
func TestStart_NonSeatedHasNoSeats(t *testing.T) {
	service := NewService(store.NewSessionStore(), newFakeSender(), nil, nil, allowAll(), nil)

	snap, err := service.Start(context.Background(), &StartInput{
		HostID:     uuid.New(),
		Kind:       domain.RoomKindVideo,
		SourceType: domain.SourceTypePublic,
		Capacity:   10, // ignored for non-seated kinds
	}, "")

	assert.NoError(t, err)
	assert.Equal(t, 0, snap.Capacity)
	assert.Empty(t, snap.Seats)
}

// TestJoinSeat tests strict and any-seat joining up to capacity
func TestJoinSeat(t *testing.T) {
	host := uuid.New()
	sender := newFakeSender()
	service := NewService(store.NewSessionStore(), sender, nil, nil, allowAll(), nil)
	snap := startSeatedRoom(t, service, host, 2)

	u1, u2, u3 := uuid.New(), uuid.New(), uuid.New()

	// Strict position
	update, err := service.JoinSeat(context.Background(), snap.RoomID, u1, 1, "")
	assert.NoError(t, err)
	assert.Equal(t, u1, update.Seats[1].OccupantID)

	// Taking an occupied seat fails
	_, err = service.JoinSeat(context.Background(), snap.RoomID, u2, 1, "")
	assert.True(t, errors.Is(err, errors.ErrCodeSeatTaken))

	// Any-seat takes the lowest empty position
	update, err = service.JoinSeat(context.Background(), snap.RoomID, u2, -1, "")
	assert.NoError(t, err)
	assert.Equal(t, u2, update.Seats[0].OccupantID)

	// Room is now full
	_, err = service.JoinSeat(context.Background(), snap.RoomID, u3, -1, "")
	assert.True(t, errors.Is(err, errors.ErrCodeRoomFull))

	// Double-seating is refused
	_, err = service.JoinSeat(context.Background(), snap.RoomID, u1, -1, "")
	assert.True(t, errors.Is(err, errors.ErrCodeAlreadySeated))

	// Leave then rejoin works
	_, err = service.LeaveSeat(context.Background(), snap.RoomID, u1, "")
	assert.NoError(t, err)
	_, err = service.JoinSeat(context.Background(), snap.RoomID, u3, -1, "")
	assert.NoError(t, err)
}

// TestJoinSeat_Concurrent tests that racing joins for the last seat
// admit exactly one user
func TestJoinSeat_Concurrent(t *testing.T) {
	host := uuid.New()
	service := NewService(store.NewSessionStore(), newFakeSender(), nil, nil, allowAll(), nil)
	snap := startSeatedRoom(t, service, host, 1)

	const contenders = 20
	var wg sync.WaitGroup
	var winners int32
	var mu sync.Mutex

	for i := 0; i < contenders; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := service.JoinSeat(context.Background(), snap.RoomID, uuid.New(), -1, ""); err == nil {
				mu.Lock()
				winners++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), winners)
}

// TestViewerSeatExclusion tests that seats and the viewer set are disjoint
func TestViewerSeatExclusion(t *testing.T) {
	host := uuid.New()
	service := NewService(store.NewSessionStore(), newFakeSender(), nil, nil, allowAll(), nil)
	snap := startSeatedRoom(t, service, host, 2)

	user := uuid.New()

	count, err := service.JoinViewer(context.Background(), snap.RoomID, user, "")
	assert.NoError(t, err)
	assert.Equal(t, 1, count.Viewers)

	// Viewer join is idempotent
	count, err = service.JoinViewer(context.Background(), snap.RoomID, user, "")
	assert.NoError(t, err)
	assert.Equal(t, 1, count.Viewers)

	// Taking a seat removes the user from the viewer set
	_, err = service.JoinSeat(context.Background(), snap.RoomID, user, 0, "")
	assert.NoError(t, err)

	got, err := service.RoomSnapshot(snap.RoomID)
	assert.NoError(t, err)
	assert.Equal(t, 0, got.Viewers)

	// A seated user cannot also view
	_, err = service.JoinViewer(context.Background(), snap.RoomID, user, "")
	assert.True(t, errors.Is(err, errors.ErrCodeAlreadySeated))

	// Leaving the viewer set when never in it is a silent no-op
	other := uuid.New()
	_, err = service.LeaveViewer(context.Background(), snap.RoomID, other, "")
	assert.NoError(t, err)
}

// TestReact tests aggregate counting and archive append
func TestReact(t *testing.T) {
	host := uuid.New()
	sender := newFakeSender()
	archive := new(MockReactionArchiver)
	service := NewService(store.NewSessionStore(), sender, nil, archive, allowAll(), nil)
	snap := startSeatedRoom(t, service, host, 2)

	archived := make(chan *domain.Reaction, 3)
	archive.On("Append", snap.RoomID, mock.AnythingOfType("*domain.Reaction")).
		Run(func(args mock.Arguments) {
			archived <- args.Get(1).(*domain.Reaction)
		}).Return(nil)

	user := uuid.New()
	service.JoinViewer(context.Background(), snap.RoomID, user, "")

	agg, err := service.React(context.Background(), snap.RoomID, user, "fire", "")
	assert.NoError(t, err)
	assert.Equal(t, int64(1), agg.Counts["fire"])

	agg, err = service.React(context.Background(), snap.RoomID, user, "fire", "")
	assert.NoError(t, err)
	assert.Equal(t, int64(2), agg.Counts["fire"])

	agg, err = service.React(context.Background(), snap.RoomID, user, "clap", "")
	assert.NoError(t, err)
	assert.Equal(t, int64(2), agg.Counts["fire"])
	assert.Equal(t, int64(1), agg.Counts["clap"])

	for i := 0; i < 3; i++ {
		select {
		case r := <-archived:
			assert.Equal(t, user, r.UserID)
		case <-time.After(time.Second):
			t.Fatal("reaction was never archived")
		}
	}
}

// TestReact_UnknownTypeFolds tests that arbitrary client reaction
// strings land in the catch-all bucket instead of growing the aggregate
func TestReact_UnknownTypeFolds(t *testing.T) {
	host := uuid.New()
	service := NewService(store.NewSessionStore(), newFakeSender(), nil, nil, allowAll(), nil)
	snap := startSeatedRoom(t, service, host, 2)

	user := uuid.New()
	agg, err := service.React(context.Background(), snap.RoomID, user, "<script>alert(1)</script>", "")
	assert.NoError(t, err)

	agg, err = service.React(context.Background(), snap.RoomID, user, string(make([]byte, 4096)), "")
	assert.NoError(t, err)

	// Both landed in the same bounded bucket
	assert.Equal(t, int64(2), agg.Counts[domain.ReactionOther])
	assert.Len(t, agg.Counts, 1)
}

// TestEnd tests host-requested termination and the summary write
func TestEnd(t *testing.T) {
	host := uuid.New()
	viewer := uuid.New()
	sender := newFakeSender()
	summaries := new(MockSummaryWriter)
	st := store.NewSessionStore()
	service := NewService(st, sender, summaries, nil, allowAll(), nil)
	snap := startSeatedRoom(t, service, host, 2)

	written := make(chan *domain.LiveSessionSummary, 1)
	summaries.On("Append", mock.Anything, mock.AnythingOfType("*domain.LiveSessionSummary")).
		Run(func(args mock.Arguments) {
			written <- args.Get(1).(*domain.LiveSessionSummary)
		}).Return(nil)

	service.JoinViewer(context.Background(), snap.RoomID, viewer, "")
	service.React(context.Background(), snap.RoomID, viewer, "fire", "")

	// Only the host may end the room
	err := service.End(context.Background(), snap.RoomID, viewer, "")
	assert.True(t, errors.Is(err, errors.ErrCodeForbidden))

	err = service.End(context.Background(), snap.RoomID, host, "")
	assert.NoError(t, err)
	assert.Equal(t, 0, st.RoomCount())

	// Every participant observed the room_ended event
	assert.Contains(t, sender.eventTypes(host), domain.EventRoomEnded)
	assert.Contains(t, sender.eventTypes(viewer), domain.EventRoomEnded)

	select {
	case summary := <-written:
		assert.Equal(t, snap.RoomID, summary.RoomID)
		assert.Equal(t, 1, summary.PeakViewers)
		assert.Equal(t, int64(1), summary.ReactionCounts["fire"])
	case <-time.After(2 * time.Second):
		t.Fatal("session summary was never written")
	}
}

// TestReact_AfterEnd tests that reactions to an ended room fail
func TestReact_AfterEnd(t *testing.T) {
	host := uuid.New()
	st := store.NewSessionStore()
	service := NewService(st, newFakeSender(), nil, nil, allowAll(), nil)
	snap := startSeatedRoom(t, service, host, 2)

	service.End(context.Background(), snap.RoomID, host, "")

	// The room is gone from the store entirely
	_, err := service.React(context.Background(), snap.RoomID, uuid.New(), "fire", "")
	assert.True(t, errors.Is(err, errors.ErrCodeStaleSession))
}

// TestHostGrace tests that a host drop ends the room after the grace
// window unless the host returns
func TestHostGrace(t *testing.T) {
	host := uuid.New()
	st := store.NewSessionStore()
	service := NewService(st, newFakeSender(), nil, nil, allowAll(), nil)
	service.SetPolicy(30 * time.Millisecond)
	snap := startSeatedRoom(t, service, host, 2)

	service.HandleDisconnect(host)

	assert.Eventually(t, func() bool {
		return st.RoomCount() == 0
	}, time.Second, 10*time.Millisecond)

	_, err := service.RoomSnapshot(snap.RoomID)
	assert.True(t, errors.Is(err, errors.ErrCodeNotFound))
}

// TestHostGrace_Reconnect tests that a returning host keeps the room alive
func TestHostGrace_Reconnect(t *testing.T) {
	host := uuid.New()
	st := store.NewSessionStore()
	service := NewService(st, newFakeSender(), nil, nil, allowAll(), nil)
	service.SetPolicy(50 * time.Millisecond)
	startSeatedRoom(t, service, host, 2)

	service.HandleDisconnect(host)
	service.HandleReconnect(host)

	time.Sleep(150 * time.Millisecond)
	assert.Equal(t, 1, st.RoomCount())
}

// TestHostGrace_StaleAfterRebind tests that a drop notification arriving
// after the host already rebound arms no grace timer
func TestHostGrace_StaleAfterRebind(t *testing.T) {
	host := uuid.New()
	sender := newFakeSender()
	st := store.NewSessionStore()
	service := NewService(st, sender, nil, nil, allowAll(), nil)
	service.SetPolicy(30 * time.Millisecond)
	startSeatedRoom(t, service, host, 2)

	// The host is online again: the reconnect watcher already ran for
	// the replacement connection before this stale drop arrives
	sender.setOnline(host, true)
	service.HandleReconnect(host)
	service.HandleDisconnect(host)

	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, 1, st.RoomCount())
}

// TestHostGrace_RebindWithoutCancel tests that the grace expiry re-checks
// reachability before ending the room
func TestHostGrace_RebindWithoutCancel(t *testing.T) {
	host := uuid.New()
	sender := newFakeSender()
	st := store.NewSessionStore()
	service := NewService(st, sender, nil, nil, allowAll(), nil)
	service.SetPolicy(30 * time.Millisecond)
	startSeatedRoom(t, service, host, 2)

	service.HandleDisconnect(host)

	// Rebind without HandleReconnect ever firing
	sender.setOnline(host, true)

	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, 1, st.RoomCount())
}

// TestDisconnect_SeatAndViewer tests immediate cleanup for non-hosts
func TestDisconnect_SeatAndViewer(t *testing.T) {
	host := uuid.New()
	seated := uuid.New()
	viewer := uuid.New()
	service := NewService(store.NewSessionStore(), newFakeSender(), nil, nil, allowAll(), nil)
	snap := startSeatedRoom(t, service, host, 2)

	service.JoinSeat(context.Background(), snap.RoomID, seated, 0, "")
	service.JoinViewer(context.Background(), snap.RoomID, viewer, "")

	service.HandleDisconnect(seated)
	service.HandleDisconnect(viewer)

	got, err := service.RoomSnapshot(snap.RoomID)
	assert.NoError(t, err)
	assert.Equal(t, uuid.Nil, got.Seats[0].OccupantID)
	assert.Equal(t, 0, got.Viewers)
}

// TestRoomSnapshots_Unlisted tests unlisted filtering for discovery
func TestRoomSnapshots_Unlisted(t *testing.T) {
	service := NewService(store.NewSessionStore(), newFakeSender(), nil, nil, allowAll(), nil)

	_, err := service.Start(context.Background(), &StartInput{
		HostID:     uuid.New(),
		Kind:       domain.RoomKindVideo,
		SourceType: domain.SourceTypePublic,
	}, "")
	assert.NoError(t, err)

	_, err = service.Start(context.Background(), &StartInput{
		HostID:     uuid.New(),
		Kind:       domain.RoomKindVideo,
		SourceType: domain.SourceTypePublic,
		Unlisted:   true,
	}, "")
	assert.NoError(t, err)

	assert.Len(t, service.RoomSnapshots(true), 1)
	assert.Len(t, service.RoomSnapshots(false), 2)
}
