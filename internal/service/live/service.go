package live

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"arenalive-backend/internal/domain"
	"arenalive-backend/internal/store"
	"arenalive-backend/pkg/constants"
	"arenalive-backend/pkg/errors"
	"arenalive-backend/pkg/logger"
	"arenalive-backend/pkg/metrics"
	"arenalive-backend/pkg/resilience"
)

// EventSender delivers outbound events to connected users
type EventSender interface {
	Send(userID uuid.UUID, event *domain.Event)
	IsOnline(userID uuid.UUID) bool
}

// Authorizer is the external community collaborator's "may this user
// host a live session against this source" check. It is consulted once
// before a room is created and trusted afterwards.
type Authorizer interface {
	MayHost(ctx context.Context, userID uuid.UUID, sourceType domain.SourceType, sourceID uuid.UUID) (bool, error)
}

// Directory resolves user ids to display metadata for event decoration
type Directory interface {
	GetDisplayName(ctx context.Context, userID uuid.UUID) (string, error)
}

// SummaryWriter appends terminal session summaries to the durable store
type SummaryWriter interface {
	Append(ctx context.Context, summary *domain.LiveSessionSummary) error
}

// ReactionArchiver appends raw reaction events to the archive
type ReactionArchiver interface {
	Append(roomID uuid.UUID, reaction *domain.Reaction) error
}

// End reasons recorded in metrics
const (
	EndReasonHostRequest    = "host_request"
	EndReasonHostDisconnect = "host_disconnect"
	EndReasonShutdown       = "shutdown"
)

// Service owns live room lifecycle, seat allocation, viewer tracking,
// and reaction aggregation. Each LiveRoom is its own serialization
// domain; the authorization check runs before the room exists and the
// terminal persistence write runs after the room is already gone from
// memory.
type Service struct {
	store     *store.SessionStore
	sender    EventSender
	summaries SummaryWriter
	archive   ReactionArchiver
	authz     Authorizer
	directory Directory
	writer    *resilience.DurableWriter

	hostGrace time.Duration
}

// NewService creates a new live room service
func NewService(st *store.SessionStore, sender EventSender, summaries SummaryWriter, archive ReactionArchiver, authz Authorizer, directory Directory) *Service {
	return &Service{
		store:     st,
		sender:    sender,
		summaries: summaries,
		archive:   archive,
		authz:     authz,
		directory: directory,
		writer:    resilience.NewDurableWriter("live_sessions"),
		hostGrace: constants.HostDisconnectGrace,
	}
}

// SetPolicy overrides the host grace window; used by tests
func (s *Service) SetPolicy(hostGrace time.Duration) {
	s.hostGrace = hostGrace
}

// StartInput contains room creation parameters
type StartInput struct {
	HostID     uuid.UUID
	Kind       domain.RoomKind
	SourceType domain.SourceType
	SourceID   uuid.UUID
	Capacity   int
	Unlisted   bool
}

// Start creates a room in Live status. The community authorization
// check runs here, before any room state exists or any lock is held.
func (s *Service) Start(ctx context.Context, input *StartInput, correlationID string) (*domain.RoomSnapshot, error) {
	if input.Kind == domain.RoomKindVoiceSeated {
		if input.Capacity < 1 || input.Capacity > constants.MaxSeatCapacity {
			return nil, errors.InvalidCapacityError()
		}
	}

	allowed, err := s.authz.MayHost(ctx, input.HostID, input.SourceType, input.SourceID)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeServiceUnavail, "Authorization check failed", err)
	}
	if !allowed {
		return nil, errors.ForbiddenError("Not allowed to host a live session here")
	}

	room := domain.NewLiveRoom(input.HostID, input.Kind, input.SourceType, input.SourceID, input.Capacity, input.Unlisted)
	if s.directory != nil {
		// Fail-open: an undecorated host id is still a valid room
		if name, err := s.directory.GetDisplayName(ctx, input.HostID); err == nil {
			room.HostName = name
		}
	}
	s.store.PutRoom(room)

	room.Mu.Lock()
	snap := room.RoomSnap()
	s.emit(domain.EventRoomStarted, room.RoomID, input.HostID, correlationID, snap, room.Participants())
	room.Mu.Unlock()

	metrics.LiveRoomsStartedTotal.WithLabelValues(string(input.Kind), string(input.SourceType)).Inc()
	metrics.LiveRoomsActive.Set(float64(s.store.RoomCount()))

	logger.Info("live room started",
		zap.String("room_id", room.RoomID.String()),
		zap.String("host_id", input.HostID.String()),
		zap.String("kind", string(input.Kind)),
		zap.Int("capacity", input.Capacity))

	return &snap, nil
}

// JoinSeat occupies a seat. With a position the request is strict; with
// position < 0 the lowest-numbered empty seat is taken. Seating removes
// the user from the viewer set.
func (s *Service) JoinSeat(ctx context.Context, roomID, userID uuid.UUID, position int, correlationID string) (*domain.SeatUpdate, error) {
	room, ok := s.store.GetRoom(roomID)
	if !ok {
		return nil, errors.StaleSessionError()
	}

	room.Mu.Lock()
	defer room.Mu.Unlock()

	if room.Status != domain.RoomStatusLive {
		return nil, errors.RoomEndedError()
	}
	if room.SeatOf(userID) != nil {
		metrics.LiveSeatJoinsTotal.WithLabelValues("already_seated").Inc()
		return nil, errors.AlreadySeatedError()
	}

	var seat *domain.Seat
	if position >= 0 {
		if position >= len(room.Seats) {
			metrics.LiveSeatJoinsTotal.WithLabelValues("seat_taken").Inc()
			return nil, errors.InvalidInputError("No such seat")
		}
		seat = &room.Seats[position]
		if seat.Occupied() {
			metrics.LiveSeatJoinsTotal.WithLabelValues("seat_taken").Inc()
			return nil, errors.SeatTakenError(position)
		}
	} else {
		seat = room.FirstEmptySeat()
		if seat == nil {
			metrics.LiveSeatJoinsTotal.WithLabelValues("room_full").Inc()
			return nil, errors.RoomFullError()
		}
	}

	seat.OccupantID = userID
	viewerChanged := false
	if _, viewing := room.Viewers[userID]; viewing {
		delete(room.Viewers, userID)
		viewerChanged = true
	}

	metrics.LiveSeatJoinsTotal.WithLabelValues("ok").Inc()
	metrics.LiveSeatsOccupied.Inc()

	update := &domain.SeatUpdate{RoomID: roomID, Seats: room.SeatsSnapshot()}
	participants := room.Participants()
	s.emit(domain.EventSeatUpdated, roomID, userID, correlationID, update, participants)
	if viewerChanged {
		metrics.LiveViewersCurrent.Dec()
		s.emit(domain.EventViewerCount, roomID, userID, correlationID,
			&domain.ViewerCount{RoomID: roomID, Viewers: len(room.Viewers)}, participants)
	}

	return update, nil
}

// LeaveSeat vacates the user's seat
func (s *Service) LeaveSeat(ctx context.Context, roomID, userID uuid.UUID, correlationID string) (*domain.SeatUpdate, error) {
	room, ok := s.store.GetRoom(roomID)
	if !ok {
		return nil, errors.StaleSessionError()
	}

	room.Mu.Lock()
	defer room.Mu.Unlock()

	if room.Status != domain.RoomStatusLive {
		return nil, errors.RoomEndedError()
	}

	seat := room.SeatOf(userID)
	if seat == nil {
		return nil, errors.NotSeatedError()
	}

	seat.OccupantID = uuid.Nil
	metrics.LiveSeatsOccupied.Dec()

	update := &domain.SeatUpdate{RoomID: roomID, Seats: room.SeatsSnapshot()}
	s.emit(domain.EventSeatUpdated, roomID, userID, correlationID, update, room.Participants())
	return update, nil
}

// JoinViewer adds the user to the viewer set. Idempotent: joining twice
// is a no-op success. A seated user may not also view.
func (s *Service) JoinViewer(ctx context.Context, roomID, userID uuid.UUID, correlationID string) (*domain.ViewerCount, error) {
	room, ok := s.store.GetRoom(roomID)
	if !ok {
		return nil, errors.StaleSessionError()
	}

	room.Mu.Lock()
	defer room.Mu.Unlock()

	if room.Status != domain.RoomStatusLive {
		return nil, errors.RoomEndedError()
	}
	if room.SeatOf(userID) != nil {
		return nil, errors.AlreadySeatedError()
	}

	if _, viewing := room.Viewers[userID]; !viewing {
		room.Viewers[userID] = struct{}{}
		if len(room.Viewers) > room.PeakViewers {
			room.PeakViewers = len(room.Viewers)
		}
		metrics.LiveViewersCurrent.Inc()
		count := &domain.ViewerCount{RoomID: roomID, Viewers: len(room.Viewers)}
		s.emit(domain.EventViewerCount, roomID, userID, correlationID, count, room.Participants())
		return count, nil
	}

	return &domain.ViewerCount{RoomID: roomID, Viewers: len(room.Viewers)}, nil
}

// LeaveViewer removes the user from the viewer set. Leaving when never
// joined is a silent no-op since disconnect cleanup calls this redundantly.
func (s *Service) LeaveViewer(ctx context.Context, roomID, userID uuid.UUID, correlationID string) (*domain.ViewerCount, error) {
	room, ok := s.store.GetRoom(roomID)
	if !ok {
		return nil, errors.StaleSessionError()
	}

	room.Mu.Lock()
	defer room.Mu.Unlock()

	if room.Status != domain.RoomStatusLive {
		return nil, errors.RoomEndedError()
	}

	if _, viewing := room.Viewers[userID]; viewing {
		delete(room.Viewers, userID)
		metrics.LiveViewersCurrent.Dec()
		count := &domain.ViewerCount{RoomID: roomID, Viewers: len(room.Viewers)}
		s.emit(domain.EventViewerCount, roomID, userID, correlationID, count, room.Participants())
		return count, nil
	}

	return &domain.ViewerCount{RoomID: roomID, Viewers: len(room.Viewers)}, nil
}

// React appends a reaction and returns the updated aggregate. Reactions
// never fail for a live room; the raw event goes to the archive without
// blocking the aggregate update.
func (s *Service) React(ctx context.Context, roomID, userID uuid.UUID, reactionType, correlationID string) (*domain.ReactionAggregate, error) {
	// Fold unknown types into the catch-all bucket rather than rejecting;
	// reactions never fail for a live room, but client input must not
	// grow the aggregate map or the metric label space.
	reactionType = domain.NormalizeReactionType(reactionType)

	room, ok := s.store.GetRoom(roomID)
	if !ok {
		return nil, errors.StaleSessionError()
	}

	room.Mu.Lock()

	if room.Status != domain.RoomStatusLive {
		room.Mu.Unlock()
		return nil, errors.RoomEndedError()
	}

	reaction := &domain.Reaction{UserID: userID, Type: reactionType, CreatedAt: time.Now()}
	room.ReactionCounts[reactionType]++

	aggregate := &domain.ReactionAggregate{RoomID: roomID, Counts: room.ReactionSnapshot()}
	s.emit(domain.EventReactionAggregate, roomID, userID, correlationID, aggregate, room.Participants())
	room.Mu.Unlock()

	metrics.LiveReactionsTotal.WithLabelValues(reactionType).Inc()

	if s.archive == nil {
		return aggregate, nil
	}

	go func() {
		if err := s.archive.Append(roomID, reaction); err != nil {
			metrics.LiveReactionArchiveErrorsTotal.Inc()
			logger.Warn("reaction archive write failed",
				zap.String("room_id", roomID.String()),
				zap.Error(err))
		}
	}()

	return aggregate, nil
}

// End terminates a room. Only the host may end it.
func (s *Service) End(ctx context.Context, roomID, requesterID uuid.UUID, correlationID string) error {
	room, ok := s.store.GetRoom(roomID)
	if !ok {
		return errors.StaleSessionError()
	}

	room.Mu.Lock()
	defer room.Mu.Unlock()

	if room.Status != domain.RoomStatusLive {
		return errors.RoomEndedError()
	}
	if room.HostID != requesterID {
		return errors.ForbiddenError("Only the host may end this room")
	}

	s.endLocked(room, requesterID, correlationID, EndReasonHostRequest)
	return nil
}

// RoomSnapshots returns the current state of every active room; unlisted
// rooms are excluded when publicOnly is set
func (s *Service) RoomSnapshots(publicOnly bool) []domain.RoomSnapshot {
	rooms := s.store.Rooms()
	out := make([]domain.RoomSnapshot, 0, len(rooms))
	for _, room := range rooms {
		room.Mu.Lock()
		if room.Status == domain.RoomStatusLive && !(publicOnly && room.Unlisted) {
			out = append(out, room.RoomSnap())
		}
		room.Mu.Unlock()
	}
	return out
}

// RoomSnapshot returns one room's current state
func (s *Service) RoomSnapshot(roomID uuid.UUID) (*domain.RoomSnapshot, error) {
	room, ok := s.store.GetRoom(roomID)
	if !ok {
		return nil, errors.NotFoundError("Room")
	}
	room.Mu.Lock()
	defer room.Mu.Unlock()
	snap := room.RoomSnap()
	return &snap, nil
}

// HandleDisconnect applies the presence-drop policy: host drops start a
// grace window, seated users are vacated immediately, viewers are
// removed immediately.
func (s *Service) HandleDisconnect(userID uuid.UUID) {
	// Drop and reconnect watchers carry no ordering; if the user already
	// rebound, this notification is stale and no cleanup applies.
	if s.sender.IsOnline(userID) {
		return
	}

	for _, room := range s.store.Rooms() {
		room.Mu.Lock()

		if room.Status != domain.RoomStatusLive {
			room.Mu.Unlock()
			continue
		}

		if room.HostID == userID && room.HostGraceTimer == nil {
			roomID := room.RoomID
			room.HostGraceTimer = time.AfterFunc(s.hostGrace, func() {
				s.hostGraceExpired(roomID)
			})
			metrics.LiveHostGraceArmedTotal.Inc()
			logger.Info("host disconnected, grace armed",
				zap.String("room_id", roomID.String()),
				zap.Duration("grace", s.hostGrace))
		}

		if seat := room.SeatOf(userID); seat != nil {
			seat.OccupantID = uuid.Nil
			metrics.LiveSeatsOccupied.Dec()
			update := &domain.SeatUpdate{RoomID: room.RoomID, Seats: room.SeatsSnapshot()}
			s.emit(domain.EventSeatUpdated, room.RoomID, userID, "", update, room.Participants())
		}

		if _, viewing := room.Viewers[userID]; viewing {
			delete(room.Viewers, userID)
			metrics.LiveViewersCurrent.Dec()
			count := &domain.ViewerCount{RoomID: room.RoomID, Viewers: len(room.Viewers)}
			s.emit(domain.EventViewerCount, room.RoomID, userID, "", count, room.Participants())
		}

		room.Mu.Unlock()
	}
}

// HandleReconnect cancels a pending host grace timer for userID
func (s *Service) HandleReconnect(userID uuid.UUID) {
	for _, room := range s.store.Rooms() {
		room.Mu.Lock()
		if room.HostID == userID && room.HostGraceTimer != nil {
			room.HostGraceTimer.Stop()
			room.HostGraceTimer = nil
			metrics.LiveHostGraceCancelledTotal.Inc()
			logger.Info("host reconnected, grace cancelled",
				zap.String("room_id", room.RoomID.String()))
		}
		room.Mu.Unlock()
	}
}

// Shutdown ends every active room
func (s *Service) Shutdown() {
	for _, room := range s.store.Rooms() {
		room.Mu.Lock()
		if room.Status == domain.RoomStatusLive {
			s.endLocked(room, room.HostID, "", EndReasonShutdown)
		}
		room.Mu.Unlock()
	}
}

// hostGraceExpired fires when the host did not return in time
func (s *Service) hostGraceExpired(roomID uuid.UUID) {
	room, ok := s.store.GetRoom(roomID)
	if !ok {
		return
	}

	room.Mu.Lock()
	defer room.Mu.Unlock()

	if room.Status != domain.RoomStatusLive || room.HostGraceTimer == nil {
		return
	}
	room.HostGraceTimer = nil

	// A reconnect may have raced past the cancel path; the registry is
	// authoritative, so an online host keeps the room alive.
	if s.sender.IsOnline(room.HostID) {
		metrics.LiveHostGraceCancelledTotal.Inc()
		logger.Info("host back before grace expired", zap.String("room_id", roomID.String()))
		return
	}

	logger.Info("host gone past grace, ending room", zap.String("room_id", roomID.String()))
	s.endLocked(room, room.HostID, "", EndReasonHostDisconnect)
}

// endLocked applies the terminal transition. Caller holds the room lock.
// The room leaves the active store before the durable summary write
// starts; the write is retried with backoff and never reversed into
// live state.
func (s *Service) endLocked(room *domain.LiveRoom, actorID uuid.UUID, correlationID, reason string) {
	now := time.Now()
	room.Status = domain.RoomStatusEnded
	room.EndedAt = &now

	if room.HostGraceTimer != nil {
		room.HostGraceTimer.Stop()
		room.HostGraceTimer = nil
	}

	// Snapshot recipients before clearing membership
	participants := room.Participants()

	occupied := room.OccupiedSeats()
	for i := range room.Seats {
		room.Seats[i].OccupantID = uuid.Nil
	}
	viewers := len(room.Viewers)
	room.Viewers = make(map[uuid.UUID]struct{})

	snap := room.RoomSnap()
	s.emit(domain.EventRoomEnded, room.RoomID, actorID, correlationID, snap, participants)

	s.store.RemoveRoom(room.RoomID)
	metrics.LiveRoomsActive.Set(float64(s.store.RoomCount()))
	metrics.LiveRoomsEndedTotal.WithLabelValues(string(room.Kind), reason).Inc()
	metrics.LiveRoomDurationSeconds.WithLabelValues(string(room.Kind)).Observe(room.Duration().Seconds())
	metrics.LiveSeatsOccupied.Sub(float64(occupied))
	metrics.LiveViewersCurrent.Sub(float64(viewers))

	summary := &domain.LiveSessionSummary{
		RoomID:         room.RoomID,
		HostID:         room.HostID,
		Kind:           room.Kind,
		SourceType:     room.SourceType,
		SourceID:       room.SourceID,
		PeakViewers:    room.PeakViewers,
		ReactionCounts: room.ReactionSnapshot(),
		Duration:       int(room.Duration().Seconds()),
		StartedAt:      room.StartedAt,
		EndedAt:        now,
	}

	if s.summaries != nil {
		go func() {
			err := s.writer.Execute(context.Background(), "append_live_session", func() error {
				ctx, cancel := context.WithTimeout(context.Background(), constants.SummaryWriteTimeout)
				defer cancel()
				return s.summaries.Append(ctx, summary)
			})
			if err != nil {
				logger.Error("live session summary write failed",
					zap.String("room_id", summary.RoomID.String()),
					zap.Error(err))
			}
		}()
	}

	logger.Info("live room ended",
		zap.String("room_id", room.RoomID.String()),
		zap.String("reason", reason),
		zap.Int("peak_viewers", summary.PeakViewers))
}

// emit sends one event to each recipient. Callers hold the room lock;
// delivery is a non-blocking buffered channel send, so this also keeps
// event order aligned with state transitions.
func (s *Service) emit(eventType string, roomID, actorID uuid.UUID, correlationID string, payload any, recipients []uuid.UUID) {
	event := &domain.Event{
		Type:          eventType,
		SessionID:     roomID,
		ActorID:       actorID,
		CorrelationID: correlationID,
		Payload:       payload,
		Timestamp:     time.Now(),
	}
	for _, id := range recipients {
		s.sender.Send(id, event)
	}
}
