package call

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

// CallLogWriter appends terminal call records to the durable store
type CallLogWriter interface {
	Append(ctx context.Context, log *domain.CallLog) error
}

// Directory validates target ids and resolves display metadata for
// event decoration
type Directory interface {
	UserExists(ctx context.Context, userID uuid.UUID) (bool, error)
	GetDisplayName(ctx context.Context, userID uuid.UUID) (string, error)
}

// Media control names accepted by MediaControl
const (
	ControlMute         = "mute"
	ControlVideoOff     = "video_off"
	ControlScreenShare  = "screen_share"
	ControlCameraFacing = "camera_facing"
)

// Service owns the 1:1 call state machine. Each CallSession is its own
// serialization domain; the service locks exactly one session at a time
// and never performs external I/O while holding it.
type Service struct {
	store     *store.SessionStore
	sender    EventSender
	callLogs  CallLogWriter
	directory Directory
	writer    *resilience.DurableWriter

	ringingTimeout  time.Duration
	disconnectGrace time.Duration
}

// NewService creates a new call signaling service
func NewService(st *store.SessionStore, sender EventSender, callLogs CallLogWriter, directory Directory) *Service {
	return &Service{
		store:           st,
		sender:          sender,
		callLogs:        callLogs,
		directory:       directory,
		writer:          resilience.NewDurableWriter("call_logs"),
		ringingTimeout:  constants.RingingTimeout,
		disconnectGrace: constants.CallDisconnectGrace,
	}
}

// SetPolicy overrides the timeout policy; used by tests
func (s *Service) SetPolicy(ringingTimeout, disconnectGrace time.Duration) {
	s.ringingTimeout = ringingTimeout
	s.disconnectGrace = disconnectGrace
}

// Invite starts a new call from caller to callee. The session is created
// in Ringing; Busy and Offline answer the caller synchronously without
// creating any state.
func (s *Service) Invite(ctx context.Context, callerID, calleeID uuid.UUID, kind domain.CallKind, correlationID string) (*domain.CallSnapshot, error) {
	if calleeID == uuid.Nil || callerID == calleeID {
		metrics.CallInvitesTotal.WithLabelValues(string(kind), "invalid_target").Inc()
		return nil, errors.InvalidTargetError("Cannot call this user")
	}

	// Directory check happens before any session state exists. A
	// directory outage fails open: the presence check below still
	// gates on reachability.
	if s.directory != nil {
		if exists, err := s.directory.UserExists(ctx, calleeID); err == nil && !exists {
			metrics.CallInvitesTotal.WithLabelValues(string(kind), "invalid_target").Inc()
			return nil, errors.InvalidTargetError("Unknown user")
		}
	}

	if !s.sender.IsOnline(calleeID) {
		metrics.CallInvitesTotal.WithLabelValues(string(kind), "offline").Inc()
		return nil, errors.OfflineError()
	}

	sess := domain.NewCallSession(callerID, calleeID, kind)
	sess.Names = s.resolveNames(ctx, callerID, calleeID)
	if _, ok := s.store.PutCallIfFree(sess); !ok {
		metrics.CallInvitesTotal.WithLabelValues(string(kind), "busy").Inc()
		return nil, errors.BusyError()
	}

	sess.Mu.Lock()
	sess.RingTimer = time.AfterFunc(s.ringingTimeout, func() {
		s.ringingTimedOut(sess.CallID)
	})
	snap := sess.Snapshot()
	s.emit(domain.EventCallRinging, sess.CallID, callerID, correlationID, snap, calleeID)
	sess.Mu.Unlock()

	metrics.CallInvitesTotal.WithLabelValues(string(kind), "ringing").Inc()
	metrics.CallsActive.Set(float64(s.store.CallCount()))

	logger.Info("call invite",
		zap.String("call_id", sess.CallID.String()),
		zap.String("caller_id", callerID.String()),
		zap.String("callee_id", calleeID.String()),
		zap.String("kind", string(kind)))

	return &snap, nil
}

// resolveNames decorates both parties with their directory display
// names. Missing entries and directory outages leave the id undecorated;
// clients fall back to the bare id.
func (s *Service) resolveNames(ctx context.Context, userIDs ...uuid.UUID) map[uuid.UUID]string {
	if s.directory == nil {
		return nil
	}
	names := make(map[uuid.UUID]string, len(userIDs))
	for _, id := range userIDs {
		if name, err := s.directory.GetDisplayName(ctx, id); err == nil && name != "" {
			names[id] = name
		}
	}
	return names
}

// Accept moves a ringing call to Connecting. Only the callee may accept.
func (s *Service) Accept(ctx context.Context, callID, actorID uuid.UUID, correlationID string) (*domain.CallSnapshot, error) {
	sess, ok := s.store.GetCall(callID)
	if !ok {
		metrics.CallStaleSessionTotal.Inc()
		return nil, errors.StaleSessionError()
	}

	sess.Mu.Lock()
	defer sess.Mu.Unlock()

	if sess.CalleeID != actorID {
		return nil, errors.ForbiddenError("Only the callee may accept")
	}
	if sess.State != domain.CallStateRinging {
		return nil, errors.InvalidInputError("Call is not ringing")
	}

	sess.State = domain.CallStateConnecting
	stopTimer(sess.RingTimer)
	sess.RingTimer = nil

	snap := sess.Snapshot()
	s.emit(domain.EventCallAccepted, callID, actorID, correlationID, snap, sess.CallerID)
	return &snap, nil
}

// Reject terminates a ringing call. Only the callee may reject.
func (s *Service) Reject(ctx context.Context, callID, actorID uuid.UUID, correlationID string) error {
	sess, ok := s.store.GetCall(callID)
	if !ok {
		metrics.CallStaleSessionTotal.Inc()
		return errors.StaleSessionError()
	}

	sess.Mu.Lock()
	defer sess.Mu.Unlock()

	if sess.CalleeID != actorID {
		return errors.ForbiddenError("Only the callee may reject")
	}
	if sess.State != domain.CallStateRinging {
		return errors.InvalidInputError("Call is not ringing")
	}

	s.terminateLocked(sess, domain.CallOutcomeRejected, actorID, correlationID)
	return nil
}

// End terminates a call in Connecting or Stable. Either party may end.
func (s *Service) End(ctx context.Context, callID, actorID uuid.UUID, correlationID string) error {
	sess, ok := s.store.GetCall(callID)
	if !ok {
		metrics.CallStaleSessionTotal.Inc()
		return errors.StaleSessionError()
	}

	sess.Mu.Lock()
	defer sess.Mu.Unlock()

	if !sess.HasParticipant(actorID) {
		return errors.ForbiddenError("Not a participant of this call")
	}
	if sess.State != domain.CallStateConnecting && sess.State != domain.CallStateStable {
		return errors.InvalidInputError("Call is not in progress")
	}

	s.terminateLocked(sess, domain.CallOutcomeCompleted, actorID, correlationID)
	return nil
}

// MediaControl applies a per-party advisory media flag and relays it to
// the other party. The first control signal observed in Connecting marks
// negotiation complete and moves the call to Stable. Flags are set
// absolutely, so a duplicated message is a no-op.
func (s *Service) MediaControl(ctx context.Context, callID, actorID uuid.UUID, control string, enabled bool, facing string, correlationID string) (*domain.CallSnapshot, error) {
	sess, ok := s.store.GetCall(callID)
	if !ok {
		metrics.CallStaleSessionTotal.Inc()
		return nil, errors.StaleSessionError()
	}

	sess.Mu.Lock()
	defer sess.Mu.Unlock()

	if !sess.HasParticipant(actorID) {
		return nil, errors.ForbiddenError("Not a participant of this call")
	}
	if sess.State != domain.CallStateConnecting && sess.State != domain.CallStateStable {
		return nil, errors.InvalidInputError("Media controls are only valid during a call")
	}

	media := sess.Media[actorID]
	switch control {
	case ControlMute:
		media.Muted = enabled
	case ControlVideoOff:
		media.VideoOff = enabled
	case ControlScreenShare:
		media.ScreenSharing = enabled
	case ControlCameraFacing:
		if facing != "front" && facing != "back" {
			return nil, errors.InvalidInputError("Unknown camera facing")
		}
		media.CameraFacing = facing
	default:
		return nil, errors.InvalidInputError("Unknown media control")
	}
	metrics.CallMediaSignalsTotal.WithLabelValues(control).Inc()

	if sess.State == domain.CallStateConnecting {
		sess.State = domain.CallStateStable
		now := time.Now()
		sess.ConnectedAt = &now
		snap := sess.Snapshot()
		s.emit(domain.EventCallStable, callID, actorID, correlationID, snap, sess.CallerID, sess.CalleeID)
		return &snap, nil
	}

	snap := sess.Snapshot()
	s.emit(domain.EventCallMedia, callID, actorID, correlationID, snap, sess.PeerOf(actorID))
	return &snap, nil
}

// HandleDisconnect is called by the presence registry when a user's
// connection drops. Ringing calls keep ringing until the timeout; calls
// in progress get a short grace window to absorb reconnects.
func (s *Service) HandleDisconnect(userID uuid.UUID) {
	// Drop and reconnect watchers carry no ordering; if the user already
	// rebound, this notification is stale and nothing needs arming.
	if s.sender.IsOnline(userID) {
		return
	}

	sess, ok := s.store.ActiveCallOf(userID)
	if !ok {
		return
	}

	sess.Mu.Lock()
	defer sess.Mu.Unlock()

	if sess.State != domain.CallStateConnecting && sess.State != domain.CallStateStable {
		return
	}
	if _, armed := sess.GraceTimers[userID]; armed {
		return
	}

	callID := sess.CallID
	sess.GraceTimers[userID] = time.AfterFunc(s.disconnectGrace, func() {
		s.graceExpired(callID, userID)
	})
	metrics.CallDisconnectGraceArmedTotal.Inc()

	logger.Info("call party disconnected, grace armed",
		zap.String("call_id", callID.String()),
		zap.String("user_id", userID.String()),
		zap.Duration("grace", s.disconnectGrace))
}

// HandleReconnect cancels a pending disconnect grace timer for userID
func (s *Service) HandleReconnect(userID uuid.UUID) {
	sess, ok := s.store.ActiveCallOf(userID)
	if !ok {
		return
	}

	sess.Mu.Lock()
	defer sess.Mu.Unlock()

	if t, armed := sess.GraceTimers[userID]; armed {
		stopTimer(t)
		delete(sess.GraceTimers, userID)
		metrics.CallDisconnectGraceCancelledTotal.Inc()
		logger.Info("call party reconnected, grace cancelled",
			zap.String("call_id", sess.CallID.String()),
			zap.String("user_id", userID.String()))
	}
}

// Shutdown ends every active call, recording completed outcomes
func (s *Service) Shutdown() {
	for _, sess := range s.store.Calls() {
		sess.Mu.Lock()
		if !sess.Terminal() {
			outcome := domain.CallOutcomeCompleted
			if sess.State == domain.CallStateRinging {
				outcome = domain.CallOutcomeMissed
			}
			s.terminateLocked(sess, outcome, uuid.Nil, "")
		}
		sess.Mu.Unlock()
	}
}

// ringingTimedOut fires when a call rang past the policy window
func (s *Service) ringingTimedOut(callID uuid.UUID) {
	sess, ok := s.store.GetCall(callID)
	if !ok {
		return
	}

	sess.Mu.Lock()
	defer sess.Mu.Unlock()

	if sess.State != domain.CallStateRinging {
		return
	}

	logger.Info("call ringing timed out", zap.String("call_id", callID.String()))
	s.terminateLocked(sess, domain.CallOutcomeMissed, uuid.Nil, "")
}

// graceExpired fires when a disconnected party did not return in time
func (s *Service) graceExpired(callID, userID uuid.UUID) {
	sess, ok := s.store.GetCall(callID)
	if !ok {
		return
	}

	sess.Mu.Lock()
	defer sess.Mu.Unlock()

	if _, armed := sess.GraceTimers[userID]; !armed || sess.Terminal() {
		return
	}
	delete(sess.GraceTimers, userID)

	// A reconnect may have raced past the cancel path; the registry is
	// authoritative, so an online party keeps the call alive.
	if s.sender.IsOnline(userID) {
		metrics.CallDisconnectGraceCancelledTotal.Inc()
		logger.Info("call party back before grace expired",
			zap.String("call_id", callID.String()),
			zap.String("user_id", userID.String()))
		return
	}

	logger.Info("call party gone past grace, ending call",
		zap.String("call_id", callID.String()),
		zap.String("user_id", userID.String()))
	s.terminateLocked(sess, domain.CallOutcomeCompleted, userID, "")
}

// terminateLocked applies the terminal transition. Caller holds the
// session lock. The in-memory session is gone before the durable write
// starts; persistence is fire-and-forget with retry and is never rolled
// back into live state.
func (s *Service) terminateLocked(sess *domain.CallSession, outcome domain.CallOutcome, actorID uuid.UUID, correlationID string) {
	now := time.Now()
	sess.State = domain.CallStateEnded
	sess.EndedAt = &now

	stopTimer(sess.RingTimer)
	sess.RingTimer = nil
	for id, t := range sess.GraceTimers {
		stopTimer(t)
		delete(sess.GraceTimers, id)
	}

	snap := sess.Snapshot()
	eventType := domain.EventCallEnded
	if outcome == domain.CallOutcomeRejected {
		eventType = domain.EventCallRejected
	}
	s.emit(eventType, sess.CallID, actorID, correlationID, snap, sess.CallerID, sess.CalleeID)

	s.store.RemoveCall(sess.CallID)
	metrics.CallsActive.Set(float64(s.store.CallCount()))
	metrics.CallsEndedTotal.WithLabelValues(string(sess.Kind), string(outcome)).Inc()
	if outcome == domain.CallOutcomeCompleted && sess.ConnectedAt != nil {
		metrics.CallDurationSeconds.WithLabelValues(string(sess.Kind)).Observe(sess.Duration().Seconds())
	}

	log := &domain.CallLog{
		CallID:    sess.CallID,
		CallerID:  sess.CallerID,
		CalleeID:  sess.CalleeID,
		Kind:      sess.Kind,
		Outcome:   outcome,
		Duration:  int(sess.Duration().Seconds()),
		StartedAt: sess.CreatedAt,
		EndedAt:   now,
	}

	if s.callLogs == nil {
		// Limited mode: no call log persistence
		return
	}

	go func() {
		err := s.writer.Execute(context.Background(), "append_call_log", func() error {
			ctx, cancel := context.WithTimeout(context.Background(), constants.SummaryWriteTimeout)
			defer cancel()
			return s.callLogs.Append(ctx, log)
		})
		if err != nil {
			logger.Error("call log write failed",
				zap.String("call_id", log.CallID.String()),
				zap.Error(err))
		}
	}()
}

// emit sends one event to each recipient. Callers hold the session lock,
// which is safe because delivery is a non-blocking buffered channel send;
// it also guarantees participants observe transitions in order.
func (s *Service) emit(eventType string, callID, actorID uuid.UUID, correlationID string, payload any, recipients ...uuid.UUID) {
	event := &domain.Event{
		Type:          eventType,
		SessionID:     callID,
		ActorID:       actorID,
		CorrelationID: correlationID,
		Payload:       payload,
		Timestamp:     time.Now(),
	}
	for _, id := range recipients {
		s.sender.Send(id, event)
	}
}

func stopTimer(t *time.Timer) {
	if t != nil {
		t.Stop()
	}
}
