package ws

import (
	"errors"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"arenalive-backend/internal/domain"
	"arenalive-backend/internal/service/live"
	apperrors "arenalive-backend/pkg/errors"
	"arenalive-backend/pkg/logger"
)

// ErrSendBufferFull is reported when a client's outbound buffer is saturated
var ErrSendBufferFull = errors.New("send buffer full")

// Inbound operation names
const (
	OpCallInvite = "call_invite"
	OpCallAccept = "call_accept"
	OpCallReject = "call_reject"
	OpCallEnd    = "call_end"
	OpCallMedia  = "call_media"

	OpRoomStart   = "room_start"
	OpJoinSeat    = "join_seat"
	OpLeaveSeat   = "leave_seat"
	OpJoinViewer  = "join_viewer"
	OpLeaveViewer = "leave_viewer"
	OpReact       = "react"
	OpRoomEnd     = "room_end"
)

// ClientMessage is the inbound envelope. The acting user is always the
// authenticated connection owner; any sender field in the payload is
// ignored.
type ClientMessage struct {
	Op            string    `json:"op"`
	SessionID     uuid.UUID `json:"session_id,omitempty"`
	CorrelationID string    `json:"correlation_id,omitempty"`

	// Call fields
	TargetID uuid.UUID `json:"target_id,omitempty"`
	CallKind string    `json:"call_kind,omitempty"`
	Control  string    `json:"control,omitempty"`
	Enabled  bool      `json:"enabled,omitempty"`
	Facing   string    `json:"facing,omitempty"`

	// Live room fields
	RoomKind     string    `json:"room_kind,omitempty"`
	SourceType   string    `json:"source_type,omitempty"`
	SourceID     uuid.UUID `json:"source_id,omitempty"`
	Capacity     int       `json:"capacity,omitempty"`
	Unlisted     bool      `json:"unlisted,omitempty"`
	Position     *int      `json:"position,omitempty"`
	ReactionType string    `json:"reaction_type,omitempty"`
}

// ErrorAck is the payload of an error_ack event
type ErrorAck struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// dispatch routes one inbound operation to the owning engine. Failures
// are acknowledged to the sender only; successful mutations reach every
// affected participant through the engines' own event emission.
func (h *Hub) dispatch(c *Client, msg *ClientMessage) {
	var err error

	switch msg.Op {
	case OpCallInvite:
		_, err = h.calls.Invite(c.ctx, c.userID, msg.TargetID, domain.CallKind(msg.CallKind), msg.CorrelationID)

	case OpCallAccept:
		_, err = h.calls.Accept(c.ctx, msg.SessionID, c.userID, msg.CorrelationID)

	case OpCallReject:
		err = h.calls.Reject(c.ctx, msg.SessionID, c.userID, msg.CorrelationID)

	case OpCallEnd:
		err = h.calls.End(c.ctx, msg.SessionID, c.userID, msg.CorrelationID)

	case OpCallMedia:
		_, err = h.calls.MediaControl(c.ctx, msg.SessionID, c.userID, msg.Control, msg.Enabled, msg.Facing, msg.CorrelationID)

	case OpRoomStart:
		_, err = h.live.Start(c.ctx, &live.StartInput{
			HostID:     c.userID,
			Kind:       domain.RoomKind(msg.RoomKind),
			SourceType: domain.SourceType(msg.SourceType),
			SourceID:   msg.SourceID,
			Capacity:   msg.Capacity,
			Unlisted:   msg.Unlisted,
		}, msg.CorrelationID)

	case OpJoinSeat:
		// Absent position means "any empty seat"
		position := -1
		if msg.Position != nil {
			position = *msg.Position
		}
		_, err = h.live.JoinSeat(c.ctx, msg.SessionID, c.userID, position, msg.CorrelationID)

	case OpLeaveSeat:
		_, err = h.live.LeaveSeat(c.ctx, msg.SessionID, c.userID, msg.CorrelationID)

	case OpJoinViewer:
		_, err = h.live.JoinViewer(c.ctx, msg.SessionID, c.userID, msg.CorrelationID)

	case OpLeaveViewer:
		_, err = h.live.LeaveViewer(c.ctx, msg.SessionID, c.userID, msg.CorrelationID)

	case OpReact:
		_, err = h.live.React(c.ctx, msg.SessionID, c.userID, msg.ReactionType, msg.CorrelationID)

	case OpRoomEnd:
		err = h.live.End(c.ctx, msg.SessionID, c.userID, msg.CorrelationID)

	default:
		c.sendErrorAck(msg.CorrelationID, string(apperrors.ErrCodeInvalidInput), "Unknown operation: "+msg.Op)
		return
	}

	if err != nil {
		appErr := apperrors.GetAppError(err)
		logger.Debug("operation rejected",
			zap.String("op", msg.Op),
			zap.String("user_id", c.userID.String()),
			zap.String("code", string(appErr.Code)))
		c.sendErrorAck(msg.CorrelationID, string(appErr.Code), appErr.Message)
	}
}
