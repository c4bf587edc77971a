package ws

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"arenalive-backend/internal/domain"
	"arenalive-backend/pkg/constants"
	"arenalive-backend/pkg/logger"
)

const sendBufferSize = 256

// Client represents one authenticated WebSocket connection
type Client struct {
	hub    *Hub
	conn   *websocket.Conn
	send   chan []byte
	userID uuid.UUID
	ctx    context.Context
	cancel context.CancelFunc
}

// TrySend queues an outbound event without blocking. A full buffer
// reports an error instead of stalling the engine that emitted it.
func (c *Client) TrySend(event *domain.Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}

	select {
	case <-c.ctx.Done():
		return context.Canceled
	case c.send <- data:
		if c.hub.metrics != nil {
			c.hub.metrics.RecordWebSocketMessage(event.Type, "outbound")
		}
		return nil
	default:
		if c.hub.metrics != nil {
			c.hub.metrics.RecordWebSocketError("send_buffer_full")
		}
		return ErrSendBufferFull
	}
}

// readPump reads messages from WebSocket
func (c *Client) readPump() {
	defer func() {
		c.cancel()
		c.hub.release(c)
		c.conn.Close()
	}()

	c.conn.SetReadDeadline(time.Now().Add(constants.WebSocketPingInterval * 2))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(constants.WebSocketPingInterval * 2))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				logger.Debug("WebSocket connection closed",
					zap.String("user_id", c.userID.String()),
					zap.Error(err))
			}
			break
		}

		var msg ClientMessage
		if err := json.Unmarshal(message, &msg); err != nil {
			logger.Warn("Invalid message format from WebSocket",
				zap.String("user_id", c.userID.String()),
				zap.Error(err))
			c.sendErrorAck("", "INVALID_INPUT", "Malformed message")
			continue
		}

		if c.hub.metrics != nil {
			c.hub.metrics.RecordWebSocketMessage(msg.Op, "inbound")
		}

		c.hub.dispatch(c, &msg)
	}
}

// writePump writes messages to WebSocket
func (c *Client) writePump() {
	ticker := time.NewTicker(constants.WebSocketPingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case <-c.ctx.Done():
			c.conn.SetWriteDeadline(time.Now().Add(constants.WebSocketWriteTimeout))
			c.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return

		case message := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(constants.WebSocketWriteTimeout))
			w, err := c.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			w.Write(message)

			if err := w.Close(); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(constants.WebSocketWriteTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

			// Piggyback the presence TTL refresh on the ping cadence
			if c.hub.mirror != nil {
				if err := c.hub.mirror.RefreshPresence(c.ctx, c.userID); err != nil {
					logger.Debug("presence refresh failed",
						zap.String("user_id", c.userID.String()),
						zap.Error(err))
				}
			}
		}
	}
}

// sendErrorAck reports a failed operation back to this client only
func (c *Client) sendErrorAck(correlationID, code, message string) {
	event := &domain.Event{
		Type:          domain.EventErrorAck,
		ActorID:       c.userID,
		CorrelationID: correlationID,
		Payload:       ErrorAck{Code: code, Message: message},
		Timestamp:     time.Now(),
	}
	if err := c.TrySend(event); err != nil {
		logger.Warn("error ack dropped",
			zap.String("user_id", c.userID.String()),
			zap.String("code", code))
	}
}
