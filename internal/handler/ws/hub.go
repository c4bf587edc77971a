package ws

import (
	"context"
	"net/http"
	"os"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"arenalive-backend/internal/presence"
	"arenalive-backend/internal/service/call"
	"arenalive-backend/internal/service/live"
	"arenalive-backend/pkg/logger"
	"arenalive-backend/pkg/metrics"
)

// PresenceMirror is the optional Redis-backed presence view kept for
// sibling services. All calls are best-effort; the in-process registry
// stays authoritative when Redis is degraded.
type PresenceMirror interface {
	SetUserOnline(ctx context.Context, userID uuid.UUID) error
	SetUserOffline(ctx context.Context, userID uuid.UUID) error
	RefreshPresence(ctx context.Context, userID uuid.UUID) error
}

// GetAllowedOrigins returns allowed WebSocket origins from environment or defaults
func GetAllowedOrigins() map[string]bool {
	allowedOrigins := map[string]bool{
		"http://localhost:3000": true,
		"http://localhost:5173": true,
		"http://127.0.0.1:3000": true,
		"http://127.0.0.1:5173": true,
	}

	// Add production origins from environment if set
	if origins := os.Getenv("CORS_ALLOWED_ORIGINS"); origins != "" {
		// Parse comma-separated origins
		for _, origin := range strings.Split(origins, ",") {
			allowedOrigins[strings.TrimSpace(origin)] = true
		}
	}

	return allowedOrigins
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			// Reject empty origins - require explicit origin for security
			return false
		}

		allowedOrigins := GetAllowedOrigins()
		for allowed := range allowedOrigins {
			if origin == allowed {
				return true
			}
		}
		return false
	},
}

// Hub accepts client connections and routes inbound operations to the
// call and live engines. Outbound delivery goes through the presence
// registry; the hub itself holds no per-session state.
type Hub struct {
	registry *presence.Registry
	calls    *call.Service
	live     *live.Service
	mirror   PresenceMirror
	metrics  *metrics.Metrics

	// Concurrency limit: maxConnections is the maximum number of concurrent WebSocket connections
	maxConnections int
	// Semaphore for limiting concurrent connections
	semaphore chan struct{}
}

// NewHub creates a hub wired to both engines
func NewHub(registry *presence.Registry, calls *call.Service, liveSvc *live.Service, mirror PresenceMirror, m *metrics.Metrics) *Hub {
	// Default max connections: 10000 (configurable via environment if needed)
	maxConns := 10000
	if val := os.Getenv("WS_MAX_CONNECTIONS"); val != "" {
		if n, err := strconv.Atoi(val); err == nil && n > 0 {
			maxConns = n
		}
	}

	return &Hub{
		registry:       registry,
		calls:          calls,
		live:           liveSvc,
		mirror:         mirror,
		metrics:        m,
		maxConnections: maxConns,
		semaphore:      make(chan struct{}, maxConns),
	}
}

// ServeWS handles WebSocket upgrade requests on the session endpoint
func (h *Hub) ServeWS(c *gin.Context) {
	// Acquire semaphore to limit concurrent connections
	select {
	case h.semaphore <- struct{}{}:
	default:
		// No available slots, reject connection
		logger.Warn("WebSocket connection rejected: max connections reached",
			zap.Int("max_connections", h.maxConnections))
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Server at capacity, please try again later"})
		return
	}

	// Get user ID from context (set by auth middleware)
	userIDVal, exists := c.Get("user_id")
	if !exists {
		<-h.semaphore
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	userID, ok := userIDVal.(uuid.UUID)
	if !ok {
		<-h.semaphore
		c.JSON(http.StatusInternalServerError, gin.H{"error": "invalid user_id"})
		return
	}

	// Upgrade to WebSocket
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		<-h.semaphore
		logger.Warn("WebSocket upgrade failed",
			zap.String("user_id", userID.String()),
			zap.Error(err))
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	client := &Client{
		hub:    h,
		conn:   conn,
		send:   make(chan []byte, sendBufferSize),
		userID: userID,
		ctx:    ctx,
		cancel: cancel,
	}

	// Bind replaces any previous connection for this user; the registry
	// fires reconnect watchers, which cancel pending grace timers.
	h.registry.Bind(userID, client)

	if h.mirror != nil {
		if err := h.mirror.SetUserOnline(ctx, userID); err != nil {
			logger.Warn("presence mirror update failed",
				zap.String("user_id", userID.String()),
				zap.Error(err))
		}
	}

	if h.metrics != nil {
		h.metrics.SetWebSocketConnections(h.registry.Count())
	}

	logger.Info("WebSocket client connected",
		zap.String("user_id", userID.String()),
		zap.Int("connections", h.registry.Count()))

	go client.writePump()
	go client.readPump()
}

// release runs once per connection when its readPump exits
func (h *Hub) release(c *Client) {
	// Unbind is a no-op if a newer connection already replaced this one,
	// so a slow close cannot knock a fresh reconnect offline.
	h.registry.Unbind(c.userID, c)

	if h.mirror != nil && !h.registry.IsOnline(c.userID) {
		if err := h.mirror.SetUserOffline(context.Background(), c.userID); err != nil {
			logger.Warn("presence mirror update failed",
				zap.String("user_id", c.userID.String()),
				zap.Error(err))
		}
	}

	if h.metrics != nil {
		h.metrics.SetWebSocketConnections(h.registry.Count())
	}

	<-h.semaphore
}
