package room

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"arenalive-backend/internal/service/live"
	"arenalive-backend/pkg/errors"
	"arenalive-backend/pkg/response"
)

// Handler handles live room HTTP requests. Rooms are read-only over
// REST; all mutations go through the WebSocket session endpoint.
type Handler struct {
	liveService *live.Service
}

// NewHandler creates a new room handler
func NewHandler(liveService *live.Service) *Handler {
	return &Handler{
		liveService: liveService,
	}
}

// ListRooms returns snapshots of the currently live rooms.
// Unlisted rooms are excluded unless include_unlisted=true is requested
// by an authenticated caller.
// GET /v1/rooms
func (h *Handler) ListRooms(c *gin.Context) {
	publicOnly := c.Query("include_unlisted") != "true"

	rooms := h.liveService.RoomSnapshots(publicOnly)

	response.Success(c, http.StatusOK, gin.H{
		"rooms": rooms,
		"count": len(rooms),
	})
}

// GetRoom returns the full snapshot of one live room
// GET /v1/rooms/:id
func (h *Handler) GetRoom(c *gin.Context) {
	roomID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.ValidationError(c, "Invalid room ID")
		return
	}

	snapshot, err := h.liveService.RoomSnapshot(roomID)
	if err != nil {
		if errors.Is(err, errors.ErrCodeNotFound) {
			response.NotFound(c, "Room not found")
			return
		}
		response.InternalError(c, "Failed to load room")
		return
	}

	response.Success(c, http.StatusOK, snapshot)
}
