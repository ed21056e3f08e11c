package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/mossy-p/call-signaling/internal/middleware"
	"github.com/mossy-p/call-signaling/internal/models"
	"github.com/mossy-p/call-signaling/internal/rooms"
)

// CreateRoom reserves a room for the authenticated user
func (h *Handler) CreateRoom(c *gin.Context) {
	userID := c.GetString(middleware.ContextUserID)
	if userID == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "User not authenticated"})
		return
	}

	var req models.CreateRoomRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}
	if req.MaxParticipants > h.cfg.Signaling.MaxRoomParticipants {
		c.JSON(http.StatusBadRequest, gin.H{"error": "maxParticipants exceeds server limit"})
		return
	}

	room, err := h.rooms.Reserve(c.Request.Context(), userID, req.MaxParticipants)
	if err != nil {
		h.logger.Error("reserve room", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create room"})
		return
	}

	c.JSON(http.StatusCreated, models.CreateRoomResponse{RoomID: room.ID, Code: room.Code})
}

// GetRoom returns a reservation by code or id (public)
func (h *Handler) GetRoom(c *gin.Context) {
	room, err := h.rooms.Lookup(c.Request.Context(), c.Param("roomId"))
	if err != nil {
		h.roomError(c, err)
		return
	}
	c.JSON(http.StatusOK, room)
}

// DeleteRoom drops a reservation and disconnects anyone still in it
func (h *Handler) DeleteRoom(c *gin.Context) {
	userID := c.GetString(middleware.ContextUserID)
	if userID == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "User not authenticated"})
		return
	}

	room, err := h.rooms.Delete(c.Request.Context(), c.Param("roomId"), userID)
	if err != nil {
		h.roomError(c, err)
		return
	}
	h.hub.CloseRoom(room.ID)

	c.JSON(http.StatusOK, gin.H{"message": "Room deleted"})
}

// ListLiveRooms reports the rooms connected to this instance.
func (h *Handler) ListLiveRooms(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"rooms": h.hub.Snapshot()})
}

func (h *Handler) roomError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, rooms.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "Room not found"})
	case errors.Is(err, rooms.ErrForbidden):
		c.JSON(http.StatusForbidden, gin.H{"error": "Only the room creator can delete the room"})
	default:
		h.logger.Error("room lookup", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to read room"})
	}
}
