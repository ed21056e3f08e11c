package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/mossy-p/call-signaling/internal/metrics"
	"github.com/mossy-p/call-signaling/internal/middleware"
	"github.com/mossy-p/call-signaling/internal/rooms"
)

// HandleSignaling upgrades to a signaling socket for ?userId= in the room
// named by the path, ?roomId= or ?conversationId=.
func (h *Handler) HandleSignaling(c *gin.Context) {
	roomIdentifier := firstNonEmpty(c.Param("roomId"), c.Query("roomId"), c.Query("conversationId"))
	if roomIdentifier == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "roomId is required"})
		return
	}

	userID, status, err := h.authenticate(c)
	if err != nil {
		metrics.JoinsRejectedTotal.WithLabelValues("auth").Inc()
		c.JSON(status, gin.H{"error": err.Error()})
		return
	}
	if userID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "userId is required"})
		return
	}

	admission, err := h.rooms.Admit(c.Request.Context(), roomIdentifier, userID)
	if errors.Is(err, rooms.ErrFull) {
		metrics.JoinsRejectedTotal.WithLabelValues("room_full").Inc()
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}
	if err != nil {
		h.logger.Error("admit", zap.String("room", roomIdentifier), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to resolve room"})
		return
	}

	// Upgrade HTTP connection to WebSocket
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("failed to upgrade connection", zap.Error(err))
		return
	}

	if err := h.hub.Serve(conn, admission.RoomID, userID, admission.MaxParticipants); err != nil {
		metrics.JoinsRejectedTotal.WithLabelValues("hub").Inc()
		h.logger.Info("join refused",
			zap.String("room", admission.RoomID),
			zap.String("user", userID),
			zap.Error(err))
	}
}

// authenticate resolves the caller's user id. A token, when present, must
// agree with ?userId=; AUTH_REQUIRED makes the token mandatory.
func (h *Handler) authenticate(c *gin.Context) (string, int, error) {
	userID := c.Query("userId")

	token := c.Query("token")
	if token == "" {
		token = strings.TrimPrefix(c.GetHeader("Authorization"), "Bearer ")
	}
	if token == "" {
		if h.cfg.AuthRequired {
			return "", http.StatusUnauthorized, errors.New("token required")
		}
		return userID, 0, nil
	}

	claims, err := middleware.ParseToken(h.cfg.JWTSecret, token)
	if err != nil {
		return "", http.StatusUnauthorized, errors.New("invalid token")
	}
	if userID != "" && userID != claims.UserID {
		return "", http.StatusForbidden, errors.New("token does not match userId")
	}
	return claims.UserID, 0, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
