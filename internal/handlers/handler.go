package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/mossy-p/call-signaling/config"
	"github.com/mossy-p/call-signaling/internal/middleware"
	"github.com/mossy-p/call-signaling/internal/relay"
	"github.com/mossy-p/call-signaling/internal/rooms"
)

// Handler serves the HTTP and WebSocket surface of the relay.
type Handler struct {
	cfg      *config.Config
	hub      *relay.Hub
	rooms    *rooms.Service
	logger   *zap.Logger
	upgrader websocket.Upgrader
}

func New(cfg *config.Config, hub *relay.Hub, roomSvc *rooms.Service, logger *zap.Logger) *Handler {
	return &Handler{
		cfg:    cfg,
		hub:    hub,
		rooms:  roomSvc,
		logger: logger.Named("http"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				// Origin checking is handled by middleware
				return true
			},
		},
	}
}

// NewRouter builds the gin engine with every route registered.
func (h *Handler) NewRouter() *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery(), h.requestLogger())

	// Global CORS middleware (runs before routing)
	router.Use(OriginFilter(h.cfg.AllowedOrigins))

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	auth := middleware.JWTAuth(h.cfg.JWTSecret)
	api := router.Group("/api")
	{
		api.POST("/auth/login", h.Login)

		api.GET("/rooms", h.ListLiveRooms)
		api.POST("/rooms", auth, h.CreateRoom)
		api.GET("/rooms/:roomId", h.GetRoom)
		api.DELETE("/rooms/:roomId", auth, h.DeleteRoom)
	}

	ws := router.Group("/ws")
	{
		// accepts a room code, a reserved room id or an ad-hoc id
		ws.GET("/signal", h.HandleSignaling)
		ws.GET("/signal/:roomId", h.HandleSignaling)
	}
	return router
}

func (h *Handler) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()
		h.logger.Debug("request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Int("status", c.Writer.Status()))
	}
}
