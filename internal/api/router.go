package api

import (
	"database/sql"
	"net/http"

	"github.com/bhandras/huddle/internal/api/handlers"
	"github.com/bhandras/huddle/internal/api/middleware"
	"github.com/bhandras/huddle/internal/crypto"
	"github.com/bhandras/huddle/internal/models"
	"github.com/bhandras/huddle/internal/realtime"
	"github.com/bhandras/huddle/internal/websocket"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// RouterConfig holds everything the HTTP surface is built from.
type RouterConfig struct {
	DB       *sql.DB
	Hub      *realtime.Hub
	Verifier crypto.Verifier
	// SocketIO is mounted at /v1/updates when set.
	SocketIO       *websocket.SocketIOServer
	AllowedOrigins []string
}

// NewRouter builds the Gin engine serving the REST API, health and metrics
// endpoints and the Socket.IO endpoint.
func NewRouter(cfg RouterConfig) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())

	corsConfig := cors.Config{
		AllowMethods:  []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:  []string{"Authorization", "Content-Type", handlers.IdempotencyKeyHeader},
		ExposeHeaders: []string{"Content-Length"},
	}
	if allowAllOrigins(cfg.AllowedOrigins) {
		corsConfig.AllowAllOrigins = true
	} else {
		corsConfig.AllowOrigins = cfg.AllowedOrigins
		corsConfig.AllowCredentials = true
	}
	router.Use(cors.New(corsConfig))
	router.Use(middleware.LoggingMiddleware())

	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	queries := models.New(cfg.DB)
	roomHandler := handlers.NewRoomHandler(cfg.DB, cfg.Hub)
	messageHandler := handlers.NewMessageHandler(queries, cfg.Hub)
	userHandler := handlers.NewUserHandler(queries, cfg.Hub)

	// Protected routes (auth required)
	protected := router.Group("/v1")
	protected.Use(middleware.AuthMiddleware(cfg.Verifier, cfg.Hub))
	{
		// Rooms
		protected.GET("/rooms", roomHandler.ListRooms)
		protected.POST("/rooms", roomHandler.CreateRoom)
		protected.GET("/rooms/public", roomHandler.ListPublicRooms)
		protected.GET("/rooms/:id", roomHandler.GetRoom)
		protected.POST("/rooms/:id/join", roomHandler.JoinRoom)
		protected.POST("/rooms/:id/leave", roomHandler.LeaveRoom)

		// Messages
		protected.GET("/rooms/:id/messages", messageHandler.ListMessages)
		protected.POST("/rooms/:id/messages", messageHandler.SendMessage)
		protected.PUT("/messages/:id", messageHandler.EditMessage)
		protected.DELETE("/messages/:id", messageHandler.DeleteMessage)
		protected.POST("/messages/:id/reactions", messageHandler.AddReaction)
		protected.DELETE("/messages/:id/reactions", messageHandler.RemoveReaction)

		// Users
		protected.GET("/users/online", userHandler.ListOnline)
	}

	// Socket.IO authenticates at handshake, not through the middleware.
	if cfg.SocketIO != nil {
		router.Any(websocket.SocketIOPath, cfg.SocketIO.HandleSocketIO())
		router.Any(websocket.SocketIOPath+"/*any", cfg.SocketIO.HandleSocketIO())
	}

	return router
}

func allowAllOrigins(origins []string) bool {
	if len(origins) == 0 {
		return true
	}
	for _, o := range origins {
		if o == "*" {
			return true
		}
	}
	return false
}
