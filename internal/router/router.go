package router

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"marketplace-chat-api/internal/client"
	"marketplace-chat-api/internal/config"
	"marketplace-chat-api/internal/handler"
	"marketplace-chat-api/internal/metrics"
	"marketplace-chat-api/internal/middleware"
	"marketplace-chat-api/internal/repository"
	"marketplace-chat-api/internal/service"
	"marketplace-chat-api/internal/ws"
)

// Setup wires repositories, services, the websocket hub and all routes.
// It returns the engine and the hub so the caller can schedule the idle
// sweeper against it.
func Setup(cfg *config.Config, db *gorm.DB, m *metrics.Metrics, logger *zap.Logger) (*gin.Engine, *ws.Hub) {
	if cfg.Server.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()

	r.Use(middleware.Recovery(logger))
	r.Use(middleware.Logger(logger))
	r.Use(middleware.CORS("*"))
	r.Use(middleware.Metrics(m))

	// Repositories
	convRepo := repository.NewConversationRepository(db)
	msgRepo := repository.NewMessageRepository(db)

	// Collaborator clients
	var notifier client.NotificationClient
	if cfg.Notification.ServiceURL != "" {
		notifier = client.NewNotificationClient(cfg.Notification.ServiceURL, cfg.Notification.APIKey,
			cfg.Notification.Timeout, logger, m)
	} else {
		notifier = client.NewNoOpNotificationClient()
	}

	// Hub and services. The hub is the services' broadcaster; the dispatcher
	// closes the loop by routing inbound events back into the services.
	registry := ws.NewPresenceRegistry()
	hub := ws.NewHub(registry, logger, m, cfg.Chat.IdleThreshold)

	convSvc := service.NewConversationService(convRepo, msgRepo, hub, notifier, m, logger)
	msgSvc := service.NewMessageService(convRepo, msgRepo, hub, notifier, m, logger, cfg.Chat.EditWindow)
	negoSvc := service.NewNegotiationService(convRepo, msgRepo, hub, notifier, m, logger,
		cfg.Chat.NegotiationExpiry, cfg.Chat.AutoCloseDefault)

	dispatcher := ws.NewDispatcher(hub, convSvc, msgSvc, negoSvc, m, logger)

	// Auth
	validator := middleware.NewJWTValidator(cfg.Auth.SecretKey, logger)

	// Handlers
	wsHandler := ws.NewHandler(hub, dispatcher, validator, logger)
	convHandler := handler.NewConversationHandler(convSvc, negoSvc, logger)
	msgHandler := handler.NewMessageHandler(msgSvc, logger)
	healthHandler := handler.NewHealthHandler()

	// Health endpoints (no auth)
	r.GET("/health", healthHandler.Health)
	r.GET("/ready", healthHandler.Ready)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// API routes with base path
	api := r.Group(cfg.Server.BasePath)
	{
		api.GET("/health", healthHandler.Health)
		api.GET("/ready", healthHandler.Ready)

		// WebSocket endpoint, token passed as query parameter
		api.GET("/ws", wsHandler.HandleWebSocket)

		authenticated := api.Group("")
		authenticated.Use(middleware.AuthMiddleware(validator))
		{
			authenticated.POST("", convHandler.Start)
			authenticated.GET("/my", convHandler.My)
			authenticated.GET("/:id", convHandler.Get)
			authenticated.DELETE("/:id", convHandler.Delete)
			authenticated.POST("/:id/archive", convHandler.Archive)
			authenticated.POST("/:id/unarchive", convHandler.Unarchive)
			authenticated.POST("/:id/auto-close", convHandler.EnableAutoClose)
			authenticated.POST("/:id/auto-close/delay", convHandler.DelayAutoClose)

			authenticated.GET("/:id/messages", msgHandler.History)
			authenticated.GET("/:id/unread-count", msgHandler.UnreadCount)
		}
	}

	return r, hub
}
