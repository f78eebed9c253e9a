package ws

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"marketplace-chat-api/internal/middleware"
)

var upgrader = websocket.Upgrader{
	CheckOrigin:     func(r *http.Request) bool { return true },
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

// Handler upgrades authenticated HTTP requests to websocket connections.
type Handler struct {
	hub        *Hub
	dispatcher *Dispatcher
	validator  middleware.TokenValidator
	logger     *zap.Logger
}

func NewHandler(hub *Hub, dispatcher *Dispatcher, validator middleware.TokenValidator, logger *zap.Logger) *Handler {
	return &Handler{
		hub:        hub,
		dispatcher: dispatcher,
		validator:  validator,
		logger:     logger,
	}
}

// HandleWebSocket authenticates via the token query parameter, upgrades the
// connection and starts the pumps. Browsers cannot set headers on websocket
// upgrades, hence the query token.
func (h *Handler) HandleWebSocket(c *gin.Context) {
	token := c.Query("token")
	if token == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Missing token"})
		return
	}

	userID, err := h.validator.ValidateToken(c.Request.Context(), token)
	if err != nil {
		h.logger.Warn("websocket auth failed", zap.Error(err))
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid token"})
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Error("websocket upgrade failed", zap.Error(err))
		return
	}

	client := NewClient(userID, conn, h.hub, h.dispatcher.Handle, h.logger)
	h.hub.Register(client)

	go client.WritePump()
	go client.ReadPump()
}
