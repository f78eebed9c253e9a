package handler

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"marketplace-chat-api/internal/middleware"
	"marketplace-chat-api/internal/response"
	"marketplace-chat-api/internal/service"
)

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 200
)

// MessageHandler serves the message REST surface
type MessageHandler struct {
	msgSvc service.MessageService
	logger *zap.Logger
}

func NewMessageHandler(msgSvc service.MessageService, logger *zap.Logger) *MessageHandler {
	return &MessageHandler{msgSvc: msgSvc, logger: logger}
}

// History returns a page of the conversation's messages in chronological
// order.
func (h *MessageHandler) History(c *gin.Context) {
	userID, conversationID, ok := h.pathIDs(c)
	if !ok {
		return
	}

	limit := queryInt(c, "limit", defaultHistoryLimit)
	if limit <= 0 || limit > maxHistoryLimit {
		limit = defaultHistoryLimit
	}
	offset := queryInt(c, "offset", 0)
	if offset < 0 {
		offset = 0
	}

	messages, err := h.msgSvc.History(c.Request.Context(), userID, conversationID, limit, offset)
	if err != nil {
		handleServiceError(c, err)
		return
	}
	response.SendSuccess(c, http.StatusOK, gin.H{
		"messages": messages,
		"limit":    limit,
		"offset":   offset,
	})
}

// UnreadCount returns the caller's unread message count for the conversation.
func (h *MessageHandler) UnreadCount(c *gin.Context) {
	userID, conversationID, ok := h.pathIDs(c)
	if !ok {
		return
	}

	count, err := h.msgSvc.UnreadCount(c.Request.Context(), userID, conversationID)
	if err != nil {
		handleServiceError(c, err)
		return
	}
	response.SendSuccess(c, http.StatusOK, gin.H{"unreadCount": count})
}

func (h *MessageHandler) pathIDs(c *gin.Context) (uuid.UUID, uuid.UUID, bool) {
	userID, ok := middleware.UserID(c)
	if !ok {
		response.SendError(c, http.StatusUnauthorized, response.ErrCodeUnauthorized, "Authentication required")
		return uuid.Nil, uuid.Nil, false
	}
	conversationID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.SendError(c, http.StatusBadRequest, response.ErrCodeValidation, "Invalid conversation id")
		return uuid.Nil, uuid.Nil, false
	}
	return userID, conversationID, true
}

func queryInt(c *gin.Context, key string, fallback int) int {
	raw := c.Query(key)
	if raw == "" {
		return fallback
	}
	val, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return val
}
