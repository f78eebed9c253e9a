package handler

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"marketplace-chat-api/internal/middleware"
	"marketplace-chat-api/internal/response"
	"marketplace-chat-api/internal/service"
)

// ConversationHandler serves the conversation REST surface
type ConversationHandler struct {
	convSvc service.ConversationService
	negoSvc service.NegotiationService
	logger  *zap.Logger
}

func NewConversationHandler(convSvc service.ConversationService, negoSvc service.NegotiationService, logger *zap.Logger) *ConversationHandler {
	return &ConversationHandler{
		convSvc: convSvc,
		negoSvc: negoSvc,
		logger:  logger,
	}
}

// Start opens the conversation with another user, returning the existing one
// on repeat contact.
func (h *ConversationHandler) Start(c *gin.Context) {
	userID, ok := middleware.UserID(c)
	if !ok {
		response.SendError(c, http.StatusUnauthorized, response.ErrCodeUnauthorized, "Authentication required")
		return
	}

	var req StartConversationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.SendError(c, http.StatusBadRequest, response.ErrCodeValidation, "Invalid request body")
		return
	}

	conversation, created, err := h.convSvc.Start(c.Request.Context(), userID, req.OtherUserID, req.JobListingID)
	if err != nil {
		handleServiceError(c, err)
		return
	}

	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	response.SendSuccess(c, status, conversation)
}

// My lists the caller's visible conversations with unread counts.
func (h *ConversationHandler) My(c *gin.Context) {
	userID, ok := middleware.UserID(c)
	if !ok {
		response.SendError(c, http.StatusUnauthorized, response.ErrCodeUnauthorized, "Authentication required")
		return
	}

	views, err := h.convSvc.ListForUser(c.Request.Context(), userID)
	if err != nil {
		handleServiceError(c, err)
		return
	}
	response.SendSuccess(c, http.StatusOK, views)
}

// Get loads a single conversation.
func (h *ConversationHandler) Get(c *gin.Context) {
	userID, conversationID, ok := h.pathIDs(c)
	if !ok {
		return
	}

	conversation, err := h.convSvc.Get(c.Request.Context(), conversationID, userID)
	if err != nil {
		handleServiceError(c, err)
		return
	}
	response.SendSuccess(c, http.StatusOK, conversation)
}

// Archive moves the conversation out of the caller's active list.
func (h *ConversationHandler) Archive(c *gin.Context) {
	userID, conversationID, ok := h.pathIDs(c)
	if !ok {
		return
	}
	if err := h.convSvc.Archive(c.Request.Context(), conversationID, userID); err != nil {
		handleServiceError(c, err)
		return
	}
	response.SendSuccess(c, http.StatusOK, gin.H{"archived": true})
}

// Unarchive restores the conversation to the caller's active list.
func (h *ConversationHandler) Unarchive(c *gin.Context) {
	userID, conversationID, ok := h.pathIDs(c)
	if !ok {
		return
	}
	if err := h.convSvc.Unarchive(c.Request.Context(), conversationID, userID); err != nil {
		handleServiceError(c, err)
		return
	}
	response.SendSuccess(c, http.StatusOK, gin.H{"archived": false})
}

// Delete hides the conversation from the caller's view only.
func (h *ConversationHandler) Delete(c *gin.Context) {
	userID, conversationID, ok := h.pathIDs(c)
	if !ok {
		return
	}
	if err := h.convSvc.Hide(c.Request.Context(), conversationID, userID); err != nil {
		handleServiceError(c, err)
		return
	}
	response.SendSuccess(c, http.StatusOK, gin.H{"deleted": true})
}

// EnableAutoClose arms the auto-close timer on the conversation.
func (h *ConversationHandler) EnableAutoClose(c *gin.Context) {
	userID, conversationID, ok := h.pathIDs(c)
	if !ok {
		return
	}

	var req AutoCloseRequest
	if err := c.ShouldBindJSON(&req); err != nil && err.Error() != "EOF" {
		response.SendError(c, http.StatusBadRequest, response.ErrCodeValidation, "Invalid request body")
		return
	}

	conversation, err := h.negoSvc.EnableAutoClose(c.Request.Context(), userID, conversationID,
		time.Duration(req.AfterHours)*time.Hour, req.Reason)
	if err != nil {
		handleServiceError(c, err)
		return
	}
	response.SendSuccess(c, http.StatusOK, conversation)
}

// DelayAutoClose pushes the armed deadline further out.
func (h *ConversationHandler) DelayAutoClose(c *gin.Context) {
	userID, conversationID, ok := h.pathIDs(c)
	if !ok {
		return
	}

	var req DelayAutoCloseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.SendError(c, http.StatusBadRequest, response.ErrCodeValidation, "Invalid request body")
		return
	}

	conversation, err := h.negoSvc.DelayAutoClose(c.Request.Context(), userID, conversationID,
		time.Duration(req.ByHours)*time.Hour)
	if err != nil {
		handleServiceError(c, err)
		return
	}
	response.SendSuccess(c, http.StatusOK, conversation)
}

func (h *ConversationHandler) pathIDs(c *gin.Context) (uuid.UUID, uuid.UUID, bool) {
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
