package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"marketplace-chat-api/internal/client"
	"marketplace-chat-api/internal/domain"
	"marketplace-chat-api/internal/metrics"
	"marketplace-chat-api/internal/repository"
	"marketplace-chat-api/internal/response"
)

const messagePreviewLength = 100

// SendMessageInput carries everything needed to persist and fan out a message
type SendMessageInput struct {
	ConversationID uuid.UUID
	Content        string
	Type           domain.MessageType
	FileURL        *string
	FileName       *string
	FileSize       *int64
	ReplyTo        *uuid.UUID
}

// MessageService handles the persist-then-fan-out pipeline plus all
// message-level mutations.
type MessageService interface {
	// Send validates, persists and broadcasts a message. The sender's
	// connection is excluded from the room broadcast; the caller is expected
	// to acknowledge delivery on that connection.
	Send(ctx context.Context, senderID uuid.UUID, connID string, in SendMessageInput) (*domain.Message, error)
	// MarkRead adds read receipts for the given messages, or for every unread
	// received message when messageIDs is empty. Returns the ids actually
	// marked. Re-reads are no-ops.
	MarkRead(ctx context.Context, userID, conversationID uuid.UUID, messageIDs []uuid.UUID) ([]uuid.UUID, error)
	// React sets the user's reaction, replacing any previous one.
	React(ctx context.Context, userID, messageID uuid.UUID, emoji string) (*domain.Message, error)
	// Unreact removes the user's reaction if present.
	Unreact(ctx context.Context, userID, messageID uuid.UUID) (*domain.Message, error)
	// Edit replaces the content of the sender's own text message within the
	// edit window, preserving the prior version.
	Edit(ctx context.Context, userID, messageID uuid.UUID, content string) (*domain.Message, error)
	// SoftDelete hides a message's content while keeping its row.
	SoftDelete(ctx context.Context, userID, messageID uuid.UUID) (*domain.Message, error)
	// History returns a page of messages in chronological order with deleted
	// content masked.
	History(ctx context.Context, userID, conversationID uuid.UUID, limit, offset int) ([]domain.Message, error)
	// UnreadCount counts received messages without the user's read receipt.
	UnreadCount(ctx context.Context, userID, conversationID uuid.UUID) (int, error)
}

type messageService struct {
	convRepo    repository.ConversationRepository
	msgRepo     repository.MessageRepository
	broadcaster Broadcaster
	notifier    client.NotificationClient
	metrics     *metrics.Metrics
	logger      *zap.Logger
	editWindow  time.Duration
}

func NewMessageService(
	convRepo repository.ConversationRepository,
	msgRepo repository.MessageRepository,
	broadcaster Broadcaster,
	notifier client.NotificationClient,
	m *metrics.Metrics,
	logger *zap.Logger,
	editWindow time.Duration,
) MessageService {
	return &messageService{
		convRepo:    convRepo,
		msgRepo:     msgRepo,
		broadcaster: broadcaster,
		notifier:    notifier,
		metrics:     m,
		logger:      logger,
		editWindow:  editWindow,
	}
}

func (s *messageService) Send(ctx context.Context, senderID uuid.UUID, connID string, in SendMessageInput) (*domain.Message, error) {
	conversation, err := s.loadConversation(ctx, in.ConversationID)
	if err != nil {
		return nil, err
	}
	if !conversation.HasParticipant(senderID) {
		return nil, response.NewAppError(response.ErrCodeAccessDenied, "Not a participant of this conversation", "")
	}

	now := time.Now().UTC()
	if conversation.EvaluateAutoClose(now) {
		if err := s.convRepo.Update(ctx, conversation); err != nil {
			s.logger.Error("failed to persist auto-close", zap.Error(err))
		}
	}

	settings := conversation.Settings.Data()
	if settings.IsReadOnly || conversation.Status.Terminal() {
		return nil, response.NewAppError(response.ErrCodeReadOnlyConversation, "Conversation is read-only", "")
	}
	if err := validateMessageInput(in, settings); err != nil {
		return nil, err
	}

	message := &domain.Message{
		ID:             uuid.New(),
		ConversationID: conversation.ID,
		SenderID:       senderID,
		Content:        in.Content,
		Type:           in.Type,
		Status:         domain.MessageSent,
		FileURL:        in.FileURL,
		FileName:       in.FileName,
		FileSize:       in.FileSize,
		ReplyTo:        in.ReplyTo,
		// Senders never count their own messages as unread.
		ReadBy:    datatypes.NewJSONSlice([]domain.ReadReceipt{{UserID: senderID, ReadAt: now}}),
		CreatedAt: now,
	}
	if err := s.msgRepo.Create(ctx, message); err != nil {
		s.logger.Error("failed to persist message", zap.Error(err),
			zap.String("conversation_id", conversation.ID.String()))
		return nil, response.NewAppError(response.ErrCodeInternal, "Failed to send message", "")
	}

	s.touchConversation(ctx, conversation, message)

	if s.metrics != nil {
		s.metrics.MessagesSentTotal.WithLabelValues(string(message.Type)).Inc()
	}

	s.broadcaster.ToConversation(conversation.ID, "newMessage", message, connID)
	for _, participantID := range conversation.ParticipantIDs() {
		s.broadcaster.ToUserList(participantID, "conversationUpdated", map[string]interface{}{
			"conversationId": conversation.ID.String(),
			"lastMessage":    conversation.LastMessage.Data(),
			"lastActivity":   conversation.LastActivity,
		})
		if participantID != senderID && !s.broadcaster.Online(participantID) {
			s.notifyOffline(participantID, senderID, conversation.ID, message)
		}
	}

	return message, nil
}

func (s *messageService) MarkRead(ctx context.Context, userID, conversationID uuid.UUID, messageIDs []uuid.UUID) ([]uuid.UUID, error) {
	conversation, err := s.loadConversation(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	if !conversation.HasParticipant(userID) {
		return nil, response.NewAppError(response.ErrCodeAccessDenied, "Not a participant of this conversation", "")
	}

	var candidates []domain.Message
	if len(messageIDs) == 0 {
		candidates, err = s.msgRepo.FindReceived(ctx, conversationID, userID)
	} else {
		candidates, err = s.msgRepo.FindByIDs(ctx, messageIDs)
	}
	if err != nil {
		s.logger.Error("failed to load messages for read marking", zap.Error(err))
		return nil, response.NewAppError(response.ErrCodeInternal, "Failed to mark messages as read", "")
	}

	now := time.Now().UTC()
	marked := make([]uuid.UUID, 0, len(candidates))
	for i := range candidates {
		msg := &candidates[i]
		if msg.ConversationID != conversationID || msg.SenderID == userID || msg.ReadByUser(userID) {
			continue
		}
		msg.ReadBy = append(msg.ReadBy, domain.ReadReceipt{UserID: userID, ReadAt: now})
		msg.Status = domain.MessageRead
		if err := s.msgRepo.Update(ctx, msg); err != nil {
			s.logger.Error("failed to persist read receipt", zap.Error(err),
				zap.String("message_id", msg.ID.String()))
			return nil, response.NewAppError(response.ErrCodeInternal, "Failed to mark messages as read", "")
		}
		marked = append(marked, msg.ID)
	}

	if len(marked) > 0 {
		s.broadcaster.ToConversation(conversationID, "messagesRead", map[string]interface{}{
			"conversationId": conversationID.String(),
			"messageIds":     uuidStrings(marked),
			"readBy":         userID.String(),
			"readAt":         now,
		}, "")
	}
	return marked, nil
}

func (s *messageService) React(ctx context.Context, userID, messageID uuid.UUID, emoji string) (*domain.Message, error) {
	if strings.TrimSpace(emoji) == "" {
		return nil, response.NewAppError(response.ErrCodeValidation, "Emoji is required", "")
	}
	message, err := s.loadActiveMessage(ctx, userID, messageID)
	if err != nil {
		return nil, err
	}

	// One reaction per user: a new emoji replaces the previous one.
	reactions := make([]domain.Reaction, 0, len(message.Reactions)+1)
	for _, r := range message.Reactions {
		if r.UserID != userID {
			reactions = append(reactions, r)
		}
	}
	reactions = append(reactions, domain.Reaction{UserID: userID, Emoji: emoji, ReactedAt: time.Now().UTC()})
	message.Reactions = datatypes.NewJSONSlice(reactions)

	if err := s.msgRepo.Update(ctx, message); err != nil {
		s.logger.Error("failed to persist reaction", zap.Error(err))
		return nil, response.NewAppError(response.ErrCodeInternal, "Failed to add reaction", "")
	}

	s.broadcaster.ToConversation(message.ConversationID, "messageReaction", map[string]interface{}{
		"messageId":      message.ID.String(),
		"conversationId": message.ConversationID.String(),
		"userId":         userID.String(),
		"emoji":          emoji,
		"reactions":      message.Reactions,
	}, "")
	return message, nil
}

func (s *messageService) Unreact(ctx context.Context, userID, messageID uuid.UUID) (*domain.Message, error) {
	message, err := s.loadActiveMessage(ctx, userID, messageID)
	if err != nil {
		return nil, err
	}

	if _, ok := message.ReactionOf(userID); !ok {
		return message, nil
	}
	reactions := make([]domain.Reaction, 0, len(message.Reactions))
	for _, r := range message.Reactions {
		if r.UserID != userID {
			reactions = append(reactions, r)
		}
	}
	message.Reactions = datatypes.NewJSONSlice(reactions)

	if err := s.msgRepo.Update(ctx, message); err != nil {
		s.logger.Error("failed to remove reaction", zap.Error(err))
		return nil, response.NewAppError(response.ErrCodeInternal, "Failed to remove reaction", "")
	}

	s.broadcaster.ToConversation(message.ConversationID, "reactionRemoved", map[string]interface{}{
		"messageId":      message.ID.String(),
		"conversationId": message.ConversationID.String(),
		"userId":         userID.String(),
		"reactions":      message.Reactions,
	}, "")
	return message, nil
}

func (s *messageService) Edit(ctx context.Context, userID, messageID uuid.UUID, content string) (*domain.Message, error) {
	if strings.TrimSpace(content) == "" {
		return nil, response.NewAppError(response.ErrCodeValidation, "Content is required", "")
	}
	message, err := s.loadActiveMessage(ctx, userID, messageID)
	if err != nil {
		return nil, err
	}
	if message.SenderID != userID {
		return nil, response.NewAppError(response.ErrCodeForbidden, "Only the sender can edit a message", "")
	}
	if message.Type != domain.MessageText {
		return nil, response.NewAppError(response.ErrCodeUnsupportedMessageType, "Only text messages can be edited", "")
	}
	if time.Since(message.CreatedAt) > s.editWindow {
		return nil, response.NewAppError(response.ErrCodeEditWindowExpired, "Edit window has expired", "")
	}

	message.EditHistory = append(message.EditHistory, domain.EditEntry{
		Content:  message.Content,
		EditedAt: time.Now().UTC(),
	})
	message.Content = content

	if err := s.msgRepo.Update(ctx, message); err != nil {
		s.logger.Error("failed to persist edit", zap.Error(err))
		return nil, response.NewAppError(response.ErrCodeInternal, "Failed to edit message", "")
	}

	s.broadcaster.ToConversation(message.ConversationID, "messageEdited", map[string]interface{}{
		"messageId":      message.ID.String(),
		"conversationId": message.ConversationID.String(),
		"content":        message.Content,
		"editedAt":       message.EditHistory[len(message.EditHistory)-1].EditedAt,
	}, "")
	return message, nil
}

func (s *messageService) SoftDelete(ctx context.Context, userID, messageID uuid.UUID) (*domain.Message, error) {
	message, err := s.loadMessage(ctx, messageID)
	if err != nil {
		return nil, err
	}
	// Membership can be revoked after the fact; past authorship alone does
	// not keep mutation rights.
	if err := s.requireMembership(ctx, message.ConversationID, userID); err != nil {
		return nil, err
	}
	if message.SenderID != userID {
		return nil, response.NewAppError(response.ErrCodeForbidden, "Only the sender can delete a message", "")
	}
	if message.Type == domain.MessageSystem {
		return nil, response.NewAppError(response.ErrCodeSystemMessageImmutable, "System messages cannot be deleted", "")
	}
	if message.IsDeleted {
		return message, nil
	}

	now := time.Now().UTC()
	message.IsDeleted = true
	message.DeletedAt = &now
	message.DeletedBy = &userID

	if err := s.msgRepo.Update(ctx, message); err != nil {
		s.logger.Error("failed to delete message", zap.Error(err))
		return nil, response.NewAppError(response.ErrCodeInternal, "Failed to delete message", "")
	}

	s.refreshLastMessagePreview(ctx, message)

	s.broadcaster.ToConversation(message.ConversationID, "messageDeleted", map[string]interface{}{
		"messageId":      message.ID.String(),
		"conversationId": message.ConversationID.String(),
		"deletedBy":      userID.String(),
	}, "")
	return message, nil
}

func (s *messageService) History(ctx context.Context, userID, conversationID uuid.UUID, limit, offset int) ([]domain.Message, error) {
	conversation, err := s.loadConversation(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	if !conversation.HasParticipant(userID) {
		return nil, response.NewAppError(response.ErrCodeAccessDenied, "Not a participant of this conversation", "")
	}

	messages, err := s.msgRepo.FindByConversation(ctx, conversationID, limit, offset)
	if err != nil {
		s.logger.Error("failed to load message history", zap.Error(err))
		return nil, response.NewAppError(response.ErrCodeInternal, "Failed to load messages", "")
	}
	for i := range messages {
		messages[i].Content = messages[i].Masked()
	}
	return messages, nil
}

func (s *messageService) UnreadCount(ctx context.Context, userID, conversationID uuid.UUID) (int, error) {
	if err := s.requireMembership(ctx, conversationID, userID); err != nil {
		return 0, err
	}
	received, err := s.msgRepo.FindReceived(ctx, conversationID, userID)
	if err != nil {
		s.logger.Error("failed to load received messages", zap.Error(err))
		return 0, response.NewAppError(response.ErrCodeInternal, "Failed to count unread messages", "")
	}
	count := 0
	for i := range received {
		if !received[i].ReadByUser(userID) {
			count++
		}
	}
	return count, nil
}

func validateMessageInput(in SendMessageInput, settings domain.ConversationSettings) *response.AppError {
	switch in.Type {
	case domain.MessageText:
		if strings.TrimSpace(in.Content) == "" {
			return response.NewAppError(response.ErrCodeValidation, "Content is required", "")
		}
	case domain.MessageNegotiation, domain.MessageSystem:
		// Rendered by the negotiation flow only, never accepted from clients.
		return response.NewAppError(response.ErrCodeUnsupportedMessageType, "Message type is reserved", string(in.Type))
	case domain.MessageFile, domain.MessageImage, domain.MessageVideo, domain.MessageAudio:
		if !settings.AllowFileUploads {
			return response.NewAppError(response.ErrCodeValidation, "File uploads are disabled for this conversation", "")
		}
		if in.FileURL == nil || *in.FileURL == "" {
			return response.NewAppError(response.ErrCodeValidation, "File URL is required", "")
		}
	default:
		return response.NewAppError(response.ErrCodeValidation, "Unknown message type", string(in.Type))
	}
	return nil
}

// touchConversation denormalizes the latest message onto the conversation
// and bumps last activity.
func (s *messageService) touchConversation(ctx context.Context, conversation *domain.Conversation, message *domain.Message) {
	summary := &domain.LastMessageSummary{
		MessageID: message.ID,
		SenderID:  message.SenderID,
		Preview:   preview(message.Content),
		Type:      message.Type,
		SentAt:    message.CreatedAt,
	}
	conversation.LastMessage = datatypes.NewJSONType(summary)
	conversation.LastActivity = message.CreatedAt
	if err := s.convRepo.Update(ctx, conversation); err != nil {
		s.logger.Error("failed to update conversation activity", zap.Error(err),
			zap.String("conversation_id", conversation.ID.String()))
	}
}

// refreshLastMessagePreview blanks the denormalized preview when the deleted
// message was the latest one.
func (s *messageService) refreshLastMessagePreview(ctx context.Context, message *domain.Message) {
	conversation, err := s.convRepo.FindByID(ctx, message.ConversationID)
	if err != nil {
		return
	}
	last := conversation.LastMessage.Data()
	if last == nil || last.MessageID != message.ID {
		return
	}
	last.Preview = ""
	conversation.LastMessage = datatypes.NewJSONType(last)
	if err := s.convRepo.Update(ctx, conversation); err != nil {
		s.logger.Error("failed to refresh last message preview", zap.Error(err))
	}
}

func (s *messageService) notifyOffline(targetID, actorID, conversationID uuid.UUID, message *domain.Message) {
	event := client.NotificationEvent{
		Type:           client.NotificationNewMessage,
		ActorID:        actorID,
		TargetUserID:   targetID,
		ConversationID: conversationID,
		ResourceType:   "message",
		ResourceID:     message.ID,
		Preview:        preview(message.Content),
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.notifier.SendNotification(ctx, event)
	}()
}

func (s *messageService) loadConversation(ctx context.Context, conversationID uuid.UUID) (*domain.Conversation, error) {
	conversation, err := s.convRepo.FindByID(ctx, conversationID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, response.NewAppError(response.ErrCodeNotFound, "Conversation not found", "")
		}
		s.logger.Error("failed to load conversation", zap.Error(err))
		return nil, response.NewAppError(response.ErrCodeInternal, "Failed to load conversation", "")
	}
	return conversation, nil
}

func (s *messageService) loadMessage(ctx context.Context, messageID uuid.UUID) (*domain.Message, error) {
	message, err := s.msgRepo.FindByID(ctx, messageID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, response.NewAppError(response.ErrCodeNotFound, "Message not found", "")
		}
		s.logger.Error("failed to load message", zap.Error(err))
		return nil, response.NewAppError(response.ErrCodeInternal, "Failed to load message", "")
	}
	return message, nil
}

// loadActiveMessage loads a non-deleted message the user may interact with.
func (s *messageService) loadActiveMessage(ctx context.Context, userID, messageID uuid.UUID) (*domain.Message, error) {
	message, err := s.loadMessage(ctx, messageID)
	if err != nil {
		return nil, err
	}
	if message.IsDeleted {
		return nil, response.NewAppError(response.ErrCodeNotFound, "Message not found", "")
	}
	if err := s.requireMembership(ctx, message.ConversationID, userID); err != nil {
		return nil, err
	}
	return message, nil
}

func (s *messageService) requireMembership(ctx context.Context, conversationID, userID uuid.UUID) error {
	ok, err := s.convRepo.IsParticipant(ctx, conversationID, userID)
	if err != nil {
		s.logger.Error("failed to check membership", zap.Error(err))
		return response.NewAppError(response.ErrCodeInternal, "Failed to check membership", "")
	}
	if !ok {
		return response.NewAppError(response.ErrCodeAccessDenied, "Not a participant of this conversation", "")
	}
	return nil
}

func preview(content string) string {
	runes := []rune(content)
	if len(runes) <= messagePreviewLength {
		return content
	}
	return string(runes[:messagePreviewLength])
}

func uuidStrings(ids []uuid.UUID) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = id.String()
	}
	return out
}
