package service

import (
	"context"
	"errors"
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

// ConversationView is a conversation enriched with the viewer's unread count
type ConversationView struct {
	domain.Conversation
	UnreadCount int `json:"unreadCount"`
}

// ConversationService manages conversation lifecycle and per-user views
type ConversationService interface {
	// Start returns the existing conversation between the two users for the
	// given listing, creating it on first contact. The second return value
	// reports whether a new conversation was created.
	Start(ctx context.Context, userID, otherUserID uuid.UUID, jobListingID *uuid.UUID) (*domain.Conversation, bool, error)
	// Get loads a conversation the user participates in. A lapsed auto-close
	// deadline is applied before returning.
	Get(ctx context.Context, conversationID, userID uuid.UUID) (*domain.Conversation, error)
	// ListForUser returns the user's visible conversations with unread counts,
	// most recently active first.
	ListForUser(ctx context.Context, userID uuid.UUID) ([]ConversationView, error)
	// Archive and Unarchive toggle the user's archive flag. Other
	// participants' views are unaffected.
	Archive(ctx context.Context, conversationID, userID uuid.UUID) error
	Unarchive(ctx context.Context, conversationID, userID uuid.UUID) error
	// Hide removes the conversation from the user's view without touching
	// shared state.
	Hide(ctx context.Context, conversationID, userID uuid.UUID) error
	// IsParticipant reports active membership.
	IsParticipant(ctx context.Context, conversationID, userID uuid.UUID) (bool, error)
}

type conversationService struct {
	convRepo    repository.ConversationRepository
	msgRepo     repository.MessageRepository
	broadcaster Broadcaster
	notifier    client.NotificationClient
	metrics     *metrics.Metrics
	logger      *zap.Logger
}

func NewConversationService(
	convRepo repository.ConversationRepository,
	msgRepo repository.MessageRepository,
	broadcaster Broadcaster,
	notifier client.NotificationClient,
	m *metrics.Metrics,
	logger *zap.Logger,
) ConversationService {
	return &conversationService{
		convRepo:    convRepo,
		msgRepo:     msgRepo,
		broadcaster: broadcaster,
		notifier:    notifier,
		metrics:     m,
		logger:      logger,
	}
}

func (s *conversationService) Start(ctx context.Context, userID, otherUserID uuid.UUID, jobListingID *uuid.UUID) (*domain.Conversation, bool, error) {
	if userID == otherUserID {
		return nil, false, response.NewAppError(response.ErrCodeValidation, "Cannot start a conversation with yourself", "")
	}

	existing, err := s.convRepo.FindBetween(ctx, userID, otherUserID, jobListingID)
	if err == nil {
		return existing, false, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		s.logger.Error("failed to look up conversation", zap.Error(err))
		return nil, false, response.NewAppError(response.ErrCodeInternal, "Failed to start conversation", "")
	}

	now := time.Now().UTC()
	conversation := &domain.Conversation{
		ID:           uuid.New(),
		JobListingID: jobListingID,
		Status:       domain.ConversationActive,
		Settings:     datatypes.NewJSONType(domain.DefaultSettings()),
		Metadata:     datatypes.NewJSONType(domain.ConversationMetadata{NegotiationPhase: domain.PhaseInitial}),
		LastActivity: now,
	}
	if err := s.convRepo.Create(ctx, conversation); err != nil {
		s.logger.Error("failed to create conversation", zap.Error(err))
		return nil, false, response.NewAppError(response.ErrCodeInternal, "Failed to start conversation", "")
	}

	for _, uid := range []uuid.UUID{userID, otherUserID} {
		participant := &domain.ConversationParticipant{
			ID:             uuid.New(),
			ConversationID: conversation.ID,
			UserID:         uid,
			JoinedAt:       now,
			IsActive:       true,
		}
		if err := s.convRepo.AddParticipant(ctx, participant); err != nil {
			s.logger.Error("failed to add participant", zap.Error(err),
				zap.String("conversation_id", conversation.ID.String()),
				zap.String("user_id", uid.String()))
			return nil, false, response.NewAppError(response.ErrCodeInternal, "Failed to start conversation", "")
		}
		conversation.Participants = append(conversation.Participants, *participant)
	}

	if s.metrics != nil {
		s.metrics.ConversationsCreated.Inc()
	}
	s.logger.Info("conversation created",
		zap.String("conversation_id", conversation.ID.String()),
		zap.String("initiator_id", userID.String()))

	s.broadcaster.ToUserList(otherUserID, "conversationCreated", conversation)

	return conversation, true, nil
}

func (s *conversationService) Get(ctx context.Context, conversationID, userID uuid.UUID) (*domain.Conversation, error) {
	conversation, err := s.loadForUser(ctx, conversationID, userID)
	if err != nil {
		return nil, err
	}
	if err := s.applyAutoClose(ctx, conversation); err != nil {
		return nil, err
	}
	return conversation, nil
}

func (s *conversationService) ListForUser(ctx context.Context, userID uuid.UUID) ([]ConversationView, error) {
	conversations, err := s.convRepo.FindByUser(ctx, userID)
	if err != nil {
		s.logger.Error("failed to list conversations", zap.Error(err), zap.String("user_id", userID.String()))
		return nil, response.NewAppError(response.ErrCodeInternal, "Failed to list conversations", "")
	}

	views := make([]ConversationView, 0, len(conversations))
	for i := range conversations {
		unread, err := s.unreadCount(ctx, conversations[i].ID, userID)
		if err != nil {
			return nil, err
		}
		views = append(views, ConversationView{Conversation: conversations[i], UnreadCount: unread})
	}
	return views, nil
}

func (s *conversationService) Archive(ctx context.Context, conversationID, userID uuid.UUID) error {
	if err := s.requireMembership(ctx, conversationID, userID); err != nil {
		return err
	}
	now := time.Now().UTC()
	if err := s.convRepo.SetArchived(ctx, conversationID, userID, &now); err != nil {
		s.logger.Error("failed to archive conversation", zap.Error(err))
		return response.NewAppError(response.ErrCodeInternal, "Failed to archive conversation", "")
	}
	return nil
}

func (s *conversationService) Unarchive(ctx context.Context, conversationID, userID uuid.UUID) error {
	if err := s.requireMembership(ctx, conversationID, userID); err != nil {
		return err
	}
	if err := s.convRepo.SetArchived(ctx, conversationID, userID, nil); err != nil {
		s.logger.Error("failed to unarchive conversation", zap.Error(err))
		return response.NewAppError(response.ErrCodeInternal, "Failed to unarchive conversation", "")
	}
	return nil
}

func (s *conversationService) Hide(ctx context.Context, conversationID, userID uuid.UUID) error {
	if err := s.requireMembership(ctx, conversationID, userID); err != nil {
		return err
	}
	now := time.Now().UTC()
	if err := s.convRepo.SetHidden(ctx, conversationID, userID, &now); err != nil {
		s.logger.Error("failed to hide conversation", zap.Error(err))
		return response.NewAppError(response.ErrCodeInternal, "Failed to delete conversation", "")
	}
	return nil
}

func (s *conversationService) IsParticipant(ctx context.Context, conversationID, userID uuid.UUID) (bool, error) {
	ok, err := s.convRepo.IsParticipant(ctx, conversationID, userID)
	if err != nil {
		s.logger.Error("failed to check membership", zap.Error(err))
		return false, response.NewAppError(response.ErrCodeInternal, "Failed to check membership", "")
	}
	return ok, nil
}

func (s *conversationService) loadForUser(ctx context.Context, conversationID, userID uuid.UUID) (*domain.Conversation, error) {
	conversation, err := s.convRepo.FindByID(ctx, conversationID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, response.NewAppError(response.ErrCodeNotFound, "Conversation not found", "")
		}
		s.logger.Error("failed to load conversation", zap.Error(err))
		return nil, response.NewAppError(response.ErrCodeInternal, "Failed to load conversation", "")
	}
	if !conversation.HasParticipant(userID) {
		return nil, response.NewAppError(response.ErrCodeAccessDenied, "Not a participant of this conversation", "")
	}
	return conversation, nil
}

func (s *conversationService) requireMembership(ctx context.Context, conversationID, userID uuid.UUID) error {
	ok, err := s.IsParticipant(ctx, conversationID, userID)
	if err != nil {
		return err
	}
	if !ok {
		return response.NewAppError(response.ErrCodeAccessDenied, "Not a participant of this conversation", "")
	}
	return nil
}

// applyAutoClose persists a lapsed auto-close deadline and announces the
// transition. No-op when the deadline has not passed.
func (s *conversationService) applyAutoClose(ctx context.Context, conversation *domain.Conversation) error {
	if !conversation.EvaluateAutoClose(time.Now().UTC()) {
		return nil
	}
	if err := s.convRepo.Update(ctx, conversation); err != nil {
		s.logger.Error("failed to persist auto-close", zap.Error(err),
			zap.String("conversation_id", conversation.ID.String()))
		return response.NewAppError(response.ErrCodeInternal, "Failed to update conversation", "")
	}

	if s.metrics != nil {
		s.metrics.AutoClosedTotal.Inc()
	}
	s.logger.Info("conversation auto-closed",
		zap.String("conversation_id", conversation.ID.String()))

	s.broadcaster.ToConversation(conversation.ID, "conversationClosed", map[string]interface{}{
		"conversationId": conversation.ID.String(),
		"status":         conversation.Status,
		"reason":         conversation.Metadata.Data().AutoCloseReason,
	}, "")
	return nil
}

func (s *conversationService) unreadCount(ctx context.Context, conversationID, userID uuid.UUID) (int, error) {
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
