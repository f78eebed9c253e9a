package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
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

// Negotiation response actions accepted over the wire
const (
	NegotiationActionAccept  = "accept"
	NegotiationActionReject  = "reject"
	NegotiationActionCounter = "counter"
)

// StartNegotiationInput carries a new offer
type StartNegotiationInput struct {
	ConversationID  uuid.UUID
	ProposedPrice   float64
	Timeline        string
	AdditionalTerms string
}

// RespondNegotiationInput carries a response to the pending offer. The
// counter fields are only read when Action is counter.
type RespondNegotiationInput struct {
	ConversationID  uuid.UUID
	Action          string
	Reason          string
	ProposedPrice   float64
	Timeline        string
	AdditionalTerms string
}

// NegotiationResult is what gets broadcast and returned after a transition
type NegotiationResult struct {
	Conversation *domain.Conversation      `json:"-"`
	Action       string                    `json:"action"`
	Offer        domain.NegotiationOffer   `json:"offer"`
	Status       domain.ConversationStatus `json:"conversationStatus"`
	Message      *domain.Message           `json:"message,omitempty"`
}

// NegotiationService drives the offer state machine embedded in conversation
// metadata. All transitions on one conversation are serialized through a
// per-conversation lock, so concurrent offers resolve to a deterministic
// last-write order.
type NegotiationService interface {
	// Start places a new offer. A still-pending previous offer is superseded
	// into the history.
	Start(ctx context.Context, userID uuid.UUID, in StartNegotiationInput) (*NegotiationResult, error)
	// Respond accepts, rejects or counters the pending offer.
	Respond(ctx context.Context, userID uuid.UUID, in RespondNegotiationInput) (*NegotiationResult, error)
	// EnableAutoClose arms the auto-close deadline.
	EnableAutoClose(ctx context.Context, userID, conversationID uuid.UUID, after time.Duration, reason string) (*domain.Conversation, error)
	// DelayAutoClose pushes an armed deadline further out.
	DelayAutoClose(ctx context.Context, userID, conversationID uuid.UUID, by time.Duration) (*domain.Conversation, error)
}

type negotiationService struct {
	convRepo    repository.ConversationRepository
	msgRepo     repository.MessageRepository
	broadcaster Broadcaster
	notifier    client.NotificationClient
	metrics     *metrics.Metrics
	logger      *zap.Logger
	expiry      time.Duration
	autoClose   time.Duration

	mu    sync.Mutex
	locks map[uuid.UUID]*sync.Mutex
}

func NewNegotiationService(
	convRepo repository.ConversationRepository,
	msgRepo repository.MessageRepository,
	broadcaster Broadcaster,
	notifier client.NotificationClient,
	m *metrics.Metrics,
	logger *zap.Logger,
	expiry time.Duration,
	autoClose time.Duration,
) NegotiationService {
	return &negotiationService{
		convRepo:    convRepo,
		msgRepo:     msgRepo,
		broadcaster: broadcaster,
		notifier:    notifier,
		metrics:     m,
		logger:      logger,
		expiry:      expiry,
		autoClose:   autoClose,
		locks:       make(map[uuid.UUID]*sync.Mutex),
	}
}

// lock acquires the conversation's transition lock and returns its release.
func (s *negotiationService) lock(conversationID uuid.UUID) func() {
	s.mu.Lock()
	m, ok := s.locks[conversationID]
	if !ok {
		m = &sync.Mutex{}
		s.locks[conversationID] = m
	}
	s.mu.Unlock()
	m.Lock()
	return m.Unlock
}

func (s *negotiationService) Start(ctx context.Context, userID uuid.UUID, in StartNegotiationInput) (*NegotiationResult, error) {
	if in.ProposedPrice <= 0 {
		return nil, response.NewAppError(response.ErrCodeValidation, "Proposed price must be positive", "")
	}

	unlock := s.lock(in.ConversationID)
	defer unlock()

	conversation, err := s.loadForUser(ctx, in.ConversationID, userID)
	if err != nil {
		return nil, err
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
	if !settings.AllowNegotiation {
		return nil, response.NewAppError(response.ErrCodeNegotiationDisabled, "Negotiation is disabled for this conversation", "")
	}

	meta := conversation.Metadata.Data()
	if current := meta.CurrentNegotiation; current != nil && current.Expired(now) {
		return nil, s.expireCurrent(ctx, conversation, meta, now)
	}
	counterNumber := 0
	if current := meta.CurrentNegotiation; current != nil {
		// A fresh offer supersedes the pending one; the history only ever
		// holds resolved offers.
		superseded := *current
		superseded.Status = domain.NegotiationRejected
		superseded.RejectedBy = &userID
		superseded.RejectedAt = &now
		superseded.RejectionReason = "superseded"
		superseded.CompletedAt = &now
		meta.NegotiationHistory = append(meta.NegotiationHistory, superseded)
		counterNumber = current.CounterOfferNumber + 1
	}

	offer := domain.NegotiationOffer{
		ProposedPrice:      in.ProposedPrice,
		Timeline:           in.Timeline,
		AdditionalTerms:    in.AdditionalTerms,
		ProposedBy:         userID,
		ProposedAt:         now,
		Status:             domain.NegotiationPending,
		ExpiresAt:          now.Add(s.expiry),
		CounterOfferNumber: counterNumber,
	}
	meta.CurrentNegotiation = &offer
	meta.NegotiationPhase = domain.PhaseActive
	meta.TotalNegotiations++

	conversation.Metadata = datatypes.NewJSONType(meta)
	conversation.Status = domain.ConversationNegotiating

	message := s.negotiationMessage(conversation.ID, userID,
		fmt.Sprintf("Offered %.2f", in.ProposedPrice))
	if err := s.persistTransition(ctx, conversation, message, now); err != nil {
		return nil, err
	}

	if s.metrics != nil {
		s.metrics.NegotiationsTotal.WithLabelValues("started").Inc()
	}
	s.logger.Info("negotiation started",
		zap.String("conversation_id", conversation.ID.String()),
		zap.String("proposed_by", userID.String()),
		zap.Float64("price", in.ProposedPrice))

	result := &NegotiationResult{
		Conversation: conversation,
		Action:       "started",
		Offer:        offer,
		Status:       conversation.Status,
		Message:      message,
	}
	s.broadcaster.ToConversation(conversation.ID, "negotiationStarted", result, "")
	s.notifyParticipants(conversation, userID, client.NotificationNegotiationStarted, message)
	return result, nil
}

func (s *negotiationService) Respond(ctx context.Context, userID uuid.UUID, in RespondNegotiationInput) (*NegotiationResult, error) {
	switch in.Action {
	case NegotiationActionAccept, NegotiationActionReject, NegotiationActionCounter:
	default:
		return nil, response.NewAppError(response.ErrCodeValidation, "Unknown negotiation action", in.Action)
	}
	if in.Action == NegotiationActionCounter && in.ProposedPrice <= 0 {
		return nil, response.NewAppError(response.ErrCodeValidation, "Counter offer price must be positive", "")
	}

	unlock := s.lock(in.ConversationID)
	defer unlock()

	conversation, err := s.loadForUser(ctx, in.ConversationID, userID)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	if conversation.EvaluateAutoClose(now) {
		if err := s.convRepo.Update(ctx, conversation); err != nil {
			s.logger.Error("failed to persist auto-close", zap.Error(err))
		}
	}
	if conversation.Settings.Data().IsReadOnly || conversation.Status.Terminal() {
		return nil, response.NewAppError(response.ErrCodeReadOnlyConversation, "Conversation is read-only", "")
	}

	meta := conversation.Metadata.Data()
	current := meta.CurrentNegotiation
	if current == nil {
		return nil, response.NewAppError(response.ErrCodeNoActiveNegotiation, "No pending offer to respond to", "")
	}
	if current.ProposedBy == userID {
		return nil, response.NewAppError(response.ErrCodeForbidden, "Cannot respond to your own offer", "")
	}

	if current.Expired(now) {
		return nil, s.expireCurrent(ctx, conversation, meta, now)
	}

	switch in.Action {
	case NegotiationActionAccept:
		return s.accept(ctx, conversation, meta, userID, now)
	case NegotiationActionReject:
		return s.reject(ctx, conversation, meta, userID, in.Reason, now)
	default:
		return s.counter(ctx, conversation, meta, userID, in, now)
	}
}

func (s *negotiationService) accept(ctx context.Context, conversation *domain.Conversation, meta domain.ConversationMetadata, userID uuid.UUID, now time.Time) (*NegotiationResult, error) {
	offer := *meta.CurrentNegotiation
	offer.Status = domain.NegotiationAccepted
	offer.AcceptedBy = &userID
	offer.AcceptedAt = &now
	offer.CompletedAt = &now

	meta.NegotiationHistory = append(meta.NegotiationHistory, offer)
	meta.CurrentNegotiation = nil
	meta.NegotiationPhase = domain.PhaseCompleted
	meta.FinalAgreedPrice = &offer.ProposedPrice

	conversation.Metadata = datatypes.NewJSONType(meta)
	conversation.Status = domain.ConversationPaymentPending

	message := s.negotiationMessage(conversation.ID, userID,
		fmt.Sprintf("Accepted the offer of %.2f", offer.ProposedPrice))
	if err := s.persistTransition(ctx, conversation, message, now); err != nil {
		return nil, err
	}

	if s.metrics != nil {
		s.metrics.NegotiationsTotal.WithLabelValues("accepted").Inc()
	}
	s.logger.Info("negotiation accepted",
		zap.String("conversation_id", conversation.ID.String()),
		zap.Float64("agreed_price", offer.ProposedPrice))

	result := &NegotiationResult{
		Conversation: conversation,
		Action:       "accepted",
		Offer:        offer,
		Status:       conversation.Status,
		Message:      message,
	}
	s.broadcaster.ToConversation(conversation.ID, "negotiationResponse", result, "")
	s.notifyParticipants(conversation, userID, client.NotificationNegotiationAccepted, message)
	return result, nil
}

func (s *negotiationService) reject(ctx context.Context, conversation *domain.Conversation, meta domain.ConversationMetadata, userID uuid.UUID, reason string, now time.Time) (*NegotiationResult, error) {
	offer := *meta.CurrentNegotiation
	offer.Status = domain.NegotiationRejected
	offer.RejectedBy = &userID
	offer.RejectedAt = &now
	offer.RejectionReason = reason
	offer.CompletedAt = &now

	meta.NegotiationHistory = append(meta.NegotiationHistory, offer)
	meta.CurrentNegotiation = nil

	conversation.Metadata = datatypes.NewJSONType(meta)

	message := s.negotiationMessage(conversation.ID, userID,
		fmt.Sprintf("Declined the offer of %.2f", offer.ProposedPrice))
	if err := s.persistTransition(ctx, conversation, message, now); err != nil {
		return nil, err
	}

	if s.metrics != nil {
		s.metrics.NegotiationsTotal.WithLabelValues("rejected").Inc()
	}

	result := &NegotiationResult{
		Conversation: conversation,
		Action:       "rejected",
		Offer:        offer,
		Status:       conversation.Status,
		Message:      message,
	}
	s.broadcaster.ToConversation(conversation.ID, "negotiationResponse", result, "")
	s.notifyParticipants(conversation, userID, client.NotificationNegotiationRejected, message)
	return result, nil
}

func (s *negotiationService) counter(ctx context.Context, conversation *domain.Conversation, meta domain.ConversationMetadata, userID uuid.UUID, in RespondNegotiationInput, now time.Time) (*NegotiationResult, error) {
	prev := *meta.CurrentNegotiation
	prev.Status = domain.NegotiationRejected
	prev.RejectedBy = &userID
	prev.RejectedAt = &now
	prev.RejectionReason = "countered"
	prev.CompletedAt = &now
	meta.NegotiationHistory = append(meta.NegotiationHistory, prev)

	offer := domain.NegotiationOffer{
		ProposedPrice:      in.ProposedPrice,
		Timeline:           in.Timeline,
		AdditionalTerms:    in.AdditionalTerms,
		ProposedBy:         userID,
		ProposedAt:         now,
		Status:             domain.NegotiationPending,
		ExpiresAt:          now.Add(s.expiry),
		CounterOfferNumber: prev.CounterOfferNumber + 1,
	}
	meta.CurrentNegotiation = &offer
	meta.NegotiationPhase = domain.PhaseActive
	meta.TotalNegotiations++

	conversation.Metadata = datatypes.NewJSONType(meta)
	conversation.Status = domain.ConversationNegotiating

	message := s.negotiationMessage(conversation.ID, userID,
		fmt.Sprintf("Countered with %.2f", in.ProposedPrice))
	if err := s.persistTransition(ctx, conversation, message, now); err != nil {
		return nil, err
	}

	if s.metrics != nil {
		s.metrics.NegotiationsTotal.WithLabelValues("countered").Inc()
	}
	s.logger.Info("negotiation countered",
		zap.String("conversation_id", conversation.ID.String()),
		zap.Int("counter_number", offer.CounterOfferNumber))

	result := &NegotiationResult{
		Conversation: conversation,
		Action:       "countered",
		Offer:        offer,
		Status:       conversation.Status,
		Message:      message,
	}
	s.broadcaster.ToConversation(conversation.ID, "negotiationResponse", result, "")
	s.notifyParticipants(conversation, userID, client.NotificationNegotiationStarted, message)
	return result, nil
}

func (s *negotiationService) EnableAutoClose(ctx context.Context, userID, conversationID uuid.UUID, after time.Duration, reason string) (*domain.Conversation, error) {
	unlock := s.lock(conversationID)
	defer unlock()

	conversation, err := s.loadForUser(ctx, conversationID, userID)
	if err != nil {
		return nil, err
	}
	if conversation.Status.Terminal() {
		return nil, response.NewAppError(response.ErrCodeReadOnlyConversation, "Conversation is closed", "")
	}

	if after <= 0 {
		after = s.autoClose
	}
	now := time.Now().UTC()
	deadline := now.Add(after)

	meta := conversation.Metadata.Data()
	meta.AutoCloseEnabled = true
	meta.AutoCloseAt = &deadline
	meta.AutoCloseReason = reason
	conversation.Metadata = datatypes.NewJSONType(meta)

	message := s.negotiationMessage(conversationID, userID,
		fmt.Sprintf("Conversation will close automatically at %s", deadline.Format(time.RFC3339)))
	message.Type = domain.MessageSystem
	if err := s.persistTransition(ctx, conversation, message, now); err != nil {
		return nil, err
	}

	s.broadcaster.ToConversation(conversationID, "conversationUpdated", map[string]interface{}{
		"conversationId": conversationID.String(),
		"autoCloseAt":    deadline,
	}, "")
	return conversation, nil
}

func (s *negotiationService) DelayAutoClose(ctx context.Context, userID, conversationID uuid.UUID, by time.Duration) (*domain.Conversation, error) {
	if by <= 0 {
		return nil, response.NewAppError(response.ErrCodeValidation, "Delay must be positive", "")
	}

	unlock := s.lock(conversationID)
	defer unlock()

	conversation, err := s.loadForUser(ctx, conversationID, userID)
	if err != nil {
		return nil, err
	}

	meta := conversation.Metadata.Data()
	if !meta.AutoCloseEnabled || meta.AutoCloseAt == nil {
		return nil, response.NewAppError(response.ErrCodeValidation, "Auto-close is not enabled", "")
	}

	now := time.Now().UTC()
	base := *meta.AutoCloseAt
	if base.Before(now) {
		base = now
	}
	deadline := base.Add(by)
	meta.AutoCloseAt = &deadline
	conversation.Metadata = datatypes.NewJSONType(meta)

	message := s.negotiationMessage(conversationID, userID,
		fmt.Sprintf("Auto-close postponed to %s", deadline.Format(time.RFC3339)))
	message.Type = domain.MessageSystem
	if err := s.persistTransition(ctx, conversation, message, now); err != nil {
		return nil, err
	}

	s.broadcaster.ToConversation(conversationID, "conversationUpdated", map[string]interface{}{
		"conversationId": conversationID.String(),
		"autoCloseAt":    deadline,
	}, "")
	return conversation, nil
}

// expireCurrent archives a lapsed pending offer and reports the expiry.
// Expiry is applied on touch: any transition attempt against a lapsed offer
// fails the same way, whether it tried to respond or to supersede.
func (s *negotiationService) expireCurrent(ctx context.Context, conversation *domain.Conversation, meta domain.ConversationMetadata, now time.Time) error {
	expired := *meta.CurrentNegotiation
	expired.Status = domain.NegotiationExpired
	expired.CompletedAt = &now
	meta.NegotiationHistory = append(meta.NegotiationHistory, expired)
	meta.CurrentNegotiation = nil
	conversation.Metadata = datatypes.NewJSONType(meta)
	if err := s.convRepo.Update(ctx, conversation); err != nil {
		s.logger.Error("failed to archive expired offer", zap.Error(err))
	}
	if s.metrics != nil {
		s.metrics.NegotiationsTotal.WithLabelValues("expired").Inc()
	}
	return response.NewAppError(response.ErrCodeNegotiationExpired, "The offer has expired", "")
}

func (s *negotiationService) negotiationMessage(conversationID, senderID uuid.UUID, content string) *domain.Message {
	now := time.Now().UTC()
	return &domain.Message{
		ID:             uuid.New(),
		ConversationID: conversationID,
		SenderID:       senderID,
		Content:        content,
		Type:           domain.MessageNegotiation,
		Status:         domain.MessageSent,
		ReadBy:         datatypes.NewJSONSlice([]domain.ReadReceipt{{UserID: senderID, ReadAt: now}}),
		CreatedAt:      now,
	}
}

// persistTransition writes the message and the conversation in that order so
// a crash never leaves a state transition without its audit message.
func (s *negotiationService) persistTransition(ctx context.Context, conversation *domain.Conversation, message *domain.Message, now time.Time) error {
	if err := s.msgRepo.Create(ctx, message); err != nil {
		s.logger.Error("failed to persist negotiation message", zap.Error(err))
		return response.NewAppError(response.ErrCodeInternal, "Failed to update negotiation", "")
	}
	conversation.LastMessage = datatypes.NewJSONType(&domain.LastMessageSummary{
		MessageID: message.ID,
		SenderID:  message.SenderID,
		Preview:   preview(message.Content),
		Type:      message.Type,
		SentAt:    message.CreatedAt,
	})
	conversation.LastActivity = now
	if err := s.convRepo.Update(ctx, conversation); err != nil {
		s.logger.Error("failed to persist negotiation state", zap.Error(err))
		return response.NewAppError(response.ErrCodeInternal, "Failed to update negotiation", "")
	}
	return nil
}

func (s *negotiationService) notifyParticipants(conversation *domain.Conversation, actorID uuid.UUID, notiType client.NotificationType, message *domain.Message) {
	for _, participantID := range conversation.ParticipantIDs() {
		if participantID == actorID || s.broadcaster.Online(participantID) {
			continue
		}
		event := client.NotificationEvent{
			Type:           notiType,
			ActorID:        actorID,
			TargetUserID:   participantID,
			ConversationID: conversation.ID,
			ResourceType:   "negotiation",
			ResourceID:     message.ID,
			Preview:        preview(message.Content),
		}
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = s.notifier.SendNotification(ctx, event)
		}()
	}
}

func (s *negotiationService) loadForUser(ctx context.Context, conversationID, userID uuid.UUID) (*domain.Conversation, error) {
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
