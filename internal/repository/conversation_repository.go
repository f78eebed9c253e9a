package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"marketplace-chat-api/internal/domain"
)

type ConversationRepository interface {
	Create(ctx context.Context, conversation *domain.Conversation) error
	FindByID(ctx context.Context, id uuid.UUID) (*domain.Conversation, error)
	FindBetween(ctx context.Context, userA, userB uuid.UUID, jobListingID *uuid.UUID) (*domain.Conversation, error)
	FindByUser(ctx context.Context, userID uuid.UUID) ([]domain.Conversation, error)
	Update(ctx context.Context, conversation *domain.Conversation) error

	AddParticipant(ctx context.Context, participant *domain.ConversationParticipant) error
	GetParticipants(ctx context.Context, conversationID uuid.UUID) ([]domain.ConversationParticipant, error)
	IsParticipant(ctx context.Context, conversationID, userID uuid.UUID) (bool, error)
	SetArchived(ctx context.Context, conversationID, userID uuid.UUID, archivedAt *time.Time) error
	SetHidden(ctx context.Context, conversationID, userID uuid.UUID, hiddenAt *time.Time) error
}

type conversationRepository struct {
	db *gorm.DB
}

func NewConversationRepository(db *gorm.DB) ConversationRepository {
	return &conversationRepository{db: db}
}

func (r *conversationRepository) Create(ctx context.Context, conversation *domain.Conversation) error {
	return r.db.WithContext(ctx).Create(conversation).Error
}

func (r *conversationRepository) FindByID(ctx context.Context, id uuid.UUID) (*domain.Conversation, error) {
	var conversation domain.Conversation
	err := r.db.WithContext(ctx).
		Preload("Participants").
		First(&conversation, "id = ?", id).Error
	if err != nil {
		return nil, err
	}
	return &conversation, nil
}

func (r *conversationRepository) FindBetween(ctx context.Context, userA, userB uuid.UUID, jobListingID *uuid.UUID) (*domain.Conversation, error) {
	query := r.db.WithContext(ctx).
		Joins(`JOIN conversation_participants pa ON pa.conversation_id = conversations.id
			AND pa.user_id = ? AND pa.is_active = true`, userA).
		Joins(`JOIN conversation_participants pb ON pb.conversation_id = conversations.id
			AND pb.user_id = ? AND pb.is_active = true`, userB).
		Where("conversations.is_deleted = false")

	if jobListingID != nil {
		query = query.Where("conversations.job_listing_id = ?", *jobListingID)
	} else {
		query = query.Where("conversations.job_listing_id IS NULL")
	}

	var conversation domain.Conversation
	err := query.Preload("Participants").First(&conversation).Error
	if err != nil {
		return nil, err
	}
	return &conversation, nil
}

func (r *conversationRepository) FindByUser(ctx context.Context, userID uuid.UUID) ([]domain.Conversation, error) {
	var conversations []domain.Conversation
	err := r.db.WithContext(ctx).
		Joins(`JOIN conversation_participants ON conversation_participants.conversation_id = conversations.id`).
		Where(`conversation_participants.user_id = ? AND conversation_participants.is_active = true
			AND conversation_participants.hidden_at IS NULL AND conversations.is_deleted = false`, userID).
		Preload("Participants").
		Order("conversations.last_activity DESC").
		Find(&conversations).Error
	return conversations, err
}

func (r *conversationRepository) Update(ctx context.Context, conversation *domain.Conversation) error {
	return r.db.WithContext(ctx).Save(conversation).Error
}

func (r *conversationRepository) AddParticipant(ctx context.Context, participant *domain.ConversationParticipant) error {
	return r.db.WithContext(ctx).Create(participant).Error
}

func (r *conversationRepository) GetParticipants(ctx context.Context, conversationID uuid.UUID) ([]domain.ConversationParticipant, error) {
	var participants []domain.ConversationParticipant
	err := r.db.WithContext(ctx).
		Where("conversation_id = ? AND is_active = true", conversationID).
		Find(&participants).Error
	return participants, err
}

func (r *conversationRepository) IsParticipant(ctx context.Context, conversationID, userID uuid.UUID) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&domain.ConversationParticipant{}).
		Where("conversation_id = ? AND user_id = ? AND is_active = true", conversationID, userID).
		Count(&count).Error
	return count > 0, err
}

func (r *conversationRepository) SetArchived(ctx context.Context, conversationID, userID uuid.UUID, archivedAt *time.Time) error {
	return r.db.WithContext(ctx).Model(&domain.ConversationParticipant{}).
		Where("conversation_id = ? AND user_id = ?", conversationID, userID).
		Update("archived_at", archivedAt).Error
}

func (r *conversationRepository) SetHidden(ctx context.Context, conversationID, userID uuid.UUID, hiddenAt *time.Time) error {
	return r.db.WithContext(ctx).Model(&domain.ConversationParticipant{}).
		Where("conversation_id = ? AND user_id = ?", conversationID, userID).
		Update("hidden_at", hiddenAt).Error
}
