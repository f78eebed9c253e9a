package repository

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"marketplace-chat-api/internal/domain"
)

type MessageRepository interface {
	Create(ctx context.Context, message *domain.Message) error
	FindByID(ctx context.Context, id uuid.UUID) (*domain.Message, error)
	FindByIDs(ctx context.Context, ids []uuid.UUID) ([]domain.Message, error)
	FindByConversation(ctx context.Context, conversationID uuid.UUID, limit, offset int) ([]domain.Message, error)
	// FindReceived returns the non-deleted messages in the conversation that
	// were sent by someone other than userID. Read-state filtering happens in
	// the service; the receipt list lives in a JSON column.
	FindReceived(ctx context.Context, conversationID, userID uuid.UUID) ([]domain.Message, error)
	Update(ctx context.Context, message *domain.Message) error
}

type messageRepository struct {
	db *gorm.DB
}

func NewMessageRepository(db *gorm.DB) MessageRepository {
	return &messageRepository{db: db}
}

func (r *messageRepository) Create(ctx context.Context, message *domain.Message) error {
	return r.db.WithContext(ctx).Create(message).Error
}

func (r *messageRepository) FindByID(ctx context.Context, id uuid.UUID) (*domain.Message, error) {
	var message domain.Message
	err := r.db.WithContext(ctx).First(&message, "id = ?", id).Error
	if err != nil {
		return nil, err
	}
	return &message, nil
}

func (r *messageRepository) FindByIDs(ctx context.Context, ids []uuid.UUID) ([]domain.Message, error) {
	var messages []domain.Message
	err := r.db.WithContext(ctx).
		Where("id IN ?", ids).
		Find(&messages).Error
	return messages, err
}

func (r *messageRepository) FindByConversation(ctx context.Context, conversationID uuid.UUID, limit, offset int) ([]domain.Message, error) {
	var messages []domain.Message
	err := r.db.WithContext(ctx).
		Where("conversation_id = ?", conversationID).
		Order("created_at ASC").
		Limit(limit).
		Offset(offset).
		Find(&messages).Error
	return messages, err
}

func (r *messageRepository) FindReceived(ctx context.Context, conversationID, userID uuid.UUID) ([]domain.Message, error) {
	var messages []domain.Message
	err := r.db.WithContext(ctx).
		Where("conversation_id = ? AND sender_id != ? AND is_deleted = false", conversationID, userID).
		Order("created_at ASC").
		Find(&messages).Error
	return messages, err
}

func (r *messageRepository) Update(ctx context.Context, message *domain.Message) error {
	return r.db.WithContext(ctx).Save(message).Error
}
