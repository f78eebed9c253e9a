package domain

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// MessageType defines the kind of message
type MessageType string

const (
	MessageText        MessageType = "text"
	MessageFile        MessageType = "file"
	MessageImage       MessageType = "image"
	MessageVideo       MessageType = "video"
	MessageAudio       MessageType = "audio"
	MessageNegotiation MessageType = "negotiation"
	MessageSystem      MessageType = "system"
)

// IsFileBacked reports whether the message carries a storage reference.
func (t MessageType) IsFileBacked() bool {
	switch t {
	case MessageFile, MessageImage, MessageVideo, MessageAudio:
		return true
	}
	return false
}

// MessageStatus defines the delivery status of a message
type MessageStatus string

const (
	MessageSent      MessageStatus = "sent"
	MessageDelivered MessageStatus = "delivered"
	MessageRead      MessageStatus = "read"
	MessageFailed    MessageStatus = "failed"
)

// ReadReceipt records a single user's read of a message
type ReadReceipt struct {
	UserID uuid.UUID `json:"userId"`
	ReadAt time.Time `json:"readAt"`
}

// Reaction records a user's emoji reaction. A user has at most one reaction
// per message.
type Reaction struct {
	UserID    uuid.UUID `json:"userId"`
	Emoji     string    `json:"emoji"`
	ReactedAt time.Time `json:"reactedAt"`
}

// EditEntry preserves a prior content version
type EditEntry struct {
	Content  string    `json:"content"`
	EditedAt time.Time `json:"editedAt"`
}

// Message is the durable chat message entity
type Message struct {
	ID             uuid.UUID                         `gorm:"type:uuid;primaryKey;default:gen_random_uuid()" json:"messageId"`
	ConversationID uuid.UUID                         `gorm:"type:uuid;not null;index:idx_message_conversation_created" json:"conversationId"`
	SenderID       uuid.UUID                         `gorm:"type:uuid;not null;index" json:"senderId"`
	Content        string                            `gorm:"type:text" json:"content"`
	Type           MessageType                       `gorm:"type:varchar(20);not null;default:'text'" json:"type"`
	Status         MessageStatus                     `gorm:"type:varchar(20);not null;default:'sent'" json:"status"`
	FileURL        *string                           `gorm:"type:text" json:"fileUrl,omitempty"`
	FileName       *string                           `gorm:"type:varchar(255)" json:"fileName,omitempty"`
	FileSize       *int64                            `json:"fileSize,omitempty"`
	ReplyTo        *uuid.UUID                        `gorm:"type:uuid" json:"replyTo,omitempty"`
	ReadBy         datatypes.JSONSlice[ReadReceipt]  `json:"readBy"`
	Reactions      datatypes.JSONSlice[Reaction]     `json:"reactions"`
	EditHistory    datatypes.JSONSlice[EditEntry]    `json:"editHistory"`
	IsDeleted      bool                              `gorm:"default:false;index" json:"isDeleted"`
	DeletedAt      *time.Time                        `json:"deletedAt,omitempty"`
	DeletedBy      *uuid.UUID                        `gorm:"type:uuid" json:"deletedBy,omitempty"`
	CreatedAt      time.Time                         `gorm:"autoCreateTime;index:idx_message_conversation_created" json:"createdAt"`
	UpdatedAt      time.Time                         `gorm:"autoUpdateTime" json:"updatedAt"`
}

func (Message) TableName() string {
	return "messages"
}

// ReadByUser reports whether userID already has a read receipt.
func (m *Message) ReadByUser(userID uuid.UUID) bool {
	for _, r := range m.ReadBy {
		if r.UserID == userID {
			return true
		}
	}
	return false
}

// ReactionOf returns the user's reaction, if any.
func (m *Message) ReactionOf(userID uuid.UUID) (Reaction, bool) {
	for _, r := range m.Reactions {
		if r.UserID == userID {
			return r, true
		}
	}
	return Reaction{}, false
}

// Masked returns the content as it should be shown to clients: soft-deleted
// messages keep their row but hide the content.
func (m *Message) Masked() string {
	if m.IsDeleted {
		return ""
	}
	return m.Content
}
