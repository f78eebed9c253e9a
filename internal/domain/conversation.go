package domain

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// ConversationStatus defines the lifecycle status of a conversation
type ConversationStatus string

const (
	ConversationActive         ConversationStatus = "active"
	ConversationNegotiating    ConversationStatus = "negotiating"
	ConversationPaymentPending ConversationStatus = "payment_pending"
	ConversationInProgress     ConversationStatus = "in_progress"
	ConversationUnderReview    ConversationStatus = "under_review"
	ConversationCompleted      ConversationStatus = "completed"
	ConversationArchived       ConversationStatus = "archived"
	ConversationBlocked        ConversationStatus = "blocked"
	ConversationCancelled      ConversationStatus = "cancelled"
	ConversationDeleted        ConversationStatus = "deleted"
)

// Terminal reports whether the conversation no longer accepts bargaining.
func (s ConversationStatus) Terminal() bool {
	switch s {
	case ConversationCompleted, ConversationArchived, ConversationBlocked,
		ConversationCancelled, ConversationDeleted:
		return true
	}
	return false
}

// NegotiationPhase mirrors the negotiation state at conversation level
type NegotiationPhase string

const (
	PhaseInitial   NegotiationPhase = "initial"
	PhaseActive    NegotiationPhase = "active"
	PhaseCompleted NegotiationPhase = "completed"
)

// NegotiationStatus defines the state of a single offer
type NegotiationStatus string

const (
	NegotiationPending  NegotiationStatus = "pending"
	NegotiationAccepted NegotiationStatus = "accepted"
	NegotiationRejected NegotiationStatus = "rejected"
	NegotiationExpired  NegotiationStatus = "expired"
)

// NegotiationOffer is a single proposed price/terms package. Offers are
// embedded in the conversation metadata, never stored standalone.
type NegotiationOffer struct {
	ProposedPrice      float64           `json:"proposedPrice"`
	Timeline           string            `json:"timeline,omitempty"`
	AdditionalTerms    string            `json:"additionalTerms,omitempty"`
	ProposedBy         uuid.UUID         `json:"proposedBy"`
	ProposedAt         time.Time         `json:"proposedAt"`
	Status             NegotiationStatus `json:"status"`
	ExpiresAt          time.Time         `json:"expiresAt"`
	CounterOfferNumber int               `json:"counterOfferNumber"`
	AcceptedBy         *uuid.UUID        `json:"acceptedBy,omitempty"`
	AcceptedAt         *time.Time        `json:"acceptedAt,omitempty"`
	RejectedBy         *uuid.UUID        `json:"rejectedBy,omitempty"`
	RejectedAt         *time.Time        `json:"rejectedAt,omitempty"`
	RejectionReason    string            `json:"rejectionReason,omitempty"`
	CompletedAt        *time.Time        `json:"completedAt,omitempty"`
}

// Expired reports whether the offer's deadline has passed. Expiry is checked
// lazily on access, there is no background timer.
func (o *NegotiationOffer) Expired(now time.Time) bool {
	return now.After(o.ExpiresAt)
}

// ConversationSettings controls per-conversation behavior
type ConversationSettings struct {
	AllowFileUploads bool `json:"allowFileUploads"`
	AllowNegotiation bool `json:"allowNegotiation"`
	IsReadOnly       bool `json:"isReadOnly"`
}

// DefaultSettings returns the settings applied on first contact.
func DefaultSettings() ConversationSettings {
	return ConversationSettings{
		AllowFileUploads: true,
		AllowNegotiation: true,
	}
}

// ConversationMetadata holds the embedded negotiation state and the
// auto-close deadline. The invariant is that at most one offer is pending at
// any time: CurrentNegotiation is pending or nil, history holds only
// resolved offers.
type ConversationMetadata struct {
	NegotiationPhase   NegotiationPhase   `json:"negotiationPhase"`
	CurrentNegotiation *NegotiationOffer  `json:"currentNegotiation,omitempty"`
	NegotiationHistory []NegotiationOffer `json:"negotiationHistory,omitempty"`
	TotalNegotiations  int                `json:"totalNegotiations"`
	FinalAgreedPrice   *float64           `json:"finalAgreedPrice,omitempty"`
	AutoCloseEnabled   bool               `json:"autoCloseEnabled"`
	AutoCloseAt        *time.Time         `json:"autoCloseAt,omitempty"`
	AutoCloseReason    string             `json:"autoCloseReason,omitempty"`
}

// LastMessageSummary denormalizes the latest message for list views
type LastMessageSummary struct {
	MessageID uuid.UUID   `json:"messageId"`
	SenderID  uuid.UUID   `json:"senderId"`
	Preview   string      `json:"preview"`
	Type      MessageType `json:"type"`
	SentAt    time.Time   `json:"sentAt"`
}

// Conversation is the durable entity owning the negotiation state machine
type Conversation struct {
	ID           uuid.UUID                                    `gorm:"type:uuid;primaryKey;default:gen_random_uuid()" json:"conversationId"`
	JobListingID *uuid.UUID                                   `gorm:"type:uuid;index" json:"jobListingId,omitempty"`
	Status       ConversationStatus                           `gorm:"type:varchar(20);not null;default:'active'" json:"status"`
	Settings     datatypes.JSONType[ConversationSettings]     `json:"settings"`
	Metadata     datatypes.JSONType[ConversationMetadata]     `json:"metadata"`
	LastMessage  datatypes.JSONType[*LastMessageSummary]      `json:"lastMessage"`
	LastActivity time.Time                                    `gorm:"index" json:"lastActivity"`
	IsDeleted    bool                                         `gorm:"default:false;index" json:"isDeleted"`
	CreatedAt    time.Time                                    `gorm:"autoCreateTime" json:"createdAt"`
	UpdatedAt    time.Time                                    `gorm:"autoUpdateTime" json:"updatedAt"`
	Participants []ConversationParticipant                    `gorm:"foreignKey:ConversationID" json:"participants,omitempty"`
}

func (Conversation) TableName() string {
	return "conversations"
}

// ParticipantIDs returns the user ids of all active participants.
func (c *Conversation) ParticipantIDs() []uuid.UUID {
	ids := make([]uuid.UUID, 0, len(c.Participants))
	for _, p := range c.Participants {
		if p.IsActive {
			ids = append(ids, p.UserID)
		}
	}
	return ids
}

// HasParticipant reports whether userID is an active participant.
func (c *Conversation) HasParticipant(userID uuid.UUID) bool {
	for _, p := range c.Participants {
		if p.IsActive && p.UserID == userID {
			return true
		}
	}
	return false
}

// EvaluateAutoClose applies the auto-close deadline if it has passed.
// Returns true when the conversation transitioned to completed. The deadline
// is evaluated lazily on access, there is no per-conversation timer.
func (c *Conversation) EvaluateAutoClose(now time.Time) bool {
	meta := c.Metadata.Data()
	if !meta.AutoCloseEnabled || meta.AutoCloseAt == nil || c.Status.Terminal() {
		return false
	}
	if now.Before(*meta.AutoCloseAt) {
		return false
	}
	c.Status = ConversationCompleted
	meta.AutoCloseEnabled = false
	meta.AutoCloseAt = nil
	c.Metadata = datatypes.NewJSONType(meta)
	return true
}

// ConversationParticipant ties a user to a conversation and carries the
// per-user soft view state (archive / hide).
type ConversationParticipant struct {
	ID             uuid.UUID  `gorm:"type:uuid;primaryKey;default:gen_random_uuid()" json:"participantId"`
	ConversationID uuid.UUID  `gorm:"type:uuid;not null;index:idx_conversation_user" json:"conversationId"`
	UserID         uuid.UUID  `gorm:"type:uuid;not null;index:idx_conversation_user,idx_participant_user" json:"userId"`
	JoinedAt       time.Time  `gorm:"autoCreateTime" json:"joinedAt"`
	ArchivedAt     *time.Time `json:"archivedAt,omitempty"`
	HiddenAt       *time.Time `json:"hiddenAt,omitempty"`
	IsActive       bool       `gorm:"default:true" json:"isActive"`
}

func (ConversationParticipant) TableName() string {
	return "conversation_participants"
}
