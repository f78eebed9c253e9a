package ws

import (
	"encoding/json"

	"github.com/google/uuid"
)

// Envelope is the wire format for both directions: a named event plus its
// JSON payload.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Inbound payloads

type JoinConversationPayload struct {
	ConversationID uuid.UUID `json:"conversationId"`
}

type SendMessagePayload struct {
	ConversationID uuid.UUID  `json:"conversationId"`
	Content        string     `json:"content"`
	Type           string     `json:"type"`
	FileURL        *string    `json:"fileUrl,omitempty"`
	FileName       *string    `json:"fileName,omitempty"`
	FileSize       *int64     `json:"fileSize,omitempty"`
	ReplyTo        *uuid.UUID `json:"replyTo,omitempty"`
	TempID         string     `json:"tempId,omitempty"`
}

type MarkAsReadPayload struct {
	ConversationID uuid.UUID   `json:"conversationId"`
	MessageIDs     []uuid.UUID `json:"messageIds,omitempty"`
}

type TypingPayload struct {
	ConversationID uuid.UUID `json:"conversationId"`
	IsTyping       bool      `json:"isTyping"`
}

type ReactPayload struct {
	MessageID uuid.UUID `json:"messageId"`
	Emoji     string    `json:"emoji,omitempty"`
}

type EditMessagePayload struct {
	MessageID uuid.UUID `json:"messageId"`
	Content   string    `json:"content"`
}

type DeleteMessagePayload struct {
	MessageID uuid.UUID `json:"messageId"`
}

type StartNegotiationPayload struct {
	ConversationID  uuid.UUID `json:"conversationId"`
	ProposedPrice   float64   `json:"proposedPrice"`
	Timeline        string    `json:"timeline,omitempty"`
	AdditionalTerms string    `json:"additionalTerms,omitempty"`
}

type RespondToNegotiationPayload struct {
	ConversationID  uuid.UUID `json:"conversationId"`
	Action          string    `json:"action"` // accept | reject | counter
	RejectionReason string    `json:"rejectionReason,omitempty"`
	// Counter-offer fields, used when action == "counter"
	ProposedPrice   float64 `json:"proposedPrice,omitempty"`
	Timeline        string  `json:"timeline,omitempty"`
	AdditionalTerms string  `json:"additionalTerms,omitempty"`
}

// RelayPayload is the generic addressed relay used for call signaling and
// project/notification forwarding.
type RelayPayload struct {
	To      uuid.UUID       `json:"to"`
	From    uuid.UUID       `json:"from,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Outbound error payload; code is a stable string clients can branch on
type ErrorPayload struct {
	Message string `json:"message"`
	Code    string `json:"code"`
	TempID  string `json:"tempId,omitempty"`
}
