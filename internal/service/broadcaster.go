package service

import (
	"github.com/google/uuid"
)

// Broadcaster pushes realtime events to connected clients. Implemented by
// the websocket hub; services never talk to connections directly.
type Broadcaster interface {
	// ToConversation delivers to every member of the conversation room,
	// optionally excluding one connection.
	ToConversation(conversationID uuid.UUID, event string, data interface{}, excludeConn string)
	// ToUserList delivers to the user's conversation-list room.
	ToUserList(userID uuid.UUID, event string, data interface{})
	// ToUser delivers directly to the user's connection. Returns false when
	// the user is offline.
	ToUser(userID uuid.UUID, event string, data interface{}) bool
	// Online reports whether the user has a live connection.
	Online(userID uuid.UUID) bool
}

// noopBroadcaster drops everything. Used when the hub is not wired yet.
type noopBroadcaster struct{}

func (noopBroadcaster) ToConversation(uuid.UUID, string, interface{}, string) {}
func (noopBroadcaster) ToUserList(uuid.UUID, string, interface{})             {}
func (noopBroadcaster) ToUser(uuid.UUID, string, interface{}) bool            { return false }
func (noopBroadcaster) Online(uuid.UUID) bool                                 { return false }

// NewNoopBroadcaster returns a Broadcaster that discards all events.
func NewNoopBroadcaster() Broadcaster {
	return noopBroadcaster{}
}
