package ws

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"marketplace-chat-api/internal/database"
	"marketplace-chat-api/internal/metrics"
)

// Room key families. One room per conversation, one per user's
// conversation-list view.
func ConversationRoom(conversationID uuid.UUID) string {
	return fmt.Sprintf("conversation:%s", conversationID)
}

func UserListRoom(userID uuid.UUID) string {
	return fmt.Sprintf("userConversationsList:%s", userID)
}

// Hub owns the room membership tables and delivers events to connected
// clients. Membership mutations are single non-yielding steps under the
// hub mutex; callers that awaited I/O in between must tolerate targets
// having disconnected (delivery degrades to a no-op).
type Hub struct {
	mu        sync.RWMutex
	clients   map[string]*Client            // connID -> client
	rooms     map[string]map[string]*Client // roomKey -> connID -> client
	connRooms map[string]map[string]bool    // connID -> roomKeys joined

	registry    *PresenceRegistry
	logger      *zap.Logger
	metrics     *metrics.Metrics
	presenceTTL time.Duration
}

func NewHub(registry *PresenceRegistry, logger *zap.Logger, m *metrics.Metrics, presenceTTL time.Duration) *Hub {
	return &Hub{
		clients:     make(map[string]*Client),
		rooms:       make(map[string]map[string]*Client),
		connRooms:   make(map[string]map[string]bool),
		registry:    registry,
		logger:      logger,
		metrics:     m,
		presenceTTL: presenceTTL,
	}
}

// Register adds a connected client, announces it and sends the online list
// back to the requester.
func (h *Hub) Register(client *Client) {
	h.mu.Lock()
	h.clients[client.ID] = client
	h.mu.Unlock()

	h.registry.Register(client.UserID, client.ID)
	h.JoinRoom(client, UserListRoom(client.UserID))

	if err := database.SetUserOnline(client.UserID.String(), h.presenceTTL); err == nil {
		h.logger.Debug("presence mirror updated", zap.String("user_id", client.UserID.String()))
	}

	if h.metrics != nil {
		h.metrics.WSConnections.Inc()
	}

	h.BroadcastAll("userOnline", map[string]interface{}{
		"userId":      client.UserID.String(),
		"connectedAt": time.Now().UTC(),
	}, client.ID)
	h.SendToClient(client, "onlineUsersList", h.registry.OnlineUserIDs())

	h.logger.Info("client registered",
		zap.String("conn_id", client.ID),
		zap.String("user_id", client.UserID.String()))
}

// Unregister removes a client and, if it still owned the presence entry,
// announces the departure. Safe to call more than once per client.
func (h *Hub) Unregister(client *Client) {
	h.mu.Lock()
	current, ok := h.clients[client.ID]
	if !ok || current != client {
		h.mu.Unlock()
		return
	}
	delete(h.clients, client.ID)
	for roomKey := range h.connRooms[client.ID] {
		h.removeFromRoomLocked(client.ID, roomKey)
	}
	delete(h.connRooms, client.ID)
	h.mu.Unlock()

	close(client.send)

	if h.metrics != nil {
		h.metrics.WSConnections.Dec()
	}

	userID, owned := h.registry.Unregister(client.ID)
	if !owned {
		// Connection was superseded by a newer one for the same user;
		// the user is still online.
		h.logger.Debug("stale connection closed", zap.String("conn_id", client.ID))
		return
	}

	_ = database.SetUserOffline(userID.String())

	h.BroadcastAll("userOffline", map[string]interface{}{
		"userId": userID.String(),
	}, "")
	h.BroadcastAll("onlineUsersList", h.registry.OnlineUserIDs(), "")

	h.logger.Info("client unregistered",
		zap.String("conn_id", client.ID),
		zap.String("user_id", userID.String()))
}

// EvictIdle drops every connection whose presence entry has been inactive
// longer than threshold. Returns the ids of evicted users. Each eviction
// produces exactly one offline broadcast; the subsequent pump shutdown
// finds the client already removed and no-ops.
func (h *Hub) EvictIdle(threshold time.Duration) []uuid.UUID {
	idle := h.registry.IdleEntries(threshold, time.Now())
	evicted := make([]uuid.UUID, 0, len(idle))
	for _, entry := range idle {
		h.mu.RLock()
		client, ok := h.clients[entry.ConnID]
		h.mu.RUnlock()
		if !ok {
			// Entry without a live client (already closing); drop the
			// registry entry directly.
			h.registry.Unregister(entry.ConnID)
			continue
		}
		h.Unregister(client)
		if client.conn != nil {
			client.conn.Close()
		}
		evicted = append(evicted, entry.UserID)
	}
	return evicted
}

func (h *Hub) JoinRoom(client *Client, roomKey string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[client.ID]; !ok {
		return
	}
	if h.rooms[roomKey] == nil {
		h.rooms[roomKey] = make(map[string]*Client)
	}
	h.rooms[roomKey][client.ID] = client
	if h.connRooms[client.ID] == nil {
		h.connRooms[client.ID] = make(map[string]bool)
	}
	h.connRooms[client.ID][roomKey] = true
}

func (h *Hub) LeaveRoom(client *Client, roomKey string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.removeFromRoomLocked(client.ID, roomKey)
	if rooms, ok := h.connRooms[client.ID]; ok {
		delete(rooms, roomKey)
	}
}

func (h *Hub) removeFromRoomLocked(connID, roomKey string) {
	if members, ok := h.rooms[roomKey]; ok {
		delete(members, connID)
		if len(members) == 0 {
			delete(h.rooms, roomKey)
		}
	}
}

// Broadcast delivers event/data to every member of roomKey except the
// excluded connection. The event is also mirrored to redis best-effort.
func (h *Hub) Broadcast(roomKey, event string, data interface{}, excludeConn string) {
	payload, err := marshalEvent(event, data)
	if err != nil {
		h.logger.Error("failed to marshal event", zap.String("event", event), zap.Error(err))
		return
	}

	h.mu.RLock()
	members := make([]*Client, 0, len(h.rooms[roomKey]))
	for connID, client := range h.rooms[roomKey] {
		if connID == excludeConn {
			continue
		}
		members = append(members, client)
	}
	h.mu.RUnlock()

	for _, client := range members {
		client.enqueue(payload)
	}

	if err := database.PublishRoomEvent(roomKey, payload); err == nil && h.metrics != nil {
		h.metrics.EventsMirrored.Inc()
	}
}

// ToConversation broadcasts to the conversation's room
func (h *Hub) ToConversation(conversationID uuid.UUID, event string, data interface{}, excludeConn string) {
	h.Broadcast(ConversationRoom(conversationID), event, data, excludeConn)
}

// ToUserList broadcasts to the user's conversation-list room
func (h *Hub) ToUserList(userID uuid.UUID, event string, data interface{}) {
	h.Broadcast(UserListRoom(userID), event, data, "")
}

// ToUser resolves the user through the presence registry and delivers
// directly. Returns false (silent drop) when the user is offline; queued
// offline delivery belongs to the notification collaborator.
func (h *Hub) ToUser(userID uuid.UUID, event string, data interface{}) bool {
	connID, ok := h.registry.Lookup(userID)
	if !ok {
		return false
	}

	h.mu.RLock()
	client, ok := h.clients[connID]
	h.mu.RUnlock()
	if !ok {
		return false
	}

	payload, err := marshalEvent(event, data)
	if err != nil {
		h.logger.Error("failed to marshal event", zap.String("event", event), zap.Error(err))
		return false
	}
	client.enqueue(payload)
	return true
}

// Online reports whether the user has a live connection.
func (h *Hub) Online(userID uuid.UUID) bool {
	_, ok := h.registry.Lookup(userID)
	return ok
}

// BroadcastAll delivers to every connected client except excludeConn
func (h *Hub) BroadcastAll(event string, data interface{}, excludeConn string) {
	payload, err := marshalEvent(event, data)
	if err != nil {
		h.logger.Error("failed to marshal event", zap.String("event", event), zap.Error(err))
		return
	}

	h.mu.RLock()
	targets := make([]*Client, 0, len(h.clients))
	for connID, client := range h.clients {
		if connID == excludeConn {
			continue
		}
		targets = append(targets, client)
	}
	h.mu.RUnlock()

	for _, client := range targets {
		client.enqueue(payload)
	}
}

// SendToClient delivers directly to one connection
func (h *Hub) SendToClient(client *Client, event string, data interface{}) {
	payload, err := marshalEvent(event, data)
	if err != nil {
		h.logger.Error("failed to marshal event", zap.String("event", event), zap.Error(err))
		return
	}
	client.enqueue(payload)
}

// Registry exposes the presence registry to collaborators (sweeper, relay)
func (h *Hub) Registry() *PresenceRegistry {
	return h.registry
}

func marshalEvent(event string, data interface{}) ([]byte, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Envelope{Event: event, Data: raw})
}
