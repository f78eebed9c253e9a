package ws

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// PresenceEntry records a user's current live connection and activity recency
type PresenceEntry struct {
	UserID         uuid.UUID `json:"userId"`
	ConnID         string    `json:"connectionId"`
	Status         string    `json:"status"`
	ConnectedAt    time.Time `json:"connectedAt"`
	LastActivityAt time.Time `json:"lastActivityAt"`
}

// PresenceRegistry is the in-process source of truth for who is online.
// One entry per logical user; when a user opens a second connection the
// mapping is overwritten and the old connection stops receiving addressed
// deliveries. Entries are lost on process restart.
type PresenceRegistry struct {
	mu     sync.RWMutex
	byUser map[uuid.UUID]*PresenceEntry
	byConn map[string]uuid.UUID
}

func NewPresenceRegistry() *PresenceRegistry {
	return &PresenceRegistry{
		byUser: make(map[uuid.UUID]*PresenceEntry),
		byConn: make(map[string]uuid.UUID),
	}
}

// Register upserts the presence entry for userID. Last write wins.
func (r *PresenceRegistry) Register(userID uuid.UUID, connID string) *PresenceEntry {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	if prev, ok := r.byUser[userID]; ok {
		delete(r.byConn, prev.ConnID)
	}
	entry := &PresenceEntry{
		UserID:         userID,
		ConnID:         connID,
		Status:         "online",
		ConnectedAt:    now,
		LastActivityAt: now,
	}
	r.byUser[userID] = entry
	r.byConn[connID] = userID
	return entry
}

// Touch refreshes the user's last-activity timestamp. No broadcast.
func (r *PresenceRegistry) Touch(userID uuid.UUID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if entry, ok := r.byUser[userID]; ok {
		entry.LastActivityAt = time.Now()
	}
}

// Unregister removes the entry owned by connID and returns the owning user.
// Unknown connections are a no-op, never an error: disconnect races with
// register are expected, and a connection superseded by a newer one must not
// tear down the newer mapping.
func (r *PresenceRegistry) Unregister(connID string) (uuid.UUID, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	userID, ok := r.byConn[connID]
	if !ok {
		return uuid.Nil, false
	}
	delete(r.byConn, connID)
	if entry, ok := r.byUser[userID]; ok && entry.ConnID == connID {
		delete(r.byUser, userID)
	}
	return userID, true
}

// Lookup resolves a user to their current connection id
func (r *PresenceRegistry) Lookup(userID uuid.UUID) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entry, ok := r.byUser[userID]
	if !ok {
		return "", false
	}
	return entry.ConnID, true
}

// OnlineUserIDs returns the ids of all currently registered users
func (r *PresenceRegistry) OnlineUserIDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.byUser))
	for userID := range r.byUser {
		ids = append(ids, userID.String())
	}
	return ids
}

// IdleEntries returns a copy of every entry whose last activity is older
// than threshold. Used by the idle sweeper.
func (r *PresenceRegistry) IdleEntries(threshold time.Duration, now time.Time) []PresenceEntry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var idle []PresenceEntry
	for _, entry := range r.byUser {
		if now.Sub(entry.LastActivityAt) > threshold {
			idle = append(idle, *entry)
		}
	}
	return idle
}

// Len returns the number of registered users
func (r *PresenceRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byUser)
}
