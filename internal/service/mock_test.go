package service

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"

	"marketplace-chat-api/internal/client"
	"marketplace-chat-api/internal/domain"
)

// MockConversationRepository is a mock implementation of ConversationRepository
type MockConversationRepository struct {
	CreateFunc          func(ctx context.Context, conversation *domain.Conversation) error
	FindByIDFunc        func(ctx context.Context, id uuid.UUID) (*domain.Conversation, error)
	FindBetweenFunc     func(ctx context.Context, userA, userB uuid.UUID, jobListingID *uuid.UUID) (*domain.Conversation, error)
	FindByUserFunc      func(ctx context.Context, userID uuid.UUID) ([]domain.Conversation, error)
	UpdateFunc          func(ctx context.Context, conversation *domain.Conversation) error
	AddParticipantFunc  func(ctx context.Context, participant *domain.ConversationParticipant) error
	GetParticipantsFunc func(ctx context.Context, conversationID uuid.UUID) ([]domain.ConversationParticipant, error)
	IsParticipantFunc   func(ctx context.Context, conversationID, userID uuid.UUID) (bool, error)
	SetArchivedFunc     func(ctx context.Context, conversationID, userID uuid.UUID, archivedAt *time.Time) error
	SetHiddenFunc       func(ctx context.Context, conversationID, userID uuid.UUID, hiddenAt *time.Time) error
}

func (m *MockConversationRepository) Create(ctx context.Context, conversation *domain.Conversation) error {
	if m.CreateFunc != nil {
		return m.CreateFunc(ctx, conversation)
	}
	return nil
}

func (m *MockConversationRepository) FindByID(ctx context.Context, id uuid.UUID) (*domain.Conversation, error) {
	if m.FindByIDFunc != nil {
		return m.FindByIDFunc(ctx, id)
	}
	return nil, nil
}

func (m *MockConversationRepository) FindBetween(ctx context.Context, userA, userB uuid.UUID, jobListingID *uuid.UUID) (*domain.Conversation, error) {
	if m.FindBetweenFunc != nil {
		return m.FindBetweenFunc(ctx, userA, userB, jobListingID)
	}
	return nil, nil
}

func (m *MockConversationRepository) FindByUser(ctx context.Context, userID uuid.UUID) ([]domain.Conversation, error) {
	if m.FindByUserFunc != nil {
		return m.FindByUserFunc(ctx, userID)
	}
	return nil, nil
}

func (m *MockConversationRepository) Update(ctx context.Context, conversation *domain.Conversation) error {
	if m.UpdateFunc != nil {
		return m.UpdateFunc(ctx, conversation)
	}
	return nil
}

func (m *MockConversationRepository) AddParticipant(ctx context.Context, participant *domain.ConversationParticipant) error {
	if m.AddParticipantFunc != nil {
		return m.AddParticipantFunc(ctx, participant)
	}
	return nil
}

func (m *MockConversationRepository) GetParticipants(ctx context.Context, conversationID uuid.UUID) ([]domain.ConversationParticipant, error) {
	if m.GetParticipantsFunc != nil {
		return m.GetParticipantsFunc(ctx, conversationID)
	}
	return nil, nil
}

func (m *MockConversationRepository) IsParticipant(ctx context.Context, conversationID, userID uuid.UUID) (bool, error) {
	if m.IsParticipantFunc != nil {
		return m.IsParticipantFunc(ctx, conversationID, userID)
	}
	return true, nil
}

func (m *MockConversationRepository) SetArchived(ctx context.Context, conversationID, userID uuid.UUID, archivedAt *time.Time) error {
	if m.SetArchivedFunc != nil {
		return m.SetArchivedFunc(ctx, conversationID, userID, archivedAt)
	}
	return nil
}

func (m *MockConversationRepository) SetHidden(ctx context.Context, conversationID, userID uuid.UUID, hiddenAt *time.Time) error {
	if m.SetHiddenFunc != nil {
		return m.SetHiddenFunc(ctx, conversationID, userID, hiddenAt)
	}
	return nil
}

// MockMessageRepository is a mock implementation of MessageRepository
type MockMessageRepository struct {
	CreateFunc             func(ctx context.Context, message *domain.Message) error
	FindByIDFunc           func(ctx context.Context, id uuid.UUID) (*domain.Message, error)
	FindByIDsFunc          func(ctx context.Context, ids []uuid.UUID) ([]domain.Message, error)
	FindByConversationFunc func(ctx context.Context, conversationID uuid.UUID, limit, offset int) ([]domain.Message, error)
	FindReceivedFunc       func(ctx context.Context, conversationID, userID uuid.UUID) ([]domain.Message, error)
	UpdateFunc             func(ctx context.Context, message *domain.Message) error
}

func (m *MockMessageRepository) Create(ctx context.Context, message *domain.Message) error {
	if m.CreateFunc != nil {
		return m.CreateFunc(ctx, message)
	}
	return nil
}

func (m *MockMessageRepository) FindByID(ctx context.Context, id uuid.UUID) (*domain.Message, error) {
	if m.FindByIDFunc != nil {
		return m.FindByIDFunc(ctx, id)
	}
	return nil, nil
}

func (m *MockMessageRepository) FindByIDs(ctx context.Context, ids []uuid.UUID) ([]domain.Message, error) {
	if m.FindByIDsFunc != nil {
		return m.FindByIDsFunc(ctx, ids)
	}
	return nil, nil
}

func (m *MockMessageRepository) FindByConversation(ctx context.Context, conversationID uuid.UUID, limit, offset int) ([]domain.Message, error) {
	if m.FindByConversationFunc != nil {
		return m.FindByConversationFunc(ctx, conversationID, limit, offset)
	}
	return nil, nil
}

func (m *MockMessageRepository) FindReceived(ctx context.Context, conversationID, userID uuid.UUID) ([]domain.Message, error) {
	if m.FindReceivedFunc != nil {
		return m.FindReceivedFunc(ctx, conversationID, userID)
	}
	return nil, nil
}

func (m *MockMessageRepository) Update(ctx context.Context, message *domain.Message) error {
	if m.UpdateFunc != nil {
		return m.UpdateFunc(ctx, message)
	}
	return nil
}

// broadcastRecord captures a single broadcast for assertions
type broadcastRecord struct {
	Target string
	Event  string
	Data   interface{}
}

// recordingBroadcaster captures every event instead of delivering it
type recordingBroadcaster struct {
	mu     sync.Mutex
	events []broadcastRecord
	online map[uuid.UUID]bool
}

func newRecordingBroadcaster() *recordingBroadcaster {
	return &recordingBroadcaster{online: make(map[uuid.UUID]bool)}
}

func (b *recordingBroadcaster) ToConversation(conversationID uuid.UUID, event string, data interface{}, excludeConn string) {
	b.record("conversation:"+conversationID.String(), event, data)
}

func (b *recordingBroadcaster) ToUserList(userID uuid.UUID, event string, data interface{}) {
	b.record("userList:"+userID.String(), event, data)
}

func (b *recordingBroadcaster) ToUser(userID uuid.UUID, event string, data interface{}) bool {
	b.record("user:"+userID.String(), event, data)
	return b.Online(userID)
}

func (b *recordingBroadcaster) Online(userID uuid.UUID) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.online[userID]
}

func (b *recordingBroadcaster) record(target, event string, data interface{}) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, broadcastRecord{Target: target, Event: event, Data: data})
}

func (b *recordingBroadcaster) eventsNamed(event string) []broadcastRecord {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []broadcastRecord
	for _, e := range b.events {
		if e.Event == event {
			out = append(out, e)
		}
	}
	return out
}

// testConversation builds an active two-party conversation with defaults
func testConversation(userA, userB uuid.UUID) *domain.Conversation {
	id := uuid.New()
	return &domain.Conversation{
		ID:           id,
		Status:       domain.ConversationActive,
		Settings:     datatypes.NewJSONType(domain.DefaultSettings()),
		Metadata:     datatypes.NewJSONType(domain.ConversationMetadata{NegotiationPhase: domain.PhaseInitial}),
		LastActivity: time.Now().UTC(),
		Participants: []domain.ConversationParticipant{
			{ID: uuid.New(), ConversationID: id, UserID: userA, IsActive: true},
			{ID: uuid.New(), ConversationID: id, UserID: userB, IsActive: true},
		},
	}
}

var _ client.NotificationClient = (*client.NoOpNotificationClient)(nil)
