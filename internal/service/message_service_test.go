package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/datatypes"

	"marketplace-chat-api/internal/client"
	"marketplace-chat-api/internal/domain"
	"marketplace-chat-api/internal/response"
)

func assertAppError(t *testing.T, err error, code string) {
	t.Helper()
	var appErr *response.AppError
	require.True(t, errors.As(err, &appErr), "expected AppError, got %v", err)
	assert.Equal(t, code, appErr.Code)
}

func newTestMessageService(convRepo *MockConversationRepository, msgRepo *MockMessageRepository, b Broadcaster) MessageService {
	return NewMessageService(convRepo, msgRepo, b, client.NewNoOpNotificationClient(), nil, zap.NewNop(), 24*time.Hour)
}

func TestMessageService_Send(t *testing.T) {
	sender := uuid.New()
	other := uuid.New()
	conversation := testConversation(sender, other)

	var created *domain.Message
	var updatedConv *domain.Conversation
	convRepo := &MockConversationRepository{
		FindByIDFunc: func(ctx context.Context, id uuid.UUID) (*domain.Conversation, error) {
			return conversation, nil
		},
		UpdateFunc: func(ctx context.Context, c *domain.Conversation) error {
			updatedConv = c
			return nil
		},
	}
	msgRepo := &MockMessageRepository{
		CreateFunc: func(ctx context.Context, m *domain.Message) error {
			created = m
			return nil
		},
	}
	broadcaster := newRecordingBroadcaster()
	svc := newTestMessageService(convRepo, msgRepo, broadcaster)

	message, err := svc.Send(context.Background(), sender, "conn-1", SendMessageInput{
		ConversationID: conversation.ID,
		Content:        "hello there",
		Type:           domain.MessageText,
	})
	require.NoError(t, err)
	require.NotNil(t, created)

	assert.Equal(t, "hello there", message.Content)
	assert.True(t, message.ReadByUser(sender), "sender gets an automatic read receipt")
	assert.False(t, message.ReadByUser(other))

	require.NotNil(t, updatedConv)
	last := updatedConv.LastMessage.Data()
	require.NotNil(t, last)
	assert.Equal(t, message.ID, last.MessageID)
	assert.Equal(t, "hello there", last.Preview)

	assert.Len(t, broadcaster.eventsNamed("newMessage"), 1)
	assert.Len(t, broadcaster.eventsNamed("conversationUpdated"), 2)
}

func TestMessageService_Send_NotParticipant(t *testing.T) {
	conversation := testConversation(uuid.New(), uuid.New())
	convRepo := &MockConversationRepository{
		FindByIDFunc: func(ctx context.Context, id uuid.UUID) (*domain.Conversation, error) {
			return conversation, nil
		},
	}
	svc := newTestMessageService(convRepo, &MockMessageRepository{}, newRecordingBroadcaster())

	_, err := svc.Send(context.Background(), uuid.New(), "", SendMessageInput{
		ConversationID: conversation.ID,
		Content:        "hi",
		Type:           domain.MessageText,
	})
	assertAppError(t, err, response.ErrCodeAccessDenied)
}

func TestMessageService_Send_ReadOnly(t *testing.T) {
	sender := uuid.New()
	conversation := testConversation(sender, uuid.New())
	conversation.Settings = datatypes.NewJSONType(domain.ConversationSettings{
		AllowFileUploads: true,
		AllowNegotiation: true,
		IsReadOnly:       true,
	})
	convRepo := &MockConversationRepository{
		FindByIDFunc: func(ctx context.Context, id uuid.UUID) (*domain.Conversation, error) {
			return conversation, nil
		},
	}
	svc := newTestMessageService(convRepo, &MockMessageRepository{}, newRecordingBroadcaster())

	_, err := svc.Send(context.Background(), sender, "", SendMessageInput{
		ConversationID: conversation.ID,
		Content:        "hi",
		Type:           domain.MessageText,
	})
	assertAppError(t, err, response.ErrCodeReadOnlyConversation)
}

func TestMessageService_Send_TerminalStatus(t *testing.T) {
	sender := uuid.New()
	conversation := testConversation(sender, uuid.New())
	conversation.Status = domain.ConversationCompleted
	convRepo := &MockConversationRepository{
		FindByIDFunc: func(ctx context.Context, id uuid.UUID) (*domain.Conversation, error) {
			return conversation, nil
		},
	}
	svc := newTestMessageService(convRepo, &MockMessageRepository{}, newRecordingBroadcaster())

	_, err := svc.Send(context.Background(), sender, "", SendMessageInput{
		ConversationID: conversation.ID,
		Content:        "hi",
		Type:           domain.MessageText,
	})
	assertAppError(t, err, response.ErrCodeReadOnlyConversation)
}

func TestMessageService_Send_FileUploadsDisabled(t *testing.T) {
	sender := uuid.New()
	conversation := testConversation(sender, uuid.New())
	conversation.Settings = datatypes.NewJSONType(domain.ConversationSettings{
		AllowFileUploads: false,
		AllowNegotiation: true,
	})
	convRepo := &MockConversationRepository{
		FindByIDFunc: func(ctx context.Context, id uuid.UUID) (*domain.Conversation, error) {
			return conversation, nil
		},
	}
	svc := newTestMessageService(convRepo, &MockMessageRepository{}, newRecordingBroadcaster())

	fileURL := "https://storage.example.com/f/doc.pdf"
	_, err := svc.Send(context.Background(), sender, "", SendMessageInput{
		ConversationID: conversation.ID,
		Type:           domain.MessageFile,
		FileURL:        &fileURL,
	})
	assertAppError(t, err, response.ErrCodeValidation)
}

func TestMessageService_Send_EmptyContent(t *testing.T) {
	sender := uuid.New()
	conversation := testConversation(sender, uuid.New())
	convRepo := &MockConversationRepository{
		FindByIDFunc: func(ctx context.Context, id uuid.UUID) (*domain.Conversation, error) {
			return conversation, nil
		},
	}
	svc := newTestMessageService(convRepo, &MockMessageRepository{}, newRecordingBroadcaster())

	_, err := svc.Send(context.Background(), sender, "", SendMessageInput{
		ConversationID: conversation.ID,
		Content:        "   ",
		Type:           domain.MessageText,
	})
	assertAppError(t, err, response.ErrCodeValidation)
}

func TestMessageService_Send_ReservedTypes(t *testing.T) {
	sender := uuid.New()
	conversation := testConversation(sender, uuid.New())
	convRepo := &MockConversationRepository{
		FindByIDFunc: func(ctx context.Context, id uuid.UUID) (*domain.Conversation, error) {
			return conversation, nil
		},
	}
	broadcaster := newRecordingBroadcaster()
	svc := newTestMessageService(convRepo, &MockMessageRepository{}, broadcaster)

	// System and negotiation messages are rendered server-side only.
	for _, msgType := range []domain.MessageType{domain.MessageSystem, domain.MessageNegotiation} {
		_, err := svc.Send(context.Background(), sender, "", SendMessageInput{
			ConversationID: conversation.ID,
			Content:        "forged",
			Type:           msgType,
		})
		assertAppError(t, err, response.ErrCodeUnsupportedMessageType)
	}
	assert.Empty(t, broadcaster.eventsNamed("newMessage"))
}

func TestMessageService_MarkRead_Idempotent(t *testing.T) {
	reader := uuid.New()
	sender := uuid.New()
	conversation := testConversation(reader, sender)

	unread := domain.Message{
		ID:             uuid.New(),
		ConversationID: conversation.ID,
		SenderID:       sender,
		Content:        "first",
		Type:           domain.MessageText,
	}
	alreadyRead := domain.Message{
		ID:             uuid.New(),
		ConversationID: conversation.ID,
		SenderID:       sender,
		Content:        "second",
		Type:           domain.MessageText,
		ReadBy:         datatypes.NewJSONSlice([]domain.ReadReceipt{{UserID: reader, ReadAt: time.Now()}}),
	}
	own := domain.Message{
		ID:             uuid.New(),
		ConversationID: conversation.ID,
		SenderID:       reader,
		Content:        "mine",
		Type:           domain.MessageText,
	}

	var updates int
	convRepo := &MockConversationRepository{
		FindByIDFunc: func(ctx context.Context, id uuid.UUID) (*domain.Conversation, error) {
			return conversation, nil
		},
	}
	msgRepo := &MockMessageRepository{
		FindByIDsFunc: func(ctx context.Context, ids []uuid.UUID) ([]domain.Message, error) {
			return []domain.Message{unread, alreadyRead, own}, nil
		},
		UpdateFunc: func(ctx context.Context, m *domain.Message) error {
			updates++
			return nil
		},
	}
	broadcaster := newRecordingBroadcaster()
	svc := newTestMessageService(convRepo, msgRepo, broadcaster)

	marked, err := svc.MarkRead(context.Background(), reader, conversation.ID,
		[]uuid.UUID{unread.ID, alreadyRead.ID, own.ID})
	require.NoError(t, err)

	assert.Equal(t, []uuid.UUID{unread.ID}, marked)
	assert.Equal(t, 1, updates, "only the unread received message gets a new receipt")
	assert.Len(t, broadcaster.eventsNamed("messagesRead"), 1)
}

func TestMessageService_MarkRead_NothingToMark(t *testing.T) {
	reader := uuid.New()
	conversation := testConversation(reader, uuid.New())
	convRepo := &MockConversationRepository{
		FindByIDFunc: func(ctx context.Context, id uuid.UUID) (*domain.Conversation, error) {
			return conversation, nil
		},
	}
	msgRepo := &MockMessageRepository{
		FindReceivedFunc: func(ctx context.Context, conversationID, userID uuid.UUID) ([]domain.Message, error) {
			return nil, nil
		},
	}
	broadcaster := newRecordingBroadcaster()
	svc := newTestMessageService(convRepo, msgRepo, broadcaster)

	marked, err := svc.MarkRead(context.Background(), reader, conversation.ID, nil)
	require.NoError(t, err)
	assert.Empty(t, marked)
	assert.Empty(t, broadcaster.eventsNamed("messagesRead"))
}

func TestMessageService_React_ReplacesPrevious(t *testing.T) {
	reactor := uuid.New()
	conversation := testConversation(reactor, uuid.New())
	message := &domain.Message{
		ID:             uuid.New(),
		ConversationID: conversation.ID,
		SenderID:       uuid.New(),
		Content:        "nice work",
		Type:           domain.MessageText,
		Reactions: datatypes.NewJSONSlice([]domain.Reaction{
			{UserID: reactor, Emoji: "👍", ReactedAt: time.Now()},
		}),
	}

	convRepo := &MockConversationRepository{}
	msgRepo := &MockMessageRepository{
		FindByIDFunc: func(ctx context.Context, id uuid.UUID) (*domain.Message, error) {
			return message, nil
		},
	}
	svc := newTestMessageService(convRepo, msgRepo, newRecordingBroadcaster())

	updated, err := svc.React(context.Background(), reactor, message.ID, "🎉")
	require.NoError(t, err)

	reaction, ok := updated.ReactionOf(reactor)
	require.True(t, ok)
	assert.Equal(t, "🎉", reaction.Emoji)
	assert.Len(t, updated.Reactions, 1, "a new reaction replaces the previous one")
}

func TestMessageService_Edit(t *testing.T) {
	sender := uuid.New()
	conversation := testConversation(sender, uuid.New())
	message := &domain.Message{
		ID:             uuid.New(),
		ConversationID: conversation.ID,
		SenderID:       sender,
		Content:        "orignal",
		Type:           domain.MessageText,
		CreatedAt:      time.Now().Add(-time.Hour),
	}
	msgRepo := &MockMessageRepository{
		FindByIDFunc: func(ctx context.Context, id uuid.UUID) (*domain.Message, error) {
			return message, nil
		},
	}
	svc := newTestMessageService(&MockConversationRepository{}, msgRepo, newRecordingBroadcaster())

	updated, err := svc.Edit(context.Background(), sender, message.ID, "original")
	require.NoError(t, err)
	assert.Equal(t, "original", updated.Content)
	require.Len(t, updated.EditHistory, 1)
	assert.Equal(t, "orignal", updated.EditHistory[0].Content)
}

func TestMessageService_Edit_RevokedMembership(t *testing.T) {
	sender := uuid.New()
	conversation := testConversation(sender, uuid.New())
	message := &domain.Message{
		ID:             uuid.New(),
		ConversationID: conversation.ID,
		SenderID:       sender,
		Content:        "hello",
		Type:           domain.MessageText,
		CreatedAt:      time.Now(),
	}
	convRepo := &MockConversationRepository{
		IsParticipantFunc: func(ctx context.Context, conversationID, userID uuid.UUID) (bool, error) {
			return false, nil
		},
	}
	msgRepo := &MockMessageRepository{
		FindByIDFunc: func(ctx context.Context, id uuid.UUID) (*domain.Message, error) {
			return message, nil
		},
	}
	svc := newTestMessageService(convRepo, msgRepo, newRecordingBroadcaster())

	// Authorship does not outlive membership.
	_, err := svc.Edit(context.Background(), sender, message.ID, "changed")
	assertAppError(t, err, response.ErrCodeAccessDenied)
	assert.Equal(t, "hello", message.Content)
}

func TestMessageService_SoftDelete_RevokedMembership(t *testing.T) {
	sender := uuid.New()
	conversation := testConversation(sender, uuid.New())
	message := &domain.Message{
		ID:             uuid.New(),
		ConversationID: conversation.ID,
		SenderID:       sender,
		Content:        "hello",
		Type:           domain.MessageText,
		CreatedAt:      time.Now(),
	}
	convRepo := &MockConversationRepository{
		IsParticipantFunc: func(ctx context.Context, conversationID, userID uuid.UUID) (bool, error) {
			return false, nil
		},
	}
	msgRepo := &MockMessageRepository{
		FindByIDFunc: func(ctx context.Context, id uuid.UUID) (*domain.Message, error) {
			return message, nil
		},
	}
	broadcaster := newRecordingBroadcaster()
	svc := newTestMessageService(convRepo, msgRepo, broadcaster)

	_, err := svc.SoftDelete(context.Background(), sender, message.ID)
	assertAppError(t, err, response.ErrCodeAccessDenied)
	assert.False(t, message.IsDeleted)
	assert.Empty(t, broadcaster.eventsNamed("messageDeleted"))
}

func TestMessageService_Edit_Errors(t *testing.T) {
	sender := uuid.New()
	conversation := testConversation(sender, uuid.New())

	cases := []struct {
		name     string
		message  domain.Message
		editor   uuid.UUID
		wantCode string
	}{
		{
			name: "not the sender",
			message: domain.Message{
				ID: uuid.New(), ConversationID: conversation.ID, SenderID: sender,
				Content: "x", Type: domain.MessageText, CreatedAt: time.Now(),
			},
			editor:   uuid.New(),
			wantCode: response.ErrCodeForbidden,
		},
		{
			name: "non-text message",
			message: domain.Message{
				ID: uuid.New(), ConversationID: conversation.ID, SenderID: sender,
				Content: "f", Type: domain.MessageFile, CreatedAt: time.Now(),
			},
			editor:   sender,
			wantCode: response.ErrCodeUnsupportedMessageType,
		},
		{
			name: "window expired",
			message: domain.Message{
				ID: uuid.New(), ConversationID: conversation.ID, SenderID: sender,
				Content: "x", Type: domain.MessageText, CreatedAt: time.Now().Add(-25 * time.Hour),
			},
			editor:   sender,
			wantCode: response.ErrCodeEditWindowExpired,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			msg := tc.message
			msgRepo := &MockMessageRepository{
				FindByIDFunc: func(ctx context.Context, id uuid.UUID) (*domain.Message, error) {
					return &msg, nil
				},
			}
			svc := newTestMessageService(&MockConversationRepository{}, msgRepo, newRecordingBroadcaster())

			_, err := svc.Edit(context.Background(), tc.editor, msg.ID, "new content")
			assertAppError(t, err, tc.wantCode)
		})
	}
}

func TestMessageService_SoftDelete(t *testing.T) {
	sender := uuid.New()
	conversation := testConversation(sender, uuid.New())
	message := &domain.Message{
		ID:             uuid.New(),
		ConversationID: conversation.ID,
		SenderID:       sender,
		Content:        "remove me",
		Type:           domain.MessageText,
	}
	convRepo := &MockConversationRepository{
		FindByIDFunc: func(ctx context.Context, id uuid.UUID) (*domain.Conversation, error) {
			return conversation, nil
		},
	}
	msgRepo := &MockMessageRepository{
		FindByIDFunc: func(ctx context.Context, id uuid.UUID) (*domain.Message, error) {
			return message, nil
		},
	}
	broadcaster := newRecordingBroadcaster()
	svc := newTestMessageService(convRepo, msgRepo, broadcaster)

	deleted, err := svc.SoftDelete(context.Background(), sender, message.ID)
	require.NoError(t, err)

	assert.True(t, deleted.IsDeleted)
	assert.Equal(t, "", deleted.Masked(), "deleted content is masked")
	assert.Equal(t, &sender, deleted.DeletedBy)
	assert.Len(t, broadcaster.eventsNamed("messageDeleted"), 1)
}

func TestMessageService_SoftDelete_SystemMessage(t *testing.T) {
	sender := uuid.New()
	message := &domain.Message{
		ID:       uuid.New(),
		SenderID: sender,
		Content:  "Conversation will close automatically",
		Type:     domain.MessageSystem,
	}
	msgRepo := &MockMessageRepository{
		FindByIDFunc: func(ctx context.Context, id uuid.UUID) (*domain.Message, error) {
			return message, nil
		},
	}
	svc := newTestMessageService(&MockConversationRepository{}, msgRepo, newRecordingBroadcaster())

	_, err := svc.SoftDelete(context.Background(), sender, message.ID)
	assertAppError(t, err, response.ErrCodeSystemMessageImmutable)
}

func TestMessageService_UnreadCount(t *testing.T) {
	reader := uuid.New()
	sender := uuid.New()
	conversationID := uuid.New()

	msgRepo := &MockMessageRepository{
		FindReceivedFunc: func(ctx context.Context, cid, uid uuid.UUID) ([]domain.Message, error) {
			return []domain.Message{
				{ID: uuid.New(), SenderID: sender},
				{ID: uuid.New(), SenderID: sender},
				{ID: uuid.New(), SenderID: sender,
					ReadBy: datatypes.NewJSONSlice([]domain.ReadReceipt{{UserID: reader, ReadAt: time.Now()}})},
			}, nil
		},
	}
	svc := newTestMessageService(&MockConversationRepository{}, msgRepo, newRecordingBroadcaster())

	count, err := svc.UnreadCount(context.Background(), reader, conversationID)
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}
