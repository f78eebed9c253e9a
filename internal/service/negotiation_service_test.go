package service

import (
	"context"
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

func newTestNegotiationService(convRepo *MockConversationRepository, msgRepo *MockMessageRepository, b Broadcaster) NegotiationService {
	return NewNegotiationService(convRepo, msgRepo, b, client.NewNoOpNotificationClient(), nil, zap.NewNop(),
		7*24*time.Hour, 24*time.Hour)
}

// inMemoryConvRepo keeps a single conversation's state across calls so the
// state machine can be driven through multiple transitions.
func inMemoryConvRepo(conversation *domain.Conversation) *MockConversationRepository {
	return &MockConversationRepository{
		FindByIDFunc: func(ctx context.Context, id uuid.UUID) (*domain.Conversation, error) {
			copied := *conversation
			return &copied, nil
		},
		UpdateFunc: func(ctx context.Context, c *domain.Conversation) error {
			*conversation = *c
			return nil
		},
	}
}

func TestNegotiationService_Start(t *testing.T) {
	freelancer := uuid.New()
	clientUser := uuid.New()
	conversation := testConversation(freelancer, clientUser)

	convRepo := inMemoryConvRepo(conversation)
	broadcaster := newRecordingBroadcaster()
	svc := newTestNegotiationService(convRepo, &MockMessageRepository{}, broadcaster)

	result, err := svc.Start(context.Background(), freelancer, StartNegotiationInput{
		ConversationID: conversation.ID,
		ProposedPrice:  500,
		Timeline:       "2 weeks",
	})
	require.NoError(t, err)

	assert.Equal(t, domain.ConversationNegotiating, conversation.Status)
	meta := conversation.Metadata.Data()
	require.NotNil(t, meta.CurrentNegotiation)
	assert.Equal(t, 500.0, meta.CurrentNegotiation.ProposedPrice)
	assert.Equal(t, domain.NegotiationPending, meta.CurrentNegotiation.Status)
	assert.Equal(t, domain.PhaseActive, meta.NegotiationPhase)
	assert.Equal(t, 1, meta.TotalNegotiations)
	assert.Equal(t, 0, result.Offer.CounterOfferNumber)
	assert.Len(t, broadcaster.eventsNamed("negotiationStarted"), 1)
}

func TestNegotiationService_Start_SupersedesPending(t *testing.T) {
	freelancer := uuid.New()
	clientUser := uuid.New()
	conversation := testConversation(freelancer, clientUser)

	convRepo := inMemoryConvRepo(conversation)
	svc := newTestNegotiationService(convRepo, &MockMessageRepository{}, newRecordingBroadcaster())

	_, err := svc.Start(context.Background(), freelancer, StartNegotiationInput{
		ConversationID: conversation.ID, ProposedPrice: 500,
	})
	require.NoError(t, err)
	_, err = svc.Start(context.Background(), freelancer, StartNegotiationInput{
		ConversationID: conversation.ID, ProposedPrice: 450,
	})
	require.NoError(t, err)

	meta := conversation.Metadata.Data()
	require.NotNil(t, meta.CurrentNegotiation)
	assert.Equal(t, 450.0, meta.CurrentNegotiation.ProposedPrice)
	assert.Equal(t, 2, meta.TotalNegotiations)

	require.Len(t, meta.NegotiationHistory, 1)
	archived := meta.NegotiationHistory[0]
	assert.Equal(t, domain.NegotiationRejected, archived.Status)
	assert.Equal(t, "superseded", archived.RejectionReason)
	assert.Equal(t, 500.0, archived.ProposedPrice)
	for _, past := range meta.NegotiationHistory {
		assert.NotEqual(t, domain.NegotiationPending, past.Status, "history never holds pending offers")
	}
}

func TestNegotiationService_Start_Disabled(t *testing.T) {
	freelancer := uuid.New()
	conversation := testConversation(freelancer, uuid.New())
	conversation.Settings = datatypes.NewJSONType(domain.ConversationSettings{
		AllowFileUploads: true,
		AllowNegotiation: false,
	})

	svc := newTestNegotiationService(inMemoryConvRepo(conversation), &MockMessageRepository{}, newRecordingBroadcaster())

	_, err := svc.Start(context.Background(), freelancer, StartNegotiationInput{
		ConversationID: conversation.ID, ProposedPrice: 100,
	})
	assertAppError(t, err, response.ErrCodeNegotiationDisabled)
}

func TestNegotiationService_Respond_Accept(t *testing.T) {
	freelancer := uuid.New()
	clientUser := uuid.New()
	conversation := testConversation(freelancer, clientUser)

	convRepo := inMemoryConvRepo(conversation)
	broadcaster := newRecordingBroadcaster()
	svc := newTestNegotiationService(convRepo, &MockMessageRepository{}, broadcaster)

	_, err := svc.Start(context.Background(), freelancer, StartNegotiationInput{
		ConversationID: conversation.ID, ProposedPrice: 750,
	})
	require.NoError(t, err)

	result, err := svc.Respond(context.Background(), clientUser, RespondNegotiationInput{
		ConversationID: conversation.ID,
		Action:         NegotiationActionAccept,
	})
	require.NoError(t, err)

	assert.Equal(t, "accepted", result.Action)
	assert.Equal(t, domain.ConversationPaymentPending, conversation.Status)

	meta := conversation.Metadata.Data()
	assert.Nil(t, meta.CurrentNegotiation)
	assert.Equal(t, domain.PhaseCompleted, meta.NegotiationPhase)
	require.NotNil(t, meta.FinalAgreedPrice)
	assert.Equal(t, 750.0, *meta.FinalAgreedPrice)

	require.Len(t, meta.NegotiationHistory, 1)
	assert.Equal(t, domain.NegotiationAccepted, meta.NegotiationHistory[0].Status)
	assert.Equal(t, &clientUser, meta.NegotiationHistory[0].AcceptedBy)
	assert.Len(t, broadcaster.eventsNamed("negotiationResponse"), 1)
}

func TestNegotiationService_Respond_Reject(t *testing.T) {
	freelancer := uuid.New()
	clientUser := uuid.New()
	conversation := testConversation(freelancer, clientUser)

	convRepo := inMemoryConvRepo(conversation)
	svc := newTestNegotiationService(convRepo, &MockMessageRepository{}, newRecordingBroadcaster())

	_, err := svc.Start(context.Background(), freelancer, StartNegotiationInput{
		ConversationID: conversation.ID, ProposedPrice: 300,
	})
	require.NoError(t, err)

	result, err := svc.Respond(context.Background(), clientUser, RespondNegotiationInput{
		ConversationID: conversation.ID,
		Action:         NegotiationActionReject,
		Reason:         "budget too high",
	})
	require.NoError(t, err)

	assert.Equal(t, "rejected", result.Action)
	assert.Equal(t, domain.ConversationNegotiating, conversation.Status,
		"rejection keeps the conversation open for new offers")

	meta := conversation.Metadata.Data()
	assert.Nil(t, meta.CurrentNegotiation)
	require.Len(t, meta.NegotiationHistory, 1)
	assert.Equal(t, "budget too high", meta.NegotiationHistory[0].RejectionReason)
}

func TestNegotiationService_Respond_Counter(t *testing.T) {
	freelancer := uuid.New()
	clientUser := uuid.New()
	conversation := testConversation(freelancer, clientUser)

	convRepo := inMemoryConvRepo(conversation)
	svc := newTestNegotiationService(convRepo, &MockMessageRepository{}, newRecordingBroadcaster())

	_, err := svc.Start(context.Background(), freelancer, StartNegotiationInput{
		ConversationID: conversation.ID, ProposedPrice: 600,
	})
	require.NoError(t, err)

	result, err := svc.Respond(context.Background(), clientUser, RespondNegotiationInput{
		ConversationID: conversation.ID,
		Action:         NegotiationActionCounter,
		ProposedPrice:  500,
	})
	require.NoError(t, err)

	assert.Equal(t, "countered", result.Action)
	assert.Equal(t, 1, result.Offer.CounterOfferNumber)

	meta := conversation.Metadata.Data()
	require.NotNil(t, meta.CurrentNegotiation)
	assert.Equal(t, 500.0, meta.CurrentNegotiation.ProposedPrice)
	assert.Equal(t, clientUser, meta.CurrentNegotiation.ProposedBy)
	assert.Equal(t, 2, meta.TotalNegotiations)

	require.Len(t, meta.NegotiationHistory, 1)
	assert.Equal(t, "countered", meta.NegotiationHistory[0].RejectionReason)
}

func TestNegotiationService_Respond_OwnOffer(t *testing.T) {
	freelancer := uuid.New()
	conversation := testConversation(freelancer, uuid.New())

	convRepo := inMemoryConvRepo(conversation)
	svc := newTestNegotiationService(convRepo, &MockMessageRepository{}, newRecordingBroadcaster())

	_, err := svc.Start(context.Background(), freelancer, StartNegotiationInput{
		ConversationID: conversation.ID, ProposedPrice: 200,
	})
	require.NoError(t, err)

	_, err = svc.Respond(context.Background(), freelancer, RespondNegotiationInput{
		ConversationID: conversation.ID,
		Action:         NegotiationActionAccept,
	})
	assertAppError(t, err, response.ErrCodeForbidden)
}

func TestNegotiationService_Respond_NoActiveNegotiation(t *testing.T) {
	clientUser := uuid.New()
	conversation := testConversation(uuid.New(), clientUser)

	svc := newTestNegotiationService(inMemoryConvRepo(conversation), &MockMessageRepository{}, newRecordingBroadcaster())

	_, err := svc.Respond(context.Background(), clientUser, RespondNegotiationInput{
		ConversationID: conversation.ID,
		Action:         NegotiationActionAccept,
	})
	assertAppError(t, err, response.ErrCodeNoActiveNegotiation)
}

func TestNegotiationService_Start_ExpiredPending(t *testing.T) {
	freelancer := uuid.New()
	clientUser := uuid.New()
	conversation := testConversation(freelancer, clientUser)

	expired := time.Now().UTC().Add(-time.Hour)
	conversation.Metadata = datatypes.NewJSONType(domain.ConversationMetadata{
		NegotiationPhase: domain.PhaseActive,
		CurrentNegotiation: &domain.NegotiationOffer{
			ProposedPrice: 400,
			ProposedBy:    freelancer,
			ProposedAt:    expired.Add(-time.Hour),
			Status:        domain.NegotiationPending,
			ExpiresAt:     expired,
		},
		TotalNegotiations: 1,
	})
	conversation.Status = domain.ConversationNegotiating

	convRepo := inMemoryConvRepo(conversation)
	svc := newTestNegotiationService(convRepo, &MockMessageRepository{}, newRecordingBroadcaster())

	_, err := svc.Start(context.Background(), clientUser, StartNegotiationInput{
		ConversationID: conversation.ID,
		ProposedPrice:  350,
	})
	assertAppError(t, err, response.ErrCodeNegotiationExpired)

	meta := conversation.Metadata.Data()
	assert.Nil(t, meta.CurrentNegotiation, "a lapsed offer cannot be superseded, only expired")
	require.Len(t, meta.NegotiationHistory, 1)
	assert.Equal(t, domain.NegotiationExpired, meta.NegotiationHistory[0].Status)
	assert.Equal(t, 1, meta.TotalNegotiations, "the refused offer does not count")
}

func TestNegotiationService_Start_ReadOnly(t *testing.T) {
	freelancer := uuid.New()
	conversation := testConversation(freelancer, uuid.New())
	conversation.Settings = datatypes.NewJSONType(domain.ConversationSettings{
		AllowFileUploads: true,
		AllowNegotiation: true,
		IsReadOnly:       true,
	})

	svc := newTestNegotiationService(inMemoryConvRepo(conversation), &MockMessageRepository{}, newRecordingBroadcaster())

	_, err := svc.Start(context.Background(), freelancer, StartNegotiationInput{
		ConversationID: conversation.ID, ProposedPrice: 100,
	})
	assertAppError(t, err, response.ErrCodeReadOnlyConversation)
}

func TestNegotiationService_Start_AutoCloseLapsed(t *testing.T) {
	freelancer := uuid.New()
	conversation := testConversation(freelancer, uuid.New())

	deadline := time.Now().UTC().Add(-time.Minute)
	conversation.Metadata = datatypes.NewJSONType(domain.ConversationMetadata{
		NegotiationPhase: domain.PhaseInitial,
		AutoCloseEnabled: true,
		AutoCloseAt:      &deadline,
	})

	convRepo := inMemoryConvRepo(conversation)
	svc := newTestNegotiationService(convRepo, &MockMessageRepository{}, newRecordingBroadcaster())

	_, err := svc.Start(context.Background(), freelancer, StartNegotiationInput{
		ConversationID: conversation.ID, ProposedPrice: 100,
	})
	assertAppError(t, err, response.ErrCodeReadOnlyConversation)
	assert.Equal(t, domain.ConversationCompleted, conversation.Status, "lapsed deadline is applied on touch")
}

func TestNegotiationService_Respond_ReadOnly(t *testing.T) {
	freelancer := uuid.New()
	clientUser := uuid.New()
	conversation := testConversation(freelancer, clientUser)
	conversation.Settings = datatypes.NewJSONType(domain.ConversationSettings{
		AllowFileUploads: true,
		AllowNegotiation: true,
		IsReadOnly:       true,
	})
	conversation.Metadata = datatypes.NewJSONType(domain.ConversationMetadata{
		NegotiationPhase: domain.PhaseActive,
		CurrentNegotiation: &domain.NegotiationOffer{
			ProposedPrice: 400,
			ProposedBy:    freelancer,
			Status:        domain.NegotiationPending,
			ExpiresAt:     time.Now().UTC().Add(time.Hour),
		},
	})

	svc := newTestNegotiationService(inMemoryConvRepo(conversation), &MockMessageRepository{}, newRecordingBroadcaster())

	_, err := svc.Respond(context.Background(), clientUser, RespondNegotiationInput{
		ConversationID: conversation.ID,
		Action:         NegotiationActionAccept,
	})
	assertAppError(t, err, response.ErrCodeReadOnlyConversation)
}

func TestNegotiationService_Respond_Expired(t *testing.T) {
	freelancer := uuid.New()
	clientUser := uuid.New()
	conversation := testConversation(freelancer, clientUser)

	expired := time.Now().UTC().Add(-time.Hour)
	conversation.Metadata = datatypes.NewJSONType(domain.ConversationMetadata{
		NegotiationPhase: domain.PhaseActive,
		CurrentNegotiation: &domain.NegotiationOffer{
			ProposedPrice: 400,
			ProposedBy:    freelancer,
			ProposedAt:    expired.Add(-time.Hour),
			Status:        domain.NegotiationPending,
			ExpiresAt:     expired,
		},
		TotalNegotiations: 1,
	})
	conversation.Status = domain.ConversationNegotiating

	convRepo := inMemoryConvRepo(conversation)
	svc := newTestNegotiationService(convRepo, &MockMessageRepository{}, newRecordingBroadcaster())

	_, err := svc.Respond(context.Background(), clientUser, RespondNegotiationInput{
		ConversationID: conversation.ID,
		Action:         NegotiationActionAccept,
	})
	assertAppError(t, err, response.ErrCodeNegotiationExpired)

	meta := conversation.Metadata.Data()
	assert.Nil(t, meta.CurrentNegotiation, "lapsed offer is cleared on touch")
	require.Len(t, meta.NegotiationHistory, 1)
	assert.Equal(t, domain.NegotiationExpired, meta.NegotiationHistory[0].Status)
}

func TestNegotiationService_AutoClose(t *testing.T) {
	freelancer := uuid.New()
	clientUser := uuid.New()
	conversation := testConversation(freelancer, clientUser)

	convRepo := inMemoryConvRepo(conversation)
	svc := newTestNegotiationService(convRepo, &MockMessageRepository{}, newRecordingBroadcaster())

	_, err := svc.EnableAutoClose(context.Background(), freelancer, conversation.ID, 2*time.Hour, "inactive")
	require.NoError(t, err)

	meta := conversation.Metadata.Data()
	require.True(t, meta.AutoCloseEnabled)
	require.NotNil(t, meta.AutoCloseAt)
	firstDeadline := *meta.AutoCloseAt

	_, err = svc.DelayAutoClose(context.Background(), clientUser, conversation.ID, 3*time.Hour)
	require.NoError(t, err)

	meta = conversation.Metadata.Data()
	require.NotNil(t, meta.AutoCloseAt)
	assert.Equal(t, firstDeadline.Add(3*time.Hour), *meta.AutoCloseAt)

	// The deadline passing closes the conversation lazily.
	past := time.Now().UTC().Add(-time.Minute)
	meta.AutoCloseAt = &past
	conversation.Metadata = datatypes.NewJSONType(meta)
	assert.True(t, conversation.EvaluateAutoClose(time.Now().UTC()))
	assert.Equal(t, domain.ConversationCompleted, conversation.Status)
}

func TestNegotiationService_DelayAutoClose_NotEnabled(t *testing.T) {
	freelancer := uuid.New()
	conversation := testConversation(freelancer, uuid.New())

	svc := newTestNegotiationService(inMemoryConvRepo(conversation), &MockMessageRepository{}, newRecordingBroadcaster())

	_, err := svc.DelayAutoClose(context.Background(), freelancer, conversation.ID, time.Hour)
	assertAppError(t, err, response.ErrCodeValidation)
}
