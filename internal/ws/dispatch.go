package ws

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"go.uber.org/zap"

	"marketplace-chat-api/internal/domain"
	"marketplace-chat-api/internal/metrics"
	"marketplace-chat-api/internal/response"
	"marketplace-chat-api/internal/service"
)

const dispatchTimeout = 10 * time.Second

// Dispatcher routes inbound websocket events to the services. Every event
// counts as user activity for the idle sweeper.
type Dispatcher struct {
	hub     *Hub
	convSvc service.ConversationService
	msgSvc  service.MessageService
	negoSvc service.NegotiationService
	metrics *metrics.Metrics
	logger  *zap.Logger
}

func NewDispatcher(
	hub *Hub,
	convSvc service.ConversationService,
	msgSvc service.MessageService,
	negoSvc service.NegotiationService,
	m *metrics.Metrics,
	logger *zap.Logger,
) *Dispatcher {
	return &Dispatcher{
		hub:     hub,
		convSvc: convSvc,
		msgSvc:  msgSvc,
		negoSvc: negoSvc,
		metrics: m,
		logger:  logger,
	}
}

// Handle processes one inbound frame from the client.
func (d *Dispatcher) Handle(c *Client, raw []byte) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		d.sendError(c, "", response.ErrCodeValidation, "Malformed event", "")
		return
	}

	d.hub.Registry().Touch(c.UserID)

	ctx, cancel := context.WithTimeout(context.Background(), dispatchTimeout)
	defer cancel()

	var err error
	switch env.Event {
	case "joinConversation":
		err = d.joinConversation(ctx, c, env.Data)
	case "leaveConversation":
		err = d.leaveConversation(c, env.Data)
	case "sendMessage":
		err = d.sendMessage(ctx, c, env.Data)
	case "markAsRead":
		err = d.markAsRead(ctx, c, env.Data)
	case "typing":
		err = d.typing(ctx, c, env.Data)
	case "reactToMessage":
		err = d.react(ctx, c, env.Data)
	case "removeReaction":
		err = d.unreact(ctx, c, env.Data)
	case "editMessage":
		err = d.editMessage(ctx, c, env.Data)
	case "deleteMessage":
		err = d.deleteMessage(ctx, c, env.Data)
	case "startNegotiation":
		err = d.startNegotiation(ctx, c, env.Data)
	case "respondToNegotiation":
		err = d.respondToNegotiation(ctx, c, env.Data)
	case "request-online-users":
		d.hub.SendToClient(c, "onlineUsersList", d.hub.Registry().OnlineUserIDs())
	case "call-user":
		d.relay(c, env.Data, "call-made", "call-failed")
	case "project-notification":
		d.relay(c, env.Data, "project-notification", "project-notification-failed")
	case "activity":
		// Touch above is the whole point of this event.
	default:
		d.sendError(c, env.Event, response.ErrCodeValidation, "Unknown event", "")
		if d.metrics != nil {
			d.metrics.RecordWSEvent(env.Event, "unknown")
		}
		return
	}

	if d.metrics != nil {
		result := "ok"
		if err != nil {
			result = "error"
		}
		d.metrics.RecordWSEvent(env.Event, result)
	}
}

func (d *Dispatcher) joinConversation(ctx context.Context, c *Client, data json.RawMessage) error {
	var p JoinConversationPayload
	if err := json.Unmarshal(data, &p); err != nil {
		d.sendError(c, "joinConversation", response.ErrCodeValidation, "Malformed payload", "")
		return err
	}

	ok, err := d.convSvc.IsParticipant(ctx, p.ConversationID, c.UserID)
	if err != nil {
		d.reportError(c, "joinConversation", err, "")
		return err
	}
	if !ok {
		err := response.NewAppError(response.ErrCodeAccessDenied, "Not a participant of this conversation", "")
		d.reportError(c, "joinConversation", err, "")
		return err
	}

	d.hub.JoinRoom(c, ConversationRoom(p.ConversationID))
	d.hub.ToConversation(p.ConversationID, "userJoinedConversation", map[string]interface{}{
		"conversationId": p.ConversationID,
		"userId":         c.UserID,
		"joinedAt":       time.Now(),
	}, c.ID)
	return nil
}

func (d *Dispatcher) leaveConversation(c *Client, data json.RawMessage) error {
	var p JoinConversationPayload
	if err := json.Unmarshal(data, &p); err != nil {
		d.sendError(c, "leaveConversation", response.ErrCodeValidation, "Malformed payload", "")
		return err
	}
	d.hub.LeaveRoom(c, ConversationRoom(p.ConversationID))
	d.hub.ToConversation(p.ConversationID, "userLeftConversation", map[string]interface{}{
		"conversationId": p.ConversationID,
		"userId":         c.UserID,
		"leftAt":         time.Now(),
	}, c.ID)
	return nil
}

func (d *Dispatcher) sendMessage(ctx context.Context, c *Client, data json.RawMessage) error {
	var p SendMessagePayload
	if err := json.Unmarshal(data, &p); err != nil {
		d.sendError(c, "sendMessage", response.ErrCodeValidation, "Malformed payload", "")
		return err
	}

	msgType := domain.MessageType(p.Type)
	if p.Type == "" {
		msgType = domain.MessageText
	}

	message, err := d.msgSvc.Send(ctx, c.UserID, c.ID, service.SendMessageInput{
		ConversationID: p.ConversationID,
		Content:        p.Content,
		Type:           msgType,
		FileURL:        p.FileURL,
		FileName:       p.FileName,
		FileSize:       p.FileSize,
		ReplyTo:        p.ReplyTo,
	})
	if err != nil {
		d.reportError(c, "messageError", err, p.TempID)
		return err
	}

	d.hub.SendToClient(c, "messageDelivered", map[string]interface{}{
		"tempId":    p.TempID,
		"messageId": message.ID,
		"sentAt":    message.CreatedAt,
	})
	return nil
}

func (d *Dispatcher) markAsRead(ctx context.Context, c *Client, data json.RawMessage) error {
	var p MarkAsReadPayload
	if err := json.Unmarshal(data, &p); err != nil {
		d.sendError(c, "markAsRead", response.ErrCodeValidation, "Malformed payload", "")
		return err
	}

	marked, err := d.msgSvc.MarkRead(ctx, c.UserID, p.ConversationID, p.MessageIDs)
	if err != nil {
		d.reportError(c, "markAsRead", err, "")
		return err
	}

	d.hub.SendToClient(c, "messagesMarkedRead", map[string]interface{}{
		"conversationId": p.ConversationID.String(),
		"messagesMarked": len(marked),
	})
	return nil
}

func (d *Dispatcher) typing(ctx context.Context, c *Client, data json.RawMessage) error {
	var p TypingPayload
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}

	ok, err := d.convSvc.IsParticipant(ctx, p.ConversationID, c.UserID)
	if err != nil || !ok {
		return err
	}

	d.hub.ToConversation(p.ConversationID, "userTyping", map[string]interface{}{
		"conversationId": p.ConversationID.String(),
		"userId":         c.UserID.String(),
		"isTyping":       p.IsTyping,
		"timestamp":      time.Now(),
	}, c.ID)
	return nil
}

func (d *Dispatcher) react(ctx context.Context, c *Client, data json.RawMessage) error {
	var p ReactPayload
	if err := json.Unmarshal(data, &p); err != nil {
		d.sendError(c, "reactToMessage", response.ErrCodeValidation, "Malformed payload", "")
		return err
	}
	if _, err := d.msgSvc.React(ctx, c.UserID, p.MessageID, p.Emoji); err != nil {
		d.reportError(c, "reactToMessage", err, "")
		return err
	}
	return nil
}

func (d *Dispatcher) unreact(ctx context.Context, c *Client, data json.RawMessage) error {
	var p ReactPayload
	if err := json.Unmarshal(data, &p); err != nil {
		d.sendError(c, "removeReaction", response.ErrCodeValidation, "Malformed payload", "")
		return err
	}
	if _, err := d.msgSvc.Unreact(ctx, c.UserID, p.MessageID); err != nil {
		d.reportError(c, "removeReaction", err, "")
		return err
	}
	return nil
}

func (d *Dispatcher) editMessage(ctx context.Context, c *Client, data json.RawMessage) error {
	var p EditMessagePayload
	if err := json.Unmarshal(data, &p); err != nil {
		d.sendError(c, "editMessage", response.ErrCodeValidation, "Malformed payload", "")
		return err
	}
	if _, err := d.msgSvc.Edit(ctx, c.UserID, p.MessageID, p.Content); err != nil {
		d.reportError(c, "editMessage", err, "")
		return err
	}
	return nil
}

func (d *Dispatcher) deleteMessage(ctx context.Context, c *Client, data json.RawMessage) error {
	var p DeleteMessagePayload
	if err := json.Unmarshal(data, &p); err != nil {
		d.sendError(c, "deleteMessage", response.ErrCodeValidation, "Malformed payload", "")
		return err
	}
	if _, err := d.msgSvc.SoftDelete(ctx, c.UserID, p.MessageID); err != nil {
		d.reportError(c, "deleteMessage", err, "")
		return err
	}
	return nil
}

func (d *Dispatcher) startNegotiation(ctx context.Context, c *Client, data json.RawMessage) error {
	var p StartNegotiationPayload
	if err := json.Unmarshal(data, &p); err != nil {
		d.sendError(c, "startNegotiation", response.ErrCodeValidation, "Malformed payload", "")
		return err
	}
	if _, err := d.negoSvc.Start(ctx, c.UserID, service.StartNegotiationInput{
		ConversationID:  p.ConversationID,
		ProposedPrice:   p.ProposedPrice,
		Timeline:        p.Timeline,
		AdditionalTerms: p.AdditionalTerms,
	}); err != nil {
		d.reportError(c, "startNegotiation", err, "")
		return err
	}
	return nil
}

func (d *Dispatcher) respondToNegotiation(ctx context.Context, c *Client, data json.RawMessage) error {
	var p RespondToNegotiationPayload
	if err := json.Unmarshal(data, &p); err != nil {
		d.sendError(c, "respondToNegotiation", response.ErrCodeValidation, "Malformed payload", "")
		return err
	}
	if _, err := d.negoSvc.Respond(ctx, c.UserID, service.RespondNegotiationInput{
		ConversationID:  p.ConversationID,
		Action:          p.Action,
		Reason:          p.RejectionReason,
		ProposedPrice:   p.ProposedPrice,
		Timeline:        p.Timeline,
		AdditionalTerms: p.AdditionalTerms,
	}); err != nil {
		d.reportError(c, "respondToNegotiation", err, "")
		return err
	}
	return nil
}

// relay forwards an addressed payload to the target user, reporting back to
// the caller when the target has no live connection.
func (d *Dispatcher) relay(c *Client, data json.RawMessage, okEvent, failEvent string) {
	var p RelayPayload
	if err := json.Unmarshal(data, &p); err != nil {
		d.sendError(c, okEvent, response.ErrCodeValidation, "Malformed payload", "")
		return
	}
	p.From = c.UserID

	if delivered := d.hub.ToUser(p.To, okEvent, p); !delivered {
		d.hub.SendToClient(c, failEvent, map[string]interface{}{
			"to":     p.To.String(),
			"reason": "User not online",
		})
	}
}

func (d *Dispatcher) reportError(c *Client, event string, err error, tempID string) {
	var appErr *response.AppError
	if errors.As(err, &appErr) {
		d.sendError(c, event, appErr.Code, appErr.Message, tempID)
		return
	}
	d.sendError(c, event, response.ErrCodeInternal, "Internal error", tempID)
}

func (d *Dispatcher) sendError(c *Client, event, code, message, tempID string) {
	payload := ErrorPayload{Message: message, Code: code, TempID: tempID}
	if event == "messageError" {
		d.hub.SendToClient(c, "messageError", payload)
		return
	}
	d.hub.SendToClient(c, "error", payload)
}
