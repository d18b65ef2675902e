package engine

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"chatsync/pkg/bus"
	"chatsync/pkg/ingest/queue"
	"chatsync/pkg/logger"
	"chatsync/pkg/models"
	"chatsync/pkg/transport"
)

// StartRequest describes a conversation created locally.
type StartRequest struct {
	ID           string                  `json:"id,omitempty"`
	Type         models.ConversationType `json:"type,omitempty"`
	Name         string                  `json:"name,omitempty"`
	Avatar       string                  `json:"avatar,omitempty"`
	Participants []string                `json:"participants,omitempty"`
	BotID        string                  `json:"bot_id,omitempty"`
}

// Draft is the user supplied body of a new message.
type Draft struct {
	Content string              `json:"content"`
	Media   []models.Attachment `json:"media,omitempty"`
	GIF     string              `json:"gif,omitempty"`
}

func (d Draft) empty() bool {
	return models.NormalizeContent(d.Content) == "" && len(d.Media) == 0 && d.GIF == ""
}

type startPayload struct {
	req StartRequest
	out *models.Conversation
}

type sendPayload struct {
	draft  Draft
	tempID string
	token  string
	out    *models.Message
}

type retryPayload struct {
	tempID string
	token  string
	out    *models.Message
}

type reactPayload struct {
	reaction string
}

type mutePayload struct {
	muted bool
}

// StartConversation creates a conversation locally, flagged as new until the
// server acknowledges it. Starting an id that already exists returns it.
func (e *Engine) StartConversation(ctx context.Context, req StartRequest) (models.Conversation, error) {
	var out models.Conversation
	if req.ID == "" {
		req.ID = "conv-" + e.opts.NewID()
	}
	err := e.Submit(ctx, queue.Event{Kind: queue.KindStart, Conversation: req.ID, ID: req.ID, Payload: &startPayload{req: req, out: &out}})
	return out, err
}

// SendMessage stores an optimistic Sending message and hands it to the
// transport. The returned message carries its temporary id and correlation
// token.
func (e *Engine) SendMessage(ctx context.Context, conversationID string, d Draft) (models.Message, error) {
	var out models.Message
	p := &sendPayload{draft: d, tempID: e.newTempID(), token: e.opts.NewID(), out: &out}
	err := e.Submit(ctx, queue.Event{Kind: queue.KindSend, Conversation: conversationID, ID: p.tempID, Payload: p})
	return out, err
}

// CancelSend removes a message that is still Sending (or Failed). Once the
// confirmation has been applied it returns models.ErrStaleEvent.
func (e *Engine) CancelSend(ctx context.Context, messageID string) error {
	return e.Submit(ctx, queue.Event{Kind: queue.KindCancel, ID: messageID})
}

// RetrySend replaces a Failed message with a fresh Sending copy under a new
// temporary id and correlation token.
func (e *Engine) RetrySend(ctx context.Context, messageID string) (models.Message, error) {
	var out models.Message
	p := &retryPayload{tempID: e.newTempID(), token: e.opts.NewID(), out: &out}
	err := e.Submit(ctx, queue.Event{Kind: queue.KindRetry, ID: messageID, Payload: p})
	return out, err
}

// React sets (or clears with "") the local user's reaction optimistically
// and forwards it to the transport.
func (e *Engine) React(ctx context.Context, messageID, reaction string) error {
	return e.Submit(ctx, queue.Event{Kind: queue.KindReact, ID: messageID, Payload: reactPayload{reaction: reaction}})
}

// OpenConversation marks every unread message read and sends the read
// marker to the server.
func (e *Engine) OpenConversation(ctx context.Context, conversationID string) error {
	return e.Submit(ctx, queue.Event{Kind: queue.KindOpen, Conversation: conversationID, ID: conversationID})
}

func (e *Engine) SetMuted(ctx context.Context, conversationID string, muted bool) error {
	return e.Submit(ctx, queue.Event{Kind: queue.KindMute, Conversation: conversationID, ID: conversationID, Payload: mutePayload{muted: muted}})
}

func (e *Engine) newTempID() string { return "tmp-" + e.opts.NewID() }

func (e *Engine) handleStart(ev queue.Event) error {
	p, ok := ev.Payload.(*startPayload)
	if !ok {
		return payloadError(ev)
	}
	if existing, ok := e.store.GetConversation(p.req.ID); ok {
		*p.out = existing
		return nil
	}
	typ := p.req.Type
	if typ == "" {
		typ = models.ConversationDirect
	}
	now := e.nowNano()
	conv := models.Conversation{
		ID:           p.req.ID,
		Type:         typ,
		Name:         p.req.Name,
		Avatar:       p.req.Avatar,
		Participants: models.NormalizeParticipants(append(slices.Clone(p.req.Participants), e.opts.LocalUserID)),
		BotID:        p.req.BotID,
		IsNew:        true,
		CreatedTS:    now,
		UpdatedTS:    now,
	}
	if err := conv.Validate(); err != nil {
		return err
	}
	e.store.UpsertConversation(conv)
	*p.out = conv
	e.publish(bus.Notification{Type: bus.TypeConversationUpdated, ConversationID: conv.ID, Data: conv})
	logger.Info("conversation_started", "conversation", conv.ID, "type", conv.Type)
	return nil
}

func (e *Engine) handleSend(ev queue.Event) error {
	p, ok := ev.Payload.(*sendPayload)
	if !ok {
		return payloadError(ev)
	}
	stored, err := e.createOutgoing(ev.Conversation, p.draft, p.tempID, p.token)
	if err != nil {
		return err
	}
	*p.out = stored
	return nil
}

// createOutgoing stores a new Sending message and requests the send. A
// transport error fails the message right away.
func (e *Engine) createOutgoing(conversationID string, d Draft, tempID, token string) (models.Message, error) {
	if _, ok := e.store.GetConversation(conversationID); !ok {
		return models.Message{}, fmt.Errorf("send to %s: %w", conversationID, models.ErrUnknownConversation)
	}
	if d.empty() {
		return models.Message{}, fmt.Errorf("%w: message has no content", models.ErrInvalidEvent)
	}
	now := e.nowNano()
	stored := e.store.UpsertMessage(models.Message{
		ID:               tempID,
		CorrelationToken: token,
		ConversationID:   conversationID,
		SenderID:         e.opts.LocalUserID,
		SenderType:       models.SenderUser,
		Content:          d.Content,
		Media:            slices.Clone(d.Media),
		GIF:              d.GIF,
		Status:           models.StatusSending,
		CreatedTS:        now,
		UpdatedTS:        now,
		CreatedBy:        e.opts.LocalUserID,
		UpdatedBy:        e.opts.LocalUserID,
	})
	e.publishMessage(stored, "")
	e.refresh(conversationID)

	req := transport.SendRequest{
		ConversationID:   conversationID,
		TempID:           stored.ID,
		CorrelationToken: token,
		Content:          stored.Content,
		Media:            stored.Media,
		GIF:              stored.GIF,
	}
	if err := e.transport.RequestSend(context.Background(), req); err != nil {
		if ferr := e.fail(stored, err.Error(), now); ferr != nil {
			return stored, ferr
		}
		stored, _ = e.store.GetMessage(stored.ID)
	}
	return stored, nil
}

func (e *Engine) handleCancel(ev queue.Event) error {
	id := e.reconcile.Resolve(ev.ID)
	m, ok := e.store.GetMessage(id)
	if !ok {
		return fmt.Errorf("cancel %s: %w", ev.ID, models.ErrStaleEvent)
	}
	switch m.Status {
	case models.StatusSending, models.StatusFailed:
	default:
		return fmt.Errorf("cancel %s in status %s: %w", id, m.Status, models.ErrStaleEvent)
	}
	e.store.DeleteMessage(id)
	e.publish(bus.Notification{Type: bus.TypeMessageRemoved, ConversationID: m.ConversationID, MessageID: id})
	e.refresh(m.ConversationID)
	logger.Info("send_cancelled", "conversation", m.ConversationID, "message", id, "status", m.Status)
	return nil
}

func (e *Engine) handleRetry(ev queue.Event) error {
	p, ok := ev.Payload.(*retryPayload)
	if !ok {
		return payloadError(ev)
	}
	m, ok := e.store.GetMessage(e.reconcile.Resolve(ev.ID))
	if !ok {
		return fmt.Errorf("retry %s: %w", ev.ID, models.ErrUnknownMessage)
	}
	if m.Status != models.StatusFailed {
		return fmt.Errorf("retry %s in status %s: %w", m.ID, m.Status, models.ErrIllegalTransition)
	}
	e.store.DeleteMessage(m.ID)
	e.publish(bus.Notification{Type: bus.TypeMessageRemoved, ConversationID: m.ConversationID, MessageID: m.ID})

	stored, err := e.createOutgoing(m.ConversationID, Draft{Content: m.Content, Media: m.Media, GIF: m.GIF}, p.tempID, p.token)
	if err != nil {
		// put the failed copy back so nothing is lost
		e.store.UpsertMessage(m)
		e.refresh(m.ConversationID)
		return err
	}
	*p.out = stored
	logger.Info("send_retried", "conversation", m.ConversationID, "failed", m.ID, "message", stored.ID)
	return nil
}

func (e *Engine) handleReact(ev queue.Event) error {
	p, ok := ev.Payload.(reactPayload)
	if !ok {
		return payloadError(ev)
	}
	id := e.reconcile.Resolve(ev.ID)
	m, ok := e.store.GetMessage(id)
	if !ok {
		return fmt.Errorf("react to %s: %w", id, models.ErrUnknownMessage)
	}
	if !m.Status.Confirmed() {
		return fmt.Errorf("react to %s: %w", id, models.ErrNotConfirmed)
	}
	next, changed, err := e.reactions.Apply(m, e.opts.LocalUserID, p.reaction)
	if err != nil {
		return err
	}
	if !changed {
		return nil
	}
	stored := e.store.UpsertMessage(next)
	e.publishMessage(stored, "")
	if err := e.transport.RequestReaction(context.Background(), id, p.reaction); err != nil {
		logger.Warn("reaction_request_failed", "message", id, "error", err)
	}
	return nil
}

func (e *Engine) handleOpen(ev queue.Event) error {
	conv, read, upTo, err := e.ledger.MarkOpened(ev.Conversation, e.nowNano())
	if err != nil {
		return err
	}
	for _, id := range read {
		if m, ok := e.store.GetMessage(id); ok {
			e.publishMessage(m, "")
		}
	}
	e.publish(bus.Notification{Type: bus.TypeConversationUpdated, ConversationID: conv.ID, Data: conv})
	if len(read) == 0 || upTo == 0 {
		return nil
	}
	if err := e.transport.RequestMarkRead(context.Background(), conv.ID, upTo); err != nil {
		logger.Warn("mark_read_request_failed", "conversation", conv.ID, "error", err)
	}
	return nil
}

func (e *Engine) handleMute(ev queue.Event) error {
	p, ok := ev.Payload.(mutePayload)
	if !ok {
		return payloadError(ev)
	}
	conv, ok := e.store.GetConversation(ev.Conversation)
	if !ok {
		return fmt.Errorf("mute %s: %w", ev.Conversation, models.ErrUnknownConversation)
	}
	if conv.Muted == p.muted {
		return nil
	}
	conv.Muted = p.muted
	e.store.UpsertConversation(conv)
	e.publish(bus.Notification{Type: bus.TypeConversationUpdated, ConversationID: conv.ID, Data: conv})
	return nil
}

// IsStale reports whether err only means the action had nothing to do.
func IsStale(err error) bool { return errors.Is(err, models.ErrStaleEvent) }
