package engine

import (
	"errors"
	"fmt"

	"chatsync/pkg/bus"
	"chatsync/pkg/ingest/queue"
	"chatsync/pkg/lifecycle"
	"chatsync/pkg/logger"
	"chatsync/pkg/models"
	"chatsync/pkg/reconcile"
)

// OnMessageConfirmed enqueues a server confirmation.
func (e *Engine) OnMessageConfirmed(c models.Confirmation) error {
	return e.queue.Enqueue(queue.Event{Kind: queue.KindConfirmed, Conversation: c.ConversationID, ID: c.PermanentID, Payload: c})
}

// OnStatusEvent enqueues a delivery status change.
func (e *Engine) OnStatusEvent(messageID string, status models.Status) error {
	return e.queue.Enqueue(queue.Event{Kind: queue.KindStatus, ID: messageID, Payload: models.StatusEvent{MessageID: messageID, Status: status, Timestamp: e.nowNano()}})
}

// OnReactionEvent enqueues a reaction change; an empty reaction removes it.
func (e *Engine) OnReactionEvent(messageID, actorID, reaction string) error {
	return e.queue.Enqueue(queue.Event{Kind: queue.KindReaction, ID: messageID, Payload: models.ReactionEvent{MessageID: messageID, ActorID: actorID, Reaction: reaction}})
}

// OnConversationSnapshot enqueues the server's copy of a conversation.
func (e *Engine) OnConversationSnapshot(conv models.Conversation, msgs []models.Message) error {
	return e.queue.Enqueue(queue.Event{Kind: queue.KindSnapshot, Conversation: conv.ID, ID: conv.ID, Payload: models.Snapshot{Conversation: conv, Messages: msgs}})
}

// OnSendFailed enqueues a transport failure for the send with token.
func (e *Engine) OnSendFailed(correlationToken, reason string) error {
	return e.queue.Enqueue(queue.Event{Kind: queue.KindSendFailed, ID: correlationToken, Payload: models.SendFailure{CorrelationToken: correlationToken, Reason: reason, Timestamp: e.nowNano()}})
}

// OnMessageEdited enqueues a server side content change.
func (e *Engine) OnMessageEdited(messageID, content string, ts int64) error {
	return e.queue.Enqueue(queue.Event{Kind: queue.KindEdited, ID: messageID, Payload: models.EditEvent{MessageID: messageID, Content: content, Timestamp: ts}})
}

func payloadError(ev queue.Event) error {
	return fmt.Errorf("%w: unexpected payload %T for %s", models.ErrInvalidEvent, ev.Payload, ev.Kind)
}

func (e *Engine) handleConfirmed(ev queue.Event) error {
	c, ok := ev.Payload.(models.Confirmation)
	if !ok {
		return payloadError(ev)
	}
	conv, ok := e.store.GetConversation(c.ConversationID)
	if !ok {
		return park(conversationKey(c.ConversationID), fmt.Errorf("confirmation %s: %w", c.PermanentID, models.ErrUnknownConversation))
	}

	res, err := e.reconcile.Confirm(c)
	if err != nil {
		return err
	}
	if conv.IsNew {
		conv.IsNew = false
		e.store.UpsertConversation(conv)
	}
	e.afterReconcile(res)
	e.refresh(c.ConversationID)

	keys := []string{messageKey(res.Message.ID)}
	if res.PreviousID != "" {
		keys = append(keys, messageKey(res.PreviousID))
	}
	e.replay(keys...)
	return nil
}

// afterReconcile publishes the stored message and any conflict.
func (e *Engine) afterReconcile(res reconcile.Result) {
	if res.Conflict != nil {
		e.metrics.Conflict()
		logger.Warn("reconciliation_conflict", "conversation", res.Conflict.ConversationID, "message", res.Conflict.MessageID)
		e.diagnose(bus.Notification{
			Type:           bus.TypeConflict,
			ConversationID: res.Conflict.ConversationID,
			MessageID:      res.Conflict.MessageID,
			PreviousID:     res.PreviousID,
			Data:           res.Conflict,
		})
	}
	e.publishMessage(res.Message, res.PreviousID)
}

func (e *Engine) handleStatus(ev queue.Event) error {
	se, ok := ev.Payload.(models.StatusEvent)
	if !ok {
		return payloadError(ev)
	}
	id := e.reconcile.Resolve(se.MessageID)
	m, ok := e.store.GetMessage(id)
	if !ok {
		if se.Status == models.StatusFailed {
			// only pending local sends can fail
			return fmt.Errorf("failed status for %s: %w", id, models.ErrStaleEvent)
		}
		return park(messageKey(id), fmt.Errorf("status for %s: %w", id, models.ErrUnknownMessage))
	}
	if se.Status == models.StatusFailed {
		return e.fail(m, "", se.Timestamp)
	}
	next, err := lifecycle.Advance(m, se.Status, se.Timestamp)
	if errors.Is(err, models.ErrNotConfirmed) {
		return park(messageKey(id), err)
	}
	if err != nil {
		return err
	}
	stored := e.store.UpsertMessage(next)
	e.publishMessage(stored, "")
	e.refresh(stored.ConversationID)
	return nil
}

func (e *Engine) handleReaction(ev queue.Event) error {
	re, ok := ev.Payload.(models.ReactionEvent)
	if !ok {
		return payloadError(ev)
	}
	id := e.reconcile.Resolve(re.MessageID)
	m, ok := e.store.GetMessage(id)
	if !ok {
		return park(messageKey(id), fmt.Errorf("reaction for %s: %w", id, models.ErrUnknownMessage))
	}
	if m.Status == models.StatusSending {
		return park(messageKey(id), fmt.Errorf("reaction for %s: %w", id, models.ErrNotConfirmed))
	}
	next, changed, err := e.reactions.Apply(m, re.ActorID, re.Reaction)
	if err != nil {
		return err
	}
	if !changed {
		return nil
	}
	stored := e.store.UpsertMessage(next)
	e.publishMessage(stored, "")
	return nil
}

func (e *Engine) handleSnapshot(ev queue.Event) error {
	snap, ok := ev.Payload.(models.Snapshot)
	if !ok {
		return payloadError(ev)
	}
	incoming := snap.Conversation
	if err := incoming.Validate(); err != nil {
		return err
	}
	if incoming.Type == "" {
		incoming.Type = models.ConversationDirect
	}
	if existing, ok := e.store.GetConversation(incoming.ID); ok {
		incoming.Muted = existing.Muted
		incoming.CreatedTS = min(nonZero(existing.CreatedTS, incoming.CreatedTS), nonZero(incoming.CreatedTS, existing.CreatedTS))
		incoming.UpdatedTS = max(existing.UpdatedTS, incoming.UpdatedTS)
	}
	incoming.IsNew = false
	// derived fields are recomputed below
	incoming.UnreadCount = 0
	incoming.LastMessageID = ""
	e.store.UpsertConversation(incoming)

	keys := []string{conversationKey(incoming.ID)}
	for _, m := range snap.Messages {
		if m.ConversationID == "" {
			m.ConversationID = incoming.ID
		}
		if m.ConversationID != incoming.ID {
			logger.Warn("snapshot_message_mismatch", "conversation", incoming.ID, "message", m.ID, "message_conversation", m.ConversationID)
			continue
		}
		res, err := e.reconcile.ApplySnapshotMessage(m)
		if err != nil {
			if !errors.Is(err, models.ErrStaleEvent) {
				logger.Warn("snapshot_message_rejected", "conversation", incoming.ID, "message", m.ID, "error", err)
			}
			continue
		}
		res.Message = e.store.UpsertMessage(e.reactions.Recompute(res.Message))
		e.afterReconcile(res)
		keys = append(keys, messageKey(res.Message.ID))
		if res.PreviousID != "" {
			keys = append(keys, messageKey(res.PreviousID))
		}
	}
	conv, _, err := e.ledger.Refresh(incoming.ID)
	if err != nil {
		return err
	}
	e.publish(bus.Notification{Type: bus.TypeConversationUpdated, ConversationID: conv.ID, Data: conv})
	e.replay(keys...)
	return nil
}

func nonZero(v, fallback int64) int64 {
	if v == 0 {
		return fallback
	}
	return v
}

func (e *Engine) handleSendFailed(ev queue.Event) error {
	f, ok := ev.Payload.(models.SendFailure)
	if !ok {
		return payloadError(ev)
	}
	m, ok := e.store.FindByToken(f.CorrelationToken)
	if !ok {
		return fmt.Errorf("send failure for unknown token %s: %w", f.CorrelationToken, models.ErrStaleEvent)
	}
	return e.fail(m, f.Reason, f.Timestamp)
}

// fail moves a Sending message to Failed and reports it on the diagnostics
// topic. A message that was confirmed meanwhile is left alone.
func (e *Engine) fail(m models.Message, reason string, ts int64) error {
	next, err := lifecycle.Fail(m, reason, ts)
	if errors.Is(err, models.ErrIllegalTransition) {
		return fmt.Errorf("send failure for %s in status %s: %w", m.ID, m.Status, models.ErrStaleEvent)
	}
	if err != nil {
		return err
	}
	stored := e.store.UpsertMessage(next)
	e.metrics.SendFailed()
	sendErr := &models.SendFailedError{
		MessageID:        stored.ID,
		ConversationID:   stored.ConversationID,
		CorrelationToken: stored.CorrelationToken,
		Reason:           stored.Error,
	}
	logger.Warn("send_failed", "conversation", stored.ConversationID, "message", stored.ID, "reason", stored.Error)
	e.diagnose(bus.Notification{Type: bus.TypeSendFailed, ConversationID: stored.ConversationID, MessageID: stored.ID, Data: sendErr})
	e.publishMessage(stored, "")
	e.refresh(stored.ConversationID)
	return nil
}

func (e *Engine) handleEdited(ev queue.Event) error {
	ed, ok := ev.Payload.(models.EditEvent)
	if !ok {
		return payloadError(ev)
	}
	id := e.reconcile.Resolve(ed.MessageID)
	m, ok := e.store.GetMessage(id)
	if !ok {
		return park(messageKey(id), fmt.Errorf("edit for %s: %w", id, models.ErrUnknownMessage))
	}
	switch {
	case m.Status == models.StatusSending:
		return park(messageKey(id), fmt.Errorf("edit for %s: %w", id, models.ErrNotConfirmed))
	case m.Status == models.StatusFailed:
		return fmt.Errorf("edit for failed message %s: %w", id, models.ErrStaleEvent)
	case m.Edited && m.Content == ed.Content:
		return fmt.Errorf("edit for %s: %w", id, models.ErrStaleEvent)
	}
	m.Content = ed.Content
	m.Edited = true
	if ed.Timestamp > 0 {
		m.UpdatedTS = ed.Timestamp
	}
	m.UpdatedBy = m.SenderID
	stored := e.store.UpsertMessage(m)
	e.publishMessage(stored, "")
	return nil
}
