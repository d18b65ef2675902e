package engine

import (
	"chatsync/pkg/bus"
	"chatsync/pkg/lifecycle"
	"chatsync/pkg/logger"
	"chatsync/pkg/models"
)

// View is what a UI renders for one conversation.
type View struct {
	Conversation models.Conversation `json:"conversation"`
	Messages     []models.Message    `json:"messages"`
}

// ConversationView returns the conversation and its messages in order.
func (e *Engine) ConversationView(id string) (View, bool) {
	conv, ok := e.store.GetConversation(id)
	if !ok {
		return View{}, false
	}
	return View{Conversation: conv, Messages: e.store.ListMessages(id)}, true
}

// Conversations lists conversations, most recently active first.
func (e *Engine) Conversations() []models.Conversation {
	return e.store.ListConversations()
}

// Message returns a message by temporary or permanent id.
func (e *Engine) Message(id string) (models.Message, bool) {
	return e.store.GetMessage(id)
}

// Subscribe returns a subscription notified after every change to the
// conversation. Callers must Close it.
func (e *Engine) Subscribe(conversationID string) *bus.Subscription {
	return e.bus.Subscribe(conversationID)
}

// SubscribeDiagnostics returns a subscription for send failures and
// reconciliation conflicts.
func (e *Engine) SubscribeDiagnostics() *bus.Subscription {
	return e.bus.Subscribe(bus.DiagnosticsTopic)
}

// Restore loads persisted snapshots into the store. It must run before
// Start. Messages that were still Sending when persisted can no longer be
// confirmed by this process and are marked Failed.
func (e *Engine) Restore(snaps []models.Snapshot) (conversations, interrupted int) {
	for _, snap := range snaps {
		if err := snap.Conversation.Validate(); err != nil {
			logger.Warn("restore_conversation_skipped", "error", err)
			continue
		}
		e.store.UpsertConversation(snap.Conversation)
		conversations++
		for _, m := range snap.Messages {
			if m.Status == models.StatusSending {
				failed, err := lifecycle.Fail(m, "interrupted", e.nowNano())
				if err == nil {
					m = failed
					interrupted++
				}
			}
			if err := lifecycle.Check(m); err != nil {
				logger.Warn("restore_message_skipped", "message", m.ID, "error", err)
				continue
			}
			e.store.UpsertMessage(e.reactions.Recompute(m))
		}
		if _, _, err := e.ledger.Refresh(snap.Conversation.ID); err != nil {
			logger.Warn("restore_refresh_failed", "conversation", snap.Conversation.ID, "error", err)
		}
	}
	logger.Info("engine_restored", "conversations", conversations, "interrupted", interrupted)
	return conversations, interrupted
}

// Snapshot copies every conversation with its messages, for persistence.
func (e *Engine) Snapshot() []models.Snapshot {
	convs := e.store.ListConversations()
	out := make([]models.Snapshot, 0, len(convs))
	for _, c := range convs {
		out = append(out, models.Snapshot{Conversation: c, Messages: e.store.ListMessages(c.ID)})
	}
	return out
}
