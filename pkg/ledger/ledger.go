// Package ledger keeps the derived per-conversation fields: unread count,
// last message pointer and read marking.
package ledger

import (
	"errors"
	"fmt"

	"chatsync/pkg/lifecycle"
	"chatsync/pkg/models"
)

// Store is the slice of the entity store the ledger needs.
type Store interface {
	GetConversation(id string) (models.Conversation, bool)
	UpsertConversation(c models.Conversation)
	ListMessages(conversationID string) []models.Message
	UpsertMessage(m models.Message) models.Message
}

type Ledger struct {
	store     Store
	localUser string
}

func New(s Store, localUserID string) *Ledger {
	return &Ledger{store: s, localUser: localUserID}
}

// Unread reports whether m counts towards the unread total.
func (l *Ledger) Unread(m models.Message) bool {
	return m.SenderID != l.localUser && m.Status < models.StatusRead
}

// Refresh recomputes the unread count and last message pointer from the
// stored messages. changed is false when nothing moved.
func (l *Ledger) Refresh(conversationID string) (conv models.Conversation, changed bool, err error) {
	conv, ok := l.store.GetConversation(conversationID)
	if !ok {
		return conv, false, fmt.Errorf("refresh %s: %w", conversationID, models.ErrUnknownConversation)
	}
	msgs := l.store.ListMessages(conversationID)

	unread := 0
	last := ""
	var lastTS int64
	for _, m := range msgs {
		if l.Unread(m) {
			unread++
		}
		if m.Status != models.StatusFailed {
			// ascending order, so the final eligible message wins
			last = m.ID
			lastTS = max(m.CreatedTS, m.UpdatedTS)
		}
	}

	changed = conv.UnreadCount != unread || conv.LastMessageID != last || lastTS > conv.UpdatedTS
	if !changed {
		return conv, false, nil
	}
	conv.UnreadCount = unread
	conv.LastMessageID = last
	conv.UpdatedTS = max(conv.UpdatedTS, lastTS)
	l.store.UpsertConversation(conv)
	return conv, true, nil
}

// MarkOpened moves every unread foreign message to Read in ordering key
// order and returns the ids it changed together with the highest confirmed
// sequence of the conversation, which is what the server's read marker takes.
func (l *Ledger) MarkOpened(conversationID string, ts int64) (conv models.Conversation, read []string, upToSeq uint64, err error) {
	if _, ok := l.store.GetConversation(conversationID); !ok {
		return conv, nil, 0, fmt.Errorf("open %s: %w", conversationID, models.ErrUnknownConversation)
	}
	for _, m := range l.store.ListMessages(conversationID) {
		upToSeq = max(upToSeq, m.Order.Seq)
		if !l.Unread(m) {
			continue
		}
		next, aerr := lifecycle.Advance(m, models.StatusRead, ts)
		if aerr != nil {
			if errors.Is(aerr, models.ErrStaleEvent) || errors.Is(aerr, models.ErrNotConfirmed) {
				continue
			}
			return conv, read, upToSeq, aerr
		}
		l.store.UpsertMessage(next)
		read = append(read, next.ID)
	}
	conv, _, err = l.Refresh(conversationID)
	return conv, read, upToSeq, err
}
