package ledger

import (
	"testing"

	"chatsync/pkg/models"
	"chatsync/pkg/store"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seed(t *testing.T) (*store.Store, *Ledger) {
	t.Helper()
	s := store.New()
	s.UpsertConversation(models.Conversation{ID: "c1"})
	return s, New(s, "me")
}

func TestRefreshUnreadEquation(t *testing.T) {
	s, l := seed(t)
	s.UpsertMessage(models.Message{ID: "f1", ConversationID: "c1", SenderID: "friend", Status: models.StatusSent, Order: models.OrderKey{Seq: 1}})
	s.UpsertMessage(models.Message{ID: "f2", ConversationID: "c1", SenderID: "friend", Status: models.StatusDelivered, Order: models.OrderKey{Seq: 2}})
	s.UpsertMessage(models.Message{ID: "f3", ConversationID: "c1", SenderID: "friend", Status: models.StatusRead, Order: models.OrderKey{Seq: 3}})
	s.UpsertMessage(models.Message{ID: "m1", ConversationID: "c1", SenderID: "me", Status: models.StatusSent, Order: models.OrderKey{Seq: 4}})

	conv, changed, err := l.Refresh("c1")
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, 2, conv.UnreadCount)
	assert.Equal(t, "m1", conv.LastMessageID)

	_, changed, err = l.Refresh("c1")
	require.NoError(t, err)
	assert.False(t, changed)
}

func TestLastMessageSkipsFailed(t *testing.T) {
	s, l := seed(t)
	s.UpsertMessage(models.Message{ID: "srv-1", ConversationID: "c1", SenderID: "me", Status: models.StatusSent, Order: models.OrderKey{Seq: 1}})
	s.UpsertMessage(models.Message{ID: "tmp-x", ConversationID: "c1", SenderID: "me", Status: models.StatusFailed, Error: "boom"})

	conv, _, err := l.Refresh("c1")
	require.NoError(t, err)
	assert.Equal(t, "srv-1", conv.LastMessageID)

	s.UpsertMessage(models.Message{ID: "tmp-y", ConversationID: "c1", SenderID: "me", Status: models.StatusSending})
	conv, _, err = l.Refresh("c1")
	require.NoError(t, err)
	assert.Equal(t, "tmp-y", conv.LastMessageID)
}

func TestMarkOpened(t *testing.T) {
	s, l := seed(t)
	s.UpsertMessage(models.Message{ID: "f1", ConversationID: "c1", SenderID: "friend", Status: models.StatusSent, Order: models.OrderKey{Seq: 1}})
	s.UpsertMessage(models.Message{ID: "f2", ConversationID: "c1", SenderID: "friend", Status: models.StatusDelivered, Order: models.OrderKey{Seq: 5}})
	s.UpsertMessage(models.Message{ID: "m1", ConversationID: "c1", SenderID: "me", Status: models.StatusSent, Order: models.OrderKey{Seq: 7}})

	conv, read, upTo, err := l.MarkOpened("c1", 10)
	require.NoError(t, err)
	assert.Equal(t, []string{"f1", "f2"}, read)
	assert.Equal(t, uint64(7), upTo)
	assert.Equal(t, 0, conv.UnreadCount)

	f2, _ := s.GetMessage("f2")
	assert.Equal(t, models.StatusRead, f2.Status)
	assert.True(t, f2.IsRead)
	m1, _ := s.GetMessage("m1")
	assert.Equal(t, models.StatusSent, m1.Status, "own messages are not marked read locally")
}

func TestUnknownConversation(t *testing.T) {
	_, l := seed(t)
	_, _, err := l.Refresh("nope")
	assert.ErrorIs(t, err, models.ErrUnknownConversation)
	_, _, _, err = l.MarkOpened("nope", 1)
	assert.ErrorIs(t, err, models.ErrUnknownConversation)
}
