package store

import (
	"testing"

	"chatsync/pkg/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUpsertAndGetCopies(t *testing.T) {
	s := New()
	s.UpsertConversation(models.Conversation{ID: "c1", Participants: []string{"b", "a", "b"}})

	c, ok := s.GetConversation("c1")
	require.True(t, ok)
	assert.Equal(t, []string{"a", "b"}, c.Participants)

	c.Participants[0] = "zzz"
	again, _ := s.GetConversation("c1")
	assert.Equal(t, "a", again.Participants[0], "store must not share slices with callers")

	_, ok = s.GetConversation("missing")
	assert.False(t, ok)
	_, ok = s.GetMessage("missing")
	assert.False(t, ok)
}

func TestUpsertMessageAssignsLocalOrder(t *testing.T) {
	s := New()
	a := s.UpsertMessage(models.Message{ID: "a", ConversationID: "c1"})
	b := s.UpsertMessage(models.Message{ID: "b", ConversationID: "c1"})
	if a.Order.Local == 0 || b.Order.Local <= a.Order.Local {
		t.Fatalf("expected increasing local order, got %d then %d", a.Order.Local, b.Order.Local)
	}

	a.Content = "edited"
	a.Order.Local = 0
	a2 := s.UpsertMessage(a)
	assert.Equal(t, a.ID, a2.ID)
	got, _ := s.GetMessage("a")
	assert.Equal(t, "edited", got.Content)
	assert.NotZero(t, got.Order.Local)
	assert.Less(t, got.Order.Local, b.Order.Local, "replacing keeps the original local position")
}

func TestListMessagesOrdered(t *testing.T) {
	s := New()
	s.UpsertMessage(models.Message{ID: "tmp-1", ConversationID: "c1"})
	s.UpsertMessage(models.Message{ID: "srv-2", ConversationID: "c1", Order: models.OrderKey{Seq: 2}})
	s.UpsertMessage(models.Message{ID: "srv-1", ConversationID: "c1", Order: models.OrderKey{Seq: 1}})
	s.UpsertMessage(models.Message{ID: "other", ConversationID: "c2"})

	var ids []string
	for _, m := range s.ListMessages("c1") {
		ids = append(ids, m.ID)
	}
	assert.Equal(t, []string{"srv-1", "srv-2", "tmp-1"}, ids)
}

func TestReplaceMessageID(t *testing.T) {
	s := New()
	tmp := s.UpsertMessage(models.Message{ID: "tmp-1", ConversationID: "c1", CorrelationToken: "tok"})

	tmp.ID = "srv-42"
	tmp.Order.Seq = 10
	s.ReplaceMessageID("tmp-1", tmp)

	_, ok := s.GetMessage("tmp-1")
	assert.False(t, ok)
	got, ok := s.GetMessage("srv-42")
	require.True(t, ok)
	assert.Equal(t, uint64(10), got.Order.Seq)
	assert.Len(t, s.ListMessages("c1"), 1)

	byTok, ok := s.FindByCorrelationToken("c1", "tok")
	require.True(t, ok)
	assert.Equal(t, "srv-42", byTok.ID)
	_, ok = s.FindByCorrelationToken("c2", "tok")
	assert.False(t, ok)
}

func TestDeleteMessage(t *testing.T) {
	s := New()
	s.UpsertMessage(models.Message{ID: "m", ConversationID: "c1"})
	assert.True(t, s.DeleteMessage("m"))
	assert.False(t, s.DeleteMessage("m"))
	assert.Empty(t, s.ListMessages("c1"))
}

func TestListConversationsByActivity(t *testing.T) {
	s := New()
	s.UpsertConversation(models.Conversation{ID: "old", UpdatedTS: 1})
	s.UpsertConversation(models.Conversation{ID: "new", UpdatedTS: 5})
	list := s.ListConversations()
	require.Len(t, list, 2)
	assert.Equal(t, "new", list[0].ID)
}

func TestRestoredLocalOrderAdvancesCounter(t *testing.T) {
	s := New()
	s.UpsertMessage(models.Message{ID: "restored", ConversationID: "c1", Order: models.OrderKey{Local: 50}})
	next := s.UpsertMessage(models.Message{ID: "fresh", ConversationID: "c1"})
	assert.Greater(t, next.Order.Local, uint64(50))
}
