package reconcile

import (
	"errors"
	"fmt"
	"testing"

	"chatsync/pkg/models"
	"chatsync/pkg/store"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const me = "me"

func setup(t *testing.T) (*store.Store, *Reconciler) {
	t.Helper()
	s := store.New()
	s.UpsertConversation(models.Conversation{ID: "c1", Type: models.ConversationDirect})
	return s, New(s, me)
}

func optimistic(s *store.Store, id, token, content string) models.Message {
	return s.UpsertMessage(models.Message{
		ID:               id,
		CorrelationToken: token,
		ConversationID:   "c1",
		SenderID:         me,
		SenderType:       models.SenderUser,
		Content:          content,
		Status:           models.StatusSending,
	})
}

func TestConfirmByToken(t *testing.T) {
	s, r := setup(t)
	optimistic(s, "tmp-1", "tok-1", "Hi")

	res, err := r.Confirm(models.Confirmation{PermanentID: "srv-42", ConversationID: "c1", CorrelationToken: "tok-1", Seq: 10, Timestamp: 100, Content: "Hi"})
	require.NoError(t, err)
	assert.Equal(t, Reconciled, res.Outcome)
	assert.Equal(t, "tmp-1", res.PreviousID)
	assert.Nil(t, res.Conflict)

	got, ok := s.GetMessage("srv-42")
	require.True(t, ok)
	assert.Equal(t, models.StatusSent, got.Status)
	assert.Equal(t, "Hi", got.Content)
	assert.Equal(t, uint64(10), got.Order.Seq)
	_, ok = s.GetMessage("tmp-1")
	assert.False(t, ok)
	assert.Equal(t, "srv-42", r.Resolve("tmp-1"))
	assert.Equal(t, "other", r.Resolve("other"))
}

func TestDuplicateConfirmationIsStale(t *testing.T) {
	s, r := setup(t)
	optimistic(s, "tmp-1", "tok-1", "Hi")
	c := models.Confirmation{PermanentID: "srv-42", ConversationID: "c1", CorrelationToken: "tok-1", Seq: 10}
	_, err := r.Confirm(c)
	require.NoError(t, err)
	before := s.ListMessages("c1")

	_, err = r.Confirm(c)
	if !errors.Is(err, models.ErrStaleEvent) {
		t.Fatalf("expected ErrStaleEvent, got %v", err)
	}
	assert.Equal(t, before, s.ListMessages("c1"))
}

func TestConfirmKeepsRenderedContentModuloWhitespace(t *testing.T) {
	s, r := setup(t)
	m := optimistic(s, "tmp-1", "tok-1", "hello  world")
	m.Media = []models.Attachment{{ID: "local-thumb"}}
	s.UpsertMessage(m)

	res, err := r.Confirm(models.Confirmation{PermanentID: "srv-1", ConversationID: "c1", CorrelationToken: "tok-1", Seq: 1, Content: "hello world\n", Media: []models.Attachment{{ID: "remote"}}})
	require.NoError(t, err)
	assert.Nil(t, res.Conflict)
	assert.Equal(t, "hello  world", res.Message.Content)
	assert.Equal(t, "local-thumb", res.Message.Media[0].ID)
}

func TestConflictServerWins(t *testing.T) {
	s, r := setup(t)
	optimistic(s, "tmp-1", "tok-1", "draft")

	res, err := r.Confirm(models.Confirmation{PermanentID: "srv-1", ConversationID: "c1", CorrelationToken: "tok-1", Seq: 3, Content: "moderated"})
	require.NoError(t, err)
	require.NotNil(t, res.Conflict)
	assert.Equal(t, "draft", res.Conflict.LocalContent)
	assert.Equal(t, "moderated", res.Message.Content)
	var ce *models.ConflictError
	assert.True(t, errors.As(error(res.Conflict), &ce))
}

func TestFallbackMatchesOldestByContent(t *testing.T) {
	s, r := setup(t)
	optimistic(s, "tmp-1", "", "ok")
	optimistic(s, "tmp-2", "", "ok")

	res, err := r.Confirm(models.Confirmation{PermanentID: "srv-1", ConversationID: "c1", Seq: 1, Content: " ok ", SenderID: me})
	require.NoError(t, err)
	assert.Equal(t, Reconciled, res.Outcome)
	assert.Equal(t, "tmp-1", res.PreviousID)

	_, ok := s.GetMessage("tmp-2")
	assert.True(t, ok)
}

func TestNoMatchInsertsFresh(t *testing.T) {
	s, r := setup(t)
	optimistic(s, "tmp-1", "tok-1", "Hi")

	res, err := r.Confirm(models.Confirmation{PermanentID: "srv-9", ConversationID: "c1", CorrelationToken: "other-device", Seq: 4, Content: "Hi", SenderID: me})
	require.NoError(t, err)
	assert.Equal(t, Inserted, res.Outcome)
	assert.Len(t, s.ListMessages("c1"), 2)

	res, err = r.Confirm(models.Confirmation{PermanentID: "srv-10", ConversationID: "c1", Seq: 5, Content: "Hi", SenderID: "friend"})
	require.NoError(t, err)
	assert.Equal(t, Inserted, res.Outcome, "foreign senders never match optimistic messages")
}

func TestConfirmationReordersConversation(t *testing.T) {
	s, r := setup(t)
	s.UpsertMessage(models.Message{ID: "srv-1", ConversationID: "c1", SenderID: "friend", Status: models.StatusSent, Order: models.OrderKey{Seq: 1}})
	optimistic(s, "tmp-1", "tok", "mine")
	s.UpsertMessage(models.Message{ID: "srv-3", ConversationID: "c1", SenderID: "friend", Status: models.StatusSent, Order: models.OrderKey{Seq: 3}})

	_, err := r.Confirm(models.Confirmation{PermanentID: "srv-2", ConversationID: "c1", CorrelationToken: "tok", Seq: 2, Content: "mine"})
	require.NoError(t, err)

	var ids []string
	for _, m := range s.ListMessages("c1") {
		ids = append(ids, m.ID)
	}
	assert.Equal(t, []string{"srv-1", "srv-2", "srv-3"}, ids)
}

func TestSnapshotMessageWithTokenReconciles(t *testing.T) {
	s, r := setup(t)
	optimistic(s, "tmp-1", "tok-1", "Hi")

	res, err := r.ApplySnapshotMessage(models.Message{
		ID: "srv-42", ConversationID: "c1", CorrelationToken: "tok-1", SenderID: me,
		Content: "Hi", Status: models.StatusDelivered, Order: models.OrderKey{Seq: 10},
		Reactions: map[string]string{"friend": "like"},
	})
	require.NoError(t, err)
	assert.Equal(t, Reconciled, res.Outcome)
	got, ok := s.GetMessage("srv-42")
	require.True(t, ok)
	assert.Equal(t, models.StatusDelivered, got.Status)
	assert.Equal(t, "like", got.Reactions["friend"])
	assert.Len(t, s.ListMessages("c1"), 1)
}

func TestSnapshotNeverRegressesStatus(t *testing.T) {
	s, r := setup(t)
	s.UpsertMessage(models.Message{ID: "srv-1", ConversationID: "c1", SenderID: "friend", Status: models.StatusRead, IsRead: true, Order: models.OrderKey{Seq: 1}})

	res, err := r.ApplySnapshotMessage(models.Message{ID: "srv-1", ConversationID: "c1", SenderID: "friend", Status: models.StatusDelivered, Order: models.OrderKey{Seq: 1}})
	require.NoError(t, err)
	assert.Equal(t, Refreshed, res.Outcome)
	assert.Equal(t, models.StatusRead, res.Message.Status)
	assert.True(t, res.Message.IsRead)
}

func TestConfirmRejectsIncompleteEvent(t *testing.T) {
	_, r := setup(t)
	_, err := r.Confirm(models.Confirmation{ConversationID: "c1"})
	assert.ErrorIs(t, err, models.ErrInvalidEvent)
}

func TestConfirmRequiresOrderingKey(t *testing.T) {
	s, r := setup(t)
	optimistic(s, "tmp-1", "tok-1", "Hi")

	_, err := r.Confirm(models.Confirmation{PermanentID: "srv-1", ConversationID: "c1", CorrelationToken: "tok-1", Content: "Hi", SenderID: me})
	assert.ErrorIs(t, err, models.ErrInvalidEvent)

	m, ok := s.GetMessage("tmp-1")
	require.True(t, ok)
	assert.Equal(t, models.StatusSending, m.Status)
	_, ok = s.GetMessage("srv-1")
	assert.False(t, ok)
}

func TestSnapshotMessageWithoutSeqIsKept(t *testing.T) {
	s, r := setup(t)
	res, err := r.ApplySnapshotMessage(models.Message{ID: "srv-old", ConversationID: "c1", SenderID: "friend", Status: models.StatusDelivered})
	require.NoError(t, err)
	assert.Equal(t, Inserted, res.Outcome)
	_, ok := s.GetMessage("srv-old")
	assert.True(t, ok)
}

func TestConfirmWithoutSenderIsLocal(t *testing.T) {
	s, r := setup(t)
	res, err := r.Confirm(models.Confirmation{PermanentID: "srv-7", ConversationID: "c1", Seq: 3, Content: "from my phone"})
	require.NoError(t, err)
	assert.Equal(t, Inserted, res.Outcome)
	assert.Equal(t, me, res.Message.SenderID)

	m, ok := s.GetMessage("srv-7")
	require.True(t, ok)
	assert.Equal(t, me, m.SenderID)
	assert.Equal(t, me, m.CreatedBy)
}

func TestAliasesAreBounded(t *testing.T) {
	_, r := setup(t)
	for i := 0; i <= maxAliases; i++ {
		r.alias(fmt.Sprintf("tmp-%d", i), fmt.Sprintf("srv-%d", i))
	}
	assert.Len(t, r.aliases, maxAliases)
	assert.Equal(t, "tmp-0", r.Resolve("tmp-0"), "oldest alias is evicted")
	assert.Equal(t, "srv-1", r.Resolve("tmp-1"))
	assert.Equal(t, fmt.Sprintf("srv-%d", maxAliases), r.Resolve(fmt.Sprintf("tmp-%d", maxAliases)))

	r.alias("tmp-1", "srv-x")
	assert.Len(t, r.aliases, maxAliases)
	assert.Equal(t, "srv-x", r.Resolve("tmp-1"))
}
