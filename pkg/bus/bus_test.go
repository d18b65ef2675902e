package bus

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublishReachesTopicSubscribersOnly(t *testing.T) {
	b := New(4)
	a := b.Subscribe("c1")
	other := b.Subscribe("c2")
	defer a.Close()
	defer other.Close()

	b.Publish("c1", Notification{Type: TypeMessageUpserted, ConversationID: "c1", MessageID: "m1"})

	select {
	case n := <-a.C:
		assert.Equal(t, "m1", n.MessageID)
	default:
		t.Fatal("subscriber of c1 got nothing")
	}
	select {
	case n := <-other.C:
		t.Fatalf("subscriber of c2 got %+v", n)
	default:
	}
}

func TestCloseUnsubscribes(t *testing.T) {
	b := New(1)
	s := b.Subscribe("c1")
	assert.Equal(t, 1, b.Count("c1"))
	s.Close()
	s.Close()
	assert.Equal(t, 0, b.Count("c1"))
	_, ok := <-s.C
	assert.False(t, ok, "channel closed after Close")

	b.Publish("c1", Notification{Type: TypeConversationUpdated})
}

func TestFullSubscriberDoesNotBlock(t *testing.T) {
	b := New(1)
	s := b.Subscribe("c1")
	defer s.Close()
	b.Publish("c1", Notification{Type: "a"})
	b.Publish("c1", Notification{Type: "b"})
	assert.Equal(t, uint64(1), b.Dropped())
	n := <-s.C
	assert.Equal(t, "a", n.Type)
}

func TestBusClose(t *testing.T) {
	b := New(1)
	s := b.Subscribe("c1")
	b.Close()
	_, ok := <-s.C
	assert.False(t, ok)
	s.Close()

	late := b.Subscribe("c1")
	_, ok = <-late.C
	assert.False(t, ok)
	late.Close()
	assert.Equal(t, 0, b.Total())
}

func TestWriteSSE(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteSSE(&buf, Notification{Type: TypeSendFailed, MessageID: "tmp-1"}))
	out := buf.String()
	assert.True(t, strings.HasPrefix(out, "event: send_failed\ndata: {"))
	assert.Contains(t, out, `"message_id":"tmp-1"`)
	assert.True(t, strings.HasSuffix(out, "\n\n"))
}
