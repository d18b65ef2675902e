package transport

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecorderOutbox(t *testing.T) {
	r := NewRecorder(2)
	ctx := context.Background()
	require.NoError(t, r.RequestSend(ctx, SendRequest{ConversationID: "c1", TempID: "tmp-1", CorrelationToken: "tok"}))
	require.NoError(t, r.RequestReaction(ctx, "srv-1", "like"))
	require.NoError(t, r.RequestMarkRead(ctx, "c1", 9))

	reqs := r.Requests()
	require.Len(t, reqs, 2)
	assert.Equal(t, RequestKindReaction, reqs[0].Kind)
	assert.Equal(t, uint64(9), reqs[1].UpToSeq)
	assert.Equal(t, uint64(1), r.Dropped())

	drained := r.Drain()
	assert.Len(t, drained, 2)
	assert.Empty(t, r.Requests())
}

func TestThrottledCoalescesMarkRead(t *testing.T) {
	rec := NewRecorder(0)
	// effectively no refill during the test
	th := NewThrottled(rec, 0.0001, 1)
	ctx := context.Background()

	require.NoError(t, th.RequestMarkRead(ctx, "c1", 3))
	require.NoError(t, th.RequestMarkRead(ctx, "c1", 5))
	require.NoError(t, th.RequestMarkRead(ctx, "c1", 4))

	reqs := rec.Requests()
	require.Len(t, reqs, 1)
	assert.Equal(t, uint64(3), reqs[0].UpToSeq)
	assert.Equal(t, 1, th.Pending())

	require.NoError(t, th.RequestSend(ctx, SendRequest{TempID: "tmp-1"}))
	assert.Len(t, rec.Requests(), 2, "sends are never throttled")
}

func TestThrottledFlush(t *testing.T) {
	rec := NewRecorder(0)
	th := NewThrottled(rec, 1000, 1)
	ctx := context.Background()
	th.pending["c1"] = 7

	require.NoError(t, th.Flush(ctx))
	reqs := rec.Requests()
	require.Len(t, reqs, 1)
	assert.Equal(t, uint64(7), reqs[0].UpToSeq)
	assert.Equal(t, 0, th.Pending())
}
