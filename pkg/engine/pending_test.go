package engine

import (
	"testing"
	"time"

	"chatsync/pkg/ingest/queue"

	"github.com/stretchr/testify/assert"
)

func TestPendingBufferTakeAndExpire(t *testing.T) {
	p := newPendingBuffer(3, time.Minute)
	t0 := time.Unix(100, 0)

	p.add("m:a", queue.Event{ID: "1"}, t0)
	p.add("m:b", queue.Event{ID: "2"}, t0.Add(30*time.Second))
	p.add("m:a", queue.Event{ID: "3"}, t0.Add(40*time.Second))

	got := p.take("m:a")
	if len(got) != 2 || got[0].ev.ID != "1" || got[1].ev.ID != "3" {
		t.Fatalf("take returned %+v", got)
	}
	assert.Equal(t, 1, p.len())

	expired := p.expire(t0.Add(95 * time.Second))
	assert.Len(t, expired, 1)
	assert.Equal(t, 0, p.len())
}

func TestPendingBufferEvictsOldest(t *testing.T) {
	p := newPendingBuffer(2, time.Minute)
	now := time.Unix(0, 0)
	assert.Equal(t, 0, p.add("k", queue.Event{ID: "1"}, now))
	assert.Equal(t, 0, p.add("k", queue.Event{ID: "2"}, now))
	assert.Equal(t, 1, p.add("k", queue.Event{ID: "3"}, now))

	got := p.take("k")
	assert.Equal(t, "2", got[0].ev.ID)
	assert.Equal(t, "3", got[1].ev.ID)
}
