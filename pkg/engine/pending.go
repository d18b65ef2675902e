package engine

import (
	"slices"
	"time"

	"chatsync/pkg/ingest/queue"
)

// parked wraps an error with the key of the entity the event is waiting for.
type parked struct {
	key string
	err error
}

func (p *parked) Error() string { return p.err.Error() }
func (p *parked) Unwrap() error { return p.err }

func park(key string, err error) error { return &parked{key: key, err: err} }

func conversationKey(id string) string { return "c:" + id }
func messageKey(id string) string      { return "m:" + id }

type pendingEntry struct {
	key   string
	ev    queue.Event
	added time.Time
}

// pendingBuffer holds events whose target is not known yet, oldest first.
// It is owned by the worker and not safe for concurrent use.
type pendingBuffer struct {
	entries []pendingEntry
	max     int
	ttl     time.Duration
}

func newPendingBuffer(max int, ttl time.Duration) *pendingBuffer {
	return &pendingBuffer{max: max, ttl: ttl}
}

// add parks ev under key and returns how many old entries were evicted to
// stay within the bound.
func (p *pendingBuffer) add(key string, ev queue.Event, added time.Time) int {
	p.entries = append(p.entries, pendingEntry{key: key, ev: ev, added: added})
	if p.max <= 0 || len(p.entries) <= p.max {
		return 0
	}
	n := len(p.entries) - p.max
	p.entries = slices.Delete(p.entries, 0, n)
	return n
}

// take removes and returns the entries parked under any of keys, in arrival
// order.
func (p *pendingBuffer) take(keys ...string) []pendingEntry {
	var out []pendingEntry
	p.entries = slices.DeleteFunc(p.entries, func(e pendingEntry) bool {
		if slices.Contains(keys, e.key) {
			out = append(out, e)
			return true
		}
		return false
	})
	return out
}

// expire drops entries older than the ttl and returns them.
func (p *pendingBuffer) expire(now time.Time) []pendingEntry {
	if p.ttl <= 0 {
		return nil
	}
	cutoff := now.Add(-p.ttl)
	var out []pendingEntry
	p.entries = slices.DeleteFunc(p.entries, func(e pendingEntry) bool {
		if e.added.Before(cutoff) {
			out = append(out, e)
			return true
		}
		return false
	})
	return out
}

func (p *pendingBuffer) len() int { return len(p.entries) }
