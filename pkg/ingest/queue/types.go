package queue

import (
	"errors"
	"sync"
	"sync/atomic"
)

// Queue errors
var (
	ErrQueueFull   = errors.New("event queue full")
	ErrQueueClosed = errors.New("event queue closed")
)

// Kind names the handler an event is routed to.
type Kind string

const (
	// inbound, transport -> core
	KindConfirmed  Kind = "message.confirmed"
	KindStatus     Kind = "message.status"
	KindReaction   Kind = "reaction.set"
	KindSnapshot   Kind = "conversation.snapshot"
	KindSendFailed Kind = "message.send_failed"
	KindEdited     Kind = "message.edited"

	// local user actions
	KindStart  Kind = "conversation.start"
	KindSend   Kind = "message.send"
	KindCancel Kind = "message.cancel"
	KindRetry  Kind = "message.retry"
	KindReact  Kind = "reaction.local"
	KindOpen   Kind = "conversation.open"
	KindMute   Kind = "conversation.mute"

	// housekeeping
	KindSweep Kind = "pending.sweep"
)

// Event is one unit of work for the sync worker. Payload holds the typed
// event body for Kind.
type Event struct {
	Kind         Kind
	Conversation string
	ID           string
	Payload      any
	TS           int64  // enqueue time (nanoseconds)
	EnqSeq       uint64 // assigned at enqueue
}

// item wraps an Event with an optional completion channel.
type item struct {
	ev   Event
	done chan error
}

// EventQueue is a bounded FIFO drained by exactly one worker.
type EventQueue struct {
	mu       sync.RWMutex
	ch       chan *item
	capacity int
	closed   bool

	enqSeq   atomic.Uint64
	dropped  atomic.Uint64
	handled  atomic.Uint64
	panics   atomic.Uint64
	inFlight atomic.Int64
}
