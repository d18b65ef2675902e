// Package bus is a small publish/subscribe hub keyed by topic. Publishing
// never blocks: a subscriber whose buffer is full misses the notification.
package bus

import (
	"sync"
	"sync/atomic"

	"chatsync/pkg/logger"
)

// DiagnosticsTopic carries send failures and reconciliation conflicts.
const DiagnosticsTopic = "_diagnostics"

// Notification types
const (
	TypeConversationUpdated = "conversation.updated"
	TypeMessageUpserted     = "message.upserted"
	TypeMessageRemoved      = "message.removed"
	TypeSendFailed          = "send_failed"
	TypeConflict            = "reconciliation_conflict"
)

// Notification tells a subscriber that something under its topic changed.
type Notification struct {
	Type           string `json:"type"`
	ConversationID string `json:"conversation_id,omitempty"`
	MessageID      string `json:"message_id,omitempty"`
	// PreviousID is set when a temporary id was replaced.
	PreviousID string `json:"previous_id,omitempty"`
	Data       any    `json:"data,omitempty"`
}

// Subscription receives notifications on C until Close is called.
type Subscription struct {
	C     <-chan Notification
	ch    chan Notification
	topic string
	bus   *Bus
	once  sync.Once
}

// Close unsubscribes and closes C. Safe to call more than once.
func (s *Subscription) Close() {
	s.once.Do(func() { s.bus.remove(s) })
}

// Topic returns the topic the subscription listens on.
func (s *Subscription) Topic() string { return s.topic }

type Bus struct {
	mu      sync.RWMutex
	subs    map[string]map[*Subscription]struct{}
	buffer  int
	closed  bool
	dropped atomic.Uint64
}

// New creates a bus whose subscriptions buffer up to buffer notifications.
func New(buffer int) *Bus {
	if buffer <= 0 {
		buffer = 1
	}
	return &Bus{subs: make(map[string]map[*Subscription]struct{}), buffer: buffer}
}

// Subscribe registers a new subscription for topic. On a closed bus the
// returned subscription's channel is already closed.
func (b *Bus) Subscribe(topic string) *Subscription {
	ch := make(chan Notification, b.buffer)
	s := &Subscription{C: ch, ch: ch, topic: topic, bus: b}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		close(ch)
		s.once.Do(func() {})
		return s
	}
	set, ok := b.subs[topic]
	if !ok {
		set = make(map[*Subscription]struct{})
		b.subs[topic] = set
	}
	set[s] = struct{}{}
	logger.Debug("bus_subscribed", "topic", topic, "subscribers", len(set))
	return s
}

func (b *Bus) remove(s *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if set, ok := b.subs[s.topic]; ok {
		if _, ok := set[s]; ok {
			delete(set, s)
			close(s.ch)
		}
		if len(set) == 0 {
			delete(b.subs, s.topic)
		}
	}
}

// Publish delivers n to every subscriber of topic without blocking.
func (b *Bus) Publish(topic string, n Notification) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for s := range b.subs[topic] {
		select {
		case s.ch <- n:
		default:
			b.dropped.Add(1)
			logger.Warn("bus_subscriber_full", "topic", topic, "type", n.Type)
		}
	}
}

// Count returns the number of subscribers on topic.
func (b *Bus) Count(topic string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[topic])
}

// Total returns the number of subscribers across all topics.
func (b *Bus) Total() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	n := 0
	for _, set := range b.subs {
		n += len(set)
	}
	return n
}

// Dropped returns how many notifications were skipped for full subscribers.
func (b *Bus) Dropped() uint64 { return b.dropped.Load() }

// Close tears down every subscription. Later subscriptions are born closed.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for topic, set := range b.subs {
		for s := range set {
			close(s.ch)
		}
		delete(b.subs, topic)
	}
}
