package transport

import (
	"context"
	"sync"

	"chatsync/pkg/logger"

	"golang.org/x/time/rate"
)

// Throttled wraps a Transport and rate limits mark-read requests with a
// token bucket. Mark-read is idempotent, so a request over the limit is not
// sent; its sequence is remembered per conversation and folded into the next
// allowed request or a Flush. Sends and reactions pass through unchanged.
type Throttled struct {
	next    Transport
	limiter *rate.Limiter

	mu      sync.Mutex
	pending map[string]uint64
}

func NewThrottled(next Transport, rps float64, burst int) *Throttled {
	if burst <= 0 {
		burst = 1
	}
	return &Throttled{
		next:    next,
		limiter: rate.NewLimiter(rate.Limit(rps), burst),
		pending: make(map[string]uint64),
	}
}

func (t *Throttled) RequestSend(ctx context.Context, req SendRequest) error {
	return t.next.RequestSend(ctx, req)
}

func (t *Throttled) RequestReaction(ctx context.Context, messageID, reaction string) error {
	return t.next.RequestReaction(ctx, messageID, reaction)
}

func (t *Throttled) RequestMarkRead(ctx context.Context, conversationID string, upToSeq uint64) error {
	t.mu.Lock()
	if prev := t.pending[conversationID]; prev > upToSeq {
		upToSeq = prev
	}
	if !t.limiter.Allow() {
		t.pending[conversationID] = upToSeq
		t.mu.Unlock()
		logger.Debug("mark_read_coalesced", "conversation", conversationID, "up_to_seq", upToSeq)
		return nil
	}
	delete(t.pending, conversationID)
	t.mu.Unlock()
	return t.next.RequestMarkRead(ctx, conversationID, upToSeq)
}

// Pending returns the number of conversations with a held back mark-read.
func (t *Throttled) Pending() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.pending)
}

// Flush sends held back mark-read requests while the limiter allows.
func (t *Throttled) Flush(ctx context.Context) error {
	t.mu.Lock()
	batch := make(map[string]uint64, len(t.pending))
	for conv, seq := range t.pending {
		if !t.limiter.Allow() {
			break
		}
		batch[conv] = seq
		delete(t.pending, conv)
	}
	t.mu.Unlock()
	for conv, seq := range batch {
		if err := t.next.RequestMarkRead(ctx, conv, seq); err != nil {
			return err
		}
	}
	return nil
}
