package transport

import (
	"context"
	"slices"
	"sync"
	"time"
)

// Request kinds recorded in the outbox.
const (
	RequestKindSend     = "send"
	RequestKindMarkRead = "mark_read"
	RequestKindReaction = "reaction"
)

// Request is one outbound call captured by the Recorder.
type Request struct {
	Kind           string       `json:"kind"`
	ConversationID string       `json:"conversation_id,omitempty"`
	MessageID      string       `json:"message_id,omitempty"`
	UpToSeq        uint64       `json:"up_to_seq,omitempty"`
	Reaction       string       `json:"reaction,omitempty"`
	Send           *SendRequest `json:"send,omitempty"`
	TS             int64        `json:"ts"`
}

// Recorder keeps outbound requests in memory until a bridge drains them.
type Recorder struct {
	mu     sync.Mutex
	outbox []Request
	max    int
	// dropped counts requests evicted because the outbox was full
	dropped uint64
}

// NewRecorder creates a recorder holding at most max requests; the oldest
// are evicted first. max <= 0 means unbounded.
func NewRecorder(max int) *Recorder {
	return &Recorder{max: max}
}

func (r *Recorder) RequestSend(_ context.Context, req SendRequest) error {
	req.Media = slices.Clone(req.Media)
	r.record(Request{Kind: RequestKindSend, ConversationID: req.ConversationID, MessageID: req.TempID, Send: &req})
	return nil
}

func (r *Recorder) RequestMarkRead(_ context.Context, conversationID string, upToSeq uint64) error {
	r.record(Request{Kind: RequestKindMarkRead, ConversationID: conversationID, UpToSeq: upToSeq})
	return nil
}

func (r *Recorder) RequestReaction(_ context.Context, messageID, reaction string) error {
	r.record(Request{Kind: RequestKindReaction, MessageID: messageID, Reaction: reaction})
	return nil
}

func (r *Recorder) record(req Request) {
	req.TS = time.Now().UnixNano()
	r.mu.Lock()
	defer r.mu.Unlock()
	r.outbox = append(r.outbox, req)
	if r.max > 0 && len(r.outbox) > r.max {
		n := len(r.outbox) - r.max
		r.outbox = slices.Delete(r.outbox, 0, n)
		r.dropped += uint64(n)
	}
}

// Requests returns a copy of the outbox.
func (r *Recorder) Requests() []Request {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.outbox)
}

// Drain returns and clears the outbox.
func (r *Recorder) Drain() []Request {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := r.outbox
	r.outbox = nil
	return out
}

// Dropped returns the number of evicted requests.
func (r *Recorder) Dropped() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.dropped
}
