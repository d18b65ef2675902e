// Package engine composes the entity store, lifecycle machine,
// reconciliation, reactions and ledger behind one serialized event queue.
//
// Every mutation runs on a single worker goroutine. Inbound transport events
// are enqueued without blocking; local user actions are submitted and waited
// for. Readers get copies from the store at any time.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"chatsync/pkg/bus"
	"chatsync/pkg/ingest/queue"
	"chatsync/pkg/ledger"
	"chatsync/pkg/logger"
	"chatsync/pkg/metrics"
	"chatsync/pkg/models"
	"chatsync/pkg/reactions"
	"chatsync/pkg/reconcile"
	"chatsync/pkg/store"
	"chatsync/pkg/transport"

	"github.com/google/uuid"
)

// Options tunes an Engine. Zero values fall back to defaults.
type Options struct {
	LocalUserID   string
	PendingTTL    time.Duration
	PendingMax    int
	SweepInterval time.Duration
	// Now and NewID are replaceable for tests.
	Now   func() time.Time
	NewID func() string
}

const (
	defaultPendingTTL    = 30 * time.Second
	defaultPendingMax    = 1024
	defaultSweepInterval = 5 * time.Second
)

type handlerFunc func(ev queue.Event) error

type Engine struct {
	opts Options

	store     *store.Store
	reactions *reactions.Aggregator
	reconcile *reconcile.Reconciler
	ledger    *ledger.Ledger
	queue     *queue.EventQueue
	bus       *bus.Bus
	transport transport.Transport
	metrics   *metrics.Metrics

	pending      *pendingBuffer
	pendingCount atomic.Int64
	handlers     map[queue.Kind]handlerFunc

	running atomic.Bool
	stop    chan struct{}
	wg      sync.WaitGroup
}

// New wires an engine. The caller owns q, b and tr and closes them after Stop.
func New(s *store.Store, q *queue.EventQueue, b *bus.Bus, tr transport.Transport, m *metrics.Metrics, opts Options) *Engine {
	if opts.LocalUserID == "" {
		panic("engine.New: local user id is required; ensure config.ValidateConfig() ran")
	}
	if opts.PendingTTL <= 0 {
		opts.PendingTTL = defaultPendingTTL
	}
	if opts.PendingMax <= 0 {
		opts.PendingMax = defaultPendingMax
	}
	if opts.SweepInterval <= 0 {
		opts.SweepInterval = defaultSweepInterval
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.NewID == nil {
		opts.NewID = uuid.NewString
	}
	e := &Engine{
		opts:      opts,
		store:     s,
		reactions: reactions.New(opts.LocalUserID),
		reconcile: reconcile.New(s, opts.LocalUserID),
		ledger:    ledger.New(s, opts.LocalUserID),
		queue:     q,
		bus:       b,
		transport: tr,
		metrics:   m,
		pending:   newPendingBuffer(opts.PendingMax, opts.PendingTTL),
		stop:      make(chan struct{}),
	}
	e.handlers = map[queue.Kind]handlerFunc{
		queue.KindConfirmed:  e.handleConfirmed,
		queue.KindStatus:     e.handleStatus,
		queue.KindReaction:   e.handleReaction,
		queue.KindSnapshot:   e.handleSnapshot,
		queue.KindSendFailed: e.handleSendFailed,
		queue.KindEdited:     e.handleEdited,
		queue.KindStart:      e.handleStart,
		queue.KindSend:       e.handleSend,
		queue.KindCancel:     e.handleCancel,
		queue.KindRetry:      e.handleRetry,
		queue.KindReact:      e.handleReact,
		queue.KindOpen:       e.handleOpen,
		queue.KindMute:       e.handleMute,
		queue.KindSweep:      e.handleSweep,
	}
	return e
}

// LocalUserID returns the identity the engine acts for.
func (e *Engine) LocalUserID() string { return e.opts.LocalUserID }

// PendingLen returns the number of parked events.
func (e *Engine) PendingLen() int { return int(e.pendingCount.Load()) }

// Start launches the worker and the pending sweep ticker.
func (e *Engine) Start() {
	if !e.running.CompareAndSwap(false, true) {
		return
	}
	e.wg.Add(2)
	go func() {
		defer e.wg.Done()
		e.queue.RunWorker(e.stop, e.Process)
	}()
	go func() {
		defer e.wg.Done()
		e.sweepLoop()
	}()
	logger.Info("sync_engine_started", "local_user", e.opts.LocalUserID, "queue_capacity", e.queue.Cap())
}

// Stop halts the worker and waits for it or for ctx.
func (e *Engine) Stop(ctx context.Context) error {
	if !e.running.CompareAndSwap(true, false) {
		return nil
	}
	close(e.stop)
	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		logger.Info("sync_engine_stopped", "pending", e.PendingLen())
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (e *Engine) sweepLoop() {
	t := time.NewTicker(e.opts.SweepInterval)
	defer t.Stop()
	for {
		select {
		case <-e.stop:
			return
		case <-t.C:
			if err := e.queue.Enqueue(queue.Event{Kind: queue.KindSweep}); err != nil && !errors.Is(err, queue.ErrQueueFull) {
				return
			}
		}
	}
}

// Submit enqueues ev and waits for the worker to handle it.
func (e *Engine) Submit(ctx context.Context, ev queue.Event) error {
	return e.queue.Submit(ctx, ev)
}

// Process applies one event synchronously. The worker calls it for every
// queued event; tests call it directly. It must not run concurrently with
// itself.
func (e *Engine) Process(ev queue.Event) error {
	now := e.opts.Now()
	e.expirePending(now)
	err := e.dispatch(ev, now)
	e.pendingCount.Store(int64(e.pending.len()))
	return err
}

func (e *Engine) dispatch(ev queue.Event, parkedAt time.Time) error {
	h, ok := e.handlers[ev.Kind]
	if !ok {
		e.metrics.Event(string(ev.Kind), metrics.ResultInvalid)
		return fmt.Errorf("%w: no handler for %q", models.ErrInvalidEvent, ev.Kind)
	}
	err := h(ev)
	e.account(ev, err, parkedAt)
	return err
}

// account records the outcome of one handler run and parks events that wait
// for an unknown conversation or message.
func (e *Engine) account(ev queue.Event, err error, parkedAt time.Time) {
	kind := string(ev.Kind)
	var p *parked
	switch {
	case err == nil:
		e.metrics.Event(kind, metrics.ResultOK)
	case errors.As(err, &p) && models.Buffered(err):
		if n := e.pending.add(p.key, ev, parkedAt); n > 0 {
			for i := 0; i < n; i++ {
				e.metrics.PendingDropped("overflow")
			}
			logger.Warn("pending_overflow", "evicted", n, "max", e.opts.PendingMax)
		}
		e.metrics.Event(kind, metrics.ResultBuffered)
		logger.Debug("event_buffered", "kind", kind, "key", p.key, "reason", err)
	case errors.Is(err, models.ErrStaleEvent):
		e.metrics.Event(kind, metrics.ResultStale)
		logger.Debug("event_stale", "kind", kind, "id", ev.ID, "reason", err)
	case errors.Is(err, models.ErrInvalidEvent), errors.Is(err, models.ErrUnknownStatus),
		errors.Is(err, models.ErrIllegalTransition):
		e.metrics.Event(kind, metrics.ResultInvalid)
		logger.Warn("event_rejected", "kind", kind, "id", ev.ID, "error", err)
	default:
		e.metrics.Event(kind, metrics.ResultError)
		logger.Error("event_failed", "kind", kind, "id", ev.ID, "error", err)
	}
}

// replay re-runs events parked under keys. Events that still cannot apply
// are parked again with their original time.
func (e *Engine) replay(keys ...string) {
	for _, entry := range e.pending.take(keys...) {
		e.metrics.PendingReplayed()
		logger.Debug("pending_replay", "kind", entry.ev.Kind, "key", entry.key)
		_ = e.dispatch(entry.ev, entry.added)
	}
}

func (e *Engine) expirePending(now time.Time) {
	for _, entry := range e.pending.expire(now) {
		e.metrics.PendingDropped("expired")
		logger.Info("pending_expired", "kind", entry.ev.Kind, "key", entry.key, "age", now.Sub(entry.added))
	}
}

func (e *Engine) handleSweep(queue.Event) error {
	// expiry already ran in Process
	return nil
}

func (e *Engine) nowNano() int64 { return e.opts.Now().UnixNano() }

// refresh recomputes the ledger for a conversation and notifies subscribers
// when it changed.
func (e *Engine) refresh(conversationID string) {
	conv, changed, err := e.ledger.Refresh(conversationID)
	if err != nil {
		logger.Warn("ledger_refresh_failed", "conversation", conversationID, "error", err)
		return
	}
	if changed {
		e.publish(bus.Notification{Type: bus.TypeConversationUpdated, ConversationID: conversationID, Data: conv})
	}
}

func (e *Engine) publish(n bus.Notification) {
	if e.bus == nil {
		return
	}
	e.bus.Publish(n.ConversationID, n)
}

func (e *Engine) diagnose(n bus.Notification) {
	if e.bus == nil {
		return
	}
	e.bus.Publish(bus.DiagnosticsTopic, n)
}

func (e *Engine) publishMessage(m models.Message, previousID string) {
	e.publish(bus.Notification{
		Type:           bus.TypeMessageUpserted,
		ConversationID: m.ConversationID,
		MessageID:      m.ID,
		PreviousID:     previousID,
		Data:           m,
	})
}
