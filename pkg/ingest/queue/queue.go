package queue

import (
	"context"
	"fmt"
	"time"

	"chatsync/pkg/logger"
)

// NewEventQueue creates a bounded EventQueue of given capacity (>0).
func NewEventQueue(capacity int) *EventQueue {
	if capacity <= 0 {
		panic("queue.NewEventQueue: capacity must be > 0; ensure config.ValidateConfig() applied defaults")
	}
	return &EventQueue{ch: make(chan *item, capacity), capacity: capacity}
}

// Enqueue adds ev without blocking. It returns ErrQueueFull when the buffer
// is full and ErrQueueClosed after Close.
func (q *EventQueue) Enqueue(ev Event) error {
	_, err := q.enqueue(ev, false)
	return err
}

// Submit enqueues ev and waits until the worker has handled it, returning
// the handler's error.
func (q *EventQueue) Submit(ctx context.Context, ev Event) error {
	it, err := q.enqueue(ev, true)
	if err != nil {
		return err
	}
	select {
	case err := <-it.done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (q *EventQueue) enqueue(ev Event, wait bool) (*item, error) {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return nil, ErrQueueClosed
	}
	ev.EnqSeq = q.enqSeq.Add(1)
	if ev.TS == 0 {
		ev.TS = time.Now().UnixNano()
	}
	it := &item{ev: ev}
	if wait {
		it.done = make(chan error, 1)
	}
	select {
	case q.ch <- it:
		q.inFlight.Add(1)
		return it, nil
	default:
		q.dropped.Add(1)
		return nil, ErrQueueFull
	}
}

// RunWorker consumes events one at a time until stop is closed or the queue
// is closed and drained. A panicking handler is logged and counted; it never
// stops the loop.
func (q *EventQueue) RunWorker(stop <-chan struct{}, handler func(Event) error) {
	for {
		select {
		case it, ok := <-q.ch:
			if !ok {
				return
			}
			q.handle(it, handler)
		case <-stop:
			return
		}
	}
}

func (q *EventQueue) handle(it *item, handler func(Event) error) {
	var err error
	defer func() {
		if r := recover(); r != nil {
			q.panics.Add(1)
			err = fmt.Errorf("handler panic on %s: %v", it.ev.Kind, r)
			logger.Error("event_handler_panic", "kind", it.ev.Kind, "seq", it.ev.EnqSeq, "panic", r)
		}
		q.inFlight.Add(-1)
		q.handled.Add(1)
		if it.done != nil {
			it.done <- err
		}
	}()
	err = handler(it.ev)
}

// Close stops accepting events. Events already queued stay available to the
// worker.
func (q *EventQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	close(q.ch)
}

// Len returns the number of queued events.
func (q *EventQueue) Len() int { return len(q.ch) }

// Cap returns the configured capacity.
func (q *EventQueue) Cap() int { return q.capacity }

// Dropped returns how many events were rejected because the queue was full.
func (q *EventQueue) Dropped() uint64 { return q.dropped.Load() }

// Handled returns how many events the worker has finished.
func (q *EventQueue) Handled() uint64 { return q.handled.Load() }

// Panics returns how many handler invocations panicked.
func (q *EventQueue) Panics() uint64 { return q.panics.Load() }

// InFlight returns queued plus currently running events.
func (q *EventQueue) InFlight() int64 { return q.inFlight.Load() }
