// Package checkpoint periodically persists the engine state on a cron
// schedule and once more at shutdown.
package checkpoint

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/adhocore/gronx"

	"chatsync/pkg/logger"
	"chatsync/pkg/metrics"
	"chatsync/pkg/models"
)

// Source yields the state to persist.
type Source interface {
	Snapshot() []models.Snapshot
}

// Sink persists snapshots and returns how many messages were written.
type Sink interface {
	Save(snaps []models.Snapshot, at time.Time) (int, error)
}

type Manager struct {
	cron    string
	source  Source
	sink    Sink
	metrics *metrics.Metrics
	now     func() time.Time

	mu      sync.Mutex
	running bool
	last    time.Time

	cancel context.CancelFunc
	done   chan struct{}
}

func New(cron string, source Source, sink Sink, m *metrics.Metrics) (*Manager, error) {
	if !gronx.New().IsValid(cron) {
		return nil, fmt.Errorf("invalid checkpoint cron %q", cron)
	}
	return &Manager{cron: cron, source: source, sink: sink, metrics: m, now: time.Now}, nil
}

// Start runs the schedule until ctx ends or Stop is called.
func (m *Manager) Start(ctx context.Context) {
	ctx, m.cancel = context.WithCancel(ctx)
	m.done = make(chan struct{})
	logger.Info("checkpoint_enabled", "cron", m.cron)
	go func() {
		defer close(m.done)
		m.scheduleLoop(ctx)
	}()
}

// Stop ends the schedule and writes a final checkpoint.
func (m *Manager) Stop() error {
	if m.cancel != nil {
		m.cancel()
		<-m.done
	}
	return m.RunNow()
}

// LastRun reports when the last successful checkpoint finished.
func (m *Manager) LastRun() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.last
}

func (m *Manager) scheduleLoop(ctx context.Context) {
	for {
		next, err := gronx.NextTickAfter(m.cron, m.now(), false)
		if err != nil {
			logger.Error("checkpoint_nexttick_failed", "cron", m.cron, "error", err)
			select {
			case <-time.After(30 * time.Second):
			case <-ctx.Done():
				return
			}
			continue
		}

		wait := time.Until(next)
		if wait <= 0 {
			wait = time.Second
		}
		select {
		case <-time.After(wait):
			m.runJob()
		case <-ctx.Done():
			return
		}
	}
}

func (m *Manager) runJob() {
	if err := m.RunNow(); err != nil {
		logger.Error("checkpoint_run_error", "error", err)
	}
}

// RunNow writes a checkpoint unless one is already in progress.
func (m *Manager) RunNow() error {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return nil
	}
	m.running = true
	m.mu.Unlock()

	defer func() {
		m.mu.Lock()
		m.running = false
		m.mu.Unlock()
	}()

	start := m.now()
	snaps := m.source.Snapshot()
	n, err := m.sink.Save(snaps, start)
	if err != nil {
		m.metrics.Checkpoint(metrics.ResultError)
		return fmt.Errorf("save checkpoint: %w", err)
	}
	m.metrics.Checkpoint(metrics.ResultOK)

	m.mu.Lock()
	m.last = start
	m.mu.Unlock()
	logger.Info("checkpoint_saved", "conversations", len(snaps), "messages", n, "took", time.Since(start))
	return nil
}
