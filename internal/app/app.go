// Package app is the composition root of the chatsync host process. It owns
// the engine, its queue and bus, the snapshot store, checkpoints and the
// fasthttp server.
package app

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/valyala/fasthttp"

	"chatsync/internal/checkpoint"
	"chatsync/pkg/bus"
	"chatsync/pkg/config"
	"chatsync/pkg/engine"
	"chatsync/pkg/ingest/queue"
	"chatsync/pkg/logger"
	"chatsync/pkg/metrics"
	"chatsync/pkg/store"
	"chatsync/pkg/store/snapshot"
	"chatsync/pkg/transport"
)

const (
	stateStarting = "starting"
	stateRunning  = "running"
	stateStopping = "shutting_down"
	stateStopped  = "stopped"

	outboxMax     = 4096
	flushInterval = time.Second
)

type App struct {
	eff     config.EffectiveConfigResult
	version string
	state   atomic.Value

	store     *store.Store
	queue     *queue.EventQueue
	bus       *bus.Bus
	outbox    *transport.Recorder
	throttled *transport.Throttled
	registry  *prometheus.Registry
	metrics   *metrics.Metrics
	engine    *engine.Engine
	limiter   *limiterPool

	snapshots   *snapshot.Store
	checkpoints *checkpoint.Manager

	handler  fasthttp.RequestHandler
	srvFast  *fasthttp.Server
	cancel   context.CancelFunc
	bg       sync.WaitGroup
	shutdown sync.Once
}

// New builds every component and restores persisted state. It does not start
// goroutines; Run does.
func New(eff config.EffectiveConfigResult, version string) (*App, error) {
	cfg := eff.Config
	if cfg == nil {
		return nil, errors.New("app.New: nil config")
	}
	a := &App{eff: eff, version: version}
	a.state.Store(stateStarting)

	a.registry = prometheus.NewRegistry()
	a.registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	a.metrics = metrics.New(a.registry)

	a.store = store.New()
	a.queue = queue.NewEventQueue(cfg.Sync.QueueCapacity)
	a.bus = bus.New(cfg.Sync.NotifyBuffer)
	a.outbox = transport.NewRecorder(outboxMax)
	a.throttled = transport.NewThrottled(a.outbox, cfg.Transport.MarkReadRPS, cfg.Transport.MarkReadBurst)
	a.limiter = newLimiterPool(cfg.Server.RateLimit.RPS, cfg.Server.RateLimit.Burst)

	a.engine = engine.New(a.store, a.queue, a.bus, a.throttled, a.metrics, engine.Options{
		LocalUserID:   cfg.Sync.LocalUserID,
		PendingTTL:    cfg.Sync.PendingTTL.Duration(),
		PendingMax:    cfg.Sync.PendingMax,
		SweepInterval: cfg.Sync.SweepInterval.Duration(),
	})
	a.registerGauges()

	if cfg.Storage.Enabled {
		if err := a.openStorage(cfg.Storage); err != nil {
			return nil, err
		}
	} else {
		logger.Warn("storage_disabled", "effect", "state is lost on restart")
	}
	a.handler = a.routes().Handler
	return a, nil
}

func (a *App) openStorage(sc config.StorageConfig) error {
	snaps, err := snapshot.Open(sc.Path, snapshot.Options{CacheSize: sc.CacheSize.Int64(), SyncWrites: sc.SyncWrites})
	if err != nil {
		return fmt.Errorf("failed to open snapshot store at %s: %w", sc.Path, err)
	}
	a.snapshots = snaps

	persisted, err := snaps.Load()
	if err != nil {
		_ = snaps.Close()
		return fmt.Errorf("load snapshots: %w", err)
	}
	convs, interrupted := a.engine.Restore(persisted)
	age := "never"
	if last, ok, err := snaps.LastCheckpoint(); err == nil && ok {
		age = humanize.Time(last)
	}
	logger.Info("snapshot_restored", "path", sc.Path, "conversations", convs, "interrupted", interrupted, "checkpoint", age)

	mgr, err := checkpoint.New(sc.CheckpointCron, a.engine, snaps, a.metrics)
	if err != nil {
		_ = snaps.Close()
		return err
	}
	a.checkpoints = mgr
	return nil
}

func (a *App) registerGauges() {
	m := a.metrics
	m.RegisterGauge("chatsync_queue_depth", "Events waiting for the sync worker.", func() float64 { return float64(a.queue.Len()) })
	m.RegisterGauge("chatsync_queue_dropped", "Events rejected because the queue was full.", func() float64 { return float64(a.queue.Dropped()) })
	m.RegisterGauge("chatsync_handler_panics", "Handler panics recovered by the worker.", func() float64 { return float64(a.queue.Panics()) })
	m.RegisterGauge("chatsync_pending_events", "Events parked until their target appears.", func() float64 { return float64(a.engine.PendingLen()) })
	m.RegisterGauge("chatsync_subscribers", "Open bus subscriptions.", func() float64 { return float64(a.bus.Total()) })
	m.RegisterGauge("chatsync_notifications_dropped", "Notifications missed by slow subscribers.", func() float64 { return float64(a.bus.Dropped()) })
	m.RegisterGauge("chatsync_conversations", "Conversations in the entity store.", func() float64 {
		c, _ := a.store.Counts()
		return float64(c)
	})
	m.RegisterGauge("chatsync_messages", "Messages in the entity store.", func() float64 {
		_, n := a.store.Counts()
		return float64(n)
	})
	m.RegisterGauge("chatsync_outbox_size", "Outbound requests not yet drained.", func() float64 { return float64(len(a.outbox.Requests())) })
	m.RegisterGauge("chatsync_mark_read_held", "Conversations with a coalesced mark-read request.", func() float64 { return float64(a.throttled.Pending()) })
}

// State reports the lifecycle phase of the process.
func (a *App) State() string {
	s, _ := a.state.Load().(string)
	return s
}

// Handler returns the HTTP handler, for tests and embedding.
func (a *App) Handler() fasthttp.RequestHandler {
	return a.handler
}

// Start launches the engine, checkpoints and the mark-read flusher without
// serving HTTP.
func (a *App) Start(ctx context.Context) {
	ctx, a.cancel = context.WithCancel(ctx)
	a.engine.Start()
	if a.checkpoints != nil {
		a.checkpoints.Start(ctx)
	}
	a.bg.Add(1)
	go func() {
		defer a.bg.Done()
		a.flushLoop(ctx)
	}()
	a.state.Store(stateRunning)
}

// Run starts everything and serves HTTP until ctx ends or the server fails.
func (a *App) Run(ctx context.Context) error {
	a.Start(ctx)
	errCh := a.startHTTP()
	logger.Info("chatsync_listening", "addr", a.eff.Addr, "version", a.version)
	select {
	case <-ctx.Done():
		return nil
	case err := <-errCh:
		return err
	}
}

func (a *App) flushLoop(ctx context.Context) {
	t := time.NewTicker(flushInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if a.throttled.Pending() == 0 {
				continue
			}
			if err := a.throttled.Flush(ctx); err != nil {
				logger.Warn("mark_read_flush_failed", "error", err)
			}
		}
	}
}

func (a *App) startHTTP() <-chan error {
	const (
		readBufferSize = 64 * 1024
		readTimeout    = 10 * time.Second
		idleTimeout    = 30 * time.Second
	)
	// no write timeout: event streams stay open
	a.srvFast = &fasthttp.Server{
		Handler:            a.Handler(),
		Name:               "chatsync",
		ReadBufferSize:     readBufferSize,
		MaxRequestBodySize: maxRequestBody,
		ReadTimeout:        readTimeout,
		IdleTimeout:        idleTimeout,
	}
	errCh := make(chan error, 1)
	go func() {
		errCh <- a.srvFast.ListenAndServe(a.eff.Addr)
	}()
	return errCh
}

// Shutdown stops serving, drains the worker, writes a final checkpoint and
// releases resources. It is safe to call more than once.
func (a *App) Shutdown(ctx context.Context) error {
	var errs []error
	a.shutdown.Do(func() {
		a.state.Store(stateStopping)
		// closing the bus ends open event streams so the server can stop
		a.bus.Close()
		if a.srvFast != nil {
			if err := a.srvFast.Shutdown(); err != nil {
				errs = append(errs, fmt.Errorf("http shutdown: %w", err))
			}
		}
		if err := a.engine.Stop(ctx); err != nil {
			errs = append(errs, fmt.Errorf("engine stop: %w", err))
		}
		if a.cancel != nil {
			a.cancel()
		}
		a.bg.Wait()
		if err := a.throttled.Flush(ctx); err != nil {
			errs = append(errs, fmt.Errorf("mark-read flush: %w", err))
		}
		if a.checkpoints != nil {
			if err := a.checkpoints.Stop(); err != nil {
				errs = append(errs, err)
			}
		}
		a.queue.Close()
		a.limiter.close()
		if a.snapshots != nil {
			if err := a.snapshots.Close(); err != nil {
				errs = append(errs, fmt.Errorf("close snapshot store: %w", err))
			}
		}
		a.state.Store(stateStopped)
		logger.Info("chatsync_stopped", "pending_dropped", a.engine.PendingLen())
	})
	return errors.Join(errs...)
}
