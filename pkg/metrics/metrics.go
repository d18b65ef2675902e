// Package metrics holds the Prometheus collectors of the sync core. A nil
// *Metrics is valid and records nothing.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Event results
const (
	ResultOK       = "ok"
	ResultStale    = "stale"
	ResultBuffered = "buffered"
	ResultInvalid  = "invalid"
	ResultError    = "error"
)

type Metrics struct {
	reg prometheus.Registerer

	events        *prometheus.CounterVec
	conflicts     prometheus.Counter
	sendFailures  prometheus.Counter
	pendingDrops  *prometheus.CounterVec
	pendingReplay prometheus.Counter
	checkpoints   *prometheus.CounterVec
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		reg: reg,
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "chatsync_events_total",
			Help: "Events handled by the sync worker, by kind and result.",
		}, []string{"kind", "result"}),
		conflicts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "chatsync_reconciliation_conflicts_total",
			Help: "Confirmations whose content diverged from the optimistic copy.",
		}),
		sendFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "chatsync_send_failures_total",
			Help: "Messages moved to the failed state.",
		}),
		pendingDrops: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "chatsync_pending_dropped_total",
			Help: "Buffered events discarded, by reason.",
		}, []string{"reason"}),
		pendingReplay: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "chatsync_pending_replayed_total",
			Help: "Buffered events replayed after their target appeared.",
		}),
		checkpoints: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "chatsync_checkpoints_total",
			Help: "Snapshot checkpoints written, by result.",
		}, []string{"result"}),
	}
	reg.MustRegister(m.events, m.conflicts, m.sendFailures, m.pendingDrops, m.pendingReplay, m.checkpoints)
	return m
}

// RegisterGauge exposes fn as a gauge named name.
func (m *Metrics) RegisterGauge(name, help string, fn func() float64) {
	if m == nil {
		return
	}
	m.reg.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{Name: name, Help: help}, fn))
}

func (m *Metrics) Event(kind, result string) {
	if m == nil {
		return
	}
	m.events.WithLabelValues(kind, result).Inc()
}

func (m *Metrics) Conflict() {
	if m == nil {
		return
	}
	m.conflicts.Inc()
}

func (m *Metrics) SendFailed() {
	if m == nil {
		return
	}
	m.sendFailures.Inc()
}

func (m *Metrics) PendingDropped(reason string) {
	if m == nil {
		return
	}
	m.pendingDrops.WithLabelValues(reason).Inc()
}

func (m *Metrics) PendingReplayed() {
	if m == nil {
		return
	}
	m.pendingReplay.Inc()
}

func (m *Metrics) Checkpoint(result string) {
	if m == nil {
		return
	}
	m.checkpoints.WithLabelValues(result).Inc()
}
