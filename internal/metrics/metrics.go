// Package metrics exposes the bot's Prometheus collectors.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "dealbot"

// Metrics owns a private registry so tests can build independent instances.
// All methods are safe on a nil receiver.
type Metrics struct {
	Registry *prometheus.Registry

	syncRuns      *prometheus.CounterVec
	syncDeals     *prometheus.CounterVec
	syncDuration  *prometheus.HistogramVec
	syncCursor    *prometheus.GaugeVec
	relayEvents   *prometheus.CounterVec
	relayRetries  prometheus.Counter
	roomMessages  *prometheus.CounterVec
	ledgerWrites  *prometheus.CounterVec
	httpRequests  *prometheus.CounterVec
	httpDuration  *prometheus.HistogramVec
	wsSubscribers prometheus.Gauge
}

// New registers every collector on a fresh registry.
func New() *Metrics {
	m := &Metrics{
		Registry: prometheus.NewRegistry(),
		syncRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "indexer", Name: "runs_total",
			Help: "Indexer runs by network and outcome.",
		}, []string{"network", "outcome"}),
		syncDeals: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "indexer", Name: "deals_total",
			Help: "Per-deal sync actions.",
		}, []string{"network", "action"}),
		syncDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "indexer", Name: "run_duration_seconds",
			Help:    "Duration of indexer runs.",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 10),
		}, []string{"network"}),
		syncCursor: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "indexer", Name: "event_cursor",
			Help: "Last committed ledger event sequence.",
		}, []string{"network"}),
		relayEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "relay", Name: "events_total",
			Help: "Ledger events consumed by the deal-room relay.",
		}, []string{"kind", "outcome"}),
		relayRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "relay", Name: "retries_total",
			Help: "Retried deal-room deliveries.",
		}),
		roomMessages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "dealroom", Name: "messages_total",
			Help: "Messages posted to deal rooms.",
		}, []string{"type"}),
		ledgerWrites: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "ledger", Name: "writes_total",
			Help: "Ledger write submissions by operation and outcome.",
		}, []string{"op", "outcome"}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "http", Name: "requests_total",
			Help: "HTTP requests handled.",
		}, []string{"method", "route", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "http", Name: "request_duration_seconds",
			Help:    "HTTP request latency.",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 10),
		}, []string{"method", "route"}),
		wsSubscribers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "ws", Name: "subscribers",
			Help: "Open deal-room stream subscriptions.",
		}),
	}
	m.Registry.MustRegister(
		m.syncRuns, m.syncDeals, m.syncDuration, m.syncCursor,
		m.relayEvents, m.relayRetries, m.roomMessages, m.ledgerWrites,
		m.httpRequests, m.httpDuration, m.wsSubscribers,
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
		prometheus.NewGoCollector(),
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{})
}

// SyncRun records one indexer run.
func (m *Metrics) SyncRun(network string, failed bool, d time.Duration) {
	if m == nil {
		return
	}
	outcome := "ok"
	if failed {
		outcome = "failed"
	}
	m.syncRuns.WithLabelValues(network, outcome).Inc()
	m.syncDuration.WithLabelValues(network).Observe(d.Seconds())
}

// SyncAction counts one per-deal action.
func (m *Metrics) SyncAction(network, action string) {
	if m == nil {
		return
	}
	m.syncDeals.WithLabelValues(network, action).Inc()
}

// SyncCursor sets the committed event cursor.
func (m *Metrics) SyncCursor(network string, seq uint64) {
	if m == nil {
		return
	}
	m.syncCursor.WithLabelValues(network).Set(float64(seq))
}

// RelayEvent counts a consumed ledger event by outcome
// (delivered, dead_letter, skipped).
func (m *Metrics) RelayEvent(kind, outcome string) {
	if m == nil {
		return
	}
	m.relayEvents.WithLabelValues(kind, outcome).Inc()
}

// RelayRetry counts one retried delivery.
func (m *Metrics) RelayRetry() {
	if m == nil {
		return
	}
	m.relayRetries.Inc()
}

// RoomMessage counts a posted deal-room message by type.
func (m *Metrics) RoomMessage(kind string) {
	if m == nil {
		return
	}
	m.roomMessages.WithLabelValues(kind).Inc()
}

// LedgerWrite counts a ledger submission by outcome.
func (m *Metrics) LedgerWrite(op, outcome string) {
	if m == nil {
		return
	}
	m.ledgerWrites.WithLabelValues(op, outcome).Inc()
}

// HTTPRequest records one served request.
func (m *Metrics) HTTPRequest(method, route string, status int, d time.Duration) {
	if m == nil {
		return
	}
	m.httpRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.httpDuration.WithLabelValues(method, route).Observe(d.Seconds())
}

// WSSubscribers adjusts the open subscription gauge by delta.
func (m *Metrics) WSSubscribers(delta int) {
	if m == nil {
		return
	}
	m.wsSubscribers.Add(float64(delta))
}
