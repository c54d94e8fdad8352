package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// SyncMetrics covers the backend client, the push/poll bridge and user
// mutations. All methods are safe on a nil receiver.
type SyncMetrics struct {
	backendLatency   *prometheus.HistogramVec
	eventsTotal      *prometheus.CounterVec
	pollTotal        *prometheus.CounterVec
	streamReconnects *prometheus.CounterVec
	mutationsTotal   *prometheus.CounterVec
	activeSessions   *prometheus.GaugeVec
	wsClients        prometheus.Gauge
}

func NewSyncMetrics(reg prometheus.Registerer) *SyncMetrics {
	m := &SyncMetrics{
		backendLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "clinic",
			Subsystem: "backend",
			Name:      "request_duration_seconds",
			Help:      "Latency of calls to the clinic backend",
			Buckets:   prometheus.DefBuckets,
		}, []string{"operation", "status"}),
		eventsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "clinic",
			Subsystem: "sync",
			Name:      "events_total",
			Help:      "Push events received, by type and whether they changed state",
		}, []string{"role", "type", "outcome"}),
		pollTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "clinic",
			Subsystem: "sync",
			Name:      "refresh_total",
			Help:      "Full refreshes, by trigger and outcome",
		}, []string{"role", "trigger", "outcome"}),
		streamReconnects: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "clinic",
			Subsystem: "sync",
			Name:      "stream_reconnects_total",
			Help:      "Push channel reconnect attempts",
		}, []string{"role"}),
		mutationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "clinic",
			Subsystem: "dashboard",
			Name:      "mutations_total",
			Help:      "User-initiated mutations, by operation and outcome",
		}, []string{"operation", "outcome"}),
		activeSessions: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "clinic",
			Subsystem: "dashboard",
			Name:      "active_sessions",
			Help:      "Open dashboard sessions",
		}, []string{"role"}),
		wsClients: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "clinic",
			Subsystem: "dashboard",
			Name:      "ws_clients",
			Help:      "Connected websocket listeners",
		}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.backendLatency, m.eventsTotal, m.pollTotal, m.streamReconnects,
		m.mutationsTotal, m.activeSessions, m.wsClients)
	return m
}

func (m *SyncMetrics) ObserveBackend(operation string, status int, d time.Duration) {
	if m == nil {
		return
	}
	label := "error"
	if status > 0 {
		label = strconv.Itoa(status)
	}
	m.backendLatency.WithLabelValues(operation, label).Observe(d.Seconds())
}

func (m *SyncMetrics) ObserveEvent(role, eventType string, changed bool) {
	if m == nil {
		return
	}
	outcome := "noop"
	if changed {
		outcome = "applied"
	}
	m.eventsTotal.WithLabelValues(role, eventType, outcome).Inc()
}

func (m *SyncMetrics) ObserveRefresh(role, trigger string, err error) {
	if m == nil {
		return
	}
	m.pollTotal.WithLabelValues(role, trigger, outcome(err)).Inc()
}

func (m *SyncMetrics) ObserveReconnect(role string) {
	if m == nil {
		return
	}
	m.streamReconnects.WithLabelValues(role).Inc()
}

func (m *SyncMetrics) ObserveMutation(operation string, err error) {
	if m == nil {
		return
	}
	m.mutationsTotal.WithLabelValues(operation, outcome(err)).Inc()
}

func (m *SyncMetrics) SessionOpened(role string) {
	if m == nil {
		return
	}
	m.activeSessions.WithLabelValues(role).Inc()
}

func (m *SyncMetrics) SessionClosed(role string) {
	if m == nil {
		return
	}
	m.activeSessions.WithLabelValues(role).Dec()
}

func (m *SyncMetrics) SetWSClients(n int) {
	if m == nil {
		return
	}
	m.wsClients.Set(float64(n))
}

func outcome(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
