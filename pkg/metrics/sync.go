package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// SyncMetrics provides observability for enumeration, change signaling, and
// transfer activity.
//
// A nil *SyncMetrics is valid; every method checks the receiver so callers
// never need to guard their instrumentation sites.
type SyncMetrics struct {
	enumerations        *prometheus.CounterVec
	enumerationDuration prometheus.Histogram
	changeSignals       *prometheus.CounterVec
	changeAnchor        prometheus.Gauge
	remoteCalls         *prometheus.CounterVec
	transfers           *prometheus.CounterVec
	transferDuration    *prometheus.HistogramVec
	transferBytes       *prometheus.CounterVec
}

// NewSyncMetrics creates a Prometheus-backed SyncMetrics instance.
//
// Returns nil if metrics are not enabled (InitRegistry not called), which
// makes every observation a no-op.
func NewSyncMetrics() *SyncMetrics {
	if !IsEnabled() {
		return nil
	}

	reg := GetRegistry()

	return &SyncMetrics{
		enumerations: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "driftfs_enumerations_total",
				Help: "Total number of item enumerations",
			},
			[]string{"scope", "outcome"},
		),
		enumerationDuration: promauto.With(reg).NewHistogram(
			prometheus.HistogramOpts{
				Name:    "driftfs_enumeration_duration_seconds",
				Help:    "Duration of item enumerations in seconds",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 10},
			},
		),
		changeSignals: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "driftfs_change_signals_total",
				Help: "Total number of change signals delivered to observers",
			},
			[]string{"target"},
		),
		changeAnchor: promauto.With(reg).NewGauge(
			prometheus.GaugeOpts{
				Name: "driftfs_change_anchor",
				Help: "Current value of the change tracking anchor",
			},
		),
		remoteCalls: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "driftfs_remote_calls_total",
				Help: "Total number of remote server calls",
			},
			[]string{"op", "status"},
		),
		transfers: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "driftfs_transfers_total",
				Help: "Total number of file transfers",
			},
			[]string{"kind", "status"},
		),
		transferDuration: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "driftfs_transfer_duration_seconds",
				Help:    "Duration of file transfers in seconds",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60, 300},
			},
			[]string{"kind"},
		),
		transferBytes: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "driftfs_transfer_bytes_total",
				Help: "Total bytes transferred",
			},
			[]string{"kind"},
		),
	}
}

// ObserveEnumeration records one enumeration of the given scope ("item",
// "working_set", "changes") and its outcome ("cache", "refresh", "offline").
func (m *SyncMetrics) ObserveEnumeration(scope, outcome string, duration time.Duration) {
	if m == nil {
		return
	}
	m.enumerations.WithLabelValues(scope, outcome).Inc()
	m.enumerationDuration.Observe(duration.Seconds())
}

// ObserveSignal records one change signal to the given target
// ("working_set" or "entry").
func (m *SyncMetrics) ObserveSignal(target string) {
	if m == nil {
		return
	}
	m.changeSignals.WithLabelValues(target).Inc()
}

// SetAnchor records the current change tracking anchor value.
func (m *SyncMetrics) SetAnchor(anchor uint64) {
	if m == nil {
		return
	}
	m.changeAnchor.Set(float64(anchor))
}

// ObserveRemoteCall records one remote operation and whether it succeeded.
func (m *SyncMetrics) ObserveRemoteCall(op string, err error) {
	if m == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.remoteCalls.WithLabelValues(op, status).Inc()
}

// ObserveTransfer records one finished transfer.
func (m *SyncMetrics) ObserveTransfer(kind string, err error, duration time.Duration, bytes int64) {
	if m == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.transfers.WithLabelValues(kind, status).Inc()
	m.transferDuration.WithLabelValues(kind).Observe(duration.Seconds())
	if bytes > 0 {
		m.transferBytes.WithLabelValues(kind).Add(float64(bytes))
	}
}
