// Package metrics exposes Prometheus instrumentation for the dose monitor, recovery advisor
// and notification senders.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "pilllens"

type Metrics struct {
	ChecksTotal        *prometheus.CounterVec
	CheckDuration      prometheus.Histogram
	DosesMarkedMissed  prometheus.Counter
	SlotsOpened        prometheus.Counter
	WriteFailures      prometheus.Counter
	ActiveMonitors     prometheus.Gauge
	RecoveryDecisions  *prometheus.CounterVec
	NotificationsTotal *prometheus.CounterVec
}

// New registers every collector on reg. Use prometheus.NewRegistry() in tests.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		ChecksTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "missed_dose_checks_total",
			Help:      "Missed-dose checks by result.",
		}, []string{"result"}),
		CheckDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "missed_dose_check_duration_seconds",
			Help:      "Duration of one missed-dose check.",
			Buckets:   prometheus.DefBuckets,
		}),
		DosesMarkedMissed: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "doses_marked_missed_total",
			Help:      "Adherence entries newly recorded as missed.",
		}),
		SlotsOpened: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dose_slots_opened_total",
			Help:      "Adherence entries lazily created as scheduled.",
		}),
		WriteFailures: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "adherence_write_failures_total",
			Help:      "Adherence writes that failed and were skipped.",
		}),
		ActiveMonitors: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_monitors",
			Help:      "Missed-dose monitors currently running.",
		}),
		RecoveryDecisions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "recovery_decisions_total",
			Help:      "Recovery advisor answers by decision.",
		}, []string{"decision"}),
		NotificationsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_total",
			Help:      "Missed-dose alerts by channel and result.",
		}, []string{"channel", "result"}),
	}
}

// NewNop returns metrics registered on a private registry.
func NewNop() *Metrics {
	return New(prometheus.NewRegistry())
}

func (m *Metrics) RecordCheck(success bool, seconds float64) {
	result := "success"
	if !success {
		result = "error"
	}
	m.ChecksTotal.WithLabelValues(result).Inc()
	m.CheckDuration.Observe(seconds)
}

func (m *Metrics) RecordRecovery(canTakeNow bool, reason string) {
	decision := "approve"
	if !canTakeNow {
		decision = "refuse_" + reason
	}
	m.RecoveryDecisions.WithLabelValues(decision).Inc()
}

func (m *Metrics) RecordNotification(channel string, err error) {
	result := "sent"
	if err != nil {
		result = "failed"
	}
	m.NotificationsTotal.WithLabelValues(channel, result).Inc()
}
