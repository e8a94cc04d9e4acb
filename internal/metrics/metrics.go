// Package metrics exposes Prometheus collectors for feed accrual.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Accrual outcome labels.
const (
	OutcomeUpdated = "updated"
	OutcomeSkipped = "skipped"
	OutcomeFailed  = "failed"
)

// FeedMetrics holds the accrual and sync collectors. A nil *FeedMetrics is a
// valid no-op recorder.
type FeedMetrics struct {
	accruals     *prometheus.CounterVec
	bagsAccrued  prometheus.Counter
	overdrafts   prometheus.Counter
	syncDuration *prometheus.HistogramVec
	syncUpdated  prometheus.Gauge
}

// NewFeedMetrics creates the collectors and registers them with registry.
func NewFeedMetrics(registry prometheus.Registerer) (*FeedMetrics, error) {
	m := &FeedMetrics{
		accruals: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "poultrydesk_accruals_total",
			Help: "Feed accrual attempts by outcome",
		}, []string{"outcome"}),
		bagsAccrued: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "poultrydesk_bags_accrued_total",
			Help: "Feed bags attributed to cycles by accrual",
		}),
		overdrafts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "poultrydesk_stock_overdrafts_total",
			Help: "Accruals that left a stock pool below zero",
		}),
		syncDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "poultrydesk_sync_duration_seconds",
			Help:    "Duration of batch sync runs",
			Buckets: prometheus.DefBuckets,
		}, []string{"mode"}),
		syncUpdated: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "poultrydesk_sync_last_updated_cycles",
			Help: "Cycles updated by the most recent sync run",
		}),
	}

	for _, c := range []prometheus.Collector{m.accruals, m.bagsAccrued, m.overdrafts, m.syncDuration, m.syncUpdated} {
		if err := registry.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// RecordAccrual counts one accrual attempt.
func (m *FeedMetrics) RecordAccrual(outcome string, bags float64, overdrawn bool) {
	if m == nil {
		return
	}
	m.accruals.WithLabelValues(outcome).Inc()
	if bags > 0 {
		m.bagsAccrued.Add(bags)
	}
	if overdrawn {
		m.overdrafts.Inc()
	}
}

// RecordSync observes a finished batch run.
func (m *FeedMetrics) RecordSync(global bool, updated int, elapsed time.Duration) {
	if m == nil {
		return
	}
	mode := "user"
	if global {
		mode = "global"
	}
	m.syncDuration.WithLabelValues(mode).Observe(elapsed.Seconds())
	m.syncUpdated.Set(float64(updated))
}
