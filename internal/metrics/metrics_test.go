package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordAccrual(t *testing.T) {
	m, err := NewFeedMetrics(prometheus.NewRegistry())
	require.NoError(t, err)

	m.RecordAccrual(OutcomeUpdated, 2.5, false)
	m.RecordAccrual(OutcomeUpdated, 1.5, true)
	m.RecordAccrual(OutcomeSkipped, 0, false)

	assert.InDelta(t, 2, testutil.ToFloat64(m.accruals.WithLabelValues(OutcomeUpdated)), 1e-9)
	assert.InDelta(t, 1, testutil.ToFloat64(m.accruals.WithLabelValues(OutcomeSkipped)), 1e-9)
	assert.InDelta(t, 4, testutil.ToFloat64(m.bagsAccrued), 1e-9)
	assert.InDelta(t, 1, testutil.ToFloat64(m.overdrafts), 1e-9)
}

func TestRecordSync(t *testing.T) {
	m, err := NewFeedMetrics(prometheus.NewRegistry())
	require.NoError(t, err)

	m.RecordSync(true, 7, 250*time.Millisecond)
	assert.InDelta(t, 7, testutil.ToFloat64(m.syncUpdated), 1e-9)
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *FeedMetrics
	assert.NotPanics(t, func() {
		m.RecordAccrual(OutcomeFailed, 1, true)
		m.RecordSync(false, 0, time.Second)
	})
}

func TestDoubleRegistrationFails(t *testing.T) {
	reg := prometheus.NewRegistry()
	_, err := NewFeedMetrics(reg)
	require.NoError(t, err)

	_, err = NewFeedMetrics(reg)
	assert.Error(t, err)
}
