package reporting

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mamadbah2/poultrydesk/internal/domain/models"
	"github.com/mamadbah2/poultrydesk/internal/repository/sqlstore"
	"github.com/mamadbah2/poultrydesk/internal/service/accrual"
	"github.com/mamadbah2/poultrydesk/internal/service/syncer"
)

type stubSource struct {
	cycles  []models.Cycle
	farmers []models.Farmer
	err     error
	calls   int
}

func (s *stubSource) ListActiveCycles(_ context.Context, _ string) ([]models.Cycle, error) {
	s.calls++
	return s.cycles, s.err
}

func (s *stubSource) ListFarmers(_ context.Context, q sqlstore.FarmerQuery) ([]models.Farmer, int64, error) {
	start := (q.Page - 1) * q.PageSize
	if start >= len(s.farmers) {
		return nil, int64(len(s.farmers)), nil
	}
	end := start + q.PageSize
	if end > len(s.farmers) {
		end = len(s.farmers)
	}
	return s.farmers[start:end], int64(len(s.farmers)), nil
}

func ptr(s string) *string { return &s }

func TestSummaryAggregatesCycles(t *testing.T) {
	src := &stubSource{
		farmers: []models.Farmer{
			{ID: "f1", Name: "north", MainStockInput: 100, MainStockRemaining: 40},
			{ID: "f2", Name: "south", MainStockInput: 10, MainStockRemaining: -1.5},
		},
		cycles: []models.Cycle{
			{ID: "c1", Name: "a", DOC: 1000, Mortality: 20, Age: 10, Intake: 10, FarmerID: ptr("f1")},
			{ID: "c2", Name: "b", DOC: 1000, Mortality: 30, Age: 10, Intake: 10, FarmerID: ptr("f2")},
			{ID: "c3", Name: "c", DOC: 500, Mortality: 0, Age: 1, InputFeed: 0.1, Intake: 0.16},
		},
	}
	svc := NewService(src, 5, nil)

	summary, err := svc.Summary(context.Background(), "u1")
	require.NoError(t, err)

	assert.Equal(t, 3, summary.ActiveCycles)
	assert.Equal(t, 2500, summary.TotalDOC)
	assert.Equal(t, 50, summary.TotalMortality)
	assert.Equal(t, 2450, summary.LiveBirds)
	assert.InDelta(t, 2.0, summary.MortalityRate, 1e-9)
	assert.InDelta(t, 20.16, summary.BagsConsumed, 1e-9)

	require.Len(t, summary.Stocks, 2)
	north := summary.Stocks[0]
	assert.Equal(t, 1, north.ActiveCycles)
	// day 11 ration is 56 g for 980 birds.
	assert.InDelta(t, 56*980/50000.0, north.DailyDemand, 1e-9)
	require.NotNil(t, north.DaysLeft)
	assert.False(t, north.LowStock)

	south := summary.Stocks[1]
	assert.True(t, south.Overdrawn)
	assert.Nil(t, south.DaysLeft)

	require.Len(t, summary.Alerts, 2)
	assert.Contains(t, summary.Alerts[0], "Cycle c")
	assert.Contains(t, summary.Alerts[1], "south is overdrawn")
}

func TestSummaryIsCachedUntilInvalidated(t *testing.T) {
	src := &stubSource{}
	svc := NewService(src, 5, nil)
	ctx := context.Background()

	_, err := svc.Summary(ctx, "u1")
	require.NoError(t, err)
	_, err = svc.Summary(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 1, src.calls)

	svc.Invalidate("u1")
	_, err = svc.Summary(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 2, src.calls)

	svc.Invalidate("")
	_, err = svc.Summary(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 3, src.calls)
}

func TestSummaryPropagatesErrors(t *testing.T) {
	svc := NewService(&stubSource{err: errors.New("db down")}, 5, nil)
	_, err := svc.Summary(context.Background(), "u1")
	assert.ErrorContains(t, err, "db down")
}

func TestSummaryPagesThroughFarmers(t *testing.T) {
	src := &stubSource{}
	for i := 0; i < farmerPageSize+3; i++ {
		src.farmers = append(src.farmers, models.Farmer{ID: string(rune('A' + i%26)), MainStockRemaining: 10})
	}
	svc := NewService(src, 5, nil)

	summary, err := svc.Summary(context.Background(), "u1")
	require.NoError(t, err)
	assert.Len(t, summary.Stocks, farmerPageSize+3)
}

func TestFormatSyncReport(t *testing.T) {
	low, over := 3.0, -2.0
	report := syncer.Report{
		Mode:         "Global Server Update",
		Scanned:      4,
		UpdatedCount: 2,
		StartedAt:    time.Date(2026, 4, 2, 0, 5, 0, 0, time.UTC),
		Results: []accrual.Result{
			{Name: "zeta", Age: 12, AddedBags: 1.25, PoolBalance: &low},
			{Name: "alpha", Age: 20, AddedBags: 2, PoolBalance: &over, Overdrawn: true},
		},
		Failures: []syncer.Failure{{Name: "broken", Error: "context deadline exceeded"}},
	}
	svc := NewService(&stubSource{}, 5, nil)

	msg := svc.FormatSyncReport(report)

	assert.True(t, strings.HasPrefix(msg, "Feed sync 2026-04-02 (Global Server Update)"))
	assert.Contains(t, msg, "4 cycles scanned, 2 updated, 3.25 bags consumed.")
	assert.Less(t, strings.Index(msg, "- alpha"), strings.Index(msg, "- zeta"))
	assert.Contains(t, msg, "alpha stock overdrawn (-2.00)")
	assert.Contains(t, msg, "zeta stock low (3.00 left)")
	assert.Contains(t, msg, "1 cycles failed:")
	assert.Contains(t, msg, "broken: context deadline exceeded")
}
