// Package syncer runs the accrual engine over every active cycle in a scope.
package syncer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/mamadbah2/poultrydesk/internal/domain/models"
	"github.com/mamadbah2/poultrydesk/internal/metrics"
	"github.com/mamadbah2/poultrydesk/internal/service/accrual"
)

const (
	defaultConcurrency = 8
	defaultItemTimeout = 10 * time.Second
)

// Accruer advances one cycle.
type Accruer interface {
	Accrue(ctx context.Context, cycleID string, force bool) (accrual.Result, error)
}

// CycleLister lists the active cycles of a tenant, or of every tenant for an
// empty user id.
type CycleLister interface {
	ListActiveCycles(ctx context.Context, userID string) ([]models.Cycle, error)
}

// ReportSink archives finished sync runs.
type ReportSink interface {
	SaveSyncReport(ctx context.Context, report models.SyncReport) error
}

// Failure is a cycle whose accrual returned an error.
type Failure struct {
	CycleID string `json:"cycleId"`
	Name    string `json:"name"`
	Error   string `json:"error"`
}

// Report is the outcome of one sync run. Skipped cycles appear in neither
// Results nor Failures.
type Report struct {
	Scope        models.SyncScope `json:"-"`
	Mode         string           `json:"mode"`
	Scanned      int              `json:"scanned"`
	UpdatedCount int              `json:"updatedCount"`
	Results      []accrual.Result `json:"results"`
	Failures     []Failure        `json:"failures,omitempty"`
	StartedAt    time.Time        `json:"startedAt"`
	FinishedAt   time.Time        `json:"finishedAt"`
}

// BagsAccrued sums the feed attributed by the run.
func (r Report) BagsAccrued() float64 {
	var total float64
	for _, res := range r.Results {
		total += res.AddedBags
	}
	return total
}

// Overdrawn returns the updated results that left their pool below zero.
func (r Report) Overdrawn() []accrual.Result {
	var out []accrual.Result
	for _, res := range r.Results {
		if res.Overdrawn {
			out = append(out, res)
		}
	}
	return out
}

// Record converts the report for archival.
func (r Report) Record() models.SyncReport {
	rec := models.SyncReport{
		RunAt:        r.StartedAt,
		Mode:         r.Mode,
		UserID:       r.Scope.UserID,
		Scanned:      r.Scanned,
		UpdatedCount: r.UpdatedCount,
		FailedCount:  len(r.Failures),
		BagsAccrued:  r.BagsAccrued(),
		DurationMS:   r.FinishedAt.Sub(r.StartedAt).Milliseconds(),
		CreatedAt:    r.FinishedAt,
	}
	for _, res := range r.Results {
		rec.Updates = append(rec.Updates, models.SyncReportEntry{
			CycleID:   res.CycleID,
			Name:      res.Name,
			Age:       res.Age,
			AddedBags: res.AddedBags,
		})
	}
	for _, f := range r.Failures {
		rec.Updates = append(rec.Updates, models.SyncReportEntry{
			CycleID: f.CycleID,
			Name:    f.Name,
			Error:   f.Error,
		})
	}
	return rec
}

// Driver fans accruals out over the active cycles of a scope.
type Driver struct {
	cycles      CycleLister
	engine      Accruer
	sink        ReportSink
	metrics     *metrics.FeedMetrics
	concurrency int
	itemTimeout time.Duration
	logger      *zap.Logger
	now         func() time.Time
}

// Option customizes a Driver.
type Option func(*Driver)

// WithConcurrency caps the number of accruals in flight.
func WithConcurrency(n int) Option {
	return func(d *Driver) {
		if n > 0 {
			d.concurrency = n
		}
	}
}

// WithItemTimeout bounds each accrual. An expired accrual is reported as a
// failure and does not stop the others.
func WithItemTimeout(timeout time.Duration) Option {
	return func(d *Driver) {
		if timeout > 0 {
			d.itemTimeout = timeout
		}
	}
}

// WithReportSink archives every finished run.
func WithReportSink(sink ReportSink) Option {
	return func(d *Driver) { d.sink = sink }
}

// WithMetrics records run durations.
func WithMetrics(m *metrics.FeedMetrics) Option {
	return func(d *Driver) { d.metrics = m }
}

// WithClock replaces time.Now for report timestamps.
func WithClock(now func() time.Time) Option {
	return func(d *Driver) { d.now = now }
}

// NewDriver builds a sync driver.
func NewDriver(cycles CycleLister, engine Accruer, logger *zap.Logger, opts ...Option) *Driver {
	if logger == nil {
		logger = zap.NewNop()
	}
	d := &Driver{
		cycles:      cycles,
		engine:      engine,
		concurrency: defaultConcurrency,
		itemTimeout: defaultItemTimeout,
		logger:      logger,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

type outcome struct {
	result accrual.Result
	err    error
}

// SyncAll accrues every active cycle in scope concurrently. Only a failure to
// list the cycles is returned as an error; per-cycle errors land in
// Report.Failures.
func (d *Driver) SyncAll(ctx context.Context, scope models.SyncScope) (Report, error) {
	report := Report{Scope: scope, Mode: scope.Mode(), StartedAt: d.now()}

	cycles, err := d.cycles.ListActiveCycles(ctx, scope.UserID)
	if err != nil {
		return report, fmt.Errorf("list active cycles: %w", err)
	}
	report.Scanned = len(cycles)

	outcomes := make([]outcome, len(cycles))
	var g errgroup.Group
	g.SetLimit(d.concurrency)

	for i := range cycles {
		cycle := cycles[i]
		g.Go(func() error {
			itemCtx, cancel := context.WithTimeout(ctx, d.itemTimeout)
			defer cancel()

			// A nil error means the accrual committed, even if the deadline has
			// since passed.
			res, err := d.engine.Accrue(itemCtx, cycle.ID, false)
			outcomes[i] = outcome{result: res, err: err}
			return nil
		})
	}
	_ = g.Wait()

	for i, o := range outcomes {
		switch {
		case errors.Is(o.err, accrual.ErrCycleNotFound):
			// deleted between listing and accrual
		case o.err != nil:
			d.logger.Warn("cycle accrual failed",
				zap.String("cycle_id", cycles[i].ID),
				zap.Error(o.err))
			report.Failures = append(report.Failures, Failure{
				CycleID: cycles[i].ID,
				Name:    cycles[i].Name,
				Error:   o.err.Error(),
			})
		case o.result.Skipped():
		default:
			report.Results = append(report.Results, o.result)
		}
	}
	report.UpdatedCount = len(report.Results)
	report.FinishedAt = d.now()

	d.metrics.RecordSync(scope.Global(), report.UpdatedCount, report.FinishedAt.Sub(report.StartedAt))
	d.logger.Info("feed sync finished",
		zap.String("mode", report.Mode),
		zap.Int("scanned", report.Scanned),
		zap.Int("updated", report.UpdatedCount),
		zap.Int("failed", len(report.Failures)))

	if d.sink != nil {
		if err := d.sink.SaveSyncReport(ctx, report.Record()); err != nil {
			d.logger.Error("failed to archive sync report", zap.Error(err))
		}
	}

	return report, nil
}
