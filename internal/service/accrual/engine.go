// Package accrual advances a cycle's age and cumulative feed intake to match
// the calendar, deducting the consumed feed from the cycle's stock pool.
package accrual

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/mamadbah2/poultrydesk/internal/domain/feed"
	"github.com/mamadbah2/poultrydesk/internal/domain/models"
	"github.com/mamadbah2/poultrydesk/internal/metrics"
	"github.com/mamadbah2/poultrydesk/internal/repository/sqlstore"
)

// consumptionEpsilon suppresses logs and deductions for floating point noise.
const consumptionEpsilon = 0.001

// ErrCycleNotFound is returned when the cycle to accrue does not exist.
var ErrCycleNotFound = errors.New("cycle not found")

// Status is the outcome of one accrual.
type Status string

const (
	StatusUpdated Status = "updated"
	StatusSkipped Status = "skipped"
)

// Reasons attached to skipped results.
const (
	SkipNoNewDay    = "no new day since last accrual"
	SkipArchived    = "cycle is archived"
	SkipPoolMissing = "stock pool not found"
	SkipLostRace    = "cycle advanced concurrently"
)

// Result describes what one accrual did.
type Result struct {
	CycleID        string   `json:"cycleId"`
	Name           string   `json:"name"`
	Status         Status   `json:"status"`
	SkipReason     string   `json:"skipReason,omitempty"`
	PreviousAge    int      `json:"previousAge"`
	Age            int      `json:"age"`
	PreviousIntake float64  `json:"previousIntake"`
	Intake         float64  `json:"intake"`
	AddedBags      float64  `json:"addedBags"`
	PoolBalance    *float64 `json:"poolBalance,omitempty"`
	Overdrawn      bool     `json:"overdrawn,omitempty"`
}

// Skipped reports whether the accrual made no change.
func (r Result) Skipped() bool {
	return r.Status == StatusSkipped
}

// Engine applies the feed schedule to cycles.
type Engine struct {
	repo    sqlstore.Repository
	metrics *metrics.FeedMetrics
	logger  *zap.Logger
	now     func() time.Time
}

// Option customizes an Engine.
type Option func(*Engine)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithMetrics records accrual outcomes.
func WithMetrics(m *metrics.FeedMetrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// NewEngine builds an accrual engine over repo.
func NewEngine(repo sqlstore.Repository, logger *zap.Logger, opts ...Option) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	e := &Engine{
		repo:   repo,
		logger: logger,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Now returns the engine's current time.
func (e *Engine) Now() time.Time {
	return e.now()
}

// Accrue brings the cycle up to today in its own transaction. Unless force is
// set, a cycle already accrued for today is skipped without any write.
func (e *Engine) Accrue(ctx context.Context, cycleID string, force bool) (Result, error) {
	var result Result
	err := e.repo.RunInTx(ctx, func(tx sqlstore.Repository) error {
		var err error
		result, err = e.AccrueTx(ctx, tx, cycleID, force)
		return err
	})
	if err != nil {
		e.metrics.RecordAccrual(metrics.OutcomeFailed, 0, false)
		return Result{CycleID: cycleID}, err
	}

	if result.Skipped() {
		e.metrics.RecordAccrual(metrics.OutcomeSkipped, 0, false)
	} else {
		e.metrics.RecordAccrual(metrics.OutcomeUpdated, result.AddedBags, result.Overdrawn)
	}
	return result, nil
}

// AccrueTx runs the accrual on an existing transaction. Callers that create a
// cycle use it to seed the first day atomically with the insert.
func (e *Engine) AccrueTx(ctx context.Context, tx sqlstore.Repository, cycleID string, force bool) (Result, error) {
	cycle, err := tx.GetCycle(ctx, "", cycleID)
	if err != nil {
		if errors.Is(err, sqlstore.ErrNotFound) {
			return Result{}, fmt.Errorf("%w: %s", ErrCycleNotFound, cycleID)
		}
		return Result{}, err
	}

	result := Result{
		CycleID:        cycle.ID,
		Name:           cycle.Name,
		PreviousAge:    cycle.Age,
		Age:            cycle.Age,
		PreviousIntake: cycle.Intake,
		Intake:         cycle.Intake,
	}

	if cycle.Status != models.CycleActive {
		return skip(result, SkipArchived), nil
	}

	newAge := feed.CurrentAge(cycle.StartDate, e.now())
	if !force && newAge <= cycle.Age {
		return skip(result, SkipNoNewDay), nil
	}
	if newAge < cycle.Age {
		newAge = cycle.Age
	}

	var farmer *models.Farmer
	if cycle.HasPool() {
		farmer, err = tx.GetFarmer(ctx, "", *cycle.FarmerID)
		if err != nil {
			if errors.Is(err, sqlstore.ErrNotFound) {
				e.logger.Warn("cycle references a missing stock pool",
					zap.String("cycle_id", cycle.ID),
					zap.String("farmer_id", *cycle.FarmerID))
				return skip(result, SkipPoolMissing), nil
			}
			return Result{}, err
		}
	}

	target := feed.CumulativeBags(newAge, cycle.LiveBirds())
	consumed := target - cycle.Intake
	newIntake := target
	if consumed < 0 {
		// Mortality can shrink the recomputed total below what was already
		// attributed. Intake never decreases and nothing is credited back.
		e.logger.Debug("recomputed intake below recorded intake",
			zap.String("cycle_id", cycle.ID),
			zap.Float64("recorded", cycle.Intake),
			zap.Float64("target", target))
		newIntake = cycle.Intake
		consumed = 0
	}

	advanced, err := tx.AdvanceCycle(ctx, cycle.ID, cycle.Age, newAge, newIntake)
	if err != nil {
		return Result{}, err
	}
	if !advanced {
		return skip(result, SkipLostRace), nil
	}

	result.Status = StatusUpdated
	result.Age = newAge
	result.Intake = newIntake
	result.AddedBags = consumed

	if consumed <= consumptionEpsilon {
		return result, nil
	}

	entry := &models.CycleLog{
		UserID:        cycle.UserID,
		CycleID:       &cycle.ID,
		ValueChange:   consumed,
		PreviousValue: cycle.Intake,
		NewValue:      newIntake,
	}

	if farmer != nil {
		if err := tx.DeductStock(ctx, farmer.ID, consumed); err != nil {
			return Result{}, err
		}
		updated, err := tx.GetFarmer(ctx, "", farmer.ID)
		if err != nil {
			return Result{}, err
		}
		balance := updated.MainStockRemaining
		result.PoolBalance = &balance
		result.Overdrawn = updated.Overdrawn()
		if result.Overdrawn {
			e.logger.Warn("stock pool overdrawn",
				zap.String("farmer_id", farmer.ID),
				zap.String("cycle_id", cycle.ID),
				zap.Float64("remaining", balance))
		}

		entry.Type = models.LogFeed
		entry.Note = fmt.Sprintf("Consumed %.2f bags from %s stock (Age %d)", consumed, farmer.Name, newAge)
	} else {
		// Standalone cycles log consumption as a note so it is not read as
		// feed delivered by the operator.
		entry.Type = models.LogNote
		entry.Note = fmt.Sprintf("Daily Consumption: %.2f bags (Age %d)", consumed, newAge)
	}

	if err := tx.AppendLog(ctx, entry); err != nil {
		return Result{}, err
	}

	e.logger.Debug("cycle accrued",
		zap.String("cycle_id", cycle.ID),
		zap.Int("age", newAge),
		zap.Float64("added_bags", consumed))

	return result, nil
}

func skip(r Result, reason string) Result {
	r.Status = StatusSkipped
	r.SkipReason = reason
	return r
}
