// Package cycles implements the operator-facing lifecycle of stock pools and
// growing cycles: creation, stock and mortality entries, archival and reads.
package cycles

import (
	"context"
	"errors"
	"fmt"
	"math"
	"regexp"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/mamadbah2/poultrydesk/internal/domain/feed"
	"github.com/mamadbah2/poultrydesk/internal/domain/models"
	"github.com/mamadbah2/poultrydesk/internal/repository/sqlstore"
	"github.com/mamadbah2/poultrydesk/internal/service/accrual"
)

var (
	// ErrInvalidInput indicates the request payload failed validation.
	ErrInvalidInput = errors.New("invalid input")
	// ErrConflict indicates a name is already taken.
	ErrConflict = errors.New("conflict")
	// ErrNotFound indicates the referenced farmer or cycle does not exist for the tenant.
	ErrNotFound = errors.New("not found")
	// ErrInvalidState indicates the operation does not apply to the cycle's status.
	ErrInvalidState = errors.New("invalid state")
)

// MaxStartAge is the oldest cycle that can be registered after the fact.
const MaxStartAge = feed.PlateauDay

var namePattern = regexp.MustCompile(`^[a-zA-Z0-9\s]+$`)

// Seeder runs the first accrual inside the creating transaction.
type Seeder interface {
	AccrueTx(ctx context.Context, tx sqlstore.Repository, cycleID string, force bool) (accrual.Result, error)
	Now() time.Time
}

// ArchiveExporter publishes the final figures of an ended cycle.
type ArchiveExporter interface {
	ExportArchivedCycle(ctx context.Context, view models.CycleView) error
}

// Page is one page of a listing.
type Page[T any] struct {
	Items      []T   `json:"items"`
	Total      int64 `json:"total"`
	TotalPages int   `json:"totalPages"`
}

// StartCycleInput describes a new cycle.
type StartCycleInput struct {
	FarmerID  string
	Name      string
	DOC       int
	Age       int
	InputFeed float64
}

// Details is everything the cycle page shows.
type Details struct {
	Record  models.CycleRecord `json:"-"`
	Cycle   models.CycleView   `json:"cycle"`
	Logs    []models.CycleLog  `json:"logs"`
	History []models.CycleView `json:"history"`
}

// Service implements the lifecycle operations.
type Service struct {
	repo     sqlstore.Repository
	seeder   Seeder
	exporter ArchiveExporter
	logger   *zap.Logger
}

// NewService wires a lifecycle service. exporter may be nil.
func NewService(repo sqlstore.Repository, seeder Seeder, exporter ArchiveExporter, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{repo: repo, seeder: seeder, exporter: exporter, logger: logger}
}

// CreateFarmer registers a stock pool. Names are stored lower-case and must be
// unique per tenant.
func (s *Service) CreateFarmer(ctx context.Context, userID, name string) (*models.Farmer, error) {
	name, err := normalizeName(name)
	if err != nil {
		return nil, err
	}

	farmer := &models.Farmer{UserID: userID, Name: name}
	err = s.repo.RunInTx(ctx, func(tx sqlstore.Repository) error {
		if _, err := tx.FindFarmerByName(ctx, userID, name); err == nil {
			return fmt.Errorf("%w: farmer %q already exists", ErrConflict, name)
		} else if !errors.Is(err, sqlstore.ErrNotFound) {
			return err
		}
		return tx.CreateFarmer(ctx, farmer)
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("farmer created", zap.String("user_id", userID), zap.String("farmer_id", farmer.ID))
	return farmer, nil
}

// AddStock adds bags to a farmer's main stock.
func (s *Service) AddStock(ctx context.Context, userID, farmerID string, bags float64, note string) (*models.Farmer, error) {
	if bags < 1 || math.IsInf(bags, 0) || math.IsNaN(bags) {
		return nil, fmt.Errorf("%w: amount must be at least 1", ErrInvalidInput)
	}
	if note == "" {
		note = "Stock added"
	}

	var farmer *models.Farmer
	err := s.repo.RunInTx(ctx, func(tx sqlstore.Repository) error {
		current, err := tx.GetFarmer(ctx, userID, farmerID)
		if err != nil {
			return mapNotFound(err)
		}
		if err := tx.AddStock(ctx, farmerID, bags); err != nil {
			return err
		}
		if err := tx.AppendLog(ctx, &models.CycleLog{
			UserID:        userID,
			FarmerID:      &current.ID,
			Type:          models.LogStockAdd,
			ValueChange:   bags,
			PreviousValue: current.MainStockRemaining,
			NewValue:      current.MainStockRemaining + bags,
			Note:          note,
		}); err != nil {
			return err
		}
		farmer, err = tx.GetFarmer(ctx, userID, farmerID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return farmer, nil
}

// ListFarmers returns a page of the tenant's stock pools.
func (s *Service) ListFarmers(ctx context.Context, query sqlstore.FarmerQuery) (Page[models.Farmer], error) {
	items, total, err := s.repo.ListFarmers(ctx, query)
	if err != nil {
		return Page[models.Farmer]{}, err
	}
	return newPage(items, total, query.PageSize), nil
}

// FarmerLogs returns the stock movements recorded against a farmer.
func (s *Service) FarmerLogs(ctx context.Context, userID, farmerID string) ([]models.CycleLog, error) {
	if _, err := s.repo.GetFarmer(ctx, userID, farmerID); err != nil {
		return nil, mapNotFound(err)
	}
	return s.repo.FarmerLogs(ctx, farmerID)
}

// StartCycle registers a cycle that is in.Age days old today and accrues it
// immediately. A standalone cycle inherits the feed left over by the last
// archived cycle of the same name.
func (s *Service) StartCycle(ctx context.Context, userID string, in StartCycleInput) (*models.Cycle, accrual.Result, error) {
	name, err := normalizeName(in.Name)
	if err != nil {
		return nil, accrual.Result{}, err
	}
	if in.DOC < 1 {
		return nil, accrual.Result{}, fmt.Errorf("%w: doc must be at least 1", ErrInvalidInput)
	}
	if in.Age < 1 || in.Age > MaxStartAge {
		return nil, accrual.Result{}, fmt.Errorf("%w: age must be between 1 and %d", ErrInvalidInput, MaxStartAge)
	}
	if in.InputFeed < 0 {
		return nil, accrual.Result{}, fmt.Errorf("%w: input feed must not be negative", ErrInvalidInput)
	}

	now := s.seeder.Now()
	cycle := &models.Cycle{
		UserID:    userID,
		Name:      name,
		DOC:       in.DOC,
		InputFeed: in.InputFeed,
		Status:    models.CycleActive,
		StartDate: feed.BackdatedStart(now, in.Age),
	}

	var seeded accrual.Result
	err = s.repo.RunInTx(ctx, func(tx sqlstore.Repository) error {
		if in.FarmerID != "" {
			farmer, err := tx.GetFarmer(ctx, userID, in.FarmerID)
			if err != nil {
				return mapNotFound(err)
			}
			cycle.FarmerID = &farmer.ID
		}

		if _, err := tx.FindActiveCycleByName(ctx, userID, name); err == nil {
			return fmt.Errorf("%w: an active cycle named %q already exists", ErrConflict, name)
		} else if !errors.Is(err, sqlstore.ErrNotFound) {
			return err
		}

		feedNote := "Initial Stock"
		if !cycle.HasPool() {
			carry, err := carryover(ctx, tx, userID, name)
			if err != nil {
				return err
			}
			if carry > 0 {
				cycle.InputFeed += carry
				feedNote = fmt.Sprintf("Initial (%.2f) + Carryover (%.2f)", in.InputFeed, carry)
			}
		}

		if err := tx.CreateCycle(ctx, cycle); err != nil {
			return err
		}

		if cycle.InputFeed > 0 {
			if err := tx.AppendLog(ctx, &models.CycleLog{
				UserID:      userID,
				CycleID:     &cycle.ID,
				Type:        models.LogFeed,
				ValueChange: cycle.InputFeed,
				NewValue:    cycle.InputFeed,
				Note:        feedNote,
			}); err != nil {
				return err
			}
		}
		if err := tx.AppendLog(ctx, &models.CycleLog{
			UserID:  userID,
			CycleID: &cycle.ID,
			Type:    models.LogNote,
			Note:    fmt.Sprintf("Cycle started manually. Initial Age: %d days.", in.Age),
		}); err != nil {
			return err
		}

		seeded, err = s.seeder.AccrueTx(ctx, tx, cycle.ID, true)
		if err != nil {
			return fmt.Errorf("seed cycle: %w", err)
		}

		created, err := tx.GetCycle(ctx, userID, cycle.ID)
		if err != nil {
			return err
		}
		cycle = created
		return nil
	})
	if err != nil {
		return nil, accrual.Result{}, err
	}

	s.logger.Info("cycle started",
		zap.String("user_id", userID),
		zap.String("cycle_id", cycle.ID),
		zap.Int("age", cycle.Age),
		zap.Float64("intake", cycle.Intake))
	return cycle, seeded, nil
}

// carryover returns the feed left in the most recently ended standalone cycle
// with the same name.
func carryover(ctx context.Context, tx sqlstore.Repository, userID, name string) (float64, error) {
	previous, err := tx.CyclesByName(ctx, userID, name)
	if err != nil {
		return 0, err
	}
	var latest *models.Cycle
	for i := range previous {
		c := &previous[i]
		if c.Status != models.CycleArchived || c.HasPool() {
			continue
		}
		if latest == nil || endedAfter(c, latest) {
			latest = c
		}
	}
	if latest == nil {
		return 0, nil
	}
	return max(latest.InputFeed-latest.Intake, 0), nil
}

func endedAfter(a, b *models.Cycle) bool {
	switch {
	case a.EndDate == nil:
		return false
	case b.EndDate == nil:
		return true
	default:
		return a.EndDate.After(*b.EndDate)
	}
}

// AddMortality records amount deaths on an active cycle.
func (s *Service) AddMortality(ctx context.Context, userID, cycleID string, amount int, reason string) (*models.Cycle, error) {
	if amount < 1 {
		return nil, fmt.Errorf("%w: mortality must be at least 1", ErrInvalidInput)
	}
	if reason == "" {
		reason = "Routine Check"
	}

	return s.mutateActive(ctx, userID, cycleID, func(tx sqlstore.Repository, current *models.Cycle) error {
		if err := tx.IncrementMortality(ctx, cycleID, amount); err != nil {
			return err
		}
		return tx.AppendLog(ctx, &models.CycleLog{
			UserID:        userID,
			CycleID:       &current.ID,
			Type:          models.LogMortality,
			ValueChange:   float64(amount),
			PreviousValue: float64(current.Mortality),
			NewValue:      float64(current.Mortality + amount),
			Note:          reason,
		})
	})
}

// AddFeed records bags delivered straight to a standalone cycle. Pooled
// cycles receive feed through their farmer's stock.
func (s *Service) AddFeed(ctx context.Context, userID, cycleID string, bags float64, note string) (*models.Cycle, error) {
	if bags <= 0 || math.IsInf(bags, 0) || math.IsNaN(bags) {
		return nil, fmt.Errorf("%w: amount must be positive", ErrInvalidInput)
	}
	if note == "" {
		note = "Manual Entry"
	}

	return s.mutateActive(ctx, userID, cycleID, func(tx sqlstore.Repository, current *models.Cycle) error {
		if current.HasPool() {
			return fmt.Errorf("%w: cycle draws from farmer stock, add stock to the farmer", ErrInvalidState)
		}
		if err := tx.IncrementInputFeed(ctx, cycleID, bags); err != nil {
			return err
		}
		return tx.AppendLog(ctx, &models.CycleLog{
			UserID:        userID,
			CycleID:       &current.ID,
			Type:          models.LogFeed,
			ValueChange:   bags,
			PreviousValue: current.InputFeed,
			NewValue:      current.InputFeed + bags,
			Note:          note,
		})
	})
}

func (s *Service) mutateActive(ctx context.Context, userID, cycleID string, fn func(tx sqlstore.Repository, current *models.Cycle) error) (*models.Cycle, error) {
	var updated *models.Cycle
	err := s.repo.RunInTx(ctx, func(tx sqlstore.Repository) error {
		current, err := tx.GetCycle(ctx, userID, cycleID)
		if err != nil {
			return mapNotFound(err)
		}
		if current.Status != models.CycleActive {
			return fmt.Errorf("%w: cycle is %s", ErrInvalidState, current.Status)
		}
		if err := fn(tx, current); err != nil {
			return err
		}
		updated, err = tx.GetCycle(ctx, userID, cycleID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// EndCycle archives an active cycle. Archival is one way.
func (s *Service) EndCycle(ctx context.Context, userID, cycleID string) (*models.Cycle, error) {
	now := s.seeder.Now()

	var ended *models.Cycle
	err := s.repo.RunInTx(ctx, func(tx sqlstore.Repository) error {
		current, err := tx.GetCycle(ctx, userID, cycleID)
		if err != nil {
			return mapNotFound(err)
		}
		ok, err := tx.ArchiveCycle(ctx, cycleID, now)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("%w: cycle is already %s", ErrInvalidState, current.Status)
		}
		if err := tx.AppendLog(ctx, &models.CycleLog{
			UserID:  userID,
			CycleID: &current.ID,
			Type:    models.LogNote,
			Note:    "Cycle Ended & Archived",
		}); err != nil {
			return err
		}
		ended, err = tx.GetCycle(ctx, userID, cycleID)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("cycle archived", zap.String("user_id", userID), zap.String("cycle_id", cycleID))

	if s.exporter != nil {
		view := models.ArchivedCycle{Cycle: *ended}.Project()
		if err := s.exporter.ExportArchivedCycle(ctx, view); err != nil {
			s.logger.Error("failed to export archived cycle", zap.String("cycle_id", cycleID), zap.Error(err))
		}
	}
	return ended, nil
}

// DeleteArchived removes an archived cycle and its logs.
func (s *Service) DeleteArchived(ctx context.Context, userID, cycleID string) error {
	return s.repo.RunInTx(ctx, func(tx sqlstore.Repository) error {
		current, err := tx.GetCycle(ctx, userID, cycleID)
		if err != nil {
			return mapNotFound(err)
		}
		if current.Status != models.CycleArchived {
			return fmt.Errorf("%w: only archived cycles can be deleted", ErrInvalidState)
		}
		return tx.DeleteCycle(ctx, cycleID)
	})
}

// GetDetails returns a cycle, its audit trail and the other cycles that ran
// under the same name.
func (s *Service) GetDetails(ctx context.Context, userID, cycleID string) (Details, error) {
	cycle, err := s.repo.GetCycle(ctx, userID, cycleID)
	if err != nil {
		return Details{}, mapNotFound(err)
	}

	record, err := s.record(ctx, *cycle)
	if err != nil {
		return Details{}, err
	}

	logs, err := s.repo.CycleLogs(ctx, cycle.ID)
	if err != nil {
		return Details{}, err
	}

	siblings, err := s.repo.CyclesByName(ctx, userID, cycle.Name)
	if err != nil {
		return Details{}, err
	}
	history := make([]models.CycleView, 0, len(siblings))
	for _, sib := range siblings {
		if sib.ID == cycle.ID {
			continue
		}
		rec, err := s.record(ctx, sib)
		if err != nil {
			return Details{}, err
		}
		history = append(history, rec.Project())
	}

	return Details{
		Record:  record,
		Cycle:   record.Project(),
		Logs:    logs,
		History: history,
	}, nil
}

// ListCycles returns a page of cycle read models.
func (s *Service) ListCycles(ctx context.Context, query sqlstore.CycleQuery) (Page[models.CycleView], error) {
	items, total, err := s.repo.ListCycles(ctx, query)
	if err != nil {
		return Page[models.CycleView]{}, err
	}

	farmers := map[string]*models.Farmer{}
	views := make([]models.CycleView, 0, len(items))
	for _, c := range items {
		var farmer *models.Farmer
		if c.Status == models.CycleActive && c.HasPool() {
			cached, ok := farmers[*c.FarmerID]
			if !ok {
				cached, err = s.lookupFarmer(ctx, *c.FarmerID)
				if err != nil {
					return Page[models.CycleView]{}, err
				}
				farmers[*c.FarmerID] = cached
			}
			farmer = cached
		}
		views = append(views, models.NewCycleRecord(c, farmer).Project())
	}
	return newPage(views, total, query.PageSize), nil
}

func (s *Service) record(ctx context.Context, c models.Cycle) (models.CycleRecord, error) {
	if c.Status != models.CycleActive || !c.HasPool() {
		return models.NewCycleRecord(c, nil), nil
	}
	farmer, err := s.lookupFarmer(ctx, *c.FarmerID)
	if err != nil {
		return nil, err
	}
	return models.NewCycleRecord(c, farmer), nil
}

// lookupFarmer tolerates a dangling pool reference.
func (s *Service) lookupFarmer(ctx context.Context, id string) (*models.Farmer, error) {
	farmer, err := s.repo.GetFarmer(ctx, "", id)
	if errors.Is(err, sqlstore.ErrNotFound) {
		return nil, nil
	}
	return farmer, err
}

func normalizeName(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", fmt.Errorf("%w: name is required", ErrInvalidInput)
	}
	if !namePattern.MatchString(name) {
		return "", fmt.Errorf("%w: only English letters and numbers are allowed", ErrInvalidInput)
	}
	return strings.ToLower(name), nil
}

func mapNotFound(err error) error {
	if errors.Is(err, sqlstore.ErrNotFound) {
		return fmt.Errorf("%w: %v", ErrNotFound, err)
	}
	return err
}

func newPage[T any](items []T, total int64, pageSize int) Page[T] {
	if items == nil {
		items = []T{}
	}
	if pageSize < 1 {
		pageSize = 10
	}
	if pageSize > 100 {
		pageSize = 100
	}
	return Page[T]{
		Items:      items,
		Total:      total,
		TotalPages: int((total + int64(pageSize) - 1) / int64(pageSize)),
	}
}
