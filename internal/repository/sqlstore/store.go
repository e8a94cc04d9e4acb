// Package sqlstore persists farmers, cycles and their audit logs with GORM.
package sqlstore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/mamadbah2/poultrydesk/internal/domain/models"
)

// ErrNotFound is returned when a referenced row does not exist.
var ErrNotFound = errors.New("record not found")

const (
	defaultPageSize = 10
	maxPageSize     = 100
)

// Repository is the persistence surface used by the services. Every method
// runs inside the transaction when called on the value handed to RunInTx.
type Repository interface {
	RunInTx(ctx context.Context, fn func(tx Repository) error) error

	CreateFarmer(ctx context.Context, farmer *models.Farmer) error
	GetFarmer(ctx context.Context, userID, id string) (*models.Farmer, error)
	FindFarmerByName(ctx context.Context, userID, name string) (*models.Farmer, error)
	ListFarmers(ctx context.Context, query FarmerQuery) ([]models.Farmer, int64, error)
	AddStock(ctx context.Context, farmerID string, bags float64) error
	DeductStock(ctx context.Context, farmerID string, bags float64) error

	CreateCycle(ctx context.Context, cycle *models.Cycle) error
	GetCycle(ctx context.Context, userID, id string) (*models.Cycle, error)
	FindActiveCycleByName(ctx context.Context, userID, name string) (*models.Cycle, error)
	CyclesByName(ctx context.Context, userID, name string) ([]models.Cycle, error)
	ListCycles(ctx context.Context, query CycleQuery) ([]models.Cycle, int64, error)
	ListActiveCycles(ctx context.Context, userID string) ([]models.Cycle, error)
	AdvanceCycle(ctx context.Context, cycleID string, prevAge, newAge int, intake float64) (bool, error)
	IncrementMortality(ctx context.Context, cycleID string, amount int) error
	IncrementInputFeed(ctx context.Context, cycleID string, bags float64) error
	ArchiveCycle(ctx context.Context, cycleID string, endDate time.Time) (bool, error)
	DeleteCycle(ctx context.Context, cycleID string) error

	AppendLog(ctx context.Context, entry *models.CycleLog) error
	CycleLogs(ctx context.Context, cycleID string) ([]models.CycleLog, error)
	FarmerLogs(ctx context.Context, farmerID string) ([]models.CycleLog, error)
}

// FarmerQuery filters and pages the farmer list.
type FarmerQuery struct {
	UserID   string
	Search   string
	Page     int
	PageSize int
}

// CycleQuery filters, sorts and pages the cycle list. Status is "active",
// "archived" or "all".
type CycleQuery struct {
	UserID    string
	FarmerID  string
	Status    string
	Search    string
	SortBy    string
	SortOrder string
	Page      int
	PageSize  int
}

// Store implements Repository on top of a *gorm.DB.
type Store struct {
	db     *gorm.DB
	logger *zap.Logger
}

// New wraps db in a Store.
func New(db *gorm.DB, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{db: db, logger: logger}
}

// RunInTx executes fn in a single database transaction. The transaction is
// committed when fn returns nil and rolled back on error or panic.
func (s *Store) RunInTx(ctx context.Context, fn func(tx Repository) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&Store{db: tx, logger: s.logger})
	})
}

// CreateFarmer inserts a new stock pool.
func (s *Store) CreateFarmer(ctx context.Context, farmer *models.Farmer) error {
	if farmer.ID == "" {
		farmer.ID = uuid.NewString()
	}
	if err := s.db.WithContext(ctx).Create(farmer).Error; err != nil {
		return fmt.Errorf("insert farmer: %w", err)
	}
	return nil
}

// GetFarmer loads a farmer by id. An empty userID skips the tenant check.
func (s *Store) GetFarmer(ctx context.Context, userID, id string) (*models.Farmer, error) {
	var farmer models.Farmer
	q := s.db.WithContext(ctx).Where("id = ?", id)
	if userID != "" {
		q = q.Where("user_id = ?", userID)
	}
	if err := q.First(&farmer).Error; err != nil {
		return nil, wrapNotFound(err, "farmer", id)
	}
	return &farmer, nil
}

// FindFarmerByName returns the tenant's farmer with the given name.
func (s *Store) FindFarmerByName(ctx context.Context, userID, name string) (*models.Farmer, error) {
	var farmer models.Farmer
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND name = ?", userID, name).
		First(&farmer).Error
	if err != nil {
		return nil, wrapNotFound(err, "farmer", name)
	}
	return &farmer, nil
}

// ListFarmers returns one page of farmers ordered by name and the total count.
func (s *Store) ListFarmers(ctx context.Context, query FarmerQuery) ([]models.Farmer, int64, error) {
	q := s.db.WithContext(ctx).Model(&models.Farmer{}).Where("user_id = ?", query.UserID)
	if search := strings.TrimSpace(query.Search); search != "" {
		q = q.Where("LOWER(name) LIKE ?", "%"+strings.ToLower(search)+"%")
	}

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("count farmers: %w", err)
	}

	page, size := normalizePage(query.Page, query.PageSize)
	var farmers []models.Farmer
	err := q.Order("name ASC").
		Limit(size).
		Offset((page - 1) * size).
		Find(&farmers).Error
	if err != nil {
		return nil, 0, fmt.Errorf("list farmers: %w", err)
	}
	return farmers, total, nil
}

// AddStock increments both the lifetime input and the remaining balance.
func (s *Store) AddStock(ctx context.Context, farmerID string, bags float64) error {
	res := s.db.WithContext(ctx).Model(&models.Farmer{}).
		Where("id = ?", farmerID).
		Updates(map[string]any{
			"main_stock_input":     gorm.Expr("main_stock_input + ?", bags),
			"main_stock_remaining": gorm.Expr("main_stock_remaining + ?", bags),
			"updated_at":           time.Now(),
		})
	if res.Error != nil {
		return fmt.Errorf("add stock to farmer %s: %w", farmerID, res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("farmer %s: %w", farmerID, ErrNotFound)
	}
	return nil
}

// DeductStock decrements the remaining balance in the database so concurrent
// deductions against the same pool never overwrite each other. The balance
// may go negative.
func (s *Store) DeductStock(ctx context.Context, farmerID string, bags float64) error {
	res := s.db.WithContext(ctx).Model(&models.Farmer{}).
		Where("id = ?", farmerID).
		Updates(map[string]any{
			"main_stock_remaining": gorm.Expr("main_stock_remaining - ?", bags),
			"updated_at":           time.Now(),
		})
	if res.Error != nil {
		return fmt.Errorf("deduct stock from farmer %s: %w", farmerID, res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("farmer %s: %w", farmerID, ErrNotFound)
	}
	return nil
}

// CreateCycle inserts a new cycle.
func (s *Store) CreateCycle(ctx context.Context, cycle *models.Cycle) error {
	if cycle.ID == "" {
		cycle.ID = uuid.NewString()
	}
	if cycle.Status == "" {
		cycle.Status = models.CycleActive
	}
	if err := s.db.WithContext(ctx).Create(cycle).Error; err != nil {
		return fmt.Errorf("insert cycle: %w", err)
	}
	return nil
}

// GetCycle loads a cycle by id. An empty userID skips the tenant check.
func (s *Store) GetCycle(ctx context.Context, userID, id string) (*models.Cycle, error) {
	var cycle models.Cycle
	q := s.db.WithContext(ctx).Where("id = ?", id)
	if userID != "" {
		q = q.Where("user_id = ?", userID)
	}
	if err := q.First(&cycle).Error; err != nil {
		return nil, wrapNotFound(err, "cycle", id)
	}
	return &cycle, nil
}

// FindActiveCycleByName returns the tenant's active cycle with the given name.
func (s *Store) FindActiveCycleByName(ctx context.Context, userID, name string) (*models.Cycle, error) {
	var cycle models.Cycle
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND name = ? AND status = ?", userID, name, models.CycleActive).
		First(&cycle).Error
	if err != nil {
		return nil, wrapNotFound(err, "cycle", name)
	}
	return &cycle, nil
}

// CyclesByName returns every cycle of the tenant sharing name, newest first.
func (s *Store) CyclesByName(ctx context.Context, userID, name string) ([]models.Cycle, error) {
	var cycles []models.Cycle
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND name = ?", userID, name).
		Order("start_date DESC").
		Find(&cycles).Error
	if err != nil {
		return nil, fmt.Errorf("cycles named %s: %w", name, err)
	}
	return cycles, nil
}

var cycleSortColumns = map[string]string{
	"name":      "name",
	"age":       "age",
	"createdAt": "created_at",
	"startDate": "start_date",
	"endDate":   "end_date",
}

// ListCycles returns one page of cycles and the total matching count.
func (s *Store) ListCycles(ctx context.Context, query CycleQuery) ([]models.Cycle, int64, error) {
	q := s.db.WithContext(ctx).Model(&models.Cycle{}).Where("user_id = ?", query.UserID)
	switch query.Status {
	case "", string(models.CycleActive):
		q = q.Where("status = ?", models.CycleActive)
	case string(models.CycleArchived):
		q = q.Where("status = ?", models.CycleArchived)
	}
	if query.FarmerID != "" {
		q = q.Where("farmer_id = ?", query.FarmerID)
	}
	if search := strings.TrimSpace(query.Search); search != "" {
		q = q.Where("LOWER(name) LIKE ?", "%"+strings.ToLower(search)+"%")
	}

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("count cycles: %w", err)
	}

	order := "created_at DESC"
	if column, ok := cycleSortColumns[query.SortBy]; ok {
		direction := "DESC"
		if strings.EqualFold(query.SortOrder, "asc") {
			direction = "ASC"
		}
		order = column + " " + direction
	}

	page, size := normalizePage(query.Page, query.PageSize)
	var cycles []models.Cycle
	err := q.Order(order).
		Limit(size).
		Offset((page - 1) * size).
		Find(&cycles).Error
	if err != nil {
		return nil, 0, fmt.Errorf("list cycles: %w", err)
	}
	return cycles, total, nil
}

// ListActiveCycles returns every active cycle of a tenant, or of all tenants
// when userID is empty.
func (s *Store) ListActiveCycles(ctx context.Context, userID string) ([]models.Cycle, error) {
	q := s.db.WithContext(ctx).Where("status = ?", models.CycleActive)
	if userID != "" {
		q = q.Where("user_id = ?", userID)
	}
	var cycles []models.Cycle
	if err := q.Order("created_at ASC").Find(&cycles).Error; err != nil {
		return nil, fmt.Errorf("list active cycles: %w", err)
	}
	return cycles, nil
}

// AdvanceCycle stores the new age and cumulative intake if the cycle is still
// active and still at prevAge. It reports false when another writer got there
// first.
func (s *Store) AdvanceCycle(ctx context.Context, cycleID string, prevAge, newAge int, intake float64) (bool, error) {
	res := s.db.WithContext(ctx).Model(&models.Cycle{}).
		Where("id = ? AND age = ? AND status = ?", cycleID, prevAge, models.CycleActive).
		Updates(map[string]any{
			"age":        newAge,
			"intake":     intake,
			"updated_at": time.Now(),
		})
	if res.Error != nil {
		return false, fmt.Errorf("advance cycle %s: %w", cycleID, res.Error)
	}
	return res.RowsAffected == 1, nil
}

// IncrementMortality adds amount deaths to the cycle.
func (s *Store) IncrementMortality(ctx context.Context, cycleID string, amount int) error {
	return s.incrementCycle(ctx, cycleID, "mortality", amount)
}

// IncrementInputFeed adds bags delivered straight to the cycle.
func (s *Store) IncrementInputFeed(ctx context.Context, cycleID string, bags float64) error {
	return s.incrementCycle(ctx, cycleID, "input_feed", bags)
}

func (s *Store) incrementCycle(ctx context.Context, cycleID, column string, delta any) error {
	res := s.db.WithContext(ctx).Model(&models.Cycle{}).
		Where("id = ?", cycleID).
		Updates(map[string]any{
			column:       gorm.Expr(column+" + ?", delta),
			"updated_at": time.Now(),
		})
	if res.Error != nil {
		return fmt.Errorf("increment %s on cycle %s: %w", column, cycleID, res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("cycle %s: %w", cycleID, ErrNotFound)
	}
	return nil
}

// ArchiveCycle flips an active cycle to archived. It reports false when the
// cycle was not active.
func (s *Store) ArchiveCycle(ctx context.Context, cycleID string, endDate time.Time) (bool, error) {
	res := s.db.WithContext(ctx).Model(&models.Cycle{}).
		Where("id = ? AND status = ?", cycleID, models.CycleActive).
		Updates(map[string]any{
			"status":     models.CycleArchived,
			"end_date":   endDate,
			"updated_at": time.Now(),
		})
	if res.Error != nil {
		return false, fmt.Errorf("archive cycle %s: %w", cycleID, res.Error)
	}
	return res.RowsAffected == 1, nil
}

// DeleteCycle removes a cycle and the logs attached to it.
func (s *Store) DeleteCycle(ctx context.Context, cycleID string) error {
	return s.db.WithContext(ctx).Transaction(func(db *gorm.DB) error {
		if err := db.Where("cycle_id = ?", cycleID).Delete(&models.CycleLog{}).Error; err != nil {
			return fmt.Errorf("delete logs of cycle %s: %w", cycleID, err)
		}
		res := db.Where("id = ?", cycleID).Delete(&models.Cycle{})
		if res.Error != nil {
			return fmt.Errorf("delete cycle %s: %w", cycleID, res.Error)
		}
		if res.RowsAffected == 0 {
			return fmt.Errorf("cycle %s: %w", cycleID, ErrNotFound)
		}
		return nil
	})
}

// AppendLog inserts an audit entry.
func (s *Store) AppendLog(ctx context.Context, entry *models.CycleLog) error {
	if (entry.CycleID == nil) == (entry.FarmerID == nil) {
		return fmt.Errorf("log entry must reference exactly one of cycle or farmer")
	}
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if err := s.db.WithContext(ctx).Create(entry).Error; err != nil {
		return fmt.Errorf("insert %s log: %w", entry.Type, err)
	}
	return nil
}

// CycleLogs returns a cycle's audit entries, newest first.
func (s *Store) CycleLogs(ctx context.Context, cycleID string) ([]models.CycleLog, error) {
	return s.logsWhere(ctx, "cycle_id = ?", cycleID)
}

// FarmerLogs returns a stock pool's audit entries, newest first.
func (s *Store) FarmerLogs(ctx context.Context, farmerID string) ([]models.CycleLog, error) {
	return s.logsWhere(ctx, "farmer_id = ?", farmerID)
}

func (s *Store) logsWhere(ctx context.Context, cond string, id string) ([]models.CycleLog, error) {
	var logs []models.CycleLog
	err := s.db.WithContext(ctx).
		Where(cond, id).
		Order("created_at DESC").
		Find(&logs).Error
	if err != nil {
		return nil, fmt.Errorf("load logs: %w", err)
	}
	return logs, nil
}

func normalizePage(page, size int) (int, int) {
	if page < 1 {
		page = 1
	}
	if size < 1 {
		size = defaultPageSize
	}
	if size > maxPageSize {
		size = maxPageSize
	}
	return page, size
}

func wrapNotFound(err error, entity, key string) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("%s %s: %w", entity, key, ErrNotFound)
	}
	return fmt.Errorf("load %s %s: %w", entity, key, err)
}
