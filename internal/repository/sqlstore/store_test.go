package sqlstore_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mamadbah2/poultrydesk/internal/domain/models"
	"github.com/mamadbah2/poultrydesk/internal/repository/sqlstore"
	"github.com/mamadbah2/poultrydesk/internal/repository/sqlstore/sqltest"
)

func newCycle(t *testing.T, store *sqlstore.Store, userID, name string, farmerID *string) *models.Cycle {
	t.Helper()
	cycle := &models.Cycle{
		UserID:    userID,
		FarmerID:  farmerID,
		Name:      name,
		DOC:       1000,
		StartDate: time.Now(),
	}
	require.NoError(t, store.CreateCycle(context.Background(), cycle))
	return cycle
}

func TestFarmerStockIsRelative(t *testing.T) {
	ctx := context.Background()
	store := sqltest.Store(t)

	farmer := &models.Farmer{UserID: "u1", Name: "karim"}
	require.NoError(t, store.CreateFarmer(ctx, farmer))
	require.NotEmpty(t, farmer.ID)

	require.NoError(t, store.AddStock(ctx, farmer.ID, 20))
	require.NoError(t, store.DeductStock(ctx, farmer.ID, 2.5))
	require.NoError(t, store.DeductStock(ctx, farmer.ID, 30))

	got, err := store.GetFarmer(ctx, "u1", farmer.ID)
	require.NoError(t, err)
	assert.InDelta(t, 20, got.MainStockInput, 1e-9)
	assert.InDelta(t, -12.5, got.MainStockRemaining, 1e-9, "overdraft is not clamped")
	assert.True(t, got.Overdrawn())
}

func TestConcurrentDeductionsAreNotLost(t *testing.T) {
	ctx := context.Background()
	store := sqltest.Store(t)

	farmer := &models.Farmer{UserID: "u1", Name: "pool"}
	require.NoError(t, store.CreateFarmer(ctx, farmer))
	require.NoError(t, store.AddStock(ctx, farmer.ID, 100))

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, store.RunInTx(ctx, func(tx sqlstore.Repository) error {
				return tx.DeductStock(ctx, farmer.ID, 1.25)
			}))
		}()
	}
	wg.Wait()

	got, err := store.GetFarmer(ctx, "", farmer.ID)
	require.NoError(t, err)
	assert.InDelta(t, 75, got.MainStockRemaining, 1e-9)
}

func TestMissingRowsReturnErrNotFound(t *testing.T) {
	ctx := context.Background()
	store := sqltest.Store(t)

	_, err := store.GetFarmer(ctx, "u1", "nope")
	assert.ErrorIs(t, err, sqlstore.ErrNotFound)

	_, err = store.GetCycle(ctx, "u1", "nope")
	assert.ErrorIs(t, err, sqlstore.ErrNotFound)

	assert.ErrorIs(t, store.DeductStock(ctx, "nope", 1), sqlstore.ErrNotFound)
	assert.ErrorIs(t, store.IncrementMortality(ctx, "nope", 1), sqlstore.ErrNotFound)
	assert.ErrorIs(t, store.DeleteCycle(ctx, "nope"), sqlstore.ErrNotFound)
}

func TestGetCycleIsTenantScoped(t *testing.T) {
	ctx := context.Background()
	store := sqltest.Store(t)
	cycle := newCycle(t, store, "u1", "shed a", nil)

	_, err := store.GetCycle(ctx, "u2", cycle.ID)
	assert.ErrorIs(t, err, sqlstore.ErrNotFound)

	got, err := store.GetCycle(ctx, "", cycle.ID)
	require.NoError(t, err)
	assert.Equal(t, models.CycleActive, got.Status)
}

func TestAdvanceCycleIsCompareAndSet(t *testing.T) {
	ctx := context.Background()
	store := sqltest.Store(t)
	cycle := newCycle(t, store, "u1", "shed a", nil)

	ok, err := store.AdvanceCycle(ctx, cycle.ID, 0, 3, 1.2)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = store.AdvanceCycle(ctx, cycle.ID, 0, 4, 2.0)
	require.NoError(t, err)
	assert.False(t, ok, "stale previous age must not apply")

	got, err := store.GetCycle(ctx, "", cycle.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, got.Age)
	assert.InDelta(t, 1.2, got.Intake, 1e-9)
}

func TestArchiveCycleIsOneWay(t *testing.T) {
	ctx := context.Background()
	store := sqltest.Store(t)
	cycle := newCycle(t, store, "u1", "shed a", nil)

	ok, err := store.ArchiveCycle(ctx, cycle.ID, time.Now())
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = store.ArchiveCycle(ctx, cycle.ID, time.Now())
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = store.AdvanceCycle(ctx, cycle.ID, 0, 5, 1)
	require.NoError(t, err)
	assert.False(t, ok, "archived cycles do not accrue")

	active, err := store.ListActiveCycles(ctx, "u1")
	require.NoError(t, err)
	assert.Empty(t, active)
}

func TestListCyclesFiltersSortsAndPages(t *testing.T) {
	ctx := context.Background()
	store := sqltest.Store(t)

	for _, name := range []string{"alpha", "bravo", "charlie", "delta"} {
		newCycle(t, store, "u1", name, nil)
	}
	newCycle(t, store, "u2", "alpha", nil)
	archived := newCycle(t, store, "u1", "echo", nil)
	_, err := store.ArchiveCycle(ctx, archived.ID, time.Now())
	require.NoError(t, err)

	items, total, err := store.ListCycles(ctx, sqlstore.CycleQuery{UserID: "u1", SortBy: "name", SortOrder: "asc", PageSize: 2, Page: 2})
	require.NoError(t, err)
	assert.EqualValues(t, 4, total)
	require.Len(t, items, 2)
	assert.Equal(t, "charlie", items[0].Name)
	assert.Equal(t, "delta", items[1].Name)

	items, total, err = store.ListCycles(ctx, sqlstore.CycleQuery{UserID: "u1", Status: "archived"})
	require.NoError(t, err)
	assert.EqualValues(t, 1, total)
	assert.Equal(t, "echo", items[0].Name)

	_, total, err = store.ListCycles(ctx, sqlstore.CycleQuery{UserID: "u1", Status: "all", Search: "HA"})
	require.NoError(t, err)
	assert.EqualValues(t, 2, total, "alpha and charlie")
}

func TestAppendLogRequiresExactlyOneParent(t *testing.T) {
	ctx := context.Background()
	store := sqltest.Store(t)
	cycle := newCycle(t, store, "u1", "shed a", nil)
	farmerID := "f1"

	assert.Error(t, store.AppendLog(ctx, &models.CycleLog{UserID: "u1", Type: models.LogNote}))
	assert.Error(t, store.AppendLog(ctx, &models.CycleLog{UserID: "u1", Type: models.LogNote, CycleID: &cycle.ID, FarmerID: &farmerID}))
	require.NoError(t, store.AppendLog(ctx, &models.CycleLog{UserID: "u1", Type: models.LogNote, CycleID: &cycle.ID, Note: "hello"}))

	logs, err := store.CycleLogs(ctx, cycle.ID)
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, "hello", logs[0].Note)
}

func TestDeleteCycleCascadesLogs(t *testing.T) {
	ctx := context.Background()
	store := sqltest.Store(t)
	cycle := newCycle(t, store, "u1", "shed a", nil)
	require.NoError(t, store.AppendLog(ctx, &models.CycleLog{UserID: "u1", Type: models.LogNote, CycleID: &cycle.ID}))

	require.NoError(t, store.DeleteCycle(ctx, cycle.ID))

	logs, err := store.CycleLogs(ctx, cycle.ID)
	require.NoError(t, err)
	assert.Empty(t, logs)
}

func TestRunInTxRollsBack(t *testing.T) {
	ctx := context.Background()
	store := sqltest.Store(t)
	cycle := newCycle(t, store, "u1", "shed a", nil)
	boom := errors.New("boom")

	err := store.RunInTx(ctx, func(tx sqlstore.Repository) error {
		if _, err := tx.AdvanceCycle(ctx, cycle.ID, 0, 7, 3.3); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	got, err := store.GetCycle(ctx, "", cycle.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, got.Age)
	assert.Zero(t, got.Intake)
}
