// Package app assembles the services shared by the server and the CLI.
package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/mamadbah2/poultrydesk/internal/config"
	"github.com/mamadbah2/poultrydesk/internal/metrics"
	"github.com/mamadbah2/poultrydesk/internal/repository/mongodb"
	"github.com/mamadbah2/poultrydesk/internal/repository/redislock"
	"github.com/mamadbah2/poultrydesk/internal/repository/sheets"
	"github.com/mamadbah2/poultrydesk/internal/repository/sqlstore"
	"github.com/mamadbah2/poultrydesk/internal/service/accrual"
	"github.com/mamadbah2/poultrydesk/internal/service/cycles"
	"github.com/mamadbah2/poultrydesk/internal/service/reporting"
	"github.com/mamadbah2/poultrydesk/internal/service/syncer"
	whatsappsvc "github.com/mamadbah2/poultrydesk/internal/service/whatsapp"
	"github.com/mamadbah2/poultrydesk/pkg/clients/whatsapp"
	"github.com/mamadbah2/poultrydesk/pkg/logger"
)

// App holds the wired services. Optional integrations are nil when their
// configuration is absent.
type App struct {
	Config    *config.Config
	DB        *gorm.DB
	Store     *sqlstore.Store
	Registry  *prometheus.Registry
	Engine    *accrual.Engine
	Driver    *syncer.Driver
	Cycles    *cycles.Service
	Reporting *reporting.Service
	Notifier  whatsappsvc.Notifier
	Reports   *mongodb.MongoDBRepository
	Locker    *redislock.Locker

	closers []func(context.Context) error
}

// New connects to every configured backend and wires the services.
func New(ctx context.Context, cfg *config.Config, base *zap.Logger) (_ *App, err error) {
	if base == nil {
		base = zap.NewNop()
	}
	a := &App{Config: cfg}
	defer func() {
		if err != nil {
			_ = a.Close(context.WithoutCancel(ctx))
		}
	}()

	a.DB, err = sqlstore.Open(cfg.Database, logger.Named(base, "repo.sql"))
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, func(context.Context) error { return sqlstore.Close(a.DB) })
	a.Store = sqlstore.New(a.DB, logger.Named(base, "repo.sql"))

	a.Registry = prometheus.NewRegistry()
	a.Registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	feedMetrics, err := metrics.NewFeedMetrics(a.Registry)
	if err != nil {
		return nil, err
	}

	// Cycle days roll over at midnight in the farm's timezone, not the host's.
	loc, err := cfg.Sync.Location()
	if err != nil {
		return nil, err
	}
	clock := func() time.Time { return time.Now().In(loc) }

	a.Engine = accrual.NewEngine(a.Store, logger.Named(base, "svc.accrual"), accrual.WithMetrics(feedMetrics), accrual.WithClock(clock))

	syncOpts := []syncer.Option{
		syncer.WithClock(clock),
		syncer.WithConcurrency(cfg.Sync.Concurrency),
		syncer.WithItemTimeout(cfg.Sync.ItemTimeout),
		syncer.WithMetrics(feedMetrics),
	}
	if cfg.MongoDB.Enabled() {
		a.Reports, err = mongodb.NewMongoDBRepository(ctx, cfg.MongoDB.URI, cfg.MongoDB.DBName)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, a.Reports.Close)
		syncOpts = append(syncOpts, syncer.WithReportSink(a.Reports))
	} else {
		base.Warn("mongodb not configured, sync reports will not be archived")
	}
	a.Driver = syncer.NewDriver(a.Store, a.Engine, logger.Named(base, "svc.syncer"), syncOpts...)

	var exporter cycles.ArchiveExporter
	if cfg.Sheets.Enabled() {
		sheetsRepo, err := sheets.NewGoogleSheetRepository(ctx, cfg.Sheets, logger.Named(base, "repo.sheets"))
		if err != nil {
			return nil, err
		}
		exporter = sheets.NewArchiveExporter(sheetsRepo, cfg.Sheets.ArchiveRange, logger.Named(base, "repo.sheets"))
	}
	a.Cycles = cycles.NewService(a.Store, a.Engine, exporter, logger.Named(base, "svc.cycles"))
	a.Reporting = reporting.NewService(a.Store, cfg.Sync.LowStockBags, logger.Named(base, "svc.reporting"))

	if cfg.WhatsApp.Enabled() {
		a.Notifier = whatsappsvc.NewMetaWhatsAppService(cfg.WhatsApp, whatsapp.NewClient(cfg.WhatsApp), logger.Named(base, "svc.whatsapp"))
	} else {
		base.Warn("whatsapp credentials missing, notifications disabled")
	}

	if cfg.Redis.Enabled() {
		client, err := redislock.NewClient(ctx, cfg.Redis)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, func(context.Context) error { return client.Close() })
		a.Locker = redislock.New(client, "poultrydesk:lock:")
	}

	return a, nil
}

// Migrate creates or updates the relational schema.
func (a *App) Migrate() error {
	if err := sqlstore.Migrate(a.DB); err != nil {
		return fmt.Errorf("migrate schema: %w", err)
	}
	return nil
}

// Close releases every backend connection in reverse order of opening.
func (a *App) Close(ctx context.Context) error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
