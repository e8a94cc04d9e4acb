package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/mamadbah2/poultrydesk/internal/app"
	"github.com/mamadbah2/poultrydesk/internal/config"
	"github.com/mamadbah2/poultrydesk/internal/scheduler"
	"github.com/mamadbah2/poultrydesk/internal/server/handlers"
	"github.com/mamadbah2/poultrydesk/internal/server/router"
	"github.com/mamadbah2/poultrydesk/pkg/logger"
)

func main() {
	cfg, err := config.Load("")
	if err != nil {
		panic(err)
	}

	baseLogger := logger.Must(logger.New(cfg.LogLevel))
	defer func() { _ = baseLogger.Sync() }()

	zap.ReplaceGlobals(baseLogger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	application, err := app.New(ctx, cfg, baseLogger)
	if err != nil {
		baseLogger.Fatal("failed to initialize application", zap.Error(err))
	}
	defer func() {
		if err := application.Close(context.Background()); err != nil {
			baseLogger.Error("failed to close connections", zap.Error(err))
		}
	}()

	if err := application.Migrate(); err != nil {
		baseLogger.Fatal("failed to migrate database", zap.Error(err))
	}

	var history handlers.ReportHistory
	if application.Reports != nil {
		history = application.Reports
	}

	h := router.Handlers{
		Sync:      handlers.NewSyncHandler(application.Driver, application.Reporting, history, baseLogger.Named("handlers.sync")),
		Farmers:   handlers.NewFarmerHandler(application.Cycles, application.Reporting, baseLogger.Named("handlers.farmers")),
		Cycles:    handlers.NewCycleHandler(application.Cycles, application.Reporting, baseLogger.Named("handlers.cycles")),
		Dashboard: handlers.NewDashboardHandler(application.Reporting, baseLogger.Named("handlers.dashboard")),
	}
	if application.Notifier != nil {
		h.Notifications = handlers.NewNotificationHandler(application.Notifier, baseLogger.Named("handlers.whatsapp"))
	}
	engine := router.New(h, application.Registry, baseLogger.Named("router"))

	sched, err := scheduler.NewScheduler(cfg.Sync, application.Driver, application.Reporting, application.Notifier, application.Locker, baseLogger.Named("scheduler"))
	if err != nil {
		baseLogger.Fatal("failed to create scheduler", zap.Error(err))
	}
	if err := sched.Start(); err != nil {
		baseLogger.Fatal("failed to start scheduler", zap.Error(err))
	}
	defer sched.Stop()

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      engine,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 2 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		baseLogger.Info("server starting", zap.String("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			baseLogger.Fatal("http server crashed", zap.Error(err))
		}
	}()

	<-ctx.Done()
	baseLogger.Info("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		baseLogger.Error("graceful shutdown failed", zap.Error(err))
	}
}
