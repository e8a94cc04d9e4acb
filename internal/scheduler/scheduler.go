package scheduler

import (
	"context"
	"errors"
	"fmt"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/mamadbah2/poultrydesk/internal/config"
	"github.com/mamadbah2/poultrydesk/internal/domain/models"
	"github.com/mamadbah2/poultrydesk/internal/repository/redislock"
	"github.com/mamadbah2/poultrydesk/internal/service/reporting"
	"github.com/mamadbah2/poultrydesk/internal/service/syncer"
	"github.com/mamadbah2/poultrydesk/internal/service/whatsapp"
)

const syncLockName = "daily-feed-sync"

// Syncer runs one sync over a scope.
type Syncer interface {
	SyncAll(ctx context.Context, scope models.SyncScope) (syncer.Report, error)
}

// Scheduler manages scheduled tasks.
type Scheduler struct {
	cron         *cron.Cron
	syncer       Syncer
	reportingSvc *reporting.Service
	notifier     whatsapp.Notifier
	locker       *redislock.Locker
	cfg          config.SyncConfig
	logger       *zap.Logger
}

// NewScheduler creates a new scheduler instance. notifier and locker are
// optional.
func NewScheduler(cfg config.SyncConfig, syncer Syncer, reportingSvc *reporting.Service, notifier whatsapp.Notifier, locker *redislock.Locker, logger *zap.Logger) (*Scheduler, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}

	// Five field cron expressions evaluated in the farm's timezone.
	c := cron.New(cron.WithLocation(loc))

	return &Scheduler{
		cron:         c,
		syncer:       syncer,
		reportingSvc: reportingSvc,
		notifier:     notifier,
		locker:       locker,
		cfg:          cfg,
		logger:       logger,
	}, nil
}

// Start registers the daily sync and starts the scheduler.
func (s *Scheduler) Start() error {
	s.logger.Info("starting scheduler",
		zap.String("schedule", s.cfg.CronSchedule),
		zap.String("timezone", s.cfg.Timezone))

	if _, err := s.cron.AddFunc(s.cfg.CronSchedule, s.dailySyncJob); err != nil {
		return fmt.Errorf("schedule daily feed sync %q: %w", s.cfg.CronSchedule, err)
	}

	s.cron.Start()
	return nil
}

// Stop stops the scheduler and waits for a running job to finish.
func (s *Scheduler) Stop() {
	s.logger.Info("stopping scheduler")
	<-s.cron.Stop().Done()
}

func (s *Scheduler) dailySyncJob() {
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.ReportTimeout)
	defer cancel()

	if err := s.RunDailySync(ctx); err != nil {
		s.logger.Error("daily feed sync failed", zap.Error(err))
	}
}

// RunDailySync runs the global sync once and notifies the manager. When a
// lock is configured and another replica holds it, the run is skipped.
func (s *Scheduler) RunDailySync(ctx context.Context) error {
	if s.locker != nil {
		lease, err := s.locker.TryAcquire(ctx, syncLockName, s.cfg.LockTTL)
		if err != nil {
			return err
		}
		if lease == nil {
			s.logger.Info("daily feed sync already running elsewhere, skipping")
			return nil
		}
		defer func() {
			if err := lease.Release(context.WithoutCancel(ctx)); err != nil {
				if errors.Is(err, redislock.ErrNotHeld) {
					s.logger.Warn("sync lock expired before the run finished", zap.Duration("ttl", s.cfg.LockTTL))
					return
				}
				s.logger.Error("failed to release sync lock", zap.Error(err))
			}
		}()
	}

	s.logger.Info("running daily feed sync")
	report, err := s.syncer.SyncAll(ctx, models.SyncScope{})
	if err != nil {
		return err
	}
	s.reportingSvc.Invalidate("")

	if s.notifier == nil || (report.UpdatedCount == 0 && len(report.Failures) == 0) {
		return nil
	}

	if err := s.notifier.NotifyManager(ctx, s.reportingSvc.FormatSyncReport(report)); err != nil {
		s.logger.Error("failed to send sync summary", zap.Error(err))
	} else {
		s.logger.Info("sync summary sent successfully")
	}
	return nil
}
