package handlers

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/mamadbah2/poultrydesk/internal/domain/models"
	"github.com/mamadbah2/poultrydesk/internal/service/accrual"
	"github.com/mamadbah2/poultrydesk/internal/service/syncer"
)

// SyncRunner runs the accrual over a scope.
type SyncRunner interface {
	SyncAll(ctx context.Context, scope models.SyncScope) (syncer.Report, error)
}

// SummaryInvalidator drops cached dashboards.
type SummaryInvalidator interface {
	Invalidate(userID string)
}

// ReportHistory lists archived sync runs.
type ReportHistory interface {
	RecentSyncReports(ctx context.Context, userID string, limit int64) ([]models.SyncReport, error)
}

// SyncHandler exposes the scheduled and manual sync triggers.
type SyncHandler struct {
	runner      SyncRunner
	invalidator SummaryInvalidator
	history     ReportHistory
	logger      *zap.Logger
}

// NewSyncHandler wires the sync endpoints. history may be nil.
func NewSyncHandler(runner SyncRunner, invalidator SummaryInvalidator, history ReportHistory, logger *zap.Logger) *SyncHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SyncHandler{runner: runner, invalidator: invalidator, history: history, logger: logger}
}

type cronResponse struct {
	Success  bool             `json:"success"`
	Mode     string           `json:"mode"`
	Count    int              `json:"count"`
	Updates  []accrual.Result `json:"updates"`
	Failures []syncer.Failure `json:"failures,omitempty"`
}

type syncResponse struct {
	Success      bool             `json:"success"`
	UpdatedCount int              `json:"updatedCount"`
	Results      []accrual.Result `json:"results"`
	Failures     []syncer.Failure `json:"failures,omitempty"`
}

// CronUpdate runs the global sync, or one tenant's sync when userId is given.
// External schedulers call it.
func (h *SyncHandler) CronUpdate(c *gin.Context) {
	scope := models.SyncScope{UserID: strings.TrimSpace(c.Query("userId"))}

	report, err := h.run(c.Request.Context(), scope)
	if err != nil {
		h.logger.Error("cron job failed", zap.String("mode", scope.Mode()), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": "Update failed"})
		return
	}

	c.JSON(http.StatusOK, cronResponse{
		Success:  true,
		Mode:     report.Mode,
		Count:    report.UpdatedCount,
		Updates:  nonNil(report.Results),
		Failures: report.Failures,
	})
}

// Sync brings the caller's active cycles up to date.
func (h *SyncHandler) Sync(c *gin.Context) {
	report, err := h.run(c.Request.Context(), models.SyncScope{UserID: userID(c)})
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, syncResponse{
		Success:      true,
		UpdatedCount: report.UpdatedCount,
		Results:      nonNil(report.Results),
		Failures:     report.Failures,
	})
}

// Reports lists the caller's recent sync runs.
func (h *SyncHandler) Reports(c *gin.Context) {
	if h.history == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "sync report archive is not configured"})
		return
	}

	reports, err := h.history.RecentSyncReports(c.Request.Context(), userID(c), int64(queryInt(c, "limit", 10)))
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"reports": reports})
}

func (h *SyncHandler) run(ctx context.Context, scope models.SyncScope) (syncer.Report, error) {
	report, err := h.runner.SyncAll(ctx, scope)
	if err != nil {
		return syncer.Report{}, err
	}
	if h.invalidator != nil && report.UpdatedCount > 0 {
		h.invalidator.Invalidate(scope.UserID)
	}
	return report, nil
}

func nonNil[T any](items []T) []T {
	if items == nil {
		return []T{}
	}
	return items
}
