package reporting

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/patrickmn/go-cache"
	"go.uber.org/zap"

	"github.com/mamadbah2/poultrydesk/internal/domain/feed"
	"github.com/mamadbah2/poultrydesk/internal/domain/models"
	"github.com/mamadbah2/poultrydesk/internal/repository/sqlstore"
	"github.com/mamadbah2/poultrydesk/internal/service/accrual"
	"github.com/mamadbah2/poultrydesk/internal/service/syncer"
)

const (
	dateLayout       = "2006-01-02"
	summaryTTL       = 5 * time.Minute
	farmerPageSize   = 100
	maxListedUpdates = 15
)

// Source is the read surface the dashboard is computed from.
type Source interface {
	ListActiveCycles(ctx context.Context, userID string) ([]models.Cycle, error)
	ListFarmers(ctx context.Context, query sqlstore.FarmerQuery) ([]models.Farmer, int64, error)
}

// StockLine is one stock pool on the dashboard.
type StockLine struct {
	FarmerID     string   `json:"farmerId"`
	Name         string   `json:"name"`
	Input        float64  `json:"input"`
	Remaining    float64  `json:"remaining"`
	ActiveCycles int      `json:"activeCycles"`
	DailyDemand  float64  `json:"dailyDemand"`
	DaysLeft     *float64 `json:"daysLeft,omitempty"`
	LowStock     bool     `json:"lowStock"`
	Overdrawn    bool     `json:"overdrawn"`
}

// Summary aggregates a tenant's running cycles.
type Summary struct {
	GeneratedAt    time.Time   `json:"generatedAt"`
	ActiveCycles   int         `json:"activeCycles"`
	TotalDOC       int         `json:"totalDoc"`
	TotalMortality int         `json:"totalMortality"`
	LiveBirds      int         `json:"liveBirds"`
	MortalityRate  float64     `json:"mortalityRatePct"`
	BagsConsumed   float64     `json:"bagsConsumed"`
	FeedPerBird    float64     `json:"feedPerBirdKg"`
	Stocks         []StockLine `json:"stocks"`
	Alerts         []string    `json:"alerts"`
}

// Service exposes the dashboard summary and the sync report messages.
type Service struct {
	source       Source
	cache        *cache.Cache
	lowStockBags float64
	logger       *zap.Logger
	now          func() time.Time
}

// NewService wires a new reporting service instance.
func NewService(source Source, lowStockBags float64, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		source:       source,
		cache:        cache.New(summaryTTL, 2*summaryTTL),
		lowStockBags: lowStockBags,
		logger:       logger,
		now:          time.Now,
	}
}

// Summary returns the dashboard for userID, served from cache while fresh.
func (s *Service) Summary(ctx context.Context, userID string) (Summary, error) {
	if cached, ok := s.cache.Get(userID); ok {
		return cached.(Summary), nil
	}

	cycles, err := s.source.ListActiveCycles(ctx, userID)
	if err != nil {
		return Summary{}, fmt.Errorf("load active cycles: %w", err)
	}
	farmers, err := s.allFarmers(ctx, userID)
	if err != nil {
		return Summary{}, err
	}

	summary := s.summarize(cycles, farmers)
	s.logger.Debug("dashboard summary computed",
		zap.String("user_id", userID),
		zap.Int("active_cycles", summary.ActiveCycles),
		zap.Int("alerts", len(summary.Alerts)))
	s.cache.Set(userID, summary, cache.DefaultExpiration)
	return summary, nil
}

// Invalidate drops cached summaries after the underlying figures changed. An
// empty userID clears every tenant.
func (s *Service) Invalidate(userID string) {
	if userID == "" {
		s.cache.Flush()
		return
	}
	s.cache.Delete(userID)
}

func (s *Service) allFarmers(ctx context.Context, userID string) ([]models.Farmer, error) {
	var out []models.Farmer
	for page := 1; ; page++ {
		batch, total, err := s.source.ListFarmers(ctx, sqlstore.FarmerQuery{
			UserID:   userID,
			Page:     page,
			PageSize: farmerPageSize,
		})
		if err != nil {
			return nil, fmt.Errorf("load farmers: %w", err)
		}
		out = append(out, batch...)
		if len(batch) < farmerPageSize || int64(len(out)) >= total {
			return out, nil
		}
	}
}

func (s *Service) summarize(cycles []models.Cycle, farmers []models.Farmer) Summary {
	summary := Summary{
		GeneratedAt:  s.now(),
		ActiveCycles: len(cycles),
		Stocks:       []StockLine{},
		Alerts:       []string{},
	}

	lines := make(map[string]*StockLine, len(farmers))
	for _, f := range farmers {
		lines[f.ID] = &StockLine{
			FarmerID:  f.ID,
			Name:      f.Name,
			Input:     f.MainStockInput,
			Remaining: f.MainStockRemaining,
			Overdrawn: f.Overdrawn(),
		}
	}

	for _, c := range cycles {
		live := c.LiveBirds()
		summary.TotalDOC += c.DOC
		summary.TotalMortality += c.Mortality
		summary.LiveBirds += live
		summary.BagsConsumed += c.Intake

		tomorrow := feed.GramsToBags(feed.FeedForDay(c.Age+1) * float64(live))
		if c.HasPool() {
			if line, ok := lines[*c.FarmerID]; ok {
				line.ActiveCycles++
				line.DailyDemand += tomorrow
			}
			continue
		}
		if remaining := c.InputFeed - c.Intake; remaining < tomorrow {
			summary.Alerts = append(summary.Alerts,
				fmt.Sprintf("Cycle %s has %.2f bags left, needs %.2f tomorrow.", c.Name, remaining, tomorrow))
		}
	}

	if summary.TotalDOC > 0 {
		summary.MortalityRate = round2(float64(summary.TotalMortality) / float64(summary.TotalDOC) * 100)
	}
	if summary.LiveBirds > 0 {
		summary.FeedPerBird = summary.BagsConsumed * feed.GramsPerBag / 1000 / float64(summary.LiveBirds)
	}

	for _, f := range farmers {
		line := lines[f.ID]
		if line.DailyDemand > 0 && line.Remaining > 0 {
			days := round2(line.Remaining / line.DailyDemand)
			line.DaysLeft = &days
		}
		line.LowStock = line.Remaining < s.lowStockBags
		switch {
		case line.Overdrawn:
			summary.Alerts = append(summary.Alerts,
				fmt.Sprintf("Stock %s is overdrawn by %.2f bags.", line.Name, -line.Remaining))
		case line.LowStock && line.ActiveCycles > 0:
			summary.Alerts = append(summary.Alerts,
				fmt.Sprintf("Stock %s is low: %.2f bags left.", line.Name, line.Remaining))
		}
		summary.Stocks = append(summary.Stocks, *line)
	}

	return summary
}

// FormatSyncReport renders a finished sync run for a WhatsApp message.
func (s *Service) FormatSyncReport(report syncer.Report) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Feed sync %s (%s)\n", report.StartedAt.Format(dateLayout), report.Mode)
	fmt.Fprintf(&b, "%d cycles scanned, %d updated, %.2f bags consumed.",
		report.Scanned, report.UpdatedCount, report.BagsAccrued())

	results := append([]accrual.Result(nil), report.Results...)
	sort.SliceStable(results, func(i, j int) bool { return results[i].Name < results[j].Name })
	for n, r := range results {
		if n == maxListedUpdates {
			fmt.Fprintf(&b, "\n... and %d more", len(results)-maxListedUpdates)
			break
		}
		fmt.Fprintf(&b, "\n- %s: day %d, +%.2f bags", r.Name, r.Age, r.AddedBags)
	}

	var low []string
	for _, r := range results {
		switch {
		case r.Overdrawn:
			low = append(low, fmt.Sprintf("%s stock overdrawn (%.2f)", r.Name, *r.PoolBalance))
		case r.PoolBalance != nil && *r.PoolBalance < s.lowStockBags:
			low = append(low, fmt.Sprintf("%s stock low (%.2f left)", r.Name, *r.PoolBalance))
		}
	}
	if len(low) > 0 {
		b.WriteString("\nStock alerts:")
		for _, l := range low {
			b.WriteString("\n- " + l)
		}
	}

	if len(report.Failures) > 0 {
		fmt.Fprintf(&b, "\n%d cycles failed:", len(report.Failures))
		for _, f := range report.Failures {
			fmt.Fprintf(&b, "\n- %s: %s", f.Name, f.Error)
		}
	}
	return b.String()
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
