package sheets

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"
	"google.golang.org/api/option"
	sheetsapi "google.golang.org/api/sheets/v4"

	"github.com/mamadbah2/poultrydesk/internal/config"
	"github.com/mamadbah2/poultrydesk/internal/domain/models"
)

const dateLayout = "2006-01-02"

// ArchiveHeader names the columns written by ArchiveExporter.
var ArchiveHeader = []any{
	"Cycle ID", "Name", "Start Date", "End Date", "Age", "DOC",
	"Mortality", "Live Birds", "Input Feed", "Intake", "Feed/Bird (kg)",
}

// Repository defines the persistence operations supported by the Google Sheets adapter.
type Repository interface {
	WriteRow(ctx context.Context, sheetRange string, values []any) error
	ReadRange(ctx context.Context, sheetRange string) ([][]any, error)
}

// GoogleSheetRepository implements the Repository interface using the official Google Sheets API.
type GoogleSheetRepository struct {
	service       *sheetsapi.Service
	spreadsheetID string
	logger        *zap.Logger
}

// NewGoogleSheetRepository builds a Google Sheets backed repository instance.
// Without opts the service account file from cfg is used.
func NewGoogleSheetRepository(ctx context.Context, cfg config.SheetsConfig, logger *zap.Logger, opts ...option.ClientOption) (*GoogleSheetRepository, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if len(opts) == 0 {
		opts = []option.ClientOption{
			option.WithCredentialsFile(cfg.CredentialsPath),
			option.WithScopes(sheetsapi.SpreadsheetsScope),
		}
	}

	service, err := sheetsapi.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize sheets client: %w", err)
	}

	return &GoogleSheetRepository{
		service:       service,
		spreadsheetID: cfg.SpreadsheetID,
		logger:        logger,
	}, nil
}

// WriteRow appends the provided values to the supplied sheet range.
func (r *GoogleSheetRepository) WriteRow(ctx context.Context, sheetRange string, values []any) error {
	if sheetRange == "" {
		return errors.New("sheetRange must not be empty")
	}

	payload := &sheetsapi.ValueRange{Values: [][]any{values}}

	call := r.service.Spreadsheets.Values.Append(r.spreadsheetID, sheetRange, payload).
		ValueInputOption("USER_ENTERED").
		InsertDataOption("INSERT_ROWS").
		Context(ctx)

	if _, err := call.Do(); err != nil {
		return fmt.Errorf("append row into range %s: %w", sheetRange, err)
	}

	r.logger.Debug("row appended to sheet", zap.String("range", sheetRange))
	return nil
}

// ReadRange fetches a rectangular data range from the spreadsheet.
func (r *GoogleSheetRepository) ReadRange(ctx context.Context, sheetRange string) ([][]any, error) {
	if sheetRange == "" {
		return nil, errors.New("sheetRange must not be empty")
	}

	resp, err := r.service.Spreadsheets.Values.Get(r.spreadsheetID, sheetRange).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("read range %s: %w", sheetRange, err)
	}

	return resp.Values, nil
}

// ArchiveExporter appends the final figures of ended cycles to a sheet.
type ArchiveExporter struct {
	repo       Repository
	sheetRange string
	logger     *zap.Logger
}

// NewArchiveExporter writes to sheetRange, for example "Archive!A:K".
func NewArchiveExporter(repo Repository, sheetRange string, logger *zap.Logger) *ArchiveExporter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ArchiveExporter{repo: repo, sheetRange: sheetRange, logger: logger}
}

// ExportArchivedCycle appends view unless a row with the same cycle id is
// already present. The header row is written on first use.
func (e *ArchiveExporter) ExportArchivedCycle(ctx context.Context, view models.CycleView) error {
	rows, err := e.repo.ReadRange(ctx, e.sheetRange)
	if err != nil {
		return err
	}

	if len(rows) == 0 {
		if err := e.repo.WriteRow(ctx, e.sheetRange, ArchiveHeader); err != nil {
			return err
		}
	}
	for _, row := range rows {
		if len(row) > 0 && strings.TrimSpace(fmt.Sprint(row[0])) == view.ID {
			e.logger.Debug("cycle already exported", zap.String("cycle_id", view.ID))
			return nil
		}
	}

	if err := e.repo.WriteRow(ctx, e.sheetRange, ArchiveRow(view)); err != nil {
		return err
	}
	e.logger.Info("archived cycle exported", zap.String("cycle_id", view.ID), zap.String("name", view.Name))
	return nil
}

// ArchiveRow lays out view in ArchiveHeader order.
func ArchiveRow(view models.CycleView) []any {
	end := ""
	if view.EndDate != nil {
		end = view.EndDate.Format(dateLayout)
	}
	return []any{
		view.ID,
		view.Name,
		view.StartDate.Format(dateLayout),
		end,
		view.Age,
		view.DOC,
		view.Mortality,
		view.LiveBirds,
		fmt.Sprintf("%.2f", view.InputFeed),
		fmt.Sprintf("%.2f", view.Intake),
		fmt.Sprintf("%.3f", view.FeedPerBird),
	}
}
