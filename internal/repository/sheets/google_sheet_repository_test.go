package sheets

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"

	"github.com/mamadbah2/poultrydesk/internal/config"
	"github.com/mamadbah2/poultrydesk/internal/domain/models"
)

type memorySheet struct {
	rows    [][]any
	readErr error
}

func (m *memorySheet) WriteRow(_ context.Context, _ string, values []any) error {
	m.rows = append(m.rows, values)
	return nil
}

func (m *memorySheet) ReadRange(_ context.Context, _ string) ([][]any, error) {
	return m.rows, m.readErr
}

func archivedView() models.CycleView {
	end := time.Date(2026, 4, 20, 10, 0, 0, 0, time.UTC)
	return models.CycleView{
		ID:          "c-1",
		Name:        "shed a",
		Status:      models.CycleArchived,
		StartDate:   time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC),
		EndDate:     &end,
		Age:         45,
		DOC:         1000,
		Mortality:   40,
		LiveBirds:   960,
		InputFeed:   120,
		Intake:      115.5,
		FeedPerBird: 6.015625,
	}
}

func TestArchiveExporterWritesHeaderThenRow(t *testing.T) {
	sheet := &memorySheet{}
	exp := NewArchiveExporter(sheet, "Archive!A:K", nil)

	require.NoError(t, exp.ExportArchivedCycle(context.Background(), archivedView()))

	require.Len(t, sheet.rows, 2)
	assert.Equal(t, ArchiveHeader, sheet.rows[0])
	assert.Equal(t, []any{"c-1", "shed a", "2026-03-01", "2026-04-20", 45, 1000, 40, 960, "120.00", "115.50", "6.016"}, sheet.rows[1])
}

func TestArchiveExporterSkipsDuplicates(t *testing.T) {
	sheet := &memorySheet{}
	exp := NewArchiveExporter(sheet, "Archive!A:K", nil)

	require.NoError(t, exp.ExportArchivedCycle(context.Background(), archivedView()))
	require.NoError(t, exp.ExportArchivedCycle(context.Background(), archivedView()))

	assert.Len(t, sheet.rows, 2)
}

func TestArchiveExporterReadFailure(t *testing.T) {
	sheet := &memorySheet{readErr: errors.New("quota")}
	exp := NewArchiveExporter(sheet, "Archive!A:K", nil)

	assert.Error(t, exp.ExportArchivedCycle(context.Background(), archivedView()))
	assert.Empty(t, sheet.rows)
}

func TestGoogleSheetRepositoryAgainstFakeAPI(t *testing.T) {
	var appended [][]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.True(t, strings.HasPrefix(r.URL.Path, "/v4/spreadsheets/sheet-1/values/"), r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		switch {
		case r.Method == http.MethodPost && strings.HasSuffix(r.URL.Path, ":append"):
			var body struct {
				Values [][]any `json:"values"`
			}
			require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			assert.Equal(t, "USER_ENTERED", r.URL.Query().Get("valueInputOption"))
			appended = append(appended, body.Values...)
			_, _ = w.Write([]byte(`{"spreadsheetId":"sheet-1"}`))
		case r.Method == http.MethodGet:
			_, _ = w.Write([]byte(`{"range":"Archive!A1:K2","values":[["Cycle ID"],["c-9"]]}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	repo, err := NewGoogleSheetRepository(context.Background(),
		config.SheetsConfig{SpreadsheetID: "sheet-1"}, nil,
		option.WithEndpoint(srv.URL+"/"),
		option.WithoutAuthentication(),
		option.WithHTTPClient(srv.Client()),
	)
	require.NoError(t, err)

	rows, err := repo.ReadRange(context.Background(), "Archive!A:K")
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "c-9", rows[1][0])

	require.NoError(t, repo.WriteRow(context.Background(), "Archive!A:K", []any{"c-10", "shed"}))
	require.Len(t, appended, 1)
	assert.Equal(t, []any{"c-10", "shed"}, appended[0])

	assert.Error(t, repo.WriteRow(context.Background(), "", nil))
}
