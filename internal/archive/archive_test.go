package archive

import (
	"bytes"
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"cloud.google.com/go/civil"
	"github.com/jomei/notionapi"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dvloznov/finance-scheduler/internal/domain"
)

func sampleReport() *domain.MonthlyReport {
	return &domain.MonthlyReport{
		ID:   "r1",
		User: domain.User{ID: "u1", Email: "ada@example.com", Name: "Ada"},
		Stats: domain.MonthlyStats{
			Period:        civil.Date{Year: 2024, Month: 2, Day: 1},
			TotalIncome:   decimal.RequireFromString("3000.00"),
			TotalExpenses: decimal.RequireFromString("1250.75"),
			ByCategory: map[string]decimal.Decimal{
				"housing": decimal.RequireFromString("1000.00"),
				"food":    decimal.RequireFromString("250.75"),
			},
			TransactionCount: 7,
		},
		Insights:    []string{"one", "two"},
		GeneratedAt: time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC),
	}
}

type sinkFunc func(ctx context.Context, report *domain.MonthlyReport, html string) error

func (f sinkFunc) Put(ctx context.Context, report *domain.MonthlyReport, html string) error {
	return f(ctx, report, html)
}

func TestMulti_ContinuesPastFailures(t *testing.T) {
	var calls []string
	boom := errors.New("boom")
	m := Multi{
		sinkFunc(func(context.Context, *domain.MonthlyReport, string) error { calls = append(calls, "a"); return boom }),
		sinkFunc(func(context.Context, *domain.MonthlyReport, string) error { calls = append(calls, "b"); return nil }),
	}

	err := m.Put(context.Background(), sampleReport(), "<html>")
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, []string{"a", "b"}, calls)

	assert.NoError(t, Multi{}.Put(context.Background(), sampleReport(), ""))
}

func TestReportRowRoundTrip(t *testing.T) {
	report := sampleReport()
	row := ToReportRow(report)

	assert.Equal(t, "r1", row.ReportID)
	assert.Equal(t, "u1", row.UserID)
	assert.Equal(t, civil.Date{Year: 2024, Month: 2, Day: 1}, row.Period)
	assert.Equal(t, "1749.25", row.Net.FloatString(2))
	require.Len(t, row.Categories, 2)
	assert.Equal(t, "food", row.Categories[0].Category)

	stats := row.Stats()
	assert.True(t, stats.TotalIncome.Equal(report.Stats.TotalIncome))
	assert.True(t, stats.TotalExpenses.Equal(report.Stats.TotalExpenses))
	assert.True(t, stats.ByCategory["food"].Equal(decimal.RequireFromString("250.75")))
	assert.Equal(t, 7, stats.TransactionCount)
}

type bufferWriter struct {
	bytes.Buffer
	closed bool
	err    error
}

func (w *bufferWriter) Close() error {
	w.closed = true
	return w.err
}

func TestGCSSink_Put(t *testing.T) {
	w := &bufferWriter{}
	var gotBucket, gotObject string
	s := &GCSSink{
		bucket: "reports",
		prefix: "monthly",
		newWriter: func(_ context.Context, bucket, object string) io.WriteCloser {
			gotBucket, gotObject = bucket, object
			return w
		},
	}

	require.NoError(t, s.Put(context.Background(), sampleReport(), "<h1>hi</h1>"))
	assert.Equal(t, "reports", gotBucket)
	assert.Equal(t, "monthly/u1/2024-02.html", gotObject)
	assert.Equal(t, "<h1>hi</h1>", w.String())
	assert.True(t, w.closed)
}

func TestGCSSink_FinalizeError(t *testing.T) {
	s := &GCSSink{
		bucket: "reports",
		newWriter: func(context.Context, string, string) io.WriteCloser {
			return &bufferWriter{err: errors.New("permission denied")}
		},
	}
	err := s.Put(context.Background(), sampleReport(), "x")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "gs://reports/u1/2024-02.html")
}

type mockPages struct {
	CreatePageFunc func(ctx context.Context, databaseID string, properties notionapi.Properties) (*notionapi.Page, error)
}

func (m *mockPages) CreatePage(ctx context.Context, databaseID string, properties notionapi.Properties) (*notionapi.Page, error) {
	return m.CreatePageFunc(ctx, databaseID, properties)
}

func TestNotionSink_Put(t *testing.T) {
	var gotDB string
	var gotProps notionapi.Properties
	pages := &mockPages{CreatePageFunc: func(_ context.Context, db string, props notionapi.Properties) (*notionapi.Page, error) {
		gotDB, gotProps = db, props
		return &notionapi.Page{}, nil
	}}

	require.NoError(t, NewNotionSink(pages, "db-1").Put(context.Background(), sampleReport(), ""))
	assert.Equal(t, "db-1", gotDB)

	title, ok := gotProps["Report"].(notionapi.TitleProperty)
	require.True(t, ok)
	assert.Equal(t, "ada@example.com 2024-02", title.Title[0].Text.Content)

	net, ok := gotProps["Net"].(notionapi.NumberProperty)
	require.True(t, ok)
	assert.InDelta(t, 1749.25, net.Number, 0.001)

	insights, ok := gotProps["Insights"].(notionapi.RichTextProperty)
	require.True(t, ok)
	assert.Equal(t, "one\ntwo", insights.RichText[0].Text.Content)
}

func TestNotionSink_Error(t *testing.T) {
	pages := &mockPages{CreatePageFunc: func(context.Context, string, notionapi.Properties) (*notionapi.Page, error) {
		return nil, errors.New("rate limited")
	}}
	assert.Error(t, NewNotionSink(pages, "db-1").Put(context.Background(), sampleReport(), ""))
}
