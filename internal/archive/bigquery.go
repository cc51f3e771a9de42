package archive

import (
	"context"
	"fmt"
	"math/big"
	"sort"
	"time"

	"cloud.google.com/go/bigquery"
	"cloud.google.com/go/civil"
	"github.com/shopspring/decimal"
	"google.golang.org/api/iterator"

	"github.com/dvloznov/finance-scheduler/internal/domain"
)

// ReportRow is one monthly report in the BigQuery reports table.
type ReportRow struct {
	ReportID  string     `bigquery:"report_id"`  // REQUIRED
	UserID    string     `bigquery:"user_id"`    // REQUIRED
	UserEmail string     `bigquery:"user_email"` // NULLABLE
	Period    civil.Date `bigquery:"period"`     // REQUIRED, first day of the month

	TotalIncome   *big.Rat `bigquery:"total_income"`   // REQUIRED NUMERIC
	TotalExpenses *big.Rat `bigquery:"total_expenses"` // REQUIRED NUMERIC
	Net           *big.Rat `bigquery:"net"`            // REQUIRED NUMERIC

	TransactionCount int64 `bigquery:"transaction_count"`

	Categories []CategoryRow `bigquery:"categories"` // REPEATED RECORD
	Insights   []string      `bigquery:"insights"`   // REPEATED STRING

	GeneratedTS time.Time `bigquery:"generated_ts"`
}

// CategoryRow is one entry of ReportRow.Categories.
type CategoryRow struct {
	Category string   `bigquery:"category"`
	Amount   *big.Rat `bigquery:"amount"`
}

// BigQuerySink streams reports into a BigQuery table and reads them back.
type BigQuerySink struct {
	client  *bigquery.Client
	project string
	dataset string
	table   string
}

var _ Sink = (*BigQuerySink)(nil)

// NewBigQuerySink creates a BigQuery client for project.
func NewBigQuerySink(ctx context.Context, project, dataset, table string) (*BigQuerySink, error) {
	client, err := bigquery.NewClient(ctx, project)
	if err != nil {
		return nil, fmt.Errorf("NewBigQuerySink: creating client: %w", err)
	}
	return &BigQuerySink{client: client, project: project, dataset: dataset, table: table}, nil
}

// Close closes the BigQuery client connection.
func (s *BigQuerySink) Close() error {
	if s.client != nil {
		return s.client.Close()
	}
	return nil
}

func (s *BigQuerySink) Put(ctx context.Context, report *domain.MonthlyReport, _ string) error {
	inserter := s.client.DatasetInProject(s.project, s.dataset).Table(s.table).Inserter()
	if err := inserter.Put(ctx, ToReportRow(report)); err != nil {
		return fmt.Errorf("BigQuerySink.Put: inserting row: %w", err)
	}
	return nil
}

// History returns a user's archived reports, newest first.
func (s *BigQuerySink) History(ctx context.Context, userID string, limit int) ([]*ReportRow, error) {
	if limit <= 0 {
		limit = 12
	}
	q := s.client.Query(fmt.Sprintf(`
		SELECT report_id, user_id, user_email, period, total_income, total_expenses, net,
		       transaction_count, categories, insights, generated_ts
		FROM `+"`%s.%s.%s`"+`
		WHERE user_id = @user_id
		ORDER BY period DESC, generated_ts DESC
		LIMIT @limit
	`, s.project, s.dataset, s.table))
	q.Parameters = []bigquery.QueryParameter{
		{Name: "user_id", Value: userID},
		{Name: "limit", Value: limit},
	}

	it, err := q.Read(ctx)
	if err != nil {
		return nil, fmt.Errorf("History: query read: %w", err)
	}

	var rows []*ReportRow
	for {
		var r ReportRow
		err := it.Next(&r)
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("History: iterating rows: %w", err)
		}
		rows = append(rows, &r)
	}
	return rows, nil
}

// ToReportRow maps a report to its BigQuery row.
func ToReportRow(report *domain.MonthlyReport) *ReportRow {
	cats := make([]CategoryRow, 0, len(report.Stats.ByCategory))
	for c, a := range report.Stats.ByCategory {
		cats = append(cats, CategoryRow{Category: c, Amount: a.Rat()})
	}
	sort.Slice(cats, func(i, j int) bool { return cats[i].Category < cats[j].Category })

	return &ReportRow{
		ReportID:         report.ID,
		UserID:           report.User.ID,
		UserEmail:        report.User.Email,
		Period:           report.Stats.Period,
		TotalIncome:      report.Stats.TotalIncome.Rat(),
		TotalExpenses:    report.Stats.TotalExpenses.Rat(),
		Net:              report.Stats.Net().Rat(),
		TransactionCount: int64(report.Stats.TransactionCount),
		Categories:       cats,
		Insights:         report.Insights,
		GeneratedTS:      report.GeneratedAt,
	}
}

// Stats maps a row back to the statistics it was built from.
func (r *ReportRow) Stats() domain.MonthlyStats {
	stats := domain.MonthlyStats{
		Period:           r.Period,
		TotalIncome:      ratToDecimal(r.TotalIncome),
		TotalExpenses:    ratToDecimal(r.TotalExpenses),
		ByCategory:       make(map[string]decimal.Decimal, len(r.Categories)),
		TransactionCount: int(r.TransactionCount),
	}
	for _, c := range r.Categories {
		stats.ByCategory[c.Category] = ratToDecimal(c.Amount)
	}
	return stats
}

func ratToDecimal(r *big.Rat) decimal.Decimal {
	if r == nil {
		return decimal.Zero
	}
	return decimal.NewFromBigRat(r, 2)
}
