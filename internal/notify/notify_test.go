package notify

import (
	"bytes"
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestRenderBudgetAlert(t *testing.T) {
	html, err := RenderBudgetAlert(BudgetAlertData{
		UserName:       "Ada <script>",
		AccountName:    "Checking",
		PercentageUsed: dec("85.04"),
		BudgetAmount:   dec("1000"),
		TotalExpenses:  dec("850.4"),
	})
	require.NoError(t, err)

	assert.Contains(t, html, "Hello Ada &lt;script&gt;,")
	assert.Contains(t, html, "85.0% of your monthly budget for Checking")
	assert.Contains(t, html, "$1000.00")
	assert.Contains(t, html, "$850.40")
	assert.Contains(t, html, "$149.60")
	assert.Equal(t, "Budget Alert for Checking", BudgetAlertSubject("Checking"))
}

func TestRenderMonthlyReport(t *testing.T) {
	html, err := RenderMonthlyReport(MonthlyReportData{
		UserName:      "Ada",
		Month:         "February 2024",
		TotalIncome:   dec("3000"),
		TotalExpenses: dec("1200.5"),
		Net:           dec("1799.5"),
		Categories: SortedCategories(map[string]decimal.Decimal{
			"food":    dec("200.5"),
			"housing": dec("1000"),
		}),
		Insights: []string{"Spend less on takeout."},
	})
	require.NoError(t, err)

	assert.Contains(t, html, "summary for February 2024")
	assert.Contains(t, html, "$1799.50")
	assert.Contains(t, html, "<li>Spend less on takeout.</li>")
	assert.Less(t, bytes.Index([]byte(html), []byte("housing")), bytes.Index([]byte(html), []byte("food")))
	assert.Equal(t, "Your Monthly Financial Report - February 2024", MonthlyReportSubject("February 2024"))
}

func TestRenderMonthlyReport_NoInsights(t *testing.T) {
	html, err := RenderMonthlyReport(MonthlyReportData{UserName: "Ada", Month: "March 2024"})
	require.NoError(t, err)
	assert.NotContains(t, html, "Financial Insights")
	assert.NotContains(t, html, "Expenses by Category")
}

func TestSortedCategories_TieBreaksByName(t *testing.T) {
	got := SortedCategories(map[string]decimal.Decimal{"b": dec("5"), "a": dec("5"), "c": dec("9")})
	require.Len(t, got, 3)
	assert.Equal(t, []string{"c", "a", "b"}, []string{got[0].Category, got[1].Category, got[2].Category})
}

func TestLogSender(t *testing.T) {
	buf := &bytes.Buffer{}
	s := &LogSender{Log: zerolog.New(buf)}

	err := s.Send(context.Background(), Message{To: "ada@example.com", Subject: "Budget Alert for Checking", Tag: TagBudgetAlert})
	require.NoError(t, err)
	assert.Contains(t, buf.String(), `"to":"ada@example.com"`)
	assert.Contains(t, buf.String(), `"tag":"budget-alert"`)
}
