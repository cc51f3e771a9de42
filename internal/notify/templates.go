package notify

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"
	"sort"

	"github.com/shopspring/decimal"
)

//go:embed templates/*.html
var templateFS embed.FS

var templates = template.Must(template.ParseFS(templateFS, "templates/*.html"))

// Template tags.
const (
	TagBudgetAlert   = "budget-alert"
	TagMonthlyReport = "monthly-report"
)

// BudgetAlertData fills the budget-alert template.
type BudgetAlertData struct {
	UserName       string
	AccountName    string
	PercentageUsed decimal.Decimal
	BudgetAmount   decimal.Decimal
	TotalExpenses  decimal.Decimal
}

// Remaining is the unspent part of the budget, negative when overspent.
func (d BudgetAlertData) Remaining() decimal.Decimal {
	return d.BudgetAmount.Sub(d.TotalExpenses)
}

// BudgetAlertSubject is the subject line for an alert on accountName.
func BudgetAlertSubject(accountName string) string {
	return "Budget Alert for " + accountName
}

// CategoryAmount is one row of the spending breakdown.
type CategoryAmount struct {
	Category string
	Amount   decimal.Decimal
}

// MonthlyReportData fills the monthly-report template.
type MonthlyReportData struct {
	UserName      string
	Month         string // e.g. "February 2024"
	TotalIncome   decimal.Decimal
	TotalExpenses decimal.Decimal
	Net           decimal.Decimal
	Categories    []CategoryAmount
	Insights      []string
}

// MonthlyReportSubject is the subject line for the report covering month.
func MonthlyReportSubject(month string) string {
	return "Your Monthly Financial Report - " + month
}

// SortedCategories orders a category breakdown by amount, largest first.
func SortedCategories(by map[string]decimal.Decimal) []CategoryAmount {
	out := make([]CategoryAmount, 0, len(by))
	for c, a := range by {
		out = append(out, CategoryAmount{Category: c, Amount: a})
	}
	sort.Slice(out, func(i, j int) bool {
		if cmp := out[i].Amount.Cmp(out[j].Amount); cmp != 0 {
			return cmp > 0
		}
		return out[i].Category < out[j].Category
	})
	return out
}

// RenderBudgetAlert renders the budget-alert email body.
func RenderBudgetAlert(data BudgetAlertData) (string, error) {
	return render(TagBudgetAlert+".html", data)
}

// RenderMonthlyReport renders the monthly-report email body.
func RenderMonthlyReport(data MonthlyReportData) (string, error) {
	return render(TagMonthlyReport+".html", data)
}

func render(name string, data any) (string, error) {
	var buf bytes.Buffer
	if err := templates.ExecuteTemplate(&buf, name, data); err != nil {
		return "", fmt.Errorf("rendering %s: %w", name, err)
	}
	return buf.String(), nil
}
