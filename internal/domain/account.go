package domain

import (
	"time"

	"cloud.google.com/go/civil"
	"github.com/shopspring/decimal"
)

// User owns accounts, transactions and budgets.
type User struct {
	ID    string `json:"id"`
	Email string `json:"email"`
	Name  string `json:"name"`
}

// Account holds a running balance. At most one account per user is the default.
type Account struct {
	ID        string          `json:"id"`
	UserID    string          `json:"user_id"`
	Name      string          `json:"name"`
	Balance   decimal.Decimal `json:"balance"`
	IsDefault bool            `json:"is_default"`
}

// Budget is a user's monthly spending target.
type Budget struct {
	ID            string          `json:"id"`
	UserID        string          `json:"user_id"`
	Amount        decimal.Decimal `json:"amount"`
	LastAlertSent *time.Time      `json:"last_alert_sent,omitempty"`
}

// AlertedInMonthOf reports whether an alert was already sent in the calendar month of now.
func (b *Budget) AlertedInMonthOf(now time.Time) bool {
	if b.LastAlertSent == nil {
		return false
	}
	last := b.LastAlertSent.In(now.Location())
	return last.Year() == now.Year() && last.Month() == now.Month()
}

// BudgetOwner is a budget joined with its user and that user's default account.
// DefaultAccount is nil when the user has none.
type BudgetOwner struct {
	Budget         Budget
	User           User
	DefaultAccount *Account
}

// MonthlyStats aggregates one user's transactions over a calendar month.
type MonthlyStats struct {
	Period           civil.Date                 `json:"period"`
	TotalIncome      decimal.Decimal            `json:"total_income"`
	TotalExpenses    decimal.Decimal            `json:"total_expenses"`
	ByCategory       map[string]decimal.Decimal `json:"by_category"`
	TransactionCount int                        `json:"transaction_count"`
}

// Net is income minus expenses.
func (s MonthlyStats) Net() decimal.Decimal {
	return s.TotalIncome.Sub(s.TotalExpenses)
}

// MonthlyReport is the summary mailed to a user at the start of each month.
type MonthlyReport struct {
	ID          string       `json:"id"`
	User        User         `json:"user"`
	Stats       MonthlyStats `json:"stats"`
	Insights    []string     `json:"insights"`
	GeneratedAt time.Time    `json:"generated_at"`
}

// MonthBounds returns the first instant of t's month and the first instant of the next month.
func MonthBounds(t time.Time) (start, end time.Time) {
	start = time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, t.Location())
	return start, start.AddDate(0, 1, 0)
}
