package domain

import (
	"time"

	"cloud.google.com/go/civil"
	"github.com/shopspring/decimal"
)

// TransactionType distinguishes money coming in from money going out.
type TransactionType string

const (
	// TypeIncome increases the owning account's balance.
	TypeIncome TransactionType = "INCOME"
	// TypeExpense decreases the owning account's balance.
	TypeExpense TransactionType = "EXPENSE"
)

// TransactionStatus is the lifecycle state of a transaction.
type TransactionStatus string

const (
	StatusPending   TransactionStatus = "PENDING"
	StatusCompleted TransactionStatus = "COMPLETED"
	StatusFailed    TransactionStatus = "FAILED"
)

// Interval is the recurrence period of a recurring transaction.
type Interval string

const (
	IntervalDaily   Interval = "DAILY"
	IntervalWeekly  Interval = "WEEKLY"
	IntervalMonthly Interval = "MONTHLY"
	IntervalYearly  Interval = "YEARLY"
)

// OccurrenceSuffix is appended to the description of generated occurrences.
const OccurrenceSuffix = " (Recurring)"

// Transaction is a single income or expense record. A recurring transaction acts
// as the template from which occurrences are generated on each due date.
type Transaction struct {
	ID          string          `json:"id"`
	Type        TransactionType `json:"type"`
	Amount      decimal.Decimal `json:"amount"`
	Description string          `json:"description"`
	Date        time.Time       `json:"date"`
	Category    string          `json:"category"`
	UserID      string          `json:"user_id"`
	AccountID   string          `json:"account_id"`

	IsRecurring       bool        `json:"is_recurring"`
	RecurringInterval *Interval   `json:"recurring_interval,omitempty"`
	NextRecurringDate *civil.Date `json:"next_recurring_date,omitempty"`
	LastProcessedAt   *time.Time  `json:"last_processed_at,omitempty"`

	Status    TransactionStatus `json:"status"`
	CreatedAt time.Time         `json:"created_at"`
	UpdatedAt time.Time         `json:"updated_at"`
}

// BalanceChange returns the signed amount this transaction applies to its account.
func (t *Transaction) BalanceChange() decimal.Decimal {
	if t.Type == TypeExpense {
		return t.Amount.Neg()
	}
	return t.Amount
}

// IsDue reports whether a recurring transaction should spawn an occurrence at now.
// A transaction that was never processed is always due.
func (t *Transaction) IsDue(now time.Time) bool {
	if !t.IsRecurring {
		return false
	}
	if t.LastProcessedAt == nil {
		return true
	}
	if t.NextRecurringDate == nil {
		return false
	}
	return !t.NextRecurringDate.After(civil.DateOf(now))
}

// Occurrence builds the one-time transaction generated from t at now.
// The caller assigns the ID.
func (t *Transaction) Occurrence(now time.Time) Transaction {
	return Transaction{
		Type:        t.Type,
		Amount:      t.Amount,
		Description: t.Description + OccurrenceSuffix,
		Date:        now,
		Category:    t.Category,
		UserID:      t.UserID,
		AccountID:   t.AccountID,
		IsRecurring: false,
		Status:      StatusCompleted,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}
