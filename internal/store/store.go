// Package store defines the persistence contract used by the scheduler.
package store

import (
	"context"
	"errors"
	"time"

	"cloud.google.com/go/civil"
	"github.com/shopspring/decimal"

	"github.com/dvloznov/finance-scheduler/internal/domain"
)

// ErrNotFound is returned when a scoped lookup matches no row.
var ErrNotFound = errors.New("not found")

// Store provides the reads and writes needed by the recurring transaction,
// budget alert and monthly report jobs.
type Store interface {
	// FindDueRecurring returns recurring COMPLETED transactions that were never
	// processed or whose next recurring date is on or before now.
	FindDueRecurring(ctx context.Context, now time.Time) ([]domain.Transaction, error)

	// GetTransactionForUser loads a transaction by id scoped to its owner.
	GetTransactionForUser(ctx context.Context, id, userID string) (*domain.Transaction, error)

	// WithinTx runs fn inside a database transaction. The transaction commits
	// when fn returns nil and rolls back otherwise.
	WithinTx(ctx context.Context, fn func(tx Tx) error) error

	// ListBudgetOwners returns every budget with its user and default account.
	ListBudgetOwners(ctx context.Context) ([]domain.BudgetOwner, error)

	// SumExpenses sums EXPENSE amounts for an account in [from, to).
	SumExpenses(ctx context.Context, userID, accountID string, from, to time.Time) (decimal.Decimal, error)

	// ClaimBudgetAlert atomically records an alert at the given time unless one
	// is already recorded in the same calendar month (in at's location). It
	// reports whether this call made the claim.
	ClaimBudgetAlert(ctx context.Context, budgetID string, at time.Time) (bool, error)

	// ReleaseBudgetAlert restores previous when the recorded alert time is still
	// at, undoing a claim whose email was never delivered.
	ReleaseBudgetAlert(ctx context.Context, budgetID string, at time.Time, previous *time.Time) error

	// ListUsers returns every user.
	ListUsers(ctx context.Context) ([]domain.User, error)

	// MonthlyStats aggregates a user's transactions in [from, to).
	MonthlyStats(ctx context.Context, userID string, from, to time.Time) (domain.MonthlyStats, error)

	// Close releases the underlying resources.
	Close() error
}

// Tx is the write surface of a single atomic unit.
type Tx interface {
	// LockTransactionForUser loads a transaction scoped to its owner and holds it
	// against concurrent modification until the transaction ends.
	LockTransactionForUser(ctx context.Context, id, userID string) (*domain.Transaction, error)

	// InsertTransaction stores t. An empty ID is assigned by the store.
	InsertTransaction(ctx context.Context, t *domain.Transaction) error

	// IncrementAccountBalance adds delta (which may be negative) to the account balance.
	IncrementAccountBalance(ctx context.Context, accountID string, delta decimal.Decimal) error

	// UpdateRecurringSchedule sets the scheduling fields of a recurring transaction.
	UpdateRecurringSchedule(ctx context.Context, id string, lastProcessedAt time.Time, next civil.Date) error
}
