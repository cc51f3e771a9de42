package postgres

import (
	"context"
	"errors"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"cloud.google.com/go/civil"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dvloznov/finance-scheduler/internal/domain"
	"github.com/dvloznov/finance-scheduler/internal/store"
)

// openTestStore connects to TEST_DATABASE_URL, applies the schema and returns a
// store plus a fresh user id. Tests are skipped when the variable is unset.
func openTestStore(t *testing.T) (*Store, string, string) {
	t.Helper()
	url := os.Getenv("TEST_DATABASE_URL")
	if url == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}
	ctx := context.Background()

	s, err := Open(ctx, url, 2)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	schema, err := os.ReadFile("../../../migrations/postgres/0001_init.sql")
	require.NoError(t, err)
	_, err = s.Pool().Exec(ctx, string(schema))
	require.NoError(t, err)

	userID := uuid.NewString()
	accountID := uuid.NewString()
	_, err = s.Pool().Exec(ctx, `INSERT INTO users (id, email, name) VALUES ($1, $2, 'Test')`, userID, userID+"@example.com")
	require.NoError(t, err)
	_, err = s.Pool().Exec(ctx, `INSERT INTO accounts (id, user_id, name, balance, is_default) VALUES ($1, $2, 'Main', 0, TRUE)`, accountID, userID)
	require.NoError(t, err)
	t.Cleanup(func() {
		_, _ = s.Pool().Exec(context.Background(), `DELETE FROM users WHERE id = $1`, userID)
	})
	return s, userID, accountID
}

func TestProcessOccurrenceRoundTrip(t *testing.T) {
	s, userID, accountID := openTestStore(t)
	ctx := context.Background()

	interval := domain.IntervalMonthly
	next := civil.Date{Year: 2024, Month: 1, Day: 1}
	now := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)
	tmpl := domain.Transaction{
		Type: domain.TypeExpense, Amount: decimal.RequireFromString("50.00"), Description: "Rent",
		Date: now.AddDate(0, -1, 0), Category: "housing", UserID: userID, AccountID: accountID,
		IsRecurring: true, RecurringInterval: &interval, NextRecurringDate: &next,
		Status: domain.StatusCompleted, CreatedAt: now, UpdatedAt: now,
	}
	require.NoError(t, s.WithinTx(ctx, func(tx store.Tx) error { return tx.InsertTransaction(ctx, &tmpl) }))

	due, err := s.FindDueRecurring(ctx, now)
	require.NoError(t, err)
	var found bool
	for _, d := range due {
		found = found || d.ID == tmpl.ID
	}
	assert.True(t, found)

	_, err = s.GetTransactionForUser(ctx, tmpl.ID, uuid.NewString())
	assert.ErrorIs(t, err, store.ErrNotFound)

	newNext := civil.Date{Year: 2024, Month: 2, Day: 1}
	err = s.WithinTx(ctx, func(tx store.Tx) error {
		locked, err := tx.LockTransactionForUser(ctx, tmpl.ID, userID)
		if err != nil {
			return err
		}
		occ := locked.Occurrence(now)
		if err := tx.InsertTransaction(ctx, &occ); err != nil {
			return err
		}
		if err := tx.IncrementAccountBalance(ctx, accountID, locked.BalanceChange()); err != nil {
			return err
		}
		return tx.UpdateRecurringSchedule(ctx, locked.ID, now, newNext)
	})
	require.NoError(t, err)

	got, err := s.GetTransactionForUser(ctx, tmpl.ID, userID)
	require.NoError(t, err)
	require.NotNil(t, got.NextRecurringDate)
	assert.Equal(t, newNext, *got.NextRecurringDate)
	require.NotNil(t, got.RecurringInterval)
	assert.Equal(t, domain.IntervalMonthly, *got.RecurringInterval)

	var balance decimal.Decimal
	require.NoError(t, s.Pool().QueryRow(ctx, `SELECT balance FROM accounts WHERE id = $1`, accountID).Scan(&balance))
	assert.True(t, balance.Equal(decimal.RequireFromString("-50.00")), balance.String())

	from, to := domain.MonthBounds(now)
	sum, err := s.SumExpenses(ctx, userID, accountID, from, to)
	require.NoError(t, err)
	assert.True(t, sum.Equal(decimal.RequireFromString("50.00")), sum.String())
}

func TestWithinTx_RollsBack(t *testing.T) {
	s, userID, accountID := openTestStore(t)
	ctx := context.Background()

	boom := errors.New("boom")
	err := s.WithinTx(ctx, func(tx store.Tx) error {
		if err := tx.IncrementAccountBalance(ctx, accountID, decimal.NewFromInt(100)); err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)

	var balance decimal.Decimal
	require.NoError(t, s.Pool().QueryRow(ctx, `SELECT balance FROM accounts WHERE id = $1 AND user_id = $2`, accountID, userID).Scan(&balance))
	assert.True(t, balance.IsZero())
}

func TestBudgetOwners(t *testing.T) {
	s, userID, accountID := openTestStore(t)
	ctx := context.Background()

	budgetID := uuid.NewString()
	_, err := s.Pool().Exec(ctx, `INSERT INTO budgets (id, user_id, amount) VALUES ($1, $2, 1000)`, budgetID, userID)
	require.NoError(t, err)

	owners, err := s.ListBudgetOwners(ctx)
	require.NoError(t, err)
	var mine *domain.BudgetOwner
	for i := range owners {
		if owners[i].Budget.ID == budgetID {
			mine = &owners[i]
		}
	}
	require.NotNil(t, mine)
	require.NotNil(t, mine.DefaultAccount)
	assert.Equal(t, accountID, mine.DefaultAccount.ID)
	assert.Nil(t, mine.Budget.LastAlertSent)

	at := time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC)
	claimed, err := s.ClaimBudgetAlert(ctx, budgetID, at)
	require.NoError(t, err)
	assert.True(t, claimed)

	claimed, err = s.ClaimBudgetAlert(ctx, budgetID, at.AddDate(0, 0, 10))
	require.NoError(t, err)
	assert.False(t, claimed)

	_, err = s.ClaimBudgetAlert(ctx, uuid.NewString(), at)
	assert.ErrorIs(t, err, store.ErrNotFound)

	require.NoError(t, s.ReleaseBudgetAlert(ctx, budgetID, at, nil))
	claimed, err = s.ClaimBudgetAlert(ctx, budgetID, at.AddDate(0, 0, 10))
	require.NoError(t, err)
	assert.True(t, claimed)
	claimed, err = s.ClaimBudgetAlert(ctx, budgetID, at.AddDate(0, 1, 0))
	require.NoError(t, err)
	assert.True(t, claimed, "a new month can be claimed")
}

func TestClaimBudgetAlert_Concurrent(t *testing.T) {
	s, userID, _ := openTestStore(t)
	ctx := context.Background()

	budgetID := uuid.NewString()
	_, err := s.Pool().Exec(ctx, `INSERT INTO budgets (id, user_id, amount) VALUES ($1, $2, 1000)`, budgetID, userID)
	require.NoError(t, err)

	at := time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC)
	var claims atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := s.ClaimBudgetAlert(ctx, budgetID, at)
			assert.NoError(t, err)
			if ok {
				claims.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.EqualValues(t, 1, claims.Load())
}
