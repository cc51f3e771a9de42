// Package inmemory is a map-backed store.Store for tests and local runs.
package inmemory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"cloud.google.com/go/civil"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/dvloznov/finance-scheduler/internal/domain"
	"github.com/dvloznov/finance-scheduler/internal/store"
)

// Store keeps every entity in maps guarded by one mutex. WithinTx holds the
// mutex for the whole unit and applies staged writes only on commit.
type Store struct {
	mu           sync.RWMutex
	users        map[string]domain.User
	accounts     map[string]domain.Account
	transactions map[string]domain.Transaction
	budgets      map[string]domain.Budget
}

var _ store.Store = (*Store)(nil)

// New returns an empty store.
func New() *Store {
	return &Store{
		users:        make(map[string]domain.User),
		accounts:     make(map[string]domain.Account),
		transactions: make(map[string]domain.Transaction),
		budgets:      make(map[string]domain.Budget),
	}
}

// PutUser inserts or replaces a user.
func (s *Store) PutUser(u domain.User) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[u.ID] = u
}

// PutAccount inserts or replaces an account.
func (s *Store) PutAccount(a domain.Account) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.accounts[a.ID] = a
}

// PutTransaction inserts or replaces a transaction, assigning an ID when empty.
func (s *Store) PutTransaction(t domain.Transaction) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	s.transactions[t.ID] = t
	return t.ID
}

// PutBudget inserts or replaces a budget.
func (s *Store) PutBudget(b domain.Budget) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.budgets[b.ID] = b
}

// Account returns a copy of the account with the given id.
func (s *Store) Account(id string) (domain.Account, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.accounts[id]
	return a, ok
}

// Budget returns a copy of the budget with the given id.
func (s *Store) Budget(id string) (domain.Budget, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.budgets[id]
	return b, ok
}

// Transaction returns a copy of the transaction with the given id.
func (s *Store) Transaction(id string) (domain.Transaction, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.transactions[id]
	return t, ok
}

// Transactions returns every transaction owned by userID, oldest first.
func (s *Store) Transactions(userID string) []domain.Transaction {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.Transaction
	for _, t := range s.transactions {
		if t.UserID == userID {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

func (s *Store) FindDueRecurring(_ context.Context, now time.Time) ([]domain.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var due []domain.Transaction
	for _, t := range s.transactions {
		if t.Status == domain.StatusCompleted && t.IsDue(now) {
			due = append(due, t)
		}
	}
	sort.Slice(due, func(i, j int) bool { return due[i].ID < due[j].ID })
	return due, nil
}

func (s *Store) GetTransactionForUser(_ context.Context, id, userID string) (*domain.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lookup(id, userID)
}

func (s *Store) lookup(id, userID string) (*domain.Transaction, error) {
	t, ok := s.transactions[id]
	if !ok || t.UserID != userID {
		return nil, fmt.Errorf("transaction %s: %w", id, store.ErrNotFound)
	}
	return &t, nil
}

func (s *Store) WithinTx(ctx context.Context, fn func(tx store.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &memTx{s: s}
	if err := fn(tx); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	for _, op := range tx.ops {
		op()
	}
	return nil
}

func (s *Store) ListBudgetOwners(_ context.Context) ([]domain.BudgetOwner, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var owners []domain.BudgetOwner
	for _, b := range s.budgets {
		u, ok := s.users[b.UserID]
		if !ok {
			continue
		}
		owner := domain.BudgetOwner{Budget: b, User: u}
		for _, a := range s.accounts {
			if a.UserID == b.UserID && a.IsDefault {
				acc := a
				owner.DefaultAccount = &acc
				break
			}
		}
		owners = append(owners, owner)
	}
	sort.Slice(owners, func(i, j int) bool { return owners[i].Budget.ID < owners[j].Budget.ID })
	return owners, nil
}

func (s *Store) SumExpenses(_ context.Context, userID, accountID string, from, to time.Time) (decimal.Decimal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sum := decimal.Zero
	for _, t := range s.transactions {
		if t.UserID != userID || t.AccountID != accountID || t.Type != domain.TypeExpense {
			continue
		}
		if t.Date.Before(from) || !t.Date.Before(to) {
			continue
		}
		sum = sum.Add(t.Amount)
	}
	return sum, nil
}

func (s *Store) ClaimBudgetAlert(_ context.Context, budgetID string, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, ok := s.budgets[budgetID]
	if !ok {
		return false, fmt.Errorf("budget %s: %w", budgetID, store.ErrNotFound)
	}
	if b.AlertedInMonthOf(at) {
		return false, nil
	}
	b.LastAlertSent = &at
	s.budgets[budgetID] = b
	return true, nil
}

func (s *Store) ReleaseBudgetAlert(_ context.Context, budgetID string, at time.Time, previous *time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, ok := s.budgets[budgetID]
	if !ok {
		return fmt.Errorf("budget %s: %w", budgetID, store.ErrNotFound)
	}
	if b.LastAlertSent == nil || !b.LastAlertSent.Equal(at) {
		return nil
	}
	b.LastAlertSent = previous
	s.budgets[budgetID] = b
	return nil
}

func (s *Store) ListUsers(_ context.Context) ([]domain.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	users := make([]domain.User, 0, len(s.users))
	for _, u := range s.users {
		users = append(users, u)
	}
	sort.Slice(users, func(i, j int) bool { return users[i].ID < users[j].ID })
	return users, nil
}

func (s *Store) MonthlyStats(_ context.Context, userID string, from, to time.Time) (domain.MonthlyStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := domain.MonthlyStats{
		Period:        civil.DateOf(from),
		TotalIncome:   decimal.Zero,
		TotalExpenses: decimal.Zero,
		ByCategory:    make(map[string]decimal.Decimal),
	}
	for _, t := range s.transactions {
		if t.UserID != userID || t.Date.Before(from) || !t.Date.Before(to) {
			continue
		}
		stats.TransactionCount++
		if t.Type == domain.TypeExpense {
			stats.TotalExpenses = stats.TotalExpenses.Add(t.Amount)
			stats.ByCategory[t.Category] = stats.ByCategory[t.Category].Add(t.Amount)
		} else {
			stats.TotalIncome = stats.TotalIncome.Add(t.Amount)
		}
	}
	return stats, nil
}

func (s *Store) Close() error { return nil }

// memTx reads committed state and stages writes. Reads within the same unit do
// not observe staged writes, which matches how the processor uses a transaction.
type memTx struct {
	s   *Store
	ops []func()
}

func (tx *memTx) LockTransactionForUser(_ context.Context, id, userID string) (*domain.Transaction, error) {
	return tx.s.lookup(id, userID)
}

func (tx *memTx) InsertTransaction(_ context.Context, t *domain.Transaction) error {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	if _, exists := tx.s.transactions[t.ID]; exists {
		return fmt.Errorf("transaction %s already exists", t.ID)
	}
	row := *t
	tx.ops = append(tx.ops, func() { tx.s.transactions[row.ID] = row })
	return nil
}

func (tx *memTx) IncrementAccountBalance(_ context.Context, accountID string, delta decimal.Decimal) error {
	if _, ok := tx.s.accounts[accountID]; !ok {
		return fmt.Errorf("account %s: %w", accountID, store.ErrNotFound)
	}
	tx.ops = append(tx.ops, func() {
		a := tx.s.accounts[accountID]
		a.Balance = a.Balance.Add(delta)
		tx.s.accounts[accountID] = a
	})
	return nil
}

func (tx *memTx) UpdateRecurringSchedule(_ context.Context, id string, lastProcessedAt time.Time, next civil.Date) error {
	if _, ok := tx.s.transactions[id]; !ok {
		return fmt.Errorf("transaction %s: %w", id, store.ErrNotFound)
	}
	tx.ops = append(tx.ops, func() {
		t := tx.s.transactions[id]
		t.LastProcessedAt = &lastProcessedAt
		t.NextRecurringDate = &next
		t.UpdatedAt = lastProcessedAt
		tx.s.transactions[id] = t
	})
	return nil
}
