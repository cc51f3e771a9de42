// Package postgres implements store.Store on PostgreSQL with pgx.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"cloud.google.com/go/civil"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/dvloznov/finance-scheduler/internal/domain"
	"github.com/dvloznov/finance-scheduler/internal/store"
)

const transactionColumns = `id, type, amount, description, date, category, user_id, account_id,
	is_recurring, recurring_interval, next_recurring_date, last_processed_at, status, created_at, updated_at`

// Store is a store.Store backed by a pgx connection pool.
type Store struct {
	pool *pgxpool.Pool
}

var _ store.Store = (*Store)(nil)

// Open connects a pool to databaseURL and verifies it with a ping.
func Open(ctx context.Context, databaseURL string, maxConns int32) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parsing database url: %w", err)
	}
	if maxConns > 0 {
		cfg.MaxConns = maxConns
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("creating pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}
	return &Store{pool: pool}, nil
}

// NewFromPool wraps an existing pool.
func NewFromPool(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Pool exposes the underlying pool for migrations and tests.
func (s *Store) Pool() *pgxpool.Pool {
	return s.pool
}

func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

func (s *Store) FindDueRecurring(ctx context.Context, now time.Time) ([]domain.Transaction, error) {
	query := `SELECT ` + transactionColumns + `
		FROM transactions
		WHERE is_recurring
		  AND status = $1
		  AND (last_processed_at IS NULL OR next_recurring_date <= $2)
		ORDER BY id`

	rows, err := s.pool.Query(ctx, query, string(domain.StatusCompleted), toPgDate(civil.DateOf(now)))
	if err != nil {
		return nil, fmt.Errorf("querying due transactions: %w", err)
	}
	defer rows.Close()

	var due []domain.Transaction
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		due = append(due, *t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating due transactions: %w", err)
	}
	return due, nil
}

func (s *Store) GetTransactionForUser(ctx context.Context, id, userID string) (*domain.Transaction, error) {
	query := `SELECT ` + transactionColumns + ` FROM transactions WHERE id = $1 AND user_id = $2`
	return getTransaction(ctx, s.pool, query, id, userID)
}

func (s *Store) WithinTx(ctx context.Context, fn func(tx store.Tx) error) error {
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		return fn(&pgTx{tx: tx})
	})
}

func (s *Store) ListBudgetOwners(ctx context.Context) ([]domain.BudgetOwner, error) {
	query := `
		SELECT b.id, b.user_id, b.amount, b.last_alert_sent,
		       u.email, u.name,
		       a.id, a.name, a.balance
		FROM budgets b
		JOIN users u ON u.id = b.user_id
		LEFT JOIN accounts a ON a.user_id = b.user_id AND a.is_default
		ORDER BY b.id`

	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("querying budgets: %w", err)
	}
	defer rows.Close()

	var owners []domain.BudgetOwner
	for rows.Next() {
		var (
			o          domain.BudgetOwner
			accID      pgtype.Text
			accName    pgtype.Text
			accBalance decimal.NullDecimal
		)
		if err := rows.Scan(
			&o.Budget.ID, &o.Budget.UserID, &o.Budget.Amount, &o.Budget.LastAlertSent,
			&o.User.Email, &o.User.Name,
			&accID, &accName, &accBalance,
		); err != nil {
			return nil, fmt.Errorf("scanning budget: %w", err)
		}
		o.User.ID = o.Budget.UserID
		if accID.Valid {
			o.DefaultAccount = &domain.Account{
				ID:        accID.String,
				UserID:    o.Budget.UserID,
				Name:      accName.String,
				Balance:   accBalance.Decimal,
				IsDefault: true,
			}
		}
		owners = append(owners, o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating budgets: %w", err)
	}
	return owners, nil
}

func (s *Store) SumExpenses(ctx context.Context, userID, accountID string, from, to time.Time) (decimal.Decimal, error) {
	query := `
		SELECT COALESCE(SUM(amount), 0)
		FROM transactions
		WHERE user_id = $1 AND account_id = $2 AND type = $3
		  AND date >= $4 AND date < $5`

	var sum decimal.Decimal
	err := s.pool.QueryRow(ctx, query, userID, accountID, string(domain.TypeExpense), from, to).Scan(&sum)
	if err != nil {
		return decimal.Zero, fmt.Errorf("summing expenses: %w", err)
	}
	return sum, nil
}

func (s *Store) ClaimBudgetAlert(ctx context.Context, budgetID string, at time.Time) (bool, error) {
	from, to := domain.MonthBounds(at)
	tag, err := s.pool.Exec(ctx, `
		UPDATE budgets SET last_alert_sent = $1
		WHERE id = $2 AND (last_alert_sent IS NULL OR last_alert_sent < $3 OR last_alert_sent >= $4)`,
		at, budgetID, from, to)
	if err != nil {
		return false, fmt.Errorf("claiming budget alert: %w", err)
	}
	if tag.RowsAffected() == 1 {
		return true, nil
	}

	var exists bool
	if err := s.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM budgets WHERE id = $1)`, budgetID).Scan(&exists); err != nil {
		return false, fmt.Errorf("checking budget: %w", err)
	}
	if !exists {
		return false, fmt.Errorf("budget %s: %w", budgetID, store.ErrNotFound)
	}
	return false, nil
}

func (s *Store) ReleaseBudgetAlert(ctx context.Context, budgetID string, at time.Time, previous *time.Time) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE budgets SET last_alert_sent = $1 WHERE id = $2 AND last_alert_sent = $3`,
		previous, budgetID, at)
	if err != nil {
		return fmt.Errorf("releasing budget alert: %w", err)
	}
	return nil
}

func (s *Store) ListUsers(ctx context.Context) ([]domain.User, error) {
	rows, err := s.pool.Query(ctx, `SELECT id, email, name FROM users ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("querying users: %w", err)
	}
	users, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.User, error) {
		var u domain.User
		err := row.Scan(&u.ID, &u.Email, &u.Name)
		return u, err
	})
	if err != nil {
		return nil, fmt.Errorf("collecting users: %w", err)
	}
	return users, nil
}

func (s *Store) MonthlyStats(ctx context.Context, userID string, from, to time.Time) (domain.MonthlyStats, error) {
	stats := domain.MonthlyStats{
		Period:        civil.DateOf(from),
		TotalIncome:   decimal.Zero,
		TotalExpenses: decimal.Zero,
		ByCategory:    make(map[string]decimal.Decimal),
	}

	query := `
		SELECT type, category, SUM(amount), COUNT(*)
		FROM transactions
		WHERE user_id = $1 AND date >= $2 AND date < $3
		GROUP BY type, category`

	rows, err := s.pool.Query(ctx, query, userID, from, to)
	if err != nil {
		return stats, fmt.Errorf("querying monthly stats: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			typ      string
			category string
			sum      decimal.Decimal
			count    int
		)
		if err := rows.Scan(&typ, &category, &sum, &count); err != nil {
			return stats, fmt.Errorf("scanning monthly stats: %w", err)
		}
		stats.TransactionCount += count
		if domain.TransactionType(typ) == domain.TypeExpense {
			stats.TotalExpenses = stats.TotalExpenses.Add(sum)
			stats.ByCategory[category] = stats.ByCategory[category].Add(sum)
		} else {
			stats.TotalIncome = stats.TotalIncome.Add(sum)
		}
	}
	if err := rows.Err(); err != nil {
		return stats, fmt.Errorf("iterating monthly stats: %w", err)
	}
	return stats, nil
}

type pgTx struct {
	tx pgx.Tx
}

func (t *pgTx) LockTransactionForUser(ctx context.Context, id, userID string) (*domain.Transaction, error) {
	query := `SELECT ` + transactionColumns + ` FROM transactions WHERE id = $1 AND user_id = $2 FOR UPDATE`
	return getTransaction(ctx, t.tx, query, id, userID)
}

func (t *pgTx) InsertTransaction(ctx context.Context, tr *domain.Transaction) error {
	if tr.ID == "" {
		tr.ID = uuid.NewString()
	}
	var interval *string
	if tr.RecurringInterval != nil {
		v := string(*tr.RecurringInterval)
		interval = &v
	}
	next := pgtype.Date{}
	if tr.NextRecurringDate != nil {
		next = toPgDate(*tr.NextRecurringDate)
	}

	query := `INSERT INTO transactions (` + transactionColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`
	_, err := t.tx.Exec(ctx, query,
		tr.ID, string(tr.Type), tr.Amount, tr.Description, tr.Date, tr.Category, tr.UserID, tr.AccountID,
		tr.IsRecurring, interval, next, tr.LastProcessedAt, string(tr.Status), tr.CreatedAt, tr.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("inserting transaction: %w", err)
	}
	return nil
}

func (t *pgTx) IncrementAccountBalance(ctx context.Context, accountID string, delta decimal.Decimal) error {
	tag, err := t.tx.Exec(ctx, `UPDATE accounts SET balance = balance + $1 WHERE id = $2`, delta, accountID)
	if err != nil {
		return fmt.Errorf("updating balance: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("account %s: %w", accountID, store.ErrNotFound)
	}
	return nil
}

func (t *pgTx) UpdateRecurringSchedule(ctx context.Context, id string, lastProcessedAt time.Time, next civil.Date) error {
	query := `UPDATE transactions
		SET last_processed_at = $1, next_recurring_date = $2, updated_at = $1
		WHERE id = $3`
	tag, err := t.tx.Exec(ctx, query, lastProcessedAt, toPgDate(next), id)
	if err != nil {
		return fmt.Errorf("updating schedule: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("transaction %s: %w", id, store.ErrNotFound)
	}
	return nil
}

type querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func getTransaction(ctx context.Context, q querier, query, id, userID string) (*domain.Transaction, error) {
	t, err := scanTransaction(q.QueryRow(ctx, query, id, userID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("transaction %s: %w", id, store.ErrNotFound)
	}
	return t, err
}

func scanTransaction(row pgx.Row) (*domain.Transaction, error) {
	var (
		t        domain.Transaction
		typ      string
		status   string
		interval pgtype.Text
		next     pgtype.Date
	)
	err := row.Scan(
		&t.ID, &typ, &t.Amount, &t.Description, &t.Date, &t.Category, &t.UserID, &t.AccountID,
		&t.IsRecurring, &interval, &next, &t.LastProcessedAt, &status, &t.CreatedAt, &t.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("scanning transaction: %w", err)
	}

	t.Type = domain.TransactionType(typ)
	t.Status = domain.TransactionStatus(status)
	if interval.Valid {
		iv := domain.Interval(interval.String)
		t.RecurringInterval = &iv
	}
	if next.Valid {
		d := civil.DateOf(next.Time)
		t.NextRecurringDate = &d
	}
	return &t, nil
}

func toPgDate(d civil.Date) pgtype.Date {
	return pgtype.Date{Time: d.In(time.UTC), Valid: true}
}
