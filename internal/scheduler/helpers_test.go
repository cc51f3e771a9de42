package scheduler

import (
	"context"
	"errors"
	"sync"
	"time"

	"cloud.google.com/go/civil"
	"github.com/shopspring/decimal"

	"github.com/dvloznov/finance-scheduler/internal/domain"
	"github.com/dvloznov/finance-scheduler/internal/jobs"
	"github.com/dvloznov/finance-scheduler/internal/notify"
	"github.com/dvloznov/finance-scheduler/internal/store"
	"github.com/dvloznov/finance-scheduler/internal/store/inmemory"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func date(y, m, d int) civil.Date {
	return civil.Date{Year: y, Month: time.Month(m), Day: d}
}

func ptr[T any](v T) *T { return &v }

// seed creates a user with a default account holding balance.
func seed(s *inmemory.Store, userID, accountID, balance string) {
	s.PutUser(domain.User{ID: userID, Email: userID + "@example.com", Name: "User " + userID})
	s.PutAccount(domain.Account{ID: accountID, UserID: userID, Name: "Main", Balance: dec(balance), IsDefault: true})
}

func recurringTx(id, userID, accountID string, typ domain.TransactionType, amount string, interval domain.Interval, next *civil.Date) domain.Transaction {
	return domain.Transaction{
		ID:                id,
		Type:              typ,
		Amount:            dec(amount),
		Description:       "Rent",
		Category:          "housing",
		UserID:            userID,
		AccountID:         accountID,
		IsRecurring:       true,
		RecurringInterval: &interval,
		NextRecurringDate: next,
		Status:            domain.StatusCompleted,
	}
}

// failingStore injects a failure into the last write of the atomic unit.
type failingStore struct {
	*inmemory.Store
	err error
}

func (f *failingStore) WithinTx(ctx context.Context, fn func(tx store.Tx) error) error {
	return f.Store.WithinTx(ctx, func(tx store.Tx) error {
		return fn(&failingTx{Tx: tx, err: f.err})
	})
}

type failingTx struct {
	store.Tx
	err error
}

func (f *failingTx) UpdateRecurringSchedule(context.Context, string, time.Time, civil.Date) error {
	return f.err
}

type mockPublisher struct {
	mu      sync.Mutex
	batches [][]*jobs.Event
	err     error
}

func (m *mockPublisher) Send(_ context.Context, events ...*jobs.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	for i, e := range events {
		if e.ID == "" {
			e.ID = "evt-" + string(rune('a'+i))
		}
	}
	m.batches = append(m.batches, events)
	return nil
}

func (m *mockPublisher) Close() error { return nil }

type mockSender struct {
	mu       sync.Mutex
	sent     []notify.Message
	SendFunc func(msg notify.Message) error
}

func (m *mockSender) Send(_ context.Context, msg notify.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.SendFunc != nil {
		if err := m.SendFunc(msg); err != nil {
			return err
		}
	}
	m.sent = append(m.sent, msg)
	return nil
}

func (m *mockSender) Sent() []notify.Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]notify.Message(nil), m.sent...)
}

var errSMTP = errors.New("smtp unavailable")
