package scheduler

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dvloznov/finance-scheduler/internal/domain"
	"github.com/dvloznov/finance-scheduler/internal/jobs"
	"github.com/dvloznov/finance-scheduler/internal/store/inmemory"
)

func TestTrigger_NothingDue(t *testing.T) {
	s := inmemory.New()
	seed(s, "u1", "a1", "0")
	s.PutTransaction(recurringTx("t1", "u1", "a1", domain.TypeExpense, "5", domain.IntervalDaily, ptr(date(2024, 3, 1))))
	tx, _ := s.Transaction("t1")
	tx.LastProcessedAt = ptr(jan2)
	s.PutTransaction(tx)

	pub := &mockPublisher{}
	tr := NewTrigger(s, pub)
	tr.Clock = FixedClock(jan2)

	res, err := tr.Run(context.Background())
	require.NoError(t, err)
	assert.Zero(t, res.Triggered)
	assert.Empty(t, pub.batches, "no batch is sent when nothing is due")
}

func TestTrigger_OneEventPerDueTransaction(t *testing.T) {
	s := inmemory.New()
	seed(s, "u1", "a1", "0")
	seed(s, "u2", "a2", "0")
	s.PutTransaction(recurringTx("t1", "u1", "a1", domain.TypeExpense, "5", domain.IntervalDaily, nil))
	s.PutTransaction(recurringTx("t2", "u1", "a1", domain.TypeIncome, "5", domain.IntervalWeekly, ptr(date(2024, 1, 2))))
	s.PutTransaction(recurringTx("t3", "u2", "a2", domain.TypeExpense, "5", domain.IntervalMonthly, nil))
	oneOff := recurringTx("t4", "u2", "a2", domain.TypeExpense, "5", domain.IntervalMonthly, nil)
	oneOff.IsRecurring = false
	s.PutTransaction(oneOff)

	pub := &mockPublisher{}
	tr := NewTrigger(s, pub)
	tr.Clock = FixedClock(jan2)

	res, err := tr.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, res.Triggered)
	assert.Len(t, res.EventIDs, 3)

	require.Len(t, pub.batches, 1, "all events go out as one batch")
	got := map[string]string{}
	for _, e := range pub.batches[0] {
		assert.Equal(t, jobs.EventRecurringProcess, e.Name)
		got[e.Data.TransactionID] = e.Data.UserID
	}
	assert.Equal(t, map[string]string{"t1": "u1", "t2": "u1", "t3": "u2"}, got)
}

func TestTrigger_PublishFailure(t *testing.T) {
	s := inmemory.New()
	seed(s, "u1", "a1", "0")
	s.PutTransaction(recurringTx("t1", "u1", "a1", domain.TypeExpense, "5", domain.IntervalDaily, nil))

	tr := NewTrigger(s, &mockPublisher{err: errors.New("bus down")})
	_, err := tr.Run(context.Background())
	assert.ErrorContains(t, err, "bus down")
}
