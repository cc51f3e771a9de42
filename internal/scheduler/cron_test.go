package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dvloznov/finance-scheduler/internal/store/inmemory"
)

func TestValidateSpec(t *testing.T) {
	for _, spec := range []string{DefaultSchedule.Recurring, DefaultSchedule.BudgetAlerts, DefaultSchedule.MonthlyReports, "@daily"} {
		assert.NoError(t, ValidateSpec(spec), spec)
	}
	assert.Error(t, ValidateSpec("every day"))
	assert.Error(t, ValidateSpec("0 0 * *"))
}

func TestNextRun_DefaultSchedule(t *testing.T) {
	from := time.Date(2024, 1, 15, 7, 30, 0, 0, time.UTC)

	next, err := NextRun(DefaultSchedule.Recurring, from)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 1, 16, 0, 0, 0, 0, time.UTC), next)

	next, err = NextRun(DefaultSchedule.BudgetAlerts, from)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 1, 15, 12, 0, 0, 0, time.UTC), next)

	next, err = NextRun(DefaultSchedule.MonthlyReports, from)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC), next)
}

func TestCron_Register(t *testing.T) {
	s := inmemory.New()
	c := NewCron(context.Background(), time.UTC, zerolog.Nop())

	require.NoError(t, c.Register(DefaultSchedule, NewTrigger(s, &mockPublisher{}), NewBudgetAlerts(s, &mockSender{}, 0), nil))
	assert.Len(t, c.Entries(), 2)

	err := c.Register(Schedule{Recurring: "bogus"}, NewTrigger(s, &mockPublisher{}), nil, nil)
	assert.ErrorContains(t, err, JobRecurring)
}

func TestCron_RunsJobs(t *testing.T) {
	c := NewCron(context.Background(), time.UTC, zerolog.Nop())
	ran := make(chan struct{}, 1)
	require.NoError(t, c.Add("tick", "@every 1s", func(context.Context) error {
		select {
		case ran <- struct{}{}:
		default:
		}
		return nil
	}))

	c.Start()
	defer func() { <-c.Stop().Done() }()

	select {
	case <-ran:
	case <-time.After(3 * time.Second):
		t.Fatal("job did not run")
	}
}
