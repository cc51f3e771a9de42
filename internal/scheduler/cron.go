package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/dvloznov/finance-scheduler/internal/logger"
)

// Job names.
const (
	JobRecurring      = "recurring"
	JobBudgetAlerts   = "budget-alerts"
	JobMonthlyReports = "monthly-reports"
)

// Schedule holds the cron expressions of the periodic jobs.
type Schedule struct {
	Recurring      string
	BudgetAlerts   string
	MonthlyReports string
}

// DefaultSchedule runs recurring transactions daily at midnight, budget alerts
// every six hours and monthly reports on the first of the month.
var DefaultSchedule = Schedule{
	Recurring:      "0 0 * * *",
	BudgetAlerts:   "0 */6 * * *",
	MonthlyReports: "0 0 1 * *",
}

// Cron runs named jobs on standard five-field cron expressions.
type Cron struct {
	c   *cron.Cron
	log zerolog.Logger
	ctx context.Context
}

// NewCron creates a scheduler evaluating expressions in loc. Jobs receive ctx
// carrying a logger tagged with the job name. A job still running when its next
// tick fires is skipped for that tick.
func NewCron(ctx context.Context, loc *time.Location, log zerolog.Logger) *Cron {
	if loc == nil {
		loc = time.UTC
	}
	cl := cronLogger{log: log}
	return &Cron{
		c: cron.New(
			cron.WithLocation(loc),
			cron.WithLogger(cl),
			cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
		),
		log: log,
		ctx: ctx,
	}
}

// Add registers fn under name.
func (c *Cron) Add(name, spec string, fn func(ctx context.Context) error) error {
	_, err := c.c.AddFunc(spec, func() {
		log := c.log.With().Str("job", name).Logger()
		ctx := logger.WithContext(c.ctx, log)

		start := time.Now()
		log.Info().Msg("Job started")
		if err := fn(ctx); err != nil {
			log.Error().Err(err).Dur("took", time.Since(start)).Msg("Job failed")
			return
		}
		log.Info().Dur("took", time.Since(start)).Msg("Job finished")
	})
	if err != nil {
		return fmt.Errorf("scheduling %s with %q: %w", name, spec, err)
	}
	return nil
}

// Register adds the three periodic jobs. A nil job is not scheduled.
func (c *Cron) Register(s Schedule, t *Trigger, b *BudgetAlerts, m *MonthlyReports) error {
	if t != nil {
		if err := c.Add(JobRecurring, s.Recurring, func(ctx context.Context) error {
			_, err := t.Run(ctx)
			return err
		}); err != nil {
			return err
		}
	}
	if b != nil {
		if err := c.Add(JobBudgetAlerts, s.BudgetAlerts, func(ctx context.Context) error {
			_, err := b.Run(ctx)
			return err
		}); err != nil {
			return err
		}
	}
	if m != nil {
		if err := c.Add(JobMonthlyReports, s.MonthlyReports, func(ctx context.Context) error {
			_, err := m.Run(ctx)
			return err
		}); err != nil {
			return err
		}
	}
	return nil
}

// Entries returns the next run time of each registered job, in registration order.
func (c *Cron) Entries() []time.Time {
	entries := c.c.Entries()
	out := make([]time.Time, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.Next)
	}
	return out
}

// Start runs the scheduler in its own goroutine.
func (c *Cron) Start() {
	c.c.Start()
}

// Stop prevents new runs and returns a context done when running jobs finish.
func (c *Cron) Stop() context.Context {
	return c.c.Stop()
}

// ValidateSpec reports whether spec is a valid five-field cron expression.
func ValidateSpec(spec string) error {
	if _, err := cron.ParseStandard(spec); err != nil {
		return fmt.Errorf("invalid cron expression %q: %w", spec, err)
	}
	return nil
}

// NextRun returns the first activation of spec strictly after from.
func NextRun(spec string, from time.Time) (time.Time, error) {
	sched, err := cron.ParseStandard(spec)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid cron expression %q: %w", spec, err)
	}
	return sched.Next(from), nil
}

// cronLogger adapts zerolog to cron.Logger.
type cronLogger struct {
	log zerolog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.Debug().Fields(keysAndValues).Msg("cron: " + msg)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.Error().Err(err).Fields(keysAndValues).Msg("cron: " + msg)
}
