package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"cloud.google.com/go/civil"
	"github.com/shopspring/decimal"

	"github.com/dvloznov/finance-scheduler/internal/domain"
	"github.com/dvloznov/finance-scheduler/internal/jobs"
	"github.com/dvloznov/finance-scheduler/internal/logger"
	"github.com/dvloznov/finance-scheduler/internal/recurrence"
	"github.com/dvloznov/finance-scheduler/internal/store"
)

// ErrMalformedEvent is returned for an event missing its transaction or user id.
var ErrMalformedEvent = errors.New("malformed event")

// Outcome describes what processing did with a transaction.
type Outcome string

const (
	OutcomeProcessed Outcome = "processed"
	OutcomeNotDue    Outcome = "not_due"
	OutcomeNotFound  Outcome = "not_found"
	OutcomeMalformed Outcome = "malformed"
)

// Result reports the effect of processing one event.
type Result struct {
	Outcome           Outcome
	OccurrenceID      string
	BalanceChange     decimal.Decimal
	NextRecurringDate civil.Date
}

// Processor generates the due occurrence of one recurring transaction.
type Processor struct {
	Clock
	store store.Store
}

// NewProcessor creates a processor writing through s.
func NewProcessor(s store.Store) *Processor {
	return &Processor{store: s}
}

// Process loads the transaction scoped to its owner, re-checks that it is due
// and, in one database transaction, inserts the occurrence, applies it to the
// account balance and advances the schedule.
func (p *Processor) Process(ctx context.Context, data jobs.EventData) (Result, error) {
	if data.TransactionID == "" || data.UserID == "" {
		return Result{Outcome: OutcomeMalformed}, fmt.Errorf("%w: transactionId=%q userId=%q", ErrMalformedEvent, data.TransactionID, data.UserID)
	}

	now := p.now()
	today := civil.DateOf(now)

	var res Result
	err := p.store.WithinTx(ctx, func(tx store.Tx) error {
		t, err := tx.LockTransactionForUser(ctx, data.TransactionID, data.UserID)
		if errors.Is(err, store.ErrNotFound) {
			res = Result{Outcome: OutcomeNotFound}
			return nil
		}
		if err != nil {
			return fmt.Errorf("loading transaction: %w", err)
		}
		if !t.IsDue(now) {
			res = Result{Outcome: OutcomeNotDue}
			return nil
		}
		if t.RecurringInterval == nil {
			return fmt.Errorf("transaction %s: %w: no interval", t.ID, recurrence.ErrInvalidInterval)
		}

		anchor := scheduleAnchor(t, today)
		next, err := recurrence.NextAfter(anchor, today, *t.RecurringInterval, scheduleDay(t, anchor, now))
		if err != nil {
			return fmt.Errorf("transaction %s: %w", t.ID, err)
		}

		occ := t.Occurrence(now)
		if err := tx.InsertTransaction(ctx, &occ); err != nil {
			return fmt.Errorf("inserting occurrence: %w", err)
		}
		change := t.BalanceChange()
		if err := tx.IncrementAccountBalance(ctx, t.AccountID, change); err != nil {
			return fmt.Errorf("applying balance change: %w", err)
		}
		if err := tx.UpdateRecurringSchedule(ctx, t.ID, now, next); err != nil {
			return fmt.Errorf("advancing schedule: %w", err)
		}

		res = Result{
			Outcome:           OutcomeProcessed,
			OccurrenceID:      occ.ID,
			BalanceChange:     change,
			NextRecurringDate: next,
		}
		return nil
	})
	if err != nil {
		return Result{}, err
	}
	return res, nil
}

// scheduleAnchor is the date the next occurrence is counted from: the scheduled
// date when it has arrived, otherwise today.
func scheduleAnchor(t *domain.Transaction, today civil.Date) civil.Date {
	if t.NextRecurringDate == nil || t.NextRecurringDate.After(today) {
		return today
	}
	return *t.NextRecurringDate
}

// scheduleDay is the day of month monthly and yearly schedules land on. The
// day the transaction was booked wins over a date clamped to a short month.
func scheduleDay(t *domain.Transaction, anchor civil.Date, now time.Time) int {
	if t.Date.IsZero() {
		return anchor.Day
	}
	return recurrence.ScheduleDay(anchor, civil.DateOf(t.Date.In(now.Location())))
}

// Handle adapts Process to a jobs.Handler. Malformed events and invalid
// intervals fail permanently; persistence errors are returned for retry.
func (p *Processor) Handle(ctx context.Context, event *jobs.Event) error {
	log := logger.FromContext(ctx).With().
		Str("transaction_id", event.Data.TransactionID).
		Str("user_id", event.Data.UserID).
		Logger()

	if event.Name != jobs.EventRecurringProcess {
		return jobs.Permanent(fmt.Errorf("unexpected event %q", event.Name))
	}

	res, err := p.Process(ctx, event.Data)
	switch {
	case errors.Is(err, ErrMalformedEvent):
		log.Warn().Err(err).Msg("Skipping malformed event")
		return jobs.Permanent(err)
	case errors.Is(err, recurrence.ErrInvalidInterval):
		log.Error().Err(err).Msg("Recurring transaction has an invalid interval")
		return jobs.Permanent(err)
	case err != nil:
		log.Error().Err(err).Msg("Failed to process recurring transaction")
		return err
	}

	ev := log.Info().Str("outcome", string(res.Outcome))
	if res.Outcome == OutcomeProcessed {
		ev = ev.Str("occurrence_id", res.OccurrenceID).
			Str("balance_change", res.BalanceChange.StringFixed(2)).
			Str("next_recurring_date", res.NextRecurringDate.String())
	}
	ev.Msg("Processed recurring transaction event")
	return nil
}
