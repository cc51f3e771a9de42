package scheduler

import (
	"context"
	"fmt"

	"github.com/dvloznov/finance-scheduler/internal/jobs"
	"github.com/dvloznov/finance-scheduler/internal/logger"
	"github.com/dvloznov/finance-scheduler/internal/store"
)

// TriggerResult is the outcome of one trigger run.
type TriggerResult struct {
	Triggered int      `json:"triggered"`
	EventIDs  []string `json:"event_ids,omitempty"`
}

// Trigger finds due recurring transactions and emits one processing event for each.
type Trigger struct {
	Clock
	store     store.Store
	publisher jobs.Publisher
}

// NewTrigger creates a trigger reading from s and publishing to p.
func NewTrigger(s store.Store, p jobs.Publisher) *Trigger {
	return &Trigger{store: s, publisher: p}
}

// Run has no side effects besides the published batch. Nothing is sent when no
// transaction is due.
func (t *Trigger) Run(ctx context.Context) (TriggerResult, error) {
	log := logger.FromContext(ctx)

	due, err := t.store.FindDueRecurring(ctx, t.now())
	if err != nil {
		return TriggerResult{}, fmt.Errorf("finding due transactions: %w", err)
	}
	if len(due) == 0 {
		log.Info().Msg("No recurring transactions due")
		return TriggerResult{}, nil
	}

	events := make([]*jobs.Event, 0, len(due))
	for _, tx := range due {
		events = append(events, &jobs.Event{
			Name: jobs.EventRecurringProcess,
			Data: jobs.EventData{TransactionID: tx.ID, UserID: tx.UserID},
		})
	}
	if err := t.publisher.Send(ctx, events...); err != nil {
		return TriggerResult{}, fmt.Errorf("sending %d events: %w", len(events), err)
	}

	res := TriggerResult{Triggered: len(events), EventIDs: make([]string, 0, len(events))}
	for _, e := range events {
		res.EventIDs = append(res.EventIDs, e.ID)
	}
	log.Info().Int("triggered", res.Triggered).Msg("Triggered recurring transactions")
	return res, nil
}
