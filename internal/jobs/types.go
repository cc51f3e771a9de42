package jobs

import (
	"context"
	"errors"
	"time"
)

// EventRecurringProcess asks a worker to process one recurring transaction.
const EventRecurringProcess = "transaction.recurring.process"

// EventStatus represents the current status of an event.
type EventStatus string

const (
	// EventStatusPending indicates the event is waiting to be delivered.
	EventStatusPending EventStatus = "pending"
	// EventStatusRunning indicates a handler is processing the event.
	EventStatusRunning EventStatus = "running"
	// EventStatusCompleted indicates the handler succeeded.
	EventStatusCompleted EventStatus = "completed"
	// EventStatusFailed indicates the event exhausted its attempts or failed permanently.
	EventStatusFailed EventStatus = "failed"
	// EventStatusRetrying indicates the handler failed and a redelivery is scheduled.
	EventStatusRetrying EventStatus = "retrying"
)

// EventData is the payload of a recurring processing event.
type EventData struct {
	TransactionID string `json:"transactionId"`
	UserID        string `json:"userId"`
}

// Event is a unit of asynchronous work carried by the queue.
type Event struct {
	// ID is the unique identifier for this event.
	ID string `json:"id"`

	// Name routes the event to its handler.
	Name string `json:"name"`

	Data EventData `json:"data"`

	// Status is the current status of the event.
	Status EventStatus `json:"status"`

	// Attempts counts handler invocations so far.
	Attempts int `json:"attempts"`

	// MaxAttempts is the total number of deliveries allowed.
	MaxAttempts int `json:"max_attempts"`

	CreatedAt   time.Time  `json:"created_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`

	// Error contains the last handler error.
	Error string `json:"error,omitempty"`
}

// ThrottleKey groups events that share a concurrency and rate budget.
func (e *Event) ThrottleKey() string {
	return e.Data.UserID
}

// Publisher submits events for asynchronous processing.
type Publisher interface {
	// Send enqueues events as one batch. It does not wait for processing.
	Send(ctx context.Context, events ...*Event) error

	// Close closes the publisher and releases resources.
	Close() error
}

// Consumer delivers queued events to a handler.
type Consumer interface {
	// Start begins consuming events from the queue.
	// The handler function is called for each event received.
	Start(ctx context.Context, handler Handler) error

	// Stop stops consuming events and waits for in-flight handlers to complete.
	Stop(ctx context.Context) error
}

// Handler processes an event. A returned error triggers a redelivery unless it
// is wrapped with Permanent or the event is out of attempts.
type Handler func(ctx context.Context, event *Event) error

// ErrEventNotFound is returned by EventStore lookups for an unknown id.
var ErrEventNotFound = errors.New("event not found")

// EventStore records event state so operators can inspect deliveries.
type EventStore interface {
	// SaveEvent saves or updates an event's state.
	SaveEvent(ctx context.Context, event *Event) error

	// GetEvent retrieves an event by ID.
	GetEvent(ctx context.Context, id string) (*Event, error)

	// ListEvents retrieves events with optional filtering, newest first.
	ListEvents(ctx context.Context, filter EventFilter) ([]*Event, error)
}

// EventFilter defines filtering criteria for listing events.
type EventFilter struct {
	Name   string
	Status EventStatus
	UserID string

	// Limit limits the number of results.
	Limit int

	// Offset for pagination.
	Offset int
}

type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err as not worth retrying. Permanent(nil) is nil.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether err or anything it wraps was marked Permanent.
func IsPermanent(err error) bool {
	var p *permanentError
	return errors.As(err, &p)
}
