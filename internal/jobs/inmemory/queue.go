package inmemory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dvloznov/finance-scheduler/internal/jobs"
	"github.com/dvloznov/finance-scheduler/internal/logger"
	"github.com/dvloznov/finance-scheduler/internal/throttle"
)

// Options tunes a Queue. Zero values take the defaults below.
type Options struct {
	// BufferSize is how many events can wait before Send blocks. Default 100.
	BufferSize int
	// Workers is the number of concurrent handlers. Default 5.
	Workers int
	// MaxAttempts is the default delivery budget for events that set none. Default 2.
	MaxAttempts int
	// RetryBase is multiplied by 2^attempts to get the redelivery delay. Default 1s.
	RetryBase time.Duration
	// Throttle, when set, bounds handlers per event throttle key.
	Throttle *throttle.Keyed
	// Store, when set, records every state change.
	Store jobs.EventStore
}

// Queue is an in-memory implementation of event publisher and consumer.
// It uses Go channels for event distribution and is safe for concurrent use.
// Delivery is at least once within the process; events are lost on restart.
type Queue struct {
	opts      Options
	eventChan chan *jobs.Event
	closeChan chan struct{}
	wg        sync.WaitGroup
	mu        sync.RWMutex
	closed    bool
}

// NewQueue creates a new in-memory event queue.
func NewQueue(opts Options) *Queue {
	if opts.BufferSize <= 0 {
		opts.BufferSize = 100
	}
	if opts.Workers <= 0 {
		opts.Workers = 5
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 2
	}
	if opts.RetryBase <= 0 {
		opts.RetryBase = time.Second
	}
	return &Queue{
		opts:      opts,
		eventChan: make(chan *jobs.Event, opts.BufferSize),
		closeChan: make(chan struct{}),
	}
}

// Send implements the Publisher interface.
// Every event is stamped and recorded before any of them is enqueued.
func (q *Queue) Send(ctx context.Context, events ...*jobs.Event) error {
	if q.isClosed() {
		return fmt.Errorf("queue is closed")
	}

	now := time.Now()
	for _, event := range events {
		if event.ID == "" {
			event.ID = uuid.New().String()
		}
		if event.Status == "" {
			event.Status = jobs.EventStatusPending
		}
		if event.CreatedAt.IsZero() {
			event.CreatedAt = now
		}
		if event.MaxAttempts == 0 {
			event.MaxAttempts = q.opts.MaxAttempts
		}
		q.save(ctx, event)
	}

	for _, event := range events {
		if err := q.enqueue(ctx, event); err != nil {
			return err
		}
	}
	return nil
}

func (q *Queue) enqueue(ctx context.Context, event *jobs.Event) error {
	select {
	case q.eventChan <- event:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-q.closeChan:
		return fmt.Errorf("queue is closed")
	}
}

// Start implements the Consumer interface.
// The handler is called concurrently, up to Options.Workers at a time.
func (q *Queue) Start(ctx context.Context, handler jobs.Handler) error {
	if q.isClosed() {
		return fmt.Errorf("queue is closed")
	}

	for i := 0; i < q.opts.Workers; i++ {
		q.wg.Add(1)
		go q.worker(ctx, handler)
	}

	return nil
}

// worker processes events from the queue.
func (q *Queue) worker(ctx context.Context, handler jobs.Handler) {
	defer q.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case <-q.closeChan:
			return
		case event := <-q.eventChan:
			if event == nil {
				return
			}

			q.process(ctx, event, handler)
		}
	}
}

// process runs a single delivery and schedules a retry when allowed.
func (q *Queue) process(ctx context.Context, event *jobs.Event, handler jobs.Handler) {
	log := logger.FromContext(ctx).With().
		Str("event_id", event.ID).
		Str("event", event.Name).
		Str("user_id", event.Data.UserID).
		Logger()

	if q.opts.Throttle != nil {
		release, err := q.opts.Throttle.Acquire(ctx, event.ThrottleKey())
		if err != nil {
			// Only a cancelled context gets here; the event stays pending.
			log.Warn().Err(err).Msg("Throttle wait aborted")
			return
		}
		defer release()
	}

	event.Status = jobs.EventStatusRunning
	event.Attempts++
	now := time.Now()
	event.StartedAt = &now
	event.CompletedAt = nil
	q.save(ctx, event)

	err := handler(logger.WithContext(ctx, log), event)

	completedAt := time.Now()
	event.CompletedAt = &completedAt

	switch {
	case err == nil:
		event.Status = jobs.EventStatusCompleted
		event.Error = ""
	case jobs.IsPermanent(err):
		event.Status = jobs.EventStatusFailed
		event.Error = err.Error()
		log.Error().Err(err).Int("attempt", event.Attempts).Msg("Event failed permanently")
	case event.Attempts < event.MaxAttempts:
		event.Status = jobs.EventStatusRetrying
		event.Error = err.Error()
		backoff := q.opts.RetryBase << event.Attempts
		log.Warn().Err(err).Int("attempt", event.Attempts).Dur("backoff", backoff).Msg("Event failed, retrying")
		q.scheduleRetry(ctx, event, backoff)
	default:
		event.Status = jobs.EventStatusFailed
		event.Error = err.Error()
		log.Error().Err(err).Int("attempt", event.Attempts).Msg("Event failed, attempts exhausted")
	}

	q.save(ctx, event)
}

func (q *Queue) scheduleRetry(ctx context.Context, event *jobs.Event, backoff time.Duration) {
	time.AfterFunc(backoff, func() {
		if q.isClosed() {
			return
		}

		event.Status = jobs.EventStatusPending
		event.StartedAt = nil
		q.save(ctx, event)
		if err := q.enqueue(ctx, event); err != nil {
			log := logger.FromContext(ctx)
			log.Error().Err(err).Str("event_id", event.ID).Msg("Failed to requeue event")
		}
	})
}

func (q *Queue) isClosed() bool {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return q.closed
}

func (q *Queue) save(ctx context.Context, event *jobs.Event) {
	if q.opts.Store == nil {
		return
	}
	if err := q.opts.Store.SaveEvent(ctx, event); err != nil {
		log := logger.FromContext(ctx)
		log.Error().Err(err).Str("event_id", event.ID).Msg("Failed to save event state")
	}
}

// Stop implements the Consumer interface.
// It stops the queue and waits for all in-flight handlers to complete.
// Pending retries are dropped.
func (q *Queue) Stop(ctx context.Context) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil
	}
	q.closed = true
	close(q.closeChan)
	q.mu.Unlock()

	done := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close implements the Publisher interface.
func (q *Queue) Close() error {
	return q.Stop(context.Background())
}

// Ensure Queue implements both Publisher and Consumer interfaces.
var _ jobs.Publisher = (*Queue)(nil)
var _ jobs.Consumer = (*Queue)(nil)
