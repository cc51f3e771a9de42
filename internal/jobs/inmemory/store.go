package inmemory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/dvloznov/finance-scheduler/internal/jobs"
)

// Store is an in-memory implementation of EventStore.
// It stores events in memory and is safe for concurrent use.
// Data is lost on service restart.
type Store struct {
	mu     sync.RWMutex
	events map[string]*jobs.Event
}

// NewStore creates a new in-memory event store.
func NewStore() *Store {
	return &Store{
		events: make(map[string]*jobs.Event),
	}
}

// SaveEvent implements the EventStore interface.
func (s *Store) SaveEvent(ctx context.Context, event *jobs.Event) error {
	if event.ID == "" {
		return fmt.Errorf("event ID is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// Copy so later mutations by the queue are not visible to readers
	c := *event
	s.events[event.ID] = &c

	return nil
}

// GetEvent implements the EventStore interface.
func (s *Store) GetEvent(ctx context.Context, id string) (*jobs.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	event, exists := s.events[id]
	if !exists {
		return nil, fmt.Errorf("%w: %s", jobs.ErrEventNotFound, id)
	}

	c := *event
	return &c, nil
}

// ListEvents implements the EventStore interface.
func (s *Store) ListEvents(ctx context.Context, filter jobs.EventFilter) ([]*jobs.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*jobs.Event
	for _, event := range s.events {
		if filter.Name != "" && event.Name != filter.Name {
			continue
		}
		if filter.Status != "" && event.Status != filter.Status {
			continue
		}
		if filter.UserID != "" && event.Data.UserID != filter.UserID {
			continue
		}

		c := *event
		result = append(result, &c)
	}

	sort.Slice(result, func(i, j int) bool {
		if result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].ID < result[j].ID
		}
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})

	if filter.Offset > 0 {
		if filter.Offset >= len(result) {
			return []*jobs.Event{}, nil
		}
		result = result[filter.Offset:]
	}

	if filter.Limit > 0 && filter.Limit < len(result) {
		result = result[:filter.Limit]
	}

	return result, nil
}

// Ensure Store implements EventStore interface.
var _ jobs.EventStore = (*Store)(nil)
