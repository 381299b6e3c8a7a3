package audit

import (
	"context"
	"sort"
	"sync"
)

// InMemoryStore keeps events in memory for tests and dev mode.
type InMemoryStore struct {
	mu     sync.RWMutex
	events []Event

	// FailAppends makes Append return an error; tests use it to verify the
	// enforcement points fail closed when the audit trail is unavailable.
	FailAppends error
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{}
}

func (s *InMemoryStore) Append(_ context.Context, event Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailAppends != nil {
		return s.FailAppends
	}
	s.events = append(s.events, event)
	return nil
}

func (s *InMemoryStore) Query(_ context.Context, filter Filter) ([]Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []Event
	for i := range s.events {
		if filter.Matches(&s.events[i]) {
			out = append(out, s.events[i])
		}
	}

	// Most recent first, like the SQL store.
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Timestamp.After(out[j].Timestamp)
	})

	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

// All returns every stored event in append order. Test helper.
func (s *InMemoryStore) All() []Event {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]Event(nil), s.events...)
}
