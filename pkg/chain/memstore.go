package chain

import (
	"context"
	"sync"
)

// MemStore is a thread-safe in-memory Store. Appends for the same job
// serialize on the store lock; cross-job appends only contend on the map.
type MemStore struct {
	mu     sync.RWMutex
	chains map[string][]Event
}

// NewMemStore creates an empty in-memory chain store.
func NewMemStore() *MemStore {
	return &MemStore{chains: make(map[string][]Event)}
}

func (s *MemStore) AppendEvent(_ context.Context, expectedTail string, e *Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	events := s.chains[e.JobID]
	tail := GenesisHash
	if n := len(events); n > 0 {
		tail = events[n-1].EventHash
	}
	if tail != expectedTail {
		return ErrTailMoved
	}

	s.chains[e.JobID] = append(events, *e)
	return nil
}

func (s *MemStore) Tail(_ context.Context, jobID string) (string, uint64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	events := s.chains[jobID]
	if len(events) == 0 {
		return GenesisHash, 0, nil
	}
	last := events[len(events)-1]
	return last.EventHash, last.Sequence, nil
}

func (s *MemStore) ListEvents(_ context.Context, jobID string) ([]Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	events := s.chains[jobID]
	out := make([]Event, len(events))
	copy(out, events)
	return out, nil
}
