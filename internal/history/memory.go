package history

import (
	"context"
	"sync"
)

// MemoryStore keeps the latest turns in memory. The zero value is not
// usable; create one with [NewMemoryStore].
type MemoryStore struct {
	mu     sync.RWMutex
	turns  []Turn
	max    int
	nextID int64
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore returns a store that keeps at most max turns. Older turns
// are dropped first. A max of 0 or less keeps everything.
func NewMemoryStore(max int) *MemoryStore {
	return &MemoryStore{max: max, nextID: 1}
}

// Record implements [Store].
func (s *MemoryStore) Record(_ context.Context, t *Turn) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t.ID = s.nextID
	s.nextID++
	s.turns = append(s.turns, *t)
	if s.max > 0 && len(s.turns) > s.max {
		s.turns = append(s.turns[:0:0], s.turns[len(s.turns)-s.max:]...)
	}
	return nil
}

// Recent implements [Store].
func (s *MemoryStore) Recent(_ context.Context, n int) ([]Turn, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if n <= 0 {
		return nil, nil
	}
	start := max(0, len(s.turns)-n)
	return append([]Turn(nil), s.turns[start:]...), nil
}

// Get implements [Store].
func (s *MemoryStore) Get(_ context.Context, id int64) (*Turn, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for i := range s.turns {
		if s.turns[i].ID == id {
			t := s.turns[i]
			return &t, nil
		}
	}
	return nil, ErrNotFound
}

// Len returns the number of stored turns.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.turns)
}
