package vault

import (
	"context"
	"sync"
)

// MemorySequence is an in-process domain.SequenceSource. Counters start at
// the given base so keys stay unique across restarts when the base is taken
// from the wall clock.
type MemorySequence struct {
	mu   sync.Mutex
	base int64
	next map[string]int64
}

// NewMemorySequence creates a MemorySequence whose first value for any key
// is base+1.
func NewMemorySequence(base int64) *MemorySequence {
	return &MemorySequence{base: base, next: make(map[string]int64)}
}

// Next returns the next number for key.
func (s *MemorySequence) Next(_ context.Context, key string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, ok := s.next[key]
	if !ok {
		n = s.base
	}
	n++
	s.next[key] = n
	return n, nil
}
