// Package safeset provides a mutex-guarded generic set.
package safeset

import "sync"

// SafeSet is a thread-safe set of comparable elements.
type SafeSet[T comparable] struct {
	mu sync.RWMutex
	m  map[T]struct{}
}

// NewSafeSet creates an empty SafeSet, optionally seeded with values.
func NewSafeSet[T comparable](values ...T) *SafeSet[T] {
	s := &SafeSet[T]{m: make(map[T]struct{}, len(values))}
	for _, v := range values {
		s.m[v] = struct{}{}
	}

	return s
}

// Add adds an element to the set.
func (s *SafeSet[T]) Add(value T) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.m[value] = struct{}{}
}

// Remove removes an element and reports whether it was present.
//
// Parameters:
//   - value: The element to remove
//
// Returns:
//   - true if value was in the set before the call
func (s *SafeSet[T]) Remove(value T) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.m[value]
	delete(s.m, value)
	return ok
}

// Size returns the number of elements in the set.
func (s *SafeSet[T]) Size() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.m)
}
