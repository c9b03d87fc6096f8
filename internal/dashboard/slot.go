package dashboard

import "sync"

// slot holds one polled value for one connection generation. A write for
// any other generation is discarded.
type slot[T any] struct {
	mu  sync.RWMutex
	gen uint64
	val T
}

func (s *slot[T]) reset(gen uint64, v T) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.gen = gen
	s.val = v
}

func (s *slot[T]) set(gen uint64, v T) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if gen != s.gen {
		return false
	}
	s.val = v
	return true
}

func (s *slot[T]) get() T {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.val
}
