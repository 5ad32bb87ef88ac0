package store

import "sync"

// subscribers is a small fan-out list of change callbacks shared by the
// stores. Callbacks run synchronously on the mutating goroutine and
// must not block.
type subscribers struct {
	mu   sync.Mutex
	next int
	fns  map[int]func()
}

func newSubscribers() *subscribers {
	return &subscribers{fns: make(map[int]func())}
}

func (s *subscribers) add(fn func()) func() {
	s.mu.Lock()
	id := s.next
	s.next++
	s.fns[id] = fn
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		delete(s.fns, id)
		s.mu.Unlock()
	}
}

func (s *subscribers) notify() {
	s.mu.Lock()
	fns := make([]func(), 0, len(s.fns))

	for _, fn := range s.fns {
		fns = append(fns, fn)
	}
	s.mu.Unlock()

	for _, fn := range fns {
		fn()
	}
}
