// Package fanout delivers versioned values to subscribers with synchronous cancellation:
// once a cancel func returns, its callback is never invoked again.
package fanout

import "sync"

type subscriber[T any] struct {
	mu     sync.Mutex
	fn     func(T)
	last   uint64
	seen   bool
	closed bool
}

// deliver drops values older than the last one delivered, so concurrent publishers
// never rewind a subscriber.
func (s *subscriber[T]) deliver(version uint64, v T) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || (s.seen && version < s.last) {
		return
	}
	s.last, s.seen = version, true
	s.fn(v)
}

func (s *subscriber[T]) close() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	was := s.closed
	s.closed = true
	return !was
}

// Fanout is safe for concurrent use. Callbacks must not cancel their own subscription.
type Fanout[T any] struct {
	mu   sync.RWMutex
	next int
	subs map[int]*subscriber[T]
}

func New[T any]() *Fanout[T] {
	return &Fanout[T]{subs: make(map[int]*subscriber[T])}
}

// Subscribe registers fn. If initial is non-nil it is delivered before Subscribe returns.
// The returned cancel func is idempotent.
func (f *Fanout[T]) Subscribe(fn func(T), initial func() (uint64, T)) (cancel func()) {
	s := &subscriber[T]{fn: fn}
	f.mu.Lock()
	id := f.next
	f.next++
	f.subs[id] = s
	f.mu.Unlock()

	if initial != nil {
		s.deliver(initial())
	}

	return func() {
		if !s.close() {
			return
		}
		f.mu.Lock()
		delete(f.subs, id)
		f.mu.Unlock()
	}
}

// Publish delivers v to every live subscriber in the calling goroutine.
func (f *Fanout[T]) Publish(version uint64, v T) {
	f.mu.RLock()
	subs := make([]*subscriber[T], 0, len(f.subs))
	for _, s := range f.subs {
		subs = append(subs, s)
	}
	f.mu.RUnlock()

	for _, s := range subs {
		s.deliver(version, v)
	}
}

func (f *Fanout[T]) Len() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.subs)
}
