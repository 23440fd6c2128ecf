package store

import "sync"

type subscriber[T any] struct {
	id uint64
	fn func(T)
}

// Subject is an observable value cell. Publish notifies every subscriber
// synchronously, in subscription order, outside of the internal lock.
// There is no deduplication: publishing the same value twice notifies twice.
type Subject[T any] struct {
	mu          sync.Mutex
	initial     T
	value       T
	nextID      uint64
	subscribers []subscriber[T]
}

func NewSubject[T any](initial T) *Subject[T] {
	return &Subject[T]{initial: initial, value: initial}
}

func (s *Subject[T]) Value() T {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.value
}

func (s *Subject[T]) Publish(value T) {
	s.mu.Lock()
	s.value = value
	subs := s.snapshot()
	s.mu.Unlock()

	notify(subs, value)
}

// Update replaces the value with fn(current) atomically and notifies with the
// result. The lock is held while fn runs, so fn must not read or write the
// same subject through any path, Value included.
func (s *Subject[T]) Update(fn func(T) T) T {
	s.mu.Lock()
	s.value = fn(s.value)
	value := s.value
	subs := s.snapshot()
	s.mu.Unlock()

	notify(subs, value)

	return value
}

// UpdateIf is Update for a fn that may keep the current value by returning
// false, subscribers are then not notified. fn runs under the lock and must
// not reach the same subject, Value included.
func (s *Subject[T]) UpdateIf(fn func(T) (T, bool)) (T, bool) {
	s.mu.Lock()
	next, ok := fn(s.value)
	if !ok {
		value := s.value
		s.mu.Unlock()
		return value, false
	}
	s.value = next
	subs := s.snapshot()
	s.mu.Unlock()

	notify(subs, next)

	return next, true
}

// Subscribe registers fn and returns the function removing it
func (s *Subject[T]) Subscribe(fn func(T)) func() {
	s.mu.Lock()
	s.nextID++
	id := s.nextID
	s.subscribers = append(s.subscribers, subscriber[T]{id: id, fn: fn})
	s.mu.Unlock()

	return func() { s.unsubscribe(id) }
}

// Bind keeps *target in sync with the subject. target is set to the current
// value right away.
func (s *Subject[T]) Bind(target *T) func() {
	s.mu.Lock()
	*target = s.value
	s.mu.Unlock()

	return s.Subscribe(func(v T) { *target = v })
}

// Reset drops every subscriber and restores the initial value without
// notifying anyone.
func (s *Subject[T]) Reset() {
	s.mu.Lock()
	s.subscribers = nil
	s.value = s.initial
	s.mu.Unlock()
}

func (s *Subject[T]) Subscribers() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return len(s.subscribers)
}

func (s *Subject[T]) unsubscribe(id uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i, sub := range s.subscribers {
		if sub.id == id {
			s.subscribers = append(s.subscribers[:i:i], s.subscribers[i+1:]...)
			return
		}
	}
}

func (s *Subject[T]) snapshot() []subscriber[T] {
	subs := make([]subscriber[T], len(s.subscribers))
	copy(subs, s.subscribers)
	return subs
}

func notify[T any](subs []subscriber[T], value T) {
	for _, sub := range subs {
		sub.fn(value)
	}
}

type resetter interface {
	Reset()
}

func resetAll(subjects ...resetter) {
	for _, s := range subjects {
		s.Reset()
	}
}
