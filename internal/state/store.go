// Package state implements the observable value container backing every
// per-session state concern (accounts, deployments, history) and the shared
// compiled-contract set. A Store holds exactly one value; Set replaces it and
// synchronously fans the new value out to every subscriber, so consumers see
// at most the latest value, never a queue of intermediate ones.
package state

import "sync"

type subscriber[T any] struct {
	id uint64
	fn func(T)
}

// Store is a generic observable container with replace semantics.
type Store[T any] struct {
	mu     sync.Mutex
	value  T
	subs   []subscriber[T]
	nextID uint64
}

// New creates a store holding initial.
func New[T any](initial T) *Store[T] {
	return &Store[T]{value: initial}
}

// Get returns the current value.
func (s *Store[T]) Get() T {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.value
}

// Set replaces the value and notifies all current subscribers with it, in
// registration order. Notification is synchronous: Set does not return until
// every subscriber has observed the new value.
func (s *Store[T]) Set(v T) {
	s.mu.Lock()
	s.value = v
	// Iterate over a snapshot so a subscriber unsubscribing (itself or a
	// peer) mid-notification cannot affect in-flight delivery.
	snapshot := make([]subscriber[T], len(s.subs))
	copy(snapshot, s.subs)
	s.mu.Unlock()

	for _, sub := range snapshot {
		sub.fn(v)
	}
}

// Update applies fn to the current value and stores the result, notifying
// subscribers. The read-modify-write is atomic with respect to other Update
// and Set calls.
func (s *Store[T]) Update(fn func(T) T) {
	s.mu.Lock()
	s.value = fn(s.value)
	v := s.value
	snapshot := make([]subscriber[T], len(s.subs))
	copy(snapshot, s.subs)
	s.mu.Unlock()

	for _, sub := range snapshot {
		sub.fn(v)
	}
}

// Subscribe registers fn to be called on every subsequent Set/Update. It does
// not replay the current value; callers needing it read Get first. The
// returned closure removes the subscription and is safe to call more than
// once, including from inside a notification.
func (s *Store[T]) Subscribe(fn func(T)) func() {
	s.mu.Lock()
	s.nextID++
	id := s.nextID
	s.subs = append(s.subs, subscriber[T]{id: id, fn: fn})
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		for i, sub := range s.subs {
			if sub.id == id {
				s.subs = append(s.subs[:i], s.subs[i+1:]...)
				return
			}
		}
	}
}

// SubscriberCount returns the number of active subscriptions.
func (s *Store[T]) SubscriberCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.subs)
}
