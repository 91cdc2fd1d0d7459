// Package state holds small observable in-memory values shared between the
// sync engine and its collaborators (sync status, the signed-in user).
package state

import "sync"

// Resetter is anything that can return to its initial state.
type Resetter interface {
	Reset()
}

// Value is a mutex-guarded value with change subscribers.
type Value[T any] struct {
	mu      sync.RWMutex
	initial T
	v       T
	nextID  int
	subs    map[int]func(T)
}

func NewValue[T any](initial T) *Value[T] {
	return &Value[T]{initial: initial, v: initial, subs: make(map[int]func(T))}
}

func (s *Value[T]) Get() T {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.v
}

// Set stores v and notifies subscribers synchronously, outside the lock.
func (s *Value[T]) Set(v T) {
	s.mu.Lock()
	s.v = v
	subs := s.snapshot()
	s.mu.Unlock()

	for _, fn := range subs {
		fn(v)
	}
}

// Update applies fn to the current value atomically.
func (s *Value[T]) Update(fn func(T) T) {
	s.mu.Lock()
	s.v = fn(s.v)
	v := s.v
	subs := s.snapshot()
	s.mu.Unlock()

	for _, sub := range subs {
		sub(v)
	}
}

// Subscribe registers fn; the returned func unsubscribes.
func (s *Value[T]) Subscribe(fn func(T)) (unsubscribe func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.nextID
	s.nextID++
	s.subs[id] = fn
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.subs, id)
	}
}

// Reset restores the initial value and notifies subscribers.
func (s *Value[T]) Reset() {
	s.Set(s.initial)
}

func (s *Value[T]) snapshot() []func(T) {
	out := make([]func(T), 0, len(s.subs))
	for _, fn := range s.subs {
		out = append(out, fn)
	}
	return out
}

// Registry tracks containers that must be cleared on logout.
type Registry struct {
	mu    sync.Mutex
	items []Resetter
}

func (r *Registry) Add(items ...Resetter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.items = append(r.items, items...)
}

// ResetAll resets every registered container in registration order.
func (r *Registry) ResetAll() {
	r.mu.Lock()
	items := append([]Resetter(nil), r.items...)
	r.mu.Unlock()

	for _, it := range items {
		it.Reset()
	}
}
