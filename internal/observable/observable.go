// Package observable provides typed subjects with synchronous delivery in
// subscription order.
//
// Callbacks run on the publishing goroutine. A callback must not subscribe to
// or publish on the subject that is invoking it.
package observable

import "sync"

// Unsubscribe removes a subscription. It is safe to call more than once.
type Unsubscribe func()

type subscriber[T any] struct {
	id uint64
	fn func(T)
}

type subscribers[T any] struct {
	mu     sync.Mutex
	nextID uint64
	list   []subscriber[T]
}

func (s *subscribers[T]) add(fn func(T)) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	s.list = append(s.list, subscriber[T]{id: s.nextID, fn: fn})
	return s.nextID
}

func (s *subscribers[T]) remove(id uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, sub := range s.list {
		if sub.id == id {
			s.list = append(s.list[:i:i], s.list[i+1:]...)
			return
		}
	}
}

func (s *subscribers[T]) snapshot() []subscriber[T] {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]subscriber[T](nil), s.list...)
}

func (s *subscribers[T]) len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.list)
}

// Event broadcasts values to current subscribers only. Nothing is replayed.
type Event[T any] struct {
	deliver sync.Mutex
	subs    subscribers[T]
}

// Subscribe registers fn for future values.
func (e *Event[T]) Subscribe(fn func(T)) Unsubscribe {
	id := e.subs.add(fn)
	var once sync.Once
	return func() { once.Do(func() { e.subs.remove(id) }) }
}

// Publish delivers v to every subscriber in subscription order and returns
// once all of them have run.
func (e *Event[T]) Publish(v T) {
	e.deliver.Lock()
	defer e.deliver.Unlock()
	for _, sub := range e.subs.snapshot() {
		sub.fn(v)
	}
}

// Len returns the number of active subscriptions.
func (e *Event[T]) Len() int { return e.subs.len() }

// Value holds the latest published value and replays it to new subscribers,
// so a late subscriber always observes the current state.
type Value[T any] struct {
	deliver sync.Mutex
	mu      sync.Mutex
	latest  T
	subs    subscribers[T]
}

// NewValue returns a Value seeded with initial.
func NewValue[T any](initial T) *Value[T] {
	return &Value[T]{latest: initial}
}

// Get returns the latest value.
func (v *Value[T]) Get() T {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.latest
}

// Subscribe registers fn and immediately calls it with the latest value.
func (v *Value[T]) Subscribe(fn func(T)) Unsubscribe {
	v.deliver.Lock()
	id := v.subs.add(fn)
	fn(v.Get())
	v.deliver.Unlock()

	var once sync.Once
	return func() { once.Do(func() { v.subs.remove(id) }) }
}

// Publish stores x as the latest value and delivers it to every subscriber
// in subscription order.
func (v *Value[T]) Publish(x T) {
	v.deliver.Lock()
	defer v.deliver.Unlock()

	v.mu.Lock()
	v.latest = x
	v.mu.Unlock()

	for _, sub := range v.subs.snapshot() {
		sub.fn(x)
	}
}

// Len returns the number of active subscriptions.
func (v *Value[T]) Len() int { return v.subs.len() }
