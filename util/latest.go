package util

import "sync"

// Latest keeps only the most recent value published to it and wakes a
// single waiter. Values published before the waiter got around to read
// are coalesced.
type Latest[T any] struct {
	mu     sync.Mutex
	value  T
	notify chan struct{}
}

func NewLatest[T any]() *Latest[T] {
	return &Latest[T]{notify: make(chan struct{}, 1)}
}

// Publish replaces the value and never blocks.
func (l *Latest[T]) Publish(v T) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.value = v
	select {
	case l.notify <- struct{}{}:
	default:
	}
}

// Notify fires once per batch of Publish calls.
func (l *Latest[T]) Notify() <-chan struct{} {
	return l.notify
}

func (l *Latest[T]) Value() T {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.value
}

// Pending reports whether a notification waits to be consumed.
func (l *Latest[T]) Pending() bool {
	return len(l.notify) > 0
}
