package util

import "sync"

// Latest is a mailbox holding only the most recent value. Send never
// blocks, so a slow consumer skips intermediate values instead of
// stalling the producer.
type Latest[T any] struct {
	mu     sync.Mutex
	value  T
	notify chan struct{}
}

func NewLatest[T any]() *Latest[T] {
	return &Latest[T]{notify: make(chan struct{}, 1)}
}

// Send replaces the held value and flags it as pending.
func (l *Latest[T]) Send(v T) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.value = v
	select {
	case l.notify <- struct{}{}:
	default:
	}
}

// C signals that a value was sent since the last receive from it.
func (l *Latest[T]) C() <-chan struct{} {
	return l.notify
}

// Value returns the most recent value.
func (l *Latest[T]) Value() T {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.value
}

// Pending reports a waiting notification without consuming it.
func (l *Latest[T]) Pending() bool {
	return len(l.notify) > 0
}
