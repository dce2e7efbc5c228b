package driver

import (
	"context"
	"sync"
)

// Future is a value that is resolved at most once.
type Future[T any] struct {
	once  sync.Once
	done  chan struct{}
	value T
}

func newFuture[T any]() *Future[T] {
	return &Future[T]{done: make(chan struct{})}
}

// resolve stores v and releases waiters. Only the first call has an effect.
func (f *Future[T]) resolve(v T) bool {
	resolved := false
	f.once.Do(func() {
		f.value = v
		close(f.done)
		resolved = true
	})
	return resolved
}

// Done is closed once the Future holds a value.
func (f *Future[T]) Done() <-chan struct{} {
	return f.done
}

// Resolved reports whether the value is available without blocking.
func (f *Future[T]) Resolved() bool {
	select {
	case <-f.done:
		return true
	default:
		return false
	}
}

// Wait blocks until the value is available or ctx ends. A cancelled wait
// leaves the Future pending; a later Wait may still observe the value.
func (f *Future[T]) Wait(ctx context.Context) (T, error) {
	select {
	case <-f.done:
		return f.value, nil
	default:
	}
	select {
	case <-f.done:
		return f.value, nil
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}
