// Package fifo provides the bounded blocking queue used to hand batches of
// work between the hoarder workers. Handing a value across the queue
// transfers ownership: the sender must not touch it again after a
// successful push.
package fifo

import (
	"context"
	"errors"
	"sync"
	"time"
)

var (
	// ErrEmpty is returned by TryPop when the queue holds no element.
	ErrEmpty = errors.New("fifo: empty")
	// ErrTimeout is returned when a push or pop timed out.
	ErrTimeout = errors.New("fifo: timeout")
)

// FIFO is a fixed-capacity, strictly-ordered, thread-safe queue.
//
// A ring buffer holds the elements; one mutex guards the ring and two
// counting semaphores (buffered channels) make push block when the queue
// is full and pop block when it is empty. Neither operation ever spins.
type FIFO[T any] struct {
	mu       sync.Mutex
	buf      []T
	readIdx  int
	writeIdx int

	slots chan struct{} // free-slot tokens, acquired by push
	items chan struct{} // element tokens, acquired by pop
}

// New creates a FIFO with the given capacity. Capacity must be positive.
func New[T any](capacity int) *FIFO[T] {
	if capacity <= 0 {
		panic("fifo: capacity must be positive")
	}
	f := &FIFO[T]{
		buf:   make([]T, capacity),
		slots: make(chan struct{}, capacity),
		items: make(chan struct{}, capacity),
	}
	for i := 0; i < capacity; i++ {
		f.slots <- struct{}{}
	}
	return f
}

// Cap returns the fixed capacity of the queue.
func (f *FIFO[T]) Cap() int { return cap(f.buf) }

// Len returns the number of queued elements.
func (f *FIFO[T]) Len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.items)
}

// Push appends v, blocking while the queue is full. A zero timeout waits
// until a slot frees up or ctx is done.
func (f *FIFO[T]) Push(ctx context.Context, v T, timeout time.Duration) error {
	if err := f.acquire(ctx, f.slots, timeout); err != nil {
		return err
	}
	f.mu.Lock()
	f.buf[f.writeIdx] = v
	f.writeIdx = (f.writeIdx + 1) % len(f.buf)
	f.mu.Unlock()
	f.items <- struct{}{}
	return nil
}

// Pop removes and returns the oldest element, blocking while the queue is
// empty. A zero timeout waits until an element arrives or ctx is done.
func (f *FIFO[T]) Pop(ctx context.Context, timeout time.Duration) (T, error) {
	var zero T
	if err := f.acquire(ctx, f.items, timeout); err != nil {
		return zero, err
	}
	return f.take(), nil
}

// TryPop removes and returns the oldest element without blocking. It
// returns ErrEmpty when nothing is queued.
func (f *FIFO[T]) TryPop() (T, error) {
	var zero T
	select {
	case <-f.items:
	default:
		return zero, ErrEmpty
	}
	return f.take(), nil
}

func (f *FIFO[T]) take() T {
	f.mu.Lock()
	v := f.buf[f.readIdx]
	var zero T
	f.buf[f.readIdx] = zero // drop the reference, ownership moved out
	f.readIdx = (f.readIdx + 1) % len(f.buf)
	f.mu.Unlock()
	f.slots <- struct{}{}
	return v
}

func (f *FIFO[T]) acquire(ctx context.Context, sem chan struct{}, timeout time.Duration) error {
	if timeout == 0 {
		select {
		case <-sem:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-sem:
		return nil
	case <-timer.C:
		return ErrTimeout
	case <-ctx.Done():
		return ctx.Err()
	}
}
