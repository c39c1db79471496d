package buffer

import (
	"sync"
	"time"

	"github.com/c360/labstream/errors"
)

// Ring is a thread-safe circular buffer with configurable overflow
// policies. It backs the inlet receive queue, where the policy is
// DropOldest: a consumer that falls behind loses the oldest samples.
type Ring[T any] struct {
	mu       sync.Mutex
	items    []T
	capacity int
	size     int
	head     int // next write position
	tail     int // next read position
	stats    *Statistics
	metrics  *ringMetrics
	opts     *options[T]

	notEmpty *sync.Cond
	notFull  *sync.Cond
	closed   bool
}

// NewRing creates a ring buffer with the given capacity.
// Returns an error if metrics registration fails when requested.
func NewRing[T any](capacity int, opts ...Option[T]) (*Ring[T], error) {
	if capacity <= 0 {
		capacity = 1
	}

	o := applyOptions(opts...)

	var metrics *ringMetrics
	if o.metricsReg != nil {
		var err error
		metrics, err = newRingMetrics(o.metricsReg, o.component)
		if err != nil {
			return nil, errors.WrapInternal(err, "Ring", "NewRing", "metrics registration")
		}
	}

	r := &Ring[T]{
		items:    make([]T, capacity),
		capacity: capacity,
		stats:    NewStatistics(),
		metrics:  metrics,
		opts:     o,
	}
	r.notEmpty = sync.NewCond(&r.mu)
	r.notFull = sync.NewCond(&r.mu)

	return r, nil
}

// Write adds an item according to the overflow policy.
func (r *Ring[T]) Write(item T) error {
	dropped, err := r.write(item)

	// The callback runs after the lock is released so it may call back
	// into the ring (Size, Stats, even Write).
	if dropped != nil && r.opts.dropCallback != nil {
		r.opts.dropCallback(*dropped)
	}
	return err
}

// write performs the locked part of Write and returns the item the
// overflow policy discarded, if any.
func (r *Ring[T]) write(item T) (*T, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil, errors.WrapInternal(errors.ErrStreamClosed, "Ring", "Write", "buffer closed")
	}

	var dropped *T
	if r.size == r.capacity {
		switch r.opts.overflowPolicy {
		case DropOldest:
			d := r.items[r.tail]
			r.tail = (r.tail + 1) % r.capacity
			r.size--
			dropped = &d

			r.stats.Overflow()
			r.stats.Drop()
			if r.metrics != nil {
				r.metrics.recordOverflow()
				r.metrics.recordDrop()
			}

		case DropNewest:
			r.stats.Overflow()
			r.stats.Drop()
			if r.metrics != nil {
				r.metrics.recordOverflow()
				r.metrics.recordDrop()
			}
			return &item, nil

		case Block:
			for r.size == r.capacity && !r.closed {
				r.notFull.Wait()
			}
			if r.closed {
				return nil, errors.WrapInternal(errors.ErrStreamClosed, "Ring", "Write",
					"buffer closed during blocking wait")
			}
		}
	}

	r.items[r.head] = item
	r.head = (r.head + 1) % r.capacity
	r.size++

	r.stats.Write()
	r.stats.UpdateSize(int64(r.size))
	if r.metrics != nil {
		r.metrics.recordWrite(r.size, r.capacity)
	}

	r.notEmpty.Signal()
	return dropped, nil
}

// Read retrieves and removes one item without blocking.
func (r *Ring[T]) Read() (T, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.pop()
}

// pop removes one item. Caller must hold the lock.
func (r *Ring[T]) pop() (T, bool) {
	var zero T
	if r.size == 0 {
		return zero, false
	}

	item := r.items[r.tail]
	r.items[r.tail] = zero // release for GC
	r.tail = (r.tail + 1) % r.capacity
	r.size--

	r.stats.Read()
	r.stats.UpdateSize(int64(r.size))
	if r.metrics != nil {
		r.metrics.recordRead(r.size, r.capacity)
	}

	r.notFull.Signal()
	return item, true
}

// ReadWait retrieves one item, blocking up to timeout for one to
// arrive. A zero or negative timeout is a non-blocking poll. Expiry
// returns the zero value and false; it is not an error.
func (r *Ring[T]) ReadWait(timeout time.Duration) (T, bool) {
	if timeout <= 0 {
		return r.Read()
	}

	deadline := time.Now().Add(timeout)

	r.mu.Lock()
	defer r.mu.Unlock()

	for r.size == 0 && !r.closed {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			var zero T
			return zero, false
		}
		// Wake ourselves when the deadline passes; Broadcast is safe
		// without holding the lock.
		t := time.AfterFunc(remaining, r.notEmpty.Broadcast)
		r.notEmpty.Wait()
		t.Stop()
	}

	return r.pop()
}

// ReadBatch retrieves and removes up to max items without blocking.
func (r *Ring[T]) ReadBatch(max int) []T {
	if max <= 0 {
		return nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	return r.popBatch(max)
}

// ReadBatchWait retrieves up to max items, blocking up to timeout for
// at least one to arrive. Once any item is present the available items
// are drained without further waiting.
func (r *Ring[T]) ReadBatchWait(timeout time.Duration, max int) []T {
	if max <= 0 {
		return nil
	}
	if timeout <= 0 {
		return r.ReadBatch(max)
	}

	deadline := time.Now().Add(timeout)

	r.mu.Lock()
	defer r.mu.Unlock()

	for r.size == 0 && !r.closed {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil
		}
		t := time.AfterFunc(remaining, r.notEmpty.Broadcast)
		r.notEmpty.Wait()
		t.Stop()
	}

	return r.popBatch(max)
}

// popBatch removes up to max items. Caller must hold the lock.
func (r *Ring[T]) popBatch(max int) []T {
	if r.size == 0 {
		return nil
	}

	n := max
	if n > r.size {
		n = r.size
	}

	result := make([]T, n)
	var zero T
	for i := 0; i < n; i++ {
		result[i] = r.items[r.tail]
		r.items[r.tail] = zero
		r.tail = (r.tail + 1) % r.capacity
		r.size--
		r.stats.Read()
	}

	r.stats.UpdateSize(int64(r.size))
	if r.metrics != nil {
		r.metrics.updateSize(r.size, r.capacity)
	}

	for i := 0; i < n; i++ {
		r.notFull.Signal()
	}
	return result
}

// Peek retrieves one item without removing it.
func (r *Ring[T]) Peek() (T, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var zero T
	if r.size == 0 {
		return zero, false
	}
	return r.items[r.tail], true
}

// Size returns the current number of buffered items.
func (r *Ring[T]) Size() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.size
}

// Capacity returns the maximum number of items the ring can hold.
func (r *Ring[T]) Capacity() int {
	return r.capacity
}

// IsEmpty returns true if the ring contains no items.
func (r *Ring[T]) IsEmpty() bool {
	return r.Size() == 0
}

// IsFull returns true if the ring is at capacity.
func (r *Ring[T]) IsFull() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.size == r.capacity
}

// Clear removes all items and returns how many were discarded.
func (r *Ring[T]) Clear() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := r.size

	var zero T
	for i := 0; i < r.capacity; i++ {
		r.items[i] = zero
	}
	r.head = 0
	r.tail = 0
	r.size = 0

	r.stats.AddDrops(int64(n))
	r.stats.UpdateSize(0)
	if r.metrics != nil {
		r.metrics.recordDrops(n)
		r.metrics.updateSize(0, r.capacity)
	}

	r.notFull.Broadcast()
	return n
}

// Stats returns the buffer statistics.
func (r *Ring[T]) Stats() *Statistics {
	return r.stats
}

// Close shuts down the ring and wakes all blocked readers and writers.
// Buffered items remain readable; writes fail after close.
func (r *Ring[T]) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil
	}
	r.closed = true

	r.notEmpty.Broadcast()
	r.notFull.Broadcast()
	return nil
}
