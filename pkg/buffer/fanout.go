package buffer

import (
	"sync"
	"time"
)

// FanoutRing is a bounded ring written by a single producer and read
// through independently advancing cursors, one per connected consumer.
// A cursor that falls more than the ring's capacity behind the writer
// loses its oldest unread items; the writer is never blocked.
type FanoutRing[T any] struct {
	mu    sync.Mutex
	avail *sync.Cond

	items    []T
	capacity int
	head     uint64 // absolute index of the next write

	cursors map[int]*cursor
	nextID  int
	closed  bool

	stats *Statistics
}

type cursor struct {
	pos     uint64 // absolute index of the next unread item
	dropped uint64
}

// NewFanoutRing creates a fan-out ring with the given capacity.
func NewFanoutRing[T any](capacity int) *FanoutRing[T] {
	if capacity <= 0 {
		capacity = 1
	}
	f := &FanoutRing[T]{
		items:    make([]T, capacity),
		capacity: capacity,
		cursors:  make(map[int]*cursor),
		stats:    NewStatistics(),
	}
	f.avail = sync.NewCond(&f.mu)
	return f
}

// Write appends one item, evicting the oldest unread item of any
// cursor that has fallen a full capacity behind.
func (f *FanoutRing[T]) Write(item T) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return
	}
	f.writeLocked(item)
	f.avail.Broadcast()
}

// WriteBatch appends items in order with a single wakeup.
func (f *FanoutRing[T]) WriteBatch(items []T) {
	if len(items) == 0 {
		return
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return
	}
	for _, item := range items {
		f.writeLocked(item)
	}
	f.avail.Broadcast()
}

func (f *FanoutRing[T]) writeLocked(item T) {
	f.items[f.head%uint64(f.capacity)] = item
	f.head++
	f.stats.Write()

	// Advance lagging cursors past the overwritten slot.
	for _, c := range f.cursors {
		if f.head-c.pos > uint64(f.capacity) {
			evicted := f.head - uint64(f.capacity) - c.pos
			c.pos = f.head - uint64(f.capacity)
			c.dropped += evicted
			f.stats.AddDrops(int64(evicted))
		}
	}
}

// Attach registers a new cursor positioned at the current write head,
// so it observes only items written after attachment. It returns the
// cursor id used by the read methods.
func (f *FanoutRing[T]) Attach() int {
	f.mu.Lock()
	defer f.mu.Unlock()

	id := f.nextID
	f.nextID++
	f.cursors[id] = &cursor{pos: f.head}
	return id
}

// Detach removes a cursor. Reads with a detached id return nothing.
func (f *FanoutRing[T]) Detach(id int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.cursors, id)
}

// ReadBatch returns up to max unread items for the cursor without
// blocking, advancing the cursor past them.
func (f *FanoutRing[T]) ReadBatch(id, max int) []T {
	if max <= 0 {
		return nil
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	return f.readLocked(id, max)
}

// ReadBatchWait returns up to max unread items, blocking up to timeout
// for at least one to become available. A closed ring or a detached
// cursor unblocks the wait immediately.
func (f *FanoutRing[T]) ReadBatchWait(id, max int, timeout time.Duration) []T {
	if max <= 0 {
		return nil
	}
	if timeout <= 0 {
		return f.ReadBatch(id, max)
	}

	deadline := time.Now().Add(timeout)

	f.mu.Lock()
	defer f.mu.Unlock()

	for !f.closed {
		c, ok := f.cursors[id]
		if !ok {
			return nil
		}
		if f.head > c.pos {
			break
		}
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil
		}
		t := time.AfterFunc(remaining, f.avail.Broadcast)
		f.avail.Wait()
		t.Stop()
	}

	return f.readLocked(id, max)
}

// readLocked drains up to max items for a cursor. Caller holds the lock.
func (f *FanoutRing[T]) readLocked(id, max int) []T {
	c, ok := f.cursors[id]
	if !ok {
		return nil
	}

	available := int(f.head - c.pos)
	if available == 0 {
		return nil
	}
	n := max
	if n > available {
		n = available
	}

	result := make([]T, n)
	for i := 0; i < n; i++ {
		result[i] = f.items[c.pos%uint64(f.capacity)]
		c.pos++
		f.stats.Read()
	}
	return result
}

// Available returns how many unread items the cursor currently has.
func (f *FanoutRing[T]) Available(id int) int {
	f.mu.Lock()
	defer f.mu.Unlock()

	c, ok := f.cursors[id]
	if !ok {
		return 0
	}
	return int(f.head - c.pos)
}

// Dropped returns how many items the cursor has lost to eviction.
func (f *FanoutRing[T]) Dropped(id int) uint64 {
	f.mu.Lock()
	defer f.mu.Unlock()

	c, ok := f.cursors[id]
	if !ok {
		return 0
	}
	return c.dropped
}

// Consumers returns the number of attached cursors.
func (f *FanoutRing[T]) Consumers() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.cursors)
}

// Stats returns the ring statistics.
func (f *FanoutRing[T]) Stats() *Statistics {
	return f.stats
}

// Close shuts down the ring and wakes all blocked readers.
func (f *FanoutRing[T]) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return
	}
	f.closed = true
	f.avail.Broadcast()
}
