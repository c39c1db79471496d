package buffer

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRingWriteRead(t *testing.T) {
	r, err := NewRing[int](4)
	require.NoError(t, err)

	for i := 1; i <= 3; i++ {
		require.NoError(t, r.Write(i))
	}

	assert.Equal(t, 3, r.Size())

	for i := 1; i <= 3; i++ {
		v, ok := r.Read()
		require.True(t, ok)
		assert.Equal(t, i, v)
	}

	_, ok := r.Read()
	assert.False(t, ok)
	assert.True(t, r.IsEmpty())
}

func TestRingDropOldest(t *testing.T) {
	var dropped []int
	r, err := NewRing[int](3,
		WithOverflowPolicy[int](DropOldest),
		WithDropCallback[int](func(v int) { dropped = append(dropped, v) }),
	)
	require.NoError(t, err)

	for i := 1; i <= 5; i++ {
		require.NoError(t, r.Write(i))
	}

	// Oldest two evicted, newest three retained in order.
	assert.Equal(t, []int{1, 2}, dropped)
	assert.Equal(t, []int{3, 4, 5}, r.ReadBatch(10))
	assert.Equal(t, int64(2), r.Stats().Drops())
}

func TestRingDropCallbackMayReenterRing(t *testing.T) {
	// The callback runs outside the ring lock, so it may call back
	// into the ring without deadlocking.
	sizes := make(chan int, 4)
	var r *Ring[int]
	var err error
	r, err = NewRing[int](2,
		WithOverflowPolicy[int](DropOldest),
		WithDropCallback[int](func(int) { sizes <- r.Size() }),
	)
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 1; i <= 4; i++ {
			assert.NoError(t, r.Write(i))
		}
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("drop callback blocked the writer")
	}
	assert.Len(t, sizes, 2)
	for len(sizes) > 0 {
		assert.Equal(t, 2, <-sizes, "eviction already happened when the callback ran")
	}
}

func TestRingDropNewestCallbackMayReenterRing(t *testing.T) {
	reentered := make(chan bool, 1)
	var r *Ring[int]
	var err error
	r, err = NewRing[int](1,
		WithOverflowPolicy[int](DropNewest),
		WithDropCallback[int](func(int) { reentered <- r.IsFull() }),
	)
	require.NoError(t, err)

	require.NoError(t, r.Write(1))
	done := make(chan struct{})
	go func() {
		defer close(done)
		assert.NoError(t, r.Write(2)) // rejected, triggers the callback
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("drop callback blocked the writer")
	}
	assert.True(t, <-reentered)
}

func TestRingDropNewest(t *testing.T) {
	r, err := NewRing[int](2, WithOverflowPolicy[int](DropNewest))
	require.NoError(t, err)

	require.NoError(t, r.Write(1))
	require.NoError(t, r.Write(2))
	require.NoError(t, r.Write(3)) // rejected

	assert.Equal(t, []int{1, 2}, r.ReadBatch(10))
}

func TestRingReadWaitDeliversLateWrite(t *testing.T) {
	r, err := NewRing[string](4)
	require.NoError(t, err)

	go func() {
		time.Sleep(20 * time.Millisecond)
		_ = r.Write("hello")
	}()

	v, ok := r.ReadWait(time.Second)
	require.True(t, ok)
	assert.Equal(t, "hello", v)
}

func TestRingReadWaitTimesOutEmpty(t *testing.T) {
	r, err := NewRing[int](4)
	require.NoError(t, err)

	start := time.Now()
	_, ok := r.ReadWait(30 * time.Millisecond)
	elapsed := time.Since(start)

	assert.False(t, ok)
	assert.GreaterOrEqual(t, elapsed, 25*time.Millisecond)
	assert.Less(t, elapsed, time.Second)
}

func TestRingReadWaitZeroIsPoll(t *testing.T) {
	r, err := NewRing[int](4)
	require.NoError(t, err)

	start := time.Now()
	_, ok := r.ReadWait(0)
	assert.False(t, ok)
	assert.Less(t, time.Since(start), 10*time.Millisecond)
}

func TestRingReadBatchWait(t *testing.T) {
	r, err := NewRing[int](8)
	require.NoError(t, err)

	go func() {
		time.Sleep(10 * time.Millisecond)
		for i := 0; i < 5; i++ {
			_ = r.Write(i)
		}
	}()

	batch := r.ReadBatchWait(time.Second, 3)
	// At least one item; never more than requested.
	require.NotEmpty(t, batch)
	assert.LessOrEqual(t, len(batch), 3)
	assert.Equal(t, 0, batch[0])
}

func TestRingClearReturnsDropCount(t *testing.T) {
	r, err := NewRing[int](8)
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		require.NoError(t, r.Write(i))
	}

	assert.Equal(t, 5, r.Clear())
	assert.Equal(t, 0, r.Clear())
	assert.True(t, r.IsEmpty())
}

func TestRingCloseUnblocksReader(t *testing.T) {
	r, err := NewRing[int](4)
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, ok := r.ReadWait(10 * time.Second)
		assert.False(t, ok)
	}()

	time.Sleep(10 * time.Millisecond)
	require.NoError(t, r.Close())

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("reader was not unblocked by Close")
	}
}

func TestRingWriteAfterCloseFails(t *testing.T) {
	r, err := NewRing[int](4)
	require.NoError(t, err)
	require.NoError(t, r.Close())

	assert.Error(t, r.Write(1))
}

func TestRingConcurrentAccess(t *testing.T) {
	r, err := NewRing[int](128)
	require.NoError(t, err)

	const writers = 4
	const perWriter = 250

	var wg sync.WaitGroup
	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perWriter; i++ {
				_ = r.Write(i)
			}
		}()
	}

	// Concurrent reader draining while writers run.
	read := 0
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			batch := r.ReadBatchWait(50*time.Millisecond, 64)
			if batch == nil {
				return
			}
			read += len(batch)
		}
	}()

	wg.Wait()
	<-done

	// Drain anything the reader left behind after its final timeout.
	read += len(r.ReadBatch(writers * perWriter))

	// DropOldest may evict under pressure; reads plus drops must
	// account for every write.
	total := int64(read) + r.Stats().Drops()
	assert.Equal(t, int64(writers*perWriter), total)
}
