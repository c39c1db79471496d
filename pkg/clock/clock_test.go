package clock

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNowAdvances(t *testing.T) {
	t0 := Now()
	time.Sleep(5 * time.Millisecond)
	t1 := Now()

	assert.Greater(t, t1, t0)
	// The elapsed reading should be within an order of magnitude of
	// the sleep; scheduling noise makes a tight bound flaky.
	assert.Less(t, t1-t0, 1.0)
}

func TestNowSubMillisecondResolution(t *testing.T) {
	// Two immediate readings must not be quantized to the same
	// millisecond forever; spin briefly and expect a change well
	// below 1ms.
	t0 := Now()
	var t1 float64
	for i := 0; i < 1_000_000; i++ {
		t1 = Now()
		if t1 != t0 {
			break
		}
	}
	require.NotEqual(t, t0, t1)
	assert.Less(t, t1-t0, 0.001)
}

func TestWasResetStableClock(t *testing.T) {
	// On a stable host clock no reset may be reported.
	assert.False(t, WasReset())
	time.Sleep(2 * time.Millisecond)
	assert.False(t, WasReset())
}

func TestWasResetDetectsJump(t *testing.T) {
	s := newService()

	assert.False(t, s.wasReset())

	// Simulate a 5 second backwards host clock jump by shifting the
	// wall anchor forward.
	s.mu.Lock()
	s.wallAnchor = s.wallAnchor.Add(5 * time.Second)
	s.mu.Unlock()

	assert.True(t, s.wasReset())
	// Reported exactly once: the detector re-anchors after a jump.
	assert.False(t, s.wasReset())
	assert.Equal(t, uint64(1), s.resets)
}

func TestWallOffsetNearZeroAfterAnchor(t *testing.T) {
	s := newService()
	off := s.wallOffset()
	assert.InDelta(t, 0.0, off, 0.1)
}
