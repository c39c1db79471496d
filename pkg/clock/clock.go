// Package clock provides the process-wide monotonic clock used for
// sample timestamping and as the local reference of the clock
// synchronization engine.
//
// Readings are seconds since an arbitrary per-process anchor with
// sub-millisecond resolution. They advance monotonically even when the
// host wall clock jumps; a wall-clock jump is instead surfaced through
// WasReset so that callers combining offsets across restarts can
// discard estimates that straddle a reset.
package clock

import (
	"sync"
	"time"
)

// resetThreshold is the wall-clock divergence, in seconds, treated as a
// host clock reset rather than ordinary NTP slewing.
const resetThreshold = 1.0

type service struct {
	mu sync.Mutex

	// origin carries the monotonic reading all Now() values are
	// measured from.
	origin time.Time

	// wallAnchor is the wall-clock time observed at the last anchor
	// point, used to detect jumps of the host clock.
	wallAnchor time.Time
	monoAnchor float64

	resets uint64
}

var svc = newService()

func newService() *service {
	now := time.Now()
	return &service{
		origin:     now,
		wallAnchor: now.Round(0), // strip the monotonic reading
	}
}

// Now returns the current local clock reading in seconds.
func Now() float64 {
	return svc.now()
}

func (s *service) now() float64 {
	return time.Since(s.origin).Seconds()
}

// WallOffset returns the current difference between the host wall clock
// and the monotonic clock, in seconds. The absolute value is arbitrary;
// changes in it indicate host clock adjustments.
func WallOffset() float64 {
	return svc.wallOffset()
}

func (s *service) wallOffset() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.wallOffsetLocked()
}

func (s *service) wallOffsetLocked() float64 {
	wallElapsed := time.Now().Round(0).Sub(s.wallAnchor).Seconds()
	monoElapsed := s.now() - s.monoAnchor
	return wallElapsed - monoElapsed
}

// WasReset reports whether the host wall clock jumped by more than the
// reset threshold since the last call. Each detected jump re-anchors
// the detector, so a single jump is reported exactly once.
func WasReset() bool {
	return svc.wasReset()
}

func (s *service) wasReset() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	drift := s.wallOffsetLocked()
	if drift < resetThreshold && drift > -resetThreshold {
		return false
	}

	// Re-anchor so subsequent calls measure from the post-jump clock.
	s.wallAnchor = time.Now().Round(0)
	s.monoAnchor = s.now()
	s.resets++
	return true
}

// ResetCount returns the number of host clock resets detected so far.
func ResetCount() uint64 {
	svc.mu.Lock()
	defer svc.mu.Unlock()
	return svc.resets
}
