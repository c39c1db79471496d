// Package timesync estimates the offset between the local clock and a
// remote stream's clock, and post-processes inbound timestamps into
// the local time domain.
//
// Offsets come from round-trip probes: the peer echoes the probe's
// send time together with its own clock reading, and the offset
// estimate assumes the outbound and return legs are symmetric. Probes
// with a long round trip are discarded since their asymmetry bound is
// useless.
package timesync

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/c360/labstream/config"
	"github.com/c360/labstream/errors"
	"github.com/c360/labstream/metric"
	"github.com/c360/labstream/pkg/clock"
)

// ProbeFunc performs one clock probe round trip and reports the local
// send time t0, the remote clock reading, and the local receive time
// t1. The session layer supplies this over its data connection.
type ProbeFunc func(ctx context.Context) (t0, tRemote, t1 float64, err error)

// remoteJumpThreshold is the offset step, in seconds, treated as a
// remote clock reset rather than drift.
const remoteJumpThreshold = 1.0

// Synchronizer maintains a running offset estimate to one remote
// stream. Start launches the background measurement loop; the first
// completed burst unblocks TimeCorrection.
type Synchronizer struct {
	cfg     config.SyncConfig
	log     *slog.Logger
	metrics *metric.EngineMetrics
	stream  string
	probe   ProbeFunc

	mu         sync.Mutex
	offset     float64
	rtt        float64
	haveOffset bool
	resetSeen  bool

	first  chan struct{}
	cancel context.CancelFunc
	group  *errgroup.Group
}

// NewSynchronizer builds a synchronizer for one stream. The stream
// name labels its metrics.
func NewSynchronizer(cfg config.SyncConfig, log *slog.Logger, m *metric.EngineMetrics,
	stream string, probe ProbeFunc) *Synchronizer {

	return &Synchronizer{
		cfg:     cfg,
		log:     log.With("component", "timesync", "stream", stream),
		metrics: m,
		stream:  stream,
		probe:   probe,
		first:   make(chan struct{}),
	}
}

// Start launches the background measurement loop. The first burst runs
// immediately, subsequent bursts at the configured interval.
func (s *Synchronizer) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.group, ctx = errgroup.WithContext(ctx)

	s.group.Go(func() error {
		ticker := time.NewTicker(s.cfg.Interval)
		defer ticker.Stop()

		s.measure(ctx)
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
				s.measure(ctx)
			}
		}
	})
}

// Close stops the measurement loop.
func (s *Synchronizer) Close() error {
	if s.cancel == nil {
		return nil
	}
	s.cancel()
	return s.group.Wait()
}

// TimeCorrection returns the current offset estimate: add it to a
// remote timestamp to map it into the local clock domain. The first
// call may block until the initial measurement burst completes, up to
// the timeout; afterwards the cached estimate returns immediately.
func (s *Synchronizer) TimeCorrection(ctx context.Context, timeout time.Duration) (float64, error) {
	s.mu.Lock()
	if s.haveOffset {
		offset := s.offset
		s.mu.Unlock()
		return offset, nil
	}
	s.mu.Unlock()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-s.first:
		s.mu.Lock()
		offset := s.offset
		s.mu.Unlock()
		return offset, nil
	case <-ctx.Done():
		return 0, errors.WrapTimeout(ctx.Err(), "Synchronizer", "TimeCorrection", "context done")
	case <-timer.C:
		return 0, errors.WrapTimeout(errors.ErrTimeout, "Synchronizer", "TimeCorrection",
			"no measurement within timeout")
	}
}

// Offset returns the current estimate without blocking, or zero when
// no burst has completed yet. Post-processing chains consult this on
// every sample and must never wait.
func (s *Synchronizer) Offset() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.offset
}

// RTT returns the round-trip estimate of the last completed burst.
func (s *Synchronizer) RTT() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rtt
}

// WasClockReset reports whether the local or the remote clock jumped
// since the previous call. Each jump is reported exactly once;
// consumers discard their dejitter history when it fires.
func (s *Synchronizer) WasClockReset() bool {
	local := clock.WasReset()

	s.mu.Lock()
	remote := s.resetSeen
	s.resetSeen = false
	s.mu.Unlock()

	return local || remote
}

// measure runs one probe burst and folds the result into the estimate.
func (s *Synchronizer) measure(ctx context.Context) {
	offsets := make([]float64, 0, s.cfg.Probes)
	rtts := make([]float64, 0, s.cfg.Probes)
	cutoff := s.cfg.RTTCutoff.Seconds()

	for i := 0; i < s.cfg.Probes; i++ {
		if ctx.Err() != nil {
			return
		}
		t0, tRemote, t1, err := s.probe(ctx)
		if err != nil {
			s.log.Debug("clock probe failed", "error", err)
			continue
		}
		rtt := t1 - t0
		if rtt < 0 {
			continue
		}
		s.metrics.ClockProbeRTT.Observe(rtt)
		if cutoff > 0 && rtt > cutoff {
			continue
		}
		offsets = append(offsets, tRemote-(t0+t1)/2)
		rtts = append(rtts, rtt)
	}
	if len(offsets) == 0 {
		s.log.Debug("measurement burst yielded no usable probes")
		return
	}

	offset := median(offsets)
	rtt := median(rtts)

	s.mu.Lock()
	if s.haveOffset && abs(offset-s.offset) > remoteJumpThreshold {
		s.resetSeen = true
		s.log.Warn("remote clock jump detected",
			"previous_offset", s.offset, "new_offset", offset)
	}
	firstBurst := !s.haveOffset
	s.offset = offset
	s.rtt = rtt
	s.haveOffset = true
	s.mu.Unlock()

	s.metrics.ClockOffset.WithLabelValues(s.stream).Set(offset)
	if firstBurst {
		close(s.first)
	}
}

func median(v []float64) float64 {
	sorted := make([]float64, len(v))
	copy(sorted, v)
	sort.Float64s(sorted)
	n := len(sorted)
	if n%2 == 1 {
		return sorted[n/2]
	}
	return (sorted[n/2-1] + sorted[n/2]) / 2
}

func abs(x float64) float64 {
	if x < 0 {
		return -x
	}
	return x
}
