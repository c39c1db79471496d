package transport

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/c360/labstream/config"
	"github.com/c360/labstream/descriptor"
	"github.com/c360/labstream/discovery"
	"github.com/c360/labstream/errors"
	"github.com/c360/labstream/metric"
	"github.com/c360/labstream/pkg/buffer"
	"github.com/c360/labstream/pkg/clock"
	"github.com/c360/labstream/pkg/retry"
	"github.com/c360/labstream/timesync"
	"github.com/c360/labstream/wire"
)

// probeTimeout bounds one clock probe round trip.
const probeTimeout = time.Second

// InletOption tunes inlet construction.
type InletOption func(*inletOptions)

type inletOptions struct {
	bufferCap int
	recover   bool
	flags     timesync.ProcessingFlags
	endpoint  string
}

// WithRecovery controls silent session recovery. It is on by default
// and only effective for streams declaring a stable source id.
func WithRecovery(enabled bool) InletOption {
	return func(o *inletOptions) { o.recover = enabled }
}

// WithProcessing selects the timestamp transformations applied to
// delivered samples.
func WithProcessing(flags timesync.ProcessingFlags) InletOption {
	return func(o *inletOptions) { o.flags = flags }
}

// WithBufferCapacity overrides the receive buffer size in samples.
func WithBufferCapacity(n int) InletOption {
	return func(o *inletOptions) { o.bufferCap = n }
}

// WithEndpoint overrides the endpoint to dial, bypassing the
// resolver's annotation.
func WithEndpoint(ep string) InletOption {
	return func(o *inletOptions) { o.endpoint = ep }
}

// Inlet consumes one stream. It buffers inbound samples so slow pulls
// lose the oldest data rather than stall the producer, runs clock
// probes in the background, and transparently recovers the session
// when a source-identified stream's host restarts.
type Inlet struct {
	cfg     config.Config
	log     *slog.Logger
	metrics *metric.EngineMetrics

	resolver *discovery.Resolver
	opts     inletOptions

	// name and sourceID are stable across recovery and safe to read
	// without the lock; desc may be swapped by a reconnect.
	name     string
	sourceID string

	desc  *descriptor.StreamDescriptor
	codec wire.Codec
	ring  *buffer.Ring[sample]
	sync  *timesync.Synchronizer
	proc  *timesync.Processor

	mu    sync.Mutex
	state SessionState
	conn  net.Conn

	writeMu sync.Mutex
	fw      *wire.FrameWriter

	pongCh chan pongReply
	infoCh chan []byte

	cancel context.CancelFunc
	group  *errgroup.Group
}

type pongReply struct {
	echo   float64
	remote float64
}

// NewInlet connects to the stream described by d. The descriptor
// normally comes from a resolve and carries the outlet's endpoint
// annotation; WithEndpoint overrides it. The returned inlet is
// receiving before NewInlet returns.
func NewInlet(deps Deps, d *descriptor.StreamDescriptor, opts ...InletOption) (*Inlet, error) {
	options := inletOptions{recover: true}
	for _, opt := range opts {
		opt(&options)
	}

	endpoint := options.endpoint
	if endpoint == "" {
		endpoint = d.Endpoint()
	}
	if endpoint == "" {
		return nil, errors.WrapInvalid(
			fmt.Errorf("descriptor has no endpoint and none was given: %w", errors.ErrInvalidArgument),
			"Inlet", "NewInlet", "endpoint validation")
	}

	codec, err := wire.NewCodec(d.Format(), d.ChannelCount())
	if err != nil {
		return nil, err
	}

	if options.bufferCap == 0 {
		options.bufferCap = bufferCapacity(d.NominalRate(), defaultBufferSeconds)
	}
	ring, err := buffer.NewRing[sample](options.bufferCap,
		buffer.WithOverflowPolicy[sample](buffer.DropOldest))
	if err != nil {
		return nil, err
	}

	in := &Inlet{
		cfg:      deps.Config,
		log:      deps.Log.With("component", "inlet", "stream", d.Name()),
		metrics:  deps.Metrics,
		resolver: deps.Resolver,
		opts:     options,
		codec:    codec,
		ring:     ring,
		state:    StateConnected,
		pongCh:   make(chan pongReply, 8),
		infoCh:   make(chan []byte, 1),
	}

	conn, full, err := in.connect(endpoint, d)
	if err != nil {
		return nil, err
	}
	in.conn = conn
	in.fw = wire.NewFrameWriter(conn)
	in.desc = full
	in.name = full.Name()
	in.sourceID = full.SourceID()

	in.sync = timesync.NewSynchronizer(deps.Config.Sync, deps.Log, deps.Metrics,
		full.Name(), in.clockProbe)
	in.proc = timesync.NewProcessor(options.flags, full.NominalRate(), in.sync.Offset)

	ctx, cancel := context.WithCancel(context.Background())
	in.cancel = cancel
	in.group, ctx = errgroup.WithContext(ctx)
	in.group.Go(func() error { in.runSession(ctx); return nil })
	in.group.Go(func() error { in.heartbeatLoop(ctx); return nil })
	in.sync.Start()

	in.log.Info("inlet connected", "endpoint", endpoint, "uid", full.UID())
	return in, nil
}

// connect dials an endpoint and performs the hello handshake,
// returning the live connection and the stream's full descriptor.
func (in *Inlet) connect(endpoint string, want *descriptor.StreamDescriptor) (net.Conn, *descriptor.StreamDescriptor, error) {
	conn, err := net.DialTimeout("tcp", endpoint, in.cfg.Transport.DialTimeout)
	if err != nil {
		return nil, nil, errors.Wrap(err, "Inlet", "connect", "dial failed")
	}

	fw := wire.NewFrameWriter(conn)
	fr := wire.NewFrameReader(conn, in.cfg.Transport.MaxFrameBytes)

	_ = conn.SetDeadline(time.Now().Add(in.cfg.Transport.DialTimeout))
	if err := fw.WriteFrame(wire.FrameHello, nil); err != nil {
		conn.Close()
		return nil, nil, err
	}
	ft, payload, err := fr.ReadFrame()
	if err != nil || ft != wire.FrameHelloAck {
		conn.Close()
		return nil, nil, errors.Wrap(
			fmt.Errorf("handshake failed: %v", err), "Inlet", "connect", "hello exchange")
	}
	_ = conn.SetDeadline(time.Time{})

	full, err := descriptor.FromXML(payload)
	if err != nil {
		conn.Close()
		return nil, nil, errors.WrapInvalid(err, "Inlet", "connect", "descriptor decode failed")
	}
	if full.Format() != want.Format() {
		conn.Close()
		return nil, nil, errors.WrapInvalid(errors.ErrInvalidFormat,
			"Inlet", "connect", "format verification")
	}
	if full.ChannelCount() != want.ChannelCount() {
		conn.Close()
		return nil, nil, errors.WrapInvalid(errors.ErrChannelMismatch,
			"Inlet", "connect", "channel verification")
	}
	full.SetEndpoint(endpoint)
	return conn, full, nil
}

// Desc returns the stream's full descriptor as exchanged at session
// setup, including the extended metadata tree.
func (in *Inlet) Desc() *descriptor.StreamDescriptor {
	in.mu.Lock()
	defer in.mu.Unlock()
	return in.desc
}

// State returns the current session state.
func (in *Inlet) State() SessionState {
	in.mu.Lock()
	defer in.mu.Unlock()
	return in.state
}

// PullSample returns the next buffered sample. A zero timeout polls
// without blocking; otherwise the call waits up to the timeout for a
// sample to arrive. An expired wait returns nil values and a nil
// error. After the stream is lost and the buffer drained, pulls fail
// with a Lost error.
func (in *Inlet) PullSample(timeout time.Duration) (any, float64, error) {
	var s sample
	var ok bool
	if timeout <= 0 {
		s, ok = in.ring.Read()
	} else {
		s, ok = in.ring.ReadWait(timeout)
	}
	if !ok {
		return nil, 0, in.emptyPullError()
	}

	in.metrics.SamplesPulled.WithLabelValues(in.name).Inc()
	return s.values, in.proc.Process(s.timestamp), nil
}

// PullChunk returns up to max buffered samples, waiting up to the
// timeout for the first one. Like PullSample, an expired wait is an
// empty result, not an error.
func (in *Inlet) PullChunk(timeout time.Duration, max int) ([]any, []float64, error) {
	if max < 1 {
		return nil, nil, errors.WrapInvalid(
			fmt.Errorf("max %d: %w", max, errors.ErrInvalidArgument),
			"Inlet", "PullChunk", "argument validation")
	}

	var batch []sample
	if timeout <= 0 {
		batch = in.ring.ReadBatch(max)
	} else {
		batch = in.ring.ReadBatchWait(timeout, max)
	}
	if len(batch) == 0 {
		return nil, nil, in.emptyPullError()
	}

	values := make([]any, len(batch))
	timestamps := make([]float64, len(batch))
	for i, s := range batch {
		values[i] = s.values
		timestamps[i] = in.proc.Process(s.timestamp)
	}
	in.metrics.SamplesPulled.WithLabelValues(in.name).Add(float64(len(batch)))
	return values, timestamps, nil
}

// emptyPullError decides what an empty pull means: nothing yet (nil),
// stream gone (Lost), or inlet closed.
func (in *Inlet) emptyPullError() error {
	switch in.State() {
	case StateLost:
		return errors.WrapLost(errors.ErrLost, "Inlet", "Pull", "stream lost")
	case StateClosed:
		return errors.Wrap(errors.ErrStreamClosed, "Inlet", "Pull", "inlet closed")
	default:
		return nil
	}
}

// SamplesAvailable returns the number of buffered samples.
func (in *Inlet) SamplesAvailable() int { return in.ring.Size() }

// Flush discards all buffered samples and returns how many were
// dropped.
func (in *Inlet) Flush() int { return in.ring.Clear() }

// TimeCorrection returns the offset to add to delivered timestamps to
// map them into the local clock domain. The first call may block until
// the initial measurement completes.
func (in *Inlet) TimeCorrection(timeout time.Duration) (float64, error) {
	return in.sync.TimeCorrection(context.Background(), timeout)
}

// WasClockReset reports whether either end's clock jumped since the
// last call, and rearms. A reset also discards the smoothing history,
// since the old timestamp regression no longer applies.
func (in *Inlet) WasClockReset() bool {
	if in.sync.WasClockReset() {
		in.proc.Reset()
		return true
	}
	return false
}

// SetPostProcessing replaces the timestamp transformations applied to
// subsequently pulled samples. Switching discards the smoothing
// history. Unless the new flags include ThreadSafe, the call must not
// race with concurrent pulls.
func (in *Inlet) SetPostProcessing(flags timesync.ProcessingFlags) {
	in.proc = timesync.NewProcessor(flags, in.Desc().NominalRate(), in.sync.Offset)
}

// Info requests the stream's full descriptor from the producer and
// waits up to the timeout for the answer.
func (in *Inlet) Info(timeout time.Duration) (*descriptor.StreamDescriptor, error) {
	if err := in.writeFrame(wire.FrameFullInfoRequest, nil); err != nil {
		return nil, err
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case payload := <-in.infoCh:
		d, err := descriptor.FromXML(payload)
		if err != nil {
			return nil, errors.WrapInvalid(err, "Inlet", "Info", "descriptor decode failed")
		}
		d.SetEndpoint(in.Desc().Endpoint())
		return d, nil
	case <-timer.C:
		return nil, errors.WrapTimeout(errors.ErrTimeout, "Inlet", "Info", "no answer within timeout")
	}
}

// Close tears the session down: a best-effort Bye, then the socket,
// the synchronizer and the buffer. Buffered samples are discarded.
// Close is idempotent.
func (in *Inlet) Close() error {
	in.mu.Lock()
	if in.state == StateClosed {
		in.mu.Unlock()
		return nil
	}
	in.state = StateClosed
	conn := in.conn
	in.mu.Unlock()

	_ = in.writeFrame(wire.FrameBye, nil)
	in.cancel()
	if conn != nil {
		conn.Close()
	}
	_ = in.sync.Close()
	_ = in.ring.Close()
	_ = in.group.Wait()

	in.log.Info("inlet closed", "stream", in.name)
	return nil
}

// writeFrame serializes control writes against the sender of the
// moment; recovery swaps the writer under the same lock.
func (in *Inlet) writeFrame(ft wire.FrameType, payload []byte) error {
	in.writeMu.Lock()
	defer in.writeMu.Unlock()
	if in.fw == nil {
		return errors.Wrap(errors.ErrNotConnected, "Inlet", "writeFrame", "no session")
	}
	_ = in.conn.SetWriteDeadline(time.Now().Add(in.cfg.Transport.WriteTimeout))
	return in.fw.WriteFrame(ft, payload)
}

// clockProbe is the ProbeFunc handed to the synchronizer: one ping
// over the data connection, one matching pong back.
func (in *Inlet) clockProbe(ctx context.Context) (float64, float64, float64, error) {
	t0 := clock.Now()
	if err := in.writeFrame(wire.FrameClockPing, wire.EncodeClockPing(t0)); err != nil {
		return 0, 0, 0, err
	}

	timer := time.NewTimer(probeTimeout)
	defer timer.Stop()
	for {
		select {
		case p := <-in.pongCh:
			if p.echo != t0 {
				continue // stale pong from an earlier probe
			}
			return t0, p.remote, clock.Now(), nil
		case <-ctx.Done():
			return 0, 0, 0, ctx.Err()
		case <-timer.C:
			return 0, 0, 0, errors.WrapTimeout(errors.ErrTimeout,
				"Inlet", "clockProbe", "no pong within timeout")
		}
	}
}

// heartbeatLoop keeps the session visibly alive for the producer.
func (in *Inlet) heartbeatLoop(ctx context.Context) {
	ticker := time.NewTicker(in.cfg.Transport.HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			// Failures surface in the read loop.
			_ = in.writeFrame(wire.FrameHeartbeat, nil)
		}
	}
}

// runSession reads the connection until it fails, then recovers or
// declares the stream lost.
func (in *Inlet) runSession(ctx context.Context) {
	for {
		err := in.readLoop(ctx)
		if ctx.Err() != nil || in.State() == StateClosed {
			return
		}
		in.log.Warn("session interrupted", "error", err)

		if !in.canRecover() {
			in.setState(StateLost)
			in.log.Warn("stream lost", "stream", in.name)
			return
		}

		in.setState(StateReconnecting)
		if err := in.reconnect(ctx); err != nil {
			in.setState(StateLost)
			in.log.Warn("recovery exhausted", "error", err)
			return
		}
		in.setState(StateConnected)
		in.metrics.Reconnects.WithLabelValues(in.name).Inc()
		in.log.Info("session recovered", "stream", in.name)
	}
}

func (in *Inlet) canRecover() bool {
	return in.opts.recover && in.sourceID != "" && in.resolver != nil
}

func (in *Inlet) setState(s SessionState) {
	in.mu.Lock()
	in.state = s
	in.mu.Unlock()
}

// readLoop decodes inbound frames into the receive buffer until the
// connection errors out or the peer hangs up.
func (in *Inlet) readLoop(ctx context.Context) error {
	in.mu.Lock()
	conn := in.conn
	in.mu.Unlock()
	fr := wire.NewFrameReader(conn, in.cfg.Transport.MaxFrameBytes)

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		_ = conn.SetReadDeadline(time.Now().Add(in.cfg.Transport.HeartbeatTimeout))
		ft, payload, err := fr.ReadFrame()
		if err != nil {
			return err
		}

		switch ft {
		case wire.FrameSample:
			values, ts, _, err := in.codec.DecodeSample(payload)
			if err != nil {
				in.log.Warn("undecodable sample dropped", "error", err)
				continue
			}
			in.store(sample{values: values, timestamp: ts})

		case wire.FrameChunk:
			values, timestamps, err := in.codec.DecodeChunk(payload)
			if err != nil {
				in.log.Warn("undecodable chunk dropped", "error", err)
				continue
			}
			for i := range values {
				in.store(sample{values: values[i], timestamp: timestamps[i]})
			}

		case wire.FrameClockPong:
			echo, remote, err := wire.DecodeClockPong(payload)
			if err != nil {
				continue
			}
			select {
			case in.pongCh <- pongReply{echo: echo, remote: remote}:
			default:
			}

		case wire.FrameFullInfo:
			select {
			case in.infoCh <- payload:
			default:
			}

		case wire.FrameHeartbeat:
			// Liveness only.

		case wire.FrameBye:
			return errors.Wrap(errors.ErrLost, "Inlet", "readLoop", "producer said goodbye")
		}
	}
}

func (in *Inlet) store(s sample) {
	before := in.ring.Stats().Drops()
	if err := in.ring.Write(s); err != nil {
		return
	}
	if dropped := in.ring.Stats().Drops() - before; dropped > 0 {
		in.metrics.SamplesDropped.WithLabelValues(in.name, "inlet").
			Add(float64(dropped))
	}
}

// reconnect re-resolves the stream by its source id and rebuilds the
// session, with exponential backoff across the producer's downtime.
func (in *Inlet) reconnect(ctx context.Context) error {
	return retry.Do(ctx, retry.Recovery(), func() error {
		results, err := in.resolver.Resolve(ctx,
			discovery.ByProperty("source_id", in.sourceID),
			1, in.cfg.Discovery.QueryInterval*4)
		if err != nil {
			return err
		}
		if len(results) == 0 {
			return errors.Wrap(errors.ErrTimeout, "Inlet", "reconnect", "stream not advertised")
		}

		conn, full, err := in.connect(results[0].Endpoint(), in.Desc())
		if err != nil {
			return err
		}

		in.writeMu.Lock()
		in.mu.Lock()
		old := in.conn
		in.conn = conn
		in.fw = wire.NewFrameWriter(conn)
		in.desc = full
		in.mu.Unlock()
		in.writeMu.Unlock()
		if old != nil {
			old.Close()
		}
		return nil
	})
}
