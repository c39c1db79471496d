package transport

import (
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/c360/labstream/config"
	"github.com/c360/labstream/descriptor"
	"github.com/c360/labstream/discovery"
	"github.com/c360/labstream/errors"
	"github.com/c360/labstream/metric"
	"github.com/c360/labstream/pkg/buffer"
	"github.com/c360/labstream/pkg/clock"
	"github.com/c360/labstream/wire"
)

const (
	defaultChunkSize     = 32
	defaultBufferSeconds = 360.0
	irregularBufferCap   = 4096
	minBufferCap         = 64
	maxBufferCap         = 1 << 20
)

// OutletOption tunes outlet construction.
type OutletOption func(*outletOptions)

type outletOptions struct {
	chunkSize     int
	bufferSeconds float64
	pushthrough   bool
}

// WithChunkSize sets the preferred number of samples per chunk frame.
// The sender never waits to fill a chunk; the size only caps how much
// one frame carries.
func WithChunkSize(n int) OutletOption {
	return func(o *outletOptions) { o.chunkSize = n }
}

// WithMaxBuffered sets how many seconds of data each consumer may lag
// behind before the oldest samples are evicted for it.
func WithMaxBuffered(seconds float64) OutletOption {
	return func(o *outletOptions) { o.bufferSeconds = seconds }
}

// WithPushthrough controls when pushed samples become visible to
// consumers. Enabled (the default), every push transmits immediately.
// Disabled, samples accumulate until a full chunk of WithChunkSize is
// ready; Flush forces a partial chunk out.
func WithPushthrough(enabled bool) OutletOption {
	return func(o *outletOptions) { o.pushthrough = enabled }
}

// Outlet makes a stream available: it binds the descriptor, serves the
// data listener, answers discovery through the engine's advertiser,
// and fans pushed samples out to every connected inlet. A slow inlet
// loses its oldest samples; it never slows the producer or its peers.
type Outlet struct {
	cfg     config.TransportConfig
	log     *slog.Logger
	metrics *metric.EngineMetrics

	desc        *descriptor.StreamDescriptor
	codec       wire.Codec
	fullXML     []byte
	chunkSize   int
	pushthrough bool
	ring        *buffer.FanoutRing[sample]
	listener    net.Listener
	advertiser  *discovery.Advertiser

	mu       sync.Mutex
	consCond *sync.Cond
	closed   bool
	pending  []sample

	wg sync.WaitGroup
}

// NewOutlet binds the descriptor and starts serving it. The returned
// outlet owns a deep copy of the descriptor; later mutations of d do
// not affect the stream.
func NewOutlet(deps Deps, d *descriptor.StreamDescriptor, opts ...OutletOption) (*Outlet, error) {
	codec, err := wire.NewCodec(d.Format(), d.ChannelCount())
	if err != nil {
		return nil, err
	}

	options := outletOptions{
		chunkSize:     defaultChunkSize,
		bufferSeconds: defaultBufferSeconds,
		pushthrough:   true,
	}
	for _, opt := range opts {
		opt(&options)
	}
	if options.chunkSize < 1 {
		return nil, errors.WrapInvalid(
			fmt.Errorf("chunk size %d: %w", options.chunkSize, errors.ErrInvalidArgument),
			"Outlet", "NewOutlet", "option validation")
	}

	listener, err := net.Listen("tcp", net.JoinHostPort(deps.Config.Transport.ListenHost, "0"))
	if err != nil {
		return nil, errors.Wrap(err, "Outlet", "NewOutlet", "listen failed")
	}

	bound := d.Bind(deps.Hostname, deps.SessionID)
	bound.SetEndpoint(advertisedEndpoint(deps, listener))

	fullXML, err := bound.ToXML()
	if err != nil {
		listener.Close()
		return nil, errors.WrapInternal(err, "Outlet", "NewOutlet", "descriptor encode failed")
	}

	o := &Outlet{
		cfg:         deps.Config.Transport,
		log:         deps.Log.With("component", "outlet", "stream", bound.Name()),
		metrics:     deps.Metrics,
		desc:        bound,
		codec:       codec,
		fullXML:     fullXML,
		chunkSize:   options.chunkSize,
		pushthrough: options.pushthrough,
		ring:        buffer.NewFanoutRing[sample](bufferCapacity(bound.NominalRate(), options.bufferSeconds)),
		listener:    listener,
		advertiser:  deps.Advertiser,
	}
	o.consCond = sync.NewCond(&o.mu)

	if o.advertiser != nil {
		if err := o.advertiser.Register(bound); err != nil {
			listener.Close()
			return nil, err
		}
	}

	o.wg.Add(1)
	go o.acceptLoop()

	o.log.Info("outlet serving", "endpoint", bound.Endpoint(), "uid", bound.UID())
	return o, nil
}

// advertisedEndpoint computes the host:port peers should dial. The
// listener address alone is not enough when the socket binds all
// interfaces.
func advertisedEndpoint(deps Deps, l net.Listener) string {
	_, port, _ := net.SplitHostPort(l.Addr().String())
	host := deps.Config.Transport.ListenHost
	if host == "" {
		host = deps.Hostname
	}
	return net.JoinHostPort(host, port)
}

func bufferCapacity(rate, seconds float64) int {
	if rate <= 0 {
		return irregularBufferCap
	}
	capacity := int(rate * seconds)
	if capacity < minBufferCap {
		return minBufferCap
	}
	if capacity > maxBufferCap {
		return maxBufferCap
	}
	return capacity
}

// Info returns the bound descriptor served to consumers.
func (o *Outlet) Info() *descriptor.StreamDescriptor { return o.desc }

// Push stamps values with the current local clock and queues them for
// every consumer.
func (o *Outlet) Push(values any) error {
	return o.PushAt(values, clock.Now())
}

// PushAt queues values under an explicit producer timestamp. With
// pushthrough disabled the sample is held back until a full chunk has
// accumulated.
func (o *Outlet) PushAt(values any, timestamp float64) error {
	if err := o.codec.CheckValues(values); err != nil {
		return err
	}

	s := sample{values: values, timestamp: timestamp}

	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return errors.Wrap(errors.ErrStreamClosed, "Outlet", "PushAt", "outlet closed")
	}
	if !o.pushthrough {
		o.pending = append(o.pending, s)
		var batch []sample
		if len(o.pending) >= o.chunkSize {
			batch = o.pending
			o.pending = nil
		}
		o.mu.Unlock()
		if batch != nil {
			o.ring.WriteBatch(batch)
		}
		o.metrics.SamplesPushed.WithLabelValues(o.desc.Name()).Inc()
		return nil
	}
	o.mu.Unlock()

	o.ring.Write(s)
	o.metrics.SamplesPushed.WithLabelValues(o.desc.Name()).Inc()
	return nil
}

// Flush transmits any samples held back by WithPushthrough(false) as a
// partial chunk. It is a no-op with pushthrough enabled.
func (o *Outlet) Flush() {
	o.mu.Lock()
	batch := o.pending
	o.pending = nil
	o.mu.Unlock()

	if len(batch) > 0 {
		o.ring.WriteBatch(batch)
	}
}

// PushChunk queues a batch of samples. With nil timestamps every
// sample is stamped now; otherwise timestamps must parallel values.
// The whole chunk is validated before anything is queued.
func (o *Outlet) PushChunk(values []any, timestamps []float64) error {
	if timestamps != nil && len(timestamps) != len(values) {
		return errors.WrapInvalid(
			fmt.Errorf("%d samples but %d timestamps: %w",
				len(values), len(timestamps), errors.ErrInvalidArgument),
			"Outlet", "PushChunk", "length validation")
	}
	for _, v := range values {
		if err := o.codec.CheckValues(v); err != nil {
			return err
		}
	}
	// An explicit chunk always transmits; held-back samples go first so
	// delivery order matches push order.
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return errors.Wrap(errors.ErrStreamClosed, "Outlet", "PushChunk", "outlet closed")
	}
	held := o.pending
	o.pending = nil
	o.mu.Unlock()

	now := clock.Now()
	batch := make([]sample, 0, len(held)+len(values))
	batch = append(batch, held...)
	for i, v := range values {
		ts := now
		if timestamps != nil {
			ts = timestamps[i]
		}
		batch = append(batch, sample{values: v, timestamp: ts})
	}
	o.ring.WriteBatch(batch)
	// Held-back samples were already counted when pushed.
	o.metrics.SamplesPushed.WithLabelValues(o.desc.Name()).Add(float64(len(values)))
	return nil
}

// PushChunkAt queues a batch under a single timestamp naming the last
// sample. For regular-rate streams the earlier samples are backdated
// by the sampling interval; for irregular streams they all share the
// timestamp.
func (o *Outlet) PushChunkAt(values []any, timestamp float64) error {
	timestamps := make([]float64, len(values))
	rate := o.desc.NominalRate()
	for i := range timestamps {
		timestamps[i] = timestamp
		if rate > 0 {
			timestamps[i] -= float64(len(values)-1-i) / rate
		}
	}
	return o.PushChunk(values, timestamps)
}

// HaveConsumers reports whether any inlet is currently connected.
func (o *Outlet) HaveConsumers() bool {
	return o.ring.Consumers() > 0
}

// WaitForConsumers blocks until a consumer connects or the timeout
// expires, and reports whether one is connected.
func (o *Outlet) WaitForConsumers(timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)

	o.mu.Lock()
	defer o.mu.Unlock()
	for !o.closed && o.ring.Consumers() == 0 {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return false
		}
		t := time.AfterFunc(remaining, o.consCond.Broadcast)
		o.consCond.Wait()
		t.Stop()
	}
	return o.ring.Consumers() > 0
}

// Close withdraws the stream: it stops advertising, closes every
// consumer session after a Bye, and releases the listener. Connected
// inlets observe the loss. Close is idempotent.
func (o *Outlet) Close() error {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return nil
	}
	o.closed = true
	held := o.pending
	o.pending = nil
	o.mu.Unlock()

	if o.advertiser != nil {
		o.advertiser.Unregister(o.desc.UID())
	}
	o.listener.Close()
	// Samples held back by pushthrough=false still go out before the
	// Bye.
	if len(held) > 0 {
		o.ring.WriteBatch(held)
	}
	o.ring.Close()
	o.consCond.Broadcast()

	// Sender loops observe the closed ring, flush what is left, send
	// Bye and hang up; each session closes its own connection.
	o.wg.Wait()

	o.log.Info("outlet closed", "uid", o.desc.UID())
	return nil
}

func (o *Outlet) acceptLoop() {
	defer o.wg.Done()
	for {
		conn, err := o.listener.Accept()
		if err != nil {
			return
		}
		o.mu.Lock()
		if o.closed {
			o.mu.Unlock()
			conn.Close()
			return
		}
		o.mu.Unlock()

		o.wg.Add(1)
		go o.serveConsumer(conn)
	}
}

// serveConsumer runs one inlet session: handshake, then a sender loop
// interleaving data and heartbeats while a reader goroutine services
// control frames.
func (o *Outlet) serveConsumer(conn net.Conn) {
	defer o.wg.Done()
	defer conn.Close()

	fr := wire.NewFrameReader(conn, o.cfg.MaxFrameBytes)
	fw := wire.NewFrameWriter(conn)
	var writeMu sync.Mutex

	// Bound the handshake so a stalled peer cannot pin the session
	// goroutine past Close.
	_ = conn.SetReadDeadline(time.Now().Add(o.cfg.DialTimeout))
	ft, _, err := fr.ReadFrame()
	if err != nil || ft != wire.FrameHello {
		o.log.Debug("handshake failed", "error", err)
		return
	}
	_ = conn.SetReadDeadline(time.Time{})
	writeMu.Lock()
	err = fw.WriteFrame(wire.FrameHelloAck, o.fullXML)
	writeMu.Unlock()
	if err != nil {
		o.log.Debug("handshake reply failed", "error", err)
		return
	}

	id := o.ring.Attach()
	defer o.ring.Detach(id)

	gauge := o.metrics.ConsumersActive.WithLabelValues(o.desc.Name())
	gauge.Inc()
	defer gauge.Dec()

	o.mu.Lock()
	o.consCond.Broadcast()
	o.mu.Unlock()

	done := make(chan struct{})
	go func() {
		defer close(done)
		o.consumerReader(fr, fw, &writeMu, conn)
	}()

	o.senderLoop(conn, fw, &writeMu, id, done)
	conn.Close() // unblocks the reader
	<-done
}

// consumerReader services inbound control frames until the connection
// fails or the peer says Bye.
func (o *Outlet) consumerReader(fr *wire.FrameReader, fw *wire.FrameWriter, writeMu *sync.Mutex, conn net.Conn) {
	for {
		ft, payload, err := fr.ReadFrame()
		if err != nil {
			return
		}
		switch ft {
		case wire.FrameClockPing:
			t0, err := wire.DecodeClockPing(payload)
			if err != nil {
				continue
			}
			pong := wire.EncodeClockPong(t0, clock.Now())
			writeMu.Lock()
			_ = conn.SetWriteDeadline(time.Now().Add(o.cfg.WriteTimeout))
			err = fw.WriteFrame(wire.FrameClockPong, pong)
			writeMu.Unlock()
			if err != nil {
				return
			}
		case wire.FrameFullInfoRequest:
			writeMu.Lock()
			_ = conn.SetWriteDeadline(time.Now().Add(o.cfg.WriteTimeout))
			err = fw.WriteFrame(wire.FrameFullInfo, o.fullXML)
			writeMu.Unlock()
			if err != nil {
				return
			}
		case wire.FrameHeartbeat:
			// Liveness only.
		case wire.FrameBye:
			return
		}
	}
}

// senderLoop drains the consumer's cursor into data frames, sending
// heartbeats across idle stretches. It exits when the ring closes or
// the session dies.
func (o *Outlet) senderLoop(conn net.Conn, fw *wire.FrameWriter, writeMu *sync.Mutex, id int, readerDone <-chan struct{}) {
	var lastDropped uint64
	streamLabel := o.desc.Name()

	for {
		select {
		case <-readerDone:
			return
		default:
		}

		batch := o.ring.ReadBatchWait(id, o.chunkSize, o.cfg.HeartbeatInterval)

		if dropped := o.ring.Dropped(id); dropped > lastDropped {
			o.metrics.SamplesDropped.WithLabelValues(streamLabel, "outlet").
				Add(float64(dropped - lastDropped))
			lastDropped = dropped
		}

		var ft wire.FrameType
		var payload []byte
		var err error
		switch {
		case len(batch) == 0:
			o.mu.Lock()
			closed := o.closed
			o.mu.Unlock()
			if closed {
				writeMu.Lock()
				_ = conn.SetWriteDeadline(time.Now().Add(o.cfg.WriteTimeout))
				_ = fw.WriteFrame(wire.FrameBye, nil)
				writeMu.Unlock()
				return
			}
			ft, payload = wire.FrameHeartbeat, nil

		case len(batch) == 1:
			ft = wire.FrameSample
			payload, err = o.codec.AppendSample(nil, batch[0].values, batch[0].timestamp)

		default:
			ft = wire.FrameChunk
			values := make([]any, len(batch))
			timestamps := make([]float64, len(batch))
			for i, s := range batch {
				values[i] = s.values
				timestamps[i] = s.timestamp
			}
			payload, err = o.codec.EncodeChunk(values, timestamps)
		}
		if err != nil {
			o.log.Error("sample encode failed", "error", err)
			return
		}

		writeMu.Lock()
		_ = conn.SetWriteDeadline(time.Now().Add(o.cfg.WriteTimeout))
		err = fw.WriteFrame(ft, payload)
		writeMu.Unlock()
		if err != nil {
			o.log.Debug("consumer session write failed", "error", err)
			return
		}
		if ft == wire.FrameChunk {
			o.metrics.ChunksSent.WithLabelValues(streamLabel).Inc()
		}
	}
}
