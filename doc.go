// Package labstream streams time-stamped sample data between
// processes on a local network: producers declare a stream once and
// push samples, consumers discover streams by their properties and
// pull samples with synchronized timestamps.
//
// # Architecture
//
// Labstream is split into a discovery plane and a data plane that meet
// in the engine:
//
//	┌─────────────────────────────────────┐
//	│              Engine                 │  Shared config, logger,
//	│   (outlet/inlet factory, versions)  │  metrics, session identity
//	└─────────────────────────────────────┘
//	       ↓ owns                ↓ hands out
//	┌───────────────┐     ┌───────────────────┐
//	│  Discovery    │     │    Transport      │
//	│ (advertiser,  │     │ (outlet, inlet,   │
//	│  resolver)    │     │  recovery)        │
//	└───────────────┘     └───────────────────┘
//	   UDP datagrams         TCP framed streams
//
// Discovery runs over UDP: every outlet registers with the engine's
// advertiser, which answers multicast (or unicast known-peer) queries
// with short stream descriptors. Resolvers collect those replies,
// deduplicate by stream UID and hand back descriptors carrying the
// data endpoint.
//
// Data runs over TCP: an outlet serves its sample buffer to any number
// of consumers through independent cursors, so one slow consumer never
// blocks the producer or its peers. An inlet dials the endpoint,
// verifies format and channel count in the handshake, buffers incoming
// samples and recovers silently when a stream with a stable source id
// reappears after a crash.
//
// Clock synchronization rides on the data connection: inlets probe the
// remote clock periodically and estimate the offset by the median of
// round-trip-filtered measurements, so pulled timestamps can be mapped
// onto the consumer's local clock. Optional post-processing dejitters
// and monotonizes timestamps of regular-rate streams.
//
// # Packages
//
// Core:
//   - engine: public entry point, ties configuration, discovery and
//     transport together
//   - descriptor: stream declarations, XML metadata trees, property
//     and predicate matching
//   - transport: outlets (serve) and inlets (consume), recovery
//   - discovery: advertiser, one-shot and continuous resolvers
//   - timesync: clock offset estimation and timestamp post-processing
//   - wire: sample codec, frame protocol, discovery datagrams
//
// Infrastructure:
//   - config: configuration loading and validation
//   - errors: structured error handling with stable codes
//   - metric: Prometheus metrics
//   - pkg/buffer: single-reader and fan-out ring buffers
//   - pkg/clock: monotonic local clock in seconds
//   - pkg/retry: retry policies with backoff
//
// # Usage
//
// Producing a stream:
//
//	eng, _ := engine.New(config.DefaultConfig())
//	defer eng.Close()
//
//	desc, _ := descriptor.New("BioSemi", "EEG", 8, 100, descriptor.Float32, "amp-17")
//	outlet, _ := eng.NewOutlet(desc)
//	defer outlet.Close()
//
//	for sample := range samples {
//	    outlet.Push(sample)
//	}
//
// Consuming one:
//
//	streams, _ := eng.ResolveByProperty(ctx, "type", "EEG", 1, 5*time.Second)
//	inlet, _ := eng.NewInlet(streams[0])
//	defer inlet.Close()
//
//	for {
//	    values, ts, err := inlet.PullSample(time.Second)
//	    ...
//	}
//
// # Design Principles
//
// Producers never block on consumers:
//   - Bounded buffers everywhere, oldest data evicted under pressure
//   - Per-consumer cursors on the outlet side
//
// Failure is a state, not an error storm:
//   - Inlets report Connected, Reconnecting, Lost, Closed
//   - Streams with stable source ids recover without caller involvement
//
// Testability:
//   - Explicit dependencies (no globals)
//   - Loopback mode: empty multicast group plus known peers runs the
//     whole stack on 127.0.0.1
package labstream
