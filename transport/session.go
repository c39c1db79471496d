// Package transport implements the data plane: outlets serve samples
// to any number of connected inlets over framed TCP sessions, with
// per-consumer buffering, liveness heartbeats, in-band clock probes,
// and silent session recovery for streams with a stable source id.
package transport

import (
	"log/slog"

	"github.com/c360/labstream/config"
	"github.com/c360/labstream/discovery"
	"github.com/c360/labstream/metric"
)

// Deps carries the engine-level collaborators shared by all outlets
// and inlets of one engine instance.
type Deps struct {
	Config   config.Config
	Log      *slog.Logger
	Metrics  *metric.EngineMetrics
	Hostname string

	// SessionID groups streams belonging to one recording session.
	SessionID string

	// Advertiser answers discovery queries for outlets. Optional: an
	// outlet without one is connectable only by explicit endpoint.
	Advertiser *discovery.Advertiser

	// Resolver re-finds streams by source id during inlet recovery.
	// Optional: an inlet without one cannot recover.
	Resolver *discovery.Resolver
}

// SessionState describes an inlet's connection lifecycle.
type SessionState int32

const (
	// StateConnected means the session is live and delivering.
	StateConnected SessionState = iota

	// StateReconnecting means the connection failed and recovery is
	// re-resolving the stream by its source id. Buffered samples stay
	// deliverable throughout.
	StateReconnecting

	// StateLost means the stream is gone for good: recovery was
	// disabled, impossible, or exhausted. Pulls drain the buffer, then
	// fail.
	StateLost

	// StateClosed means the inlet was closed locally.
	StateClosed
)

func (s SessionState) String() string {
	switch s {
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	case StateLost:
		return "lost"
	case StateClosed:
		return "closed"
	}
	return "unknown"
}

// sample is the unit moving through transport buffers: one decoded
// value vector and its producer-side timestamp.
type sample struct {
	values    any
	timestamp float64
}
