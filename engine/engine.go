// Package engine is the public entry point: one Engine instance owns
// the discovery advertiser, the resolver, the metric registry and the
// shared configuration, and hands out outlets and inlets wired to
// them.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/c360/labstream/config"
	"github.com/c360/labstream/descriptor"
	"github.com/c360/labstream/discovery"
	"github.com/c360/labstream/errors"
	"github.com/c360/labstream/metric"
	"github.com/c360/labstream/pkg/clock"
	"github.com/c360/labstream/transport"
)

// Library version, major*100 + minor.
const libraryVersion = 100

// Option tunes engine construction.
type Option func(*options)

type options struct {
	logger    *slog.Logger
	sessionID string
}

// WithLogger replaces the default logger built from the configured log
// level.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithSessionID groups this engine's streams under a recording session
// identifier. Defaults to "default".
func WithSessionID(id string) Option {
	return func(o *options) { o.sessionID = id }
}

// Engine is the root object of the library. All outlets, inlets and
// resolvers created through one engine share its discovery sockets,
// metric registry and configuration. An Engine is safe for concurrent
// use.
type Engine struct {
	cfg      config.Config
	log      *slog.Logger
	registry *metric.MetricsRegistry

	advertiser *discovery.Advertiser
	resolver   *discovery.Resolver

	hostname  string
	sessionID string

	mu     sync.Mutex
	closed bool
}

// New builds an engine from a validated configuration.
func New(cfg config.Config, opts ...Option) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	o := options{sessionID: "default"}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
			Level: logLevel(cfg.Log.Level),
		}))
	}

	hostname, err := os.Hostname()
	if err != nil {
		hostname = "localhost"
	}

	registry := metric.NewMetricsRegistry()

	advertiser, err := discovery.NewAdvertiser(cfg.Discovery, o.logger)
	if err != nil {
		return nil, err
	}

	// In loopback mode the engine's own advertiser joins the peer
	// list, so an engine always resolves its own streams.
	resolverCfg := cfg.Discovery
	if resolverCfg.MulticastGroup == "" {
		resolverCfg.KnownPeers = append(
			append([]string{}, resolverCfg.KnownPeers...), advertiser.Addr())
	}

	e := &Engine{
		cfg:        cfg,
		log:        o.logger,
		registry:   registry,
		advertiser: advertiser,
		resolver:   discovery.NewResolver(resolverCfg, o.logger, registry.Engine),
		hostname:   hostname,
		sessionID:  o.sessionID,
	}
	e.log.Info("engine started",
		"protocol_version", descriptor.ProtocolVersion,
		"session_id", e.sessionID)
	return e, nil
}

func logLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func (e *Engine) deps() transport.Deps {
	return transport.Deps{
		Config:     e.cfg,
		Log:        e.log,
		Metrics:    e.registry.Engine,
		Hostname:   e.hostname,
		SessionID:  e.sessionID,
		Advertiser: e.advertiser,
		Resolver:   e.resolver,
	}
}

func (e *Engine) checkOpen(component, op string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return errors.Wrap(errors.ErrEngineClosed, component, op, "engine closed")
	}
	return nil
}

// NewOutlet binds a declared stream and starts serving it: listening
// for consumers and answering discovery queries.
func (e *Engine) NewOutlet(d *descriptor.StreamDescriptor, opts ...transport.OutletOption) (*transport.Outlet, error) {
	if err := e.checkOpen("Engine", "NewOutlet"); err != nil {
		return nil, err
	}
	return transport.NewOutlet(e.deps(), d, opts...)
}

// NewInlet connects to a resolved stream.
func (e *Engine) NewInlet(d *descriptor.StreamDescriptor, opts ...transport.InletOption) (*transport.Inlet, error) {
	if err := e.checkOpen("Engine", "NewInlet"); err != nil {
		return nil, err
	}
	return transport.NewInlet(e.deps(), d, opts...)
}

// ResolveAll collects every visible stream.
func (e *Engine) ResolveAll(ctx context.Context, minimum int, timeout time.Duration) ([]*descriptor.StreamDescriptor, error) {
	if err := e.checkOpen("Engine", "ResolveAll"); err != nil {
		return nil, err
	}
	return e.resolver.Resolve(ctx, discovery.All(), minimum, timeout)
}

// ResolveByProperty collects streams whose named hosting field equals
// value.
func (e *Engine) ResolveByProperty(ctx context.Context, key, value string, minimum int, timeout time.Duration) ([]*descriptor.StreamDescriptor, error) {
	if err := e.checkOpen("Engine", "ResolveByProperty"); err != nil {
		return nil, err
	}
	return e.resolver.Resolve(ctx, discovery.ByProperty(key, value), minimum, timeout)
}

// ResolveByPredicate collects streams satisfying an XPath-style
// predicate.
func (e *Engine) ResolveByPredicate(ctx context.Context, pred string, minimum int, timeout time.Duration) ([]*descriptor.StreamDescriptor, error) {
	if err := e.checkOpen("Engine", "ResolveByPredicate"); err != nil {
		return nil, err
	}
	return e.resolver.Resolve(ctx, discovery.ByPredicate(pred), minimum, timeout)
}

// NewContinuousResolver starts a background resolver for the filter.
func (e *Engine) NewContinuousResolver(filter discovery.Filter) (*discovery.ContinuousResolver, error) {
	if err := e.checkOpen("Engine", "NewContinuousResolver"); err != nil {
		return nil, err
	}
	return e.resolver.Continuous(filter)
}

// DiscoveryAddr returns the bound address of the engine's discovery
// responder. Peers without multicast reach this engine by listing it
// under known_peers.
func (e *Engine) DiscoveryAddr() string { return e.advertiser.Addr() }

// LocalClock reads the engine's monotonic clock in seconds. All
// outgoing timestamps and time corrections are expressed on it.
func (e *Engine) LocalClock() float64 { return clock.Now() }

// ProtocolVersion returns the stream protocol version
// (major*100 + minor).
func (e *Engine) ProtocolVersion() int { return descriptor.ProtocolVersion }

// LibraryVersion returns the library version (major*100 + minor).
func (e *Engine) LibraryVersion() int { return libraryVersion }

// LibraryInfo returns a human-readable build description.
func (e *Engine) LibraryInfo() string {
	return fmt.Sprintf("labstream %d.%d (protocol %d.%d)",
		libraryVersion/100, libraryVersion%100,
		descriptor.ProtocolVersion/100, descriptor.ProtocolVersion%100)
}

// MetricsHandler exposes the engine's Prometheus registry over HTTP.
func (e *Engine) MetricsHandler() http.Handler { return e.registry.Handler() }

// Metrics returns the engine metric set, mainly for tests and embedded
// dashboards.
func (e *Engine) Metrics() *metric.EngineMetrics { return e.registry.Engine }

// Close shuts the discovery plane down. Outlets and inlets are owned
// by their creators and closed separately; after Close the engine
// creates no new ones. Close is idempotent.
func (e *Engine) Close() error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	e.mu.Unlock()

	err := e.advertiser.Close()
	e.log.Info("engine closed")
	return err
}
