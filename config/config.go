// Package config defines the engine configuration: discovery endpoints
// and intervals, transport tuning, clock synchronization cadence, and
// logging. Configuration is loaded from YAML with environment variable
// overrides and validated before use.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/c360/labstream/errors"
)

// EnvPrefix is the prefix of all environment variable overrides.
const EnvPrefix = "LABSTREAM_"

// Config represents the complete engine configuration.
type Config struct {
	Discovery DiscoveryConfig `yaml:"discovery"`
	Transport TransportConfig `yaml:"transport"`
	Sync      SyncConfig      `yaml:"sync"`
	Log       LogConfig       `yaml:"log"`
}

// DiscoveryConfig defines how streams are advertised and resolved.
type DiscoveryConfig struct {
	// MulticastGroup is the IPv4 group queries are sent to. An empty
	// value disables multicast; resolution then relies on KnownPeers.
	MulticastGroup string `yaml:"multicast_group"`

	// Port is the UDP port advertisers listen on.
	Port int `yaml:"port"`

	// TTL is the multicast time-to-live (0 = host, 1 = subnet).
	TTL int `yaml:"ttl"`

	// KnownPeers lists host[:port] addresses queried by unicast in
	// addition to (or instead of) the multicast group.
	KnownPeers []string `yaml:"known_peers"`

	// QueryInterval is the pause between repeated query bursts while
	// a resolve call is waiting for matches.
	QueryInterval time.Duration `yaml:"query_interval"`

	// MaxResults caps the number of distinct streams a single resolve
	// collects. Replies beyond the cap are counted and discarded, not
	// silently lost.
	MaxResults int `yaml:"max_results"`

	// ForgetAfter is how long a continuous resolver keeps a stream
	// visible after its last advertisement.
	ForgetAfter time.Duration `yaml:"forget_after"`
}

// TransportConfig defines session tuning shared by outlets and inlets.
type TransportConfig struct {
	// ListenHost is the address outlets bind their data listener to.
	ListenHost string `yaml:"listen_host"`

	// HeartbeatInterval is the pause between liveness probes on an
	// idle session.
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval"`

	// HeartbeatTimeout is how long a session may stay silent before
	// the peer is considered gone.
	HeartbeatTimeout time.Duration `yaml:"heartbeat_timeout"`

	// DialTimeout bounds the TCP connect of an inlet session.
	DialTimeout time.Duration `yaml:"dial_timeout"`

	// WriteTimeout bounds a single frame write on a session socket.
	WriteTimeout time.Duration `yaml:"write_timeout"`

	// MaxFrameBytes bounds the size of an accepted frame payload.
	MaxFrameBytes int `yaml:"max_frame_bytes"`
}

// SyncConfig defines the clock synchronization cadence.
type SyncConfig struct {
	// Interval is the pause between background offset measurement
	// bursts.
	Interval time.Duration `yaml:"interval"`

	// Probes is the number of round trips per measurement burst.
	Probes int `yaml:"probes"`

	// RTTCutoff discards probes whose round-trip time exceeds it.
	RTTCutoff time.Duration `yaml:"rtt_cutoff"`
}

// LogConfig defines logging behavior.
type LogConfig struct {
	// Level is one of debug, info, warn, error.
	Level string `yaml:"level"`
}

// DefaultConfig returns the configuration used when nothing is
// overridden. The multicast group and port follow the conventional
// lab-streaming values so independent processes find each other with
// zero configuration.
func DefaultConfig() Config {
	return Config{
		Discovery: DiscoveryConfig{
			MulticastGroup: "224.0.0.183",
			Port:           16571,
			TTL:            1,
			QueryInterval:  250 * time.Millisecond,
			MaxResults:     1024,
			ForgetAfter:    5 * time.Second,
		},
		Transport: TransportConfig{
			ListenHost:        "",
			HeartbeatInterval: 2 * time.Second,
			HeartbeatTimeout:  6 * time.Second,
			DialTimeout:       5 * time.Second,
			WriteTimeout:      5 * time.Second,
			MaxFrameBytes:     16 << 20,
		},
		Sync: SyncConfig{
			Interval:  5 * time.Second,
			Probes:    8,
			RTTCutoff: 250 * time.Millisecond,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load reads a YAML configuration file, applies environment overrides
// and validates the result. A missing path loads pure defaults.
func Load(path string) (Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, errors.WrapInvalid(err, "Config", "Load", "read file")
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, errors.WrapInvalid(err, "Config", "Load", "parse yaml")
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// applyEnv overlays LABSTREAM_* environment variables on the config.
func (c *Config) applyEnv() {
	if v := os.Getenv(EnvPrefix + "LOG_LEVEL"); v != "" {
		c.Log.Level = v
	}
	if v := os.Getenv(EnvPrefix + "MULTICAST_GROUP"); v != "" {
		c.Discovery.MulticastGroup = v
	}
	if v := os.Getenv(EnvPrefix + "DISCOVERY_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			c.Discovery.Port = port
		}
	}
	if v := os.Getenv(EnvPrefix + "KNOWN_PEERS"); v != "" {
		c.Discovery.KnownPeers = strings.Split(v, ",")
	}
	if v := os.Getenv(EnvPrefix + "LISTEN_HOST"); v != "" {
		c.Transport.ListenHost = v
	}
}

// Validate checks the configuration for values the engine cannot run
// with. It returns the first problem found.
func (c *Config) Validate() error {
	if c.Discovery.Port <= 0 || c.Discovery.Port > 65535 {
		return errors.WrapInvalid(
			fmt.Errorf("discovery port %d out of range", c.Discovery.Port),
			"Config", "Validate", "discovery")
	}
	if c.Discovery.MaxResults <= 0 {
		return errors.WrapInvalid(
			fmt.Errorf("max_results must be positive, got %d", c.Discovery.MaxResults),
			"Config", "Validate", "discovery")
	}
	if c.Discovery.QueryInterval <= 0 {
		return errors.WrapInvalid(
			fmt.Errorf("query_interval must be positive, got %s", c.Discovery.QueryInterval),
			"Config", "Validate", "discovery")
	}
	if c.Discovery.ForgetAfter <= 0 {
		return errors.WrapInvalid(
			fmt.Errorf("forget_after must be positive, got %s", c.Discovery.ForgetAfter),
			"Config", "Validate", "discovery")
	}
	if c.Transport.HeartbeatInterval <= 0 || c.Transport.HeartbeatTimeout <= c.Transport.HeartbeatInterval {
		return errors.WrapInvalid(
			fmt.Errorf("heartbeat timeout %s must exceed interval %s",
				c.Transport.HeartbeatTimeout, c.Transport.HeartbeatInterval),
			"Config", "Validate", "transport")
	}
	if c.Transport.MaxFrameBytes <= 0 {
		return errors.WrapInvalid(
			fmt.Errorf("max_frame_bytes must be positive, got %d", c.Transport.MaxFrameBytes),
			"Config", "Validate", "transport")
	}
	if c.Sync.Probes <= 0 {
		return errors.WrapInvalid(
			fmt.Errorf("sync probes must be positive, got %d", c.Sync.Probes),
			"Config", "Validate", "sync")
	}
	if c.Sync.Interval <= 0 {
		return errors.WrapInvalid(
			fmt.Errorf("sync interval must be positive, got %s", c.Sync.Interval),
			"Config", "Validate", "sync")
	}
	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "error":
	default:
		return errors.WrapInvalid(
			fmt.Errorf("unknown log level %q", c.Log.Level),
			"Config", "Validate", "log")
	}
	return nil
}
