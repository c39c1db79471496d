package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/labstream/errors"
)

func TestDefaultConfigValidates(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "224.0.0.183", cfg.Discovery.MulticastGroup)
	assert.Equal(t, 16571, cfg.Discovery.Port)
	assert.Equal(t, 1024, cfg.Discovery.MaxResults)
	assert.Equal(t, 5*time.Second, cfg.Discovery.ForgetAfter)
}

func TestLoadMissingPathUsesDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig().Discovery.Port, cfg.Discovery.Port)
}

func TestLoadYAMLOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "labstream.yaml")
	content := []byte(`
discovery:
  port: 17000
  max_results: 64
sync:
  probes: 4
log:
  level: debug
`)
	require.NoError(t, os.WriteFile(path, content, 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 17000, cfg.Discovery.Port)
	assert.Equal(t, 64, cfg.Discovery.MaxResults)
	assert.Equal(t, 4, cfg.Sync.Probes)
	assert.Equal(t, "debug", cfg.Log.Level)
	// Untouched fields keep defaults.
	assert.Equal(t, "224.0.0.183", cfg.Discovery.MulticastGroup)
}

func TestLoadBadYAMLFails(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("discovery: ["), 0o600))

	_, err := Load(path)
	require.Error(t, err)
	assert.True(t, errors.IsInvalidArgument(err))
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv(EnvPrefix+"LOG_LEVEL", "warn")
	t.Setenv(EnvPrefix+"DISCOVERY_PORT", "18000")
	t.Setenv(EnvPrefix+"KNOWN_PEERS", "10.0.0.5,10.0.0.6:16572")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "warn", cfg.Log.Level)
	assert.Equal(t, 18000, cfg.Discovery.Port)
	assert.Equal(t, []string{"10.0.0.5", "10.0.0.6:16572"}, cfg.Discovery.KnownPeers)
}

func TestValidateRejections(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero discovery port", func(c *Config) { c.Discovery.Port = 0 }},
		{"oversized discovery port", func(c *Config) { c.Discovery.Port = 70000 }},
		{"non-positive max results", func(c *Config) { c.Discovery.MaxResults = 0 }},
		{"non-positive query interval", func(c *Config) { c.Discovery.QueryInterval = 0 }},
		{"non-positive forget after", func(c *Config) { c.Discovery.ForgetAfter = 0 }},
		{"heartbeat timeout below interval", func(c *Config) {
			c.Transport.HeartbeatTimeout = c.Transport.HeartbeatInterval / 2
		}},
		{"non-positive frame cap", func(c *Config) { c.Transport.MaxFrameBytes = 0 }},
		{"zero sync probes", func(c *Config) { c.Sync.Probes = 0 }},
		{"zero sync interval", func(c *Config) { c.Sync.Interval = 0 }},
		{"bogus log level", func(c *Config) { c.Log.Level = "loud" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.True(t, errors.IsInvalidArgument(err))
		})
	}
}
