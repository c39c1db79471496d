package engine

import (
	"context"
	"io"
	"log/slog"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/labstream/config"
	"github.com/c360/labstream/descriptor"
	"github.com/c360/labstream/discovery"
	"github.com/c360/labstream/errors"
)

// testEngine runs entirely over loopback: unicast discovery on an
// ephemeral port, data listeners on 127.0.0.1.
func testEngine(t *testing.T, peers ...string) *Engine {
	t.Helper()

	cfg := config.DefaultConfig()
	cfg.Discovery.MulticastGroup = ""
	cfg.Discovery.Port = 0
	cfg.Discovery.QueryInterval = 50 * time.Millisecond
	cfg.Discovery.ForgetAfter = 500 * time.Millisecond
	cfg.Discovery.KnownPeers = peers
	cfg.Transport.ListenHost = "127.0.0.1"
	cfg.Transport.HeartbeatInterval = 100 * time.Millisecond
	cfg.Transport.HeartbeatTimeout = 500 * time.Millisecond
	cfg.Sync.Interval = 100 * time.Millisecond

	e, err := New(cfg, WithSessionID("test-session"),
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))
	require.NoError(t, err)
	t.Cleanup(func() { _ = e.Close() })
	return e
}

func declareStream(t *testing.T, name string, channels int) *descriptor.StreamDescriptor {
	t.Helper()
	d, err := descriptor.New(name, "EEG", channels, 100, descriptor.Float32, "")
	require.NoError(t, err)
	return d
}

func TestEndToEndWithinOneEngine(t *testing.T) {
	e := testEngine(t)

	outlet, err := e.NewOutlet(declareStream(t, "Alpha", 2))
	require.NoError(t, err)
	defer outlet.Close()

	results, err := e.ResolveByProperty(context.Background(), "name", "Alpha", 1, 3*time.Second)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "test-session", results[0].SessionID())

	inlet, err := e.NewInlet(results[0])
	require.NoError(t, err)
	defer inlet.Close()
	require.True(t, outlet.WaitForConsumers(2*time.Second))

	require.NoError(t, outlet.PushAt([]float32{1.5, -2.5}, 42.0))
	values, ts, err := inlet.PullSample(2 * time.Second)
	require.NoError(t, err)
	assert.Equal(t, []float32{1.5, -2.5}, values)
	assert.Equal(t, 42.0, ts)
}

func TestStreamingAcrossEngines(t *testing.T) {
	producer := testEngine(t)
	consumer := testEngine(t, producer.DiscoveryAddr())

	outlet, err := producer.NewOutlet(declareStream(t, "CrossEngine", 1))
	require.NoError(t, err)
	defer outlet.Close()

	results, err := consumer.ResolveAll(context.Background(), 1, 3*time.Second)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "CrossEngine", results[0].Name())

	inlet, err := consumer.NewInlet(results[0])
	require.NoError(t, err)
	defer inlet.Close()

	require.NoError(t, outlet.Push([]float32{7}))
	values, _, err := inlet.PullSample(2 * time.Second)
	require.NoError(t, err)
	assert.Equal(t, []float32{7}, values)
}

func TestResolveByPredicateThroughEngine(t *testing.T) {
	e := testEngine(t)

	o1, err := e.NewOutlet(declareStream(t, "Wide", 64))
	require.NoError(t, err)
	defer o1.Close()
	o2, err := e.NewOutlet(declareStream(t, "Narrow", 2))
	require.NoError(t, err)
	defer o2.Close()

	results, err := e.ResolveByPredicate(context.Background(),
		"channel_count>32", 1, 3*time.Second)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "Wide", results[0].Name())
}

func TestContinuousResolverThroughEngine(t *testing.T) {
	e := testEngine(t)

	cont, err := e.NewContinuousResolver(discovery.All())
	require.NoError(t, err)
	defer cont.Close()

	outlet, err := e.NewOutlet(declareStream(t, "Appearing", 1))
	require.NoError(t, err)

	require.Eventually(t, func() bool { return len(cont.Results()) == 1 },
		3*time.Second, 20*time.Millisecond)

	require.NoError(t, outlet.Close())
	require.Eventually(t, func() bool { return len(cont.Results()) == 0 },
		3*time.Second, 20*time.Millisecond)
}

func TestClosedEngineRefusesWork(t *testing.T) {
	e := testEngine(t)
	require.NoError(t, e.Close())
	require.NoError(t, e.Close(), "close is idempotent")

	_, err := e.NewOutlet(declareStream(t, "TooLate", 1))
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrEngineClosed)

	_, err = e.ResolveAll(context.Background(), 1, time.Second)
	require.Error(t, err)
}

func TestVersionsAndClock(t *testing.T) {
	e := testEngine(t)

	assert.Equal(t, 110, e.ProtocolVersion())
	assert.Equal(t, 100, e.LibraryVersion())
	assert.Equal(t, "labstream 1.0 (protocol 1.10)", e.LibraryInfo())

	t1 := e.LocalClock()
	time.Sleep(5 * time.Millisecond)
	t2 := e.LocalClock()
	assert.Greater(t, t2, t1)
}

func TestMetricsEndpoint(t *testing.T) {
	e := testEngine(t)

	outlet, err := e.NewOutlet(declareStream(t, "Counted", 1))
	require.NoError(t, err)
	defer outlet.Close()
	require.NoError(t, outlet.Push([]float32{1}))

	rec := httptest.NewRecorder()
	e.MetricsHandler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body := rec.Body.String()
	assert.Contains(t, body, "labstream_transport_samples_pushed_total")
	assert.Contains(t, body, `stream="Counted"`)
}

func TestInvalidConfigRejected(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Discovery.MaxResults = 0

	_, err := New(cfg)
	require.Error(t, err)
	assert.True(t, errors.IsInvalidArgument(err))
}
