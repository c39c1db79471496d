// Package main implements the labstream command line tool: a small
// operational companion to the library for discovering streams on the
// network, tapping into one, and generating test traffic.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/c360/labstream/config"
	"github.com/c360/labstream/descriptor"
	"github.com/c360/labstream/engine"
)

const (
	Version = "0.1.0"
	appName = "labstream"
)

func main() {
	defer func() {
		if r := recover(); r != nil {
			buf := make([]byte, 4096)
			n := runtime.Stack(buf, false)
			_, _ = fmt.Fprintf(os.Stderr, "PANIC: %v\nStack trace:\n%s\n", r, string(buf[:n]))
			os.Exit(2)
		}
	}()

	if err := run(); err != nil {
		slog.Error("command failed", "error", err)
		os.Exit(1)
	}
}

// CLIConfig holds command-line configuration shared by all
// subcommands.
type CLIConfig struct {
	ConfigPath  string
	LogLevel    string
	LogFormat   string
	MetricsPort int
	Timeout     time.Duration
	ShowVersion bool
}

func parseFlags(fs *flag.FlagSet, args []string) (*CLIConfig, error) {
	cfg := &CLIConfig{}

	fs.StringVar(&cfg.ConfigPath, "config",
		os.Getenv("LABSTREAM_CONFIG"),
		"Path to configuration file (env: LABSTREAM_CONFIG)")
	fs.StringVar(&cfg.LogLevel, "log-level",
		getEnv("LABSTREAM_LOG_LEVEL", "info"),
		"Log level: debug, info, warn, error (env: LABSTREAM_LOG_LEVEL)")
	fs.StringVar(&cfg.LogFormat, "log-format",
		getEnv("LABSTREAM_LOG_FORMAT", "text"),
		"Log format: json, text (env: LABSTREAM_LOG_FORMAT)")
	fs.IntVar(&cfg.MetricsPort, "metrics-port", 0,
		"Serve Prometheus metrics on this port, 0 to disable")
	fs.DurationVar(&cfg.Timeout, "timeout", 5*time.Second,
		"Resolve and pull timeout")
	fs.BoolVar(&cfg.ShowVersion, "version", false, "Print version and exit")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	return cfg, nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func run() error {
	if len(os.Args) < 2 {
		usage()
		return fmt.Errorf("missing subcommand")
	}
	sub := os.Args[1]

	fs := flag.NewFlagSet(appName+" "+sub, flag.ExitOnError)
	var (
		name      = fs.String("name", "", "Stream name to match")
		predicate = fs.String("predicate", "", "XPath-style predicate to match")
		channels  = fs.Int("channels", 8, "Channel count of the generated stream (push)")
		rate      = fs.Float64("rate", 100, "Nominal sampling rate of the generated stream (push)")
		sourceID  = fs.String("source-id", "", "Stable source id of the generated stream (push)")
	)

	cli, err := parseFlags(fs, os.Args[2:])
	if err != nil {
		return err
	}
	if cli.ShowVersion {
		fmt.Printf("%s %s (protocol %d)\n", appName, Version, descriptor.ProtocolVersion)
		return nil
	}

	logger := setupLogger(cli.LogLevel, cli.LogFormat)

	cfg, err := config.Load(cli.ConfigPath)
	if err != nil {
		return err
	}
	cfg.Log.Level = cli.LogLevel

	eng, err := engine.New(cfg, engine.WithLogger(logger))
	if err != nil {
		return err
	}
	defer eng.Close()

	if cli.MetricsPort > 0 {
		go func() {
			addr := fmt.Sprintf(":%d", cli.MetricsPort)
			mux := http.NewServeMux()
			mux.Handle("/metrics", eng.MetricsHandler())
			logger.Info("metrics listening", "addr", addr)
			if err := http.ListenAndServe(addr, mux); err != nil {
				logger.Error("metrics server failed", "error", err)
			}
		}()
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	switch sub {
	case "resolve":
		return runResolve(ctx, eng, cli, *name, *predicate)
	case "pull":
		return runPull(ctx, eng, cli, *name, *predicate)
	case "push":
		return runPush(ctx, eng, *name, *channels, *rate, *sourceID)
	default:
		usage()
		return fmt.Errorf("unknown subcommand %q", sub)
	}
}

func usage() {
	fmt.Fprintf(os.Stderr, `usage: %s <command> [flags]

commands:
  resolve   list streams visible on the network
  pull      connect to one stream and print its samples
  push      serve a generated test stream

run '%s <command> -h' for command flags
`, appName, appName)
}

func resolveStreams(ctx context.Context, eng *engine.Engine, cli *CLIConfig, name, predicate string) ([]*descriptor.StreamDescriptor, error) {
	switch {
	case predicate != "":
		return eng.ResolveByPredicate(ctx, predicate, 1, cli.Timeout)
	case name != "":
		return eng.ResolveByProperty(ctx, "name", name, 1, cli.Timeout)
	default:
		return eng.ResolveAll(ctx, 0, cli.Timeout)
	}
}

func runResolve(ctx context.Context, eng *engine.Engine, cli *CLIConfig, name, predicate string) error {
	streams, err := resolveStreams(ctx, eng, cli, name, predicate)
	if err != nil {
		return err
	}
	if len(streams) == 0 {
		fmt.Println("no streams found")
		return nil
	}
	for _, d := range streams {
		fmt.Printf("%-20s %-10s %3dch @ %gHz  %-8s  %s  host=%s uid=%s\n",
			d.Name(), d.Type(), d.ChannelCount(), d.NominalRate(),
			d.Format(), d.Endpoint(), d.Hostname(), d.UID())
	}
	return nil
}

func runPull(ctx context.Context, eng *engine.Engine, cli *CLIConfig, name, predicate string) error {
	streams, err := resolveStreams(ctx, eng, cli, name, predicate)
	if err != nil {
		return err
	}
	if len(streams) == 0 {
		return fmt.Errorf("no matching stream")
	}

	inlet, err := eng.NewInlet(streams[0])
	if err != nil {
		return err
	}
	defer inlet.Close()

	fmt.Printf("pulling from %s (%s)\n", streams[0].Name(), streams[0].Endpoint())
	for ctx.Err() == nil {
		values, ts, err := inlet.PullSample(cli.Timeout)
		if err != nil {
			return err
		}
		if values == nil {
			continue
		}
		fmt.Printf("%.6f  %v\n", ts, values)
	}
	return nil
}

func runPush(ctx context.Context, eng *engine.Engine, name string, channels int, rate float64, sourceID string) error {
	if name == "" {
		name = "labstream-test"
	}
	d, err := descriptor.New(name, "Test", channels, rate, descriptor.Float32, sourceID)
	if err != nil {
		return err
	}
	d.Desc().AppendChildValue("manufacturer", appName)

	outlet, err := eng.NewOutlet(d)
	if err != nil {
		return err
	}
	defer outlet.Close()

	fmt.Printf("serving %s at %s, ctrl-c to stop\n", name, outlet.Info().Endpoint())

	interval := time.Second
	if rate > 0 {
		interval = time.Duration(float64(time.Second) / rate)
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var n int
	values := make([]float32, channels)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			for c := range values {
				values[c] = float32(n + c)
			}
			n++
			if err := outlet.Push(values); err != nil {
				return err
			}
		}
	}
}
