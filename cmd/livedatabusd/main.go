package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/markus-lassfolk/livedatabus/pkg/config"
	"github.com/markus-lassfolk/livedatabus/pkg/lifecycle"
	"github.com/markus-lassfolk/livedatabus/pkg/logx"
	"github.com/markus-lassfolk/livedatabus/pkg/permission"
	"github.com/markus-lassfolk/livedatabus/pkg/pidfile"
	"github.com/markus-lassfolk/livedatabus/pkg/trace"
)

var (
	configPath = flag.String("config", config.DefaultPath, "Path to UCI configuration file")
	pidPath    = flag.String("pid-file", "/tmp/livedatabusd.pid", "Path to PID file")
	logLevel   = flag.String("log-level", "", "Override log level (debug|info|warn|error)")
	version    = flag.Bool("version", false, "Show version information")
	grant      = flag.Bool("grant", false, "Grant the location permission when it is requested")
	tracePath  = flag.String("trace", "", "Override the trace database path")
	importCSV  = flag.String("import", "", "Import a CSV trace (timestamp,lat,lon,accuracy,provider) and exit")
)

const (
	AppName    = "livedatabusd"
	AppVersion = "1.0.0"
)

func main() {
	flag.Parse()

	if *version {
		fmt.Printf("%s version %s\n", AppName, AppVersion)
		os.Exit(0)
	}

	effectiveLogLevel := "info"
	if *logLevel != "" {
		effectiveLogLevel = *logLevel
	}
	logger := logx.NewLogger(effectiveLogLevel, AppName)

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		logger.Error("Failed to load configuration", "error", err, "path", *configPath)
		os.Exit(1)
	}
	if *logLevel == "" {
		logger.SetLevel(cfg.LogLevel)
	}
	logger.SetFormat(cfg.LogFormat)
	if *tracePath != "" {
		cfg.Replay.TracePath = *tracePath
	}

	if err := run(cfg, logger); err != nil {
		logger.Error("livedatabusd failed", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *logx.Logger) error {
	store, err := trace.Open(cfg.Replay.TracePath, logger.Named("trace"))
	if err != nil {
		return err
	}
	defer store.Close()

	if *importCSV != "" {
		return importTrace(store, *importCSV, cfg.Replay.TraceName)
	}

	pidFile := pidfile.New(*pidPath)
	if err := pidFile.Create(); err != nil {
		return err
	}
	defer func() {
		if err := pidFile.Remove(); err != nil {
			logger.Error("Failed to remove PID file", "error", err)
		}
	}()

	samples, err := store.Samples(cfg.Replay.TraceName)
	if err != nil {
		return fmt.Errorf("failed to load trace: %w", err)
	}
	logger.Info("Starting livedatabus daemon",
		"version", AppVersion,
		"pid", os.Getpid(),
		"provider", cfg.Provider,
		"filter_mode", cfg.FilterMode,
		"trace_samples", len(samples),
	)

	a, err := newApp(cfg, samples, *grant, logger)
	if err != nil {
		return err
	}
	defer a.close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP, syscall.SIGUSR1, syscall.SIGUSR2)
	defer signal.Stop(sigChan)

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case sig := <-sigChan:
				logger.Info("Received signal", "signal", sig.String())
				switch sig {
				case syscall.SIGUSR1:
					a.transition(lifecycle.Created)
				case syscall.SIGUSR2:
					a.transition(lifecycle.Resumed)
				case syscall.SIGHUP:
					a.looper.Execute(func() { a.grant(permission.AccessFineLocation) })
				default:
					a.transition(lifecycle.Destroyed)
					cancel()
					return
				}
			}
		}
	}()

	return a.run(ctx)
}

func importTrace(store *trace.Store, path, name string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open trace csv: %w", err)
	}
	defer f.Close()

	n, err := store.ImportCSV(name, f)
	if err != nil {
		return err
	}
	fmt.Printf("imported %d samples into trace %q\n", n, traceName(name))
	return nil
}

func traceName(name string) string {
	if name == "" {
		return trace.DefaultTrace
	}
	return name
}
