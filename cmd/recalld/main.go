// Recalld is an episodic memory daemon for operational tooling.
//
// It records experiences, mines behavioral patterns from them, distills
// lessons, and serves recall over HTTP and MCP. Episodes arrive through the
// HTTP API, through the MCP tools, or asynchronously over NATS.
//
// Usage:
//
//	# Start the daemon with defaults
//	recalld
//
//	# Custom config file
//	recalld --config /etc/recalld/config.yaml
//
//	# Serve MCP tools over stdio instead of running the daemon
//	recalld --stdio
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/recalld/internal/config"
	"github.com/fyrsmithlabs/recalld/internal/episodic"
	"github.com/fyrsmithlabs/recalld/internal/httpapi"
	"github.com/fyrsmithlabs/recalld/internal/ingest"
	"github.com/fyrsmithlabs/recalld/internal/logging"
	"github.com/fyrsmithlabs/recalld/internal/mcp"
	"github.com/fyrsmithlabs/recalld/internal/store"
	"github.com/fyrsmithlabs/recalld/internal/telemetry"
)

// Version information (set via ldflags during build)
var (
	version   = "dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

func main() {
	configPath := flag.String("config", "", "path to config file (default ~/.config/recalld/config.yaml)")
	stdio := flag.Bool("stdio", false, "serve MCP tools over stdio instead of running the daemon")
	logLevel := flag.String("log-level", "", "override log level (trace, debug, info, warn, error)")
	flag.Parse()

	if args := flag.Args(); len(args) > 0 {
		switch args[0] {
		case "version":
			printVersion()
			os.Exit(0)
		default:
			fmt.Fprintf(os.Stderr, "Unknown command: %s\n", args[0])
			fmt.Fprintf(os.Stderr, "\nUsage:\n")
			fmt.Fprintf(os.Stderr, "  recalld            Start the recalld daemon\n")
			fmt.Fprintf(os.Stderr, "  recalld --stdio    Serve MCP tools on stdin/stdout\n")
			fmt.Fprintf(os.Stderr, "  recalld version    Show version information\n")
			os.Exit(1)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()

	if err := run(ctx, *configPath, *stdio, *logLevel); err != nil {
		fmt.Fprintf(os.Stderr, "recalld: %v\n", err)
		os.Exit(1)
	}
}

func printVersion() {
	fmt.Printf("recalld by Fyrsmith Labs\n")
	fmt.Printf("Version:    %s\n", version)
	fmt.Printf("Commit:     %s\n", gitCommit)
	fmt.Printf("Build Date: %s\n", buildDate)
}

// run wires the daemon together and blocks until the context is cancelled.
func run(ctx context.Context, configPath string, stdio bool, logLevel string) error {
	cfg, err := config.LoadWithFile(configPath)
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	logger, err := initLogger(stdio, logLevel)
	if err != nil {
		return fmt.Errorf("initializing logger: %w", err)
	}
	defer func() { _ = logging.Sync(logger) }()

	tel, err := telemetry.New(ctx, &cfg.Telemetry, logger)
	if err != nil {
		return fmt.Errorf("initializing telemetry: %w", err)
	}
	defer func() { _ = tel.Shutdown(context.Background()) }()

	storeOpts := store.DefaultOptions()
	if cfg.Store.BusyTimeout > 0 {
		storeOpts.BusyTimeout = cfg.Store.BusyTimeout
	}
	st, err := store.Open(cfg.Store.Path, storeOpts, logger)
	if err != nil {
		return fmt.Errorf("opening store: %w", err)
	}
	defer st.Close()

	svc, err := episodic.NewService(st, logger)
	if err != nil {
		return fmt.Errorf("creating engine: %w", err)
	}

	if stdio {
		return runStdio(ctx, svc, logger)
	}

	logger.Info("starting recalld",
		zap.String("version", version),
		zap.Int("port", cfg.Server.Port),
		zap.String("store", cfg.Store.Path),
		zap.Bool("ingest", cfg.Ingest.Enabled))

	if cfg.Ingest.Enabled {
		subscriber, err := ingest.Connect(&ingest.Config{
			URL:     cfg.Ingest.URL,
			Subject: cfg.Ingest.Subject,
			Token:   cfg.Ingest.Token.Value(),
			Name:    cfg.Observability.ServiceName,
		}, svc, logger)
		if err != nil {
			return fmt.Errorf("connecting ingest: %w", err)
		}
		if err := subscriber.Start(ctx); err != nil {
			return fmt.Errorf("starting ingest: %w", err)
		}
		defer func() { _ = subscriber.Stop() }()
	}

	go runCleanupLoop(ctx, svc, cfg.Engine, logger)

	srv, err := httpapi.NewServer(svc, logger, &httpapi.Config{
		Host:          "localhost",
		Port:          cfg.Server.Port,
		EnableMetrics: cfg.Observability.EnableMetrics,
	})
	if err != nil {
		return fmt.Errorf("creating http server: %w", err)
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

// runStdio serves the MCP tools on stdin/stdout. Logs must stay off stdout
// in this mode; the logger writes to stderr.
func runStdio(ctx context.Context, svc *episodic.Service, logger *zap.Logger) error {
	srv, err := mcp.NewServer(&mcp.Config{
		Name:    "recalld",
		Version: version,
		Logger:  logger,
	}, svc)
	if err != nil {
		return fmt.Errorf("creating mcp server: %w", err)
	}
	return srv.Run(ctx)
}

// runCleanupLoop runs the retention sweep on the configured interval until
// the context is cancelled. Sweep failures are logged, never fatal.
func runCleanupLoop(ctx context.Context, svc *episodic.Service, cfg config.EngineConfig, logger *zap.Logger) {
	interval := cfg.CleanupInterval
	if interval <= 0 {
		interval = 24 * time.Hour
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			result, err := svc.Cleanup(ctx, cfg.RetentionDays)
			if err != nil {
				logger.Warn("retention sweep failed", zap.Error(err))
				continue
			}
			logger.Info("retention sweep complete",
				zap.Int64("episodes_deleted", result.EpisodesDeleted),
				zap.Int64("patterns_deleted", result.PatternsDeleted),
				zap.Int64("lessons_deprecated", result.LessonsDeprecated))
		}
	}
}

// initLogger builds the daemon logger. Stdio mode keeps stdout clean for the
// MCP transport.
func initLogger(stdio bool, level string) (*zap.Logger, error) {
	logCfg := logging.NewDefaultConfig()
	if level != "" {
		parsed, err := logging.LevelFromString(level)
		if err != nil {
			return nil, fmt.Errorf("invalid log level %q: %w", level, err)
		}
		logCfg.Level = parsed
	}
	logCfg.Stderr = stdio
	return logging.New(logCfg)
}
