package main

import (
	"context"
	"expvar"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/pprof"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"

	"github.com/INLOpen/nexusconf/config"
	"github.com/INLOpen/nexusconf/engine"
	"github.com/INLOpen/nexusconf/hooks"
	"github.com/INLOpen/nexusconf/hooks/listeners"
)

// createLogger creates a slog.Logger based on the provided configuration.
func createLogger(cfg config.LoggingConfig) (*slog.Logger, io.Closer, error) {
	var level slog.Level
	switch strings.ToLower(cfg.Level) {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		return nil, nil, fmt.Errorf("invalid log level: %s", cfg.Level)
	}

	var output io.Writer
	var closer io.Closer
	switch strings.ToLower(cfg.Output) {
	case "stdout":
		output = os.Stdout
	case "file":
		if cfg.File == "" {
			return nil, nil, fmt.Errorf("log output is 'file' but no file path is specified")
		}
		file, err := os.OpenFile(cfg.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0666)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open log file %s: %w", cfg.File, err)
		}
		output = file
		closer = file // The file handle is the closer.
	case "none":
		output = io.Discard
	default:
		return nil, nil, fmt.Errorf("invalid log output: %s", cfg.Output)
	}

	logger := slog.New(slog.NewJSONHandler(output, &slog.HandlerOptions{Level: level}))
	return logger, closer, nil
}

// initTracerProvider creates and configures an OpenTelemetry TracerProvider.
// It sets up an exporter based on the configuration to send traces to a collector.
func initTracerProvider(cfg config.TracingConfig, logger *slog.Logger) (*sdktrace.TracerProvider, func(), error) {
	if !cfg.Enabled {
		logger.Info("Distributed tracing is disabled.")
		// Return a no-op provider and an empty cleanup function.
		return sdktrace.NewTracerProvider(), func() {}, nil
	}

	logger.Info("Initializing distributed tracing...", "protocol", cfg.Protocol, "endpoint", cfg.Endpoint)

	ctx := context.Background()
	var exporter sdktrace.SpanExporter
	var err error

	// Create an OTLP exporter (gRPC or HTTP)
	switch strings.ToLower(cfg.Protocol) {
	case "http":
		exporter, err = otlptrace.New(ctx, otlptracehttp.NewClient(otlptracehttp.WithEndpoint(cfg.Endpoint), otlptracehttp.WithInsecure()))
	case "grpc":
		exporter, err = otlptrace.New(ctx, otlptracegrpc.NewClient(otlptracegrpc.WithEndpoint(cfg.Endpoint), otlptracegrpc.WithInsecure()))
	default:
		return nil, nil, fmt.Errorf("unsupported tracing protocol: %q", cfg.Protocol)
	}
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create trace exporter: %w", err)
	}

	// Define the service resource
	res, err := resource.New(ctx, resource.WithAttributes(semconv.ServiceNameKey.String("nexusconf")))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create trace resource: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)

	cleanup := func() {
		logger.Info("Shutting down tracer provider...")
		// Create a context with a timeout to prevent shutdown from hanging.
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tp.Shutdown(shutdownCtx); err != nil {
			logger.Error("Error shutting down tracer provider", "error", err)
		}
	}

	return tp, cleanup, nil
}

// startDebugServer exposes expvar counters and optionally pprof.
func startDebugServer(cfg config.DebugConfig, logger *slog.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/debug/vars", expvar.Handler())
	if cfg.PProfEnabled {
		mux.HandleFunc("/debug/pprof/", pprof.Index)
		mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
		mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
		mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
	}
	srv := &http.Server{Addr: cfg.ListenAddress, Handler: mux}
	go func() {
		logger.Info("Debug server listening.", "address", cfg.ListenAddress)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("Debug server exited with an error", "error", err)
		}
	}()
	return srv
}

func main() {
	// Define a command-line flag for the config file path
	configPath := flag.String("config", "config.yaml", "Path to the configuration file")
	flag.Parse()

	// Load configuration
	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		// Use a temporary logger for pre-config errors
		slog.Error("Failed to load configuration", "path", *configPath, "error", err)
		os.Exit(1)
	}

	// Create the logger based on the loaded configuration
	logger, logCloser, err := createLogger(cfg.Logging)
	if err != nil {
		slog.Error("Failed to create logger", "error", err)
		os.Exit(1)
	}
	// Defer closing the log file if one was opened.
	if logCloser != nil {
		defer logCloser.Close()
	}

	if cfg.Engine.DataDir == "" {
		logger.Error("Engine data_dir must be specified in the configuration file.")
		os.Exit(1)
	}
	logger.Info("Using data directory", "path", cfg.Engine.DataDir)

	// Initialize the TracerProvider
	tp, tracerCleanup, err := initTracerProvider(cfg.Tracing, logger)
	if err != nil {
		logger.Error("Failed to initialize tracer provider", "error", err)
		os.Exit(1)
	}

	eng, err := engine.NewConfEngine(engine.Options{
		DataDir:        cfg.Engine.DataDir,
		SchemaDir:      cfg.Engine.SchemaDir,
		LockDir:        cfg.Engine.LockDir,
		Compression:    cfg.Engine.Compression,
		CacheCapacity:  cfg.Engine.Cache.Capacity,
		TracerProvider: tp,
		Logger:         logger,
	})
	if err != nil {
		logger.Error("Failed to create engine", "error", err)
		os.Exit(1)
	}

	// --- Register Hooks ---
	changeLogger := listeners.NewChangeLoggerListener(logger)
	eng.GetHookManager().Register(hooks.EventPostModuleChange, changeLogger)
	logger.Info("Registered ChangeLoggerListener for PostModuleChange events.")
	// --- End Register Hooks ---

	if err := eng.Start(); err != nil {
		logger.Error("Failed to start engine", "error", err)
		os.Exit(1)
	}

	var debugSrv *http.Server
	if cfg.Debug.Enabled {
		debugSrv = startDebugServer(cfg.Debug, logger)
	}

	logger.Info("Application running. Press Ctrl+C to exit.")

	// Graceful shutdown: Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit
	logger.Info("Shutdown signal received. Stopping...")

	grace := config.ParseDuration(cfg.Engine.ShutdownGrace, 10*time.Second, logger)
	if debugSrv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), grace)
		if err := debugSrv.Shutdown(shutdownCtx); err != nil {
			logger.Error("Failed to shut down debug server", "error", err)
		}
		cancel()
	}
	if err := eng.Close(); err != nil {
		logger.Error("Failed to close engine", "error", err)
	}
	tracerCleanup()
	logger.Info("Application exited gracefully.")
}
