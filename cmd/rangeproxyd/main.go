// Command rangeproxyd runs the range-caching HTTP proxy: it serves
// byte-range requests for a video resource named by the "url" query
// parameter, filling a local chunked disk cache from the origin as it
// goes.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/mediacache/rangeproxy/handler"
	"github.com/mediacache/rangeproxy/internal/config"
	"github.com/mediacache/rangeproxy/internal/logging"
	"github.com/mediacache/rangeproxy/manager"
	"github.com/mediacache/rangeproxy/origin"
	"github.com/mediacache/rangeproxy/server"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	flags := pflag.NewFlagSet("rangeproxyd", pflag.ContinueOnError)
	flags.String("listenAddr", ":8080", "address the proxy listens on")
	flags.String("metricsAddr", "", "address the /metrics listener listens on (disabled if empty)")
	flags.String("cacheRoot", "", "directory holding cached chunks (required)")
	flags.Int64("maxTotalBytes", 1<<30, "maximum total bytes of cache on disk before eviction (0 disables eviction)")
	flags.Int64("chunkSize", 5*1024*1024, "chunk size in bytes for newly created cache entries")
	flags.String("logLevel", "info", "log level: debug, info, warn, error")
	flags.String("logFilePath", "", "rotate logs to this file instead of stdout")
	flags.Duration("originTimeout", 30*time.Second, "timeout for a single origin probe or range fetch")
	flags.Duration("idleTimeout", 60*time.Second, "idle connection timeout and graceful shutdown grace period")
	configFile := flags.String("config", "", "optional config file (yaml, json, toml, ...)")
	if err := flags.Parse(os.Args[1:]); err != nil {
		return fmt.Errorf("rangeproxyd: parse flags: %w", err)
	}

	cfg, err := config.Load(flags, *configFile)
	if err != nil {
		return fmt.Errorf("rangeproxyd: %w", err)
	}

	log := logging.New(logging.Options{Level: cfg.LogLevel, FilePath: cfg.LogFilePath})

	mgr, err := manager.New(cfg.CacheRoot, cfg.MaxTotalBytes, log, manager.WithChunkSize(cfg.ChunkSize))
	if err != nil {
		return fmt.Errorf("rangeproxyd: %w", err)
	}

	fetcher := origin.New()

	var metrics *server.Metrics
	handlerOpts := []handler.Option{
		handler.WithOriginTimeout(cfg.OriginTimeout),
		handler.WithFillTimeout(cfg.IdleTimeout),
	}
	if cfg.MetricsAddr != "" {
		metrics = server.NewMetrics()
		mgr.SetEvictionObserver(metrics)
		handlerOpts = append(handlerOpts, handler.WithRecorder(metrics))
	}

	h := handler.New(mgr, fetcher, log, handlerOpts...)

	srvOpts := []server.Option{server.WithIdleTimeout(cfg.IdleTimeout)}
	if cfg.MetricsAddr != "" {
		srvOpts = append(srvOpts, server.WithMetrics(cfg.MetricsAddr, metrics))
	}
	srv := server.New(cfg.ListenAddr, h, log, srvOpts...)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.WithField("cacheRoot", cfg.CacheRoot).Info("rangeproxy: starting")
	if err := srv.ListenAndServe(ctx); err != nil {
		return fmt.Errorf("rangeproxyd: %w", err)
	}
	return nil
}
