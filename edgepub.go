package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/edgepub/edgepub/api"
	"github.com/edgepub/edgepub/cdn"
	_ "github.com/edgepub/edgepub/cdn/sink"
	"github.com/edgepub/edgepub/cfg"
	"github.com/edgepub/edgepub/db"
	"github.com/edgepub/edgepub/deploy"
	"github.com/edgepub/edgepub/gateway"
	"github.com/edgepub/edgepub/kvstore"
	"github.com/edgepub/edgepub/notify"
	"github.com/edgepub/edgepub/queue"
	"github.com/edgepub/edgepub/telemetry"
)

const shutdownTimeout = 30 * time.Second

func main() {
	flag.Parse()

	// Load configuration
	err := cfg.Load(*cfg.ConfigPathFlag)
	if err != nil {
		panic(err)
	}

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		panic(fmt.Sprintf("Invalid configuration: %v", err))
	}

	// Setup logging
	var writer io.Writer = zerolog.NewConsoleWriter()
	if cfg.Config.Logging.Format == "json" {
		writer = os.Stdout
	}
	gLog := zerolog.New(writer).
		With().
		Timestamp().
		Str("worker_id", cfg.Config.WorkerID).
		Logger()

	if cfg.Config.Logging.Verbose {
		log.Logger = gLog.Level(zerolog.DebugLevel)
	} else {
		log.Logger = gLog.Level(zerolog.InfoLevel)
	}

	log.Info().Msg("edgepub - staged CDN publishing gateway")

	var metrics http.Handler
	if cfg.Config.Prometheus.Enabled {
		log.Debug().Msg("Initializing telemetry")
		telemetry.InitializeTelemetry()
		telemetry.InitMetrics()
		metrics = telemetry.GetMetricsHandler()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Relational store
	log.Info().Str("driver", cfg.Config.Database.Driver).Msg("Opening relational store")
	store, err := db.Open(ctx, cfg.Config.Database)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open relational store")
		return
	}
	defer store.Close()

	// Versioned KV store
	kv, err := kvstore.NewPebbleStore(cfg.Config.KV.Dir)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open kv store")
		return
	}
	defer kv.Close()

	// CDN flusher
	flusher, err := cdn.NewFlusherFromConfig(cfg.Config.CDN)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize CDN flusher")
		return
	}
	defer flusher.Close()

	// Deploy actors and the worker running them
	engine, err := deploy.NewEngineFromConfig(store, kv, flusher)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize deploy engine")
		return
	}

	hub := notify.NewHub()
	worker, err := queue.NewWorker(queue.WorkerConfig{
		Name:              cfg.Config.WorkerID,
		Source:            store,
		Handlers:          engine.Handlers(),
		BatchSize:         cfg.Config.Queue.BatchSize,
		PollInterval:      time.Duration(cfg.Config.Queue.PollIntervalMS) * time.Millisecond,
		Concurrency:       cfg.Config.Queue.Concurrency,
		VisibilityTimeout: time.Duration(cfg.Config.Queue.VisibilityTimeoutMS) * time.Millisecond,
		MaxAttempts:       cfg.Config.Queue.MaxAttempts,
		Hub:               hub,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize queue worker")
		return
	}
	worker.Start()
	defer worker.Stop()

	var collector *telemetry.MetricsCollector
	if cfg.Config.Prometheus.Enabled {
		collector = telemetry.NewMetricsCollector(store, 15*time.Second)
		collector.Start()
		defer collector.Stop()
	}

	// HTTP API
	svc := gateway.NewService(store, kv)
	svc.SetNotifier(hub)
	addr := fmt.Sprintf("%s:%d", cfg.Config.API.BindAddress, cfg.Config.API.Port)
	server := &http.Server{
		Addr:              addr,
		Handler:           api.NewRouter(svc, api.Options{Token: cfg.Config.API.Token, Metrics: metrics}),
		ReadHeaderTimeout: 10 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	log.Info().
		Str("address", addr).
		Int("environments", len(cfg.Config.Environments)).
		Str("sink", cfg.Config.CDN.Sink).
		Msg("edgepub started successfully")

	select {
	case <-ctx.Done():
		log.Info().Msg("Shutting down")
	case err := <-serverErr:
		if err != nil {
			log.Error().Err(err).Msg("HTTP server failed")
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("HTTP server did not shut down cleanly")
	}
}
