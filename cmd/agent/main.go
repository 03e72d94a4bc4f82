// Entry point for the device-side attendance agent: capture API, durable
// queue, connectivity monitor and background sync agent in one process.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"attendance.sync/internal/api"
	"attendance.sync/internal/api/handler"
	"attendance.sync/internal/config"
	"attendance.sync/internal/connectivity"
	"attendance.sync/internal/core"
	"attendance.sync/internal/queue"
	"attendance.sync/internal/syncer"
	"attendance.sync/pkg/logger"
	"attendance.sync/pkg/telemetry"
)

func main() {
	// Load config
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatal().Err(err).Msg("Could not load configuration")
	}

	// Configure structured logging
	logger.Setup("attendance-agent", cfg.IsLocalDev)

	// Configure OpenTelemetry Tracing
	shutdownTracer, err := telemetry.InitTracer("attendance-agent", cfg.OTLPEndpoint)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to init tracer")
	}
	defer func() {
		_ = shutdownTracer(context.Background())
	}()

	// Durable on-device queue
	store, err := queue.Open(cfg.QueuePath)
	if err != nil {
		log.Fatal().Err(err).Msg("Error opening durable queue")
	}
	defer store.Close()
	log.Info().Str("path", cfg.QueuePath).Msg("Durable queue opened.")

	// Local attachment store
	blobs, err := core.NewBlobStore(cfg.AttachmentDir)
	if err != nil {
		log.Fatal().Err(err).Msg("Error opening attachment store")
	}

	// Background pieces: connectivity monitor + sync agent
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	monitor := connectivity.NewMonitor(cfg.ReconcilerURL+"/healthz", cfg.ProbeInterval, cfg.ProbeTimeout)
	go monitor.Run(ctx)

	client := syncer.NewHTTPClient(cfg.ReconcilerURL, cfg.SubmitTimeout)
	agent := syncer.New(store, client, monitor, syncer.Config{
		Interval:       cfg.SyncInterval,
		BatchSize:      cfg.SyncBatchSize,
		RetryBaseDelay: cfg.RetryBaseDelay,
		RetryMaxDelay:  cfg.RetryMaxDelay,
	})
	go agent.Start(ctx)

	// Capture front + local UI API
	captureService := core.NewCaptureService(store, blobs)

	router := api.NewRouter(&handler.AgentHandler{
		Capture: captureService,
		Syncer:  agent,
		Signal:  monitor,
		Queue:   store,
	})

	// Middleware to inject logger with trace ID
	loggerMiddleware := func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			next.ServeHTTP(w, r.WithContext(logger.EnrichContextWithLogger(r.Context())))
		})
	}

	srv := &http.Server{
		Addr:    ":" + cfg.AgentPort,
		Handler: otelhttp.NewHandler(loggerMiddleware(router), "agent-api"),
	}

	go func() {
		log.Info().Str("port", cfg.AgentPort).Msg("Attendance agent starting")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("listen")
		}
	}()

	// Wait for interrupt signal to gracefully shut down.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info().Msg("Shutting down agent...")

	// Stop the background loops first so no new cycle claims events while
	// the server drains.
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Fatal().Err(err).Msg("Server forced to shutdown")
	}

	log.Info().Msg("Agent exiting")
}
