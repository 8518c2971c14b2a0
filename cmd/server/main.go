package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"timeline-sync/internal/platform/config"
	"timeline-sync/internal/platform/logger"
	"timeline-sync/internal/platform/metrics"
	"timeline-sync/internal/timeline"

	"github.com/go-chi/chi/v5"
)

const shutdownTimeout = 10 * time.Second

func main() {
	_ = config.Load()

	port := config.GetEnv("PORT", "8080")
	logLevel := config.GetEnv("LOG_LEVEL", "info")
	logFormat := config.GetEnv("LOG_FORMAT", "json")

	cfg := timeline.Config{
		MonitoringInterval: config.GetEnvDuration("MONITORING_INTERVAL", timeline.DefaultMonitoringInterval),
		PreloadThreshold:   config.GetEnvFloat("PRELOAD_THRESHOLD_SECONDS", timeline.DefaultPreloadThreshold),
		CacheDuration:      config.GetEnvDuration("CACHE_DURATION", timeline.DefaultCacheDuration),
		MaxVisible:         config.GetEnvInt("MAX_VISIBLE", timeline.DefaultMaxVisible),
		SeekTolerance:      config.GetEnvFloat("SEEK_TOLERANCE_SECONDS", timeline.DefaultSeekTolerance),
		RetryBackoff:       config.GetEnvDuration("RETRY_BACKOFF", timeline.DefaultRetryBackoff),
		MaxRetries:         config.GetEnvInt("MAX_RETRIES", 0),
		SweepInterval:      config.GetEnvDuration("SWEEP_INTERVAL", timeline.DefaultSweepInterval),
	}

	log := logger.New(logLevel, logFormat)

	repo := timeline.NewInMemoryRepository()
	met := metrics.New()
	fetcher := &timeline.HTTPFetcher{Client: &http.Client{}}
	svc := timeline.NewService(repo, cfg, fetcher, log, met)
	h := timeline.NewHandler(svc, log)

	r := chi.NewRouter()
	r.Use(logger.RequestLogger(log))
	r.Use(metrics.RequestMiddleware(met))
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		met.Handler(func() {
			met.SetActiveSessions(svc.ActiveSessionCount())
			met.SetCacheStats(svc.CacheStats())
		}).ServeHTTP(w, r)
	})
	h.Mount(r)

	addr := ":" + port
	srv := &http.Server{Addr: addr, Handler: r}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	log.Info("server starting",
		"port", port,
		"monitoring_interval", cfg.MonitoringInterval.String(),
		"preload_threshold_seconds", cfg.PreloadThreshold,
		"cache_duration", cfg.CacheDuration.String(),
		"max_visible", cfg.MaxVisible,
		"log_level", logLevel,
	)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	log.Info("shutdown signal received, draining connections")

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Error("shutdown error", "error", err)
		os.Exit(1)
	}

	// Stop scheduler loops and release cached buffers before exit.
	svc.Close()

	log.Info("server stopped")
}
