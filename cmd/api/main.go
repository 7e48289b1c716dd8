// Package main is the entry point for the trendfeed API server.
package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/onnwee/trendfeed/internal/api"
	"github.com/onnwee/trendfeed/internal/config"
	"github.com/onnwee/trendfeed/internal/engagement"
	"github.com/onnwee/trendfeed/internal/feed"
	"github.com/onnwee/trendfeed/internal/jobs"
	"github.com/onnwee/trendfeed/internal/middleware"
	"github.com/onnwee/trendfeed/internal/post"
	"github.com/onnwee/trendfeed/internal/ranking"
	"github.com/onnwee/trendfeed/internal/snapshot"
)

const serviceName = "trendfeed-api"

func main() {
	configPath := flag.String("config", "", "path to YAML config file (optional)")
	help := flag.Bool("help", false, "display help message")
	flag.Parse()

	if *help {
		fmt.Println("Trendfeed API Server")
		fmt.Println()
		fmt.Println("Usage: api [options]")
		fmt.Println()
		fmt.Println("Options:")
		flag.PrintDefaults()
		os.Exit(0)
	}

	cfg, errs := config.Load(*configPath)
	logger := middleware.NewLogger(cfg.Env)
	slog.SetDefault(logger)

	if len(errs) > 0 {
		for _, err := range errs {
			logger.Error("configuration error", "error", err)
		}
		os.Exit(1)
	}

	db, err := sql.Open("postgres", cfg.DatabaseURL)
	if err != nil {
		logger.Error("failed to open database", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := db.Close(); err != nil {
			logger.Error("failed to close database", "error", err)
		}
	}()

	pingCtx, cancelPing := context.WithTimeout(context.Background(), 5*time.Second)
	if err := db.PingContext(pingCtx); err != nil {
		logger.Error("database unreachable", "error", err)
		cancelPing()
		os.Exit(1)
	}
	cancelPing()

	weights, err := ranking.LoadCalibration(cfg.WeightsPath)
	if err != nil {
		logger.Warn("falling back to default ranking weights", "error", err, "path", cfg.WeightsPath)
	}

	posts := post.NewPostgresRepository(db, logger)
	cache := engagement.NewCache(posts, engagement.Config{
		TTL:      cfg.ScoreCacheTTL,
		HalfLife: cfg.BoostHalfLife,
		Logger:   logger,
	})
	snapshots := snapshot.NewPostgresStore(db, logger)

	registry := prometheus.NewRegistry()

	jobMetrics := jobs.NewMetrics()
	if err := jobMetrics.Register(registry); err != nil {
		logger.Error("failed to register job metrics", "error", err)
		os.Exit(1)
	}

	svc := feed.NewService(posts, cache, snapshots, feed.NoopTagTrends{}, weights, feed.ServiceConfig{
		Selector: feed.SelectorConfig{
			RecencyWindow: cfg.RecencyWindow,
			Lookback:      cfg.Lookback,
			WideLookback:  cfg.WideLookback,
			RecencyCap:    cfg.RecencyBucketCap,
			CounterCap:    cfg.CounterBucketCap,
			ReplyCap:      cfg.ReplyBucketCap,
		},
		DefaultLimit:   cfg.FeedDefaultLimit,
		MaxLimit:       cfg.FeedMaxLimit,
		CacheWarmLimit: cfg.CacheWarmLimit,
		JobMetrics:     jobMetrics,
		Logger:         logger,
	})

	snapshotMetrics := snapshot.NewMetrics()
	if err := snapshotMetrics.Register(registry); err != nil {
		logger.Error("failed to register snapshot metrics", "error", err)
		os.Exit(1)
	}

	var lock snapshot.BatchLock
	if cfg.AdvisoryLockEnabled {
		lock = snapshot.NewAdvisoryLock(db)
	} else {
		lock = snapshot.NewFlagLock()
	}

	job := snapshot.NewJob(snapshot.JobConfig{
		Interval:   cfg.SnapshotInterval,
		Retention:  cfg.SnapshotRetention,
		MaxRows:    cfg.SnapshotMaxRows,
		Logger:     logger,
		Metrics:    snapshotMetrics,
		JobMetrics: jobMetrics,
	}, snapshots, svc, lock)

	if err := job.Start(context.Background()); err != nil {
		logger.Error("failed to start snapshot job", "error", err)
		os.Exit(1)
	}
	defer job.Stop()

	feedHandlers := api.NewFeedHandlers(svc, cfg.FeedMaxLimit)
	adminHandlers := api.NewAdminHandlers(job, cache)
	healthHandlers := api.NewHealthHandlers(api.HealthCheckerFunc(db.PingContext))

	mux := http.NewServeMux()
	mux.HandleFunc("/feeds/trending", feedHandlers.GetTrendingFeed)
	mux.HandleFunc("/feeds/home", feedHandlers.GetHomeFeed)
	mux.HandleFunc("/feeds/profile/", feedHandlers.GetProfileFeed)
	mux.HandleFunc("/internal/snapshots/run", adminHandlers.RunSnapshot)
	mux.HandleFunc("/internal/posts/", adminHandlers.InvalidatePostScore)
	mux.HandleFunc("/health", healthHandlers.Health)
	mux.HandleFunc("/ready", healthHandlers.Ready)
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))

	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			ctx := middleware.SetErrorCode(r.Context(), api.ErrCodeNotFound)
			api.WriteError(w, ctx, http.StatusNotFound, api.ErrCodeNotFound, "The requested resource was not found")
			return
		}
		api.WriteJSON(w, http.StatusOK, map[string]string{"service": serviceName, "version": "0.1.0"})
	})

	// Apply middleware: RequestID -> Tracing -> Logging
	handler := middleware.RequestID(middleware.Tracing(serviceName)(middleware.Logging(logger)(mux)))

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("starting server", "port", cfg.Port, "env", cfg.Env)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
		os.Exit(1)
	}

	logger.Info("server stopped")
}
