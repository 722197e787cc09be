// Package main is the entry point for the background workers: export
// generation, daily ledger roots, and retention sweeps.
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

	"github.com/sitewardhq/siteward/internal/api"
	"github.com/sitewardhq/siteward/internal/blob"
	"github.com/sitewardhq/siteward/internal/config"
	"github.com/sitewardhq/siteward/internal/export"
	"github.com/sitewardhq/siteward/internal/jobs"
	"github.com/sitewardhq/siteward/internal/ledger"
	"github.com/sitewardhq/siteward/internal/middleware"
	"github.com/sitewardhq/siteward/internal/retention"
	"github.com/sitewardhq/siteward/internal/tracing"
	"github.com/sitewardhq/siteward/internal/workrecord"
)

func main() {
	configFile := flag.String("config", "", "path to optional YAML config file")
	help := flag.Bool("help", false, "display help message")
	flag.Parse()

	if *help {
		fmt.Println("Siteward Worker")
		fmt.Println()
		fmt.Println("Usage: worker [options]")
		fmt.Println()
		fmt.Println("Options:")
		flag.PrintDefaults()
		os.Exit(0)
	}

	cfg, errs := config.Load(*configFile)
	if len(errs) > 0 {
		for _, err := range errs {
			fmt.Fprintln(os.Stderr, "config error:", err)
		}
		os.Exit(1)
	}

	logger := middleware.NewLogger(cfg.Env)
	slog.SetDefault(logger)
	logger.Info("configuration loaded", "config", cfg.LogSummary())

	tracerProvider, err := tracing.NewProvider(tracing.Config{
		ServiceName:  "siteward-worker",
		Enabled:      cfg.TracingEnabled,
		Environment:  cfg.Env,
		ExporterType: cfg.TracingExporterType,
		OTLPEndpoint: cfg.TracingOTLPEndpoint,
		SamplingRate: cfg.TracingSamplingRate,
		InsecureMode: cfg.TracingInsecure,
	})
	if err != nil {
		logger.Error("failed to initialize tracing", "error", err)
		os.Exit(1)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tracerProvider.Shutdown(ctx); err != nil {
			logger.Error("tracing shutdown failed", "error", err)
		}
	}()

	db, err := sql.Open("postgres", cfg.DatabaseURL)
	if err != nil {
		logger.Error("failed to open database", "error", err)
		os.Exit(1)
	}
	defer db.Close()
	pingCtx, cancelPing := context.WithTimeout(context.Background(), 10*time.Second)
	if err := db.PingContext(pingCtx); err != nil {
		cancelPing()
		logger.Error("failed to ping database", "error", err)
		os.Exit(1)
	}
	cancelPing()

	blobs, err := blob.NewS3Store(blob.S3Config{
		AccessKeyID:     cfg.BlobAccessKeyID,
		SecretAccessKey: cfg.BlobSecretAccessKey,
		Endpoint:        cfg.BlobEndpoint,
		Region:          cfg.BlobRegion,
	})
	if err != nil {
		logger.Error("failed to initialize blob store", "error", err)
		os.Exit(1)
	}

	registry := prometheus.NewRegistry()
	jobMetrics := jobs.NewMetrics()
	exportMetrics := export.NewMetrics()
	if err := jobMetrics.Register(registry); err != nil {
		logger.Error("failed to register job metrics", "error", err)
		os.Exit(1)
	}
	if err := exportMetrics.Register(registry); err != nil {
		logger.Error("failed to register export metrics", "error", err)
		os.Exit(1)
	}

	jobStore := export.NewPostgresJobStore(db, logger)
	ledgerRepo := ledger.NewPostgresRepository(db, logger)
	rootStore := ledger.NewPostgresRootStore(db)
	records := workrecord.NewPostgresSource(db)
	plans := retention.NewPostgresPlanSource(db)
	writer := ledger.NewWriter(ledgerRepo, logger)

	claimer := export.NewClaimer(jobStore, cfg.MaxConcurrentExports, cfg.RequireAtomicClaim, logger)
	renderers := export.NewRenderers(records, ledgerRepo)
	classifier := &export.FailureClassifier{Records: records}

	worker := export.NewWorker(export.WorkerConfig{
		PollInterval: time.Duration(cfg.PollIntervalSeconds) * time.Second,
		Bucket:       cfg.BlobBucket,
		Logger:       logger,
		Metrics:      exportMetrics,
		JobMetrics:   jobMetrics,
	}, jobStore, claimer, renderers, blobs, writer, classifier)

	rootJob := ledger.NewRootJob(ledger.RootJobConfig{
		Hour:       cfg.RootHour,
		Logger:     logger,
		JobMetrics: jobMetrics,
	}, ledgerRepo, rootStore)

	retentionWorker := retention.NewWorker(retention.WorkerConfig{
		Interval:   time.Duration(cfg.RetentionIntervalMinutes) * time.Minute,
		Bucket:     cfg.BlobBucket,
		Logger:     logger,
		JobMetrics: jobMetrics,
	}, jobStore, blobs, plans, writer)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := worker.Start(ctx); err != nil {
		logger.Error("failed to start export worker", "error", err)
		os.Exit(1)
	}
	if err := rootJob.Start(ctx); err != nil {
		logger.Error("failed to start ledger root job", "error", err)
		os.Exit(1)
	}
	if err := retentionWorker.Start(ctx); err != nil {
		logger.Error("failed to start retention worker", "error", err)
		os.Exit(1)
	}

	// Metrics and wake endpoint for the API's enqueue hook.
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	mux.HandleFunc("/wake", api.WakeHandler(worker.Wake))
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		if _, err := w.Write([]byte(`{"status":"healthy"}`)); err != nil {
			slog.Error("failed to write health response", "error", err)
		}
	})

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("starting worker server", "port", cfg.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down workers...")
	cancel()
	worker.Stop()
	rootJob.Stop()
	retentionWorker.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
		os.Exit(1)
	}

	logger.Info("workers stopped")
}
