package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/jlahut/chirp/internal/config"
	"github.com/jlahut/chirp/internal/observability"
	"github.com/jlahut/chirp/internal/queue"
	"github.com/jlahut/chirp/internal/scrape"
	"github.com/jlahut/chirp/internal/storage"
	"github.com/jlahut/chirp/internal/vision"
	"github.com/jlahut/chirp/internal/worker"
)

func main() {
	configPath := flag.String("config", "configs/config.yaml", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	observability.SetupLogger(cfg.Logging.Level, cfg.Logging.Format)

	slog.Info("starting chirp scrape worker", "workers", cfg.Scrape.WorkerCount)

	// Connect to Postgres
	db, err := storage.NewPostgresStore(cfg.Database)
	if err != nil {
		slog.Error("connect to postgres", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	// Connect to MinIO
	archive, err := storage.NewArchiveStore(cfg.MinIO)
	if err != nil {
		slog.Error("connect to minio", "error", err)
		os.Exit(1)
	}
	if err := archive.EnsureBucket(context.Background()); err != nil {
		slog.Warn("ensure minio bucket", "error", err)
	}

	// Connect to NATS
	producer, err := queue.NewProducer(cfg.NATS.URL)
	if err != nil {
		slog.Error("connect to nats producer", "error", err)
		os.Exit(1)
	}
	defer producer.Close()

	if err := producer.EnsureStreams(context.Background()); err != nil {
		slog.Warn("ensure nats streams", "error", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Jobs left mid-flight by a previous worker run can never finish.
	if err := db.CleanupStaleJobs(ctx); err != nil {
		slog.Warn("cleanup stale jobs", "error", err)
	}

	scraper := scrape.NewScraper(&http.Client{Timeout: cfg.Scrape.FetchTimeout}, cfg.Scrape.MaxImageBytes)
	detector := vision.NewClient(cfg.Detector)
	runner := worker.NewRunner(db, archive, scraper, detector, producer, cfg.Scrape.WorkerCount)

	// Create NATS consumer
	consumer, err := queue.NewConsumer(cfg.NATS.URL)
	if err != nil {
		slog.Error("create consumer", "error", err)
		os.Exit(1)
	}
	defer consumer.Close()

	if err := consumer.ConsumeJobs(ctx, "scrape-workers", runner.HandleMessage); err != nil {
		slog.Error("start job consumer", "error", err)
		os.Exit(1)
	}

	// Metrics endpoint
	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte(`{"status":"ok"}`))
		})
		slog.Info("worker metrics listening", "addr", ":8082")
		if err := http.ListenAndServe(":8082", mux); err != nil {
			slog.Error("metrics server error", "error", err)
		}
	}()

	// Periodically report queue depth and purge expired jobs
	go func() {
		ticker := time.NewTicker(10 * time.Second)
		cleanup := time.NewTicker(time.Hour)
		defer ticker.Stop()
		defer cleanup.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				depth, err := producer.QueueDepth(ctx)
				if err == nil {
					observability.JobQueueDepth.Set(float64(depth))
				}
			case <-cleanup.C:
				if err := db.CleanupOldJobs(ctx, cfg.Scrape.JobRetention); err != nil {
					slog.Warn("cleanup old jobs", "error", err)
				}
			}
		}
	}()

	// Wait for shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("shutting down worker...")
	cancel()
	time.Sleep(2 * time.Second)
	slog.Info("worker stopped")
}
