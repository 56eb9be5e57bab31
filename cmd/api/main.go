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

	"github.com/nats-io/nats.go/jetstream"

	"github.com/jlahut/chirp/internal/api"
	"github.com/jlahut/chirp/internal/api/ws"
	"github.com/jlahut/chirp/internal/config"
	"github.com/jlahut/chirp/internal/gallery"
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

	slog.Info("starting chirp API service", "port", cfg.Server.Port)

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
		slog.Error("connect to nats", "error", err)
		os.Exit(1)
	}
	defer producer.Close()

	if err := producer.EnsureStreams(context.Background()); err != nil {
		slog.Warn("ensure nats streams", "error", err)
	}

	// WebSocket hub
	hub := ws.NewHub()
	go hub.Run()

	// Forward job progress events to connected WebSocket clients
	consumer, err := queue.NewConsumer(cfg.NATS.URL)
	if err != nil {
		slog.Error("create progress consumer", "error", err)
		os.Exit(1)
	}
	defer consumer.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	err = consumer.ConsumeProgress(ctx, "api-progress", func(ctx context.Context, msg jetstream.Msg) error {
		hub.BroadcastRaw(msg.Data())
		return nil
	})
	if err != nil {
		slog.Warn("start progress consumer", "error", err)
	}

	engine := gallery.NewEngine(gallery.NewPGSource(db.Pool()), cfg.Gallery.MatchThreshold, cfg.Gallery.MatchTopN)

	// Inline ingestion for POST /v1/images shares the worker's pipeline.
	scraper := scrape.NewScraper(&http.Client{Timeout: cfg.Scrape.FetchTimeout}, cfg.Scrape.MaxImageBytes)
	detector := vision.NewClient(cfg.Detector)
	ingester := worker.NewRunner(db, archive, scraper, detector, producer, cfg.Scrape.WorkerCount)

	// Setup router
	router := api.NewRouter(api.RouterConfig{
		APIKey:       cfg.Server.APIKey,
		DB:           db,
		Archive:      archive,
		Producer:     producer,
		Hub:          hub,
		Engine:       engine,
		Ingester:     ingester,
		DefaultLimit: cfg.Gallery.DefaultLimit,
		MaxLimit:     cfg.Gallery.MaxLimit,
	})

	// Start HTTP server
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		slog.Info("API server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("shutting down API server...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server shutdown error", "error", err)
	}

	slog.Info("API server stopped")
}
