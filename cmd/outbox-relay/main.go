package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/maltedev/price-research-scraper/internal/config"
	"github.com/maltedev/price-research-scraper/internal/database"
	"github.com/maltedev/price-research-scraper/internal/metrics"
	"github.com/maltedev/price-research-scraper/pkg/logger"
)

func main() {
	var (
		interval  = flag.Duration("interval", 5*time.Second, "Outbox poll interval")
		batchSize = flag.Int("batch", 100, "Events per poll")
		once      = flag.Bool("once", false, "Relay one batch and exit")
	)
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New(cfg.Logging.Level, cfg.Logging.Format)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to build logger: %v\n", err)
		os.Exit(1)
	}

	if !cfg.Database.Enabled() || !cfg.Redis.Enabled() {
		log.Error("outbox relay needs DATABASE_URL and REDIS_ADDR")
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := database.New(ctx, database.DefaultConfig(cfg.Database.URL))
	if err != nil {
		log.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	if err := db.Migrate(ctx); err != nil {
		log.Error("failed to migrate database", "error", err)
		os.Exit(1)
	}

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer redisClient.Close()

	if err := redisClient.Ping(ctx).Err(); err != nil {
		log.Error("failed to connect to Redis", "error", err)
		os.Exit(1)
	}

	reg := metrics.NewRegistry()
	relay := database.NewRelay(db, redisClient, log, database.RelayConfig{
		PollInterval: *interval,
		BatchSize:    *batchSize,
	}).WithMetrics(reg)

	if *once {
		n, err := relay.RunOnce(ctx)
		if err != nil {
			log.Error("relay failed", "error", err)
			os.Exit(1)
		}
		log.Info("relayed outbox batch", "published", n)
		return
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", reg.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		health, err := relay.Health(r.Context())
		if err != nil {
			log.Warn("health check failed", "error", err)
		}

		w.Header().Set("Content-Type", "application/json")
		if !health.Healthy() {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		json.NewEncoder(w).Encode(health)
	})

	if cfg.Metrics.Addr != "" {
		server := &http.Server{
			Addr:              cfg.Metrics.Addr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			log.Info("health and metrics listening", "addr", cfg.Metrics.Addr)
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error("http server stopped", "error", err)
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			server.Shutdown(shutdownCtx)
		}()
	}

	if err := relay.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.Error("relay stopped with error", "error", err)
	}
}
