package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/maltedev/price-research-scraper/internal/browser"
	"github.com/maltedev/price-research-scraper/internal/config"
	"github.com/maltedev/price-research-scraper/internal/database"
	"github.com/maltedev/price-research-scraper/internal/events"
	"github.com/maltedev/price-research-scraper/internal/fetcher"
	"github.com/maltedev/price-research-scraper/internal/matcher"
	"github.com/maltedev/price-research-scraper/internal/metrics"
	"github.com/maltedev/price-research-scraper/internal/pipeline"
	"github.com/maltedev/price-research-scraper/internal/ratelimit"
	"github.com/maltedev/price-research-scraper/internal/scraper"
	"github.com/maltedev/price-research-scraper/internal/storage"
	"github.com/maltedev/price-research-scraper/pkg/logger"
)

func main() {
	var (
		description  = flag.String("description", "", "Product description to research")
		alternatives = flag.String("alternatives", "", "Comma-separated alternative search queries")
		reference    = flag.String("reference-price", "", "Reference price; enables the tolerance window")
		tolerance    = flag.Float64("tolerance", 0, "Price tolerance as a fraction (default from PIPELINE_TOLERANCE)")
		maxOffers    = flag.Int("max-offers", 0, "Maximum offers per search (default from PIPELINE_MAX_OFFERS)")
		cost         = flag.String("cost", "", "Unit cost; enables margin protection")
		imageURL     = flag.String("image", "", "Reference image URL")
		output       = flag.String("output", "stdout", "Output: stdout or store")
		persist      = flag.Bool("persist", false, "Save the run to the database and queue its event")
		productURL   = flag.String("product-url", "", "Product page to research; fills description, reference price and image when omitted")
		history      = flag.Int("history", 0, "List the N most recent research runs and exit")
	)
	flag.Parse()

	if *description == "" && *productURL == "" && *history <= 0 {
		fmt.Fprintln(os.Stderr, "Please provide -description, -product-url or -history")
		flag.Usage()
		os.Exit(2)
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "invalid config: %v\n", err)
		os.Exit(1)
	}

	// stdout carries the report
	log, err := logger.NewWithWriter(os.Stderr, cfg.Logging.Level, cfg.Logging.Format)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to build logger: %v\n", err)
		os.Exit(1)
	}
	slog.SetDefault(log)

	req := pipeline.Request{
		ProductURL:         *productURL,
		Description:        *description,
		AlternativeQueries: splitList(*alternatives),
		Tolerance:          *tolerance,
		MaxOffers:          *maxOffers,
		ImageURL:           *imageURL,
	}
	if req.ReferencePrice, err = parsePrice(*reference); err != nil {
		log.Error("invalid reference price", "error", err)
		os.Exit(2)
	}
	if req.Cost, err = parsePrice(*cost); err != nil {
		log.Error("invalid cost", "error", err)
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if *history > 0 {
		err = listHistory(ctx, cfg, *history)
	} else {
		err = run(ctx, cfg, log, req, *output, *persist)
	}
	if err != nil {
		log.Error("price research failed", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, log *slog.Logger, req pipeline.Request, output string, persist bool) error {
	reg := metrics.NewRegistry()
	if cfg.Metrics.Addr != "" {
		srv := serveMetrics(cfg.Metrics.Addr, reg, log)
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			srv.Shutdown(shutdownCtx)
		}()
	}

	f, closeFetcher, err := buildFetcher(ctx, cfg, reg, log)
	if err != nil {
		return err
	}
	defer closeFetcher()

	s := scraper.New(f, matcher.Default(), scraper.Options{
		BaseURL:   cfg.Fetcher.ListingBaseURL,
		MaxOffers: cfg.Pipeline.MaxOffers,
	}, log).WithMetrics(reg)

	p := pipeline.New(pipeline.Deps{
		Searcher: s,
		Products: s,
		Stats:    cfg.StatsEngine(log),
		Metrics:  reg,
		Logger:   log,
	}, cfg.PipelineOptions())

	res := p.Run(ctx, req)

	switch output {
	case "store":
		store, err := storage.NewReportStore(cfg.Storage.ReportDir)
		if err != nil {
			return err
		}
		entry, err := store.Save(res)
		if err != nil {
			return err
		}
		log.Info("report saved", "run_id", entry.RunID, "file", entry.File, "dir", cfg.Storage.ReportDir)
	default:
		if err := printJSON(res); err != nil {
			return err
		}
	}

	if persist {
		if err := publish(ctx, cfg, log, res); err != nil {
			return err
		}
	}

	if !res.OK() {
		return errors.New(strings.Join(res.Errors, "; "))
	}
	return nil
}

// listHistory prints recent runs from the database when one is configured,
// else from the report directory.
func listHistory(ctx context.Context, cfg *config.Config, limit int) error {
	if !cfg.Database.Enabled() {
		store, err := storage.NewReportStore(cfg.Storage.ReportDir)
		if err != nil {
			return err
		}
		entries := store.List()
		if len(entries) > limit {
			entries = entries[:limit]
		}
		return printJSON(entries)
	}

	db, err := database.New(ctx, database.DefaultConfig(cfg.Database.URL))
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer db.Close()

	runs, err := database.NewRunRepository(db).ListRecent(ctx, limit)
	if err != nil {
		return err
	}
	return printJSON(runs)
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("encode output: %w", err)
	}
	return nil
}

// buildFetcher assembles the page source from config: plain HTTP or a
// headless browser, optionally behind the Redis HTML cache.
func buildFetcher(ctx context.Context, cfg *config.Config, reg *metrics.Registry, log *slog.Logger) (fetcher.Fetcher, func(), error) {
	var (
		f       fetcher.Fetcher
		closers []func()
	)

	switch cfg.Fetcher.Mode {
	case config.ModeBrowser:
		b, err := browser.New(cfg.BrowserOptions())
		if err != nil {
			return nil, nil, fmt.Errorf("failed to initialize browser: %w", err)
		}
		closers = append(closers, func() {
			if err := b.Close(); err != nil {
				log.Warn("failed to close browser", "error", err)
			}
		})
		f = b
	default:
		hf, err := fetcher.NewHTTPFetcher(cfg.FetcherOptions(), log)
		if err != nil {
			return nil, nil, err
		}
		hf.WithMetrics(reg)
		if rps := cfg.Fetcher.RequestsPerSecond; rps > 0 {
			hf.WithLimiter(ratelimit.NewTokenBucket(rps, 1))
		}
		f = hf
	}

	if cfg.Redis.Enabled() {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := rdb.Ping(ctx).Err(); err != nil {
			log.Warn("redis unavailable, html cache disabled", "addr", cfg.Redis.Addr, "error", err)
			rdb.Close()
		} else {
			closers = append(closers, func() { rdb.Close() })
			f = fetcher.NewCachedFetcher(f, rdb, cfg.Redis.CacheTTL, log).WithMetrics(reg)
		}
	}

	closeAll := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}
	return f, closeAll, nil
}

func publish(ctx context.Context, cfg *config.Config, log *slog.Logger, res *pipeline.Result) error {
	if !cfg.Database.Enabled() {
		return errors.New("-persist needs DATABASE_URL")
	}

	db, err := database.New(ctx, database.DefaultConfig(cfg.Database.URL))
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer db.Close()

	if err := db.Migrate(ctx); err != nil {
		return err
	}

	payload, err := events.NewPublisher(db, cfg.Redis.Stream, log).PublishResearchCompleted(ctx, res)
	if err != nil {
		return err
	}
	log.Info("research run persisted", "run_id", payload.RunID, "event_id", payload.EventID)
	return nil
}

func serveMetrics(addr string, reg *metrics.Registry, log *slog.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", reg.Handler())

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		log.Info("metrics listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("metrics server stopped", "error", err)
		}
	}()
	return srv
}

func parsePrice(raw string) (decimal.Decimal, error) {
	if raw == "" {
		return decimal.Zero, nil
	}
	d, err := decimal.NewFromString(strings.TrimSpace(raw))
	if err != nil {
		return decimal.Zero, err
	}
	if d.IsNegative() {
		return decimal.Zero, fmt.Errorf("negative price %s", raw)
	}
	return d, nil
}

func splitList(raw string) []string {
	var out []string
	for _, s := range strings.Split(raw, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
