// Package main provides historical gap backfill: it replays the dates named
// by an audit report through the upstream feed, day by day, and bulk-upserts
// whatever comes back.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"mandi-price-sync/internal/datagov"
	"mandi-price-sync/internal/ingestion"
	"mandi-price-sync/internal/storage"
	"mandi-price-sync/internal/storage/memory"
	"mandi-price-sync/internal/storage/migrations"
	pgstore "mandi-price-sync/internal/storage/postgres"
)

func main() {
	// Parse flags (env vars as defaults)
	baseURL := flag.String("base-url", os.Getenv("DATA_GOV_BASE_URL"), "Upstream price feed URL")
	apiKey := flag.String("api-key", os.Getenv("DATA_GOV_API_KEY"), "Upstream API key")
	postgresDSN := flag.String("postgres-dsn", os.Getenv("POSTGRES_DSN"), "PostgreSQL connection string")
	gapsArg := flag.String("gaps", "", "Gap list as start:end date pairs, e.g. 2024-01-05:2024-01-12,2024-02-01:2024-02-03")
	gapsFile := flag.String("gaps-file", "", "Path to an audit report JSON array of {start_date, end_date} objects")
	force := flag.Bool("force", false, "Refill days even when they already hold enough rows")
	minExisting := flag.Int64("min-existing", ingestion.DefaultMinExisting, "Rows per day that count as already filled")
	interDayDelay := flag.Duration("inter-day-delay", ingestion.DefaultInterDayDelay, "Pause between backfilled days")
	maxRetries := flag.Int("max-retries", 8, "Retries per upstream request; historical pulls retry harder")
	migrate := flag.Bool("migrate", false, "Apply database migrations before backfilling")
	useMemory := flag.Bool("use-memory", false, "Use in-memory storage instead of PostgreSQL")

	flag.Parse()

	// Setup logger
	logger := log.New(os.Stdout, "[backfill] ", log.LstdFlags|log.Lshortfile)

	// Validate required flags
	if *baseURL == "" {
		logger.Fatal("--base-url is required (or set DATA_GOV_BASE_URL)")
	}
	if *apiKey == "" {
		logger.Fatal("--api-key is required (or set DATA_GOV_API_KEY)")
	}
	if !*useMemory && *postgresDSN == "" {
		logger.Fatal("--postgres-dsn is required (use --use-memory for in-memory storage)")
	}

	// Resolve the gap list
	gaps, err := loadGaps(*gapsArg, *gapsFile)
	if err != nil {
		logger.Fatalf("Invalid gaps: %v", err)
	}

	days := 0
	for _, g := range gaps {
		days += g.Days()
	}
	logger.Printf("Backfilling %d gaps covering %d days", len(gaps), days)

	// Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())

	// Handle shutdown signals with graceful timeout
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	// Channel to signal main goroutine completion
	done := make(chan error, 1)

	go func() {
		sig := <-sigCh
		logger.Printf("Received signal %v, initiating graceful shutdown...", sig)
		cancel()

		// Wait for second signal for immediate shutdown
		select {
		case sig := <-sigCh:
			logger.Printf("Received second signal %v, forcing immediate shutdown", sig)
			os.Exit(1)
		case <-time.After(30 * time.Second):
			logger.Println("Graceful shutdown timed out after 30s, forcing exit")
			os.Exit(1)
		case <-done:
			// Normal shutdown completed
		}
	}()

	err = run(ctx, logger, *baseURL, *apiKey, *postgresDSN, gaps, *force, *minExisting, *interDayDelay, *maxRetries, *migrate, *useMemory)

	// Signal completion to shutdown handler
	done <- err
	cancel()

	if err != nil && err != context.Canceled {
		logger.Fatalf("Error: %v", err)
	}

	logger.Println("Done")
}

// loadGaps resolves the gap list from either flag; the file wins when both
// are given.
func loadGaps(gapsArg, gapsFile string) ([]ingestion.Gap, error) {
	if gapsFile != "" {
		data, err := os.ReadFile(gapsFile)
		if err != nil {
			return nil, fmt.Errorf("read gaps file: %w", err)
		}
		return ingestion.ParseGapsJSON(data)
	}
	if gapsArg != "" {
		return ingestion.ParseGapsArg(gapsArg)
	}
	return nil, fmt.Errorf("--gaps or --gaps-file is required")
}

func run(ctx context.Context, logger *log.Logger, baseURL, apiKey, postgresDSN string, gaps []ingestion.Gap, force bool, minExisting int64, interDayDelay time.Duration, maxRetries int, migrate, useMemory bool) error {
	// Create stores (use interfaces)
	var commodityStore storage.CommodityStore = memory.NewCommodityStore()
	var mandiStore storage.MandiStore = memory.NewMandiStore()
	var priceStore storage.PriceStore = memory.NewPriceStore()

	if !useMemory {
		pool, err := pgstore.NewPool(ctx, postgresDSN)
		if err != nil {
			return fmt.Errorf("connect to postgres: %w", err)
		}
		defer pool.Close()

		if migrate {
			if err := migrations.RunPostgresMigrations(ctx, pool); err != nil {
				return fmt.Errorf("run migrations: %w", err)
			}
		}

		commodityStore = pgstore.NewCommodityStore(pool)
		mandiStore = pgstore.NewMandiStore(pool)
		priceStore = pgstore.NewPriceStore(pool)
	}

	// Create components
	client := datagov.NewClient(baseURL, apiKey,
		datagov.WithMaxRetries(maxRetries),
		datagov.WithLogger(logger),
	)

	resolver := ingestion.NewEntityResolver(ingestion.ResolverOptions{
		Commodities: commodityStore,
		Mandis:      mandiStore,
		Logger:      logger,
	})

	upserter := ingestion.NewUpserter(ingestion.UpserterOptions{
		Resolver: resolver,
		Prices:   priceStore,
		Logger:   logger,
	})

	backfiller := ingestion.NewBackfiller(ingestion.BackfillOptions{
		Fetcher:       client,
		Upserter:      upserter,
		Prices:        priceStore,
		MinExisting:   minExisting,
		InterDayDelay: interDayDelay,
		Logger:        logger,
	})

	report, err := backfiller.Run(ctx, gaps, force)

	// Print whatever report exists, even for runs cut short.
	if report != nil {
		if data, merr := json.MarshalIndent(report, "", "  "); merr == nil {
			fmt.Println(string(data))
		}
	}

	return err
}
