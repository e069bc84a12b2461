// Package main provides a one-shot sync of mandi prices from the upstream
// feed into storage. It is meant for cron jobs and manual runs; the long
// running server lives in cmd/server.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"mandi-price-sync/internal/datagov"
	"mandi-price-sync/internal/domain"
	"mandi-price-sync/internal/ingestion"
	"mandi-price-sync/internal/orchestrator"
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
	limit := flag.Int("limit", 0, "Fetch a single page of this size instead of paging through everything")
	bulk := flag.Bool("bulk", false, "Seed with chunked bulk upserts instead of row-wise updates")
	maxRetries := flag.Int("max-retries", datagov.DefaultMaxRetries, "Retries per upstream request")
	timeout := flag.Duration("timeout", datagov.DefaultTimeout, "Upstream request timeout")
	migrate := flag.Bool("migrate", false, "Apply database migrations before syncing")
	useMemory := flag.Bool("use-memory", false, "Use in-memory storage instead of PostgreSQL")

	flag.Parse()

	// Setup logger
	logger := log.New(os.Stdout, "[sync] ", log.LstdFlags|log.Lshortfile)

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

	err := run(ctx, logger, *baseURL, *apiKey, *postgresDSN, *limit, *bulk, *maxRetries, *timeout, *migrate, *useMemory)

	// Signal completion to shutdown handler
	done <- err
	cancel()

	if err != nil && err != context.Canceled {
		logger.Fatalf("Error: %v", err)
	}

	logger.Println("Done")
}

func run(ctx context.Context, logger *log.Logger, baseURL, apiKey, postgresDSN string, limit int, bulk bool, maxRetries int, timeout time.Duration, migrate, useMemory bool) error {
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
		datagov.WithTimeout(timeout),
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

	if bulk {
		return runBulk(ctx, logger, client, upserter, limit)
	}

	orch := orchestrator.New(orchestrator.Options{
		Fetcher: client,
		Seeder:  upserter,
		Logger:  logger,
	})

	result := orch.Sync(ctx, limit)
	if result.Status == orchestrator.StatusFailed && ctx.Err() == nil {
		return fmt.Errorf("sync failed: %s", result.Error)
	}
	return ctx.Err()
}

// runBulk fetches everything the upstream has today and writes it with the
// chunked bulk upsert path. This is the cheap way to fill an empty database.
func runBulk(ctx context.Context, logger *log.Logger, client *datagov.Client, upserter *ingestion.Upserter, limit int) error {
	start := time.Now()

	var records []domain.RawPriceRecord
	var err error
	if limit > 0 {
		records, _, err = client.FetchPage(ctx, limit, 0, nil)
	} else {
		records, err = client.FetchAll(ctx, nil)
	}
	if err != nil {
		return fmt.Errorf("fetch: %w", err)
	}
	logger.Printf("Fetched %d records in %v", len(records), time.Since(start))

	stats, err := upserter.SeedBulk(ctx, records)
	if err != nil {
		return fmt.Errorf("seed: %w", err)
	}

	logger.Printf("Seed complete in %v: upserted=%d skipped=%d new_commodities=%d new_mandis=%d",
		time.Since(start), stats.Upserted, stats.Skipped, stats.NewCommodities, stats.NewMandis)
	return nil
}
