// Package main provides the unified sync server that runs all components together:
// - HTTP API: manual sync and backfill triggers, status, health, metrics
// - Scheduler: periodic full syncs against the upstream price feed
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"mandi-price-sync/internal/config"
	"mandi-price-sync/internal/datagov"
	"mandi-price-sync/internal/ingestion"
	"mandi-price-sync/internal/observability"
	"mandi-price-sync/internal/orchestrator"
	"mandi-price-sync/internal/storage"
	"mandi-price-sync/internal/storage/memory"
	"mandi-price-sync/internal/storage/migrations"
	pgstore "mandi-price-sync/internal/storage/postgres"
)

// Server holds all components of the sync service.
type Server struct {
	cfg        *config.Config
	client     *datagov.Client
	orch       *orchestrator.Orchestrator
	backfiller *ingestion.Backfiller
	logger     *log.Logger

	// baseCtx is the lifetime of the process, not of any one request.
	// Manual runs triggered over HTTP outlive their request and stop
	// with the server.
	baseCtx context.Context
	started time.Time

	mu           sync.Mutex
	lastBackfill *ingestion.BackfillReport
}

// allStores holds all storage implementations.
type allStores struct {
	commodities storage.CommodityStore
	mandis      storage.MandiStore
	prices      storage.PriceStore
}

func main() {
	// Load .env file if exists
	loadEnvFile()

	// Parse flags
	configPath := flag.String("config", "config.yaml", "Path to YAML configuration file")
	useMemory := flag.Bool("use-memory", false, "Use in-memory storage instead of PostgreSQL")

	flag.Parse()

	// Setup logger
	logger := log.New(os.Stdout, "[server] ", log.LstdFlags|log.Lshortfile)

	// Load configuration
	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		logger.Fatalf("Failed to load config: %v", err)
	}

	// Validate required settings
	if cfg.Upstream.BaseURL == "" {
		logger.Fatal("upstream.base_url is required")
	}
	if cfg.Upstream.APIKey == "" {
		logger.Fatal("upstream.api_key is required (or set DATA_GOV_API_KEY)")
	}
	if !*useMemory && cfg.Postgres.DSN == "" {
		logger.Fatal("postgres.dsn is required (use --use-memory for in-memory storage)")
	}

	// Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())

	// Create stores
	stores, cleanup, err := createStores(ctx, cfg.Postgres.DSN, cfg.Postgres.Migrate, *useMemory)
	if err != nil {
		logger.Fatalf("Failed to create stores: %v", err)
	}
	defer cleanup()

	// Create components
	client := datagov.NewClient(cfg.Upstream.BaseURL, cfg.Upstream.APIKey,
		datagov.WithTimeout(cfg.UpstreamTimeout()),
		datagov.WithMaxRetries(cfg.Upstream.MaxRetries),
		datagov.WithPageLimit(cfg.Upstream.PageLimit),
		datagov.WithPageDelay(cfg.PageDelay()),
		datagov.WithHistoricalDelay(cfg.HistoricalDelay()),
		datagov.WithDateField(cfg.Upstream.DateField),
		datagov.WithLogger(log.New(os.Stdout, "[datagov] ", log.LstdFlags|log.Lshortfile)),
	)

	resolver := ingestion.NewEntityResolver(ingestion.ResolverOptions{
		Commodities: stores.commodities,
		Mandis:      stores.mandis,
		Logger:      log.New(os.Stdout, "[resolver] ", log.LstdFlags|log.Lshortfile),
	})

	upserter := ingestion.NewUpserter(ingestion.UpserterOptions{
		Resolver:  resolver,
		Prices:    stores.prices,
		ChunkSize: cfg.Seed.ChunkSize,
		Logger:    log.New(os.Stdout, "[seed] ", log.LstdFlags|log.Lshortfile),
	})

	orch := orchestrator.New(orchestrator.Options{
		Fetcher: client,
		Seeder:  upserter,
		Logger:  log.New(os.Stdout, "[sync] ", log.LstdFlags|log.Lshortfile),
	})

	backfiller := ingestion.NewBackfiller(ingestion.BackfillOptions{
		Fetcher:       client,
		Upserter:      upserter,
		Prices:        stores.prices,
		MinExisting:   cfg.Backfill.MinExisting,
		InterDayDelay: cfg.InterDayDelay(),
		Logger:        log.New(os.Stdout, "[backfill] ", log.LstdFlags|log.Lshortfile),
	})

	server := &Server{
		cfg:        cfg,
		client:     client,
		orch:       orch,
		backfiller: backfiller,
		logger:     logger,
		baseCtx:    ctx,
		started:    time.Now(),
	}

	// Channel to signal completion
	done := make(chan error, 1)

	// Handle shutdown signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

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

	// Start the sync scheduler
	if cfg.Scheduler.Enabled {
		go server.runScheduler(ctx)
	} else {
		logger.Println("Scheduler disabled, syncs run on demand only")
	}

	// Start the HTTP server
	srv := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      server.routes(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Printf("HTTP shutdown error: %v", err)
		}
	}()

	logger.Printf("Listening on %s", cfg.Server.Addr)
	err = srv.ListenAndServe()
	if err == http.ErrServerClosed {
		err = nil
	}

	// Signal completion to shutdown handler
	done <- err
	cancel()

	if err != nil {
		logger.Fatalf("HTTP server error: %v", err)
	}

	logger.Println("Shutdown complete")
}

// createStores creates all required stores.
func createStores(ctx context.Context, dsn string, migrate, useMemory bool) (*allStores, func(), error) {
	if useMemory {
		stores := &allStores{
			commodities: memory.NewCommodityStore(),
			mandis:      memory.NewMandiStore(),
			prices:      memory.NewPriceStore(),
		}
		return stores, func() {}, nil
	}

	pool, err := pgstore.NewPool(ctx, dsn)
	if err != nil {
		return nil, nil, fmt.Errorf("connect to postgres: %w", err)
	}

	if migrate {
		if err := migrations.RunPostgresMigrations(ctx, pool); err != nil {
			pool.Close()
			return nil, nil, fmt.Errorf("run migrations: %w", err)
		}
	}

	stores := &allStores{
		commodities: pgstore.NewCommodityStore(pool),
		mandis:      pgstore.NewMandiStore(pool),
		prices:      pgstore.NewPriceStore(pool),
	}

	return stores, pool.Close, nil
}

// runScheduler runs full syncs on a fixed interval, starting with one
// immediately. The orchestrator rejects overlapping runs on its own, so a
// sync still in flight when the ticker fires is simply skipped.
func (s *Server) runScheduler(ctx context.Context) {
	interval := s.cfg.SchedulerInterval()
	s.logger.Printf("Starting sync scheduler (interval: %v)...", interval)

	s.orch.Sync(ctx, 0)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.orch.Sync(ctx, 0)
		}
	}
}

// routes builds the HTTP API.
func (s *Server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Timeout(30 * time.Second))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	// Prometheus metrics
	r.Handle("/metrics", observability.Handler())

	r.Get("/status", s.handleStatus)
	r.Post("/sync", s.handleSync)
	r.Post("/backfill", s.handleBackfill)

	return r
}

// StatusResponse is the JSON response for the /status endpoint.
type StatusResponse struct {
	Status           string                    `json:"status"`
	Uptime           string                    `json:"uptime"`
	Sync             orchestrator.SyncState    `json:"sync"`
	BackfillRunning  bool                      `json:"backfill_running"`
	LastBackfill     *ingestion.BackfillReport `json:"last_backfill,omitempty"`
	UpstreamRequests int64                     `json:"upstream_requests"`
	UpstreamBytes    int64                     `json:"upstream_bytes"`
}

// handleStatus returns server status as JSON.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	lastBackfill := s.lastBackfill
	s.mu.Unlock()

	writeJSON(w, http.StatusOK, StatusResponse{
		Status:           "running",
		Uptime:           time.Since(s.started).String(),
		Sync:             s.orch.Status(),
		BackfillRunning:  s.backfiller.Running(),
		LastBackfill:     lastBackfill,
		UpstreamRequests: s.client.Requests(),
		UpstreamBytes:    s.client.BytesRead(),
	})
}

// handleSync triggers a sync run in the background. An optional limit query
// parameter fetches a single page of that size instead of everything.
func (s *Server) handleSync(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeJSON(w, http.StatusBadRequest, map[string]string{
				"error": fmt.Sprintf("invalid limit %q", raw),
			})
			return
		}
		limit = n
	}

	// The orchestrator absorbs the race where two requests pass this
	// check together: the loser gets a busy result inside its goroutine
	// and writes nothing.
	if s.orch.Status().Status == orchestrator.StatusRunning {
		writeJSON(w, http.StatusConflict, map[string]string{
			"error": "sync already running",
		})
		return
	}

	go s.orch.Sync(s.baseCtx, limit)

	writeJSON(w, http.StatusAccepted, map[string]any{
		"status": "started",
		"limit":  limit,
	})
}

// BackfillRequest is the JSON body for the /backfill endpoint.
type BackfillRequest struct {
	Gaps  json.RawMessage `json:"gaps"`
	Force bool            `json:"force"`
}

// handleBackfill triggers a gap backfill in the background. The body carries
// an audit report: {"gaps":[{"start_date":"2024-01-01","end_date":"2024-01-07"}]}.
func (s *Server) handleBackfill(w http.ResponseWriter, r *http.Request) {
	var req BackfillRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": fmt.Sprintf("parse request body: %v", err),
		})
		return
	}

	gaps, err := ingestion.ParseGapsJSON(req.Gaps)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	if len(gaps) == 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "no gaps given"})
		return
	}

	if s.backfiller.Running() {
		writeJSON(w, http.StatusConflict, map[string]string{
			"error": "backfill already running",
		})
		return
	}

	days := 0
	for _, g := range gaps {
		days += g.Days()
	}

	go func() {
		report, err := s.backfiller.Run(s.baseCtx, gaps, req.Force)
		if err != nil && !errors.Is(err, context.Canceled) {
			s.logger.Printf("Backfill error: %v", err)
		}
		if report != nil {
			s.mu.Lock()
			s.lastBackfill = report
			s.mu.Unlock()
		}
	}()

	writeJSON(w, http.StatusAccepted, map[string]any{
		"status": "started",
		"gaps":   len(gaps),
		"days":   days,
	})
}

// writeJSON writes v as a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// loadEnvFile loads environment variables from .env file if it exists.
func loadEnvFile() {
	data, err := os.ReadFile(".env")
	if err != nil {
		return // File doesn't exist, use system env vars
	}

	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			continue
		}

		key := strings.TrimSpace(parts[0])
		value := strings.TrimSpace(parts[1])

		// Don't override existing env vars
		if os.Getenv(key) == "" {
			os.Setenv(key, value)
		}
	}
}
