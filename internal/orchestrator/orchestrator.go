// Package orchestrator coordinates sync runs: fetch from the upstream feed,
// seed the price table, and track run state with a single-flight guarantee.
package orchestrator

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"mandi-price-sync/internal/domain"
	"mandi-price-sync/internal/ingestion"
	"mandi-price-sync/internal/observability"
)

// Sync statuses. The orchestrator itself is Idle or Running; a finished run
// carries Success or Failed.
const (
	StatusIdle    = "Idle"
	StatusRunning = "Running"
	StatusSuccess = "Success"
	StatusFailed  = "Failed"
)

// Fetcher supplies raw records from the upstream resource.
type Fetcher interface {
	FetchPage(ctx context.Context, limit, offset int, date *time.Time) ([]domain.RawPriceRecord, int, error)
	FetchAll(ctx context.Context, date *time.Time) ([]domain.RawPriceRecord, error)
}

// Seeder writes a raw record batch into the price table.
type Seeder interface {
	Seed(ctx context.Context, recs []domain.RawPriceRecord) (ingestion.BatchStats, error)
}

// SyncResult is the structured outcome of one sync run. Every run gets one,
// including runs that failed; failure lives in Status and Error, never in a
// panic or a missing result.
type SyncResult struct {
	RunID          string    `json:"run_id"`
	Status         string    `json:"status"`
	StartedAt      time.Time `json:"started_at"`
	FinishedAt     time.Time `json:"finished_at"`
	Duration       string    `json:"duration"`
	Fetched        int       `json:"fetched"`
	Created        int       `json:"created"`
	Updated        int       `json:"updated"`
	Unchanged      int       `json:"unchanged"`
	Skipped        int       `json:"skipped"`
	NewCommodities int       `json:"new_commodities"`
	NewMandis      int       `json:"new_mandis"`
	Error          string    `json:"error,omitempty"`
}

// SyncState is a snapshot of orchestrator state for status endpoints.
// It lives in memory only: sync is idempotent, so losing counters on restart
// costs nothing but a gap in bookkeeping.
type SyncState struct {
	Status        string      `json:"status"`
	LastRun       *SyncResult `json:"last_run,omitempty"`
	TotalRuns     int64       `json:"total_runs"`
	TotalFailures int64       `json:"total_failures"`
	LastSuccessAt *time.Time  `json:"last_success_at,omitempty"`
	LastFailureAt *time.Time  `json:"last_failure_at,omitempty"`
}

// Orchestrator drives the fetch/resolve/upsert chain for one deployment.
// At most one sync runs at a time: a Sync call that finds another run in
// flight returns a busy result immediately instead of queueing behind it.
type Orchestrator struct {
	fetcher Fetcher
	seeder  Seeder
	logger  *log.Logger

	mu            sync.Mutex
	running       bool
	lastRun       *SyncResult
	totalRuns     int64
	totalFailures int64
	lastSuccessAt *time.Time
	lastFailureAt *time.Time
}

// Options contains configuration for creating an Orchestrator.
type Options struct {
	Fetcher Fetcher
	Seeder  Seeder
	Logger  *log.Logger
}

// New creates a new Orchestrator.
func New(opts Options) *Orchestrator {
	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}

	return &Orchestrator{
		fetcher: opts.Fetcher,
		seeder:  opts.Seeder,
		logger:  logger,
	}
}

// Sync runs one fetch-and-seed pass. A positive limit fetches a single page
// of that size; limit <= 0 pages through everything the upstream has today.
//
// The busy path returns without touching any store: Status Running plus an
// explanatory Error, and the in-flight run is left alone.
func (o *Orchestrator) Sync(ctx context.Context, limit int) (result SyncResult) {
	o.mu.Lock()
	if o.running {
		o.mu.Unlock()
		o.logger.Printf("Sync requested while another run is in flight, rejecting")
		observability.RecordSyncBusy()
		return SyncResult{
			Status: StatusRunning,
			Error:  "sync already running",
		}
	}
	o.running = true
	o.totalRuns++
	o.mu.Unlock()

	result = SyncResult{
		RunID:     uuid.NewString(),
		Status:    StatusRunning,
		StartedAt: time.Now(),
	}
	o.logger.Printf("Sync %s started (limit=%d)", result.RunID, limit)

	defer func() {
		if r := recover(); r != nil {
			result.Status = StatusFailed
			result.Error = fmt.Sprintf("panic: %v", r)
		}
		o.finish(&result)
	}()

	o.run(ctx, limit, &result)
	return result
}

// run executes the fetch and seed phases, leaving outcome in result.
func (o *Orchestrator) run(ctx context.Context, limit int, result *SyncResult) {
	var records []domain.RawPriceRecord
	var err error

	if limit > 0 {
		records, _, err = o.fetcher.FetchPage(ctx, limit, 0, nil)
	} else {
		records, err = o.fetcher.FetchAll(ctx, nil)
	}
	if err != nil {
		result.Status = StatusFailed
		result.Error = fmt.Sprintf("fetch: %v", err)
		return
	}
	result.Fetched = len(records)

	stats, err := o.seeder.Seed(ctx, records)
	result.Created = stats.Created
	result.Updated = stats.Updated
	result.Unchanged = stats.Unchanged
	result.Skipped = stats.Skipped
	result.NewCommodities = stats.NewCommodities
	result.NewMandis = stats.NewMandis
	if err != nil {
		result.Status = StatusFailed
		result.Error = fmt.Sprintf("seed: %v", err)
		return
	}

	result.Status = StatusSuccess
}

// finish stamps the result, folds it into orchestrator state and releases
// the single-flight lock. It runs for every accepted run, panics included.
func (o *Orchestrator) finish(result *SyncResult) {
	result.FinishedAt = time.Now()
	elapsed := result.FinishedAt.Sub(result.StartedAt)
	result.Duration = elapsed.String()

	now := result.FinishedAt
	o.mu.Lock()
	o.running = false
	resultCopy := *result
	o.lastRun = &resultCopy
	switch result.Status {
	case StatusSuccess:
		o.lastSuccessAt = &now
	case StatusFailed:
		o.totalFailures++
		o.lastFailureAt = &now
	}
	o.mu.Unlock()

	switch result.Status {
	case StatusSuccess:
		observability.RecordSyncRun("success", elapsed.Seconds(), now.Unix())
	case StatusFailed:
		observability.RecordSyncRun("failed", elapsed.Seconds(), now.Unix())
	}

	o.logger.Printf("Sync %s finished: status=%s fetched=%d created=%d updated=%d unchanged=%d skipped=%d new_commodities=%d new_mandis=%d in %s",
		result.RunID, result.Status, result.Fetched, result.Created, result.Updated,
		result.Unchanged, result.Skipped, result.NewCommodities, result.NewMandis, result.Duration)
	if result.Error != "" {
		o.logger.Printf("Sync %s error: %s", result.RunID, result.Error)
	}
}

// Status returns a snapshot of orchestrator state.
func (o *Orchestrator) Status() SyncState {
	o.mu.Lock()
	defer o.mu.Unlock()

	state := SyncState{
		Status:        StatusIdle,
		TotalRuns:     o.totalRuns,
		TotalFailures: o.totalFailures,
	}
	if o.running {
		state.Status = StatusRunning
	}
	if o.lastRun != nil {
		runCopy := *o.lastRun
		state.LastRun = &runCopy
	}
	if o.lastSuccessAt != nil {
		t := *o.lastSuccessAt
		state.LastSuccessAt = &t
	}
	if o.lastFailureAt != nil {
		t := *o.lastFailureAt
		state.LastFailureAt = &t
	}
	return state
}
