package orchestrator

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"mandi-price-sync/internal/domain"
	"mandi-price-sync/internal/ingestion"
	"mandi-price-sync/internal/storage/memory"
)

// fakeFetcher returns canned records or a canned error. When started and
// release are set, the first fetch signals and then blocks, which lets tests
// observe an in-flight run.
type fakeFetcher struct {
	records []domain.RawPriceRecord
	err     error
	started chan struct{}
	release chan struct{}

	pageCalls int
	allCalls  int
}

func (f *fakeFetcher) fetch() ([]domain.RawPriceRecord, error) {
	if f.started != nil {
		close(f.started)
		f.started = nil
		<-f.release
	}
	if f.err != nil {
		return nil, f.err
	}
	return f.records, nil
}

func (f *fakeFetcher) FetchPage(_ context.Context, _, _ int, _ *time.Time) ([]domain.RawPriceRecord, int, error) {
	f.pageCalls++
	recs, err := f.fetch()
	return recs, len(recs), err
}

func (f *fakeFetcher) FetchAll(_ context.Context, _ *time.Time) ([]domain.RawPriceRecord, error) {
	f.allCalls++
	return f.fetch()
}

func feedRecord(commodity, market, date, modal string) domain.RawPriceRecord {
	return domain.RawPriceRecord{
		State:       "Delhi",
		District:    "Delhi",
		Market:      market,
		Commodity:   commodity,
		ArrivalDate: date,
		MinPrice:    "1900",
		MaxPrice:    "2400",
		ModalPrice:  modal,
	}
}

// newSeedChain builds a real upserter over in-memory stores so orchestrator
// tests exercise the same seeding path production uses.
func newSeedChain() (*ingestion.Upserter, *memory.PriceStore) {
	prices := memory.NewPriceStore()
	resolver := ingestion.NewEntityResolver(ingestion.ResolverOptions{
		Commodities: memory.NewCommodityStore(),
		Mandis:      memory.NewMandiStore(),
	})
	upserter := ingestion.NewUpserter(ingestion.UpserterOptions{
		Resolver: resolver,
		Prices:   prices,
	})
	return upserter, prices
}

func TestOrchestrator_Sync_Success(t *testing.T) {
	fetcher := &fakeFetcher{records: []domain.RawPriceRecord{
		feedRecord("Wheat", "Azadpur", "15/01/2024", "2200"),
		feedRecord("Onion", "Azadpur", "15/01/2024", "1700"),
	}}
	seeder, prices := newSeedChain()
	orch := New(Options{Fetcher: fetcher, Seeder: seeder})

	result := orch.Sync(context.Background(), 0)

	if result.Status != StatusSuccess {
		t.Fatalf("expected status %s, got %s (error %q)", StatusSuccess, result.Status, result.Error)
	}
	if result.RunID == "" {
		t.Error("expected a run ID")
	}
	if result.Fetched != 2 {
		t.Errorf("expected 2 fetched, got %d", result.Fetched)
	}
	if result.Created != 2 {
		t.Errorf("expected 2 created, got %d", result.Created)
	}
	if result.Duration == "" {
		t.Error("expected a duration stamp")
	}
	if result.FinishedAt.Before(result.StartedAt) {
		t.Errorf("finished_at %v before started_at %v", result.FinishedAt, result.StartedAt)
	}

	count, err := prices.Count(context.Background())
	if err != nil {
		t.Fatalf("count prices: %v", err)
	}
	if count != 2 {
		t.Errorf("expected 2 price rows, got %d", count)
	}

	state := orch.Status()
	if state.Status != StatusIdle {
		t.Errorf("expected status %s after run, got %s", StatusIdle, state.Status)
	}
	if state.TotalRuns != 1 {
		t.Errorf("expected 1 total run, got %d", state.TotalRuns)
	}
	if state.LastSuccessAt == nil {
		t.Error("expected last_success_at to be set")
	}
	if state.LastRun == nil || state.LastRun.RunID != result.RunID {
		t.Errorf("expected last run %s, got %+v", result.RunID, state.LastRun)
	}
}

func TestOrchestrator_Sync_FetchFailure(t *testing.T) {
	fetcher := &fakeFetcher{err: errors.New("upstream timeout")}
	seeder, _ := newSeedChain()
	orch := New(Options{Fetcher: fetcher, Seeder: seeder})

	result := orch.Sync(context.Background(), 0)

	if result.Status != StatusFailed {
		t.Fatalf("expected status %s, got %s", StatusFailed, result.Status)
	}
	if !strings.Contains(result.Error, "fetch:") {
		t.Errorf("expected fetch error, got %q", result.Error)
	}
	if result.Fetched != 0 {
		t.Errorf("expected 0 fetched, got %d", result.Fetched)
	}

	state := orch.Status()
	if state.TotalFailures != 1 {
		t.Errorf("expected 1 failure, got %d", state.TotalFailures)
	}
	if state.LastFailureAt == nil {
		t.Error("expected last_failure_at to be set")
	}
	if state.LastSuccessAt != nil {
		t.Error("expected no last_success_at")
	}
}

// failingSeeder fails after partial progress so tests can check that stats
// survive into the failed result.
type failingSeeder struct{}

func (failingSeeder) Seed(context.Context, []domain.RawPriceRecord) (ingestion.BatchStats, error) {
	return ingestion.BatchStats{Skipped: 3}, errors.New("store down")
}

func TestOrchestrator_Sync_SeedFailure(t *testing.T) {
	fetcher := &fakeFetcher{records: []domain.RawPriceRecord{
		feedRecord("Wheat", "Azadpur", "15/01/2024", "2200"),
	}}
	orch := New(Options{Fetcher: fetcher, Seeder: failingSeeder{}})

	result := orch.Sync(context.Background(), 0)

	if result.Status != StatusFailed {
		t.Fatalf("expected status %s, got %s", StatusFailed, result.Status)
	}
	if !strings.Contains(result.Error, "seed:") {
		t.Errorf("expected seed error, got %q", result.Error)
	}
	if result.Fetched != 1 {
		t.Errorf("expected 1 fetched, got %d", result.Fetched)
	}
	if result.Skipped != 3 {
		t.Errorf("expected partial stats in failed result, got skipped=%d", result.Skipped)
	}
}

func TestOrchestrator_Sync_BusyRejected(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	fetcher := &fakeFetcher{started: started, release: release}
	seeder, _ := newSeedChain()
	orch := New(Options{Fetcher: fetcher, Seeder: seeder})

	done := make(chan SyncResult, 1)
	go func() {
		done <- orch.Sync(context.Background(), 0)
	}()
	<-started

	if state := orch.Status(); state.Status != StatusRunning {
		t.Fatalf("expected status %s mid-run, got %s", StatusRunning, state.Status)
	}

	busy := orch.Sync(context.Background(), 0)
	if busy.Status != StatusRunning {
		t.Errorf("expected busy status %s, got %s", StatusRunning, busy.Status)
	}
	if busy.Error != "sync already running" {
		t.Errorf("expected busy error, got %q", busy.Error)
	}
	if busy.RunID != "" {
		t.Errorf("busy result must not carry a run ID, got %q", busy.RunID)
	}

	close(release)
	first := <-done
	if first.Status != StatusSuccess {
		t.Fatalf("expected first run to succeed, got %s (%s)", first.Status, first.Error)
	}

	// The rejected call is not a run: it must not show up in the counters.
	state := orch.Status()
	if state.TotalRuns != 1 {
		t.Errorf("expected 1 total run, got %d", state.TotalRuns)
	}
	if state.Status != StatusIdle {
		t.Errorf("expected status %s, got %s", StatusIdle, state.Status)
	}
}

func TestOrchestrator_Sync_LimitSelectsFetchPath(t *testing.T) {
	fetcher := &fakeFetcher{}
	seeder, _ := newSeedChain()
	orch := New(Options{Fetcher: fetcher, Seeder: seeder})
	ctx := context.Background()

	orch.Sync(ctx, 25)
	if fetcher.pageCalls != 1 || fetcher.allCalls != 0 {
		t.Errorf("limit>0: expected one page fetch, got page=%d all=%d", fetcher.pageCalls, fetcher.allCalls)
	}

	orch.Sync(ctx, 0)
	if fetcher.allCalls != 1 {
		t.Errorf("limit=0: expected one full fetch, got all=%d", fetcher.allCalls)
	}
}

// panicOnceSeeder panics on its first call and behaves on later ones, so
// tests can check both recovery and lock release.
type panicOnceSeeder struct {
	calls int
}

func (s *panicOnceSeeder) Seed(context.Context, []domain.RawPriceRecord) (ingestion.BatchStats, error) {
	s.calls++
	if s.calls == 1 {
		panic("seed exploded")
	}
	return ingestion.BatchStats{}, nil
}

func TestOrchestrator_Sync_PanicBecomesFailedResult(t *testing.T) {
	fetcher := &fakeFetcher{records: []domain.RawPriceRecord{
		feedRecord("Wheat", "Azadpur", "15/01/2024", "2200"),
	}}
	orch := New(Options{Fetcher: fetcher, Seeder: &panicOnceSeeder{}})
	ctx := context.Background()

	result := orch.Sync(ctx, 0)
	if result.Status != StatusFailed {
		t.Fatalf("expected status %s, got %s", StatusFailed, result.Status)
	}
	if !strings.Contains(result.Error, "panic: seed exploded") {
		t.Errorf("expected panic error, got %q", result.Error)
	}

	// The single-flight lock must be released after a panic.
	result = orch.Sync(ctx, 0)
	if result.Status != StatusSuccess {
		t.Fatalf("expected recovery on next run, got %s (%s)", result.Status, result.Error)
	}

	state := orch.Status()
	if state.TotalRuns != 2 {
		t.Errorf("expected 2 total runs, got %d", state.TotalRuns)
	}
	if state.TotalFailures != 1 {
		t.Errorf("expected 1 failure, got %d", state.TotalFailures)
	}
}

func TestOrchestrator_Status_InitiallyIdle(t *testing.T) {
	seeder, _ := newSeedChain()
	orch := New(Options{Fetcher: &fakeFetcher{}, Seeder: seeder})

	state := orch.Status()
	if state.Status != StatusIdle {
		t.Errorf("expected status %s, got %s", StatusIdle, state.Status)
	}
	if state.TotalRuns != 0 {
		t.Errorf("expected 0 runs, got %d", state.TotalRuns)
	}
	if state.LastRun != nil {
		t.Errorf("expected no last run, got %+v", state.LastRun)
	}
	if state.LastSuccessAt != nil || state.LastFailureAt != nil {
		t.Error("expected no success/failure timestamps")
	}
}
