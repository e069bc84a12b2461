package ingestion

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"mandi-price-sync/internal/domain"
	"mandi-price-sync/internal/observability"
	"mandi-price-sync/internal/storage"
)

// Default backfill pacing and thresholds.
const (
	DefaultMinExisting   = 5000
	DefaultInterDayDelay = 5 * time.Second
)

// ErrBackfillRunning is returned when a backfill is requested while another
// one is still in flight.
var ErrBackfillRunning = errors.New("backfill already running")

// PriceFetcher supplies raw records from the upstream resource.
type PriceFetcher interface {
	FetchPage(ctx context.Context, limit, offset int, date *time.Time) ([]domain.RawPriceRecord, int, error)
	FetchAll(ctx context.Context, date *time.Time) ([]domain.RawPriceRecord, error)
}

// Backfiller closes audited date gaps in the price table one day at a time.
// Historical pulls run under a stricter rate budget than the daily sync, and
// every day commits on its own so one bad day never poisons the rest.
type Backfiller struct {
	fetcher       PriceFetcher
	upserter      *Upserter
	prices        storage.PriceStore
	minExisting   int64
	interDayDelay time.Duration
	logger        *log.Logger

	mu      sync.Mutex
	running bool
}

// BackfillOptions contains configuration for creating a Backfiller.
type BackfillOptions struct {
	Fetcher       PriceFetcher
	Upserter      *Upserter
	Prices        storage.PriceStore
	MinExisting   int64 // rows per day that count as "already filled"
	InterDayDelay time.Duration
	Logger        *log.Logger
}

// NewBackfiller creates a new gap backfiller.
func NewBackfiller(opts BackfillOptions) *Backfiller {
	minExisting := opts.MinExisting
	if minExisting == 0 {
		minExisting = DefaultMinExisting
	}

	interDayDelay := opts.InterDayDelay
	if interDayDelay == 0 {
		interDayDelay = DefaultInterDayDelay
	}

	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}

	return &Backfiller{
		fetcher:       opts.Fetcher,
		upserter:      opts.Upserter,
		prices:        opts.Prices,
		minExisting:   minExisting,
		interDayDelay: interDayDelay,
		logger:        logger,
	}
}

// DayError records a failure for a single backfill date.
type DayError struct {
	Date string `json:"date"`
	Err  string `json:"error"`
}

// BackfillReport contains statistics from one backfill run.
type BackfillReport struct {
	RunID          string     `json:"run_id"`
	StartedAt      time.Time  `json:"started_at"`
	FinishedAt     time.Time  `json:"finished_at"`
	Duration       string     `json:"duration"`
	DaysProcessed  int        `json:"days_processed"`
	DaysSkipped    int        `json:"days_skipped"`
	RecordsFetched int        `json:"records_fetched"`
	Upserted       int        `json:"upserted"`
	Skipped        int        `json:"skipped"`
	NewCommodities int        `json:"new_commodities"`
	NewMandis      int        `json:"new_mandis"`
	DayErrors      []DayError `json:"day_errors,omitempty"`
}

// Running reports whether a backfill is currently in flight.
func (b *Backfiller) Running() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.running
}

// Run fills every day of every gap in order. Days that already hold at least
// minExisting rows are skipped unless force is set. Per-day failures are
// captured in the report and the run moves on; only cancellation or an
// invalid gap list stops it.
func (b *Backfiller) Run(ctx context.Context, gaps []Gap, force bool) (*BackfillReport, error) {
	if err := ValidateGaps(gaps); err != nil {
		return nil, fmt.Errorf("validate gaps: %w", err)
	}

	b.mu.Lock()
	if b.running {
		b.mu.Unlock()
		return nil, ErrBackfillRunning
	}
	b.running = true
	b.mu.Unlock()
	defer func() {
		b.mu.Lock()
		b.running = false
		b.mu.Unlock()
	}()

	report := &BackfillReport{
		RunID:     uuid.NewString(),
		StartedAt: time.Now(),
	}
	defer func() {
		report.FinishedAt = time.Now()
		report.Duration = report.FinishedAt.Sub(report.StartedAt).String()
	}()

	totalDays := 0
	for _, g := range gaps {
		totalDays += g.Days()
	}
	b.logger.Printf("Starting backfill %s: %d gaps, %d days", report.RunID, len(gaps), totalDays)

	for _, gap := range gaps {
		for day := gap.Start; !day.After(gap.End); day = day.AddDate(0, 0, 1) {
			if err := ctx.Err(); err != nil {
				return report, err
			}

			if !force {
				existing, err := b.prices.CountByDate(ctx, day)
				if err != nil {
					b.dayError(report, day, fmt.Errorf("count existing rows: %w", err))
					continue
				}
				if existing >= b.minExisting {
					report.DaysSkipped++
					observability.RecordBackfillDay("skipped")
					b.logger.Printf("Skipping %s: %d rows already present", day.Format(auditDateLayout), existing)
					continue
				}
			}

			if err := b.fillDay(ctx, day, report); err != nil {
				if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
					return report, err
				}
				b.dayError(report, day, err)
			}

			select {
			case <-ctx.Done():
				return report, ctx.Err()
			case <-time.After(b.interDayDelay):
			}
		}
	}

	b.logger.Printf("Backfill %s complete: %d days processed, %d skipped, %d records fetched, %d upserted, %d errors in %s",
		report.RunID, report.DaysProcessed, report.DaysSkipped, report.RecordsFetched,
		report.Upserted, len(report.DayErrors), report.Duration)

	return report, nil
}

// fillDay fetches one day with the upstream date filter, ensures its
// entities exist and bulk-upserts its rows.
func (b *Backfiller) fillDay(ctx context.Context, day time.Time, report *BackfillReport) error {
	records, err := b.fetcher.FetchAll(ctx, &day)
	if err != nil {
		return fmt.Errorf("fetch %s: %w", day.Format(auditDateLayout), err)
	}
	report.RecordsFetched += len(records)

	stats, err := b.upserter.SeedBulk(ctx, records)
	report.Upserted += stats.Upserted
	report.Skipped += stats.Skipped
	report.NewCommodities += stats.NewCommodities
	report.NewMandis += stats.NewMandis
	if err != nil {
		return fmt.Errorf("seed %s: %w", day.Format(auditDateLayout), err)
	}

	report.DaysProcessed++
	observability.RecordBackfillDay("processed")
	b.logger.Printf("Filled %s: %d fetched, %d upserted, %d skipped",
		day.Format(auditDateLayout), len(records), stats.Upserted, stats.Skipped)
	return nil
}

func (b *Backfiller) dayError(report *BackfillReport, day time.Time, err error) {
	report.DayErrors = append(report.DayErrors, DayError{
		Date: day.Format(auditDateLayout),
		Err:  err.Error(),
	})
	observability.RecordBackfillDay("failed")
	b.logger.Printf("Backfill day %s failed: %v", day.Format(auditDateLayout), err)
}
