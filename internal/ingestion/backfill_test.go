package ingestion

import (
	"context"
	"errors"
	"log"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mandi-price-sync/internal/domain"
	"mandi-price-sync/internal/storage/memory"
)

// stubFetcher serves canned records keyed by date and remembers which days
// were requested. The optional onFetch hook lets tests fail or block
// individual days.
type stubFetcher struct {
	mu      sync.Mutex
	records map[string][]domain.RawPriceRecord // keyed YYYY-MM-DD
	onFetch func(day time.Time) error
	calls   []string
}

func (f *stubFetcher) FetchAll(ctx context.Context, date *time.Time) ([]domain.RawPriceRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	f.mu.Lock()
	key := date.Format("2006-01-02")
	f.calls = append(f.calls, key)
	recs := f.records[key]
	hook := f.onFetch
	f.mu.Unlock()

	if hook != nil {
		if err := hook(*date); err != nil {
			return nil, err
		}
	}
	return recs, nil
}

func (f *stubFetcher) FetchPage(ctx context.Context, _, _ int, date *time.Time) ([]domain.RawPriceRecord, int, error) {
	recs, err := f.FetchAll(ctx, date)
	return recs, len(recs), err
}

func (f *stubFetcher) calledDays() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func dayRecords(d time.Time, commodities ...string) []domain.RawPriceRecord {
	recs := make([]domain.RawPriceRecord, 0, len(commodities))
	for _, name := range commodities {
		recs = append(recs, rawRecord(name, "Azadpur", domain.FormatFeedDate(d), "2000", "2400", "2200"))
	}
	return recs
}

func newTestBackfiller(fetcher PriceFetcher, minExisting int64) (*Backfiller, *memory.PriceStore) {
	prices := memory.NewPriceStore()
	resolver := NewEntityResolver(ResolverOptions{
		Commodities: memory.NewCommodityStore(),
		Mandis:      memory.NewMandiStore(),
		Logger:      log.New(os.Stderr, "[test] ", log.LstdFlags),
	})
	upserter := NewUpserter(UpserterOptions{
		Resolver: resolver,
		Prices:   prices,
		Logger:   log.New(os.Stderr, "[test] ", log.LstdFlags),
	})
	backfiller := NewBackfiller(BackfillOptions{
		Fetcher:       fetcher,
		Upserter:      upserter,
		Prices:        prices,
		MinExisting:   minExisting,
		InterDayDelay: time.Millisecond,
		Logger:        log.New(os.Stderr, "[test] ", log.LstdFlags),
	})
	return backfiller, prices
}

func TestBackfiller_Run_FillsEveryDay(t *testing.T) {
	fetcher := &stubFetcher{records: map[string][]domain.RawPriceRecord{
		"2024-01-05": dayRecords(day("2024-01-05"), "Wheat", "Onion"),
		"2024-01-06": dayRecords(day("2024-01-06"), "Wheat", "Onion"),
		"2024-01-07": dayRecords(day("2024-01-07"), "Wheat", "Onion"),
	}}
	backfiller, prices := newTestBackfiller(fetcher, 0)

	ctx := context.Background()
	report, err := backfiller.Run(ctx, []Gap{{Start: day("2024-01-05"), End: day("2024-01-07")}}, false)
	require.NoError(t, err)
	require.NotNil(t, report)

	assert.Equal(t, 3, report.DaysProcessed)
	assert.Equal(t, 0, report.DaysSkipped)
	assert.Equal(t, 6, report.RecordsFetched)
	assert.Equal(t, 6, report.Upserted)
	assert.Empty(t, report.DayErrors)
	assert.NotEmpty(t, report.RunID)
	assert.True(t, report.FinishedAt.After(report.StartedAt))
	assert.NotEmpty(t, report.Duration)

	assert.Equal(t, []string{"2024-01-05", "2024-01-06", "2024-01-07"}, fetcher.calledDays())

	count, err := prices.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(6), count)
}

func TestBackfiller_Run_SkipsFilledDays(t *testing.T) {
	fetcher := &stubFetcher{records: map[string][]domain.RawPriceRecord{
		"2024-01-05": dayRecords(day("2024-01-05"), "Wheat"),
		"2024-01-06": dayRecords(day("2024-01-06"), "Wheat"),
		"2024-01-07": dayRecords(day("2024-01-07"), "Wheat"),
	}}
	backfiller, prices := newTestBackfiller(fetcher, 2)

	// The middle day already holds enough rows to count as filled.
	ctx := context.Background()
	for i := int64(1); i <= 2; i++ {
		require.NoError(t, prices.Insert(ctx, &domain.PriceRecord{
			CommodityID: i,
			MandiName:   "Preexisting",
			PriceDate:   day("2024-01-06"),
		}))
	}

	report, err := backfiller.Run(ctx, []Gap{{Start: day("2024-01-05"), End: day("2024-01-07")}}, false)
	require.NoError(t, err)

	assert.Equal(t, 2, report.DaysProcessed)
	assert.Equal(t, 1, report.DaysSkipped)
	assert.NotContains(t, fetcher.calledDays(), "2024-01-06", "a filled day must not hit the upstream")
}

func TestBackfiller_Run_ForceRefillsFilledDays(t *testing.T) {
	fetcher := &stubFetcher{records: map[string][]domain.RawPriceRecord{
		"2024-01-06": dayRecords(day("2024-01-06"), "Wheat"),
	}}
	backfiller, prices := newTestBackfiller(fetcher, 1)

	ctx := context.Background()
	require.NoError(t, prices.Insert(ctx, &domain.PriceRecord{
		CommodityID: 1,
		MandiName:   "Preexisting",
		PriceDate:   day("2024-01-06"),
	}))

	report, err := backfiller.Run(ctx, []Gap{{Start: day("2024-01-06"), End: day("2024-01-06")}}, true)
	require.NoError(t, err)

	assert.Equal(t, 1, report.DaysProcessed)
	assert.Equal(t, 0, report.DaysSkipped)
	assert.Contains(t, fetcher.calledDays(), "2024-01-06")
}

func TestBackfiller_Run_BadDayDoesNotAbortRun(t *testing.T) {
	fetcher := &stubFetcher{
		records: map[string][]domain.RawPriceRecord{
			"2024-01-05": dayRecords(day("2024-01-05"), "Wheat"),
			"2024-01-07": dayRecords(day("2024-01-07"), "Wheat"),
		},
		onFetch: func(d time.Time) error {
			if d.Equal(day("2024-01-06")) {
				return errors.New("upstream said 500")
			}
			return nil
		},
	}
	backfiller, _ := newTestBackfiller(fetcher, 0)

	report, err := backfiller.Run(context.Background(), []Gap{{Start: day("2024-01-05"), End: day("2024-01-07")}}, false)
	require.NoError(t, err, "a failed day is reported, not fatal")

	assert.Equal(t, 2, report.DaysProcessed)
	require.Len(t, report.DayErrors, 1)
	assert.Equal(t, "2024-01-06", report.DayErrors[0].Date)
	assert.Contains(t, report.DayErrors[0].Err, "upstream said 500")
}

func TestBackfiller_Run_InvalidGapsRejected(t *testing.T) {
	fetcher := &stubFetcher{}
	backfiller, _ := newTestBackfiller(fetcher, 0)

	report, err := backfiller.Run(context.Background(), []Gap{
		{Start: day("2024-01-12"), End: day("2024-01-05")},
	}, false)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "validate gaps")
	assert.Nil(t, report)
	assert.Empty(t, fetcher.calledDays(), "invalid gaps must not cost upstream traffic")
}

func TestBackfiller_Run_SingleFlight(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	fetcher := &stubFetcher{
		onFetch: func(time.Time) error {
			close(started)
			<-release
			return nil
		},
	}
	backfiller, _ := newTestBackfiller(fetcher, 0)

	ctx := context.Background()
	gaps := []Gap{{Start: day("2024-01-05"), End: day("2024-01-05")}}

	errCh := make(chan error, 1)
	go func() {
		_, err := backfiller.Run(ctx, gaps, false)
		errCh <- err
	}()

	<-started
	assert.True(t, backfiller.Running())

	_, err := backfiller.Run(ctx, gaps, false)
	assert.ErrorIs(t, err, ErrBackfillRunning)

	close(release)
	require.NoError(t, <-errCh)
	assert.False(t, backfiller.Running())
}

func TestBackfiller_Run_CancellationStopsRun(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	fetcher := &stubFetcher{
		records: map[string][]domain.RawPriceRecord{
			"2024-01-05": dayRecords(day("2024-01-05"), "Wheat"),
		},
		onFetch: func(d time.Time) error {
			if d.Equal(day("2024-01-06")) {
				cancel()
				return ctx.Err()
			}
			return nil
		},
	}
	backfiller, _ := newTestBackfiller(fetcher, 0)

	report, err := backfiller.Run(ctx, []Gap{{Start: day("2024-01-05"), End: day("2024-01-07")}}, false)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)

	// The partial report still covers the work done before cancellation.
	require.NotNil(t, report)
	assert.Equal(t, 1, report.DaysProcessed)
	assert.NotContains(t, fetcher.calledDays(), "2024-01-07")
}

var _ PriceFetcher = (*stubFetcher)(nil)
