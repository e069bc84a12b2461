package ingestion

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"

	"github.com/shopspring/decimal"

	"mandi-price-sync/internal/domain"
	"mandi-price-sync/internal/observability"
	"mandi-price-sync/internal/storage"
)

// DefaultChunkSize is the number of price rows sent per bulk upsert.
const DefaultChunkSize = 500

// Skip reasons reported in BatchStats and metrics.
const (
	skipBlankCommodity = "blank_commodity"
	skipBlankMarket    = "blank_market"
	skipBadDate        = "bad_date"
	skipBadPrice       = "bad_price"
	skipNonPositive    = "non_positive_modal"
	skipChunkFailed    = "chunk_failed"
)

// maxStorablePrice is the ceiling of the NUMERIC(12,2) price columns. Feed
// glitches occasionally report absurd prices; they are clamped, not dropped,
// so the row still lands and the glitch stays visible.
var maxStorablePrice = decimal.New(999999999999, -2)

// Upserter turns raw feed records into normalized price rows and writes them
// with insert-or-update semantics keyed on (commodity, mandi name, date).
type Upserter struct {
	resolver  *EntityResolver
	prices    storage.PriceStore
	chunkSize int
	logger    *log.Logger
}

// UpserterOptions contains configuration for creating an Upserter.
type UpserterOptions struct {
	Resolver  *EntityResolver
	Prices    storage.PriceStore
	ChunkSize int
	Logger    *log.Logger
}

// NewUpserter creates a new Upserter.
func NewUpserter(opts UpserterOptions) *Upserter {
	chunkSize := opts.ChunkSize
	if chunkSize == 0 {
		chunkSize = DefaultChunkSize
	}

	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}

	return &Upserter{
		resolver:  opts.Resolver,
		prices:    opts.Prices,
		chunkSize: chunkSize,
		logger:    logger,
	}
}

// BatchStats summarizes one seeding pass over a raw record batch.
type BatchStats struct {
	Fetched        int            // raw records handed in
	Created        int            // rows inserted (row-wise path only)
	Updated        int            // rows overwritten (row-wise path only)
	Unchanged      int            // rows whose prices already matched
	Upserted       int            // rows written, both paths combined
	Skipped        int            // raw records dropped
	SkipReasons    map[string]int // drop counts by reason
	NewCommodities int            // commodities created while resolving
	NewMandis      int            // mandis created while resolving
}

func newBatchStats(fetched int) BatchStats {
	return BatchStats{
		Fetched:     fetched,
		SkipReasons: make(map[string]int),
	}
}

// Seed writes a batch row by row: insert when the (commodity, mandi name,
// date) row is missing, overwrite prices when it exists and they changed,
// touch nothing when they already match. This is the daily-sync path where
// most rows are fresh inserts and per-row created/updated counts matter.
func (u *Upserter) Seed(ctx context.Context, recs []domain.RawPriceRecord) (BatchStats, error) {
	stats := newBatchStats(len(recs))
	startCommodities, startMandis := u.resolver.Created()
	defer func() {
		endCommodities, endMandis := u.resolver.Created()
		stats.NewCommodities = endCommodities - startCommodities
		stats.NewMandis = endMandis - startMandis
	}()

	rows, err := u.prepare(ctx, recs, &stats)
	if err != nil {
		return stats, err
	}

	for _, rec := range rows {
		if err := ctx.Err(); err != nil {
			return stats, err
		}

		existing, err := u.prices.GetByNaturalKey(ctx, rec.CommodityID, rec.MandiName, rec.PriceDate)
		switch {
		case errors.Is(err, storage.ErrNotFound):
			if err := u.prices.Insert(ctx, rec); err != nil {
				if errors.Is(err, storage.ErrDuplicateKey) {
					// A concurrent writer created the row after our lookup;
					// fall through to an overwrite.
					if err := u.overwrite(ctx, rec, &stats); err != nil {
						return stats, err
					}
					continue
				}
				return stats, fmt.Errorf("insert price row: %w", err)
			}
			stats.Created++
		case err != nil:
			return stats, fmt.Errorf("lookup price row: %w", err)
		default:
			if samePrices(existing, rec) {
				stats.Unchanged++
				continue
			}
			existing.MinPrice = rec.MinPrice
			existing.MaxPrice = rec.MaxPrice
			existing.ModalPrice = rec.ModalPrice
			if err := u.prices.UpdatePrices(ctx, existing); err != nil {
				return stats, fmt.Errorf("update price row: %w", err)
			}
			stats.Updated++
		}
	}

	stats.Upserted = stats.Created + stats.Updated
	observability.RecordSeeded("created", stats.Created)
	observability.RecordSeeded("updated", stats.Updated)
	observability.RecordSeeded("unchanged", stats.Unchanged)
	return stats, nil
}

// SeedBulk writes a batch in chunks of chunkSize rows, each chunk one
// insert-or-update round trip. A failed chunk rolls back alone: its rows are
// counted skipped and the remaining chunks still run. This is the backfill
// path where days carry thousands of rows.
func (u *Upserter) SeedBulk(ctx context.Context, recs []domain.RawPriceRecord) (BatchStats, error) {
	stats := newBatchStats(len(recs))
	startCommodities, startMandis := u.resolver.Created()
	defer func() {
		endCommodities, endMandis := u.resolver.Created()
		stats.NewCommodities = endCommodities - startCommodities
		stats.NewMandis = endMandis - startMandis
	}()

	rows, err := u.prepare(ctx, recs, &stats)
	if err != nil {
		return stats, err
	}

	for i := 0; i < len(rows); i += u.chunkSize {
		end := i + u.chunkSize
		if end > len(rows) {
			end = len(rows)
		}
		chunk := rows[i:end]

		if err := ctx.Err(); err != nil {
			return stats, err
		}

		written, err := u.prices.UpsertBatch(ctx, chunk)
		if err != nil {
			stats.Skipped += len(chunk)
			stats.SkipReasons[skipChunkFailed] += len(chunk)
			observability.RecordSkipped(skipChunkFailed, len(chunk))
			u.logger.Printf("Chunk %d-%d failed, skipping %d rows: %v", i, end, len(chunk), err)
			continue
		}
		stats.Upserted += int(written)
	}

	observability.RecordSeeded("upserted", stats.Upserted)
	return stats, nil
}

// prepare validates, parses and resolves raw records into storable rows.
// Malformed records are counted and dropped one by one; only store failures
// abort. Duplicate keys within the batch collapse to the last occurrence.
func (u *Upserter) prepare(ctx context.Context, recs []domain.RawPriceRecord, stats *BatchStats) ([]*domain.PriceRecord, error) {
	type rowKey struct {
		commodityID int64
		mandiName   string
		date        string
	}

	rows := make(map[rowKey]*domain.PriceRecord, len(recs))
	order := make([]rowKey, 0, len(recs))

	for _, raw := range recs {
		name := strings.TrimSpace(raw.Commodity)
		market := strings.TrimSpace(raw.Market)
		if name == "" {
			u.skip(stats, skipBlankCommodity, raw)
			continue
		}
		if market == "" {
			u.skip(stats, skipBlankMarket, raw)
			continue
		}

		date, err := domain.ParseFeedDate(raw.ArrivalDate)
		if err != nil {
			u.skip(stats, skipBadDate, raw)
			continue
		}

		minPrice, errMin := parsePrice(raw.MinPrice)
		maxPrice, errMax := parsePrice(raw.MaxPrice)
		modalPrice, errModal := parsePrice(raw.ModalPrice)
		if errMin != nil || errMax != nil || errModal != nil {
			u.skip(stats, skipBadPrice, raw)
			continue
		}
		if !modalPrice.IsPositive() {
			u.skip(stats, skipNonPositive, raw)
			continue
		}

		commodityID, err := u.resolver.EnsureCommodity(ctx, name)
		if err != nil {
			return nil, fmt.Errorf("ensure commodity: %w", err)
		}
		mandiID, err := u.resolver.EnsureMandi(ctx, market, strings.TrimSpace(raw.District), strings.TrimSpace(raw.State))
		if err != nil {
			return nil, fmt.Errorf("ensure mandi: %w", err)
		}

		rec := &domain.PriceRecord{
			CommodityID: commodityID,
			MandiID:     &mandiID,
			MandiName:   market,
			PriceDate:   date,
			MinPrice:    clampPrice(minPrice),
			MaxPrice:    clampPrice(maxPrice),
			ModalPrice:  clampPrice(modalPrice),
		}

		key := rowKey{commodityID: commodityID, mandiName: market, date: date.Format("2006-01-02")}
		if _, seen := rows[key]; !seen {
			order = append(order, key)
		}
		// Last occurrence wins within the batch, matching the feed where a
		// corrected record is appended after the original.
		rows[key] = rec
	}

	out := make([]*domain.PriceRecord, 0, len(order))
	for _, key := range order {
		out = append(out, rows[key])
	}
	return out, nil
}

// overwrite re-reads a row that appeared between lookup and insert and
// applies our prices to it.
func (u *Upserter) overwrite(ctx context.Context, rec *domain.PriceRecord, stats *BatchStats) error {
	existing, err := u.prices.GetByNaturalKey(ctx, rec.CommodityID, rec.MandiName, rec.PriceDate)
	if err != nil {
		return fmt.Errorf("re-select price row: %w", err)
	}
	existing.MinPrice = rec.MinPrice
	existing.MaxPrice = rec.MaxPrice
	existing.ModalPrice = rec.ModalPrice
	if err := u.prices.UpdatePrices(ctx, existing); err != nil {
		return fmt.Errorf("update price row: %w", err)
	}
	stats.Updated++
	return nil
}

func (u *Upserter) skip(stats *BatchStats, reason string, raw domain.RawPriceRecord) {
	stats.Skipped++
	stats.SkipReasons[reason]++
	observability.RecordSkipped(reason, 1)
	u.logger.Printf("Skipping record (%s): commodity=%q market=%q date=%q modal=%q",
		reason, raw.Commodity, raw.Market, raw.ArrivalDate, raw.ModalPrice)
}

// parsePrice parses a feed price string. The feed reports missing prices as
// empty strings, "NR" or dashes; all of those fail here and skip the record.
func parsePrice(s string) (decimal.Decimal, error) {
	return decimal.NewFromString(strings.TrimSpace(s))
}

// clampPrice caps a price at the storage maximum instead of failing the row.
func clampPrice(d decimal.Decimal) decimal.Decimal {
	if d.GreaterThan(maxStorablePrice) {
		return maxStorablePrice
	}
	return d
}

// samePrices reports whether the stored row already carries the new prices.
func samePrices(existing, rec *domain.PriceRecord) bool {
	return existing.MinPrice.Equal(rec.MinPrice) &&
		existing.MaxPrice.Equal(rec.MaxPrice) &&
		existing.ModalPrice.Equal(rec.ModalPrice)
}
