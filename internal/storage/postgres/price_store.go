package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"mandi-price-sync/internal/domain"
	"mandi-price-sync/internal/storage"
)

// PriceStore implements storage.PriceStore using PostgreSQL.
//
// Prices are NUMERIC(12,2) in the schema. They are bound as ::NUMERIC from
// decimal strings and scanned back as ::TEXT so no float conversion ever
// touches a price value.
type PriceStore struct {
	pool *Pool
}

// NewPriceStore creates a new PriceStore.
func NewPriceStore(pool *Pool) *PriceStore {
	return &PriceStore{pool: pool}
}

// Compile-time interface check.
var _ storage.PriceStore = (*PriceStore)(nil)

// upsertPriceQuery inserts one price row or overwrites prices of the existing
// row with the same (commodity_id, mandi_name, price_date).
const upsertPriceQuery = `
	INSERT INTO price_records (
		commodity_id, mandi_id, mandi_name, price_date,
		min_price, max_price, modal_price
	) VALUES ($1, $2, $3, $4, $5::NUMERIC, $6::NUMERIC, $7::NUMERIC)
	ON CONFLICT (commodity_id, mandi_name, price_date) DO UPDATE SET
		min_price = EXCLUDED.min_price,
		max_price = EXCLUDED.max_price,
		modal_price = EXCLUDED.modal_price,
		updated_at = now()
`

// Insert adds a new price record.
// Returns ErrDuplicateKey if (commodity_id, mandi_name, price_date) exists,
// ErrInvalidInput if the referenced commodity or mandi does not exist.
func (s *PriceStore) Insert(ctx context.Context, r *domain.PriceRecord) error {
	if r == nil || r.CommodityID == 0 || r.MandiName == "" {
		return storage.ErrInvalidInput
	}

	query := `
		INSERT INTO price_records (
			commodity_id, mandi_id, mandi_name, price_date,
			min_price, max_price, modal_price
		) VALUES ($1, $2, $3, $4, $5::NUMERIC, $6::NUMERIC, $7::NUMERIC)
		RETURNING id, created_at, updated_at
	`

	err := s.pool.QueryRow(ctx, query,
		r.CommodityID,
		r.MandiID,
		r.MandiName,
		r.PriceDate,
		r.MinPrice.String(),
		r.MaxPrice.String(),
		r.ModalPrice.String(),
	).Scan(&r.ID, &r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		if isDuplicateKeyError(err) {
			return storage.ErrDuplicateKey
		}
		if isForeignKeyError(err) {
			return storage.ErrInvalidInput
		}
		return fmt.Errorf("insert price record: %w", err)
	}
	return nil
}

// GetByNaturalKey retrieves a record by (commodity_id, mandi_name, price_date).
// Returns ErrNotFound if not exists.
func (s *PriceStore) GetByNaturalKey(ctx context.Context, commodityID int64, mandiName string, priceDate time.Time) (*domain.PriceRecord, error) {
	query := `
		SELECT id, commodity_id, mandi_id, mandi_name, price_date,
		       min_price::TEXT, max_price::TEXT, modal_price::TEXT,
		       created_at, updated_at
		FROM price_records
		WHERE commodity_id = $1 AND mandi_name = $2 AND price_date = $3
	`

	row := s.pool.QueryRow(ctx, query, commodityID, mandiName, priceDate)
	r, err := scanPriceRecord(row)
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get price record by natural key: %w", err)
	}
	return r, nil
}

// UpdatePrices overwrites min/max/modal prices and updated_at for the record
// identified by r.ID. Returns ErrNotFound if the row is gone.
func (s *PriceStore) UpdatePrices(ctx context.Context, r *domain.PriceRecord) error {
	if r == nil || r.ID == 0 {
		return storage.ErrInvalidInput
	}

	query := `
		UPDATE price_records
		SET min_price = $2::NUMERIC, max_price = $3::NUMERIC,
		    modal_price = $4::NUMERIC, updated_at = now()
		WHERE id = $1
	`

	tag, err := s.pool.Exec(ctx, query,
		r.ID,
		r.MinPrice.String(),
		r.MaxPrice.String(),
		r.ModalPrice.String(),
	)
	if err != nil {
		return fmt.Errorf("update price record: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// UpsertBatch inserts-or-updates a chunk of records in one round trip using a
// pgx batch. Batched statements run in an implicit transaction, so the chunk
// succeeds or rolls back as a unit.
func (s *PriceStore) UpsertBatch(ctx context.Context, recs []*domain.PriceRecord) (int64, error) {
	if len(recs) == 0 {
		return 0, nil
	}

	b := &pgx.Batch{}
	for _, r := range recs {
		if r == nil || r.CommodityID == 0 || r.MandiName == "" {
			return 0, storage.ErrInvalidInput
		}
		b.Queue(upsertPriceQuery,
			r.CommodityID,
			r.MandiID,
			r.MandiName,
			r.PriceDate,
			r.MinPrice.String(),
			r.MaxPrice.String(),
			r.ModalPrice.String(),
		)
	}

	br := s.pool.SendBatch(ctx, b)
	var written int64
	for i := range recs {
		tag, err := br.Exec()
		if err != nil {
			br.Close()
			return 0, fmt.Errorf("upsert price record %d of %d: %w", i+1, len(recs), err)
		}
		written += tag.RowsAffected()
	}
	if err := br.Close(); err != nil {
		return 0, fmt.Errorf("close upsert batch: %w", err)
	}
	return written, nil
}

// CountByDate returns the number of records stored for one calendar date.
func (s *PriceStore) CountByDate(ctx context.Context, date time.Time) (int64, error) {
	var n int64
	err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM price_records WHERE price_date = $1`, date).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count price records by date: %w", err)
	}
	return n, nil
}

// Count returns the total number of stored price records.
func (s *PriceStore) Count(ctx context.Context) (int64, error) {
	var n int64
	err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM price_records`).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count price records: %w", err)
	}
	return n, nil
}

// scanPriceRecord scans a single row into PriceRecord.
func scanPriceRecord(row pgx.Row) (*domain.PriceRecord, error) {
	var r domain.PriceRecord
	var minText, maxText, modText string

	err := row.Scan(
		&r.ID,
		&r.CommodityID,
		&r.MandiID,
		&r.MandiName,
		&r.PriceDate,
		&minText,
		&maxText,
		&modText,
		&r.CreatedAt,
		&r.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if r.MinPrice, err = decimal.NewFromString(minText); err != nil {
		return nil, fmt.Errorf("parse min_price %q: %w", minText, err)
	}
	if r.MaxPrice, err = decimal.NewFromString(maxText); err != nil {
		return nil, fmt.Errorf("parse max_price %q: %w", maxText, err)
	}
	if r.ModalPrice, err = decimal.NewFromString(modText); err != nil {
		return nil, fmt.Errorf("parse modal_price %q: %w", modText, err)
	}

	return &r, nil
}
