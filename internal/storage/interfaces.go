package storage

import (
	"context"
	"time"

	"mandi-price-sync/internal/domain"
)

// CommodityStore provides access to commodities storage.
type CommodityStore interface {
	// Insert adds a new commodity and fills in its generated ID.
	// Returns ErrDuplicateKey if the name already exists.
	Insert(ctx context.Context, c *domain.Commodity) error

	// GetByName retrieves a commodity by its unique name. Returns ErrNotFound if not exists.
	GetByName(ctx context.Context, name string) (*domain.Commodity, error)

	// GetByID retrieves a commodity by its ID. Returns ErrNotFound if not exists.
	GetByID(ctx context.Context, id int64) (*domain.Commodity, error)

	// Count returns the number of stored commodities.
	Count(ctx context.Context) (int64, error)
}

// MandiStore provides access to mandis storage.
type MandiStore interface {
	// Insert adds a new mandi and fills in its generated ID.
	// Returns ErrDuplicateKey if (name, district, state) or market_code exists.
	Insert(ctx context.Context, m *domain.Mandi) error

	// GetByNaturalKey retrieves a mandi by (name, district, state). Returns ErrNotFound if not exists.
	GetByNaturalKey(ctx context.Context, name, district, state string) (*domain.Mandi, error)

	// GetByID retrieves a mandi by its ID. Returns ErrNotFound if not exists.
	GetByID(ctx context.Context, id int64) (*domain.Mandi, error)

	// Count returns the number of stored mandis.
	Count(ctx context.Context) (int64, error)
}

// PriceStore provides access to price_records storage.
type PriceStore interface {
	// Insert adds a new price record and fills in its generated ID.
	// Returns ErrDuplicateKey if (commodity_id, mandi_name, price_date) exists.
	Insert(ctx context.Context, r *domain.PriceRecord) error

	// GetByNaturalKey retrieves a record by (commodity_id, mandi_name, price_date).
	// Returns ErrNotFound if not exists.
	GetByNaturalKey(ctx context.Context, commodityID int64, mandiName string, priceDate time.Time) (*domain.PriceRecord, error)

	// UpdatePrices overwrites min/max/modal prices and updated_at for the
	// record identified by r.ID. Returns ErrNotFound if the row is gone.
	UpdatePrices(ctx context.Context, r *domain.PriceRecord) error

	// UpsertBatch inserts-or-updates a chunk of records in a single round
	// trip. Existing rows matched on (commodity_id, mandi_name, price_date)
	// get their prices overwritten. The chunk succeeds or fails as a unit;
	// on success it returns the number of rows written.
	UpsertBatch(ctx context.Context, recs []*domain.PriceRecord) (int64, error)

	// CountByDate returns the number of records stored for one calendar date.
	CountByDate(ctx context.Context, date time.Time) (int64, error)

	// Count returns the total number of stored price records.
	Count(ctx context.Context) (int64, error)
}
