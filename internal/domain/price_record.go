package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// PriceRecord represents one observed daily price for a commodity at a mandi.
// Corresponds to price_records table in PostgreSQL. Identity for upserts is
// (commodity_id, mandi_name, price_date): mandi_name is denormalized so rows
// survive mandi merges, mandi_id is a best-effort FK resolved at ingest time.
type PriceRecord struct {
	ID          int64           // BIGSERIAL primary key
	CommodityID int64           // FK to commodities
	MandiID     *int64          // FK to mandis (nullable)
	MandiName   string          // market name as received, part of the upsert key
	PriceDate   time.Time       // calendar date the price was reported for (UTC midnight)
	MinPrice    decimal.Decimal // lowest traded price, Rs per unit
	MaxPrice    decimal.Decimal // highest traded price, Rs per unit
	ModalPrice  decimal.Decimal // most common traded price, Rs per unit
	CreatedAt   time.Time       // record creation timestamp
	UpdatedAt   time.Time       // last overwrite timestamp
}
