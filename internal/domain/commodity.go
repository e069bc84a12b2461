package domain

import "time"

// DefaultUnit is the trade unit assigned to commodities created from feed
// records, which report prices per quintal.
const DefaultUnit = "Quintal"

// Commodity represents a traded agricultural commodity.
// Corresponds to commodities table in PostgreSQL.
type Commodity struct {
	ID        int64     // BIGSERIAL primary key
	Name      string    // unique, case-sensitive as received from the feed
	Category  string    // classification, see CommodityCategory
	Unit      string    // trade unit, e.g. "Quintal"
	IsActive  bool      // soft-delete flag
	CreatedAt time.Time // record creation timestamp
}
