package domain

import "time"

// Mandi represents a physical wholesale market (mandi).
// Corresponds to mandis table in PostgreSQL. The natural identity is the
// (name, district, state) triple; market_code is a generated surrogate
// required to be unique by downstream consumers.
type Mandi struct {
	ID         int64     // BIGSERIAL primary key
	Name       string    // market name as received from the feed
	District   string    // district the mandi operates in
	State      string    // state the mandi operates in
	MarketCode string    // unique generated code, e.g. "AZADPUR-3xK9"
	Address    string    // free-form address, filled in by enrichment
	IsActive   bool      // soft-delete flag
	CreatedAt  time.Time // record creation timestamp
}
