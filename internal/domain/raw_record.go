package domain

import (
	"fmt"
	"time"
)

// FeedDateLayout is the date format used by the upstream resource, both in
// record payloads (arrival_date) and in date filter parameters: DD/MM/YYYY.
const FeedDateLayout = "02/01/2006"

// RawPriceRecord is one record exactly as the upstream resource returns it.
// Every field arrives as a string; parsing happens record by record at seed
// time so a single malformed value never fails a batch.
type RawPriceRecord struct {
	State       string `json:"state"`
	District    string `json:"district"`
	Market      string `json:"market"`
	Commodity   string `json:"commodity"`
	Variety     string `json:"variety"`
	Grade       string `json:"grade"`
	ArrivalDate string `json:"arrival_date"`
	MinPrice    string `json:"min_price"`
	MaxPrice    string `json:"max_price"`
	ModalPrice  string `json:"modal_price"`
}

// ParseFeedDate parses an upstream DD/MM/YYYY date into a UTC midnight time.
func ParseFeedDate(s string) (time.Time, error) {
	t, err := time.Parse(FeedDateLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse feed date %q: %w", s, err)
	}
	return t.UTC(), nil
}

// FormatFeedDate renders a time in the upstream DD/MM/YYYY format.
func FormatFeedDate(t time.Time) string {
	return t.Format(FeedDateLayout)
}

// DateOnly truncates a time to its UTC calendar date.
func DateOnly(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
