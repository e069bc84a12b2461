// Package datagov provides a client for the data.gov.in open-data resource
// that publishes daily mandi commodity prices.
package datagov

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strconv"
	"sync/atomic"
	"time"

	"mandi-price-sync/internal/domain"
	"mandi-price-sync/internal/observability"
)

// Default configuration values.
const (
	DefaultTimeout           = 30 * time.Second
	DefaultMaxRetries        = 3
	DefaultRetryDelay        = 1 * time.Second
	DefaultMaxDelay          = 60 * time.Second
	DefaultRateLimitDelay    = 60 * time.Second
	DefaultRateLimitMaxDelay = 300 * time.Second
	DefaultPageLimit         = 1000
	DefaultPageDelay         = 1 * time.Second
	DefaultHistoricalDelay   = 2 * time.Second
	DefaultDateField         = "Arrival_Date"
)

// Client fetches paginated price records over HTTP with retries.
//
// Two backoff schedules are in play: transport errors and bad statuses use
// plain exponential backoff, while 429 responses use a longer linear ladder
// driven by a streak counter that survives across calls. The upstream rate
// limiter penalizes callers that hammer it, so forgetting the streak between
// pages would throw away exactly the information that matters.
type Client struct {
	baseURL string
	apiKey  string
	client  *http.Client
	logger  *log.Logger

	maxRetries        int
	retryDelay        time.Duration
	maxDelay          time.Duration
	rateLimitDelay    time.Duration
	rateLimitMaxDelay time.Duration
	pageLimit         int
	pageDelay         time.Duration
	historicalDelay   time.Duration
	dateField         string

	rateLimit429s atomic.Int64 // consecutive 429 responses, reset on success
	requests      atomic.Int64
	bytesRead     atomic.Int64
}

// ClientOption configures Client.
type ClientOption func(*Client)

// WithTimeout sets HTTP client timeout.
func WithTimeout(d time.Duration) ClientOption {
	return func(c *Client) {
		c.client.Timeout = d
	}
}

// WithMaxRetries sets maximum retry attempts per page fetch.
func WithMaxRetries(n int) ClientOption {
	return func(c *Client) {
		c.maxRetries = n
	}
}

// WithRetryDelay sets the initial retry delay.
func WithRetryDelay(d time.Duration) ClientOption {
	return func(c *Client) {
		c.retryDelay = d
	}
}

// WithMaxDelay sets the maximum retry delay.
func WithMaxDelay(d time.Duration) ClientOption {
	return func(c *Client) {
		c.maxDelay = d
	}
}

// WithRateLimitDelay sets the per-step delay of the 429 backoff ladder.
func WithRateLimitDelay(d time.Duration) ClientOption {
	return func(c *Client) {
		c.rateLimitDelay = d
	}
}

// WithRateLimitMaxDelay caps the 429 backoff ladder.
func WithRateLimitMaxDelay(d time.Duration) ClientOption {
	return func(c *Client) {
		c.rateLimitMaxDelay = d
	}
}

// WithPageLimit sets the page size used by FetchAll.
func WithPageLimit(n int) ClientOption {
	return func(c *Client) {
		c.pageLimit = n
	}
}

// WithPageDelay sets the pause between consecutive page fetches.
func WithPageDelay(d time.Duration) ClientOption {
	return func(c *Client) {
		c.pageDelay = d
	}
}

// WithHistoricalDelay sets the pause between page fetches of date-filtered
// (historical) pulls, which get a stricter budget.
func WithHistoricalDelay(d time.Duration) ClientOption {
	return func(c *Client) {
		c.historicalDelay = d
	}
}

// WithDateField overrides the upstream date filter field name.
func WithDateField(name string) ClientOption {
	return func(c *Client) {
		c.dateField = name
	}
}

// WithHTTPClient sets custom http.Client.
func WithHTTPClient(client *http.Client) ClientOption {
	return func(c *Client) {
		c.client = client
	}
}

// WithLogger sets the logger for page progress and retry messages.
func WithLogger(logger *log.Logger) ClientOption {
	return func(c *Client) {
		c.logger = logger
	}
}

// NewClient creates a new data.gov.in client for one resource endpoint.
func NewClient(baseURL, apiKey string, opts ...ClientOption) *Client {
	c := &Client{
		baseURL:           baseURL,
		apiKey:            apiKey,
		client:            &http.Client{Timeout: DefaultTimeout},
		logger:            log.Default(),
		maxRetries:        DefaultMaxRetries,
		retryDelay:        DefaultRetryDelay,
		maxDelay:          DefaultMaxDelay,
		rateLimitDelay:    DefaultRateLimitDelay,
		rateLimitMaxDelay: DefaultRateLimitMaxDelay,
		pageLimit:         DefaultPageLimit,
		pageDelay:         DefaultPageDelay,
		historicalDelay:   DefaultHistoricalDelay,
		dateField:         DefaultDateField,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// apiResponse is the upstream envelope around a record page.
type apiResponse struct {
	Total   int                     `json:"total"`
	Count   int                     `json:"count"`
	Records []domain.RawPriceRecord `json:"records"`
}

// FetchPage retrieves one page of records and the server-reported total.
// A non-nil date adds the upstream date filter; records still need local
// date filtering because the upstream filter is loose.
func (c *Client) FetchPage(ctx context.Context, limit, offset int, date *time.Time) ([]domain.RawPriceRecord, int, error) {
	if limit <= 0 {
		limit = c.pageLimit
	}

	endpoint, err := c.buildURL(limit, offset, date)
	if err != nil {
		return nil, 0, err
	}

	var lastErr error

	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			delay := c.retryBackoff(attempt)
			c.logger.Printf("retry %d/%d offset=%d in %s: %v", attempt, c.maxRetries, offset, delay, lastErr)
			select {
			case <-ctx.Done():
				return nil, 0, ctx.Err()
			case <-time.After(delay):
			}
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
		if err != nil {
			return nil, 0, fmt.Errorf("create request: %w", err)
		}
		req.Header.Set("Accept", "application/json")

		c.requests.Add(1)
		resp, err := c.client.Do(req)
		if err != nil {
			observability.RecordFetchRequest("error")
			lastErr = fmt.Errorf("http request: %w", err)
			continue
		}

		body, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			observability.RecordFetchRequest("error")
			lastErr = fmt.Errorf("read response: %w", err)
			continue
		}
		c.bytesRead.Add(int64(len(body)))
		observability.RecordFetchRequest(strconv.Itoa(resp.StatusCode))
		observability.RecordFetchBytes(len(body))

		// Rate limiting escalates the persistent 429 ladder.
		if resp.StatusCode == http.StatusTooManyRequests {
			c.rateLimit429s.Add(1)
			observability.RecordRateLimitHit()
			lastErr = fmt.Errorf("rate limited (429)")
			continue
		}

		if resp.StatusCode != http.StatusOK {
			lastErr = fmt.Errorf("unexpected status %d: %s", resp.StatusCode, truncateBody(body))
			continue
		}

		var payload apiResponse
		if err := json.Unmarshal(body, &payload); err != nil {
			lastErr = fmt.Errorf("unmarshal response: %w", err)
			continue
		}

		c.rateLimit429s.Store(0)
		observability.RecordRecordsFetched(len(payload.Records))
		return payload.Records, payload.Total, nil
	}

	return nil, 0, fmt.Errorf("max retries exceeded: %w", lastErr)
}

// FetchAll pages through the resource from offset 0 until the accumulated
// count reaches the server-reported total or a page comes back empty. Every
// page boundary pauses so bulk pulls stay inside the upstream rate budget.
func (c *Client) FetchAll(ctx context.Context, date *time.Time) ([]domain.RawPriceRecord, error) {
	delay := c.pageDelay
	if date != nil {
		delay = c.historicalDelay
	}

	var all []domain.RawPriceRecord
	fetched := 0
	offset := 0

	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		records, total, err := c.FetchPage(ctx, c.pageLimit, offset, date)
		if err != nil {
			return nil, fmt.Errorf("fetch page offset=%d: %w", offset, err)
		}
		if len(records) == 0 {
			break
		}

		fetched += len(records)
		if date != nil {
			records = filterByDate(records, *date)
		}
		all = append(all, records...)

		c.logger.Printf("page offset=%d fetched=%d kept=%d total=%d", offset, fetched, len(all), total)

		if total > 0 && fetched >= total {
			break
		}
		offset += c.pageLimit

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}
	}

	return all, nil
}

// retryBackoff returns the wait before the given retry attempt. While a 429
// streak is active the linear rate-limit ladder wins over the exponential
// schedule, and because the streak persists across calls the ladder keeps
// climbing until the upstream accepts a request again.
func (c *Client) retryBackoff(attempt int) time.Duration {
	if streak := c.rateLimit429s.Load(); streak > 0 {
		delay := time.Duration(streak) * c.rateLimitDelay
		if delay > c.rateLimitMaxDelay {
			delay = c.rateLimitMaxDelay
		}
		return delay
	}

	delay := c.retryDelay
	for i := 0; i < attempt && delay < c.maxDelay; i++ {
		delay *= 2
	}
	if delay > c.maxDelay {
		delay = c.maxDelay
	}
	return delay
}

// buildURL assembles the resource URL with auth, format and paging params.
func (c *Client) buildURL(limit, offset int, date *time.Time) (string, error) {
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return "", fmt.Errorf("parse base url: %w", err)
	}

	q := u.Query()
	q.Set("api-key", c.apiKey)
	q.Set("format", "json")
	q.Set("limit", strconv.Itoa(limit))
	q.Set("offset", strconv.Itoa(offset))
	if date != nil {
		// Field name capitalization matters to the upstream filter.
		q.Set("filters["+c.dateField+"]", domain.FormatFeedDate(*date))
	}
	u.RawQuery = q.Encode()

	return u.String(), nil
}

// filterByDate keeps records whose arrival_date matches the requested day.
// Records with unparseable dates are dropped here; they could never be
// attributed to the day being filled anyway.
func filterByDate(records []domain.RawPriceRecord, date time.Time) []domain.RawPriceRecord {
	want := domain.DateOnly(date)
	kept := records[:0]
	for _, r := range records {
		d, err := domain.ParseFeedDate(r.ArrivalDate)
		if err != nil {
			continue
		}
		if d.Equal(want) {
			kept = append(kept, r)
		}
	}
	return kept
}

// truncateBody shortens error bodies for log-safe messages.
func truncateBody(body []byte) string {
	const max = 200
	if len(body) > max {
		return string(body[:max]) + "..."
	}
	return string(body)
}

// Requests returns the number of HTTP requests issued so far.
func (c *Client) Requests() int64 {
	return c.requests.Load()
}

// BytesRead returns the number of response body bytes read so far.
func (c *Client) BytesRead() int64 {
	return c.bytesRead.Load()
}

// RateLimitStreak returns the current consecutive 429 count.
func (c *Client) RateLimitStreak() int64 {
	return c.rateLimit429s.Load()
}
