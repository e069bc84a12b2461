package memory

import (
	"context"
	"sync"
	"time"

	"mandi-price-sync/internal/domain"
	"mandi-price-sync/internal/storage"
)

// priceKey is the upsert identity of a price record.
type priceKey struct {
	commodityID int64
	mandiName   string
	date        string // YYYY-MM-DD
}

func newPriceKey(commodityID int64, mandiName string, priceDate time.Time) priceKey {
	return priceKey{
		commodityID: commodityID,
		mandiName:   mandiName,
		date:        domain.DateOnly(priceDate).Format("2006-01-02"),
	}
}

// PriceStore is an in-memory implementation of storage.PriceStore.
type PriceStore struct {
	mu     sync.RWMutex
	byKey  map[priceKey]*domain.PriceRecord
	byID   map[int64]*domain.PriceRecord
	nextID int64
}

// NewPriceStore creates a new in-memory price store.
func NewPriceStore() *PriceStore {
	return &PriceStore{
		byKey: make(map[priceKey]*domain.PriceRecord),
		byID:  make(map[int64]*domain.PriceRecord),
	}
}

// Insert adds a new price record and fills in its generated ID.
// Returns ErrDuplicateKey if (commodity_id, mandi_name, price_date) exists.
func (s *PriceStore) Insert(_ context.Context, r *domain.PriceRecord) error {
	if r == nil || r.CommodityID == 0 || r.MandiName == "" {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	key := newPriceKey(r.CommodityID, r.MandiName, r.PriceDate)
	if _, exists := s.byKey[key]; exists {
		return storage.ErrDuplicateKey
	}

	s.nextID++
	r.ID = s.nextID
	now := time.Now()
	if r.CreatedAt.IsZero() {
		r.CreatedAt = now
	}
	if r.UpdatedAt.IsZero() {
		r.UpdatedAt = now
	}

	recCopy := *r
	s.byKey[key] = &recCopy
	s.byID[r.ID] = &recCopy
	return nil
}

// GetByNaturalKey retrieves a record by (commodity_id, mandi_name, price_date).
// Returns ErrNotFound if not exists.
func (s *PriceStore) GetByNaturalKey(_ context.Context, commodityID int64, mandiName string, priceDate time.Time) (*domain.PriceRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, exists := s.byKey[newPriceKey(commodityID, mandiName, priceDate)]
	if !exists {
		return nil, storage.ErrNotFound
	}

	recCopy := *r
	return &recCopy, nil
}

// UpdatePrices overwrites min/max/modal prices and updated_at for the record
// identified by r.ID. Returns ErrNotFound if the row is gone.
func (s *PriceStore) UpdatePrices(_ context.Context, r *domain.PriceRecord) error {
	if r == nil || r.ID == 0 {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	stored, exists := s.byID[r.ID]
	if !exists {
		return storage.ErrNotFound
	}

	stored.MinPrice = r.MinPrice
	stored.MaxPrice = r.MaxPrice
	stored.ModalPrice = r.ModalPrice
	stored.UpdatedAt = time.Now()
	return nil
}

// UpsertBatch inserts-or-updates a chunk of records. The chunk is validated
// up front and applied atomically, mirroring the transactional behavior of
// the PostgreSQL implementation.
func (s *PriceStore) UpsertBatch(_ context.Context, recs []*domain.PriceRecord) (int64, error) {
	for _, r := range recs {
		if r == nil || r.CommodityID == 0 || r.MandiName == "" {
			return 0, storage.ErrInvalidInput
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	for _, r := range recs {
		key := newPriceKey(r.CommodityID, r.MandiName, r.PriceDate)
		if stored, exists := s.byKey[key]; exists {
			stored.MinPrice = r.MinPrice
			stored.MaxPrice = r.MaxPrice
			stored.ModalPrice = r.ModalPrice
			stored.UpdatedAt = now
			continue
		}

		s.nextID++
		recCopy := *r
		recCopy.ID = s.nextID
		recCopy.CreatedAt = now
		recCopy.UpdatedAt = now
		s.byKey[key] = &recCopy
		s.byID[recCopy.ID] = &recCopy
	}
	return int64(len(recs)), nil
}

// CountByDate returns the number of records stored for one calendar date.
func (s *PriceStore) CountByDate(_ context.Context, date time.Time) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	day := domain.DateOnly(date).Format("2006-01-02")
	var n int64
	for key := range s.byKey {
		if key.date == day {
			n++
		}
	}
	return n, nil
}

// Count returns the total number of stored price records.
func (s *PriceStore) Count(_ context.Context) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return int64(len(s.byKey)), nil
}

var _ storage.PriceStore = (*PriceStore)(nil)
