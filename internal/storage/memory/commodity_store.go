package memory

import (
	"context"
	"sync"
	"time"

	"mandi-price-sync/internal/domain"
	"mandi-price-sync/internal/storage"
)

// CommodityStore is an in-memory implementation of storage.CommodityStore.
type CommodityStore struct {
	mu     sync.RWMutex
	byName map[string]*domain.Commodity // keyed by unique name
	byID   map[int64]*domain.Commodity
	nextID int64
}

// NewCommodityStore creates a new in-memory commodity store.
func NewCommodityStore() *CommodityStore {
	return &CommodityStore{
		byName: make(map[string]*domain.Commodity),
		byID:   make(map[int64]*domain.Commodity),
	}
}

// Insert adds a new commodity and fills in its generated ID.
// Returns ErrDuplicateKey if the name already exists.
func (s *CommodityStore) Insert(_ context.Context, c *domain.Commodity) error {
	if c == nil || c.Name == "" {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.byName[c.Name]; exists {
		return storage.ErrDuplicateKey
	}

	s.nextID++
	c.ID = s.nextID
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now()
	}

	comCopy := *c
	s.byName[c.Name] = &comCopy
	s.byID[c.ID] = &comCopy
	return nil
}

// GetByName retrieves a commodity by its unique name. Returns ErrNotFound if not exists.
func (s *CommodityStore) GetByName(_ context.Context, name string) (*domain.Commodity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, exists := s.byName[name]
	if !exists {
		return nil, storage.ErrNotFound
	}

	comCopy := *c
	return &comCopy, nil
}

// GetByID retrieves a commodity by its ID. Returns ErrNotFound if not exists.
func (s *CommodityStore) GetByID(_ context.Context, id int64) (*domain.Commodity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, exists := s.byID[id]
	if !exists {
		return nil, storage.ErrNotFound
	}

	comCopy := *c
	return &comCopy, nil
}

// Count returns the number of stored commodities.
func (s *CommodityStore) Count(_ context.Context) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return int64(len(s.byName)), nil
}

var _ storage.CommodityStore = (*CommodityStore)(nil)
