package memory

import (
	"context"
	"sync"
	"time"

	"mandi-price-sync/internal/domain"
	"mandi-price-sync/internal/storage"
)

// mandiKey is the natural identity of a mandi.
type mandiKey struct {
	name     string
	district string
	state    string
}

// MandiStore is an in-memory implementation of storage.MandiStore.
type MandiStore struct {
	mu     sync.RWMutex
	byKey  map[mandiKey]*domain.Mandi
	byCode map[string]*domain.Mandi // keyed by unique market_code
	byID   map[int64]*domain.Mandi
	nextID int64
}

// NewMandiStore creates a new in-memory mandi store.
func NewMandiStore() *MandiStore {
	return &MandiStore{
		byKey:  make(map[mandiKey]*domain.Mandi),
		byCode: make(map[string]*domain.Mandi),
		byID:   make(map[int64]*domain.Mandi),
	}
}

// Insert adds a new mandi and fills in its generated ID.
// Returns ErrDuplicateKey if (name, district, state) or market_code exists.
func (s *MandiStore) Insert(_ context.Context, m *domain.Mandi) error {
	if m == nil || m.Name == "" || m.MarketCode == "" {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	key := mandiKey{name: m.Name, district: m.District, state: m.State}
	if _, exists := s.byKey[key]; exists {
		return storage.ErrDuplicateKey
	}

	if _, exists := s.byCode[m.MarketCode]; exists {
		return storage.ErrDuplicateKey
	}

	s.nextID++
	m.ID = s.nextID
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now()
	}

	mandiCopy := *m
	s.byKey[key] = &mandiCopy
	s.byCode[m.MarketCode] = &mandiCopy
	s.byID[m.ID] = &mandiCopy
	return nil
}

// GetByNaturalKey retrieves a mandi by (name, district, state). Returns ErrNotFound if not exists.
func (s *MandiStore) GetByNaturalKey(_ context.Context, name, district, state string) (*domain.Mandi, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	m, exists := s.byKey[mandiKey{name: name, district: district, state: state}]
	if !exists {
		return nil, storage.ErrNotFound
	}

	mandiCopy := *m
	return &mandiCopy, nil
}

// GetByID retrieves a mandi by its ID. Returns ErrNotFound if not exists.
func (s *MandiStore) GetByID(_ context.Context, id int64) (*domain.Mandi, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	m, exists := s.byID[id]
	if !exists {
		return nil, storage.ErrNotFound
	}

	mandiCopy := *m
	return &mandiCopy, nil
}

// Count returns the number of stored mandis.
func (s *MandiStore) Count(_ context.Context) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return int64(len(s.byKey)), nil
}

var _ storage.MandiStore = (*MandiStore)(nil)
