package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"mandi-price-sync/internal/domain"
	"mandi-price-sync/internal/storage"
)

// MandiStore implements storage.MandiStore using PostgreSQL.
type MandiStore struct {
	pool *Pool
}

// NewMandiStore creates a new MandiStore.
func NewMandiStore(pool *Pool) *MandiStore {
	return &MandiStore{pool: pool}
}

// Compile-time interface check.
var _ storage.MandiStore = (*MandiStore)(nil)

// Insert adds a new mandi. Returns ErrDuplicateKey if (name, district, state)
// or market_code already exists.
func (s *MandiStore) Insert(ctx context.Context, m *domain.Mandi) error {
	if m == nil || m.Name == "" || m.MarketCode == "" {
		return storage.ErrInvalidInput
	}

	query := `
		INSERT INTO mandis (name, district, state, market_code, address, is_active)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, created_at
	`

	err := s.pool.QueryRow(ctx, query,
		m.Name,
		m.District,
		m.State,
		m.MarketCode,
		m.Address,
		m.IsActive,
	).Scan(&m.ID, &m.CreatedAt)
	if err != nil {
		if isDuplicateKeyError(err) {
			return storage.ErrDuplicateKey
		}
		return fmt.Errorf("insert mandi: %w", err)
	}
	return nil
}

// GetByNaturalKey retrieves a mandi by (name, district, state). Returns ErrNotFound if not exists.
func (s *MandiStore) GetByNaturalKey(ctx context.Context, name, district, state string) (*domain.Mandi, error) {
	query := `
		SELECT id, name, district, state, market_code, address, is_active, created_at
		FROM mandis
		WHERE name = $1 AND district = $2 AND state = $3
	`

	row := s.pool.QueryRow(ctx, query, name, district, state)
	m, err := scanMandi(row)
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get mandi by natural key: %w", err)
	}
	return m, nil
}

// GetByID retrieves a mandi by its ID. Returns ErrNotFound if not exists.
func (s *MandiStore) GetByID(ctx context.Context, id int64) (*domain.Mandi, error) {
	query := `
		SELECT id, name, district, state, market_code, address, is_active, created_at
		FROM mandis
		WHERE id = $1
	`

	row := s.pool.QueryRow(ctx, query, id)
	m, err := scanMandi(row)
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get mandi by id: %w", err)
	}
	return m, nil
}

// Count returns the number of stored mandis.
func (s *MandiStore) Count(ctx context.Context) (int64, error) {
	var n int64
	err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM mandis`).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count mandis: %w", err)
	}
	return n, nil
}

// scanMandi scans a single row into Mandi.
func scanMandi(row pgx.Row) (*domain.Mandi, error) {
	var m domain.Mandi

	err := row.Scan(
		&m.ID,
		&m.Name,
		&m.District,
		&m.State,
		&m.MarketCode,
		&m.Address,
		&m.IsActive,
		&m.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	return &m, nil
}
