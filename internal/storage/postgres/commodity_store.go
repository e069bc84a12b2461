package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"mandi-price-sync/internal/domain"
	"mandi-price-sync/internal/storage"
)

// CommodityStore implements storage.CommodityStore using PostgreSQL.
type CommodityStore struct {
	pool *Pool
}

// NewCommodityStore creates a new CommodityStore.
func NewCommodityStore(pool *Pool) *CommodityStore {
	return &CommodityStore{pool: pool}
}

// Compile-time interface check.
var _ storage.CommodityStore = (*CommodityStore)(nil)

// Insert adds a new commodity. Returns ErrDuplicateKey if the name exists.
func (s *CommodityStore) Insert(ctx context.Context, c *domain.Commodity) error {
	if c == nil || c.Name == "" {
		return storage.ErrInvalidInput
	}

	query := `
		INSERT INTO commodities (name, category, unit, is_active)
		VALUES ($1, $2, $3, $4)
		RETURNING id, created_at
	`

	err := s.pool.QueryRow(ctx, query,
		c.Name,
		c.Category,
		c.Unit,
		c.IsActive,
	).Scan(&c.ID, &c.CreatedAt)
	if err != nil {
		if isDuplicateKeyError(err) {
			return storage.ErrDuplicateKey
		}
		return fmt.Errorf("insert commodity: %w", err)
	}
	return nil
}

// GetByName retrieves a commodity by its unique name. Returns ErrNotFound if not exists.
func (s *CommodityStore) GetByName(ctx context.Context, name string) (*domain.Commodity, error) {
	query := `
		SELECT id, name, category, unit, is_active, created_at
		FROM commodities
		WHERE name = $1
	`

	row := s.pool.QueryRow(ctx, query, name)
	c, err := scanCommodity(row)
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get commodity by name: %w", err)
	}
	return c, nil
}

// GetByID retrieves a commodity by its ID. Returns ErrNotFound if not exists.
func (s *CommodityStore) GetByID(ctx context.Context, id int64) (*domain.Commodity, error) {
	query := `
		SELECT id, name, category, unit, is_active, created_at
		FROM commodities
		WHERE id = $1
	`

	row := s.pool.QueryRow(ctx, query, id)
	c, err := scanCommodity(row)
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get commodity by id: %w", err)
	}
	return c, nil
}

// Count returns the number of stored commodities.
func (s *CommodityStore) Count(ctx context.Context) (int64, error) {
	var n int64
	err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM commodities`).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count commodities: %w", err)
	}
	return n, nil
}

// scanCommodity scans a single row into Commodity.
func scanCommodity(row pgx.Row) (*domain.Commodity, error) {
	var c domain.Commodity

	err := row.Scan(
		&c.ID,
		&c.Name,
		&c.Category,
		&c.Unit,
		&c.IsActive,
		&c.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	return &c, nil
}
