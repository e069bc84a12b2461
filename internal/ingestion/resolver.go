package ingestion

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"
	"unicode"

	"github.com/mr-tron/base58"

	"mandi-price-sync/internal/domain"
	"mandi-price-sync/internal/observability"
	"mandi-price-sync/internal/storage"
)

// marketCodePrefixLen bounds the readable prefix of a generated market code.
const marketCodePrefixLen = 8

// EntityResolver guarantees that commodity and mandi rows exist for the
// natural keys seen in a batch, caching surrogate IDs so repeated names cost
// one store round trip instead of thousands.
//
// Creation is get-or-create with a re-select: after an insert, the resolver
// reads the row back by natural key instead of trusting the insert, so a
// concurrent writer creating the same entity is indistinguishable from our
// own insert winning.
type EntityResolver struct {
	commodities storage.CommodityStore
	mandis      storage.MandiStore
	logger      *log.Logger

	mu                 sync.Mutex
	commodityIDs       map[string]int64
	mandiIDs           map[mandiCacheKey]int64
	commoditiesCreated int
	mandisCreated      int
}

type mandiCacheKey struct {
	name     string
	district string
	state    string
}

// ResolverOptions contains configuration for creating an EntityResolver.
type ResolverOptions struct {
	Commodities storage.CommodityStore
	Mandis      storage.MandiStore
	Logger      *log.Logger
}

// NewEntityResolver creates a new EntityResolver with empty caches.
func NewEntityResolver(opts ResolverOptions) *EntityResolver {
	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}

	return &EntityResolver{
		commodities:  opts.Commodities,
		mandis:       opts.Mandis,
		logger:       logger,
		commodityIDs: make(map[string]int64),
		mandiIDs:     make(map[mandiCacheKey]int64),
	}
}

// EnsureCommodity returns the ID of the commodity with the given name,
// creating it with a derived category if it does not exist yet.
func (r *EntityResolver) EnsureCommodity(ctx context.Context, name string) (int64, error) {
	if name == "" {
		return 0, storage.ErrInvalidInput
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if id, ok := r.commodityIDs[name]; ok {
		return id, nil
	}

	c, err := r.commodities.GetByName(ctx, name)
	if err == nil {
		r.commodityIDs[name] = c.ID
		return c.ID, nil
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return 0, fmt.Errorf("lookup commodity %q: %w", name, err)
	}

	created := &domain.Commodity{
		Name:     name,
		Category: domain.CommodityCategory(name),
		Unit:     domain.DefaultUnit,
		IsActive: true,
	}
	err = r.commodities.Insert(ctx, created)
	switch {
	case err == nil:
		r.commoditiesCreated++
		observability.RecordEntityCreated("commodity")
		r.logger.Printf("Created commodity %q (category=%s)", name, created.Category)
	case errors.Is(err, storage.ErrDuplicateKey):
		// Someone else created it between our lookup and insert.
	default:
		return 0, fmt.Errorf("insert commodity %q: %w", name, err)
	}

	c, err = r.commodities.GetByName(ctx, name)
	if err != nil {
		return 0, fmt.Errorf("re-select commodity %q: %w", name, err)
	}
	r.commodityIDs[name] = c.ID
	return c.ID, nil
}

// EnsureMandi returns the ID of the mandi with the given natural key,
// creating it with a generated market code if it does not exist yet.
func (r *EntityResolver) EnsureMandi(ctx context.Context, name, district, state string) (int64, error) {
	if name == "" {
		return 0, storage.ErrInvalidInput
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	key := mandiCacheKey{name: name, district: district, state: state}
	if id, ok := r.mandiIDs[key]; ok {
		return id, nil
	}

	m, err := r.mandis.GetByNaturalKey(ctx, name, district, state)
	if err == nil {
		r.mandiIDs[key] = m.ID
		return m.ID, nil
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return 0, fmt.Errorf("lookup mandi %q: %w", name, err)
	}

	created := &domain.Mandi{
		Name:       name,
		District:   district,
		State:      state,
		MarketCode: generateMarketCode(name),
		IsActive:   true,
	}
	err = r.mandis.Insert(ctx, created)
	switch {
	case err == nil:
		r.mandisCreated++
		observability.RecordEntityCreated("mandi")
		r.logger.Printf("Created mandi %q (%s, %s) code=%s", name, district, state, created.MarketCode)
	case errors.Is(err, storage.ErrDuplicateKey):
		// Someone else created it between our lookup and insert.
	default:
		return 0, fmt.Errorf("insert mandi %q: %w", name, err)
	}

	m, err = r.mandis.GetByNaturalKey(ctx, name, district, state)
	if err != nil {
		return 0, fmt.Errorf("re-select mandi %q: %w", name, err)
	}
	r.mandiIDs[key] = m.ID
	return m.ID, nil
}

// Created returns how many commodities and mandis this resolver has created.
func (r *EntityResolver) Created() (commodities, mandis int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.commoditiesCreated, r.mandisCreated
}

// generateMarketCode builds a unique-enough market code from the mandi name:
// an uppercased alphanumeric prefix plus a short random base58 suffix. Codes
// are generated once at creation and never change.
func generateMarketCode(name string) string {
	var b strings.Builder
	for _, r := range name {
		if b.Len() >= marketCodePrefixLen {
			break
		}
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			b.WriteRune(unicode.ToUpper(r))
		}
	}
	prefix := b.String()
	if prefix == "" {
		prefix = "MANDI"
	}

	suffix := make([]byte, 4)
	if _, err := rand.Read(suffix); err != nil {
		binary.BigEndian.PutUint32(suffix, uint32(time.Now().UnixNano()))
	}

	return prefix + "-" + base58.Encode(suffix)
}
