package memory

import (
	"context"
	"sync"

	"github.com/asolovev/wb-collector/internal/collector"
)

// CatalogStore implements collector.CatalogStore in memory. Upserts are
// keyed by the entity's natural id, matching the database constraint.
type CatalogStore struct {
	mu       sync.RWMutex
	products map[int64]collector.ProductRecord
	brands   map[int64]collector.BrandRecord
	sellers  map[int64]collector.SellerRecord
}

// NewCatalogStore builds an empty CatalogStore.
func NewCatalogStore() *CatalogStore {
	return &CatalogStore{
		products: make(map[int64]collector.ProductRecord),
		brands:   make(map[int64]collector.BrandRecord),
		sellers:  make(map[int64]collector.SellerRecord),
	}
}

// UpsertProduct inserts or replaces one product row by nm_id.
func (s *CatalogStore) UpsertProduct(_ context.Context, rec collector.ProductRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.products[rec.NmID] = rec
	return nil
}

// BatchUpsertProducts inserts or replaces many product rows.
func (s *CatalogStore) BatchUpsertProducts(_ context.Context, recs []collector.ProductRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, rec := range recs {
		s.products[rec.NmID] = rec
	}
	return nil
}

// UpsertBrand inserts or replaces one brand row by brand_id.
func (s *CatalogStore) UpsertBrand(_ context.Context, rec collector.BrandRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.brands[rec.BrandID] = rec
	return nil
}

// UpsertSeller inserts or replaces one seller row by supplier_id.
func (s *CatalogStore) UpsertSeller(_ context.Context, rec collector.SellerRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sellers[rec.SupplierID] = rec
	return nil
}

// Product returns the stored row for nm_id.
func (s *CatalogStore) Product(nmID int64) (collector.ProductRecord, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.products[nmID]
	return rec, ok
}

// ProductCount reports the number of stored products.
func (s *CatalogStore) ProductCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.products)
}
