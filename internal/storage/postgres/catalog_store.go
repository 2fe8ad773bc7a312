package postgres

import (
	"context"
	"fmt"
	"strings"

	"github.com/asolovev/wb-collector/internal/collector"
)

// batchSize is the number of rows per multi-row upsert statement.
const batchSize = 100

// CatalogStore implements collector.CatalogStore on the products, brands,
// and sellers tables. All writes are upserts on the entity's natural key,
// so replaying the same fetch converges instead of duplicating.
//
// Schema:
//
//	CREATE TABLE products (
//		nm_id          BIGINT PRIMARY KEY,
//		imt_id         BIGINT NOT NULL DEFAULT 0,
//		title          TEXT NOT NULL DEFAULT '',
//		brand          TEXT NOT NULL DEFAULT '',
//		brand_id       BIGINT NOT NULL DEFAULT 0,
//		price          BIGINT NOT NULL DEFAULT 0,
//		price_old      BIGINT NOT NULL DEFAULT 0,
//		rating         DOUBLE PRECISION NOT NULL DEFAULT 0,
//		feedback_count INT NOT NULL DEFAULT 0,
//		raw_payload    JSONB,
//		updated_at     TIMESTAMPTZ NOT NULL DEFAULT now()
//	);
//	CREATE TABLE brands (
//		brand_id    BIGINT PRIMARY KEY,
//		name        TEXT NOT NULL DEFAULT '',
//		site        TEXT NOT NULL DEFAULT '',
//		description TEXT NOT NULL DEFAULT '',
//		raw_payload JSONB,
//		updated_at  TIMESTAMPTZ NOT NULL DEFAULT now()
//	);
//	CREATE TABLE sellers (
//		supplier_id   BIGINT PRIMARY KEY,
//		name          TEXT NOT NULL DEFAULT '',
//		rating        DOUBLE PRECISION,
//		reviews_count INT NOT NULL DEFAULT 0,
//		error         TEXT NOT NULL DEFAULT '',
//		updated_at    TIMESTAMPTZ NOT NULL DEFAULT now()
//	);
type CatalogStore struct {
	pool dbConn
}

// NewCatalogStore constructs a CatalogStore from an existing pool or mock.
func NewCatalogStore(pool dbConn) (*CatalogStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &CatalogStore{pool: pool}, nil
}

const productUpsertSuffix = `
ON CONFLICT (nm_id) DO UPDATE SET
	imt_id = EXCLUDED.imt_id,
	title = EXCLUDED.title,
	brand = EXCLUDED.brand,
	brand_id = EXCLUDED.brand_id,
	price = EXCLUDED.price,
	price_old = EXCLUDED.price_old,
	rating = EXCLUDED.rating,
	feedback_count = EXCLUDED.feedback_count,
	raw_payload = COALESCE(EXCLUDED.raw_payload, products.raw_payload),
	updated_at = now()`

// UpsertProduct inserts or refreshes one product row by nm_id.
func (s *CatalogStore) UpsertProduct(ctx context.Context, rec collector.ProductRecord) error {
	query := `
INSERT INTO products (nm_id, imt_id, title, brand, brand_id, price, price_old, rating, feedback_count, raw_payload)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)` + productUpsertSuffix
	_, err := s.pool.Exec(ctx, query, productArgs(rec)...)
	if err != nil {
		return fmt.Errorf("upsert product: %w", err)
	}
	return nil
}

// BatchUpsertProducts upserts rows in chunks so one oversized search page
// never produces an unbounded statement.
func (s *CatalogStore) BatchUpsertProducts(ctx context.Context, recs []collector.ProductRecord) error {
	for start := 0; start < len(recs); start += batchSize {
		end := start + batchSize
		if end > len(recs) {
			end = len(recs)
		}
		if err := s.upsertProductChunk(ctx, recs[start:end]); err != nil {
			return err
		}
	}
	return nil
}

func (s *CatalogStore) upsertProductChunk(ctx context.Context, recs []collector.ProductRecord) error {
	if len(recs) == 0 {
		return nil
	}
	const cols = 10
	values := make([]string, 0, len(recs))
	args := make([]any, 0, len(recs)*cols)
	for i, rec := range recs {
		base := i * cols
		placeholders := make([]string, cols)
		for j := range placeholders {
			placeholders[j] = fmt.Sprintf("$%d", base+j+1)
		}
		values = append(values, "("+strings.Join(placeholders, ", ")+")")
		args = append(args, productArgs(rec)...)
	}

	query := `
INSERT INTO products (nm_id, imt_id, title, brand, brand_id, price, price_old, rating, feedback_count, raw_payload)
VALUES ` + strings.Join(values, ", ") + productUpsertSuffix
	if _, err := s.pool.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("batch upsert products: %w", err)
	}
	return nil
}

func productArgs(rec collector.ProductRecord) []any {
	var raw any
	if len(rec.Raw) > 0 {
		raw = []byte(rec.Raw)
	}
	return []any{
		rec.NmID,
		rec.ImtID,
		rec.Title,
		rec.Brand,
		rec.BrandID,
		rec.Price,
		rec.PriceOld,
		rec.Rating,
		rec.FeedbackCount,
		raw,
	}
}

// UpsertBrand inserts or refreshes one brand row by brand_id.
func (s *CatalogStore) UpsertBrand(ctx context.Context, rec collector.BrandRecord) error {
	var raw any
	if len(rec.Raw) > 0 {
		raw = []byte(rec.Raw)
	}
	query := `
INSERT INTO brands (brand_id, name, site, description, raw_payload)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (brand_id) DO UPDATE SET
	name = EXCLUDED.name,
	site = EXCLUDED.site,
	description = EXCLUDED.description,
	raw_payload = COALESCE(EXCLUDED.raw_payload, brands.raw_payload),
	updated_at = now()`
	if _, err := s.pool.Exec(ctx, query, rec.BrandID, rec.Name, rec.Site, rec.Description, raw); err != nil {
		return fmt.Errorf("upsert brand: %w", err)
	}
	return nil
}

// UpsertSeller inserts or refreshes one seller row by supplier_id.
func (s *CatalogStore) UpsertSeller(ctx context.Context, rec collector.SellerRecord) error {
	query := `
INSERT INTO sellers (supplier_id, name, rating, reviews_count, error)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (supplier_id) DO UPDATE SET
	name = EXCLUDED.name,
	rating = EXCLUDED.rating,
	reviews_count = EXCLUDED.reviews_count,
	error = EXCLUDED.error,
	updated_at = now()`
	if _, err := s.pool.Exec(ctx, query, rec.SupplierID, rec.Name, rec.Rating, rec.ReviewsCount, rec.Error); err != nil {
		return fmt.Errorf("upsert seller: %w", err)
	}
	return nil
}
