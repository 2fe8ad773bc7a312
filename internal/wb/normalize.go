package wb

import (
	"encoding/json"

	"github.com/asolovev/wb-collector/internal/collector"
)

// cardPayload is the subset of the basket card document the service reads.
type cardPayload struct {
	NmID   int64 `json:"nm_id"`
	ImtID  int64 `json:"imt_id"`
	Naming struct {
		Title string `json:"title"`
	} `json:"naming"`
	Selling struct {
		BrandName string `json:"brand_name"`
		BrandID   int64  `json:"brand_id"`
	} `json:"selling"`
	Price struct {
		Price         int64 `json:"price"`
		PriceWithSale int64 `json:"price_with_sale"`
	} `json:"price"`
	FeedbackRating float64 `json:"feedback_rating"`
	FeedbackCount  int     `json:"feedback_count"`
}

// normalizeCard maps a basket card document onto the canonical product row.
func normalizeCard(p cardPayload, raw []byte) collector.ProductRecord {
	return collector.ProductRecord{
		NmID:          p.NmID,
		ImtID:         p.ImtID,
		Title:         p.Naming.Title,
		Brand:         p.Selling.BrandName,
		BrandID:       p.Selling.BrandID,
		Price:         p.Price.Price,
		PriceOld:      p.Price.PriceWithSale,
		Rating:        p.FeedbackRating,
		FeedbackCount: p.FeedbackCount,
		Raw:           json.RawMessage(raw),
	}
}

// brandPayload is the static brand document shape.
type brandPayload struct {
	ID          int64  `json:"id"`
	Name        string `json:"name"`
	Site        string `json:"site"`
	Description string `json:"description"`
}

// normalizeBrand maps a brand document onto the canonical brand row.
func normalizeBrand(p brandPayload, raw []byte) collector.BrandRecord {
	return collector.BrandRecord{
		BrandID:     p.ID,
		Name:        p.Name,
		Site:        p.Site,
		Description: p.Description,
		Raw:         json.RawMessage(raw),
	}
}

// searchPayload is the subset of the search response the service reads.
// Prices arrive in kopecks and are stored as whole rubles.
type searchPayload struct {
	Products []searchProduct `json:"products"`
}

type searchProduct struct {
	ID           int64   `json:"id"`
	Root         int64   `json:"root"`
	Name         string  `json:"name"`
	Brand        string  `json:"brand"`
	BrandID      int64   `json:"brandId"`
	PriceU       int64   `json:"priceU"`
	SalePriceU   int64   `json:"salePriceU"`
	ReviewRating float64 `json:"reviewRating"`
	Feedbacks    int     `json:"feedbacks"`
}

// searchRecords converts search result rows into product upsert records.
// Rows without an id are skipped.
func searchRecords(p searchPayload) []collector.ProductRecord {
	recs := make([]collector.ProductRecord, 0, len(p.Products))
	for _, sp := range p.Products {
		if sp.ID == 0 {
			continue
		}
		recs = append(recs, collector.ProductRecord{
			NmID:          sp.ID,
			ImtID:         sp.Root,
			Title:         sp.Name,
			Brand:         sp.Brand,
			BrandID:       sp.BrandID,
			Price:         kopecksToRubles(sp.SalePriceU),
			PriceOld:      kopecksToRubles(sp.PriceU),
			Rating:        sp.ReviewRating,
			FeedbackCount: sp.Feedbacks,
		})
	}
	return recs
}

func kopecksToRubles(v int64) int64 {
	return v / 100
}
