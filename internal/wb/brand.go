package wb

import (
	"context"
	"encoding/json"

	"github.com/asolovev/wb-collector/internal/collector"
)

// BrandHandler serves static brand metadata. Its failure policy is hard,
// and unlike product it returns the normalized row rather than the raw
// upstream document.
type BrandHandler struct {
	base
}

// NewBrandHandler builds the brand handler.
func NewBrandHandler(deps Deps) *BrandHandler {
	return &BrandHandler{base: newBase(deps, collector.KindBrand, PolicyHard)}
}

// Handle implements collector.Handler.
func (h *BrandHandler) Handle(ctx context.Context, requestID string, _ collector.User, msg collector.Message) (collector.Result, error) {
	brandID := msg.QueryValue()
	if brandID == "" {
		return collector.Result{}, collector.NewValidationError("brand_id_required")
	}

	if res, ok := h.cached(requestID, brandID); ok {
		return res, nil
	}

	resp, err := h.fetch(ctx, requestID, func(collector.Identity, string) string {
		return h.deps.Endpoints.BrandURL(brandID)
	}, false)
	if err != nil {
		return collector.Result{}, collector.Upstream(collector.KindBrand, "failed_to_fetch_brand")
	}

	var payload brandPayload
	if !ok2xx(resp) || json.Unmarshal(resp.Body, &payload) != nil || payload.ID == 0 {
		return collector.Result{}, collector.Upstream(collector.KindBrand, "brand_not_found")
	}

	rec := normalizeBrand(payload, resp.Body)
	h.deps.Cache.Put(collector.KindBrand, brandID, rec)

	h.persist(ctx, requestID, "brand", func(ctx context.Context) error {
		return h.deps.Catalog.UpsertBrand(ctx, rec)
	})

	return h.result(requestID, rec), nil
}
