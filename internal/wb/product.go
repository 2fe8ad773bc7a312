package wb

import (
	"context"
	"encoding/json"

	"github.com/asolovev/wb-collector/internal/collector"
)

// ProductHandler serves basket card lookups. Its failure policy is hard: a
// missing card or an unreachable upstream fails the task so the caller
// knows the product could not be resolved.
type ProductHandler struct {
	base
}

// NewProductHandler builds the product handler.
func NewProductHandler(deps Deps) *ProductHandler {
	return &ProductHandler{base: newBase(deps, collector.KindProduct, PolicyHard)}
}

// Handle implements collector.Handler.
func (h *ProductHandler) Handle(ctx context.Context, requestID string, _ collector.User, msg collector.Message) (collector.Result, error) {
	nmID := msg.QueryValue()
	if !isDigits(nmID) {
		return collector.Result{}, collector.NewValidationError("invalid_product_id")
	}

	if res, ok := h.cached(requestID, nmID); ok {
		return res, nil
	}

	resp, err := h.fetch(ctx, requestID, func(collector.Identity, string) string {
		return h.deps.Endpoints.ProductURL(nmID)
	}, false)
	if err != nil {
		return collector.Result{}, collector.Upstream(collector.KindProduct, "failed_to_fetch_product")
	}

	var card cardPayload
	if !ok2xx(resp) || json.Unmarshal(resp.Body, &card) != nil || card.NmID == 0 {
		return collector.Result{}, collector.Upstream(collector.KindProduct, "product_not_found")
	}

	data := json.RawMessage(resp.Body)
	h.deps.Cache.Put(collector.KindProduct, nmID, data)

	rec := normalizeCard(card, resp.Body)
	h.persist(ctx, requestID, "product", func(ctx context.Context) error {
		return h.deps.Catalog.UpsertProduct(ctx, rec)
	})

	return h.result(requestID, data), nil
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
