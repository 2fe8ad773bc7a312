package wb

import (
	"context"
	"encoding/json"

	"go.uber.org/zap"

	"github.com/asolovev/wb-collector/internal/collector"
)

// emptySearch is the soft-failure payload for the search kind.
func emptySearch() map[string]any {
	return map[string]any{"products": []any{}}
}

// SearchHandler serves catalog search. Like suggest it degrades softly to
// an empty product list, but a successful page also feeds the persistence
// layer with one upsert record per result row.
type SearchHandler struct {
	base
}

// NewSearchHandler builds the search handler.
func NewSearchHandler(deps Deps) *SearchHandler {
	return &SearchHandler{base: newBase(deps, collector.KindSearch, PolicySoft)}
}

// Handle implements collector.Handler.
func (h *SearchHandler) Handle(ctx context.Context, requestID string, _ collector.User, msg collector.Message) (collector.Result, error) {
	query := msg.QueryValue()
	if query == "" {
		return h.result(requestID, emptySearch()), nil
	}

	if res, ok := h.cached(requestID, query); ok {
		return res, nil
	}

	resp, err := h.fetch(ctx, requestID, func(id collector.Identity, region string) string {
		return h.deps.Endpoints.SearchURL(query, appTypeOf(id), region)
	}, false)
	if err != nil {
		h.logger().Warn("search fetch failed", zap.String("request_id", requestID), zap.Error(err))
		return h.result(requestID, emptySearch()), nil
	}

	var page searchPayload
	if !ok2xx(resp) || json.Unmarshal(resp.Body, &page) != nil || page.Products == nil {
		h.logger().Warn("search payload unusable",
			zap.String("request_id", requestID),
			zap.Int("status", resp.StatusCode))
		return h.result(requestID, emptySearch()), nil
	}

	data := json.RawMessage(resp.Body)
	h.deps.Cache.Put(collector.KindSearch, query, data)

	if recs := searchRecords(page); len(recs) > 0 {
		h.persist(ctx, requestID, "product", func(ctx context.Context) error {
			return h.deps.Catalog.BatchUpsertProducts(ctx, recs)
		})
	}

	return h.result(requestID, data), nil
}
