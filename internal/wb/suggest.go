package wb

import (
	"context"
	"encoding/json"

	"go.uber.org/zap"

	"github.com/asolovev/wb-collector/internal/collector"
)

// SuggestHandler serves typeahead hints. Its failure policy is soft: any
// fetch or parse problem degrades to an empty hint list so interactive
// clients never see an error for this kind.
type SuggestHandler struct {
	base
}

// NewSuggestHandler builds the suggest handler.
func NewSuggestHandler(deps Deps) *SuggestHandler {
	return &SuggestHandler{base: newBase(deps, collector.KindSuggest, PolicySoft)}
}

// Handle implements collector.Handler.
func (h *SuggestHandler) Handle(ctx context.Context, requestID string, _ collector.User, msg collector.Message) (collector.Result, error) {
	query := msg.QueryValue()
	if query == "" {
		return h.result(requestID, []any{}), nil
	}

	if res, ok := h.cached(requestID, query); ok {
		return res, nil
	}

	resp, err := h.fetch(ctx, requestID, func(id collector.Identity, _ string) string {
		return h.deps.Endpoints.SuggestURL(query, appTypeOf(id))
	}, false)
	if err != nil {
		h.logger().Warn("suggest fetch failed", zap.String("request_id", requestID), zap.Error(err))
		return h.result(requestID, []any{}), nil
	}

	var hints []any
	if !ok2xx(resp) || json.Unmarshal(resp.Body, &hints) != nil {
		h.logger().Warn("suggest payload unusable",
			zap.String("request_id", requestID),
			zap.Int("status", resp.StatusCode))
		return h.result(requestID, []any{}), nil
	}

	h.deps.Cache.Put(collector.KindSuggest, query, hints)
	return h.result(requestID, hints), nil
}

func appTypeOf(id collector.Identity) int {
	if id.AppType > 0 {
		return id.AppType
	}
	return 1
}
