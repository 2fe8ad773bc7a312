package wb

import (
	"bytes"
	"context"
	"regexp"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/asolovev/wb-collector/internal/collector"
)

// degradedSellerError marks a seller record assembled without live page data.
const degradedSellerError = "failed_to_fetch_seller_details"

var reviewsPattern = regexp.MustCompile(`([\d\s]+) отзыв`)

// SellerHandler scrapes the public seller page. Its failure policy is
// degraded: when the page cannot be fetched or parsed, the handler still
// answers with a minimal record carrying an error marker instead of
// failing the task.
type SellerHandler struct {
	base
}

// NewSellerHandler builds the seller handler.
func NewSellerHandler(deps Deps) *SellerHandler {
	return &SellerHandler{base: newBase(deps, collector.KindSeller, PolicyDegraded)}
}

// Handle implements collector.Handler.
func (h *SellerHandler) Handle(ctx context.Context, requestID string, _ collector.User, msg collector.Message) (collector.Result, error) {
	sellerID := msg.QueryValue()
	if !isDigits(sellerID) {
		return collector.Result{}, collector.NewValidationError("invalid_seller_id")
	}
	supplierID, _ := strconv.ParseInt(sellerID, 10, 64)

	if res, ok := h.cached(requestID, sellerID); ok {
		return res, nil
	}

	resp, err := h.fetch(ctx, requestID, func(collector.Identity, string) string {
		return h.deps.Endpoints.SellerURL(sellerID)
	}, true)
	if err != nil || !ok2xx(resp) {
		h.logger().Warn("seller page unavailable",
			zap.String("request_id", requestID),
			zap.Int("status", resp.StatusCode),
			zap.Error(err))
		return h.result(requestID, degradedSeller(supplierID, sellerID)), nil
	}

	rec, ok := extractSeller(supplierID, resp.Body)
	if !ok {
		h.logger().Warn("seller page unparseable", zap.String("request_id", requestID))
		return h.result(requestID, degradedSeller(supplierID, sellerID)), nil
	}

	h.deps.Cache.Put(collector.KindSeller, sellerID, rec)
	h.persist(ctx, requestID, "seller", func(ctx context.Context) error {
		return h.deps.Catalog.UpsertSeller(ctx, rec)
	})

	return h.result(requestID, rec), nil
}

// extractSeller pulls the seller name, rating, and review count out of the
// rendered page.
func extractSeller(supplierID int64, html []byte) (collector.SellerRecord, bool) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(html))
	if err != nil {
		return collector.SellerRecord{}, false
	}

	name := strings.TrimSpace(doc.Find("h1").First().Text())
	if name == "" {
		name = "Неизвестный продавец"
	}

	var rating *float64
	ratingText := strings.TrimSpace(doc.Find(`[itemprop="ratingValue"]`).First().Text())
	if ratingText == "" {
		ratingText = strings.TrimSpace(doc.Find(".seller-details__rating-value").First().Text())
	}
	if v, err := strconv.ParseFloat(strings.ReplaceAll(ratingText, ",", "."), 64); err == nil {
		rating = &v
	}

	reviews := 0
	if m := reviewsPattern.FindSubmatch(html); m != nil {
		digits := strings.ReplaceAll(string(m[1]), " ", "")
		if v, err := strconv.Atoi(strings.TrimSpace(digits)); err == nil {
			reviews = v
		}
	}

	return collector.SellerRecord{
		SupplierID:   supplierID,
		Name:         name,
		Rating:       rating,
		ReviewsCount: reviews,
	}, true
}

func degradedSeller(supplierID int64, sellerID string) collector.SellerRecord {
	return collector.SellerRecord{
		SupplierID:   supplierID,
		Name:         "Продавец #" + sellerID,
		ReviewsCount: 0,
		Error:        degradedSellerError,
	}
}
