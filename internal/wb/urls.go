package wb

import (
	"fmt"
	"net/url"
	"strconv"

	"github.com/asolovev/wb-collector/internal/config"
)

// Production endpoint bases. Each can be overridden through configuration,
// which is how tests point handlers at a local server.
const (
	defaultSuggestBase = "https://u-suggests.wb.ru"
	defaultSearchBase  = "https://u-search.wb.ru"
	defaultBasketBase  = "https://basket-23.wbbasket.ru"
	defaultStaticBase  = "https://static-basket-01.wbbasket.ru"
	defaultSiteBase    = "https://www.wildberries.ru"
)

// Endpoints builds request URLs for the catalog surfaces.
type Endpoints struct {
	SuggestBase string
	SearchBase  string
	BasketBase  string
	StaticBase  string
	SiteBase    string
}

// EndpointsFromConfig fills unset bases with the production defaults.
func EndpointsFromConfig(cfg config.FetchConfig) Endpoints {
	e := Endpoints{
		SuggestBase: cfg.SuggestBase,
		SearchBase:  cfg.SearchBase,
		BasketBase:  cfg.BasketBase,
		StaticBase:  cfg.StaticBase,
		SiteBase:    cfg.SiteBase,
	}
	if e.SuggestBase == "" {
		e.SuggestBase = defaultSuggestBase
	}
	if e.SearchBase == "" {
		e.SearchBase = defaultSearchBase
	}
	if e.BasketBase == "" {
		e.BasketBase = defaultBasketBase
	}
	if e.StaticBase == "" {
		e.StaticBase = defaultStaticBase
	}
	if e.SiteBase == "" {
		e.SiteBase = defaultSiteBase
	}
	return e
}

// SuggestURL builds the typeahead hint URL.
func (e Endpoints) SuggestURL(query string, appType int) string {
	q := url.Values{}
	q.Set("query", query)
	q.Set("locale", "ru")
	q.Set("lang", "ru")
	q.Set("appType", strconv.Itoa(appType))
	return e.SuggestBase + "/suggests/api/v7/hint?" + q.Encode()
}

// SearchURL builds the catalog search URL. The spp discount parameter is
// only meaningful for the default region.
func (e Endpoints) SearchURL(query string, appType int, dest string) string {
	spp := "0"
	if dest == DefaultRegion {
		spp = "30"
	}
	q := url.Values{}
	q.Set("query", query)
	q.Set("appType", strconv.Itoa(appType))
	q.Set("dest", dest)
	q.Set("lang", "ru")
	q.Set("curr", "rub")
	q.Set("spp", spp)
	q.Set("resultset", "catalog")
	q.Set("sort", "popular")
	q.Set("page", "1")
	q.Set("limit", "100")
	return e.SearchBase + "/exactmatch/ru/common/v18/search?" + q.Encode()
}

// ProductURL builds the basket card URL for a product id.
func (e Endpoints) ProductURL(nmID string) string {
	vol, part := NmIDVolPart(nmID)
	return fmt.Sprintf("%s/%s/%s/%s/info/ru/card.json", e.BasketBase, vol, part, nmID)
}

// BrandURL builds the static brand metadata URL.
func (e Endpoints) BrandURL(brandID string) string {
	return fmt.Sprintf("%s/vol0/data/brands/%s.json", e.StaticBase, brandID)
}

// SellerURL builds the public seller page URL.
func (e Endpoints) SellerURL(supplierID string) string {
	return fmt.Sprintf("%s/seller/%s", e.SiteBase, supplierID)
}

// NmIDVolPart derives the basket shard path components from a product id.
// The id is zero-padded to six digits; vol takes the first four characters
// and part the first six.
func NmIDVolPart(nmID string) (vol string, part string) {
	s := nmID
	for len(s) < 6 {
		s = "0" + s
	}
	return "vol" + s[:4], "part" + s[:6]
}
