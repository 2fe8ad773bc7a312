package wb

import (
	"net/http"
	"strconv"

	"github.com/asolovev/wb-collector/internal/collector"
)

// DefaultRegion is the catalog's region code for Moscow, used whenever a
// proxy carries no region of its own.
const DefaultRegion = "-1257786"

// fallbackUserAgent is sent when no identity is available.
const fallbackUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36"

// BuildHeaders assembles the browser-shaped header set the catalog expects.
// A nil proxy means the request egresses directly and omits the forwarding
// headers.
func BuildHeaders(id collector.Identity, proxy *collector.Proxy) http.Header {
	ua := id.UserAgent
	if ua == "" {
		ua = fallbackUserAgent
	}
	appType := id.AppType
	if appType == 0 {
		appType = 1
	}

	h := http.Header{}
	h.Set("User-Agent", ua)
	h.Set("Accept", "application/json, text/plain, */*")
	h.Set("Accept-Language", "ru-RU,ru;q=0.9,en-US;q=0.8,en;q=0.7")
	h.Set("Content-Type", "application/json")
	h.Set("Origin", "https://www.wildberries.ru")
	h.Set("Referer", "https://www.wildberries.ru/")
	h.Set("X-Requested-With", "XMLHttpRequest")
	h.Set("X-Region", DefaultRegion)
	h.Set("X-App-Type", strconv.Itoa(appType))

	if id.Session != "" {
		h.Set("Cookie", "wbx-validation-key="+id.Session)
	}
	if id.ClientID != "" {
		h.Set("X-Client-ID", id.ClientID)
	}
	if proxy != nil {
		if proxy.RegionCode != "" {
			h.Set("X-Region", proxy.RegionCode)
		}
		h.Set("X-Forwarded-For", proxy.Host)
		h.Set("X-IP", proxy.Host)
	}
	return h
}

// asHTMLRequest rewrites a JSON header set for a browser page navigation.
func asHTMLRequest(h http.Header) http.Header {
	h.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,image/webp,*/*;q=0.8")
	h.Set("Cache-Control", "no-cache")
	h.Set("Pragma", "no-cache")
	h.Set("Upgrade-Insecure-Requests", "1")
	h.Del("Content-Type")
	h.Del("X-Requested-With")
	return h
}
