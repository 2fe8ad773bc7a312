package wb

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/asolovev/wb-collector/internal/config"
)

func TestNmIDVolPart(t *testing.T) {
	t.Parallel()

	tests := []struct {
		nmID string
		vol  string
		part string
	}{
		{"123456789", "vol1234", "part123456"},
		{"987654", "vol9876", "part987654"},
		{"42", "vol0000", "part000042"},
	}
	for _, tc := range tests {
		vol, part := NmIDVolPart(tc.nmID)
		require.Equal(t, tc.vol, vol, "nm_id %s", tc.nmID)
		require.Equal(t, tc.part, part, "nm_id %s", tc.nmID)
	}
}

func TestEndpointsDefaults(t *testing.T) {
	t.Parallel()

	e := EndpointsFromConfig(config.FetchConfig{})
	require.Equal(t, "https://basket-23.wbbasket.ru/vol1234/part123456/123456789/info/ru/card.json", e.ProductURL("123456789"))
	require.Equal(t, "https://static-basket-01.wbbasket.ru/vol0/data/brands/310.json", e.BrandURL("310"))
	require.Equal(t, "https://www.wildberries.ru/seller/1050", e.SellerURL("1050"))
}

func TestEndpointsOverride(t *testing.T) {
	t.Parallel()

	e := EndpointsFromConfig(config.FetchConfig{SearchBase: "http://127.0.0.1:9999"})
	url := e.SearchURL("пальто", 1, DefaultRegion)
	require.Contains(t, url, "http://127.0.0.1:9999/exactmatch/ru/common/v18/search?")
	require.Contains(t, url, "resultset=catalog")
	require.Contains(t, url, "spp=30")
	require.Contains(t, url, "limit=100")

	other := e.SearchURL("пальто", 1, "-59202")
	require.Contains(t, other, "spp=0")
	require.Contains(t, other, "dest=-59202")
}

func TestSuggestURLEncodesQuery(t *testing.T) {
	t.Parallel()

	e := EndpointsFromConfig(config.FetchConfig{})
	url := e.SuggestURL("красное платье", 32)
	require.Contains(t, url, "https://u-suggests.wb.ru/suggests/api/v7/hint?")
	require.Contains(t, url, "appType=32")
	require.NotContains(t, url, " ")
}
