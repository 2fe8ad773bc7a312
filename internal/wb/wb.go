// Package wb implements the five Wildberries catalog query handlers.
//
// Every handler follows the same shape: validate the inbound value, consult
// the TTL cache, fetch through a rotated proxy and identity, classify the
// outcome by the handler's failure policy, then cache and persist. They
// differ only in URL, parse step, and policy.
package wb

import (
	"context"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/asolovev/wb-collector/internal/cache"
	"github.com/asolovev/wb-collector/internal/collector"
	"github.com/asolovev/wb-collector/internal/metrics"
)

// Per-handler fetch timeouts, tuned to each upstream's typical latency.
const (
	suggestTimeout = 8 * time.Second
	searchTimeout  = 12 * time.Second
	productTimeout = 15 * time.Second
	brandTimeout   = 10 * time.Second
	sellerTimeout  = 15 * time.Second
)

// upsertTimeout bounds the detached persistence write that follows a
// successful fetch.
const upsertTimeout = 10 * time.Second

// ProxyPool hands out proxies and receives request outcomes.
type ProxyPool interface {
	Get(ctx context.Context) (collector.Proxy, error)
	ReportResult(ctx context.Context, proxyID int64, success bool, latency time.Duration)
}

// IdentityPool hands out synthetic browser identities.
type IdentityPool interface {
	Get(ctx context.Context) (collector.Identity, error)
}

// Deps carries everything a handler needs. Catalog may be nil when
// persistence is disabled.
type Deps struct {
	Fetcher    collector.Fetcher
	Proxies    ProxyPool
	Identities IdentityPool
	Cache      *cache.Cache
	Catalog    collector.CatalogStore
	Endpoints  Endpoints
	Logger     *zap.Logger
}

// FailurePolicy names how a handler treats upstream trouble. Soft handlers
// answer with an empty shape, hard handlers return the error, degraded
// handlers answer with a placeholder record carrying the failure marker.
type FailurePolicy string

// The three failure policies in use across the handler set.
const (
	PolicySoft     FailurePolicy = "soft"
	PolicyHard     FailurePolicy = "hard"
	PolicyDegraded FailurePolicy = "degraded"
)

// base provides the shared fetch and persistence plumbing.
type base struct {
	deps   Deps
	kind   collector.QueryKind
	policy FailurePolicy
}

func newBase(deps Deps, kind collector.QueryKind, policy FailurePolicy) base {
	return base{deps: deps, kind: kind, policy: policy}
}

// Policy exposes the handler's failure policy.
func (b *base) Policy() FailurePolicy {
	return b.policy
}

func (b *base) logger() *zap.Logger {
	return b.deps.Logger.Named(string(b.kind)).With(zap.String("policy", string(b.policy)))
}

// fetch performs one proxied catalog call. Proxy exhaustion is tolerated:
// the request then egresses directly with the identity headers alone, which
// mirrors what a degraded pool should do rather than failing the task.
func (b *base) fetch(ctx context.Context, requestID string, buildURL func(id collector.Identity, region string) string, html bool) (collector.FetchResponse, error) {
	id, err := b.deps.Identities.Get(ctx)
	if err != nil {
		return collector.FetchResponse{}, collector.Infra("identity acquire", err)
	}

	var proxyPtr *collector.Proxy
	proxy, err := b.deps.Proxies.Get(ctx)
	switch {
	case err == nil:
		proxyPtr = &proxy
	case collector.IsInfra(err):
		return collector.FetchResponse{}, err
	default:
		b.logger().Warn("no proxy available, fetching directly", zap.String("request_id", requestID))
	}

	headers := BuildHeaders(id, proxyPtr)
	if html {
		headers = asHTMLRequest(headers)
	}

	req := collector.FetchRequest{
		URL:     buildURL(id, headers.Get("X-Region")),
		Headers: headers,
		Timeout: b.timeout(),
	}
	if proxyPtr != nil {
		req.ProxyURL = proxyPtr.URL()
	}

	resp, err := b.deps.Fetcher.Fetch(ctx, req)
	if proxyPtr != nil {
		b.deps.Proxies.ReportResult(ctx, proxyPtr.ID, err == nil, resp.Duration)
	}
	metrics.ObserveFetch(string(b.kind), strconv.Itoa(resp.StatusCode), resp.Duration)
	return resp, err
}

func (b *base) timeout() time.Duration {
	switch b.kind {
	case collector.KindSuggest:
		return suggestTimeout
	case collector.KindSearch:
		return searchTimeout
	case collector.KindProduct:
		return productTimeout
	case collector.KindBrand:
		return brandTimeout
	default:
		return sellerTimeout
	}
}

// cached wraps a cache hit in the result envelope.
func (b *base) cached(requestID, key string) (collector.Result, bool) {
	data, ok := b.deps.Cache.Get(b.kind, key)
	if !ok {
		return collector.Result{}, false
	}
	return b.result(requestID, data), true
}

func (b *base) result(requestID string, data any) collector.Result {
	return collector.Result{RequestID: requestID, Type: b.kind, Data: data}
}

// persist runs a catalog write detached from the request. Failures are
// logged and counted, never propagated.
func (b *base) persist(ctx context.Context, requestID, entity string, write func(ctx context.Context) error) {
	if b.deps.Catalog == nil {
		return
	}
	log := b.logger()
	go func() {
		wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), upsertTimeout)
		defer cancel()
		if err := write(wctx); err != nil {
			metrics.ObserveUpsertFailure(entity)
			log.Warn("catalog upsert failed",
				zap.String("request_id", requestID),
				zap.String("entity", entity),
				zap.Error(err))
		}
	}()
}

func ok2xx(resp collector.FetchResponse) bool {
	return resp.StatusCode >= 200 && resp.StatusCode < 300
}
