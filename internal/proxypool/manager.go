// Package proxypool manages the rotating pool of outbound proxies.
//
// The pool is a periodically refreshed in-memory snapshot of the active
// proxy rows. Selection is least-recently-used so load spreads evenly, and
// repeated failures disable a proxy until an operator re-enables it.
package proxypool

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/asolovev/wb-collector/internal/collector"
	"github.com/asolovev/wb-collector/internal/config"
	"github.com/asolovev/wb-collector/internal/metrics"
)

// ErrNoProxies is returned by Get when no active proxy is available.
var ErrNoProxies = errors.New("no active proxies available")

// canaryURL is probed by Check to validate proxy connectivity.
const canaryURL = "https://www.wildberries.ru/"

// Manager holds the live proxy snapshot and rotation state.
type Manager struct {
	store         collector.ProxyStore
	clock         collector.Clock
	logger        *zap.Logger
	failThreshold int
	refreshEvery  time.Duration

	mu      sync.Mutex
	proxies map[int64]*collector.Proxy
}

// New builds a Manager. Call Load before serving traffic.
func New(store collector.ProxyStore, clock collector.Clock, logger *zap.Logger, cfg config.ProxyConfig) *Manager {
	return &Manager{
		store:         store,
		clock:         clock,
		logger:        logger.Named("proxypool"),
		failThreshold: cfg.FailThreshold,
		refreshEvery:  cfg.RefreshInterval(),
		proxies:       make(map[int64]*collector.Proxy),
	}
}

// Load replaces the in-memory snapshot with the store's active proxies.
// Rotation state accumulated since the last refresh is kept for proxies
// that survive the reload.
func (m *Manager) Load(ctx context.Context) error {
	active, err := m.store.ListActiveProxies(ctx)
	if err != nil {
		return collector.Infra("proxy list", err)
	}

	m.mu.Lock()
	next := make(map[int64]*collector.Proxy, len(active))
	for i := range active {
		p := active[i]
		if prev, ok := m.proxies[p.ID]; ok {
			p.LastUsed = prev.LastUsed
			p.UseCount = prev.UseCount
			p.FailCount = prev.FailCount
			p.Active = prev.Active
		}
		next[p.ID] = &p
	}
	m.proxies = next
	n := m.activeCountLocked()
	m.mu.Unlock()

	metrics.SetProxyPoolActive(n)
	m.logger.Info("proxy pool refreshed", zap.Int("total", len(active)), zap.Int("active", n))
	return nil
}

// Run refreshes the snapshot on a fixed interval until the context ends.
func (m *Manager) Run(ctx context.Context) {
	ticker := time.NewTicker(m.refreshEvery)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := m.Load(ctx); err != nil {
				m.logger.Warn("proxy pool refresh failed", zap.Error(err))
			}
		}
	}
}

// Get returns the least-recently-used active proxy and marks it used.
func (m *Manager) Get(ctx context.Context) (collector.Proxy, error) {
	now := m.clock.Now()

	m.mu.Lock()
	var pick *collector.Proxy
	for _, p := range m.proxies {
		if !p.Active {
			continue
		}
		if pick == nil || p.LastUsed.Before(pick.LastUsed) {
			pick = p
		}
	}
	if pick == nil {
		m.mu.Unlock()
		return collector.Proxy{}, ErrNoProxies
	}
	pick.LastUsed = now
	pick.UseCount++
	out := *pick
	m.mu.Unlock()

	if err := m.store.TouchProxy(ctx, out.ID, now); err != nil {
		m.logger.Warn("proxy touch failed", zap.Int64("proxy_id", out.ID), zap.Error(err))
	}
	return out, nil
}

// ReportResult records the outcome of one request made through a proxy.
// A success resets the failure streak; a failure increments it and disables
// the proxy once the streak reaches the configured threshold.
func (m *Manager) ReportResult(ctx context.Context, proxyID int64, success bool, latency time.Duration) {
	m.mu.Lock()
	p, ok := m.proxies[proxyID]
	if !ok {
		m.mu.Unlock()
		return
	}
	if success {
		p.FailCount = 0
		p.ResponseTime = latency
	} else {
		p.FailCount++
		if p.FailCount >= m.failThreshold && p.Active {
			p.Active = false
			m.logger.Warn("proxy disabled after repeated failures",
				zap.Int64("proxy_id", proxyID),
				zap.Int("fail_count", p.FailCount))
		}
	}
	failCount := p.FailCount
	activeFlag := p.Active
	n := m.activeCountLocked()
	m.mu.Unlock()

	metrics.SetProxyPoolActive(n)
	if err := m.store.RecordProxyResult(ctx, proxyID, failCount, activeFlag, latency); err != nil {
		m.logger.Warn("proxy result persist failed", zap.Int64("proxy_id", proxyID), zap.Error(err))
	}
}

// Check probes every active proxy against a known-good endpoint and feeds
// the outcomes back through ReportResult. It is used at startup and by the
// refresh loop of deployments that want eager validation.
func (m *Manager) Check(ctx context.Context, fetcher collector.Fetcher) {
	m.mu.Lock()
	candidates := make([]collector.Proxy, 0, len(m.proxies))
	for _, p := range m.proxies {
		if p.Active {
			candidates = append(candidates, *p)
		}
	}
	m.mu.Unlock()

	for _, p := range candidates {
		resp, err := fetcher.Fetch(ctx, collector.FetchRequest{
			URL:      canaryURL,
			ProxyURL: p.URL(),
			Timeout:  10 * time.Second,
		})
		ok := err == nil && resp.StatusCode >= 200 && resp.StatusCode < 400
		m.ReportResult(ctx, p.ID, ok, resp.Duration)
		if ctx.Err() != nil {
			return
		}
	}
}

// ActiveCount reports how many proxies are currently usable.
func (m *Manager) ActiveCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.activeCountLocked()
}

func (m *Manager) activeCountLocked() int {
	n := 0
	for _, p := range m.proxies {
		if p.Active {
			n++
		}
	}
	return n
}
