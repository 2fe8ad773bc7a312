// Package identity manages the rotating pool of synthetic browser profiles.
//
// Selection is least-recently-used, matching the proxy pool. Unlike proxies,
// an empty pool is not an error: the manager synthesizes a fresh profile,
// persists it, and serves it, so a cold database never blocks dispatch.
package identity

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/asolovev/wb-collector/internal/collector"
	"github.com/asolovev/wb-collector/internal/config"
	"github.com/asolovev/wb-collector/internal/metrics"
)

// profile is a template for synthesized identities.
type profile struct {
	userAgent string
	appType   int
}

// profiles holds user agents of current mainstream browsers. The app type
// mirrors the client platform the catalog expects for that agent.
var profiles = []profile{
	{"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36", 1},
	{"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36", 1},
	{"Mozilla/5.0 (Windows NT 10.0; Win64; x64; rv:125.0) Gecko/20100101 Firefox/125.0", 1},
	{"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.4 Safari/605.1.15", 1},
	{"Mozilla/5.0 (Linux; Android 14; Pixel 8) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Mobile Safari/537.36", 32},
}

// Manager holds the live identity snapshot and rotation state.
type Manager struct {
	store        collector.IdentityStore
	clock        collector.Clock
	logger       *zap.Logger
	refreshEvery time.Duration

	mu         sync.Mutex
	identities map[int64]*collector.Identity
	synthSeq   int
}

// New builds a Manager. Call Load before serving traffic.
func New(store collector.IdentityStore, clock collector.Clock, logger *zap.Logger, cfg config.IdentityConfig) *Manager {
	return &Manager{
		store:        store,
		clock:        clock,
		logger:       logger.Named("identity"),
		refreshEvery: cfg.RefreshInterval(),
		identities:   make(map[int64]*collector.Identity),
	}
}

// Load replaces the in-memory snapshot with the store's active identities.
func (m *Manager) Load(ctx context.Context) error {
	active, err := m.store.ListActiveIdentities(ctx)
	if err != nil {
		return collector.Infra("identity list", err)
	}

	m.mu.Lock()
	next := make(map[int64]*collector.Identity, len(active))
	for i := range active {
		id := active[i]
		if prev, ok := m.identities[id.ID]; ok {
			id.LastUsed = prev.LastUsed
			id.UseCount = prev.UseCount
			id.Active = prev.Active
		}
		next[id.ID] = &id
	}
	m.identities = next
	n := m.activeCountLocked()
	m.mu.Unlock()

	metrics.SetIdentityPoolActive(n)
	m.logger.Info("identity pool refreshed", zap.Int("total", len(active)), zap.Int("active", n))
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
				m.logger.Warn("identity pool refresh failed", zap.Error(err))
			}
		}
	}
}

// Get returns the least-recently-used active identity, synthesizing a new
// one when the pool is empty.
func (m *Manager) Get(ctx context.Context) (collector.Identity, error) {
	now := m.clock.Now()

	m.mu.Lock()
	var pick *collector.Identity
	for _, id := range m.identities {
		if !id.Active {
			continue
		}
		if pick == nil || id.LastUsed.Before(pick.LastUsed) {
			pick = id
		}
	}
	if pick == nil {
		fresh, err := m.synthesizeLocked(now)
		if err != nil {
			m.mu.Unlock()
			return collector.Identity{}, err
		}
		pick = fresh
	}
	pick.LastUsed = now
	pick.UseCount++
	out := *pick
	m.mu.Unlock()

	if out.ID > 0 {
		if err := m.store.TouchIdentity(ctx, out.ID, now); err != nil {
			m.logger.Warn("identity touch failed", zap.Int64("identity_id", out.ID), zap.Error(err))
		}
	} else {
		m.persist(ctx, out)
	}
	return out, nil
}

// synthesizeLocked creates a fresh identity from a rotating profile template.
// The caller must hold m.mu; persistence happens after the lock is released.
func (m *Manager) synthesizeLocked(now time.Time) (*collector.Identity, error) {
	p := profiles[m.synthSeq%len(profiles)]
	m.synthSeq++

	session, err := randomHex(16)
	if err != nil {
		return nil, collector.Infra("identity synthesize", err)
	}
	clientID, err := randomHex(8)
	if err != nil {
		return nil, collector.Infra("identity synthesize", err)
	}

	id := &collector.Identity{
		ID:        -int64(m.synthSeq),
		UserAgent: p.userAgent,
		Session:   session,
		AppType:   p.appType,
		ClientID:  clientID,
		Active:    true,
		LastUsed:  now,
	}
	m.identities[id.ID] = id
	m.logger.Info("identity synthesized", zap.Int("app_type", id.AppType))
	return id, nil
}

// persist writes a synthesized identity and swaps its placeholder key for
// the store-assigned one.
func (m *Manager) persist(ctx context.Context, id collector.Identity) {
	placeholder := id.ID
	storeID, err := m.store.InsertIdentity(ctx, id)
	if err != nil {
		m.logger.Warn("identity persist failed", zap.Error(err))
		return
	}
	m.mu.Lock()
	if cur, ok := m.identities[placeholder]; ok {
		delete(m.identities, placeholder)
		cur.ID = storeID
		m.identities[storeID] = cur
	}
	m.mu.Unlock()
}

// Disable removes an identity from rotation and records why.
func (m *Manager) Disable(ctx context.Context, identityID int64, reason string) {
	m.mu.Lock()
	if id, ok := m.identities[identityID]; ok {
		id.Active = false
	}
	n := m.activeCountLocked()
	m.mu.Unlock()

	metrics.SetIdentityPoolActive(n)
	m.logger.Warn("identity disabled", zap.Int64("identity_id", identityID), zap.String("reason", reason))
	if identityID > 0 {
		if err := m.store.DisableIdentity(ctx, identityID, reason); err != nil {
			m.logger.Warn("identity disable persist failed", zap.Int64("identity_id", identityID), zap.Error(err))
		}
	}
}

// ActiveCount reports how many identities are currently in rotation.
func (m *Manager) ActiveCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.activeCountLocked()
}

func (m *Manager) activeCountLocked() int {
	n := 0
	for _, id := range m.identities {
		if id.Active {
			n++
		}
	}
	return n
}

func randomHex(n int) (string, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("read random bytes: %w", err)
	}
	return hex.EncodeToString(buf), nil
}
