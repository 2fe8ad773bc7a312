package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/asolovev/wb-collector/internal/collector"
)

// ProxyStore implements collector.ProxyStore in memory. It is seeded once
// at startup, typically from configuration or a fixture file.
type ProxyStore struct {
	mu      sync.RWMutex
	proxies map[int64]collector.Proxy
	nextID  int64
}

// NewProxyStore builds a ProxyStore seeded with the given proxies.
// Entries without an id are assigned one.
func NewProxyStore(seed []collector.Proxy) *ProxyStore {
	s := &ProxyStore{proxies: make(map[int64]collector.Proxy, len(seed))}
	for _, p := range seed {
		if p.ID == 0 {
			s.nextID++
			p.ID = s.nextID
		} else if p.ID > s.nextID {
			s.nextID = p.ID
		}
		s.proxies[p.ID] = p
	}
	return s
}

// ListActiveProxies returns every proxy still in rotation.
func (s *ProxyStore) ListActiveProxies(_ context.Context) ([]collector.Proxy, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]collector.Proxy, 0, len(s.proxies))
	for _, p := range s.proxies {
		if p.Active {
			out = append(out, p)
		}
	}
	return out, nil
}

// TouchProxy updates the last-used timestamp and use counter.
func (s *ProxyStore) TouchProxy(_ context.Context, proxyID int64, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.proxies[proxyID]
	if !ok {
		return fmt.Errorf("proxy %d not found", proxyID)
	}
	p.LastUsed = at
	p.UseCount++
	s.proxies[proxyID] = p
	return nil
}

// RecordProxyResult persists the health state reported by the pool manager.
func (s *ProxyStore) RecordProxyResult(_ context.Context, proxyID int64, failCount int, active bool, latency time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.proxies[proxyID]
	if !ok {
		return fmt.Errorf("proxy %d not found", proxyID)
	}
	p.FailCount = failCount
	p.Active = active
	if latency > 0 {
		p.ResponseTime = latency
	}
	s.proxies[proxyID] = p
	return nil
}

// IdentityStore implements collector.IdentityStore in memory.
type IdentityStore struct {
	mu         sync.RWMutex
	identities map[int64]collector.Identity
	nextID     int64
}

// NewIdentityStore builds an empty IdentityStore.
func NewIdentityStore() *IdentityStore {
	return &IdentityStore{identities: make(map[int64]collector.Identity)}
}

// ListActiveIdentities returns every identity still in rotation.
func (s *IdentityStore) ListActiveIdentities(_ context.Context) ([]collector.Identity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]collector.Identity, 0, len(s.identities))
	for _, id := range s.identities {
		if id.Active {
			out = append(out, id)
		}
	}
	return out, nil
}

// TouchIdentity updates the last-used timestamp and use counter.
func (s *IdentityStore) TouchIdentity(_ context.Context, identityID int64, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.identities[identityID]
	if !ok {
		return fmt.Errorf("identity %d not found", identityID)
	}
	id.LastUsed = at
	id.UseCount++
	s.identities[identityID] = id
	return nil
}

// InsertIdentity stores a synthesized identity and returns its assigned id.
func (s *IdentityStore) InsertIdentity(_ context.Context, identity collector.Identity) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	identity.ID = s.nextID
	s.identities[identity.ID] = identity
	return identity.ID, nil
}

// DisableIdentity removes an identity from rotation.
func (s *IdentityStore) DisableIdentity(_ context.Context, identityID int64, _ string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.identities[identityID]
	if !ok {
		return fmt.Errorf("identity %d not found", identityID)
	}
	id.Active = false
	s.identities[identityID] = id
	return nil
}
