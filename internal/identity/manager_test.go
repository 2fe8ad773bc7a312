package identity

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/asolovev/wb-collector/internal/collector"
	"github.com/asolovev/wb-collector/internal/config"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(time.Millisecond)
	return c.now
}

type fakeIdentityStore struct {
	mu         sync.Mutex
	identities []collector.Identity
	inserted   []collector.Identity
	disabled   map[int64]string
	nextID     int64
}

func (s *fakeIdentityStore) ListActiveIdentities(_ context.Context) ([]collector.Identity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]collector.Identity, len(s.identities))
	copy(out, s.identities)
	return out, nil
}

func (s *fakeIdentityStore) TouchIdentity(_ context.Context, _ int64, _ time.Time) error {
	return nil
}

func (s *fakeIdentityStore) InsertIdentity(_ context.Context, id collector.Identity) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	id.ID = s.nextID
	s.inserted = append(s.inserted, id)
	return s.nextID, nil
}

func (s *fakeIdentityStore) DisableIdentity(_ context.Context, identityID int64, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.disabled == nil {
		s.disabled = make(map[int64]string)
	}
	s.disabled[identityID] = reason
	return nil
}

func newTestManager(t *testing.T, store collector.IdentityStore) *Manager {
	t.Helper()
	clock := &fakeClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
	return New(store, clock, zap.NewNop(), config.IdentityConfig{RefreshSeconds: 300})
}

func TestGetPicksLeastRecentlyUsed(t *testing.T) {
	t.Parallel()

	base := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	store := &fakeIdentityStore{identities: []collector.Identity{
		{ID: 1, UserAgent: "ua-1", Active: true, LastUsed: base.Add(2 * time.Minute)},
		{ID: 2, UserAgent: "ua-2", Active: true, LastUsed: base.Add(time.Minute)},
	}}
	m := newTestManager(t, store)
	require.NoError(t, m.Load(context.Background()))

	first, err := m.Get(context.Background())
	require.NoError(t, err)
	require.Equal(t, int64(2), first.ID)

	second, err := m.Get(context.Background())
	require.NoError(t, err)
	require.Equal(t, int64(1), second.ID)
}

func TestGetSynthesizesWhenEmpty(t *testing.T) {
	t.Parallel()

	store := &fakeIdentityStore{}
	m := newTestManager(t, store)
	require.NoError(t, m.Load(context.Background()))

	id, err := m.Get(context.Background())
	require.NoError(t, err)
	require.NotEmpty(t, id.UserAgent)
	require.Len(t, id.Session, 32)
	require.True(t, id.Active)

	store.mu.Lock()
	defer store.mu.Unlock()
	require.Len(t, store.inserted, 1)
	require.Equal(t, id.UserAgent, store.inserted[0].UserAgent)
}

func TestSynthesizedIdentityStaysInRotation(t *testing.T) {
	t.Parallel()

	store := &fakeIdentityStore{}
	m := newTestManager(t, store)
	require.NoError(t, m.Load(context.Background()))

	first, err := m.Get(context.Background())
	require.NoError(t, err)

	// The second Get reuses the synthesized identity instead of minting
	// another one.
	second, err := m.Get(context.Background())
	require.NoError(t, err)
	require.Equal(t, first.UserAgent, second.UserAgent)
	require.Equal(t, first.Session, second.Session)

	store.mu.Lock()
	defer store.mu.Unlock()
	require.Len(t, store.inserted, 1)
}

func TestDisableRemovesFromRotation(t *testing.T) {
	t.Parallel()

	base := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	store := &fakeIdentityStore{identities: []collector.Identity{
		{ID: 1, UserAgent: "ua-1", Active: true, LastUsed: base},
		{ID: 2, UserAgent: "ua-2", Active: true, LastUsed: base.Add(time.Minute)},
	}}
	m := newTestManager(t, store)
	require.NoError(t, m.Load(context.Background()))

	m.Disable(context.Background(), 1, "blocked_by_upstream")
	require.Equal(t, 1, m.ActiveCount())

	id, err := m.Get(context.Background())
	require.NoError(t, err)
	require.Equal(t, int64(2), id.ID)

	store.mu.Lock()
	defer store.mu.Unlock()
	require.Equal(t, "blocked_by_upstream", store.disabled[1])
}
