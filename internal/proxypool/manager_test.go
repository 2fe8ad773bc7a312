package proxypool

import (
	"context"
	"errors"
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

type fakeProxyStore struct {
	mu      sync.Mutex
	proxies []collector.Proxy
	touched []int64
	listErr error
}

func (s *fakeProxyStore) ListActiveProxies(_ context.Context) ([]collector.Proxy, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listErr != nil {
		return nil, s.listErr
	}
	out := make([]collector.Proxy, len(s.proxies))
	copy(out, s.proxies)
	return out, nil
}

func (s *fakeProxyStore) TouchProxy(_ context.Context, proxyID int64, _ time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.touched = append(s.touched, proxyID)
	return nil
}

func (s *fakeProxyStore) RecordProxyResult(_ context.Context, _ int64, _ int, _ bool, _ time.Duration) error {
	return nil
}

func testProxies() []collector.Proxy {
	base := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	return []collector.Proxy{
		{ID: 1, Host: "10.0.0.1", Port: 8080, Protocol: "http", Active: true, LastUsed: base.Add(3 * time.Minute)},
		{ID: 2, Host: "10.0.0.2", Port: 8080, Protocol: "http", Active: true, LastUsed: base.Add(time.Minute)},
		{ID: 3, Host: "10.0.0.3", Port: 8080, Protocol: "http", Active: true, LastUsed: base.Add(2 * time.Minute)},
	}
}

func newTestManager(t *testing.T, store collector.ProxyStore) *Manager {
	t.Helper()
	clock := &fakeClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
	cfg := config.ProxyConfig{RefreshSeconds: 300, FailThreshold: 5}
	return New(store, clock, zap.NewNop(), cfg)
}

func TestGetPicksLeastRecentlyUsed(t *testing.T) {
	t.Parallel()

	store := &fakeProxyStore{proxies: testProxies()}
	m := newTestManager(t, store)
	require.NoError(t, m.Load(context.Background()))

	first, err := m.Get(context.Background())
	require.NoError(t, err)
	require.Equal(t, int64(2), first.ID)

	second, err := m.Get(context.Background())
	require.NoError(t, err)
	require.Equal(t, int64(3), second.ID)

	third, err := m.Get(context.Background())
	require.NoError(t, err)
	require.Equal(t, int64(1), third.ID)

	// The pool wraps around once every proxy has been handed out.
	fourth, err := m.Get(context.Background())
	require.NoError(t, err)
	require.Equal(t, int64(2), fourth.ID)

	store.mu.Lock()
	defer store.mu.Unlock()
	require.Equal(t, []int64{2, 3, 1, 2}, store.touched)
}

func TestGetEmptyPool(t *testing.T) {
	t.Parallel()

	store := &fakeProxyStore{}
	m := newTestManager(t, store)
	require.NoError(t, m.Load(context.Background()))

	_, err := m.Get(context.Background())
	require.ErrorIs(t, err, ErrNoProxies)
}

func TestReportResultDisablesAtThreshold(t *testing.T) {
	t.Parallel()

	store := &fakeProxyStore{proxies: testProxies()[:1]}
	m := newTestManager(t, store)
	require.NoError(t, m.Load(context.Background()))

	for i := 0; i < 4; i++ {
		m.ReportResult(context.Background(), 1, false, 0)
		require.Equal(t, 1, m.ActiveCount())
	}

	m.ReportResult(context.Background(), 1, false, 0)
	require.Equal(t, 0, m.ActiveCount())

	_, err := m.Get(context.Background())
	require.ErrorIs(t, err, ErrNoProxies)

	// A disabled proxy stays disabled even if later requests succeed.
	m.ReportResult(context.Background(), 1, true, 50*time.Millisecond)
	_, err = m.Get(context.Background())
	require.ErrorIs(t, err, ErrNoProxies)
}

func TestReportResultSuccessResetsStreak(t *testing.T) {
	t.Parallel()

	store := &fakeProxyStore{proxies: testProxies()[:1]}
	m := newTestManager(t, store)
	require.NoError(t, m.Load(context.Background()))

	for i := 0; i < 4; i++ {
		m.ReportResult(context.Background(), 1, false, 0)
	}
	m.ReportResult(context.Background(), 1, true, 120*time.Millisecond)
	for i := 0; i < 4; i++ {
		m.ReportResult(context.Background(), 1, false, 0)
	}

	require.Equal(t, 1, m.ActiveCount())
}

func TestLoadKeepsRotationState(t *testing.T) {
	t.Parallel()

	store := &fakeProxyStore{proxies: testProxies()}
	m := newTestManager(t, store)
	require.NoError(t, m.Load(context.Background()))

	picked, err := m.Get(context.Background())
	require.NoError(t, err)
	require.Equal(t, int64(2), picked.ID)

	require.NoError(t, m.Load(context.Background()))

	// Proxy 2 was just used, so the reloaded pool must not serve it first.
	next, err := m.Get(context.Background())
	require.NoError(t, err)
	require.Equal(t, int64(3), next.ID)
}

func TestLoadStoreError(t *testing.T) {
	t.Parallel()

	store := &fakeProxyStore{listErr: errors.New("connection refused")}
	m := newTestManager(t, store)

	err := m.Load(context.Background())
	require.Error(t, err)
	require.True(t, collector.IsInfra(err))
}
