package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/asolovev/wb-collector/internal/collector"
)

// ProxyStore implements collector.ProxyStore on the proxies table.
//
// Schema:
//
//	CREATE TABLE proxies (
//		id               BIGSERIAL PRIMARY KEY,
//		host             TEXT NOT NULL,
//		port             INT NOT NULL,
//		protocol         TEXT NOT NULL DEFAULT 'http',
//		username         TEXT NOT NULL DEFAULT '',
//		password         TEXT NOT NULL DEFAULT '',
//		region_code      TEXT NOT NULL DEFAULT '',
//		active           BOOLEAN NOT NULL DEFAULT TRUE,
//		fail_count       INT NOT NULL DEFAULT 0,
//		use_count        BIGINT NOT NULL DEFAULT 0,
//		last_used        TIMESTAMPTZ NOT NULL DEFAULT to_timestamp(0),
//		response_time_ms BIGINT NOT NULL DEFAULT 0
//	);
type ProxyStore struct {
	pool dbConn
}

// NewProxyStore constructs a ProxyStore from an existing pool or mock.
func NewProxyStore(pool dbConn) (*ProxyStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &ProxyStore{pool: pool}, nil
}

// ListActiveProxies loads every proxy still in rotation.
func (s *ProxyStore) ListActiveProxies(ctx context.Context) ([]collector.Proxy, error) {
	query := `
SELECT id, host, port, protocol, username, password, region_code, active, fail_count, use_count, last_used, response_time_ms
FROM proxies WHERE active ORDER BY last_used ASC`
	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list proxies: %w", err)
	}
	defer rows.Close()

	var out []collector.Proxy
	for rows.Next() {
		var p collector.Proxy
		var responseMs int64
		if err := rows.Scan(
			&p.ID, &p.Host, &p.Port, &p.Protocol, &p.Username, &p.Password,
			&p.RegionCode, &p.Active, &p.FailCount, &p.UseCount, &p.LastUsed, &responseMs,
		); err != nil {
			return nil, fmt.Errorf("scan proxy row: %w", err)
		}
		p.ResponseTime = time.Duration(responseMs) * time.Millisecond
		out = append(out, p)
	}
	return out, rows.Err()
}

// TouchProxy records one use of a proxy.
func (s *ProxyStore) TouchProxy(ctx context.Context, proxyID int64, at time.Time) error {
	query := `UPDATE proxies SET last_used = $2, use_count = use_count + 1 WHERE id = $1`
	if _, err := s.pool.Exec(ctx, query, proxyID, at); err != nil {
		return fmt.Errorf("touch proxy: %w", err)
	}
	return nil
}

// RecordProxyResult persists the health state reported by the pool manager.
func (s *ProxyStore) RecordProxyResult(ctx context.Context, proxyID int64, failCount int, active bool, latency time.Duration) error {
	query := `
UPDATE proxies SET fail_count = $2, active = $3, response_time_ms = $4
WHERE id = $1`
	if _, err := s.pool.Exec(ctx, query, proxyID, failCount, active, latency.Milliseconds()); err != nil {
		return fmt.Errorf("record proxy result: %w", err)
	}
	return nil
}

// IdentityStore implements collector.IdentityStore on the identities table.
//
// Schema:
//
//	CREATE TABLE identities (
//		id              BIGSERIAL PRIMARY KEY,
//		user_agent      TEXT NOT NULL,
//		session         TEXT NOT NULL,
//		app_type        INT NOT NULL DEFAULT 1,
//		client_id       TEXT NOT NULL DEFAULT '',
//		active          BOOLEAN NOT NULL DEFAULT TRUE,
//		last_used       TIMESTAMPTZ NOT NULL DEFAULT to_timestamp(0),
//		use_count       BIGINT NOT NULL DEFAULT 0,
//		disabled_reason TEXT NOT NULL DEFAULT ''
//	);
type IdentityStore struct {
	pool dbConn
}

// NewIdentityStore constructs an IdentityStore from an existing pool or mock.
func NewIdentityStore(pool dbConn) (*IdentityStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &IdentityStore{pool: pool}, nil
}

// ListActiveIdentities loads every identity still in rotation.
func (s *IdentityStore) ListActiveIdentities(ctx context.Context) ([]collector.Identity, error) {
	query := `
SELECT id, user_agent, session, app_type, client_id, active, last_used, use_count
FROM identities WHERE active ORDER BY last_used ASC`
	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list identities: %w", err)
	}
	defer rows.Close()

	var out []collector.Identity
	for rows.Next() {
		var id collector.Identity
		if err := rows.Scan(
			&id.ID, &id.UserAgent, &id.Session, &id.AppType,
			&id.ClientID, &id.Active, &id.LastUsed, &id.UseCount,
		); err != nil {
			return nil, fmt.Errorf("scan identity row: %w", err)
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

// TouchIdentity records one use of an identity.
func (s *IdentityStore) TouchIdentity(ctx context.Context, identityID int64, at time.Time) error {
	query := `UPDATE identities SET last_used = $2, use_count = use_count + 1 WHERE id = $1`
	if _, err := s.pool.Exec(ctx, query, identityID, at); err != nil {
		return fmt.Errorf("touch identity: %w", err)
	}
	return nil
}

// InsertIdentity persists a synthesized identity and returns its id.
func (s *IdentityStore) InsertIdentity(ctx context.Context, identity collector.Identity) (int64, error) {
	query := `
INSERT INTO identities (user_agent, session, app_type, client_id, active, last_used)
VALUES ($1, $2, $3, $4, $5, $6)
RETURNING id`
	var id int64
	err := s.pool.QueryRow(ctx, query,
		identity.UserAgent,
		identity.Session,
		identity.AppType,
		identity.ClientID,
		identity.Active,
		identity.LastUsed,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("insert identity: %w", err)
	}
	return id, nil
}

// DisableIdentity removes an identity from rotation and records why.
func (s *IdentityStore) DisableIdentity(ctx context.Context, identityID int64, reason string) error {
	query := `UPDATE identities SET active = FALSE, disabled_reason = $2 WHERE id = $1`
	if _, err := s.pool.Exec(ctx, query, identityID, reason); err != nil {
		return fmt.Errorf("disable identity: %w", err)
	}
	return nil
}
