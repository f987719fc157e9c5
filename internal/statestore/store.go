// Package statestore implements the local embedded State Store: durable
// per-publisher cursors plus two 24h TTL caches (spec.md §4.A). It is
// backed by modernc.org/sqlite (pure Go, cgo-free) so the module builds
// the same way regardless of target platform, matching the spec's
// "embedded SQL engine's native file" requirement without requiring a C
// toolchain — something none of the teacher's Postgres-backed services
// needed to consider, since they always talk to an external database.
package statestore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

// TTL is the cache lifetime for both the identity and service caches.
const TTL = 24 * time.Hour

// Store is safe for concurrent use; per §5 a single mutex around the
// handle is sufficient since the model is effectively single-writer.
type Store struct {
	mu sync.Mutex
	db *sql.DB
}

// IdentityEntry is a cached IdentityCache row.
type IdentityEntry struct {
	SigningKey      string
	ServiceEndpoint string
	CachedAt        time.Time
}

// ServiceEntry is a cached ServiceCache row.
type ServiceEntry struct {
	DeclaredValues []string
	CachedAt       time.Time
}

// Open opens (creating if necessary) the sqlite file at path and ensures
// the schema described in spec.md §3 exists.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open state store %s: %w", path, err)
	}
	// A file-backed sqlite connection pool with concurrent writers
	// deadlocks under SQLITE_BUSY; §5 already asks for a single logical
	// writer, so pin the pool to one connection rather than relying on
	// busy-timeout retries.
	db.SetMaxOpenConns(1)

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS cursors (
			did TEXT PRIMARY KEY,
			seq INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS identity_cache (
			did TEXT PRIMARY KEY,
			signing_key TEXT NOT NULL,
			service_endpoint TEXT NOT NULL,
			cached_at INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS service_cache (
			did TEXT PRIMARY KEY,
			declared_values TEXT NOT NULL,
			cached_at INTEGER NOT NULL
		)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("migrate state store: %w", err)
		}
	}
	return nil
}

// Close closes the underlying sqlite handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// GetCursor returns the last persisted sequence for did. A missing row
// means "start from 0, full replay" per spec.md §3.
func (s *Store) GetCursor(ctx context.Context, did string) (int64, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var seq int64
	err := s.db.QueryRowContext(ctx, `SELECT seq FROM cursors WHERE did = ?`, did).Scan(&seq)
	switch {
	case err == sql.ErrNoRows:
		return 0, false, nil
	case err != nil:
		return 0, false, fmt.Errorf("get cursor for %s: %w", did, err)
	}
	return seq, true, nil
}

// SetCursor upserts the cursor for did. Callers are responsible for only
// ever increasing seq within a run (spec.md §3 invariant); the store does
// not itself enforce monotonicity so that a deliberate reset is possible.
func (s *Store) SetCursor(ctx context.Context, did string, seq int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO cursors (did, seq) VALUES (?, ?)
		ON CONFLICT(did) DO UPDATE SET seq = excluded.seq
	`, did, seq)
	if err != nil {
		return fmt.Errorf("set cursor for %s: %w", did, err)
	}
	return nil
}

// GetIdentity returns the cached identity for did, deleting and reporting
// a miss if the entry is older than TTL (spec.md §4.A).
func (s *Store) GetIdentity(ctx context.Context, did string) (IdentityEntry, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var key, endpoint string
	var cachedAtUnix int64
	err := s.db.QueryRowContext(ctx,
		`SELECT signing_key, service_endpoint, cached_at FROM identity_cache WHERE did = ?`, did,
	).Scan(&key, &endpoint, &cachedAtUnix)
	switch {
	case err == sql.ErrNoRows:
		return IdentityEntry{}, false, nil
	case err != nil:
		return IdentityEntry{}, false, fmt.Errorf("get identity cache for %s: %w", did, err)
	}

	cachedAt := time.Unix(cachedAtUnix, 0)
	if time.Since(cachedAt) > TTL {
		if _, err := s.db.ExecContext(ctx, `DELETE FROM identity_cache WHERE did = ?`, did); err != nil {
			return IdentityEntry{}, false, fmt.Errorf("evict identity cache for %s: %w", did, err)
		}
		return IdentityEntry{}, false, nil
	}

	return IdentityEntry{SigningKey: key, ServiceEndpoint: endpoint, CachedAt: cachedAt}, true, nil
}

// SetIdentity upserts the identity cache entry for did with cachedAt = now.
func (s *Store) SetIdentity(ctx context.Context, did, signingKey, serviceEndpoint string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO identity_cache (did, signing_key, service_endpoint, cached_at) VALUES (?, ?, ?, ?)
		ON CONFLICT(did) DO UPDATE SET signing_key = excluded.signing_key,
			service_endpoint = excluded.service_endpoint, cached_at = excluded.cached_at
	`, did, signingKey, serviceEndpoint, time.Now().Unix())
	if err != nil {
		return fmt.Errorf("set identity cache for %s: %w", did, err)
	}
	return nil
}

// GetService returns the cached declared values for did, deleting and
// reporting a miss if older than TTL, or if force-expired (cached_at = 0)
// by the Change Watcher.
func (s *Store) GetService(ctx context.Context, did string) (ServiceEntry, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var valuesJSON string
	var cachedAtUnix int64
	err := s.db.QueryRowContext(ctx,
		`SELECT declared_values, cached_at FROM service_cache WHERE did = ?`, did,
	).Scan(&valuesJSON, &cachedAtUnix)
	switch {
	case err == sql.ErrNoRows:
		return ServiceEntry{}, false, nil
	case err != nil:
		return ServiceEntry{}, false, fmt.Errorf("get service cache for %s: %w", did, err)
	}

	if cachedAtUnix == 0 {
		// Force-expired by the Change Watcher (spec.md §9: "Force-expiry sentinel").
		if _, err := s.db.ExecContext(ctx, `DELETE FROM service_cache WHERE did = ?`, did); err != nil {
			return ServiceEntry{}, false, fmt.Errorf("evict invalidated service cache for %s: %w", did, err)
		}
		return ServiceEntry{}, false, nil
	}

	cachedAt := time.Unix(cachedAtUnix, 0)
	if time.Since(cachedAt) > TTL {
		if _, err := s.db.ExecContext(ctx, `DELETE FROM service_cache WHERE did = ?`, did); err != nil {
			return ServiceEntry{}, false, fmt.Errorf("evict service cache for %s: %w", did, err)
		}
		return ServiceEntry{}, false, nil
	}

	var values []string
	if err := json.Unmarshal([]byte(valuesJSON), &values); err != nil {
		return ServiceEntry{}, false, fmt.Errorf("decode declared values for %s: %w", did, err)
	}

	return ServiceEntry{DeclaredValues: values, CachedAt: cachedAt}, true, nil
}

// SetService upserts the service cache entry for did with cachedAt = now.
func (s *Store) SetService(ctx context.Context, did string, declaredValues []string) error {
	valuesJSON, err := json.Marshal(declaredValues)
	if err != nil {
		return fmt.Errorf("encode declared values for %s: %w", did, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO service_cache (did, declared_values, cached_at) VALUES (?, ?, ?)
		ON CONFLICT(did) DO UPDATE SET declared_values = excluded.declared_values, cached_at = excluded.cached_at
	`, did, string(valuesJSON), time.Now().Unix())
	if err != nil {
		return fmt.Errorf("set service cache for %s: %w", did, err)
	}
	return nil
}

// InvalidateService force-expires the service cache entry for did if one
// exists, per spec.md §4.H: "if an entry exists, rewrite it with an empty
// declaredValues list and cachedAt = 0".
func (s *Store) InvalidateService(ctx context.Context, did string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, `
		UPDATE service_cache SET declared_values = '[]', cached_at = 0 WHERE did = ?
	`, did)
	if err != nil {
		return fmt.Errorf("invalidate service cache for %s: %w", did, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil // no entry to invalidate; next fetch will populate it fresh
	}
	return nil
}
