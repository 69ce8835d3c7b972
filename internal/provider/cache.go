package provider

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/franz/music-curator/internal/metrics"
	"github.com/franz/music-curator/internal/util"

	_ "modernc.org/sqlite" // SQLite driver
)

// CacheSchemaVersion changes whenever the cache table layout or the key
// format changes. Bumping it participates in every cache key, so stale
// entries simply stop matching; a table-layout change purges outright.
const CacheSchemaVersion = 1

// Cache namespaces. Provider responses are partitioned from directory
// decisions and canonical-name mappings.
const (
	NSRelease   = "release"
	NSDecision  = "decision"
	NSCanonical = "canonical"
)

// Cache is a namespaced key/value cache in its own SQLite file.
// Cache content is disposable: a schema version mismatch purges and
// recreates rather than migrating.
type Cache struct {
	db     *sql.DB
	mu     sync.Mutex
	limits map[string]int // per-namespace entry limits, 0 = unlimited
}

// OpenCache opens or creates the cache database at path
func OpenCache(path string) (*Cache, error) {
	// Plain path, not a file: URI. URI parsing would treat '#' and '?' in
	// the path as fragment and query separators and silently open a
	// different file.
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open cache database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to apply %s: %w", pragma, err)
		}
	}

	c := &Cache{db: db, limits: make(map[string]int)}
	if err := c.ensureSchema(); err != nil {
		db.Close()
		return nil, err
	}
	return c, nil
}

// Close closes the cache database
func (c *Cache) Close() error {
	return c.db.Close()
}

// SetNamespaceLimit sets a per-namespace entry cap. Eviction is by sorted
// key, not recency: reproducibility matters more than hit rate here.
func (c *Cache) SetNamespaceLimit(namespace string, limit int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.limits[namespace] = limit
}

func (c *Cache) ensureSchema() error {
	_, err := c.db.Exec(`
		CREATE TABLE IF NOT EXISTS cache_meta (
			key TEXT PRIMARY KEY,
			value INTEGER NOT NULL
		);
		CREATE TABLE IF NOT EXISTS cache_entries (
			namespace TEXT NOT NULL,
			key TEXT NOT NULL,
			value BLOB NOT NULL,
			updated_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			PRIMARY KEY (namespace, key)
		);
	`)
	if err != nil {
		return fmt.Errorf("failed to create cache schema: %w", err)
	}

	var stored int
	err = c.db.QueryRow("SELECT value FROM cache_meta WHERE key = 'schema_version'").Scan(&stored)
	if err == sql.ErrNoRows {
		_, err = c.db.Exec("INSERT INTO cache_meta (key, value) VALUES ('schema_version', ?)", CacheSchemaVersion)
		if err != nil {
			return fmt.Errorf("failed to record cache schema version: %w", err)
		}
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read cache schema version: %w", err)
	}

	if stored != CacheSchemaVersion {
		util.InfoLog("Cache schema version %d != %d, purging cache", stored, CacheSchemaVersion)
		_, err = c.db.Exec("DELETE FROM cache_entries")
		if err != nil {
			return fmt.Errorf("failed to purge cache: %w", err)
		}
		_, err = c.db.Exec("UPDATE cache_meta SET value = ? WHERE key = 'schema_version'", CacheSchemaVersion)
		if err != nil {
			return fmt.Errorf("failed to update cache schema version: %w", err)
		}
	}
	return nil
}

// Get returns the cached value for (namespace, key), or ok=false on a miss
func (c *Cache) Get(namespace, key string) ([]byte, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var value []byte
	err := c.db.QueryRow(
		"SELECT value FROM cache_entries WHERE namespace = ? AND key = ?",
		namespace, key,
	).Scan(&value)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to query cache: %w", err)
	}
	return value, true, nil
}

// Put stores a value, then applies the namespace limit if one is set
func (c *Cache) Put(namespace, key string, value []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	_, err := c.db.Exec(`
		INSERT INTO cache_entries (namespace, key, value, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(namespace, key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at
	`, namespace, key, value, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to insert cache entry: %w", err)
	}

	limit := c.limits[namespace]
	if limit > 0 {
		return c.evict(namespace, limit)
	}
	return nil
}

// evict keeps only the first limit entries of a namespace in key sort order.
// Deterministic: the same set of keys always survives, regardless of
// insertion or access order.
func (c *Cache) evict(namespace string, limit int) error {
	_, err := c.db.Exec(`
		DELETE FROM cache_entries
		WHERE namespace = ? AND key NOT IN (
			SELECT key FROM cache_entries WHERE namespace = ? ORDER BY key LIMIT ?
		)
	`, namespace, namespace, limit)
	if err != nil {
		return fmt.Errorf("failed to evict cache entries: %w", err)
	}
	return nil
}

// Purge removes every entry
func (c *Cache) Purge() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, err := c.db.Exec("DELETE FROM cache_entries")
	return err
}

// Stats returns entry counts per namespace
func (c *Cache) Stats() (map[string]int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	rows, err := c.db.Query("SELECT namespace, COUNT(*) FROM cache_entries GROUP BY namespace")
	if err != nil {
		return nil, fmt.Errorf("failed to query cache stats: %w", err)
	}
	defer rows.Close()

	out := make(map[string]int)
	for rows.Next() {
		var ns string
		var n int
		if err := rows.Scan(&ns, &n); err != nil {
			return nil, err
		}
		out[ns] = n
	}
	return out, rows.Err()
}

// CachedClient wraps a provider client with the versioned cache.
//
// Offline mode: a cache hit returns immediately; a cache miss returns
// util.ErrNetworkRequired without attempting any call. Online mode: a miss
// calls the wrapped provider (with retry and a cooldown breaker) and
// writes through only on success. Absence is never cached.
type CachedClient struct {
	inner    Client
	cache    *Cache
	offline  bool
	metrics  *metrics.Collector
	retryCfg *util.RetryConfig
	breaker  *util.CircuitBreaker
}

// NewCachedClient wraps inner with the cache. The metrics collector counts
// underlying provider calls and cache hits/misses; tests assert on it.
func NewCachedClient(inner Client, cache *Cache, offline bool, collector *metrics.Collector) *CachedClient {
	return &CachedClient{
		inner:    inner,
		cache:    cache,
		offline:  offline,
		metrics:  collector,
		retryCfg: util.DefaultRetryConfig(),
		breaker:  util.NewCircuitBreaker(5, 30*time.Second),
	}
}

// Name returns the wrapped provider's name
func (c *CachedClient) Name() string { return c.inner.Name() }

// Version returns the wrapped provider's client version
func (c *CachedClient) Version() string { return c.inner.Version() }

// SearchByFingerprints resolves through the cache. Fingerprint ids are
// sorted before keying, so hits are order-independent.
func (c *CachedClient) SearchByFingerprints(ctx context.Context, fingerprintIDs []string) ([]Release, error) {
	sorted := make([]string, len(fingerprintIDs))
	copy(sorted, fingerprintIDs)
	sort.Strings(sorted)

	key := c.cacheKey("search_by_fingerprints", strings.Join(sorted, ","))
	return c.lookup(ctx, key, "provider.fingerprint_calls", func() ([]Release, error) {
		return c.inner.SearchByFingerprints(ctx, sorted)
	})
}

// SearchByMetadata resolves through the cache with a normalized text key
func (c *CachedClient) SearchByMetadata(ctx context.Context, artist, album string, trackCount int) ([]Release, error) {
	normalized := fmt.Sprintf("%s|%s|%d",
		strings.ToLower(strings.TrimSpace(artist)),
		strings.ToLower(strings.TrimSpace(album)),
		trackCount)

	key := c.cacheKey("search_by_metadata", normalized)
	return c.lookup(ctx, key, "provider.metadata_calls", func() ([]Release, error) {
		return c.inner.SearchByMetadata(ctx, artist, album, trackCount)
	})
}

// cacheKey builds the full key: provider, method, cache schema version and
// client version all participate, so bumping either version invalidates
// prior entries without a manual purge.
func (c *CachedClient) cacheKey(method, normalizedQuery string) string {
	return fmt.Sprintf("%s:%s:%d:%s:%s", c.inner.Name(), method, CacheSchemaVersion, c.inner.Version(), normalizedQuery)
}

func (c *CachedClient) lookup(ctx context.Context, key, callCounter string, call func() ([]Release, error)) ([]Release, error) {
	raw, hit, err := c.cache.Get(NSRelease, key)
	if err != nil {
		return nil, err
	}
	if hit {
		c.metrics.Inc("cache.hit")
		var releases []Release
		if err := json.Unmarshal(raw, &releases); err != nil {
			return nil, fmt.Errorf("failed to decode cached releases: %w", err)
		}
		return releases, nil
	}
	c.metrics.Inc("cache.miss")

	if c.offline {
		return nil, fmt.Errorf("%w: %s", util.ErrNetworkRequired, key)
	}

	if !c.breaker.Allow() {
		return nil, fmt.Errorf("%w: provider %s in cooldown after repeated failures", util.ErrRuntime, c.inner.Name())
	}

	c.metrics.Inc(callCounter)
	releases, err := util.RetryWithBackoff(c.retryCfg, call, key)
	if err != nil {
		c.breaker.RecordFailure()
		return nil, err
	}
	c.breaker.RecordSuccess()

	// Write-through on success only; an empty result set is a valid answer
	// but absence-by-error is never cached.
	encoded, err := json.Marshal(releases)
	if err != nil {
		return nil, fmt.Errorf("failed to encode releases for cache: %w", err)
	}
	if err := c.cache.Put(NSRelease, key, encoded); err != nil {
		util.WarnLog("Failed to cache provider result: %v", err)
	}

	return releases, nil
}
