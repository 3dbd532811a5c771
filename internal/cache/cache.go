// Package cache implements the persistent cache for directory listings and
// search results. Entries live in SQLite with a fixed TTL; store failures
// degrade to cache misses and are never returned to browsing code.
package cache

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/jonboulle/clockwork"

	"github.com/portalworks/docbrowse/internal/constants"
	"github.com/portalworks/docbrowse/internal/logging"
	"github.com/portalworks/docbrowse/internal/metrics"
	"github.com/portalworks/docbrowse/internal/models"
)

// Namespace separates independent key spaces within the cache
type Namespace string

const (
	NamespaceDirectory Namespace = "dir"
	NamespaceSearch    Namespace = "search"
)

// AllNamespaces lists every namespace, used by Clear with no arguments
var AllNamespaces = []Namespace{NamespaceDirectory, NamespaceSearch}

// ErrNotReady is returned by administrative calls made before Init finished
var ErrNotReady = errors.New("cache is not ready")

// Entry is a decoded cache row
type Entry[T any] struct {
	Key       string
	Payload   T
	CachedAt  time.Time
	ExpiresAt time.Time
}

// Stats reports entry counts per namespace
type Stats struct {
	Entries map[Namespace]int
	Expired int
	Path    string
}

// Option configures a Cache
type Option func(*Cache)

// WithClock injects the clock used for TTL stamping and the janitor
func WithClock(clock clockwork.Clock) Option {
	return func(c *Cache) { c.clock = clock }
}

// WithLogger sets the logger
func WithLogger(logger *logging.Logger) Option {
	return func(c *Cache) { c.logger = logger.Component("cache") }
}

// WithMetrics sets the metrics sink
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Cache) { c.metrics = m }
}

// WithTTL overrides the entry lifetime
func WithTTL(ttl time.Duration) Option {
	return func(c *Cache) { c.ttl = ttl }
}

// WithPurgeInterval sets how often expired rows are deleted in the background.
// Zero disables the janitor.
func WithPurgeInterval(d time.Duration) Option {
	return func(c *Cache) { c.purgeInterval = d }
}

// Cache is the persistent, time-boxed key/value store shared by browsing surfaces.
// It must be explicitly constructed and initialized; until Init completes every
// read is a miss and every write is dropped.
type Cache struct {
	path          string
	ttl           time.Duration
	purgeInterval time.Duration
	clock         clockwork.Clock
	logger        *logging.Logger
	metrics       *metrics.Metrics

	initOnce sync.Once
	initDone chan error
	ready    atomic.Bool

	mu        sync.RWMutex
	db        *sql.DB
	scheduler gocron.Scheduler
	closed    bool
}

// New creates an uninitialized cache backed by the SQLite file at path.
func New(path string, opts ...Option) *Cache {
	c := &Cache{
		path:          path,
		ttl:           constants.CacheTTL,
		purgeInterval: constants.CachePurgeInterval,
		clock:         clockwork.NewRealClock(),
		logger:        logging.Nop(),
		initDone:      make(chan error, 1),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Init opens the store in the background. The returned channel yields the
// outcome once and is then closed. Calling Init again returns the same channel.
func (c *Cache) Init(ctx context.Context) <-chan error {
	c.initOnce.Do(func() {
		go func() {
			err := c.open(ctx)
			if err != nil {
				c.logger.Warn().Err(err).Str("path", c.path).Msg("Persistent cache unavailable, continuing without it")
			}
			c.initDone <- err
			close(c.initDone)
		}()
	})
	return c.initDone
}

func (c *Cache) open(ctx context.Context) error {
	db, err := openDB(ctx, c.path)
	if err != nil {
		return err
	}

	var scheduler gocron.Scheduler
	if c.purgeInterval > 0 {
		scheduler, err = c.startJanitor()
		if err != nil {
			db.Close()
			return err
		}
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		if scheduler != nil {
			_ = scheduler.Shutdown()
		}
		db.Close()
		return ErrNotReady
	}
	c.db = db
	c.scheduler = scheduler
	c.mu.Unlock()

	c.ready.Store(true)
	c.logger.Debug().Str("path", c.path).Dur("ttl", c.ttl).Msg("Persistent cache ready")
	return nil
}

func (c *Cache) startJanitor() (gocron.Scheduler, error) {
	s, err := gocron.NewScheduler(gocron.WithClock(c.clock))
	if err != nil {
		return nil, fmt.Errorf("failed to create cache janitor: %w", err)
	}

	_, err = s.NewJob(
		gocron.DurationJob(c.purgeInterval),
		gocron.NewTask(func() {
			ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
			defer cancel()
			if n, err := c.PurgeExpired(ctx); err != nil {
				c.logger.Warn().Err(err).Msg("Cache purge failed")
			} else if n > 0 {
				c.logger.Debug().Int("removed", n).Msg("Purged expired cache entries")
			}
		}),
		gocron.WithName("cache-purge"),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		_ = s.Shutdown()
		return nil, fmt.Errorf("failed to schedule cache purge: %w", err)
	}

	s.Start()
	return s, nil
}

// Ready reports whether the store is open. It is the only readiness gate callers need.
func (c *Cache) Ready() bool {
	return c != nil && c.ready.Load()
}

// Close stops the janitor and closes the store. The cache reverts to no-op mode.
func (c *Cache) Close() error {
	if c == nil {
		return nil
	}
	c.ready.Store(false)

	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true

	var errs []error
	if c.scheduler != nil {
		if err := c.scheduler.Shutdown(); err != nil {
			errs = append(errs, err)
		}
		c.scheduler = nil
	}
	if c.db != nil {
		if err := c.db.Close(); err != nil {
			errs = append(errs, err)
		}
		c.db = nil
	}
	return errors.Join(errs...)
}

// conn returns the open database or nil when not ready.
func (c *Cache) conn() *sql.DB {
	if !c.Ready() {
		return nil
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.db
}

// getRaw loads one row. Expired rows are deleted and reported as absent.
func (c *Cache) getRaw(ctx context.Context, ns Namespace, key string) ([]byte, time.Time, time.Time, bool) {
	db := c.conn()
	if db == nil {
		return nil, time.Time{}, time.Time{}, false
	}

	var (
		payload   string
		cachedAt  int64
		expiresAt int64
	)
	err := db.QueryRowContext(ctx,
		`SELECT payload, cached_at, expires_at FROM cache_entries WHERE namespace = ? AND key = ?`,
		string(ns), key,
	).Scan(&payload, &cachedAt, &expiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		c.metrics.RecordCacheLookup(string(ns), metrics.ResultMiss)
		return nil, time.Time{}, time.Time{}, false
	}
	if err != nil {
		c.metrics.RecordCacheLookup(string(ns), metrics.ResultError)
		c.logger.Warn().Err(err).Str("ns", string(ns)).Str("key", key).Msg("Cache read failed, treating as miss")
		return nil, time.Time{}, time.Time{}, false
	}

	if c.clock.Now().UnixNano() > expiresAt {
		c.metrics.RecordCacheLookup(string(ns), metrics.ResultExpired)
		if _, err := db.ExecContext(ctx,
			`DELETE FROM cache_entries WHERE namespace = ? AND key = ? AND expires_at = ?`,
			string(ns), key, expiresAt,
		); err != nil {
			c.logger.Warn().Err(err).Str("key", key).Msg("Failed to evict expired cache entry")
		} else {
			c.metrics.RecordCacheEviction(string(ns), "expired", 1)
		}
		return nil, time.Time{}, time.Time{}, false
	}

	c.metrics.RecordCacheLookup(string(ns), metrics.ResultHit)
	return []byte(payload), time.Unix(0, cachedAt), time.Unix(0, expiresAt), true
}

// Set stores payload under (ns, key), replacing any existing entry and
// stamping cachedAt=now, expiresAt=now+TTL. Failures are logged, not returned.
func (c *Cache) Set(ctx context.Context, ns Namespace, key string, payload any) {
	db := c.conn()
	if db == nil {
		return
	}

	data, err := json.Marshal(payload)
	if err != nil {
		c.metrics.RecordCacheWrite(string(ns), false)
		c.logger.Warn().Err(err).Str("key", key).Msg("Failed to encode cache payload")
		return
	}

	now := c.clock.Now()
	_, err = db.ExecContext(ctx, `
		INSERT INTO cache_entries (namespace, key, payload, cached_at, expires_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (namespace, key) DO UPDATE SET
			payload = excluded.payload,
			cached_at = excluded.cached_at,
			expires_at = excluded.expires_at`,
		string(ns), key, string(data), now.UnixNano(), now.Add(c.ttl).UnixNano(),
	)
	if err != nil {
		c.metrics.RecordCacheWrite(string(ns), false)
		c.logger.Warn().Err(err).Str("ns", string(ns)).Str("key", key).Msg("Cache write failed")
		return
	}
	c.metrics.RecordCacheWrite(string(ns), true)
}

// Has reports whether a live entry exists without decoding it
func (c *Cache) Has(ctx context.Context, ns Namespace, key string) bool {
	_, _, _, ok := c.getRaw(ctx, ns, key)
	return ok
}

// Delete removes one entry
func (c *Cache) Delete(ctx context.Context, ns Namespace, key string) {
	db := c.conn()
	if db == nil {
		return
	}
	res, err := db.ExecContext(ctx, `DELETE FROM cache_entries WHERE namespace = ? AND key = ?`, string(ns), key)
	if err != nil {
		c.logger.Warn().Err(err).Str("key", key).Msg("Cache delete failed")
		return
	}
	if n, err := res.RowsAffected(); err == nil {
		c.metrics.RecordCacheEviction(string(ns), "invalidate", int(n))
	}
}

// Clear drops every entry in the given namespaces, or in all of them when none are given.
// Before Init completes it is a no-op.
func (c *Cache) Clear(ctx context.Context, namespaces ...Namespace) error {
	db := c.conn()
	if db == nil {
		return nil
	}
	if len(namespaces) == 0 {
		namespaces = AllNamespaces
	}
	for _, ns := range namespaces {
		res, err := db.ExecContext(ctx, `DELETE FROM cache_entries WHERE namespace = ?`, string(ns))
		if err != nil {
			return fmt.Errorf("failed to clear cache namespace %s: %w", ns, err)
		}
		if n, err := res.RowsAffected(); err == nil {
			c.metrics.RecordCacheEviction(string(ns), "clear", int(n))
		}
	}
	return nil
}

// PurgeExpired deletes every entry whose expiresAt has passed and returns how many were removed.
func (c *Cache) PurgeExpired(ctx context.Context) (int, error) {
	db := c.conn()
	if db == nil {
		return 0, nil
	}
	res, err := db.ExecContext(ctx, `DELETE FROM cache_entries WHERE expires_at < ?`, c.clock.Now().UnixNano())
	if err != nil {
		return 0, fmt.Errorf("failed to purge expired cache entries: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to count purged entries: %w", err)
	}
	c.metrics.RecordCacheEviction("all", "purge", int(n))
	return int(n), nil
}

// Stats counts live and expired entries
func (c *Cache) Stats(ctx context.Context) (Stats, error) {
	stats := Stats{Entries: make(map[Namespace]int), Path: c.path}
	db := c.conn()
	if db == nil {
		return stats, ErrNotReady
	}

	now := c.clock.Now().UnixNano()
	rows, err := db.QueryContext(ctx,
		`SELECT namespace, COUNT(*) FROM cache_entries WHERE expires_at >= ? GROUP BY namespace`, now)
	if err != nil {
		return stats, fmt.Errorf("failed to query cache stats: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var ns string
		var count int
		if err := rows.Scan(&ns, &count); err != nil {
			return stats, fmt.Errorf("failed to scan cache stats: %w", err)
		}
		stats.Entries[Namespace(ns)] = count
	}
	if err := rows.Err(); err != nil {
		return stats, err
	}

	if err := db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM cache_entries WHERE expires_at < ?`, now,
	).Scan(&stats.Expired); err != nil {
		return stats, fmt.Errorf("failed to count expired entries: %w", err)
	}
	return stats, nil
}

// Get decodes the entry at (ns, key) into T. Decode failures are treated as a miss.
func Get[T any](ctx context.Context, c *Cache, ns Namespace, key string) (*Entry[T], bool) {
	raw, cachedAt, expiresAt, ok := c.getRaw(ctx, ns, key)
	if !ok {
		return nil, false
	}
	var payload T
	if err := json.Unmarshal(raw, &payload); err != nil {
		c.logger.Warn().Err(err).Str("key", key).Msg("Corrupt cache entry, treating as miss")
		c.Delete(ctx, ns, key)
		return nil, false
	}
	return &Entry[T]{Key: key, Payload: payload, CachedAt: cachedAt, ExpiresAt: expiresAt}, true
}

// Directory returns the cached listing for a path
func (c *Cache) Directory(ctx context.Context, path string) (*Entry[models.DirectoryPayload], bool) {
	return Get[models.DirectoryPayload](ctx, c, NamespaceDirectory, models.NormalizePath(path))
}

// SetDirectory caches the listing for a path
func (c *Cache) SetDirectory(ctx context.Context, path string, payload *models.DirectoryPayload) {
	if payload == nil {
		return
	}
	c.Set(ctx, NamespaceDirectory, models.NormalizePath(path), payload)
}

// HasDirectory reports whether a live listing is cached for path
func (c *Cache) HasDirectory(ctx context.Context, path string) bool {
	return c.Has(ctx, NamespaceDirectory, models.NormalizePath(path))
}

// InvalidateDirectory removes the cached listing for path
func (c *Cache) InvalidateDirectory(ctx context.Context, path string) {
	c.Delete(ctx, NamespaceDirectory, models.NormalizePath(path))
}

// InvalidateTree removes the cached listings of path and every folder below it
func (c *Cache) InvalidateTree(ctx context.Context, path string) {
	path = models.NormalizePath(path)
	if path == models.RootPath {
		if err := c.Clear(ctx, NamespaceDirectory); err != nil {
			c.logger.Warn().Err(err).Msg("Cache tree invalidation failed")
		}
		return
	}

	db := c.conn()
	if db == nil {
		return
	}
	prefix := path + "/"
	res, err := db.ExecContext(ctx,
		`DELETE FROM cache_entries WHERE namespace = ? AND (key = ? OR substr(key, 1, length(?)) = ?)`,
		string(NamespaceDirectory), path, prefix, prefix,
	)
	if err != nil {
		c.logger.Warn().Err(err).Str("path", path).Msg("Cache tree invalidation failed")
		return
	}
	if n, err := res.RowsAffected(); err == nil {
		c.metrics.RecordCacheEviction(string(NamespaceDirectory), "invalidate", int(n))
	}
}

// Search returns cached results for a query
func (c *Cache) Search(ctx context.Context, query string) (*Entry[models.DirectoryPayload], bool) {
	return Get[models.DirectoryPayload](ctx, c, NamespaceSearch, models.NormalizeQuery(query))
}

// SetSearch caches results for a query
func (c *Cache) SetSearch(ctx context.Context, query string, payload *models.DirectoryPayload) {
	if payload == nil {
		return
	}
	c.Set(ctx, NamespaceSearch, models.NormalizeQuery(query), payload)
}
