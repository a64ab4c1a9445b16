// Package redact implements the gateway's secret and PII detection,
// reversible substitution, and streaming unredaction (spec.md §3, §4.1).
//
// cache.go — ClassificationCache is the cross-session value→classification
// cache: it remembers the PII type and confidence a low-confidence regex
// match was eventually classified as (by the Ollama fallback), so a value
// seen again in a later session gets an immediate high-confidence token
// instead of a second round-trip to Ollama. It does NOT store the
// placeholder↔literal mapping itself — that is session-scoped and lives in
// Store (store.go), because spec.md requires substitutions to be forgotten
// at session end while classification knowledge is safe to keep around.
//
// Two implementations are provided:
//   - memoryCache — in-memory only, used in tests and when no path is configured.
//   - bboltCache  — embedded key-value store (bbolt), used in production.
package redact

import (
	"fmt"
	"sync"

	bolt "go.etcd.io/bbolt"

	"github.com/syntax-syndicate/codegate-alt/internal/logger"
)

var cacheLog = logger.New("redact", "info", "text")

// ClassificationCache is the cross-session PII classification cache
// interface. All implementations must be safe for concurrent use.
type ClassificationCache interface {
	// Get returns the cached classification ("subtype:confidence") for the
	// given literal value, if present.
	Get(value string) (classification string, ok bool)

	// Set stores value → classification. Overwrites any existing entry.
	Set(value, classification string)

	// Delete removes value from the cache, if present.
	Delete(value string)

	// Close releases any resources held by the cache (e.g. file handles).
	Close() error
}

// --- memoryCache ---------------------------------------------------------

type memoryCache struct {
	mu    sync.RWMutex
	store map[string]string
}

// newMemoryCache returns a thread-safe in-memory ClassificationCache.
func newMemoryCache() ClassificationCache {
	return &memoryCache{store: make(map[string]string)}
}

func (c *memoryCache) Get(value string) (string, bool) {
	c.mu.RLock()
	v, ok := c.store[value]
	c.mu.RUnlock()
	return v, ok
}

func (c *memoryCache) Set(value, classification string) {
	c.mu.Lock()
	c.store[value] = classification
	c.mu.Unlock()
}

func (c *memoryCache) Delete(value string) {
	c.mu.Lock()
	delete(c.store, value)
	c.mu.Unlock()
}

func (c *memoryCache) Close() error { return nil }

// --- bboltCache ----------------------------------------------------------

const bboltBucket = "pii_classification_cache"

// bboltCache is a ClassificationCache backed by an embedded bbolt database.
// Entries survive process restarts.
type bboltCache struct {
	db *bolt.DB
}

// newBboltCache opens (or creates) the bbolt database at path and ensures
// the bucket exists.
func newBboltCache(path string) (ClassificationCache, error) {
	db, err := bolt.Open(path, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("open bbolt cache %q: %w", path, err)
	}

	if err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(bboltBucket))
		return err
	}); err != nil {
		db.Close() //nolint:errcheck
		return nil, fmt.Errorf("create bbolt bucket: %w", err)
	}

	cacheLog.Infof("cache_open", "persistent classification cache opened at %s", path)
	return &bboltCache{db: db}, nil
}

func (c *bboltCache) Get(value string) (string, bool) {
	var classification string
	err := c.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(bboltBucket))
		if b == nil {
			return nil
		}
		v := b.Get([]byte(value))
		if v != nil {
			classification = string(v)
		}
		return nil
	})
	if err != nil {
		cacheLog.Errorf("cache_get", "bbolt error: %v", err)
		return "", false
	}
	return classification, classification != ""
}

func (c *bboltCache) Set(value, classification string) {
	if err := c.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(bboltBucket))
		if b == nil {
			return fmt.Errorf("bucket %q not found", bboltBucket)
		}
		return b.Put([]byte(value), []byte(classification))
	}); err != nil {
		cacheLog.Errorf("cache_set", "bbolt error: %v", err)
	}
}

func (c *bboltCache) Delete(value string) {
	if err := c.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(bboltBucket))
		if b == nil {
			return nil
		}
		return b.Delete([]byte(value))
	}); err != nil {
		cacheLog.Errorf("cache_delete", "bbolt error: %v", err)
	}
}

func (c *bboltCache) Close() error {
	return c.db.Close()
}

// --- cache wiring ---------------------------------------------------------

// DefaultCacheCapacity bounds the number of value→classification entries
// kept in the S3-FIFO in-memory layer (and, transitively, on disk via
// bbolt): evicted entries are deleted from bbolt so disk usage stays
// roughly bounded to this many entries.
const DefaultCacheCapacity = 50_000

// NewClassificationCache opens the classification cache for the gateway. If
// path is empty, an unbounded in-memory cache is returned (suitable for
// tests and stateless deployments). If path is non-empty but the bbolt file
// cannot be opened, the error is logged and an in-memory cache is used
// instead — a classification cache is an optimization, not a correctness
// requirement, so its unavailability must never block startup. capacity <= 0
// disables the S3-FIFO layer and returns the bbolt cache directly.
func NewClassificationCache(path string, capacity int) ClassificationCache {
	if path == "" {
		return newMemoryCache()
	}
	bbolt, err := newBboltCache(path)
	if err != nil {
		cacheLog.Errorf("cache_open_fallback", "failed to open persistent cache at %q, falling back to memory: %v", path, err)
		return newMemoryCache()
	}
	if capacity <= 0 {
		return bbolt
	}
	return newS3FIFOCache(bbolt, capacity)
}
