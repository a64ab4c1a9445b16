package redact

import (
	"os"
	"path/filepath"
	"testing"
)

// TestMemoryCacheBasicOperations verifies the in-memory cache satisfies the
// ClassificationCache contract.
func TestMemoryCacheBasicOperations(t *testing.T) {
	c := newMemoryCache()
	defer c.Close() //nolint:errcheck

	if _, ok := c.Get("missing"); ok {
		t.Error("expected miss on empty cache")
	}

	c.Set("alice@example.com", "email:0.95")
	v, ok := c.Get("alice@example.com")
	if !ok {
		t.Error("expected hit after Set")
	}
	if v != "email:0.95" {
		t.Errorf("unexpected classification: %q", v)
	}

	c.Set("alice@example.com", "email:0.99")
	v, ok = c.Get("alice@example.com")
	if !ok || v != "email:0.99" {
		t.Errorf("expected overwritten classification, got %q ok=%v", v, ok)
	}

	c.Delete("alice@example.com")
	if _, ok := c.Get("alice@example.com"); ok {
		t.Error("expected miss after Delete")
	}
}

// TestBboltCacheBasicOperations verifies the bbolt cache satisfies the
// ClassificationCache contract.
func TestBboltCacheBasicOperations(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "test.db")

	c, err := newBboltCache(path)
	if err != nil {
		t.Fatalf("newBboltCache: %v", err)
	}
	defer c.Close() //nolint:errcheck

	if _, ok := c.Get("missing"); ok {
		t.Error("expected miss on empty db")
	}

	c.Set("bob@corp.io", "email:0.95")
	v, ok := c.Get("bob@corp.io")
	if !ok {
		t.Error("expected hit after Set")
	}
	if v != "email:0.95" {
		t.Errorf("unexpected classification: %q", v)
	}

	c.Delete("bob@corp.io")
	if _, ok := c.Get("bob@corp.io"); ok {
		t.Error("expected miss after Delete")
	}
}

// TestBboltCacheSurvivesRestart verifies that entries written to the bbolt
// cache are available after the database is closed and reopened.
func TestBboltCacheSurvivesRestart(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "persist.db")

	c1, err := newBboltCache(path)
	if err != nil {
		t.Fatalf("open first instance: %v", err)
	}
	c1.Set("alice@example.com", "email:0.95")
	c1.Set("555-867-5309", "phone:0.65")
	if err := c1.Close(); err != nil {
		t.Fatalf("close first instance: %v", err)
	}

	if _, err := os.Stat(path); err != nil {
		t.Fatalf("cache file missing after close: %v", err)
	}

	c2, err := newBboltCache(path)
	if err != nil {
		t.Fatalf("open second instance: %v", err)
	}
	defer c2.Close() //nolint:errcheck

	v, ok := c2.Get("alice@example.com")
	if !ok || v != "email:0.95" {
		t.Errorf("email classification did not survive restart: ok=%v v=%q", ok, v)
	}

	v, ok = c2.Get("555-867-5309")
	if !ok || v != "phone:0.65" {
		t.Errorf("phone classification did not survive restart: ok=%v v=%q", ok, v)
	}
}

// TestNewClassificationCache_EmptyPathIsMemory verifies an empty path yields
// an in-memory cache rather than attempting to open a file.
func TestNewClassificationCache_EmptyPathIsMemory(t *testing.T) {
	c := NewClassificationCache("", DefaultCacheCapacity)
	defer c.Close() //nolint:errcheck

	c.Set("k", "v")
	if _, ok := c.Get("k"); !ok {
		t.Error("expected in-memory cache to work")
	}
}

// TestNewClassificationCache_FallsBackToMemoryOnOpenFailure verifies that an
// unwritable path doesn't fail startup: the cache falls back to in-memory.
func TestNewClassificationCache_FallsBackToMemoryOnOpenFailure(t *testing.T) {
	// A directory that doesn't exist, inside a path bbolt cannot create
	// (nested missing parent), forces Open to fail.
	badPath := filepath.Join(t.TempDir(), "missing-parent", "nested", "cache.db")
	// Make the immediate parent a file, not a directory, guaranteeing Open fails.
	parent := filepath.Dir(badPath)
	if err := os.MkdirAll(filepath.Dir(parent), 0755); err != nil {
		t.Fatalf("setup: %v", err)
	}
	if err := os.WriteFile(parent, []byte("not a directory"), 0600); err != nil {
		t.Fatalf("setup: %v", err)
	}

	c := NewClassificationCache(badPath, DefaultCacheCapacity)
	defer c.Close() //nolint:errcheck

	// Should still behave as a working cache (in-memory fallback), not panic
	// or return nil.
	c.Set("k", "v")
	if _, ok := c.Get("k"); !ok {
		t.Error("expected fallback in-memory cache to work")
	}
}

// TestNewClassificationCache_ZeroCapacityReturnsBboltDirectly verifies that a
// non-positive capacity skips the S3-FIFO wrapper.
func TestNewClassificationCache_ZeroCapacityReturnsBboltDirectly(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "direct.db")

	c := NewClassificationCache(path, 0)
	defer c.Close() //nolint:errcheck

	if _, ok := c.(*bboltCache); !ok {
		t.Errorf("expected *bboltCache with capacity<=0, got %T", c)
	}
}
