// Package cache provides compiled-program caching for minicl backends.
//
// Building a program is the most expensive step of opening a device context, and
// callers frequently open several contexts over the same kernel source (tests, CLI
// invocations, per-request contexts). ProgramCache memoizes the backend's parsed
// program keyed by a digest of the backend name, build options and source text.
//
// Features:
//   - LRU eviction for bounded memory
//   - TTL expiration for stale entries
//   - Thread-safe operations
//   - Hit/miss statistics
//
// Usage:
//
//	c := cache.NewProgramCache(64, 0)
//
//	key := cache.Key("host", "-w", source)
//	if prog, ok := c.Get(key); ok {
//		return prog.(*program)
//	}
//
//	prog, err := compile(source)
//	if err != nil {
//		return nil, err
//	}
//	c.Put(key, prog)
package cache

import (
	"container/list"
	"sync"
	"time"

	"golang.org/x/crypto/blake2b"
)

// Digest identifies one (backend, options, source) combination.
type Digest [blake2b.Size256]byte

// ProgramCache is a thread-safe LRU cache of compiled programs.
//
// The cache uses:
//   - Hash map for O(1) lookups
//   - Doubly-linked list for LRU ordering
//   - TTL for automatic expiration
//
// Only successful builds should be stored; a failed build must be reported to the
// caller every time with its full log.
type ProgramCache struct {
	mu sync.Mutex

	maxSize int
	ttl     time.Duration
	enabled bool

	list  *list.List
	items map[Digest]*list.Element

	hits   uint64
	misses uint64
}

type cacheEntry struct {
	key       Digest
	value     any
	expiresAt time.Time
}

// CacheStats reports cache occupancy and effectiveness.
type CacheStats struct {
	Size    int     // Current number of entries
	MaxSize int     // Maximum capacity
	Hits    uint64  // Number of cache hits
	Misses  uint64  // Number of cache misses
	HitRate float64 // Hit rate percentage (0-100)
}

// NewProgramCache creates a cache holding at most maxSize programs. A ttl of 0
// disables expiration.
func NewProgramCache(maxSize int, ttl time.Duration) *ProgramCache {
	if maxSize <= 0 {
		maxSize = 64
	}
	return &ProgramCache{
		maxSize: maxSize,
		ttl:     ttl,
		enabled: true,
		list:    list.New(),
		items:   make(map[Digest]*list.Element, maxSize),
	}
}

// Key derives the cache key for a build. Options are part of the key because the
// same source compiled with different defines is a different program.
func Key(backend, options, source string) Digest {
	h, _ := blake2b.New256(nil)
	h.Write([]byte(backend))
	h.Write([]byte{0})
	h.Write([]byte(options))
	h.Write([]byte{0})
	h.Write([]byte(source))

	var d Digest
	copy(d[:], h.Sum(nil))
	return d
}

// Get returns the cached program for key, if present and not expired.
func (c *ProgramCache) Get(key Digest) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.enabled {
		c.misses++
		return nil, false
	}

	elem, ok := c.items[key]
	if !ok {
		c.misses++
		return nil, false
	}

	entry := elem.Value.(*cacheEntry)
	if c.ttl > 0 && time.Now().After(entry.expiresAt) {
		c.removeElement(elem)
		c.misses++
		return nil, false
	}

	c.list.MoveToFront(elem)
	c.hits++
	return entry.value, true
}

// Put stores value under key, evicting the least recently used entries when full.
func (c *ProgramCache) Put(key Digest, value any) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.enabled {
		return
	}

	if elem, ok := c.items[key]; ok {
		entry := elem.Value.(*cacheEntry)
		entry.value = value
		if c.ttl > 0 {
			entry.expiresAt = time.Now().Add(c.ttl)
		}
		c.list.MoveToFront(elem)
		return
	}

	for c.list.Len() >= c.maxSize {
		c.evictOldest()
	}

	entry := &cacheEntry{key: key, value: value}
	if c.ttl > 0 {
		entry.expiresAt = time.Now().Add(c.ttl)
	}
	c.items[key] = c.list.PushFront(entry)
}

// Len returns the number of cached programs.
func (c *ProgramCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.list.Len()
}

// SetEnabled turns caching on or off. Disabling also clears the cache.
func (c *ProgramCache) SetEnabled(enabled bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.enabled = enabled
	if !enabled {
		c.list.Init()
		c.items = make(map[Digest]*list.Element, c.maxSize)
	}
}

// Stats returns a snapshot of cache statistics.
func (c *ProgramCache) Stats() CacheStats {
	c.mu.Lock()
	defer c.mu.Unlock()

	total := c.hits + c.misses
	var hitRate float64
	if total > 0 {
		hitRate = float64(c.hits) / float64(total) * 100
	}

	return CacheStats{
		Size:    c.list.Len(),
		MaxSize: c.maxSize,
		Hits:    c.hits,
		Misses:  c.misses,
		HitRate: hitRate,
	}
}

func (c *ProgramCache) evictOldest() {
	if elem := c.list.Back(); elem != nil {
		c.removeElement(elem)
	}
}

func (c *ProgramCache) removeElement(elem *list.Element) {
	c.list.Remove(elem)
	delete(c.items, elem.Value.(*cacheEntry).key)
}
