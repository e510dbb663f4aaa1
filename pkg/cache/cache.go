// Package cache provides the in-memory LRU+TTL cache shared by the
// fetcher result cache and the per-tool result caches.
package cache

import (
	"sync"
	"time"
)

type entry struct {
	value     any
	size      int
	createdAt time.Time
	expiresAt time.Time
}

// Stats reports counters since creation.
type Stats struct {
	Hits      int64 `json:"hits"`
	Misses    int64 `json:"misses"`
	Evictions int64 `json:"evictions"`
	Size      int   `json:"size"`
	MaxSize   int   `json:"max_size"`
}

// MemoryCache is an in-memory cache with LRU eviction past maxEntries
// and lazy TTL expiry on read.
type MemoryCache struct {
	mu         sync.Mutex
	entries    map[string]*entry
	lru        *lruList
	maxEntries int
	defaultTTL time.Duration
	stats      Stats
}

func NewMemoryCache(maxEntries int, defaultTTL time.Duration) *MemoryCache {
	if maxEntries <= 0 {
		maxEntries = 1024
	}
	return &MemoryCache{
		entries:    make(map[string]*entry),
		lru:        newLRUList(),
		maxEntries: maxEntries,
		defaultTTL: defaultTTL,
		stats:      Stats{MaxSize: maxEntries},
	}
}

// Get retrieves a live value; expired entries are removed on access.
func (mc *MemoryCache) Get(key string) (any, bool) {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	e, exists := mc.entries[key]
	if !exists {
		mc.stats.Misses++
		return nil, false
	}
	if time.Now().After(e.expiresAt) {
		mc.removeLocked(key)
		mc.stats.Misses++
		return nil, false
	}

	mc.stats.Hits++
	mc.lru.moveToFront(key)
	return e.value, true
}

// Set stores value under key. ttl <= 0 falls back to the default; a
// non-positive size means "unmeasured".
func (mc *MemoryCache) Set(key string, value any, ttl time.Duration) {
	mc.SetSized(key, value, ttl, 0)
}

// SetSized is Set with an explicit content size so callers can keep
// oversized payloads out of the cache before serialization cost is paid.
func (mc *MemoryCache) SetSized(key string, value any, ttl time.Duration, size int) {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	if ttl <= 0 {
		ttl = mc.defaultTTL
	}
	now := time.Now()

	if _, exists := mc.entries[key]; !exists && len(mc.entries) >= mc.maxEntries {
		if evicted := mc.lru.removeLast(); evicted != "" {
			delete(mc.entries, evicted)
			mc.stats.Evictions++
		}
	}

	mc.entries[key] = &entry{
		value:     value,
		size:      size,
		createdAt: now,
		expiresAt: now.Add(ttl),
	}
	mc.lru.addToFront(key)
}

func (mc *MemoryCache) Delete(key string) {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	mc.removeLocked(key)
}

func (mc *MemoryCache) Clear() {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	mc.entries = make(map[string]*entry)
	mc.lru = newLRUList()
}

// Sweep drops every expired entry and returns how many were removed.
func (mc *MemoryCache) Sweep() int {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	now := time.Now()
	removed := 0
	for key, e := range mc.entries {
		if now.After(e.expiresAt) {
			mc.removeLocked(key)
			removed++
		}
	}
	return removed
}

func (mc *MemoryCache) Len() int {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	return len(mc.entries)
}

func (mc *MemoryCache) Stats() Stats {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	s := mc.stats
	s.Size = len(mc.entries)
	return s
}

func (mc *MemoryCache) removeLocked(key string) {
	delete(mc.entries, key)
	mc.lru.remove(key)
}

// Namespace is a prefixed view over a shared cache with its own TTL,
// used for per-tool result caches.
type Namespace struct {
	cache  *MemoryCache
	prefix string
	ttl    time.Duration
}

func (mc *MemoryCache) Namespace(prefix string, ttl time.Duration) *Namespace {
	return &Namespace{cache: mc, prefix: prefix + "::", ttl: ttl}
}

func (n *Namespace) Get(key string) (any, bool) { return n.cache.Get(n.prefix + key) }
func (n *Namespace) Set(key string, value any)  { n.cache.Set(n.prefix+key, value, n.ttl) }
func (n *Namespace) Delete(key string)          { n.cache.Delete(n.prefix + key) }
