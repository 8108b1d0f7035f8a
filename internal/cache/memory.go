package cache

import (
	"container/list"
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/showgrid/showgrid/pkg/types"
)

// MemoryCache implements a thread-safe LRU cache bounded by entry count
type MemoryCache struct {
	mu        sync.RWMutex
	capacity  int
	items     map[string]*cacheItem
	evictList *list.List

	// Configuration
	config *MemoryConfig

	// Statistics
	stats          types.CacheStats
	totalAccesses  uint64
	stopCh         chan struct{}
	closeOnce      sync.Once
	cleanupStopped sync.WaitGroup
}

// MemoryConfig represents memory cache configuration
type MemoryConfig struct {
	MaxEntries      int           `yaml:"max_entries"`
	DefaultTTL      time.Duration `yaml:"default_ttl"`
	CleanupInterval time.Duration `yaml:"cleanup_interval"`
}

// cacheItem represents an item in the cache
type cacheItem struct {
	entry       *types.CacheEntry
	accessCount uint64
	element     *list.Element
}

// listEntry represents the value stored in the list element
type listEntry struct {
	key string
}

// NewMemoryCache creates a new memory cache
func NewMemoryCache(config *MemoryConfig) *MemoryCache {
	if config == nil {
		config = &MemoryConfig{}
	}
	if config.MaxEntries <= 0 {
		config.MaxEntries = 500
	}
	if config.DefaultTTL <= 0 {
		config.DefaultTTL = 30 * time.Minute
	}
	if config.CleanupInterval <= 0 {
		config.CleanupInterval = time.Minute
	}

	cache := &MemoryCache{
		capacity:  config.MaxEntries,
		items:     make(map[string]*cacheItem),
		evictList: list.New(),
		config:    config,
		stats: types.CacheStats{
			Capacity: config.MaxEntries,
		},
		stopCh: make(chan struct{}),
	}

	cache.cleanupStopped.Add(1)
	go cache.cleanupExpired()

	return cache
}

// Get retrieves the entry stored under key. Expired entries are removed
// and reported as misses.
func (c *MemoryCache) Get(key string) (*types.CacheEntry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	item, exists := c.items[key]
	if !exists {
		c.stats.Misses++
		c.updateHitRate()
		return nil, false
	}

	if item.entry.Expired(time.Now()) {
		c.removeItem(key)
		c.stats.Expirations++
		c.stats.Misses++
		c.updateHitRate()
		return nil, false
	}

	item.accessCount++
	c.totalAccesses++
	c.evictList.MoveToFront(item.element)

	c.stats.Hits++
	c.updateHitRate()
	return item.entry, true
}

// Has reports whether a live entry exists under key. It does not touch
// LRU order or hit statistics; an expired entry reads as absent and is
// left for the next Get or cleanup pass to collect.
func (c *MemoryCache) Has(key string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()

	item, exists := c.items[key]
	return exists && !item.entry.Expired(time.Now())
}

// Set stores data under key with the given TTL, stamped now. A zero or
// negative TTL falls back to the configured default.
func (c *MemoryCache) Set(key string, data json.RawMessage, ttl time.Duration) {
	if ttl <= 0 {
		ttl = c.config.DefaultTTL
	}
	c.SetEntry(&types.CacheEntry{
		Key:       key,
		Data:      data,
		Timestamp: time.Now(),
		TTL:       ttl,
		Version:   types.SchemaVersion,
	})
}

// SetEntry stores a prebuilt entry, keeping its original timestamp. Used
// when promoting durable records so their remaining freshness carries over.
func (c *MemoryCache) SetEntry(entry *types.CacheEntry) {
	if entry == nil || entry.Key == "" {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if item, exists := c.items[entry.Key]; exists {
		item.entry = entry
		item.accessCount++
		c.totalAccesses++
		c.evictList.MoveToFront(item.element)
		return
	}

	item := &cacheItem{
		entry:       entry,
		accessCount: 1,
	}
	item.element = c.evictList.PushFront(&listEntry{key: entry.Key})
	c.items[entry.Key] = item
	c.totalAccesses++

	c.evictIfNeeded()
}

// Delete removes the entry stored under key
func (c *MemoryCache) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.removeItem(key)
}

// DeletePrefix removes every entry whose key has the given prefix and
// returns how many were removed
func (c *MemoryCache) DeletePrefix(prefix string) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	var doomed []string
	for key := range c.items {
		if strings.HasPrefix(key, prefix) {
			doomed = append(doomed, key)
		}
	}
	for _, key := range doomed {
		c.removeItem(key)
	}
	return len(doomed)
}

// Clear removes every entry
func (c *MemoryCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.items = make(map[string]*cacheItem)
	c.evictList.Init()
}

// Len returns the number of entries currently cached
func (c *MemoryCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.items)
}

// Keys returns all cache keys (for debugging)
func (c *MemoryCache) Keys() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	keys := make([]string, 0, len(c.items))
	for key := range c.items {
		keys = append(keys, key)
	}
	return keys
}

// Resize changes the entry capacity, evicting from the cold end if the
// cache is now over it
func (c *MemoryCache) Resize(newCapacity int) {
	if newCapacity <= 0 {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.capacity = newCapacity
	c.stats.Capacity = newCapacity
	c.evictIfNeeded()
}

// EvictExpired removes every expired entry and returns how many went
func (c *MemoryCache) EvictExpired() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.evictExpiredLocked()
}

// EvictOldest removes up to n entries from the cold end of the cache and
// returns how many were removed
func (c *MemoryCache) EvictOldest(n int) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for removed < n && c.evictList.Len() > 0 {
		c.evictOldest()
		removed++
	}
	return removed
}

// Stats returns cache statistics
func (c *MemoryCache) Stats() types.CacheStats {
	c.mu.RLock()
	defer c.mu.RUnlock()

	stats := c.stats
	stats.Size = len(c.items)
	stats.Capacity = c.capacity
	if c.capacity > 0 {
		stats.Utilization = float64(len(c.items)) / float64(c.capacity)
	}
	if len(c.items) > 0 {
		stats.AccessDensity = float64(c.totalAccesses) / float64(len(c.items))
	}
	return stats
}

// Close stops the background cleanup goroutine
func (c *MemoryCache) Close() {
	c.closeOnce.Do(func() {
		close(c.stopCh)
	})
	c.cleanupStopped.Wait()
}

// Helper methods

func (c *MemoryCache) removeItem(key string) {
	item, exists := c.items[key]
	if !exists {
		return
	}

	if item.element != nil {
		c.evictList.Remove(item.element)
	}
	delete(c.items, key)
}

func (c *MemoryCache) evictIfNeeded() {
	for len(c.items) > c.capacity && c.evictList.Len() > 0 {
		c.evictOldest()
		c.stats.Evictions++
	}
}

func (c *MemoryCache) evictOldest() {
	element := c.evictList.Back()
	if element == nil {
		return
	}
	c.removeItem(element.Value.(*listEntry).key)
}

func (c *MemoryCache) evictExpiredLocked() int {
	now := time.Now()
	var expired []string
	for key, item := range c.items {
		if item.entry.Expired(now) {
			expired = append(expired, key)
		}
	}
	for _, key := range expired {
		c.removeItem(key)
		c.stats.Expirations++
	}
	return len(expired)
}

func (c *MemoryCache) updateHitRate() {
	total := c.stats.Hits + c.stats.Misses
	if total > 0 {
		c.stats.HitRate = float64(c.stats.Hits) / float64(total)
	}
}

func (c *MemoryCache) cleanupExpired() {
	defer c.cleanupStopped.Done()

	ticker := time.NewTicker(c.config.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.stopCh:
			return
		case <-ticker.C:
			c.EvictExpired()
		}
	}
}
