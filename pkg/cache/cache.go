package cache

import (
	"sync"
	"time"

	"scanopy-mcp/pkg/logging"
)

// DocumentCache is a time-boxed cache for loaded documents. An entry is
// fresh while its age is below the TTL; a TTL of zero disables caching.
// Zero values (for example an empty document) are cached like any other.
type DocumentCache[T any] struct {
	entries map[string]*entry[T]
	ttl     time.Duration
	now     func() time.Time
	mutex   sync.RWMutex
	stats   CacheStats
	logger  *logging.StructuredLogger
}

type entry[T any] struct {
	value    T
	storedAt time.Time
}

// CacheStats tracks cache performance metrics
type CacheStats struct {
	Hits          int64     `json:"hits"`
	Misses        int64     `json:"misses"`
	Expirations   int64     `json:"expirations"`
	Invalidations int64     `json:"invalidations"`
	Stores        int64     `json:"stores"`
	LastStore     time.Time `json:"lastStore"`
}

// NewDocumentCache creates a cache with the given TTL
func NewDocumentCache[T any](ttl time.Duration, logger *logging.StructuredLogger) *DocumentCache[T] {
	if logger == nil {
		logger = logging.NewLoggingManager().GetLogger("cache")
	}
	return &DocumentCache[T]{
		entries: make(map[string]*entry[T]),
		ttl:     ttl,
		now:     time.Now,
		logger:  logger,
	}
}

// SetClock replaces the time source
func (dc *DocumentCache[T]) SetClock(now func() time.Time) {
	dc.mutex.Lock()
	defer dc.mutex.Unlock()
	dc.now = now
}

// TTL returns the configured freshness interval
func (dc *DocumentCache[T]) TTL() time.Duration {
	return dc.ttl
}

// Get returns the cached value for key when it is still fresh
func (dc *DocumentCache[T]) Get(key string) (T, bool) {
	dc.mutex.Lock()
	defer dc.mutex.Unlock()

	var zero T
	e, exists := dc.entries[key]
	if !exists {
		dc.stats.Misses++
		return zero, false
	}

	if dc.now().Sub(e.storedAt) >= dc.ttl {
		delete(dc.entries, key)
		dc.stats.Misses++
		dc.stats.Expirations++
		dc.logger.LogCacheOperation("expire", key, true, map[string]interface{}{
			"age_ms": dc.now().Sub(e.storedAt).Milliseconds(),
		})
		return zero, false
	}

	dc.stats.Hits++
	return e.value, true
}

// Set stores a value for key
func (dc *DocumentCache[T]) Set(key string, value T) {
	dc.mutex.Lock()
	defer dc.mutex.Unlock()

	now := dc.now()
	dc.entries[key] = &entry[T]{value: value, storedAt: now}
	dc.stats.Stores++
	dc.stats.LastStore = now
	dc.logger.LogCacheOperation("store", key, true, nil)
}

// Invalidate removes a value from the cache
func (dc *DocumentCache[T]) Invalidate(key string) bool {
	dc.mutex.Lock()
	defer dc.mutex.Unlock()

	if _, exists := dc.entries[key]; !exists {
		return false
	}
	delete(dc.entries, key)
	dc.stats.Invalidations++
	dc.logger.LogCacheOperation("invalidate", key, true, nil)
	return true
}

// Clear removes all values from the cache
func (dc *DocumentCache[T]) Clear() {
	dc.mutex.Lock()
	defer dc.mutex.Unlock()

	dc.stats.Invalidations += int64(len(dc.entries))
	dc.entries = make(map[string]*entry[T])
}

// Size returns the number of cached entries, fresh or not
func (dc *DocumentCache[T]) Size() int {
	dc.mutex.RLock()
	defer dc.mutex.RUnlock()

	return len(dc.entries)
}

// GetStats returns cache performance statistics
func (dc *DocumentCache[T]) GetStats() CacheStats {
	dc.mutex.RLock()
	defer dc.mutex.RUnlock()

	return dc.stats
}

func (dc *DocumentCache[T]) hitRatio() float64 {
	total := dc.stats.Hits + dc.stats.Misses
	if total == 0 {
		return 0.0
	}
	return float64(dc.stats.Hits) / float64(total) * 100.0
}

// GetPerformanceMetrics returns detailed performance metrics for monitoring
func (dc *DocumentCache[T]) GetPerformanceMetrics() map[string]interface{} {
	dc.mutex.RLock()
	defer dc.mutex.RUnlock()

	return map[string]interface{}{
		"entries":         len(dc.entries),
		"ttl_seconds":     dc.ttl.Seconds(),
		"cache_hits":      dc.stats.Hits,
		"cache_misses":    dc.stats.Misses,
		"cache_hit_ratio": dc.hitRatio(),
		"expirations":     dc.stats.Expirations,
		"invalidations":   dc.stats.Invalidations,
		"stores":          dc.stats.Stores,
		"last_store":      dc.stats.LastStore,
	}
}
