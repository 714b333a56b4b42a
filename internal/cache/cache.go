// Package cache keeps recently fetched page content so repeat scans of a
// URL skip the network entirely. Entries are bounded by count and total
// bytes, expire on a TTL, and are evicted lowest-hit-count first so hot
// URLs survive churn from many cold ones.
package cache

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/prebidwatch/scout/internal/metrics"
	"github.com/prebidwatch/scout/internal/scan"
)

// Config bounds the cache.
type Config struct {
	MaxEntries int
	MaxBytes   int64
	TTL        time.Duration
	// Dir, when set, mirrors entries to disk so a restarted process can
	// reuse them. Unusable directories degrade to memory-only.
	Dir string
}

// Entry is one cached page. Owned exclusively by the cache.
type Entry struct {
	URL       string    `json:"url"`
	Content   []byte    `json:"content"`
	Size      int64     `json:"size"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
	HitCount  int64     `json:"hit_count"`
}

// Stats is a point-in-time cache summary.
type Stats struct {
	Entries     int
	Size        int64
	HitRate     float64
	OldestEntry *time.Time
	NewestEntry *time.Time
}

// Cache is safe for concurrent use; one mutex guards all entry state.
type Cache struct {
	mu      sync.Mutex
	cfg     Config
	entries map[string]*Entry
	size    int64
	hits    int64
	misses  int64
	clock   scan.Clock
	mirror  *mirror
	logger  *zap.Logger
}

// New constructs a Cache. Persistence problems are logged and degrade to
// a memory-only cache; construction itself never fails.
func New(cfg Config, clock scan.Clock, logger *zap.Logger) *Cache {
	if clock == nil {
		clock = scan.SystemClock{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.MaxEntries <= 0 {
		cfg.MaxEntries = 1000
	}
	if cfg.MaxBytes <= 0 {
		cfg.MaxBytes = 100 * 1024 * 1024
	}
	if cfg.TTL <= 0 {
		cfg.TTL = time.Hour
	}

	c := &Cache{
		cfg:     cfg,
		entries: make(map[string]*Entry),
		clock:   clock,
		logger:  logger,
	}
	if cfg.Dir != "" {
		c.mirror = newMirror(cfg.Dir, logger)
		c.restore()
	}
	return c
}

// Set stores content for a URL. Content larger than the byte budget on
// its own is rejected as a no-op. Existing entries are overwritten with
// fresh timestamps and a zeroed hit count.
func (c *Cache) Set(url string, content []byte) {
	size := int64(len(content))
	if size > c.cfg.MaxBytes {
		c.logger.Debug("cache rejecting oversized content",
			zap.String("url", url), zap.Int64("size", size))
		return
	}

	now := c.clock.Now()
	entry := &Entry{
		URL:       url,
		Content:   append([]byte(nil), content...),
		Size:      size,
		CreatedAt: now,
		ExpiresAt: now.Add(c.cfg.TTL),
	}

	c.mu.Lock()
	if old, ok := c.entries[url]; ok {
		c.size -= old.Size
		delete(c.entries, url)
	}
	c.evictUntilFitsLocked(size)
	c.entries[url] = entry
	c.size += size
	snapshot := *entry
	c.mu.Unlock()

	c.mirror.write(&snapshot)
}

// Get returns the cached content, or nil on a miss. Expired entries are
// removed lazily on read and count as misses.
func (c *Cache) Get(url string) []byte {
	now := c.clock.Now()

	c.mu.Lock()
	entry, ok := c.entries[url]
	if !ok {
		c.misses++
		c.mu.Unlock()
		metrics.ObserveCacheEvent("miss")
		return nil
	}
	if now.After(entry.ExpiresAt) {
		c.removeLocked(url)
		c.misses++
		c.mu.Unlock()
		metrics.ObserveCacheEvent("expired")
		return nil
	}
	entry.HitCount++
	c.hits++
	content := append([]byte(nil), entry.Content...)
	c.mu.Unlock()

	metrics.ObserveCacheEvent("hit")
	return content
}

// Delete removes an entry, reporting whether one was present.
func (c *Cache) Delete(url string) bool {
	c.mu.Lock()
	_, ok := c.entries[url]
	if ok {
		c.removeLocked(url)
	}
	c.mu.Unlock()
	return ok
}

// Clear drops every entry.
func (c *Cache) Clear() {
	c.mu.Lock()
	urls := make([]string, 0, len(c.entries))
	for url := range c.entries {
		urls = append(urls, url)
	}
	for _, url := range urls {
		c.removeLocked(url)
	}
	c.mu.Unlock()
}

// Cleanup proactively sweeps out expired entries; the scanner calls it
// between batches rather than relying only on lazy expiry.
func (c *Cache) Cleanup() int {
	now := c.clock.Now()

	c.mu.Lock()
	var expired []string
	for url, entry := range c.entries {
		if now.After(entry.ExpiresAt) {
			expired = append(expired, url)
		}
	}
	for _, url := range expired {
		c.removeLocked(url)
	}
	c.mu.Unlock()

	if len(expired) > 0 {
		c.logger.Debug("cache cleanup removed expired entries", zap.Int("count", len(expired)))
	}
	return len(expired)
}

// GetStats reports entry count, byte size, cumulative hit rate, and the
// creation bounds of the current population.
func (c *Cache) GetStats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	stats := Stats{Entries: len(c.entries), Size: c.size}
	if total := c.hits + c.misses; total > 0 {
		stats.HitRate = float64(c.hits) / float64(total)
	}
	for _, entry := range c.entries {
		created := entry.CreatedAt
		if stats.OldestEntry == nil || created.Before(*stats.OldestEntry) {
			t := created
			stats.OldestEntry = &t
		}
		if stats.NewestEntry == nil || created.After(*stats.NewestEntry) {
			t := created
			stats.NewestEntry = &t
		}
	}
	return stats
}

// Close flushes nothing (writes are mirrored eagerly) but exists so the
// owning run context has an explicit end-of-life call.
func (c *Cache) Close() {
	c.mu.Lock()
	entries := len(c.entries)
	c.mu.Unlock()
	c.logger.Debug("cache closed", zap.Int("entries", entries))
}

// evictUntilFitsLocked makes room for an incoming entry of the given
// size. Victims are chosen by lowest hit count, ties broken by oldest
// insertion. Not a textbook LFU or LRU; this exact policy is load-bearing.
func (c *Cache) evictUntilFitsLocked(incoming int64) {
	for len(c.entries) >= c.cfg.MaxEntries || c.size+incoming > c.cfg.MaxBytes {
		victim := ""
		var victimEntry *Entry
		for url, entry := range c.entries {
			if victimEntry == nil ||
				entry.HitCount < victimEntry.HitCount ||
				(entry.HitCount == victimEntry.HitCount && entry.CreatedAt.Before(victimEntry.CreatedAt)) {
				victim = url
				victimEntry = entry
			}
		}
		if victimEntry == nil {
			return
		}
		c.removeLocked(victim)
		metrics.ObserveCacheEvent("eviction")
	}
}

func (c *Cache) removeLocked(url string) {
	entry, ok := c.entries[url]
	if !ok {
		return
	}
	c.size -= entry.Size
	delete(c.entries, url)
	c.mirror.remove(url)
}

// restore reloads mirrored entries, skipping expired and corrupt files.
func (c *Cache) restore() {
	entries := c.mirror.load()
	now := c.clock.Now()

	c.mu.Lock()
	defer c.mu.Unlock()
	for _, entry := range entries {
		if now.After(entry.ExpiresAt) {
			c.mirror.remove(entry.URL)
			continue
		}
		if len(c.entries) >= c.cfg.MaxEntries || c.size+entry.Size > c.cfg.MaxBytes {
			break
		}
		c.entries[entry.URL] = entry
		c.size += entry.Size
	}
	if len(c.entries) > 0 {
		c.logger.Info("cache restored from disk", zap.Int("entries", len(c.entries)))
	}
}
