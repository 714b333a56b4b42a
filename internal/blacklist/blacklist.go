// Package blacklist permanently excludes URLs that repeatedly crash the
// automation engine. Membership is monotonic in normal operation; only
// an explicit administrative call removes a URL.
package blacklist

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/prebidwatch/scout/internal/metrics"
	"github.com/prebidwatch/scout/internal/scan"
)

// DefaultCrashThreshold is how many crashes blacklist a URL.
const DefaultCrashThreshold = 2

// record is the persisted file shape.
type record struct {
	URLs        []string       `json:"urls"`
	CrashCounts map[string]int `json:"crashCounts"`
	LastUpdated time.Time      `json:"lastUpdated"`
}

// CrashingURL pairs a URL with its crash count for stats output.
type CrashingURL struct {
	URL     string
	Crashes int
}

// Stats summarizes the blacklist.
type Stats struct {
	BlacklistedCount int
	CrashingURLs     []CrashingURL
}

// Blacklist is safe for concurrent use.
type Blacklist struct {
	mu          sync.Mutex
	path        string
	threshold   int
	urls        map[string]struct{}
	crashCounts map[string]int
	clock       scan.Clock
	logger      *zap.Logger
}

// Load builds a Blacklist backed by the given file. A missing or
// unreadable file starts empty with a warning; it is never fatal.
func Load(path string, threshold int, clock scan.Clock, logger *zap.Logger) *Blacklist {
	if threshold <= 0 {
		threshold = DefaultCrashThreshold
	}
	if clock == nil {
		clock = scan.SystemClock{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	b := &Blacklist{
		path:        path,
		threshold:   threshold,
		urls:        make(map[string]struct{}),
		crashCounts: make(map[string]int),
		clock:       clock,
		logger:      logger,
	}
	b.restore()
	return b
}

// IsBlacklisted reports whether the URL is permanently excluded.
func (b *Blacklist) IsBlacklisted(url string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.urls[url]
	return ok
}

// RecordCrash bumps the crash counter for a URL. Reaching the threshold
// adds it to the blacklist irreversibly and persists immediately.
func (b *Blacklist) RecordCrash(url, errorDescription string) {
	b.mu.Lock()
	b.crashCounts[url]++
	count := b.crashCounts[url]
	_, already := b.urls[url]
	escalated := count >= b.threshold && !already
	if escalated {
		b.urls[url] = struct{}{}
	}
	b.mu.Unlock()

	if escalated {
		b.logger.Warn("url blacklisted after repeated crashes",
			zap.String("url", url),
			zap.Int("crashes", count),
			zap.String("last_error", errorDescription),
		)
		metrics.ObserveBlacklisted()
	} else {
		b.logger.Debug("crash recorded",
			zap.String("url", url),
			zap.Int("crashes", count),
			zap.String("error", errorDescription),
		)
	}
	b.persist()
}

// AddToBlacklist is the administrative direct add.
func (b *Blacklist) AddToBlacklist(url, reason string) {
	b.mu.Lock()
	b.urls[url] = struct{}{}
	b.mu.Unlock()

	b.logger.Info("url blacklisted", zap.String("url", url), zap.String("reason", reason))
	b.persist()
}

// RemoveFromBlacklist is the administrative removal; it also clears the
// crash counter so the URL gets a fresh start.
func (b *Blacklist) RemoveFromBlacklist(url string) {
	b.mu.Lock()
	delete(b.urls, url)
	delete(b.crashCounts, url)
	b.mu.Unlock()

	b.logger.Info("url removed from blacklist", zap.String("url", url))
	b.persist()
}

// FilterURLs partitions urls into scannable and excluded, preserving
// relative order in both buckets.
func (b *Blacklist) FilterURLs(urls []string) (valid, blacklisted []string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, url := range urls {
		if _, ok := b.urls[url]; ok {
			blacklisted = append(blacklisted, url)
		} else {
			valid = append(valid, url)
		}
	}
	return valid, blacklisted
}

// GetStats reports the blacklist size and crashing URLs sorted by crash
// count descending.
func (b *Blacklist) GetStats() Stats {
	b.mu.Lock()
	defer b.mu.Unlock()

	crashing := make([]CrashingURL, 0, len(b.crashCounts))
	for url, count := range b.crashCounts {
		crashing = append(crashing, CrashingURL{URL: url, Crashes: count})
	}
	sort.Slice(crashing, func(i, j int) bool {
		if crashing[i].Crashes != crashing[j].Crashes {
			return crashing[i].Crashes > crashing[j].Crashes
		}
		return crashing[i].URL < crashing[j].URL
	})
	return Stats{BlacklistedCount: len(b.urls), CrashingURLs: crashing}
}

func (b *Blacklist) restore() {
	data, err := os.ReadFile(b.path)
	if err != nil {
		if !os.IsNotExist(err) {
			b.logger.Warn("blacklist unreadable, starting empty",
				zap.String("path", b.path), zap.Error(err))
		}
		return
	}
	var rec record
	if err := json.Unmarshal(data, &rec); err != nil {
		b.logger.Warn("blacklist corrupt, starting empty",
			zap.String("path", b.path), zap.Error(err))
		return
	}
	for _, url := range rec.URLs {
		b.urls[url] = struct{}{}
	}
	for url, count := range rec.CrashCounts {
		b.crashCounts[url] = count
	}
	b.logger.Info("blacklist loaded",
		zap.String("path", b.path),
		zap.Int("urls", len(b.urls)),
	)
}

// persist writes the file atomically (temp file + rename) so a crash
// mid-write never leaves a truncated canonical file. Failures are logged
// and the run continues without persistence.
func (b *Blacklist) persist() {
	b.mu.Lock()
	rec := record{
		URLs:        make([]string, 0, len(b.urls)),
		CrashCounts: make(map[string]int, len(b.crashCounts)),
		LastUpdated: b.clock.Now(),
	}
	for url := range b.urls {
		rec.URLs = append(rec.URLs, url)
	}
	for url, count := range b.crashCounts {
		rec.CrashCounts[url] = count
	}
	b.mu.Unlock()

	sort.Strings(rec.URLs)
	if err := writeAtomic(b.path, rec); err != nil {
		b.logger.Warn("blacklist persist failed", zap.String("path", b.path), zap.Error(err))
	}
}

func writeAtomic(path string, rec record) error {
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal blacklist: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("write blacklist temp file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("replace blacklist file: %w", err)
	}
	return nil
}
