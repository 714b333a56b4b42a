// Package domainhealth keeps rolling per-hostname statistics and uses
// them to predict failures, order work, and shrink concurrency against
// struggling domains.
package domainhealth

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/prebidwatch/scout/internal/dnscheck"
	"github.com/prebidwatch/scout/internal/scan"
	"github.com/prebidwatch/scout/internal/scanerrors"
)

// slowDomainThreshold is the average response time past which a domain
// gets the strongest concurrency reduction.
const slowDomainThreshold = 30 * time.Second

// Health is the per-domain rolling record. Counters accumulate for the
// process lifetime; only Reset clears them.
type Health struct {
	Domain          string
	FailureCount    int
	SuccessCount    int
	LastSuccess     *time.Time
	LastFailure     *time.Time
	LastError       *scanerrors.DetailedError
	AvgResponseTime time.Duration
}

// Partition buckets URLs by predicted outcome, preserving input order
// within each bucket.
type Partition struct {
	Healthy []string
	Risky   []string
	Failing []string
}

// Tracker is safe for concurrent use; one mutex guards the domain map,
// which grows lazily on first observation of a hostname.
type Tracker struct {
	mu      sync.Mutex
	domains map[string]*Health
	clock   scan.Clock
	logger  *zap.Logger
}

// New constructs a Tracker.
func New(clock scan.Clock, logger *zap.Logger) *Tracker {
	if clock == nil {
		clock = scan.SystemClock{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Tracker{
		domains: make(map[string]*Health),
		clock:   clock,
		logger:  logger,
	}
}

// RecordSuccess notes a completed scan. The running average is
// (old+new)/2, deliberately weighting the most recent observation so a
// domain that recovers is trusted again quickly.
func (t *Tracker) RecordSuccess(url string, responseTime time.Duration) {
	now := t.clock.Now()

	t.mu.Lock()
	defer t.mu.Unlock()
	h := t.getOrCreateLocked(url)
	h.SuccessCount++
	h.LastSuccess = &now
	if h.AvgResponseTime == 0 {
		h.AvgResponseTime = responseTime
	} else {
		h.AvgResponseTime = (h.AvgResponseTime + responseTime) / 2
	}
}

// RecordFailure notes a failed scan with its classified error.
func (t *Tracker) RecordFailure(url string, derr scanerrors.DetailedError) {
	now := t.clock.Now()

	t.mu.Lock()
	defer t.mu.Unlock()
	h := t.getOrCreateLocked(url)
	h.FailureCount++
	h.LastFailure = &now
	errCopy := derr
	h.LastError = &errCopy
}

// IsLikelyToFail predicts whether the next scan of this URL's domain
// will fail: never-succeeded domains with 3+ failures, domains failing
// more than 80% of 5+ attempts, and domains whose last error is
// non-retryable.
func (t *Tracker) IsLikelyToFail(url string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.isLikelyToFailLocked(url)
}

func (t *Tracker) isLikelyToFailLocked(url string) bool {
	h, ok := t.domains[dnscheck.Hostname(url)]
	if !ok {
		return false
	}
	if h.FailureCount >= 3 && h.SuccessCount == 0 {
		return true
	}
	total := h.FailureCount + h.SuccessCount
	if total > 5 && float64(h.FailureCount)/float64(total) > 0.8 {
		return true
	}
	if h.LastError != nil && !scanerrors.RetryStrategyFor(h.LastError.Code).ShouldRetry {
		return true
	}
	return false
}

// PrioritizeURLs partitions urls into healthy/risky/failing in one
// stable pass. Unknown domains and domains without failures are healthy.
func (t *Tracker) PrioritizeURLs(urls []string) Partition {
	t.mu.Lock()
	defer t.mu.Unlock()

	var p Partition
	for _, url := range urls {
		h, known := t.domains[dnscheck.Hostname(url)]
		switch {
		case !known || h.FailureCount == 0:
			p.Healthy = append(p.Healthy, url)
		case t.isLikelyToFailLocked(url):
			p.Failing = append(p.Failing, url)
		default:
			p.Risky = append(p.Risky, url)
		}
	}
	return p
}

// RecommendedConcurrency shrinks the base concurrency for unhealthy
// domains. Slow domains (avg response over 30s) get base/3 with a floor
// of 2, superseding the failure-based halving (floor 1). The reductions
// never stack.
func (t *Tracker) RecommendedConcurrency(url string, base int) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	h, ok := t.domains[dnscheck.Hostname(url)]
	if !ok {
		return base
	}
	if h.AvgResponseTime > slowDomainThreshold {
		reduced := base / 3
		if reduced < 2 {
			reduced = 2
		}
		return reduced
	}
	if h.FailureCount > 0 {
		reduced := base / 2
		if reduced < 1 {
			reduced = 1
		}
		return reduced
	}
	return base
}

// Snapshot returns a copy of a domain's health record.
func (t *Tracker) Snapshot(domain string) (Health, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	h, ok := t.domains[domain]
	if !ok {
		return Health{}, false
	}
	return *h, true
}

// Reset clears a domain's accumulated statistics.
func (t *Tracker) Reset(domain string) {
	t.mu.Lock()
	delete(t.domains, domain)
	t.mu.Unlock()
	t.logger.Info("domain health reset", zap.String("domain", domain))
}

func (t *Tracker) getOrCreateLocked(url string) *Health {
	domain := dnscheck.Hostname(url)
	h, ok := t.domains[domain]
	if !ok {
		h = &Health{Domain: domain}
		t.domains[domain] = h
	}
	return h
}
