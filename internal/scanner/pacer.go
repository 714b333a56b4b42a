package scanner

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/time/rate"

	"github.com/prebidwatch/scout/internal/dnscheck"
	"github.com/prebidwatch/scout/internal/domainhealth"
)

// domainPacer bounds pressure on individual domains two ways: a token
// bucket caps request rate, and a slot channel caps in-flight scans.
// Slot counts come from the health tracker's recommendation at first
// use, so a domain that degraded earlier in the run starts narrow.
type domainPacer struct {
	rps     float64
	base    int
	domains *domainhealth.Tracker

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	slots    map[string]chan struct{}
}

func newDomainPacer(rps float64, base int, domains *domainhealth.Tracker) *domainPacer {
	return &domainPacer{
		rps:      rps,
		base:     base,
		domains:  domains,
		limiters: make(map[string]*rate.Limiter),
		slots:    make(map[string]chan struct{}),
	}
}

var noopRelease = func() {}

// wait blocks until the URL's domain has both a rate token and a free
// slot. The caller must invoke the returned release when the scan ends.
func (p *domainPacer) wait(ctx context.Context, url string) (release func(), err error) {
	domain := dnscheck.Hostname(url)
	if domain == "" {
		return noopRelease, nil
	}

	limiter, slots := p.entry(domain, url)
	if limiter != nil {
		if err := limiter.Wait(ctx); err != nil {
			return noopRelease, fmt.Errorf("domain rate wait: %w", err)
		}
	}
	if slots == nil {
		return noopRelease, nil
	}
	select {
	case slots <- struct{}{}:
		return func() { <-slots }, nil
	case <-ctx.Done():
		return noopRelease, ctx.Err()
	}
}

func (p *domainPacer) entry(domain, url string) (*rate.Limiter, chan struct{}) {
	p.mu.Lock()
	defer p.mu.Unlock()

	limiter, ok := p.limiters[domain]
	if !ok && p.rps > 0 {
		limiter = rate.NewLimiter(rate.Limit(p.rps), 1)
		p.limiters[domain] = limiter
	}

	slots, ok := p.slots[domain]
	if !ok {
		width := p.base
		if p.domains != nil {
			width = p.domains.RecommendedConcurrency(url, p.base)
		}
		if width > 0 {
			slots = make(chan struct{}, width)
			p.slots[domain] = slots
		}
	}
	return limiter, slots
}
