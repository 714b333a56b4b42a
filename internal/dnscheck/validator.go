// Package dnscheck filters dead domains out of a crawl before any
// automation work is spent on them.
package dnscheck

import (
	"context"
	"net"
	"net/url"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/prebidwatch/scout/internal/metrics"
)

// Resolver is the subset of net.Resolver the validator needs.
type Resolver interface {
	LookupHost(ctx context.Context, host string) ([]string, error)
}

// Result holds the outcome of one hostname lookup.
type Result struct {
	Hostname string
	Valid    bool
	Error    string
}

// DefaultConcurrency bounds in-flight lookups per chunk.
const DefaultConcurrency = 50

// Validator performs bounded-concurrency batch DNS resolution.
type Validator struct {
	resolver Resolver
	timeout  time.Duration
	logger   *zap.Logger
}

// New builds a Validator. A nil resolver uses net.DefaultResolver.
func New(resolver Resolver, timeout time.Duration, logger *zap.Logger) *Validator {
	if resolver == nil {
		resolver = net.DefaultResolver
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Validator{resolver: resolver, timeout: timeout, logger: logger}
}

// BatchValidate resolves the hostname of every URL. Lookups run
// concurrently within fixed-size chunks; chunks run sequentially so the
// total in-flight DNS load stays bounded. Lookup failures mark the URL
// invalid, never abort the batch.
func (v *Validator) BatchValidate(ctx context.Context, urls []string, concurrency int) map[string]Result {
	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}

	results := make(map[string]Result, len(urls))
	var mu sync.Mutex

	for start := 0; start < len(urls); start += concurrency {
		end := start + concurrency
		if end > len(urls) {
			end = len(urls)
		}

		chunkStart := time.Now()
		g, chunkCtx := errgroup.WithContext(ctx)
		for _, raw := range urls[start:end] {
			g.Go(func() error {
				res := v.lookup(chunkCtx, raw)
				mu.Lock()
				results[raw] = res
				mu.Unlock()
				return nil
			})
		}
		// Workers never return errors; Wait only orders chunk completion.
		_ = g.Wait()
		metrics.ObserveDNSBatch(time.Since(chunkStart))

		if ctx.Err() != nil {
			break
		}
	}

	valid := 0
	for _, res := range results {
		if res.Valid {
			valid++
		}
	}
	v.logger.Info("dns validation finished",
		zap.Int("total", len(urls)),
		zap.Int("valid", valid),
		zap.Int("invalid", len(results)-valid),
	)
	return results
}

// ValidateSingle is the quick-check variant; every failure, including
// unparsable URLs, collapses to false.
func (v *Validator) ValidateSingle(ctx context.Context, rawURL string) bool {
	return v.lookup(ctx, rawURL).Valid
}

func (v *Validator) lookup(ctx context.Context, rawURL string) Result {
	host := Hostname(rawURL)
	if host == "" {
		return Result{Hostname: host, Valid: false, Error: "no hostname"}
	}

	lookupCtx, cancel := context.WithTimeout(ctx, v.timeout)
	defer cancel()

	if _, err := v.resolver.LookupHost(lookupCtx, host); err != nil {
		return Result{Hostname: host, Valid: false, Error: err.Error()}
	}
	return Result{Hostname: host, Valid: true}
}

// Hostname extracts the lowercase hostname from a URL or bare domain.
func Hostname(rawURL string) string {
	candidate := rawURL
	if !strings.Contains(candidate, "://") {
		candidate = "https://" + candidate
	}
	u, err := url.Parse(candidate)
	if err != nil {
		return ""
	}
	return strings.ToLower(u.Hostname())
}
