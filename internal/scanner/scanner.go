// Package scanner orchestrates a crawl: loading the URL source,
// pre-validating DNS, filtering the blacklist, sweeping batches through
// the automation engine with retries, and recording progress so an
// interrupted run resumes where it stopped.
package scanner

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/prebidwatch/scout/internal/blacklist"
	"github.com/prebidwatch/scout/internal/cache"
	"github.com/prebidwatch/scout/internal/clusterhealth"
	"github.com/prebidwatch/scout/internal/dnscheck"
	"github.com/prebidwatch/scout/internal/domainhealth"
	"github.com/prebidwatch/scout/internal/engine"
	"github.com/prebidwatch/scout/internal/ledger"
	"github.com/prebidwatch/scout/internal/metrics"
	"github.com/prebidwatch/scout/internal/scan"
	"github.com/prebidwatch/scout/internal/scanerrors"
	"github.com/prebidwatch/scout/internal/urlsource"
)

// unhealthyCooldown is how long the sweep pauses when the cluster
// monitor reports an unhealthy session before resetting and resuming.
const unhealthyCooldown = 30 * time.Second

// Config tunes one crawl run.
type Config struct {
	Concurrency    int
	BatchSize      int
	ProgressDir    string
	PerDomainRPS   float64
	SkipProcessed  bool
	DNSEnabled     bool
	DNSConcurrency int
	ProbeFirst     bool
	PublishTopic   string
	PublishResults bool
}

// Services bundles the collaborators a Scanner drives. Source, Engine
// and Tracker are required; the rest may be nil and are skipped.
type Services struct {
	Source    urlsource.Source
	DNS       *dnscheck.Validator
	Cache     *cache.Cache
	Blacklist *blacklist.Blacklist
	Domains   *domainhealth.Tracker
	Cluster   *clusterhealth.Monitor
	Prober    *engine.Prober
	Engine    scan.Engine
	Tracker   scan.Tracker
	Publisher scan.Publisher
	Clock     scan.Clock
	Logger    *zap.Logger
}

// Detection is the payload published for every completed scan.
type Detection struct {
	RunID         string    `json:"runId"`
	URL           string    `json:"url"`
	HasPrebid     bool      `json:"hasPrebid"`
	PrebidVersion string    `json:"prebidVersion,omitempty"`
	UsedHeadless  bool      `json:"usedHeadless"`
	ScannedAt     time.Time `json:"scannedAt"`
}

// Summary reports what one Run accomplished.
type Summary struct {
	RunID            string
	TotalURLs        int
	Scanned          int
	Succeeded        int
	Failed           int
	Skipped          int
	CompletedBatches int
	FailedBatches    int
}

// Scanner drives one crawl over a URL range.
type Scanner struct {
	cfg   Config
	svc   Services
	runID string
	pacer *domainPacer
}

// New validates the wiring and builds a Scanner.
func New(cfg Config, svc Services) (*Scanner, error) {
	if svc.Source == nil {
		return nil, fmt.Errorf("url source is required")
	}
	if svc.Engine == nil {
		return nil, fmt.Errorf("automation engine is required")
	}
	if svc.Tracker == nil {
		return nil, fmt.Errorf("url tracker is required")
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 10
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if cfg.ProgressDir == "" {
		cfg.ProgressDir = "."
	}
	if svc.Clock == nil {
		svc.Clock = scan.SystemClock{}
	}
	if svc.Logger == nil {
		svc.Logger = zap.NewNop()
	}
	return &Scanner{
		cfg:   cfg,
		svc:   svc,
		runID: uuid.NewString(),
		pacer: newDomainPacer(cfg.PerDomainRPS, cfg.Concurrency, svc.Domains),
	}, nil
}

// Run executes the crawl over the given range. A nil rng scans the whole
// source. Cancellation via ctx stops between URLs and leaves the ledger,
// blacklist and cache in a consistent persisted state.
func (s *Scanner) Run(ctx context.Context, rng *urlsource.Range) (Summary, error) {
	urls, err := s.svc.Source.Load(ctx)
	if err != nil {
		return Summary{}, fmt.Errorf("load url source: %w", err)
	}

	// The range is applied exactly once: sources that already consumed
	// it during streaming must not have it re-applied to their output.
	if rng != nil && !s.svc.Source.RangeConsumed() {
		urls = rng.Apply(urls)
	}

	effective := urlsource.Range{Start: 1, End: len(urls)}
	if rng != nil {
		effective = *rng
	}
	if len(urls) == 0 {
		s.svc.Logger.Warn("url source is empty for range", zap.String("range", effective.String()))
		return Summary{RunID: s.runID}, nil
	}

	led := ledger.Open(s.cfg.ProgressDir, effective, s.cfg.BatchSize, s.svc.Clock, s.svc.Logger)

	if s.svc.Cluster != nil {
		s.svc.Cluster.StartMonitoring(s.svc.Engine.Failures())
		defer s.svc.Cluster.StopMonitoring()
	}

	summary := Summary{RunID: s.runID, TotalURLs: len(urls)}
	s.svc.Logger.Info("crawl starting",
		zap.String("run_id", s.runID),
		zap.String("range", effective.String()),
		zap.Int("urls", len(urls)),
		zap.Int("batches", led.TotalBatches()),
	)

	for {
		batch, ok := led.NextBatch()
		if !ok {
			break
		}
		if err := ctx.Err(); err != nil {
			return summary, err
		}

		s.waitForHealthyCluster(ctx)

		bounds := led.BatchBounds(batch)
		batchURLs := sliceForBounds(urls, effective, bounds)

		if err := s.runBatch(ctx, batch, batchURLs, &summary); err != nil {
			if markErr := led.MarkFailed(batch, err.Error()); markErr != nil {
				s.svc.Logger.Error("record batch failure", zap.Int("batch", batch), zap.Error(markErr))
			}
			summary.FailedBatches++
			metrics.ObserveBatch("failed")
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return summary, err
			}
			s.svc.Logger.Error("batch failed", zap.Int("batch", batch), zap.Error(err))
			continue
		}

		if err := led.MarkCompleted(batch, len(batchURLs)); err != nil {
			s.svc.Logger.Error("record batch completion", zap.Int("batch", batch), zap.Error(err))
		}
		summary.CompletedBatches++
		metrics.ObserveBatch("completed")

		if s.svc.Cache != nil {
			s.svc.Cache.Cleanup()
		}
	}

	s.svc.Logger.Info("crawl finished",
		zap.String("run_id", s.runID),
		zap.Int("scanned", summary.Scanned),
		zap.Int("succeeded", summary.Succeeded),
		zap.Int("failed", summary.Failed),
		zap.Int("skipped", summary.Skipped),
	)
	return summary, nil
}

// runBatch filters, prioritizes and scans one batch. A returned error is
// batch-level (the batch should be retried whole); individual URL
// failures are absorbed into the tracker and summary instead.
func (s *Scanner) runBatch(ctx context.Context, batch int, batchURLs []string, summary *Summary) error {
	if len(batchURLs) == 0 {
		return nil
	}
	logger := s.svc.Logger.With(zap.Int("batch", batch))

	scannable := batchURLs
	if s.cfg.DNSEnabled && s.svc.DNS != nil {
		results := s.svc.DNS.BatchValidate(ctx, scannable, s.cfg.DNSConcurrency)
		kept := scannable[:0:0]
		for _, url := range scannable {
			if res, ok := results[url]; ok && res.Valid {
				kept = append(kept, url)
			} else {
				summary.Skipped++
				s.recordSkip(ctx, url, "dns resolution failed")
			}
		}
		scannable = kept
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	if s.svc.Blacklist != nil {
		valid, excluded := s.svc.Blacklist.FilterURLs(scannable)
		for _, url := range excluded {
			summary.Skipped++
			s.recordSkip(ctx, url, "blacklisted")
		}
		scannable = valid
	}

	if s.cfg.SkipProcessed {
		kept := scannable[:0:0]
		for _, url := range scannable {
			rec, err := s.svc.Tracker.Get(ctx, url)
			if err == nil && rec.Status == scan.StatusCompleted {
				summary.Skipped++
				continue
			}
			kept = append(kept, url)
		}
		scannable = kept
	}

	ordered := scannable
	if s.svc.Domains != nil {
		p := s.svc.Domains.PrioritizeURLs(scannable)
		ordered = make([]string, 0, len(scannable))
		ordered = append(ordered, p.Healthy...)
		ordered = append(ordered, p.Risky...)
		ordered = append(ordered, p.Failing...)
	}

	logger.Info("batch starting",
		zap.Int("urls", len(batchURLs)),
		zap.Int("scannable", len(ordered)),
	)

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.Concurrency)
	for _, url := range ordered {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			ok := s.scanOne(gctx, url)
			mu.Lock()
			summaryAdd(summary, ok)
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	return ctx.Err()
}

// scanOne processes a single URL end to end, reporting success. All
// failure accounting (tracker, domain health, blacklist) happens here.
func (s *Scanner) scanOne(ctx context.Context, url string) bool {
	metrics.IncActiveScans()
	defer metrics.DecActiveScans()

	if result, ok := s.fromCache(url); ok {
		s.finishSuccess(ctx, url, result, "cache")
		return true
	}

	release, err := s.pacer.wait(ctx, url)
	if err != nil {
		return false
	}
	defer release()

	if s.cfg.ProbeFirst && s.svc.Prober != nil {
		if result, ok := s.probe(ctx, url); ok {
			s.finishSuccess(ctx, url, result, "probe")
			return true
		}
	}

	result, err := s.scanWithRetries(ctx, url)
	if err != nil {
		s.finishFailure(ctx, url, err)
		return false
	}
	s.finishSuccess(ctx, url, result, "headless")
	return true
}

// fromCache serves the scan from cached content when possible.
func (s *Scanner) fromCache(url string) (scan.Result, bool) {
	if s.svc.Cache == nil {
		return scan.Result{}, false
	}
	content := s.svc.Cache.Get(url)
	if content == nil {
		return scan.Result{}, false
	}
	det := engine.DetectStatic(content)
	return scan.Result{
		URL:           url,
		Content:       content,
		HasPrebid:     det.HasPrebid,
		PrebidVersion: det.Version,
	}, true
}

// probe runs the cheap static pre-scan. Only a conclusive detection
// short-circuits the headless engine; probe errors and inconclusive
// pages both fall through.
func (s *Scanner) probe(ctx context.Context, url string) (scan.Result, bool) {
	res, err := s.svc.Prober.Probe(ctx, url)
	if err != nil || !res.Detection.Conclusive {
		return scan.Result{}, false
	}
	if s.svc.Cache != nil {
		s.svc.Cache.Set(url, res.Content)
	}
	return scan.Result{
		URL:           url,
		Content:       res.Content,
		HasPrebid:     res.Detection.HasPrebid,
		PrebidVersion: res.Detection.Version,
		StatusCode:    res.StatusCode,
		Duration:      res.Duration,
	}, true
}

// scanWithRetries drives the headless engine under the per-code retry
// policy. Crashes feed the blacklist counter on every occurrence.
func (s *Scanner) scanWithRetries(ctx context.Context, url string) (scan.Result, error) {
	var lastErr error
	for attempt := 0; ; attempt++ {
		result, err := s.svc.Engine.Scan(ctx, url)
		if err == nil {
			if s.svc.Cache != nil {
				s.svc.Cache.Set(url, result.Content)
			}
			return result, nil
		}
		lastErr = err

		derr := scanerrors.Classify(err)
		if s.svc.Domains != nil {
			s.svc.Domains.RecordFailure(url, derr)
		}
		if derr.IsCrash() && s.svc.Blacklist != nil {
			s.svc.Blacklist.RecordCrash(url, derr.Message)
		}

		strategy := scanerrors.RetryStrategyFor(derr.Code)
		if !strategy.ShouldRetry || attempt >= strategy.MaxAttempts {
			return scan.Result{}, lastErr
		}

		metrics.ObserveRetry(string(derr.Category))
		s.svc.Logger.Debug("retrying scan",
			zap.String("url", url),
			zap.String("code", string(derr.Code)),
			zap.Int("attempt", attempt+1),
		)
		select {
		case <-time.After(strategy.DelayForAttempt(attempt + 1)):
		case <-ctx.Done():
			return scan.Result{}, ctx.Err()
		}
	}
}

func (s *Scanner) finishSuccess(ctx context.Context, url string, result scan.Result, mode string) {
	if s.svc.Domains != nil && mode != "cache" {
		s.svc.Domains.RecordSuccess(url, result.Duration)
	}
	metrics.ObserveScan("success", mode, result.Duration)

	rec := scan.URLRecord{
		URL:           url,
		Status:        scan.StatusCompleted,
		HasPrebid:     result.HasPrebid,
		PrebidVersion: result.PrebidVersion,
		Attempts:      1,
		UpdatedAt:     s.svc.Clock.Now(),
	}
	if prev, err := s.svc.Tracker.Get(ctx, url); err == nil {
		rec.Attempts = prev.Attempts + 1
	}
	if err := s.svc.Tracker.Upsert(ctx, rec); err != nil {
		s.svc.Logger.Error("record scan result", zap.String("url", url), zap.Error(err))
	}

	if s.cfg.PublishResults && s.svc.Publisher != nil {
		payload := Detection{
			RunID:         s.runID,
			URL:           url,
			HasPrebid:     result.HasPrebid,
			PrebidVersion: result.PrebidVersion,
			UsedHeadless:  result.UsedHeadless,
			ScannedAt:     s.svc.Clock.Now(),
		}
		if _, err := s.svc.Publisher.Publish(ctx, s.cfg.PublishTopic, payload); err != nil {
			s.svc.Logger.Error("publish detection", zap.String("url", url), zap.Error(err))
		}
	}
}

func (s *Scanner) finishFailure(ctx context.Context, url string, scanErr error) {
	metrics.ObserveScan("failure", "headless", 0)

	rec := scan.URLRecord{
		URL:       url,
		Status:    scan.StatusFailed,
		Attempts:  1,
		LastError: scanErr.Error(),
		UpdatedAt: s.svc.Clock.Now(),
	}
	if prev, err := s.svc.Tracker.Get(ctx, url); err == nil {
		rec.Attempts = prev.Attempts + 1
	}
	if err := s.svc.Tracker.Upsert(ctx, rec); err != nil {
		s.svc.Logger.Error("record scan failure", zap.String("url", url), zap.Error(err))
	}
}

func (s *Scanner) recordSkip(ctx context.Context, url, reason string) {
	metrics.ObserveScan("skipped", "none", 0)
	rec := scan.URLRecord{
		URL:       url,
		Status:    scan.StatusSkipped,
		LastError: reason,
		UpdatedAt: s.svc.Clock.Now(),
	}
	if err := s.svc.Tracker.Upsert(ctx, rec); err != nil {
		s.svc.Logger.Error("record skip", zap.String("url", url), zap.Error(err))
	}
}

// waitForHealthyCluster pauses the sweep when the monitor reports too
// many engine failures, then resets the counter and continues. Purely
// advisory back-pressure; cancellation cuts the pause short.
func (s *Scanner) waitForHealthyCluster(ctx context.Context) {
	if s.svc.Cluster == nil {
		return
	}
	status := s.svc.Cluster.GetHealthStatus()
	if status.Healthy {
		return
	}
	s.svc.Logger.Warn("cluster unhealthy, pausing sweep",
		zap.Int("errors", status.ErrorCount),
		zap.Duration("cooldown", unhealthyCooldown),
	)
	select {
	case <-time.After(unhealthyCooldown):
	case <-ctx.Done():
	}
	s.svc.Cluster.ResetErrorCount()
}

// sliceForBounds maps absolute source positions onto the loaded slice.
func sliceForBounds(urls []string, effective, bounds urlsource.Range) []string {
	start := bounds.Start - effective.Start
	end := bounds.End - effective.Start + 1
	if start < 0 {
		start = 0
	}
	if end > len(urls) {
		end = len(urls)
	}
	if start >= end {
		return nil
	}
	return urls[start:end]
}

func summaryAdd(summary *Summary, ok bool) {
	summary.Scanned++
	if ok {
		summary.Succeeded++
	} else {
		summary.Failed++
	}
}
