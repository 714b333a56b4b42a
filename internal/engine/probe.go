package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"
)

// ProbeConfig controls the static pre-scan fetch.
type ProbeConfig struct {
	UserAgent string
	Timeout   time.Duration
}

// Prober does a cheap plain-HTTP fetch and static detection so that
// conclusively detectable pages never pay for a headless browser.
type Prober struct {
	cfg           ProbeConfig
	baseCollector *colly.Collector
	logger        *zap.Logger
}

// NewProber builds a Prober.
func NewProber(cfg ProbeConfig, logger *zap.Logger) *Prober {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	c := colly.NewCollector(colly.Async(false))
	c.IgnoreRobotsTxt = false
	return &Prober{cfg: cfg, baseCollector: c, logger: logger}
}

// ProbeResult carries the static fetch outcome.
type ProbeResult struct {
	Content    []byte
	StatusCode int
	Detection  StaticDetection
	Duration   time.Duration
}

// Probe fetches the URL without a browser and runs static detection.
// Fetch errors are returned for classification; an inconclusive probe
// is not an error, the caller just promotes to headless.
func (p *Prober) Probe(ctx context.Context, url string) (ProbeResult, error) {
	collector := p.baseCollector.Clone()
	if p.cfg.UserAgent != "" {
		collector.UserAgent = p.cfg.UserAgent
	}
	collector.SetRequestTimeout(p.cfg.Timeout)

	var (
		result   ProbeResult
		fetchErr error
	)
	start := time.Now()

	collector.OnResponse(func(r *colly.Response) {
		result.Content = append([]byte(nil), r.Body...)
		result.StatusCode = r.StatusCode
	})
	collector.OnError(func(_ *colly.Response, err error) {
		fetchErr = err
	})

	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(url)
	}()

	select {
	case <-ctx.Done():
		return ProbeResult{}, fmt.Errorf("probe canceled: %w", ctx.Err())
	case err := <-done:
		if err != nil {
			return ProbeResult{}, fmt.Errorf("probe visit: %w", err)
		}
		if fetchErr != nil {
			return ProbeResult{}, fmt.Errorf("probe response: %w", fetchErr)
		}
	}

	result.Duration = time.Since(start)
	result.Detection = DetectStatic(result.Content)
	return result, nil
}
