package engine

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/prebidwatch/scout/internal/scan"
)

// Config controls the headless engine.
type Config struct {
	MaxParallel       int
	UserAgent         string
	NavigationTimeout time.Duration
	// FailureBuffer sizes the failure-event channel consumed by the
	// cluster health monitor; events overflowing it are dropped rather
	// than blocking scans.
	FailureBuffer int
}

// ChromeEngine implements scan.Engine with chromedp and headless Chrome.
type ChromeEngine struct {
	cfg         Config
	limiter     chan struct{}
	allocator   context.Context
	allocCancel context.CancelFunc
	failures    chan scan.FailureEvent
	clock       scan.Clock
	logger      *zap.Logger

	mu     sync.Mutex
	closed bool
}

// NewChrome builds a headless engine backed by chromedp.
func NewChrome(cfg Config, clock scan.Clock, logger *zap.Logger) (*ChromeEngine, error) {
	if cfg.MaxParallel < 0 {
		return nil, fmt.Errorf("max parallel must be >= 0")
	}
	if cfg.NavigationTimeout <= 0 {
		cfg.NavigationTimeout = 45 * time.Second
	}
	if cfg.FailureBuffer <= 0 {
		cfg.FailureBuffer = 256
	}
	if clock == nil {
		clock = scan.SystemClock{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	var limiter chan struct{}
	if cfg.MaxParallel > 0 {
		limiter = make(chan struct{}, cfg.MaxParallel)
	}

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", "new"),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("hide-scrollbars", true),
		chromedp.Flag("enable-automation", false),
	)
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)

	return &ChromeEngine{
		cfg:         cfg,
		limiter:     limiter,
		allocator:   allocCtx,
		allocCancel: allocCancel,
		failures:    make(chan scan.FailureEvent, cfg.FailureBuffer),
		clock:       clock,
		logger:      logger,
	}, nil
}

// Failures returns the stream of scan failures for health monitoring.
func (e *ChromeEngine) Failures() <-chan scan.FailureEvent {
	return e.failures
}

// Close tears down the browser allocator and ends the failure stream.
func (e *ChromeEngine) Close() {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.closed = true
	e.mu.Unlock()

	e.allocCancel()
	close(e.failures)
}

// Scan navigates with a fresh browser tab, waits for the page to settle,
// and evaluates the in-page detection script. Every failure is also
// emitted on the Failures stream.
func (e *ChromeEngine) Scan(ctx context.Context, url string) (scan.Result, error) {
	if err := e.acquire(ctx); err != nil {
		return scan.Result{}, err
	}
	defer e.release()

	// Fresh tab context per scan: a crashed or destroyed context must
	// never leak into the next URL.
	taskCtx, taskCancel := chromedp.NewContext(e.allocator)
	defer taskCancel()

	taskCtx, cancel := context.WithTimeout(taskCtx, e.cfg.NavigationTimeout)
	defer cancel()

	start := time.Now()
	var (
		version string
		html    string
	)
	actions := []chromedp.Action{
		e.networkSetupAction(),
		chromedp.Navigate(url),
		chromedp.WaitReady("body", chromedp.ByQuery),
		// Prebid typically loads via async tag managers; give it a beat.
		chromedp.Sleep(500 * time.Millisecond),
		chromedp.Evaluate(detectionScript, &version),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	}
	if err := chromedp.Run(taskCtx, actions...); err != nil {
		e.emitFailure(url, err)
		return scan.Result{}, fmt.Errorf("headless scan: %w", err)
	}

	result := scan.Result{
		URL:          url,
		Content:      []byte(html),
		HasPrebid:    version != "",
		StatusCode:   http.StatusOK,
		Duration:     time.Since(start),
		UsedHeadless: true,
	}
	if version != "" && version != "unknown" {
		result.PrebidVersion = version
	}
	return result, nil
}

func (e *ChromeEngine) networkSetupAction() chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		if err := network.Enable().Do(ctx); err != nil {
			return fmt.Errorf("enable network domain: %w", err)
		}
		if e.cfg.UserAgent != "" {
			if err := emulation.SetUserAgentOverride(e.cfg.UserAgent).Do(ctx); err != nil {
				return fmt.Errorf("set user-agent: %w", err)
			}
		}
		return nil
	})
}

func (e *ChromeEngine) emitFailure(url string, err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return
	}
	evt := scan.FailureEvent{URL: url, Message: err.Error(), At: e.clock.Now()}
	select {
	case e.failures <- evt:
	default:
		e.logger.Debug("failure event dropped, buffer full", zap.String("url", url))
	}
}

func (e *ChromeEngine) acquire(ctx context.Context) error {
	if e.limiter == nil {
		return nil
	}
	select {
	case e.limiter <- struct{}{}:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("scan slot wait canceled: %w", ctx.Err())
	}
}

func (e *ChromeEngine) release() {
	if e.limiter == nil {
		return
	}
	select {
	case <-e.limiter:
	default:
	}
}
