package cmd

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/prebidwatch/scout/internal/blacklist"
	"github.com/prebidwatch/scout/internal/cache"
	"github.com/prebidwatch/scout/internal/clusterhealth"
	"github.com/prebidwatch/scout/internal/config"
	"github.com/prebidwatch/scout/internal/dnscheck"
	"github.com/prebidwatch/scout/internal/domainhealth"
	"github.com/prebidwatch/scout/internal/engine"
	"github.com/prebidwatch/scout/internal/ops"
	"github.com/prebidwatch/scout/internal/publisher/pubsub"
	"github.com/prebidwatch/scout/internal/scan"
	"github.com/prebidwatch/scout/internal/scanner"
	"github.com/prebidwatch/scout/internal/tracker"
	"github.com/prebidwatch/scout/internal/urlsource"
)

type crawlFlags struct {
	source        string
	rangeSpec     string
	batchSize     int
	concurrency   int
	skipProcessed bool
}

func newCrawlCmd() *cobra.Command {
	var flags crawlFlags

	cmd := &cobra.Command{
		Use:   "crawl",
		Short: "Starts a detection crawl over a URL list",
		Long: `Sweeps the URL list through DNS validation, the blacklist, and the
browser automation engine in resumable batches. Use --range to restrict
the crawl to a slice of the list by 1-based line positions.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runCrawl(cmd.Context(), flags)
		},
	}

	cmd.Flags().StringVar(&flags.source, "source", "", "URL list: local file path or http(s) URL (required)")
	cmd.Flags().StringVar(&flags.rangeSpec, "range", "", "restrict to list positions <start>-<end>")
	cmd.Flags().IntVar(&flags.batchSize, "batch-size", 0, "URLs per batch (overrides config)")
	cmd.Flags().IntVar(&flags.concurrency, "concurrency", 0, "concurrent scans (overrides config)")
	cmd.Flags().BoolVar(&flags.skipProcessed, "skipProcessed", true, "skip URLs already completed in the tracker")
	_ = cmd.MarkFlagRequired("source")

	return cmd
}

func runCrawl(ctx context.Context, flags crawlFlags) error {
	cfg, logger, err := bootstrap()
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	if flags.batchSize > 0 {
		cfg.Scanner.BatchSize = flags.batchSize
	}
	if flags.concurrency > 0 {
		cfg.Scanner.Concurrency = flags.concurrency
	}
	cfg.Scanner.SkipProcessed = flags.skipProcessed

	var rng *urlsource.Range
	if flags.rangeSpec != "" {
		parsed, err := urlsource.ParseRange(flags.rangeSpec)
		if err != nil {
			return err
		}
		rng = &parsed
	}

	source := buildSource(flags.source, rng, logger)

	var validator *dnscheck.Validator
	if cfg.DNS.Enabled {
		validator = dnscheck.New(nil, cfg.DNSTimeout(), logger)
	}

	contentCache := cache.New(cache.Config{
		MaxEntries: cfg.Cache.MaxEntries,
		MaxBytes:   cfg.Cache.MaxBytes,
		TTL:        cfg.CacheTTL(),
		Dir:        cfg.Cache.Dir,
	}, nil, logger)
	defer contentCache.Close()

	bl := blacklist.Load(cfg.Blacklist.Path, cfg.Blacklist.CrashThreshold, nil, logger)
	domains := domainhealth.New(nil, logger)
	monitor := clusterhealth.New(cfg.Health.ErrorThreshold, logger)

	chrome, err := engine.NewChrome(engine.Config{
		MaxParallel:       cfg.Engine.MaxParallel,
		UserAgent:         cfg.Engine.UserAgent,
		NavigationTimeout: cfg.NavTimeout(),
	}, nil, logger)
	if err != nil {
		return fmt.Errorf("init automation engine: %w", err)
	}
	defer chrome.Close()

	var prober *engine.Prober
	if cfg.Engine.ProbeFirst {
		prober = engine.NewProber(engine.ProbeConfig{UserAgent: cfg.Engine.UserAgent}, logger)
	}

	urlTracker, closeTracker, err := buildTracker(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeTracker()

	var results scan.Publisher
	if cfg.Scanner.PublishResults {
		if cfg.PubSub.ProjectID == "" {
			return errors.New("scanner.publish_results requires pubsub.project_id")
		}
		pub, err := pubsub.New(ctx, cfg.PubSub.ProjectID)
		if err != nil {
			return fmt.Errorf("init publisher: %w", err)
		}
		defer func() { _ = pub.Close() }()
		results = pub
	}

	if cfg.Ops.Enabled {
		opsServer := ops.New(cfg.Ops.Port, monitor, bl, contentCache, logger)
		opsServer.Start()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := opsServer.Shutdown(shutdownCtx); err != nil {
				logger.Warn("ops server shutdown", zap.Error(err))
			}
		}()
	}

	s, err := scanner.New(scanner.Config{
		Concurrency:    cfg.Scanner.Concurrency,
		BatchSize:      cfg.Scanner.BatchSize,
		ProgressDir:    cfg.Scanner.ProgressDir,
		PerDomainRPS:   cfg.Scanner.PerDomainRPS,
		SkipProcessed:  cfg.Scanner.SkipProcessed,
		DNSEnabled:     cfg.DNS.Enabled,
		DNSConcurrency: cfg.DNS.Concurrency,
		ProbeFirst:     cfg.Engine.ProbeFirst,
		PublishTopic:   cfg.Scanner.PublishTopic,
		PublishResults: cfg.Scanner.PublishResults,
	}, scanner.Services{
		Source:    source,
		DNS:       validator,
		Cache:     contentCache,
		Blacklist: bl,
		Domains:   domains,
		Cluster:   monitor,
		Prober:    prober,
		Engine:    chrome,
		Tracker:   urlTracker,
		Publisher: results,
		Logger:    logger,
	})
	if err != nil {
		return fmt.Errorf("init scanner: %w", err)
	}

	summary, err := s.Run(ctx, rng)
	if err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("run crawl: %w", err)
	}

	logger.Info("crawl command finished",
		zap.String("run_id", summary.RunID),
		zap.Int("scanned", summary.Scanned),
		zap.Int("succeeded", summary.Succeeded),
		zap.Int("failed", summary.Failed),
		zap.Int("skipped", summary.Skipped),
	)
	return nil
}

// buildSource picks remote or local based on the source argument. The
// range is handed to the source so multi-million line lists are
// restricted while streaming instead of materialized whole.
func buildSource(raw string, rng *urlsource.Range, logger *zap.Logger) urlsource.Source {
	if strings.HasPrefix(raw, "http://") || strings.HasPrefix(raw, "https://") {
		return urlsource.NewRemoteSource(raw, rng, nil, logger)
	}
	return urlsource.NewFileSource(raw, rng, logger)
}

func buildTracker(ctx context.Context, cfg config.Config) (scan.Tracker, func(), error) {
	if cfg.Tracker.DSN == "" {
		return tracker.NewMemory(), func() {}, nil
	}
	pg, err := tracker.NewPostgres(ctx, tracker.PostgresConfig{DSN: cfg.Tracker.DSN})
	if err != nil {
		return nil, nil, fmt.Errorf("init tracker: %w", err)
	}
	return pg, pg.Close, nil
}
