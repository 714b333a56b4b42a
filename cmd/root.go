// Package cmd defines and implements the CLI commands for the scout
// executable.
package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/prebidwatch/scout/internal/config"
	"github.com/prebidwatch/scout/internal/logging"
	"github.com/prebidwatch/scout/internal/metrics"
)

var cfgFile string

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "scout",
		Short: "Scans websites for header-bidding library usage at scale",
		Long: `scout sweeps large URL lists through a headless browser to detect
Prebid.js and report which version each site runs. Runs are resumable:
progress, crash blacklists and page caches survive restarts, so a crawl
over millions of domains can be stopped and continued at any point.`,
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: environment only)")

	cmd.AddCommand(newCrawlCmd())
	cmd.AddCommand(newResumeCmd())
	cmd.AddCommand(newValidateCmd())
	return cmd
}

// Execute is the main entry point; it wires signal-driven cancellation
// so Ctrl-C stops a crawl cleanly between URLs.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// bootstrap loads configuration and builds the run logger.
func bootstrap() (config.Config, *zap.Logger, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return config.Config{}, nil, err
	}
	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		return config.Config{}, nil, fmt.Errorf("build logger: %w", err)
	}
	metrics.Init()
	return cfg, logger, nil
}
