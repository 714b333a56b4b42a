package cmd

import (
	"sort"

	"github.com/spf13/cobra"

	"github.com/prebidwatch/scout/internal/dnscheck"
	"github.com/prebidwatch/scout/internal/urlsource"
)

func newValidateCmd() *cobra.Command {
	var (
		source    string
		rangeSpec string
		showAll   bool
	)

	cmd := &cobra.Command{
		Use:   "validate",
		Short: "DNS-checks a URL list without crawling it",
		Long: `Resolves the hostname of every URL in the list and reports which ones
are dead. Useful for sizing a crawl before spending browser time on it.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runValidate(cmd, source, rangeSpec, showAll)
		},
	}

	cmd.Flags().StringVar(&source, "source", "", "URL list: local file path or http(s) URL (required)")
	cmd.Flags().StringVar(&rangeSpec, "range", "", "restrict to list positions <start>-<end>")
	cmd.Flags().BoolVar(&showAll, "show-invalid", false, "print every unresolvable URL")
	_ = cmd.MarkFlagRequired("source")

	return cmd
}

func runValidate(cmd *cobra.Command, source, rangeSpec string, showAll bool) error {
	cfg, logger, err := bootstrap()
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	var rng *urlsource.Range
	if rangeSpec != "" {
		parsed, err := urlsource.ParseRange(rangeSpec)
		if err != nil {
			return err
		}
		rng = &parsed
	}

	urls, err := buildSource(source, rng, logger).Load(cmd.Context())
	if err != nil {
		return err
	}

	validator := dnscheck.New(nil, cfg.DNSTimeout(), logger)
	results := validator.BatchValidate(cmd.Context(), urls, cfg.DNS.Concurrency)

	var invalid []string
	for url, res := range results {
		if !res.Valid {
			invalid = append(invalid, url)
		}
	}
	sort.Strings(invalid)

	cmd.Printf("Checked %d URLs: %d resolvable, %d dead\n", len(urls), len(urls)-len(invalid), len(invalid))
	if showAll {
		for _, url := range invalid {
			cmd.Println(url)
		}
	}
	return nil
}
