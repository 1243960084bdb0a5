package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/tywang/bookhaul/internal/catalog"
	"github.com/tywang/bookhaul/internal/extractor"
	"github.com/tywang/bookhaul/internal/pacer"
	"github.com/tywang/bookhaul/internal/resolver"
	"github.com/tywang/bookhaul/internal/scheduler"
	"github.com/tywang/bookhaul/internal/transfer"
)

var (
	downloadCategories  []string
	downloadKeyword     string
	downloadLimit       int
	downloadFormats     []string
	downloadKeepZip     bool
	downloadConcurrent  int
	downloadResolverCap int
	downloadOutputDir   string
)

var downloadCmd = &cobra.Command{
	Use:   "download",
	Short: "Download books from the catalog",
	Long: "download admits catalog books into the bounded worker pool and runs\n" +
		"the resolve/transfer/extract pipeline for each. Already-completed\n" +
		"books are skipped; interrupted transfers resume where they left off.",
	RunE: runDownload,
}

func init() {
	downloadCmd.Flags().StringSliceVar(&downloadCategories, "category", nil, "only download these categories")
	downloadCmd.Flags().StringVar(&downloadKeyword, "keyword", "", "only download books matching title/author keyword")
	downloadCmd.Flags().IntVar(&downloadLimit, "limit", 0, "cap the number of books this run (0 = all)")
	downloadCmd.Flags().StringSliceVar(&downloadFormats, "formats", nil, "override wanted formats, e.g. epub,azw3")
	downloadCmd.Flags().BoolVar(&downloadKeepZip, "keep-zip", false, "keep archives after extraction")
	downloadCmd.Flags().IntVar(&downloadConcurrent, "concurrent", 0, "override task concurrency")
	downloadCmd.Flags().IntVar(&downloadResolverCap, "resolver-concurrent", 0, "override resolver concurrency")
	downloadCmd.Flags().StringVarP(&downloadOutputDir, "output", "o", "", "override download directory")
	rootCmd.AddCommand(downloadCmd)
}

func runDownload(cmd *cobra.Command, args []string) error {
	cfg, log, err := setup()
	if err != nil {
		return err
	}

	cat, err := catalog.Load(cfg.CatalogPath())
	if err != nil {
		return err
	}

	books := cat.Filter(catalog.FilterOptions{
		Categories:        downloadCategories,
		ExcludeCategories: cfg.Download.ExcludeCategories,
		Keyword:           downloadKeyword,
		Limit:             downloadLimit,
	})
	if len(books) == 0 {
		fmt.Println("No books match the given filters.")
		return nil
	}

	repo, err := openLedger(cfg)
	if err != nil {
		return err
	}

	formats := cfg.Extract.Formats
	if len(downloadFormats) > 0 {
		formats = downloadFormats
	}
	keepZip := cfg.Extract.KeepZip || downloadKeepZip
	if downloadConcurrent > 0 {
		cfg.Download.TaskConcurrency = downloadConcurrent
	}
	if downloadResolverCap > 0 {
		cfg.Download.ResolverConcurrency = downloadResolverCap
	}
	if downloadOutputDir != "" {
		cfg.Download.DownloadDir = downloadOutputDir
	}

	res := resolver.NewCachedResolver(resolver.NewCTFileResolver(&resolver.CTFileConfig{
		Timeout: cfg.Download.ResolverTimeout,
	}, log))
	fetcher := transfer.NewFetcher(&transfer.FetcherConfig{
		Timeout:  cfg.Download.TransferTimeout,
		MaxBytes: int64(cfg.Download.MaxFileSizeMB) << 20,
	}, log)
	ext := extractor.New(log)
	pace := pacer.New(cfg.Pacing.MinDelay, cfg.Pacing.MaxDelay)

	sched := scheduler.New(&scheduler.Config{
		TaskConcurrency:     cfg.Download.TaskConcurrency,
		ResolverConcurrency: cfg.Download.ResolverConcurrency,
		MaxRetries:          cfg.Download.MaxRetries,
		RetryBackoff:        cfg.Download.RetryBackoff,
		ResolverTimeout:     cfg.Download.ResolverTimeout,
		DownloadDir:         cfg.Download.DownloadDir,
		Formats:             formats,
		KeepZip:             keepZip,
	}, repo, res, fetcher, ext, pace, log)

	// First SIGINT cancels the run and lets pipelines checkpoint; a second
	// kills the process the default way.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	summary, err := sched.Run(ctx, books)
	if err != nil {
		return err
	}

	fmt.Printf("\nRun finished: %d completed, %d failed, %d skipped, %d interrupted (of %d)\n",
		summary.Completed, summary.Failed, summary.Skipped, summary.Interrupted, summary.Total)
	if len(summary.FailedItems) > 0 {
		fmt.Println("\nFailed items (run 'bookhaul retry' to requeue):")
		for uid, msg := range summary.FailedItems {
			fmt.Printf("  %s: %s\n", uid, msg)
		}
	}
	if ctx.Err() != nil {
		os.Exit(130)
	}
	return nil
}
