package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/brogergvhs/noveld/internal/chapters"
	"github.com/brogergvhs/noveld/internal/config"
	"github.com/brogergvhs/noveld/internal/downloader"
	"github.com/brogergvhs/noveld/internal/endpoints"
	"github.com/brogergvhs/noveld/internal/fetch"
	"github.com/brogergvhs/noveld/internal/output"
	"github.com/brogergvhs/noveld/internal/providers/fanqie"
	"github.com/brogergvhs/noveld/internal/state"
	"github.com/brogergvhs/noveld/internal/ui"
	"github.com/brogergvhs/noveld/internal/util"

	"github.com/spf13/cobra"
)

var (
	// selection
	flagBook  string
	flagRange string
	flagList  string

	// runtime
	flagOutput    string
	flagFormat    string
	flagWorkers   int
	flagMaxRounds int
	flagRateLimit float64
	flagNoBatch   bool
	flagDryRun    bool

	// headers
	flagUserAgent string
)

func init() {
	downloadCmd := &cobra.Command{
		Use:   "download [book_id]",
		Short: "Download a novel. Uses the defaults from the selected config, overwritten by CLI flags",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runDownload,
	}

	// selection
	downloadCmd.Flags().StringVar(&flagBook, "book", "", "book id")
	downloadCmd.Flags().StringVar(&flagRange, "range", "", "download range of chapters by position (e.g. 5-12)")
	downloadCmd.Flags().StringVar(&flagList, "list", "", "download specific chapter positions (e.g. 1,3,5)")

	// runtime
	downloadCmd.Flags().StringVar(&flagOutput, "output", "", "output folder")
	downloadCmd.Flags().StringVar(&flagFormat, "format", "", "output format (txt or epub)")
	downloadCmd.Flags().IntVar(&flagWorkers, "workers", 0, "parallel chapter fetches")
	downloadCmd.Flags().IntVar(&flagMaxRounds, "max-rounds", 0, "retry rounds for failed chapters")
	downloadCmd.Flags().Float64Var(&flagRateLimit, "rate-limit", 0, "max chapter fetches per second (0 = unlimited)")
	downloadCmd.Flags().BoolVar(&flagNoBatch, "no-batch", false, "skip the batch endpoint")
	downloadCmd.Flags().BoolVar(&flagDryRun, "dry-run", false, "show what would be downloaded, don't download")

	// headers
	downloadCmd.Flags().StringVar(&flagUserAgent, "user-agent", "", "override User-Agent")

	rootCmd.AddCommand(downloadCmd)
}

func runDownload(cmd *cobra.Command, args []string) error {
	bookID := flagBook
	if bookID == "" && len(args) == 1 {
		bookID = args[0]
	}
	if bookID == "" {
		return errors.New("missing book id (pass it as argument or with --book)")
	}

	cfg, usedPath, err := config.LoadMerged(config.Options{
		IgnoreConfig: flagIgnoreConfig,
		Debug:        flagDebug,
		Output:       flagOutput,
		Format:       flagFormat,
		Workers:      flagWorkers,
		MaxRounds:    flagMaxRounds,
		UserAgent:    flagUserAgent,
		RateLimit:    flagRateLimit,
		NoBatch:      flagNoBatch,
	})
	if err != nil {
		return err
	}

	logSvc := ui.NewLogger(cfg.Debug)
	fmt.Printf("Config file: %s\n", usedPath)

	acq, err := cfg.Acquisition()
	if err != nil {
		return err
	}

	if err := os.MkdirAll(cfg.Output, 0755); err != nil {
		return fmt.Errorf("cannot create output folder: %w", err)
	}

	client, err := util.NewHTTPClient(util.HTTPClientOptions{
		Timeout:          acq.ClientTimeout(),
		UserAgents:       util.NewUserAgentPool(cfg.UserAgent, cfg.FakeUserAgent),
		Cookie:           cfg.Cookie,
		Headers:          util.DefaultHeaders(),
		CloudflareBypass: cfg.CloudflareBypass,
		DebugLogger:      logSvc,
	})
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	stop := util.SetupInterruptHandler(cancel)
	defer stop()

	scr := fanqie.NewScraper(client, cfg.MetadataURL, logSvc)

	if flagDryRun {
		return dryRun(ctx, scr, bookID)
	}

	eps := resolveEndpoints(ctx, client, cfg, acq.Endpoints, logSvc)
	tracker := endpoints.NewTracker(eps)

	fetchCfg := fetch.Config{
		Client:             client,
		Tracker:            tracker,
		Options:            acq.Fetch,
		BookID:             bookID,
		FallbackToOriginal: acq.Proxy.FallbackToOriginal,
		Log:                logSvc,
	}
	if acq.Proxy.Enabled && acq.Proxy.Domain != "" {
		fetchCfg.Rewriter = util.ProxyRewriter{Domain: acq.Proxy.Domain}
	}

	writer, err := output.NewWriter(acq.Format)
	if err != nil {
		return err
	}

	pm := ui.NewProgressManager(os.Stderr)
	stats := &ui.Stats{}

	dlCfg := downloader.Config{
		Metadata:   scr,
		Fetcher:    fetch.New(fetchCfg),
		Writer:     writer,
		OutputDir:  cfg.Output,
		StatusFile: acq.StatusFile,
		Options:    acq.Download,
		Progress:   pm,
		Stats:      stats,
		Log:        logSvc,
	}

	if bep, ok, err := endpoints.BatchEndpoint(eps); err != nil {
		logSvc.Warnf("batch disabled: %v", err)
	} else if ok {
		dlCfg.Batch = fetch.NewBatcher(fetch.BatchConfig{
			Client:   client,
			Endpoint: bep,
			MaxSize:  acq.BatchSize,
			Timeout:  acq.BatchTimeout,
			Log:      logSvc,
		})
	}

	start := time.Now()
	res, err := downloader.New(dlCfg).Run(ctx, downloader.Job{
		BookID: bookID,
		Range:  flagRange,
		List:   flagList,
	})
	pm.Close()

	if res == nil {
		util.RemoveIfEmpty(cfg.Output)
		return err
	}

	printSummary(res, stats, time.Since(start))

	if cfg.Debug {
		for _, e := range tracker.Snapshot() {
			logSvc.Debugf("endpoint %s: ok=%d failed=%d consecutive=%d last=%s",
				e.Name, e.Successes, e.Failures, e.ConsecutiveErrors, e.LastResponseTime.Round(time.Millisecond))
		}
	}

	if err != nil {
		return err
	}
	if res.Cancelled {
		fmt.Printf("\nInterrupted. Progress saved to %s\n", state.PathFor(cfg.Output, acq.StatusFile))
		return nil
	}
	if n := len(res.Failed) + len(res.Uncached); n > 0 {
		return fmt.Errorf("%d chapters are missing from the book, run again to retry them", n)
	}

	fmt.Println("\nAll done.")
	return nil
}

// resolveEndpoints prefers the remote registry when one is configured and
// falls back to the static list when it is unreachable or invalid.
func resolveEndpoints(ctx context.Context, client *http.Client, cfg *config.Config, static []endpoints.Descriptor, log ui.Log) []endpoints.Descriptor {
	if cfg.Registry.URL == "" {
		return static
	}

	batchName := ""
	if cfg.Batch.Enabled {
		batchName = cfg.Batch.Name
	}

	remote, err := endpoints.FetchRegistry(ctx, client, cfg.Registry.URL, cfg.Registry.Token, batchName)
	if err == nil {
		err = endpoints.ValidateAll(remote)
	}
	if err != nil {
		log.Warnf("endpoint registry unavailable, using configured endpoints: %v", err)
		return static
	}

	log.Infof("loaded %d endpoints from registry", len(remote))
	return remote
}

func dryRun(ctx context.Context, md *fanqie.Scraper, bookID string) error {
	book, err := md.Book(ctx, bookID)
	if err != nil {
		return err
	}

	selected := chapters.Filter(book.Chapters, flagRange, flagList)
	if len(selected) == 0 {
		return fmt.Errorf("%w (book has %d chapters)", downloader.ErrNoSelected, len(book.Chapters))
	}

	fmt.Printf("Dry-run: %s by %s, %d of %d chapters selected.\n\n",
		book.Info.Name, book.Info.Author, len(selected), len(book.Chapters))
	for i, ref := range selected {
		fmt.Printf("%4d) %s  [%s]\n", i+1, ref.Title, ref.ID)
	}
	return nil
}

func printSummary(res *downloader.Result, stats *ui.Stats, elapsed time.Duration) {
	fmt.Println()
	fmt.Println("Download Summary:")
	fmt.Printf("Book:      %s\n", res.Book.Name)
	fmt.Printf("Chapters:  %d done, %d failed\n", len(res.Completed), len(res.Failed))
	fmt.Printf("Fetched:   %d (%d by batch)\n", stats.Fetched.Load(), stats.FromBatch.Load())
	fmt.Printf("Rounds:    %d\n", res.Rounds)
	fmt.Printf("Data:      %s\n", util.Human(stats.Bytes.Load()))
	fmt.Printf("Time:      %s\n", elapsed.Round(time.Second))
	if res.OutputPath != "" {
		fmt.Printf("Output:    %s\n", res.OutputPath)
	}

	if len(res.Sequence.Issues) > 0 {
		fmt.Println("\nSequence notes:")
		for _, issue := range res.Sequence.Issues {
			fmt.Println("  -", issue)
		}
	}

	if len(res.Failed) > 0 {
		fmt.Println("\nFailed chapters:")
		for _, f := range res.Failed {
			fmt.Printf("  - %s [%s]: %s\n", f.Ref.Title, f.Ref.ID, f.LastError)
		}
	}

	if len(res.Uncached) > 0 {
		fmt.Printf("\n%d completed chapters had no cached content and were left out of the book.\n", len(res.Uncached))
	}
}
