package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/maltedev/product-image-scraper/internal/batch"
	"github.com/maltedev/product-image-scraper/internal/browser"
	"github.com/maltedev/product-image-scraper/internal/config"
	"github.com/maltedev/product-image-scraper/internal/events"
	"github.com/maltedev/product-image-scraper/internal/images"
	"github.com/maltedev/product-image-scraper/internal/profiles"
	"github.com/maltedev/product-image-scraper/internal/ratelimit"
	"github.com/maltedev/product-image-scraper/internal/storage"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
)

type imagesFlags struct {
	selector     string
	dest         string
	urlsFile     string
	userAgent    string
	altJSONPath  string
	noAltJSON    bool
	maxThreads   int
	jobs         int
	profile      string
	profilesFile string
	stateFile    string
	resume       bool
	engine       string
	quiet        bool
}

func newImagesCmd() *cobra.Command {
	f := &imagesFlags{}

	cmd := &cobra.Command{
		Use:   "images [url]",
		Short: "Download the gallery images of one or more product pages",
		Example: `  # Download one product page
  image-scraper images https://boutique.example/produit/chaise-oslo

  # Custom gallery selector, no renaming
  image-scraper images https://boutique.example/p/1 --selector "div.gallery img" --no-alt-json

  # Resumable batch, three pages at a time
  image-scraper images --urls pages.txt --jobs 3 --resume`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runImages(cmd, f, args)
		},
	}

	fl := cmd.Flags()
	fl.StringVarP(&f.selector, "selector", "s", "", "CSS selector of the gallery images")
	fl.StringVarP(&f.dest, "dest", "d", "", "Parent directory for product folders")
	fl.StringVar(&f.urlsFile, "urls", "", "File with one product URL per line")
	fl.StringVar(&f.userAgent, "user-agent", "", "User-Agent for image requests")
	fl.StringVar(&f.altJSONPath, "alt-json-path", "", "Phrase file used to rename images")
	fl.BoolVar(&f.noAltJSON, "no-alt-json", false, "Keep the original file names")
	fl.IntVarP(&f.maxThreads, "max-threads", "t", 0, "Concurrent image downloads per page")
	fl.IntVarP(&f.jobs, "jobs", "j", 0, "Concurrent pages in batch mode")
	fl.StringVarP(&f.profile, "profile", "p", "", "Site profile to apply")
	fl.StringVar(&f.profilesFile, "profiles-file", "", "Profile file (YAML or JSON)")
	fl.StringVar(&f.stateFile, "state-file", "", "Batch state file")
	fl.BoolVar(&f.resume, "resume", false, "Skip pages the state file marks completed")
	fl.StringVar(&f.engine, "engine", "", "Browser engine: playwright, rod or static")
	fl.BoolVarP(&f.quiet, "quiet", "q", false, "Disable the progress bar")

	return cmd
}

func runImages(cmd *cobra.Command, f *imagesFlags, args []string) error {
	switch {
	case len(args) == 0 && f.urlsFile == "":
		return errors.New("a product url or --urls file is required")
	case len(args) == 1 && f.urlsFile != "":
		return errors.New("pass either a product url or --urls, not both")
	}

	cfg, logger, err := loadConfig(cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	if f.engine != "" {
		cfg.Browser.Engine = f.engine
	}
	if f.jobs > 0 {
		cfg.Batch.Jobs = f.jobs
	}
	if f.stateFile != "" {
		cfg.Batch.StateFile = f.stateFile
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	var profile *profiles.Profile
	if f.profile != "" {
		path := f.profilesFile
		if path == "" {
			path = cfg.Images.ProfilesFile
		}
		file, err := profiles.Load(path)
		if err != nil {
			return err
		}
		if profile, err = file.Get(f.profile); err != nil {
			return err
		}
		logger.Info("profile applied", "profile", profile.Name, "file", path)
	}

	opts := buildOptions(cfg, profile, f, cmd.Flags().Changed)

	ctx := cmd.Context()
	engine, err := browser.NewEngine(browserOptions(cfg), logger)
	if err != nil {
		return fmt.Errorf("failed to start browser: %w", err)
	}
	defer engine.Close()

	downloader := images.NewDownloader(
		engine,
		images.NewFetcher(cfg.Images.FetchTimeout, logger),
		images.NewSentenceCache(logger),
		logger,
	)

	var publisher *events.Publisher
	if cfg.DatabaseEnabled() {
		db, err := openDatabase(ctx, cfg)
		if err != nil {
			return err
		}
		defer db.Close()
		publisher = events.NewPublisher(db, cfg.Redis.Stream, logger)
	}

	out := cmd.OutOrStdout()
	if f.urlsFile == "" {
		return runSingle(ctx, downloader, publisher, opts, args[0], f.quiet, out, cmd.ErrOrStderr(), logger)
	}
	return runBatch(ctx, cfg, downloader, publisher, opts, f, out, logger)
}

// buildOptions layers flags over the profile over the environment.
func buildOptions(cfg *config.Config, profile *profiles.Profile, f *imagesFlags, changed func(string) bool) images.Options {
	opts := images.Options{
		Selector:    cfg.Images.Selector,
		ParentDir:   cfg.Images.ParentDir,
		UserAgent:   cfg.Images.UserAgent,
		UseAltJSON:  cfg.Images.UseAltJSON,
		AltJSONPath: cfg.Images.AltJSONPath,
		MaxThreads:  cfg.Images.MaxThreads,
		WaitTimeout: cfg.Images.WaitTimeout,
	}

	if profile != nil {
		if profile.Selector != "" {
			opts.Selector = profile.Selector
		}
		if profile.ParentDir != "" {
			opts.ParentDir = profile.ParentDir
		}
		if profile.SentencesFile != "" {
			opts.AltJSONPath = profile.SentencesFile
		}
		if profile.UserAgent != "" {
			opts.UserAgent = profile.UserAgent
		}
		if profile.MaxThreads > 0 {
			opts.MaxThreads = profile.MaxThreads
		}
	}

	if changed("selector") {
		opts.Selector = f.selector
	}
	if changed("dest") {
		opts.ParentDir = f.dest
	}
	if changed("user-agent") {
		opts.UserAgent = f.userAgent
	}
	if changed("alt-json-path") {
		opts.AltJSONPath = f.altJSONPath
	}
	if changed("no-alt-json") {
		opts.UseAltJSON = !f.noAltJSON
	}
	if changed("max-threads") && f.maxThreads > 0 {
		opts.MaxThreads = f.maxThreads
	}

	return opts
}

func runSingle(ctx context.Context, downloader *images.Downloader, publisher *events.Publisher, opts images.Options, pageURL string, quiet bool, out, barOut io.Writer, logger *slog.Logger) error {
	opts.URL = pageURL

	var bar *progressBar
	if !quiet {
		bar = &progressBar{w: barOut}
		opts.Progress = bar.Update
	}

	summary, err := downloader.DownloadImages(ctx, opts)
	bar.Finish()
	if err != nil {
		return err
	}

	printSummary(out, pageURL, summary)
	recordSession(ctx, publisher, pageURL, summary, logger)
	return nil
}

func runBatch(ctx context.Context, cfg *config.Config, downloader *images.Downloader, publisher *events.Publisher, opts images.Options, f *imagesFlags, out io.Writer, logger *slog.Logger) error {
	urls, err := batch.LoadURLs(f.urlsFile)
	if err != nil {
		return err
	}
	if len(urls) == 0 {
		return fmt.Errorf("no urls in %s", f.urlsFile)
	}

	store, err := storage.NewPageStore(cfg.Batch.StateFile)
	if err != nil {
		return err
	}

	limiter := ratelimit.NewAdaptiveRateLimiter(cfg.Batch.RateLimitMin, cfg.Batch.RateLimitMax)
	runner := batch.NewRunner(downloader, limiter, store, cfg.Batch.Jobs, logger)
	runner.OnResult = func(res batch.Result) {
		if res.Err != nil {
			fmt.Fprintf(out, "FAILED %s: %v\n", res.URL, res.Err)
			return
		}
		printSummary(out, res.URL, res.Summary)
		recordSession(ctx, publisher, res.URL, res.Summary, logger)
	}

	report, err := runner.Run(ctx, urls, opts, f.resume)
	if err != nil {
		return err
	}

	fmt.Fprintf(out, "\n%d completed, %d failed, %d already done\n", report.Completed, report.Failed, report.Skipped)
	if report.Failed > 0 {
		return fmt.Errorf("%d of %d pages failed", report.Failed, report.Completed+report.Failed)
	}
	return nil
}

func printSummary(w io.Writer, pageURL string, s *images.Summary) {
	fmt.Fprintf(w, "%s\n  product:    %s\n  folder:     %s\n  downloaded: %d/%d (skipped %d)\n",
		pageURL, s.ProductName, s.Folder, s.Downloaded, s.Total, s.Skipped)
	if s.FirstImage != "" {
		fmt.Fprintf(w, "  first:      %s\n", s.FirstImage)
	}
}

func recordSession(ctx context.Context, publisher *events.Publisher, pageURL string, s *images.Summary, logger *slog.Logger) {
	if publisher == nil {
		return
	}
	if _, err := publisher.RecordSession(ctx, "", pageURL, s); err != nil {
		logger.Error("failed to record session", "url", pageURL, "error", err)
	}
}

// progressBar is created on the first update, once the image count is known.
type progressBar struct {
	w   io.Writer
	bar *progressbar.ProgressBar
}

func (p *progressBar) Update(index, total int) {
	if p.bar == nil {
		p.bar = progressbar.NewOptions64(
			int64(total),
			progressbar.OptionSetWriter(p.w),
			progressbar.OptionSetDescription("images"),
			progressbar.OptionSetItsString("img"),
			progressbar.OptionShowIts(),
			progressbar.OptionShowCount(),
			progressbar.OptionSetTheme(progressbar.Theme{
				Saucer:        "=",
				SaucerHead:    ">",
				SaucerPadding: " ",
				BarStart:      "[",
				BarEnd:        "]",
			}),
		)
	}
	_ = p.bar.Add(1)
}

func (p *progressBar) Finish() {
	if p == nil || p.bar == nil {
		return
	}
	_ = p.bar.Finish()
	fmt.Fprintln(p.w)
}
