package images

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/maltedev/product-image-scraper/internal/browser"
	"golang.org/x/sync/semaphore"
)

const (
	DefaultSelector    = ".product-gallery__media-list img"
	DefaultParentDir   = "images"
	DefaultUserAgent   = "ScrapImageBot/1.0"
	DefaultMaxThreads  = 4
	DefaultWaitTimeout = 10 * time.Second
	DefaultProductName = "produit_woo"
)

// productNameSources are tried in order; attr "" means element text.
var productNameSources = []struct {
	selector string
	attr     string
}{
	{`meta[property="og:title"]`, "content"},
	{"title", ""},
	{"h1", ""},
}

// ProgressFunc receives the 1-based index of the element that just settled
// and the number of elements on the page. Remote images report in
// completion order.
type ProgressFunc func(index, total int)

type Options struct {
	URL         string
	Selector    string
	ParentDir   string
	Progress    ProgressFunc
	UserAgent   string
	UseAltJSON  bool
	AltJSONPath string
	MaxThreads  int
	WaitTimeout time.Duration
}

func (o Options) withDefaults() Options {
	if o.Selector == "" {
		o.Selector = DefaultSelector
	}
	if o.ParentDir == "" {
		o.ParentDir = DefaultParentDir
	}
	if o.UserAgent == "" {
		o.UserAgent = DefaultUserAgent
	}
	if o.MaxThreads < 1 {
		o.MaxThreads = DefaultMaxThreads
	}
	if o.WaitTimeout <= 0 {
		o.WaitTimeout = DefaultWaitTimeout
	}
	return o
}

type Outcome string

const (
	OutcomeDownloaded Outcome = "downloaded"
	OutcomeSkipped    Outcome = "skipped"
	OutcomeFailed     Outcome = "failed"
)

// Result is the final state of one page element.
type Result struct {
	Index   int
	Path    string
	Outcome Outcome
	Err     error
}

type Summary struct {
	Folder      string
	FirstImage  string
	ProductName string
	Downloaded  int
	Skipped     int
	Total       int
	Results     []Result
}

// Downloader runs image download sessions against product pages.
type Downloader struct {
	opener    browser.Opener
	fetcher   *Fetcher
	sentences *SentenceCache
	logger    *slog.Logger
}

func NewDownloader(opener browser.Opener, fetcher *Fetcher, sentences *SentenceCache, logger *slog.Logger) *Downloader {
	if logger == nil {
		logger = slog.Default()
	}
	if fetcher == nil {
		fetcher = NewFetcher(DefaultFetchTimeout, logger)
	}
	if sentences == nil {
		sentences = NewSentenceCache(logger)
	}
	return &Downloader{
		opener:    opener,
		fetcher:   fetcher,
		sentences: sentences,
		logger:    logger.With("component", "downloader"),
	}
}

// ValidateURL accepts absolute http and https URLs only.
func ValidateURL(raw string) error {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return fmt.Errorf("%w: %q: %v", ErrInvalidURL, raw, err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("%w: %q: must be an absolute http(s) url", ErrInvalidURL, raw)
	}
	return nil
}

// fetchDone carries one remote fetch back to the orchestrating goroutine.
type fetchDone struct {
	index int
	path  string
	err   error
}

// DownloadImages downloads every image matched by opts.Selector on the page
// at opts.URL into a folder named after the product.
func (d *Downloader) DownloadImages(ctx context.Context, opts Options) (*Summary, error) {
	if err := ValidateURL(opts.URL); err != nil {
		return nil, err
	}
	pageURL, _ := url.Parse(strings.TrimSpace(opts.URL))
	opts = opts.withDefaults()
	allocator := NewAllocator()
	logger := d.logger.With("url", opts.URL)

	session, err := d.opener.Open(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to open browser session: %w", err)
	}
	defer func() {
		if err := session.Close(); err != nil {
			logger.Warn("failed to close browser session", "error", err)
		}
	}()

	if err := session.Navigate(ctx, opts.URL); err != nil {
		return nil, fmt.Errorf("failed to navigate to %s: %w", opts.URL, err)
	}
	if err := session.WaitFor(ctx, opts.Selector, opts.WaitTimeout); err != nil {
		return nil, fmt.Errorf("%w: %q: %w", ErrElementNotFound, opts.Selector, err)
	}

	productName := d.productName(ctx, session)
	parent, err := filepath.Abs(opts.ParentDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve parent dir: %w", err)
	}
	folder := filepath.Join(parent, SanitizeFolderName(productName))
	if err := os.MkdirAll(folder, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create folder %s: %w", folder, err)
	}

	var renamer *Renamer
	if opts.UseAltJSON && opts.AltJSONPath != "" {
		renamer = NewRenamer(d.sentences.Load(opts.AltJSONPath), allocator, d.logger)
	}

	elements, err := session.FindElements(ctx, opts.Selector)
	if err != nil {
		return nil, fmt.Errorf("failed to find elements: %w", err)
	}

	total := len(elements)
	logger.Info("images found", "selector", opts.Selector, "count", total, "product", productName)

	summary := &Summary{
		Folder:      folder,
		ProductName: productName,
		Total:       total,
		Results:     make([]Result, 0, total),
	}
	settle := func(res Result) {
		switch res.Outcome {
		case OutcomeDownloaded:
			summary.Downloaded++
			if summary.FirstImage == "" {
				summary.FirstImage = res.Path
			}
		default:
			summary.Skipped++
			logger.Error("image skipped", "index", res.Index, "path", res.Path, "error", res.Err)
		}
		summary.Results = append(summary.Results, res)
		if opts.Progress != nil {
			opts.Progress(res.Index, total)
		}
	}
	finish := func(index int, path string) Result {
		if renamer != nil {
			path = renamer.Rename(path)
		}
		return Result{Index: index, Path: path, Outcome: OutcomeDownloaded}
	}

	sem := semaphore.NewWeighted(int64(opts.MaxThreads))
	done := make(chan fetchDone, total)
	pending := 0

	for i, el := range elements {
		index := i + 1

		src, err := Resolve(el, pageURL, index)
		if err != nil {
			settle(Result{Index: index, Outcome: OutcomeSkipped, Err: err})
			continue
		}

		target := allocator.Allocate(folder, src.Filename)

		if src.Kind == SourceInline {
			if err := d.fetcher.Fetch(ctx, src, target, opts.UserAgent); err != nil {
				settle(Result{Index: index, Path: target, Outcome: OutcomeFailed, Err: err})
				continue
			}
			settle(finish(index, target))
			continue
		}

		pending++
		go func(src *Source, index int, target string) {
			if err := sem.Acquire(ctx, 1); err != nil {
				done <- fetchDone{index: index, path: target, err: &DownloadFailedError{URL: src.URL, Err: err}}
				return
			}
			defer sem.Release(1)
			err := d.fetcher.Fetch(ctx, src, target, opts.UserAgent)
			done <- fetchDone{index: index, path: target, err: err}
		}(src, index, target)
	}

	for ; pending > 0; pending-- {
		res := <-done
		if res.err != nil {
			settle(Result{Index: res.index, Path: res.path, Outcome: OutcomeFailed, Err: res.err})
			continue
		}
		settle(finish(res.index, res.path))
	}

	logger.Info("download session finished",
		"product", productName,
		"folder", folder,
		"downloaded", summary.Downloaded,
		"skipped", summary.Skipped,
		"total", total)

	return summary, nil
}

func (d *Downloader) productName(ctx context.Context, session browser.Session) string {
	for _, src := range productNameSources {
		text, err := session.FirstText(ctx, src.selector, src.attr)
		if err != nil {
			if !errors.Is(err, context.Canceled) {
				d.logger.Debug("product name source failed", "selector", src.selector, "error", err)
			}
			continue
		}
		if text = strings.TrimSpace(text); text != "" {
			return text
		}
	}
	return DefaultProductName
}
