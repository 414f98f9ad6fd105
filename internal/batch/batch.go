package batch

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"

	"github.com/maltedev/product-image-scraper/internal/images"
	"github.com/maltedev/product-image-scraper/internal/storage"
	"golang.org/x/sync/errgroup"
)

type Downloader interface {
	DownloadImages(ctx context.Context, opts images.Options) (*images.Summary, error)
}

// Limiter paces session starts. *ratelimit.AdaptiveRateLimiter satisfies it.
type Limiter interface {
	Wait(ctx context.Context) error
	RecordSuccess()
	RecordError()
}

// Result is the outcome of one page of a batch.
type Result struct {
	URL     string
	Summary *images.Summary
	Err     error
}

type Report struct {
	Completed int
	Failed    int
	Skipped   int
	Results   []Result
}

type Runner struct {
	downloader Downloader
	limiter    Limiter
	store      *storage.PageStore
	jobs       int
	logger     *slog.Logger

	// OnResult, when set, is called once per finished page. Calls are
	// serialized.
	OnResult func(Result)
}

// NewRunner returns a runner executing up to jobs sessions at once. limiter
// and store are optional.
func NewRunner(downloader Downloader, limiter Limiter, store *storage.PageStore, jobs int, logger *slog.Logger) *Runner {
	if jobs < 1 {
		jobs = 1
	}
	return &Runner{
		downloader: downloader,
		limiter:    limiter,
		store:      store,
		jobs:       jobs,
		logger:     logger.With("component", "batch"),
	}
}

// Run downloads every url with base as the session template. A failing page
// is recorded and does not stop the batch; only context cancellation does.
// With resume, pages the state store already marks completed are skipped.
func (r *Runner) Run(ctx context.Context, urls []string, base images.Options, resume bool) (*Report, error) {
	report := &Report{}
	targets := urls

	if r.store != nil {
		if err := r.store.AddBatch(urls); err != nil {
			return nil, fmt.Errorf("failed to register batch: %w", err)
		}
		if resume {
			targets = targets[:0:0]
			for _, u := range urls {
				if rec, ok := r.store.Get(u); ok && rec.Status == storage.StatusCompleted {
					report.Skipped++
					continue
				}
				targets = append(targets, u)
			}
		}
	}

	r.logger.Info("batch starting", "pages", len(targets), "skipped", report.Skipped, "jobs", r.jobs)

	var mu sync.Mutex
	record := func(res Result) {
		mu.Lock()
		defer mu.Unlock()
		if res.Err != nil {
			report.Failed++
		} else {
			report.Completed++
		}
		report.Results = append(report.Results, res)
		if r.OnResult != nil {
			r.OnResult(res)
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.jobs)

	for _, pageURL := range targets {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if r.limiter != nil {
				if err := r.limiter.Wait(gctx); err != nil {
					return err
				}
			}
			record(r.runOne(gctx, pageURL, base))
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return report, err
	}

	r.logger.Info("batch finished",
		"completed", report.Completed,
		"failed", report.Failed,
		"skipped", report.Skipped)

	return report, ctx.Err()
}

func (r *Runner) runOne(ctx context.Context, pageURL string, base images.Options) Result {
	logger := r.logger.With("url", pageURL)

	if r.store != nil {
		if err := r.store.MarkProcessing(pageURL); err != nil {
			logger.Warn("failed to update batch state", "error", err)
		}
	}

	opts := base
	opts.URL = pageURL
	summary, err := r.downloader.DownloadImages(ctx, opts)
	if err != nil {
		logger.Error("page failed", "error", err)
		if r.limiter != nil {
			r.limiter.RecordError()
		}
		if r.store != nil {
			if serr := r.store.MarkFailed(pageURL, err); serr != nil {
				logger.Warn("failed to update batch state", "error", serr)
			}
		}
		return Result{URL: pageURL, Err: err}
	}

	if r.limiter != nil {
		r.limiter.RecordSuccess()
	}
	if r.store != nil {
		if err := r.store.MarkCompleted(pageURL, summary.Folder, summary.Downloaded, summary.Skipped); err != nil {
			logger.Warn("failed to update batch state", "error", err)
		}
	}
	return Result{URL: pageURL, Summary: summary}
}

// ReadURLs reads one url per line. Blank lines, lines starting with '#'
// and repeats are dropped.
func ReadURLs(r io.Reader) ([]string, error) {
	var urls []string
	seen := make(map[string]bool)

	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") || seen[line] {
			continue
		}
		seen[line] = true
		urls = append(urls, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read urls: %w", err)
	}
	return urls, nil
}

func LoadURLs(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open url list: %w", err)
	}
	defer f.Close()
	return ReadURLs(f)
}
