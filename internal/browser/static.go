package browser

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/andybalholm/cascadia"
)

// StaticBrowser fetches pages over plain HTTP and queries the parsed
// markup. Scripts never run, so lazy galleries only expose what the
// server rendered.
type StaticBrowser struct {
	client *http.Client
	opts   *Options
	logger *slog.Logger
}

func NewStatic(opts *Options, logger *slog.Logger) *StaticBrowser {
	if opts == nil {
		opts = DefaultOptions()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &StaticBrowser{
		client: &http.Client{Timeout: opts.Timeout},
		opts:   opts,
		logger: logger.With("component", "browser", "engine", EngineStatic),
	}
}

// WithClient swaps the HTTP client, mostly for tests.
func (b *StaticBrowser) WithClient(client *http.Client) *StaticBrowser {
	b.client = client
	return b
}

func (b *StaticBrowser) Open(ctx context.Context) (Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return &staticSession{browser: b}, nil
}

func (b *StaticBrowser) Close() error {
	b.client.CloseIdleConnections()
	return nil
}

type staticSession struct {
	browser *StaticBrowser
	doc     *goquery.Document
}

func (s *staticSession) Navigate(ctx context.Context, url string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	opts := s.browser.opts
	req.Header.Set("User-Agent", opts.UserAgent)
	if opts.AcceptLanguage != "" {
		req.Header.Set("Accept-Language", opts.AcceptLanguage)
	}
	for k, v := range opts.ExtraHeaders {
		req.Header.Set(k, v)
	}

	resp, err := s.browser.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to load page: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("%w: %s", ErrUnexpectedStatus, resp.Status)
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to parse page: %w", err)
	}
	s.doc = doc

	s.browser.logger.Debug("page loaded", "url", url, "status", resp.StatusCode)
	return nil
}

// WaitFor checks once; static markup never changes after load.
func (s *staticSession) WaitFor(ctx context.Context, selector string, _ time.Duration) error {
	sel, err := s.query(selector)
	if err != nil {
		return err
	}
	if sel.Length() == 0 {
		return ErrNoMatch
	}
	return nil
}

func (s *staticSession) FindElements(ctx context.Context, selector string) ([]Element, error) {
	sel, err := s.query(selector)
	if err != nil {
		return nil, err
	}

	elements := make([]Element, 0, sel.Length())
	sel.Each(func(_ int, node *goquery.Selection) {
		elements = append(elements, staticElement{sel: node})
	})
	return elements, nil
}

func (s *staticSession) FirstText(ctx context.Context, selector, attr string) (string, error) {
	sel, err := s.query(selector)
	if err != nil {
		return "", err
	}

	first := sel.First()
	if first.Length() == 0 {
		return "", nil
	}
	if attr == "" {
		return strings.TrimSpace(first.Text()), nil
	}
	return first.AttrOr(attr, ""), nil
}

func (s *staticSession) Close() error {
	s.doc = nil
	return nil
}

func (s *staticSession) query(selector string) (*goquery.Selection, error) {
	if s.doc == nil {
		return nil, ErrNotNavigated
	}

	matcher, err := cascadia.Parse(selector)
	if err != nil {
		return nil, fmt.Errorf("invalid selector %q: %w", selector, err)
	}

	matches := cascadia.QueryAll(s.doc.Get(0), matcher)
	return s.doc.FindNodes(matches...), nil
}

type staticElement struct {
	sel *goquery.Selection
}

func (e staticElement) Attribute(name string) (string, error) {
	return e.sel.AttrOr(name, ""), nil
}
