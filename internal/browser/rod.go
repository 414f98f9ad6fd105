package browser

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/launcher/flags"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"
)

// RodBrowser is a Chromium instance driven over CDP with stealth pages.
type RodBrowser struct {
	launcher *launcher.Launcher
	browser  *rod.Browser
	opts     *Options
	logger   *slog.Logger
}

func NewRod(opts *Options, logger *slog.Logger) (*RodBrowser, error) {
	if opts == nil {
		opts = DefaultOptions()
	}
	if logger == nil {
		logger = slog.Default()
	}

	l := launcher.New().
		Headless(opts.Headless).
		NoSandbox(opts.NoSandbox)
	if opts.BinPath != "" {
		l = l.Bin(opts.BinPath)
	}
	if opts.ProxyServer != "" {
		l = l.Proxy(opts.ProxyServer)
	}

	l.Set(flags.Flag("disable-blink-features"), "AutomationControlled")
	l.Delete(flags.Flag("enable-automation"))
	l.Set(flags.Flag("disable-dev-shm-usage"))
	l.Set(flags.Flag("disable-extensions"))
	l.Set(flags.Flag("no-first-run"))
	l.Set(flags.Flag("lang"), opts.Locale)
	l.Set(flags.Flag("window-size"), fmt.Sprintf("%d,%d", opts.ViewportWidth, opts.ViewportHeight))

	controlURL, err := l.Launch()
	if err != nil {
		return nil, fmt.Errorf("failed to launch browser: %w", err)
	}

	browser := rod.New().ControlURL(controlURL)
	if err := browser.Connect(); err != nil {
		l.Kill()
		return nil, fmt.Errorf("failed to connect to browser: %w", err)
	}

	logger = logger.With("component", "browser", "engine", EngineRod)
	logger.Info("browser launched", "control_url", controlURL, "headless", opts.Headless)

	return &RodBrowser{
		launcher: l,
		browser:  browser,
		opts:     opts,
		logger:   logger,
	}, nil
}

func (b *RodBrowser) Open(ctx context.Context) (Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	page, err := stealth.Page(b.browser)
	if err != nil {
		return nil, fmt.Errorf("failed to create stealth page: %w", err)
	}

	if err := page.SetUserAgent(&proto.NetworkSetUserAgentOverride{
		UserAgent:      b.opts.UserAgent,
		AcceptLanguage: b.opts.AcceptLanguage,
	}); err != nil {
		b.logger.Warn("failed to override user agent", "error", err)
	}
	if b.opts.TimezoneID != "" {
		if err := (proto.EmulationSetTimezoneOverride{TimezoneID: b.opts.TimezoneID}).Call(page); err != nil {
			b.logger.Warn("failed to override timezone", "error", err)
		}
	}

	return &rodSession{page: page, timeout: b.opts.Timeout, logger: b.logger}, nil
}

func (b *RodBrowser) Close() error {
	err := b.browser.Close()
	b.launcher.Kill()
	b.launcher.Cleanup()
	if err != nil {
		return fmt.Errorf("failed to close browser: %w", err)
	}
	return nil
}

type rodSession struct {
	page    *rod.Page
	timeout time.Duration
	logger  *slog.Logger
}

func (s *rodSession) Navigate(ctx context.Context, url string) error {
	page := s.page.Context(ctx).Timeout(s.timeout)
	if err := page.Navigate(url); err != nil {
		return fmt.Errorf("failed to load page: %w", err)
	}
	if err := page.WaitDOMStable(300*time.Millisecond, 0.1); err != nil {
		s.logger.Debug("page did not settle", "url", url, "error", err)
	}
	return nil
}

func (s *rodSession) WaitFor(ctx context.Context, selector string, timeout time.Duration) error {
	_, err := s.page.Context(ctx).Timeout(timeout).Element(selector)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			return fmt.Errorf("%w after %s", ErrNoMatch, timeout)
		}
		return err
	}
	return nil
}

func (s *rodSession) FindElements(ctx context.Context, selector string) ([]Element, error) {
	found, err := s.page.Context(ctx).Elements(selector)
	if err != nil {
		return nil, fmt.Errorf("failed to query %q: %w", selector, err)
	}

	elements := make([]Element, len(found))
	for i, el := range found {
		elements[i] = rodElement{el: el}
	}
	return elements, nil
}

func (s *rodSession) FirstText(ctx context.Context, selector, attr string) (string, error) {
	has, el, err := s.page.Context(ctx).Has(selector)
	if err != nil {
		return "", fmt.Errorf("failed to query %q: %w", selector, err)
	}
	if !has {
		return "", nil
	}

	if attr == "" {
		return el.Text()
	}
	return rodElement{el: el}.Attribute(attr)
}

func (s *rodSession) Close() error {
	return s.page.Close()
}

type rodElement struct {
	el *rod.Element
}

func (e rodElement) Attribute(name string) (string, error) {
	value, err := e.el.Attribute(name)
	if err != nil {
		return "", err
	}
	if value == nil {
		return "", nil
	}
	return *value, nil
}
