package browser

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

var (
	ErrNoMatch          = errors.New("no element matches selector")
	ErrNotNavigated     = errors.New("session has no loaded page")
	ErrUnknownEngine    = errors.New("unknown browser engine")
	ErrUnexpectedStatus = errors.New("unexpected http status")
)

const (
	EnginePlaywright = "playwright"
	EngineRod        = "rod"
	EngineStatic     = "static"
)

// Element is a node of the loaded page. Missing attributes read as "".
type Element interface {
	Attribute(name string) (string, error)
}

// Session drives a single page. It is not safe for concurrent use.
type Session interface {
	Navigate(ctx context.Context, url string) error
	WaitFor(ctx context.Context, selector string, timeout time.Duration) error
	FindElements(ctx context.Context, selector string) ([]Element, error)
	// FirstText returns attr of the first match, or its text when attr is
	// empty. No match yields "" and a nil error.
	FirstText(ctx context.Context, selector, attr string) (string, error)
	Close() error
}

type Opener interface {
	Open(ctx context.Context) (Session, error)
}

type OpenerFunc func(ctx context.Context) (Session, error)

func (f OpenerFunc) Open(ctx context.Context) (Session, error) {
	return f(ctx)
}

// Engine is an Opener that owns a browser process.
type Engine interface {
	Opener
	Close() error
}

// NewEngine starts the engine named by opts.Engine.
func NewEngine(opts *Options, logger *slog.Logger) (Engine, error) {
	if opts == nil {
		opts = DefaultOptions()
	}
	if logger == nil {
		logger = slog.Default()
	}

	switch opts.Engine {
	case "", EnginePlaywright:
		return New(opts, logger)
	case EngineRod:
		return NewRod(opts, logger)
	case EngineStatic:
		return NewStatic(opts, logger), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownEngine, opts.Engine)
	}
}
