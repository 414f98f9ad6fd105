package browser

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultOptions(t *testing.T) {
	opts := DefaultOptions()

	assert.True(t, opts.Headless, "expected headless by default")
	assert.Equal(t, EnginePlaywright, opts.Engine)
	assert.Equal(t, 30*time.Second, opts.Timeout)
	assert.Equal(t, 1920, opts.ViewportWidth)
	assert.Equal(t, 1080, opts.ViewportHeight)
	assert.Equal(t, "fr-FR", opts.Locale)
	assert.Equal(t, "Europe/Paris", opts.TimezoneID)
}

func TestNewEngine(t *testing.T) {
	t.Run("static engine needs no browser binary", func(t *testing.T) {
		opts := DefaultOptions()
		opts.Engine = EngineStatic

		engine, err := NewEngine(opts, nil)
		require.NoError(t, err)
		defer engine.Close()

		_, ok := engine.(*StaticBrowser)
		assert.True(t, ok)
	})

	t.Run("unknown engine", func(t *testing.T) {
		opts := DefaultOptions()
		opts.Engine = "netscape"

		_, err := NewEngine(opts, nil)
		assert.ErrorIs(t, err, ErrUnknownEngine)
	})
}

func TestOpenerFunc(t *testing.T) {
	want := errors.New("boom")
	opener := OpenerFunc(func(ctx context.Context) (Session, error) {
		return nil, want
	})

	_, err := opener.Open(context.Background())
	assert.ErrorIs(t, err, want)
}
