package images

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeInline(t *testing.T) {
	tests := []struct {
		name    string
		payload string
		want    string
		wantErr bool
	}{
		{name: "padded", payload: "aGVsbG8=", want: "hello"},
		{name: "unpadded", payload: "aGVsbG8", want: "hello"},
		{name: "surrounding whitespace", payload: "  aGVsbG8=\n", want: "hello"},
		{name: "garbage", payload: "***", wantErr: true},
		{name: "empty", payload: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := DecodeInline(tt.payload)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidPayload)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, []byte(tt.want), got)
		})
	}
}

func TestFetcher_Fetch(t *testing.T) {
	ctx := context.Background()
	body := strings.Repeat("0123456789", 2000)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/ok.jpg":
			assert.Equal(t, "ScrapImageBot/1.0", r.UserAgent())
			_, _ = w.Write([]byte(body))
		default:
			http.Error(w, "gone", http.StatusNotFound)
		}
	}))
	defer srv.Close()

	fetcher := NewFetcher(0, nil)

	t.Run("remote streamed to disk", func(t *testing.T) {
		target := filepath.Join(t.TempDir(), "ok.jpg")
		src := &Source{Kind: SourceRemote, URL: srv.URL + "/ok.jpg"}

		require.NoError(t, fetcher.Fetch(ctx, src, target, DefaultUserAgent))

		data, err := os.ReadFile(target)
		require.NoError(t, err)
		assert.Equal(t, body, string(data))
	})

	t.Run("non-2xx wraps url", func(t *testing.T) {
		target := filepath.Join(t.TempDir(), "missing.jpg")
		src := &Source{Kind: SourceRemote, URL: srv.URL + "/missing.jpg"}

		err := fetcher.Fetch(ctx, src, target, DefaultUserAgent)

		var dlErr *DownloadFailedError
		require.True(t, errors.As(err, &dlErr))
		assert.Equal(t, src.URL, dlErr.URL)
		assert.Contains(t, err.Error(), "404")
		assert.NoFileExists(t, target)
	})

	t.Run("unreachable host", func(t *testing.T) {
		target := filepath.Join(t.TempDir(), "x.jpg")
		src := &Source{Kind: SourceRemote, URL: "http://127.0.0.1:1/x.jpg"}

		err := fetcher.Fetch(ctx, src, target, DefaultUserAgent)

		var dlErr *DownloadFailedError
		assert.True(t, errors.As(err, &dlErr))
	})

	t.Run("inline decoded", func(t *testing.T) {
		target := filepath.Join(t.TempDir(), "image_base64_1.png")
		src := &Source{Kind: SourceInline, Payload: "aGVsbG8="}

		require.NoError(t, fetcher.Fetch(ctx, src, target, DefaultUserAgent))

		data, err := os.ReadFile(target)
		require.NoError(t, err)
		assert.Equal(t, "hello", string(data))
	})

	t.Run("inline invalid", func(t *testing.T) {
		target := filepath.Join(t.TempDir(), "image_base64_1.png")
		src := &Source{Kind: SourceInline, Payload: "!!"}

		err := fetcher.Fetch(ctx, src, target, DefaultUserAgent)
		assert.ErrorIs(t, err, ErrInvalidPayload)
		assert.NoFileExists(t, target)
	})
}
