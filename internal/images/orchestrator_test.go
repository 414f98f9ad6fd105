package images

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"testing"

	"github.com/maltedev/product-image-scraper/internal/browser"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const gallerySelector = ".product-gallery__media-list img"

const shopProduct = `<!doctype html>
<html><head>
<title>Chaise Oslo | Boutique</title>
<meta property="og:title" content="Chaise Oslo">
</head><body>
<h1>Chaise</h1>
<ul class="product-gallery__media-list">
  <li><img src="{{base}}/img/photo-800.jpg"></li>
  <li><img data-src="{{base}}/img/photo-400.jpg"></li>
  <li><img src="data:image/png;base64,aGVsbG8="></li>
  <li><img alt="placeholder"></li>
  <li><img src="{{base}}/img/missing.jpg"></li>
</ul>
</body></html>`

const shopBare = `<!doctype html>
<html><head></head><body>
<ul class="product-gallery__media-list">
  <li><img src="{{base}}/img/solo.jpg"></li>
</ul>
</body></html>`

const shopRelative = `<!doctype html>
<html><head><title>Table Basse</title></head><body>
<ul class="product-gallery__media-list">
  <li><img src="/img/a.jpg"></li>
  <li><img src="media/b-600.png"></li>
  <li><img data-srcset="/img/c-300.jpg 300w, /img/c-1200.jpg 1200w"></li>
</ul>
</body></html>`

func newShop(t *testing.T) *httptest.Server {
	t.Helper()

	page := func(tpl string) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "text/html; charset=utf-8")
			_, _ = w.Write([]byte(strings.ReplaceAll(tpl, "{{base}}", "http://"+r.Host)))
		}
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/product", page(shopProduct))
	mux.HandleFunc("/bare", page(shopBare))
	mux.HandleFunc("/catalogue/table", page(shopRelative))
	serveImage := func(w http.ResponseWriter, r *http.Request) {
		if strings.HasSuffix(r.URL.Path, "missing.jpg") {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write([]byte("jpeg:" + r.URL.Path))
	}
	mux.HandleFunc("/img/", serveImage)
	mux.HandleFunc("/catalogue/media/", serveImage)

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

// trackingOpener records how many sessions were opened and closed.
type trackingOpener struct {
	inner  browser.Opener
	mu     sync.Mutex
	opened int
	closed int
}

func (o *trackingOpener) Open(ctx context.Context) (browser.Session, error) {
	s, err := o.inner.Open(ctx)
	if err != nil {
		return nil, err
	}
	o.mu.Lock()
	o.opened++
	o.mu.Unlock()
	return &trackedSession{Session: s, owner: o}, nil
}

type trackedSession struct {
	browser.Session
	owner *trackingOpener
}

func (s *trackedSession) Close() error {
	s.owner.mu.Lock()
	s.owner.closed++
	s.owner.mu.Unlock()
	return s.Session.Close()
}

func newTestDownloader(t *testing.T) (*Downloader, *trackingOpener) {
	t.Helper()
	opener := &trackingOpener{inner: browser.NewStatic(browser.DefaultOptions(), nil)}
	return NewDownloader(opener, NewFetcher(0, nil), NewSentenceCache(nil), nil), opener
}

func listFiles(t *testing.T, dir string) []string {
	t.Helper()
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	sort.Strings(names)
	return names
}

func TestDownloadImages(t *testing.T) {
	ctx := context.Background()
	srv := newShop(t)
	d, opener := newTestDownloader(t)
	parent := t.TempDir()

	var mu sync.Mutex
	var calls []int
	progress := func(index, total int) {
		mu.Lock()
		defer mu.Unlock()
		assert.Equal(t, 5, total)
		calls = append(calls, index)
	}

	summary, err := d.DownloadImages(ctx, Options{
		URL:       srv.URL + "/product",
		Selector:  gallerySelector,
		ParentDir: parent,
		Progress:  progress,
	})
	require.NoError(t, err)

	folder := filepath.Join(parent, "Chaise_Oslo")
	assert.Equal(t, folder, summary.Folder)
	assert.Equal(t, "Chaise Oslo", summary.ProductName)
	assert.Equal(t, 5, summary.Total)
	assert.Equal(t, 3, summary.Downloaded)
	assert.Equal(t, 2, summary.Skipped)
	assert.Equal(t, filepath.Join(folder, "image_base64_3.png"), summary.FirstImage)
	assert.Len(t, summary.Results, 5)

	assert.Equal(t, []string{"image_base64_3.png", "photo.jpg", "photo_1.jpg"}, listFiles(t, folder))

	sort.Ints(calls)
	assert.Equal(t, []int{1, 2, 3, 4, 5}, calls)

	outcomes := make(map[int]Outcome)
	for _, r := range summary.Results {
		outcomes[r.Index] = r.Outcome
	}
	assert.Equal(t, map[int]Outcome{
		1: OutcomeDownloaded,
		2: OutcomeDownloaded,
		3: OutcomeDownloaded,
		4: OutcomeSkipped,
		5: OutcomeFailed,
	}, outcomes)

	data, err := os.ReadFile(filepath.Join(folder, "photo.jpg"))
	require.NoError(t, err)
	assert.Equal(t, "jpeg:/img/photo-800.jpg", string(data))

	assert.Equal(t, 1, opener.opened)
	assert.Equal(t, 1, opener.closed)
}

func TestDownloadImages_InvalidURL(t *testing.T) {
	d, opener := newTestDownloader(t)

	for _, raw := range []string{"", "images/product", "ftp://example.com/p", "https://", "://bad"} {
		t.Run(raw, func(t *testing.T) {
			_, err := d.DownloadImages(context.Background(), Options{URL: raw})
			assert.ErrorIs(t, err, ErrInvalidURL)
		})
	}
	assert.Zero(t, opener.opened)
}

func TestDownloadImages_FatalErrors(t *testing.T) {
	ctx := context.Background()
	srv := newShop(t)

	t.Run("selector never matches", func(t *testing.T) {
		d, opener := newTestDownloader(t)

		_, err := d.DownloadImages(ctx, Options{
			URL:       srv.URL + "/product",
			Selector:  ".no-such-gallery img",
			ParentDir: t.TempDir(),
		})
		assert.ErrorIs(t, err, ErrElementNotFound)
		assert.Equal(t, 1, opener.closed)
	})

	t.Run("navigation failure", func(t *testing.T) {
		d, opener := newTestDownloader(t)

		_, err := d.DownloadImages(ctx, Options{
			URL:       srv.URL + "/gone",
			ParentDir: t.TempDir(),
		})
		require.Error(t, err)
		assert.NotErrorIs(t, err, ErrElementNotFound)
		assert.Equal(t, 1, opener.closed)
	})
}

func TestDownloadImages_DefaultProductName(t *testing.T) {
	srv := newShop(t)
	d, _ := newTestDownloader(t)
	parent := t.TempDir()

	summary, err := d.DownloadImages(context.Background(), Options{
		URL:       srv.URL + "/bare",
		ParentDir: parent,
	})
	require.NoError(t, err)

	assert.Equal(t, DefaultProductName, summary.ProductName)
	assert.Equal(t, filepath.Join(parent, DefaultProductName), summary.Folder)
	assert.Equal(t, []string{"solo.jpg"}, listFiles(t, summary.Folder))
}

func TestDownloadImages_AltRenaming(t *testing.T) {
	ctx := context.Background()
	srv := newShop(t)

	t.Run("files renamed from phrases", func(t *testing.T) {
		d, _ := newTestDownloader(t)
		parent := t.TempDir()
		altPath := filepath.Join(t.TempDir(), "product_sentences.json")
		require.NoError(t, os.WriteFile(altPath, []byte(`{"Chaise Oslo": ["Chaise en chêne"]}`), 0o644))

		summary, err := d.DownloadImages(ctx, Options{
			URL:         srv.URL + "/product",
			ParentDir:   parent,
			UseAltJSON:  true,
			AltJSONPath: altPath,
		})
		require.NoError(t, err)

		assert.Equal(t, 3, summary.Downloaded)
		assert.Equal(t,
			[]string{"chaise_en_chene.jpg", "chaise_en_chene.png", "chaise_en_chene_1.jpg"},
			listFiles(t, summary.Folder))
		assert.Equal(t, filepath.Join(summary.Folder, "chaise_en_chene.png"), summary.FirstImage)
	})

	t.Run("unreachable json leaves names unchanged", func(t *testing.T) {
		d, _ := newTestDownloader(t)

		summary, err := d.DownloadImages(ctx, Options{
			URL:         srv.URL + "/product",
			ParentDir:   t.TempDir(),
			UseAltJSON:  true,
			AltJSONPath: filepath.Join(t.TempDir(), "missing.json"),
		})
		require.NoError(t, err)
		assert.Equal(t, []string{"image_base64_3.png", "photo.jpg", "photo_1.jpg"}, listFiles(t, summary.Folder))
	})

	t.Run("empty json path disables renaming", func(t *testing.T) {
		d, _ := newTestDownloader(t)

		summary, err := d.DownloadImages(ctx, Options{
			URL:        srv.URL + "/product",
			ParentDir:  t.TempDir(),
			UseAltJSON: true,
		})
		require.NoError(t, err)
		assert.Equal(t, []string{"image_base64_3.png", "photo.jpg", "photo_1.jpg"}, listFiles(t, summary.Folder))
	})
}

func TestDownloadImages_Rerun(t *testing.T) {
	ctx := context.Background()
	srv := newShop(t)
	d, _ := newTestDownloader(t)
	parent := t.TempDir()
	opts := Options{URL: srv.URL + "/product", ParentDir: parent, MaxThreads: 2}

	first, err := d.DownloadImages(ctx, opts)
	require.NoError(t, err)
	firstNames := listFiles(t, first.Folder)

	t.Run("clean rerun reproduces names", func(t *testing.T) {
		require.NoError(t, os.RemoveAll(first.Folder))

		second, err := d.DownloadImages(ctx, opts)
		require.NoError(t, err)
		assert.Equal(t, firstNames, listFiles(t, second.Folder))
	})

	t.Run("rerun over existing files does not overwrite", func(t *testing.T) {
		third, err := d.DownloadImages(ctx, opts)
		require.NoError(t, err)
		assert.Len(t, listFiles(t, third.Folder), 2*len(firstNames))
	})
}

func TestDownloadImages_ConcurrentSessions(t *testing.T) {
	ctx := context.Background()
	srv := newShop(t)
	d, _ := newTestDownloader(t)

	parents := []string{t.TempDir(), t.TempDir(), t.TempDir()}
	summaries := make([]*Summary, len(parents))
	errs := make([]error, len(parents))

	var wg sync.WaitGroup
	for i, parent := range parents {
		wg.Add(1)
		go func(i int, parent string) {
			defer wg.Done()
			summaries[i], errs[i] = d.DownloadImages(ctx, Options{
				URL:        srv.URL + "/product",
				ParentDir:  parent,
				MaxThreads: 1,
			})
		}(i, parent)
	}
	wg.Wait()

	for i := range parents {
		require.NoError(t, errs[i])
		assert.Equal(t, []string{"image_base64_3.png", "photo.jpg", "photo_1.jpg"}, listFiles(t, summaries[i].Folder))
	}
}

func TestDownloadImages_RelativeSources(t *testing.T) {
	srv := newShop(t)
	d, _ := newTestDownloader(t)

	summary, err := d.DownloadImages(context.Background(), Options{
		URL:       srv.URL + "/catalogue/table",
		ParentDir: t.TempDir(),
	})
	require.NoError(t, err)

	assert.Equal(t, 3, summary.Downloaded)
	assert.Zero(t, summary.Skipped)
	assert.Equal(t, []string{"a.jpg", "b.png", "c.jpg"}, listFiles(t, summary.Folder))

	data, err := os.ReadFile(filepath.Join(summary.Folder, "b.png"))
	require.NoError(t, err)
	assert.Equal(t, "jpeg:/catalogue/media/b-600.png", string(data))

	data, err = os.ReadFile(filepath.Join(summary.Folder, "c.jpg"))
	require.NoError(t, err)
	assert.Equal(t, "jpeg:/img/c-1200.jpg", string(data))
}
