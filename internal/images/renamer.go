package images

import (
	"log/slog"
	"math/rand/v2"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// Renamer gives downloaded files a readable name drawn from the phrases
// configured for their product.
type Renamer struct {
	sentences SentenceMap
	allocator *Allocator
	pick      func(n int) int
	logger    *slog.Logger

	mu     sync.Mutex
	warned map[string]struct{}
}

func NewRenamer(sentences SentenceMap, allocator *Allocator, logger *slog.Logger) *Renamer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Renamer{
		sentences: sentences,
		allocator: allocator,
		pick:      rand.IntN,
		logger:    logger.With("component", "renamer"),
		warned:    make(map[string]struct{}),
	}
}

// ProductKey maps a product folder back to its sentence map key.
func ProductKey(folder string) string {
	return strings.ReplaceAll(filepath.Base(folder), "_", " ")
}

// Rename moves path to a phrase-derived name and returns the resulting path.
// Every failure leaves the file where it is and returns path unchanged.
func (r *Renamer) Rename(path string) string {
	dir := filepath.Dir(path)
	key := ProductKey(dir)

	phrases := r.sentences[key]
	if len(phrases) == 0 {
		r.warnOnce(key)
		return path
	}

	phrase := phrases[r.pick(len(phrases))]
	slug := Slugify(phrase)
	if slug == "" {
		r.logger.Warn("phrase produced an empty filename, keeping original", "phrase", phrase, "path", path)
		return path
	}

	target := filepath.Join(dir, slug+filepath.Ext(path))
	if target == path {
		return path
	}
	target = r.allocator.Allocate(dir, filepath.Base(target))

	if err := os.Rename(path, target); err != nil {
		r.logger.Warn("rename failed, keeping original", "path", path, "target", target, "error", err)
		return path
	}

	r.logger.Debug("image renamed", "from", filepath.Base(path), "to", filepath.Base(target))
	return target
}

func (r *Renamer) warnOnce(key string) {
	r.mu.Lock()
	_, seen := r.warned[key]
	r.warned[key] = struct{}{}
	r.mu.Unlock()

	if !seen {
		r.logger.Warn("no alt sentences for product", "product", key)
	}
}
