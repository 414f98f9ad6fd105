package images

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"sync"
)

// SentenceMap maps a product name (words separated by spaces) to candidate
// phrases used for renaming its images.
type SentenceMap map[string][]string

type sentenceEntry struct {
	once      sync.Once
	sentences SentenceMap
}

// SentenceCache loads sentence files once per path and shares the result
// between concurrent sessions.
type SentenceCache struct {
	mu      sync.Mutex
	entries map[string]*sentenceEntry
	logger  *slog.Logger
}

func NewSentenceCache(logger *slog.Logger) *SentenceCache {
	if logger == nil {
		logger = slog.Default()
	}
	return &SentenceCache{
		entries: make(map[string]*sentenceEntry),
		logger:  logger.With("component", "sentence_cache"),
	}
}

// Load returns the mapping stored at path. Unreadable or malformed files
// produce an empty mapping, which is cached like any other result.
func (c *SentenceCache) Load(path string) SentenceMap {
	c.mu.Lock()
	entry, ok := c.entries[path]
	if !ok {
		entry = &sentenceEntry{}
		c.entries[path] = entry
	}
	c.mu.Unlock()

	entry.once.Do(func() {
		sentences, err := readSentences(path)
		if err != nil {
			c.logger.Warn("alt sentences unavailable, renaming disabled", "path", path, "error", err)
			sentences = SentenceMap{}
		} else {
			c.logger.Info("alt sentences loaded", "path", path, "products", len(sentences))
		}
		entry.sentences = sentences
	})

	return entry.sentences
}

func readSentences(path string) (SentenceMap, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read sentences file: %w", err)
	}

	var sentences SentenceMap
	if err := json.Unmarshal(data, &sentences); err != nil {
		return nil, fmt.Errorf("failed to parse sentences file: %w", err)
	}
	if sentences == nil {
		sentences = SentenceMap{}
	}
	return sentences, nil
}
