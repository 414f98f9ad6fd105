package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"
	"sync"
	"time"
)

const (
	StatusPending    = "pending"
	StatusProcessing = "processing"
	StatusCompleted  = "completed"
	StatusFailed     = "failed"
)

var ErrPageNotFound = errors.New("page not found")

// PageRecord tracks one product page of a batch run.
type PageRecord struct {
	URL        string    `json:"url"`
	Status     string    `json:"status"`
	Folder     string    `json:"folder,omitempty"`
	Downloaded int       `json:"downloaded"`
	Skipped    int       `json:"skipped"`
	Error      string    `json:"error,omitempty"`
	Order      int       `json:"order"`
	AddedAt    time.Time `json:"added_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// PageStore persists batch progress to a JSON file so an interrupted run
// can resume where it stopped.
type PageStore struct {
	mu       sync.RWMutex
	pages    map[string]*PageRecord
	filename string
}

func NewPageStore(filename string) (*PageStore, error) {
	ps := &PageStore{
		pages:    make(map[string]*PageRecord),
		filename: filename,
	}

	if err := ps.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}

	return ps, nil
}

// AddBatch registers urls as pending. Known urls keep their state.
func (ps *PageStore) AddBatch(urls []string) error {
	ps.mu.Lock()
	defer ps.mu.Unlock()

	now := time.Now()
	next := len(ps.pages)
	for _, u := range urls {
		if u == "" {
			continue
		}
		if _, exists := ps.pages[u]; exists {
			continue
		}
		ps.pages[u] = &PageRecord{
			URL:       u,
			Status:    StatusPending,
			Order:     next,
			AddedAt:   now,
			UpdatedAt: now,
		}
		next++
	}

	return ps.save()
}

func (ps *PageStore) Get(url string) (PageRecord, bool) {
	ps.mu.RLock()
	defer ps.mu.RUnlock()

	page, exists := ps.pages[url]
	if !exists {
		return PageRecord{}, false
	}
	return *page, true
}

// Remaining returns urls that still need work, in insertion order.
// Pages left in processing by a crash count as remaining.
func (ps *PageStore) Remaining() []string {
	ps.mu.RLock()
	defer ps.mu.RUnlock()

	var pages []*PageRecord
	for _, page := range ps.pages {
		if page.Status != StatusCompleted {
			pages = append(pages, page)
		}
	}
	sort.Slice(pages, func(i, j int) bool { return pages[i].Order < pages[j].Order })

	urls := make([]string, len(pages))
	for i, page := range pages {
		urls[i] = page.URL
	}
	return urls
}

func (ps *PageStore) MarkProcessing(url string) error {
	return ps.update(url, func(p *PageRecord) {
		p.Status = StatusProcessing
		p.Error = ""
	})
}

func (ps *PageStore) MarkCompleted(url, folder string, downloaded, skipped int) error {
	return ps.update(url, func(p *PageRecord) {
		p.Status = StatusCompleted
		p.Folder = folder
		p.Downloaded = downloaded
		p.Skipped = skipped
		p.Error = ""
	})
}

func (ps *PageStore) MarkFailed(url string, cause error) error {
	return ps.update(url, func(p *PageRecord) {
		p.Status = StatusFailed
		if cause != nil {
			p.Error = cause.Error()
		}
	})
}

func (ps *PageStore) GetStats() map[string]int {
	ps.mu.RLock()
	defer ps.mu.RUnlock()

	stats := make(map[string]int)
	for _, page := range ps.pages {
		stats[page.Status]++
	}
	stats["total"] = len(ps.pages)
	return stats
}

func (ps *PageStore) update(url string, fn func(*PageRecord)) error {
	ps.mu.Lock()
	defer ps.mu.Unlock()

	page, exists := ps.pages[url]
	if !exists {
		return fmt.Errorf("%w: %s", ErrPageNotFound, url)
	}

	fn(page)
	page.UpdatedAt = time.Now()

	return ps.save()
}

func (ps *PageStore) save() error {
	data, err := json.MarshalIndent(ps.pages, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode batch state: %w", err)
	}

	tmpFile := ps.filename + ".tmp"
	if err := os.WriteFile(tmpFile, data, 0o644); err != nil {
		return fmt.Errorf("failed to write batch state: %w", err)
	}

	return os.Rename(tmpFile, ps.filename)
}

func (ps *PageStore) Load() error {
	data, err := os.ReadFile(ps.filename)
	if err != nil {
		return err
	}

	pages := make(map[string]*PageRecord)
	if err := json.Unmarshal(data, &pages); err != nil {
		return fmt.Errorf("failed to parse batch state %s: %w", ps.filename, err)
	}

	ps.mu.Lock()
	ps.pages = pages
	ps.mu.Unlock()
	return nil
}
