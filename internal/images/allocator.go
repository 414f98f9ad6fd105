package images

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// Allocator hands out filesystem paths that are unique both on disk and
// among the paths it has already handed out.
type Allocator struct {
	mu       sync.Mutex
	reserved map[string]struct{}
}

func NewAllocator() *Allocator {
	return &Allocator{reserved: make(map[string]struct{})}
}

// Allocate returns folder/filename, or folder/name_N.ext with the smallest
// N >= 1 that is free, and reserves the result.
func (a *Allocator) Allocate(folder, filename string) string {
	a.mu.Lock()
	defer a.mu.Unlock()

	ext := filepath.Ext(filename)
	base := strings.TrimSuffix(filename, ext)

	candidate := filepath.Join(folder, filename)
	for i := 1; a.taken(candidate); i++ {
		candidate = filepath.Join(folder, fmt.Sprintf("%s_%d%s", base, i, ext))
	}

	a.reserved[candidate] = struct{}{}
	return candidate
}

// Reserved reports whether path was handed out by this allocator.
func (a *Allocator) Reserved(path string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	_, ok := a.reserved[path]
	return ok
}

func (a *Allocator) taken(path string) bool {
	if _, ok := a.reserved[path]; ok {
		return true
	}
	_, err := os.Lstat(path)
	return err == nil
}
