package images

import (
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAllocator_Allocate(t *testing.T) {
	t.Run("suffixes increase from one", func(t *testing.T) {
		dir := t.TempDir()
		a := NewAllocator()

		got := []string{
			a.Allocate(dir, "photo.jpg"),
			a.Allocate(dir, "photo.jpg"),
			a.Allocate(dir, "photo.jpg"),
		}

		assert.Equal(t, []string{
			filepath.Join(dir, "photo.jpg"),
			filepath.Join(dir, "photo_1.jpg"),
			filepath.Join(dir, "photo_2.jpg"),
		}, got)
	})

	t.Run("existing files are skipped", func(t *testing.T) {
		dir := t.TempDir()
		require.NoError(t, os.WriteFile(filepath.Join(dir, "photo.jpg"), []byte("x"), 0o644))
		require.NoError(t, os.WriteFile(filepath.Join(dir, "photo_1.jpg"), []byte("x"), 0o644))

		got := NewAllocator().Allocate(dir, "photo.jpg")
		assert.Equal(t, filepath.Join(dir, "photo_2.jpg"), got)
	})

	t.Run("name without extension", func(t *testing.T) {
		dir := t.TempDir()
		a := NewAllocator()

		assert.Equal(t, filepath.Join(dir, "image_3"), a.Allocate(dir, "image_3"))
		assert.Equal(t, filepath.Join(dir, "image_3_1"), a.Allocate(dir, "image_3"))
	})

	t.Run("reservation is recorded", func(t *testing.T) {
		dir := t.TempDir()
		a := NewAllocator()
		path := a.Allocate(dir, "a.png")

		assert.True(t, a.Reserved(path))
		assert.False(t, a.Reserved(filepath.Join(dir, "b.png")))
	})

	t.Run("separate allocators do not share reservations", func(t *testing.T) {
		dir := t.TempDir()

		assert.Equal(t, filepath.Join(dir, "a.png"), NewAllocator().Allocate(dir, "a.png"))
		assert.Equal(t, filepath.Join(dir, "a.png"), NewAllocator().Allocate(dir, "a.png"))
	})
}

func TestAllocator_Concurrent(t *testing.T) {
	dir := t.TempDir()
	a := NewAllocator()

	const workers = 64
	paths := make(chan string, workers)

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			paths <- a.Allocate(dir, "same.jpg")
		}()
	}
	wg.Wait()
	close(paths)

	seen := make(map[string]bool)
	for p := range paths {
		assert.False(t, seen[p], "duplicate path %s", p)
		seen[p] = true
	}
	assert.Len(t, seen, workers)
	assert.True(t, seen[filepath.Join(dir, "same.jpg")])
	assert.True(t, seen[filepath.Join(dir, "same_63.jpg")])
}
