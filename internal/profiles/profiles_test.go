package profiles

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleYAML = `
default: maison
profiles:
  maison:
    selector: ".product-gallery__media-list img"
    parent_dir: images/maison
    sentences_file: maison_sentences.json
    max_threads: 6
  deco:
    selector: ".swiper-slide img"
`

func TestParse(t *testing.T) {
	f, err := Parse([]byte(sampleYAML))
	require.NoError(t, err)

	assert.Equal(t, []string{"deco", "maison"}, f.Names())

	p, err := f.Get("")
	require.NoError(t, err)
	assert.Equal(t, "maison", p.Name)
	assert.Equal(t, "images/maison", p.ParentDir)
	assert.Equal(t, "maison_sentences.json", p.SentencesFile)
	assert.Equal(t, 6, p.MaxThreads)

	p, err = f.Get("deco")
	require.NoError(t, err)
	assert.Equal(t, ".swiper-slide img", p.Selector)
	assert.Zero(t, p.MaxThreads)
}

func TestParse_JSON(t *testing.T) {
	f, err := Parse([]byte(`{"profiles": {"shop": {"selector": "img.main", "sentences_file": "s.json"}}}`))
	require.NoError(t, err)

	p, err := f.Get("shop")
	require.NoError(t, err)
	assert.Equal(t, "img.main", p.Selector)
	assert.Equal(t, "s.json", p.SentencesFile)

	_, err = f.Get("")
	assert.ErrorIs(t, err, ErrProfileNotFound)
}

func TestParse_Errors(t *testing.T) {
	tests := []struct {
		name string
		data string
		want error
	}{
		{"empty", "", ErrNoProfiles},
		{"no profiles", "default: x\n", ErrNoProfiles},
		{"unknown default", "default: x\nprofiles:\n  y:\n    selector: img\n", ErrProfileNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.data))
			assert.ErrorIs(t, err, tt.want)
		})
	}

	_, err := Parse([]byte("profiles: [unclosed"))
	assert.Error(t, err)
}

func TestSaveAndLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "profiles.yaml")
	f, err := Parse([]byte(sampleYAML))
	require.NoError(t, err)

	require.NoError(t, f.Save(path))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, f.Names(), loaded.Names())
	assert.Equal(t, "maison", loaded.Default)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}
