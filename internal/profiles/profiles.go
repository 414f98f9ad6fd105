// Package profiles reads per-site scraping presets.
//
// A profile file looks like:
//
//	default: maison
//	profiles:
//	  maison:
//	    selector: ".product-gallery__media-list img"
//	    parent_dir: images/maison
//	    sentences_file: maison_sentences.json
//	    max_threads: 6
//
// JSON files with the same shape are accepted too.
package profiles

import (
	"errors"
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"
)

var (
	ErrProfileNotFound = errors.New("profile not found")
	ErrNoProfiles      = errors.New("profile file defines no profiles")
)

type Profile struct {
	Name          string `yaml:"-" json:"-"`
	Selector      string `yaml:"selector" json:"selector"`
	ParentDir     string `yaml:"parent_dir" json:"parent_dir"`
	SentencesFile string `yaml:"sentences_file" json:"sentences_file"`
	UserAgent     string `yaml:"user_agent" json:"user_agent"`
	MaxThreads    int    `yaml:"max_threads" json:"max_threads"`
}

type File struct {
	Default  string              `yaml:"default" json:"default"`
	Profiles map[string]*Profile `yaml:"profiles" json:"profiles"`
}

// Load parses path. YAML is a superset of JSON, so one decoder serves both.
func Load(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read profile file: %w", err)
	}
	return Parse(data)
}

func Parse(data []byte) (*File, error) {
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse profile file: %w", err)
	}
	if len(f.Profiles) == 0 {
		return nil, ErrNoProfiles
	}

	for name, p := range f.Profiles {
		if p == nil {
			p = &Profile{}
			f.Profiles[name] = p
		}
		p.Name = name
	}

	if f.Default != "" {
		if _, ok := f.Profiles[f.Default]; !ok {
			return nil, fmt.Errorf("%w: default %q", ErrProfileNotFound, f.Default)
		}
	}
	return &f, nil
}

// Get returns the named profile, or the default one when name is empty.
func (f *File) Get(name string) (*Profile, error) {
	if name == "" {
		name = f.Default
	}
	if name == "" {
		return nil, fmt.Errorf("%w: no name given and no default set", ErrProfileNotFound)
	}

	p, ok := f.Profiles[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrProfileNotFound, name)
	}
	return p, nil
}

func (f *File) Names() []string {
	names := make([]string, 0, len(f.Profiles))
	for name := range f.Profiles {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Save writes f as YAML.
func (f *File) Save(path string) error {
	data, err := yaml.Marshal(f)
	if err != nil {
		return fmt.Errorf("failed to encode profiles: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write profile file: %w", err)
	}
	return nil
}
