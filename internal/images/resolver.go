package images

import (
	"fmt"
	"net/url"
	"path"
	"regexp"
	"strings"

	"github.com/maltedev/product-image-scraper/internal/browser"
)

type SourceKind int

const (
	SourceRemote SourceKind = iota
	SourceInline
)

func (k SourceKind) String() string {
	if k == SourceInline {
		return "inline"
	}
	return "remote"
}

// Source is the resolved origin of one image element together with the
// filename it should be stored under before uniqueness allocation.
type Source struct {
	Kind     SourceKind
	URL      string
	Payload  string
	Filename string
}

const inlinePrefix = "data:image"

// sourceAttributes is checked in order; the first non-empty value wins.
var sourceAttributes = []string{"src", "data-src", "data-srcset"}

var sizeSuffixPattern = regexp.MustCompile(`-\d+(\.\w+)$`)

// Resolve reads the element's source attributes and classifies the result.
// Relative remote sources are resolved against page, which may be nil.
func Resolve(el browser.Element, page *url.URL, index int) (*Source, error) {
	for _, name := range sourceAttributes {
		value, err := el.Attribute(name)
		if err != nil {
			return nil, fmt.Errorf("failed to read attribute %s: %w", name, err)
		}
		if value = strings.TrimSpace(value); value != "" {
			return ResolveValue(value, page, index)
		}
	}
	return nil, ErrMissingSource
}

// ResolveValue classifies a raw attribute value as inline or remote.
func ResolveValue(value string, page *url.URL, index int) (*Source, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil, ErrMissingSource
	}

	if strings.Contains(value, " ") && strings.Contains(value, ",") {
		value = lastCandidate(value)
		if value == "" {
			return nil, ErrMissingSource
		}
	}

	if strings.HasPrefix(value, inlinePrefix) {
		return resolveInline(value, index)
	}
	return resolveRemote(value, page, index), nil
}

// lastCandidate returns the url of the last entry of a srcset list.
func lastCandidate(srcset string) string {
	var last string
	for _, entry := range strings.Split(srcset, ",") {
		fields := strings.Fields(entry)
		if len(fields) == 0 {
			continue
		}
		last = fields[0]
	}
	return last
}

func resolveInline(value string, index int) (*Source, error) {
	header, payload, ok := strings.Cut(value, ",")
	if !ok {
		return nil, fmt.Errorf("%w: missing payload separator", ErrInvalidPayload)
	}

	ext := "bin"
	if _, subtype, found := strings.Cut(header, "/"); found {
		subtype, _, _ = strings.Cut(subtype, ";")
		if subtype != "" {
			ext = subtype
		}
	}

	return &Source{
		Kind:     SourceInline,
		Payload:  payload,
		Filename: fmt.Sprintf("image_base64_%d.%s", index, ext),
	}, nil
}

func resolveRemote(value string, page *url.URL, index int) *Source {
	if strings.HasPrefix(value, "//") {
		value = "https:" + value
	}
	if page != nil {
		if ref, err := url.Parse(value); err == nil && !ref.IsAbs() {
			value = page.ResolveReference(ref).String()
		}
	}

	return &Source{
		Kind:     SourceRemote,
		URL:      value,
		Filename: remoteFilename(value, index),
	}
}

func remoteFilename(raw string, index int) string {
	p := raw
	if u, err := url.Parse(raw); err == nil {
		p = u.Path
	} else {
		p, _, _ = strings.Cut(p, "?")
		p, _, _ = strings.Cut(p, "#")
	}

	name := path.Base(p)
	if name == "" || name == "." || name == "/" {
		return fmt.Sprintf("image_%d", index)
	}
	return sizeSuffixPattern.ReplaceAllString(name, "${1}")
}
