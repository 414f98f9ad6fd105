package images

import (
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

var (
	whitespaceRun    = regexp.MustCompile(`\s+`)
	slugDisallowed   = regexp.MustCompile(`[^a-z0-9_-]`)
	folderDisallowed = regexp.MustCompile(`[^\p{L}\p{N}\p{M}_-]`)
)

// Slugify turns a phrase into a lowercase ASCII filename stem. Every
// whitespace run, leading and trailing ones included, becomes '_'.
func Slugify(phrase string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), runes.Remove(runes.Predicate(isNonASCII)))
	stripped, _, err := transform.String(t, phrase)
	if err != nil {
		stripped = phrase
	}

	s := strings.ToLower(stripped)
	s = whitespaceRun.ReplaceAllString(s, "_")
	return slugDisallowed.ReplaceAllString(s, "")
}

// SanitizeFolderName keeps letters, digits, '_' and '-' and maps
// everything else to '_'.
func SanitizeFolderName(name string) string {
	return folderDisallowed.ReplaceAllString(name, "_")
}

func isNonASCII(r rune) bool {
	return r > unicode.MaxASCII
}
