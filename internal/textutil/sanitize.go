package textutil

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// maxSlugLength bounds job directory and output file prefixes.
const maxSlugLength = 48

// Slug converts a job name into a lowercase token safe for directory and
// file names. Accented letters fold to their base form; anything other than
// letters, digits, '-' and '_' becomes '_'. Empty results yield "job".
func Slug(name string) string {
	folded, _, err := transform.String(transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC), strings.TrimSpace(name))
	if err != nil {
		folded = name
	}
	var b strings.Builder
	for _, r := range folded {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '-', r == '_':
			b.WriteRune(r)
		case r >= 'A' && r <= 'Z':
			b.WriteRune(unicode.ToLower(r))
		default:
			b.WriteByte('_')
		}
	}
	out := strings.Trim(b.String(), "_-")
	if len(out) > maxSlugLength {
		out = strings.TrimRight(out[:maxSlugLength], "_-")
	}
	if out == "" {
		return "job"
	}
	return out
}

// Excerpt collapses whitespace and shortens value to at most limit runes,
// marking cut text with an ellipsis.
func Excerpt(value string, limit int) string {
	value = strings.Join(strings.Fields(value), " ")
	if limit <= 0 {
		return ""
	}
	r := []rune(value)
	if len(r) <= limit {
		return value
	}
	if limit == 1 {
		return "…"
	}
	return string(r[:limit-1]) + "…"
}
