package chat

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// =============================================================================
// ACCENT FOLDING
// =============================================================================

// foldRune lowercases r and drops its combining marks: "Ñ" -> "n", "é" -> "e".
// A transform chain keeps state, so each call builds its own.
func foldRune(r rune) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, string(r))
	if err != nil {
		out = string(r)
	}
	return strings.ToLower(out)
}

// Fold returns s lowercased and without accents.
func Fold(s string) string {
	return newFolded(s).text
}

// folded is a folded copy of a string that remembers, for every byte of the
// folded text, where the producing rune starts in the original. Matches
// found in the folded text can then be cut out of the original.
type folded struct {
	original string
	text     string
	starts   []int
}

func newFolded(s string) folded {
	var b strings.Builder
	starts := make([]int, 0, len(s))
	for i, r := range s {
		if r == utf8.RuneError {
			r = ' '
		}
		f := foldRune(r)
		b.WriteString(f)
		for range len(f) {
			starts = append(starts, i)
		}
	}
	return folded{original: s, text: b.String(), starts: starts}
}

// span maps the folded byte range [from, to) back to the original.
func (f folded) span(from, to int) (int, int) {
	start := len(f.original)
	if from < len(f.starts) {
		start = f.starts[from]
	}
	end := len(f.original)
	if to < len(f.starts) {
		end = f.starts[to]
	}
	return start, end
}
