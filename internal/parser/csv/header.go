package csv

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// utf8BOM is stripped from the first header cell if present.
const utf8BOM = "\uFEFF"

// normalizeHeaders produces canonical header keys: trim, strip the BOM from
// the first cell, apply HeaderMap, then fold when requested. A mapped name is
// taken as-is.
func normalizeHeaders(h []string, opt Options) []string {
	res := make([]string, len(h))
	for i, col := range h {
		c := strings.TrimSpace(col)
		if i == 0 {
			c = strings.TrimPrefix(c, utf8BOM)
		}
		if m, ok := opt.HeaderMap[c]; ok {
			res[i] = m
			continue
		}
		if opt.FoldHeaders {
			c = FoldName(c)
		}
		res[i] = c
	}
	return res
}

// FoldName lowercases s, removes diacritics and collapses runs of spaces,
// dashes, dots and underscores into one underscore. Other punctuation is
// dropped. An empty result becomes "field".
func FoldName(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))

	// Decompose, remove nonspacing marks, recompose.
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, _ := transform.String(t, s)

	var b strings.Builder
	prevUnderscore := false
	for _, r := range folded {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			prevUnderscore = false
		case r == '_' || r == ' ' || r == '-' || r == '.':
			if !prevUnderscore {
				b.WriteRune('_')
				prevUnderscore = true
			}
		}
	}
	name := strings.Trim(b.String(), "_")
	if name == "" {
		return "field"
	}
	return name
}
