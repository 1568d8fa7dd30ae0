package filter

import (
	"strings"
)

// Scale is the ordinal rating scale from best to worst.
var Scale = []string{
	"AAA",
	"AA+", "AA", "AA-",
	"A+", "A", "A-",
	"BBB+", "BBB", "BBB-",
	"BB+", "BB", "BB-",
	"B+", "B", "B-",
	"CCC+", "CCC", "CCC-",
	"CC", "C",
	"RD", "SD", "D",
}

var scaleIndex = func() map[string]int {
	m := make(map[string]int, len(Scale))
	for i, label := range Scale {
		m[label] = i
	}
	return m
}()

// ScaleIndex returns the position of label on the scale.
func ScaleIndex(label string) (int, bool) {
	i, ok := scaleIndex[strings.ToUpper(strings.TrimSpace(label))]
	return i, ok
}

// ratingSpan resolves a possibly half-open label range to scale positions.
// A single label means exactly that notch.
func ratingSpan(from, to string) (lo, hi int, ok bool) {
	if from == "" && to == "" {
		return 0, 0, false
	}
	if from == "" {
		from = to
	}
	if to == "" {
		to = from
	}
	a, okA := ScaleIndex(from)
	b, okB := ScaleIndex(to)
	if !okA || !okB {
		return 0, 0, false
	}
	if a > b {
		a, b = b, a
	}
	return a, b, true
}

// ratingTokens splits free text into candidate labels. Anything that is not
// an upper-case Latin letter, '+' or '-' separates tokens, so "AA+(RU)"
// yields "AA+" and "RU".
func ratingTokens(s string) []string {
	return strings.FieldsFunc(s, func(r rune) bool {
		return !(r >= 'A' && r <= 'Z' || r == '+' || r == '-')
	})
}

// matchesSpan reports whether any scale label between lo and hi appears in
// rating as a whole token.
func matchesSpan(rating string, lo, hi int) bool {
	for _, tok := range ratingTokens(rating) {
		if i, ok := scaleIndex[tok]; ok && i >= lo && i <= hi {
			return true
		}
	}
	return false
}
