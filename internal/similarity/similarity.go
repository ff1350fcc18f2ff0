// Package similarity flags probable duplicate tasks and questions. Scores are
// advisory; callers decide whether to proceed.
package similarity

import (
	"regexp"
	"strings"
)

var (
	nonAlnum   = regexp.MustCompile(`[^a-z0-9]+`)
	whitespace = regexp.MustCompile(`\s+`)
)

// Normalize lowercases text, replaces anything non-alphanumeric with spaces
// and collapses whitespace.
func Normalize(text string) string {
	s := strings.ToLower(text)
	s = nonAlnum.ReplaceAllString(s, " ")
	s = whitespace.ReplaceAllString(s, " ")
	return strings.TrimSpace(s)
}

type suffixRule struct {
	suffix      string
	replacement string
}

// suffixRules is ordered; the first match wins.
var suffixRules = []suffixRule{
	{"ation", ""},
	{"ment", ""},
	{"ness", ""},
	{"able", ""},
	{"ible", ""},
	{"tion", ""},
	{"sion", ""},
	{"ally", ""},
	{"ying", "y"},
	{"ies", "y"},
	{"ing", ""},
	{"ed", ""},
	{"es", ""},
	{"ly", ""},
	{"s", ""},
}

// Stem strips at most one suffix. Words of three characters or fewer are
// returned unchanged, and a suffix is only stripped when at least two
// characters of stem remain.
func Stem(word string) string {
	if len(word) <= 3 {
		return word
	}
	for _, r := range suffixRules {
		if strings.HasSuffix(word, r.suffix) && len(word)-len(r.suffix) >= 2 {
			return word[:len(word)-len(r.suffix)] + r.replacement
		}
	}
	return word
}

// WordSet is a set of stemmed words that remembers insertion order.
type WordSet struct {
	order []string
	index map[string]struct{}
}

// Words normalizes text and returns its stemmed word set, ignoring
// single-character tokens.
func Words(text string) WordSet {
	ws := WordSet{index: map[string]struct{}{}}
	norm := Normalize(text)
	if norm == "" {
		return ws
	}
	for _, tok := range strings.Split(norm, " ") {
		if len(tok) < 2 {
			continue
		}
		ws.add(Stem(tok))
	}
	return ws
}

func (w *WordSet) add(word string) {
	if _, ok := w.index[word]; ok {
		return
	}
	w.index[word] = struct{}{}
	w.order = append(w.order, word)
}

func (w WordSet) Len() int { return len(w.order) }

func (w WordSet) Has(word string) bool {
	_, ok := w.index[word]
	return ok
}

// Slice returns the words in insertion order.
func (w WordSet) Slice() []string {
	return append([]string(nil), w.order...)
}

// Jaccard returns |a∩b| / |a∪b|; two empty sets are identical and a single
// empty set shares nothing.
func Jaccard(a, b WordSet) float64 {
	switch {
	case a.Len() == 0 && b.Len() == 0:
		return 1.0
	case a.Len() == 0 || b.Len() == 0:
		return 0.0
	}
	inter := 0
	for _, w := range a.order {
		if b.Has(w) {
			inter++
		}
	}
	union := a.Len() + b.Len() - inter
	return float64(inter) / float64(union)
}

// orderBoost rewards texts whose first three words line up positionally.
func orderBoost(a, b WordSet) float64 {
	matches := 0
	for i := 0; i < 3 && i < len(a.order) && i < len(b.order); i++ {
		if a.order[i] == b.order[i] {
			matches++
		}
	}
	return 0.1 * (float64(matches) / 3.0)
}

// TextSimilarity scores two texts in [0, 1]: Jaccard over stemmed words plus
// a small boost for matching word order.
func TextSimilarity(a, b string) float64 {
	wa, wb := Words(a), Words(b)
	score := Jaccard(wa, wb) + orderBoost(wa, wb)
	if score > 1.0 {
		return 1.0
	}
	return score
}
