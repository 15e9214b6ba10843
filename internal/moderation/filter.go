// Package moderation gates outbound chat messages. It combines fixed-window
// rate checks (message rate, repeated content) with a sensitive-term scrubber
// into a single accept/reject/rewrite decision.
package moderation

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// Mask is the fixed-width replacement written over every sensitive term,
// regardless of the term's length.
const Mask = "***"

// DefaultTerms is the built-in sensitive word list used when no override is
// configured.
var DefaultTerms = []string{
	"fuck",
	"shit",
	"bitch",
	"asshole",
	"cunt",
	"bastard",
	"dickhead",
}

// Filter replaces configured sensitive terms with a fixed mask. It is
// stateless after construction and safe for concurrent use. The filter only
// rewrites — it never rejects a message.
type Filter struct {
	terms []string
}

// NewFilter creates a Filter with the default term list.
func NewFilter() *Filter {
	return NewFilterWithTerms(DefaultTerms)
}

// NewFilterWithTerms creates a Filter with a custom term list. Empty terms
// are dropped; remaining terms are matched case-insensitively.
func NewFilterWithTerms(terms []string) *Filter {
	f := &Filter{terms: make([]string, 0, len(terms))}
	for _, t := range terms {
		t = strings.TrimSpace(t)
		if t == "" {
			continue
		}
		f.terms = append(f.terms, strings.ToLower(t))
	}
	return f
}

// Scrub returns the text with every occurrence of every configured term
// replaced by Mask. Matching is case-insensitive and applies anywhere in the
// text, including inside longer words.
func (f *Filter) Scrub(text string) string {
	for _, term := range f.terms {
		text = replaceFold(text, term)
	}
	return text
}

// replaceFold replaces all case-insensitive occurrences of term in s with
// Mask. term must already be lowercase. Matching walks s rune by rune, so
// byte offsets always refer to s itself; lowercasing a copy would shift
// offsets for runes whose case pair has a different encoded length.
func replaceFold(s, term string) string {
	var b strings.Builder
	i := 0
	for i < len(s) {
		if end, ok := matchFoldAt(s, i, term); ok {
			b.WriteString(Mask)
			i = end
			continue
		}
		_, size := utf8.DecodeRuneInString(s[i:])
		b.WriteString(s[i : i+size])
		i += size
	}
	return b.String()
}

// matchFoldAt reports whether term matches s at byte offset i ignoring case,
// returning the offset just past the match.
func matchFoldAt(s string, i int, term string) (int, bool) {
	j := i
	for _, tr := range term {
		if j >= len(s) {
			return 0, false
		}
		sr, size := utf8.DecodeRuneInString(s[j:])
		if sr != tr && unicode.ToLower(sr) != unicode.ToLower(tr) {
			return 0, false
		}
		j += size
	}
	return j, true
}
