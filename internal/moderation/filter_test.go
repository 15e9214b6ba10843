package moderation

import (
	"strings"
	"testing"
	"unicode/utf8"
)

func TestNewFilter(t *testing.T) {
	f := NewFilter()
	if f == nil {
		t.Fatal("NewFilter returned nil")
	}
	if len(f.terms) == 0 {
		t.Fatal("NewFilter created an empty filter")
	}
}

func TestScrub(t *testing.T) {
	f := NewFilterWithTerms([]string{"fuck", "shit"})

	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"leading term", "fuck this essay", "*** this essay"},
		{"clean text", "hello world", "hello world"},
		{"case insensitive", "FUCK this", "*** this"},
		{"mixed case", "FuCk this", "*** this"},
		{"multiple occurrences", "fuck fuck fuck", "*** *** ***"},
		{"multiple terms", "shit, fuck", "***, ***"},
		{"inside longer word", "fucking unbelievable", "***ing unbelievable"},
		{"fixed width mask", "shit", "***"},
		{"empty input", "", ""},
		{"multi-byte surroundings", "héllo fuck wörld", "héllo *** wörld"},
		{"term between emoji", "🔥fuck🔥", "🔥***🔥"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := f.Scrub(tt.input); got != tt.want {
				t.Errorf("Scrub(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestNewFilterWithTerms_DropsEmpty(t *testing.T) {
	f := NewFilterWithTerms([]string{"", "  ", "bad"})
	if len(f.terms) != 1 {
		t.Errorf("terms = %d, want 1 (blank entries dropped)", len(f.terms))
	}
	if got := f.Scrub("a bad word"); got != "a *** word" {
		t.Errorf("Scrub = %q, want %q", got, "a *** word")
	}
}

func TestScrub_CaseChangingByteLengths(t *testing.T) {
	// Lowercasing can change a rune's encoded length: İ (U+0130, 2 bytes)
	// lowers to a 1-byte sequence, Ⱥ (U+023A, 2 bytes) lowers to ⱥ
	// (U+2C65, 3 bytes). Offsets must track the original string, never a
	// lowered copy.
	f := NewFilterWithTerms([]string{"fuck"})

	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"shrinking rune prefix", "İİİİİİİİ fuck", "İİİİİİİİ ***"},
		{"growing rune prefix", "Ⱥ…Ⱥ fuck", "Ⱥ…Ⱥ ***"},
		{"growing runes surround term", "ȺfuckȺ", "Ⱥ***Ⱥ"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := f.Scrub(tt.input)
			if got != tt.want {
				t.Errorf("Scrub(%q) = %q, want %q", tt.input, got, tt.want)
			}
			if !utf8.ValidString(got) {
				t.Errorf("Scrub(%q) produced invalid UTF-8: %q", tt.input, got)
			}
			if strings.Contains(strings.ToLower(got), "fuck") {
				t.Errorf("Scrub(%q) left the term unmasked: %q", tt.input, got)
			}
		})
	}
}

func TestScrub_FoldedRuneInTerm(t *testing.T) {
	// A term whose occurrence in the text differs only by case of a
	// multi-byte rune is still masked.
	f := NewFilterWithTerms([]string{"müll"})
	if got := f.Scrub("so ein MÜLL hier"); got != "so ein *** hier" {
		t.Errorf("Scrub = %q, want %q", got, "so ein *** hier")
	}
}

func TestScrub_NeverGrowsUnbounded(t *testing.T) {
	// A term that happens to contain the mask must not be re-expanded.
	f := NewFilterWithTerms([]string{"abc"})
	if got := f.Scrub("abcabc"); got != "******" {
		t.Errorf("Scrub(%q) = %q, want %q", "abcabc", got, "******")
	}
}
