package analysis

import (
	"strings"
	"unicode"

	"github.com/clipperhouse/uax29/v2/words"
	"golang.org/x/text/unicode/norm"
)

// Standard is the default Analyzer.
type Standard struct {
	// MinLength drops shorter words from Positions and Frequency output.
	MinLength int
	// NGramLangs maps language codes to gram sizes.
	NGramLangs map[string]int
}

// NewStandard returns the default analyzer with bigrams for ja, zh and ko.
func NewStandard() *Standard {
	return &Standard{
		MinLength:  1,
		NGramLangs: map[string]int{"ja": 2, "zh": 2, "ko": 2},
	}
}

var _ Analyzer = (*Standard)(nil)

// Normalize applies NFKC and lower-cases s.
func Normalize(s string) string {
	return strings.ToLower(norm.NFKC.String(s))
}

func isWord(s string) bool {
	for _, r := range s {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			return true
		}
	}
	return false
}

// Tokenize implements Analyzer.
func (a *Standard) Tokenize(text, lang string) []string {
	text = Normalize(text)
	if a.NGramSize(lang) > 0 {
		return strings.FieldsFunc(text, func(r rune) bool {
			return !unicode.IsLetter(r) && !unicode.IsDigit(r)
		})
	}
	var out []string
	seg := words.FromString(text)
	for seg.Next() {
		if w := seg.Value(); isWord(w) {
			out = append(out, w)
		}
	}
	return out
}

// Analyze implements Analyzer.
func (a *Standard) Analyze(text, lang string, mode Mode) map[string][]uint32 {
	out := make(map[string][]uint32)
	if n := a.NGramSize(lang); n > 0 {
		var pos uint32
		for _, w := range a.Tokenize(text, lang) {
			for _, g := range NGrams(w, n) {
				out[g] = append(out[g], pos)
				pos++
			}
		}
		return out
	}

	for i, w := range a.Tokenize(text, lang) {
		if mode != Raw {
			if len([]rune(w)) < a.MinLength || a.IsStopword(w, lang) {
				continue
			}
			w = a.Stem(w, lang)
		}
		out[w] = append(out[w], uint32(i))
	}
	return out
}

// Stem implements Analyzer. Only English is stemmed.
func (a *Standard) Stem(term, lang string) string {
	if lang != "" && lang != "en" {
		return term
	}
	return stemEnglish(term)
}

// IsStopword implements Analyzer.
func (a *Standard) IsStopword(term, lang string) bool {
	if lang != "" && lang != "en" {
		return false
	}
	_, ok := englishStopwords[term]
	return ok
}

// CountStopwords implements Analyzer.
func (a *Standard) CountStopwords(text, lang string) int {
	n := 0
	for _, w := range a.Tokenize(text, lang) {
		if a.IsStopword(w, lang) {
			n++
		}
	}
	return n
}

// NGramSize implements Analyzer.
func (a *Standard) NGramSize(lang string) int {
	return a.NGramLangs[lang]
}

// NGrams splits a word into overlapping grams of n runes framed by edge
// grams: "abc" with n=2 yields "^a", "ab", "bc", "c$".
func NGrams(word string, n int) []string {
	runes := []rune(word)
	if len(runes) == 0 || n <= 0 {
		return nil
	}
	edge := n - 1
	if edge < 1 {
		edge = 1
	}
	first := string(runes[:min(edge, len(runes))])
	last := string(runes[max(0, len(runes)-edge):])

	grams := []string{EdgeStart + first}
	for i := 0; i+n <= len(runes); i++ {
		grams = append(grams, string(runes[i:i+n]))
	}
	return append(grams, last+EdgeEnd)
}
