package eval

import (
	"slices"
	"strings"

	"github.com/hupe1980/lexgo/analysis"
)

// Highlights turns the matched index terms into words worth marking in a
// snippet. Stemmed terms are widened with their likely plural or singular
// form. Edge grams of n-gram languages are unwrapped.
func Highlights(terms map[string]struct{}) []string {
	set := make(map[string]struct{}, 2*len(terms))
	for t := range terms {
		if g, ok := strings.CutPrefix(t, analysis.EdgeStart); ok {
			t = g
		} else if g, ok := strings.CutSuffix(t, analysis.EdgeEnd); ok {
			t = g
		}
		if t == "" {
			continue
		}
		set[t] = struct{}{}
		if alt := inflect(t); alt != "" {
			set[alt] = struct{}{}
		}
	}
	out := make([]string, 0, len(set))
	for t := range set {
		out = append(out, t)
	}
	slices.Sort(out)
	return out
}

// inflect returns the plural of a singular word or the singular of a plural
// one, following the common English spelling rules only.
func inflect(w string) string {
	n := len(w)
	if n < 2 || !isASCIILetters(w) {
		return ""
	}
	switch {
	case strings.HasSuffix(w, "ies") && n > 3:
		return w[:n-3] + "y"
	case strings.HasSuffix(w, "ses"), strings.HasSuffix(w, "xes"), strings.HasSuffix(w, "ches"), strings.HasSuffix(w, "shes"):
		return w[:n-2]
	case strings.HasSuffix(w, "ss"):
		return w + "es"
	case strings.HasSuffix(w, "s"):
		return w[:n-1]
	case strings.HasSuffix(w, "y") && !strings.ContainsRune("aeiou", rune(w[n-2])):
		return w[:n-1] + "ies"
	case strings.HasSuffix(w, "x"), strings.HasSuffix(w, "ch"), strings.HasSuffix(w, "sh"):
		return w + "es"
	default:
		return w + "s"
	}
}

func isASCIILetters(w string) bool {
	for i := 0; i < len(w); i++ {
		c := w[i]
		if c < 'a' || c > 'z' {
			return false
		}
	}
	return true
}
