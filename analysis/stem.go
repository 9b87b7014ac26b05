package analysis

import "strings"

type suffixRule struct {
	suffix      string
	replacement string
	minStem     int
}

// Longest suffixes first; the first matching rule wins.
var englishSuffixes = []suffixRule{
	{"ational", "ate", 2},
	{"tional", "tion", 2},
	{"encies", "ence", 2},
	{"ances", "ance", 2},
	{"ments", "ment", 2},
	{"iness", "y", 2},
	{"ously", "ous", 2},
	{"ively", "ive", 2},
	{"izing", "ize", 2},
	{"ating", "ate", 2},
	{"sses", "ss", 2},
	{"ying", "y", 2},
	{"ies", "y", 2},
	{"ing", "", 3},
	{"ed", "", 3},
	{"ly", "", 3},
	{"ss", "ss", 2},
	{"us", "us", 2},
	{"is", "is", 2},
	{"s", "", 2},
}

func stemEnglish(word string) string {
	for _, rule := range englishSuffixes {
		if !strings.HasSuffix(word, rule.suffix) {
			continue
		}
		stem := word[:len(word)-len(rule.suffix)]
		if len(stem) < rule.minStem {
			return word
		}
		stem += rule.replacement
		if rule.replacement == "" && (rule.suffix == "ing" || rule.suffix == "ed") {
			stem = undouble(stem)
		}
		return stem
	}
	return word
}

// undouble turns "runn" into "run".
func undouble(s string) string {
	n := len(s)
	if n < 3 || s[n-1] != s[n-2] {
		return s
	}
	switch s[n-1] {
	case 'l', 's', 'z':
		return s
	}
	if strings.IndexByte("bcdfghjkmnpqrtvwx", s[n-1]) < 0 {
		return s
	}
	return s[:n-1]
}
