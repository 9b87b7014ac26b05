package analysis

// Mode selects what Analyze produces.
type Mode uint8

const (
	// Positions yields stemmed terms with their word positions.
	Positions Mode = iota
	// Frequency yields stemmed terms; only the number of positions matters.
	Frequency
	// Raw yields normalized words without stemming or stop-word removal.
	Raw
)

// Analyzer is the language capability consumed by the indexer and the query
// compiler. Implementations must be safe for concurrent use.
type Analyzer interface {
	// Tokenize splits text into normalized words in order.
	Tokenize(text, lang string) []string
	// Analyze maps each term of text to the positions it occurs at.
	Analyze(text, lang string, mode Mode) map[string][]uint32
	// Stem reduces a normalized word to its index form.
	Stem(term, lang string) string
	// IsStopword reports whether a normalized word is never indexed.
	IsStopword(term, lang string) bool
	// CountStopwords counts the stop-words in text.
	CountStopwords(text, lang string) int
	// NGramSize is the gram length for languages indexed as character
	// n-grams, 0 for word-based languages.
	NGramSize(lang string) int
}

// Edge markers delimit the first and last gram of an n-gram word.
const (
	EdgeStart = "^"
	EdgeEnd   = "$"
)
