// Package analysis turns text into index terms.
//
// The engine depends only on the [Analyzer] interface and never on a
// particular language. [Standard] is the default implementation: Unicode
// NFKC normalization and lower-casing, UAX #29 word segmentation, English
// stop-words and a light suffix stemmer, and character n-grams for languages
// written without spaces (Japanese, Chinese, Korean).
package analysis
