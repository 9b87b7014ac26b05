// Package eval executes compiled queries against segment readers.
//
// Evaluation has two passes. CollectStats gathers corpus-wide document
// frequencies for every term the query touches, including wildcard and
// range expansions. Optimize then turns the query tree into a Plan, and
// each segment is walked post-order: the hits of the first operand of a
// binary node become the candidates of the second, so filters and column
// scans only test surviving documents.
//
// Leaves report one of three outcomes. Stopword is neutral: it drops out of
// AND and OR and leaves an exclusion without effect.
//
// Scoring is TF-IDF:
//
//	weight × √tf × idf² × 1/√norm,   idf = 1 + ln((N+1)/(df+1))
//
// and only runs when a Text or TermSet leaf participates.
package eval
