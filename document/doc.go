// Package document defines the documents accepted by the indexer.
//
// A [Document] carries an optional primary id, typed fields, an opaque stored
// payload and an optional snippet source. Every field declares one of a closed
// set of [Kind]s; the kind decides how the field is encoded into a segment:
//
//   - Text: analyzed, positional postings plus a length norm
//   - TermSet: analyzed or raw terms, frequency-only postings
//   - String: the whole value as one raw term
//   - List: de-duplicated raw terms
//   - Numeric, Bit: fixed-width sort-map column
//   - Coord: latitude and longitude as two fixed-point sort-map entries
package document
