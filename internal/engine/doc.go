// Package engine holds the per-collection context shared by the indexer,
// the merger and the searcher.
//
// A Context replaces process-wide state: it is created when a collection is
// opened and torn down when it is closed. It carries:
//   - the structured logger
//   - the memory/background/IO controller
//   - the read buffer pool
//   - the analyzer used for documents and queries
//   - the metrics observer
package engine
