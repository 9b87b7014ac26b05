// Package search serves queries from the committed state of a collection.
//
// A Searcher moves through INIT, ACTIVE and REFRESHING until it is CLOSED.
// Queries enter through a reference-counting gate. A refresh prepares the
// new reader set first, then blocks new queries, waits for running ones,
// swaps readers and clears the result cache in one exclusive step.
//
// Maintenance runs on a timer and for the first query after an idle
// period. It reloads readers when the manifest changed and otherwise only
// rereads deletion bitmaps. Overlapping maintenance calls are coalesced.
package search
