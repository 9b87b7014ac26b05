// Package cache provides the byte-bounded LRU used for search results.
//
// LRU is a single-mutex cache; Sharded spreads keys over 16 LRU shards
// using maphash for concurrent searchers. Both account their bytes against
// a resource.Controller when one is given, and refuse entries the
// controller cannot fit.
package cache
