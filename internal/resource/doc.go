// Package resource bounds the memory, background concurrency and IO used by
// one collection.
//
//	┌───────────────────────────────────────────────────────────────┐
//	│                          Controller                           │
//	├─────────────────┬─────────────────┬───────────────────────────┤
//	│  Memory Limit   │  Background     │  IO Rate Limiter          │
//	│  (indexer)      │  slots (merges) │  (lazy merge throttling)  │
//	└─────────────────┴─────────────────┴───────────────────────────┘
//
// AcquireMemory is non-blocking and returns ErrMemoryLimitExceeded when the
// limit would be exceeded; the indexer treats that as "memory over" and
// commits.
//
// [BufferPool] manages the per-query decode buffers of segment readers,
// grouped in coarse scopes and reclaimed least recently used first.
package resource
