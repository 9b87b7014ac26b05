package cache

// Key identifies a cached result bucket. Buckets depend on the loaded
// readers, so the cache is purged whenever they change.
type Key struct {
	Query string
	Lang  string
	Sort  string
	// Verbatim is set when the query was compiled without analysis.
	Verbatim bool
}

// Cache is the interface shared by LRU and Sharded.
type Cache[K comparable, V any] interface {
	// Get returns a cached value. ok=false if missing.
	Get(key K) (value V, ok bool)
	// Set caches a value of the given size in bytes.
	Set(key K, value V, size int64)
	// Remove drops key.
	Remove(key K)
	// Invalidate removes entries matching the predicate.
	Invalidate(predicate func(key K) bool) int
	// Purge removes every entry.
	Purge()
	// Stats returns cache statistics.
	Stats() (hits, misses int64)
}

var (
	_ Cache[Key, int] = (*LRU[Key, int])(nil)
	_ Cache[Key, int] = (*Sharded[Key, int])(nil)
)
