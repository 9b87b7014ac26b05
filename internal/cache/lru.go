package cache

import (
	"container/list"
	"sync"
	"sync/atomic"

	"github.com/hupe1980/lexgo/internal/resource"
)

// LRU is a byte-bounded least-recently-used cache.
type LRU[K comparable, V any] struct {
	mu        sync.Mutex
	capacity  int64
	size      int64
	items     map[K]*list.Element
	evictList *list.List
	rc        *resource.Controller

	hits   atomic.Int64
	misses atomic.Int64
}

type entry[K comparable, V any] struct {
	key   K
	value V
	size  int64
}

// NewLRU creates a cache holding at most capacity bytes.
// If rc is provided, it will be used to track memory usage.
func NewLRU[K comparable, V any](capacity int64, rc *resource.Controller) *LRU[K, V] {
	return &LRU[K, V]{
		capacity:  capacity,
		items:     make(map[K]*list.Element),
		evictList: list.New(),
		rc:        rc,
	}
}

// Get returns a cached value.
func (c *LRU[K, V]) Get(key K) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if ent, ok := c.items[key]; ok {
		c.hits.Add(1)
		c.evictList.MoveToFront(ent)
		return ent.Value.(*entry[K, V]).value, true
	}
	c.misses.Add(1)
	var zero V
	return zero, false
}

// Set caches value with the given size in bytes. Values larger than the
// capacity, or denied by the resource controller, are not cached.
func (c *LRU[K, V]) Set(key K, value V, size int64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if ent, ok := c.items[key]; ok {
		c.removeElement(ent)
	}
	if size > c.capacity {
		return
	}

	// Evict locally first so the controller gets memory back before we ask.
	for c.size+size > c.capacity {
		ent := c.evictList.Back()
		if ent == nil {
			break
		}
		c.removeElement(ent)
	}

	if err := c.rc.AcquireMemory(size); err != nil {
		return
	}

	c.items[key] = c.evictList.PushFront(&entry[K, V]{key: key, value: value, size: size})
	c.size += size
}

// Remove drops key.
func (c *LRU[K, V]) Remove(key K) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if ent, ok := c.items[key]; ok {
		c.removeElement(ent)
	}
}

// Invalidate removes entries matching the predicate.
func (c *LRU[K, V]) Invalidate(predicate func(key K) bool) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	var toRemove []*list.Element
	for key, element := range c.items {
		if predicate(key) {
			toRemove = append(toRemove, element)
		}
	}
	for _, e := range toRemove {
		c.removeElement(e)
	}
	return len(toRemove)
}

// Purge removes every entry.
func (c *LRU[K, V]) Purge() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for e := c.evictList.Front(); e != nil; e = c.evictList.Front() {
		c.removeElement(e)
	}
}

// Stats returns hit and miss counts.
func (c *LRU[K, V]) Stats() (hits, misses int64) {
	return c.hits.Load(), c.misses.Load()
}

func (c *LRU[K, V]) removeElement(e *list.Element) {
	c.evictList.Remove(e)
	kv := e.Value.(*entry[K, V])
	delete(c.items, kv.key)
	c.size -= kv.size
	c.rc.ReleaseMemory(kv.size)
}

// Size returns the current size of the cache in bytes.
func (c *LRU[K, V]) Size() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.size
}

// Len returns the number of entries.
func (c *LRU[K, V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}
