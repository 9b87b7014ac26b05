package cache

import (
	"hash/maphash"
	"sync"

	"github.com/hupe1980/lexgo/internal/resource"
)

const numShards = 16

// Sharded spreads entries across independently locked LRU shards to reduce
// contention between concurrent searches.
type Sharded[K comparable, V any] struct {
	shards [numShards]*LRU[K, V]
	seed   maphash.Seed
}

// NewSharded creates a sharded cache. The capacity is divided evenly across
// all shards.
func NewSharded[K comparable, V any](capacity int64, rc *resource.Controller) *Sharded[K, V] {
	shardCapacity := max(capacity/numShards, 1)
	s := &Sharded[K, V]{seed: maphash.MakeSeed()}
	for i := range numShards {
		s.shards[i] = NewLRU[K, V](shardCapacity, rc)
	}
	return s
}

func (s *Sharded[K, V]) shard(key K) *LRU[K, V] {
	return s.shards[maphash.Comparable(s.seed, key)%numShards]
}

// Get returns a cached value.
func (s *Sharded[K, V]) Get(key K) (V, bool) { return s.shard(key).Get(key) }

// Set caches value.
func (s *Sharded[K, V]) Set(key K, value V, size int64) { s.shard(key).Set(key, value, size) }

// Remove drops key.
func (s *Sharded[K, V]) Remove(key K) { s.shard(key).Remove(key) }

// Invalidate removes entries matching the predicate from every shard.
func (s *Sharded[K, V]) Invalidate(predicate func(key K) bool) int {
	var (
		wg sync.WaitGroup
		mu sync.Mutex
		n  int
	)
	for i := range numShards {
		wg.Add(1)
		go func(shard *LRU[K, V]) {
			defer wg.Done()
			removed := shard.Invalidate(predicate)
			mu.Lock()
			n += removed
			mu.Unlock()
		}(s.shards[i])
	}
	wg.Wait()
	return n
}

// Purge empties every shard.
func (s *Sharded[K, V]) Purge() {
	for i := range numShards {
		s.shards[i].Purge()
	}
}

// Stats returns aggregated hit/miss statistics.
func (s *Sharded[K, V]) Stats() (hits, misses int64) {
	for i := range numShards {
		h, m := s.shards[i].Stats()
		hits += h
		misses += m
	}
	return hits, misses
}

// Size returns the total size across all shards.
func (s *Sharded[K, V]) Size() int64 {
	var total int64
	for i := range numShards {
		total += s.shards[i].Size()
	}
	return total
}

// Len returns the number of entries across all shards.
func (s *Sharded[K, V]) Len() int {
	var n int
	for i := range numShards {
		n += s.shards[i].Len()
	}
	return n
}
