package cache

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/lexgo/internal/resource"
)

func TestLRUEviction(t *testing.T) {
	c := NewLRU[string, int](30, nil)
	c.Set("a", 1, 10)
	c.Set("b", 2, 10)
	c.Set("c", 3, 10)

	_, ok := c.Get("a") // a becomes most recent
	require.True(t, ok)
	c.Set("d", 4, 10)

	_, ok = c.Get("b")
	assert.False(t, ok, "b was least recently used")
	v, ok := c.Get("a")
	assert.True(t, ok)
	assert.Equal(t, 1, v)
	assert.Equal(t, int64(30), c.Size())
	assert.Equal(t, 3, c.Len())

	hits, misses := c.Stats()
	assert.Equal(t, int64(2), hits)
	assert.Equal(t, int64(1), misses)
}

func TestLRUEdgeCases(t *testing.T) {
	rc := resource.NewController(resource.Config{MemoryLimitBytes: 100})
	c := NewLRU[Key, string](50, rc)
	k := Key{Query: "red", Lang: "en", Sort: "score"}

	c.Set(k, "big", 60)
	_, ok := c.Get(k)
	assert.False(t, ok, "item larger than capacity is not cached")

	c.Set(k, "v1", 10)
	c.Set(k, "v2", 20)
	assert.Equal(t, int64(20), c.Size())
	assert.Equal(t, int64(20), rc.MemoryUsage())

	c.Remove(k)
	assert.Zero(t, c.Size())
	assert.Zero(t, rc.MemoryUsage())
}

func TestLRUControllerDenies(t *testing.T) {
	rc := resource.NewController(resource.Config{MemoryLimitBytes: 10})
	c := NewLRU[string, int](50, rc)
	c.Set("a", 1, 8)
	c.Set("b", 2, 8)
	_, ok := c.Get("b")
	assert.False(t, ok)
	_, ok = c.Get("a")
	assert.True(t, ok)
}

func TestLRUInvalidateAndPurge(t *testing.T) {
	c := NewLRU[Key, int](1000, nil)
	for i := range 10 {
		c.Set(Key{Query: fmt.Sprint(i), Lang: []string{"en", "ja"}[i%2]}, i, 1)
	}
	n := c.Invalidate(func(k Key) bool { return k.Lang == "ja" })
	assert.Equal(t, 5, n)
	assert.Equal(t, 5, c.Len())

	c.Purge()
	assert.Zero(t, c.Len())
	assert.Zero(t, c.Size())
}

func TestShardedConcurrent(t *testing.T) {
	rc := resource.NewController(resource.Config{})
	c := NewSharded[Key, int](1<<20, rc)

	var wg sync.WaitGroup
	for g := range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range 100 {
				k := Key{Query: fmt.Sprintf("%d-%d", g, i)}
				c.Set(k, i, 8)
				v, ok := c.Get(k)
				if ok {
					assert.Equal(t, i, v)
				}
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 800, c.Len())
	assert.Equal(t, int64(6400), c.Size())
	assert.Equal(t, c.Size(), rc.MemoryUsage())

	hits, _ := c.Stats()
	assert.Equal(t, int64(800), hits)

	assert.Equal(t, 100, c.Invalidate(func(k Key) bool { return k.Query[0] == '3' && k.Query[1] == '-' }))
	c.Purge()
	assert.Zero(t, rc.MemoryUsage())
}
