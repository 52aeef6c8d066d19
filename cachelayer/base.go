// Package cachelayer implements the second-level cache region (spec.md
// §4.H): a plain map store plus the decorator stack MyBatis composes
// around it (LRU/FIFO eviction, scheduled flush, logging, synchronization,
// blocking, serialization). The base store is grounded on geecache's
// cache.go; the eviction decorators adapt geecache/lru's container/list
// approach; the blocking decorator adapts geecache/singleflight.
package cachelayer

import "sync"

// MapCache is the unbounded base store every decorator eventually wraps
// (spec.md §4.H PerpetualCache); it owns the region id and nothing else.
type MapCache struct {
	id string
	mu sync.RWMutex
	m  map[interface{}]interface{}
}

func NewMapCache(id string) *MapCache {
	return &MapCache{id: id, m: map[interface{}]interface{}{}}
}

func (c *MapCache) ID() string { return c.id }

func (c *MapCache) GetObject(key interface{}) (interface{}, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.m[key]
	return v, ok
}

func (c *MapCache) PutObject(key, value interface{}) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.m[key] = value
}

func (c *MapCache) RemoveObject(key interface{}) (interface{}, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.m[key]
	delete(c.m, key)
	return v, ok
}

func (c *MapCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.m = map[interface{}]interface{}{}
}

func (c *MapCache) Size() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.m)
}

// Region is the minimal interface every decorator wraps and re-exposes;
// it matches gobatis.CacheRegion structurally without importing gobatis,
// so cachelayer stays leaf-level in the import graph.
type Region interface {
	ID() string
	GetObject(key interface{}) (interface{}, bool)
	PutObject(key interface{}, value interface{})
	RemoveObject(key interface{}) (interface{}, bool)
	Clear()
	Size() int
}
