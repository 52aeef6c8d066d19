// Package executor implements the layered execution engine (spec.md
// §4.J): Simple/Reuse/Batch executor variants sharing a first-level
// (session-local) cache, a deferred-load queue that breaks cycles between
// nested queries, and a query-stack that gates when the queue drains. It
// generalizes geeorm/session/session.go's single-statement Raw/Exec flow
// into multi-statement, cached, nested-query-aware execution.
package executor

import (
	"sync"

	"gobatis/reflectx"
)

// placeholder marks a local-cache slot whose query is still in flight,
// per spec.md §4.J's "sentinel PLACEHOLDER" cache-miss protocol.
type placeholder struct{}

var Placeholder = placeholder{}

// LocalCache is the first-level cache every Executor owns (spec.md §4.J,
// §9 "Cyclic graphs"). Scope (SESSION vs STATEMENT) is enforced by the
// caller clearing it at the right points, not by LocalCache itself.
type LocalCache struct {
	mu sync.Mutex
	m  map[interface{}]interface{}
}

func NewLocalCache() *LocalCache {
	return &LocalCache{m: map[interface{}]interface{}{}}
}

func (c *LocalCache) Get(key interface{}) (interface{}, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.m[key]
	return v, ok
}

func (c *LocalCache) Put(key, value interface{}) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.m[key] = value
}

func (c *LocalCache) Remove(key interface{}) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.m, key)
}

func (c *LocalCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.m = map[interface{}]interface{}{}
}

// DeferredLoad is one pending "set this property once its value finishes
// computing" entry (spec.md §9 "Cyclic graphs" / §4.J deferLoad).
type DeferredLoad struct {
	Key      interface{}
	Target   reflectx.MetaObject
	Property string
}
