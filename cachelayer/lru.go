package cachelayer

import (
	"container/list"
	"sync"
)

// LruDecorator bounds a Region to Size entries, evicting the
// least-recently-used key first. It adapts geecache/lru.Cache's
// container/list linked-hashmap structure, generalized from byte-size
// accounting to a plain entry-count bound (spec.md §4.H eviction=LRU).
type LruDecorator struct {
	region Region
	size   int

	mu    sync.Mutex
	ll    *list.List
	index map[interface{}]*list.Element
}

type lruEntry struct {
	key interface{}
}

func NewLruDecorator(region Region, size int) *LruDecorator {
	if size <= 0 {
		size = 1024
	}
	return &LruDecorator{
		region: region,
		size:   size,
		ll:     list.New(),
		index:  map[interface{}]*list.Element{},
	}
}

func (d *LruDecorator) ID() string { return d.region.ID() }

func (d *LruDecorator) GetObject(key interface{}) (interface{}, bool) {
	v, ok := d.region.GetObject(key)
	if !ok {
		return nil, false
	}
	d.mu.Lock()
	d.touch(key)
	d.mu.Unlock()
	return v, true
}

func (d *LruDecorator) PutObject(key, value interface{}) {
	d.region.PutObject(key, value)
	d.mu.Lock()
	d.touch(key)
	var evict interface{}
	hasEvict := false
	if d.ll.Len() > d.size {
		back := d.ll.Back()
		if back != nil {
			evict = back.Value.(*lruEntry).key
			hasEvict = true
			d.ll.Remove(back)
			delete(d.index, evict)
		}
	}
	d.mu.Unlock()
	if hasEvict {
		d.region.RemoveObject(evict)
	}
}

func (d *LruDecorator) touch(key interface{}) {
	if ele, ok := d.index[key]; ok {
		d.ll.MoveToFront(ele)
		return
	}
	ele := d.ll.PushFront(&lruEntry{key: key})
	d.index[key] = ele
}

func (d *LruDecorator) RemoveObject(key interface{}) (interface{}, bool) {
	d.mu.Lock()
	if ele, ok := d.index[key]; ok {
		d.ll.Remove(ele)
		delete(d.index, key)
	}
	d.mu.Unlock()
	return d.region.RemoveObject(key)
}

func (d *LruDecorator) Clear() {
	d.mu.Lock()
	d.ll.Init()
	d.index = map[interface{}]*list.Element{}
	d.mu.Unlock()
	d.region.Clear()
}

func (d *LruDecorator) Size() int { return d.region.Size() }

// FifoDecorator bounds a Region to Size entries, evicting the oldest
// insertion first regardless of access pattern (spec.md §4.H eviction=FIFO).
type FifoDecorator struct {
	region Region
	size   int

	mu    sync.Mutex
	order *list.List
	index map[interface{}]*list.Element
}

func NewFifoDecorator(region Region, size int) *FifoDecorator {
	if size <= 0 {
		size = 1024
	}
	return &FifoDecorator{region: region, size: size, order: list.New(), index: map[interface{}]*list.Element{}}
}

func (d *FifoDecorator) ID() string { return d.region.ID() }

func (d *FifoDecorator) GetObject(key interface{}) (interface{}, bool) {
	return d.region.GetObject(key)
}

func (d *FifoDecorator) PutObject(key, value interface{}) {
	d.region.PutObject(key, value)
	d.mu.Lock()
	if _, ok := d.index[key]; !ok {
		ele := d.order.PushBack(key)
		d.index[key] = ele
	}
	var evict interface{}
	hasEvict := false
	if d.order.Len() > d.size {
		front := d.order.Front()
		if front != nil {
			evict = front.Value
			hasEvict = true
			d.order.Remove(front)
			delete(d.index, evict)
		}
	}
	d.mu.Unlock()
	if hasEvict {
		d.region.RemoveObject(evict)
	}
}

func (d *FifoDecorator) RemoveObject(key interface{}) (interface{}, bool) {
	d.mu.Lock()
	if ele, ok := d.index[key]; ok {
		d.order.Remove(ele)
		delete(d.index, key)
	}
	d.mu.Unlock()
	return d.region.RemoveObject(key)
}

func (d *FifoDecorator) Clear() {
	d.mu.Lock()
	d.order.Init()
	d.index = map[interface{}]*list.Element{}
	d.mu.Unlock()
	d.region.Clear()
}

func (d *FifoDecorator) Size() int { return d.region.Size() }
