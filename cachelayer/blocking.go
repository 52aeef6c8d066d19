package cachelayer

import "sync"

// BlockingDecorator serializes concurrent misses for the same key so only
// one caller computes the value and the rest block on it, adapting
// geecache/singleflight.SingleCall's wg-per-key design (spec.md §4.H
// blocking cache: "a cache miss blocks concurrent callers for the same key
// until the first caller populates it").
//
// Unlike singleflight's Do, a cache's "fill" step is a separate PutObject
// call made by the caller after computing the value, so this decorator
// hands out a per-key lock via GetObject/PutObject pairing rather than
// wrapping a single fn call.
type BlockingDecorator struct {
	region Region

	mu    sync.Mutex
	locks map[interface{}]*sync.Mutex
}

func NewBlockingDecorator(region Region) *BlockingDecorator {
	return &BlockingDecorator{region: region, locks: map[interface{}]*sync.Mutex{}}
}

func (d *BlockingDecorator) keyLock(key interface{}) *sync.Mutex {
	d.mu.Lock()
	defer d.mu.Unlock()
	l, ok := d.locks[key]
	if !ok {
		l = &sync.Mutex{}
		d.locks[key] = l
	}
	return l
}

func (d *BlockingDecorator) ID() string { return d.region.ID() }

// GetObject acquires the per-key lock on a miss and keeps it held; the
// caller is expected to call PutObject (which releases it) once it has
// computed the value, or ReleaseObject if it gives up without one.
func (d *BlockingDecorator) GetObject(key interface{}) (interface{}, bool) {
	lock := d.keyLock(key)
	lock.Lock()
	v, ok := d.region.GetObject(key)
	if ok {
		lock.Unlock()
	}
	return v, ok
}

func (d *BlockingDecorator) PutObject(key, value interface{}) {
	d.region.PutObject(key, value)
	d.releaseIfHeld(key)
}

// ReleaseObject releases the lock a miss acquired without populating the
// key, so subsequent callers are not blocked forever.
func (d *BlockingDecorator) ReleaseObject(key interface{}) {
	d.releaseIfHeld(key)
}

func (d *BlockingDecorator) releaseIfHeld(key interface{}) {
	d.mu.Lock()
	l, ok := d.locks[key]
	d.mu.Unlock()
	if ok {
		l.Unlock()
	}
}

func (d *BlockingDecorator) RemoveObject(key interface{}) (interface{}, bool) {
	return d.region.RemoveObject(key)
}
func (d *BlockingDecorator) Clear()    { d.region.Clear() }
func (d *BlockingDecorator) Size() int { return d.region.Size() }
