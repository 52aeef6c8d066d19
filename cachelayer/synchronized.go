package cachelayer

import "sync"

// SynchronizedDecorator serializes every operation with a single mutex,
// for regions composed from decorators (like LruDecorator) that are only
// individually, not jointly, safe for concurrent use (spec.md §4.H
// synchronized=true).
type SynchronizedDecorator struct {
	mu     sync.Mutex
	region Region
}

func NewSynchronizedDecorator(region Region) *SynchronizedDecorator {
	return &SynchronizedDecorator{region: region}
}

func (d *SynchronizedDecorator) ID() string { return d.region.ID() }

func (d *SynchronizedDecorator) GetObject(key interface{}) (interface{}, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.region.GetObject(key)
}

func (d *SynchronizedDecorator) PutObject(key, value interface{}) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.region.PutObject(key, value)
}

func (d *SynchronizedDecorator) RemoveObject(key interface{}) (interface{}, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.region.RemoveObject(key)
}

func (d *SynchronizedDecorator) Clear() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.region.Clear()
}

func (d *SynchronizedDecorator) Size() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.region.Size()
}
