package cachelayer

import "runtime"

// onEachGC invokes hook once per completed garbage-collection cycle. Go
// has no weak-reference API (pre-1.24), so GC cycles are observed the
// classic way: a finalizer on a throwaway sentinel fires when the cycle
// collects it, runs the hook, and re-arms a fresh sentinel for the next
// cycle. This is the closest Go analog to the reference-queue draining
// Java's WeakCache/SoftCache eviction is built on (spec.md §4.H).
func onEachGC(hook func()) {
	runtime.SetFinalizer(&gcSentinel{hook: hook}, rearmGCSentinel)
}

type gcSentinel struct{ hook func() }

func rearmGCSentinel(s *gcSentinel) {
	s.hook()
	onEachGC(s.hook)
}

// WeakDecorator approximates weak-reference eviction: a Java WeakCache
// entry survives only until the next GC cycle unless strongly referenced
// elsewhere, so this decorator clears its delegate after every completed
// cycle. Entries are therefore short-lived by design — the region is a
// recompute-avoidance buffer between collections, not durable storage.
type WeakDecorator struct {
	region Region
}

func NewWeakDecorator(region Region) *WeakDecorator {
	d := &WeakDecorator{region: region}
	onEachGC(region.Clear)
	return d
}

func (d *WeakDecorator) ID() string { return d.region.ID() }
func (d *WeakDecorator) GetObject(key interface{}) (interface{}, bool) {
	return d.region.GetObject(key)
}
func (d *WeakDecorator) PutObject(key, value interface{}) { d.region.PutObject(key, value) }
func (d *WeakDecorator) RemoveObject(key interface{}) (interface{}, bool) {
	return d.region.RemoveObject(key)
}
func (d *WeakDecorator) Clear()    { d.region.Clear() }
func (d *WeakDecorator) Size() int { return d.region.Size() }

// Soft eviction treats live heap within softPressureNum/softPressureDen
// of the next-GC goal as memory pressure. Right after a collection the
// live heap sits near half the goal, so an idle process never trips this.
const (
	softPressureNum = 7
	softPressureDen = 8
)

// SoftDecorator approximates soft-reference eviction: entries survive
// ordinary GC cycles and are dropped only under heap pressure, read from
// runtime.MemStats at each cycle.
type SoftDecorator struct {
	region Region
}

func NewSoftDecorator(region Region) *SoftDecorator {
	d := &SoftDecorator{region: region}
	onEachGC(func() {
		var m runtime.MemStats
		runtime.ReadMemStats(&m)
		if m.HeapAlloc*softPressureDen >= m.NextGC*softPressureNum {
			region.Clear()
		}
	})
	return d
}

func (d *SoftDecorator) ID() string { return d.region.ID() }
func (d *SoftDecorator) GetObject(key interface{}) (interface{}, bool) {
	return d.region.GetObject(key)
}
func (d *SoftDecorator) PutObject(key, value interface{}) { d.region.PutObject(key, value) }
func (d *SoftDecorator) RemoveObject(key interface{}) (interface{}, bool) {
	return d.region.RemoveObject(key)
}
func (d *SoftDecorator) Clear()    { d.region.Clear() }
func (d *SoftDecorator) Size() int { return d.region.Size() }
