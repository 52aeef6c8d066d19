package cachelayer

import (
	"sync/atomic"

	"gobatis/gobatislog"
)

// LoggingDecorator reports the region's running hit ratio through
// gobatislog, the same package-level logger geeorm's session uses for its
// own SQL tracing (spec.md §4.H logging decorator).
type LoggingDecorator struct {
	region Region
	hits   int64
	misses int64
}

func NewLoggingDecorator(region Region) *LoggingDecorator {
	return &LoggingDecorator{region: region}
}

func (d *LoggingDecorator) ID() string { return d.region.ID() }

func (d *LoggingDecorator) GetObject(key interface{}) (interface{}, bool) {
	v, ok := d.region.GetObject(key)
	if ok {
		atomic.AddInt64(&d.hits, 1)
	} else {
		atomic.AddInt64(&d.misses, 1)
	}
	hits, misses := atomic.LoadInt64(&d.hits), atomic.LoadInt64(&d.misses)
	total := hits + misses
	if total > 0 {
		gobatislog.Infof("cache %s hit ratio %.4f (%d/%d)", d.region.ID(), float64(hits)/float64(total), hits, total)
	}
	return v, ok
}

func (d *LoggingDecorator) PutObject(key, value interface{}) { d.region.PutObject(key, value) }
func (d *LoggingDecorator) RemoveObject(key interface{}) (interface{}, bool) {
	return d.region.RemoveObject(key)
}
func (d *LoggingDecorator) Clear()    { d.region.Clear() }
func (d *LoggingDecorator) Size() int { return d.region.Size() }
