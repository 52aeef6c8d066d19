package cachelayer

import (
	"strconv"
	"strings"
	"time"
)

// BuildOptions captures the attributes a <cache> element carries (spec.md
// §3/§4.H); New applies defaults matching MyBatis' own <cache/> shorthand.
type BuildOptions struct {
	Eviction       string // "LRU" (default) | "FIFO" | "SOFT" | "WEAK"
	FlushInterval  time.Duration
	Size           int
	ReadOnly       bool
	Blocking       bool
	SerializedWith func() interface{} // non-nil enables the serialized decorator
}

// New builds the decorator stack for one cache region in registration
// order: base -> eviction -> scheduled flush -> serialized -> logging ->
// synchronized -> blocking, mirroring the order MyBatis' CacheBuilder
// applies its own decorators in.
func New(id string, opts BuildOptions) Region {
	var region Region = NewMapCache(id)

	switch strings.ToUpper(opts.Eviction) {
	case "FIFO":
		region = NewFifoDecorator(region, opts.Size)
	case "SOFT":
		// the LRU bound plays the role of Java SoftCache's hard-reference
		// window; GC pressure clears the rest
		region = NewSoftDecorator(NewLruDecorator(region, opts.Size))
	case "WEAK":
		region = NewWeakDecorator(NewLruDecorator(region, opts.Size))
	default:
		region = NewLruDecorator(region, opts.Size)
	}

	if opts.FlushInterval > 0 {
		region = NewScheduledDecorator(region, opts.FlushInterval)
	}
	if opts.SerializedWith != nil {
		region = NewSerializedDecorator(region, opts.SerializedWith)
	}
	region = NewLoggingDecorator(region)
	region = NewSynchronizedDecorator(region)
	if opts.Blocking {
		region = NewBlockingDecorator(region)
	}
	return region
}

// BuildOptionsFromAttrs converts a <cache> element's raw XML attributes
// into BuildOptions. zeroFactory is supplied by the caller (the mapper
// builder does not know result types at cache-construction time) and is
// only consulted when serialize="true".
func BuildOptionsFromAttrs(attrs map[string]string, zeroFactory func() interface{}) BuildOptions {
	opts := BuildOptions{
		Eviction: firstNonEmpty(attrs["eviction"], "LRU"),
		Size:     1024,
		ReadOnly: attrs["readOnly"] == "true",
		Blocking: attrs["blocking"] == "true",
	}
	if v := attrs["size"]; v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			opts.Size = n
		}
	}
	if v := attrs["flushInterval"]; v != "" {
		if ms, err := strconv.Atoi(v); err == nil {
			opts.FlushInterval = time.Duration(ms) * time.Millisecond
		}
	}
	if attrs["serialize"] == "true" {
		opts.SerializedWith = zeroFactory
	}
	return opts
}

func firstNonEmpty(a, b string) string {
	if a != "" {
		return a
	}
	return b
}
