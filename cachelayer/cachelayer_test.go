package cachelayer

import (
	"runtime"
	"testing"
	"time"

	"google.golang.org/protobuf/types/known/wrapperspb"
)

func TestMapCacheBasic(t *testing.T) {
	c := NewMapCache("ns")
	if _, ok := c.GetObject("k"); ok {
		t.Fatalf("expected miss on empty cache")
	}
	c.PutObject("k", 42)
	v, ok := c.GetObject("k")
	if !ok || v != 42 {
		t.Fatalf("got (%v, %v), want (42, true)", v, ok)
	}
	if c.Size() != 1 {
		t.Fatalf("size = %d, want 1", c.Size())
	}
	if old, ok := c.RemoveObject("k"); !ok || old != 42 {
		t.Fatalf("remove got (%v, %v)", old, ok)
	}
	if c.Size() != 0 {
		t.Fatalf("size after remove = %d, want 0", c.Size())
	}
}

func TestLruEviction(t *testing.T) {
	base := NewMapCache("ns")
	lru := NewLruDecorator(base, 2)

	lru.PutObject("a", 1)
	lru.PutObject("b", 2)
	// touch a so it becomes most-recently-used, b stays oldest
	lru.GetObject("a")
	lru.PutObject("c", 3) // should evict b

	if _, ok := lru.GetObject("b"); ok {
		t.Fatalf("expected b to be evicted")
	}
	if _, ok := lru.GetObject("a"); !ok {
		t.Fatalf("expected a to survive eviction")
	}
	if _, ok := lru.GetObject("c"); !ok {
		t.Fatalf("expected c to be present")
	}
}

func TestFifoEviction(t *testing.T) {
	base := NewMapCache("ns")
	fifo := NewFifoDecorator(base, 2)

	fifo.PutObject("a", 1)
	fifo.PutObject("b", 2)
	fifo.GetObject("a") // FIFO ignores access order
	fifo.PutObject("c", 3)

	if _, ok := fifo.GetObject("a"); ok {
		t.Fatalf("expected a (oldest insert) to be evicted regardless of access")
	}
	if _, ok := fifo.GetObject("b"); !ok {
		t.Fatalf("expected b to survive")
	}
}

func TestScheduledDecoratorFlushes(t *testing.T) {
	base := NewMapCache("ns")
	base.PutObject("k", 1)
	sched := NewScheduledDecorator(base, 10*time.Millisecond)
	defer sched.Stop()

	time.Sleep(40 * time.Millisecond)
	if base.Size() != 0 {
		t.Fatalf("expected scheduled flush to clear the region, size = %d", base.Size())
	}
}

type gobValue struct {
	Name string
}

func TestSerializedDecoratorRoundTrip(t *testing.T) {
	base := NewMapCache("ns")
	ser := NewSerializedDecorator(base, func() interface{} { return &gobValue{} })

	ser.PutObject("k", &gobValue{Name: "alice"})
	got, ok := ser.GetObject("k")
	if !ok {
		t.Fatalf("expected hit")
	}
	gv, ok := got.(*gobValue)
	if !ok || gv.Name != "alice" {
		t.Fatalf("got %#v, want {Name: alice}", got)
	}

	// mutating the returned copy must not affect the stored value.
	gv.Name = "mutated"
	got2, _ := ser.GetObject("k")
	if got2.(*gobValue).Name != "alice" {
		t.Fatalf("serialized decorator leaked a shared reference")
	}
}

func TestBlockingDecoratorSerializesMisses(t *testing.T) {
	base := NewMapCache("ns")
	blocking := NewBlockingDecorator(base)

	done := make(chan struct{})
	go func() {
		if _, ok := blocking.GetObject("k"); ok {
			t.Error("expected miss before fill")
		}
		blocking.PutObject("k", "value")
		close(done)
	}()

	<-done
	v, ok := blocking.GetObject("k")
	if !ok || v != "value" {
		t.Fatalf("got (%v, %v), want (value, true)", v, ok)
	}
}


// The protobuf arm of the serialized decorator, exercised with one of the
// runtime's own generated well-known types (spec.md §4.H serialized
// cache; the gob arm is covered by TestSerializedDecoratorRoundTrip).
func TestSerializedDecoratorProtobufRoundTrip(t *testing.T) {
	ser := NewSerializedDecorator(NewMapCache("ns"), func() interface{} { return &wrapperspb.Int64Value{} })

	ser.PutObject("k", wrapperspb.Int64(42))
	got, ok := ser.GetObject("k")
	if !ok {
		t.Fatalf("expected hit")
	}
	msg, ok := got.(*wrapperspb.Int64Value)
	if !ok || msg.Value != 42 {
		t.Fatalf("got %#v, want Int64Value{42}", got)
	}

	// mutating the returned copy must not affect the stored value.
	msg.Value = 7
	got2, _ := ser.GetObject("k")
	if got2.(*wrapperspb.Int64Value).Value != 42 {
		t.Fatalf("serialized decorator leaked a shared reference")
	}
}

func TestWeakDecoratorClearsAfterGC(t *testing.T) {
	d := NewWeakDecorator(NewMapCache("ns"))
	d.PutObject("k", 1)
	if _, ok := d.GetObject("k"); !ok {
		t.Fatalf("expected hit before collection")
	}

	// The clearing finalizer runs on the runtime's finalizer goroutine
	// some time after a cycle completes, so poll rather than assert on a
	// single GC call.
	deadline := time.Now().Add(5 * time.Second)
	for d.Size() > 0 && time.Now().Before(deadline) {
		runtime.GC()
		time.Sleep(10 * time.Millisecond)
	}
	if d.Size() != 0 {
		t.Fatalf("weak cache still holds %d entries after GC", d.Size())
	}
}

func TestSoftDecoratorKeepsEntriesWithoutPressure(t *testing.T) {
	d := NewSoftDecorator(NewMapCache("ns"))
	d.PutObject("k", 1)
	runtime.GC()
	runtime.GC()
	if _, ok := d.GetObject("k"); !ok {
		t.Fatalf("soft cache dropped an entry without heap pressure")
	}
}
