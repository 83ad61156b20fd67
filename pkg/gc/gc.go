// Package gc implements the tracing garbage collector loxvm's heap runs
// on: tricolor mark-and-sweep with an explicit gray worklist, triggered
// by an allocation-size threshold or by stress mode.
//
// The collector itself holds no opinion about what counts as a root —
// that is VM/compiler state the gc package can't see without creating an
// import cycle back to pkg/vm. Instead Collect takes a markRoots
// callback; the caller (pkg/vm) pushes every root object it knows about
// through the mark function it's handed, and the collector does the
// rest: tracing, sweeping, and updating the next-collection threshold.
package gc

import "github.com/kristofer/loxvm/pkg/bytecode"

// GCHeapGrowFactor is the default multiplier applied to bytesAllocated
// after a collection to compute the next collection's threshold.
// Configurable per-heap via SetGrowFactor.
const GCHeapGrowFactor = 2

// initialThreshold is the starting nextGC value, chosen so a VM doesn't
// collect on its first handful of allocations (clox uses 1 MiB).
const initialThreshold = 1024 * 1024

// Heap owns the process-wide allocation list and the bookkeeping needed
// to decide when to collect. It is not itself thread-safe; a single
// loxvm VM instance owns one Heap, matching the concurrency model's "no
// shared heap across VM instances" rule.
type Heap struct {
	objects        bytecode.Obj // head of the intrusive allocation list
	bytesAllocated uint64
	nextGC         uint64
	growFactor     float64
	grayStack      []bytecode.Obj
	nextSeq        uint64
	StressGC       bool // collect before every allocation, for the stress-GC test mode

	// Collections counts how many times Collect has actually run a full
	// mark/sweep pass, surfaced in the VM's debug-level GC log entries.
	Collections int
}

// New creates an empty heap with the default initial GC threshold.
func New() *Heap {
	return &Heap{nextGC: initialThreshold, growFactor: GCHeapGrowFactor}
}

// SetInitialThreshold overrides the bytes-allocated threshold that
// triggers the first collection. A host config file with a nonzero
// initial_heap_bytes calls this before the heap sees any allocations.
func (h *Heap) SetInitialThreshold(bytes uint64) {
	if bytes > 0 {
		h.nextGC = bytes
	}
}

// SetGrowFactor overrides the multiplier applied to bytesAllocated
// after each collection to compute the next threshold.
func (h *Heap) SetGrowFactor(factor float64) {
	if factor > 0 {
		h.growFactor = factor
	}
}

// approxSize estimates an object's heap footprint for GC accounting
// purposes. It doesn't need to be exact — only large enough that the
// threshold crossing means something — so it's a rough per-kind
// constant rather than a reflect-based sizeof.
func approxSize(o bytecode.Obj) uint64 {
	switch v := o.(type) {
	case *bytecode.ObjString:
		return 32 + uint64(len(v.Chars))
	case *bytecode.ObjFunction:
		return 64
	case *bytecode.ObjClosure:
		return 32 + uint64(len(v.Upvalues))*8
	case *bytecode.ObjUpvalue:
		return 32
	case *bytecode.ObjClass:
		return 48
	case *bytecode.ObjInstance:
		return 48
	case *bytecode.ObjBoundMethod:
		return 32
	case *bytecode.ObjList:
		return 32 + uint64(len(v.Items))*16
	case *bytecode.ObjNative:
		return 32
	default:
		return 32
	}
}

// Track registers a freshly allocated object with the heap: links it
// into the allocation list and adds its size to bytesAllocated. Every
// allocation path in the VM/compiler must call this exactly once per
// object, immediately after construction.
func (h *Heap) Track(o bytecode.Obj) {
	hdr := o.Header()
	hdr.Next = h.objects
	hdr.Size = approxSize(o)
	hdr.Seq = h.nextSeq
	h.nextSeq++
	h.objects = o
	h.bytesAllocated += hdr.Size
}

// ShouldCollect reports whether the next allocation should be preceded
// by a collection: either stress mode is on, or the allocated-bytes
// threshold has been crossed.
func (h *Heap) ShouldCollect() bool {
	return h.StressGC || h.bytesAllocated >= h.nextGC
}

// Collect runs one full mark-and-sweep pass. markRoots is called once,
// synchronously, with a mark function the caller should invoke for
// every root object (stack values, call frames' closures, open
// upvalues, globals, the init-string sentinel, and any
// compiler-in-flight functions). The string table is not a root:
// sweepWeakStrings, if non-nil, is called before the sweep with a
// predicate reporting whether a string was marked, so the caller can
// drop unmarked (now-dead) strings from its table, per the string
// table's weak-reference semantics.
func (h *Heap) Collect(markRoots func(mark func(bytecode.Obj)), sweepWeakStrings func(isMarked func(*bytecode.ObjString) bool)) {
	markRoots(h.mark)
	traced := h.traceReferences()
	if sweepWeakStrings != nil {
		sweepWeakStrings(func(s *bytecode.ObjString) bool { return s.Header().Marked })
	}
	h.sweep()
	// Reachable objects that were never Tracked (functions the compiler
	// builds) are not on the allocation list, so sweep cannot clear
	// their mark bit; clear it here so the next pass traces them again.
	for _, o := range traced {
		o.Header().Marked = false
	}
	h.nextGC = uint64(float64(h.bytesAllocated) * h.growFactor)
	h.Collections++
}

// mark grays an object: if it's already marked this pass, nothing to
// do; otherwise mark it and push it onto the gray worklist so
// traceReferences blackens it (and recursively grays whatever it
// references) later.
func (h *Heap) mark(o bytecode.Obj) {
	if o == nil {
		return
	}
	hdr := o.Header()
	if hdr.Marked {
		return
	}
	hdr.Marked = true
	h.grayStack = append(h.grayStack, o)
}

// markValue marks v's object if it holds one; a no-op for primitives.
func (h *Heap) markValue(v bytecode.Value) {
	if v.IsObj() {
		h.mark(v.AsObj())
	}
}

func (h *Heap) traceReferences() []bytecode.Obj {
	var traced []bytecode.Obj
	for len(h.grayStack) > 0 {
		o := h.grayStack[len(h.grayStack)-1]
		h.grayStack = h.grayStack[:len(h.grayStack)-1]
		traced = append(traced, o)
		h.blacken(o)
	}
	return traced
}

// blacken traces o's outgoing references, graying whatever it points
// to. This is the one place that needs to know every object variant's
// shape, mirroring spec.md's per-kind trace table.
func (h *Heap) blacken(o bytecode.Obj) {
	switch v := o.(type) {
	case *bytecode.ObjString:
		// no outgoing references
	case *bytecode.ObjNative:
		// no outgoing references
	case *bytecode.ObjFunction:
		if v.Name != nil {
			h.mark(v.Name)
		}
		if v.Chunk != nil {
			for _, c := range v.Chunk.Constants {
				h.markValue(c)
			}
		}
	case *bytecode.ObjClosure:
		h.mark(v.Function)
		for _, uv := range v.Upvalues {
			h.mark(uv)
		}
	case *bytecode.ObjUpvalue:
		h.markValue(v.Closed)
	case *bytecode.ObjClass:
		h.mark(v.Name)
		v.Methods.ForEach(func(k *bytecode.ObjString, val bytecode.Value) {
			h.mark(k)
			h.markValue(val)
		})
	case *bytecode.ObjInstance:
		h.mark(v.Class)
		v.Fields.ForEach(func(k *bytecode.ObjString, val bytecode.Value) {
			h.mark(k)
			h.markValue(val)
		})
	case *bytecode.ObjBoundMethod:
		h.markValue(v.Receiver)
		h.mark(v.Method)
	case *bytecode.ObjList:
		for _, item := range v.Items {
			h.markValue(item)
		}
	}
}

// sweep walks the allocation list, unlinking and discarding every
// object that didn't get marked this pass, and clears the mark bit on
// every object that survives (so the next collection starts white
// again). Go's own allocator reclaims the memory once nothing
// references the object; loxvm's "destruction" is exactly that
// unlinking, never an explicit free.
func (h *Heap) sweep() {
	var prev bytecode.Obj
	obj := h.objects
	for obj != nil {
		hdr := obj.Header()
		next := hdr.Next
		if hdr.Marked {
			hdr.Marked = false
			prev = obj
		} else {
			h.bytesAllocated -= hdr.Size
			if prev != nil {
				prev.Header().Next = next
			} else {
				h.objects = next
			}
		}
		obj = next
	}
}

// Objects exposes the allocation list head, for tests that want to walk
// every live object (e.g. to count survivors after a GC stress run).
func (h *Heap) Objects() bytecode.Obj { return h.objects }

// BytesAllocated reports the heap's current tracked allocation size.
func (h *Heap) BytesAllocated() uint64 { return h.bytesAllocated }
