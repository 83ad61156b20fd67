package gc

import (
	"testing"

	"github.com/kristofer/loxvm/pkg/bytecode"
)

func countLive(h *Heap) int {
	n := 0
	for o := h.Objects(); o != nil; o = o.Header().Next {
		n++
	}
	return n
}

func TestCollectFreesUnreachable(t *testing.T) {
	h := New()

	root := bytecode.NewString("kept")
	h.Track(root)
	garbage := bytecode.NewString("garbage")
	h.Track(garbage)

	if countLive(h) != 2 {
		t.Fatalf("expected 2 live objects before collect, got %d", countLive(h))
	}

	h.Collect(func(mark func(bytecode.Obj)) {
		mark(root)
	}, nil)

	if countLive(h) != 1 {
		t.Fatalf("expected 1 live object after collect, got %d", countLive(h))
	}
	if root.Header().Marked {
		t.Fatalf("mark bit should be cleared after sweep")
	}
}

func TestCollectTracesThroughList(t *testing.T) {
	h := New()
	item := bytecode.NewString("inside list")
	h.Track(item)
	list := bytecode.NewList([]bytecode.Value{bytecode.ObjVal(item)})
	h.Track(list)

	h.Collect(func(mark func(bytecode.Obj)) {
		mark(list)
	}, nil)

	if countLive(h) != 2 {
		t.Fatalf("expected list + its item to survive, got %d live", countLive(h))
	}
}

func TestSweepRemovesDeadInternedStrings(t *testing.T) {
	h := New()
	dead := bytecode.NewString("dead")
	h.Track(dead)

	removed := false
	h.Collect(func(mark func(bytecode.Obj)) {}, func(isMarked func(*bytecode.ObjString) bool) {
		if !isMarked(dead) {
			removed = true
		}
	})

	if !removed {
		t.Fatalf("expected sweepWeakStrings callback to observe dead as unmarked")
	}
	if countLive(h) != 0 {
		t.Fatalf("expected dead string to be swept")
	}
}

func TestSweepPreservesCreationOrder(t *testing.T) {
	h := New()
	var kept []*bytecode.ObjString
	for i := 0; i < 5; i++ {
		s := bytecode.NewString("s")
		h.Track(s)
		if i%2 == 0 {
			kept = append(kept, s)
		}
	}

	h.Collect(func(mark func(bytecode.Obj)) {
		for _, s := range kept {
			mark(s)
		}
	}, nil)

	// Track links new allocations at the head, so the surviving list
	// walks from most-recently-created to least-recently-created:
	// Seq must come out strictly decreasing.
	var seqs []uint64
	for o := h.Objects(); o != nil; o = o.Header().Next {
		seqs = append(seqs, o.Header().Seq)
	}
	if len(seqs) != len(kept) {
		t.Fatalf("expected %d survivors, got %d", len(kept), len(seqs))
	}
	for i := 1; i < len(seqs); i++ {
		if seqs[i] >= seqs[i-1] {
			t.Fatalf("expected strictly decreasing creation-order sequence, got %v", seqs)
		}
	}
}

func TestBytesAllocatedDecreasesOnSweep(t *testing.T) {
	h := New()
	s := bytecode.NewString("x")
	h.Track(s)
	before := h.BytesAllocated()
	if before == 0 {
		t.Fatalf("expected nonzero bytesAllocated after tracking")
	}

	h.Collect(func(mark func(bytecode.Obj)) {}, nil)

	if h.BytesAllocated() != 0 {
		t.Fatalf("expected bytesAllocated to drop to 0 after sweeping the only object, got %d", h.BytesAllocated())
	}
}
