package table

import "testing"

// strKey is a minimal Hashable for exercising the table without pulling
// in the bytecode package's interned strings.
type strKey struct {
	s string
	h uint32
}

func (k strKey) Hash() uint32 { return k.h }

func key(s string) strKey {
	var h uint32 = 2166136261
	for i := 0; i < len(s); i++ {
		h ^= uint32(s[i])
		h *= 16777619
	}
	return strKey{s: s, h: h}
}

func TestSetGetDelete(t *testing.T) {
	tb := New[strKey, int]()

	if isNew := tb.Set(key("a"), 1); !isNew {
		t.Fatalf("expected new key")
	}
	if isNew := tb.Set(key("a"), 2); isNew {
		t.Fatalf("expected overwrite, not new key")
	}
	v, ok := tb.Get(key("a"))
	if !ok || v != 2 {
		t.Fatalf("expected 2, got %v ok=%v", v, ok)
	}

	if !tb.Delete(key("a")) {
		t.Fatalf("expected delete to succeed")
	}
	if _, ok := tb.Get(key("a")); ok {
		t.Fatalf("expected key gone after delete")
	}
}

func TestTombstoneProbeContinuity(t *testing.T) {
	tb := New[strKey, int]()
	// Force a handful of keys into the same small table and delete one
	// in the middle of a probe chain, then confirm the ones after it are
	// still reachable (a bug here would silently "lose" keys inserted
	// after a deleted collider).
	for i := 0; i < 20; i++ {
		tb.Set(key(string(rune('a'+i))), i)
	}
	tb.Delete(key("c"))
	for i := 0; i < 20; i++ {
		k := key(string(rune('a' + i)))
		if k == key("c") {
			continue
		}
		v, ok := tb.Get(k)
		if !ok || v != i {
			t.Fatalf("lost key %q after tombstone: ok=%v v=%v", string(rune('a'+i)), ok, v)
		}
	}
}

func TestGrowthPreservesEntries(t *testing.T) {
	tb := New[strKey, int]()
	n := 200
	for i := 0; i < n; i++ {
		tb.Set(key(string(rune(i))+"x"), i)
	}
	if got := tb.Len(); got != n {
		t.Fatalf("expected %d entries, got %d", n, got)
	}
	for i := 0; i < n; i++ {
		v, ok := tb.Get(key(string(rune(i)) + "x"))
		if !ok || v != i {
			t.Fatalf("entry %d missing or wrong after growth: ok=%v v=%v", i, ok, v)
		}
	}
}

func TestForEach(t *testing.T) {
	tb := New[strKey, int]()
	tb.Set(key("a"), 1)
	tb.Set(key("b"), 2)
	tb.Delete(key("a"))

	seen := map[string]int{}
	tb.ForEach(func(k strKey, v int) { seen[k.s] = v })

	if len(seen) != 1 || seen["b"] != 2 {
		t.Fatalf("expected only b=2 live, got %v", seen)
	}
}
