package bytecode

import "testing"

func TestFalsiness(t *testing.T) {
	cases := []struct {
		v    Value
		want bool
	}{
		{Nil, true},
		{BoolVal(false), true},
		{BoolVal(true), false},
		{NumberVal(0), false},
		{NumberVal(1), false},
	}
	for _, c := range cases {
		if got := c.v.IsFalsey(); got != c.want {
			t.Errorf("IsFalsey(%v) = %v, want %v", c.v, got, c.want)
		}
	}
}

func TestEqualObjectIdentity(t *testing.T) {
	a := ObjVal(NewString("hi"))
	b := ObjVal(NewString("hi"))
	if Equal(a, b) {
		t.Fatalf("two distinct ObjString cells should not be Equal without interning")
	}
	if !Equal(a, a) {
		t.Fatalf("a value should always equal itself")
	}
}

func TestNumberFormatting(t *testing.T) {
	cases := map[float64]string{
		7:    "7",
		1.5:  "1.5",
		-3:   "-3",
		0.25: "0.25",
	}
	for n, want := range cases {
		if got := NumberVal(n).String(); got != want {
			t.Errorf("NumberVal(%v).String() = %q, want %q", n, got, want)
		}
	}
}

func TestChunkConstantsAndLines(t *testing.T) {
	c := NewChunk()
	idx := c.AddConstant(NumberVal(42))
	c.WriteOpcode(OpConstant, 1)
	c.Write(byte(idx), 1)
	c.WriteOpcode(OpReturn, 2)

	if len(c.Code) != len(c.Lines) {
		t.Fatalf("code/lines length mismatch: %d vs %d", len(c.Code), len(c.Lines))
	}
	if c.LineAt(0) != 1 || c.LineAt(2) != 2 {
		t.Fatalf("unexpected line map: %v", c.Lines)
	}
}
