package vm

import (
	"bytes"
	"strings"
	"testing"
)

func run(t *testing.T, source string) string {
	t.Helper()
	v := New()
	var out bytes.Buffer
	v.Stdout = &out
	result, err := v.Interpret(source)
	if result != InterpretOK {
		t.Fatalf("interpret failed for %q: %v\noutput so far:\n%s", source, err, out.String())
	}
	return out.String()
}

func runExpectError(t *testing.T, source string) (InterpretResult, error) {
	t.Helper()
	v := New()
	var out bytes.Buffer
	v.Stdout = &out
	return v.Interpret(source)
}

func TestArithmeticAndPrint(t *testing.T) {
	out := run(t, `print 1 + 2 * 3;`)
	if strings.TrimSpace(out) != "7" {
		t.Fatalf("expected 7, got %q", out)
	}
}

func TestStringInterningEquality(t *testing.T) {
	out := run(t, `
var a = "hi" + "!";
var b = "hi!";
print a == b;`)
	if strings.TrimSpace(out) != "true" {
		t.Fatalf("expected interned strings to compare equal, got %q", out)
	}
}

func TestClosureCapturesAndMutatesUpvalue(t *testing.T) {
	out := run(t, `
fun makeCounter() {
  var count = 0;
  fun increment() {
    count = count + 1;
    return count;
  }
  return increment;
}
var counter = makeCounter();
print counter();
print counter();
print counter();`)
	lines := strings.Fields(out)
	if strings.Join(lines, ",") != "1,2,3" {
		t.Fatalf("expected 1 2 3, got %q", out)
	}
}

func TestInheritanceAndSuper(t *testing.T) {
	out := run(t, `
class Animal {
  speak() {
    print "generic noise";
  }
}
class Dog < Animal {
  speak() {
    super.speak();
    print "Woof";
  }
}
Dog().speak();`)
	want := "generic noise\nWoof\n"
	if out != want {
		t.Fatalf("expected %q, got %q", want, out)
	}
}

func TestListAppendRemoveIndex(t *testing.T) {
	out := run(t, `
var l = [1, 2, 3];
append(l, 4);
print l[3];
remove(l, 0);
print l[0];
print len(l);`)
	want := "4\n2\n3\n"
	if out != want {
		t.Fatalf("expected %q, got %q", want, out)
	}
}

func TestListAppendRemoveMutateInPlace(t *testing.T) {
	out := run(t, `
var xs = [10, 20, 30];
append(xs, 40);
print xs[3];
remove(xs, 0);
print xs[0];`)
	want := "40\n20\n"
	if out != want {
		t.Fatalf("expected %q, got %q", want, out)
	}
}

func TestSliceWithStep(t *testing.T) {
	out := run(t, `
var xs = [0, 1, 2, 3, 4, 5, 6];
var evens = slice(xs, 0, 7, 2);
print len(evens);
print evens[0];
print evens[1];
print evens[2];
print evens[3];`)
	want := "4\n0\n2\n4\n6\n"
	if out != want {
		t.Fatalf("expected %q, got %q", want, out)
	}
}

func TestSliceDefaultStepIsOne(t *testing.T) {
	out := run(t, `
var xs = [1, 2, 3, 4, 5];
var ys = slice(xs, 1, 4);
print len(ys);
print ys[0];
print ys[2];`)
	want := "3\n2\n4\n"
	if out != want {
		t.Fatalf("expected %q, got %q", want, out)
	}
}

func TestForLoop(t *testing.T) {
	out := run(t, `
var total = 0;
for (var i = 0; i < 5; i = i + 1) {
  total = total + i;
}
print total;`)
	if strings.TrimSpace(out) != "10" {
		t.Fatalf("expected 10, got %q", out)
	}
}

func TestRuntimeTypeErrorOnAddition(t *testing.T) {
	result, err := runExpectError(t, `print 1 + "a";`)
	if result != InterpretRuntimeError {
		t.Fatalf("expected runtime error, got result %v", result)
	}
	if err == nil || !strings.Contains(err.Error(), "numbers or two strings") {
		t.Fatalf("expected type-mismatch error, got %v", err)
	}
}

func TestCallingNonCallableIsRuntimeError(t *testing.T) {
	result, err := runExpectError(t, `var x = 1; x();`)
	if result != InterpretRuntimeError {
		t.Fatalf("expected runtime error, got result %v", result)
	}
	if err == nil || !strings.Contains(err.Error(), "can only call") {
		t.Fatalf("expected call-on-non-callable error, got %v", err)
	}
}

func TestUndefinedVariableIsRuntimeError(t *testing.T) {
	result, _ := runExpectError(t, `print undefinedThing;`)
	if result != InterpretRuntimeError {
		t.Fatalf("expected runtime error for undefined global, got %v", result)
	}
}

func TestClassFieldsAndInit(t *testing.T) {
	out := run(t, `
class Point {
  init(x, y) {
    this.x = x;
    this.y = y;
  }
  sum() {
    return this.x + this.y;
  }
}
var p = Point(3, 4);
print p.sum();`)
	if strings.TrimSpace(out) != "7" {
		t.Fatalf("expected 7, got %q", out)
	}
}

func TestStressGCDoesNotCorruptState(t *testing.T) {
	v := New()
	v.SetStressGC(true)
	var out bytes.Buffer
	v.Stdout = &out
	result, err := v.Interpret(`
class Node {
  init(value) {
    this.value = value;
  }
}
var nodes = [];
for (var i = 0; i < 50; i = i + 1) {
  append(nodes, Node(i));
}
var total = 0;
for (var i = 0; i < 50; i = i + 1) {
  total = total + nodes[i].value;
}
print total;`)
	if result != InterpretOK {
		t.Fatalf("interpret failed under stress GC: %v", err)
	}
	if strings.TrimSpace(out.String()) != "1225" {
		t.Fatalf("expected 1225, got %q", out.String())
	}
}
