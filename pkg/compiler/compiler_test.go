package compiler

import (
	"strings"
	"testing"

	"github.com/kristofer/loxvm/pkg/bytecode"
)

// testInterner is a minimal StringInterner for tests: it intentionally
// does NOT dedupe by content, since the compiler's own correctness
// doesn't depend on interning actually collapsing cells (that's pkg/vm's
// job) and exercising the plain path keeps these tests independent of
// the VM.
type testInterner struct{}

func (testInterner) Intern(s string) *bytecode.ObjString { return bytecode.NewString(s) }

func compileOK(t *testing.T, source string) *bytecode.ObjFunction {
	t.Helper()
	c := New(source, testInterner{})
	fn, errs := c.Compile()
	if len(errs) != 0 {
		t.Fatalf("unexpected compile errors for %q: %v", source, errs)
	}
	return fn
}

func compileErr(t *testing.T, source string) []string {
	t.Helper()
	c := New(source, testInterner{})
	_, errs := c.Compile()
	if len(errs) == 0 {
		t.Fatalf("expected compile errors for %q, got none", source)
	}
	return errs
}

// disasmString disassembles fn and, recursively, every function in its
// constant pool, so assertions also see the code emitted into nested
// function and method bodies.
func disasmString(fn *bytecode.ObjFunction) string {
	var sb strings.Builder
	var walk func(f *bytecode.ObjFunction)
	walk = func(f *bytecode.ObjFunction) {
		bytecode.Disassemble(&sb, f.Chunk, f.String())
		for _, k := range f.Chunk.Constants {
			if nested, ok := k.AsObj().(*bytecode.ObjFunction); k.IsObj() && ok {
				walk(nested)
			}
		}
	}
	walk(fn)
	return sb.String()
}

func TestCompileArithmeticExpression(t *testing.T) {
	fn := compileOK(t, "1 + 2 * 3;")
	out := disasmString(fn)
	for _, want := range []string{"OP_CONSTANT", "OP_MULTIPLY", "OP_ADD", "OP_POP"} {
		if !strings.Contains(out, want) {
			t.Errorf("expected disassembly to contain %s, got:\n%s", want, out)
		}
	}
}

func TestCompileVarAndPrint(t *testing.T) {
	fn := compileOK(t, "var a = 1; print a;")
	out := disasmString(fn)
	if !strings.Contains(out, "OP_DEFINE_GLOBAL") {
		t.Errorf("expected OP_DEFINE_GLOBAL, got:\n%s", out)
	}
	if !strings.Contains(out, "OP_GET_GLOBAL") {
		t.Errorf("expected OP_GET_GLOBAL, got:\n%s", out)
	}
	if !strings.Contains(out, "OP_PRINT") {
		t.Errorf("expected OP_PRINT, got:\n%s", out)
	}
}

func TestCompileLocalsUseSlotOpcodes(t *testing.T) {
	fn := compileOK(t, "{ var a = 1; var b = 2; print a + b; }")
	out := disasmString(fn)
	if strings.Contains(out, "OP_DEFINE_GLOBAL") {
		t.Errorf("locals should not emit OP_DEFINE_GLOBAL:\n%s", out)
	}
	if !strings.Contains(out, "OP_GET_LOCAL") {
		t.Errorf("expected OP_GET_LOCAL for local reads:\n%s", out)
	}
}

func TestCompileIfElseEmitsJumps(t *testing.T) {
	fn := compileOK(t, `if (1 < 2) { print "yes"; } else { print "no"; }`)
	out := disasmString(fn)
	for _, want := range []string{"OP_JUMP_IF_FALSE", "OP_JUMP"} {
		if !strings.Contains(out, want) {
			t.Errorf("expected %s in:\n%s", want, out)
		}
	}
}

func TestCompileWhileEmitsLoop(t *testing.T) {
	fn := compileOK(t, "while (true) { print 1; }")
	out := disasmString(fn)
	if !strings.Contains(out, "OP_LOOP") {
		t.Errorf("expected OP_LOOP in:\n%s", out)
	}
}

func TestCompileForDesugarsToLoop(t *testing.T) {
	fn := compileOK(t, "for (var i = 0; i < 3; i = i + 1) { print i; }")
	out := disasmString(fn)
	if !strings.Contains(out, "OP_LOOP") {
		t.Errorf("expected desugared for-loop to emit OP_LOOP:\n%s", out)
	}
}

func TestCompileFunctionEmitsClosure(t *testing.T) {
	fn := compileOK(t, "fun add(a, b) { return a + b; } print add(1, 2);")
	out := disasmString(fn)
	if !strings.Contains(out, "OP_CLOSURE") {
		t.Errorf("expected OP_CLOSURE for function declaration:\n%s", out)
	}
	if !strings.Contains(out, "OP_CALL") {
		t.Errorf("expected OP_CALL for function invocation:\n%s", out)
	}
}

func TestCompileClosureCapturesUpvalue(t *testing.T) {
	src := `
fun outer() {
  var x = 1;
  fun inner() {
    return x;
  }
  return inner;
}`
	fn := compileOK(t, src)
	out := disasmString(fn)
	if !strings.Contains(out, "local 1") {
		t.Errorf("expected closure's captured upvalue path in disassembly:\n%s", out)
	}
}

func TestCompileClassAndMethod(t *testing.T) {
	src := `
class Greeter {
  init(name) {
    this.name = name;
  }
  greet() {
    print this.name;
  }
}
var g = Greeter("world");
g.greet();`
	fn := compileOK(t, src)
	out := disasmString(fn)
	for _, want := range []string{"OP_CLASS", "OP_METHOD", "OP_GET_PROPERTY", "OP_SET_PROPERTY", "OP_INVOKE"} {
		if !strings.Contains(out, want) {
			t.Errorf("expected %s in:\n%s", want, out)
		}
	}
}

func TestCompileInheritanceAndSuper(t *testing.T) {
	src := `
class Animal {
  speak() { print "..."; }
}
class Dog < Animal {
  speak() {
    super.speak();
    print "Woof";
  }
}`
	fn := compileOK(t, src)
	out := disasmString(fn)
	for _, want := range []string{"OP_INHERIT", "OP_SUPER_INVOKE"} {
		if !strings.Contains(out, want) {
			t.Errorf("expected %s in:\n%s", want, out)
		}
	}
}

func TestCompileListLiteralAndSubscript(t *testing.T) {
	fn := compileOK(t, `var l = [1, 2, 3]; print l[0]; l[1] = 9;`)
	out := disasmString(fn)
	for _, want := range []string{"OP_BUILD_LIST", "OP_INDEX_SUBSCR", "OP_STORE_SUBSCR"} {
		if !strings.Contains(out, want) {
			t.Errorf("expected %s in:\n%s", want, out)
		}
	}
}

func TestCompileErrorOnSelfInheritance(t *testing.T) {
	errs := compileErr(t, "class Oops < Oops {}")
	found := false
	for _, e := range errs {
		if strings.Contains(e, "inherit from itself") {
			found = true
		}
	}
	if !found {
		t.Errorf("expected self-inheritance error, got: %v", errs)
	}
}

func TestCompileErrorThisOutsideClass(t *testing.T) {
	errs := compileErr(t, "print this;")
	found := false
	for _, e := range errs {
		if strings.Contains(e, "outside of a class") {
			found = true
		}
	}
	if !found {
		t.Errorf("expected 'this' outside class error, got: %v", errs)
	}
}

func TestCompileErrorReturnFromTopLevel(t *testing.T) {
	errs := compileErr(t, "return 1;")
	found := false
	for _, e := range errs {
		if strings.Contains(e, "return from top-level code") {
			found = true
		}
	}
	if !found {
		t.Errorf("expected top-level return error, got: %v", errs)
	}
}

func TestCompileErrorInvalidAssignmentTarget(t *testing.T) {
	errs := compileErr(t, "1 + 2 = 3;")
	found := false
	for _, e := range errs {
		if strings.Contains(e, "invalid assignment target") {
			found = true
		}
	}
	if !found {
		t.Errorf("expected invalid assignment target error, got: %v", errs)
	}
}

func TestCompileSynchronizeRecoversAfterError(t *testing.T) {
	// Two independent statement errors; synchronize should let the
	// second surface too rather than getting swallowed by panic mode.
	errs := compileErr(t, "var ; var ;")
	if len(errs) < 2 {
		t.Errorf("expected multiple independent errors after synchronize, got: %v", errs)
	}
}
