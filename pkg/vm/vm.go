// Package vm implements loxvm's stack-based bytecode interpreter: call
// frames over a shared value stack, closures with open/closed upvalues,
// class/instance/bound-method call dispatch, and the heap + GC rooting
// that ties the whole runtime together.
package vm

import (
	"fmt"
	"io"
	"os"

	"github.com/kristofer/loxvm/pkg/bytecode"
	"github.com/kristofer/loxvm/pkg/compiler"
	"github.com/kristofer/loxvm/pkg/config"
	"github.com/kristofer/loxvm/pkg/gc"
	"github.com/kristofer/loxvm/pkg/table"
	"github.com/sirupsen/logrus"
)

const (
	framesMax = 64
	stackMax  = framesMax * 256
)

// InterpretResult is the coarse outcome of a VM.Interpret call, mirroring
// the process exit-code classes the host CLI maps to 0/65/70.
type InterpretResult int

const (
	InterpretOK InterpretResult = iota
	InterpretCompileError
	InterpretRuntimeError
)

// callFrame is one active function invocation: the closure being run,
// its instruction pointer, and the base index into the VM's shared
// value stack where its locals begin.
type callFrame struct {
	closure *bytecode.ObjClosure
	ip      int
	slots   int // index into vm.stack where this frame's window starts
}

// VM is one loxvm interpreter instance. It owns its own heap; two VMs
// never share GC state, matching the "no shared heap across instances"
// rule.
type VM struct {
	stack   [stackMax]bytecode.Value
	stackTop int

	frames     [framesMax]callFrame
	frameCount int

	openUpvalues *bytecode.ObjUpvalue // sorted by descending stack slot

	globals *table.Table[*bytecode.ObjString, bytecode.Value]
	strings *table.Table[internKey, *bytecode.ObjString]

	initString *bytecode.ObjString

	heap *gc.Heap

	// compiler, while non-nil, is the in-flight compiler whose
	// not-yet-finished function objects must be kept alive if an
	// Intern call triggers a collection mid-compile.
	compiler *compiler.Compiler

	Trace  bool // print each instruction before executing it
	Stdout io.Writer

	// Log carries compiler/VM lifecycle and error-domain events at debug
	// level, so a host embedding the VM can capture diagnostics without
	// scraping stdout. Its default level is Info, which keeps every
	// debug-level call here silent unless a caller opts in, so attaching
	// Log never changes program-visible output or exit codes.
	Log *logrus.Logger
}

// internKey is the Hashable key the string-interning table probes by
// content rather than by the *ObjString pointer identity that would
// defeat interning's whole purpose.
type internKey struct {
	chars string
	hash  uint32
}

func (k internKey) Hash() uint32 { return k.hash }

// New creates a VM with an empty heap, ready to Interpret source.
func New() *VM {
	vm := &VM{
		globals: table.New[*bytecode.ObjString, bytecode.Value](),
		strings: table.New[internKey, *bytecode.ObjString](),
		heap:    gc.New(),
		Stdout:  os.Stdout,
		Log:     logrus.New(),
	}
	vm.initString = vm.Intern("init")
	vm.defineNatives()
	return vm
}

// SetDebugLogging raises Log's level to Debug, surfacing the
// lifecycle and error-domain events Interpret, collectGarbage, and
// runtimeError record. Off by default.
func (vm *VM) SetDebugLogging(on bool) {
	if on {
		vm.Log.SetLevel(logrus.DebugLevel)
	} else {
		vm.Log.SetLevel(logrus.InfoLevel)
	}
}

// SetStressGC forces a collection before every allocation, for test and
// CLI diagnostic use.
func (vm *VM) SetStressGC(on bool) { vm.heap.StressGC = on }

// ApplyConfig applies a loaded host configuration's VM tunables to this
// VM's heap, before any source has been interpreted.
func (vm *VM) ApplyConfig(cfg config.VM) {
	vm.heap.StressGC = cfg.StressGC
	vm.heap.SetInitialThreshold(cfg.InitialHeapBytes)
	vm.heap.SetGrowFactor(cfg.HeapGrowFactor)
}

// Intern returns the canonical *ObjString for s, allocating and
// tracking a new one only the first time s's content is seen. This is
// the VM's implementation of compiler.StringInterner.
func (vm *VM) Intern(s string) *bytecode.ObjString {
	key := internKey{chars: s, hash: bytecode.FNV1a32(s)}
	if existing, ok := vm.strings.Get(key); ok {
		return existing
	}
	vm.maybeCollect()
	str := bytecode.NewString(s)
	vm.heap.Track(str)
	vm.strings.Set(key, str)
	return str
}

func (vm *VM) maybeCollect() {
	if vm.heap.ShouldCollect() {
		vm.collectGarbage()
	}
}

func (vm *VM) track(o bytecode.Obj) {
	vm.maybeCollect()
	vm.heap.Track(o)
}

// collectGarbage runs one mark/sweep pass, handing the heap every root
// this VM (and any in-flight compiler) currently knows about.
func (vm *VM) collectGarbage() {
	before := vm.heap.BytesAllocated()
	vm.heap.Collect(vm.markRoots, vm.sweepWeakStrings)
	vm.Log.WithFields(logrus.Fields{
		"phase":          "gc",
		"bytesBefore":    before,
		"bytesAfter":     vm.heap.BytesAllocated(),
		"collectionsRun": vm.heap.Collections,
	}).Debug("collected garbage")
}

func (vm *VM) markRoots(mark func(bytecode.Obj)) {
	for i := 0; i < vm.stackTop; i++ {
		if vm.stack[i].IsObj() {
			mark(vm.stack[i].AsObj())
		}
	}
	for i := 0; i < vm.frameCount; i++ {
		mark(vm.frames[i].closure)
	}
	for uv := vm.openUpvalues; uv != nil; uv = uv.Next {
		mark(uv)
	}
	vm.globals.ForEach(func(k *bytecode.ObjString, v bytecode.Value) {
		mark(k)
		if v.IsObj() {
			mark(v.AsObj())
		}
	})
	if vm.initString != nil {
		mark(vm.initString)
	}
	if vm.compiler != nil {
		vm.compiler.Roots(mark)
	}
}

func (vm *VM) sweepWeakStrings(isMarked func(*bytecode.ObjString) bool) {
	// The strings table holds interned cells weakly: a string that
	// nothing else references should stop being interned once it's
	// collected, or the table would keep it "alive" forever.
	var dead []internKey
	vm.strings.ForEach(func(k internKey, s *bytecode.ObjString) {
		if !isMarked(s) {
			dead = append(dead, k)
		}
	})
	for _, k := range dead {
		vm.strings.Delete(k)
	}
}

// Interpret compiles and runs source to completion.
func (vm *VM) Interpret(source string) (InterpretResult, error) {
	vm.Log.WithField("phase", "compile").Debug("compiling source")
	c := compiler.New(source, vm)
	vm.compiler = c
	fn, errs := c.Compile()
	vm.compiler = nil
	if len(errs) > 0 {
		for _, e := range errs {
			fmt.Fprintln(os.Stderr, e)
			vm.Log.WithFields(logrus.Fields{"phase": "compile", "message": e}).Debug("compile error")
		}
		return InterpretCompileError, fmt.Errorf("%d compile error(s)", len(errs))
	}

	vm.track(fn)
	vm.push(bytecode.ObjVal(fn))
	closure := bytecode.NewClosure(fn)
	vm.track(closure)
	vm.pop()
	vm.push(bytecode.ObjVal(closure))
	vm.call(closure, 0)

	vm.Log.WithField("phase", "run").Debug("running chunk")
	result, err := vm.run()
	vm.Log.WithFields(logrus.Fields{"phase": "run", "result": result}).Debug("run finished")
	return result, err
}

// --- stack ------------------------------------------------------------------

func (vm *VM) push(v bytecode.Value) {
	vm.stack[vm.stackTop] = v
	vm.stackTop++
}

func (vm *VM) pop() bytecode.Value {
	vm.stackTop--
	return vm.stack[vm.stackTop]
}

func (vm *VM) peek(distance int) bytecode.Value {
	return vm.stack[vm.stackTop-1-distance]
}

func (vm *VM) resetStack() {
	vm.stackTop = 0
	vm.frameCount = 0
	vm.openUpvalues = nil
}

// --- errors -------------------------------------------------------------

func (vm *VM) runtimeError(format string, args ...interface{}) error {
	message := fmt.Sprintf(format, args...)

	var trace []StackFrame
	for i := vm.frameCount - 1; i >= 0; i-- {
		frame := &vm.frames[i]
		fn := frame.closure.Function
		line := fn.Chunk.LineAt(frame.ip - 1)
		name := "script"
		if fn.Name != nil {
			name = fn.Name.Chars + "()"
		}
		trace = append(trace, StackFrame{Name: name, SourceLine: line})
	}

	vm.resetStack()
	line := 0
	if len(trace) > 0 {
		line = trace[0].SourceLine
	}
	vm.Log.WithFields(logrus.Fields{
		"phase":   "runtime",
		"line":    line,
		"message": message,
	}).Debug("runtime error")
	return newRuntimeError(message, trace)
}

// --- calling ----------------------------------------------------------------

// callValue implements the CALL operation's callee-kind dispatch:
// closures run normally, classes construct an instance (and call init
// if present), bound methods rebind the receiver, and natives execute
// immediately without pushing a frame.
func (vm *VM) callValue(callee bytecode.Value, argCount int) error {
	if callee.IsObj() {
		switch obj := callee.AsObj().(type) {
		case *bytecode.ObjClosure:
			return vm.call(obj, argCount)
		case *bytecode.ObjClass:
			instance := bytecode.NewInstance(obj)
			vm.track(instance)
			vm.stack[vm.stackTop-argCount-1] = bytecode.ObjVal(instance)
			if initializer, ok := obj.Methods.Get(vm.initString); ok {
				return vm.call(initializer.AsObj().(*bytecode.ObjClosure), argCount)
			} else if argCount != 0 {
				return vm.runtimeError("expected 0 arguments but got %d", argCount)
			}
			return nil
		case *bytecode.ObjBoundMethod:
			vm.stack[vm.stackTop-argCount-1] = obj.Receiver
			return vm.call(obj.Method, argCount)
		case *bytecode.ObjNative:
			args := vm.stack[vm.stackTop-argCount : vm.stackTop]
			result, err := obj.Fn(args)
			if err != nil {
				return vm.runtimeError("%s", err.Error())
			}
			vm.stackTop -= argCount + 1
			vm.push(result)
			return nil
		}
	}
	return vm.runtimeError("can only call functions and classes")
}

func (vm *VM) call(closure *bytecode.ObjClosure, argCount int) error {
	if argCount != closure.Function.Arity {
		return vm.runtimeError("expected %d arguments but got %d", closure.Function.Arity, argCount)
	}
	if vm.frameCount == framesMax {
		return vm.runtimeError("stack overflow")
	}
	frame := &vm.frames[vm.frameCount]
	vm.frameCount++
	frame.closure = closure
	frame.ip = 0
	frame.slots = vm.stackTop - argCount - 1
	return nil
}

func (vm *VM) invokeFromClass(class *bytecode.ObjClass, name *bytecode.ObjString, argCount int) error {
	method, ok := class.Methods.Get(name)
	if !ok {
		return vm.runtimeError("undefined property '%s'", name.Chars)
	}
	return vm.call(method.AsObj().(*bytecode.ObjClosure), argCount)
}

// invoke implements the OP_INVOKE fast path: a combined get-property +
// call that skips materializing an intermediate bound method object
// when the receiver is a plain instance.
func (vm *VM) invoke(name *bytecode.ObjString, argCount int) error {
	receiver := vm.peek(argCount)
	if !receiver.IsObj() {
		return vm.runtimeError("only instances have methods")
	}
	instance, ok := receiver.AsObj().(*bytecode.ObjInstance)
	if !ok {
		return vm.runtimeError("only instances have methods")
	}

	if field, ok := instance.Fields.Get(name); ok {
		vm.stack[vm.stackTop-argCount-1] = field
		return vm.callValue(field, argCount)
	}

	return vm.invokeFromClass(instance.Class, name, argCount)
}

func (vm *VM) bindMethod(class *bytecode.ObjClass, name *bytecode.ObjString) error {
	method, ok := class.Methods.Get(name)
	if !ok {
		return vm.runtimeError("undefined property '%s'", name.Chars)
	}
	bound := bytecode.NewBoundMethod(vm.peek(0), method.AsObj().(*bytecode.ObjClosure))
	vm.track(bound)
	vm.pop()
	vm.push(bytecode.ObjVal(bound))
	return nil
}

// --- upvalues -----------------------------------------------------------

func (vm *VM) captureUpvalue(localSlot int) *bytecode.ObjUpvalue {
	var prev *bytecode.ObjUpvalue
	cur := vm.openUpvalues
	for cur != nil && cur.StackSlot > localSlot {
		prev = cur
		cur = cur.Next
	}
	if cur != nil && cur.StackSlot == localSlot {
		return cur
	}

	created := bytecode.NewUpvalue(&vm.stack[localSlot], localSlot)
	vm.track(created)
	created.Next = cur
	if prev == nil {
		vm.openUpvalues = created
	} else {
		prev.Next = created
	}
	return created
}

func (vm *VM) closeUpvalues(fromSlot int) {
	for vm.openUpvalues != nil && vm.openUpvalues.StackSlot >= fromSlot {
		uv := vm.openUpvalues
		uv.Close()
		vm.openUpvalues = uv.Next
	}
}

// --- the dispatch loop -----------------------------------------------------

func (vm *VM) run() (InterpretResult, error) {
	frame := &vm.frames[vm.frameCount-1]

	readByte := func() byte {
		b := frame.closure.Function.Chunk.Code[frame.ip]
		frame.ip++
		return b
	}
	readShort := func() int {
		hi := readByte()
		lo := readByte()
		return int(hi)<<8 | int(lo)
	}
	readConstant := func() bytecode.Value {
		return frame.closure.Function.Chunk.Constants[readByte()]
	}
	readString := func() *bytecode.ObjString {
		return readConstant().AsString()
	}

	for {
		if vm.Trace {
			vm.traceStack()
			bytecode.DisassembleInstruction(os.Stderr, frame.closure.Function.Chunk, frame.ip)
		}

		switch op := bytecode.Opcode(readByte()); op {
		case bytecode.OpConstant:
			vm.push(readConstant())
		case bytecode.OpNil:
			vm.push(bytecode.Nil)
		case bytecode.OpTrue:
			vm.push(bytecode.BoolVal(true))
		case bytecode.OpFalse:
			vm.push(bytecode.BoolVal(false))
		case bytecode.OpPop:
			vm.pop()

		case bytecode.OpGetLocal:
			slot := int(readByte())
			vm.push(vm.stack[frame.slots+slot])
		case bytecode.OpSetLocal:
			slot := int(readByte())
			vm.stack[frame.slots+slot] = vm.peek(0)

		case bytecode.OpGetGlobal:
			name := readString()
			v, ok := vm.globals.Get(name)
			if !ok {
				return InterpretRuntimeError, vm.runtimeError("undefined variable '%s'", name.Chars)
			}
			vm.push(v)
		case bytecode.OpDefineGlobal:
			name := readString()
			vm.globals.Set(name, vm.peek(0))
			vm.pop()
		case bytecode.OpSetGlobal:
			name := readString()
			if vm.globals.Set(name, vm.peek(0)) {
				vm.globals.Delete(name)
				return InterpretRuntimeError, vm.runtimeError("undefined variable '%s'", name.Chars)
			}

		case bytecode.OpGetUpvalue:
			slot := int(readByte())
			vm.push(*frame.closure.Upvalues[slot].Location)
		case bytecode.OpSetUpvalue:
			slot := int(readByte())
			*frame.closure.Upvalues[slot].Location = vm.peek(0)

		case bytecode.OpGetProperty:
			if !vm.peek(0).IsObj() {
				return InterpretRuntimeError, vm.runtimeError("only instances have properties")
			}
			instance, ok := vm.peek(0).AsObj().(*bytecode.ObjInstance)
			if !ok {
				return InterpretRuntimeError, vm.runtimeError("only instances have properties")
			}
			name := readString()
			if v, ok := instance.Fields.Get(name); ok {
				vm.pop()
				vm.push(v)
				break
			}
			if err := vm.bindMethod(instance.Class, name); err != nil {
				return InterpretRuntimeError, err
			}
		case bytecode.OpSetProperty:
			if !vm.peek(1).IsObj() {
				return InterpretRuntimeError, vm.runtimeError("only instances have fields")
			}
			instance, ok := vm.peek(1).AsObj().(*bytecode.ObjInstance)
			if !ok {
				return InterpretRuntimeError, vm.runtimeError("only instances have fields")
			}
			name := readString()
			instance.Fields.Set(name, vm.peek(0))
			value := vm.pop()
			vm.pop()
			vm.push(value)
		case bytecode.OpGetSuper:
			name := readString()
			superclass := vm.pop().AsObj().(*bytecode.ObjClass)
			if err := vm.bindMethod(superclass, name); err != nil {
				return InterpretRuntimeError, err
			}

		case bytecode.OpEqual:
			b := vm.pop()
			a := vm.pop()
			vm.push(bytecode.BoolVal(bytecode.Equal(a, b)))
		case bytecode.OpGreater:
			if err := vm.binaryNumberOp(func(a, b float64) bytecode.Value { return bytecode.BoolVal(a > b) }); err != nil {
				return InterpretRuntimeError, err
			}
		case bytecode.OpLess:
			if err := vm.binaryNumberOp(func(a, b float64) bytecode.Value { return bytecode.BoolVal(a < b) }); err != nil {
				return InterpretRuntimeError, err
			}

		case bytecode.OpAdd:
			if err := vm.add(); err != nil {
				return InterpretRuntimeError, err
			}
		case bytecode.OpSubtract:
			if err := vm.binaryNumberOp(func(a, b float64) bytecode.Value { return bytecode.NumberVal(a - b) }); err != nil {
				return InterpretRuntimeError, err
			}
		case bytecode.OpMultiply:
			if err := vm.binaryNumberOp(func(a, b float64) bytecode.Value { return bytecode.NumberVal(a * b) }); err != nil {
				return InterpretRuntimeError, err
			}
		case bytecode.OpDivide:
			if err := vm.binaryNumberOp(func(a, b float64) bytecode.Value { return bytecode.NumberVal(a / b) }); err != nil {
				return InterpretRuntimeError, err
			}

		case bytecode.OpNot:
			vm.push(bytecode.BoolVal(vm.pop().IsFalsey()))
		case bytecode.OpNegate:
			if !vm.peek(0).IsNumber() {
				return InterpretRuntimeError, vm.runtimeError("operand must be a number")
			}
			vm.push(bytecode.NumberVal(-vm.pop().AsNumber()))

		case bytecode.OpPrint:
			fmt.Fprintln(vm.Stdout, vm.pop().String())

		case bytecode.OpJump:
			offset := readShort()
			frame.ip += offset
		case bytecode.OpJumpIfFalse:
			offset := readShort()
			if vm.peek(0).IsFalsey() {
				frame.ip += offset
			}
		case bytecode.OpLoop:
			offset := readShort()
			frame.ip -= offset

		case bytecode.OpCall:
			argCount := int(readByte())
			if err := vm.callValue(vm.peek(argCount), argCount); err != nil {
				return InterpretRuntimeError, err
			}
			frame = &vm.frames[vm.frameCount-1]
		case bytecode.OpInvoke:
			name := readString()
			argCount := int(readByte())
			if err := vm.invoke(name, argCount); err != nil {
				return InterpretRuntimeError, err
			}
			frame = &vm.frames[vm.frameCount-1]
		case bytecode.OpSuperInvoke:
			name := readString()
			argCount := int(readByte())
			superclass := vm.pop().AsObj().(*bytecode.ObjClass)
			if err := vm.invokeFromClass(superclass, name, argCount); err != nil {
				return InterpretRuntimeError, err
			}
			frame = &vm.frames[vm.frameCount-1]

		case bytecode.OpClosure:
			fn := readConstant().AsObj().(*bytecode.ObjFunction)
			closure := bytecode.NewClosure(fn)
			vm.track(closure)
			vm.push(bytecode.ObjVal(closure))
			for i := range closure.Upvalues {
				isLocal := readByte()
				index := int(readByte())
				if isLocal != 0 {
					closure.Upvalues[i] = vm.captureUpvalue(frame.slots + index)
				} else {
					closure.Upvalues[i] = frame.closure.Upvalues[index]
				}
			}
		case bytecode.OpCloseUpvalue:
			vm.closeUpvalues(vm.stackTop - 1)
			vm.pop()

		case bytecode.OpReturn:
			result := vm.pop()
			vm.closeUpvalues(frame.slots)
			vm.frameCount--
			if vm.frameCount == 0 {
				vm.pop()
				return InterpretOK, nil
			}
			vm.stackTop = frame.slots
			vm.push(result)
			frame = &vm.frames[vm.frameCount-1]

		case bytecode.OpClass:
			vm.push(bytecode.ObjVal(bytecode.NewClass(readString())))
			vm.track(vm.peek(0).AsObj())
		case bytecode.OpInherit:
			superclassVal := vm.peek(1)
			superclass, ok := superclassVal.AsObj().(*bytecode.ObjClass)
			if !ok {
				return InterpretRuntimeError, vm.runtimeError("superclass must be a class")
			}
			subclass := vm.peek(0).AsObj().(*bytecode.ObjClass)
			superclass.Methods.ForEach(func(k *bytecode.ObjString, v bytecode.Value) {
				subclass.Methods.Set(k, v)
			})
			vm.pop() // subclass pops; superclass stays as the `super` local
		case bytecode.OpMethod:
			vm.defineMethod(readString())

		case bytecode.OpBuildList:
			count := readShort()
			items := make([]bytecode.Value, count)
			copy(items, vm.stack[vm.stackTop-count:vm.stackTop])
			vm.stackTop -= count
			list := bytecode.NewList(items)
			vm.track(list)
			vm.push(bytecode.ObjVal(list))
		case bytecode.OpIndexSubscr:
			index := vm.pop()
			listVal := vm.pop()
			v, err := vm.indexList(listVal, index)
			if err != nil {
				return InterpretRuntimeError, err
			}
			vm.push(v)
		case bytecode.OpStoreSubscr:
			value := vm.pop()
			index := vm.pop()
			listVal := vm.pop()
			if err := vm.storeList(listVal, index, value); err != nil {
				return InterpretRuntimeError, err
			}
			vm.push(value)

		default:
			return InterpretRuntimeError, vm.runtimeError("unknown opcode %d", op)
		}
	}
}

func (vm *VM) defineMethod(name *bytecode.ObjString) {
	method := vm.peek(0)
	class := vm.peek(1).AsObj().(*bytecode.ObjClass)
	class.Methods.Set(name, method)
	vm.pop()
}

func (vm *VM) binaryNumberOp(op func(a, b float64) bytecode.Value) error {
	if !vm.peek(0).IsNumber() || !vm.peek(1).IsNumber() {
		return vm.runtimeError("operands must be numbers")
	}
	b := vm.pop().AsNumber()
	a := vm.pop().AsNumber()
	vm.push(op(a, b))
	return nil
}

func (vm *VM) add() error {
	if vm.peek(0).IsString() && vm.peek(1).IsString() {
		b := vm.pop().AsString()
		a := vm.pop().AsString()
		result := vm.Intern(a.Chars + b.Chars)
		vm.push(bytecode.ObjVal(result))
		return nil
	}
	if vm.peek(0).IsNumber() && vm.peek(1).IsNumber() {
		b := vm.pop().AsNumber()
		a := vm.pop().AsNumber()
		vm.push(bytecode.NumberVal(a + b))
		return nil
	}
	return vm.runtimeError("operands must be two numbers or two strings")
}

func (vm *VM) indexList(listVal, indexVal bytecode.Value) (bytecode.Value, error) {
	list, ok := listVal.AsObj().(*bytecode.ObjList)
	if !listVal.IsObj() || !ok {
		return bytecode.Nil, vm.runtimeError("only lists can be indexed")
	}
	if !indexVal.IsNumber() {
		return bytecode.Nil, vm.runtimeError("list index must be a number")
	}
	i := int(indexVal.AsNumber())
	if i < 0 || i >= len(list.Items) {
		return bytecode.Nil, vm.runtimeError("list index out of range")
	}
	return list.Items[i], nil
}

func (vm *VM) storeList(listVal, indexVal, value bytecode.Value) error {
	list, ok := listVal.AsObj().(*bytecode.ObjList)
	if !listVal.IsObj() || !ok {
		return vm.runtimeError("only lists can be indexed")
	}
	if !indexVal.IsNumber() {
		return vm.runtimeError("list index must be a number")
	}
	i := int(indexVal.AsNumber())
	if i < 0 || i >= len(list.Items) {
		return vm.runtimeError("list index out of range")
	}
	list.Items[i] = value
	return nil
}
