package bytecode

import (
	"fmt"
	"strconv"

	"github.com/kristofer/loxvm/pkg/table"
)

// Kind tags the four shapes a Value can hold.
type Kind byte

const (
	KindNil Kind = iota
	KindBool
	KindNumber
	KindObj
)

// Value is the tagged runtime value every stack slot, local, global, and
// constant-pool entry holds. It is a small value type (no heap
// allocation) so pushing and popping the VM stack never itself triggers
// GC pressure; only the KindObj variant points at the heap.
type Value struct {
	kind    Kind
	boolean bool
	number  float64
	obj     Obj
}

// Nil is the nil value.
var Nil = Value{kind: KindNil}

// BoolVal constructs a boolean value.
func BoolVal(b bool) Value { return Value{kind: KindBool, boolean: b} }

// NumberVal constructs a number value.
func NumberVal(n float64) Value { return Value{kind: KindNumber, number: n} }

// ObjVal constructs a value wrapping a heap object.
func ObjVal(o Obj) Value { return Value{kind: KindObj, obj: o} }

func (v Value) Kind() Kind     { return v.kind }
func (v Value) IsNil() bool    { return v.kind == KindNil }
func (v Value) IsBool() bool   { return v.kind == KindBool }
func (v Value) IsNumber() bool { return v.kind == KindNumber }
func (v Value) IsObj() bool    { return v.kind == KindObj }

func (v Value) AsBool() bool     { return v.boolean }
func (v Value) AsNumber() float64 { return v.number }
func (v Value) AsObj() Obj        { return v.obj }

// IsFalsey implements loxvm's falsiness rule: nil and false are false,
// everything else (including 0 and "") is true.
func (v Value) IsFalsey() bool {
	return v.IsNil() || (v.IsBool() && !v.boolean)
}

// IsString reports whether v holds a string object.
func (v Value) IsString() bool {
	return v.IsObj() && v.obj.Header().Kind == ObjKindString
}

// AsString returns the underlying string object. The caller must have
// checked IsString first.
func (v Value) AsString() *ObjString { return v.obj.(*ObjString) }

// Equal implements the structural/identity equality rule from the data
// model: primitives compare by value, objects compare by heap identity,
// and because strings are interned, identity comparison already gives
// strings the content equality callers expect.
func Equal(a, b Value) bool {
	if a.kind != b.kind {
		return false
	}
	switch a.kind {
	case KindNil:
		return true
	case KindBool:
		return a.boolean == b.boolean
	case KindNumber:
		return a.number == b.number
	case KindObj:
		return a.obj == b.obj
	default:
		return false
	}
}

// String renders v the way `print` does: this is the single formatter
// every print path and every natural string conversion goes through.
func (v Value) String() string {
	switch v.kind {
	case KindNil:
		return "nil"
	case KindBool:
		if v.boolean {
			return "true"
		}
		return "false"
	case KindNumber:
		return formatNumber(v.number)
	case KindObj:
		return v.obj.String()
	default:
		return "<invalid value>"
	}
}

func formatNumber(n float64) string {
	return strconv.FormatFloat(n, 'g', -1, 64)
}

// ObjKind tags the heap object variants.
type ObjKind byte

const (
	ObjKindString ObjKind = iota
	ObjKindFunction
	ObjKindClosure
	ObjKindUpvalue
	ObjKindClass
	ObjKindInstance
	ObjKindBoundMethod
	ObjKindList
	ObjKindNative
)

// Obj is implemented by every heap-allocated object variant. Header
// returns the shared GC bookkeeping fields every variant embeds, and
// String renders the object the way `print` formats it.
type Obj interface {
	Header() *ObjHeader
	String() string
}

// ObjHeader is embedded in every object variant. It plays the role the
// spec's shared object header plays in a C implementation: a kind tag,
// a GC mark bit, and a next-pointer threading the object into the
// heap's process-wide allocation list.
type ObjHeader struct {
	Kind   ObjKind
	Marked bool
	Next   Obj // intrusive singly-linked allocation list
	Size   uint64
	Seq    uint64 // creation order; for test assertions only, not read by the collector
}

func (h *ObjHeader) Header() *ObjHeader { return h }

// --- ObjString ---------------------------------------------------------

// ObjString is an immutable interned string. Its hash is computed once,
// at interning time, rather than on every hash-table probe.
type ObjString struct {
	ObjHeader
	Chars string
	hash  uint32
}

func (s *ObjString) String() string { return s.Chars }

// FNV1a32 is the hash function used both to key interned strings and to
// satisfy table.Hashable for ObjString-keyed tables.
func FNV1a32(s string) uint32 {
	var h uint32 = 2166136261
	for i := 0; i < len(s); i++ {
		h ^= uint32(s[i])
		h *= 16777619
	}
	return h
}

// Hash satisfies table.Hashable so *ObjString can key globals tables,
// class method tables, and instance field tables directly.
func (s *ObjString) Hash() uint32 { return s.hash }

// --- ObjFunction ---------------------------------------------------------

// ObjFunction is the compile-time artifact produced for each `fun` (and
// each method, and the implicit top-level script function): its chunk,
// arity, and captured-upvalue count.
type ObjFunction struct {
	ObjHeader
	Name         *ObjString // nil for the top-level script
	Arity        int
	UpvalueCount int
	Chunk        *Chunk
}

func (f *ObjFunction) String() string {
	if f.Name == nil {
		return "<script>"
	}
	return fmt.Sprintf("<fn %s>", f.Name.Chars)
}

// --- ObjUpvalue ---------------------------------------------------------

// ObjUpvalue is the indirection cell a closure uses to read/write a
// captured variable. While it is "open", Location points into a live VM
// stack slot; ObjUpvalue.Close redirects Location to its own Closed
// field and the upvalue becomes "closed".
type ObjUpvalue struct {
	ObjHeader
	Location  *Value // points at a stack slot while open, or &Closed once closed
	Closed    Value
	StackSlot int         // the stack slot Location opened at; only meaningful while open
	Next      *ObjUpvalue // open-upvalue list link, sorted by descending stack slot
}

func (u *ObjUpvalue) String() string { return "<upvalue>" }

// Close converts an open upvalue into a closed one: it copies the
// current value out of the stack slot it points to, then repoints
// Location at its own storage so it survives the frame going away.
func (u *ObjUpvalue) Close() {
	u.Closed = *u.Location
	u.Location = &u.Closed
}

// --- ObjClosure ---------------------------------------------------------

// ObjClosure pairs a compiled function with the upvalues it captured at
// creation time.
type ObjClosure struct {
	ObjHeader
	Function *ObjFunction
	Upvalues []*ObjUpvalue
}

func (c *ObjClosure) String() string { return c.Function.String() }

// --- ObjClass / ObjInstance / ObjBoundMethod -----------------------------

// MethodTable is the Hashable-keyed table backing class method tables
// and instance field tables: keys are interned strings, values are
// loxvm Values (closures for methods, anything for fields).
type MethodTable = table.Table[*ObjString, Value]

// ObjClass is a class: its name and its method table. The method table
// is mutated during the class body and again by OP_INHERIT, which
// copies the superclass's entries into the subclass (copy-down
// inheritance, not a superclass pointer chase, per the compiler design).
type ObjClass struct {
	ObjHeader
	Name    *ObjString
	Methods *MethodTable
}

func (c *ObjClass) String() string { return c.Name.Chars }

// ObjInstance is a live instance of a class: a class reference plus a
// dynamically-growing field table.
type ObjInstance struct {
	ObjHeader
	Class  *ObjClass
	Fields *MethodTable
}

func (i *ObjInstance) String() string { return i.Class.Name.Chars + " instance" }

// ObjBoundMethod pairs a receiver with a method closure. It is created
// ephemerally by property access on an instance when the property
// resolves to a method, and unwrapped again by OP_CALL.
type ObjBoundMethod struct {
	ObjHeader
	Receiver Value
	Method   *ObjClosure
}

func (b *ObjBoundMethod) String() string { return b.Method.String() }

// --- ObjList --------------------------------------------------------------

// ObjList is loxvm's built-in dynamic array.
type ObjList struct {
	ObjHeader
	Items []Value
}

func (l *ObjList) String() string {
	s := "["
	for i, item := range l.Items {
		if i > 0 {
			s += ", "
		}
		s += item.String()
	}
	return s + "]"
}

// --- ObjNative ------------------------------------------------------------

// NativeFn is a host-provided function exposed to loxvm code. It
// returns an error instead of a sentinel error value so that natives
// raise ordinary runtime errors, with the normal stack-trace unwinding,
// instead of silently swallowing misuse the way the original's stubbed
// "Handle Error" comments did.
type NativeFn func(args []Value) (Value, error)

// ObjNative wraps a NativeFn so it can live in a Value like any other
// callable.
type ObjNative struct {
	ObjHeader
	Name string
	Fn   NativeFn
}

func (n *ObjNative) String() string { return fmt.Sprintf("<native fn %s>", n.Name) }

// --- constructors -----------------------------------------------------

// NewString builds an ObjString and precomputes its hash. Callers
// running inside a VM should use its intern path (vm.VM.Intern)
// instead of calling this directly, so that equal-content strings
// share one cell; this constructor is what the intern path itself, and
// tests that need a bare string object, use.
func NewString(chars string) *ObjString {
	s := &ObjString{Chars: chars, hash: FNV1a32(chars)}
	s.Kind = ObjKindString
	return s
}

// NewFunction builds an empty function object with its own chunk,
// ready for the compiler to emit into.
func NewFunction() *ObjFunction {
	f := &ObjFunction{Chunk: NewChunk()}
	f.Kind = ObjKindFunction
	return f
}

// NewClosure wraps function in a closure with function.UpvalueCount
// empty upvalue slots, to be filled in by OP_CLOSURE.
func NewClosure(function *ObjFunction) *ObjClosure {
	c := &ObjClosure{Function: function, Upvalues: make([]*ObjUpvalue, function.UpvalueCount)}
	c.Kind = ObjKindClosure
	return c
}

// NewUpvalue creates an open upvalue pointing at slot, which lives at
// stackSlot in the owning VM's value stack.
func NewUpvalue(slot *Value, stackSlot int) *ObjUpvalue {
	u := &ObjUpvalue{Location: slot, StackSlot: stackSlot}
	u.Kind = ObjKindUpvalue
	return u
}

// NewClass creates a class with an empty method table.
func NewClass(name *ObjString) *ObjClass {
	c := &ObjClass{Name: name, Methods: table.New[*ObjString, Value]()}
	c.Kind = ObjKindClass
	return c
}

// NewInstance creates an instance of class with an empty field table.
func NewInstance(class *ObjClass) *ObjInstance {
	i := &ObjInstance{Class: class, Fields: table.New[*ObjString, Value]()}
	i.Kind = ObjKindInstance
	return i
}

// NewBoundMethod binds receiver to method.
func NewBoundMethod(receiver Value, method *ObjClosure) *ObjBoundMethod {
	b := &ObjBoundMethod{Receiver: receiver, Method: method}
	b.Kind = ObjKindBoundMethod
	return b
}

// NewList creates a list containing items (items is taken by reference,
// matching OP_BUILD_LIST's "preserving source order" requirement: the
// caller hands us the items already in source order).
func NewList(items []Value) *ObjList {
	l := &ObjList{Items: items}
	l.Kind = ObjKindList
	return l
}

// NewNative wraps fn as a native callable named name.
func NewNative(name string, fn NativeFn) *ObjNative {
	n := &ObjNative{Name: name, Fn: fn}
	n.Kind = ObjKindNative
	return n
}
