// Package bytecode defines the bytecode instruction set, the value/object
// model, and the chunk format that the compiler emits into and the VM
// executes.
//
// These three concerns live in one package rather than three because the
// object model is self-referential in a way Go's package graph can't
// express split apart: a Chunk's constant pool holds Values, a function
// object holds a Chunk, and a class's method table holds Values keyed by
// interned strings. Splitting Value and Chunk into separate packages
// would force one to import the other right back.
package bytecode

// Opcode is a single bytecode instruction's operation. Opcodes are one
// byte each; operands (when present) are encoded inline immediately
// after the opcode in the chunk's code array, per-opcode as documented
// below, rather than in a fixed-width instruction struct — this keeps
// the chunk a flat byte buffer, per the loxvm chunk format.
type Opcode byte

const (
	OpConstant Opcode = iota // 1B constant index -> constants[index]
	OpNil                    // -> nil
	OpTrue                   // -> true
	OpFalse                  // -> false
	OpPop                    // v ->

	OpGetLocal // 1B slot -> stack[base+slot]
	OpSetLocal // 1B slot; stack[base+slot] <- peek(0)

	OpGetGlobal    // 1B name-const
	OpSetGlobal    // 1B name-const; errors if undefined
	OpDefineGlobal // 1B name-const

	OpGetUpvalue // 1B index
	OpSetUpvalue // 1B index

	OpGetProperty // 1B name-const
	OpSetProperty // 1B name-const; adds field if absent
	OpGetSuper    // 1B name-const; looks up on popped superclass

	OpEqual
	OpGreater
	OpLess

	OpAdd
	OpSubtract
	OpMultiply
	OpDivide

	OpNot
	OpNegate

	OpPrint

	OpJump         // 2B big-endian forward offset
	OpJumpIfFalse  // 2B big-endian forward offset
	OpLoop         // 2B big-endian backward offset

	OpCall        // 1B argc
	OpInvoke      // 1B name-const, 1B argc
	OpSuperInvoke // 1B name-const, 1B argc

	OpClosure      // 1B fn-const, then 2B per upvalue (isLocal, index)
	OpCloseUpvalue // closes topmost open upvalue, pops

	OpReturn

	OpClass
	OpInherit
	OpMethod // 1B name-const

	OpBuildList    // 2B big-endian count
	OpIndexSubscr  // (list, index) -> element
	OpStoreSubscr  // (list, index, value) -> value
)

// String returns the disassembly mnemonic for an opcode.
func (op Opcode) String() string {
	switch op {
	case OpConstant:
		return "OP_CONSTANT"
	case OpNil:
		return "OP_NIL"
	case OpTrue:
		return "OP_TRUE"
	case OpFalse:
		return "OP_FALSE"
	case OpPop:
		return "OP_POP"
	case OpGetLocal:
		return "OP_GET_LOCAL"
	case OpSetLocal:
		return "OP_SET_LOCAL"
	case OpGetGlobal:
		return "OP_GET_GLOBAL"
	case OpSetGlobal:
		return "OP_SET_GLOBAL"
	case OpDefineGlobal:
		return "OP_DEFINE_GLOBAL"
	case OpGetUpvalue:
		return "OP_GET_UPVALUE"
	case OpSetUpvalue:
		return "OP_SET_UPVALUE"
	case OpGetProperty:
		return "OP_GET_PROPERTY"
	case OpSetProperty:
		return "OP_SET_PROPERTY"
	case OpGetSuper:
		return "OP_GET_SUPER"
	case OpEqual:
		return "OP_EQUAL"
	case OpGreater:
		return "OP_GREATER"
	case OpLess:
		return "OP_LESS"
	case OpAdd:
		return "OP_ADD"
	case OpSubtract:
		return "OP_SUBTRACT"
	case OpMultiply:
		return "OP_MULTIPLY"
	case OpDivide:
		return "OP_DIVIDE"
	case OpNot:
		return "OP_NOT"
	case OpNegate:
		return "OP_NEGATE"
	case OpPrint:
		return "OP_PRINT"
	case OpJump:
		return "OP_JUMP"
	case OpJumpIfFalse:
		return "OP_JUMP_IF_FALSE"
	case OpLoop:
		return "OP_LOOP"
	case OpCall:
		return "OP_CALL"
	case OpInvoke:
		return "OP_INVOKE"
	case OpSuperInvoke:
		return "OP_SUPER_INVOKE"
	case OpClosure:
		return "OP_CLOSURE"
	case OpCloseUpvalue:
		return "OP_CLOSE_UPVALUE"
	case OpReturn:
		return "OP_RETURN"
	case OpClass:
		return "OP_CLASS"
	case OpInherit:
		return "OP_INHERIT"
	case OpMethod:
		return "OP_METHOD"
	case OpBuildList:
		return "OP_BUILD_LIST"
	case OpIndexSubscr:
		return "OP_INDEX_SUBSCR"
	case OpStoreSubscr:
		return "OP_STORE_SUBSCR"
	default:
		return "OP_UNKNOWN"
	}
}
