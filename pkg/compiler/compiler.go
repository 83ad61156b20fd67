// Package compiler implements loxvm's single-pass compiler: a Pratt
// (precedence-climbing) parser that emits bytecode directly into a
// Chunk as it recognizes each construct, with no intermediate AST.
//
// Compiler Architecture:
//
// The compiler maintains a stack of per-function compiler states (one
// pushed every time a `fun` or method body is entered, popped when its
// `}` is reached) and a stack of per-class compiler states (for
// superclass/`super` resolution while compiling a class body). Parsing
// and code generation are the same pass: there is no tree sitting
// between the token stream and the Chunk.
//
// Token Management:
//
// Like a conventional recursive-descent parser, the compiler keeps a
// one-token lookahead: `current` is the token about to be consumed,
// `previous` is the token just consumed. advance() shifts the window
// forward by asking the lexer for the next token.
//
// Expression Parsing:
//
// Expressions are parsed with precedence climbing (Pratt parsing): each
// token kind has an optional prefix rule, an optional infix rule, and an
// infix precedence. parsePrecedence(level) dispatches the prefix rule
// for the current token, then repeatedly consumes infix operators whose
// precedence is at least `level`. Assignment is handled by threading a
// `canAssign` flag into prefix rules, so `a.b = c` parses (assignment
// is only attempted at PrecAssignment or looser) while `a + b = c`
// is rejected with a compile error instead of silently doing the wrong
// thing.
//
// Error Handling:
//
// The compiler runs in panic/synchronize mode: the first error in a
// statement is recorded, further errors are suppressed until parsing
// reaches a statement boundary (`;` or the start of a new declaration
// keyword), then normal error reporting resumes. This lets one
// compilation surface multiple independent errors instead of stopping
// at the first.
package compiler

import (
	"fmt"

	"github.com/kristofer/loxvm/pkg/bytecode"
	"github.com/kristofer/loxvm/pkg/lexer"
)

// StringInterner is the host service the compiler uses to turn
// identifier/literal lexemes into interned string objects, so that
// equal-content strings compiled at different points share one heap
// cell (and so the VM's globals/field tables, keyed by string identity,
// work at all). The VM implements this.
type StringInterner interface {
	Intern(s string) *bytecode.ObjString
}

// Precedence levels, low to high, per the expression grammar's
// precedence table.
type precedence int

const (
	precNone       precedence = iota
	precAssignment            // =
	precOr                    // or
	precAnd                   // and
	precEquality              // == !=
	precComparison            // < > <= >=
	precTerm                  // + -
	precFactor                // * /
	precUnary                 // ! -
	precCall                  // . () []
	precPrimary
)

type parseFn func(c *Compiler, canAssign bool)

type parseRule struct {
	prefix     parseFn
	infix      parseFn
	precedence precedence
}

// local tracks one declared-but-possibly-not-yet-initialized local
// variable slot. depth == -1 means "declared but uninitialized": the
// name is in scope for shadowing-detection purposes but reading it is
// still a compile error (catches `var a = a;`).
type local struct {
	name       string
	depth      int
	isCaptured bool
}

// upvalueRef records how one upvalue was resolved: either it closes
// over a local slot in the immediately enclosing function (isLocal),
// or it forwards an upvalue the enclosing function already captured.
type upvalueRef struct {
	index   byte
	isLocal bool
}

// functionType distinguishes the few cases that need special slot-0 or
// return-statement handling.
type functionType int

const (
	typeFunction functionType = iota
	typeMethod
	typeInitializer
	typeScript
)

// funcState is one function's worth of compiler state: its locals,
// their scope depths, its resolved upvalues, and the function object
// bytecode is being emitted into. These form a linked stack via
// enclosing, one per lexically nested function/method.
type funcState struct {
	enclosing  *funcState
	function   *bytecode.ObjFunction
	kind       functionType
	locals     []local
	upvalues   []upvalueRef
	scopeDepth int
}

// classState tracks whether the class currently being compiled has a
// superclass in scope, for `super` resolution. Nested class
// declarations push a new classState; leaving the class body pops it.
type classState struct {
	enclosing     *classState
	hasSuperclass bool
}

// Compiler drives a single compilation: one token stream in, one
// top-level function (the "script") out.
type Compiler struct {
	lx       *lexer.Lexer
	current  lexer.Token
	previous lexer.Token

	hadError  bool
	panicMode bool
	errors    []string

	fn    *funcState
	class *classState

	interner StringInterner
}

// New creates a compiler over source, ready to produce the implicit
// top-level script function.
func New(source string, interner StringInterner) *Compiler {
	c := &Compiler{lx: lexer.New(source), interner: interner}
	c.fn = &funcState{function: bytecode.NewFunction(), kind: typeScript}
	// Slot 0 is reserved for the callee; it has no user-visible name at
	// the top level.
	c.fn.locals = append(c.fn.locals, local{name: "", depth: 0})
	return c
}

// Roots returns, via mark, every function object currently under
// construction across the nested-function compiler chain. The VM
// consults this while compiling so a GC triggered by string interning
// mid-compile doesn't collect a function (and its constant pool) before
// it's finished and reachable through normal means.
func (c *Compiler) Roots(mark func(bytecode.Obj)) {
	for fs := c.fn; fs != nil; fs = fs.enclosing {
		mark(fs.function)
	}
}

// Compile runs the compiler to completion, returning the top-level
// script function (always non-nil) and the accumulated error messages.
// Bytecode should not be executed if len(errors) > 0.
func (c *Compiler) Compile() (*bytecode.ObjFunction, []string) {
	c.advance()
	for !c.matchTok(lexer.TokenEOF) {
		c.declaration()
	}
	fn := c.endFunction()
	return fn, c.errors
}

// --- token stream plumbing -----------------------------------------------

func (c *Compiler) advance() {
	c.previous = c.current
	for {
		c.current = c.lx.NextToken()
		if c.current.Type != lexer.TokenError {
			break
		}
		c.errorAtCurrent(c.current.Lexeme)
	}
}

func (c *Compiler) check(t lexer.TokenType) bool { return c.current.Type == t }

func (c *Compiler) matchTok(t lexer.TokenType) bool {
	if !c.check(t) {
		return false
	}
	c.advance()
	return true
}

func (c *Compiler) consume(t lexer.TokenType, message string) {
	if c.current.Type == t {
		c.advance()
		return
	}
	c.errorAtCurrent(message)
}

func (c *Compiler) errorAtCurrent(message string) { c.errorAt(c.current, message) }
func (c *Compiler) errorAtPrevious(message string) { c.errorAt(c.previous, message) }

func (c *Compiler) errorAt(tok lexer.Token, message string) {
	if c.panicMode {
		return
	}
	c.panicMode = true
	c.hadError = true

	where := ""
	switch tok.Type {
	case lexer.TokenEOF:
		where = " at end"
	case lexer.TokenError:
		// lexeme already is the message
	default:
		where = fmt.Sprintf(" at '%s'", tok.Lexeme)
	}
	c.errors = append(c.errors, fmt.Sprintf("[line %d] Error%s: %s", tok.Line, where, message))
}

// synchronize discards tokens until it reaches a likely statement
// boundary, so one syntax error doesn't cascade into a wall of
// follow-on errors.
func (c *Compiler) synchronize() {
	c.panicMode = false
	for c.current.Type != lexer.TokenEOF {
		if c.previous.Type == lexer.TokenSemicolon {
			return
		}
		switch c.current.Type {
		case lexer.TokenClass, lexer.TokenFun, lexer.TokenVar, lexer.TokenFor,
			lexer.TokenIf, lexer.TokenWhile, lexer.TokenPrint, lexer.TokenReturn:
			return
		}
		c.advance()
	}
}

// --- chunk emission -------------------------------------------------------

func (c *Compiler) currentChunk() *bytecode.Chunk { return c.fn.function.Chunk }

func (c *Compiler) emitByte(b byte) {
	c.currentChunk().Write(b, c.previous.Line)
}

func (c *Compiler) emitOp(op bytecode.Opcode) { c.emitByte(byte(op)) }

func (c *Compiler) emitOpByte(op bytecode.Opcode, operand byte) {
	c.emitOp(op)
	c.emitByte(operand)
}

func (c *Compiler) emitLoop(loopStart int) {
	c.emitOp(bytecode.OpLoop)
	offset := len(c.currentChunk().Code) - loopStart + 2
	if offset > 0xFFFF {
		c.errorAtPrevious("loop body too large")
	}
	c.emitByte(byte(offset >> 8))
	c.emitByte(byte(offset & 0xFF))
}

// emitJump emits a jump instruction with a placeholder 16-bit operand
// and returns the offset of that placeholder, to be fixed up later by
// patchJump once the jump target is known.
func (c *Compiler) emitJump(instruction bytecode.Opcode) int {
	c.emitOp(instruction)
	c.emitByte(0xFF)
	c.emitByte(0xFF)
	return len(c.currentChunk().Code) - 2
}

func (c *Compiler) patchJump(offset int) {
	jump := len(c.currentChunk().Code) - offset - 2
	if jump > 0xFFFF {
		c.errorAtPrevious("too much code to jump over")
	}
	c.currentChunk().Code[offset] = byte(jump >> 8)
	c.currentChunk().Code[offset+1] = byte(jump & 0xFF)
}

func (c *Compiler) emitReturn() {
	if c.fn.kind == typeInitializer {
		// `init` always returns the instance (slot 0), even from a bare
		// `return;`.
		c.emitOpByte(bytecode.OpGetLocal, 0)
	} else {
		c.emitOp(bytecode.OpNil)
	}
	c.emitOp(bytecode.OpReturn)
}

func (c *Compiler) emitConstant(value bytecode.Value) {
	c.emitOpByte(bytecode.OpConstant, c.makeConstant(value))
}

func (c *Compiler) makeConstant(value bytecode.Value) byte {
	if c.currentChunk().ConstantCount() >= bytecode.MaxConstants {
		c.errorAtPrevious("too many constants in one chunk")
		return 0
	}
	return byte(c.currentChunk().AddConstant(value))
}

// endFunction emits the implicit trailing return and pops this
// function's compiler state, returning the finished function object.
func (c *Compiler) endFunction() *bytecode.ObjFunction {
	c.emitReturn()
	fn := c.fn.function
	fn.UpvalueCount = len(c.fn.upvalues)
	c.fn = c.fn.enclosing
	return fn
}

// --- scopes and locals -----------------------------------------------------

func (c *Compiler) beginScope() { c.fn.scopeDepth++ }

func (c *Compiler) endScope() {
	c.fn.scopeDepth--
	for len(c.fn.locals) > 0 && c.fn.locals[len(c.fn.locals)-1].depth > c.fn.scopeDepth {
		last := c.fn.locals[len(c.fn.locals)-1]
		if last.isCaptured {
			c.emitOp(bytecode.OpCloseUpvalue)
		} else {
			c.emitOp(bytecode.OpPop)
		}
		c.fn.locals = c.fn.locals[:len(c.fn.locals)-1]
	}
}

func (c *Compiler) identifierConstant(name string) byte {
	return c.makeConstant(bytecode.ObjVal(c.interner.Intern(name)))
}

func (c *Compiler) addLocal(name string) {
	if len(c.fn.locals) >= 256 {
		c.errorAtPrevious("too many local variables in function")
		return
	}
	c.fn.locals = append(c.fn.locals, local{name: name, depth: -1})
}

func (c *Compiler) declareVariable() {
	if c.fn.scopeDepth == 0 {
		return
	}
	name := c.previous.Lexeme
	for i := len(c.fn.locals) - 1; i >= 0; i-- {
		l := c.fn.locals[i]
		if l.depth != -1 && l.depth < c.fn.scopeDepth {
			break
		}
		if l.name == name {
			c.errorAtPrevious("already a variable with this name in this scope")
		}
	}
	c.addLocal(name)
}

func (c *Compiler) parseVariable(errorMessage string) byte {
	c.consume(lexer.TokenIdentifier, errorMessage)
	c.declareVariable()
	if c.fn.scopeDepth > 0 {
		return 0
	}
	return c.identifierConstant(c.previous.Lexeme)
}

func (c *Compiler) markInitialized() {
	if c.fn.scopeDepth == 0 {
		return
	}
	c.fn.locals[len(c.fn.locals)-1].depth = c.fn.scopeDepth
}

func (c *Compiler) defineVariable(global byte) {
	if c.fn.scopeDepth > 0 {
		c.markInitialized()
		return
	}
	c.emitOpByte(bytecode.OpDefineGlobal, global)
}

func resolveLocalIn(fs *funcState, name string) int {
	for i := len(fs.locals) - 1; i >= 0; i-- {
		if fs.locals[i].name == name {
			if fs.locals[i].depth == -1 {
				return -2 // sentinel: "used before initialized"
			}
			return i
		}
	}
	return -1
}

func (c *Compiler) resolveLocal(fs *funcState, name string) int {
	idx := resolveLocalIn(fs, name)
	if idx == -2 {
		c.errorAtPrevious("can't read local variable in its own initializer")
		return -1
	}
	return idx
}

func (c *Compiler) addUpvalue(fs *funcState, index byte, isLocal bool) int {
	for i, uv := range fs.upvalues {
		if uv.index == index && uv.isLocal == isLocal {
			return i
		}
	}
	if len(fs.upvalues) >= 256 {
		c.errorAtPrevious("too many closure variables in function")
		return 0
	}
	fs.upvalues = append(fs.upvalues, upvalueRef{index: index, isLocal: isLocal})
	return len(fs.upvalues) - 1
}

// resolveUpvalue recursively asks the enclosing function to resolve
// name either as one of its own locals (marking that local captured)
// or as one of its own upvalues, threading the capture path down to
// the current function one level at a time.
func (c *Compiler) resolveUpvalue(fs *funcState, name string) int {
	if fs.enclosing == nil {
		return -1
	}
	if local := c.resolveLocal(fs.enclosing, name); local != -1 {
		fs.enclosing.locals[local].isCaptured = true
		return c.addUpvalue(fs, byte(local), true)
	}
	if upvalue := c.resolveUpvalue(fs.enclosing, name); upvalue != -1 {
		return c.addUpvalue(fs, byte(upvalue), false)
	}
	return -1
}

// --- declarations and statements -------------------------------------------

func (c *Compiler) declaration() {
	switch {
	case c.matchTok(lexer.TokenClass):
		c.classDeclaration()
	case c.matchTok(lexer.TokenFun):
		c.funDeclaration()
	case c.matchTok(lexer.TokenVar):
		c.varDeclaration()
	default:
		c.statement()
	}
	if c.panicMode {
		c.synchronize()
	}
}

func (c *Compiler) classDeclaration() {
	c.consume(lexer.TokenIdentifier, "expect class name")
	className := c.previous.Lexeme
	nameConstant := c.identifierConstant(className)
	c.declareVariable()

	c.emitOpByte(bytecode.OpClass, nameConstant)
	c.defineVariable(nameConstant)

	cs := &classState{enclosing: c.class}
	c.class = cs

	if c.matchTok(lexer.TokenLess) {
		c.consume(lexer.TokenIdentifier, "expect superclass name")
		c.variable(false)
		if c.previous.Lexeme == className {
			c.errorAtPrevious("a class can't inherit from itself")
		}

		c.beginScope()
		c.addLocal("super")
		c.defineVariable(0)

		c.namedVariableByName(className, false)
		c.emitOp(bytecode.OpInherit)
		cs.hasSuperclass = true
	}

	c.namedVariableByName(className, false)
	c.consume(lexer.TokenLeftBrace, "expect '{' before class body")
	for !c.check(lexer.TokenRightBrace) && !c.check(lexer.TokenEOF) {
		c.method()
	}
	c.consume(lexer.TokenRightBrace, "expect '}' after class body")
	c.emitOp(bytecode.OpPop) // pop the class itself, pushed by namedVariableByName above

	if cs.hasSuperclass {
		c.endScope()
	}
	c.class = cs.enclosing
}

func (c *Compiler) method() {
	c.consume(lexer.TokenIdentifier, "expect method name")
	name := c.previous.Lexeme
	nameConstant := c.identifierConstant(name)

	kind := typeMethod
	if name == "init" {
		kind = typeInitializer
	}
	c.functionBody(kind)
	c.emitOpByte(bytecode.OpMethod, nameConstant)
}

func (c *Compiler) funDeclaration() {
	global := c.parseVariable("expect function name")
	c.markInitialized()
	c.functionBody(typeFunction)
	c.defineVariable(global)
}

func (c *Compiler) functionBody(kind functionType) {
	fs := &funcState{enclosing: c.fn, kind: kind, function: bytecode.NewFunction()}
	if kind != typeScript {
		fs.function.Name = c.interner.Intern(c.previous.Lexeme)
	}
	receiverName := ""
	if kind == typeMethod || kind == typeInitializer {
		receiverName = "this"
	}
	fs.locals = append(fs.locals, local{name: receiverName, depth: 0})
	c.fn = fs

	c.beginScope()
	c.consume(lexer.TokenLeftParen, "expect '(' after function name")
	if !c.check(lexer.TokenRightParen) {
		for {
			c.fn.function.Arity++
			if c.fn.function.Arity > 255 {
				c.errorAtCurrent("can't have more than 255 parameters")
			}
			paramConstant := c.parseVariable("expect parameter name")
			c.defineVariable(paramConstant)
			if !c.matchTok(lexer.TokenComma) {
				break
			}
		}
	}
	c.consume(lexer.TokenRightParen, "expect ')' after parameters")
	c.consume(lexer.TokenLeftBrace, "expect '{' before function body")
	c.block()

	fn := c.endFunction()
	upvalues := fs.upvalues

	c.emitOp(bytecode.OpClosure)
	c.emitByte(c.makeConstant(bytecode.ObjVal(fn)))
	for _, uv := range upvalues {
		if uv.isLocal {
			c.emitByte(1)
		} else {
			c.emitByte(0)
		}
		c.emitByte(uv.index)
	}
}

func (c *Compiler) varDeclaration() {
	global := c.parseVariable("expect variable name")
	if c.matchTok(lexer.TokenEqual) {
		c.expression()
	} else {
		c.emitOp(bytecode.OpNil)
	}
	c.consume(lexer.TokenSemicolon, "expect ';' after variable declaration")
	c.defineVariable(global)
}

func (c *Compiler) statement() {
	switch {
	case c.matchTok(lexer.TokenPrint):
		c.printStatement()
	case c.matchTok(lexer.TokenFor):
		c.forStatement()
	case c.matchTok(lexer.TokenIf):
		c.ifStatement()
	case c.matchTok(lexer.TokenReturn):
		c.returnStatement()
	case c.matchTok(lexer.TokenWhile):
		c.whileStatement()
	case c.matchTok(lexer.TokenLeftBrace):
		c.beginScope()
		c.block()
		c.endScope()
	default:
		c.expressionStatement()
	}
}

func (c *Compiler) printStatement() {
	c.expression()
	c.consume(lexer.TokenSemicolon, "expect ';' after value")
	c.emitOp(bytecode.OpPrint)
}

func (c *Compiler) returnStatement() {
	if c.fn.kind == typeScript {
		c.errorAtPrevious("can't return from top-level code")
	}
	if c.matchTok(lexer.TokenSemicolon) {
		c.emitReturn()
		return
	}
	if c.fn.kind == typeInitializer {
		c.errorAtPrevious("can't return a value from an initializer")
	}
	c.expression()
	c.consume(lexer.TokenSemicolon, "expect ';' after return value")
	c.emitOp(bytecode.OpReturn)
}

func (c *Compiler) ifStatement() {
	c.consume(lexer.TokenLeftParen, "expect '(' after 'if'")
	c.expression()
	c.consume(lexer.TokenRightParen, "expect ')' after condition")

	thenJump := c.emitJump(bytecode.OpJumpIfFalse)
	c.emitOp(bytecode.OpPop)
	c.statement()

	elseJump := c.emitJump(bytecode.OpJump)
	c.patchJump(thenJump)
	c.emitOp(bytecode.OpPop)

	if c.matchTok(lexer.TokenElse) {
		c.statement()
	}
	c.patchJump(elseJump)
}

func (c *Compiler) whileStatement() {
	loopStart := len(c.currentChunk().Code)
	c.consume(lexer.TokenLeftParen, "expect '(' after 'while'")
	c.expression()
	c.consume(lexer.TokenRightParen, "expect ')' after condition")

	exitJump := c.emitJump(bytecode.OpJumpIfFalse)
	c.emitOp(bytecode.OpPop)
	c.statement()
	c.emitLoop(loopStart)

	c.patchJump(exitJump)
	c.emitOp(bytecode.OpPop)
}

func (c *Compiler) forStatement() {
	c.beginScope()
	c.consume(lexer.TokenLeftParen, "expect '(' after 'for'")
	switch {
	case c.matchTok(lexer.TokenSemicolon):
		// no initializer
	case c.matchTok(lexer.TokenVar):
		c.varDeclaration()
	default:
		c.expressionStatement()
	}

	loopStart := len(c.currentChunk().Code)
	exitJump := -1
	if !c.matchTok(lexer.TokenSemicolon) {
		c.expression()
		c.consume(lexer.TokenSemicolon, "expect ';' after loop condition")
		exitJump = c.emitJump(bytecode.OpJumpIfFalse)
		c.emitOp(bytecode.OpPop)
	}

	if !c.matchTok(lexer.TokenRightParen) {
		bodyJump := c.emitJump(bytecode.OpJump)
		incrementStart := len(c.currentChunk().Code)
		c.expression()
		c.emitOp(bytecode.OpPop)
		c.consume(lexer.TokenRightParen, "expect ')' after for clauses")

		c.emitLoop(loopStart)
		loopStart = incrementStart
		c.patchJump(bodyJump)
	}

	c.statement()
	c.emitLoop(loopStart)

	if exitJump != -1 {
		c.patchJump(exitJump)
		c.emitOp(bytecode.OpPop)
	}
	c.endScope()
}

func (c *Compiler) expressionStatement() {
	c.expression()
	c.consume(lexer.TokenSemicolon, "expect ';' after expression")
	c.emitOp(bytecode.OpPop)
}

func (c *Compiler) block() {
	for !c.check(lexer.TokenRightBrace) && !c.check(lexer.TokenEOF) {
		c.declaration()
	}
	c.consume(lexer.TokenRightBrace, "expect '}' after block")
}

// --- expressions ------------------------------------------------------------

func (c *Compiler) expression() { c.parsePrecedence(precAssignment) }

func (c *Compiler) parsePrecedence(prec precedence) {
	c.advance()
	rule := getRule(c.previous.Type)
	if rule.prefix == nil {
		c.errorAtPrevious("expect expression")
		return
	}
	canAssign := prec <= precAssignment
	rule.prefix(c, canAssign)

	for prec <= getRule(c.current.Type).precedence {
		c.advance()
		infix := getRule(c.previous.Type).infix
		infix(c, canAssign)
	}

	if canAssign && c.matchTok(lexer.TokenEqual) {
		c.errorAtPrevious("invalid assignment target")
	}
}

func (c *Compiler) number(canAssign bool) {
	var n float64
	fmt.Sscanf(c.previous.Lexeme, "%g", &n)
	c.emitConstant(bytecode.NumberVal(n))
}

func (c *Compiler) stringLiteral(canAssign bool) {
	c.emitConstant(bytecode.ObjVal(c.interner.Intern(c.previous.Lexeme)))
}

func (c *Compiler) literal(canAssign bool) {
	switch c.previous.Type {
	case lexer.TokenFalse:
		c.emitOp(bytecode.OpFalse)
	case lexer.TokenTrue:
		c.emitOp(bytecode.OpTrue)
	case lexer.TokenNil:
		c.emitOp(bytecode.OpNil)
	}
}

func (c *Compiler) grouping(canAssign bool) {
	c.expression()
	c.consume(lexer.TokenRightParen, "expect ')' after expression")
}

func (c *Compiler) listLiteral(canAssign bool) {
	count := 0
	if !c.check(lexer.TokenRightBracket) {
		for {
			c.expression()
			count++
			if count > 0xFFFF {
				c.errorAtPrevious("too many list elements")
			}
			if !c.matchTok(lexer.TokenComma) {
				break
			}
		}
	}
	c.consume(lexer.TokenRightBracket, "expect ']' after list elements")
	c.emitOp(bytecode.OpBuildList)
	c.emitByte(byte(count >> 8))
	c.emitByte(byte(count & 0xFF))
}

func (c *Compiler) subscript(canAssign bool) {
	c.expression()
	c.consume(lexer.TokenRightBracket, "expect ']' after index")
	if canAssign && c.matchTok(lexer.TokenEqual) {
		c.expression()
		c.emitOp(bytecode.OpStoreSubscr)
	} else {
		c.emitOp(bytecode.OpIndexSubscr)
	}
}

func (c *Compiler) unary(canAssign bool) {
	opType := c.previous.Type
	c.parsePrecedence(precUnary)
	switch opType {
	case lexer.TokenBang:
		c.emitOp(bytecode.OpNot)
	case lexer.TokenMinus:
		c.emitOp(bytecode.OpNegate)
	}
}

func (c *Compiler) binary(canAssign bool) {
	opType := c.previous.Type
	rule := getRule(opType)
	c.parsePrecedence(rule.precedence + 1)

	switch opType {
	case lexer.TokenBangEqual:
		c.emitOp(bytecode.OpEqual)
		c.emitOp(bytecode.OpNot)
	case lexer.TokenEqualEqual:
		c.emitOp(bytecode.OpEqual)
	case lexer.TokenGreater:
		c.emitOp(bytecode.OpGreater)
	case lexer.TokenGreaterEqual:
		c.emitOp(bytecode.OpLess)
		c.emitOp(bytecode.OpNot)
	case lexer.TokenLess:
		c.emitOp(bytecode.OpLess)
	case lexer.TokenLessEqual:
		c.emitOp(bytecode.OpGreater)
		c.emitOp(bytecode.OpNot)
	case lexer.TokenPlus:
		c.emitOp(bytecode.OpAdd)
	case lexer.TokenMinus:
		c.emitOp(bytecode.OpSubtract)
	case lexer.TokenStar:
		c.emitOp(bytecode.OpMultiply)
	case lexer.TokenSlash:
		c.emitOp(bytecode.OpDivide)
	}
}

func (c *Compiler) and_(canAssign bool) {
	endJump := c.emitJump(bytecode.OpJumpIfFalse)
	c.emitOp(bytecode.OpPop)
	c.parsePrecedence(precAnd)
	c.patchJump(endJump)
}

func (c *Compiler) or_(canAssign bool) {
	elseJump := c.emitJump(bytecode.OpJumpIfFalse)
	endJump := c.emitJump(bytecode.OpJump)
	c.patchJump(elseJump)
	c.emitOp(bytecode.OpPop)
	c.parsePrecedence(precOr)
	c.patchJump(endJump)
}

func (c *Compiler) call(canAssign bool) {
	argCount := c.argumentList()
	c.emitOpByte(bytecode.OpCall, argCount)
}

func (c *Compiler) argumentList() byte {
	count := 0
	if !c.check(lexer.TokenRightParen) {
		for {
			c.expression()
			if count == 255 {
				c.errorAtPrevious("can't have more than 255 arguments")
			}
			count++
			if !c.matchTok(lexer.TokenComma) {
				break
			}
		}
	}
	c.consume(lexer.TokenRightParen, "expect ')' after arguments")
	return byte(count)
}

func (c *Compiler) dot(canAssign bool) {
	c.consume(lexer.TokenIdentifier, "expect property name after '.'")
	name := c.previous.Lexeme
	nameConstant := c.identifierConstant(name)

	switch {
	case canAssign && c.matchTok(lexer.TokenEqual):
		c.expression()
		c.emitOpByte(bytecode.OpSetProperty, nameConstant)
	case c.matchTok(lexer.TokenLeftParen):
		argCount := c.argumentList()
		c.emitOp(bytecode.OpInvoke)
		c.emitByte(nameConstant)
		c.emitByte(argCount)
	default:
		c.emitOpByte(bytecode.OpGetProperty, nameConstant)
	}
}

func (c *Compiler) this_(canAssign bool) {
	if c.class == nil {
		c.errorAtPrevious("can't use 'this' outside of a class")
		return
	}
	c.variable(false)
}

func (c *Compiler) super_(canAssign bool) {
	if c.class == nil {
		c.errorAtPrevious("can't use 'super' outside of a class")
	} else if !c.class.hasSuperclass {
		c.errorAtPrevious("can't use 'super' in a class with no superclass")
	}

	c.consume(lexer.TokenDot, "expect '.' after 'super'")
	c.consume(lexer.TokenIdentifier, "expect superclass method name")
	name := c.identifierConstant(c.previous.Lexeme)

	c.namedVariableByName("this", false)
	if c.matchTok(lexer.TokenLeftParen) {
		argCount := c.argumentList()
		c.namedVariableByName("super", false)
		c.emitOp(bytecode.OpSuperInvoke)
		c.emitByte(name)
		c.emitByte(argCount)
	} else {
		c.namedVariableByName("super", false)
		c.emitOpByte(bytecode.OpGetSuper, name)
	}
}

func (c *Compiler) variable(canAssign bool) {
	c.namedVariable(c.previous, canAssign)
}

func (c *Compiler) namedVariable(name lexer.Token, canAssign bool) {
	var getOp, setOp bytecode.Opcode
	arg := c.resolveLocal(c.fn, name.Lexeme)
	if arg != -1 {
		getOp, setOp = bytecode.OpGetLocal, bytecode.OpSetLocal
	} else if up := c.resolveUpvalue(c.fn, name.Lexeme); up != -1 {
		arg = up
		getOp, setOp = bytecode.OpGetUpvalue, bytecode.OpSetUpvalue
	} else {
		arg = int(c.identifierConstant(name.Lexeme))
		getOp, setOp = bytecode.OpGetGlobal, bytecode.OpSetGlobal
	}

	if canAssign && c.matchTok(lexer.TokenEqual) {
		c.expression()
		c.emitOpByte(setOp, byte(arg))
	} else {
		c.emitOpByte(getOp, byte(arg))
	}
}

// namedVariableByName is namedVariable for synthetic tokens the
// compiler generates itself (`this`, `super`, and the class name
// re-read after the class body), which have no real source lexeme to
// hand to resolveLocal/resolveUpvalue except the literal string.
func (c *Compiler) namedVariableByName(name string, canAssign bool) {
	c.namedVariable(lexer.Token{Type: lexer.TokenIdentifier, Lexeme: name, Line: c.previous.Line}, canAssign)
}

// --- precedence table -------------------------------------------------------

var rules map[lexer.TokenType]parseRule

func init() {
	rules = map[lexer.TokenType]parseRule{
		lexer.TokenLeftParen:    {prefix: (*Compiler).grouping, infix: (*Compiler).call, precedence: precCall},
		lexer.TokenDot:          {infix: (*Compiler).dot, precedence: precCall},
		lexer.TokenLeftBracket:  {prefix: (*Compiler).listLiteral, infix: (*Compiler).subscript, precedence: precCall},
		lexer.TokenMinus:        {prefix: (*Compiler).unary, infix: (*Compiler).binary, precedence: precTerm},
		lexer.TokenPlus:         {infix: (*Compiler).binary, precedence: precTerm},
		lexer.TokenSlash:        {infix: (*Compiler).binary, precedence: precFactor},
		lexer.TokenStar:         {infix: (*Compiler).binary, precedence: precFactor},
		lexer.TokenBang:         {prefix: (*Compiler).unary},
		lexer.TokenBangEqual:    {infix: (*Compiler).binary, precedence: precEquality},
		lexer.TokenEqualEqual:   {infix: (*Compiler).binary, precedence: precEquality},
		lexer.TokenGreater:      {infix: (*Compiler).binary, precedence: precComparison},
		lexer.TokenGreaterEqual: {infix: (*Compiler).binary, precedence: precComparison},
		lexer.TokenLess:         {infix: (*Compiler).binary, precedence: precComparison},
		lexer.TokenLessEqual:    {infix: (*Compiler).binary, precedence: precComparison},
		lexer.TokenIdentifier:   {prefix: (*Compiler).variable},
		lexer.TokenString:       {prefix: (*Compiler).stringLiteral},
		lexer.TokenNumber:       {prefix: (*Compiler).number},
		lexer.TokenAnd:          {infix: (*Compiler).and_, precedence: precAnd},
		lexer.TokenOr:           {infix: (*Compiler).or_, precedence: precOr},
		lexer.TokenFalse:        {prefix: (*Compiler).literal},
		lexer.TokenTrue:         {prefix: (*Compiler).literal},
		lexer.TokenNil:          {prefix: (*Compiler).literal},
		lexer.TokenThis:         {prefix: (*Compiler).this_},
		lexer.TokenSuper:        {prefix: (*Compiler).super_},
	}
}

func getRule(t lexer.TokenType) parseRule {
	return rules[t]
}
