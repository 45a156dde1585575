// Package compiler implements a single-pass Pratt-parsing compiler: it
// scans tokens, resolves locals/upvalues/globals, and emits bytecode in
// the same walk, with no intermediate AST.
//
// A Compiler drives advance/consume/match over a Scanner and emits
// directly into a Chunk, with Pratt precedence climbing in
// parsePrecedence, recursive-descent declaration/statement/expression
// dispatch, and panic-mode error recovery via synchronize.
package compiler

import (
	"fmt"
	"io"

	"github.com/kristofer/cloxgo/pkg/chunk"
	"github.com/kristofer/cloxgo/pkg/gc"
	"github.com/kristofer/cloxgo/pkg/globals"
	"github.com/kristofer/cloxgo/pkg/lexer"
	"github.com/kristofer/cloxgo/pkg/value"
)

const maxLocals = 256
const maxUpvalues = 256
const maxConstants = 256
const maxParams = 255

// varState is the compile-time write-legality of a local slot, the local
// analogue of pkg/globals.State: Uninitialized transitions to either
// Readable (constant) or Writeable once its initializer compiles.
type varState uint8

const (
	stateUninitialized varState = iota
	stateReadable
	stateWriteable
)

// local is one entry of a funcScope's compile-time local-variable array.
type local struct {
	name       string
	depth      int // -1 while being declared, before its initializer runs
	isCaptured bool
	state      varState
}

// upvalueRef is one entry of a funcScope's upvalue table.
type upvalueRef struct {
	index   int
	isLocal bool
}

// funcScope is one compilation context: the in-progress ObjFunction, its
// locals and upvalues, and a link to the enclosing context.
type funcScope struct {
	enclosing *funcScope
	function  *value.ObjFunction
	chunk     *chunk.Chunk
	funcType  FunctionType

	locals     []local
	scopeDepth int
	upvalues   []upvalueRef

	// lastDeclaredName is the name the enclosing declaration is about to
	// bind this function/method to, stashed just before function() is
	// called so the freshly allocated ObjFunction can carry a Name for
	// stack traces and disassembly.
	lastDeclaredName string
}

// classScope is one class compilation context: whether the class being
// compiled has a superclass (so `super` resolves), linked to an
// enclosing class for nested class declarations.
type classScope struct {
	enclosing     *classScope
	hasSuperclass bool
}

// Compiler drives one compilation of a chunk of source against a shared
// heap and globals store. It implements gc.RootProvider for the duration
// of Compile, so any in-progress function object stays reachable if an
// allocation it performs (e.g. interning a string constant) triggers a
// collection before the function is attached to anything else.
type Compiler struct {
	scanner *lexer.Scanner
	heap    *gc.Heap
	globals *globals.Store
	errOut  io.Writer

	previous lexer.Token
	current  lexer.Token

	hadError  bool
	panicMode bool

	fn    *funcScope
	class *classScope

	// declaringGlobalSlot, while >= 0, is the slot of the global variable
	// whose initializer is currently being compiled; namedVariable uses it
	// to reject `var a = a;`-style self-reference, since reading a global
	// in Uninitialized state from its own initializer is a compile error
	// just as it is for locals.
	declaringGlobalSlot int
}

// Compile compiles source into a top-level script function, or returns
// nil if any compile error was recorded.
func Compile(source []byte, heap *gc.Heap, globalStore *globals.Store, errOut io.Writer) *value.ObjFunction {
	c := &Compiler{
		scanner:             lexer.New(source),
		heap:                heap,
		globals:             globalStore,
		errOut:              errOut,
		declaringGlobalSlot: -1,
	}
	heap.Register(c)
	defer heap.Unregister(c)

	c.fn = newFuncScope(nil, heap.NewFunction(), TypeScript)

	c.advance()
	for !c.match(lexer.TokenEOF) {
		c.declaration()
	}
	fn := c.endCompiler()

	if c.hadError {
		return nil
	}
	return fn
}

func newFuncScope(enclosing *funcScope, fn *value.ObjFunction, t FunctionType) *funcScope {
	ck := chunk.New()
	fn.Chunk = ck
	fs := &funcScope{enclosing: enclosing, function: fn, chunk: ck, funcType: t}
	// Slot 0 is reserved for the receiver (methods/initializers) or is an
	// unnamed placeholder for plain functions and the top-level script.
	name := ""
	if t == TypeMethod || t == TypeInitializer {
		name = "this"
	}
	fs.locals = append(fs.locals, local{name: name, depth: 0, state: stateReadable})
	return fs
}

// MarkRoots implements gc.RootProvider: every function-in-progress along
// the enclosing-funcScope chain.
func (c *Compiler) MarkRoots(h *gc.Heap) {
	for fs := c.fn; fs != nil; fs = fs.enclosing {
		h.MarkObject(fs.function)
	}
}

func (c *Compiler) HandleWeak(h *gc.Heap) {}

// ---- token stream -------------------------------------------------------

func (c *Compiler) advance() {
	c.previous = c.current
	for {
		c.current = c.scanner.Scan()
		if c.current.Type != lexer.TokenError {
			break
		}
		c.errorAtCurrent(c.scanner.Lexeme(c.current))
	}
}

func (c *Compiler) check(t lexer.TokenType) bool { return c.current.Type == t }

func (c *Compiler) match(t lexer.TokenType) bool {
	if !c.check(t) {
		return false
	}
	c.advance()
	return true
}

func (c *Compiler) consume(t lexer.TokenType, msg string) {
	if c.current.Type == t {
		c.advance()
		return
	}
	c.errorAtCurrent(msg)
}

func (c *Compiler) lexeme(t lexer.Token) string { return c.scanner.Lexeme(t) }

// ---- error reporting -----------------------------------------------------

func (c *Compiler) errorAtCurrent(msg string) { c.errorAt(c.current, msg) }
func (c *Compiler) error(msg string)          { c.errorAt(c.previous, msg) }

func (c *Compiler) errorAt(tok lexer.Token, msg string) {
	if c.panicMode {
		return
	}
	c.panicMode = true
	c.hadError = true

	where := " at '" + c.lexeme(tok) + "'"
	if tok.Type == lexer.TokenEOF {
		where = " at end"
	} else if tok.Type == lexer.TokenError {
		where = ""
	}
	fmt.Fprintf(c.errOut, "[line %d] Error%s: %s\n", tok.Line, where, msg)
}

// synchronize discards tokens until a likely statement boundary, the
// panic-mode recovery step after a parse error.
func (c *Compiler) synchronize() {
	c.panicMode = false
	for c.current.Type != lexer.TokenEOF {
		if c.previous.Type == lexer.TokenSemicolon {
			return
		}
		switch c.current.Type {
		case lexer.TokenClass, lexer.TokenFun, lexer.TokenVar, lexer.TokenConst,
			lexer.TokenFor, lexer.TokenIf, lexer.TokenWhile, lexer.TokenPrint, lexer.TokenReturn:
			return
		}
		c.advance()
	}
}

// ---- emission ------------------------------------------------------------

func (c *Compiler) emitByte(b byte)         { c.fn.chunk.WriteByte(b, c.previous.Line) }
func (c *Compiler) emitOp(op chunk.OpCode)  { c.fn.chunk.WriteOp(op, c.previous.Line) }
func (c *Compiler) emitOpByte(op chunk.OpCode, b byte) {
	c.emitOp(op)
	c.emitByte(b)
}

func (c *Compiler) makeConstant(v value.Value) byte {
	idx := c.fn.chunk.AddConstant(v)
	if idx > maxConstants-1 {
		c.error("Too many constants in one chunk.")
		return 0
	}
	return byte(idx)
}

func (c *Compiler) emitConstant(v value.Value) {
	c.emitOpByte(chunk.OpConstant, c.makeConstant(v))
}

// emitJump writes op plus a two-byte placeholder operand, returning the
// placeholder's offset for patchJump to fill in later.
func (c *Compiler) emitJump(op chunk.OpCode) int {
	c.emitOp(op)
	c.emitByte(0xff)
	c.emitByte(0xff)
	return len(c.fn.chunk.Code) - 2
}

func (c *Compiler) patchJump(offset int) {
	jump := len(c.fn.chunk.Code) - offset - 2
	if jump > 0xFFFF {
		c.error("Too much code to jump over.")
		return
	}
	c.fn.chunk.Code[offset] = byte(jump >> 8)
	c.fn.chunk.Code[offset+1] = byte(jump & 0xff)
}

func (c *Compiler) emitLoop(loopStart int) {
	c.emitOp(chunk.OpLoop)
	offset := len(c.fn.chunk.Code) - loopStart + 2
	if offset > 0xFFFF {
		c.error("Loop body too large.")
	}
	c.emitByte(byte(offset >> 8))
	c.emitByte(byte(offset & 0xff))
}

func (c *Compiler) emitReturn() {
	if c.fn.funcType == TypeInitializer {
		c.emitOpByte(chunk.OpGetLocal, 0)
	} else {
		c.emitOp(chunk.OpNil)
	}
	c.emitOp(chunk.OpReturn)
}

func (c *Compiler) endCompiler() *value.ObjFunction {
	c.emitReturn()
	fn := c.fn.function
	c.fn = c.fn.enclosing
	return fn
}

// ---- scopes & locals -------------------------------------------------------

func (c *Compiler) beginScope() { c.fn.scopeDepth++ }

func (c *Compiler) endScope() {
	c.fn.scopeDepth--
	for len(c.fn.locals) > 0 && c.fn.locals[len(c.fn.locals)-1].depth > c.fn.scopeDepth {
		last := c.fn.locals[len(c.fn.locals)-1]
		if last.isCaptured {
			c.emitOp(chunk.OpCloseUpvalue)
		} else {
			c.emitOp(chunk.OpPop)
		}
		c.fn.locals = c.fn.locals[:len(c.fn.locals)-1]
	}
}

func (c *Compiler) identifiersEqual(a, b string) bool { return a == b }

// declareVariable registers the current token (already consumed as an
// identifier) as a new local in the current scope, after checking for a
// duplicate declaration in the same block. At global scope this is a
// no-op: globals live in the shared Store, not the locals array.
func (c *Compiler) declareVariable(name lexer.Token, writeable bool) {
	if c.fn.scopeDepth == 0 {
		return
	}
	text := c.lexeme(name)
	for i := len(c.fn.locals) - 1; i >= 0; i-- {
		l := c.fn.locals[i]
		if l.depth != -1 && l.depth < c.fn.scopeDepth {
			break
		}
		if c.identifiersEqual(l.name, text) {
			c.error("Already a variable with this name in this scope.")
		}
	}
	c.addLocal(text)
}

func (c *Compiler) addLocal(name string) {
	if len(c.fn.locals) >= maxLocals {
		c.error("Too many local variables in function.")
		return
	}
	c.fn.locals = append(c.fn.locals, local{name: name, depth: -1, state: stateUninitialized})
}

// markLocalInitialized finalizes the most recently declared local: its
// depth becomes the current scope (ending the "being declared" sentinel
// window) and its const/var state is fixed.
func (c *Compiler) markLocalInitialized(writeable bool) {
	if c.fn.scopeDepth == 0 {
		return
	}
	l := &c.fn.locals[len(c.fn.locals)-1]
	l.depth = c.fn.scopeDepth
	if writeable {
		l.state = stateWriteable
	} else {
		l.state = stateReadable
	}
}

// resolveLocal looks up name in fs's locals, innermost first. A hit whose
// depth is still -1 is the variable's own initializer referencing itself,
// a compile error.
func (c *Compiler) resolveLocal(fs *funcScope, name string) int {
	for i := len(fs.locals) - 1; i >= 0; i-- {
		if c.identifiersEqual(fs.locals[i].name, name) {
			if fs.locals[i].depth == -1 {
				c.error("Can't read local variable in its own initializer.")
			}
			return i
		}
	}
	return -1
}

// resolveUpvalue tries a local in the enclosing context first (capturing
// it), else recurses for an upvalue one level further out.
func (c *Compiler) resolveUpvalue(fs *funcScope, name string) int {
	if fs.enclosing == nil {
		return -1
	}
	if local := c.resolveLocal(fs.enclosing, name); local != -1 {
		fs.enclosing.locals[local].isCaptured = true
		return c.addUpvalue(fs, local, true)
	}
	if up := c.resolveUpvalue(fs.enclosing, name); up != -1 {
		return c.addUpvalue(fs, up, false)
	}
	return -1
}

// declareGlobal interns name and returns its global slot, assigning a new
// one if the name has never been declared. The store's capacity is fixed,
// so running out of slots is a compile error rather than a panic at
// definition time.
func (c *Compiler) declareGlobal(name string) int {
	s := c.heap.CopyString([]byte(name))
	if slot, ok := c.globals.Slot(s); ok {
		return slot
	}
	if c.globals.Count >= globals.MaxGlobals {
		c.error("Too many global variables.")
		return 0
	}
	return c.globals.Declare(s)
}

func (c *Compiler) addUpvalue(fs *funcScope, index int, isLocal bool) int {
	for i, uv := range fs.upvalues {
		if uv.index == index && uv.isLocal == isLocal {
			return i
		}
	}
	if len(fs.upvalues) >= maxUpvalues {
		c.error("Too many closure variables in function.")
		return 0
	}
	fs.upvalues = append(fs.upvalues, upvalueRef{index: index, isLocal: isLocal})
	fs.function.UpvalueCount = len(fs.upvalues)
	return len(fs.upvalues) - 1
}
