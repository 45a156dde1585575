package compiler

import (
	"github.com/kristofer/cloxgo/pkg/chunk"
	"github.com/kristofer/cloxgo/pkg/lexer"
	"github.com/kristofer/cloxgo/pkg/value"
)

// declaration parses one top-of-block declaration and recovers via
// synchronize if it contained a compile error.
func (c *Compiler) declaration() {
	switch {
	case c.match(lexer.TokenClass):
		c.classDeclaration()
	case c.match(lexer.TokenFun):
		c.funDeclaration()
	case c.match(lexer.TokenVar):
		c.varDeclaration(true)
	case c.match(lexer.TokenConst):
		c.varDeclaration(false)
	default:
		c.statement()
	}

	if c.panicMode {
		c.synchronize()
	}
}

func (c *Compiler) statement() {
	switch {
	case c.match(lexer.TokenPrint):
		c.printStatement()
	case c.match(lexer.TokenIf):
		c.ifStatement()
	case c.match(lexer.TokenWhile):
		c.whileStatement()
	case c.match(lexer.TokenFor):
		c.forStatement()
	case c.match(lexer.TokenReturn):
		c.returnStatement()
	case c.match(lexer.TokenLeftBrace):
		c.beginScope()
		c.block()
		c.endScope()
	default:
		c.expressionStatement()
	}
}

func (c *Compiler) block() {
	for !c.check(lexer.TokenRightBrace) && !c.check(lexer.TokenEOF) {
		c.declaration()
	}
	c.consume(lexer.TokenRightBrace, "Expect '}' after block.")
}

func (c *Compiler) printStatement() {
	c.expression()
	c.consume(lexer.TokenSemicolon, "Expect ';' after value.")
	c.emitOp(chunk.OpPrint)
}

func (c *Compiler) expressionStatement() {
	c.expression()
	c.consume(lexer.TokenSemicolon, "Expect ';' after expression.")
	c.emitOp(chunk.OpPop)
}

func (c *Compiler) ifStatement() {
	c.consume(lexer.TokenLeftParen, "Expect '(' after 'if'.")
	c.expression()
	c.consume(lexer.TokenRightParen, "Expect ')' after condition.")

	thenJump := c.emitJump(chunk.OpJumpIfFalse)
	c.emitOp(chunk.OpPop)
	c.statement()

	elseJump := c.emitJump(chunk.OpJump)
	c.patchJump(thenJump)
	c.emitOp(chunk.OpPop)

	if c.match(lexer.TokenElse) {
		c.statement()
	}
	c.patchJump(elseJump)
}

func (c *Compiler) whileStatement() {
	loopStart := len(c.fn.chunk.Code)
	c.consume(lexer.TokenLeftParen, "Expect '(' after 'while'.")
	c.expression()
	c.consume(lexer.TokenRightParen, "Expect ')' after condition.")

	exitJump := c.emitJump(chunk.OpJumpIfFalse)
	c.emitOp(chunk.OpPop)
	c.statement()
	c.emitLoop(loopStart)

	c.patchJump(exitJump)
	c.emitOp(chunk.OpPop)
}

// forStatement desugars `for (init; cond; incr) body`. Parsing is single
// pass, so the increment clause's tokens are compiled where they're
// read — right after the condition, ahead of the body — and reached only
// by jumping over them on the way into the body; the body then LOOPs
// back to that code so it still runs last each iteration, with the
// condition test (and not the increment) as the loop's physical top.
//
// To realize the per-iteration binding semantics of scenario 3 (a
// closure created inside the body must see that iteration's value of
// the loop variable, not a single slot later mutated out from under it),
// a `var`-declared loop variable gets a fresh copy local, shadowing the
// outer one, that is declared before the increment clause is compiled
// (so both the body and the increment resolve the loop variable's name
// to the copy). The copy is taken fresh every iteration right after the
// condition check. Its scope closes at the end of the body, closing over
// it for any closure the body created this pass; the increment then runs
// on the copy's stack slot (the top of the stack at that point) and its
// result is written back to the outer slot, which the next iteration's
// condition test reads.
func (c *Compiler) forStatement() {
	c.beginScope()
	c.consume(lexer.TokenLeftParen, "Expect '(' after 'for'.")

	outerSlot := -1
	var loopVarName string
	switch {
	case c.match(lexer.TokenSemicolon):
		// no initializer
	case c.match(lexer.TokenVar):
		loopVarName = c.lexeme(c.current)
		c.varDeclaration(true)
		outerSlot = len(c.fn.locals) - 1
	default:
		c.expressionStatement()
	}

	loopStart := len(c.fn.chunk.Code)
	exitJump := -1
	if !c.check(lexer.TokenSemicolon) {
		c.expression()
		c.consume(lexer.TokenSemicolon, "Expect ';' after loop condition.")
		exitJump = c.emitJump(chunk.OpJumpIfFalse)
		c.emitOp(chunk.OpPop)
	} else {
		c.consume(lexer.TokenSemicolon, "Expect ';' after loop condition.")
	}

	// Fresh per-iteration copy of the loop variable, shadowing outerSlot
	// until its scope ends after the body (body and increment both see it).
	hasFreshCopy := outerSlot != -1
	innerSlot := -1
	if hasFreshCopy {
		c.beginScope()
		c.emitOpByte(chunk.OpGetLocal, byte(outerSlot))
		c.addLocal(loopVarName)
		c.markLocalInitialized(true)
		innerSlot = len(c.fn.locals) - 1
	}

	writeback := func() {
		if hasFreshCopy {
			c.emitOpByte(chunk.OpGetLocal, byte(innerSlot))
			c.emitOpByte(chunk.OpSetLocal, byte(outerSlot))
			c.emitOp(chunk.OpPop)
		}
	}

	hasIncr := !c.check(lexer.TokenRightParen)
	if hasIncr {
		bodyJump := c.emitJump(chunk.OpJump)
		incrStart := len(c.fn.chunk.Code)
		c.expression()
		c.emitOp(chunk.OpPop)
		c.consume(lexer.TokenRightParen, "Expect ')' after for clauses.")
		writeback()

		c.emitLoop(loopStart)
		loopStart = incrStart
		c.patchJump(bodyJump)
	} else {
		c.consume(lexer.TokenRightParen, "Expect ')' after for clauses.")
	}

	c.statement()

	// No increment clause means the region above was never emitted, so
	// the writeback has to happen here instead, still inside the fresh
	// copy's scope, after the body has had its chance to mutate it.
	if !hasIncr {
		writeback()
	}

	if hasFreshCopy {
		c.endScope()
	}

	c.emitLoop(loopStart)
	if exitJump != -1 {
		c.patchJump(exitJump)
		c.emitOp(chunk.OpPop)
	}

	c.endScope()
}

func (c *Compiler) returnStatement() {
	if c.fn.funcType == TypeScript {
		c.error("Can't return from top-level code.")
	}
	if c.match(lexer.TokenSemicolon) {
		c.emitReturn()
		return
	}
	if c.fn.funcType == TypeInitializer {
		c.error("Can't return a value from an initializer.")
	}
	c.expression()
	c.consume(lexer.TokenSemicolon, "Expect ';' after return value.")
	c.emitOp(chunk.OpReturn)
}

// varDeclaration parses `var name [= expr];` (writeable=true) or
// `const name [= expr];` (writeable=false), handling both local and
// global scope. See declaringGlobalSlot's doc comment for the global
// self-initializer guard.
func (c *Compiler) varDeclaration(writeable bool) {
	c.consume(lexer.TokenIdentifier, "Expect variable name.")
	nameTok := c.previous

	isGlobal := c.fn.scopeDepth == 0
	var globalSlot int
	if isGlobal {
		globalSlot = c.declareGlobal(c.lexeme(nameTok))
		prevDeclaring := c.declaringGlobalSlot
		c.declaringGlobalSlot = globalSlot
		defer func() { c.declaringGlobalSlot = prevDeclaring }()
	} else {
		c.declareVariable(nameTok, writeable)
	}

	if c.match(lexer.TokenEqual) {
		c.expression()
	} else {
		c.emitOp(chunk.OpNil)
	}
	c.consume(lexer.TokenSemicolon, "Expect ';' after variable declaration.")

	if isGlobal {
		c.globals.MarkState(globalSlot, writeable)
		c.emitOpByte(chunk.OpDefineGlobal, byte(globalSlot))
	} else {
		c.markLocalInitialized(writeable)
	}
}

func (c *Compiler) funDeclaration() {
	c.consume(lexer.TokenIdentifier, "Expect function name.")
	nameTok := c.previous

	isGlobal := c.fn.scopeDepth == 0
	var globalSlot int
	if isGlobal {
		globalSlot = c.declareGlobal(c.lexeme(nameTok))
	} else {
		c.declareVariable(nameTok, true)
		c.markLocalInitialized(true)
	}

	c.fn.lastDeclaredName = c.lexeme(nameTok)
	c.function(TypeFunction)

	if isGlobal {
		c.globals.MarkState(globalSlot, true)
		c.emitOpByte(chunk.OpDefineGlobal, byte(globalSlot))
	}
}

// function compiles a parameter list and body into a fresh funcScope,
// emitting the enclosing CLOSURE instruction and its upvalue descriptors.
func (c *Compiler) function(t FunctionType) {
	enclosing := c.fn
	// The funcScope is pushed before the name string is interned, so the
	// fresh ObjFunction is already a compiler root if interning collects.
	c.fn = newFuncScope(enclosing, c.heap.NewFunction(), t)
	if enclosing.lastDeclaredName != "" {
		c.fn.function.Name = c.heap.CopyString([]byte(enclosing.lastDeclaredName))
	}
	c.beginScope()

	c.consume(lexer.TokenLeftParen, "Expect '(' after function name.")
	if !c.check(lexer.TokenRightParen) {
		for {
			c.fn.function.Arity++
			if c.fn.function.Arity > maxParams {
				c.error("Can't have more than 255 parameters.")
			}
			c.consume(lexer.TokenIdentifier, "Expect parameter name.")
			c.declareVariable(c.previous, true)
			c.markLocalInitialized(true)
			if !c.match(lexer.TokenComma) {
				break
			}
		}
	}
	c.consume(lexer.TokenRightParen, "Expect ')' after parameters.")
	c.consume(lexer.TokenLeftBrace, "Expect '{' before function body.")
	c.block()

	compiledScope := c.fn
	compiledFn := c.endCompiler()
	c.emitOpByte(chunk.OpClosure, c.makeConstant(value.Obj(compiledFn)))
	for _, uv := range compiledScope.upvalues {
		if uv.isLocal {
			c.emitByte(1)
		} else {
			c.emitByte(0)
		}
		c.emitByte(byte(uv.index))
	}
}

func (c *Compiler) classDeclaration() {
	c.consume(lexer.TokenIdentifier, "Expect class name.")
	nameTok := c.previous
	className := c.lexeme(nameTok)
	nameConst := c.identifierConstant(nameTok)

	isGlobal := c.fn.scopeDepth == 0
	var globalSlot int
	if isGlobal {
		globalSlot = c.declareGlobal(className)
		c.globals.MarkState(globalSlot, true)
	} else {
		c.declareVariable(nameTok, true)
		c.markLocalInitialized(true)
	}

	c.emitOpByte(chunk.OpClass, nameConst)
	if isGlobal {
		c.emitOpByte(chunk.OpDefineGlobal, byte(globalSlot))
	}

	cs := &classScope{enclosing: c.class}
	c.class = cs

	if c.match(lexer.TokenLess) {
		c.consume(lexer.TokenIdentifier, "Expect superclass name.")
		c.variable(false)
		if c.lexeme(c.previous) == className {
			c.error("A class can't inherit from itself.")
		}

		c.beginScope()
		c.addLocal("super")
		c.markLocalInitialized(true)

		c.namedVariableByName(className, false)
		c.emitOp(chunk.OpInherit)
		cs.hasSuperclass = true
	}

	c.namedVariableByName(className, false)
	c.consume(lexer.TokenLeftBrace, "Expect '{' before class body.")
	for !c.check(lexer.TokenRightBrace) && !c.check(lexer.TokenEOF) {
		c.method()
	}
	c.consume(lexer.TokenRightBrace, "Expect '}' after class body.")
	c.emitOp(chunk.OpPop) // the class itself, pushed by namedVariableByName above

	if cs.hasSuperclass {
		c.endScope()
	}
	c.class = cs.enclosing
}

func (c *Compiler) method() {
	c.consume(lexer.TokenIdentifier, "Expect method name.")
	nameTok := c.previous
	nameConst := c.identifierConstant(nameTok)

	t := TypeMethod
	if c.lexeme(nameTok) == "init" {
		t = TypeInitializer
	}
	c.fn.lastDeclaredName = c.lexeme(nameTok)
	c.function(t)
	c.emitOpByte(chunk.OpMethod, nameConst)
}
