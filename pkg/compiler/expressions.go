package compiler

import (
	"strconv"

	"github.com/kristofer/cloxgo/pkg/chunk"
	"github.com/kristofer/cloxgo/pkg/globals"
	"github.com/kristofer/cloxgo/pkg/lexer"
	"github.com/kristofer/cloxgo/pkg/value"
)

func (c *Compiler) expression() {
	c.parsePrecedence(PrecAssignment)
}

// parsePrecedence is the Pratt driver: advance, run the prefix rule, then
// keep running infix rules whose precedence is at least minPrec.
// canAssign is threaded down so only an expression parsed at or below
// assignment precedence may consume a trailing `=`.
func (c *Compiler) parsePrecedence(minPrec Precedence) {
	c.advance()
	prefix := getRule(c.previous.Type).prefix
	if prefix == nil {
		c.error("Expect expression.")
		return
	}
	canAssign := minPrec <= PrecAssignment
	prefix(c, canAssign)

	for minPrec <= getRule(c.current.Type).precedence {
		c.advance()
		infix := getRule(c.previous.Type).infix
		infix(c, canAssign)
	}

	if canAssign && c.match(lexer.TokenEqual) {
		c.error("Invalid assignment target.")
	}
}

func (c *Compiler) number(canAssign bool) {
	text := c.lexeme(c.previous)
	n, _ := strconv.ParseFloat(text, 64)
	c.emitConstant(value.Number(n))
}

func (c *Compiler) string(canAssign bool) {
	text := c.lexeme(c.previous)
	// String tokens include the surrounding quotes in their byte range;
	// strip them before interning.
	s := c.heap.CopyString([]byte(text[1 : len(text)-1]))
	c.emitConstant(value.Obj(s))
}

func (c *Compiler) literal(canAssign bool) {
	switch c.previous.Type {
	case lexer.TokenFalse:
		c.emitOp(chunk.OpFalse)
	case lexer.TokenNil:
		c.emitOp(chunk.OpNil)
	case lexer.TokenTrue:
		c.emitOp(chunk.OpTrue)
	}
}

func (c *Compiler) grouping(canAssign bool) {
	c.expression()
	c.consume(lexer.TokenRightParen, "Expect ')' after expression.")
}

func (c *Compiler) unary(canAssign bool) {
	opType := c.previous.Type
	c.parsePrecedence(PrecUnary)
	switch opType {
	case lexer.TokenBang:
		c.emitOp(chunk.OpNot)
	case lexer.TokenMinus:
		c.emitOp(chunk.OpNegate)
	}
}

func (c *Compiler) binary(canAssign bool) {
	opType := c.previous.Type
	r := getRule(opType)
	c.parsePrecedence(r.precedence + 1)

	switch opType {
	case lexer.TokenBangEqual:
		c.emitOp(chunk.OpEqual)
		c.emitOp(chunk.OpNot)
	case lexer.TokenEqualEqual:
		c.emitOp(chunk.OpEqual)
	case lexer.TokenGreater:
		c.emitOp(chunk.OpGreater)
	case lexer.TokenGreaterEqual:
		c.emitOp(chunk.OpLess)
		c.emitOp(chunk.OpNot)
	case lexer.TokenLess:
		c.emitOp(chunk.OpLess)
	case lexer.TokenLessEqual:
		c.emitOp(chunk.OpGreater)
		c.emitOp(chunk.OpNot)
	case lexer.TokenPlus:
		c.emitOp(chunk.OpAdd)
	case lexer.TokenMinus:
		c.emitOp(chunk.OpSubtract)
	case lexer.TokenStar:
		c.emitOp(chunk.OpMultiply)
	case lexer.TokenSlash:
		c.emitOp(chunk.OpDivide)
	}
}

// and_ implements short-circuit AND: JUMP_IF_FALSE keeps the false result
// on the stack; on truthy, POP and evaluate the right-hand side.
func (c *Compiler) and_(canAssign bool) {
	endJump := c.emitJump(chunk.OpJumpIfFalse)
	c.emitOp(chunk.OpPop)
	c.parsePrecedence(PrecAnd)
	c.patchJump(endJump)
}

// or_ is symmetric, with a JUMP past the JUMP_IF_FALSE.
func (c *Compiler) or_(canAssign bool) {
	elseJump := c.emitJump(chunk.OpJumpIfFalse)
	endJump := c.emitJump(chunk.OpJump)

	c.patchJump(elseJump)
	c.emitOp(chunk.OpPop)

	c.parsePrecedence(PrecOr)
	c.patchJump(endJump)
}

func (c *Compiler) call(canAssign bool) {
	argCount := c.argumentList()
	c.emitOpByte(chunk.OpCall, argCount)
}

func (c *Compiler) argumentList() byte {
	count := 0
	if !c.check(lexer.TokenRightParen) {
		for {
			c.expression()
			if count == maxParams {
				c.error("Can't have more than 255 arguments.")
			}
			count++
			if !c.match(lexer.TokenComma) {
				break
			}
		}
	}
	c.consume(lexer.TokenRightParen, "Expect ')' after arguments.")
	return byte(count)
}

// dot compiles property access, assignment, and the fused
// property-get-and-call INVOKE hot path.
func (c *Compiler) dot(canAssign bool) {
	c.consume(lexer.TokenIdentifier, "Expect property name after '.'.")
	name := c.identifierConstant(c.previous)

	switch {
	case canAssign && c.match(lexer.TokenEqual):
		c.expression()
		c.emitOpByte(chunk.OpSetProperty, name)
	case c.match(lexer.TokenLeftParen):
		argCount := c.argumentList()
		c.emitOpByte(chunk.OpInvoke, name)
		c.emitByte(argCount)
	default:
		c.emitOpByte(chunk.OpGetProperty, name)
	}
}

func (c *Compiler) this_(canAssign bool) {
	if c.class == nil {
		c.error("Can't use 'this' outside of a class.")
		return
	}
	c.variable(false)
}

// super_ compiles `super.name` and the fused `super.name(args)` call.
func (c *Compiler) super_(canAssign bool) {
	if c.class == nil {
		c.error("Can't use 'super' outside of a class.")
	} else if !c.class.hasSuperclass {
		c.error("Can't use 'super' in a class with no superclass.")
	}

	c.consume(lexer.TokenDot, "Expect '.' after 'super'.")
	c.consume(lexer.TokenIdentifier, "Expect superclass method name.")
	name := c.identifierConstant(c.previous)

	c.namedVariableByName("this", false)
	if c.match(lexer.TokenLeftParen) {
		argCount := c.argumentList()
		c.namedVariableByName("super", false)
		c.emitOpByte(chunk.OpSuperInvoke, name)
		c.emitByte(argCount)
	} else {
		c.namedVariableByName("super", false)
		c.emitOpByte(chunk.OpGetSuper, name)
	}
}

func (c *Compiler) variable(canAssign bool) {
	c.namedVariable(c.previous, canAssign)
}

func (c *Compiler) identifierConstant(name lexer.Token) byte {
	s := c.heap.CopyString([]byte(c.lexeme(name)))
	return c.makeConstant(value.Obj(s))
}

// namedVariable resolves name as local, then upvalue, then global, and
// emits the matching GET/SET pair, honoring const write checks and
// assignment.
func (c *Compiler) namedVariable(name lexer.Token, canAssign bool) {
	text := c.lexeme(name)

	var getOp, setOp chunk.OpCode
	var slot int
	var readableErr string

	if local := c.resolveLocal(c.fn, text); local != -1 {
		getOp, setOp = chunk.OpGetLocal, chunk.OpSetLocal
		slot = local
		if c.fn.locals[local].state == stateReadable {
			readableErr = "Writing to const variable."
		}
	} else if up := c.resolveUpvalue(c.fn, text); up != -1 {
		getOp, setOp = chunk.OpGetUpvalue, chunk.OpSetUpvalue
		slot = up
	} else {
		gslot := c.declareGlobal(text)
		if gslot == c.declaringGlobalSlot {
			c.error("Can't read variable in its own initializer.")
		}
		getOp, setOp = chunk.OpGetGlobal, chunk.OpSetGlobal
		slot = gslot
		if c.globals.State(gslot) == globals.Readable {
			readableErr = "Writing to const variable."
		}
	}

	if canAssign && c.match(lexer.TokenEqual) {
		if readableErr != "" {
			c.error(readableErr)
		}
		c.expression()
		c.emitOpByte(setOp, byte(slot))
	} else {
		c.emitOpByte(getOp, byte(slot))
	}
}

// namedVariableByName looks up a variable by name rather than by token,
// for references the compiler itself synthesizes: the "this"/"super"
// locals method and subclass compilation declare, and a class's own name
// re-pushed after its declaration for the method-binding loop to use as
// its stack baseline. Falls through to the globals store so a top-level
// class declaration resolves correctly.
func (c *Compiler) namedVariableByName(text string, canAssign bool) {
	if local := c.resolveLocal(c.fn, text); local != -1 {
		c.emitOpByte(chunk.OpGetLocal, byte(local))
		return
	}
	if up := c.resolveUpvalue(c.fn, text); up != -1 {
		c.emitOpByte(chunk.OpGetUpvalue, byte(up))
		return
	}
	nameStr := c.heap.CopyString([]byte(text))
	if slot, ok := c.globals.Slot(nameStr); ok {
		c.emitOpByte(chunk.OpGetGlobal, byte(slot))
		return
	}
	// this/super are always locals in any scope that can reach them; a
	// miss here means this_/super_'s own guard already reported the error.
}
