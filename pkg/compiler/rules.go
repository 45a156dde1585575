package compiler

import "github.com/kristofer/cloxgo/pkg/lexer"

// Precedence levels the Pratt parser climbs, lowest to highest.
type Precedence int

const (
	PrecNone       Precedence = iota
	PrecAssignment            // =
	PrecOr                    // or
	PrecAnd                   // and
	PrecEquality              // == !=
	PrecComparison            // < > <= >=
	PrecTerm                  // + -
	PrecFactor                // * /
	PrecUnary                 // ! -
	PrecCall                  // . ()
	PrecPrimary
)

// parseFn is a prefix or infix parse rule: a method on *Compiler bound to
// a token kind, told whether an assignment target is legal here.
type parseFn func(c *Compiler, canAssign bool)

type rule struct {
	prefix     parseFn
	infix      parseFn
	precedence Precedence
}

// rules is the constant TokenKind → {prefix, infix, precedence} table.
// Parse functions need access to compiler state, so each is a method on
// *Compiler rather than a free function or closure.
var rules map[lexer.TokenType]rule

func init() {
	rules = map[lexer.TokenType]rule{
		lexer.TokenLeftParen:    {prefix: (*Compiler).grouping, infix: (*Compiler).call, precedence: PrecCall},
		lexer.TokenDot:          {infix: (*Compiler).dot, precedence: PrecCall},
		lexer.TokenMinus:        {prefix: (*Compiler).unary, infix: (*Compiler).binary, precedence: PrecTerm},
		lexer.TokenPlus:         {infix: (*Compiler).binary, precedence: PrecTerm},
		lexer.TokenSlash:        {infix: (*Compiler).binary, precedence: PrecFactor},
		lexer.TokenStar:         {infix: (*Compiler).binary, precedence: PrecFactor},
		lexer.TokenBang:         {prefix: (*Compiler).unary},
		lexer.TokenBangEqual:    {infix: (*Compiler).binary, precedence: PrecEquality},
		lexer.TokenEqualEqual:   {infix: (*Compiler).binary, precedence: PrecEquality},
		lexer.TokenGreater:      {infix: (*Compiler).binary, precedence: PrecComparison},
		lexer.TokenGreaterEqual: {infix: (*Compiler).binary, precedence: PrecComparison},
		lexer.TokenLess:         {infix: (*Compiler).binary, precedence: PrecComparison},
		lexer.TokenLessEqual:    {infix: (*Compiler).binary, precedence: PrecComparison},
		lexer.TokenIdentifier:   {prefix: (*Compiler).variable},
		lexer.TokenString:       {prefix: (*Compiler).string},
		lexer.TokenNumber:       {prefix: (*Compiler).number},
		lexer.TokenAnd:          {infix: (*Compiler).and_, precedence: PrecAnd},
		lexer.TokenOr:           {infix: (*Compiler).or_, precedence: PrecOr},
		lexer.TokenFalse:        {prefix: (*Compiler).literal},
		lexer.TokenNil:          {prefix: (*Compiler).literal},
		lexer.TokenTrue:         {prefix: (*Compiler).literal},
		lexer.TokenThis:         {prefix: (*Compiler).this_},
		lexer.TokenSuper:        {prefix: (*Compiler).super_},
	}
}

func getRule(t lexer.TokenType) rule {
	return rules[t]
}

// FunctionType distinguishes how a compiled function body should treat
// `this`/`super`, slot 0, and implicit returns.
type FunctionType int

const (
	TypeFunction FunctionType = iota
	TypeInitializer
	TypeMethod
	TypeScript
)
