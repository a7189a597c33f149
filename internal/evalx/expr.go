// Package evalx implements the expression evaluator.
//
// Lexing/parsing the surface DSL into expressions is an external
// concern; what this package consumes is already a typed Expr tree.
// Most Expr leaves wrap a pre-compiled expr-lang program — expr-lang
// natively covers literals, identifier/property/index access,
// arithmetic, comparison, logical operators, and built-in function
// calls. The two constructs expr-lang has no native syntax for —
// `match` with schema + guard arms, and object-literal `spread` — are
// modelled as explicit Expr variants that this package interprets
// directly, delegating sub-expressions back to compiled expr-lang
// programs.
package evalx

import "github.com/expr-lang/expr/vm"

// Expr is a node in a resolved expression tree. Each concrete type
// below is a variant of this tagged union; Eval type-switches on it.
type Expr interface {
	exprNode()
}

// Compiled wraps an expr-lang program compiled ahead of time by
// whatever produced the resolved AST. It covers every expression shape
// except `match` and object spread.
type Compiled struct {
	Source  string
	Program *vm.Program
}

func (*Compiled) exprNode() {}

// Literal is a constant value with no sub-expressions. Most literals
// arrive as a Compiled program instead (expr-lang compiles literals
// fine), but Literal exists so Go-built ASTs (tests, programmatic
// mission construction) don't need to round-trip through the compiler.
type Literal struct {
	Value any
}

func (*Literal) exprNode() {}

// MatchArm is one arm of a MatchExpr: a named schema to structurally
// match the subject against, an optional guard evaluated after the
// structural match succeeds, and the body to evaluate when the arm is
// selected. SchemaName == "_" is the catch-all arm.
type MatchArm struct {
	SchemaName string
	Guard      Expr // nil if the arm has no `where` clause
	Body       Expr
}

// MatchExpr evaluates Subject, then tries each Arm top-to-bottom: the
// first arm whose schema matches the subject's shape and whose guard
// (if any) evaluates true wins. A `_` arm always matches. No match
// raises an EvalError.
type MatchExpr struct {
	Subject Expr
	Arms    []MatchArm
}

func (*MatchExpr) exprNode() {}

// ObjectField is one `key: value` pair of an object literal.
type ObjectField struct {
	Key   string
	Value Expr
}

// ObjectExpr builds an object by evaluating Spreads left-to-right
// (each must evaluate to an object; its fields are merged in, later
// spreads overwriting earlier ones) and then applying Fields, which
// overwrite anything spread in — matching `{ ...a, b: 1 }` semantics.
type ObjectExpr struct {
	Spreads []Expr
	Fields  []ObjectField
}

func (*ObjectExpr) exprNode() {}

// ArrayExpr builds an array from evaluated elements. Plain arrays
// usually arrive as Compiled programs; ArrayExpr exists for
// programmatic construction and for arrays that embed MatchExpr or
// ObjectExpr elements expr-lang can't represent on its own.
type ArrayExpr struct {
	Elements []Expr
}

func (*ArrayExpr) exprNode() {}
