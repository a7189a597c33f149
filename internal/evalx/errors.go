package evalx

import "fmt"

// EvalError is raised for expression evaluation failures: type
// mismatches, division by zero, an unmatched `match` expression, or an
// unknown identifier referenced through a builtin.
type EvalError struct {
	Expr string
	Msg  string
}

func (e *EvalError) Error() string {
	if e.Expr == "" {
		return e.Msg
	}
	return fmt.Sprintf("eval error in %q: %s", e.Expr, e.Msg)
}

func newEvalError(exprSrc, format string, args ...any) *EvalError {
	return &EvalError{Expr: exprSrc, Msg: fmt.Sprintf(format, args...)}
}
