// Package filter evaluates an externally supplied JavaScript boolean
// expression against exchange attributes. The expression is compiled once;
// each evaluation runs in a fresh runtime with the attributes bound as
// globals.
package filter

import (
	"fmt"
	"time"

	"github.com/dop251/goja"
)

// Predicate is a compiled filter expression.
type Predicate struct {
	expr    string
	prog    *goja.Program
	timeout time.Duration
}

// Compile parses and compiles the expression. A malformed expression
// returns an error; callers are expected to disable the filter stage rather
// than fail.
func Compile(expr string) (*Predicate, error) {
	prog, err := goja.Compile("filter", expr, true)
	if err != nil {
		return nil, fmt.Errorf("compiling filter expression: %w", err)
	}
	return &Predicate{
		expr:    expr,
		prog:    prog,
		timeout: time.Second,
	}, nil
}

// Expr returns the source expression.
func (p *Predicate) Expr() string {
	return p.expr
}

// Matches evaluates the expression with the given attributes bound as
// global variables and returns the result coerced to a boolean. A runtime
// error counts as a match so that a broken expression never silently
// discards traffic.
func (p *Predicate) Matches(attrs map[string]any) bool {
	vm := goja.New()
	for name, value := range attrs {
		if err := vm.Set(name, value); err != nil {
			return true
		}
	}

	// Interrupt runaway expressions; evaluation sits on the proxy's
	// exchange-handling path.
	timer := time.AfterFunc(p.timeout, func() {
		vm.Interrupt("filter timeout exceeded")
	})
	defer timer.Stop()

	v, err := vm.RunProgram(p.prog)
	if err != nil {
		return true
	}
	return v.ToBoolean()
}
