// Package ops turns op templates into per-cycle operations in two phases.
//
// Mapping runs once per template when the plan is compiled: fields are
// remapped, binding references are resolved into functions of the cycle,
// and the adapter chooses a Dispenser for the template. Dispensing runs
// once per cycle and only evaluates the prepared functions.
package ops

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/torosent/cyclebench/internal/variables"
)

// Op is one synthesized operation. It runs once and is discarded.
// The returned code is recorded in the result log when err is nil.
type Op interface {
	Run(ctx context.Context, vars variables.Store) (int, error)
}

// Hooks is implemented by ops that want to observe their own lifecycle.
type Hooks interface {
	OnStart(cycle int64)
	OnSuccess(cycle int64, service time.Duration)
}

// Dispenser produces the op for a cycle. Dispense must be a pure function
// of the cycle and safe for concurrent use.
type Dispenser interface {
	Dispense(cycle int64) Op
}

// DispenserFunc adapts a function to the Dispenser interface.
type DispenserFunc func(cycle int64) Op

func (f DispenserFunc) Dispense(cycle int64) Op { return f(cycle) }

// OpMapper decides, once per template, how the template's ops are built.
type OpMapper interface {
	Map(op *ParsedOp) (Dispenser, error)
}

// Adapter is a driver plugged into an activity.
type Adapter interface {
	io.Closer
	Name() string
	Mapper() OpMapper
}

// FieldRemapping is implemented by adapters that rewrite template fields
// before mapping. Remappers run in order, once per template.
type FieldRemapping interface {
	Remappers() []Remapper
}

// ErrorNamer is implemented by adapters that name their own errors for
// the error router.
type ErrorNamer interface {
	ErrorName(err error) string
}

// Remapper rewrites the fields of a template.
type Remapper func(fields map[string]any) (map[string]any, error)

// ConfigError reports a template that could not be compiled.
type ConfigError struct {
	Template string
	Err      error
}

func (e *ConfigError) Error() string {
	if e.Template == "" {
		return fmt.Sprintf("op plan: %v", e.Err)
	}
	return fmt.Sprintf("op template %q: %v", e.Template, e.Err)
}

func (e *ConfigError) Unwrap() error { return e.Err }
