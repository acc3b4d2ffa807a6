// SPDX-License-Identifier: MPL-2.0

package capability

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
)

const (
	// KeySuccess marks a business-level outcome in a Result. Only an explicit
	// false counts as failure.
	KeySuccess = "success"
	// KeyError carries the human-readable reason of a business failure.
	KeyError = "error"
	// KeyOutputFile references a file produced by a call.
	KeyOutputFile = "output_file"
)

var (
	// ErrUnknownCapability is returned when a name is not registered.
	ErrUnknownCapability = errors.New("unknown capability")
	// ErrUnknownMethod is returned when a capability has no such method.
	ErrUnknownMethod = errors.New("unknown method")
)

type (
	// Args is the flat argument map passed to a method.
	Args map[string]any

	// Result is the map returned by a method. A business failure is a Result
	// with success=false, never an error.
	Result map[string]any

	// ExecutionContext identifies one execution request. It is never persisted.
	ExecutionContext struct {
		ModuleID  string
		UserID    string
		AuthToken string
	}

	// Capability is an independently implemented unit of business logic.
	Capability interface {
		// Invoke calls method with args. Errors are reserved for structural
		// problems (unknown method, programming errors).
		Invoke(ctx context.Context, method string, args Args) (Result, error)
	}

	// MethodLister is implemented by capabilities that can enumerate their methods.
	MethodLister interface {
		MethodNames() []string
	}

	// MethodFunc implements one named method.
	MethodFunc func(ctx context.Context, args Args) (Result, error)

	// Methods is an explicit method table.
	Methods map[string]MethodFunc

	// Table is a Capability backed by a Methods table.
	Table struct {
		name    string
		methods Methods
	}

	// UnknownCapabilityError reports a capability name absent from the Registry.
	UnknownCapabilityError struct {
		Name string
	}

	// UnknownMethodError reports a method absent from a capability.
	UnknownMethodError struct {
		Capability string
		Method     string
	}
)

// Error implements the error interface.
func (e *UnknownCapabilityError) Error() string {
	return fmt.Sprintf("capability %q is not registered", e.Name)
}

// Unwrap returns ErrUnknownCapability for errors.Is compatibility.
func (e *UnknownCapabilityError) Unwrap() error { return ErrUnknownCapability }

// Error implements the error interface.
func (e *UnknownMethodError) Error() string {
	return fmt.Sprintf("capability %q has no method %q", e.Capability, e.Method)
}

// Unwrap returns ErrUnknownMethod for errors.Is compatibility.
func (e *UnknownMethodError) Unwrap() error { return ErrUnknownMethod }

// NewTable returns a Capability dispatching to methods by name.
func NewTable(name string, methods Methods) *Table {
	return &Table{name: name, methods: methods}
}

// Invoke implements Capability.
func (t *Table) Invoke(ctx context.Context, method string, args Args) (Result, error) {
	fn, ok := t.methods[method]
	if !ok {
		return nil, &UnknownMethodError{Capability: t.name, Method: method}
	}
	return fn(ctx, args)
}

// MethodNames implements MethodLister.
func (t *Table) MethodNames() []string {
	return slices.Sorted(maps.Keys(t.methods))
}

// Failure returns a business-failure Result.
func Failure(msg string) Result {
	return Result{KeySuccess: false, KeyError: msg}
}

// Failuref formats a business-failure Result.
func Failuref(format string, a ...any) Result {
	return Failure(fmt.Sprintf(format, a...))
}

// Failed reports whether the result carries success=false.
func (r Result) Failed() bool {
	ok, present := r[KeySuccess].(bool)
	return present && !ok
}

// Reason returns the failure message, if any.
func (r Result) Reason() string {
	if s, ok := r[KeyError].(string); ok {
		return s
	}
	if v, ok := r[KeyError]; ok && v != nil {
		return fmt.Sprint(v)
	}
	return ""
}

// OutputFile returns the output_file reference, or "".
func (r Result) OutputFile() string {
	s, _ := r[KeyOutputFile].(string)
	return s
}

// Clone returns a shallow copy.
func (r Result) Clone() Result {
	if r == nil {
		return Result{}
	}
	return maps.Clone(r)
}

// String returns the value of key as a string, or "" when absent or not a string.
func (a Args) String(key string) string {
	s, _ := a[key].(string)
	return s
}
