package state

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors for tree and schema operations.
var (
	// ErrUnknownNode is returned when a path does not resolve to a node.
	ErrUnknownNode = errors.New("state: unknown node")

	// ErrUnknownField is returned when a field name is not declared on a node.
	ErrUnknownField = errors.New("state: unknown field")

	// ErrComputedField is returned when Set targets a computed field.
	ErrComputedField = errors.New("state: cannot set computed field")
)

// TypeMismatchError is returned by Set when a value is not representable
// as the field's declared kind. It is local to the failing call: the field
// keeps its previous value and the handler may catch and continue.
type TypeMismatchError struct {
	Path  string
	Field string
	Kind  Kind
	Value any
}

// Error returns the error message.
func (e *TypeMismatchError) Error() string {
	return fmt.Sprintf("state: type mismatch on %s.%s: %T is not %s",
		e.Path, e.Field, e.Value, e.Kind)
}

// DependencyCycleError is returned at schema registration when computed
// field dependencies form a cycle. It is fatal to that schema's setup only.
type DependencyCycleError struct {
	// Cycle lists the path.field vertices forming the cycle, in order,
	// with the first vertex repeated at the end.
	Cycle []string
}

// Error returns the error message.
func (e *DependencyCycleError) Error() string {
	return "state: computed dependency cycle: " + strings.Join(e.Cycle, " -> ")
}

// FieldError wraps an error with node and field context.
type FieldError struct {
	Path  string
	Field string
	Err   error
}

// Error returns the error message with field context.
func (e *FieldError) Error() string {
	return fmt.Sprintf("%v: %s.%s", e.Err, e.Path, e.Field)
}

// Unwrap returns the underlying error for errors.Is/As.
func (e *FieldError) Unwrap() error {
	return e.Err
}
