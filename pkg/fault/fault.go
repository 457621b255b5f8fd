// Package fault defines the error kinds shared by the kumiki packages.
// Every error raised by the tree, the linearizer and the driver is a *Error
// carrying one of the ErrorType constants below, so callers can branch on
// the kind with Is without depending on the package that produced it.
package fault

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorType represents the kind of a kumiki error.
type ErrorType string

const (
	// Detected before any mutation or before a run starts
	StructuralAttach   ErrorType = "STRUCTURAL_ATTACH"
	UnresolvedArgument ErrorType = "UNRESOLVED_ARGUMENT"
	UnknownElement     ErrorType = "UNKNOWN_ELEMENT"
	NodeNotFound       ErrorType = "NODE_NOT_FOUND"

	// Raised while a traversal is in progress
	InvalidFrame    ErrorType = "INVALID_FRAME"
	InvalidOverride ErrorType = "INVALID_OVERRIDE"
	StepLimit       ErrorType = "STEP_LIMIT"
)

// Error is the error value used across kumiki.
// Element, Node and Slot are filled in when the failure can be pinned to a
// specific instruction and argument slot.
type Error struct {
	Type    ErrorType
	Message string
	Element string // element name of the offending node, if any
	Node    string // formatted node id, if any
	Slot    string // argument slot name, if any
}

// Error implements the error interface.
func (e *Error) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "[%s] %s", e.Type, e.Message)
	if e.Element != "" || e.Node != "" {
		b.WriteString(" at ")
		if e.Element != "" {
			b.WriteString(e.Element)
		}
		if e.Node != "" {
			fmt.Fprintf(&b, "#%s", e.Node)
		}
		if e.Slot != "" {
			fmt.Fprintf(&b, ".%s", e.Slot)
		}
	}
	return b.String()
}

// New creates an Error of the given type.
func New(errType ErrorType, message string) *Error {
	return &Error{Type: errType, Message: message}
}

// Newf creates an Error of the given type with a formatted message.
func Newf(errType ErrorType, format string, args ...any) *Error {
	return &Error{Type: errType, Message: fmt.Sprintf(format, args...)}
}

// At returns a copy of e pinned to a node.
func (e *Error) At(element, node string) *Error {
	c := *e
	c.Element = element
	c.Node = node
	return &c
}

// InSlot returns a copy of e pinned to an argument slot.
func (e *Error) InSlot(slot string) *Error {
	c := *e
	c.Slot = slot
	return &c
}

// Is reports whether any error in err's chain is a *Error of the given type.
func Is(err error, errType ErrorType) bool {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Type == errType
	}
	return false
}

// TypeOf returns the ErrorType of err, or "" if err is not a kumiki error.
func TypeOf(err error) ErrorType {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Type
	}
	return ""
}

// NewUnknownElementError creates an error for an element name that the
// registry or the warehouse does not know.
func NewUnknownElementError(name string) *Error {
	return &Error{Type: UnknownElement, Message: fmt.Sprintf("unknown element: %q", name), Element: name}
}

// NewUnresolvedArgumentError creates an error naming the instruction and the
// argument slot that holds no node.
func NewUnresolvedArgumentError(element, node, slot string) *Error {
	return &Error{
		Type:    UnresolvedArgument,
		Message: "argument slot is empty",
		Element: element,
		Node:    node,
		Slot:    slot,
	}
}

// NewInvalidFrameError creates an error for resuming, popping or reusing a
// frame or traversal context that does not exist.
func NewInvalidFrameError(message string) *Error {
	return &Error{Type: InvalidFrame, Message: message}
}
