// Package scope provides the variable storage used while running a block
// program: a chain of frames with parent lookup, and a Stack that pushes
// and pops frames for block-local variables.
package scope

import (
	"fmt"
	"sort"
	"sync"

	"github.com/zurustar/kumiki/pkg/element"
	"github.com/zurustar/kumiki/pkg/fault"
)

// Variable is a declared variable.
type Variable struct {
	Type  element.Type
	Value any
}

// Frame is one level of variable scope.
// Lookups search the current frame first, then its parents.
type Frame struct {
	variables map[string]Variable
	parent    *Frame
	mu        sync.RWMutex
}

// NewFrame creates a frame with an optional parent frame.
func NewFrame(parent *Frame) *Frame {
	return &Frame{
		variables: make(map[string]Variable),
		parent:    parent,
	}
}

// Get retrieves a variable by name from this frame or its parents.
//
// Returns:
//   - Variable: The variable
//   - bool: true if the variable was found, false otherwise
func (f *Frame) Get(name string) (Variable, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	if v, ok := f.variables[name]; ok {
		return v, true
	}
	if f.parent != nil {
		return f.parent.Get(name)
	}
	return Variable{}, false
}

// GetLocal retrieves a variable only from this frame.
func (f *Frame) GetLocal(name string) (Variable, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	v, ok := f.variables[name]
	return v, ok
}

// Declare creates or replaces a variable in this frame.
// The value must conform to typ.
func (f *Frame) Declare(name string, typ element.Type, value any) error {
	if name == "" {
		return fmt.Errorf("variable name must not be empty")
	}
	if err := conform(typ, value); err != nil {
		return fmt.Errorf("cannot declare %s: %w", name, err)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.variables[name] = Variable{Type: typ, Value: value}
	return nil
}

// Assign updates the nearest frame that declares name.
// The value must conform to the declared type.
func (f *Frame) Assign(name string, value any) error {
	f.mu.Lock()
	v, ok := f.variables[name]
	if ok {
		defer f.mu.Unlock()
		if err := conform(v.Type, value); err != nil {
			return fmt.Errorf("cannot assign %s: %w", name, err)
		}
		v.Value = value
		f.variables[name] = v
		return nil
	}
	f.mu.Unlock()

	if f.parent != nil {
		return f.parent.Assign(name, value)
	}
	return fmt.Errorf("undefined variable: %s", name)
}

// Delete removes a variable from this frame.
//
// Returns:
//   - bool: true if the variable was deleted, false if it didn't exist
func (f *Frame) Delete(name string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.variables[name]; ok {
		delete(f.variables, name)
		return true
	}
	return false
}

// Has checks if a variable exists in this frame or any parent frame.
func (f *Frame) Has(name string) bool {
	_, ok := f.Get(name)
	return ok
}

// Parent returns the parent frame, or nil for a root frame.
func (f *Frame) Parent() *Frame {
	return f.parent
}

// Keys returns the variable names of this frame in sorted order.
func (f *Frame) Keys() []string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	keys := make([]string, 0, len(f.variables))
	for k := range f.variables {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Size returns the number of variables in this frame.
func (f *Frame) Size() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.variables)
}

// conform checks value against a declared type. Numbers are float64,
// text is string and booleans are bool.
func conform(typ element.Type, value any) error {
	ok := true
	switch typ {
	case element.TypeAny, "":
	case element.TypeNumber:
		_, ok = value.(float64)
	case element.TypeText:
		_, ok = value.(string)
	case element.TypeBoolean:
		_, ok = value.(bool)
	default:
		return fmt.Errorf("unknown type %q", typ)
	}
	if !ok {
		return fmt.Errorf("%v (%T) is not a %s", value, value, typ)
	}
	return nil
}

// Stack is the scope handle handed to a run. It implements element.Scope.
type Stack struct {
	root    *Frame
	current *Frame
	depth   int
}

// NewStack creates a stack holding a single root frame.
func NewStack() *Stack {
	root := NewFrame(nil)
	return &Stack{root: root, current: root}
}

// Declare implements element.Scope; it declares in the innermost frame.
func (s *Stack) Declare(name string, typ element.Type, value any) error {
	return s.current.Declare(name, typ, value)
}

// Lookup implements element.Scope.
func (s *Stack) Lookup(name string) (any, bool) {
	v, ok := s.current.Get(name)
	return v.Value, ok
}

// Assign updates an existing variable in the nearest frame declaring it.
func (s *Stack) Assign(name string, value any) error {
	return s.current.Assign(name, value)
}

// PushFrame implements element.Scope.
func (s *Stack) PushFrame() {
	s.current = NewFrame(s.current)
	s.depth++
}

// PopFrame implements element.Scope. Popping the root frame is an
// InvalidFrame error.
func (s *Stack) PopFrame() error {
	if s.current.Parent() == nil {
		return fault.NewInvalidFrameError("cannot pop the root scope frame")
	}
	s.current = s.current.Parent()
	s.depth--
	return nil
}

// Depth returns the number of frames pushed above the root frame.
func (s *Stack) Depth() int { return s.depth }

// Current returns the innermost frame.
func (s *Stack) Current() *Frame { return s.current }

// Root returns the root frame.
func (s *Stack) Root() *Frame { return s.root }

// Visible returns every variable visible from the innermost frame, inner
// declarations shadowing outer ones.
func (s *Stack) Visible() map[string]any {
	out := make(map[string]any)
	for f := s.current; f != nil; f = f.Parent() {
		for _, k := range f.Keys() {
			if _, shadowed := out[k]; !shadowed {
				v, _ := f.GetLocal(k)
				out[k] = v.Value
			}
		}
	}
	return out
}
