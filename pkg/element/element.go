// Package element defines the vocabulary shared by the syntax tree, the
// linearizer and the block library: element kinds, value types, element
// specifications, the behavior contracts an element instance implements,
// override signals and the environment handed to instance callbacks.
//
// It also provides Catalog, an in-memory element registry, and Warehouse,
// an instance pool keyed by opaque instance ids.
package element

import (
	"fmt"
	"io"
	"log/slog"
)

// Kind is the structural kind of an element.
type Kind int

const (
	// KindData is a leaf argument such as a literal.
	KindData Kind = iota
	// KindExpression is a computed argument with its own argument slots.
	KindExpression
	// KindStatement is a single-shot instruction in a sequence.
	KindStatement
	// KindBlock is an instruction that encloses a nested sequence.
	KindBlock
)

// String returns the lower-case name of the kind.
func (k Kind) String() string {
	switch k {
	case KindData:
		return "data"
	case KindExpression:
		return "expression"
	case KindStatement:
		return "statement"
	case KindBlock:
		return "block"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// IsArgument reports whether nodes of this kind fill argument slots.
func (k Kind) IsArgument() bool { return k == KindData || k == KindExpression }

// IsInstruction reports whether nodes of this kind live in sequences.
func (k Kind) IsInstruction() bool { return k == KindStatement || k == KindBlock }

// HasSlots reports whether nodes of this kind own argument slots.
func (k Kind) HasSlots() bool { return k != KindData }

// Type names a value type that argument slots accept and arguments return.
type Type string

const (
	TypeAny     Type = "any"
	TypeNumber  Type = "number"
	TypeText    Type = "text"
	TypeBoolean Type = "boolean"
)

// ArgSpec declares one argument slot.
type ArgSpec struct {
	Name    string
	Accepts []Type
}

// Spec is the registry entry of an element.
type Spec struct {
	Name string
	Kind Kind
	// Args lists the argument slots in evaluation order.
	Args []ArgSpec
	// Returns is the set of types an argument element may produce.
	Returns []Type
	// Hat marks entry blocks that can never sit below or inside another
	// instruction (process and routine heads).
	Hat bool
	// Cap marks instructions below which nothing may be attached.
	Cap bool
	// Inside, when non-empty, restricts which elements a block accepts as
	// the first instruction of its scope.
	Inside []string
	// Loop marks blocks that BreakLoop and ContinueLoop target.
	Loop bool
}

// ArgNames returns the declared slot names in order.
func (s *Spec) ArgNames() []string {
	names := make([]string, len(s.Args))
	for i, a := range s.Args {
		names[i] = a.Name
	}
	return names
}

// Arg returns the slot declaration named name.
func (s *Spec) Arg(name string) (ArgSpec, bool) {
	for _, a := range s.Args {
		if a.Name == name {
			return a, true
		}
	}
	return ArgSpec{}, false
}

func (s *Spec) validate() error {
	if s.Name == "" {
		return fmt.Errorf("element name must not be empty")
	}
	if s.Loop && s.Kind != KindBlock {
		return fmt.Errorf("%s element %q cannot be a loop", s.Kind, s.Name)
	}
	switch s.Kind {
	case KindData:
		if len(s.Args) > 0 {
			return fmt.Errorf("data element %q cannot declare argument slots", s.Name)
		}
		fallthrough
	case KindExpression:
		if len(s.Returns) == 0 {
			return fmt.Errorf("argument element %q must declare a return type", s.Name)
		}
	case KindStatement, KindBlock:
		if len(s.Returns) > 0 {
			return fmt.Errorf("instruction element %q cannot declare a return type", s.Name)
		}
	default:
		return fmt.Errorf("element %q has unknown kind %d", s.Name, int(s.Kind))
	}
	seen := make(map[string]bool, len(s.Args))
	for _, a := range s.Args {
		if a.Name == "" {
			return fmt.Errorf("element %q declares an unnamed argument slot", s.Name)
		}
		if seen[a.Name] {
			return fmt.Errorf("element %q declares slot %q twice", s.Name, a.Name)
		}
		seen[a.Name] = true
	}
	return nil
}

// Instance is an element instance held by the warehouse.
type Instance interface {
	// Element returns the name of the element this instance implements.
	Element() string
}

// Valued is implemented by instances that carry an editable literal value
// (the value recorded in snapshots).
type Valued interface {
	Value() any
	SetValue(v any) error
}

// Args maps argument slot names to evaluated values.
type Args map[string]any

// Argument is the behavior of Data and Expression instances.
// Data instances receive a nil Args.
type Argument interface {
	Instance
	Evaluate(args Args, env *Env) (any, error)
}

// Instruction is the behavior of Statement instances, and the entry half of
// Block instances.
type Instruction interface {
	Instance
	OnVisit(args Args, env *Env) error
}

// Block is the behavior of Block instances.
type Block interface {
	Instruction
	OnExit(env *Env) error
}

// Signal is a control-flow override directive.
type Signal int

const (
	// SignalNone leaves the default traversal in place.
	SignalNone Signal = iota
	// SkipScope bypasses the block's inner scope for this visit.
	SkipScope
	// RepeatInner runs the block's inner scope again (exit only).
	RepeatInner
	// RepeatBlock revisits the whole block, arguments included (exit only).
	RepeatBlock
	// JumpToInnerEnd abandons the rest of the current scope and continues
	// with the owning block's exit.
	JumpToInnerEnd
	// JumpToParent abandons the block enclosing the instruction that raised
	// it and continues after that block. Raised at a block's entry, the
	// block's own scope is skipped and its exit runs unwound before the
	// enclosing block is left. At the top level the traversal ends.
	JumpToParent
	// BreakLoop abandons every scope up to and including the innermost
	// enclosing Loop block and continues after it (statements only).
	BreakLoop
	// ContinueLoop abandons every scope inside the innermost enclosing Loop
	// block and runs that block's exit as usual (statements only).
	ContinueLoop
)

// String returns the signal name.
func (s Signal) String() string {
	switch s {
	case SignalNone:
		return "none"
	case SkipScope:
		return "skip-scope"
	case RepeatInner:
		return "repeat-inner"
	case RepeatBlock:
		return "repeat"
	case JumpToInnerEnd:
		return "jump-to-inner-end"
	case JumpToParent:
		return "jump-to-parent"
	case BreakLoop:
		return "break-loop"
	case ContinueLoop:
		return "continue-loop"
	default:
		return fmt.Sprintf("signal(%d)", int(s))
	}
}

// Control is the handle through which a running instruction redirects the
// traversal. Only one signal is pending at a time; a later call replaces an
// earlier one.
type Control interface {
	SetOverride(sig Signal)
	ClearOverride()
}

// Scope is the variable storage visible to a run.
type Scope interface {
	Declare(name string, typ Type, value any) error
	Lookup(name string) (any, bool)
	PushFrame()
	PopFrame() error
}

// Env is handed to every instance callback during a run.
type Env struct {
	Scope   Scope
	Control Control
	Out     io.Writer
	Log     *slog.Logger
}
