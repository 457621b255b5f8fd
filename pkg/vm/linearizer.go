// Package vm runs block programs held in a tree.Tree.
//
// A Linearizer turns a root of the tree into a flat stream of steps, one
// Next call at a time, using an explicit frame stack so traversal depth is
// bounded by program nesting and not by the Go call stack:
//   - Argument steps carry a Data or Expression instance and the marker
//     (argument slot) under which its consumer expects the value
//   - Instruction steps carry a Statement or Block instance and whether the
//     visit is a block entry or exit
//   - an end step reports that the root finished
//
// Each traversal Context owns its own Override channel. Instructions raise
// signals through it during their callbacks; the context reads and clears
// the signal before computing the following step.
//
// The Interpreter drives a context to completion, evaluating arguments and
// invoking instruction callbacks in step order.
package vm

import (
	"fmt"
	"sync"

	"github.com/zurustar/kumiki/pkg/element"
	"github.com/zurustar/kumiki/pkg/fault"
	"github.com/zurustar/kumiki/pkg/tree"
)

// StepKind identifies what a Step carries.
type StepKind int

const (
	StepArgument StepKind = iota
	StepInstruction
	StepEnd
)

// String returns the step kind name.
func (k StepKind) String() string {
	switch k {
	case StepArgument:
		return "argument"
	case StepInstruction:
		return "instruction"
	case StepEnd:
		return "end"
	default:
		return fmt.Sprintf("step(%d)", int(k))
	}
}

// Phase distinguishes block entry and exit visits.
// Statements are always visited in PhaseEntry.
type Phase int

const (
	PhaseEntry Phase = iota
	PhaseExit
)

// String returns the phase name.
func (p Phase) String() string {
	if p == PhaseExit {
		return "exit"
	}
	return "entry"
}

// Step is one unit of work produced by Context.Next.
type Step struct {
	Kind     StepKind
	Node     tree.NodeID
	Element  string
	Instance element.Instance

	// Marker is the argument slot of Consumer that the value of an
	// Argument step fills. Both are empty for an argument evaluated as a
	// root of its own.
	Marker   string
	Consumer tree.NodeID

	// Phase is entry or exit for Instruction steps.
	Phase Phase
	// Unwound marks a block exit reached by a jump-to-parent from inside
	// the block. The exit callback still runs; any signal it raises is
	// dropped and traversal continues after the block.
	Unwound bool
}

// String formats the step for traces.
func (s Step) String() string {
	switch s.Kind {
	case StepArgument:
		if s.Marker == "" {
			return fmt.Sprintf("argument %s#%s", s.Element, s.Node)
		}
		return fmt.Sprintf("argument %s#%s -> %s.%s", s.Element, s.Node, s.Consumer, s.Marker)
	case StepInstruction:
		if s.Unwound {
			return fmt.Sprintf("%s %s#%s (unwound)", s.Phase, s.Element, s.Node)
		}
		return fmt.Sprintf("%s %s#%s", s.Phase, s.Element, s.Node)
	default:
		return s.Kind.String()
	}
}

type frameKind int

const (
	// argFrame resolves the argument slots of a node, in declared order.
	argFrame frameKind = iota
	// scopeFrame marks a block whose inner scope is running; popping it
	// emits the block's exit.
	scopeFrame
)

type frame struct {
	kind     frameKind
	node     tree.NodeID
	pending  []string
	marker   string
	consumer tree.NodeID
	unwound  bool
	// through keeps unwinding after the frame's exit instead of resuming
	// after its block.
	through bool
}

// Linearizer hands out traversal contexts over a tree. Only one context may
// be active per root at a time.
type Linearizer struct {
	tree *tree.Tree

	mu     sync.Mutex
	active map[tree.NodeID]*Context
}

// NewLinearizer creates a linearizer over t.
func NewLinearizer(t *tree.Tree) *Linearizer {
	return &Linearizer{
		tree:   t,
		active: make(map[tree.NodeID]*Context),
	}
}

// Tree returns the tree the linearizer walks.
func (l *Linearizer) Tree() *tree.Tree { return l.tree }

// Begin starts a traversal of root, which must head one of the tree's
// root lists: a process or routine block, or a crumb. Beginning a root
// that already has an active context is an InvalidFrame error.
func (l *Linearizer) Begin(root tree.NodeID) (*Context, error) {
	n, err := l.tree.Node(root)
	if err != nil {
		return nil, err
	}
	if n.Root() == tree.Attached {
		return nil, fault.New(fault.InvalidFrame, "node is not the head of a root list").At(n.Element(), root.String())
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if _, busy := l.active[root]; busy {
		return nil, fault.New(fault.InvalidFrame, "root already has an active traversal").At(n.Element(), root.String())
	}
	c := &Context{
		lin:      l,
		tree:     l.tree,
		root:     root,
		cursor:   root,
		version:  l.tree.Version(),
		override: &Override{},
	}
	l.active[root] = c
	return c, nil
}

// Active reports whether root has an unfinished traversal.
func (l *Linearizer) Active(root tree.NodeID) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.active[root]
	return ok
}

func (l *Linearizer) release(c *Context) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.active[c.root] == c {
		delete(l.active, c.root)
	}
}

// Context is one traversal of a root. It is not safe for concurrent use.
type Context struct {
	lin  *Linearizer
	tree *tree.Tree
	root tree.NodeID

	cursor tree.NodeID
	stack  []frame

	last    Step
	hasLast bool

	override *Override
	version  uint64
	done     bool
	through  bool
}

// Root returns the root node of the traversal.
func (c *Context) Root() tree.NodeID { return c.root }

// Override returns the context's override channel. Instruction callbacks
// receive it as their element.Control.
func (c *Context) Override() *Override { return c.override }

// Depth returns the number of frames on the stack.
func (c *Context) Depth() int { return len(c.stack) }

// Done reports whether the traversal ended, failed or was closed.
func (c *Context) Done() bool { return c.done }

// Close ends the traversal and releases the root. It is safe to call more
// than once.
func (c *Context) Close() {
	c.finish()
}

func (c *Context) finish() {
	if c.done {
		return
	}
	c.done = true
	c.stack = nil
	c.lin.release(c)
}

// Next returns the next step. The signal raised by the callback of the
// previous step, if any, is consumed first and redirects the traversal.
//
// A required argument slot that is empty yields an UnresolvedArgument
// error naming the node and slot. Calling Next after the end step or an
// error yields an InvalidFrame error, as does a tree edited since Begin.
func (c *Context) Next() (Step, error) {
	if c.done {
		return Step{}, fault.NewInvalidFrameError("traversal has already finished")
	}
	if c.tree.Version() != c.version {
		c.finish()
		return Step{}, fault.NewInvalidFrameError("tree was modified during traversal")
	}
	if c.hasLast {
		c.hasLast = false
		if err := c.advance(c.last); err != nil {
			c.finish()
			return Step{}, err
		}
	}

	st, err := c.walk()
	if err != nil {
		c.finish()
		return Step{}, err
	}
	if st.Kind == StepEnd {
		c.finish()
		return st, nil
	}
	c.last = st
	c.hasLast = true
	return st, nil
}

func (c *Context) push(f frame) { c.stack = append(c.stack, f) }

func (c *Context) pop() frame {
	f := c.stack[len(c.stack)-1]
	c.stack = c.stack[:len(c.stack)-1]
	return f
}

// walk moves the cursor and the frame stack until a step can be emitted.
func (c *Context) walk() (Step, error) {
	for {
		if !c.cursor.IsZero() {
			id := c.cursor
			c.cursor = tree.None
			n, err := c.tree.Node(id)
			if err != nil {
				return Step{}, err
			}
			if n.Kind() == element.KindData {
				return c.argumentStep(n, "", tree.None)
			}
			c.push(frame{kind: argFrame, node: id, pending: n.Slots()})
			continue
		}

		if len(c.stack) == 0 {
			return Step{Kind: StepEnd}, nil
		}

		top := &c.stack[len(c.stack)-1]
		n, err := c.tree.Node(top.node)
		if err != nil {
			return Step{}, err
		}

		if top.kind == scopeFrame {
			f := c.pop()
			c.through = f.through
			return c.instructionStep(n, PhaseExit, f.unwound)
		}

		if len(top.pending) > 0 {
			slot := top.pending[0]
			top.pending = top.pending[1:]
			child := n.Argument(slot)
			if child.IsZero() {
				return Step{}, fault.NewUnresolvedArgumentError(n.Element(), n.ID().String(), slot)
			}
			cn, err := c.tree.Node(child)
			if err != nil {
				return Step{}, err
			}
			if cn.Kind() == element.KindData {
				return c.argumentStep(cn, slot, n.ID())
			}
			c.push(frame{kind: argFrame, node: child, pending: cn.Slots(), marker: slot, consumer: n.ID()})
			continue
		}

		f := c.pop()
		if n.Kind() == element.KindExpression {
			return c.argumentStep(n, f.marker, f.consumer)
		}
		return c.instructionStep(n, PhaseEntry, false)
	}
}

func (c *Context) argumentStep(n *tree.Node, marker string, consumer tree.NodeID) (Step, error) {
	inst, err := c.tree.InstanceOf(n.ID())
	if err != nil {
		return Step{}, err
	}
	return Step{
		Kind:     StepArgument,
		Node:     n.ID(),
		Element:  n.Element(),
		Instance: inst,
		Marker:   marker,
		Consumer: consumer,
	}, nil
}

func (c *Context) instructionStep(n *tree.Node, phase Phase, unwound bool) (Step, error) {
	inst, err := c.tree.InstanceOf(n.ID())
	if err != nil {
		return Step{}, err
	}
	return Step{
		Kind:     StepInstruction,
		Node:     n.ID(),
		Element:  n.Element(),
		Instance: inst,
		Phase:    phase,
		Unwound:  unwound,
	}, nil
}

// advance applies the default successor of the previous step, or the
// redirection requested by the signal its callback raised.
func (c *Context) advance(last Step) error {
	sig := c.override.Take()

	if last.Kind == StepArgument {
		if sig != element.SignalNone {
			return invalidOverride(last, sig)
		}
		return nil
	}

	n, err := c.tree.Node(last.Node)
	if err != nil {
		return err
	}

	if last.Unwound {
		if !c.through {
			c.cursor = n.After()
		}
		return nil
	}

	switch {
	case n.Kind() == element.KindStatement:
		switch sig {
		case element.SignalNone:
			c.cursor = n.After()
		case element.JumpToInnerEnd:
			// the cursor stays empty so the enclosing scope closes next
		case element.JumpToParent:
			c.unwindEnclosing()
		case element.BreakLoop, element.ContinueLoop:
			return c.unwindToLoop(last, sig)
		default:
			return invalidOverride(last, sig)
		}

	case last.Phase == PhaseEntry:
		switch sig {
		case element.SignalNone:
			c.push(frame{kind: scopeFrame, node: n.ID()})
			c.cursor = n.Inner()
		case element.SkipScope, element.JumpToInnerEnd:
			c.push(frame{kind: scopeFrame, node: n.ID()})
		case element.JumpToParent:
			c.unwindEnclosing()
			c.push(frame{kind: scopeFrame, node: n.ID(), unwound: true, through: true})
		default:
			return invalidOverride(last, sig)
		}

	default:
		switch sig {
		case element.SignalNone, element.JumpToInnerEnd:
			c.cursor = n.After()
		case element.RepeatInner:
			c.push(frame{kind: scopeFrame, node: n.ID()})
			c.cursor = n.Inner()
		case element.RepeatBlock:
			c.cursor = n.ID()
		case element.JumpToParent:
			c.unwindEnclosing()
		default:
			return invalidOverride(last, sig)
		}
	}
	return nil
}

// unwindEnclosing marks the scope frame of the enclosing block so that its
// exit is emitted as unwound. At the top level the traversal simply ends.
func (c *Context) unwindEnclosing() {
	if len(c.stack) == 0 {
		return
	}
	if top := &c.stack[len(c.stack)-1]; top.kind == scopeFrame {
		top.unwound = true
	}
}

// unwindToLoop unwinds the scopes nested in the innermost loop block. A
// break unwinds the loop's own frame too; a continue leaves its exit to run
// normally.
func (c *Context) unwindToLoop(last Step, sig element.Signal) error {
	for i := len(c.stack) - 1; i >= 0; i-- {
		if c.stack[i].kind != scopeFrame {
			continue
		}
		spec, err := c.tree.Spec(c.stack[i].node)
		if err != nil {
			return err
		}
		if !spec.Loop {
			continue
		}
		for j := i + 1; j < len(c.stack); j++ {
			c.stack[j].unwound = true
			c.stack[j].through = true
		}
		if sig == element.BreakLoop {
			c.stack[i].unwound = true
		}
		return nil
	}
	return fault.Newf(fault.InvalidOverride, "signal %s has no enclosing loop", sig).
		At(last.Element, last.Node.String())
}

func invalidOverride(last Step, sig element.Signal) error {
	what := last.Kind.String()
	if last.Kind == StepInstruction {
		what = "block " + last.Phase.String()
		if last.Phase == PhaseEntry && last.Instance != nil {
			if _, isBlock := last.Instance.(element.Block); !isBlock {
				what = "statement"
			}
		}
	}
	return fault.Newf(fault.InvalidOverride, "signal %s is not valid during a %s", sig, what).
		At(last.Element, last.Node.String())
}
