package tree

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/zurustar/kumiki/pkg/element"
)

// NodeID identifies a node in a Tree's arena. Index selects the arena slot
// and Gen the generation of that slot, so an id kept past RemoveNode is
// detected as stale instead of silently naming a newer node.
// The zero NodeID means "no node".
type NodeID struct {
	Index uint32
	Gen   uint32
}

// None is the zero NodeID.
var None NodeID

// IsZero reports whether id is None.
func (id NodeID) IsZero() bool { return id == None }

// String formats id as index:generation.
func (id NodeID) String() string {
	if id.IsZero() {
		return "none"
	}
	return fmt.Sprintf("%d:%d", id.Index, id.Gen)
}

// ParseNodeID parses the index:generation form written by String.
func ParseNodeID(s string) (NodeID, error) {
	idx, gen, ok := strings.Cut(strings.TrimSpace(s), ":")
	if !ok {
		return None, fmt.Errorf("node id %q: want index:generation", s)
	}
	i, err := strconv.ParseUint(idx, 10, 32)
	if err != nil {
		return None, fmt.Errorf("node id %q: %w", s, err)
	}
	g, err := strconv.ParseUint(gen, 10, 32)
	if err != nil {
		return None, fmt.Errorf("node id %q: %w", s, err)
	}
	return NodeID{Index: uint32(i), Gen: uint32(g)}, nil
}

// RootList names the root registry that holds an unattached node.
type RootList int

const (
	// Attached marks a node reachable through an argument, sequence or
	// nesting edge; it is in no root list.
	Attached RootList = iota
	// Process holds top-level program entry chains.
	Process
	// Routine holds callable named chains.
	Routine
	// Crumbs holds every other unattached node or chain.
	Crumbs
)

// String returns the list name.
func (r RootList) String() string {
	switch r {
	case Attached:
		return "attached"
	case Process:
		return "process"
	case Routine:
		return "routine"
	case Crumbs:
		return "crumbs"
	default:
		return fmt.Sprintf("rootlist(%d)", int(r))
	}
}

type argSlots struct {
	names []string
	conn  map[string]NodeID
}

type sequence struct {
	before NodeID
	after  NodeID
	parent NodeID
	nest   int
}

type scopeLinks struct {
	first NodeID
	count int
}

// Node is one syntax-tree node. The link groups present depend on the kind:
//
//	data        connectedTo
//	expression  connectedTo, argument slots
//	statement   argument slots, sequence links
//	block       argument slots, sequence links, inner scope
//
// Nodes are owned by their Tree and only change through its edit methods.
type Node struct {
	id       NodeID
	kind     element.Kind
	element  string
	instance element.InstanceID
	root     RootList

	connectedTo NodeID
	slot        string // slot of connectedTo that holds this node

	args  *argSlots
	seq   *sequence
	inner *scopeLinks
}

func newNode(id NodeID, spec *element.Spec, instance element.InstanceID) *Node {
	n := &Node{
		id:       id,
		kind:     spec.Kind,
		element:  spec.Name,
		instance: instance,
		root:     Crumbs,
	}
	if spec.Kind.HasSlots() {
		n.args = &argSlots{
			names: spec.ArgNames(),
			conn:  make(map[string]NodeID, len(spec.Args)),
		}
	}
	if spec.Kind.IsInstruction() {
		n.seq = &sequence{}
	}
	if spec.Kind == element.KindBlock {
		n.inner = &scopeLinks{}
	}
	return n
}

// ID returns the node id.
func (n *Node) ID() NodeID { return n.id }

// Kind returns the element kind.
func (n *Node) Kind() element.Kind { return n.kind }

// Element returns the element name the node binds to.
func (n *Node) Element() string { return n.element }

// Instance returns the id of the node's element instance.
func (n *Node) Instance() element.InstanceID { return n.instance }

// Root returns the root list holding the node, or Attached.
func (n *Node) Root() RootList { return n.root }

// ConnectedTo returns the node whose argument slot this node fills and the
// slot name. It is None for instructions and loose arguments.
func (n *Node) ConnectedTo() (NodeID, string) { return n.connectedTo, n.slot }

// Slots returns the argument slot names in declared order.
func (n *Node) Slots() []string {
	if n.args == nil {
		return nil
	}
	out := make([]string, len(n.args.names))
	copy(out, n.args.names)
	return out
}

// Argument returns the node connected to slot, or None.
func (n *Node) Argument(slot string) NodeID {
	if n.args == nil {
		return None
	}
	return n.args.conn[slot]
}

func (n *Node) hasSlot(slot string) bool {
	if n.args == nil {
		return false
	}
	for _, s := range n.args.names {
		if s == slot {
			return true
		}
	}
	return false
}

// Before returns the previous instruction in the sequence, or None.
func (n *Node) Before() NodeID {
	if n.seq == nil {
		return None
	}
	return n.seq.before
}

// After returns the next instruction in the sequence, or None.
func (n *Node) After() NodeID {
	if n.seq == nil {
		return None
	}
	return n.seq.after
}

// Parent returns the enclosing block, or None.
func (n *Node) Parent() NodeID {
	if n.seq == nil {
		return None
	}
	return n.seq.parent
}

// NestLevel returns the nesting depth of an instruction; 0 for roots and
// for argument nodes.
func (n *Node) NestLevel() int {
	if n.seq == nil {
		return 0
	}
	return n.seq.nest
}

// Inner returns the first instruction of a block's scope, or None.
func (n *Node) Inner() NodeID {
	if n.inner == nil {
		return None
	}
	return n.inner.first
}

// InnerCount returns the number of direct children of a block's scope.
func (n *Node) InnerCount() int {
	if n.inner == nil {
		return 0
	}
	return n.inner.count
}
