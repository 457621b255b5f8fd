// Package tree implements the syntax tree of a block program.
//
// Nodes live in an arena indexed by generational NodeIDs; every link between
// nodes (argument, sequence and nesting edges) is stored as a NodeID. Nodes
// without an incoming edge sit in one of three root lists: process, routine
// and crumbs. Edges change only through the paired attach/detach methods,
// each of which has a Check predicate that is enforced before any mutation,
// so a failed edit never leaves the tree half-modified.
package tree

import (
	"errors"
	"fmt"
	"log/slog"
	"slices"

	"github.com/zurustar/kumiki/pkg/element"
	"github.com/zurustar/kumiki/pkg/fault"
	"github.com/zurustar/kumiki/pkg/logger"
)

type slot struct {
	gen  uint32
	node *Node
}

// Tree is the node arena plus the three root lists.
// A Tree is not safe for concurrent mutation.
type Tree struct {
	registry element.Registry
	pool     element.Pool

	slots []slot
	free  []uint32

	process []NodeID
	routine []NodeID
	crumbs  []NodeID

	version uint64
	log     *slog.Logger
}

// Option configures a Tree.
type Option func(*Tree)

// WithLogger sets a custom logger.
func WithLogger(log *slog.Logger) Option {
	return func(t *Tree) {
		t.log = log
	}
}

// New creates an empty tree that resolves element names with registry and
// allocates instances from pool.
func New(registry element.Registry, pool element.Pool, opts ...Option) *Tree {
	t := &Tree{
		registry: registry,
		pool:     pool,
		// slot 0 is never handed out so that the zero NodeID stays None
		slots: make([]slot, 1, 64),
		log:   logger.GetLogger(),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Registry returns the registry the tree was built with.
func (t *Tree) Registry() element.Registry { return t.registry }

// Version returns a counter that changes on every successful edit.
func (t *Tree) Version() uint64 { return t.version }

// Len returns the number of live nodes.
func (t *Tree) Len() int { return len(t.slots) - 1 - len(t.free) }

func (t *Tree) get(id NodeID) *Node {
	if id.IsZero() || int(id.Index) >= len(t.slots) {
		return nil
	}
	s := t.slots[id.Index]
	if s.node == nil || s.gen != id.Gen {
		return nil
	}
	return s.node
}

func (t *Tree) lookup(id NodeID) (*Node, error) {
	n := t.get(id)
	if n == nil {
		return nil, &fault.Error{Type: fault.NodeNotFound, Message: "no such node", Node: id.String()}
	}
	return n, nil
}

// Node returns the node named by id.
func (t *Tree) Node(id NodeID) (*Node, error) {
	return t.lookup(id)
}

// Contains reports whether id names a live node.
func (t *Tree) Contains(id NodeID) bool { return t.get(id) != nil }

// Spec returns the element specification of a node.
func (t *Tree) Spec(id NodeID) (*element.Spec, error) {
	n, err := t.lookup(id)
	if err != nil {
		return nil, err
	}
	return t.registry.SpecificationOf(n.element)
}

// InstanceOf returns the element instance behind a node.
func (t *Tree) InstanceOf(id NodeID) (element.Instance, error) {
	n, err := t.lookup(id)
	if err != nil {
		return nil, err
	}
	return t.pool.InstanceOf(n.instance)
}

// Roots returns a copy of the given root list.
func (t *Tree) Roots(list RootList) []NodeID {
	switch list {
	case Process:
		return slices.Clone(t.process)
	case Routine:
		return slices.Clone(t.routine)
	case Crumbs:
		return slices.Clone(t.crumbs)
	default:
		return nil
	}
}

// Sequence returns head and every instruction after it.
func (t *Tree) Sequence(head NodeID) []NodeID {
	var out []NodeID
	for id := head; !id.IsZero(); {
		n := t.get(id)
		if n == nil {
			break
		}
		out = append(out, id)
		id = n.After()
	}
	return out
}

func (t *Tree) listFor(r RootList) *[]NodeID {
	switch r {
	case Process:
		return &t.process
	case Routine:
		return &t.routine
	case Crumbs:
		return &t.crumbs
	default:
		return nil
	}
}

func (t *Tree) pushRoot(n *Node, r RootList) {
	l := t.listFor(r)
	*l = append(*l, n.id)
	n.root = r
}

func (t *Tree) dropRoot(n *Node) {
	if l := t.listFor(n.root); l != nil {
		if i := slices.Index(*l, n.id); i >= 0 {
			*l = slices.Delete(*l, i, i+1)
		}
	}
	n.root = Attached
}

// AddNode creates a node for the named element and places it in crumbs.
func (t *Tree) AddNode(name string) (NodeID, error) {
	spec, err := t.registry.SpecificationOf(name)
	if err != nil {
		return None, err
	}
	instance, err := t.pool.CreateInstance(name)
	if err != nil {
		return None, err
	}

	var id NodeID
	if k := len(t.free); k > 0 {
		id.Index = t.free[k-1]
		t.free = t.free[:k-1]
	} else {
		t.slots = append(t.slots, slot{})
		id.Index = uint32(len(t.slots) - 1)
	}
	s := &t.slots[id.Index]
	s.gen++
	id.Gen = s.gen

	n := newNode(id, spec, instance)
	s.node = n
	t.pushRoot(n, Crumbs)
	t.version++

	t.log.Debug("Node added", "node", id, "element", name, "kind", spec.Kind)
	return id, nil
}

func (t *Tree) release(n *Node) error {
	if err := t.destroy(n); err != nil {
		return err
	}
	t.freeSlot(n)
	return nil
}

func (t *Tree) destroy(n *Node) error {
	if err := t.pool.DestroyInstance(n.instance); err != nil {
		return fmt.Errorf("failed to destroy instance of %s: %w", n.element, err)
	}
	return nil
}

func (t *Tree) freeSlot(n *Node) {
	t.slots[n.id.Index].node = nil
	t.free = append(t.free, n.id.Index)
}

// RemoveNodeCheck reports why id cannot be removed: the node must be a root
// with no argument, sequence or scope edges of its own.
func (t *Tree) RemoveNodeCheck(id NodeID) error {
	n, err := t.lookup(id)
	if err != nil {
		return err
	}
	if n.root == Attached {
		return structural(n, "node is attached; detach it first")
	}
	if n.args != nil {
		for _, s := range n.args.names {
			if !n.args.conn[s].IsZero() {
				return structural(n, "argument slot is occupied; detach it first").InSlot(s)
			}
		}
	}
	if !n.After().IsZero() {
		return structural(n, "instructions follow this node; detach them first")
	}
	if !n.Inner().IsZero() {
		return structural(n, "block scope is not empty; detach it first")
	}
	return nil
}

// RemoveNode destroys a fully detached node and its instance.
func (t *Tree) RemoveNode(id NodeID) error {
	if err := t.RemoveNodeCheck(id); err != nil {
		return err
	}
	n := t.get(id)
	if err := t.release(n); err != nil {
		return err
	}
	t.dropRoot(n)
	t.version++
	t.log.Debug("Node removed", "node", id, "element", n.element)
	return nil
}

// RemoveSubtree destroys a root node together with everything reachable
// from it: its argument sub-trees, the instructions after it and every
// nested scope.
//
// Every node leaves the tree even when the pool fails to destroy some of
// their instances; those failures are joined into the returned error.
func (t *Tree) RemoveSubtree(id NodeID) error {
	n, err := t.lookup(id)
	if err != nil {
		return err
	}
	if n.root == Attached {
		return structural(n, "node is attached; detach it first")
	}

	doomed := t.collect(id, nil)
	var errs []error
	for i := len(doomed) - 1; i >= 0; i-- {
		if err := t.destroy(t.get(doomed[i])); err != nil {
			errs = append(errs, err)
		}
	}
	for _, d := range doomed {
		t.freeSlot(t.get(d))
	}
	t.dropRoot(n)
	t.version++
	t.log.Debug("Subtree removed", "root", id, "nodes", len(doomed), "failures", len(errs))
	return errors.Join(errs...)
}

// collect appends id and everything reachable from it in pre-order.
func (t *Tree) collect(id NodeID, out []NodeID) []NodeID {
	for ; !id.IsZero(); id = t.get(id).After() {
		n := t.get(id)
		out = append(out, id)
		if n.args != nil {
			for _, s := range n.args.names {
				if c := n.args.conn[s]; !c.IsZero() {
					out = t.collect(c, out)
				}
			}
		}
		if !n.Inner().IsZero() {
			out = t.collect(n.Inner(), out)
		}
		if n.seq == nil {
			break
		}
	}
	return out
}

// PromoteCheck reports why id cannot be moved to list.
func (t *Tree) PromoteCheck(id NodeID, list RootList) error {
	n, err := t.lookup(id)
	if err != nil {
		return err
	}
	if n.root == Attached {
		return structural(n, "only unattached nodes can change root list")
	}
	if t.listFor(list) == nil {
		return structural(n, fmt.Sprintf("%s is not a root list", list))
	}
	if list != Crumbs && !n.kind.IsInstruction() {
		return structural(n, fmt.Sprintf("only instruction chains can be %s roots", list))
	}
	return nil
}

// Promote moves an unattached node between root lists.
func (t *Tree) Promote(id NodeID, list RootList) error {
	if err := t.PromoteCheck(id, list); err != nil {
		return err
	}
	n := t.get(id)
	if n.root == list {
		return nil
	}
	t.dropRoot(n)
	t.pushRoot(n, list)
	t.version++
	return nil
}

// RootOf follows incoming edges from id up to the node that sits in a root
// list.
func (t *Tree) RootOf(id NodeID) NodeID {
	for {
		n := t.get(id)
		if n == nil {
			return None
		}
		if n.root != Attached {
			return id
		}
		switch {
		case n.kind.IsArgument():
			id = n.connectedTo
		case !n.seq.before.IsZero():
			id = n.seq.before
		default:
			id = n.seq.parent
		}
	}
}

func structural(n *Node, message string) *fault.Error {
	return fault.New(fault.StructuralAttach, message).At(n.element, n.id.String())
}
