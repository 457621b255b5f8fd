package tree

import (
	"fmt"

	"github.com/zurustar/kumiki/pkg/element"
)

func (t *Tree) specOf(n *Node) (*element.Spec, error) {
	return t.registry.SpecificationOf(n.element)
}

// AttachArgumentCheck reports why child cannot fill slot of parent.
func (t *Tree) AttachArgumentCheck(parent NodeID, slot string, child NodeID) error {
	p, err := t.lookup(parent)
	if err != nil {
		return err
	}
	c, err := t.lookup(child)
	if err != nil {
		return err
	}
	if !p.hasSlot(slot) {
		return structural(p, "no such argument slot").InSlot(slot)
	}
	if !p.args.conn[slot].IsZero() {
		return structural(p, "argument slot is occupied").InSlot(slot)
	}
	if !c.kind.IsArgument() {
		return structural(c, fmt.Sprintf("a %s cannot fill an argument slot", c.kind))
	}
	if c.root != Crumbs {
		return structural(c, "argument is already connected")
	}
	if t.RootOf(parent) == child {
		return structural(c, "attaching would create a cycle")
	}

	pspec, err := t.specOf(p)
	if err != nil {
		return err
	}
	cspec, err := t.specOf(c)
	if err != nil {
		return err
	}
	arg, _ := pspec.Arg(slot)
	if !t.registry.Accepts(arg, cspec.Returns) {
		return structural(p, fmt.Sprintf("slot does not accept %s returning %v", c.element, cspec.Returns)).InSlot(slot)
	}
	return nil
}

// AttachArgument connects child to slot of parent and takes child out of
// crumbs.
func (t *Tree) AttachArgument(parent NodeID, slot string, child NodeID) error {
	if err := t.AttachArgumentCheck(parent, slot, child); err != nil {
		return err
	}
	p, c := t.get(parent), t.get(child)
	t.dropRoot(c)
	p.args.conn[slot] = child
	c.connectedTo = parent
	c.slot = slot
	t.version++
	t.log.Debug("Argument attached", "parent", parent, "slot", slot, "child", child)
	return nil
}

// DetachArgumentCheck reports why slot of parent cannot be emptied.
func (t *Tree) DetachArgumentCheck(parent NodeID, slot string) error {
	p, err := t.lookup(parent)
	if err != nil {
		return err
	}
	if !p.hasSlot(slot) {
		return structural(p, "no such argument slot").InSlot(slot)
	}
	if p.args.conn[slot].IsZero() {
		return structural(p, "argument slot is already empty").InSlot(slot)
	}
	return nil
}

// DetachArgument empties slot of parent and returns the detached node to
// crumbs.
func (t *Tree) DetachArgument(parent NodeID, slot string) (NodeID, error) {
	if err := t.DetachArgumentCheck(parent, slot); err != nil {
		return None, err
	}
	p := t.get(parent)
	child := p.args.conn[slot]
	c := t.get(child)
	delete(p.args.conn, slot)
	c.connectedTo = None
	c.slot = ""
	t.pushRoot(c, Crumbs)
	t.version++
	t.log.Debug("Argument detached", "parent", parent, "slot", slot, "child", child)
	return child, nil
}

// chainCheck validates lower as the head of a loose instruction chain that
// may be spliced somewhere under anchor.
func (t *Tree) chainCheck(anchor, lower *Node) error {
	if !lower.kind.IsInstruction() {
		return structural(lower, fmt.Sprintf("a %s is not an instruction", lower.kind))
	}
	if lower.root != Crumbs {
		return structural(lower, "only loose chains from crumbs can be attached")
	}
	if t.RootOf(anchor.id) == lower.id {
		return structural(lower, "attaching would create a cycle")
	}
	return nil
}

// spliceCheck asks the registry whether the tail of the chain headed by
// lower may sit above next.
func (t *Tree) spliceCheck(lower *Node, next NodeID) error {
	if next.IsZero() {
		return nil
	}
	seq := t.Sequence(lower.id)
	tail := t.get(seq[len(seq)-1])
	tspec, err := t.specOf(tail)
	if err != nil {
		return err
	}
	nn := t.get(next)
	nspec, err := t.specOf(nn)
	if err != nil {
		return err
	}
	if !t.registry.CanAttachAbove(nspec, tspec) {
		return structural(tail, fmt.Sprintf("%s cannot sit above %s", tail.element, nn.element))
	}
	return nil
}

// AttachInstructionBelowCheck reports why the chain headed by lower cannot
// be inserted directly after upper.
func (t *Tree) AttachInstructionBelowCheck(upper, lower NodeID) error {
	u, err := t.lookup(upper)
	if err != nil {
		return err
	}
	l, err := t.lookup(lower)
	if err != nil {
		return err
	}
	if !u.kind.IsInstruction() {
		return structural(u, fmt.Sprintf("a %s has no sequence", u.kind))
	}
	if err := t.chainCheck(u, l); err != nil {
		return err
	}
	uspec, err := t.specOf(u)
	if err != nil {
		return err
	}
	lspec, err := t.specOf(l)
	if err != nil {
		return err
	}
	if !t.registry.CanAttachBelow(uspec, lspec) {
		return structural(u, fmt.Sprintf("%s cannot be attached below %s", l.element, u.element))
	}
	return t.spliceCheck(l, u.seq.after)
}

// AttachInstructionBelow inserts the chain headed by lower after upper. The
// instruction that previously followed upper now follows the chain's tail.
func (t *Tree) AttachInstructionBelow(upper, lower NodeID) error {
	if err := t.AttachInstructionBelowCheck(upper, lower); err != nil {
		return err
	}
	u, l := t.get(upper), t.get(lower)
	t.dropRoot(l)
	t.splice(u.seq.parent, u.seq.after, l, u.seq.nest)
	u.seq.after = lower
	l.seq.before = upper
	t.version++
	t.log.Debug("Instruction attached below", "upper", upper, "lower", lower)
	return nil
}

// splice links the chain headed by head into parent's scope at nesting
// level nest, in front of next.
func (t *Tree) splice(parent, next NodeID, head *Node, nest int) {
	seq := t.Sequence(head.id)
	for _, id := range seq {
		n := t.get(id)
		n.seq.parent = parent
		t.setNest(n, nest)
	}
	tail := t.get(seq[len(seq)-1])
	tail.seq.after = next
	if nn := t.get(next); nn != nil {
		nn.seq.before = tail.id
	}
	if p := t.get(parent); p != nil {
		p.inner.count += len(seq)
	}
}

// unsplice cuts the chain starting at head out of its scope and returns it
// to crumbs as one loose chain.
func (t *Tree) unsplice(head *Node) {
	seq := t.Sequence(head.id)
	if p := t.get(head.seq.parent); p != nil {
		p.inner.count -= len(seq)
	}
	for _, id := range seq {
		n := t.get(id)
		n.seq.parent = None
		t.setNest(n, 0)
	}
	head.seq.before = None
	t.pushRoot(head, Crumbs)
}

func (t *Tree) setNest(n *Node, level int) {
	n.seq.nest = level
	for c := n.Inner(); !c.IsZero(); {
		cn := t.get(c)
		t.setNest(cn, level+1)
		c = cn.seq.after
	}
}

// DetachInstructionBelowCheck reports why nothing can be detached below
// upper.
func (t *Tree) DetachInstructionBelowCheck(upper NodeID) error {
	u, err := t.lookup(upper)
	if err != nil {
		return err
	}
	if u.After().IsZero() {
		return structural(u, "no instruction follows this node")
	}
	return nil
}

// DetachInstructionBelow cuts every instruction after upper and returns the
// head of that chain, now a crumb.
func (t *Tree) DetachInstructionBelow(upper NodeID) (NodeID, error) {
	if err := t.DetachInstructionBelowCheck(upper); err != nil {
		return None, err
	}
	u := t.get(upper)
	head := t.get(u.seq.after)
	u.seq.after = None
	t.unsplice(head)
	t.version++
	t.log.Debug("Instruction detached below", "upper", upper, "head", head.id)
	return head.id, nil
}

// AttachInstructionInsideCheck reports why the chain headed by lower cannot
// open the scope of block.
func (t *Tree) AttachInstructionInsideCheck(block, lower NodeID) error {
	b, err := t.lookup(block)
	if err != nil {
		return err
	}
	l, err := t.lookup(lower)
	if err != nil {
		return err
	}
	if b.inner == nil {
		return structural(b, fmt.Sprintf("a %s has no inner scope", b.kind))
	}
	if err := t.chainCheck(b, l); err != nil {
		return err
	}
	bspec, err := t.specOf(b)
	if err != nil {
		return err
	}
	lspec, err := t.specOf(l)
	if err != nil {
		return err
	}
	if !t.registry.CanAttachInside(bspec, lspec) {
		return structural(b, fmt.Sprintf("%s cannot be attached inside %s", l.element, b.element))
	}
	return t.spliceCheck(l, b.inner.first)
}

// AttachInstructionInside inserts the chain headed by lower at the start of
// block's scope.
func (t *Tree) AttachInstructionInside(block, lower NodeID) error {
	if err := t.AttachInstructionInsideCheck(block, lower); err != nil {
		return err
	}
	b, l := t.get(block), t.get(lower)
	t.dropRoot(l)
	t.splice(block, b.inner.first, l, b.seq.nest+1)
	b.inner.first = lower
	t.version++
	t.log.Debug("Instruction attached inside", "block", block, "lower", lower)
	return nil
}

// DetachInstructionInsideCheck reports why block's scope cannot be emptied.
func (t *Tree) DetachInstructionInsideCheck(block NodeID) error {
	b, err := t.lookup(block)
	if err != nil {
		return err
	}
	if b.inner == nil {
		return structural(b, fmt.Sprintf("a %s has no inner scope", b.kind))
	}
	if b.inner.first.IsZero() {
		return structural(b, "block scope is already empty")
	}
	return nil
}

// DetachInstructionInside cuts block's whole scope out as one crumb chain
// and returns its head.
func (t *Tree) DetachInstructionInside(block NodeID) (NodeID, error) {
	if err := t.DetachInstructionInsideCheck(block); err != nil {
		return None, err
	}
	b := t.get(block)
	head := t.get(b.inner.first)
	b.inner.first = None
	t.unsplice(head)
	t.version++
	t.log.Debug("Instruction detached inside", "block", block, "head", head.id)
	return head.id, nil
}
