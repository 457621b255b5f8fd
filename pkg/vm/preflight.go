package vm

import (
	"github.com/zurustar/kumiki/pkg/element"
	"github.com/zurustar/kumiki/pkg/fault"
	"github.com/zurustar/kumiki/pkg/tree"
)

// FindUnresolvedArgument walks the argument subtree of id, following
// Expression children, and returns the first node and slot left empty, in
// evaluation order. It returns tree.None when every slot is filled.
func FindUnresolvedArgument(t *tree.Tree, id tree.NodeID) (tree.NodeID, string, error) {
	n, err := t.Node(id)
	if err != nil {
		return tree.None, "", err
	}
	for _, slot := range n.Slots() {
		child := n.Argument(slot)
		if child.IsZero() {
			return id, slot, nil
		}
		cn, err := t.Node(child)
		if err != nil {
			return tree.None, "", err
		}
		if cn.Kind() != element.KindExpression {
			continue
		}
		at, s, err := FindUnresolvedArgument(t, child)
		if err != nil || !at.IsZero() {
			return at, s, err
		}
	}
	return tree.None, "", nil
}

// FlattenArgumentOrder returns the argument instances of id in the order a
// run evaluates them: each Expression after its own arguments, slots in
// declared order. The node itself is not included.
func FlattenArgumentOrder(t *tree.Tree, id tree.NodeID) ([]element.Instance, error) {
	var out []element.Instance
	if err := flatten(t, id, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func flatten(t *tree.Tree, id tree.NodeID, out *[]element.Instance) error {
	n, err := t.Node(id)
	if err != nil {
		return err
	}
	for _, slot := range n.Slots() {
		child := n.Argument(slot)
		if child.IsZero() {
			return fault.NewUnresolvedArgumentError(n.Element(), id.String(), slot)
		}
		if err := flatten(t, child, out); err != nil {
			return err
		}
		inst, err := t.InstanceOf(child)
		if err != nil {
			return err
		}
		*out = append(*out, inst)
	}
	return nil
}

// ValidateRoot checks every instruction reachable from root, through
// sequence and scope links, for unresolved argument slots. The first one
// found is reported as an UnresolvedArgument error.
func ValidateRoot(t *tree.Tree, root tree.NodeID) error {
	work := []tree.NodeID{root}
	for len(work) > 0 {
		id := work[len(work)-1]
		work = work[:len(work)-1]

		n, err := t.Node(id)
		if err != nil {
			return err
		}
		at, slot, err := FindUnresolvedArgument(t, id)
		if err != nil {
			return err
		}
		if !at.IsZero() {
			owner, err := t.Node(at)
			if err != nil {
				return err
			}
			return fault.NewUnresolvedArgumentError(owner.Element(), at.String(), slot)
		}
		// after is pushed first so the inner scope is checked first
		if after := n.After(); !after.IsZero() {
			work = append(work, after)
		}
		if inner := n.Inner(); !inner.IsZero() {
			work = append(work, inner)
		}
	}
	return nil
}
