package tree

import (
	"fmt"

	"github.com/zurustar/kumiki/pkg/element"
)

// Snapshot describes one node and everything hanging off it. A nil entry
// in Args records an empty slot.
type Snapshot struct {
	Element string               `yaml:"element" json:"element"`
	Value   any                  `yaml:"value,omitempty" json:"value,omitempty"`
	Args    map[string]*Snapshot `yaml:"args,omitempty" json:"args,omitempty"`
	Scope   Chain                `yaml:"scope,omitempty" json:"scope,omitempty"`
}

// Chain is an instruction sequence, or a single loose argument node.
type Chain []*Snapshot

// Program is the serializable form of a whole tree. Node ids are not
// recorded; they are regenerated on rebuild.
type Program struct {
	Process []Chain `yaml:"process,omitempty" json:"process,omitempty"`
	Routine []Chain `yaml:"routine,omitempty" json:"routine,omitempty"`
	Crumbs  []Chain `yaml:"crumbs,omitempty" json:"crumbs,omitempty"`
}

// Generate describes the tree as a Program.
func (t *Tree) Generate() (*Program, error) {
	p := &Program{}
	for _, part := range []struct {
		list RootList
		out  *[]Chain
	}{
		{Process, &p.Process},
		{Routine, &p.Routine},
		{Crumbs, &p.Crumbs},
	} {
		for _, head := range t.Roots(part.list) {
			chain, err := t.chainSnapshot(head)
			if err != nil {
				return nil, err
			}
			*part.out = append(*part.out, chain)
		}
	}
	return p, nil
}

// SnapshotOf describes the sub-tree rooted at id, without the instructions
// that follow it.
func (t *Tree) SnapshotOf(id NodeID) (*Snapshot, error) {
	n, err := t.lookup(id)
	if err != nil {
		return nil, err
	}

	s := &Snapshot{Element: n.element}
	inst, err := t.pool.InstanceOf(n.instance)
	if err != nil {
		return nil, err
	}
	if v, ok := inst.(element.Valued); ok {
		s.Value = v.Value()
	}

	if n.args != nil && len(n.args.names) > 0 {
		s.Args = make(map[string]*Snapshot, len(n.args.names))
		for _, name := range n.args.names {
			child := n.args.conn[name]
			if child.IsZero() {
				s.Args[name] = nil
				continue
			}
			if s.Args[name], err = t.SnapshotOf(child); err != nil {
				return nil, err
			}
		}
	}

	if first := n.Inner(); !first.IsZero() {
		if s.Scope, err = t.chainSnapshot(first); err != nil {
			return nil, err
		}
	}
	return s, nil
}

func (t *Tree) chainSnapshot(head NodeID) (Chain, error) {
	var chain Chain
	for _, id := range t.Sequence(head) {
		s, err := t.SnapshotOf(id)
		if err != nil {
			return nil, err
		}
		chain = append(chain, s)
	}
	return chain, nil
}

// Rebuild adds every chain of p to the tree through the checked edit
// operations. On error, everything Rebuild created is removed again.
func (t *Tree) Rebuild(p *Program) error {
	var created []NodeID
	rollback := func(err error) error {
		for i := len(created) - 1; i >= 0; i-- {
			if n := t.get(created[i]); n != nil && n.root != Attached {
				if rerr := t.RemoveSubtree(created[i]); rerr != nil {
					t.log.Error("Rollback failed", "node", created[i], "error", rerr)
				}
			}
		}
		return err
	}

	for _, part := range []struct {
		list   RootList
		chains []Chain
	}{
		{Process, p.Process},
		{Routine, p.Routine},
		{Crumbs, p.Crumbs},
	} {
		for i, chain := range part.chains {
			head, err := t.buildChain(chain, &created)
			if err != nil {
				return rollback(fmt.Errorf("%s chain %d: %w", part.list, i, err))
			}
			if err := t.Promote(head, part.list); err != nil {
				return rollback(fmt.Errorf("%s chain %d: %w", part.list, i, err))
			}
		}
	}
	t.log.Debug("Program rebuilt", "nodes", len(created))
	return nil
}

func (t *Tree) buildChain(chain Chain, created *[]NodeID) (NodeID, error) {
	if len(chain) == 0 {
		return None, fmt.Errorf("empty chain")
	}
	var head, prev NodeID
	for i, s := range chain {
		id, err := t.buildNode(s, created)
		if err != nil {
			return None, err
		}
		if i == 0 {
			head = id
		} else if err := t.AttachInstructionBelow(prev, id); err != nil {
			return None, err
		}
		prev = id
	}
	return head, nil
}

func (t *Tree) buildNode(s *Snapshot, created *[]NodeID) (NodeID, error) {
	if s == nil {
		return None, fmt.Errorf("missing node description")
	}
	id, err := t.AddNode(s.Element)
	if err != nil {
		return None, err
	}
	*created = append(*created, id)
	n := t.get(id)

	if s.Value != nil {
		inst, err := t.pool.InstanceOf(n.instance)
		if err != nil {
			return None, err
		}
		v, ok := inst.(element.Valued)
		if !ok {
			return None, structural(n, "element does not carry a value")
		}
		if err := v.SetValue(s.Value); err != nil {
			return None, fmt.Errorf("%s: %w", s.Element, err)
		}
	}

	for name := range s.Args {
		if !n.hasSlot(name) {
			return None, structural(n, "no such argument slot").InSlot(name)
		}
	}
	for _, name := range n.Slots() {
		child := s.Args[name]
		if child == nil {
			continue
		}
		cid, err := t.buildNode(child, created)
		if err != nil {
			return None, err
		}
		if err := t.AttachArgument(id, name, cid); err != nil {
			return None, err
		}
	}

	if len(s.Scope) > 0 {
		head, err := t.buildChain(s.Scope, created)
		if err != nil {
			return None, err
		}
		if err := t.AttachInstructionInside(id, head); err != nil {
			return None, err
		}
	}
	return id, nil
}
