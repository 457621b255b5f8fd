package vm

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/zurustar/kumiki/pkg/element"
	"github.com/zurustar/kumiki/pkg/library"
	"github.com/zurustar/kumiki/pkg/scope"
	"github.com/zurustar/kumiki/pkg/tree"
)

var quiet = slog.New(slog.NewTextHandler(io.Discard, nil))

// fixture builds trees over the standard library. Builder methods fail the
// test on any structural error.
type fixture struct {
	t       testing.TB
	catalog *element.Catalog
	tree    *tree.Tree
}

func newFixture(t testing.TB) *fixture {
	t.Helper()
	c := library.NewCatalog()
	return &fixture{
		t:       t,
		catalog: c,
		tree:    tree.New(c, element.NewWarehouse(c), tree.WithLogger(quiet)),
	}
}

func (f *fixture) node(name string) tree.NodeID {
	f.t.Helper()
	id, err := f.tree.AddNode(name)
	if err != nil {
		f.t.Fatalf("AddNode(%s): %v", name, err)
	}
	return id
}

func (f *fixture) literal(name string, v any) tree.NodeID {
	f.t.Helper()
	id := f.node(name)
	inst, err := f.tree.InstanceOf(id)
	if err != nil {
		f.t.Fatal(err)
	}
	if err := inst.(element.Valued).SetValue(v); err != nil {
		f.t.Fatalf("SetValue(%v): %v", v, err)
	}
	return id
}

func (f *fixture) num(v float64) tree.NodeID     { return f.literal(library.Number, v) }
func (f *fixture) text(s string) tree.NodeID     { return f.literal(library.Text, s) }
func (f *fixture) boolean(b bool) tree.NodeID    { return f.literal(library.Boolean, b) }
func (f *fixture) variable(n string) tree.NodeID { return f.literal(library.Variable, n) }

// with adds a node and fills its slots; pairs alternate slot name and child.
func (f *fixture) with(name string, pairs ...any) tree.NodeID {
	f.t.Helper()
	id := f.node(name)
	for i := 0; i+1 < len(pairs); i += 2 {
		f.arg(id, pairs[i].(string), pairs[i+1].(tree.NodeID))
	}
	return id
}

func (f *fixture) arg(parent tree.NodeID, slot string, child tree.NodeID) {
	f.t.Helper()
	if err := f.tree.AttachArgument(parent, slot, child); err != nil {
		f.t.Fatalf("AttachArgument(%s, %s): %v", parent, slot, err)
	}
}

// chain links ids one below the other and returns the head.
func (f *fixture) chain(ids ...tree.NodeID) tree.NodeID {
	f.t.Helper()
	for i := 1; i < len(ids); i++ {
		if err := f.tree.AttachInstructionBelow(ids[i-1], ids[i]); err != nil {
			f.t.Fatalf("AttachInstructionBelow: %v", err)
		}
	}
	return ids[0]
}

// inside places the chain headed by head in block's scope and returns block.
func (f *fixture) inside(block, head tree.NodeID) tree.NodeID {
	f.t.Helper()
	if err := f.tree.AttachInstructionInside(block, head); err != nil {
		f.t.Fatalf("AttachInstructionInside: %v", err)
	}
	return block
}

func (f *fixture) print(value tree.NodeID) tree.NodeID {
	return f.with(library.Print, "value", value)
}

func (f *fixture) boxNumber(name string, value tree.NodeID) tree.NodeID {
	return f.with(library.BoxNumber, "name", f.text(name), "value", value)
}

func (f *fixture) repeat(times float64, body tree.NodeID) tree.NodeID {
	return f.inside(f.with(library.Repeat, "times", f.num(times)), body)
}

// trace runs root and returns every executed step and the printed output.
func (f *fixture) trace(root tree.NodeID, opts ...Option) ([]Step, string, error) {
	f.t.Helper()
	var steps []Step
	var out bytes.Buffer
	opts = append([]Option{
		WithLogger(quiet),
		WithOutput(&out),
		WithStepHook(func(s Step) error {
			steps = append(steps, s)
			return nil
		}),
	}, opts...)
	err := New(f.tree, opts...).Run(context.Background(), root, scope.NewStack())
	return steps, out.String(), err
}

// describe renders steps compactly: instructions by element name with an
// ":exit" suffix for exits, arguments as "element>marker".
func describe(steps []Step) string {
	parts := make([]string, 0, len(steps))
	for _, s := range steps {
		switch s.Kind {
		case StepArgument:
			parts = append(parts, s.Element+">"+s.Marker)
		case StepInstruction:
			if s.Phase == PhaseExit {
				parts = append(parts, s.Element+":exit")
			} else {
				parts = append(parts, s.Element)
			}
		}
	}
	return strings.Join(parts, " ")
}

// instructions keeps only the instruction steps.
func instructions(steps []Step) []Step {
	var out []Step
	for _, s := range steps {
		if s.Kind == StepInstruction {
			out = append(out, s)
		}
	}
	return out
}

// within reports whether instruction id sits somewhere in block's scope.
func (f *fixture) within(id, block tree.NodeID) bool {
	for {
		n, err := f.tree.Node(id)
		if err != nil {
			return false
		}
		p := n.Parent()
		if p.IsZero() {
			return false
		}
		if p == block {
			return true
		}
		id = p
	}
}

// owner returns the instruction whose argument subtree holds id, or id
// itself for an instruction.
func (f *fixture) owner(id tree.NodeID) tree.NodeID {
	for {
		n, err := f.tree.Node(id)
		if err != nil || n.Kind().IsInstruction() {
			return id
		}
		parent, _ := n.ConnectedTo()
		if parent.IsZero() {
			return id
		}
		id = parent
	}
}
