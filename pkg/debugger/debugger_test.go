package debugger

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zurustar/kumiki/pkg/element"
	"github.com/zurustar/kumiki/pkg/library"
	"github.com/zurustar/kumiki/pkg/scope"
	"github.com/zurustar/kumiki/pkg/script"
	"github.com/zurustar/kumiki/pkg/tree"
	"github.com/zurustar/kumiki/pkg/vm"
)

const countTwice = `process:
  - - element: process
      scope:
        - element: box-number
          args:
            name: {element: text, value: a}
            value: {element: number, value: 0}
        - element: repeat
          args:
            times: {element: number, value: 2}
          scope:
            - element: print
              args:
                value: {element: variable, value: a}
            - element: box-number
              args:
                name: {element: text, value: a}
                value:
                  element: operator-plus
                  args:
                    a: {element: variable, value: a}
                    b: {element: number, value: 1}
`

var quiet = slog.New(slog.NewTextHandler(io.Discard, nil))

// lines replays fixed commands, then reports EOF.
type lines struct {
	cmds []string
	read int
}

func (l *lines) Readline() (string, error) {
	if l.read >= len(l.cmds) {
		return "", io.EOF
	}
	l.read++
	return l.cmds[l.read-1], nil
}

func (l *lines) Close() error { return nil }

type session struct {
	tree    *tree.Tree
	root    tree.NodeID
	printID tree.NodeID
	program bytes.Buffer
	console bytes.Buffer
}

func newSession(t *testing.T) *session {
	t.Helper()
	p, err := script.Decode([]byte(countTwice), script.FormatYAML, script.EncodingUTF8)
	require.NoError(t, err)

	c := library.NewCatalog()
	tr := tree.New(c, element.NewWarehouse(c), tree.WithLogger(quiet))
	require.NoError(t, tr.Rebuild(p))

	s := &session{tree: tr, root: tr.Roots(tree.Process)[0]}
	proc, err := tr.Node(s.root)
	require.NoError(t, err)
	repeatID := tr.Sequence(proc.Inner())[1]
	repeat, err := tr.Node(repeatID)
	require.NoError(t, err)
	s.printID = repeat.Inner()
	return s
}

func (s *session) run(t *testing.T, cmds []string, setup ...func(*Debugger)) error {
	t.Helper()
	d := New(s.tree, &lines{cmds: cmds}, &s.console,
		WithLogger(quiet),
		WithInterpreterOptions(vm.WithLogger(quiet), vm.WithOutput(&s.program)))
	for _, f := range setup {
		f(d)
	}
	return d.Run(context.Background(), s.root, scope.NewStack())
}

func TestContinue(t *testing.T) {
	s := newSession(t)
	require.NoError(t, s.run(t, []string{"c"}))
	assert.Equal(t, "0\n1\n", s.program.String())
	assert.Contains(t, s.console.String(), "Program finished after")
	assert.Contains(t, s.console.String(), "   1  entry process#")
}

func TestQuit(t *testing.T) {
	for _, cmds := range [][]string{{"q"}, {"exit"}, nil} {
		s := newSession(t)
		err := s.run(t, cmds)
		assert.ErrorIs(t, err, ErrQuit)
		assert.Empty(t, s.program.String())
		assert.NotContains(t, s.console.String(), "error:")
	}
}

func TestStepAndInspect(t *testing.T) {
	s := newSession(t)
	err := s.run(t, []string{"step 3", "pending", "s", "vars", "w", "c"})
	require.NoError(t, err)

	out := s.console.String()
	// the fourth step is the box-number entry with both arguments ready
	assert.Contains(t, out, "   4  entry box-number#")
	assert.Contains(t, out, "  name = a\n  value = 0\n")
	assert.Contains(t, out, "  a = 0\n")
	assert.Contains(t, out, ", 4 steps executed")
	assert.Equal(t, "0\n1\n", s.program.String())
}

func TestBreakpoints(t *testing.T) {
	s := newSession(t)
	err := s.run(t, []string{"c", "c", "c"}, func(d *Debugger) {
		require.NoError(t, d.Break(s.printID))
	})
	require.NoError(t, err)

	stops := strings.Count(s.console.String(), "entry print#"+s.printID.String())
	assert.Equal(t, 2, stops, s.console.String())
	assert.Equal(t, "0\n1\n", s.program.String())
}

func TestBreakCommands(t *testing.T) {
	s := newSession(t)
	id := s.printID.String()
	err := s.run(t, []string{
		"l",
		"b " + id,
		"l",
		"d " + id,
		"d " + id,
		"b 999:1",
		"b nonsense",
		"b",
		"q",
	})
	assert.ErrorIs(t, err, ErrQuit)

	out := s.console.String()
	assert.Contains(t, out, "No breakpoints\n")
	assert.Contains(t, out, "Breakpoint set at "+id)
	assert.Contains(t, out, "  "+id+" print\n")
	assert.Contains(t, out, "Breakpoint at "+id+" deleted")
	assert.Contains(t, out, "No breakpoint at "+id)
	assert.Contains(t, out, "no node 999:1")
	assert.Contains(t, out, "want index:generation")
	assert.Contains(t, out, "Usage: break|delete")
}

func TestUnknownCommandAndHelp(t *testing.T) {
	s := newSession(t)
	err := s.run(t, []string{"", "bogus", "help", "step 0", "q"})
	assert.ErrorIs(t, err, ErrQuit)

	out := s.console.String()
	assert.Contains(t, out, "Unknown command: bogus")
	assert.Contains(t, out, "Debugger commands:")
	assert.Contains(t, out, "Invalid step count: 0")
}

func TestRunReportsProgramErrors(t *testing.T) {
	s := newSession(t)
	// an empty slot fails pre-flight before any prompt
	id, err := s.tree.DetachArgument(s.printID, "value")
	require.NoError(t, err)
	require.NotZero(t, id)

	err = s.run(t, nil)
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrQuit)
	assert.Empty(t, s.console.String())
}
