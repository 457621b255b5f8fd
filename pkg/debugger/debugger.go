// Package debugger drives a run one step at a time from a command prompt.
package debugger

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strconv"
	"strings"

	"github.com/chzyer/readline"

	"github.com/zurustar/kumiki/pkg/element"
	"github.com/zurustar/kumiki/pkg/logger"
	"github.com/zurustar/kumiki/pkg/tree"
	"github.com/zurustar/kumiki/pkg/vm"
)

// ErrQuit is returned by Run when the user quits before the program ends.
var ErrQuit = errors.New("debugger: quit")

// LineReader supplies command lines. *readline.Instance satisfies it.
type LineReader interface {
	Readline() (string, error)
	Close() error
}

// NewReadline opens a readline prompt with history kept in historyFile.
// An empty historyFile disables history.
func NewReadline(prompt, historyFile string) (*readline.Instance, error) {
	return readline.NewEx(&readline.Config{
		Prompt:          prompt,
		HistoryFile:     historyFile,
		HistoryLimit:    1000,
		InterruptPrompt: "^C",
		EOFPrompt:       "quit",
	})
}

// Debugger stops before steps and reads commands until told to go on.
type Debugger struct {
	tree   *tree.Tree
	reader LineReader
	out    io.Writer
	log    *slog.Logger
	vmOpts []vm.Option

	breakpoints map[tree.NodeID]bool
	stepping    bool
	remaining   int
	session     *vm.Session
}

// Option configures a Debugger.
type Option func(*Debugger)

// WithLogger sets the logger.
func WithLogger(log *slog.Logger) Option {
	return func(d *Debugger) { d.log = log }
}

// WithInterpreterOptions passes options to the interpreter the debugger
// runs. A step hook given here is replaced by the debugger's own.
func WithInterpreterOptions(opts ...vm.Option) Option {
	return func(d *Debugger) { d.vmOpts = append(d.vmOpts, opts...) }
}

// New creates a debugger over t that reads commands from reader and writes
// to out. It starts in stepping mode.
func New(t *tree.Tree, reader LineReader, out io.Writer, opts ...Option) *Debugger {
	d := &Debugger{
		tree:        t,
		reader:      reader,
		out:         out,
		log:         logger.GetLogger(),
		breakpoints: make(map[tree.NodeID]bool),
		stepping:    true,
		remaining:   1,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Break sets a breakpoint on a node. Steps of that node stop the run even
// when continuing.
func (d *Debugger) Break(id tree.NodeID) error {
	if !d.tree.Contains(id) {
		return fmt.Errorf("no node %s", id)
	}
	d.breakpoints[id] = true
	return nil
}

// Run executes root under the debugger. It returns ErrQuit when the user
// quits, and otherwise whatever the run returns.
func (d *Debugger) Run(ctx context.Context, root tree.NodeID, sc element.Scope) error {
	opts := append(append([]vm.Option{}, d.vmOpts...), vm.WithStepHook(d.beforeStep))
	in := vm.New(d.tree, opts...)

	s, err := in.Start(root, sc)
	if err != nil {
		return err
	}
	defer s.Close()
	d.session = s
	defer func() { d.session = nil }()

	fmt.Fprintf(d.out, "Debugging %s. Type 'help' for commands.\n", root)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		st, err := s.Step()
		if err != nil {
			if !errors.Is(err, ErrQuit) {
				fmt.Fprintf(d.out, "error: %v\n", err)
			}
			return err
		}
		if st.Kind == vm.StepEnd {
			fmt.Fprintf(d.out, "Program finished after %d steps.\n", s.Steps())
			return nil
		}
	}
}

func (d *Debugger) shouldStop(st vm.Step) bool {
	if d.breakpoints[st.Node] {
		return true
	}
	if !d.stepping {
		return false
	}
	d.remaining--
	return d.remaining <= 0
}

// beforeStep is the interpreter step hook.
func (d *Debugger) beforeStep(st vm.Step) error {
	if !d.shouldStop(st) {
		return nil
	}
	d.printStep(st)

	for {
		line, err := d.reader.Readline()
		if errors.Is(err, readline.ErrInterrupt) {
			continue
		}
		if err != nil {
			// EOF ends the session
			return ErrQuit
		}

		fields := strings.Fields(line)
		if len(fields) == 0 {
			continue
		}
		cmd, args := fields[0], fields[1:]

		switch cmd {
		case "help", "h":
			printHelp(d.out)
		case "step", "s", "next", "n":
			n := 1
			if len(args) > 0 {
				if n, err = strconv.Atoi(args[0]); err != nil || n < 1 {
					fmt.Fprintf(d.out, "Invalid step count: %s\n", args[0])
					continue
				}
			}
			d.stepping, d.remaining = true, n
			return nil
		case "continue", "c":
			d.stepping = false
			return nil
		case "break", "b":
			d.handleBreak(args, true)
		case "delete", "d":
			d.handleBreak(args, false)
		case "list", "l":
			d.handleList()
		case "where", "w":
			d.printStep(st)
			fmt.Fprintf(d.out, "  depth %d, %d steps executed\n", d.session.Context().Depth(), d.session.Steps())
		case "vars", "locals":
			d.handleVars()
		case "pending", "p":
			d.handlePending(st)
		case "quit", "q", "exit":
			return ErrQuit
		default:
			fmt.Fprintf(d.out, "Unknown command: %s. Type 'help' for help.\n", cmd)
		}
	}
}

func (d *Debugger) printStep(st vm.Step) {
	fmt.Fprintf(d.out, "%4d  %s\n", d.session.Steps()+1, st)
}

func (d *Debugger) handleBreak(args []string, set bool) {
	if len(args) == 0 {
		fmt.Fprintf(d.out, "Usage: break|delete <index:generation>\n")
		return
	}
	id, err := tree.ParseNodeID(args[0])
	if err != nil {
		fmt.Fprintf(d.out, "%v\n", err)
		return
	}
	if !set {
		if !d.breakpoints[id] {
			fmt.Fprintf(d.out, "No breakpoint at %s\n", id)
			return
		}
		delete(d.breakpoints, id)
		fmt.Fprintf(d.out, "Breakpoint at %s deleted\n", id)
		return
	}
	if err := d.Break(id); err != nil {
		fmt.Fprintf(d.out, "%v\n", err)
		return
	}
	fmt.Fprintf(d.out, "Breakpoint set at %s\n", id)
}

func (d *Debugger) handleList() {
	if len(d.breakpoints) == 0 {
		fmt.Fprintf(d.out, "No breakpoints\n")
		return
	}
	ids := make([]tree.NodeID, 0, len(d.breakpoints))
	for id := range d.breakpoints {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i].Index < ids[j].Index })
	for _, id := range ids {
		name := "?"
		if n, err := d.tree.Node(id); err == nil {
			name = n.Element()
		}
		fmt.Fprintf(d.out, "  %s %s\n", id, name)
	}
}

// visible is implemented by scopes that can list their variables.
type visible interface {
	Visible() map[string]any
}

func (d *Debugger) handleVars() {
	sc, ok := d.session.Env().Scope.(visible)
	if !ok {
		fmt.Fprintf(d.out, "Scope cannot list variables\n")
		return
	}
	printValues(d.out, sc.Visible(), "No variables")
}

func (d *Debugger) handlePending(st vm.Step) {
	printValues(d.out, d.session.Pending(st.Node), "No argument values collected")
}

func printValues(w io.Writer, values map[string]any, empty string) {
	if len(values) == 0 {
		fmt.Fprintf(w, "%s\n", empty)
		return
	}
	names := make([]string, 0, len(values))
	for name := range values {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Fprintf(w, "  %s = %v\n", name, values[name])
	}
}

func printHelp(w io.Writer) {
	fmt.Fprint(w, `Debugger commands:
  help, h                  - Show this help
  step, s, next, n [count] - Execute the shown step and stop before the next (or count-th) one
  continue, c              - Run until a breakpoint or the end
  break, b <node>          - Stop before every step of node (index:generation)
  delete, d <node>         - Delete the breakpoint on node
  list, l                  - List breakpoints
  where, w                 - Show the current step and stack depth
  vars, locals             - Show visible variables
  pending, p               - Show argument values collected for the current node
  quit, q, exit            - Stop the program
`)
}
