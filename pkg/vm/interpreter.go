package vm

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/zurustar/kumiki/pkg/element"
	"github.com/zurustar/kumiki/pkg/fault"
	"github.com/zurustar/kumiki/pkg/logger"
	"github.com/zurustar/kumiki/pkg/tree"
)

// StepHook observes every step before the interpreter executes it. An error
// from the hook stops the run with the step unexecuted.
type StepHook func(Step) error

// Interpreter drives traversal contexts to completion.
type Interpreter struct {
	lin      *Linearizer
	log      *slog.Logger
	out      io.Writer
	timeout  time.Duration
	maxSteps int
	hook     StepHook
}

// Option is a functional option for configuring the Interpreter.
type Option func(*Interpreter)

// WithLogger sets a custom logger.
func WithLogger(log *slog.Logger) Option {
	return func(in *Interpreter) {
		in.log = log
	}
}

// WithOutput sets the writer instructions print to. Defaults to os.Stdout.
func WithOutput(w io.Writer) Option {
	return func(in *Interpreter) {
		in.out = w
	}
}

// WithTimeout aborts a run that takes longer than timeout.
func WithTimeout(timeout time.Duration) Option {
	return func(in *Interpreter) {
		in.timeout = timeout
	}
}

// WithMaxSteps aborts a run after n steps with a StepLimit error.
// Zero means no limit.
func WithMaxSteps(n int) Option {
	return func(in *Interpreter) {
		in.maxSteps = n
	}
}

// WithStepHook calls hook for every step before it is executed.
func WithStepHook(hook StepHook) Option {
	return func(in *Interpreter) {
		in.hook = hook
	}
}

// New creates an interpreter over t.
func New(t *tree.Tree, opts ...Option) *Interpreter {
	in := &Interpreter{
		lin: NewLinearizer(t),
		log: logger.GetLogger(),
		out: os.Stdout,
	}
	for _, opt := range opts {
		opt(in)
	}
	return in
}

// Linearizer returns the linearizer the interpreter begins contexts on.
func (in *Interpreter) Linearizer() *Linearizer { return in.lin }

// Run validates root and drives it to completion against sc.
// Errors returned by element callbacks are passed through unchanged.
func (in *Interpreter) Run(ctx context.Context, root tree.NodeID, sc element.Scope) error {
	_, err := in.run(ctx, root, sc)
	return err
}

// Evaluate runs a Data or Expression root and returns its value.
func (in *Interpreter) Evaluate(ctx context.Context, root tree.NodeID, sc element.Scope) (any, error) {
	n, err := in.lin.tree.Node(root)
	if err != nil {
		return nil, err
	}
	if !n.Kind().IsArgument() {
		return nil, fmt.Errorf("%s#%s is a %s, not an argument", n.Element(), root, n.Kind())
	}
	return in.run(ctx, root, sc)
}

func (in *Interpreter) run(ctx context.Context, root tree.NodeID, sc element.Scope) (any, error) {
	if in.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, in.timeout)
		defer cancel()
	}

	s, err := in.Start(root, sc)
	if err != nil {
		return nil, err
	}
	defer s.Close()

	in.log.Debug("run started", "root", root.String())
	for {
		if err := ctx.Err(); err != nil {
			if errors.Is(err, context.DeadlineExceeded) {
				in.log.Info("run timed out", "root", root.String(), "steps", s.Steps())
			}
			return nil, fmt.Errorf("run of %s stopped after %d steps: %w", root, s.Steps(), err)
		}
		st, err := s.Step()
		if err != nil {
			in.log.Debug("run failed", "root", root.String(), "steps", s.Steps(), "error", err)
			return nil, err
		}
		if st.Kind == StepEnd {
			in.log.Debug("run completed", "root", root.String(), "steps", s.Steps())
			return s.Result(), nil
		}
	}
}

// Start validates root and begins a session that executes one step per
// Step call. Callers must Close the session.
func (in *Interpreter) Start(root tree.NodeID, sc element.Scope) (*Session, error) {
	if err := ValidateRoot(in.lin.tree, root); err != nil {
		return nil, err
	}
	c, err := in.lin.Begin(root)
	if err != nil {
		return nil, err
	}
	return &Session{
		in:  in,
		ctx: c,
		env: &element.Env{
			Scope:   sc,
			Control: c.Override(),
			Out:     in.out,
			Log:     in.log,
		},
		scratch: make(map[scratchKey]any),
	}, nil
}

// scratchKey names the value of one argument slot of one consumer.
// Keying by consumer keeps the values of nested expressions that share slot
// names apart.
type scratchKey struct {
	consumer tree.NodeID
	marker   string
}

// Session is one run in progress.
type Session struct {
	in      *Interpreter
	ctx     *Context
	env     *element.Env
	scratch map[scratchKey]any
	result  any
	steps   int
}

// Context returns the traversal context the session pulls steps from.
func (s *Session) Context() *Context { return s.ctx }

// Env returns the environment handed to element callbacks.
func (s *Session) Env() *element.Env { return s.env }

// Steps returns the number of steps executed so far.
func (s *Session) Steps() int { return s.steps }

// Result returns the value of the last argument step that had no consumer.
func (s *Session) Result() any { return s.result }

// Close ends the session.
func (s *Session) Close() { s.ctx.Close() }

// Step pulls the next step, executes it and returns it. A step that would
// exceed the step budget is returned unexecuted with a StepLimit error.
func (s *Session) Step() (Step, error) {
	st, err := s.ctx.Next()
	if err != nil {
		return Step{}, err
	}
	if st.Kind == StepEnd {
		return st, nil
	}
	if s.in.maxSteps > 0 && s.steps >= s.in.maxSteps {
		s.ctx.Close()
		return st, fault.Newf(fault.StepLimit, "step limit of %d reached", s.in.maxSteps).At(st.Element, st.Node.String())
	}
	if s.in.hook != nil {
		if err := s.in.hook(st); err != nil {
			s.ctx.Close()
			return st, err
		}
	}
	s.steps++
	if err := s.exec(st); err != nil {
		s.ctx.Close()
		return st, err
	}
	return st, nil
}

// Pending returns the argument values collected for a consumer so far.
func (s *Session) Pending(consumer tree.NodeID) element.Args {
	args := element.Args{}
	for k, v := range s.scratch {
		if k.consumer == consumer {
			args[k.marker] = v
		}
	}
	return args
}

func (s *Session) exec(st Step) error {
	switch st.Kind {
	case StepArgument:
		arg, ok := st.Instance.(element.Argument)
		if !ok {
			return fault.New(fault.UnknownElement, "instance does not implement an argument").At(st.Element, st.Node.String())
		}
		args, err := s.collect(st.Node)
		if err != nil {
			return err
		}
		v, err := arg.Evaluate(args, s.env)
		if err != nil {
			return err
		}
		if st.Consumer.IsZero() {
			s.result = v
			return nil
		}
		s.scratch[scratchKey{consumer: st.Consumer, marker: st.Marker}] = v
		return nil

	case StepInstruction:
		if st.Phase == PhaseExit {
			blk, ok := st.Instance.(element.Block)
			if !ok {
				return fault.New(fault.UnknownElement, "instance does not implement a block").At(st.Element, st.Node.String())
			}
			return blk.OnExit(s.env)
		}
		instr, ok := st.Instance.(element.Instruction)
		if !ok {
			return fault.New(fault.UnknownElement, "instance does not implement an instruction").At(st.Element, st.Node.String())
		}
		args, err := s.collect(st.Node)
		if err != nil {
			return err
		}
		return instr.OnVisit(args, s.env)
	}
	return nil
}

// collect moves the values recorded for node's slots out of the scratch
// map. Data nodes have no slots and receive nil.
func (s *Session) collect(id tree.NodeID) (element.Args, error) {
	n, err := s.ctx.tree.Node(id)
	if err != nil {
		return nil, err
	}
	slots := n.Slots()
	if len(slots) == 0 {
		if n.Kind() == element.KindData {
			return nil, nil
		}
		return element.Args{}, nil
	}
	args := make(element.Args, len(slots))
	for _, slot := range slots {
		key := scratchKey{consumer: id, marker: slot}
		v, ok := s.scratch[key]
		if !ok {
			return nil, fault.NewUnresolvedArgumentError(n.Element(), id.String(), slot)
		}
		args[slot] = v
		delete(s.scratch, key)
	}
	return args, nil
}
