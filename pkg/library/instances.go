package library

import (
	"errors"
	"fmt"
	"math"

	"github.com/zurustar/kumiki/pkg/element"
)

// numberLiteral is the number data element.
type numberLiteral struct{ value float64 }

func (*numberLiteral) Element() string { return Number }
func (l *numberLiteral) Value() any    { return l.value }

func (l *numberLiteral) SetValue(v any) error {
	f, ok := toFloat64(v)
	if !ok {
		return fmt.Errorf("%s: cannot use %v (%T) as a number", Number, v, v)
	}
	l.value = f
	return nil
}

func (l *numberLiteral) Evaluate(element.Args, *element.Env) (any, error) {
	return l.value, nil
}

// textLiteral is the text data element.
type textLiteral struct{ value string }

func (*textLiteral) Element() string { return Text }
func (l *textLiteral) Value() any    { return l.value }

func (l *textLiteral) SetValue(v any) error {
	if v == nil {
		l.value = ""
		return nil
	}
	l.value = toString(v)
	return nil
}

func (l *textLiteral) Evaluate(element.Args, *element.Env) (any, error) {
	return l.value, nil
}

// booleanLiteral is the boolean data element.
type booleanLiteral struct{ value bool }

func (*booleanLiteral) Element() string { return Boolean }
func (l *booleanLiteral) Value() any    { return l.value }

func (l *booleanLiteral) SetValue(v any) error {
	b, ok := toBool(v)
	if !ok {
		return fmt.Errorf("%s: cannot use %v (%T) as a boolean", Boolean, v, v)
	}
	l.value = b
	return nil
}

func (l *booleanLiteral) Evaluate(element.Args, *element.Env) (any, error) {
	return l.value, nil
}

// variable reads the variable it names from the scope.
type variable struct{ name string }

func (*variable) Element() string { return Variable }
func (v *variable) Value() any    { return v.name }

func (v *variable) SetValue(val any) error {
	s, ok := val.(string)
	if !ok || s == "" {
		return fmt.Errorf("%s: name must be non-empty text, got %v", Variable, val)
	}
	v.name = s
	return nil
}

func (v *variable) Evaluate(_ element.Args, env *element.Env) (any, error) {
	val, ok := env.Scope.Lookup(v.name)
	if !ok {
		return nil, fmt.Errorf("%s: undefined variable %q", Variable, v.name)
	}
	return val, nil
}

type binaryOp func(name string, args element.Args) (any, error)

// binary is every two-slot expression; op decides the semantics.
type binary struct {
	name string
	op   binaryOp
}

func (b *binary) Element() string { return b.name }

func (b *binary) Evaluate(args element.Args, _ *element.Env) (any, error) {
	return b.op(b.name, args)
}

func numbers2(name string, args element.Args) (float64, float64, error) {
	a, err := numberArg(name, args, "a")
	if err != nil {
		return 0, 0, err
	}
	b, err := numberArg(name, args, "b")
	if err != nil {
		return 0, 0, err
	}
	return a, b, nil
}

func bools2(name string, args element.Args) (bool, bool, error) {
	a, err := boolArg(name, args, "a")
	if err != nil {
		return false, false, err
	}
	b, err := boolArg(name, args, "b")
	if err != nil {
		return false, false, err
	}
	return a, b, nil
}

// errDivisionByZero is returned by divide and modulo.
var errDivisionByZero = errors.New("division by zero")

func add(name string, args element.Args) (any, error) {
	a, b, err := numbers2(name, args)
	return a + b, err
}

func subtract(name string, args element.Args) (any, error) {
	a, b, err := numbers2(name, args)
	return a - b, err
}

func multiply(name string, args element.Args) (any, error) {
	a, b, err := numbers2(name, args)
	return a * b, err
}

func divide(name string, args element.Args) (any, error) {
	a, b, err := numbers2(name, args)
	if err != nil {
		return nil, err
	}
	if b == 0 {
		return nil, fmt.Errorf("%s: %w", name, errDivisionByZero)
	}
	return a / b, nil
}

func modulo(name string, args element.Args) (any, error) {
	a, b, err := numbers2(name, args)
	if err != nil {
		return nil, err
	}
	if b == 0 {
		return nil, fmt.Errorf("%s: %w", name, errDivisionByZero)
	}
	return math.Mod(a, b), nil
}

func equal(_ string, args element.Args) (any, error) {
	return args["a"] == args["b"], nil
}

func less(name string, args element.Args) (any, error) {
	a, b, err := numbers2(name, args)
	return a < b, err
}

func greater(name string, args element.Args) (any, error) {
	a, b, err := numbers2(name, args)
	return a > b, err
}

func and(name string, args element.Args) (any, error) {
	a, b, err := bools2(name, args)
	return a && b, err
}

func or(name string, args element.Args) (any, error) {
	a, b, err := bools2(name, args)
	return a || b, err
}

func join(_ string, args element.Args) (any, error) {
	return toString(args["a"]) + toString(args["b"]), nil
}

type not struct{}

func (*not) Element() string { return Not }

func (*not) Evaluate(args element.Args, _ *element.Env) (any, error) {
	v, err := boolArg(Not, args, "value")
	return !v, err
}

// printer writes its value and a newline to env.Out.
type printer struct{}

func (*printer) Element() string { return Print }

func (*printer) OnVisit(args element.Args, env *element.Env) error {
	if env.Out == nil {
		return nil
	}
	_, err := fmt.Fprintln(env.Out, toString(args["value"]))
	return err
}

// assigner is implemented by scopes that can update a variable in the frame
// that declared it.
type assigner interface {
	Assign(name string, value any) error
}

// box stores a value under a name. An existing variable is updated where it
// was declared; otherwise the variable is declared in the innermost frame.
type box struct {
	name string
	typ  element.Type
}

func (b *box) Element() string { return b.name }

func (b *box) OnVisit(args element.Args, env *element.Env) error {
	name, err := textArg(b.name, args, "name")
	if err != nil {
		return err
	}
	if name == "" {
		return fmt.Errorf("%s: name must not be empty", b.name)
	}
	var value any
	switch b.typ {
	case element.TypeNumber:
		value, err = numberArg(b.name, args, "value")
	default:
		value, err = textArg(b.name, args, "value")
	}
	if err != nil {
		return err
	}
	if a, ok := env.Scope.(assigner); ok {
		if _, exists := env.Scope.Lookup(name); exists {
			return a.Assign(name, value)
		}
	}
	return env.Scope.Declare(name, b.typ, value)
}

// jump is break and continue. Both act on the innermost enclosing loop.
type jump struct {
	name string
	sig  element.Signal
}

func (j *jump) Element() string { return j.name }

func (j *jump) OnVisit(_ element.Args, env *element.Env) error {
	env.Control.SetOverride(j.sig)
	return nil
}

// frameBlock pushes a scope frame for its inner sequence. Process, routine
// and local blocks share it.
type frameBlock struct {
	name string
}

func (f *frameBlock) Element() string { return f.name }

func (f *frameBlock) OnVisit(_ element.Args, env *element.Env) error {
	env.Scope.PushFrame()
	return nil
}

func (f *frameBlock) OnExit(env *element.Env) error {
	return env.Scope.PopFrame()
}

// repeat runs its inner sequence a fixed number of times. The entry is
// visited once; the exit is visited after every pass.
type repeat struct {
	remaining int
}

func (*repeat) Element() string { return Repeat }

func (r *repeat) OnVisit(args element.Args, env *element.Env) error {
	times, err := numberArg(Repeat, args, "times")
	if err != nil {
		return err
	}
	switch {
	case math.IsNaN(times) || math.IsInf(times, 0):
		return fmt.Errorf("%s: times must be finite, got %v", Repeat, times)
	case times < 1:
		r.remaining = 0
		env.Control.SetOverride(element.SkipScope)
	case times >= math.MaxInt:
		r.remaining = math.MaxInt
	default:
		r.remaining = int(times)
	}
	return nil
}

func (r *repeat) OnExit(env *element.Env) error {
	if r.remaining > 0 {
		r.remaining--
	}
	if r.remaining > 0 {
		env.Control.SetOverride(element.RepeatInner)
	}
	return nil
}

// conditional runs its inner sequence once when the condition holds.
type conditional struct{}

func (*conditional) Element() string { return If }

func (*conditional) OnVisit(args element.Args, env *element.Env) error {
	ok, err := boolArg(If, args, "condition")
	if err != nil {
		return err
	}
	if !ok {
		env.Control.SetOverride(element.SkipScope)
	}
	return nil
}

func (*conditional) OnExit(*element.Env) error { return nil }

// while re-evaluates its condition before every pass by revisiting the
// whole block.
type while struct {
	entered bool
}

func (*while) Element() string { return While }

func (w *while) OnVisit(args element.Args, env *element.Env) error {
	ok, err := boolArg(While, args, "condition")
	if err != nil {
		return err
	}
	w.entered = ok
	if !ok {
		env.Control.SetOverride(element.SkipScope)
	}
	return nil
}

func (w *while) OnExit(env *element.Env) error {
	if w.entered {
		env.Control.SetOverride(element.RepeatBlock)
	}
	return nil
}
