package library

import (
	"bytes"
	"errors"
	"math"
	"testing"

	"github.com/zurustar/kumiki/pkg/element"
	"github.com/zurustar/kumiki/pkg/scope"
)

type recordingControl struct {
	signals []element.Signal
}

func (c *recordingControl) SetOverride(sig element.Signal) { c.signals = append(c.signals, sig) }
func (c *recordingControl) ClearOverride()                 { c.signals = nil }

func (c *recordingControl) last() element.Signal {
	if len(c.signals) == 0 {
		return element.SignalNone
	}
	return c.signals[len(c.signals)-1]
}

func newEnv() (*element.Env, *recordingControl, *bytes.Buffer) {
	ctl := &recordingControl{}
	out := &bytes.Buffer{}
	return &element.Env{Scope: scope.NewStack(), Control: ctl, Out: out}, ctl, out
}

func instance(t *testing.T, c *element.Catalog, name string) element.Instance {
	t.Helper()
	f, ok := c.FactoryOf(name)
	if !ok {
		t.Fatalf("no factory for %q", name)
	}
	return f()
}

func TestNewCatalog_RegistersEverything(t *testing.T) {
	c := NewCatalog()
	names := []string{
		Number, Text, Boolean, Variable, Plus, Minus, Times, Divide, Modulo,
		Equal, Less, Greater, And, Or, Not, Join, Print, BoxNumber, BoxText,
		Break, Continue, ProcessBlock, RoutineBlock, Repeat, If, While, Local,
	}
	for _, name := range names {
		spec, err := c.SpecificationOf(name)
		if err != nil {
			t.Errorf("%s not registered: %v", name, err)
			continue
		}
		inst := instance(t, c, name)
		if inst.Element() != name {
			t.Errorf("factory for %s built %s", name, inst.Element())
		}
		switch spec.Kind {
		case element.KindData, element.KindExpression:
			if _, ok := inst.(element.Argument); !ok {
				t.Errorf("%s is an argument kind but not an element.Argument", name)
			}
		case element.KindStatement:
			if _, ok := inst.(element.Instruction); !ok {
				t.Errorf("%s is a statement but not an element.Instruction", name)
			}
		case element.KindBlock:
			if _, ok := inst.(element.Block); !ok {
				t.Errorf("%s is a block but not an element.Block", name)
			}
		}
	}
	if got := len(c.Names()); got != len(names) {
		t.Errorf("catalog has %d elements, want %d", got, len(names))
	}
}

func TestRegister_Twice(t *testing.T) {
	c := NewCatalog()
	if err := Register(c); err == nil {
		t.Error("expected duplicate registration to fail")
	}
}

func TestLiterals_SetValue(t *testing.T) {
	c := NewCatalog()

	n := instance(t, c, Number).(element.Valued)
	if err := n.SetValue(3); err != nil {
		t.Fatalf("SetValue(3): %v", err)
	}
	if n.Value() != 3.0 {
		t.Errorf("number value = %#v, want float64 3", n.Value())
	}
	if err := n.SetValue("abc"); err == nil {
		t.Error("expected error for non-numeric text")
	}

	b := instance(t, c, Boolean).(element.Valued)
	if err := b.SetValue("true"); err != nil || b.Value() != true {
		t.Errorf("boolean SetValue(\"true\") = %v, value %v", err, b.Value())
	}
	if err := b.SetValue(1.0); err == nil {
		t.Error("expected error for a number as boolean")
	}

	s := instance(t, c, Text).(element.Valued)
	if err := s.SetValue(2.5); err != nil || s.Value() != "2.5" {
		t.Errorf("text SetValue(2.5) = %v, value %v", err, s.Value())
	}
}

func TestExpressions(t *testing.T) {
	c := NewCatalog()
	env, _, _ := newEnv()

	tests := []struct {
		name    string
		element string
		args    element.Args
		want    any
		wantErr bool
	}{
		{"plus", Plus, element.Args{"a": 1.0, "b": 2.0}, 3.0, false},
		{"minus", Minus, element.Args{"a": 1.0, "b": 2.0}, -1.0, false},
		{"times", Times, element.Args{"a": 4.0, "b": 2.5}, 10.0, false},
		{"divide", Divide, element.Args{"a": 9.0, "b": 3.0}, 3.0, false},
		{"divide by zero", Divide, element.Args{"a": 9.0, "b": 0.0}, nil, true},
		{"modulo", Modulo, element.Args{"a": 7.0, "b": 3.0}, 1.0, false},
		{"equal numbers", Equal, element.Args{"a": 1.0, "b": 1.0}, true, false},
		{"equal mixed", Equal, element.Args{"a": 1.0, "b": "1"}, false, false},
		{"less", Less, element.Args{"a": 1.0, "b": 2.0}, true, false},
		{"greater", Greater, element.Args{"a": 1.0, "b": 2.0}, false, false},
		{"and", And, element.Args{"a": true, "b": false}, false, false},
		{"or", Or, element.Args{"a": true, "b": false}, true, false},
		{"not", Not, element.Args{"value": false}, true, false},
		{"join", Join, element.Args{"a": "n=", "b": 4.0}, "n=4", false},
		{"wrong type", Plus, element.Args{"a": "x", "b": 2.0}, nil, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			arg := instance(t, c, tt.element).(element.Argument)
			got, err := arg.Evaluate(tt.args, env)
			if tt.wantErr {
				if err == nil {
					t.Errorf("expected error, got %v", got)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("got %#v, want %#v", got, tt.want)
			}
		})
	}
}

func TestDivideByZero_Wrapped(t *testing.T) {
	_, err := divide(Divide, element.Args{"a": 1.0, "b": 0.0})
	if !errors.Is(err, errDivisionByZero) {
		t.Errorf("expected errDivisionByZero, got %v", err)
	}
}

func TestVariable(t *testing.T) {
	c := NewCatalog()
	env, _, _ := newEnv()
	v := instance(t, c, Variable)
	if err := v.(element.Valued).SetValue("x"); err != nil {
		t.Fatal(err)
	}

	if _, err := v.(element.Argument).Evaluate(nil, env); err == nil {
		t.Error("expected error for undefined variable")
	}

	_ = env.Scope.Declare("x", element.TypeNumber, 5.0)
	got, err := v.(element.Argument).Evaluate(nil, env)
	if err != nil || got != 5.0 {
		t.Errorf("Evaluate = %v, %v", got, err)
	}
}

func TestPrintAndBox(t *testing.T) {
	c := NewCatalog()
	env, _, out := newEnv()

	box := instance(t, c, BoxNumber).(element.Instruction)
	if err := box.OnVisit(element.Args{"name": "a", "value": 1.0}, env); err != nil {
		t.Fatal(err)
	}

	env.Scope.PushFrame()
	if err := box.OnVisit(element.Args{"name": "a", "value": 2.0}, env); err != nil {
		t.Fatal(err)
	}
	if err := env.Scope.PopFrame(); err != nil {
		t.Fatal(err)
	}
	// The update landed in the frame that declared a.
	if v, _ := env.Scope.Lookup("a"); v != 2.0 {
		t.Errorf("a = %v, want 2", v)
	}

	if err := box.OnVisit(element.Args{"name": "a", "value": "two"}, env); err == nil {
		t.Error("expected error boxing text into box-number")
	}

	p := instance(t, c, Print).(element.Instruction)
	_ = p.OnVisit(element.Args{"value": 2.0}, env)
	_ = p.OnVisit(element.Args{"value": "hi"}, env)
	if out.String() != "2\nhi\n" {
		t.Errorf("output = %q", out.String())
	}
}

func TestRepeatSignals(t *testing.T) {
	c := NewCatalog()

	t.Run("three passes", func(t *testing.T) {
		env, ctl, _ := newEnv()
		r := instance(t, c, Repeat).(element.Block)
		if err := r.OnVisit(element.Args{"times": 3.0}, env); err != nil {
			t.Fatal(err)
		}
		if ctl.last() != element.SignalNone {
			t.Fatalf("unexpected signal on entry: %v", ctl.last())
		}
		var repeats int
		for i := 0; i < 3; i++ {
			ctl.ClearOverride()
			_ = r.OnExit(env)
			if ctl.last() == element.RepeatInner {
				repeats++
			}
		}
		if repeats != 2 {
			t.Errorf("RepeatInner raised %d times, want 2", repeats)
		}
	})

	t.Run("zero skips the scope", func(t *testing.T) {
		env, ctl, _ := newEnv()
		r := instance(t, c, Repeat).(element.Block)
		_ = r.OnVisit(element.Args{"times": 0.0}, env)
		if ctl.last() != element.SkipScope {
			t.Errorf("signal = %v, want skip-scope", ctl.last())
		}
		ctl.ClearOverride()
		_ = r.OnExit(env)
		if ctl.last() != element.SignalNone {
			t.Errorf("exit signal = %v, want none", ctl.last())
		}
	})

	t.Run("non-finite counts are rejected", func(t *testing.T) {
		for _, times := range []float64{math.NaN(), math.Inf(1), math.Inf(-1)} {
			env, ctl, _ := newEnv()
			r := instance(t, c, Repeat).(element.Block)
			if err := r.OnVisit(element.Args{"times": times}, env); err == nil {
				t.Errorf("repeat(%v) accepted", times)
			}
			if ctl.last() != element.SignalNone {
				t.Errorf("repeat(%v) raised %v", times, ctl.last())
			}
		}
	})

	t.Run("huge counts keep looping", func(t *testing.T) {
		for _, times := range []float64{1e300, math.MaxInt64, 1e18} {
			env, ctl, _ := newEnv()
			r := instance(t, c, Repeat).(element.Block)
			if err := r.OnVisit(element.Args{"times": times}, env); err != nil {
				t.Fatal(err)
			}
			if ctl.last() == element.SkipScope {
				t.Errorf("repeat(%v) skipped its scope", times)
			}
			for i := 0; i < 3; i++ {
				ctl.ClearOverride()
				_ = r.OnExit(env)
				if ctl.last() != element.RepeatInner {
					t.Errorf("repeat(%v) pass %d exit signal = %v", times, i, ctl.last())
				}
			}
		}
	})
}

func TestIfAndWhile(t *testing.T) {
	c := NewCatalog()
	env, ctl, _ := newEnv()

	cond := instance(t, c, If).(element.Block)
	_ = cond.OnVisit(element.Args{"condition": false}, env)
	if ctl.last() != element.SkipScope {
		t.Errorf("if(false) signal = %v", ctl.last())
	}
	ctl.ClearOverride()
	_ = cond.OnVisit(element.Args{"condition": true}, env)
	if ctl.last() != element.SignalNone {
		t.Errorf("if(true) signal = %v", ctl.last())
	}

	w := instance(t, c, While).(element.Block)
	_ = w.OnVisit(element.Args{"condition": true}, env)
	_ = w.OnExit(env)
	if ctl.last() != element.RepeatBlock {
		t.Errorf("while(true) exit signal = %v", ctl.last())
	}
	ctl.ClearOverride()
	_ = w.OnVisit(element.Args{"condition": false}, env)
	if ctl.last() != element.SkipScope {
		t.Errorf("while(false) entry signal = %v", ctl.last())
	}
	ctl.ClearOverride()
	_ = w.OnExit(env)
	if ctl.last() != element.SignalNone {
		t.Errorf("while(false) exit signal = %v", ctl.last())
	}
}

func TestJumpsAndFrames(t *testing.T) {
	c := NewCatalog()
	env, ctl, _ := newEnv()

	_ = instance(t, c, Break).(element.Instruction).OnVisit(nil, env)
	if ctl.last() != element.BreakLoop {
		t.Errorf("break signal = %v", ctl.last())
	}
	_ = instance(t, c, Continue).(element.Instruction).OnVisit(nil, env)
	if ctl.last() != element.ContinueLoop {
		t.Errorf("continue signal = %v", ctl.last())
	}
	for name, loop := range map[string]bool{Repeat: true, While: true, If: false, Local: false} {
		spec, err := c.SpecificationOf(name)
		if err != nil {
			t.Fatal(err)
		}
		if spec.Loop != loop {
			t.Errorf("%s Loop = %v, want %v", name, spec.Loop, loop)
		}
	}

	local := instance(t, c, Local).(element.Block)
	_ = local.OnVisit(nil, env)
	_ = env.Scope.Declare("tmp", element.TypeText, "x")
	if err := local.OnExit(env); err != nil {
		t.Fatal(err)
	}
	if _, ok := env.Scope.Lookup("tmp"); ok {
		t.Error("tmp should be gone after the local block exits")
	}
}
