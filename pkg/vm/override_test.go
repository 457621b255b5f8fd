package vm

import (
	"testing"

	"github.com/zurustar/kumiki/pkg/element"
)

func TestOverride(t *testing.T) {
	var o Override
	if got := o.Take(); got != element.SignalNone {
		t.Errorf("fresh channel holds %v", got)
	}

	o.SetOverride(element.SkipScope)
	o.SetOverride(element.RepeatInner)
	if got := o.Pending(); got != element.RepeatInner {
		t.Errorf("Pending = %v, want the later signal", got)
	}
	if got := o.Take(); got != element.RepeatInner {
		t.Errorf("Take = %v", got)
	}
	if got := o.Take(); got != element.SignalNone {
		t.Errorf("signal read twice: %v", got)
	}

	o.SetOverride(element.JumpToParent)
	o.ClearOverride()
	if got := o.Take(); got != element.SignalNone {
		t.Errorf("ClearOverride left %v", got)
	}
}
