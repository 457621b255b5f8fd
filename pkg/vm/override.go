package vm

import (
	"sync"

	"github.com/zurustar/kumiki/pkg/element"
)

// Override is the control-flow override channel of one traversal context.
// It implements element.Control. At most one signal is pending; Take reads
// and clears it.
type Override struct {
	mu      sync.Mutex
	pending element.Signal
}

// SetOverride replaces the pending signal.
func (o *Override) SetOverride(sig element.Signal) {
	o.mu.Lock()
	o.pending = sig
	o.mu.Unlock()
}

// ClearOverride drops the pending signal.
func (o *Override) ClearOverride() {
	o.SetOverride(element.SignalNone)
}

// Take returns the pending signal and clears it.
func (o *Override) Take() element.Signal {
	o.mu.Lock()
	defer o.mu.Unlock()
	sig := o.pending
	o.pending = element.SignalNone
	return sig
}

// Pending reports the pending signal without clearing it.
func (o *Override) Pending() element.Signal {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.pending
}
