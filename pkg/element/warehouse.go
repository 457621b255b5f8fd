package element

import (
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/zurustar/kumiki/pkg/fault"
)

// InstanceID is the opaque identity of an element instance.
type InstanceID string

// Pool is the element-instance warehouse consumed by the syntax tree.
type Pool interface {
	CreateInstance(name string) (InstanceID, error)
	DestroyInstance(id InstanceID) error
	InstanceOf(id InstanceID) (Instance, error)
}

// FactorySource looks up instance factories by element name.
type FactorySource interface {
	FactoryOf(name string) (Factory, bool)
}

// Warehouse is a Pool that builds instances from a FactorySource and keys
// them by random UUIDs.
type Warehouse struct {
	source    FactorySource
	instances map[InstanceID]Instance
	mu        sync.RWMutex
}

// NewWarehouse creates a warehouse drawing factories from source.
func NewWarehouse(source FactorySource) *Warehouse {
	return &Warehouse{
		source:    source,
		instances: make(map[InstanceID]Instance),
	}
}

// CreateInstance implements Pool.
func (w *Warehouse) CreateInstance(name string) (InstanceID, error) {
	factory, ok := w.source.FactoryOf(name)
	if !ok {
		return "", fault.NewUnknownElementError(name)
	}
	inst := factory()
	if inst == nil {
		return "", fmt.Errorf("factory for %q returned no instance", name)
	}

	id := InstanceID(uuid.NewString())
	w.mu.Lock()
	w.instances[id] = inst
	w.mu.Unlock()
	return id, nil
}

// DestroyInstance implements Pool.
func (w *Warehouse) DestroyInstance(id InstanceID) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if _, ok := w.instances[id]; !ok {
		return fmt.Errorf("instance %s does not exist", id)
	}
	delete(w.instances, id)
	return nil
}

// InstanceOf implements Pool.
func (w *Warehouse) InstanceOf(id InstanceID) (Instance, error) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	inst, ok := w.instances[id]
	if !ok {
		return nil, fmt.Errorf("instance %s does not exist", id)
	}
	return inst, nil
}

// Len returns the number of live instances.
func (w *Warehouse) Len() int {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return len(w.instances)
}
