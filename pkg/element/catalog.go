package element

import (
	"fmt"
	"slices"
	"sort"
	"sync"

	"github.com/zurustar/kumiki/pkg/fault"
)

// Registry answers questions about element specifications.
// Structural checks are consulted only when the tree is edited, never
// during traversal.
type Registry interface {
	SpecificationOf(name string) (*Spec, error)
	// CanAttachAbove reports whether upper may directly precede lower.
	CanAttachAbove(lower, upper *Spec) bool
	// CanAttachBelow reports whether lower may directly follow upper.
	CanAttachBelow(upper, lower *Spec) bool
	// CanAttachInside reports whether inner may open block's scope.
	CanAttachInside(block, inner *Spec) bool
	// Accepts reports whether an argument returning returns fits slot.
	Accepts(slot ArgSpec, returns []Type) bool
}

// Factory creates a fresh instance of one element.
type Factory func() Instance

// Catalog is an in-memory Registry that also knows how to build instances.
type Catalog struct {
	specs     map[string]*Spec
	factories map[string]Factory
	mu        sync.RWMutex
}

// NewCatalog creates an empty catalog.
func NewCatalog() *Catalog {
	return &Catalog{
		specs:     make(map[string]*Spec),
		factories: make(map[string]Factory),
	}
}

// Register adds an element. Registering a name twice is an error.
func (c *Catalog) Register(spec Spec, factory Factory) error {
	if err := spec.validate(); err != nil {
		return err
	}
	if factory == nil {
		return fmt.Errorf("element %q registered without a factory", spec.Name)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.specs[spec.Name]; exists {
		return fmt.Errorf("element %q already registered", spec.Name)
	}
	s := spec
	s.Args = slices.Clone(spec.Args)
	c.specs[spec.Name] = &s
	c.factories[spec.Name] = factory
	return nil
}

// MustRegister is Register for static element tables; it panics on error.
func (c *Catalog) MustRegister(spec Spec, factory Factory) {
	if err := c.Register(spec, factory); err != nil {
		panic(err)
	}
}

// SpecificationOf implements Registry.
func (c *Catalog) SpecificationOf(name string) (*Spec, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	spec, ok := c.specs[name]
	if !ok {
		return nil, fault.NewUnknownElementError(name)
	}
	return spec, nil
}

// FactoryOf returns the factory registered for name.
func (c *Catalog) FactoryOf(name string) (Factory, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	f, ok := c.factories[name]
	return f, ok
}

// Names returns every registered element name in sorted order.
func (c *Catalog) Names() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	names := make([]string, 0, len(c.specs))
	for name := range c.specs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// CanAttachAbove implements Registry.
func (c *Catalog) CanAttachAbove(lower, upper *Spec) bool {
	return !upper.Cap && !lower.Hat
}

// CanAttachBelow implements Registry.
func (c *Catalog) CanAttachBelow(upper, lower *Spec) bool {
	return upper.Kind.IsInstruction() && lower.Kind.IsInstruction() && !upper.Cap && !lower.Hat
}

// CanAttachInside implements Registry.
func (c *Catalog) CanAttachInside(block, inner *Spec) bool {
	if block.Kind != KindBlock || !inner.Kind.IsInstruction() || inner.Hat {
		return false
	}
	if len(block.Inside) == 0 {
		return true
	}
	return slices.Contains(block.Inside, inner.Name)
}

// Accepts implements Registry. A slot accepting TypeAny takes anything, and
// an argument returning TypeAny is only known at run time so it fits any
// slot. Otherwise every returned type must be accepted by the slot.
func (c *Catalog) Accepts(slot ArgSpec, returns []Type) bool {
	if len(returns) == 0 {
		return false
	}
	if slices.Contains(slot.Accepts, TypeAny) || slices.Contains(returns, TypeAny) {
		return true
	}
	for _, r := range returns {
		if !slices.Contains(slot.Accepts, r) {
			return false
		}
	}
	return true
}
