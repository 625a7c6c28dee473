package schema

import (
	"fmt"
	"sort"
	"sync"

	"lithocore/pkg/domain"
)

// Registry holds versioned entity-type definitions. Registration is
// append-only: a version is frozen once registered, and evolution happens by
// registering the next version, never by in-place mutation, so historical
// records stay valid against the version they were ingested under.
type Registry struct {
	mu    sync.RWMutex
	types map[string][]EntityTypeDef // versions ascending
}

// NewRegistry constructs an empty registry.
func NewRegistry() *Registry {
	return &Registry{types: make(map[string][]EntityTypeDef)}
}

// Register adds a new entity type. It fails with ErrDuplicateType when the
// name is already registered. A zero version is assigned version 1.
func (r *Registry) Register(def EntityTypeDef) (EntityTypeDef, error) {
	if err := validateDef(def); err != nil {
		return EntityTypeDef{}, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.types[def.Name]; exists {
		return EntityTypeDef{}, domain.ErrDuplicateType{Name: def.Name}
	}
	if def.Version == 0 {
		def.Version = 1
	}
	stored := cloneDef(def)
	r.types[def.Name] = []EntityTypeDef{stored}
	return cloneDef(stored), nil
}

// RegisterRevision appends the next version of an existing entity type. The
// supplied version must be zero (auto-assigned) or exactly latest+1.
func (r *Registry) RegisterRevision(def EntityTypeDef) (EntityTypeDef, error) {
	if err := validateDef(def); err != nil {
		return EntityTypeDef{}, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	versions, exists := r.types[def.Name]
	if !exists {
		return EntityTypeDef{}, domain.ErrUnknownType{Name: def.Name}
	}
	next := versions[len(versions)-1].Version + 1
	switch {
	case def.Version == 0:
		def.Version = next
	case def.Version != next:
		return EntityTypeDef{}, domain.ErrDuplicateType{Name: def.Name, Version: def.Version}
	}
	stored := cloneDef(def)
	r.types[def.Name] = append(versions, stored)
	return cloneDef(stored), nil
}

// Get returns the latest version of the named type.
func (r *Registry) Get(name string) (EntityTypeDef, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	versions, exists := r.types[name]
	if !exists {
		return EntityTypeDef{}, domain.ErrUnknownType{Name: name}
	}
	return cloneDef(versions[len(versions)-1]), nil
}

// GetVersion returns a specific frozen version of the named type.
func (r *Registry) GetVersion(name string, version int) (EntityTypeDef, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	versions, exists := r.types[name]
	if !exists {
		return EntityTypeDef{}, domain.ErrUnknownType{Name: name}
	}
	for _, def := range versions {
		if def.Version == version {
			return cloneDef(def), nil
		}
	}
	return EntityTypeDef{}, domain.ErrUnknownType{Name: fmt.Sprintf("%s@%d", name, version)}
}

// List returns the latest version of every registered type, sorted by name.
// It exists for UI collaborators rendering forms and listings; it never
// mutates registry state.
func (r *Registry) List() []EntityTypeDef {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]EntityTypeDef, 0, len(r.types))
	for _, versions := range r.types {
		out = append(out, cloneDef(versions[len(versions)-1]))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// ValidateShape checks a payload against the latest version of the named type
// without side effects. Failures are collected per field.
func (r *Registry) ValidateShape(name string, payload map[string]any) (domain.ValidationReport, error) {
	def, err := r.Get(name)
	if err != nil {
		return domain.ValidationReport{}, err
	}
	return CheckShape(def, payload), nil
}

func validateDef(def EntityTypeDef) error {
	if def.Name == "" {
		return fmt.Errorf("entity type name required")
	}
	if len(def.Attributes) == 0 {
		return fmt.Errorf("entity type %q declares no attributes", def.Name)
	}
	for attr, spec := range def.Attributes {
		switch spec.Kind {
		case KindText, KindInteger, KindFloat, KindBoolean, KindDate, KindGeometry, KindReference:
		default:
			return fmt.Errorf("entity type %q attribute %q has unknown kind %q", def.Name, attr, spec.Kind)
		}
		if spec.Kind == KindReference && spec.RefType == "" {
			return fmt.Errorf("entity type %q attribute %q needs ref_type", def.Name, attr)
		}
	}
	return nil
}
