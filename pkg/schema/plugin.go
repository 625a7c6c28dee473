package schema

import (
	"fmt"
	"sort"

	"lithocore/pkg/domain"
)

// Plugin describes a method module that contributes entity types and rules,
// the way laboratory methods extend the catalog without changing core logic.
type Plugin interface {
	Name() string
	Version() string
	Register(registry *PluginRegistry) error
}

// PluginRegistry accumulates plugin contributions during registration.
type PluginRegistry struct {
	rules []domain.Rule
	types map[string]EntityTypeDef
}

// NewPluginRegistry constructs a plugin registry.
func NewPluginRegistry() *PluginRegistry {
	return &PluginRegistry{types: make(map[string]EntityTypeDef)}
}

// RegisterRule adds an in-transaction rule contributed by the plugin.
func (r *PluginRegistry) RegisterRule(rule domain.Rule) {
	if rule == nil {
		return
	}
	r.rules = append(r.rules, rule)
}

// RegisterEntityType stores an entity-type definition contributed by the
// plugin. Names must be unique within one plugin.
func (r *PluginRegistry) RegisterEntityType(def EntityTypeDef) error {
	if err := validateDef(def); err != nil {
		return err
	}
	if _, exists := r.types[def.Name]; exists {
		return fmt.Errorf("entity type %s already contributed", def.Name)
	}
	r.types[def.Name] = cloneDef(def)
	return nil
}

// Rules returns a copy of registered rules.
func (r *PluginRegistry) Rules() []domain.Rule {
	out := make([]domain.Rule, len(r.rules))
	copy(out, r.rules)
	return out
}

// EntityTypes returns contributed definitions sorted by name.
func (r *PluginRegistry) EntityTypes() []EntityTypeDef {
	out := make([]EntityTypeDef, 0, len(r.types))
	for _, def := range r.types {
		out = append(out, cloneDef(def))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// PluginMetadata stores metadata describing an installed plugin.
type PluginMetadata struct {
	Name    string
	Version string
	Types   []string
}
