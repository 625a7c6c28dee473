// Package schema implements the append-only entity-type registry: versioned,
// typed attribute declarations that the ingestion pipeline validates against
// and UI collaborators introspect to render forms and listings.
package schema

// AttributeKind enumerates the declared value kinds an attribute may take.
// The set is closed; entity types are tagged variants over these kinds.
type AttributeKind string

// Supported attribute kinds.
const (
	KindText      AttributeKind = "text"
	KindInteger   AttributeKind = "integer"
	KindFloat     AttributeKind = "float"
	KindBoolean   AttributeKind = "boolean"
	KindDate      AttributeKind = "date"
	KindGeometry  AttributeKind = "geometry"
	KindReference AttributeKind = "reference"
)

// Dimension identifies a physical dimension with a canonical unit. Values
// supplied in other units of the same dimension are converted during
// normalization.
type Dimension string

// Dimensions with canonical units: metres, grays, years.
const (
	DimensionNone   Dimension = ""
	DimensionLength Dimension = "length" // canonical: m
	DimensionDose   Dimension = "dose"   // canonical: Gy
	DimensionAge    Dimension = "age"    // canonical: a
)

// AttributeSpec declares one typed attribute of an entity type.
type AttributeSpec struct {
	Kind      AttributeKind `json:"kind" yaml:"kind"`
	Required  bool          `json:"required,omitempty" yaml:"required,omitempty"`
	Dimension Dimension     `json:"dimension,omitempty" yaml:"dimension,omitempty"`
	Min       *float64      `json:"min,omitempty" yaml:"min,omitempty"`
	Max       *float64      `json:"max,omitempty" yaml:"max,omitempty"`
	Enum      []string      `json:"enum,omitempty" yaml:"enum,omitempty"`
	// RefType names the entity type a reference attribute points at.
	RefType     string `json:"ref_type,omitempty" yaml:"ref_type,omitempty"`
	Description string `json:"description,omitempty" yaml:"description,omitempty"`
}

// EntityTypeDef is one immutable version of a named entity type. Attribute
// names are unique per type by construction of the map.
type EntityTypeDef struct {
	Name       string                   `json:"name" yaml:"name"`
	Version    int                      `json:"version" yaml:"version"`
	Title      string                   `json:"title,omitempty" yaml:"title,omitempty"`
	Attributes map[string]AttributeSpec `json:"attributes" yaml:"attributes"`
}

// GeometryAttribute returns the name of the single geometry attribute, if the
// type declares exactly one. Convenience lat/lon payload keys bind to it.
func (d EntityTypeDef) GeometryAttribute() (string, bool) {
	name, count := "", 0
	for attr, spec := range d.Attributes {
		if spec.Kind == KindGeometry {
			name = attr
			count++
		}
	}
	if count != 1 {
		return "", false
	}
	return name, true
}

func cloneDef(d EntityTypeDef) EntityTypeDef {
	cp := d
	cp.Attributes = make(map[string]AttributeSpec, len(d.Attributes))
	for name, spec := range d.Attributes {
		cp.Attributes[name] = cloneSpec(spec)
	}
	return cp
}

func cloneSpec(s AttributeSpec) AttributeSpec {
	cp := s
	if s.Min != nil {
		v := *s.Min
		cp.Min = &v
	}
	if s.Max != nil {
		v := *s.Max
		cp.Max = &v
	}
	if len(s.Enum) > 0 {
		cp.Enum = append([]string(nil), s.Enum...)
	}
	return cp
}
