// Package domain defines the core persistent entities, value types, and
// rule evaluation primitives used by lithocore.
package domain

import "time"

// EntityKind identifies the kind of record stored in the catalog state.
type EntityKind string

// Supported entity kinds used in Change records and persistence buckets.
const (
	// EntityRecord identifies a catalog record.
	EntityRecord EntityKind = "record"
	// EntityProvenanceEdge identifies a derived-from relation between records.
	EntityProvenanceEdge EntityKind = "provenance_edge"
)

// Base contains common fields for all catalog entities.
type Base struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Record is a validated, normalized instance of a registered entity type.
// Records are never mutated after ingestion except through versioned
// revisions; deletion is a tombstone so provenance chains stay resolvable.
type Record struct {
	Base
	Type       string         `json:"type"`
	Version    int            `json:"version"`
	SourceID   string         `json:"source_id"`
	SourceHash string         `json:"source_hash"`
	Attributes map[string]any `json:"attributes"`
	Geometry   *Geometry      `json:"geometry,omitempty"`
	Agent      string         `json:"agent,omitempty"`
	Process    string         `json:"process,omitempty"`
	DeletedAt  *time.Time     `json:"deleted_at,omitempty"`
	Revisions  []Revision     `json:"revisions,omitempty"`
}

// Deleted reports whether the record carries a tombstone.
func (r Record) Deleted() bool { return r.DeletedAt != nil }

// Revision preserves a superseded attribute snapshot for audit history.
type Revision struct {
	Version    int            `json:"version"`
	SourceHash string         `json:"source_hash"`
	Attributes map[string]any `json:"attributes"`
	Geometry   *Geometry      `json:"geometry,omitempty"`
	RecordedAt time.Time      `json:"recorded_at"`
}

// ProvenanceEdge is a directed derived-from relation between two records.
// The edge set must stay acyclic; the lineage rule blocks commits that would
// let a record transitively derive from itself.
type ProvenanceEdge struct {
	Base
	RecordID    string `json:"record_id"`
	DerivedFrom string `json:"derived_from"`
	Process     string `json:"process,omitempty"`
}

// EdgeKey returns the canonical identifier for a derived-from relation.
func EdgeKey(recordID, derivedFrom string) string {
	return recordID + "<-" + derivedFrom
}

// Provenance describes the origin of one raw payload submitted for ingestion.
type Provenance struct {
	// SourceID is the stable identifier of the source record; it seeds the
	// deterministic persistent identifier so re-runs stay idempotent.
	SourceID string `json:"source_id"`
	// Agent names the researcher, instrument, or process submitting the data.
	Agent string `json:"agent,omitempty"`
	// Process describes the step that produced the payload.
	Process string `json:"process,omitempty"`
	// DerivedFrom lists persistent identifiers of ancestor records.
	DerivedFrom []string `json:"derived_from,omitempty"`
}

// FieldIssue reports a single attribute-level validation failure.
type FieldIssue struct {
	Field   string `json:"field"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ValidationReport is the ephemeral result of one ingestion attempt. It lists
// per-attribute failures plus the normalized values; it is not persisted
// beyond the ingestion call unless the payload is rejected and the report is
// archived for audit.
type ValidationReport struct {
	Type       string         `json:"type"`
	SourceID   string         `json:"source_id,omitempty"`
	Issues     []FieldIssue   `json:"issues,omitempty"`
	Normalized map[string]any `json:"normalized,omitempty"`
	Geometry   *Geometry      `json:"geometry,omitempty"`
}

// Valid reports whether the payload passed validation.
func (r ValidationReport) Valid() bool { return len(r.Issues) == 0 }

// AddIssue appends a field-level failure to the report.
func (r *ValidationReport) AddIssue(field, code, message string) {
	r.Issues = append(r.Issues, FieldIssue{Field: field, Code: code, Message: message})
}

// Change describes a mutation applied to an entity during a transaction.
type Change struct {
	Entity EntityKind
	Action Action
	Before any
	After  any
}

// Action indicates the type of modification performed.
type Action string

// Change actions enumerate supported mutations captured in the audit trail.
const (
	// ActionCreate indicates an entity was created.
	ActionCreate Action = "create"
	// ActionUpdate indicates an entity was updated (revision or tombstone).
	ActionUpdate Action = "update"
	ActionDelete Action = "delete"
)

// CloneRecord returns a deep copy of a record.
func CloneRecord(r Record) Record {
	cp := r
	cp.Attributes = CloneAttributes(r.Attributes)
	if r.Geometry != nil {
		g := r.Geometry.Clone()
		cp.Geometry = &g
	}
	if r.DeletedAt != nil {
		ts := *r.DeletedAt
		cp.DeletedAt = &ts
	}
	if len(r.Revisions) > 0 {
		cp.Revisions = make([]Revision, len(r.Revisions))
		for i, rev := range r.Revisions {
			cp.Revisions[i] = cloneRevision(rev)
		}
	}
	return cp
}

func cloneRevision(rev Revision) Revision {
	cp := rev
	cp.Attributes = CloneAttributes(rev.Attributes)
	if rev.Geometry != nil {
		g := rev.Geometry.Clone()
		cp.Geometry = &g
	}
	return cp
}

// CloneEdge returns a copy of a provenance edge.
func CloneEdge(e ProvenanceEdge) ProvenanceEdge { return e }

// CloneAttributes shallow-copies an attribute map. Values are JSON scalars,
// so a shallow copy is sufficient.
func CloneAttributes(attrs map[string]any) map[string]any {
	if attrs == nil {
		return nil
	}
	cp := make(map[string]any, len(attrs))
	for k, v := range attrs {
		cp[k] = v
	}
	return cp
}
