package domain

import (
	"errors"
	"fmt"
	"strings"
)

// ErrConcurrentConflict reports that a competing writer committed between
// snapshot and persist. The operation is safe to retry.
var ErrConcurrentConflict = errors.New("concurrent conflict: state changed during transaction")

// ErrUnknownType reports a reference to an entity type that is not registered.
type ErrUnknownType struct {
	Name string
}

func (e ErrUnknownType) Error() string {
	return fmt.Sprintf("unknown entity type %q", e.Name)
}

// ErrDuplicateType reports an attempt to register an entity type name or
// version that already exists. Schema evolution is append-only.
type ErrDuplicateType struct {
	Name    string
	Version int
}

func (e ErrDuplicateType) Error() string {
	if e.Version > 0 {
		return fmt.Sprintf("entity type %q version %d already registered", e.Name, e.Version)
	}
	return fmt.Sprintf("entity type %q already registered", e.Name)
}

// ErrNotFound reports a missing record or edge.
type ErrNotFound struct {
	Entity EntityKind
	ID     string
}

func (e ErrNotFound) Error() string {
	return fmt.Sprintf("%s %s not found", e.Entity, e.ID)
}

// ErrCycleDetected reports a provenance traversal that revisited a node. It is
// an invariant violation and is always surfaced, never repaired silently.
type ErrCycleDetected struct {
	RecordID string
}

func (e ErrCycleDetected) Error() string {
	return fmt.Sprintf("provenance cycle detected at record %s", e.RecordID)
}

// ValidationError carries the full per-field report of a rejected ingestion.
// Failures are collected and returned together so callers see every problem
// in one round trip.
type ValidationError struct {
	Report ValidationReport
}

func (e ValidationError) Error() string {
	fields := make([]string, 0, len(e.Report.Issues))
	for _, issue := range e.Report.Issues {
		fields = append(fields, issue.Field)
	}
	return fmt.Sprintf("validation failed for type %q: fields [%s]", e.Report.Type, strings.Join(fields, ", "))
}

// StorageError wraps a persistence collaborator failure. The enclosing
// transaction has been rolled back before this error is surfaced.
type StorageError struct {
	Op  string
	Err error
}

func (e StorageError) Error() string {
	return fmt.Sprintf("storage %s: %v", e.Op, e.Err)
}

func (e StorageError) Unwrap() error { return e.Err }
