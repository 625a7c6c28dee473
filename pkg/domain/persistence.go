package domain

import "context"

// Transaction exposes the catalog operations that a persistence implementation
// must support within an atomic scope.
type Transaction interface {
	Snapshot() TransactionView
	CreateRecord(Record) (Record, error)
	UpdateRecord(id string, mutator func(*Record) error) (Record, error)
	DeleteRecord(id string) error
	CreateProvenanceEdge(ProvenanceEdge) (ProvenanceEdge, error)
	DeleteProvenanceEdge(key string) error
	FindRecord(id string) (Record, bool)
}

// TransactionView provides read-only access to snapshot data for rules and
// query evaluation.
type TransactionView interface {
	ListRecords() []Record
	FindRecord(id string) (Record, bool)
	ListProvenanceEdges() []ProvenanceEdge
	EdgesFor(recordID string) []ProvenanceEdge
}

// PersistentStore is a minimal abstraction over durable backends. All writes
// go through RunInTransaction: commit on full success, rollback on any
// validation or storage error, no partial writes survive.
type PersistentStore interface {
	RunInTransaction(ctx context.Context, fn func(Transaction) error) (Result, error)
	View(ctx context.Context, fn func(TransactionView) error) error
	GetRecord(id string) (Record, bool)
	ListRecords() []Record
	ListProvenanceEdges() []ProvenanceEdge
}
