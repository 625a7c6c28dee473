// Package memory provides the in-memory transactional store for the catalog
// domain. Transactions run against a clone of committed state; the rules
// engine evaluates the candidate state at commit and blocking violations
// abort the swap, so no partial writes ever become visible.
package memory

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	"lithocore/pkg/domain"
)

type state struct {
	records map[string]domain.Record
	edges   map[string]domain.ProvenanceEdge
}

func newState() state {
	return state{
		records: make(map[string]domain.Record),
		edges:   make(map[string]domain.ProvenanceEdge),
	}
}

func (s state) clone() state {
	cloned := newState()
	for k, v := range s.records {
		cloned.records[k] = domain.CloneRecord(v)
	}
	for k, v := range s.edges {
		cloned.edges[k] = domain.CloneEdge(v)
	}
	return cloned
}

// Store provides an in-memory transactional store for the catalog domain.
type Store struct {
	mu         sync.RWMutex
	state      state
	generation uint64
	engine     *domain.RulesEngine
	nowFn      func() time.Time
}

// NewStore constructs an in-memory store backed by the provided rules engine.
func NewStore(engine *domain.RulesEngine) *Store {
	if engine == nil {
		engine = domain.NewRulesEngine()
	}
	return &Store{
		state:  newState(),
		engine: engine,
		nowFn:  func() time.Time { return time.Now().UTC() },
	}
}

var _ domain.PersistentStore = (*Store)(nil)

// Engine returns the rules engine evaluated at commit.
func (s *Store) Engine() *domain.RulesEngine { return s.engine }

// SetNowFunc overrides the clock; tests use it for deterministic timestamps.
func (s *Store) SetNowFunc(fn func() time.Time) {
	if fn != nil {
		s.nowFn = fn
	}
}

func newID() string {
	var b [16]byte
	if _, err := rand.Read(b[:]); err != nil {
		panic(err)
	}
	return hex.EncodeToString(b[:])
}

// Transaction represents a mutation set applied to the store state.
type Transaction struct {
	state   state
	changes []domain.Change
	now     time.Time
}

var _ domain.Transaction = (*Transaction)(nil)

// view exposes a read-only snapshot of transactional state.
type view struct {
	state *state
}

var _ domain.TransactionView = view{}

// ListRecords returns all records within the snapshot.
func (v view) ListRecords() []domain.Record {
	out := make([]domain.Record, 0, len(v.state.records))
	for _, r := range v.state.records {
		out = append(out, domain.CloneRecord(r))
	}
	return out
}

// FindRecord retrieves a record by ID from the snapshot.
func (v view) FindRecord(id string) (domain.Record, bool) {
	r, ok := v.state.records[id]
	if !ok {
		return domain.Record{}, false
	}
	return domain.CloneRecord(r), true
}

// ListProvenanceEdges returns all derived-from relations in the snapshot.
func (v view) ListProvenanceEdges() []domain.ProvenanceEdge {
	out := make([]domain.ProvenanceEdge, 0, len(v.state.edges))
	for _, e := range v.state.edges {
		out = append(out, domain.CloneEdge(e))
	}
	return out
}

// EdgesFor returns the derived-from relations whose record is recordID.
func (v view) EdgesFor(recordID string) []domain.ProvenanceEdge {
	var out []domain.ProvenanceEdge
	for _, e := range v.state.edges {
		if e.RecordID == recordID {
			out = append(out, domain.CloneEdge(e))
		}
	}
	return out
}

// RunInTransaction executes fn within a transactional copy of the store
// state. The candidate state replaces committed state only when fn succeeds,
// every rule passes, and the context is still live.
func (s *Store) RunInTransaction(ctx context.Context, fn func(domain.Transaction) error) (domain.Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return domain.Result{}, err
	}

	tx := &Transaction{
		state: s.state.clone(),
		now:   s.nowFn(),
	}

	if err := fn(tx); err != nil {
		return domain.Result{}, err
	}

	var result domain.Result
	if s.engine != nil {
		res, err := s.engine.Evaluate(ctx, view{state: &tx.state}, tx.changes)
		if err != nil {
			return domain.Result{}, err
		}
		result = res
		if res.HasBlocking() {
			return res, domain.RuleViolationError{Result: res}
		}
	}

	// Cancellation between validation and commit leaves committed state
	// untouched.
	if err := ctx.Err(); err != nil {
		return domain.Result{}, err
	}

	s.state = tx.state
	s.generation++
	return result, nil
}

// View executes fn against a read-only snapshot of the store state.
func (s *Store) View(ctx context.Context, fn func(domain.TransactionView) error) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if err := ctx.Err(); err != nil {
		return err
	}
	snapshot := s.state.clone()
	return fn(view{state: &snapshot})
}

// Snapshot exposes the transactional view to callers inside fn.
func (tx *Transaction) Snapshot() domain.TransactionView {
	return view{state: &tx.state}
}

func (tx *Transaction) recordChange(change domain.Change) {
	tx.changes = append(tx.changes, change)
}

// CreateRecord stores a new record within the transaction.
func (tx *Transaction) CreateRecord(r domain.Record) (domain.Record, error) {
	if r.ID == "" {
		r.ID = newID()
	}
	if _, exists := tx.state.records[r.ID]; exists {
		return domain.Record{}, fmt.Errorf("record %q already exists", r.ID)
	}
	r.CreatedAt = tx.now
	r.UpdatedAt = tx.now
	if r.Version == 0 {
		r.Version = 1
	}
	if r.Attributes == nil {
		r.Attributes = map[string]any{}
	}
	tx.state.records[r.ID] = domain.CloneRecord(r)
	tx.recordChange(domain.Change{Entity: domain.EntityRecord, Action: domain.ActionCreate, After: domain.CloneRecord(r)})
	return domain.CloneRecord(r), nil
}

// UpdateRecord mutates a record using the provided mutator function.
func (tx *Transaction) UpdateRecord(id string, mutator func(*domain.Record) error) (domain.Record, error) {
	current, ok := tx.state.records[id]
	if !ok {
		return domain.Record{}, domain.ErrNotFound{Entity: domain.EntityRecord, ID: id}
	}
	before := domain.CloneRecord(current)
	if err := mutator(&current); err != nil {
		return domain.Record{}, err
	}
	current.ID = id
	current.UpdatedAt = tx.now
	tx.state.records[id] = domain.CloneRecord(current)
	tx.recordChange(domain.Change{Entity: domain.EntityRecord, Action: domain.ActionUpdate, Before: before, After: domain.CloneRecord(current)})
	return domain.CloneRecord(current), nil
}

// DeleteRecord removes a record from the transaction state. Catalog callers
// tombstone via UpdateRecord instead; hard deletion exists for administrative
// cleanup only.
func (tx *Transaction) DeleteRecord(id string) error {
	current, ok := tx.state.records[id]
	if !ok {
		return domain.ErrNotFound{Entity: domain.EntityRecord, ID: id}
	}
	delete(tx.state.records, id)
	tx.recordChange(domain.Change{Entity: domain.EntityRecord, Action: domain.ActionDelete, Before: domain.CloneRecord(current)})
	return nil
}

// CreateProvenanceEdge stores a derived-from relation.
func (tx *Transaction) CreateProvenanceEdge(e domain.ProvenanceEdge) (domain.ProvenanceEdge, error) {
	if e.RecordID == "" || e.DerivedFrom == "" {
		return domain.ProvenanceEdge{}, fmt.Errorf("provenance edge needs record_id and derived_from")
	}
	key := domain.EdgeKey(e.RecordID, e.DerivedFrom)
	if _, exists := tx.state.edges[key]; exists {
		return domain.ProvenanceEdge{}, fmt.Errorf("provenance edge %q already exists", key)
	}
	if _, ok := tx.state.records[e.RecordID]; !ok {
		return domain.ProvenanceEdge{}, domain.ErrNotFound{Entity: domain.EntityRecord, ID: e.RecordID}
	}
	if _, ok := tx.state.records[e.DerivedFrom]; !ok {
		return domain.ProvenanceEdge{}, domain.ErrNotFound{Entity: domain.EntityRecord, ID: e.DerivedFrom}
	}
	e.ID = key
	e.CreatedAt = tx.now
	e.UpdatedAt = tx.now
	tx.state.edges[key] = domain.CloneEdge(e)
	tx.recordChange(domain.Change{Entity: domain.EntityProvenanceEdge, Action: domain.ActionCreate, After: domain.CloneEdge(e)})
	return domain.CloneEdge(e), nil
}

// DeleteProvenanceEdge removes a derived-from relation by key.
func (tx *Transaction) DeleteProvenanceEdge(key string) error {
	current, ok := tx.state.edges[key]
	if !ok {
		return domain.ErrNotFound{Entity: domain.EntityProvenanceEdge, ID: key}
	}
	delete(tx.state.edges, key)
	tx.recordChange(domain.Change{Entity: domain.EntityProvenanceEdge, Action: domain.ActionDelete, Before: domain.CloneEdge(current)})
	return nil
}

// FindRecord retrieves a record by ID from transactional state.
func (tx *Transaction) FindRecord(id string) (domain.Record, bool) {
	r, ok := tx.state.records[id]
	if !ok {
		return domain.Record{}, false
	}
	return domain.CloneRecord(r), true
}

// Read helpers ---------------------------------------------------------------

// GetRecord retrieves a record by ID from committed state.
func (s *Store) GetRecord(id string) (domain.Record, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.state.records[id]
	if !ok {
		return domain.Record{}, false
	}
	return domain.CloneRecord(r), true
}

// ListRecords returns all records from committed state.
func (s *Store) ListRecords() []domain.Record {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.Record, 0, len(s.state.records))
	for _, r := range s.state.records {
		out = append(out, domain.CloneRecord(r))
	}
	return out
}

// ListProvenanceEdges returns all derived-from relations from committed state.
func (s *Store) ListProvenanceEdges() []domain.ProvenanceEdge {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.ProvenanceEdge, 0, len(s.state.edges))
	for _, e := range s.state.edges {
		out = append(out, domain.CloneEdge(e))
	}
	return out
}
