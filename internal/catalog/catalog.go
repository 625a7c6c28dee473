// Package catalog implements read-side access to committed records: attribute
// and spatial queries, provenance chain traversal, revision history, and
// tombstone deletion.
package catalog

import (
	"context"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"lithocore/pkg/domain"
)

// Op enumerates supported filter comparisons.
type Op string

// Supported filter operators. Ordering operators apply to numeric values
// only; eq also matches strings and booleans.
const (
	OpEq  Op = "eq"
	OpLt  Op = "lt"
	OpLte Op = "lte"
	OpGt  Op = "gt"
	OpGte Op = "gte"
)

// Filter matches one attribute against a value.
type Filter struct {
	Field string `json:"field"`
	Op    Op     `json:"op"`
	Value any    `json:"value"`
}

// Query selects records of one type by attribute filters and an optional
// spatial extent. Tombstoned records are excluded unless IncludeDeleted is
// set. An empty result is a valid, finite result, never an error.
type Query struct {
	Type           string              `json:"type"`
	Filters        []Filter            `json:"filters,omitempty"`
	Bounds         *domain.BoundingBox `json:"bounds,omitempty"`
	IncludeDeleted bool                `json:"include_deleted,omitempty"`
	Limit          int                 `json:"limit,omitempty"`
}

// Service answers queries against a consistent snapshot of the store.
type Service struct {
	store  domain.PersistentStore
	logger *zap.Logger
	nowFn  func() time.Time
}

// Option configures a Service.
type Option func(*Service)

// WithLogger attaches a structured logger (default no-op).
func WithLogger(logger *zap.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithNowFunc overrides the clock for tests.
func WithNowFunc(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.nowFn = now
		}
	}
}

// New constructs a catalog service over the given store.
func New(store domain.PersistentStore, opts ...Option) *Service {
	s := &Service{
		store:  store,
		logger: zap.NewNop(),
		nowFn:  func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Get returns one record by persistent identifier, tombstoned or not.
func (s *Service) Get(ctx context.Context, id string) (domain.Record, error) {
	var out domain.Record
	err := s.store.View(ctx, func(view domain.TransactionView) error {
		record, ok := view.FindRecord(id)
		if !ok {
			return domain.ErrNotFound{Entity: domain.EntityRecord, ID: id}
		}
		out = record
		return nil
	})
	return out, err
}

// Query evaluates filters and spatial bounds against a single snapshot.
// Results are sorted by source identifier for stable pagination.
func (s *Service) Query(ctx context.Context, q Query) ([]domain.Record, error) {
	if q.Type == "" {
		return nil, fmt.Errorf("query type required")
	}
	out := make([]domain.Record, 0)
	err := s.store.View(ctx, func(view domain.TransactionView) error {
		for _, record := range view.ListRecords() {
			if record.Type != q.Type {
				continue
			}
			if record.Deleted() && !q.IncludeDeleted {
				continue
			}
			matched, err := matchFilters(record, q.Filters)
			if err != nil {
				return err
			}
			if !matched {
				continue
			}
			if q.Bounds != nil {
				if record.Geometry == nil || !q.Bounds.Intersects(record.Geometry.Bounds()) {
					continue
				}
			}
			out = append(out, record)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SourceID < out[j].SourceID })
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out, nil
}

// ProvenanceChain returns the full ancestry of a record, most distant root
// first and the record itself last. A traversal that revisits a node reports
// ErrCycleDetected; the invariant violation is surfaced, never repaired.
func (s *Service) ProvenanceChain(ctx context.Context, recordID string) ([]domain.Record, error) {
	var chain []domain.Record
	err := s.store.View(ctx, func(view domain.TransactionView) error {
		if _, ok := view.FindRecord(recordID); !ok {
			return domain.ErrNotFound{Entity: domain.EntityRecord, ID: recordID}
		}
		walker := &lineageWalker{
			view:  view,
			state: make(map[string]int),
		}
		if err := walker.visit(recordID); err != nil {
			return err
		}
		chain = walker.order
		return nil
	})
	if err != nil {
		return nil, err
	}
	return chain, nil
}

const (
	stateVisiting = 1
	stateDone     = 2
)

type lineageWalker struct {
	view  domain.TransactionView
	state map[string]int
	order []domain.Record
}

func (w *lineageWalker) visit(id string) error {
	switch w.state[id] {
	case stateDone:
		return nil
	case stateVisiting:
		return domain.ErrCycleDetected{RecordID: id}
	}
	w.state[id] = stateVisiting
	edges := w.view.EdgesFor(id)
	sort.Slice(edges, func(i, j int) bool { return edges[i].DerivedFrom < edges[j].DerivedFrom })
	for _, edge := range edges {
		if err := w.visit(edge.DerivedFrom); err != nil {
			return err
		}
	}
	record, ok := w.view.FindRecord(id)
	if !ok {
		return domain.ErrNotFound{Entity: domain.EntityRecord, ID: id}
	}
	w.state[id] = stateDone
	w.order = append(w.order, record)
	return nil
}

// SoftDelete tombstones a record. The record stays resolvable for provenance
// chains and revision history; queries exclude it by default. Deleting a
// tombstoned record is a no-op.
func (s *Service) SoftDelete(ctx context.Context, recordID string) (domain.Record, error) {
	var out domain.Record
	_, err := s.store.RunInTransaction(ctx, func(tx domain.Transaction) error {
		record, err := tx.UpdateRecord(recordID, func(r *domain.Record) error {
			if r.DeletedAt == nil {
				ts := s.nowFn()
				r.DeletedAt = &ts
			}
			return nil
		})
		if err != nil {
			return err
		}
		out = record
		return nil
	})
	if err != nil {
		return domain.Record{}, err
	}
	s.logger.Info("record tombstoned", zap.String("record_id", recordID))
	return out, nil
}

// Revisions returns the superseded snapshots of a record, oldest first.
func (s *Service) Revisions(ctx context.Context, recordID string) ([]domain.Revision, error) {
	record, err := s.Get(ctx, recordID)
	if err != nil {
		return nil, err
	}
	return record.Revisions, nil
}

// matchFilters evaluates all filters conjunctively.
func matchFilters(record domain.Record, filters []Filter) (bool, error) {
	for _, f := range filters {
		value, present := record.Attributes[f.Field]
		if !present {
			return false, nil
		}
		ok, err := matchValue(value, f)
		if err != nil {
			return false, err
		}
		if !ok {
			return false, nil
		}
	}
	return true, nil
}

func matchValue(value any, f Filter) (bool, error) {
	switch f.Op {
	case OpEq, "":
		if lhs, okL := numeric(value); okL {
			if rhs, okR := numeric(f.Value); okR {
				return lhs == rhs, nil
			}
		}
		return value == f.Value, nil
	case OpLt, OpLte, OpGt, OpGte:
		lhs, okL := numeric(value)
		rhs, okR := numeric(f.Value)
		if !okL || !okR {
			return false, fmt.Errorf("filter %q: operator %q requires numeric values", f.Field, f.Op)
		}
		switch f.Op {
		case OpLt:
			return lhs < rhs, nil
		case OpLte:
			return lhs <= rhs, nil
		case OpGt:
			return lhs > rhs, nil
		default:
			return lhs >= rhs, nil
		}
	default:
		return false, fmt.Errorf("filter %q: unknown operator %q", f.Field, f.Op)
	}
}

func numeric(value any) (float64, bool) {
	switch v := value.(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	default:
		return 0, false
	}
}
