package catalog

import (
	"context"
	"errors"
	"testing"
	"time"

	"lithocore/internal/infra/persistence/memory"
	"lithocore/pkg/domain"
)

func seedStore(t *testing.T, records []domain.Record, edges []domain.ProvenanceEdge) *memory.Store {
	t.Helper()
	store := memory.NewStore(nil)
	_, err := store.RunInTransaction(context.Background(), func(tx domain.Transaction) error {
		for _, r := range records {
			if _, err := tx.CreateRecord(r); err != nil {
				return err
			}
		}
		for _, e := range edges {
			if _, err := tx.CreateProvenanceEdge(e); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("seed: %v", err)
	}
	return store
}

func sample(id, sourceID string, depth float64, lon, lat float64) domain.Record {
	return domain.Record{
		Base:       domain.Base{ID: id},
		Type:       "sample",
		SourceID:   sourceID,
		Attributes: map[string]any{"depth": depth, "mineral": "quartz"},
		Geometry: &domain.Geometry{
			Kind:        domain.GeometryPoint,
			CRS:         domain.CRSWGS84,
			Coordinates: [][2]float64{{lon, lat}},
		},
	}
}

func TestQueryFilters(t *testing.T) {
	store := seedStore(t, []domain.Record{
		sample("a", "S-1", 0.5, 6.9, 50.9),
		sample("b", "S-2", 1.5, 7.1, 51.0),
		sample("c", "S-3", 2.5, 13.4, 52.5),
	}, nil)
	svc := New(store)
	ctx := context.Background()

	got, err := svc.Query(ctx, Query{Type: "sample", Filters: []Filter{{Field: "depth", Op: OpGt, Value: 1.0}}})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(got) != 2 || got[0].SourceID != "S-2" || got[1].SourceID != "S-3" {
		t.Fatalf("unexpected result %+v", got)
	}

	got, err = svc.Query(ctx, Query{Type: "sample", Filters: []Filter{
		{Field: "mineral", Op: OpEq, Value: "quartz"},
		{Field: "depth", Op: OpLte, Value: 0.5},
	}})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(got) != 1 || got[0].SourceID != "S-1" {
		t.Fatalf("conjunction failed: %+v", got)
	}
}

func TestQueryOrderingOpNeedsNumbers(t *testing.T) {
	store := seedStore(t, []domain.Record{sample("a", "S-1", 0.5, 6.9, 50.9)}, nil)
	svc := New(store)
	_, err := svc.Query(context.Background(), Query{Type: "sample", Filters: []Filter{
		{Field: "mineral", Op: OpGt, Value: "quartz"},
	}})
	if err == nil {
		t.Fatalf("ordering operator on strings must fail")
	}
}

func TestQueryBoundingBox(t *testing.T) {
	store := seedStore(t, []domain.Record{
		sample("a", "S-1", 0.5, 6.9, 50.9),
		sample("b", "S-2", 1.5, 13.4, 52.5),
	}, nil)
	svc := New(store)
	ctx := context.Background()

	rhineland := &domain.BoundingBox{MinLon: 6.0, MinLat: 50.0, MaxLon: 8.0, MaxLat: 52.0}
	got, err := svc.Query(ctx, Query{Type: "sample", Bounds: rhineland})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(got) != 1 || got[0].SourceID != "S-1" {
		t.Fatalf("unexpected spatial result %+v", got)
	}

	// A box covering nothing yields an empty result, not an error.
	pacific := &domain.BoundingBox{MinLon: -170, MinLat: -10, MaxLon: -160, MaxLat: 10}
	got, err = svc.Query(ctx, Query{Type: "sample", Bounds: pacific})
	if err != nil || len(got) != 0 {
		t.Fatalf("empty extent: got %+v, err %v", got, err)
	}
}

func TestQueryLimit(t *testing.T) {
	store := seedStore(t, []domain.Record{
		sample("a", "S-1", 0.5, 6.9, 50.9),
		sample("b", "S-2", 1.5, 7.1, 51.0),
	}, nil)
	svc := New(store)
	got, err := svc.Query(context.Background(), Query{Type: "sample", Limit: 1})
	if err != nil || len(got) != 1 || got[0].SourceID != "S-1" {
		t.Fatalf("limit ignored: %+v (%v)", got, err)
	}
}

func TestSoftDeleteExcludesFromQueries(t *testing.T) {
	store := seedStore(t, []domain.Record{sample("a", "S-1", 0.5, 6.9, 50.9)}, nil)
	fixed := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	svc := New(store, WithNowFunc(func() time.Time { return fixed }))
	ctx := context.Background()

	deleted, err := svc.SoftDelete(ctx, "a")
	if err != nil {
		t.Fatalf("soft delete: %v", err)
	}
	if deleted.DeletedAt == nil || !deleted.DeletedAt.Equal(fixed) {
		t.Fatalf("tombstone not set: %+v", deleted.DeletedAt)
	}

	got, err := svc.Query(ctx, Query{Type: "sample"})
	if err != nil || len(got) != 0 {
		t.Fatalf("tombstoned record still visible: %+v (%v)", got, err)
	}
	got, err = svc.Query(ctx, Query{Type: "sample", IncludeDeleted: true})
	if err != nil || len(got) != 1 {
		t.Fatalf("IncludeDeleted ignored: %+v (%v)", got, err)
	}

	// Get still resolves tombstoned records.
	if _, err := svc.Get(ctx, "a"); err != nil {
		t.Fatalf("get after delete: %v", err)
	}

	// Repeated deletion is a no-op and keeps the original timestamp.
	svc2 := New(store, WithNowFunc(func() time.Time { return fixed.Add(time.Hour) }))
	again, err := svc2.SoftDelete(ctx, "a")
	if err != nil {
		t.Fatalf("second delete: %v", err)
	}
	if !again.DeletedAt.Equal(fixed) {
		t.Fatalf("tombstone timestamp overwritten: %v", again.DeletedAt)
	}
}

func TestProvenanceChainRootFirst(t *testing.T) {
	store := seedStore(t,
		[]domain.Record{
			sample("root", "S-0", 0.1, 6.9, 50.9),
			sample("mid", "S-1", 0.2, 6.9, 50.9),
			sample("leaf", "S-2", 0.3, 6.9, 50.9),
		},
		[]domain.ProvenanceEdge{
			{RecordID: "mid", DerivedFrom: "root"},
			{RecordID: "leaf", DerivedFrom: "mid"},
			{RecordID: "leaf", DerivedFrom: "root"},
		},
	)
	svc := New(store)
	chain, err := svc.ProvenanceChain(context.Background(), "leaf")
	if err != nil {
		t.Fatalf("chain: %v", err)
	}
	if len(chain) != 3 {
		t.Fatalf("expected 3 records, got %d", len(chain))
	}
	if chain[0].ID != "root" || chain[2].ID != "leaf" {
		t.Fatalf("unexpected order %s, %s, %s", chain[0].ID, chain[1].ID, chain[2].ID)
	}
}

func TestProvenanceChainDetectsCycle(t *testing.T) {
	// A bare rules engine without the lineage rule lets a cycle commit, so
	// traversal has to defend itself.
	store := seedStore(t,
		[]domain.Record{
			sample("a", "S-1", 0.1, 6.9, 50.9),
			sample("b", "S-2", 0.2, 6.9, 50.9),
		},
		[]domain.ProvenanceEdge{
			{RecordID: "a", DerivedFrom: "b"},
			{RecordID: "b", DerivedFrom: "a"},
		},
	)
	svc := New(store)
	_, err := svc.ProvenanceChain(context.Background(), "a")
	var cycle domain.ErrCycleDetected
	if !errors.As(err, &cycle) {
		t.Fatalf("expected ErrCycleDetected, got %v", err)
	}
}

func TestProvenanceChainNotFound(t *testing.T) {
	svc := New(memory.NewStore(nil))
	_, err := svc.ProvenanceChain(context.Background(), "ghost")
	var notFound domain.ErrNotFound
	if !errors.As(err, &notFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestRevisions(t *testing.T) {
	record := sample("a", "S-1", 0.5, 6.9, 50.9)
	record.Revisions = []domain.Revision{{Version: 1, SourceHash: "old"}}
	store := seedStore(t, []domain.Record{record}, nil)
	svc := New(store)

	revisions, err := svc.Revisions(context.Background(), "a")
	if err != nil {
		t.Fatalf("revisions: %v", err)
	}
	if len(revisions) != 1 || revisions[0].Version != 1 {
		t.Fatalf("unexpected revisions %+v", revisions)
	}

	if _, err := svc.Revisions(context.Background(), "ghost"); err == nil {
		t.Fatalf("expected not found")
	}
}
