package postgres

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"testing"

	"lithocore/pkg/domain"

	_ "modernc.org/sqlite"
)

// The snapshot SQL sticks to the dialect both engines share, so the tests
// exercise the real persistence path against an embedded database instead of
// requiring a running server.
func overrideWithEmbeddedDB(t *testing.T, path string) {
	t.Helper()
	restore := OverrideSQLOpen(func(_, _ string) (*sql.DB, error) {
		return sql.Open("sqlite", path)
	})
	t.Cleanup(restore)
}

func TestPostgresRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "snapshot.db")
	overrideWithEmbeddedDB(t, path)

	store, err := NewStore("", nil)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	_, err = store.RunInTransaction(context.Background(), func(tx domain.Transaction) error {
		if _, err := tx.CreateRecord(domain.Record{Base: domain.Base{ID: "a"}, Type: "sample", SourceID: "S-001"}); err != nil {
			return err
		}
		if _, err := tx.CreateRecord(domain.Record{Base: domain.Base{ID: "b"}, Type: "sample", SourceID: "S-002"}); err != nil {
			return err
		}
		_, err := tx.CreateProvenanceEdge(domain.ProvenanceEdge{RecordID: "b", DerivedFrom: "a"})
		return err
	})
	if err != nil {
		t.Fatalf("transaction: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	reopened, err := NewStore("", nil)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer func() { _ = reopened.Close() }()

	record, ok := reopened.GetRecord("a")
	if !ok {
		t.Fatalf("record lost across reopen")
	}
	if record.SourceID != "S-001" {
		t.Fatalf("unexpected record %+v", record)
	}
	if len(reopened.ListProvenanceEdges()) != 1 {
		t.Fatalf("edge lost across reopen")
	}
	if reopened.Generation() != 1 {
		t.Fatalf("expected generation 1, got %d", reopened.Generation())
	}
}

func TestPostgresFailedTransactionDoesNotPersist(t *testing.T) {
	path := filepath.Join(t.TempDir(), "snapshot.db")
	overrideWithEmbeddedDB(t, path)

	store, err := NewStore("", nil)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	_, err = store.RunInTransaction(context.Background(), func(tx domain.Transaction) error {
		_, err := tx.UpdateRecord("missing", func(*domain.Record) error { return nil })
		return err
	})
	if err == nil {
		t.Fatalf("expected failure")
	}
	if err := store.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	reopened, err := NewStore("", nil)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer func() { _ = reopened.Close() }()
	if got := len(reopened.ListRecords()); got != 0 {
		t.Fatalf("expected empty snapshot, got %d records", got)
	}
}

func TestPostgresStorageFailureKeepsViewConsistent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "snapshot.db")
	overrideWithEmbeddedDB(t, path)

	store, err := NewStore("", nil)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	_, err = store.RunInTransaction(context.Background(), func(tx domain.Transaction) error {
		_, err := tx.CreateRecord(domain.Record{Base: domain.Base{ID: "a"}, Type: "sample", SourceID: "S-001"})
		return err
	})
	if err != nil {
		t.Fatalf("seed: %v", err)
	}

	if err := store.DB().Close(); err != nil {
		t.Fatalf("close handle: %v", err)
	}
	_, err = store.RunInTransaction(context.Background(), func(tx domain.Transaction) error {
		_, err := tx.CreateRecord(domain.Record{Base: domain.Base{ID: "b"}, Type: "sample", SourceID: "S-002"})
		return err
	})
	var storageErr domain.StorageError
	if !errors.As(err, &storageErr) {
		t.Fatalf("expected StorageError, got %v", err)
	}
	if _, ok := store.GetRecord("b"); ok {
		t.Fatalf("record visible in live view after storage failure")
	}
	if _, ok := store.GetRecord("a"); !ok {
		t.Fatalf("previously committed record lost on rollback")
	}
	if store.Generation() != 1 {
		t.Fatalf("generation advanced past durable state: %d", store.Generation())
	}
}

func TestOverrideSQLOpenRestores(t *testing.T) {
	marker := func(_, _ string) (*sql.DB, error) { return nil, nil }
	restore := OverrideSQLOpen(marker)
	restore()
	// After restore, opening with an unreachable DSN must go through the real
	// driver and fail on ping rather than return the marker's nil handle.
	if _, err := NewStore("postgres://127.0.0.1:1/doesnotexist?connect_timeout=1", nil); err == nil {
		t.Fatalf("expected connection failure after restore")
	}
}
