// Package sqlite persists catalog state to an embedded SQLite file as JSON
// snapshots, mirroring the in-memory semantics. Suitable for single-node
// deployments and the ETL starting point.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"lithocore/internal/infra/persistence/memory"
	"lithocore/pkg/domain"

	_ "modernc.org/sqlite" // pure go sqlite driver
)

var _ domain.PersistentStore = (*Store)(nil)

// Store persists the in-memory state to a single SQLite table as JSON blobs.
// It snapshots the full state after every successful transaction.
type Store struct {
	*memory.Store
	db   *sql.DB
	mu   sync.Mutex
	path string
}

// NewStore constructs a snapshotting SQLite-backed persistent store.
func NewStore(path string, engine *domain.RulesEngine) (*Store, error) {
	if path == "" {
		path = "lithocore.db"
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil && !errors.Is(err, os.ErrExist) {
			return nil, fmt.Errorf("create dirs: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS state (
		bucket TEXT PRIMARY KEY,
		payload BLOB NOT NULL
	)`); err != nil {
		return nil, fmt.Errorf("create state table: %w", err)
	}
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS generation (
		id INTEGER PRIMARY KEY CHECK (id = 1),
		gen INTEGER NOT NULL
	)`); err != nil {
		return nil, fmt.Errorf("create generation table: %w", err)
	}
	if _, err := db.Exec(`INSERT INTO generation(id, gen) VALUES(1, 0) ON CONFLICT(id) DO NOTHING`); err != nil {
		return nil, fmt.Errorf("seed generation: %w", err)
	}
	mem := memory.NewStore(engine)
	s := &Store{Store: mem, db: db, path: path}
	if err := s.load(); err != nil {
		return nil, err
	}
	return s, nil
}

var sqliteBuckets = []string{"records", "edges"}

func (s *Store) load() error {
	rows, err := s.db.Query(`SELECT bucket, payload FROM state`)
	if err != nil {
		return fmt.Errorf("select state: %w", err)
	}
	defer func() { _ = rows.Close() }()

	snapshot := memory.Snapshot{}
	loaded := false
	for rows.Next() {
		var bucket string
		var payload []byte
		if err := rows.Scan(&bucket, &payload); err != nil {
			return fmt.Errorf("scan: %w", err)
		}
		switch bucket {
		case "records":
			if err := json.Unmarshal(payload, &snapshot.Records); err != nil {
				return fmt.Errorf("decode records: %w", err)
			}
			loaded = true
		case "edges":
			if err := json.Unmarshal(payload, &snapshot.Edges); err != nil {
				return fmt.Errorf("decode edges: %w", err)
			}
			loaded = true
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate state: %w", err)
	}
	if !loaded {
		return nil
	}
	if err := s.db.QueryRow(`SELECT gen FROM generation WHERE id = 1`).Scan(&snapshot.Generation); err != nil {
		return fmt.Errorf("read generation: %w", err)
	}
	s.ImportState(snapshot)
	return nil
}

// persist writes the current committed state; the caller holds s.mu.
func (s *Store) persist(ctx context.Context) (retErr error) {
	snapshot := s.ExportState()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return domain.StorageError{Op: "begin", Err: err}
	}
	defer func() {
		if retErr != nil {
			_ = tx.Rollback()
		}
	}()
	for _, bucket := range sqliteBuckets {
		var data []byte
		switch bucket {
		case "records":
			data, err = json.Marshal(snapshot.Records)
		case "edges":
			data, err = json.Marshal(snapshot.Edges)
		}
		if err != nil {
			retErr = domain.StorageError{Op: "encode " + bucket, Err: err}
			return retErr
		}
		if _, err = tx.ExecContext(ctx, `INSERT INTO state(bucket,payload) VALUES(?,?) ON CONFLICT(bucket) DO UPDATE SET payload=excluded.payload`, bucket, data); err != nil {
			retErr = domain.StorageError{Op: "upsert " + bucket, Err: err}
			return retErr
		}
	}
	// Optimistic check: a competing writer that persisted since our snapshot
	// bumped the generation row, and the update matches zero rows.
	res, err := tx.ExecContext(ctx, `UPDATE generation SET gen = ? WHERE id = 1 AND gen = ?`, snapshot.Generation, snapshot.Generation-1)
	if err != nil {
		retErr = domain.StorageError{Op: "advance generation", Err: err}
		return retErr
	}
	if affected, err := res.RowsAffected(); err == nil && affected == 0 {
		retErr = domain.ErrConcurrentConflict
		return retErr
	}
	if err = tx.Commit(); err != nil {
		retErr = domain.StorageError{Op: "commit", Err: err}
		return retErr
	}
	return nil
}

// RunInTransaction applies the provided function within a transaction, then
// snapshots state to SQLite. A failed snapshot restores the previously
// committed state, so the live view never shows a record the database does
// not hold.
func (s *Store) RunInTransaction(ctx context.Context, fn func(domain.Transaction) error) (domain.Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	before := s.ExportState()
	res, err := s.Store.RunInTransaction(ctx, fn)
	if err != nil {
		return res, err
	}
	if pErr := s.persist(ctx); pErr != nil {
		s.ImportState(before)
		return res, pErr
	}
	return res, nil
}

// DB exposes the underlying sql.DB for integration testing hooks.
func (s *Store) DB() *sql.DB { return s.db }

// Path returns the configured database path.
func (s *Store) Path() string { return s.path }

// Close releases the database handle.
func (s *Store) Close() error { return s.db.Close() }
