package memory

import "lithocore/pkg/domain"

// Snapshot is the serializable form of committed state used by the
// snapshotting persistence backends.
type Snapshot struct {
	Records    []domain.Record         `json:"records"`
	Edges      []domain.ProvenanceEdge `json:"edges"`
	Generation uint64                  `json:"generation"`
}

// ExportState captures committed state for durable snapshotting.
func (s *Store) ExportState() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap := Snapshot{Generation: s.generation}
	for _, r := range s.state.records {
		snap.Records = append(snap.Records, domain.CloneRecord(r))
	}
	for _, e := range s.state.edges {
		snap.Edges = append(snap.Edges, domain.CloneEdge(e))
	}
	return snap
}

// ImportState replaces committed state with the snapshot contents. Used when
// hydrating from a durable backend on open.
func (s *Store) ImportState(snap Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := newState()
	for _, r := range snap.Records {
		st.records[r.ID] = domain.CloneRecord(r)
	}
	for _, e := range snap.Edges {
		st.edges[e.ID] = domain.CloneEdge(e)
	}
	s.state = st
	s.generation = snap.Generation
}

// Generation returns the commit counter; snapshotting backends use it for
// optimistic conflict checks.
func (s *Store) Generation() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.generation
}
