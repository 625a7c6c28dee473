package domain

import (
	"context"
	"fmt"
)

// NewProvenanceAcyclicRule returns the in-transaction rule enforcing that no
// record may transitively derive from itself.
func NewProvenanceAcyclicRule() Rule {
	return provenanceAcyclicRule{}
}

type provenanceAcyclicRule struct{}

func (provenanceAcyclicRule) Name() string { return "provenance_acyclic" }

func (provenanceAcyclicRule) Evaluate(_ context.Context, view TransactionView, _ []Change) (Result, error) {
	parents := make(map[string][]string)
	for _, edge := range view.ListProvenanceEdges() {
		parents[edge.RecordID] = append(parents[edge.RecordID], edge.DerivedFrom)
	}

	const (
		unvisited = 0
		visiting  = 1
		done      = 2
	)
	state := make(map[string]int, len(parents))

	res := Result{}
	var walk func(id string) bool
	walk = func(id string) bool {
		switch state[id] {
		case visiting:
			return true
		case done:
			return false
		}
		state[id] = visiting
		for _, parent := range parents[id] {
			if walk(parent) {
				res.Violations = append(res.Violations, Violation{
					Rule:     "provenance_acyclic",
					Severity: SeverityBlock,
					Message:  fmt.Sprintf("record %s participates in a provenance cycle", id),
					Entity:   EntityRecord,
					EntityID: id,
				})
				state[id] = done
				return false
			}
		}
		state[id] = done
		return false
	}

	for id := range parents {
		walk(id)
	}
	return res, nil
}
