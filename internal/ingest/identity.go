package ingest

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"lithocore/pkg/domain"
)

// recordNamespace seeds deterministic record identifiers. Re-ingesting the
// same (type, source id) pair always resolves to the same persistent ID.
var recordNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("lithocore/records"))

// RecordID derives the persistent identifier for a source record.
func RecordID(entityType, sourceID string) string {
	return uuid.NewSHA1(recordNamespace, []byte(entityType+"\x00"+sourceID)).String()
}

// SourceHash fingerprints the normalized content of a payload. Identical
// content hashes identically regardless of attribute ordering, so re-ingesting
// an unchanged payload is detectable as a no-op.
func SourceHash(entityType string, attributes map[string]any, geometry *domain.Geometry) (string, error) {
	canonical := struct {
		Type       string           `json:"type"`
		Attributes map[string]any   `json:"attributes"`
		Geometry   *domain.Geometry `json:"geometry,omitempty"`
	}{Type: entityType, Attributes: attributes, Geometry: geometry}
	data, err := json.Marshal(canonical)
	if err != nil {
		return "", fmt.Errorf("hash payload: %w", err)
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}
