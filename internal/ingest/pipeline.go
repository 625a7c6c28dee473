// Package ingest implements the validation and normalization pipeline that
// turns raw payloads into catalog records. Each submission is validated
// against its registered entity type, normalized to canonical units and
// coordinates, assigned a deterministic identifier, and committed together
// with its provenance edges in a single transaction.
package ingest

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"lithocore/internal/blob"
	"lithocore/pkg/domain"
	"lithocore/pkg/schema"
)

// Status classifies the result of one ingestion attempt.
type Status string

// Ingestion outcomes. Re-submitting identical content is a no-op; changed
// content for a known source produces a new revision instead of a duplicate.
const (
	StatusCreated   Status = "created"
	StatusUnchanged Status = "unchanged"
	StatusRevised   Status = "revised"
	StatusRejected  Status = "rejected"
	// StatusFailed marks infrastructure errors (storage, hashing) rather than
	// payload problems; the submission may succeed on retry.
	StatusFailed Status = "failed"
)

// Outcome reports what one ingestion attempt did.
type Outcome struct {
	Status  Status                  `json:"status"`
	Record  domain.Record           `json:"record,omitempty"`
	Report  domain.ValidationReport `json:"report"`
	BlobKey string                  `json:"blob_key,omitempty"`
	Err     string                  `json:"error,omitempty"`
}

// Submission is one raw payload plus its provenance, as handed to the
// pipeline by the API or the batch worker.
type Submission struct {
	Type       string            `json:"type"`
	Payload    map[string]any    `json:"payload"`
	Provenance domain.Provenance `json:"provenance"`
}

// Pipeline validates, normalizes, and commits raw payloads.
type Pipeline struct {
	registry *schema.Registry
	store    domain.PersistentStore
	blobs    blob.Store
	logger   *zap.Logger
	nowFn    func() time.Time
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithLogger attaches a structured logger (default no-op).
func WithLogger(logger *zap.Logger) Option {
	return func(p *Pipeline) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// WithBlobStore attaches an archive store for raw payloads and rejection
// reports. Archival is best effort and never blocks ingestion.
func WithBlobStore(store blob.Store) Option {
	return func(p *Pipeline) { p.blobs = store }
}

// WithNowFunc overrides the clock for tests.
func WithNowFunc(now func() time.Time) Option {
	return func(p *Pipeline) {
		if now != nil {
			p.nowFn = now
		}
	}
}

// New constructs an ingestion pipeline over the given registry and store.
func New(registry *schema.Registry, store domain.PersistentStore, opts ...Option) *Pipeline {
	p := &Pipeline{
		registry: registry,
		store:    store,
		logger:   zap.NewNop(),
		nowFn:    func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Convenience payload keys mapped before shape validation: "id" binds to the
// provenance source identifier; lat/lon/crs bind to the type's single
// geometry attribute when it is not supplied explicitly.
const (
	keySourceID = "id"
	keyLat      = "lat"
	keyLon      = "lon"
	keyCRS      = "crs"
)

// Ingest validates one payload against the latest version of its entity type
// and commits the resulting record with its provenance edges atomically. A
// rejected payload returns a full per-field report wrapped in
// domain.ValidationError; nothing is persisted on rejection.
func (p *Pipeline) Ingest(ctx context.Context, sub Submission) (Outcome, error) {
	def, err := p.registry.Get(sub.Type)
	if err != nil {
		return Outcome{Status: StatusRejected}, err
	}

	payload, prov := mapConvenienceKeys(def, sub.Payload, sub.Provenance)

	report := schema.CheckShape(def, payload)
	report.SourceID = prov.SourceID
	if prov.SourceID == "" {
		// Reported alongside the shape issues so a caller sees every problem
		// with the payload in one pass.
		report.AddIssue(keySourceID, schema.CodeMissing,
			fmt.Sprintf("source id required (provenance or %q payload key)", keySourceID))
	}
	if report.Valid() {
		normalizeAttributes(def, payload, &report)
	}
	if !report.Valid() {
		key := p.archiveRejection(ctx, sub.Type, prov.SourceID, report)
		p.logger.Warn("payload rejected",
			zap.String("type", sub.Type),
			zap.String("source_id", prov.SourceID),
			zap.Int("issues", len(report.Issues)))
		return Outcome{Status: StatusRejected, Report: report, BlobKey: key}, domain.ValidationError{Report: report}
	}

	// The geometry attribute lives on the record itself, not in the
	// attribute map, so spatial queries need no schema lookup.
	if geomAttr, ok := def.GeometryAttribute(); ok {
		delete(report.Normalized, geomAttr)
	}

	hash, err := SourceHash(sub.Type, report.Normalized, report.Geometry)
	if err != nil {
		return Outcome{Status: StatusFailed, Report: report}, err
	}
	recordID := RecordID(sub.Type, prov.SourceID)

	outcome := Outcome{Report: report}
	_, err = p.store.RunInTransaction(ctx, func(tx domain.Transaction) error {
		existing, found := tx.FindRecord(recordID)
		switch {
		case !found:
			created, err := tx.CreateRecord(domain.Record{
				Base:       domain.Base{ID: recordID},
				Type:       sub.Type,
				SourceID:   prov.SourceID,
				SourceHash: hash,
				Attributes: report.Normalized,
				Geometry:   report.Geometry,
				Agent:      prov.Agent,
				Process:    prov.Process,
			})
			if err != nil {
				return err
			}
			outcome.Status = StatusCreated
			outcome.Record = created
		case existing.SourceHash == hash:
			outcome.Status = StatusUnchanged
			outcome.Record = existing
		default:
			revised, err := tx.UpdateRecord(recordID, func(r *domain.Record) error {
				r.Revisions = append(r.Revisions, domain.Revision{
					Version:    r.Version,
					SourceHash: r.SourceHash,
					Attributes: r.Attributes,
					Geometry:   r.Geometry,
					RecordedAt: p.nowFn(),
				})
				r.Version++
				r.SourceHash = hash
				r.Attributes = report.Normalized
				r.Geometry = report.Geometry
				r.DeletedAt = nil
				return nil
			})
			if err != nil {
				return err
			}
			outcome.Status = StatusRevised
			outcome.Record = revised
		}
		return p.ensureEdges(tx, recordID, prov)
	})
	if err != nil {
		return Outcome{Status: classifyCommitError(err), Report: report, Err: err.Error()}, err
	}

	outcome.BlobKey = p.archiveRaw(ctx, sub, recordID, hash)
	p.logger.Info("payload ingested",
		zap.String("type", sub.Type),
		zap.String("record_id", recordID),
		zap.String("status", string(outcome.Status)))
	return outcome, nil
}

// classifyCommitError distinguishes problems with the submission itself (rule
// violations, unknown ancestors) from infrastructure failures that warrant a
// retry.
func classifyCommitError(err error) Status {
	var ruleErr domain.RuleViolationError
	var notFound domain.ErrNotFound
	if errors.As(err, &ruleErr) || errors.As(err, &notFound) {
		return StatusRejected
	}
	return StatusFailed
}

// IngestBatch processes submissions independently: each runs in its own
// transaction, and a rejected item never blocks the rest. Outcomes are
// returned in submission order.
func (p *Pipeline) IngestBatch(ctx context.Context, subs []Submission) ([]Outcome, error) {
	outcomes := make([]Outcome, 0, len(subs))
	for _, sub := range subs {
		if err := ctx.Err(); err != nil {
			return outcomes, err
		}
		outcome, err := p.Ingest(ctx, sub)
		if err != nil {
			outcome.Err = err.Error()
		}
		outcomes = append(outcomes, outcome)
	}
	return outcomes, nil
}

// ensureEdges creates any missing derived-from edges. Edge creation is
// idempotent on the canonical edge key, so re-ingestion never duplicates
// lineage.
func (p *Pipeline) ensureEdges(tx domain.Transaction, recordID string, prov domain.Provenance) error {
	for _, ancestor := range prov.DerivedFrom {
		key := domain.EdgeKey(recordID, ancestor)
		if _, exists := tx.Snapshot().FindRecord(ancestor); !exists {
			return domain.ErrNotFound{Entity: domain.EntityRecord, ID: ancestor}
		}
		if edgeExists(tx.Snapshot().EdgesFor(recordID), key) {
			continue
		}
		if _, err := tx.CreateProvenanceEdge(domain.ProvenanceEdge{
			Base:        domain.Base{ID: key},
			RecordID:    recordID,
			DerivedFrom: ancestor,
			Process:     prov.Process,
		}); err != nil {
			return err
		}
	}
	return nil
}

func edgeExists(edges []domain.ProvenanceEdge, key string) bool {
	for _, e := range edges {
		if e.ID == key {
			return true
		}
	}
	return false
}

// archiveRaw stores the accepted raw payload for audit. Failures are logged
// and swallowed; the committed record is the source of truth.
func (p *Pipeline) archiveRaw(ctx context.Context, sub Submission, recordID, hash string) string {
	if p.blobs == nil {
		return ""
	}
	data, err := json.Marshal(sub)
	if err != nil {
		p.logger.Warn("encode raw payload", zap.Error(err))
		return ""
	}
	key := fmt.Sprintf("raw/%s/%s/%s.json", sub.Type, recordID, hash[:12])
	if _, err := p.blobs.Put(ctx, key, bytes.NewReader(data), blob.PutOptions{ContentType: "application/json"}); err != nil {
		p.logger.Warn("archive raw payload", zap.String("key", key), zap.Error(err))
		return ""
	}
	return key
}

// archiveRejection stores the validation report of a rejected payload.
func (p *Pipeline) archiveRejection(ctx context.Context, entityType, sourceID string, report domain.ValidationReport) string {
	if p.blobs == nil {
		return ""
	}
	data, err := json.Marshal(report)
	if err != nil {
		p.logger.Warn("encode rejection report", zap.Error(err))
		return ""
	}
	if sourceID == "" {
		sourceID = "unknown"
	}
	key := fmt.Sprintf("rejected/%s/%s/%d.json", entityType, sourceID, p.nowFn().UnixNano())
	if _, err := p.blobs.Put(ctx, key, bytes.NewReader(data), blob.PutOptions{ContentType: "application/json"}); err != nil {
		p.logger.Warn("archive rejection report", zap.String("key", key), zap.Error(err))
		return ""
	}
	return key
}

// mapConvenienceKeys rewrites shorthand payload keys before validation. The
// returned payload is a copy; the caller's map is never mutated.
func mapConvenienceKeys(def schema.EntityTypeDef, payload map[string]any, prov domain.Provenance) (map[string]any, domain.Provenance) {
	mapped := make(map[string]any, len(payload))
	for k, v := range payload {
		mapped[k] = v
	}
	if _, declared := def.Attributes[keySourceID]; !declared {
		if id, ok := mapped[keySourceID].(string); ok {
			if prov.SourceID == "" {
				prov.SourceID = id
			}
			delete(mapped, keySourceID)
		}
	}
	geomAttr, ok := def.GeometryAttribute()
	if !ok {
		return mapped, prov
	}
	if _, supplied := mapped[geomAttr]; supplied {
		return mapped, prov
	}
	lat, okLat := mapped[keyLat]
	lon, okLon := mapped[keyLon]
	if !okLat || !okLon {
		return mapped, prov
	}
	geom := map[string]any{
		"kind":        string(domain.GeometryPoint),
		"coordinates": []any{lon, lat},
	}
	if crs, ok := mapped[keyCRS].(string); ok && crs != "" {
		geom["crs"] = crs
	}
	mapped[geomAttr] = geom
	delete(mapped, keyLat)
	delete(mapped, keyLon)
	delete(mapped, keyCRS)
	return mapped, prov
}
