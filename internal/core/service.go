// Package core wires the schema registry, ingestion pipeline, and catalog
// behind one transactional service facade. Adapters (HTTP, batch worker, CLI)
// depend on this package only.
package core

import (
	"context"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"lithocore/internal/blob"
	"lithocore/internal/catalog"
	"lithocore/internal/ingest"
	"lithocore/pkg/domain"
	"lithocore/pkg/schema"
)

// RuleHost is satisfied by stores that expose their rules engine so plugins
// can contribute rules after construction.
type RuleHost interface {
	Engine() *domain.RulesEngine
}

// Service exposes the catalog operations: schema registration, ingestion,
// query, provenance traversal, and plugin installation.
type Service struct {
	store    domain.PersistentStore
	registry *schema.Registry
	pipeline *ingest.Pipeline
	catalog  *catalog.Service
	plugins  map[string]schema.PluginMetadata
	blobs    blob.Store
	logger   *zap.Logger
	metrics  MetricsRecorder
	tracer   Tracer
	nowFn    func() time.Time
}

// ServiceOption configures a Service.
type ServiceOption func(*Service)

// WithLogger attaches a structured logger (default no-op).
func WithLogger(logger *zap.Logger) ServiceOption {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithMetricsRecorder attaches a metrics recorder.
func WithMetricsRecorder(metrics MetricsRecorder) ServiceOption {
	return func(s *Service) { s.metrics = metrics }
}

// WithTracer attaches a tracer.
func WithTracer(tracer Tracer) ServiceOption {
	return func(s *Service) { s.tracer = tracer }
}

// WithBlobStore attaches an archive store for raw payloads and rejection
// reports.
func WithBlobStore(store blob.Store) ServiceOption {
	return func(s *Service) { s.blobs = store }
}

// WithNowFunc overrides the clock for tests.
func WithNowFunc(now func() time.Time) ServiceOption {
	return func(s *Service) {
		if now != nil {
			s.nowFn = now
		}
	}
}

// NewService constructs a service backed by the supplied store.
func NewService(store domain.PersistentStore, opts ...ServiceOption) *Service {
	s := &Service{
		store:    store,
		registry: schema.NewRegistry(),
		plugins:  make(map[string]schema.PluginMetadata),
		logger:   zap.NewNop(),
		nowFn:    func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	pipelineOpts := []ingest.Option{
		ingest.WithLogger(s.logger),
		ingest.WithNowFunc(s.nowFn),
	}
	if s.blobs != nil {
		pipelineOpts = append(pipelineOpts, ingest.WithBlobStore(s.blobs))
	}
	s.pipeline = ingest.New(s.registry, store, pipelineOpts...)
	s.catalog = catalog.New(store, catalog.WithLogger(s.logger), catalog.WithNowFunc(s.nowFn))
	return s
}

// Store returns the underlying storage implementation.
func (s *Service) Store() domain.PersistentStore { return s.store }

// Registry returns the entity-type registry.
func (s *Service) Registry() *schema.Registry { return s.registry }

// run instruments one service operation with metrics, tracing, and logging.
func (s *Service) run(ctx context.Context, operation string, fn func(context.Context) error) error {
	start := time.Now()
	var span TraceSpan
	if s.tracer != nil {
		ctx, span = s.tracer.Start(ctx, operation)
	}
	err := fn(ctx)
	if s.metrics != nil {
		s.metrics.Observe(ctx, operation, err == nil, time.Since(start))
	}
	if span != nil {
		span.End(err)
	}
	if err != nil {
		s.logger.Warn("operation failed", zap.String("operation", operation), zap.Error(err))
	} else {
		s.logger.Debug("operation complete", zap.String("operation", operation))
	}
	return err
}

// RegisterEntityType registers a new entity type. Registration is append-only
// and fails when the name already exists.
func (s *Service) RegisterEntityType(ctx context.Context, def schema.EntityTypeDef) (schema.EntityTypeDef, error) {
	var out schema.EntityTypeDef
	err := s.run(ctx, "register_entity_type", func(context.Context) error {
		var err error
		out, err = s.registry.Register(def)
		return err
	})
	return out, err
}

// RegisterEntityTypeRevision appends the next version of an existing type.
func (s *Service) RegisterEntityTypeRevision(ctx context.Context, def schema.EntityTypeDef) (schema.EntityTypeDef, error) {
	var out schema.EntityTypeDef
	err := s.run(ctx, "register_entity_type_revision", func(context.Context) error {
		var err error
		out, err = s.registry.RegisterRevision(def)
		return err
	})
	return out, err
}

// GetEntityType returns the latest version of the named type.
func (s *Service) GetEntityType(ctx context.Context, name string) (schema.EntityTypeDef, error) {
	var out schema.EntityTypeDef
	err := s.run(ctx, "get_entity_type", func(context.Context) error {
		var err error
		out, err = s.registry.Get(name)
		return err
	})
	return out, err
}

// GetEntityTypeVersion returns one frozen version of the named type.
func (s *Service) GetEntityTypeVersion(ctx context.Context, name string, version int) (schema.EntityTypeDef, error) {
	var out schema.EntityTypeDef
	err := s.run(ctx, "get_entity_type_version", func(context.Context) error {
		var err error
		out, err = s.registry.GetVersion(name, version)
		return err
	})
	return out, err
}

// ListEntityTypes returns the latest version of every registered type.
func (s *Service) ListEntityTypes(ctx context.Context) []schema.EntityTypeDef {
	var out []schema.EntityTypeDef
	_ = s.run(ctx, "list_entity_types", func(context.Context) error {
		out = s.registry.List()
		return nil
	})
	return out
}

// ValidateShape checks a payload against the latest version of a type
// without persisting anything.
func (s *Service) ValidateShape(ctx context.Context, name string, payload map[string]any) (domain.ValidationReport, error) {
	var out domain.ValidationReport
	err := s.run(ctx, "validate_shape", func(context.Context) error {
		var err error
		out, err = s.registry.ValidateShape(name, payload)
		return err
	})
	return out, err
}

// Ingest validates and commits one payload with its provenance.
func (s *Service) Ingest(ctx context.Context, sub ingest.Submission) (ingest.Outcome, error) {
	var out ingest.Outcome
	err := s.run(ctx, "ingest", func(ctx context.Context) error {
		var err error
		out, err = s.pipeline.Ingest(ctx, sub)
		return err
	})
	return out, err
}

// IngestBatch processes submissions independently, one transaction each.
func (s *Service) IngestBatch(ctx context.Context, subs []ingest.Submission) ([]ingest.Outcome, error) {
	var out []ingest.Outcome
	err := s.run(ctx, "ingest_batch", func(ctx context.Context) error {
		var err error
		out, err = s.pipeline.IngestBatch(ctx, subs)
		return err
	})
	return out, err
}

// GetRecord returns one record by persistent identifier.
func (s *Service) GetRecord(ctx context.Context, id string) (domain.Record, error) {
	var out domain.Record
	err := s.run(ctx, "get_record", func(ctx context.Context) error {
		var err error
		out, err = s.catalog.Get(ctx, id)
		return err
	})
	return out, err
}

// Query evaluates attribute filters and spatial bounds over committed records.
func (s *Service) Query(ctx context.Context, q catalog.Query) ([]domain.Record, error) {
	var out []domain.Record
	err := s.run(ctx, "query", func(ctx context.Context) error {
		var err error
		out, err = s.catalog.Query(ctx, q)
		return err
	})
	return out, err
}

// ProvenanceChain returns the ancestry of a record, root first.
func (s *Service) ProvenanceChain(ctx context.Context, recordID string) ([]domain.Record, error) {
	var out []domain.Record
	err := s.run(ctx, "provenance_chain", func(ctx context.Context) error {
		var err error
		out, err = s.catalog.ProvenanceChain(ctx, recordID)
		return err
	})
	return out, err
}

// SoftDelete tombstones a record while keeping it resolvable for lineage.
func (s *Service) SoftDelete(ctx context.Context, recordID string) (domain.Record, error) {
	var out domain.Record
	err := s.run(ctx, "soft_delete", func(ctx context.Context) error {
		var err error
		out, err = s.catalog.SoftDelete(ctx, recordID)
		return err
	})
	return out, err
}

// Revisions returns superseded snapshots of a record, oldest first.
func (s *Service) Revisions(ctx context.Context, recordID string) ([]domain.Revision, error) {
	var out []domain.Revision
	err := s.run(ctx, "revisions", func(ctx context.Context) error {
		var err error
		out, err = s.catalog.Revisions(ctx, recordID)
		return err
	})
	return out, err
}

// InstallPlugin registers a method plugin, wiring its entity types into the
// registry and its rules into the active engine.
func (s *Service) InstallPlugin(plugin schema.Plugin) (schema.PluginMetadata, error) {
	if plugin == nil {
		return schema.PluginMetadata{}, fmt.Errorf("plugin cannot be nil")
	}
	if _, ok := s.plugins[plugin.Name()]; ok {
		return schema.PluginMetadata{}, fmt.Errorf("plugin %s already registered", plugin.Name())
	}

	contrib := schema.NewPluginRegistry()
	if err := plugin.Register(contrib); err != nil {
		return schema.PluginMetadata{}, err
	}

	meta := schema.PluginMetadata{Name: plugin.Name(), Version: plugin.Version()}
	for _, def := range contrib.EntityTypes() {
		registered, err := s.registry.Register(def)
		if err != nil {
			return schema.PluginMetadata{}, fmt.Errorf("plugin %s: %w", plugin.Name(), err)
		}
		meta.Types = append(meta.Types, registered.Name)
	}
	if host, ok := s.store.(RuleHost); ok {
		for _, rule := range contrib.Rules() {
			host.Engine().Register(rule)
		}
	} else if len(contrib.Rules()) > 0 {
		return schema.PluginMetadata{}, fmt.Errorf("plugin %s contributes rules but store exposes no engine", plugin.Name())
	}

	s.plugins[plugin.Name()] = meta
	s.logger.Info("plugin installed",
		zap.String("plugin", plugin.Name()),
		zap.String("version", plugin.Version()),
		zap.Strings("types", meta.Types))
	return meta, nil
}

// RegisteredPlugins returns metadata describing installed plugins, sorted by
// name.
func (s *Service) RegisteredPlugins() []schema.PluginMetadata {
	out := make([]schema.PluginMetadata, 0, len(s.plugins))
	for _, meta := range s.plugins {
		out = append(out, meta)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
