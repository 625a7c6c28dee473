package core

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"lithocore/internal/catalog"
	"lithocore/internal/infra/persistence/memory"
	"lithocore/internal/ingest"
	"lithocore/pkg/domain"
	"lithocore/pkg/schema"
)

type captureMetrics struct {
	mu      sync.Mutex
	samples map[string][]bool
}

func (m *captureMetrics) Observe(_ context.Context, operation string, success bool, _ time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.samples == nil {
		m.samples = make(map[string][]bool)
	}
	m.samples[operation] = append(m.samples[operation], success)
}

func sampleTypeDef() schema.EntityTypeDef {
	min := 0.0
	return schema.EntityTypeDef{
		Name: "sample",
		Attributes: map[string]schema.AttributeSpec{
			"name":     {Kind: schema.KindText, Required: true},
			"depth":    {Kind: schema.KindFloat, Dimension: schema.DimensionLength, Min: &min},
			"location": {Kind: schema.KindGeometry},
		},
	}
}

func newService(t *testing.T, opts ...ServiceOption) *Service {
	t.Helper()
	svc := NewService(memory.NewStore(domain.NewDefaultRulesEngine()), opts...)
	if _, err := svc.RegisterEntityType(context.Background(), sampleTypeDef()); err != nil {
		t.Fatalf("register type: %v", err)
	}
	return svc
}

func TestServiceIngestAndQueryRoundTrip(t *testing.T) {
	metrics := &captureMetrics{}
	tracer := NewJSONTracer(nil)
	svc := newService(t, WithMetricsRecorder(metrics), WithTracer(tracer))
	ctx := context.Background()

	outcome, err := svc.Ingest(ctx, ingest.Submission{
		Type:       "sample",
		Payload:    map[string]any{"name": "KB-12", "depth": 0.8, "lat": 50.9, "lon": 6.9},
		Provenance: domain.Provenance{SourceID: "S-001"},
	})
	if err != nil {
		t.Fatalf("ingest: %v", err)
	}
	if outcome.Status != ingest.StatusCreated {
		t.Fatalf("expected created, got %s", outcome.Status)
	}

	records, err := svc.Query(ctx, catalog.Query{Type: "sample"})
	if err != nil || len(records) != 1 {
		t.Fatalf("query: %+v (%v)", records, err)
	}
	if _, err := svc.GetRecord(ctx, outcome.Record.ID); err != nil {
		t.Fatalf("get record: %v", err)
	}

	if got := metrics.samples["ingest"]; len(got) != 1 || !got[0] {
		t.Fatalf("ingest not observed: %+v", metrics.samples)
	}
	entries := tracer.Entries()
	if len(entries) < 3 {
		t.Fatalf("expected spans for each operation, got %d", len(entries))
	}
	if entries[0].Operation != "register_entity_type" || entries[0].Status != "success" {
		t.Fatalf("unexpected first span %+v", entries[0])
	}
}

func TestServiceRecordsFailuresInMetrics(t *testing.T) {
	metrics := &captureMetrics{}
	svc := newService(t, WithMetricsRecorder(metrics))
	if _, err := svc.GetEntityType(context.Background(), "unknown"); err == nil {
		t.Fatalf("expected unknown type error")
	}
	if got := metrics.samples["get_entity_type"]; len(got) != 1 || got[0] {
		t.Fatalf("failure not observed: %+v", metrics.samples)
	}
}

func TestServiceProvenanceAndRevisions(t *testing.T) {
	svc := newService(t)
	ctx := context.Background()

	parent, err := svc.Ingest(ctx, ingest.Submission{
		Type:       "sample",
		Payload:    map[string]any{"name": "parent", "depth": 0.5},
		Provenance: domain.Provenance{SourceID: "S-parent"},
	})
	if err != nil {
		t.Fatalf("parent: %v", err)
	}
	child, err := svc.Ingest(ctx, ingest.Submission{
		Type:       "sample",
		Payload:    map[string]any{"name": "child", "depth": 0.8},
		Provenance: domain.Provenance{SourceID: "S-child", DerivedFrom: []string{parent.Record.ID}},
	})
	if err != nil {
		t.Fatalf("child: %v", err)
	}

	chain, err := svc.ProvenanceChain(ctx, child.Record.ID)
	if err != nil || len(chain) != 2 || chain[0].ID != parent.Record.ID {
		t.Fatalf("chain: %+v (%v)", chain, err)
	}

	if _, err := svc.Ingest(ctx, ingest.Submission{
		Type:       "sample",
		Payload:    map[string]any{"name": "child", "depth": 1.1},
		Provenance: domain.Provenance{SourceID: "S-child"},
	}); err != nil {
		t.Fatalf("revise: %v", err)
	}
	revisions, err := svc.Revisions(ctx, child.Record.ID)
	if err != nil || len(revisions) != 1 {
		t.Fatalf("revisions: %+v (%v)", revisions, err)
	}

	if _, err := svc.SoftDelete(ctx, child.Record.ID); err != nil {
		t.Fatalf("soft delete: %v", err)
	}
	records, err := svc.Query(ctx, catalog.Query{Type: "sample"})
	if err != nil || len(records) != 1 {
		t.Fatalf("tombstoned record still listed: %+v (%v)", records, err)
	}
}

type stubPlugin struct {
	name  string
	rules []domain.Rule
	types []schema.EntityTypeDef
	err   error
}

func (p stubPlugin) Name() string    { return p.name }
func (p stubPlugin) Version() string { return "0.0.1" }
func (p stubPlugin) Register(r *schema.PluginRegistry) error {
	if p.err != nil {
		return p.err
	}
	for _, def := range p.types {
		if err := r.RegisterEntityType(def); err != nil {
			return err
		}
	}
	for _, rule := range p.rules {
		r.RegisterRule(rule)
	}
	return nil
}

type blockEverythingRule struct{}

func (blockEverythingRule) Name() string { return "block_everything" }
func (blockEverythingRule) Evaluate(context.Context, domain.TransactionView, []domain.Change) (domain.Result, error) {
	return domain.Result{Violations: []domain.Violation{{
		Rule:     "block_everything",
		Severity: domain.SeverityBlock,
		Message:  "nothing shall pass",
	}}}, nil
}

func TestInstallPlugin(t *testing.T) {
	svc := newService(t)
	meta, err := svc.InstallPlugin(stubPlugin{
		name: "methods",
		types: []schema.EntityTypeDef{{
			Name:       "measurement",
			Attributes: map[string]schema.AttributeSpec{"name": {Kind: schema.KindText, Required: true}},
		}},
		rules: []domain.Rule{blockEverythingRule{}},
	})
	if err != nil {
		t.Fatalf("install: %v", err)
	}
	if len(meta.Types) != 1 || meta.Types[0] != "measurement" {
		t.Fatalf("unexpected metadata %+v", meta)
	}
	if _, err := svc.GetEntityType(context.Background(), "measurement"); err != nil {
		t.Fatalf("contributed type not registered: %v", err)
	}

	// The contributed rule reaches the engine and now blocks every commit.
	_, err = svc.Ingest(context.Background(), ingest.Submission{
		Type:       "measurement",
		Payload:    map[string]any{"name": "x"},
		Provenance: domain.Provenance{SourceID: "M-1"},
	})
	var violation domain.RuleViolationError
	if !errors.As(err, &violation) {
		t.Fatalf("expected blocking rule, got %v", err)
	}

	if _, err := svc.InstallPlugin(stubPlugin{name: "methods"}); err == nil {
		t.Fatalf("duplicate plugin accepted")
	}
	if _, err := svc.InstallPlugin(nil); err == nil {
		t.Fatalf("nil plugin accepted")
	}
	if got := svc.RegisteredPlugins(); len(got) != 1 || got[0].Name != "methods" {
		t.Fatalf("unexpected plugin listing %+v", got)
	}
}

func TestInstallPluginRulesNeedEngineHost(t *testing.T) {
	type bareStore struct{ domain.PersistentStore }
	svc := NewService(bareStore{memory.NewStore(nil)})
	_, err := svc.InstallPlugin(stubPlugin{name: "methods", rules: []domain.Rule{blockEverythingRule{}}})
	if err == nil {
		t.Fatalf("rules without an engine host must fail")
	}
}

func TestPrometheusMetricsRecorder(t *testing.T) {
	recorder := NewPrometheusMetricsRecorder()
	recorder.Observe(context.Background(), "ingest", true, 50*time.Millisecond)
	recorder.Observe(context.Background(), "ingest", false, 10*time.Millisecond)
	recorder.Observe(context.Background(), "", true, time.Millisecond)

	families, err := recorder.Registry().Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	found := map[string]bool{}
	for _, mf := range families {
		found[mf.GetName()] = true
	}
	if !found["lithocore_operation_results_total"] || !found["lithocore_operation_duration_seconds"] {
		t.Fatalf("expected metric families, got %v", found)
	}
}

func TestJSONTracerWritesEntries(t *testing.T) {
	var buf bytes.Buffer
	tracer := NewJSONTracer(&buf)
	_, span := tracer.Start(context.Background(), "query")
	span.End(nil)

	entries := tracer.Entries()
	if len(entries) != 1 || entries[0].Operation != "query" || entries[0].Status != "success" {
		t.Fatalf("unexpected entries %+v", entries)
	}
	if !strings.Contains(buf.String(), `"operation":"query"`) {
		t.Fatalf("span not serialized: %q", buf.String())
	}
}
