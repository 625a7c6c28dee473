package batch

import (
	"context"
	"sync"
	"testing"
	"time"

	"lithocore/internal/core"
	"lithocore/internal/infra/persistence/memory"
	"lithocore/internal/ingest"
	"lithocore/pkg/domain"
	"lithocore/pkg/schema"
)

type captureAudit struct {
	mu      sync.Mutex
	entries []AuditEntry
}

func (a *captureAudit) Record(_ context.Context, entry AuditEntry) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.entries = append(a.entries, entry)
}

func (a *captureAudit) snapshot() []AuditEntry {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]AuditEntry(nil), a.entries...)
}

func newWorkerService(t *testing.T) *core.Service {
	t.Helper()
	svc := core.NewService(memory.NewStore(domain.NewDefaultRulesEngine()))
	_, err := svc.RegisterEntityType(context.Background(), schema.EntityTypeDef{
		Name: "sample",
		Attributes: map[string]schema.AttributeSpec{
			"name": {Kind: schema.KindText, Required: true},
		},
	})
	if err != nil {
		t.Fatalf("register type: %v", err)
	}
	return svc
}

func waitForCompletion(t *testing.T, w *Worker, id string) Job {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		job, ok := w.Get(id)
		if ok && (job.Status == JobStatusSucceeded || job.Status == JobStatusFailed) {
			return job
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("job %s did not complete", id)
	return Job{}
}

func TestWorkerProcessesJob(t *testing.T) {
	audit := &captureAudit{}
	worker := NewWorker(newWorkerService(t), audit)
	worker.Start()
	defer func() { _ = worker.Stop(context.Background()) }()

	job, err := worker.Enqueue(context.Background(), Input{
		Submissions: []ingest.Submission{
			{Type: "sample", Payload: map[string]any{"name": "a"}, Provenance: domain.Provenance{SourceID: "S-1"}},
			{Type: "sample", Payload: map[string]any{}, Provenance: domain.Provenance{SourceID: "S-2"}},
		},
		RequestedBy: "tester",
	})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if job.Status != JobStatusQueued || job.Submitted != 2 || job.RequestedBy != "tester" {
		t.Fatalf("unexpected queued snapshot %+v", job)
	}

	done := waitForCompletion(t, worker, job.ID)
	if done.Status != JobStatusSucceeded {
		t.Fatalf("expected succeeded, got %s (%s)", done.Status, done.Error)
	}
	if len(done.Outcomes) != 2 {
		t.Fatalf("expected 2 outcomes, got %d", len(done.Outcomes))
	}
	if done.Counts[ingest.StatusCreated] != 1 || done.Counts[ingest.StatusRejected] != 1 {
		t.Fatalf("unexpected counts %+v", done.Counts)
	}
	if done.CompletedAt == nil {
		t.Fatalf("completion timestamp missing")
	}

	entries := audit.snapshot()
	if len(entries) != 2 {
		t.Fatalf("expected queued and completed audit entries, got %d", len(entries))
	}
	if entries[0].Status != JobStatusQueued || entries[1].Status != JobStatusSucceeded {
		t.Fatalf("unexpected audit trail %+v", entries)
	}
}

func TestEnqueueValidation(t *testing.T) {
	worker := NewWorker(newWorkerService(t), nil)
	if _, err := worker.Enqueue(context.Background(), Input{}); err == nil {
		t.Fatalf("empty input accepted")
	}
	var nilWorker = NewWorker(nil, nil)
	if _, err := nilWorker.Enqueue(context.Background(), Input{Submissions: []ingest.Submission{{Type: "sample"}}}); err == nil {
		t.Fatalf("worker without service accepted a job")
	}
}

func TestEnqueueFullQueueLeavesNoOrphan(t *testing.T) {
	// The worker is never started, so every enqueued task stays on the
	// channel and the queue eventually fills.
	worker := NewWorker(newWorkerService(t), nil)
	input := Input{Submissions: []ingest.Submission{
		{Type: "sample", Payload: map[string]any{"name": "a"}, Provenance: domain.Provenance{SourceID: "S-1"}},
	}}
	for i := 0; i < cap(worker.queue); i++ {
		if _, err := worker.Enqueue(context.Background(), input); err != nil {
			t.Fatalf("enqueue %d: %v", i, err)
		}
	}
	job, err := worker.Enqueue(context.Background(), input)
	if err == nil {
		t.Fatalf("expected full queue to refuse the job, got %+v", job)
	}

	worker.mu.RLock()
	tracked := len(worker.jobs)
	worker.mu.RUnlock()
	if tracked != cap(worker.queue) {
		t.Fatalf("refused job left behind: %d tracked, want %d", tracked, cap(worker.queue))
	}
	for id := range worker.jobs {
		if j, _ := worker.Get(id); j.Status != JobStatusQueued {
			t.Fatalf("accepted job %s has status %s", id, j.Status)
		}
	}
}

func TestGetUnknownJob(t *testing.T) {
	worker := NewWorker(newWorkerService(t), nil)
	if _, ok := worker.Get("nope"); ok {
		t.Fatalf("unknown job reported as present")
	}
}

func TestStopHonorsContext(t *testing.T) {
	worker := NewWorker(newWorkerService(t), nil)
	worker.Start()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := worker.Stop(ctx); err != nil {
		t.Fatalf("stop: %v", err)
	}
}
