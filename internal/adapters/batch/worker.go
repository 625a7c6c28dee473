// Package batch executes ingestion jobs asynchronously: a bounded queue of
// submission batches processed by a background worker, with per-job status
// tracking and an audit trail.
package batch

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"lithocore/internal/core"
	"lithocore/internal/ingest"
)

// JobStatus describes the lifecycle stage of an ingestion job.
type JobStatus string

const (
	JobStatusQueued    JobStatus = "queued"
	JobStatusRunning   JobStatus = "running"
	JobStatusSucceeded JobStatus = "succeeded"
	JobStatusFailed    JobStatus = "failed"
)

// Job tracks an enqueued submission batch and its outcomes.
type Job struct {
	ID          string                `json:"id"`
	Status      JobStatus             `json:"status"`
	Error       string                `json:"error,omitempty"`
	Submitted   int                   `json:"submitted"`
	Outcomes    []ingest.Outcome      `json:"outcomes,omitempty"`
	Counts      map[ingest.Status]int `json:"counts,omitempty"`
	RequestedBy string                `json:"requested_by,omitempty"`
	CreatedAt   time.Time             `json:"created_at"`
	UpdatedAt   time.Time             `json:"updated_at"`
	CompletedAt *time.Time            `json:"completed_at,omitempty"`
}

func (j *Job) copy() Job {
	cp := *j
	cp.Outcomes = append([]ingest.Outcome(nil), j.Outcomes...)
	if j.Counts != nil {
		cp.Counts = make(map[ingest.Status]int, len(j.Counts))
		for k, v := range j.Counts {
			cp.Counts[k] = v
		}
	}
	if j.CompletedAt != nil {
		ts := *j.CompletedAt
		cp.CompletedAt = &ts
	}
	return cp
}

// Input represents an enqueue request for the worker.
type Input struct {
	Submissions []ingest.Submission
	RequestedBy string
}

// AuditEntry captures audit trail metadata for ingestion jobs.
type AuditEntry struct {
	ID         string    `json:"id"`
	Action     string    `json:"action"`
	Actor      string    `json:"actor,omitempty"`
	JobID      string    `json:"job_id"`
	Status     JobStatus `json:"status"`
	Detail     string    `json:"detail,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}

// AuditLogger records ingestion audit entries.
type AuditLogger interface {
	Record(ctx context.Context, entry AuditEntry)
}

// ZapAuditLogger writes audit entries to a structured logger.
type ZapAuditLogger struct {
	Logger *zap.Logger
}

// Record implements AuditLogger.
func (l ZapAuditLogger) Record(_ context.Context, entry AuditEntry) {
	if l.Logger == nil {
		return
	}
	l.Logger.Info("ingestion audit",
		zap.String("audit_id", entry.ID),
		zap.String("action", entry.Action),
		zap.String("actor", entry.Actor),
		zap.String("job_id", entry.JobID),
		zap.String("status", string(entry.Status)),
		zap.String("detail", entry.Detail),
		zap.Time("occurred_at", entry.OccurredAt))
}

// Worker executes ingestion jobs asynchronously.
type Worker struct {
	service *core.Service
	audit   AuditLogger

	queue chan task
	mu    sync.RWMutex
	jobs  map[string]*Job

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

type task struct {
	id          string
	submissions []ingest.Submission
}

// NewWorker constructs an ingestion worker over the catalog service.
func NewWorker(service *core.Service, audit AuditLogger) *Worker {
	ctx, cancel := context.WithCancel(context.Background())
	return &Worker{
		service: service,
		audit:   audit,
		queue:   make(chan task, 32),
		jobs:    make(map[string]*Job),
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Start begins processing queued jobs.
func (w *Worker) Start() {
	w.wg.Add(1)
	go w.loop()
}

// Stop signals the worker to halt and waits for completion.
func (w *Worker) Stop(ctx context.Context) error {
	w.cancel()
	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (w *Worker) loop() {
	defer w.wg.Done()
	for {
		select {
		case <-w.ctx.Done():
			return
		case t := <-w.queue:
			w.process(t)
		}
	}
}

// Enqueue schedules an ingestion job and returns the queued snapshot.
func (w *Worker) Enqueue(ctx context.Context, input Input) (Job, error) {
	if w.service == nil {
		return Job{}, fmt.Errorf("ingestion service not configured")
	}
	if len(input.Submissions) == 0 {
		return Job{}, fmt.Errorf("at least one submission required")
	}

	id := newID()
	now := time.Now().UTC()
	job := Job{
		ID:          id,
		Status:      JobStatusQueued,
		Submitted:   len(input.Submissions),
		RequestedBy: input.RequestedBy,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	w.mu.Lock()
	w.jobs[id] = &job
	queued := job.copy()
	w.mu.Unlock()

	if w.audit != nil {
		w.audit.Record(ctx, AuditEntry{
			ID:         newID(),
			Action:     "batch_ingest",
			Actor:      input.RequestedBy,
			JobID:      id,
			Status:     JobStatusQueued,
			OccurredAt: now,
		})
	}

	select {
	case w.queue <- task{id: id, submissions: input.Submissions}:
	default:
		// The job never made it onto the queue; drop the tracking entry so
		// it cannot sit at queued forever.
		w.mu.Lock()
		delete(w.jobs, id)
		w.mu.Unlock()
		return Job{}, fmt.Errorf("ingestion queue full")
	}

	return queued, nil
}

// Get returns a snapshot of the job record.
func (w *Worker) Get(id string) (Job, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	job, ok := w.jobs[id]
	if !ok {
		return Job{}, false
	}
	return job.copy(), true
}

func (w *Worker) process(t task) {
	w.updateStatus(t.id, JobStatusRunning, "")

	outcomes, err := w.service.IngestBatch(w.ctx, t.submissions)
	counts := make(map[ingest.Status]int)
	for _, outcome := range outcomes {
		counts[outcome.Status]++
	}

	w.mu.Lock()
	job, ok := w.jobs[t.id]
	if ok {
		now := time.Now().UTC()
		job.Outcomes = outcomes
		job.Counts = counts
		job.UpdatedAt = now
		job.CompletedAt = &now
		if err != nil {
			job.Status = JobStatusFailed
			job.Error = err.Error()
		} else {
			job.Status = JobStatusSucceeded
		}
	}
	w.mu.Unlock()

	status := JobStatusSucceeded
	detail := ""
	if err != nil {
		status = JobStatusFailed
		detail = err.Error()
	}
	if w.audit != nil {
		w.audit.Record(w.ctx, AuditEntry{
			ID:         newID(),
			Action:     "batch_ingest",
			JobID:      t.id,
			Status:     status,
			Detail:     detail,
			OccurredAt: time.Now().UTC(),
		})
	}
}

func (w *Worker) updateStatus(id string, status JobStatus, errMsg string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	job, ok := w.jobs[id]
	if !ok {
		return
	}
	job.Status = status
	job.Error = errMsg
	job.UpdatedAt = time.Now().UTC()
}

func newID() string {
	buf := make([]byte, 12)
	if _, err := rand.Read(buf); err != nil {
		return fmt.Sprintf("job-%d", time.Now().UnixNano())
	}
	return hex.EncodeToString(buf)
}
