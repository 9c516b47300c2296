package reindex

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	mverr "github.com/Aman-CERP/multivec/internal/errors"
	"github.com/Aman-CERP/multivec/internal/ingest"
)

// DocumentSource enumerates the documents a target covers.
type DocumentSource interface {
	ListDocuments(ctx context.Context, target Target) ([]ingest.Document, error)
}

// AccessController decides whether an actor may reindex a target.
type AccessController interface {
	Authorize(ctx context.Context, actor string, target Target) error
}

// StartRequest asks for a new reindex job.
type StartRequest struct {
	Target  Target   `json:"target"`
	Models  []string `json:"models,omitempty"`
	Trigger Trigger  `json:"trigger,omitempty"`
	Actor   string   `json:"actor"`
}

// Orchestrator runs reindex jobs in the background, one per
// overlapping target.
type Orchestrator struct {
	source   DocumentSource
	access   AccessController
	pipeline *ingest.Pipeline
	jobs     *JobStore

	mu      sync.Mutex
	running map[string]*handle
}

type handle struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// OrchestratorOption configures an Orchestrator.
type OrchestratorOption func(*Orchestrator)

// WithAccessController enables authorization checks on Start.
func WithAccessController(access AccessController) OrchestratorOption {
	return func(o *Orchestrator) { o.access = access }
}

// NewOrchestrator creates an orchestrator.
func NewOrchestrator(source DocumentSource, pipeline *ingest.Pipeline, jobs *JobStore, opts ...OrchestratorOption) *Orchestrator {
	o := &Orchestrator{
		source:   source,
		pipeline: pipeline,
		jobs:     jobs,
		running:  make(map[string]*handle),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Start accepts a job and launches it in the background. A target that
// overlaps an active job's target is rejected with ERR_402_CONFLICT;
// the error names the blocking job and which of the two targets is the
// more specific one.
func (o *Orchestrator) Start(ctx context.Context, req StartRequest) (*Job, error) {
	if req.Target.TenantID == "" {
		return nil, mverr.ValidationError("reindex target requires a tenant_id", nil)
	}
	if req.Trigger == "" {
		req.Trigger = TriggerManual
	}
	if o.access != nil {
		if err := o.access.Authorize(ctx, req.Actor, req.Target); err != nil {
			return nil, err
		}
	}

	// The conflict check and the insert are serialized, so two
	// overlapping Starts cannot both pass.
	o.mu.Lock()
	defer o.mu.Unlock()

	active, err := o.jobs.Active(ctx)
	if err != nil {
		return nil, err
	}
	for _, other := range active {
		if !req.Target.Overlaps(other.Target) {
			continue
		}
		specific := req.Target
		if other.Target.Specificity() > specific.Specificity() {
			specific = other.Target
		}
		return nil, mverr.ConflictError(
			fmt.Sprintf("target %s overlaps active job %s on %s", req.Target, other.ID, specific)).
			WithDetail("job_id", other.ID)
	}

	now := time.Now()
	job := &Job{
		ID:        uuid.NewString(),
		Target:    req.Target,
		Models:    req.Models,
		Trigger:   req.Trigger,
		Actor:     req.Actor,
		State:     StatePending,
		CreatedAt: now,
		Progress:  Progress{UpdatedAt: now},
	}
	if err := o.jobs.Insert(ctx, job); err != nil {
		return nil, err
	}

	// The job outlives the request; only Cancel stops it.
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	h := &handle{cancel: cancel, done: make(chan struct{})}
	o.running[job.ID] = h
	go o.run(runCtx, *job, h)

	slog.Info("reindex job accepted",
		slog.String("job_id", job.ID),
		slog.String("target", job.Target.String()),
		slog.String("trigger", string(job.Trigger)),
		slog.String("actor", job.Actor))
	return job, nil
}

// Cancel requests cancellation. Pending jobs stop before the first
// document; running jobs stop at the next document boundary. A
// finished job cannot be cancelled.
func (o *Orchestrator) Cancel(ctx context.Context, jobID string) (*Job, error) {
	job, err := o.jobs.Get(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if job.State.Terminal() {
		return nil, mverr.ConflictError(
			fmt.Sprintf("job %s already finished as %s", jobID, job.State))
	}

	o.mu.Lock()
	h, ok := o.running[jobID]
	o.mu.Unlock()
	if ok {
		h.cancel()
	}
	return job, nil
}

// Status returns the current state of a job.
func (o *Orchestrator) Status(ctx context.Context, jobID string) (*Job, error) {
	return o.jobs.Get(ctx, jobID)
}

// List returns a tenant's jobs, newest first.
func (o *Orchestrator) List(ctx context.Context, tenantID string, limit int) ([]*Job, error) {
	return o.jobs.List(ctx, tenantID, limit)
}

// Wait blocks until a job's goroutine exits. Jobs not currently
// running return immediately.
func (o *Orchestrator) Wait(jobID string) {
	o.mu.Lock()
	h, ok := o.running[jobID]
	o.mu.Unlock()
	if ok {
		<-h.done
	}
}

// run is the job goroutine: enumerate, then reindex document by
// document. The first failing document fails the whole job.
func (o *Orchestrator) run(ctx context.Context, job Job, h *handle) {
	defer func() {
		o.mu.Lock()
		delete(o.running, job.ID)
		o.mu.Unlock()
		close(h.done)
	}()

	if ctx.Err() != nil {
		o.finish(&job, StateCancelled, "")
		return
	}

	docs, err := o.source.ListDocuments(ctx, job.Target)
	if err != nil {
		if ctx.Err() != nil {
			o.finish(&job, StateCancelled, "")
			return
		}
		o.finish(&job, StateFailed, fmt.Sprintf("list documents: %v", err))
		return
	}

	now := time.Now()
	job.State = StateRunning
	job.StartedAt = &now
	job.Progress.TotalDocs = len(docs)
	job.Progress.UpdatedAt = now
	o.persist(&job)

	for _, doc := range docs {
		// Cancellation is cooperative, checked between documents so a
		// document is never left half-written.
		if ctx.Err() != nil {
			o.finish(&job, StateCancelled, "")
			return
		}

		job.Progress.CurrentDoc = doc.ID
		job.Progress.UpdatedAt = time.Now()
		o.persist(&job)

		if _, err := o.pipeline.IngestForModels(ctx, doc, job.Models); err != nil {
			if ctx.Err() != nil {
				o.finish(&job, StateCancelled, "")
				return
			}
			o.finish(&job, StateFailed, fmt.Sprintf("document %s: %v", doc.ID, err))
			return
		}
		job.Progress.ProcessedDocs++
	}

	o.finish(&job, StateCompleted, "")
}

func (o *Orchestrator) finish(job *Job, state State, errMsg string) {
	now := time.Now()
	job.State = state
	job.Error = errMsg
	job.FinishedAt = &now
	job.Progress.CurrentDoc = ""
	job.Progress.UpdatedAt = now
	o.persist(job)

	logger := slog.Info
	if state == StateFailed {
		logger = slog.Error
	}
	logger("reindex job finished",
		slog.String("job_id", job.ID),
		slog.String("state", string(state)),
		slog.Int("processed", job.Progress.ProcessedDocs),
		slog.Int("total", job.Progress.TotalDocs),
		slog.String("error", errMsg))
}

// persist writes job state with a background context so a cancelled
// job can still record its final state.
func (o *Orchestrator) persist(job *Job) {
	if err := o.jobs.Update(context.Background(), job); err != nil {
		slog.Error("persist reindex job failed",
			slog.String("job_id", job.ID),
			slog.String("error", err.Error()))
	}
}
