// Package orchestrator owns the lifecycle of media-generation jobs: building
// the provider payload through the agent pipeline, moderating it, submitting
// it, polling the provider, and driving the QA/revision loop until the job
// reaches a terminal state.
package orchestrator

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"aistudio/internal/domain"
	"aistudio/internal/infra"
	"aistudio/internal/llm"
	"aistudio/internal/moderation"
	"aistudio/internal/provider"
	"aistudio/internal/storage"
)

// Pipeline builds and revises generation requests.
type Pipeline interface {
	Build(ctx context.Context, brief domain.Brief, kind domain.JobKind) (*domain.GenerationRequest, error)
	Revise(ctx context.Context, prev *domain.GenerationRequest, verdict domain.QAVerdict) (*domain.GenerationRequest, error)
}

// Evaluator scores fetched artifacts.
type Evaluator interface {
	Evaluate(ctx context.Context, artifact *domain.ArtifactRef, req *domain.GenerationRequest, iteration int) (domain.QAVerdict, error)
}

// Recorder persists job snapshots for offline status queries. It is a
// best-effort sink: recording failures are logged, never fatal to the job.
type Recorder interface {
	RecordStart(ctx context.Context, status domain.JobStatus) error
	RecordUpdate(ctx context.Context, status domain.JobStatus) error
}

// Config is the per-job settings snapshot. It is read once at job start and
// held immutable for that job's lifetime.
type Config struct {
	PollInterval    time.Duration
	PollMaxDuration time.Duration
	MaxAttempts     int
	MaxQAIterations int
}

// Orchestrator runs many jobs concurrently; each job progresses sequentially
// in its own goroutine, which is the job's single writer.
type Orchestrator struct {
	pipeline  Pipeline
	gateway   provider.Gateway
	gate      moderation.Gate
	evaluator Evaluator
	store     storage.ArtifactStore
	refiner   llm.Refiner
	recorder  Recorder
	cfg       Config
	logger    infra.Logger

	baseCtx context.Context
	stop    context.CancelFunc
	wg      sync.WaitGroup

	mu   sync.RWMutex
	jobs map[string]*jobHandle
}

type jobHandle struct {
	mu     sync.RWMutex
	job    *domain.Job
	cfg    Config
	cancel context.CancelFunc
}

// New wires the orchestrator. The recorder may be nil.
func New(pipeline Pipeline, gateway provider.Gateway, gate moderation.Gate, evaluator Evaluator, store storage.ArtifactStore, refiner llm.Refiner, recorder Recorder, cfg Config, logger infra.Logger) *Orchestrator {
	baseCtx, stop := context.WithCancel(context.Background())
	return &Orchestrator{
		pipeline:  pipeline,
		gateway:   gateway,
		gate:      gate,
		evaluator: evaluator,
		store:     store,
		refiner:   refiner,
		recorder:  recorder,
		cfg:       cfg,
		logger:    logger,
		baseCtx:   baseCtx,
		stop:      stop,
		jobs:      make(map[string]*jobHandle),
	}
}

// Start validates the brief, registers a new job and launches its runner.
// Validation failures are reported synchronously; no provider call is made.
func (o *Orchestrator) Start(brief domain.Brief, kind domain.JobKind) (string, error) {
	if !kind.Valid() {
		return "", domain.NewValidationError("unsupported job kind " + string(kind))
	}
	if strings.TrimSpace(brief.Content) == "" {
		return "", domain.NewValidationError("brief content is required")
	}

	return o.launch(brief, kind, ""), nil
}

// Remix starts a new job that edits a completed video job's artifact with a
// fresh prompt. The provider re-renders the referenced source video instead of
// generating from scratch, so the agent pipeline is skipped.
func (o *Orchestrator) Remix(sourceJobID, prompt string) (string, error) {
	if strings.TrimSpace(prompt) == "" {
		return "", domain.NewValidationError("remix prompt is required")
	}
	source, err := o.handle(sourceJobID)
	if err != nil {
		return "", err
	}

	source.mu.RLock()
	kind := source.job.Kind
	state := source.job.State
	var providerID string
	if source.job.Submission != nil {
		providerID = source.job.Submission.ProviderID
	}
	source.mu.RUnlock()

	if !kind.IsVideo() {
		return "", domain.NewValidationError("only video jobs can be remixed")
	}
	if state != domain.JobStateComplete || providerID == "" {
		return "", domain.NewValidationError("remix requires a completed source job")
	}
	return o.launch(domain.Brief{Content: strings.TrimSpace(prompt)}, kind, providerID), nil
}

func (o *Orchestrator) launch(brief domain.Brief, kind domain.JobKind, remixSourceID string) string {
	now := time.Now()
	job := &domain.Job{
		ID:            uuid.NewString(),
		Kind:          kind,
		State:         domain.JobStateCreated,
		Brief:         brief,
		RemixSourceID: remixSourceID,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	jobCtx, cancel := context.WithCancel(o.baseCtx)
	handle := &jobHandle{job: job, cfg: o.cfg, cancel: cancel}

	o.mu.Lock()
	o.jobs[job.ID] = handle
	o.mu.Unlock()

	o.record(handle, true)

	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		defer cancel()
		o.run(jobCtx, handle)
	}()

	o.logger.Info().Str("job_id", job.ID).Str("kind", string(kind)).Msg("orchestrator: job started")
	return job.ID
}

// Status returns a read-only snapshot. Safe to call concurrently with an
// in-progress job.
func (o *Orchestrator) Status(jobID string) (domain.JobStatus, error) {
	handle, err := o.handle(jobID)
	if err != nil {
		return domain.JobStatus{}, err
	}
	return handle.snapshot(), nil
}

// Cancel requests termination of an in-flight job. The job observes the
// cancellation at its next suspension point and fails with a cancelled error
// kind; in-flight external calls are discarded on return. Cancelling a
// terminal job is a no-op.
func (o *Orchestrator) Cancel(jobID string) error {
	handle, err := o.handle(jobID)
	if err != nil {
		return err
	}
	handle.cancel()
	return nil
}

// Close stops accepting progress and waits for all job runners to observe
// the shutdown.
func (o *Orchestrator) Close() {
	o.stop()
	o.wg.Wait()
}

func (o *Orchestrator) handle(jobID string) (*jobHandle, error) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	handle, ok := o.jobs[jobID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return handle, nil
}

func (h *jobHandle) snapshot() domain.JobStatus {
	h.mu.RLock()
	defer h.mu.RUnlock()
	status := domain.JobStatus{
		ID:          h.job.ID,
		Kind:        h.job.Kind,
		State:       h.job.State,
		Attempt:     h.job.Attempts,
		QAIteration: h.job.QAIteration,
		ArtifactURL: h.job.ArtifactURL,
		CreatedAt:   h.job.CreatedAt,
		UpdatedAt:   h.job.UpdatedAt,
	}
	if h.job.Err != nil {
		status.ErrorKind = h.job.Err.Kind
		status.ErrorReason = h.job.Err.Reason
	}
	return status
}

// transition advances the job state. Terminal states are absorbing: once the
// job completed or failed no further transition is applied.
func (h *jobHandle) transition(to domain.JobState) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.job.State.Terminal() {
		return false
	}
	now := time.Now()
	h.job.Transitions = append(h.job.Transitions, domain.Transition{From: h.job.State, To: to, At: now})
	h.job.State = to
	h.job.UpdatedAt = now
	return true
}

func (h *jobHandle) update(fn func(j *domain.Job)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	fn(h.job)
	h.job.UpdatedAt = time.Now()
}

func (o *Orchestrator) record(h *jobHandle, start bool) {
	if o.recorder == nil {
		return
	}
	// Recording must survive job cancellation, so it gets its own context.
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	status := h.snapshot()
	var err error
	if start {
		err = o.recorder.RecordStart(ctx, status)
	} else {
		err = o.recorder.RecordUpdate(ctx, status)
	}
	if err != nil {
		o.logger.Warn().Err(err).Str("job_id", status.ID).Msg("orchestrator: record job snapshot failed")
	}
}
