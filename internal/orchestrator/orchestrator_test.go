package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"aistudio/internal/domain"
)

type fakePipeline struct {
	mu      sync.Mutex
	builds  int
	revises int
}

func (p *fakePipeline) Build(ctx context.Context, brief domain.Brief, kind domain.JobKind) (*domain.GenerationRequest, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.builds++
	return &domain.GenerationRequest{Brief: brief, Kind: kind, Iteration: 1, FinalPrompt: "prompt-1"}, nil
}

func (p *fakePipeline) counts() (builds, revises int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.builds, p.revises
}

func (p *fakePipeline) Revise(ctx context.Context, prev *domain.GenerationRequest, verdict domain.QAVerdict) (*domain.GenerationRequest, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.revises++
	next := prev.Clone()
	next.Iteration = prev.Iteration + 1
	next.FinalPrompt = fmt.Sprintf("prompt-%d", next.Iteration)
	return next, nil
}

type fakeGateway struct {
	mu              sync.Mutex
	submits         int
	polls           int
	pollsUntilDone  int
	submitErr       error
	pollFinalStatus domain.SubmissionStatus
	artifact        domain.ArtifactRef
	remixSources    []string
	prompts         []string
}

func (g *fakeGateway) Submit(ctx context.Context, req *domain.GenerationRequest) (*domain.ProviderSubmission, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.submitErr != nil {
		return nil, g.submitErr
	}
	g.submits++
	g.polls = 0
	g.remixSources = append(g.remixSources, req.RemixSourceID)
	g.prompts = append(g.prompts, req.FinalPrompt)
	return &domain.ProviderSubmission{
		ProviderID:  fmt.Sprintf("prov-%d", g.submits),
		Kind:        domain.ProviderKindVideo,
		SubmittedAt: time.Now(),
	}, nil
}

func (g *fakeGateway) lastSubmit() (remixSource, prompt string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if len(g.prompts) == 0 {
		return "", ""
	}
	return g.remixSources[len(g.remixSources)-1], g.prompts[len(g.prompts)-1]
}

func (g *fakeGateway) PollStatus(ctx context.Context, sub *domain.ProviderSubmission) (domain.SubmissionStatus, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.polls++
	if g.polls < g.pollsUntilDone {
		return domain.SubmissionPending, nil
	}
	if g.pollFinalStatus != "" {
		return g.pollFinalStatus, nil
	}
	return domain.SubmissionSucceeded, nil
}

func (g *fakeGateway) FetchResult(ctx context.Context, sub *domain.ProviderSubmission) (*domain.ArtifactRef, error) {
	artifact := g.artifact
	return &artifact, nil
}

func (g *fakeGateway) submitCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.submits
}

type fakeGate struct {
	mu        sync.Mutex
	preBlocks int
	checks    int
}

func (m *fakeGate) Check(ctx context.Context, content string, stage domain.ModerationStage) (domain.ModerationVerdict, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.checks++
	if stage == domain.ModerationPre && m.preBlocks > 0 {
		m.preBlocks--
		return domain.ModerationVerdict{Allowed: false, Reason: "flagged categories: violence"}, nil
	}
	return domain.ModerationVerdict{Allowed: true}, nil
}

type fakeEvaluator struct {
	mu     sync.Mutex
	scores []float64
	call   int
}

func (e *fakeEvaluator) Evaluate(ctx context.Context, artifact *domain.ArtifactRef, req *domain.GenerationRequest, iteration int) (domain.QAVerdict, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	score := 1.0
	if e.call < len(e.scores) {
		score = e.scores[e.call]
	}
	e.call++
	verdict := domain.QAVerdict{Score: score, Iteration: iteration, Pass: score >= 0.8}
	if !verdict.Pass {
		verdict.Deficiencies = []string{"visual"}
	}
	return verdict, nil
}

type fakeStore struct {
	mu     sync.Mutex
	stores int
}

func (s *fakeStore) Store(ctx context.Context, jobID string, artifact *domain.ArtifactRef) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stores++
	return "http://static.local/" + jobID + ".mp4", nil
}

func (s *fakeStore) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stores
}

type fakeRefiner struct{}

func (fakeRefiner) Refine(ctx context.Context, system, user string) (string, error) {
	return "sanitized output", nil
}

type fixture struct {
	pipeline  *fakePipeline
	gateway   *fakeGateway
	gate      *fakeGate
	evaluator *fakeEvaluator
	store     *fakeStore
	orch      *Orchestrator
}

func newFixture(t *testing.T, cfg Config) *fixture {
	t.Helper()
	if cfg.PollInterval == 0 {
		cfg.PollInterval = time.Millisecond
	}
	if cfg.PollMaxDuration == 0 {
		cfg.PollMaxDuration = time.Second
	}
	if cfg.MaxAttempts == 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.MaxQAIterations == 0 {
		cfg.MaxQAIterations = 3
	}
	f := &fixture{
		pipeline:  &fakePipeline{},
		gateway:   &fakeGateway{pollsUntilDone: 1, artifact: domain.ArtifactRef{URL: "https://prov/res.mp4", Format: "video/mp4"}},
		gate:      &fakeGate{},
		evaluator: &fakeEvaluator{},
		store:     &fakeStore{},
	}
	f.orch = New(f.pipeline, f.gateway, f.gate, f.evaluator, f.store, fakeRefiner{}, nil, cfg, zerolog.Nop())
	t.Cleanup(f.orch.Close)
	return f
}

func waitTerminal(t *testing.T, o *Orchestrator, jobID string) domain.JobStatus {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		status, err := o.Status(jobID)
		if err != nil {
			t.Fatalf("Status() error = %v", err)
		}
		if status.State.Terminal() {
			return status
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatal("job never reached a terminal state")
	return domain.JobStatus{}
}

func TestJobCompletesAfterPendingPolls(t *testing.T) {
	f := newFixture(t, Config{})
	f.gateway.pollsUntilDone = 3

	jobID, err := f.orch.Start(domain.Brief{Content: "ceramic mug teaser"}, domain.JobKindPromoVideo)
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	status := waitTerminal(t, f.orch, jobID)
	if status.State != domain.JobStateComplete {
		t.Fatalf("state = %q (%s: %s), want complete", status.State, status.ErrorKind, status.ErrorReason)
	}
	if got := f.gateway.submitCount(); got != 1 {
		t.Fatalf("submissions = %d, want exactly 1", got)
	}
	if got := f.store.count(); got != 1 {
		t.Fatalf("artifact stored %d times, want exactly 1", got)
	}
	if status.ArtifactURL == "" {
		t.Fatal("completed job has no artifact url")
	}
	if status.Attempt != 1 || status.QAIteration != 1 {
		t.Fatalf("attempt/iteration = %d/%d, want 1/1", status.Attempt, status.QAIteration)
	}
}

func TestQARejectionTriggersOneRevision(t *testing.T) {
	f := newFixture(t, Config{})
	f.evaluator.scores = []float64{0.5, 0.85}

	jobID, err := f.orch.Start(domain.Brief{Content: "sneaker ad"}, domain.JobKindUGCVideo)
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	status := waitTerminal(t, f.orch, jobID)
	if status.State != domain.JobStateComplete {
		t.Fatalf("state = %q (%s: %s), want complete", status.State, status.ErrorKind, status.ErrorReason)
	}
	if got := f.gateway.submitCount(); got != 2 {
		t.Fatalf("submissions = %d, want exactly 2", got)
	}
	if _, revises := f.pipeline.counts(); revises != 1 {
		t.Fatalf("revisions = %d, want 1", revises)
	}
	if status.QAIteration != 2 {
		t.Fatalf("QAIteration = %d, want 2", status.QAIteration)
	}
}

func TestQABudgetExhaustionFailsJob(t *testing.T) {
	f := newFixture(t, Config{MaxQAIterations: 2, MaxAttempts: 5})
	f.evaluator.scores = []float64{0.1, 0.1, 0.1, 0.1}

	jobID, err := f.orch.Start(domain.Brief{Content: "never good enough"}, domain.JobKindPromoVideo)
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	status := waitTerminal(t, f.orch, jobID)
	if status.State != domain.JobStateFailed {
		t.Fatalf("state = %q, want failed", status.State)
	}
	if status.ErrorKind != domain.ErrorKindQARejected {
		t.Fatalf("error kind = %q, want qa_rejected", status.ErrorKind)
	}
	if got := f.gateway.submitCount(); got != 2 {
		t.Fatalf("submissions = %d, want exactly 2", got)
	}
	if status.ErrorReason == "" {
		t.Fatal("failed job has no error reason")
	}
}

func TestPreModerationBlockFailsWithoutProviderSpend(t *testing.T) {
	f := newFixture(t, Config{})
	// Both the original prompt and its sanitized rewrite stay blocked.
	f.gate.preBlocks = 2

	jobID, err := f.orch.Start(domain.Brief{Content: "something disallowed"}, domain.JobKindPromoVideo)
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	status := waitTerminal(t, f.orch, jobID)
	if status.State != domain.JobStateFailed {
		t.Fatalf("state = %q, want failed", status.State)
	}
	if status.ErrorKind != domain.ErrorKindModerationBlocked {
		t.Fatalf("error kind = %q, want moderation_blocked", status.ErrorKind)
	}
	if got := f.gateway.submitCount(); got != 0 {
		t.Fatalf("submissions = %d, want 0", got)
	}
}

func TestSanitizedPromptPassesSecondModerationCheck(t *testing.T) {
	f := newFixture(t, Config{})
	f.gate.preBlocks = 1

	jobID, err := f.orch.Start(domain.Brief{Content: "edgy but fixable"}, domain.JobKindPromoVideo)
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	status := waitTerminal(t, f.orch, jobID)
	if status.State != domain.JobStateComplete {
		t.Fatalf("state = %q (%s: %s), want complete", status.State, status.ErrorKind, status.ErrorReason)
	}
	if got := f.gateway.submitCount(); got != 1 {
		t.Fatalf("submissions = %d, want 1", got)
	}
}

func TestPollTimeoutFailsAfterAttemptBudget(t *testing.T) {
	f := newFixture(t, Config{PollInterval: time.Millisecond, PollMaxDuration: time.Nanosecond, MaxAttempts: 1})
	f.gateway.pollsUntilDone = 1 << 30 // never done

	jobID, err := f.orch.Start(domain.Brief{Content: "slow provider"}, domain.JobKindPromoVideo)
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	status := waitTerminal(t, f.orch, jobID)
	if status.State != domain.JobStateFailed {
		t.Fatalf("state = %q, want failed", status.State)
	}
	if status.ErrorKind != domain.ErrorKindPollTimeout {
		t.Fatalf("error kind = %q, want poll_timeout", status.ErrorKind)
	}
}

func TestProviderFailureRetriesWithinAttemptBudget(t *testing.T) {
	f := newFixture(t, Config{MaxAttempts: 2})
	f.gateway.pollFinalStatus = domain.SubmissionFailed

	jobID, err := f.orch.Start(domain.Brief{Content: "flaky provider"}, domain.JobKindPromoVideo)
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	status := waitTerminal(t, f.orch, jobID)
	if status.State != domain.JobStateFailed {
		t.Fatalf("state = %q, want failed", status.State)
	}
	if got := f.gateway.submitCount(); got != 2 {
		t.Fatalf("submissions = %d, want 2 (one retry)", got)
	}
	if status.ErrorKind != domain.ErrorKindProviderPermanent {
		t.Fatalf("error kind = %q, want provider_permanent", status.ErrorKind)
	}
}

func TestCancelFailsInFlightJob(t *testing.T) {
	f := newFixture(t, Config{PollInterval: time.Hour, PollMaxDuration: 24 * time.Hour})
	f.gateway.pollsUntilDone = 1 << 30

	jobID, err := f.orch.Start(domain.Brief{Content: "long running"}, domain.JobKindPromoVideo)
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	// Wait until the job is sitting in its polling wait.
	deadline := time.Now().Add(5 * time.Second)
	for {
		status, err := f.orch.Status(jobID)
		if err != nil {
			t.Fatalf("Status() error = %v", err)
		}
		if status.State == domain.JobStatePolling {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("job stuck in state %q before polling", status.State)
		}
		time.Sleep(time.Millisecond)
	}

	if err := f.orch.Cancel(jobID); err != nil {
		t.Fatalf("Cancel() error = %v", err)
	}
	status := waitTerminal(t, f.orch, jobID)
	if status.State != domain.JobStateFailed {
		t.Fatalf("state = %q, want failed", status.State)
	}
	if status.ErrorKind != domain.ErrorKindCancelled {
		t.Fatalf("error kind = %q, want cancelled", status.ErrorKind)
	}
}

func TestTerminalStatesAreAbsorbing(t *testing.T) {
	f := newFixture(t, Config{})
	jobID, err := f.orch.Start(domain.Brief{Content: "quick win"}, domain.JobKindImage)
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	status := waitTerminal(t, f.orch, jobID)
	if status.State != domain.JobStateComplete {
		t.Fatalf("state = %q, want complete", status.State)
	}

	if err := f.orch.Cancel(jobID); err != nil {
		t.Fatalf("Cancel() on terminal job error = %v", err)
	}
	after, err := f.orch.Status(jobID)
	if err != nil {
		t.Fatalf("Status() error = %v", err)
	}
	if after.State != domain.JobStateComplete {
		t.Fatalf("terminal state changed to %q after cancel", after.State)
	}
}

func TestRemixReusesSourceVideoWithoutPipeline(t *testing.T) {
	f := newFixture(t, Config{})

	sourceID, err := f.orch.Start(domain.Brief{Content: "ceramic mug teaser"}, domain.JobKindPromoVideo)
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if status := waitTerminal(t, f.orch, sourceID); status.State != domain.JobStateComplete {
		t.Fatalf("source state = %q, want complete", status.State)
	}

	remixID, err := f.orch.Remix(sourceID, "make the mug cobalt blue")
	if err != nil {
		t.Fatalf("Remix() error = %v", err)
	}
	if remixID == sourceID {
		t.Fatal("Remix() reused the source job id")
	}
	status := waitTerminal(t, f.orch, remixID)
	if status.State != domain.JobStateComplete {
		t.Fatalf("remix state = %q (%s: %s), want complete", status.State, status.ErrorKind, status.ErrorReason)
	}

	remixSource, prompt := f.gateway.lastSubmit()
	if remixSource != "prov-1" {
		t.Fatalf("remix submitted against %q, want the source job's provider id prov-1", remixSource)
	}
	if prompt != "make the mug cobalt blue" {
		t.Fatalf("remix prompt = %q, want the edit prompt verbatim", prompt)
	}
	if builds, _ := f.pipeline.counts(); builds != 1 {
		t.Fatalf("pipeline built %d requests, want 1 (remix must skip the agents)", builds)
	}
}

func TestRemixValidatesSource(t *testing.T) {
	f := newFixture(t, Config{})

	if _, err := f.orch.Remix("missing", "new prompt"); err != domain.ErrNotFound {
		t.Fatalf("Remix(missing) = %v, want ErrNotFound", err)
	}

	imageID, err := f.orch.Start(domain.Brief{Content: "flat lay"}, domain.JobKindImage)
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	waitTerminal(t, f.orch, imageID)
	if _, err := f.orch.Remix(imageID, "new prompt"); domain.KindOf(err) != domain.ErrorKindValidation {
		t.Fatalf("Remix(image job) = %v, want validation error", err)
	}
	if _, err := f.orch.Remix(imageID, "   "); domain.KindOf(err) != domain.ErrorKindValidation {
		t.Fatalf("Remix with empty prompt = %v, want validation error", err)
	}
}

func TestStartValidatesInput(t *testing.T) {
	f := newFixture(t, Config{})
	if _, err := f.orch.Start(domain.Brief{Content: "x"}, domain.JobKind("hologram")); err == nil {
		t.Fatal("Start() accepted unsupported kind")
	}
	if _, err := f.orch.Start(domain.Brief{Content: "  "}, domain.JobKindImage); err == nil {
		t.Fatal("Start() accepted empty brief")
	}
	if builds, _ := f.pipeline.counts(); builds != 0 || f.gateway.submitCount() != 0 {
		t.Fatal("validation failure still reached the pipeline or provider")
	}
}

func TestStatusUnknownJob(t *testing.T) {
	f := newFixture(t, Config{})
	if _, err := f.orch.Status("missing"); err != domain.ErrNotFound {
		t.Fatalf("Status(missing) = %v, want ErrNotFound", err)
	}
	if err := f.orch.Cancel("missing"); err != domain.ErrNotFound {
		t.Fatalf("Cancel(missing) = %v, want ErrNotFound", err)
	}
}
