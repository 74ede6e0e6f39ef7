package orchestrator

import (
	"context"
	"errors"
	"time"

	"aistudio/internal/agents"
	"aistudio/internal/domain"
	"aistudio/internal/poll"
)

// run drives one job from Created to a terminal state. It is the job's only
// writer; every state change goes through handle.transition so readers always
// observe transitions in order.
func (o *Orchestrator) run(ctx context.Context, h *jobHandle) {
	job := h.job
	var req *domain.GenerationRequest
	// revision carries the verdict that triggered the current rebuild;
	// nil on the first pass and after provider-side attempt failures.
	var revision *domain.QAVerdict

	for {
		if err := ctx.Err(); err != nil {
			o.fail(h, err)
			return
		}

		// Build or revise the generation request. Remix jobs carry their
		// edit prompt verbatim; there is nothing for the agents to stage.
		h.transition(domain.JobStateBuildingRequest)
		o.record(h, false)
		var err error
		switch {
		case job.RemixSourceID != "":
			req = remixRequest(job, req)
		case req == nil:
			req, err = o.pipeline.Build(ctx, job.Brief, job.Kind)
		default:
			verdict := domain.QAVerdict{}
			if revision != nil {
				verdict = *revision
			}
			req, err = o.pipeline.Revise(ctx, req, verdict)
		}
		if err != nil {
			o.fail(h, err)
			return
		}
		h.update(func(j *domain.Job) { j.Request = req })

		// Pre-submission moderation. A block here is terminal before any
		// provider spend, after one sanitize pass.
		h.transition(domain.JobStateModeratingPre)
		o.record(h, false)
		verdict, err := o.gate.Check(ctx, req.FinalPrompt, domain.ModerationPre)
		if err != nil {
			o.fail(h, err)
			return
		}
		if !verdict.Allowed {
			o.logger.Warn().Str("job_id", job.ID).Str("reason", verdict.Reason).Msg("orchestrator: prompt flagged, sanitizing")
			sanitized, err := agents.Sanitize(ctx, o.refiner, req.FinalPrompt)
			if err != nil {
				o.fail(h, err)
				return
			}
			req = req.Clone()
			req.FinalPrompt = sanitized
			h.update(func(j *domain.Job) { j.Request = req })
			verdict, err = o.gate.Check(ctx, req.FinalPrompt, domain.ModerationPre)
			if err != nil {
				o.fail(h, err)
				return
			}
			if !verdict.Allowed {
				o.fail(h, domain.NewModerationBlockedError(verdict.Reason))
				return
			}
		}

		// One submit -> poll -> fetch -> moderate -> evaluate cycle.
		artifact, verdictQA, err := o.attempt(ctx, h, req)
		if err != nil {
			if !o.maybeRevise(h, err) {
				return
			}
			revision = nil
			continue
		}
		if verdictQA.Pass {
			o.complete(ctx, h, req, artifact)
			return
		}

		// QA rejected: retry within budget, otherwise terminal.
		h.mu.RLock()
		attempts, qaIteration := job.Attempts, job.QAIteration
		h.mu.RUnlock()
		if qaIteration >= h.cfg.MaxQAIterations || attempts >= h.cfg.MaxAttempts {
			o.fail(h, &domain.ClassifiedError{
				Kind:   domain.ErrorKindQARejected,
				Reason: qaRejectReason(verdictQA),
			})
			return
		}
		h.transition(domain.JobStateRevising)
		o.record(h, false)
		revision = &verdictQA
	}
}

// attempt runs one full provider cycle and returns either the QA verdict for
// the fetched artifact or the error that ended the attempt.
func (o *Orchestrator) attempt(ctx context.Context, h *jobHandle, req *domain.GenerationRequest) (*domain.ArtifactRef, domain.QAVerdict, error) {
	job := h.job

	h.transition(domain.JobStateSubmitting)
	h.update(func(j *domain.Job) { j.Attempts++ })
	o.record(h, false)

	sub, err := o.gateway.Submit(ctx, req)
	if err != nil {
		return nil, domain.QAVerdict{}, err
	}
	// A new submission invalidates the previous one for polling purposes.
	h.update(func(j *domain.Job) {
		j.Submission = sub
		j.Submissions++
	})

	h.transition(domain.JobStatePolling)
	o.record(h, false)
	err = poll.Run(ctx, poll.Options{
		Interval: h.cfg.PollInterval,
		MaxTotal: h.cfg.PollMaxDuration,
	}, func(ctx context.Context) (bool, error) {
		status, err := o.gateway.PollStatus(ctx, sub)
		h.update(func(j *domain.Job) { j.LastPollAt = time.Now() })
		if err != nil {
			return false, err
		}
		switch status {
		case domain.SubmissionSucceeded:
			return true, nil
		case domain.SubmissionFailed:
			return false, domain.NewPermanentError("provider reported generation failure", nil)
		default:
			return false, nil
		}
	})
	if err != nil {
		return nil, domain.QAVerdict{}, err
	}

	h.transition(domain.JobStateFetchingResult)
	o.record(h, false)
	artifact, err := o.gateway.FetchResult(ctx, sub)
	if err != nil {
		return nil, domain.QAVerdict{}, err
	}

	// Post-generation moderation inspects the artifact's description and
	// metadata. A block counts as a QA rejection, not a terminal failure.
	h.transition(domain.JobStateModeratingPost)
	o.record(h, false)
	modVerdict, err := o.gate.Check(ctx, postModerationContent(req, artifact), domain.ModerationPost)
	if err != nil {
		return nil, domain.QAVerdict{}, err
	}

	h.transition(domain.JobStateEvaluating)
	h.update(func(j *domain.Job) { j.QAIteration++ })
	o.record(h, false)

	if !modVerdict.Allowed {
		o.logger.Warn().Str("job_id", job.ID).Str("reason", modVerdict.Reason).Msg("orchestrator: artifact flagged post-generation")
		return artifact, domain.QAVerdict{
			Score:        0,
			Pass:         false,
			Deficiencies: []string{"prompt"},
			Iteration:    currentIteration(h),
			Summary:      "post-generation moderation: " + modVerdict.Reason,
		}, nil
	}

	verdict, err := o.evaluator.Evaluate(ctx, artifact, req, currentIteration(h))
	if err != nil {
		return nil, domain.QAVerdict{}, err
	}
	return artifact, verdict, nil
}

// maybeRevise decides whether a failed attempt consumes budget and loops back
// through Revising, or terminates the job. It reports true when the job may
// continue.
func (o *Orchestrator) maybeRevise(h *jobHandle, err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		o.fail(h, err)
		return false
	}
	kind := domain.KindOf(err)
	if kind == domain.ErrorKindCancelled || kind == domain.ErrorKindValidation || kind == domain.ErrorKindModerationBlocked {
		o.fail(h, err)
		return false
	}

	h.mu.RLock()
	attempts := h.job.Attempts
	h.mu.RUnlock()
	if attempts >= h.cfg.MaxAttempts {
		o.fail(h, err)
		return false
	}

	o.logger.Warn().Err(err).Str("job_id", h.job.ID).Int("attempt", attempts).Msg("orchestrator: attempt failed, revising")
	h.transition(domain.JobStateRevising)
	o.record(h, false)
	return true
}

func (o *Orchestrator) complete(ctx context.Context, h *jobHandle, req *domain.GenerationRequest, artifact *domain.ArtifactRef) {
	if artifact.Title == "" {
		artifact.Title = agents.Title(ctx, o.refiner, req.Brief.Content)
	}
	url, err := o.store.Store(ctx, h.job.ID, artifact)
	if err != nil {
		o.fail(h, err)
		return
	}
	h.update(func(j *domain.Job) { j.ArtifactURL = url })
	h.transition(domain.JobStateComplete)
	o.record(h, false)
	o.logger.Info().Str("job_id", h.job.ID).Str("artifact_url", url).Msg("orchestrator: job complete")
}

// fail moves the job to the terminal Failed state with a non-empty error kind
// and human-readable reason.
func (o *Orchestrator) fail(h *jobHandle, err error) {
	record := errorRecordFrom(err)
	h.update(func(j *domain.Job) { j.Err = &record })
	h.transition(domain.JobStateFailed)
	o.record(h, false)
	o.logger.Error().
		Str("job_id", h.job.ID).
		Str("error_kind", string(record.Kind)).
		Str("reason", record.Reason).
		Msg("orchestrator: job failed")
}

func errorRecordFrom(err error) domain.ErrorRecord {
	kind := domain.KindOf(err)
	reason := "unknown failure"
	switch {
	case errors.Is(err, context.Canceled):
		kind = domain.ErrorKindCancelled
		reason = "job cancelled"
	case errors.Is(err, domain.ErrPollTimeout):
		reason = "provider polling timed out"
	case err != nil:
		var ce *domain.ClassifiedError
		if errors.As(err, &ce) && ce.Reason != "" {
			reason = ce.Reason
		} else {
			reason = err.Error()
		}
	}
	return domain.ErrorRecord{Kind: kind, Reason: reason}
}

func qaRejectReason(v domain.QAVerdict) string {
	if v.Summary != "" {
		return "qa budget exhausted: " + v.Summary
	}
	return "qa budget exhausted"
}

func currentIteration(h *jobHandle) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.job.QAIteration
}

// remixRequest derives the provider payload for a remix job. The edit prompt
// is fixed by the brief, so a retry resubmits the same prompt at the next
// iteration.
func remixRequest(job *domain.Job, prev *domain.GenerationRequest) *domain.GenerationRequest {
	iteration := 1
	if prev != nil {
		iteration = prev.Iteration + 1
	}
	return &domain.GenerationRequest{
		Brief:         job.Brief,
		Kind:          job.Kind,
		Iteration:     iteration,
		FinalPrompt:   job.Brief.Content,
		RemixSourceID: job.RemixSourceID,
	}
}

func postModerationContent(req *domain.GenerationRequest, artifact *domain.ArtifactRef) string {
	if artifact != nil && artifact.Description != "" {
		return artifact.Description
	}
	return req.FinalPrompt
}
