// Package provider exposes a uniform gateway over heterogeneous generation
// backends. Backends are stateless per invocation; credentials and rate
// budgets live in the process-wide registry constructed once at startup.
package provider

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/semaphore"

	"aistudio/internal/domain"
	"aistudio/internal/infra"
)

// Gateway normalizes submit, poll and fetch-result calls across backends.
type Gateway interface {
	Submit(ctx context.Context, req *domain.GenerationRequest) (*domain.ProviderSubmission, error)
	PollStatus(ctx context.Context, sub *domain.ProviderSubmission) (domain.SubmissionStatus, error)
	FetchResult(ctx context.Context, sub *domain.ProviderSubmission) (*domain.ArtifactRef, error)
}

// Backend is one concrete provider integration.
type Backend interface {
	Kind() domain.ProviderKind
	Name() string
	Submit(ctx context.Context, req *domain.GenerationRequest) (string, error)
	Status(ctx context.Context, providerID string) (domain.SubmissionStatus, error)
	Result(ctx context.Context, providerID string) (*domain.ArtifactRef, error)
}

// Throttle bounds concurrent outbound calls for one provider kind so burst
// submissions across concurrent jobs stay inside provider rate limits.
type Throttle struct {
	sem *semaphore.Weighted
}

// NewThrottle creates a throttle admitting at most n concurrent calls.
func NewThrottle(n int) *Throttle {
	if n < 1 {
		n = 1
	}
	return &Throttle{sem: semaphore.NewWeighted(int64(n))}
}

// Do runs fn while holding one slot of the throttle.
func (t *Throttle) Do(ctx context.Context, fn func(context.Context) error) error {
	if t == nil || t.sem == nil {
		return fn(ctx)
	}
	if err := t.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	defer t.sem.Release(1)
	return fn(ctx)
}

const (
	submitRetries = 2
	retryBackoff  = 500 * time.Millisecond
)

// Registry dispatches gateway calls to the backend registered for the
// request's provider kind, applying throttling and bounded local retries for
// transient failures before escalating them.
type Registry struct {
	backends  map[domain.ProviderKind]Backend
	throttles map[domain.ProviderKind]*Throttle
	logger    infra.Logger
}

// NewRegistry builds a registry over the given backends. Throttles are keyed
// by provider kind; kinds without an explicit throttle are unbounded.
func NewRegistry(logger infra.Logger, throttles map[domain.ProviderKind]*Throttle, backends ...Backend) *Registry {
	m := make(map[domain.ProviderKind]Backend, len(backends))
	for _, b := range backends {
		m[b.Kind()] = b
	}
	if throttles == nil {
		throttles = map[domain.ProviderKind]*Throttle{}
	}
	return &Registry{backends: m, throttles: throttles, logger: logger}
}

func (r *Registry) backendFor(kind domain.ProviderKind) (Backend, error) {
	b, ok := r.backends[kind]
	if !ok {
		return nil, domain.NewPermanentError(fmt.Sprintf("no backend registered for provider kind %q", kind), nil)
	}
	return b, nil
}

func providerKindFor(kind domain.JobKind) domain.ProviderKind {
	if kind.IsVideo() {
		return domain.ProviderKindVideo
	}
	return domain.ProviderKindImage
}

// Submit sends the assembled request to the matching backend and returns the
// provider-side handle. Transient submit failures are retried locally a small
// fixed number of times before escalating as permanent.
func (r *Registry) Submit(ctx context.Context, req *domain.GenerationRequest) (*domain.ProviderSubmission, error) {
	kind := providerKindFor(req.Kind)
	backend, err := r.backendFor(kind)
	if err != nil {
		return nil, err
	}

	var providerID string
	var lastErr error
	for attempt := 0; attempt <= submitRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(retryBackoff << (attempt - 1)):
			}
		}
		err := r.throttles[kind].Do(ctx, func(ctx context.Context) error {
			id, err := backend.Submit(ctx, req)
			if err != nil {
				return err
			}
			providerID = id
			return nil
		})
		if err == nil {
			return &domain.ProviderSubmission{
				ProviderID:  providerID,
				Kind:        kind,
				SubmittedAt: time.Now(),
			}, nil
		}
		lastErr = err
		if !domain.IsTransient(err) {
			return nil, err
		}
		r.logger.Warn().Err(err).Str("provider", backend.Name()).Int("attempt", attempt+1).Msg("provider: transient submit failure")
	}
	return nil, domain.NewPermanentError("submit retries exhausted", lastErr)
}

// PollStatus reports the normalized status of a previous submission.
func (r *Registry) PollStatus(ctx context.Context, sub *domain.ProviderSubmission) (domain.SubmissionStatus, error) {
	backend, err := r.backendFor(sub.Kind)
	if err != nil {
		return "", err
	}
	var status domain.SubmissionStatus
	err = r.throttles[sub.Kind].Do(ctx, func(ctx context.Context) error {
		s, err := backend.Status(ctx, sub.ProviderID)
		if err != nil {
			return err
		}
		status = s
		return nil
	})
	if err != nil {
		return "", err
	}
	return status, nil
}

// FetchResult downloads the artifact of a succeeded submission.
func (r *Registry) FetchResult(ctx context.Context, sub *domain.ProviderSubmission) (*domain.ArtifactRef, error) {
	backend, err := r.backendFor(sub.Kind)
	if err != nil {
		return nil, err
	}
	var ref *domain.ArtifactRef
	err = r.throttles[sub.Kind].Do(ctx, func(ctx context.Context) error {
		a, err := backend.Result(ctx, sub.ProviderID)
		if err != nil {
			return err
		}
		ref = a
		return nil
	})
	if err != nil {
		return nil, err
	}
	return ref, nil
}

var _ Gateway = (*Registry)(nil)
