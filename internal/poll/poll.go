// Package poll provides a generic bounded-interval polling primitive used to
// watch external provider jobs until they reach a terminal status.
package poll

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"aistudio/internal/domain"
)

// Func is invoked on every tick. It returns done=true once the watched
// operation reached a terminal status.
type Func func(ctx context.Context) (done bool, err error)

// Options bounds a polling run.
type Options struct {
	// Interval between consecutive invocations.
	Interval time.Duration
	// MaxTotal is the elapsed-time budget; once exceeded the run fails
	// with domain.ErrPollTimeout. Measured monotonically from the start
	// of the run, never by wall-clock subtraction.
	MaxTotal time.Duration
	// Jitter, when positive, adds a random delay in [0, Jitter) to each
	// interval to avoid thundering herds against the provider.
	Jitter time.Duration
	// MaxTransient bounds consecutive transient errors tolerated before
	// the run escalates them as permanent. Defaults to 3.
	MaxTransient int
}

const defaultMaxTransient = 3

// Run invokes fn at the configured interval until it reports done, the time
// budget is exhausted, or ctx is cancelled. Cancellation is observed at the
// same suspension point as the interval wait, so it takes effect promptly
// rather than at some later tick.
func Run(ctx context.Context, opts Options, fn Func) error {
	if opts.Interval <= 0 {
		return fmt.Errorf("poll: interval must be positive")
	}
	if opts.MaxTotal <= 0 {
		return fmt.Errorf("poll: max total duration must be positive")
	}
	maxTransient := opts.MaxTransient
	if maxTransient <= 0 {
		maxTransient = defaultMaxTransient
	}

	start := time.Now()
	transient := 0
	timer := time.NewTimer(opts.Interval)
	defer timer.Stop()

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		done, err := fn(ctx)
		switch {
		case err == nil:
			transient = 0
			if done {
				return nil
			}
		case domain.IsTransient(err):
			transient++
			if transient >= maxTransient {
				return domain.NewPermanentError("poll: transient retries exhausted", err)
			}
		default:
			return err
		}

		if time.Since(start) >= opts.MaxTotal {
			return domain.ErrPollTimeout
		}

		wait := opts.Interval
		if opts.Jitter > 0 {
			wait += time.Duration(rand.Int63n(int64(opts.Jitter)))
		}
		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timer.Reset(wait)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
		}
	}
}
