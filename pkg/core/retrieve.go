package core

import (
	"context"
	"errors"
	"log"
	"time"
)

// ErrEmptyResult is returned by a Fetcher whose attempt produced no
// usable value. It is retried like any other failure but backs off on
// its own schedule.
var ErrEmptyResult = errors.New("empty result")

// ErrRetrievalExhausted means every primary and fallback attempt failed.
// It is an expected absent-value outcome, not a crash.
var ErrRetrievalExhausted = errors.New("retrieval exhausted")

// FailureKind classifies one failed attempt for backoff selection.
type FailureKind string

const (
	FailEmpty   FailureKind = "empty_result"
	FailTimeout FailureKind = "timeout"
	FailFault   FailureKind = "fault"
)

// Fetcher is one asynchronous retrieval alternative.
type Fetcher[T any] func(ctx context.Context) (T, error)

// RetrieveConfig bounds one Retrieve invocation. The backoff table maps
// each failure kind to the delay slept before the next attempt,
// generalizing the usual "short pause after an empty page, long pause
// after a timeout" special cases into one policy.
type RetrieveConfig struct {
	// Account is attached to logs and exhaustion events. Optional.
	Account AccountID
	// AttemptTimeout bounds each individual attempt. Zero disables it.
	AttemptTimeout time.Duration
	// MaxAttempts per operation (primary and each fallback). Minimum 1.
	MaxAttempts int
	// Backoff maps failure kind to inter-attempt delay. Missing kinds
	// retry immediately.
	Backoff map[FailureKind]time.Duration
	// Events receives the retrieval_exhausted transition. Optional.
	Events EventSink

	// sleep is injectable for tests; nil means a ctx-aware time.Sleep.
	sleep func(ctx context.Context, d time.Duration) error
}

// Retrieve runs primary up to MaxAttempts times, then each fallback in
// order under the same policy, returning the first success. Cancellation
// of ctx propagates immediately and is never retried; every other
// failure (empty result, per-attempt timeout, fault) counts as one
// attempt. On exhaustion it returns ErrRetrievalExhausted.
func Retrieve[T any](ctx context.Context, cfg RetrieveConfig, primary Fetcher[T], fallbacks ...Fetcher[T]) (T, error) {
	var zero T

	attempts := cfg.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	sleep := cfg.sleep
	if sleep == nil {
		sleep = sleepCtx
	}

	ops := append([]Fetcher[T]{primary}, fallbacks...)
	for i, op := range ops {
		for attempt := 0; attempt < attempts; attempt++ {
			if err := ctx.Err(); err != nil {
				return zero, err
			}

			value, err := runAttempt(ctx, cfg.AttemptTimeout, op)
			if err == nil {
				return value, nil
			}
			// The enclosing context cancelling mid-attempt is not a
			// retryable failure.
			if ctx.Err() != nil {
				return zero, ctx.Err()
			}

			kind := classifyFailure(err)
			log.Printf("retrieval attempt %d/%d (alternative %d/%d) failed for %s: %s: %v",
				attempt+1, attempts, i+1, len(ops), cfg.Account, kind, err)

			last := attempt == attempts-1 && i == len(ops)-1
			if !last {
				if err := sleep(ctx, cfg.Backoff[kind]); err != nil {
					return zero, err
				}
			}
		}
	}

	AccountRetrievalExhaustedTotal.Inc()
	log.Printf("retrieval exhausted for %s after %d alternatives", cfg.Account, len(ops))
	if cfg.Events != nil {
		cfg.Events.Emit(context.Background(), EventRetrievalExhausted, cfg.Account, map[string]any{
			"alternatives": len(ops),
			"max_attempts": attempts,
		})
	}
	return zero, ErrRetrievalExhausted
}

func runAttempt[T any](ctx context.Context, timeout time.Duration, op Fetcher[T]) (T, error) {
	if timeout <= 0 {
		return op(ctx)
	}
	attemptCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return op(attemptCtx)
}

func classifyFailure(err error) FailureKind {
	switch {
	case errors.Is(err, ErrEmptyResult):
		return FailEmpty
	case errors.Is(err, context.DeadlineExceeded):
		return FailTimeout
	default:
		return FailFault
	}
}

// sleepCtx sleeps for d unless ctx is cancelled first.
func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
