// Package retry implements the pure scheduler of spec §4.1: given a
// predicate, a budget, a delay strategy, and a cancellation signal, it
// invokes an operation, decides whether to retry on failure, and either
// returns the result, re-throws the terminal error, or fails with
// BudgetExhausted. It never swallows cancellation.
package retry

import (
	"context"

	"github.com/ydb-platform/ydb-go-topic/internal/errs"
)

// Predicate decides whether err should be retried for an idempotent (or
// not) operation.
type Predicate func(err *errs.Error, idempotent bool) bool

// DefaultPredicate classifies errors per spec §4.1/§7: always-retryable,
// conditionally-retryable (only if idempotent), or terminal.
func DefaultPredicate(err *errs.Error, idempotent bool) bool {
	return err.Retryable(idempotent)
}

// Options configures one retry() invocation.
type Options struct {
	Predicate  Predicate
	Budget     int // max retries; N+1 total attempts; negative means no limit
	Strategy   Strategy
	Idempotent bool
}

// Do runs op under the retry policy described by opts. op must return an
// *errs.Error (or nil); any other error type is treated as terminal and
// returned unwrapped on the first attempt.
func Do[T any](ctx context.Context, opts Options, op func(ctx context.Context) (T, error)) (T, error) {
	predicate := opts.Predicate
	if predicate == nil {
		predicate = DefaultPredicate
	}

	var zero T
	attempt := 0
	for {
		if err := ctx.Err(); err != nil {
			return zero, errs.Cancelled()
		}

		result, err := op(ctx)
		if err == nil {
			return result, nil
		}

		if ctx.Err() != nil {
			return zero, errs.Cancelled()
		}

		var e *errs.Error
		if !errs.As(err, &e) {
			return zero, err
		}

		if !predicate(e, opts.Idempotent) {
			return zero, e
		}

		attempt++
		if opts.Budget >= 0 && attempt > opts.Budget {
			return zero, errs.BudgetExhausted(attempt)
		}

		delay := opts.Strategy(attempt)
		timer := timeAfter(delay)
		select {
		case <-ctx.Done():
			stopTimer(timer)
			return zero, errs.Cancelled()
		case <-timer.C:
		}
	}
}
