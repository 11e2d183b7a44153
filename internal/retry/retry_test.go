package retry_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/ydb-platform/ydb-go-topic/internal/errs"
	"github.com/ydb-platform/ydb-go-topic/internal/retry"
)

// Budget property from spec §8: retry(predicate, budget=N) invokes the
// operation at most N+1 times and at least once.
func TestDoRespectsBudget(t *testing.T) {
	calls := 0
	_, err := retry.Do(context.Background(), retry.Options{
		Budget:   3,
		Strategy: retry.Fixed(0),
	}, func(ctx context.Context) (int, error) {
		calls++
		return 0, errs.New(errs.KindRetryableTransient, errs.CodeUnavailable, "down")
	})

	require.Error(t, err)
	require.Equal(t, 4, calls)
	var e *errs.Error
	require.True(t, errs.As(err, &e))
	require.Equal(t, errs.CodeBudgetExhausted, e.Code)
}

func TestDoReturnsOnSuccess(t *testing.T) {
	calls := 0
	v, err := retry.Do(context.Background(), retry.Options{
		Budget:   5,
		Strategy: retry.Fixed(0),
	}, func(ctx context.Context) (int, error) {
		calls++
		if calls < 2 {
			return 0, errs.New(errs.KindRetryableTransient, errs.CodeUnavailable, "down")
		}
		return 42, nil
	})

	require.NoError(t, err)
	require.Equal(t, 42, v)
	require.Equal(t, 2, calls)
}

func TestDoTerminalNotRetried(t *testing.T) {
	calls := 0
	_, err := retry.Do(context.Background(), retry.Options{
		Budget:   5,
		Strategy: retry.Fixed(0),
	}, func(ctx context.Context) (int, error) {
		calls++
		return 0, errs.New(errs.KindTerminal, errs.CodeSchemaError, "bad schema")
	})

	require.Error(t, err)
	require.Equal(t, 1, calls)
}

func TestDoConditionalRetryRespectsIdempotency(t *testing.T) {
	calls := 0
	_, err := retry.Do(context.Background(), retry.Options{
		Budget:     3,
		Strategy:   retry.Fixed(0),
		Idempotent: false,
	}, func(ctx context.Context) (int, error) {
		calls++
		return 0, errs.New(errs.KindConditionallyRetryable, errs.CodeTimeout, "timeout")
	})

	require.Error(t, err)
	require.Equal(t, 1, calls)
}

func TestDoCancellationReturnsImmediately(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	calls := 0
	_, err := retry.Do(ctx, retry.Options{
		Budget:   5,
		Strategy: retry.Fixed(time.Hour),
	}, func(ctx context.Context) (int, error) {
		calls++
		return 0, errs.New(errs.KindRetryableTransient, errs.CodeUnavailable, "down")
	})

	require.Error(t, err)
	var e *errs.Error
	require.True(t, errs.As(err, &e))
	require.Equal(t, errs.CodeCancelled, e.Code)
	require.Equal(t, 0, calls)
}
