package retry_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reachvector/leadpipe/pkg/retry"
)

func fastPolicy(attempts int) retry.Policy {
	return retry.Policy{MaxAttempts: attempts, BaseDelay: time.Millisecond}
}

func TestDoSucceedsFirstAttempt(t *testing.T) {
	calls := 0
	err := retry.Do(context.Background(), fastPolicy(3), "op", func(ctx context.Context) error {
		calls++
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
}

func TestDoRetriesUntilSuccess(t *testing.T) {
	calls := 0
	err := retry.Do(context.Background(), fastPolicy(3), "op", func(ctx context.Context) error {
		calls++
		if calls < 3 {
			return errors.New("transient")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestDoReturnsOriginalErrorAfterExhaustion(t *testing.T) {
	sentinel := errors.New("persistent failure")
	calls := 0
	err := retry.Do(context.Background(), fastPolicy(3), "op", func(ctx context.Context) error {
		calls++
		return sentinel
	})
	assert.ErrorIs(t, err, sentinel, "the original error propagates unchanged")
	assert.Equal(t, 3, calls)
}

func TestDoDoesNotClassifyErrors(t *testing.T) {
	// Every error is retried; the harness has no permanent-error notion.
	calls := 0
	_ = retry.Do(context.Background(), fastPolicy(2), "op", func(ctx context.Context) error {
		calls++
		return context.DeadlineExceeded
	})
	assert.Equal(t, 2, calls)
}

func TestDoHonorsContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	p := retry.Policy{MaxAttempts: 5, BaseDelay: time.Hour}
	start := time.Now()
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()
	err := retry.Do(ctx, p, "op", func(ctx context.Context) error {
		calls++
		return errors.New("transient")
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, calls)
	assert.Less(t, time.Since(start), time.Second, "cancellation aborts the backoff wait")
}

func TestDoValue(t *testing.T) {
	calls := 0
	got, err := retry.DoValue(context.Background(), fastPolicy(3), "op", func(ctx context.Context) (int, error) {
		calls++
		if calls < 2 {
			return 0, errors.New("transient")
		}
		return 42, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 42, got)
	assert.Equal(t, 2, calls)
}

func TestDoValueSurfacesFinalError(t *testing.T) {
	sentinel := errors.New("boom")
	_, err := retry.DoValue(context.Background(), fastPolicy(1), "op", func(ctx context.Context) (string, error) {
		return "", sentinel
	})
	assert.ErrorIs(t, err, sentinel)
}
