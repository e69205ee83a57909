// Package retry implements the bounded exponential-backoff harness wrapped
// around every Agent and transient external call.
//
// The harness deliberately does not classify errors as retryable or
// permanent: distinguishing them reliably across tool backends is
// infeasible, so every error is retried and higher layers decide whether a
// call site goes through the harness at all.
package retry

import (
	"context"
	"log/slog"
	"time"
)

// Policy parameterizes a retry loop.
type Policy struct {
	// MaxAttempts is the total number of attempts, including the first.
	MaxAttempts int

	// BaseDelay is the sleep before the second attempt.
	BaseDelay time.Duration

	// ExponentialBase multiplies the delay per attempt. Zero means 2.
	ExponentialBase float64

	// MaxDelay caps the sleep between attempts. Zero means 60s.
	MaxDelay time.Duration
}

// Built-in policies per call class.
var (
	// AgentPolicy wraps Agent gateway invocations.
	AgentPolicy = Policy{MaxAttempts: 3, BaseDelay: 2 * time.Second}

	// DBPolicy wraps database operations that may hit transient faults.
	DBPolicy = Policy{MaxAttempts: 5, BaseDelay: 500 * time.Millisecond}

	// ToolPolicy wraps direct external tool calls.
	ToolPolicy = Policy{MaxAttempts: 3, BaseDelay: 1 * time.Second}
)

// Do runs fn under the policy. Attempt 1 is immediate; between attempt k and
// k+1 it sleeps min(BaseDelay·base^(k-1), MaxDelay). On final failure the
// original error propagates unchanged. Context cancellation aborts the wait
// and returns ctx.Err().
func Do(ctx context.Context, p Policy, name string, fn func(ctx context.Context) error) error {
	base := p.ExponentialBase
	if base <= 0 {
		base = 2
	}
	maxDelay := p.MaxDelay
	if maxDelay <= 0 {
		maxDelay = 60 * time.Second
	}
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	var err error
	delay := p.BaseDelay
	for attempt := 1; attempt <= attempts; attempt++ {
		if attempt > 1 {
			if delay > maxDelay {
				delay = maxDelay
			}
			slog.Warn("Retrying after failure",
				"call", name,
				"attempt", attempt,
				"max_attempts", attempts,
				"delay", delay,
				"error", err)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
			delay = time.Duration(float64(delay) * base)
		}

		err = fn(ctx)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return err
		}
	}
	return err
}

// DoValue is Do for calls that produce a value.
func DoValue[T any](ctx context.Context, p Policy, name string, fn func(ctx context.Context) (T, error)) (T, error) {
	var result T
	err := Do(ctx, p, name, func(ctx context.Context) error {
		var innerErr error
		result, innerErr = fn(ctx)
		return innerErr
	})
	return result, err
}
