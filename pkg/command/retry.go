package command

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

// RetryPolicy bounds how often a flaky command is retried
type RetryPolicy struct {
	// MaxAttempts is the maximum number of attempts including the first one.
	MaxAttempts int
	// Timeout applies to every single attempt. Zero keeps the caller's timeout.
	Timeout time.Duration
	// Delay is the pause between two attempts.
	Delay time.Duration
	// Abort is evaluated before every retry. Once it returns true no further
	// attempt is made and the loop reports success with Result.Aborted set.
	Abort func() bool
}

// DefaultRetryPolicy matches what hdiutil usually needs to recover from
// "resource busy" errors.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 10,
		Timeout:     3 * time.Minute,
		Delay:       3 * time.Second,
	}
}

// WithAbort returns a copy of p using abort as the abort predicate.
func (p RetryPolicy) WithAbort(abort func() bool) RetryPolicy {
	p.Abort = abort
	return p
}

// RetryRunner wraps a Runner and retries failed commands according to Policy.
type RetryRunner struct {
	Runner Runner
	Policy RetryPolicy
	Logger *slog.Logger
}

// NewRetryRunner wraps r with policy.
func NewRetryRunner(r Runner, policy RetryPolicy, logger *slog.Logger) *RetryRunner {
	return &RetryRunner{Runner: r, Policy: policy, Logger: logger}
}

// Run implements Runner.
func (rr *RetryRunner) Run(ctx context.Context, args []string, opts Options) (*Result, error) {
	p := rr.Policy
	if p.Timeout > 0 {
		opts.Timeout = p.Timeout
	}
	log := rr.Logger
	if log == nil {
		log = slog.Default()
	}
	return p.Do(ctx, func(ctx context.Context, attempt int) (*Result, error) {
		if attempt > 1 {
			log.Info("retrying command", "attempt", attempt, "max", p.MaxAttempts, "cmd", strings.Join(args, " "))
		}
		return rr.Runner.Run(ctx, args, opts)
	})
}

// Do calls op until it succeeds, the attempts are exhausted or the abort
// predicate holds.
func (p RetryPolicy) Do(ctx context.Context, op func(ctx context.Context, attempt int) (*Result, error)) (*Result, error) {
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	var (
		lastRes *Result
		lastErr error
	)
	for attempt := 1; attempt <= attempts; attempt++ {
		if attempt > 1 {
			if p.Abort != nil && p.Abort() {
				if lastRes == nil {
					lastRes = &Result{}
				}
				lastRes.Aborted = true
				return lastRes, nil
			}
			if err := sleep(ctx, p.Delay); err != nil {
				return lastRes, fmt.Errorf("retry cancelled: %w", err)
			}
		}

		res, err := op(ctx, attempt)
		if err == nil {
			return res, nil
		}
		lastRes, lastErr = res, err

		if ctx.Err() != nil {
			return lastRes, fmt.Errorf("retry cancelled: %w", lastErr)
		}
	}
	return lastRes, fmt.Errorf("failed after %d attempts: %w", attempts, lastErr)
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
