package harness

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/cenkalti/backoff/v4"

	"github.com/roach88/isoharness/internal/store"
)

// attemptStats counts what one retry loop did.
type attemptStats struct {
	attempts  int64
	conflicts int64
	errors    int64
}

// retrier runs an operation until it succeeds, classifying each failure
// by the configured policy.
type retrier struct {
	policy Policy
	cfg    RetryConfig
	logger *slog.Logger
}

// newBackoff returns a fresh schedule. BackOff values are stateful, so
// every increment gets its own.
func (r *retrier) newBackoff(ctx context.Context) backoff.BackOff {
	var b backoff.BackOff = &backoff.ZeroBackOff{}
	if r.cfg.Backoff {
		eb := backoff.NewExponentialBackOff()
		eb.InitialInterval = r.cfg.InitialInterval
		eb.MaxInterval = r.cfg.MaxInterval
		eb.MaxElapsedTime = 0
		b = eb
	}
	if r.cfg.Bounded() {
		b = backoff.WithMaxRetries(b, uint64(r.cfg.MaxAttempts-1))
	}
	return backoff.WithContext(b, ctx)
}

// do runs op until it returns nil.
//
// Cancellation of ctx is honored only between attempts: op always receives
// a context that is never cancelled, so an attempt that has started runs to
// commit or rollback.
func (r *retrier) do(ctx context.Context, op func(ctx context.Context) error) (attemptStats, error) {
	var stats attemptStats
	opCtx := context.WithoutCancel(ctx)

	err := backoff.Retry(func() error {
		if err := ctx.Err(); err != nil {
			return backoff.Permanent(err)
		}
		stats.attempts++
		err := op(opCtx)
		switch {
		case err == nil:
			return nil
		case store.IsConflict(err):
			stats.conflicts++
			r.logger.Debug("conflict, retrying", "attempt", stats.attempts, "error", err)
			return err
		case r.policy == PolicyLenient:
			stats.errors++
			r.logger.Warn("transaction failed, retrying", "attempt", stats.attempts, "error", err)
			return err
		default:
			return backoff.Permanent(err)
		}
	}, r.newBackoff(ctx))

	if err == nil {
		return stats, nil
	}
	if cerr := ctx.Err(); cerr != nil && err == cerr {
		return stats, err
	}
	if r.cfg.Bounded() && stats.attempts >= int64(r.cfg.MaxAttempts) && retryable(r.policy, err) {
		return stats, fmt.Errorf("%w after %d attempts: %w", ErrRetriesExhausted, stats.attempts, err)
	}
	return stats, err
}

// retryable reports whether the policy would retry err.
func retryable(policy Policy, err error) bool {
	return policy == PolicyLenient || store.IsConflict(err)
}
