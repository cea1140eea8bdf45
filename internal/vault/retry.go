package vault

import (
	"context"
	"log/slog"
	"time"

	"github.com/alanyoungcy/vaultkeeper/internal/domain"
)

// execute runs fn up to RetryLimit+1 times with a constant RetryDelay pause
// between attempts. It stops early on a non-retryable error or when ctx is
// done, and returns the number of attempts made. Any terminal failure is
// reported as *domain.OperationFailedError.
func (e *Engine) execute(ctx context.Context, op string, fn func(ctx context.Context) error) (int, error) {
	maxAttempts := e.cfg.RetryLimit + 1
	attempts := 0
	var lastErr error

	for attempts < maxAttempts {
		if err := ctx.Err(); err != nil {
			lastErr = err
			break
		}

		attempts++
		err := e.attempt(ctx, fn)
		if err == nil {
			return attempts, nil
		}
		lastErr = err

		if !domain.IsRetryable(err) {
			e.logger.WarnContext(ctx, "ledger call rejected",
				slog.String("operation", op),
				slog.Int("attempt", attempts),
				slog.String("error", err.Error()),
			)
			break
		}
		if attempts == maxAttempts {
			break
		}

		e.logger.WarnContext(ctx, "ledger call failed, retrying",
			slog.String("operation", op),
			slog.Int("attempt", attempts),
			slog.Duration("delay", e.cfg.RetryDelay),
			slog.String("error", err.Error()),
		)
		if err := e.sleep(ctx, e.cfg.RetryDelay); err != nil {
			lastErr = err
			break
		}
	}

	e.logger.ErrorContext(ctx, "ledger call failed",
		slog.String("operation", op),
		slog.Int("attempts", attempts),
		slog.String("error", lastErr.Error()),
	)
	return attempts, &domain.OperationFailedError{
		Operation: op,
		Attempts:  attempts,
		Err:       lastErr,
	}
}

func (e *Engine) attempt(ctx context.Context, fn func(ctx context.Context) error) error {
	if e.cfg.AttemptTimeout <= 0 {
		return fn(ctx)
	}
	attemptCtx, cancel := context.WithTimeout(ctx, e.cfg.AttemptTimeout)
	defer cancel()
	return fn(attemptCtx)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
