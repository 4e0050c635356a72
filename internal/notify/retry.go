package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/codeGROOVE-dev/retry"
)

// Retrying retries transient send failures with full-jitter backoff.
// ErrRejected and cancellation of the caller's context end the loop
// immediately. A per-attempt timeout inside the wrapped sender is retried.
type Retrying struct {
	next     Sender
	attempts uint
	maxDelay time.Duration
	logger   *slog.Logger
}

func NewRetrying(next Sender, attempts int, logger *slog.Logger) *Retrying {
	if attempts < 1 {
		attempts = 1
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Retrying{
		next:     next,
		attempts: uint(attempts),
		maxDelay: 2 * time.Second,
		logger:   logger,
	}
}

func (r *Retrying) Send(ctx context.Context, group, text string) error {
	var (
		lastErr error
		tries   uint
	)

	err := retry.Do(
		func() error {
			tries++
			lastErr = r.next.Send(ctx, group, text)
			return lastErr
		},
		retry.Context(ctx),
		retry.Attempts(r.attempts),
		retry.DelayType(retry.FullJitterBackoffDelay),
		retry.MaxDelay(r.maxDelay),
		retry.RetryIf(func(err error) bool {
			return !errors.Is(err, ErrRejected) && ctx.Err() == nil
		}),
		retry.OnRetry(func(n uint, err error) {
			r.logger.Warn("send failed, retrying", "group", group, "attempt", n+1, "error", err)
		}),
	)
	if err == nil {
		return nil
	}

	if lastErr == nil {
		// cancelled before the first attempt finished
		lastErr = err
	}
	if ctxErr := ctx.Err(); ctxErr != nil && !errors.Is(lastErr, ctxErr) {
		return fmt.Errorf("send aborted after %d attempt(s): %w (last error: %v)", tries, ctxErr, lastErr)
	}
	return fmt.Errorf("send failed after %d attempt(s): %w", tries, lastErr)
}
