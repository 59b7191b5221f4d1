package chain

import (
	"context"
	"fmt"
	"time"

	"github.com/atomicswap/resolver/pkg/swap"
)

// SubmitWithBackoff retries fn up to cfg.RetryAttempts times with delay
// cfg.RetryBaseDelay * 2^n between attempts (spec §4.1). It returns a
// SubmitExhausted-kind *swap.AdapterError once attempts are exhausted, or a
// Transient-kind error if ctx is canceled mid-retry.
func SubmitWithBackoff(ctx context.Context, cfg Config, op string, fn func(ctx context.Context) (string, error)) (string, error) {
	var lastErr error

	for attempt := 0; attempt < cfg.RetryAttempts; attempt++ {
		txID, err := fn(ctx)
		if err == nil {
			return txID, nil
		}
		lastErr = err

		if attempt == cfg.RetryAttempts-1 {
			break
		}

		delay := cfg.RetryBaseDelay * time.Duration(1<<uint(attempt))
		select {
		case <-ctx.Done():
			return "", swap.NewAdapterError(swap.KindTransient, op, ctx.Err())
		case <-time.After(delay):
		}
	}

	return "", swap.NewAdapterError(swap.KindSubmitExhausted, op,
		fmt.Errorf("exhausted %d attempts: %w", cfg.RetryAttempts, lastErr))
}
