package outbox

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/mehmetymw/recordsync/internal/types"
)

// retry runs fn until it succeeds, fails with a non-transient error, or has
// been attempted maxAttempts times. The wait before attempt n+1 is n*delay.
func retry(ctx context.Context, maxAttempts int, delay time.Duration, logger *zap.Logger, fn func(ctx context.Context) error) error {
	var err error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err = fn(ctx); err == nil {
			return nil
		}
		if !types.IsTransient(err) {
			return err
		}
		if attempt == maxAttempts {
			break
		}
		wait := delay * time.Duration(attempt)
		logger.Warn("Transient failure, retrying",
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", maxAttempts),
			zap.Duration("wait", wait),
			zap.Error(err))
		select {
		case <-time.After(wait):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return fmt.Errorf("giving up after %d attempts: %w", maxAttempts, err)
}
