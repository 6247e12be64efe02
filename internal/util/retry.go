package util

import (
	"context"
	"fmt"
	"time"
)

// maxBackoff caps the exponential delay so a long reconnect budget does not
// escalate into multi-minute gaps between attempts.
const maxBackoff = 30 * time.Second

// Retry calls fn up to maxAttempts times with exponential backoff starting
// at baseDelay. It returns nil on the first success. If every attempt fails
// the last error is returned wrapped with the attempt count; if the context
// is cancelled between attempts, the context error is returned instead.
func Retry(ctx context.Context, maxAttempts int, baseDelay time.Duration, fn func() error) error {
	delay := baseDelay

	var err error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err = fn(); err == nil {
			return nil
		}
		if attempt == maxAttempts {
			break
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
		if delay > maxBackoff {
			delay = maxBackoff
		}
	}

	return fmt.Errorf("after %d attempts: %w", maxAttempts, err)
}
