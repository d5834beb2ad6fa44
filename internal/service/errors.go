package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

var (
	// ErrValidation marks a request the caller can fix.
	ErrValidation = errors.New("invalid request")

	// ErrNotFound marks a missing job, repository, or commit.
	ErrNotFound = errors.New("not found")
)

const (
	retryAttempts   = 3
	retryBaseDelay  = 1 * time.Second
	retryMaxDelay   = 30 * time.Second
	retryMultiplier = 2
)

// withRetry runs fn up to retryAttempts times with exponential backoff.
// Only the upload and index-sync stages use it; everything else fails fast.
func withRetry(ctx context.Context, log *slog.Logger, op string, fn func() error) error {
	delay := retryBaseDelay
	var lastErr error
	for attempt := 1; attempt <= retryAttempts; attempt++ {
		lastErr = fn()
		if lastErr == nil {
			return nil
		}
		if attempt == retryAttempts {
			break
		}
		log.Warn("operation failed, retrying",
			"op", op,
			"attempt", attempt,
			"delay", delay,
			"error", lastErr)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		delay *= retryMultiplier
		if delay > retryMaxDelay {
			delay = retryMaxDelay
		}
	}
	return fmt.Errorf("%s: %d attempts exhausted: %w", op, retryAttempts, lastErr)
}
