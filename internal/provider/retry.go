package provider

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"net/http"
	"net/url"
	"time"

	"github.com/ollama/ollama/api"
)

const maxRetries = 3

// Backoff unit. Tests shrink this to keep retry paths fast.
var retryBaseDelay = time.Second

// retryable reports whether err is worth another attempt: transport-level
// failures, 5xx responses and rate limiting. Context ends, 4xx responses
// and errors the model server states in-band are final.
func retryable(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var se api.StatusError
	if errors.As(err, &se) {
		return se.StatusCode >= 500 || se.StatusCode == http.StatusTooManyRequests
	}
	var ue *url.Error
	return errors.As(err, &ue)
}

// withRetries runs call with quadratic backoff and jitter until it succeeds,
// returns a non-retryable error, exhausts the attempt budget, or ctx ends.
func withRetries(ctx context.Context, op string, call func() error) error {
	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			base := time.Duration(attempt*attempt) * retryBaseDelay
			jitter := time.Duration(rand.Int64N(int64(base/2 + 1)))
			backoff := base + jitter
			slog.Warn("retrying ollama call", "op", op, "attempt", attempt+1, "backoff", backoff)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
		}

		lastErr = call()
		if lastErr == nil {
			return nil
		}
		if !retryable(lastErr) {
			return lastErr
		}
		slog.Warn("ollama call failed", "op", op, "error", lastErr)
	}
	return fmt.Errorf("%s failed after %d retries: %w", op, maxRetries, lastErr)
}
