package webclient

import (
	"context"
	"net/http"
	"time"

	"go.uber.org/zap"
)

const maxDelay = 30 * time.Second

type AttemptFunc func() (status int, body []byte, err error)

// Retryable reports whether a response is worth another attempt.
func Retryable(status int, err error) bool {
	return err != nil || status == http.StatusTooManyRequests || status >= 500
}

// DoWithRetry retries fn on transport errors, 429 and 5xx, doubling the delay
// each time up to maxDelay.
func DoWithRetry(ctx context.Context, attempts int, initialDelay time.Duration, fn AttemptFunc) (int, []byte, error) {
	if attempts <= 0 {
		attempts = 1
	}
	if initialDelay <= 0 {
		initialDelay = 2 * time.Second
	}
	delay := initialDelay
	for i := 0; ; i++ {
		status, body, err := fn()
		if !Retryable(status, err) || i == attempts-1 {
			return status, body, err
		}
		zap.L().Named("webclient").Debug("retrying",
			zap.Int("attempt", i+1), zap.Int("status", status), zap.Duration("delay", delay), zap.Error(err))

		t := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			t.Stop()
			return status, body, ctx.Err()
		case <-t.C:
		}
		if delay *= 2; delay > maxDelay {
			delay = maxDelay
		}
	}
}
