package provider

import (
	"context"
	"errors"
	"net"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Retry policy for remote generation calls.
const (
	maxAttempts     = 3
	initialInterval = 1 * time.Second
	maxInterval     = 60 * time.Second
)

// generateWithRetry runs call with exponential backoff. Errors the retryable
// predicate rejects are surfaced immediately; context cancellation always
// stops the attempts.
func generateWithRetry(ctx context.Context, call func() (string, error), retryable func(error) bool) (string, error) {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = initialInterval
	policy.MaxInterval = maxInterval
	policy.MaxElapsedTime = 0

	var result string
	op := func() error {
		out, err := call()
		if err != nil {
			if ctx.Err() != nil {
				return backoff.Permanent(ctx.Err())
			}
			if !retryable(err) {
				return backoff.Permanent(err)
			}
			return err
		}
		result = out
		return nil
	}

	err := backoff.Retry(op, backoff.WithMaxRetries(backoff.WithContext(policy, ctx), maxAttempts-1))
	if err != nil {
		return "", err
	}
	return result, nil
}

// timeoutError reports whether err is a network timeout.
func timeoutError(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
