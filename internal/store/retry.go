package store

import (
	"context"
	"errors"
	"time"

	"github.com/sethvargo/go-retry"
	"github.com/sirupsen/logrus"
	"go.mongodb.org/mongo-driver/mongo"

	"premium_gate_bot/internal/logging"
)

const minRetryBackoff = time.Millisecond

// RetryPolicy retries operations that fail with transient Mongo connectivity
// errors using a bounded number of attempts and a constant backoff. Any other
// error is returned immediately.
type RetryPolicy struct {
	Attempts int
	Backoff  time.Duration
	logger   *logrus.Entry
}

// NewRetryPolicy constructs a RetryPolicy. Attempts below one are treated as one.
func NewRetryPolicy(attempts int, backoff time.Duration, logger *logrus.Entry) RetryPolicy {
	if logger == nil {
		logger = logging.Logger()
	}
	if attempts < 1 {
		attempts = 1
	}
	if backoff < minRetryBackoff {
		backoff = minRetryBackoff
	}

	return RetryPolicy{
		Attempts: attempts,
		Backoff:  backoff,
		logger:   logger,
	}
}

// Do runs fn until it succeeds, fails with a non-transient error, the attempts
// are exhausted, or ctx is done.
func (p RetryPolicy) Do(ctx context.Context, fn func(context.Context) error) error {
	if ctx == nil {
		return errors.New("context is required")
	}

	attempts := p.Attempts
	if attempts < 1 {
		attempts = 1
	}
	backoffDelay := p.Backoff
	if backoffDelay < minRetryBackoff {
		backoffDelay = minRetryBackoff
	}
	logger := p.logger
	if logger == nil {
		logger = logging.Logger()
	}

	backoff := retry.WithMaxRetries(uint64(attempts-1), retry.NewConstant(backoffDelay))

	attempt := 0
	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempt++
		err := fn(ctx)
		if err == nil {
			return nil
		}
		if !IsTransient(err) {
			return err
		}

		logger.WithFields(logging.Fields{
			"event":   "store_retry",
			"attempt": attempt,
			"max":     attempts,
		}).WithError(err).Warn("transient store error")

		return retry.RetryableError(err)
	})
}

// IsTransient reports whether err is a network or timeout failure worth retrying.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	return mongo.IsNetworkError(err) || mongo.IsTimeout(err)
}
