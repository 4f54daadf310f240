package harness

import (
	"context"
	"errors"
	"syscall"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/bc-dunia/stressforge/internal/events"
)

// ErrResourceExhausted marks a spawn failure as transient resource
// exhaustion, eligible for retry.
var ErrResourceExhausted = errors.New("harness: resource temporarily exhausted")

// SpawnPolicy shapes the capped exponential retry schedule for worker
// spawn failures.
type SpawnPolicy struct {
	MaxAttempts     int
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

// isTransientSpawnError reports whether a spawn failure is worth
// retrying.
func isTransientSpawnError(err error) bool {
	return errors.Is(err, ErrResourceExhausted) ||
		errors.Is(err, syscall.EAGAIN) ||
		errors.Is(err, syscall.ENOMEM)
}

// retrySpawn invokes fn with the policy's backoff schedule, retrying
// only transient resource errors. The context bounds the whole
// schedule.
func retrySpawn(ctx context.Context, policy SpawnPolicy, log *events.EventLogger, worker string, fn func() error) error {
	if log == nil {
		log = events.GetGlobalEventLogger()
	}
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = policy.InitialInterval
	bo.MaxInterval = policy.MaxInterval
	bo.MaxElapsedTime = 0

	attempts := uint64(1)
	if policy.MaxAttempts > 1 {
		attempts = uint64(policy.MaxAttempts)
	}

	var schedule backoff.BackOff = backoff.WithMaxRetries(bo, attempts-1)
	schedule = backoff.WithContext(schedule, ctx)

	attempt := 0
	operation := func() error {
		attempt++
		err := fn()
		if err == nil {
			return nil
		}
		if !isTransientSpawnError(err) {
			return backoff.Permanent(err)
		}
		return err
	}

	notify := func(err error, next time.Duration) {
		log.LogSpawnRetry(worker, attempt, next.Milliseconds(), err)
	}

	return backoff.RetryNotify(operation, schedule, notify)
}
