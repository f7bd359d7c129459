// Package retrier retries store calls with exponential backoff.
package retrier

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
)

var (
	// ErrInvalidMaxAttempts is returned when the max attempts parameter is invalid.
	ErrInvalidMaxAttempts = errors.New("max attempts must be at least 1")
	// ErrInvalidBaseDelay is returned when the base delay parameter is invalid.
	ErrInvalidBaseDelay = errors.New("base delay must be at least 1ms")
	// ErrInvalidFactor is returned when the factor parameter is invalid.
	ErrInvalidFactor = errors.New("factor must be at least 1.0")
	// ErrInvalidJitter is returned when the jitter parameter is invalid.
	ErrInvalidJitter = errors.New("jitter must be between 0 and 1")
)

// Retrier runs a function until it succeeds, returns a non-retryable error,
// or runs out of attempts.
type Retrier struct {
	maxAttempts int
	baseDelay   time.Duration
	maxDelay    time.Duration
	factor      float64
	jitter      float64

	// Retryable decides whether an error is worth another attempt. When nil,
	// IsTemporary is used.
	Retryable func(error) bool
}

// NewRetrier creates a Retrier.
//   - maxAttempts: total calls including the first one.
//   - baseDelay / maxDelay: first and largest wait between attempts.
//   - factor: multiplier applied to the wait after each attempt.
//   - jitter: randomization factor in [0, 1].
func NewRetrier(maxAttempts int, baseDelay, maxDelay time.Duration, factor, jitter float64, retryable func(error) bool) (*Retrier, error) {
	if maxAttempts < 1 {
		return nil, ErrInvalidMaxAttempts
	}
	if baseDelay < time.Millisecond {
		return nil, ErrInvalidBaseDelay
	}
	if factor < 1.0 {
		return nil, ErrInvalidFactor
	}
	if jitter < 0 || jitter > 1 {
		return nil, ErrInvalidJitter
	}

	return &Retrier{
		maxAttempts: maxAttempts,
		baseDelay:   baseDelay,
		maxDelay:    max(maxDelay, baseDelay),
		factor:      factor,
		jitter:      jitter,
		Retryable:   retryable,
	}, nil
}

// Run calls fn until it succeeds. Non-retryable errors are returned as-is;
// exhausting the attempts wraps the last error.
func (r *Retrier) Run(ctx context.Context, fn func() error) error {
	attempts := 0
	op := func() error {
		attempts++
		err := fn()
		if err == nil {
			return nil
		}
		if !r.retryable(err) {
			return backoff.Permanent(err)
		}
		return err
	}

	err := backoff.Retry(op, backoff.WithContext(backoff.WithMaxRetries(r.newBackOff(), uint64(r.maxAttempts-1)), ctx))
	if err == nil {
		return nil
	}

	var perm *backoff.PermanentError
	if errors.As(err, &perm) {
		return perm.Err
	}
	if ctxErr := ctx.Err(); ctxErr != nil && attempts < r.maxAttempts {
		return ctxErr
	}
	if attempts <= 1 {
		return err
	}
	return fmt.Errorf("max retry attempts reached: %w", err)
}

func (r *Retrier) newBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = r.baseDelay
	b.MaxInterval = r.maxDelay
	b.Multiplier = r.factor
	b.RandomizationFactor = r.jitter
	b.MaxElapsedTime = 0
	b.Reset()
	return b
}

func (r *Retrier) retryable(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if r.Retryable != nil {
		return r.Retryable(err)
	}
	return IsTemporary(err)
}
