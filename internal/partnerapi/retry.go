package partnerapi

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/dealhound/catalog-crawler/internal/metrics"
)

// Delay bounds accepted by SetBaseDelay.
const (
	maxBaseDelay = 10 * time.Second

	defaultMaxAttempts = 3
	defaultBaseDelay   = 500 * time.Millisecond
)

// ErrAttemptsExhausted is returned when every bounded attempt failed with a
// retryable error.
var ErrAttemptsExhausted = errors.New("retry attempts exhausted")

// failureKind classifies one failed attempt. Rate-limit signals escalate the
// delay faster than generic transient errors because 429 is an explicit
// instruction to slow down.
type failureKind int

const (
	failureRateLimited failureKind = iota
	failureTimeout
	failureTransport
	failureUnexpected
)

func (k failureKind) String() string {
	switch k {
	case failureRateLimited:
		return "rate_limited"
	case failureTimeout:
		return "timeout"
	case failureTransport:
		return "transport"
	default:
		return "unexpected"
	}
}

// statusError marks a non-2xx response from the partner API.
type statusError struct {
	code int
}

func (e *statusError) Error() string {
	return fmt.Sprintf("unexpected status %d", e.code)
}

// decodeError marks a response body that could not be decoded. Never retried.
type decodeError struct {
	err error
}

func (e *decodeError) Error() string {
	return "decode response: " + e.err.Error()
}

func (e *decodeError) Unwrap() error {
	return e.err
}

// RetryPolicy executes a single-call operation with bounded retries and
// rate-limit-aware delay escalation. Every attempt, including the first,
// sleeps the current delay before calling; this is deliberate self-throttling
// between any two partner API calls, not purely a retry backoff.
type RetryPolicy struct {
	maxAttempts int
	baseDelay   atomic.Int64
	sleep       func(ctx context.Context, d time.Duration) error
	logger      *zap.Logger
}

// NewRetryPolicy builds a policy. Zero values fall back to three attempts
// and a 0.5s base delay.
func NewRetryPolicy(maxAttempts int, baseDelay time.Duration, logger *zap.Logger) *RetryPolicy {
	if maxAttempts <= 0 {
		maxAttempts = defaultMaxAttempts
	}
	if baseDelay <= 0 {
		baseDelay = defaultBaseDelay
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	p := &RetryPolicy{
		maxAttempts: maxAttempts,
		logger:      logger,
	}
	p.baseDelay.Store(int64(baseDelay))
	p.sleep = p.pause
	return p
}

// BaseDelay returns the currently configured base delay.
func (p *RetryPolicy) BaseDelay() time.Duration {
	return time.Duration(p.baseDelay.Load())
}

// SetBaseDelay updates the base delay for subsequent calls. Negative values
// and values above 10s are rejected. The update is visible to an in-flight
// run on its next call.
func (p *RetryPolicy) SetBaseDelay(d time.Duration) error {
	if d < 0 {
		return fmt.Errorf("delay must not be negative, got %s", d)
	}
	if d > maxBaseDelay {
		return fmt.Errorf("delay must not exceed %s, got %s", maxBaseDelay, d)
	}
	p.baseDelay.Store(int64(d))
	return nil
}

// Do runs attempt at most maxAttempts times. Classification per attempt:
// 429 doubles the delay and sleeps it once more before retrying, timeouts
// and other transport failures multiply the delay by 1.5, and anything
// unexpected (malformed JSON included) aborts immediately. Exhaustion
// returns ErrAttemptsExhausted wrapping the last failure.
func (p *RetryPolicy) Do(ctx context.Context, operation string, attempt func(context.Context) error) error {
	delay := p.BaseDelay()
	var lastErr error

	for i := 0; i < p.maxAttempts; i++ {
		if err := p.sleep(ctx, delay); err != nil {
			return err
		}

		err := attempt(ctx)
		if err == nil {
			metrics.ObserveAPIRequest(operation, "success")
			return nil
		}
		lastErr = err

		kind := classify(err)
		metrics.ObserveAPIRequest(operation, kind.String())

		switch kind {
		case failureRateLimited:
			delay *= 2
			p.logger.Warn("rate limited, backing off",
				zap.String("operation", operation),
				zap.Duration("delay", delay),
				zap.Int("attempt", i+1),
				zap.Int("max_attempts", p.maxAttempts),
			)
			metrics.ObserveRetry(kind.String())
			if err := p.sleep(ctx, delay); err != nil {
				return err
			}
		case failureTimeout, failureTransport:
			delay = delay * 3 / 2
			p.logger.Warn("transient failure, will retry",
				zap.String("operation", operation),
				zap.String("kind", kind.String()),
				zap.Duration("delay", delay),
				zap.Int("attempt", i+1),
				zap.Error(err),
			)
			metrics.ObserveRetry(kind.String())
		default:
			p.logger.Error("unexpected failure, aborting retries",
				zap.String("operation", operation),
				zap.Error(err),
			)
			return fmt.Errorf("%s: %w", operation, err)
		}
	}

	return fmt.Errorf("%s: %w: %w", operation, ErrAttemptsExhausted, lastErr)
}

func (p *RetryPolicy) pause(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	metrics.ObserveBackoff(d)
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func classify(err error) failureKind {
	var de *decodeError
	if errors.As(err, &de) {
		return failureUnexpected
	}
	var se *statusError
	if errors.As(err, &se) {
		if se.code == 429 {
			return failureRateLimited
		}
		return failureTransport
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		// The net.Error check runs before the context check: the HTTP
		// client's own timeout error also matches DeadlineExceeded.
		if netErr.Timeout() {
			return failureTimeout
		}
		if errors.Is(err, context.Canceled) {
			return failureUnexpected
		}
		return failureTransport
	}
	return failureUnexpected
}
