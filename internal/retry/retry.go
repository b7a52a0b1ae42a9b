package retry

import (
	"context"
	"errors"
	"math/rand"
	"net"
	"time"
)

// Policy controls exponential backoff for transient external failures.
type Policy struct {
	// MaxAttempts is the total number of tries, including the first.
	MaxAttempts int
	// BaseDelay is the backoff before the second attempt.
	BaseDelay time.Duration
	// MaxDelay caps the backoff growth.
	MaxDelay time.Duration
}

// DefaultPolicy matches the booking path defaults: 1s base, 10s cap, 3 retries.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts: 4,
		BaseDelay:   time.Second,
		MaxDelay:    10 * time.Second,
	}
}

func (p Policy) normalized() Policy {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = 1
	}
	if p.BaseDelay <= 0 {
		p.BaseDelay = time.Second
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = 10 * time.Second
	}
	return p
}

// StatusCoder is implemented by errors that carry an HTTP status code.
type StatusCoder interface {
	HTTPStatus() int
}

// Retryable reports whether an error is worth retrying: network-level
// failures, timeouts, and 5xx/429 responses. Other 4xx responses are
// permanent and must surface immediately.
func Retryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var sc StatusCoder
	if errors.As(err, &sc) {
		status := sc.HTTPStatus()
		return status >= 500 || status == 429
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}

	// Unclassified errors from the HTTP client (connection reset, DNS)
	// arrive as *url.Error wrapping a net error; errors.As above covers
	// those. Anything else is treated as permanent.
	return false
}

// Do runs fn with the policy's backoff schedule, stopping early on
// permanent errors or context cancellation. The returned error is the
// last attempt's error.
func Do(ctx context.Context, p Policy, fn func(ctx context.Context) error) error {
	p = p.normalized()

	var lastErr error
	for attempt := 1; attempt <= p.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		lastErr = fn(ctx)
		if lastErr == nil {
			return nil
		}
		if !Retryable(lastErr) {
			return lastErr
		}
		if attempt == p.MaxAttempts {
			break
		}

		delay := backoff(p, attempt)
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return lastErr
}

// backoff doubles the base delay per attempt and adds up to 25% jitter
// so simultaneous callers don't hammer the scheduler in lockstep.
func backoff(p Policy, attempt int) time.Duration {
	delay := p.BaseDelay
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= p.MaxDelay {
			delay = p.MaxDelay
			break
		}
	}
	jitter := time.Duration(rand.Int63n(int64(delay)/4 + 1))
	delay += jitter
	if delay > p.MaxDelay {
		delay = p.MaxDelay
	}
	return delay
}
