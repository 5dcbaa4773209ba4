package retry

import (
	"context"
	"errors"
	"io"
	"math/rand"
	"net"
	"syscall"
	"time"

	"github.com/minio/minio-go/v7"
)

// Class partitions transfer failures into retryable and terminal ones.
type Class int

const (
	// Transient failures (network timeouts, throttling, 5xx backend
	// responses) are worth retrying.
	Transient Class = iota
	// Permanent failures (authentication, invalid input, quota) abort
	// the unit immediately.
	Permanent
)

// State is the lifecycle of a single transfer unit.
type State string

const (
	StatePending   State = "pending"
	StateInFlight  State = "in_flight"
	StateRetrying  State = "retrying"
	StateSucceeded State = "succeeded"
	StateFailed    State = "failed"
)

// Transition is reported to the observer on every state change.
type Transition struct {
	State   State
	Attempt int
	Err     error
}

// Policy controls retry counts and backoff timing.
type Policy struct {
	// MaxAttempts is the total number of attempts, first try included.
	MaxAttempts int
	// BaseBackoff is the delay before the second attempt; it doubles on
	// every further attempt.
	BaseBackoff time.Duration
	// Jitter is the relative randomization applied to each delay
	// (0.2 means ±20%).
	Jitter float64
}

// DefaultPolicy matches the documented engine defaults: three retries on
// top of the first attempt.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts: 4,
		BaseBackoff: 500 * time.Millisecond,
		Jitter:      0.2,
	}
}

// Backoff returns the randomized delay before the given retry attempt
// (attempt 1 is the first retry).
func (p Policy) Backoff(attempt int) time.Duration {
	delay := p.BaseBackoff << uint(attempt-1)
	if p.Jitter > 0 {
		spread := 1 - p.Jitter + 2*p.Jitter*rand.Float64()
		delay = time.Duration(float64(delay) * spread)
	}
	return delay
}

// Do runs op, retrying transient failures up to the policy limit.
// The observer, if non-nil, sees every state transition of the unit.
// Permanent failures and context cancellation stop the loop immediately;
// the last error is returned.
func (p Policy) Do(ctx context.Context, op func() error, observe func(Transition)) error {
	notify := func(t Transition) {
		if observe != nil {
			observe(t)
		}
	}

	notify(Transition{State: StatePending})

	var lastErr error
	for attempt := 1; attempt <= p.MaxAttempts; attempt++ {
		notify(Transition{State: StateInFlight, Attempt: attempt})

		err := op()
		if err == nil {
			notify(Transition{State: StateSucceeded, Attempt: attempt})
			return nil
		}
		lastErr = err

		if Classify(err) == Permanent || attempt == p.MaxAttempts {
			break
		}

		notify(Transition{State: StateRetrying, Attempt: attempt, Err: err})

		timer := time.NewTimer(p.Backoff(attempt))
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			notify(Transition{State: StateFailed, Attempt: attempt, Err: ctx.Err()})
			return ctx.Err()
		}
	}

	notify(Transition{State: StateFailed, Attempt: p.MaxAttempts, Err: lastErr})
	return lastErr
}

// Classify decides whether a failure is worth retrying. Unknown errors are
// treated as permanent so that broken input never loops.
func Classify(err error) Class {
	if err == nil {
		return Permanent
	}

	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return Permanent
	}

	var resp minio.ErrorResponse
	if errors.As(err, &resp) {
		return classifyResponse(resp)
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return Transient
	}
	if errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.EPIPE) ||
		errors.Is(err, io.ErrUnexpectedEOF) {
		return Transient
	}

	return Permanent
}

func classifyResponse(resp minio.ErrorResponse) Class {
	switch resp.Code {
	case "SlowDown", "RequestTimeout", "ThrottlingException",
		"InternalError", "ServiceUnavailable":
		return Transient
	case "AccessDenied", "InvalidAccessKeyId", "SignatureDoesNotMatch",
		"ExpiredToken", "QuotaExceeded", "NoSuchBucket", "InvalidArgument":
		return Permanent
	}

	if resp.StatusCode == 429 || resp.StatusCode >= 500 {
		return Transient
	}

	return Permanent
}

// Describe maps a terminal failure to the reason recorded on the job result.
func Describe(err error) string {
	if err == nil {
		return ""
	}

	var resp minio.ErrorResponse
	errors.As(err, &resp)
	switch resp.Code {
	case "AccessDenied", "InvalidAccessKeyId", "SignatureDoesNotMatch", "ExpiredToken":
		return "authentication failure"
	case "QuotaExceeded":
		return "quota exceeded"
	case "NoSuchBucket":
		return "bucket does not exist"
	}

	return err.Error()
}
