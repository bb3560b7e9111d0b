package flow

import (
	"context"
	"errors"
	"net"
	"strings"
	"time"
)

// Default backoff bounds, applied when neither the workflow settings
// nor the engine options specify them.
const (
	DefaultBaseDelay  = 500 * time.Millisecond
	DefaultMaxDelay   = 30 * time.Second
	DefaultMaxRetries = 3
)

// RetryPolicy bounds the exponential backoff between retry attempts.
//
// The delay before attempt n (zero-based retry count) is:
//
//	delay = min(BaseDelay * 2^n, MaxDelay)
//
// Delays are deterministic and non-decreasing; no jitter is applied so
// retry spacing is reproducible and strictly bounded.
type RetryPolicy struct {
	// BaseDelay is the delay before the first retry.
	BaseDelay time.Duration `json:"baseDelay,omitempty"`

	// MaxDelay caps the exponential growth.
	MaxDelay time.Duration `json:"maxDelay,omitempty"`
}

// withDefaults fills zero fields from the package defaults.
func (p RetryPolicy) withDefaults() RetryPolicy {
	if p.BaseDelay <= 0 {
		p.BaseDelay = DefaultBaseDelay
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = DefaultMaxDelay
	}
	if p.MaxDelay < p.BaseDelay {
		p.MaxDelay = p.BaseDelay
	}
	return p
}

// computeBackoff returns min(base * 2^retryCount, maxDelay).
func computeBackoff(retryCount int, base, maxDelay time.Duration) time.Duration {
	// Large shifts overflow time.Duration; anything past the cap is
	// the cap.
	if retryCount >= 32 {
		return maxDelay
	}
	delay := base << uint(retryCount)
	if delay <= 0 || delay > maxDelay {
		return maxDelay
	}
	return delay
}

// RetryState tracks retry bookkeeping for one execution. It is owned
// by the engine's reliability layer and discarded once the execution
// reaches a terminal state.
type RetryState struct {
	ExecutionID string
	RetryCount  int
	MaxRetries  int
	NextRetryAt time.Time
	Delay       time.Duration
}

// Exhausted reports whether no further retry is permitted.
func (rs *RetryState) Exhausted() bool {
	return rs.RetryCount >= rs.MaxRetries
}

// Next computes the backoff delay for the current retry count, then
// advances the count and schedule. Callers must check Exhausted first.
func (rs *RetryState) Next(policy RetryPolicy) time.Duration {
	policy = policy.withDefaults()
	rs.Delay = computeBackoff(rs.RetryCount, policy.BaseDelay, policy.MaxDelay)
	rs.RetryCount++
	rs.NextRetryAt = time.Now().Add(rs.Delay)
	return rs.Delay
}

// Classifier decides whether a failed operation is retryable (true) or
// fatal (false). The policy is pluggable per engine.
type Classifier func(err error) bool

// transientPatterns marks error text that indicates a transport or
// availability problem rather than a permanent fault.
var transientPatterns = []string{
	"timeout",
	"timed out",
	"connection",
	"network",
	"temporary",
	"unavailable",
	"reset by peer",
	"broken pipe",
	"rate limit",
	"too many requests",
	"429",
	"500",
	"502",
	"503",
	"504",
}

// DefaultClassifier treats transport/timeout-style failures as
// retryable and validation/type errors as fatal.
//
// Fatal: ValidationError, NoEntryPointError, NodeNotFoundError,
// workflow TimeoutError, context.Canceled.
//
// Retryable: net.Error timeouts, context.DeadlineExceeded (a single
// node exceeding its own budget), and NodeExecutionErrors whose cause
// or message matches a transient pattern.
func DefaultClassifier(err error) bool {
	if err == nil {
		return false
	}

	var (
		validationErr *ValidationError
		entryErr      *NoEntryPointError
		notFoundErr   *NodeNotFoundError
		timeoutErr    *TimeoutError
	)
	if errors.As(err, &validationErr) ||
		errors.As(err, &entryErr) ||
		errors.As(err, &notFoundErr) ||
		errors.As(err, &timeoutErr) {
		return false
	}

	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	msg := strings.ToLower(err.Error())
	for _, pattern := range transientPatterns {
		if strings.Contains(msg, pattern) {
			return true
		}
	}
	return false
}
