package flow

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrBreakerOpen is returned by Breaker.Do while the circuit is open
// and the cooldown has not yet elapsed.
var ErrBreakerOpen = errors.New("circuit breaker is open")

// BreakerState is the current circuit breaker state.
type BreakerState string

// Circuit breaker states.
const (
	BreakerClosed   BreakerState = "closed"
	BreakerOpen     BreakerState = "open"
	BreakerHalfOpen BreakerState = "half-open"
)

// Breaker is a circuit breaker usable around any flaky operation, such
// as an outbound call made inside a node executor. It is independent of
// the engine and safe for concurrent use.
//
// Behavior: after failureThreshold consecutive failures within the
// failure window the circuit opens and calls are rejected immediately.
// After the cooldown the circuit moves to half-open and admits a single
// trial call; success closes the circuit, failure reopens it.
type Breaker struct {
	mu sync.Mutex

	failureThreshold int
	window           time.Duration
	cooldown         time.Duration

	state       BreakerState
	failures    int
	lastFailure time.Time
	openedAt    time.Time
	trialActive bool

	// now is swapped out in tests.
	now func() time.Time
}

// NewBreaker creates a circuit breaker.
//
// failureThreshold is the number of consecutive failures within window
// that opens the circuit (default 5). window bounds how long a failure
// streak stays relevant (default 10s). cooldown is how long the
// circuit stays open before admitting a trial call (default 30s).
// Non-positive arguments use the defaults.
func NewBreaker(failureThreshold int, window, cooldown time.Duration) *Breaker {
	if failureThreshold <= 0 {
		failureThreshold = 5
	}
	if window <= 0 {
		window = 10 * time.Second
	}
	if cooldown <= 0 {
		cooldown = 30 * time.Second
	}
	return &Breaker{
		failureThreshold: failureThreshold,
		window:           window,
		cooldown:         cooldown,
		state:            BreakerClosed,
		now:              time.Now,
	}
}

// State returns the current breaker state, accounting for an elapsed
// cooldown.
func (b *Breaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == BreakerOpen && b.now().Sub(b.openedAt) >= b.cooldown {
		return BreakerHalfOpen
	}
	return b.state
}

// Do runs fn through the breaker. While open it returns ErrBreakerOpen
// without invoking fn. In half-open state only one trial call is
// admitted at a time; concurrent callers are rejected until the trial
// resolves.
func (b *Breaker) Do(ctx context.Context, fn func(context.Context) error) error {
	if err := b.allow(); err != nil {
		return err
	}

	err := fn(ctx)
	if err != nil {
		b.onFailure()
		return err
	}
	b.onSuccess()
	return nil
}

func (b *Breaker) allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case BreakerClosed:
		return nil
	case BreakerOpen:
		if b.now().Sub(b.openedAt) < b.cooldown {
			return ErrBreakerOpen
		}
		b.state = BreakerHalfOpen
		b.trialActive = true
		return nil
	case BreakerHalfOpen:
		if b.trialActive {
			return ErrBreakerOpen
		}
		b.trialActive = true
		return nil
	}
	return nil
}

func (b *Breaker) onSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failures = 0
	b.trialActive = false
	b.state = BreakerClosed
}

func (b *Breaker) onFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.now()

	if b.state == BreakerHalfOpen {
		// Failed trial reopens the circuit for another cooldown.
		b.state = BreakerOpen
		b.openedAt = now
		b.trialActive = false
		b.failures = 0
		return
	}

	// Failures outside the window restart the streak.
	if !b.lastFailure.IsZero() && now.Sub(b.lastFailure) > b.window {
		b.failures = 0
	}
	b.lastFailure = now
	b.failures++

	if b.failures >= b.failureThreshold {
		b.state = BreakerOpen
		b.openedAt = now
		b.failures = 0
	}
}
