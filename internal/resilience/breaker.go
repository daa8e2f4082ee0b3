// Package resilience guards calls to the completion provider.
package resilience

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrCircuitOpen is returned without calling the guarded function while the
// breaker is open, or while a half-open probe is already in flight.
var ErrCircuitOpen = errors.New("circuit breaker is open")

type state int

const (
	stateClosed state = iota
	stateOpen
	stateHalfOpen
)

func (s state) String() string {
	switch s {
	case stateOpen:
		return "open"
	case stateHalfOpen:
		return "half_open"
	default:
		return "closed"
	}
}

// Breaker opens after maxFailures consecutive failures and rejects calls for
// timeout. Then exactly one probe call is let through: success closes the
// breaker, failure reopens it.
type Breaker struct {
	mu          sync.Mutex
	state       state
	failures    int
	rejected    int64
	probing     bool
	maxFailures int
	timeout     time.Duration
	openedAt    time.Time
	neutral     func(error) bool
	now         func() time.Time
}

// NewBreaker returns a closed breaker. maxFailures below 1 is treated as 1.
func NewBreaker(maxFailures int, timeout time.Duration) *Breaker {
	if maxFailures < 1 {
		maxFailures = 1
	}
	return &Breaker{maxFailures: maxFailures, timeout: timeout, now: time.Now}
}

// SetNeutral registers a classifier for errors that say nothing about the
// provider's health, such as a rejected request. Neutral errors and
// context.Canceled neither count as failures nor reset the count.
func (b *Breaker) SetNeutral(fn func(error) bool) {
	b.mu.Lock()
	b.neutral = fn
	b.mu.Unlock()
}

// Do runs fn unless the breaker rejects the call or ctx is already done.
func (b *Breaker) Do(ctx context.Context, fn func(context.Context) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	probe, ok := b.admit()
	if !ok {
		return ErrCircuitOpen
	}
	err := fn(ctx)
	b.settle(probe, err)
	return err
}

// Stats is a point-in-time view for health reporting.
type Stats struct {
	State    string `json:"state"`
	Failures int    `json:"consecutive_failures"`
	Rejected int64  `json:"rejected"`
}

// Stats reports the state, the current failure streak and how many calls
// were rejected since start.
func (b *Breaker) Stats() Stats {
	b.mu.Lock()
	defer b.mu.Unlock()
	return Stats{State: b.currentState().String(), Failures: b.failures, Rejected: b.rejected}
}

// State reports "closed", "open" or "half_open".
func (b *Breaker) State() string {
	return b.Stats().State
}

// currentState must be called with b.mu held. An open breaker whose timeout
// elapsed reads as half-open before the probe is admitted.
func (b *Breaker) currentState() state {
	if b.state == stateOpen && b.now().Sub(b.openedAt) >= b.timeout {
		return stateHalfOpen
	}
	return b.state
}

func (b *Breaker) admit() (probe, ok bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	switch b.currentState() {
	case stateClosed:
		return false, true
	case stateHalfOpen:
		if b.probing {
			b.rejected++
			return false, false
		}
		b.state = stateHalfOpen
		b.probing = true
		return true, true
	default:
		b.rejected++
		return false, false
	}
}

func (b *Breaker) settle(probe bool, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if probe {
		b.probing = false
	}
	switch {
	case err == nil:
		b.failures = 0
		b.state = stateClosed
	case errors.Is(err, context.Canceled) || (b.neutral != nil && b.neutral(err)):
		if probe {
			// Inconclusive probe: stay open for another timeout.
			b.state = stateOpen
			b.openedAt = b.now()
		}
	default:
		b.failures++
		if probe || b.failures >= b.maxFailures {
			b.state = stateOpen
			b.openedAt = b.now()
		}
	}
}
