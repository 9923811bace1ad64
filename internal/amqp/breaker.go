package amqp

import (
	"sync"
	"time"
)

type breakerState int

const (
	breakerClosed breakerState = iota
	breakerOpen
	breakerHalfOpen
)

func (s breakerState) String() string {
	switch s {
	case breakerOpen:
		return "open"
	case breakerHalfOpen:
		return "half-open"
	default:
		return "closed"
	}
}

// breaker stops publishing after maxFailures consecutive failures. Once
// cooldown has passed a single trial publish is let through; its outcome
// closes or reopens the circuit.
type breaker struct {
	mu          sync.Mutex
	maxFailures int
	cooldown    time.Duration
	now         func() time.Time

	state    breakerState
	failures int
	openedAt time.Time
}

func newBreaker(maxFailures int, cooldown time.Duration) *breaker {
	return &breaker{maxFailures: maxFailures, cooldown: cooldown, now: time.Now}
}

// allow reports whether a publish may be attempted.
func (b *breaker) allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state != breakerOpen {
		return true
	}
	if b.now().Sub(b.openedAt) < b.cooldown {
		return false
	}
	b.state = breakerHalfOpen
	return true
}

func (b *breaker) success() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = breakerClosed
	b.failures = 0
}

// failure records a failed attempt and reports whether it opened the circuit.
func (b *breaker) failure() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures++
	if b.state == breakerOpen {
		return false
	}
	if b.state == breakerHalfOpen || b.failures >= b.maxFailures {
		b.state = breakerOpen
		b.openedAt = b.now()
		return true
	}
	return false
}

func (b *breaker) current() (breakerState, int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state, b.failures
}
