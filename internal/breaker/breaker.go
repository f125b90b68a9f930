// Package breaker is a small consecutive-failure circuit breaker used by the
// outbound commerce and mail clients.
package breaker

import (
	"sync"
	"time"
)

type State int

const (
	Closed State = iota
	Open
	HalfOpen
)

func (s State) String() string {
	switch s {
	case Open:
		return "open"
	case HalfOpen:
		return "half_open"
	default:
		return "closed"
	}
}

// Breaker opens after failThreshold consecutive failures and lets a single
// probe through once openFor has elapsed.
type Breaker struct {
	mu               sync.Mutex
	st               State
	consecutiveFails int
	failThreshold    int
	openFor          time.Duration
	nextTryAt        time.Time
	probeInFlight    bool

	now func() time.Time
}

func New(threshold int, openFor time.Duration) *Breaker {
	if threshold <= 0 {
		threshold = 5
	}
	if openFor <= 0 {
		openFor = 15 * time.Second
	}
	return &Breaker{failThreshold: threshold, openFor: openFor, now: time.Now}
}

// WithClock replaces the time source; used by tests.
func (b *Breaker) WithClock(now func() time.Time) *Breaker {
	b.now = now
	return b
}

func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.st
}

// Ready reports whether a call would currently be admitted.
func (b *Breaker) Ready() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	switch b.st {
	case Open:
		return b.now().After(b.nextTryAt) && !b.probeInFlight
	case HalfOpen:
		return !b.probeInFlight
	default:
		return true
	}
}

// TryAcquire admits a call, moving an expired open breaker to half-open.
func (b *Breaker) TryAcquire() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.st {
	case Open:
		if b.now().After(b.nextTryAt) && !b.probeInFlight {
			b.st = HalfOpen
			b.probeInFlight = true
			return true
		}
		return false
	case HalfOpen:
		if !b.probeInFlight {
			b.probeInFlight = true
			return true
		}
		return false
	default:
		return true
	}
}

func (b *Breaker) OnSuccess() {
	b.mu.Lock()
	b.consecutiveFails = 0
	b.st = Closed
	b.probeInFlight = false
	b.mu.Unlock()
}

func (b *Breaker) OnFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.st == HalfOpen {
		b.trip()
		return
	}
	b.consecutiveFails++
	if b.consecutiveFails >= b.failThreshold {
		b.trip()
	}
}

func (b *Breaker) trip() {
	b.st = Open
	b.nextTryAt = b.now().Add(b.openFor)
	b.probeInFlight = false
}
