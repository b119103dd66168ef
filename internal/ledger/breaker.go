package ledger

import (
	"sync"
	"time"
)

// breaker trips after a run of consecutive call failures and rejects
// further calls until the cool-down elapses. The first call after the
// cool-down is the half-open probe: its outcome closes or re-opens the
// breaker.
type breaker struct {
	mu        sync.Mutex
	threshold int
	cooldown  time.Duration
	now       func() time.Time

	failures int
	openedAt time.Time
	open     bool
	probing  bool
}

func newBreaker(threshold int, cooldown time.Duration, now func() time.Time) *breaker {
	return &breaker{threshold: threshold, cooldown: cooldown, now: now}
}

// allow reports whether a call may proceed.
func (b *breaker) allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.open {
		return true
	}
	if b.now().Sub(b.openedAt) < b.cooldown {
		return false
	}
	if b.probing {
		return false
	}
	b.probing = true
	return true
}

// success closes the breaker and clears the failure run.
func (b *breaker) success() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures = 0
	b.open = false
	b.probing = false
}

// failure records a failed call, tripping or re-opening the breaker.
func (b *breaker) failure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.open {
		// Failed half-open probe: restart the cool-down.
		b.openedAt = b.now()
		b.probing = false
		return
	}
	b.failures++
	if b.failures >= b.threshold {
		b.open = true
		b.probing = false
		b.openedAt = b.now()
	}
}

func (b *breaker) isOpen() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.open
}
