package tools

import (
	"sync"
	"time"
)

const (
	breakerThreshold  = 3
	breakerUnitWindow = 30 * time.Second
	breakerMaxWindow  = 300 * time.Second
)

// breaker fails a tool fast after repeated consecutive failures. The
// open window grows with the failure count: min(30s * failures, 300s).
type breaker struct {
	mu        sync.Mutex
	failures  int
	openUntil time.Time
}

func newBreaker() *breaker { return &breaker{} }

// Allow reports whether a call may proceed.
func (b *breaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.failures < breakerThreshold {
		return true
	}
	return time.Now().After(b.openUntil)
}

// Failure records a failed call and extends the open window when the
// threshold is crossed.
func (b *breaker) Failure() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures++
	if b.failures >= breakerThreshold {
		window := time.Duration(b.failures) * breakerUnitWindow
		if window > breakerMaxWindow {
			window = breakerMaxWindow
		}
		b.openUntil = time.Now().Add(window)
	}
}

// Success resets the breaker.
func (b *breaker) Success() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures = 0
	b.openUntil = time.Time{}
}
