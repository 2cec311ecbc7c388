package routing

import (
	"context"
	"errors"
	"sync"
	"time"

	"travel-router/internal/cache"
)

const (
	serverErrorCooldown = 60 * time.Second
	networkCooldown     = 30 * time.Second
)

// Breaker is a cooldown timer: it is open while now < openUntil.
// There is no half-open state; dispatch resumes once the cooldown elapses.
type Breaker struct {
	mu        sync.Mutex
	openUntil time.Time
	now       cache.Clock
}

// NewBreaker creates a closed breaker. A nil clock means time.Now.
func NewBreaker(now cache.Clock) *Breaker {
	if now == nil {
		now = time.Now
	}
	return &Breaker{now: now}
}

// IsOpen reports whether calls should be rejected
func (b *Breaker) IsOpen() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.now().Before(b.openUntil)
}

// OpenUntil returns the end of the current cooldown, or the zero time if never tripped
func (b *Breaker) OpenUntil() time.Time {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.openUntil
}

// Trip opens the breaker for d from now
func (b *Breaker) Trip(d time.Duration) {
	b.mu.Lock()
	b.openUntil = b.now().Add(d)
	b.mu.Unlock()
}

// cooldownFor returns how long a failure should open the breaker, or 0 if it should not
func cooldownFor(err error) time.Duration {
	if pe, ok := asProviderError(err); ok {
		switch {
		case pe.ServerError():
			return serverErrorCooldown
		case pe.Timeout, pe.Network:
			return networkCooldown
		default:
			return 0
		}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return networkCooldown
	}
	return 0
}
