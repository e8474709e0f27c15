package services

import (
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// ReconnectPolicy counts consecutive failed connection attempts and yields
// the delay before the next one: min(base * 2^(n-1), ceiling).
type ReconnectPolicy struct {
	MaxAttempts int

	mu       sync.Mutex
	attempts int
	curve    *backoff.ExponentialBackOff
}

func NewReconnectPolicy(maxAttempts int, base, ceiling time.Duration) *ReconnectPolicy {
	if base <= 0 {
		base = time.Second
	}
	if ceiling < base {
		ceiling = base
	}
	curve := backoff.NewExponentialBackOff()
	curve.InitialInterval = base
	curve.Multiplier = 2
	curve.MaxInterval = ceiling
	curve.RandomizationFactor = 0
	curve.MaxElapsedTime = 0
	curve.Reset()
	return &ReconnectPolicy{MaxAttempts: maxAttempts, curve: curve}
}

// Next registers a failed attempt. It returns the delay before retrying, or
// ok=false once MaxAttempts consecutive attempts have been used.
func (p *ReconnectPolicy) Next() (delay time.Duration, attempt int, ok bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.attempts >= p.MaxAttempts {
		return 0, p.attempts, false
	}
	p.attempts++
	return p.curve.NextBackOff(), p.attempts, true
}

// Reset is called on a successful connection and on a manual connect.
func (p *ReconnectPolicy) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.attempts = 0
	p.curve.Reset()
}

func (p *ReconnectPolicy) Attempts() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.attempts
}
