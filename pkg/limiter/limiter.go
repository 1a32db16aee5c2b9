// Package limiter enforces per-minute token and concurrency limits on LLM
// backend calls with a token bucket.
package limiter

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

var (
	// ErrRateLimit is returned when the token bucket cannot cover a call.
	ErrRateLimit = errors.New("rate limit exceeded")
	// ErrConcurrencyLimit is returned when every call slot is taken.
	ErrConcurrencyLimit = errors.New("concurrency limit exceeded")
)

// Limits configures one Limiter. A zero field disables that limit.
type Limits struct {
	TokensPerMinute int
	MaxConcurrent   int
}

// Enabled reports whether any limit is set.
func (l Limits) Enabled() bool { return l.TokensPerMinute > 0 || l.MaxConcurrent > 0 }

// Limiter guards one backend.
type Limiter struct {
	name   string
	limits Limits
	now    func() time.Time

	mu         sync.Mutex
	tokens     int
	lastRefill time.Time
	active     int
}

// New returns a limiter with a full bucket. now may be nil.
func New(name string, limits Limits, now func() time.Time) *Limiter {
	if now == nil {
		now = time.Now
	}
	return &Limiter{
		name:       name,
		limits:     limits,
		now:        now,
		tokens:     limits.TokensPerMinute,
		lastRefill: now(),
	}
}

// Reserve takes tokens from the bucket or fails without taking any.
func (l *Limiter) Reserve(tokens int) error {
	if l.limits.TokensPerMinute <= 0 {
		return nil
	}
	if tokens > l.limits.TokensPerMinute {
		return fmt.Errorf("%w: %s call needs %d tokens, bucket holds %d", ErrRateLimit, l.name, tokens, l.limits.TokensPerMinute)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	l.refillTokens()
	if l.tokens < tokens {
		return fmt.Errorf("%w: %s has %d of %d tokens left", ErrRateLimit, l.name, l.tokens, tokens)
	}
	l.tokens -= tokens
	return nil
}

// Acquire claims a call slot. Every successful Acquire needs a Release.
func (l *Limiter) Acquire() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.limits.MaxConcurrent > 0 && l.active >= l.limits.MaxConcurrent {
		return fmt.Errorf("%w: %s has %d calls in flight", ErrConcurrencyLimit, l.name, l.active)
	}
	l.active++
	return nil
}

// Release returns a call slot.
func (l *Limiter) Release() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.active > 0 {
		l.active--
	}
}

// Status returns the tokens left and the calls in flight.
func (l *Limiter) Status() (tokens, active int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.refillTokens()
	return l.tokens, l.active
}

func (l *Limiter) refillTokens() {
	elapsed := l.now().Sub(l.lastRefill)
	if elapsed < time.Minute {
		return
	}
	minutes := int(elapsed / time.Minute)
	l.tokens += minutes * l.limits.TokensPerMinute
	if l.tokens > l.limits.TokensPerMinute {
		l.tokens = l.limits.TokensPerMinute
	}
	// Keep the partial minute so refills stay aligned.
	l.lastRefill = l.lastRefill.Add(time.Duration(minutes) * time.Minute)
}
