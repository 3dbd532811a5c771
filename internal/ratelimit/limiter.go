// Package ratelimit provides a token bucket limiter for upstream gateway calls.
package ratelimit

import (
	"context"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// Defaults for a SharePoint-style tenant, which throttles bursts with 429 + Retry-After
const (
	// DefaultRatePerSec - sustained requests per second to one upstream
	DefaultRatePerSec = 10.0

	// DefaultBurst - requests allowed back-to-back before the bucket runs dry
	DefaultBurst = 40.0
)

// RateLimiter implements a token bucket rate limiter.
// It allows bursts up to maxTokens, then refills at refillRate tokens/second.
// A cooldown, set when the upstream answers 429, blocks all acquisitions until it expires.
type RateLimiter struct {
	clock         clockwork.Clock
	tokens        float64   // Current number of tokens available
	maxTokens     float64   // Maximum bucket capacity
	refillRate    float64   // Tokens added per second
	lastRefill    time.Time // Last time tokens were refilled
	cooldownUntil time.Time
	mu            sync.Mutex
}

// NewRateLimiter creates a new rate limiter.
//
// Parameters:
//   - tokensPerSecond: Rate at which tokens are added
//   - burstSize: Maximum tokens that can accumulate
func NewRateLimiter(tokensPerSecond, burstSize float64) *RateLimiter {
	return NewRateLimiterWithClock(tokensPerSecond, burstSize, clockwork.NewRealClock())
}

// NewRateLimiterWithClock creates a limiter driven by the given clock.
func NewRateLimiterWithClock(tokensPerSecond, burstSize float64, clock clockwork.Clock) *RateLimiter {
	return &RateLimiter{
		clock:      clock,
		tokens:     burstSize, // Start with full bucket
		maxTokens:  burstSize,
		refillRate: tokensPerSecond,
		lastRefill: clock.Now(),
	}
}

// Wait blocks until a token is available or context is cancelled.
func (rl *RateLimiter) Wait(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		wait, ok := rl.reserve()
		if ok {
			return nil
		}

		timer := rl.clock.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.Chan():
		}
	}
}

// reserve takes a token if one is available; otherwise it returns how long to wait.
func (rl *RateLimiter) reserve() (time.Duration, bool) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.clock.Now()
	if now.Before(rl.cooldownUntil) {
		return rl.cooldownUntil.Sub(now), false
	}

	rl.refill(now)
	if rl.tokens >= 1.0 {
		rl.tokens -= 1.0
		return 0, true
	}

	secondsNeeded := (1.0 - rl.tokens) / rl.refillRate
	return time.Duration(secondsNeeded * float64(time.Second)), false
}

func (rl *RateLimiter) refill(now time.Time) {
	elapsed := now.Sub(rl.lastRefill).Seconds()
	if elapsed > 0 {
		rl.tokens += elapsed * rl.refillRate
		if rl.tokens > rl.maxTokens {
			rl.tokens = rl.maxTokens
		}
	}
	rl.lastRefill = now
}

// SetCooldown pauses the limiter for d. An existing longer cooldown is kept.
func (rl *RateLimiter) SetCooldown(d time.Duration) {
	if d <= 0 {
		return
	}
	rl.mu.Lock()
	defer rl.mu.Unlock()

	until := rl.clock.Now().Add(d)
	if until.After(rl.cooldownUntil) {
		rl.cooldownUntil = until
	}
	// Throttled: drain so the burst does not restart right after the cooldown
	rl.tokens = 0
}

// CooldownRemaining returns the time left on the current cooldown.
func (rl *RateLimiter) CooldownRemaining() time.Duration {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	if remaining := rl.cooldownUntil.Sub(rl.clock.Now()); remaining > 0 {
		return remaining
	}
	return 0
}

// GetCurrentTokens returns the current number of tokens (for testing/debugging).
func (rl *RateLimiter) GetCurrentTokens() float64 {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	rl.refill(rl.clock.Now())
	return rl.tokens
}
