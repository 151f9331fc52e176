// Package ratelimit spaces out remote calls using a token bucket.
package ratelimit

import (
	"context"
	"sync"
	"time"

	"github.com/earthanddusk/hfbackup/internal/logging"
)

// RateLimiter implements a token bucket rate limiter.
// It allows bursts up to maxTokens, then refills at refillRate tokens/second.
// A nil *RateLimiter never blocks.
type RateLimiter struct {
	tokens       float64   // Current number of tokens available
	maxTokens    float64   // Maximum bucket capacity
	refillRate   float64   // Tokens added per second
	lastRefill   time.Time // Last time tokens were refilled
	lastWarnTime time.Time // Last time a long wait was logged
	logger       *logging.Logger
	mu           sync.Mutex
}

// NewRateLimiter creates a new rate limiter.
//
// Parameters:
//   - tokensPerSecond: Rate at which tokens are added (e.g., 3.0 for 3 tokens/second)
//   - burstSize: Maximum tokens that can accumulate (allows brief bursts)
func NewRateLimiter(tokensPerSecond float64, burstSize float64) *RateLimiter {
	return &RateLimiter{
		tokens:     burstSize, // Start with full bucket
		maxTokens:  burstSize,
		refillRate: tokensPerSecond,
		lastRefill: time.Now(),
		logger:     logging.NewNop(),
	}
}

// SetLogger routes wait diagnostics to logger. Nil restores the no-op logger.
func (rl *RateLimiter) SetLogger(logger *logging.Logger) {
	if rl == nil {
		return
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	rl.mu.Lock()
	rl.logger = logger
	rl.mu.Unlock()
}

// NewFromDelay creates a limiter that admits one call per delay, with a burst
// of one so the first call goes through immediately. A non-positive delay
// returns nil, which disables limiting.
func NewFromDelay(delay time.Duration) *RateLimiter {
	if delay <= 0 {
		return nil
	}
	return NewRateLimiter(1/delay.Seconds(), 1)
}

// Wait blocks until a token is available or context is cancelled.
// Returns an error if the context is cancelled before a token becomes available.
func (rl *RateLimiter) Wait(ctx context.Context) error {
	if rl == nil {
		return ctx.Err()
	}
	startTime := time.Now()

	if rl.tryAcquire() {
		return nil
	}

	waitTime := rl.timeUntilNextToken()
	if waitTime > 2*time.Second {
		rl.mu.Lock()
		// Only warn every 10 seconds to avoid spam
		if time.Since(rl.lastWarnTime) > 10*time.Second {
			rl.logger.Debug().Dur("wait", waitTime).Msg("rate limited, waiting for capacity")
			rl.lastWarnTime = time.Now()
		}
		rl.mu.Unlock()
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if rl.tryAcquire() {
			if actualWait := time.Since(startTime); actualWait > 5*time.Second {
				rl.mu.Lock()
				logger := rl.logger
				rl.mu.Unlock()
				logger.Debug().Dur("waited", actualWait).Msg("rate limit wait completed")
			}
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(rl.timeUntilNextToken()):
		}
	}
}

// tryAcquire attempts to acquire one token without blocking.
// Returns true if a token was acquired, false otherwise.
func (rl *RateLimiter) tryAcquire() bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	rl.refillLocked(time.Now())

	if rl.tokens >= 1.0 {
		rl.tokens -= 1.0
		return true
	}
	return false
}

func (rl *RateLimiter) refillLocked(now time.Time) {
	elapsed := now.Sub(rl.lastRefill).Seconds()
	rl.tokens += elapsed * rl.refillRate
	if rl.tokens > rl.maxTokens {
		rl.tokens = rl.maxTokens
	}
	rl.lastRefill = now
}

// timeUntilNextToken calculates how long to wait until at least one token is available.
func (rl *RateLimiter) timeUntilNextToken() time.Duration {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	tokensNeeded := 1.0 - rl.tokens
	if tokensNeeded <= 0 {
		return 0
	}
	return time.Duration(tokensNeeded / rl.refillRate * float64(time.Second))
}

// GetCurrentTokens returns the current number of tokens (for testing/debugging).
func (rl *RateLimiter) GetCurrentTokens() float64 {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	elapsed := time.Since(rl.lastRefill).Seconds()
	tokens := rl.tokens + (elapsed * rl.refillRate)
	if tokens > rl.maxTokens {
		tokens = rl.maxTokens
	}
	return tokens
}

// Shared hands out one limiter for every worker of a queue. The limiter is
// rebuilt when the configured delay changes, so a new delay applies from the
// next dispatch onwards.
type Shared struct {
	// Logger receives wait diagnostics from every limiter built. Optional.
	Logger *logging.Logger

	mu      sync.Mutex
	delay   time.Duration
	limiter *RateLimiter
	built   bool
}

// For returns the limiter for delay, rebuilding it if delay differs from the
// last call. The result may be nil (no limiting).
func (s *Shared) For(delay time.Duration) *RateLimiter {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.built || delay != s.delay {
		s.delay = delay
		s.limiter = NewFromDelay(delay)
		s.limiter.SetLogger(s.Logger)
		s.built = true
	}
	return s.limiter
}
