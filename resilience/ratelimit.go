package resilience

import (
	"context"
	"sync"
	"time"
)

// RateLimiterConfig configures the fetch rate limiter.
type RateLimiterConfig struct {
	// Rate is the number of fetches allowed per second.
	// Default: 100
	Rate float64

	// Burst is the bucket size.
	// Default: 10
	Burst int

	// MaxWait is how long a fetch may wait for a token. Zero fails at once.
	MaxWait time.Duration

	// Now is the clock. Default: time.Now
	Now func() time.Time
}

// RateLimiter is a token bucket shared by every fetch it wraps.
type RateLimiter struct {
	config RateLimiterConfig

	mu     sync.Mutex
	tokens float64
	last   time.Time
}

// NewRateLimiter creates a rate limiter with a full bucket.
func NewRateLimiter(config RateLimiterConfig) *RateLimiter {
	if config.Rate <= 0 {
		config.Rate = 100
	}
	if config.Burst <= 0 {
		config.Burst = 10
	}
	if config.Now == nil {
		config.Now = time.Now
	}
	return &RateLimiter{
		config: config,
		tokens: float64(config.Burst),
		last:   config.Now(),
	}
}

// Allow takes a token if one is available.
func (rl *RateLimiter) Allow() bool {
	_, ok := rl.reserve()
	return ok
}

// reserve takes a token, or reports how long until one is available.
func (rl *RateLimiter) reserve() (time.Duration, bool) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.config.Now()
	rl.tokens += now.Sub(rl.last).Seconds() * rl.config.Rate
	rl.last = now
	if burst := float64(rl.config.Burst); rl.tokens > burst {
		rl.tokens = burst
	}

	if rl.tokens >= 1 {
		rl.tokens--
		return 0, true
	}
	return time.Duration((1 - rl.tokens) / rl.config.Rate * float64(time.Second)), false
}

// Wait takes a token, waiting up to MaxWait for one.
func (rl *RateLimiter) Wait(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	wait, ok := rl.reserve()
	if ok {
		return nil
	}
	if wait > rl.config.MaxWait {
		return ErrRateLimitExceeded
	}

	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
	}
	if !rl.Allow() {
		return ErrRateLimitExceeded
	}
	return nil
}

// Execute runs op if the rate allows it.
func (rl *RateLimiter) Execute(ctx context.Context, op func(context.Context) error) error {
	if err := rl.Wait(ctx); err != nil {
		return err
	}
	return op(ctx)
}

// Tokens returns the current number of available tokens.
func (rl *RateLimiter) Tokens() float64 {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return rl.tokens
}
