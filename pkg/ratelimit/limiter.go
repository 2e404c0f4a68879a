package ratelimit

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Limiter paces outgoing requests.
type Limiter interface {
	// Allow reports whether a request may go out now, consuming a token if so.
	Allow() bool
	// Wait blocks until a request may go out or ctx is done.
	Wait(ctx context.Context) error
	// Reset refills the limiter.
	Reset()
}

// TokenBucket is a Limiter over golang.org/x/time/rate. Tokens refill
// continuously at the configured rate up to burst.
type TokenBucket struct {
	mu      sync.Mutex
	limiter *rate.Limiter
	every   time.Duration
	burst   int
}

// NewTokenBucket allows burst requests at once and then one every interval.
func NewTokenBucket(burst int, every time.Duration) *TokenBucket {
	if burst < 1 {
		burst = 1
	}
	return &TokenBucket{
		limiter: rate.NewLimiter(rate.Every(every), burst),
		every:   every,
		burst:   burst,
	}
}

// PerMinute allows n requests per minute with the given burst. A
// non-positive n disables pacing.
func PerMinute(n, burst int) *TokenBucket {
	if n <= 0 {
		tb := NewTokenBucket(burst, 0)
		tb.limiter.SetLimit(rate.Inf)
		return tb
	}
	return NewTokenBucket(burst, time.Minute/time.Duration(n))
}

func (tb *TokenBucket) Allow() bool {
	return tb.current().Allow()
}

func (tb *TokenBucket) Wait(ctx context.Context) error {
	return tb.current().Wait(ctx)
}

func (tb *TokenBucket) Reset() {
	tb.mu.Lock()
	defer tb.mu.Unlock()
	limit := tb.limiter.Limit()
	tb.limiter = rate.NewLimiter(limit, tb.burst)
}

// Interval is the steady-state spacing between requests.
func (tb *TokenBucket) Interval() time.Duration {
	if tb.current().Limit() == rate.Inf {
		return 0
	}
	return tb.every
}

func (tb *TokenBucket) current() *rate.Limiter {
	tb.mu.Lock()
	defer tb.mu.Unlock()
	return tb.limiter
}
