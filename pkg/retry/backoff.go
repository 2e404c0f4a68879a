package retry

import (
	"context"
	"math"
	"math/rand"
	"time"
)

// BackoffStrategy yields the sleep before retry number attempt (1-based).
// delay.Adapter satisfies it too.
type BackoffStrategy interface {
	NextDelay(attempt int) time.Duration
	Reset()
}

// ExponentialBackoff grows Base by Factor per attempt and scales the result
// by a random value in [1-Spread, 1+Spread]. The result never exceeds Cap.
type ExponentialBackoff struct {
	Base   time.Duration
	Cap    time.Duration
	Factor float64
	Spread float64
	// Random returns values in [0,1). Defaults to math/rand.
	Random func() float64
}

// DefaultBackoff is used by Do when the caller sets none: 2s doubling up to
// 30s with a quarter spread.
func DefaultBackoff() *ExponentialBackoff {
	return &ExponentialBackoff{
		Base:   2 * time.Second,
		Cap:    30 * time.Second,
		Factor: 2,
		Spread: 0.25,
	}
}

func (b *ExponentialBackoff) NextDelay(attempt int) time.Duration {
	if attempt < 1 {
		return 0
	}
	factor := b.Factor
	if factor < 1 {
		factor = 1
	}

	d := float64(b.Base) * math.Pow(factor, float64(attempt-1))
	if b.Spread > 0 {
		random := b.Random
		if random == nil {
			random = rand.Float64
		}
		d *= 1 - b.Spread + 2*b.Spread*random()
	}
	if b.Cap > 0 && d > float64(b.Cap) {
		d = float64(b.Cap)
	}
	return time.Duration(math.Max(d, 0))
}

func (b *ExponentialBackoff) Reset() {}

// FixedBackoff sleeps the same Delay before every retry.
type FixedBackoff struct {
	Delay time.Duration
}

func (b FixedBackoff) NextDelay(attempt int) time.Duration {
	if attempt < 1 {
		return 0
	}
	return b.Delay
}

func (b FixedBackoff) Reset() {}

// Wait blocks for d or until ctx is done. A non-positive d only reports
// whether ctx is already done.
func Wait(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
