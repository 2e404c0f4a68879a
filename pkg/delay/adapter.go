package delay

import (
	"math"
	"math/rand"
	"sync"
	"time"

	"igcrawler/pkg/config"
	"igcrawler/pkg/logger"
)

// Settings holds the tunables of an Adapter.
type Settings struct {
	WindowSize         int
	BaseLow            time.Duration
	BaseHigh           time.Duration
	MaxDelay           time.Duration
	FailureFactor      float64
	RateLimitFactor    float64
	RateLimitThreshold int
	RateLimitDecay     time.Duration
	Cooldown           time.Duration
	RetryBase          time.Duration
	MaxRetryDelay      time.Duration
}

// DefaultSettings returns the stock pacing parameters.
func DefaultSettings() Settings {
	return SettingsFromConfig(config.DefaultConfig())
}

func SettingsFromConfig(cfg *config.Config) Settings {
	return Settings{
		WindowSize:         cfg.Delay.WindowSize,
		BaseLow:            cfg.Delay.BaseLow.Std(),
		BaseHigh:           cfg.Delay.BaseHigh.Std(),
		MaxDelay:           cfg.Delay.MaxDelay.Std(),
		FailureFactor:      cfg.Delay.FailureFactor,
		RateLimitFactor:    cfg.Delay.RateLimitFactor,
		RateLimitThreshold: cfg.Delay.RateLimitThreshold,
		RateLimitDecay:     cfg.Delay.RateLimitDecay.Std(),
		Cooldown:           cfg.RateLimitCooldown.Std(),
		RetryBase:          cfg.Delay.RetryBase.Std(),
		MaxRetryDelay:      cfg.Delay.MaxRetryDelay.Std(),
	}
}

// maxCooldownHits bounds how far the rate-limit cooldown scales.
const maxCooldownHits = 5

// Adapter turns observed latencies and failures into a pacing recommendation.
// It is safe for concurrent use by every worker of a run.
type Adapter struct {
	mu       sync.Mutex
	settings Settings

	rtts       []float64
	next       int
	failures   int
	rateLimits int
	lastLimit  time.Time

	random func() float64
	now    func() time.Time
	log    logger.Logger
}

// Option configures an Adapter.
type Option func(*Adapter)

// WithRandom replaces the jitter source. f must return values in [0, 1).
func WithRandom(f func() float64) Option {
	return func(a *Adapter) { a.random = f }
}

func WithClock(now func() time.Time) Option {
	return func(a *Adapter) { a.now = now }
}

func WithLogger(l logger.Logger) Option {
	return func(a *Adapter) { a.log = logger.ForComponent(l, "delay_adapter") }
}

// New creates an Adapter.
func New(settings Settings, opts ...Option) *Adapter {
	if settings.WindowSize <= 0 {
		settings.WindowSize = 10
	}
	a := &Adapter{
		settings: settings,
		rtts:     make([]float64, 0, settings.WindowSize),
		random:   rand.Float64,
		now:      time.Now,
		log:      logger.NewNopLogger(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Fork returns an adapter with the same settings, jitter source, clock and
// logger but an empty window and zeroed counters.
func (a *Adapter) Fork() *Adapter {
	return New(a.settings, WithRandom(a.random), WithClock(a.now), func(f *Adapter) { f.log = a.log })
}

// RecordOutcome feeds one request result into the window. Successful
// requests contribute their round-trip time and relax the failure counter.
func (a *Adapter) RecordOutcome(rttMs float64, isFailure, isRateLimit bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if isFailure {
		a.failures++
		if isRateLimit {
			a.rateLimits++
			a.lastLimit = a.now()
			a.log.WarnWithFields("rate limit detected", map[string]interface{}{
				"rate_limits": a.rateLimits,
			})
		}
		return
	}

	if len(a.rtts) < a.settings.WindowSize {
		a.rtts = append(a.rtts, rttMs)
	} else {
		a.rtts[a.next] = rttMs
	}
	a.next = (a.next + 1) % a.settings.WindowSize

	if a.failures > 0 {
		a.failures--
	}

	// One hit is forgiven per success once the ban window has clearly passed.
	if a.rateLimits > 0 && a.settings.RateLimitDecay > 0 && a.now().Sub(a.lastLimit) >= a.settings.RateLimitDecay {
		a.rateLimits--
		a.lastLimit = a.now()
	}
}

// CurrentDelayRange returns the recommended pause between two requests.
func (a *Adapter) CurrentDelayRange() (low, high time.Duration) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.delayRangeLocked()
}

func (a *Adapter) delayRangeLocked() (time.Duration, time.Duration) {
	s := a.settings

	if a.rateLimits >= s.RateLimitThreshold && s.RateLimitThreshold > 0 {
		high := s.Cooldown * time.Duration(min(maxCooldownHits, a.rateLimits))
		return high / 2, high
	}

	if len(a.rtts) == 0 {
		return s.BaseLow, s.BaseHigh
	}

	factor := (1 + s.FailureFactor*float64(a.failures)) * (1 + s.RateLimitFactor*float64(a.rateLimits))
	meanSeconds := a.meanRTTLocked() / 1000

	low := s.BaseLow.Seconds() + 0.5*meanSeconds*factor
	high := s.BaseHigh.Seconds() + meanSeconds*factor

	maxSeconds := s.MaxDelay.Seconds()
	low = math.Min(low, maxSeconds/2)
	high = math.Min(high, maxSeconds)
	if low > high {
		low, high = high, low
	}

	return seconds(low), seconds(high)
}

// NextInterval draws a random pause from the current range.
func (a *Adapter) NextInterval() time.Duration {
	a.mu.Lock()
	defer a.mu.Unlock()

	low, high := a.delayRangeLocked()
	return low + time.Duration(a.random()*float64(high-low))
}

// RetryDelay returns how long to wait before retry number attempt (1-based).
// Ordinary failures back off exponentially with jitter; once the remote has
// signalled a rate limit, a flat cooldown that grows with the hit count is
// used instead.
func (a *Adapter) RetryDelay(attempt int) time.Duration {
	a.mu.Lock()
	defer a.mu.Unlock()

	if attempt < 1 {
		attempt = 1
	}
	s := a.settings

	if a.rateLimits > 0 {
		hits := min(maxCooldownHits, a.rateLimits)
		return s.Cooldown*time.Duration(hits) + seconds(a.random()*10)
	}

	exp := math.Pow(2, float64(attempt-1))
	d := s.RetryBase.Seconds() * exp * (0.5 + a.random())
	if ceiling := s.MaxRetryDelay.Seconds(); d > ceiling {
		d = ceiling
	}
	return seconds(d)
}

// NextDelay lets the adapter drive retry.Do as a BackoffStrategy.
func (a *Adapter) NextDelay(attempt int) time.Duration {
	return a.RetryDelay(attempt)
}

// Reset clears failure and rate-limit counters but keeps the latency window.
func (a *Adapter) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.rateLimits > 0 {
		a.log.InfoWithFields("rate limit counter reset", map[string]interface{}{
			"previous": a.rateLimits,
		})
	}
	a.failures = 0
	a.rateLimits = 0
}

// Stats is a point-in-time view of the adapter.
type Stats struct {
	MeanRTTMs  float64
	Samples    int
	Failures   int
	RateLimits int
	Low        time.Duration
	High       time.Duration
}

func (a *Adapter) Snapshot() Stats {
	a.mu.Lock()
	defer a.mu.Unlock()

	low, high := a.delayRangeLocked()
	return Stats{
		MeanRTTMs:  a.meanRTTLocked(),
		Samples:    len(a.rtts),
		Failures:   a.failures,
		RateLimits: a.rateLimits,
		Low:        low,
		High:       high,
	}
}

// RateLimitHits returns how many rate-limit signals are currently counted.
func (a *Adapter) RateLimitHits() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.rateLimits
}

func (a *Adapter) meanRTTLocked() float64 {
	if len(a.rtts) == 0 {
		return 0
	}
	var sum float64
	for _, v := range a.rtts {
		sum += v
	}
	return sum / float64(len(a.rtts))
}

func seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}
