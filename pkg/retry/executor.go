package retry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"igcrawler/pkg/delay"
	errs "igcrawler/pkg/errors"
	"igcrawler/pkg/logger"
	"igcrawler/pkg/proxy"
)

// Reauthenticator refreshes an expired remote session.
type Reauthenticator interface {
	Reauthenticate(ctx context.Context) error
}

// Sleeper blocks for d or until ctx is done.
type Sleeper func(ctx context.Context, d time.Duration) error

// Executor runs remote calls with bounded retries. Every attempt is timed
// and its outcome is fed back into the delay adapter and the proxy pool, so
// pacing and rotation react to what the crawler actually observes.
type Executor struct {
	proxies    *proxy.Pool
	delays     *delay.Adapter
	reauth     Reauthenticator
	maxRetries int
	sleep      Sleeper
	now        func() time.Time
	onRetry    func(attempt int, err error, delay time.Duration)
	log        logger.Logger
}

type ExecutorOption func(*Executor)

func WithReauthenticator(r Reauthenticator) ExecutorOption {
	return func(e *Executor) { e.reauth = r }
}

func WithSleeper(s Sleeper) ExecutorOption {
	return func(e *Executor) { e.sleep = s }
}

func WithClock(now func() time.Time) ExecutorOption {
	return func(e *Executor) { e.now = now }
}

// WithOnRetry registers a hook called before every backoff sleep.
func WithOnRetry(f func(attempt int, err error, delay time.Duration)) ExecutorOption {
	return func(e *Executor) { e.onRetry = f }
}

func WithLogger(l logger.Logger) ExecutorOption {
	return func(e *Executor) { e.log = logger.ForComponent(l, "retry") }
}

// NewExecutor creates an Executor. maxRetries counts retries after the first
// attempt, so an operation runs at most maxRetries+1 times.
func NewExecutor(proxies *proxy.Pool, delays *delay.Adapter, maxRetries int, opts ...ExecutorOption) *Executor {
	if maxRetries < 0 {
		maxRetries = 0
	}
	e := &Executor{
		proxies:    proxies,
		delays:     delays,
		maxRetries: maxRetries,
		sleep:      Wait,
		now:        time.Now,
		log:        logger.NewNopLogger(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *Executor) MaxRetries() int { return e.maxRetries }

// RemoteOperation is one attempt of a remote call through the given endpoint.
type RemoteOperation[T any] func(ctx context.Context, ep proxy.Endpoint) (T, error)

// Execute runs op under the executor's retry policy.
//
//   - NotFound and Private errors are returned at once.
//   - The first AuthExpired triggers one reauthentication and an immediate
//     retry that does not consume a retry.
//   - RateLimited records a rate-limit hit, rotates the proxy, and sleeps for
//     the rate-limit cooldown.
//   - Any other error is transient and backs off exponentially.
//
// When every retry has failed the last error is returned wrapped in
// errors.ErrRetriesExhausted. Cancellation during a sleep returns the
// context error wrapped as "retry cancelled".
func Execute[T any](ctx context.Context, e *Executor, name string, op RemoteOperation[T]) (T, error) {
	var zero T
	log := e.log.WithField("operation", name)
	reauthed := false
	var lastErr error

	for attempt := 1; attempt <= e.maxRetries+1; attempt++ {
		if err := ctx.Err(); err != nil {
			return zero, fmt.Errorf("retry cancelled: %w", err)
		}

		ep := e.proxies.Select()
		start := e.now()
		result, err := op(ctx, ep)
		rtt := float64(e.now().Sub(start).Milliseconds())

		if err == nil {
			e.delays.RecordOutcome(rtt, false, false)
			e.proxies.ReportSuccess(ep)
			if attempt > 1 {
				log.DebugWithFields("operation succeeded after retry", map[string]interface{}{
					"attempt": attempt,
				})
			}
			return result, nil
		}

		if ctxErr := ctx.Err(); ctxErr != nil && errors.Is(err, ctxErr) {
			return zero, fmt.Errorf("retry cancelled: %w", err)
		}

		if errs.IsTerminal(err) {
			if errs.IsNotFound(err) || errs.IsPrivate(err) {
				// The remote answered; only the subject is unavailable.
				e.delays.RecordOutcome(rtt, false, false)
				e.proxies.ReportSuccess(ep)
			}
			return zero, err
		}

		lastErr = err

		if errs.IsAuthExpired(err) && !reauthed && e.reauth != nil {
			reauthed = true
			rerr := e.reauth.Reauthenticate(ctx)
			if rerr == nil {
				log.Info("session refreshed, retrying")
				attempt--
				continue
			}
			log.WithError(rerr).Warn("reauthentication failed")
		}

		rateLimited := errs.IsRateLimited(err)
		e.delays.RecordOutcome(rtt, true, rateLimited)
		perr := e.proxies.ReportFailure(ctx, ep)
		if rateLimited && perr == nil {
			_, perr = e.proxies.Rotate(ctx, "rate_limited")
		}
		if perr != nil {
			log.WarnWithFields("retry cancelled", map[string]interface{}{
				"attempt": attempt,
				"reason":  perr.Error(),
			})
			return zero, fmt.Errorf("retry cancelled: %w", perr)
		}

		if attempt > e.maxRetries {
			break
		}

		wait := e.delays.RetryDelay(attempt)
		if e.onRetry != nil {
			e.onRetry(attempt, err, wait)
		}
		if rateLimited {
			logger.LogRateLimit(log, name, e.delays.RateLimitHits(), wait)
		} else {
			log.WarnWithFields("retrying operation", map[string]interface{}{
				"attempt":     attempt,
				"error":       err.Error(),
				"delay_ms":    wait.Milliseconds(),
				"max_retries": e.maxRetries,
			})
		}

		if serr := e.sleep(ctx, wait); serr != nil {
			log.WarnWithFields("retry cancelled", map[string]interface{}{
				"attempt": attempt,
				"reason":  serr.Error(),
			})
			return zero, fmt.Errorf("retry cancelled: %w", serr)
		}
	}

	log.WithError(lastErr).ErrorWithFields("max retries exceeded", map[string]interface{}{
		"max_retries": e.maxRetries,
	})
	return zero, fmt.Errorf("%w after %d attempts: %w", errs.ErrRetriesExhausted, e.maxRetries+1, lastErr)
}

// IsCancelled reports whether err came from a cancelled retry sleep or a
// cancelled context.
func IsCancelled(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
