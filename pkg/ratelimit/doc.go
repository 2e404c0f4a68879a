// Package ratelimit paces requests that are not covered by the adaptive
// delay, such as hashtag discovery.
//
// TokenBucket wraps golang.org/x/time/rate:
//
//	limiter := ratelimit.PerMinute(cfg.Scan.RequestsPerMinute, cfg.Scan.Burst)
//	if err := limiter.Wait(ctx); err != nil {
//	    return err // cancelled
//	}
//	// send the request
package ratelimit
