// Package retry runs fallible operations with bounded, classified retries.
//
// Two entry points exist. Do and DoWithResult drive infrastructure calls
// (sink connections, broker writes) with a plain BackoffStrategy:
//
//	err := retry.Do(ctx, func(ctx context.Context) error {
//		return db.PingContext(ctx)
//	}, &retry.Config{
//		MaxAttempts: 5,
//		Backoff:     retry.DefaultBackoff(),
//		Logger:      log,
//	})
//
// Execute drives remote API calls. It selects an egress endpoint from the
// proxy pool for every attempt, times the call, and feeds the outcome into
// the delay adapter, so pacing and rotation react to
// the same observations:
//
//	exec := retry.NewExecutor(pool, delays, cfg.Retry.MaxRetries,
//		retry.WithReauthenticator(session),
//		retry.WithLogger(log))
//
//	profile, err := retry.Execute(ctx, exec, "profile",
//		func(ctx context.Context, ep proxy.Endpoint) (*models.Profile, error) {
//			return client.FetchProfile(ctx, ep, username)
//		})
//
// Error handling by classification:
//   - NotFound, Private: returned immediately
//   - AuthExpired: one reauthentication, then treated as transient
//   - RateLimited: proxy rotation and a cooldown that grows with the hit count
//   - anything else: exponential backoff with jitter
package retry
