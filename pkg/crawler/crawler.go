package crawler

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"igcrawler/pkg/config"
	errs "igcrawler/pkg/errors"
	"igcrawler/pkg/logger"
	"igcrawler/pkg/models"
	"igcrawler/pkg/proxy"
	"igcrawler/pkg/remote"
	"igcrawler/pkg/retry"
)

// dryRunLimit caps the work list of a dry run.
const dryRunLimit = 3

// Options tune a DetailCrawler.
type Options struct {
	Workers          int
	SaveInterval     int
	PostsPerItem     int
	MaxItems         int
	DryRun           bool
	Rescrape         bool
	MaxRetries       int
	StopFile         string
	StopPollInterval time.Duration

	// Sleeper replaces retry.Wait for backoff sleeps and the pause between
	// two items of a worker.
	Sleeper retry.Sleeper
	// Progress is called after every flush.
	Progress func(Summary)
}

func DefaultOptions() Options {
	return Options{
		Workers:          5,
		SaveInterval:     10,
		PostsPerItem:     10,
		MaxRetries:       3,
		StopFile:         "stop.flag",
		StopPollInterval: 10 * time.Second,
	}
}

// OptionsFromConfig maps the run configuration onto Options.
func OptionsFromConfig(cfg *config.Config) Options {
	opts := DefaultOptions()
	opts.Workers = cfg.MaxWorkers
	opts.SaveInterval = cfg.SaveInterval
	opts.PostsPerItem = cfg.NumPostsToFetch
	opts.MaxRetries = cfg.Retry.MaxRetries
	opts.StopFile = cfg.Data.StopFile
	opts.StopPollInterval = cfg.Data.StopPollInterval.Std()
	return opts
}

// DetailCrawler fetches the profile and recent posts of every identifier,
// buffering records and checkpointing finished identifiers.
type DetailCrawler struct {
	cc         *CrawlContext
	opts       Options
	exec       *retry.Executor
	sleep      retry.Sleeper
	now        func() time.Time
	logger     logger.Logger
	rateLimits atomic.Int64
}

// New creates a DetailCrawler over cc.
func New(cc *CrawlContext, opts Options) (*DetailCrawler, error) {
	if err := cc.Validate(); err != nil {
		return nil, errs.Configuration("invalid crawl context", err)
	}
	if opts.Workers < 1 {
		opts.Workers = 1
	}
	if opts.SaveInterval < 1 {
		opts.SaveInterval = 1
	}
	if opts.MaxRetries < 0 {
		opts.MaxRetries = 0
	}

	c := &DetailCrawler{
		cc:     cc,
		opts:   opts,
		sleep:  opts.Sleeper,
		now:    time.Now,
		logger: logger.ForComponent(cc.logger(), "crawler"),
	}
	if c.sleep == nil {
		c.sleep = retry.Wait
	}

	c.exec = retry.NewExecutor(cc.Proxies, cc.Delays, opts.MaxRetries,
		retry.WithReauthenticator(cc.Client),
		retry.WithSleeper(c.sleep),
		retry.WithLogger(c.logger),
		retry.WithOnRetry(c.onRetry),
	)
	return c, nil
}

func (c *DetailCrawler) onRetry(attempt int, err error, delay time.Duration) {
	if errs.IsRateLimited(err) {
		c.rateLimits.Add(1)
		c.cc.Metrics.RateLimited(context.Background())
		c.cc.Metrics.Rotation(context.Background(), "rate_limited")
	}
}

// Plan returns the identifiers Run would dispatch: deduplicated in order,
// without checkpointed ones unless Rescrape is set, and capped by DryRun
// and MaxItems.
func (c *DetailCrawler) Plan(ids []string) []string {
	seen := make(map[string]bool, len(ids))
	work := make([]string, 0, len(ids))
	skipped := 0

	for _, id := range ids {
		id = remote.SanitizeUsername(id)
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		if !c.opts.Rescrape && c.cc.Checkpoint != nil && c.cc.Checkpoint.Contains(id) {
			skipped++
			continue
		}
		work = append(work, id)
	}

	limit := c.opts.MaxItems
	if c.opts.DryRun && (limit == 0 || limit > dryRunLimit) {
		limit = dryRunLimit
	}
	if limit > 0 && len(work) > limit {
		work = work[:limit]
	}

	if skipped > 0 {
		c.logger.InfoWithFields("Skipping checkpointed identifiers", map[string]interface{}{
			"skipped": skipped,
		})
	}
	return work
}

// Run crawls ids until every item is finished or ctx is cancelled. A final
// flush always runs before Run returns. An empty work list yields
// errors.ErrNoWorkItems.
func (c *DetailCrawler) Run(ctx context.Context, ids []string) (Summary, error) {
	work := c.Plan(ids)
	if len(work) == 0 {
		return Summary{}, errs.ErrNoWorkItems
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var stopped atomic.Bool
	go watchStopFile(runCtx, c.opts.StopFile, c.opts.StopPollInterval, func() {
		stopped.Store(true)
		cancel()
	}, c.logger)

	start := c.now()
	rotationsBefore := c.cc.Proxies.Rotations()
	logger.LogComponentStart(c.logger, "crawler", map[string]interface{}{
		"items":    len(work),
		"workers":  c.opts.Workers,
		"dry_run":  c.opts.DryRun,
		"rescrape": c.opts.Rescrape,
		"run_id":   c.cc.RunID,
	})

	col := &collector{
		c:       c,
		start:   start,
		summary: Summary{Total: len(work)},
	}
	// the sink must still be writable after the run is cancelled
	flushCtx := context.WithoutCancel(ctx)

	pool := newWorkerPool(c.opts.Workers, c.process, c.pause, c.logger)
	pool.Start(runCtx)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for res := range pool.Results() {
			col.add(flushCtx, res)
		}
	}()

	for i, id := range work {
		if err := pool.Submit(runCtx, job{Identifier: id, Index: i}); err != nil {
			c.logger.InfoWithFields("Dispatch stopped", map[string]interface{}{
				"dispatched": i,
				"remaining":  len(work) - i,
			})
			break
		}
	}
	pool.Close()
	<-done

	col.summary.Interrupted = ctx.Err() != nil || stopped.Load()
	col.summary.Rotations = c.cc.Proxies.Rotations() - rotationsBefore
	col.summary.RateLimits = int(c.rateLimits.Load())

	flushErr := col.flush(flushCtx)
	summary := col.summary
	summary.Elapsed = c.now().Sub(start)

	reason := "completed"
	if summary.Interrupted {
		reason = "interrupted"
	}
	logger.LogComponentStop(c.logger, "crawler", reason)
	c.logger.InfoWithFields("Crawl finished", summary.Fields())

	if flushErr != nil {
		return summary, fmt.Errorf("final flush failed: %w", flushErr)
	}
	return summary, nil
}

// pause sleeps a random duration from the adapter's current range.
func (c *DetailCrawler) pause(ctx context.Context) error {
	return c.sleep(ctx, c.cc.Delays.NextInterval())
}

// process runs one item through the state machine. It returns ok=false when
// the item was interrupted by cancellation.
func (c *DetailCrawler) process(ctx context.Context, j job) (models.CrawlResult, bool) {
	id := j.Identifier
	res := models.CrawlResult{Identifier: id, State: models.StateInFlight}

	profile, cached := remote.CachedProfile(c.cc.Client, id)
	var err error
	if !cached {
		profile, err = retry.Execute(ctx, c.exec, "fetch_profile", func(ctx context.Context, ep proxy.Endpoint) (*models.Profile, error) {
			return c.cc.Client.FetchProfile(ctx, ep, id)
		})
	}
	if err != nil {
		if retry.IsCancelled(err) || ctx.Err() != nil {
			return res, false
		}
		res.Err = err
		res.Terminal = true
		switch {
		case errs.IsPrivate(err):
			res.Profile = remote.PrivateStub(id, c.now())
			res.Succeeded = true
			res.State = models.StateSucceededPartial
		case errs.IsRetriesExhausted(err):
			res.State = models.StateRetriesExhausted
		default:
			res.State = models.StateTerminalFailure
		}
		c.logResult(j, res)
		return res, true
	}

	if profile.Category == "" {
		profile.Category = remote.ClassifyCategory(profile.Biography)
	}
	res.Profile = profile
	res.Succeeded = true
	res.Terminal = true
	res.State = models.StateSucceeded

	if profile.IsPrivate || profile.MediaCount == 0 || c.opts.PostsPerItem <= 0 {
		c.logResult(j, res)
		return res, true
	}

	posts, err := retry.Execute(ctx, c.exec, "fetch_recent_items", func(ctx context.Context, ep proxy.Endpoint) ([]models.Post, error) {
		return c.cc.Client.FetchRecentItems(ctx, ep, profile, c.opts.PostsPerItem)
	})
	if err != nil {
		if retry.IsCancelled(err) || ctx.Err() != nil {
			return res, false
		}
		res.Err = err
		res.State = models.StateSucceededPartial
		c.logResult(j, res)
		return res, true
	}

	res.Posts = posts
	c.logResult(j, res)
	return res, true
}

func (c *DetailCrawler) logResult(j job, res models.CrawlResult) {
	fields := map[string]interface{}{
		"identifier": res.Identifier,
		"index":      j.Index,
		"state":      string(res.State),
		"posts":      len(res.Posts),
	}
	if res.Err != nil {
		fields["error"] = res.Err.Error()
		fields["error_type"] = string(errs.TypeOf(res.Err))
	}
	if res.State == models.StateSucceeded {
		c.logger.DebugWithFields("Item finished", fields)
		return
	}
	c.logger.WarnWithFields("Item finished", fields)
}

// collector is owned by the single goroutine draining the result channel,
// and by Run after that goroutine has exited.
type collector struct {
	c          *DetailCrawler
	start      time.Time
	profiles   []models.Profile
	posts      []models.Post
	sinceFlush int
	summary    Summary
}

func (col *collector) add(ctx context.Context, res models.CrawlResult) {
	c := col.c
	col.summary.Processed++
	switch res.State {
	case models.StateSucceeded:
		col.summary.Succeeded++
	case models.StateSucceededPartial:
		col.summary.Partial++
	case models.StateTerminalFailure:
		col.summary.Terminal++
	case models.StateRetriesExhausted:
		col.summary.Exhausted++
	}
	c.cc.Metrics.ItemFinished(ctx, res.State)

	if res.Profile != nil {
		col.profiles = append(col.profiles, *res.Profile)
	}
	col.posts = append(col.posts, res.Posts...)
	if res.Terminal && c.cc.Checkpoint != nil {
		c.cc.Checkpoint.Add(res.Identifier)
	}

	col.sinceFlush++
	if col.sinceFlush >= c.opts.SaveInterval {
		if err := col.flush(ctx); err != nil {
			c.logger.ErrorWithFields("Flush failed, records stay buffered", map[string]interface{}{
				"error": err.Error(),
			})
		}
	}
}

// flush writes buffered records to the sink and then persists the
// checkpoint. The buffer is kept when the sink write fails, and the
// checkpoint is not persisted, so the same records go out with the next
// flush.
func (col *collector) flush(ctx context.Context) error {
	c := col.c
	col.sinceFlush = 0
	col.summary.Flushes++

	if c.cc.Sink != nil && (len(col.profiles) > 0 || len(col.posts) > 0) {
		if err := c.cc.Sink.Write(ctx, col.profiles, col.posts); err != nil {
			c.cc.Metrics.Flushed(ctx, false)
			return fmt.Errorf("sink write failed: %w", err)
		}
		col.profiles = nil
		col.posts = nil
	}

	if c.cc.Checkpoint != nil {
		if err := c.cc.Checkpoint.Flush(); err != nil {
			c.cc.Metrics.Flushed(ctx, false)
			return fmt.Errorf("checkpoint flush failed: %w", err)
		}
	}
	c.cc.Metrics.Flushed(ctx, true)

	s := col.summary
	s.Elapsed = c.now().Sub(col.start)
	logger.LogCrawlProgress(c.logger, s.Processed, s.Total, s.Succeeded+s.Partial, s.Failed(), s.Elapsed)
	if c.opts.Progress != nil {
		c.opts.Progress(s)
	}
	return nil
}

// SplitIdentifiers parses a comma separated list such as the --users flag.
func SplitIdentifiers(list string) []string {
	var out []string
	for _, part := range strings.Split(list, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
