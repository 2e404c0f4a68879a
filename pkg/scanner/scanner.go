package scanner

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"igcrawler/pkg/checkpoint"
	"igcrawler/pkg/config"
	"igcrawler/pkg/crawler"
	errs "igcrawler/pkg/errors"
	"igcrawler/pkg/logger"
	"igcrawler/pkg/models"
	"igcrawler/pkg/proxy"
	"igcrawler/pkg/ratelimit"
	"igcrawler/pkg/remote"
	"igcrawler/pkg/retry"
)

// Fallback steps recorded in ScanState.FallbackUsed.
const (
	FallbackFollowers = "popular_followers"
	FallbackDirect    = "direct_accounts"
)

// Options tune a TagScanner.
type Options struct {
	Workers             int
	PerTag              int
	TopMax              int
	Limit               int
	MinDiscovered       int
	PopularAccounts     []string
	FollowersPerAccount int
	MaxFollowers        int
	FallbackAccounts    []string
	RequestsPerMinute   int
	Burst               int
	MaxRetries          int
	UsernamesFile       string
	ScanStateFile       string

	Sleeper retry.Sleeper
	Limiter ratelimit.Limiter
}

func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		Workers:             cfg.MaxWorkers,
		PerTag:              cfg.Scan.PerTag,
		TopMax:              cfg.Scan.TopMax,
		Limit:               cfg.Scan.Limit,
		MinDiscovered:       cfg.Scan.MinDiscovered,
		PopularAccounts:     cfg.Scan.PopularAccounts,
		FollowersPerAccount: cfg.Scan.FollowersPerAccount,
		MaxFollowers:        cfg.Scan.MaxFollowers,
		FallbackAccounts:    cfg.Scan.FallbackAccounts,
		RequestsPerMinute:   cfg.Scan.RequestsPerMinute,
		Burst:               cfg.Scan.Burst,
		MaxRetries:          cfg.Retry.MaxRetries,
		UsernamesFile:       cfg.Data.UsernamesFile,
		ScanStateFile:       cfg.Data.ScanStateFile,
	}
}

// TagScanner discovers usernames from hashtags and appends them to the
// usernames file.
type TagScanner struct {
	cc        *crawler.CrawlContext
	opts      Options
	exec      *retry.Executor
	limiter   ratelimit.Limiter
	usernames *checkpoint.Store
	states    *checkpoint.StateManager
	logger    logger.Logger

	mu           sync.Mutex // guards state saves
	lastFallback string
}

// New opens the usernames file and the scan-state file.
func New(cc *crawler.CrawlContext, opts Options) (*TagScanner, error) {
	if err := cc.Validate(); err != nil {
		return nil, errs.Configuration("invalid crawl context", err)
	}
	if opts.UsernamesFile == "" {
		return nil, errs.Configuration("usernames file is not set", nil)
	}
	if opts.Workers < 1 {
		opts.Workers = 1
	}
	if opts.PerTag < 1 {
		opts.PerTag = 100
	}
	if opts.TopMax < 1 {
		opts.TopMax = remote.MaxPageSize
	}

	log := cc.Logger
	if log == nil {
		log = logger.NewNopLogger()
	}
	log = logger.ForComponent(log, "scanner")

	usernames, err := checkpoint.Open(opts.UsernamesFile, log)
	if err != nil {
		return nil, errs.Configuration("failed to open usernames file", err)
	}

	limiter := opts.Limiter
	if limiter == nil {
		limiter = ratelimit.PerMinute(opts.RequestsPerMinute, opts.Burst)
	}

	s := &TagScanner{
		cc:        cc,
		opts:      opts,
		limiter:   limiter,
		usernames: usernames,
		logger:    log,
	}
	if opts.ScanStateFile != "" {
		s.states = checkpoint.NewStateManager(opts.ScanStateFile, log)
	}

	execOpts := []retry.ExecutorOption{
		retry.WithReauthenticator(cc.Client),
		retry.WithLogger(log),
		retry.WithOnRetry(func(_ int, err error, _ time.Duration) {
			if errs.IsRateLimited(err) {
				cc.Metrics.RateLimited(context.Background())
			}
		}),
	}
	if opts.Sleeper != nil {
		execOpts = append(execOpts, retry.WithSleeper(opts.Sleeper))
	}
	s.exec = retry.NewExecutor(cc.Proxies, cc.Delays, opts.MaxRetries, execOpts...)
	return s, nil
}

// Fallback names the fallback steps the last Scan used, comma separated.
func (s *TagScanner) Fallback() string {
	return s.lastFallback
}

// Usernames returns every discovered username in discovery order.
func (s *TagScanner) Usernames() []string {
	return s.usernames.Ordered()
}

// Scan searches every tag not yet processed and returns the discovered
// usernames, at most limit of them. A non-positive limit uses the
// configured one.
func (s *TagScanner) Scan(ctx context.Context, tags []string, limit int) ([]string, error) {
	if limit <= 0 {
		limit = s.opts.Limit
	}

	state, err := s.loadState()
	if err != nil {
		return nil, err
	}

	pending := s.pendingTags(tags, state)
	logger.LogComponentStart(s.logger, "scanner", map[string]interface{}{
		"tags":     len(pending),
		"skipped":  len(tags) - len(pending),
		"limit":    limit,
		"existing": s.usernames.Len(),
	})

	scanErr := s.scanTags(ctx, pending, limit, state)

	if scanErr == nil && ctx.Err() == nil && s.usernames.Len() < s.opts.MinDiscovered {
		scanErr = s.fallback(ctx, limit, state)
	}

	if err := s.usernames.Flush(); err != nil {
		return nil, fmt.Errorf("failed to save usernames: %w", err)
	}
	state.DiscoveredCount = s.usernames.Len()
	s.lastFallback = state.FallbackUsed
	if err := s.saveState(state); err != nil {
		return nil, err
	}

	found := s.usernames.Ordered()
	if limit > 0 && len(found) > limit {
		found = found[:limit]
	}
	s.logger.InfoWithFields("Scan finished", map[string]interface{}{
		"discovered": len(found),
		"fallback":   state.FallbackUsed,
	})
	return found, scanErr
}

func (s *TagScanner) pendingTags(tags []string, state *models.ScanState) []string {
	seen := make(map[string]bool, len(tags))
	var pending []string
	for _, tag := range tags {
		tag = remote.NormalizeTag(tag)
		if tag == "" || seen[tag] || state.HasTag(tag) {
			continue
		}
		seen[tag] = true
		pending = append(pending, tag)
	}
	return pending
}

func (s *TagScanner) scanTags(ctx context.Context, tags []string, limit int, state *models.ScanState) error {
	if len(tags) == 0 || s.full(limit) {
		return nil
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(min(s.opts.Workers, len(tags)))

	for _, tag := range tags {
		g.Go(func() error {
			if s.full(limit) || gctx.Err() != nil {
				return nil
			}

			names, err := s.searchTag(gctx, tag)
			if err != nil {
				if retry.IsCancelled(err) {
					return err
				}
				s.logger.WarnWithFields("Tag search failed", map[string]interface{}{
					"tag":   tag,
					"error": err.Error(),
				})
				if !errs.IsTerminal(err) {
					// left unmarked so the next run tries it again
					return nil
				}
			}

			added := s.usernames.Add(names...)
			s.cc.Metrics.Discovered(gctx, tag, added)
			s.logger.InfoWithFields("Tag scanned", map[string]interface{}{
				"tag":   tag,
				"found": len(names),
				"new":   added,
				"total": s.usernames.Len(),
			})

			if err := s.usernames.Flush(); err != nil {
				return fmt.Errorf("failed to save usernames: %w", err)
			}
			return s.markTag(state, tag)
		})
	}
	return g.Wait()
}

// searchTag tries the recent feed first and falls back to the top feed on
// a non-terminal failure.
func (s *TagScanner) searchTag(ctx context.Context, tag string) ([]string, error) {
	names, err := s.search(ctx, tag, s.opts.PerTag, remote.SearchRecent)
	if err == nil || errs.IsTerminal(err) || retry.IsCancelled(err) {
		return names, err
	}

	amount := min(s.opts.TopMax, s.opts.PerTag)
	s.logger.InfoWithFields("Falling back to top posts", map[string]interface{}{
		"tag":    tag,
		"amount": amount,
		"error":  err.Error(),
	})
	return s.search(ctx, tag, amount, remote.SearchTop)
}

func (s *TagScanner) search(ctx context.Context, tag string, amount int, mode remote.SearchMode) ([]string, error) {
	return retry.Execute(ctx, s.exec, "search_tag_"+string(mode), func(ctx context.Context, ep proxy.Endpoint) ([]string, error) {
		if err := s.limiter.Wait(ctx); err != nil {
			return nil, err
		}
		return s.cc.Client.SearchByTag(ctx, ep, tag, amount, mode)
	})
}

func (s *TagScanner) full(limit int) bool {
	return limit > 0 && s.usernames.Len() >= limit
}

func (s *TagScanner) loadState() (*models.ScanState, error) {
	var state *models.ScanState
	if s.states != nil {
		loaded, err := s.states.Load()
		if err != nil {
			return nil, fmt.Errorf("failed to load scan state: %w", err)
		}
		state = loaded
	}
	if state == nil {
		state = &models.ScanState{RunID: s.cc.RunID}
		if state.RunID == "" {
			state.RunID = logger.NewRunID()
		}
	}
	return state, nil
}

func (s *TagScanner) markTag(state *models.ScanState, tag string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	total := s.usernames.Len()
	if s.states == nil {
		if !state.HasTag(tag) {
			state.TagsProcessed = append(state.TagsProcessed, tag)
		}
		state.LastTag = tag
		state.DiscoveredCount = total
		return nil
	}
	if err := s.states.MarkTag(state, tag, total); err != nil {
		return fmt.Errorf("failed to save scan state: %w", err)
	}
	return nil
}

func (s *TagScanner) saveState(state *models.ScanState) error {
	if s.states == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.states.Save(state); err != nil {
		return fmt.Errorf("failed to save scan state: %w", err)
	}
	return nil
}
