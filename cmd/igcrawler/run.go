package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"igcrawler/pkg/auth"
	"igcrawler/pkg/checkpoint"
	"igcrawler/pkg/config"
	"igcrawler/pkg/crawler"
	"igcrawler/pkg/delay"
	errs "igcrawler/pkg/errors"
	"igcrawler/pkg/logger"
	"igcrawler/pkg/proxy"
	"igcrawler/pkg/remote"
	"igcrawler/pkg/scanner"
	"igcrawler/pkg/sink"
	"igcrawler/pkg/telemetry"
	"igcrawler/pkg/ui"
)

// loadConfig resolves the configuration for cmd. Every failure is a
// configuration error.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.Load(configFile, commandFlags(cmd))
	if err != nil {
		return nil, errs.Configuration("invalid configuration", err)
	}
	if err := logger.Initialize(&cfg.Logging); err != nil {
		return nil, errs.Configuration("failed to initialize logger", err)
	}
	return cfg, nil
}

func runCrawl(cmd *cobra.Command, args []string) error {
	if mode != modeDetail && mode != modeScan {
		return errs.Configuration(fmt.Sprintf("unknown mode %q (want detail or scan)", mode), nil)
	}

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	log := logger.GetLogger()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rt, err := buildRuntime(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer rt.close()

	opts := crawler.OptionsFromConfig(cfg)
	opts.DryRun = dryRun
	opts.Rescrape = rescrape
	opts.MaxItems = maxUsers

	var progress *ui.ProgressLine
	if showProgress {
		progress = ui.NewProgressLine(os.Stderr)
		opts.Progress = progress.Update
	}

	var summary crawler.Summary
	switch mode {
	case modeScan:
		summary, err = runScan(ctx, rt.cc, cfg, opts)
	default:
		summary, err = runDetail(ctx, rt.cc, cfg, opts)
	}
	if progress != nil {
		progress.Done()
	}
	if err != nil {
		return err
	}

	if !quiet {
		fmt.Println(ui.RenderSummary(summary))
	}
	return nil
}

func runDetail(ctx context.Context, cc *crawler.CrawlContext, cfg *config.Config, opts crawler.Options) (crawler.Summary, error) {
	ids, source, err := workList(cfg)
	if err != nil {
		return crawler.Summary{}, err
	}
	cc.Logger.InfoWithFields("Work list loaded", map[string]interface{}{
		"source": source,
		"count":  len(ids),
	})

	c, err := crawler.New(cc, opts)
	if err != nil {
		return crawler.Summary{}, err
	}
	return c.Run(ctx, ids)
}

func runScan(ctx context.Context, cc *crawler.CrawlContext, cfg *config.Config, opts crawler.Options) (crawler.Summary, error) {
	if len(cfg.TargetHashtags) == 0 {
		return crawler.Summary{}, errs.Configuration("no hashtags to scan: use --tags or target_hashtags", nil)
	}

	s, err := scanner.New(cc, scanner.OptionsFromConfig(cfg))
	if err != nil {
		return crawler.Summary{}, err
	}
	summary, err := s.RunTwoPhase(ctx, cfg.TargetHashtags, cfg.Scan.Limit, opts)
	if !quiet {
		found := s.Usernames()
		fmt.Println(ui.RenderScan(len(found), s.Fallback(), found))
	}
	return summary, err
}

// workList picks the usernames for detail mode: explicit identifiers
// (--users or target_identifiers) first, then the usernames file.
func workList(cfg *config.Config) ([]string, string, error) {
	if len(cfg.TargetIdentifiers) > 0 {
		return cfg.TargetIdentifiers, "identifiers", nil
	}

	store, err := checkpoint.Open(cfg.Data.UsernamesFile, logger.NewNopLogger())
	if err != nil {
		return nil, "", errs.Configuration("failed to read usernames file", err)
	}
	ids := store.Ordered()
	if len(ids) == 0 {
		return nil, "", errs.ErrNoWorkItems
	}
	return ids, cfg.Data.UsernamesFile, nil
}

// crawlRuntime owns everything a run opens.
type crawlRuntime struct {
	cc      *crawler.CrawlContext
	client  *remote.HTTPClient
	sink    sink.Sink
	metrics *telemetry.Metrics
	log     logger.Logger
}

func buildRuntime(ctx context.Context, cfg *config.Config, log logger.Logger) (*crawlRuntime, error) {
	runID := logger.NewRunID()
	log = log.WithField("run_id", runID)

	metrics, err := telemetry.Setup(ctx, cfg, log)
	if err != nil {
		return nil, errs.Configuration("failed to set up telemetry", err)
	}

	store, err := checkpoint.Open(cfg.Data.CheckpointFile, log)
	if err != nil {
		return nil, errs.Configuration("failed to open checkpoint", err)
	}

	creds, err := auth.NewManager(cfg.Remote.SessionFile, log)
	if err != nil {
		return nil, errs.Configuration("failed to open credential stores", err)
	}
	client := remote.NewHTTPClient(cfg,
		remote.WithCredentials(creds),
		remote.WithLogger(log),
		remote.WithInstrumentation(cfg.Telemetry.Enabled))
	if err := client.Authenticate(ctx); err != nil {
		client.Close()
		return nil, err
	}

	out, err := sink.New(ctx, cfg, log)
	if err != nil {
		client.Close()
		return nil, err
	}

	cc := &crawler.CrawlContext{
		Proxies:    proxy.NewPool(cfg.Proxies, proxy.SettingsFromConfig(cfg), proxy.WithLogger(log)),
		Delays:     delay.New(delay.SettingsFromConfig(cfg), delay.WithLogger(log)),
		Checkpoint: store,
		Sink:       out,
		Client:     client,
		Metrics:    metrics,
		Logger:     log,
		RunID:      runID,
	}
	return &crawlRuntime{cc: cc, client: client, sink: out, metrics: metrics, log: log}, nil
}

func (r *crawlRuntime) close() {
	if err := r.sink.Close(); err != nil {
		r.log.WithError(err).Warn("failed to close sink")
	}
	r.client.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := r.metrics.Shutdown(ctx); err != nil {
		r.log.WithError(err).Warn("failed to flush metrics")
	}
}
