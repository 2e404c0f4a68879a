package scanner

import (
	"context"
	"fmt"

	"igcrawler/pkg/crawler"
	"igcrawler/pkg/logger"
)

// RunTwoPhase discovers usernames from tags, persists them, then crawls the
// whole usernames file. The crawl phase gets a forked delay adapter, so rate
// limits hit during discovery do not stretch detail-fetch retries.
func (s *TagScanner) RunTwoPhase(ctx context.Context, tags []string, limit int, opts crawler.Options) (crawler.Summary, error) {
	found, err := s.Scan(ctx, tags, limit)
	if err != nil {
		if ctx.Err() != nil {
			return crawler.Summary{Interrupted: true}, nil
		}
		if len(found) == 0 {
			return crawler.Summary{}, fmt.Errorf("scan failed: %w", err)
		}
		s.logger.WarnWithFields("Scan finished with errors, crawling what was found", map[string]interface{}{
			"found": len(found),
			"error": err.Error(),
		})
	}

	logger.LogComponentStop(s.logger, "scanner", "completed")

	detail := *s.cc
	detail.Delays = s.cc.Delays.Fork()
	dc, err := crawler.New(&detail, opts)
	if err != nil {
		return crawler.Summary{}, err
	}
	return dc.Run(ctx, s.Usernames())
}
