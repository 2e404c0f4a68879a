package scanner

import (
	"context"
	"strings"

	errs "igcrawler/pkg/errors"
	"igcrawler/pkg/models"
	"igcrawler/pkg/proxy"
	"igcrawler/pkg/remote"
	"igcrawler/pkg/retry"
)

// fallback runs when tag search came up short: first the followers of
// well-known accounts, then the fixed account list, each entry checked to
// exist before it is kept.
func (s *TagScanner) fallback(ctx context.Context, limit int, state *models.ScanState) error {
	s.logger.WarnWithFields("Too few usernames from tags, using fallbacks", map[string]interface{}{
		"discovered": s.usernames.Len(),
		"minimum":    s.opts.MinDiscovered,
	})

	var used []string
	if len(s.opts.PopularAccounts) > 0 {
		used = append(used, FallbackFollowers)
		if err := s.collectFollowers(ctx, limit); err != nil {
			state.FallbackUsed = strings.Join(used, ",")
			return err
		}
	}

	if s.usernames.Len() < s.opts.MinDiscovered && len(s.opts.FallbackAccounts) > 0 {
		used = append(used, FallbackDirect)
		if err := s.collectDirect(ctx, limit); err != nil {
			state.FallbackUsed = strings.Join(used, ",")
			return err
		}
	}

	state.FallbackUsed = strings.Join(used, ",")
	return nil
}

func (s *TagScanner) collectFollowers(ctx context.Context, limit int) error {
	perAccount := s.opts.FollowersPerAccount
	if perAccount < 1 {
		perAccount = 10
	}
	maxTotal := s.opts.MaxFollowers
	collected := 0

	for _, account := range s.opts.PopularAccounts {
		if maxTotal > 0 && collected >= maxTotal {
			break
		}
		if s.full(limit) {
			break
		}
		amount := perAccount
		if maxTotal > 0 {
			amount = min(amount, maxTotal-collected)
		}

		names, err := retry.Execute(ctx, s.exec, "fetch_followers", func(ctx context.Context, ep proxy.Endpoint) ([]string, error) {
			if err := s.limiter.Wait(ctx); err != nil {
				return nil, err
			}
			return s.cc.Client.FetchFollowers(ctx, ep, account, amount)
		})
		if err != nil {
			if retry.IsCancelled(err) {
				return err
			}
			s.logger.WarnWithFields("Skipping popular account", map[string]interface{}{
				"account": account,
				"error":   err.Error(),
			})
			continue
		}

		if len(names) > amount {
			names = names[:amount]
		}
		added := s.usernames.Add(names...)
		collected += len(names)
		s.cc.Metrics.Discovered(ctx, FallbackFollowers, added)
		s.logger.InfoWithFields("Followers collected", map[string]interface{}{
			"account": account,
			"found":   len(names),
			"new":     added,
		})
	}
	return s.usernames.Flush()
}

func (s *TagScanner) collectDirect(ctx context.Context, limit int) error {
	for _, account := range s.opts.FallbackAccounts {
		if s.full(limit) {
			break
		}
		account = remote.SanitizeUsername(account)
		if account == "" || s.usernames.Contains(account) {
			continue
		}

		profile, cached := remote.CachedProfile(s.cc.Client, account)
		var err error
		if !cached {
			profile, err = retry.Execute(ctx, s.exec, "verify_account", func(ctx context.Context, ep proxy.Endpoint) (*models.Profile, error) {
				if err := s.limiter.Wait(ctx); err != nil {
					return nil, err
				}
				return s.cc.Client.FetchProfile(ctx, ep, account)
			})
		}
		switch {
		case err == nil:
			s.usernames.Add(profile.Username)
			s.cc.Metrics.Discovered(ctx, FallbackDirect, 1)
		case retry.IsCancelled(err):
			return err
		case errs.IsPrivate(err):
			// private accounts still exist and can be crawled as stubs
			s.usernames.Add(account)
			s.cc.Metrics.Discovered(ctx, FallbackDirect, 1)
		default:
			s.logger.WarnWithFields("Fallback account unavailable", map[string]interface{}{
				"account": account,
				"error":   err.Error(),
			})
		}
	}
	return s.usernames.Flush()
}
