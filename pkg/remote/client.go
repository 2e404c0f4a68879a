package remote

import (
	"context"

	"igcrawler/pkg/models"
	"igcrawler/pkg/proxy"
)

// Client is the remote API as the crawler sees it. Every call goes out
// through the given endpoint and returns errors classified by pkg/errors.
type Client interface {
	FetchProfile(ctx context.Context, ep proxy.Endpoint, username string) (*models.Profile, error)
	FetchRecentItems(ctx context.Context, ep proxy.Endpoint, owner *models.Profile, count int) ([]models.Post, error)
	// SearchByTag returns the usernames of accounts posting under tag.
	SearchByTag(ctx context.Context, ep proxy.Endpoint, tag string, count int, mode SearchMode) ([]string, error)
	FetchFollowers(ctx context.Context, ep proxy.Endpoint, username string, count int) ([]string, error)

	Authenticate(ctx context.Context) error
	Reauthenticate(ctx context.Context) error
}

// ProfileCache is implemented by clients that keep recently fetched profiles.
// Callers consult it before the retry executor, so a hit records no latency
// sample and uses no endpoint.
type ProfileCache interface {
	CachedProfile(username string) (*models.Profile, bool)
}

// CachedProfile returns username's cached profile when c keeps a cache.
func CachedProfile(c Client, username string) (*models.Profile, bool) {
	pc, ok := c.(ProfileCache)
	if !ok {
		return nil, false
	}
	return pc.CachedProfile(username)
}
