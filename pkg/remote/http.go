package remote

import (
	"context"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"strings"
	"sync"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/patrickmn/go-cache"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"igcrawler/pkg/auth"
	"igcrawler/pkg/config"
	errs "igcrawler/pkg/errors"
	"igcrawler/pkg/logger"
	"igcrawler/pkg/models"
	"igcrawler/pkg/proxy"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// appID is the web client id the API expects on every request.
const appID = "936619743392459"

// maxPages bounds pagination of a single logical call.
const maxPages = 10

// HTTPClient talks to the remote JSON API.
type HTTPClient struct {
	baseURL    string
	timeout    time.Duration
	userAgents []string
	username   string
	creds      *auth.Manager
	instrument bool

	mu      sync.Mutex
	clients map[string]*http.Client
	account *auth.Account
	rng     *rand.Rand

	profiles *cache.Cache
	now      func() time.Time
	logger   logger.Logger
}

type Option func(*HTTPClient)

// WithCredentials enables session handling through m.
func WithCredentials(m *auth.Manager) Option {
	return func(c *HTTPClient) { c.creds = m }
}

func WithLogger(l logger.Logger) Option {
	return func(c *HTTPClient) { c.logger = logger.ForComponent(l, "remote") }
}

func WithClock(now func() time.Time) Option {
	return func(c *HTTPClient) { c.now = now }
}

// WithInstrumentation wraps every transport with otelhttp.
func WithInstrumentation(enabled bool) Option {
	return func(c *HTTPClient) { c.instrument = enabled }
}

func WithRand(r *rand.Rand) Option {
	return func(c *HTTPClient) { c.rng = r }
}

// NewHTTPClient creates a client from the remote section of cfg.
func NewHTTPClient(cfg *config.Config, opts ...Option) *HTTPClient {
	ttl := cfg.Remote.ProfileCacheTTL.Std()
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}

	c := &HTTPClient{
		baseURL:    strings.TrimRight(cfg.Remote.BaseURL, "/"),
		timeout:    cfg.Remote.Timeout.Std(),
		userAgents: cfg.UserAgents,
		username:   cfg.Remote.Username,
		clients:    make(map[string]*http.Client),
		rng:        rand.New(rand.NewSource(time.Now().UnixNano())),
		profiles:   cache.New(ttl, 2*ttl),
		now:        time.Now,
		logger:     logger.NewNopLogger(),
	}
	if len(c.userAgents) == 0 {
		c.userAgents = config.DefaultUserAgents
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

var _ Client = (*HTTPClient)(nil)

var _ ProfileCache = (*HTTPClient)(nil)

// CachedProfile returns a copy of the profile fetched for username within the
// cache TTL.
func (c *HTTPClient) CachedProfile(username string) (*models.Profile, bool) {
	cached, ok := c.profiles.Get(SanitizeUsername(username))
	if !ok {
		return nil, false
	}
	p := *cached.(*models.Profile)
	return &p, true
}

// FetchProfile asks the remote for the profile of username and refreshes the
// cache behind CachedProfile.
func (c *HTTPClient) FetchProfile(ctx context.Context, ep proxy.Endpoint, username string) (*models.Profile, error) {
	username = SanitizeUsername(username)
	if !IsValidUsername(username) {
		return nil, errs.NotFound(fmt.Sprintf("invalid username %q", username))
	}

	var resp ProfileResponse
	if err := c.getJSON(ctx, ep, profileURL(c.baseURL, username), &resp); err != nil {
		return nil, err
	}
	if resp.RequiresToLogin {
		return nil, errs.AuthExpired("login required to view profile")
	}
	if resp.Data.User == nil {
		return nil, errs.NotFound(fmt.Sprintf("user %s not found", username))
	}

	profile := resp.Data.User.ToProfile(c.now())
	if profile.Username == "" {
		profile.Username = username
	}
	c.profiles.Set(username, profile, cache.DefaultExpiration)

	c.logger.DebugWithFields("fetched profile", map[string]interface{}{
		"username":  username,
		"followers": profile.FollowerCount,
		"private":   profile.IsPrivate,
	})
	out := *profile
	return &out, nil
}

// FetchRecentItems returns up to count recent posts of owner.
func (c *HTTPClient) FetchRecentItems(ctx context.Context, ep proxy.Endpoint, owner *models.Profile, count int) ([]models.Post, error) {
	if owner == nil || owner.PK == 0 {
		return nil, errs.Transient("owner has no pk", nil)
	}

	var posts []models.Post
	maxID := ""
	for page := 0; page < maxPages && len(posts) < count; page++ {
		var feed FeedResponse
		if err := c.getJSON(ctx, ep, userFeedURL(c.baseURL, owner.PK, count-len(posts), maxID), &feed); err != nil {
			return nil, err
		}
		for i := range feed.Items {
			if len(posts) == count {
				break
			}
			posts = append(posts, feed.Items[i].ToPost(owner))
		}
		if !feed.MoreAvailable || feed.NextMaxID == "" {
			break
		}
		maxID = feed.NextMaxID
	}
	return posts, nil
}

// SearchByTag collects distinct usernames from the tag feed.
func (c *HTTPClient) SearchByTag(ctx context.Context, ep proxy.Endpoint, tag string, count int, mode SearchMode) ([]string, error) {
	tag = NormalizeTag(tag)
	if tag == "" {
		return nil, errs.NotFound("empty hashtag")
	}
	if mode == "" {
		mode = SearchRecent
	}

	seen := make(map[string]bool)
	var usernames []string
	maxID := ""
	for page := 0; page < maxPages && len(usernames) < count; page++ {
		var feed FeedResponse
		if err := c.getJSON(ctx, ep, tagFeedURL(c.baseURL, tag, count, mode, maxID), &feed); err != nil {
			return nil, err
		}
		for _, item := range feed.Items {
			name := item.User.Username
			if name == "" || seen[name] {
				continue
			}
			seen[name] = true
			usernames = append(usernames, name)
			if len(usernames) == count {
				break
			}
		}
		if !feed.MoreAvailable || feed.NextMaxID == "" {
			break
		}
		maxID = feed.NextMaxID
	}

	c.logger.DebugWithFields("tag search finished", map[string]interface{}{
		"tag":       tag,
		"mode":      string(mode),
		"usernames": len(usernames),
	})
	return usernames, nil
}

// FetchFollowers returns up to count follower usernames of username.
func (c *HTTPClient) FetchFollowers(ctx context.Context, ep proxy.Endpoint, username string, count int) ([]string, error) {
	owner, ok := c.CachedProfile(username)
	if !ok {
		var err error
		if owner, err = c.FetchProfile(ctx, ep, username); err != nil {
			return nil, err
		}
	}
	if owner.IsPrivate {
		return nil, errs.Private(fmt.Sprintf("followers of %s are private", owner.Username))
	}

	var usernames []string
	maxID := ""
	for page := 0; page < maxPages && len(usernames) < count; page++ {
		var resp FollowersResponse
		if err := c.getJSON(ctx, ep, followersURL(c.baseURL, owner.PK, count-len(usernames), maxID), &resp); err != nil {
			return nil, err
		}
		for _, u := range resp.Users {
			if u.Username == "" {
				continue
			}
			usernames = append(usernames, u.Username)
			if len(usernames) == count {
				break
			}
		}
		if resp.NextMaxID == "" {
			break
		}
		maxID = resp.NextMaxID
	}
	return usernames, nil
}

// Close releases idle connections of every cached transport.
func (c *HTTPClient) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, hc := range c.clients {
		hc.CloseIdleConnections()
	}
}

func (c *HTTPClient) getJSON(ctx context.Context, ep proxy.Endpoint, url string, target interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return errs.Configuration("failed to create request", err)
	}
	body, _, err := c.do(req, ep)
	if err != nil {
		return err
	}
	return c.decode(url, body, target)
}

func (c *HTTPClient) decode(url string, body []byte, target interface{}) error {
	if err := json.Unmarshal(body, target); err != nil {
		preview := string(body)
		if len(preview) > 200 {
			preview = preview[:200] + "..."
		}
		c.logger.ErrorWithFields("failed to parse JSON response", map[string]interface{}{
			"url":          url,
			"error":        err.Error(),
			"body_preview": preview,
		})
		return errs.Transient("malformed response", err)
	}
	return nil
}

// do sends req through ep and returns the body of a successful response.
func (c *HTTPClient) do(req *http.Request, ep proxy.Endpoint) ([]byte, *http.Response, error) {
	hc, err := c.clientFor(ep)
	if err != nil {
		return nil, nil, err
	}
	c.setHeaders(req)

	start := time.Now()
	c.logger.DebugWithFields("sending HTTP request", map[string]interface{}{
		"method": req.Method,
		"url":    req.URL.Path,
		"proxy":  ep.String(),
	})

	resp, err := hc.Do(req)
	if err != nil {
		if ctxErr := req.Context().Err(); ctxErr != nil {
			return nil, nil, ctxErr
		}
		c.logger.WarnWithFields("HTTP request failed", map[string]interface{}{
			"url":      req.URL.Path,
			"proxy":    ep.String(),
			"error":    err.Error(),
			"duration": time.Since(start),
		})
		return nil, nil, errs.Transient("network error", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		if ctxErr := req.Context().Err(); ctxErr != nil {
			return nil, nil, ctxErr
		}
		return nil, nil, errs.Transient("failed to read response body", err)
	}

	c.logger.DebugWithFields("HTTP request completed", map[string]interface{}{
		"url":      req.URL.Path,
		"status":   resp.StatusCode,
		"duration": time.Since(start),
	})

	if err := classifyResponse(resp.StatusCode, body); err != nil {
		c.logger.WarnWithFields("remote returned an error", map[string]interface{}{
			"url":    req.URL.Path,
			"status": resp.StatusCode,
			"type":   string(errs.TypeOf(err)),
		})
		return nil, resp, err
	}
	return body, resp, nil
}

type apiStatus struct {
	Message         string `json:"message"`
	Status          string `json:"status"`
	RequiresToLogin bool   `json:"requires_to_login"`
}

// classifyResponse maps a status code and body onto the error taxonomy.
func classifyResponse(code int, body []byte) error {
	var status apiStatus
	_ = json.Unmarshal(body, &status)
	msg := strings.ToLower(status.Message)

	switch {
	case status.RequiresToLogin,
		strings.Contains(msg, "login_required"),
		strings.Contains(msg, "checkpoint_required"),
		strings.Contains(msg, "challenge_required"):
		return errs.AuthExpired(nonEmpty(status.Message, "login required"))
	case code == http.StatusBadRequest && strings.Contains(msg, "wait a few minutes"):
		return errs.RateLimited(status.Message)
	}

	if code >= 200 && code < 300 {
		return nil
	}
	if e := errs.FromStatusCode(code, nonEmpty(status.Message, http.StatusText(code))); e != nil {
		return e
	}
	return nil
}

func nonEmpty(s, fallback string) string {
	if s != "" {
		return s
	}
	return fallback
}

func (c *HTTPClient) setHeaders(req *http.Request) {
	c.mu.Lock()
	ua := c.userAgents[c.rng.Intn(len(c.userAgents))]
	account := c.account
	c.mu.Unlock()

	if account != nil && account.UserAgent != "" {
		ua = account.UserAgent
	}
	req.Header.Set("User-Agent", ua)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Accept-Language", "en-US,en;q=0.9")
	req.Header.Set("X-IG-App-ID", appID)
	if account != nil {
		req.Header.Set("Cookie", fmt.Sprintf("sessionid=%s; csrftoken=%s", account.SessionID, account.CSRFToken))
		req.Header.Set("X-CSRFToken", account.CSRFToken)
	}
}

// clientFor returns the http.Client bound to ep, creating it once.
func (c *HTTPClient) clientFor(ep proxy.Endpoint) (*http.Client, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if hc, ok := c.clients[ep.Address]; ok {
		return hc, nil
	}

	tr := &http.Transport{
		MaxIdleConnsPerHost: 4,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
	}
	if !ep.IsDirect() {
		u, err := ep.URL()
		if err != nil {
			return nil, errs.Configuration(fmt.Sprintf("invalid proxy %s", ep), err)
		}
		tr.Proxy = http.ProxyURL(u)
	}

	var rt http.RoundTripper = tr
	if c.instrument {
		rt = otelhttp.NewTransport(tr)
	}
	hc := &http.Client{Timeout: c.timeout, Transport: rt}
	c.clients[ep.Address] = hc
	return hc, nil
}
