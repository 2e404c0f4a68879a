package remote

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"igcrawler/pkg/auth"
	"igcrawler/pkg/config"
	errs "igcrawler/pkg/errors"
	"igcrawler/pkg/models"
	"igcrawler/pkg/proxy"
)

var direct = proxy.Endpoint{Address: proxy.Direct}

func newTestClient(t *testing.T, handler http.HandlerFunc, opts ...Option) *HTTPClient {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	cfg := config.DefaultConfig()
	cfg.Remote.BaseURL = server.URL
	cfg.Remote.Timeout = config.Duration(5 * time.Second)
	cfg.Remote.Username = ""

	fixed := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	opts = append([]Option{WithClock(func() time.Time { return fixed })}, opts...)
	c := NewHTTPClient(cfg, opts...)
	t.Cleanup(c.Close)
	return c
}

const aliceProfile = `{"data":{"user":{"id":"42","username":"alice","full_name":"Alice",
"biography":"color lens shop","is_private":false,
"edge_followed_by":{"count":1200},"edge_follow":{"count":80},
"edge_owner_to_timeline_media":{"count":15}}},"status":"ok"}`

func TestFetchProfile(t *testing.T) {
	var hits int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		assert.Equal(t, profilePath, r.URL.Path)
		assert.Equal(t, appID, r.Header.Get("X-IG-App-ID"))
		assert.NotEmpty(t, r.Header.Get("User-Agent"))
		switch r.URL.Query().Get("username") {
		case "alice":
			fmt.Fprint(w, aliceProfile)
		case "ghost":
			fmt.Fprint(w, `{"data":{"user":null},"status":"ok"}`)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	})
	ctx := context.Background()

	t.Run("decodes and classifies", func(t *testing.T) {
		p, err := c.FetchProfile(ctx, direct, "@alice")
		require.NoError(t, err)
		assert.Equal(t, "alice", p.Username)
		assert.Equal(t, int64(42), p.PK)
		assert.Equal(t, 1200, p.FollowerCount)
		assert.Equal(t, 80, p.FollowingCount)
		assert.Equal(t, 15, p.MediaCount)
		assert.Equal(t, CategoryLens, p.Category)
		assert.False(t, p.IsPrivate)
	})

	t.Run("cached after a fetch", func(t *testing.T) {
		before := atomic.LoadInt32(&hits)
		p, ok := c.CachedProfile("@alice")
		require.True(t, ok)
		assert.Equal(t, "alice", p.Username)
		assert.Equal(t, before, atomic.LoadInt32(&hits))

		p.FullName = "changed"
		again, ok := CachedProfile(c, "alice")
		require.True(t, ok)
		assert.Equal(t, "Alice", again.FullName)

		_, ok = c.CachedProfile("nobody")
		assert.False(t, ok)
	})

	t.Run("fetch always asks the remote", func(t *testing.T) {
		before := atomic.LoadInt32(&hits)
		_, err := c.FetchProfile(ctx, direct, "alice")
		require.NoError(t, err)
		assert.Equal(t, before+1, atomic.LoadInt32(&hits))
	})

	t.Run("null user is not found", func(t *testing.T) {
		_, err := c.FetchProfile(ctx, direct, "ghost")
		assert.True(t, errs.IsNotFound(err))
	})

	t.Run("404 is not found", func(t *testing.T) {
		_, err := c.FetchProfile(ctx, direct, "nobody")
		assert.True(t, errs.IsNotFound(err))
	})

	t.Run("invalid username never leaves the client", func(t *testing.T) {
		before := atomic.LoadInt32(&hits)
		_, err := c.FetchProfile(ctx, direct, "bad name!")
		assert.True(t, errs.IsNotFound(err))
		assert.Equal(t, before, atomic.LoadInt32(&hits))
	})
}

func TestFetchProfileErrors(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		check  func(error) bool
	}{
		{"rate limited", http.StatusTooManyRequests, `{}`, errs.IsRateLimited},
		{"wait a few minutes", http.StatusBadRequest, `{"message":"Please wait a few minutes before you try again."}`, errs.IsRateLimited},
		{"unauthorized", http.StatusUnauthorized, `{}`, errs.IsAuthExpired},
		{"login required body", http.StatusOK, `{"requires_to_login":true}`, errs.IsAuthExpired},
		{"login_required message", http.StatusBadRequest, `{"message":"login_required","status":"fail"}`, errs.IsAuthExpired},
		{"private", http.StatusForbidden, `{}`, errs.IsPrivate},
		{"server error", http.StatusBadGateway, `{}`, errs.IsRecoverable},
		{"malformed", http.StatusOK, `{not json`, func(err error) bool {
			return errs.TypeOf(err) == errs.ErrorTypeTransient
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				fmt.Fprint(w, tt.body)
			})
			_, err := c.FetchProfile(context.Background(), direct, "alice")
			require.Error(t, err)
			assert.True(t, tt.check(err), "unexpected classification: %v", err)
		})
	}
}

func TestFetchProfileCancelled(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, aliceProfile)
	})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := c.FetchProfile(ctx, direct, "alice")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestFetchRecentItemsPaginates(t *testing.T) {
	var pages int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/feed/user/42/", r.URL.Path)
		atomic.AddInt32(&pages, 1)
		if r.URL.Query().Get("max_id") == "" {
			fmt.Fprint(w, `{"items":[
				{"id":"1","taken_at":1700000000,"like_count":5,"caption":{"text":"first"},
				 "image_versions2":{"candidates":[{"url":"https://cdn/1.jpg"}]}},
				{"id":"2","media_type":2,"video_versions":[{"url":"https://cdn/2.mp4"}]}],
				"more_available":true,"next_max_id":"p2"}`)
			return
		}
		fmt.Fprint(w, `{"items":[{"id":"3"},{"id":"4"}],"more_available":false}`)
	})

	owner := &models.Profile{Username: "alice", PK: 42}
	posts, err := c.FetchRecentItems(context.Background(), direct, owner, 3)
	require.NoError(t, err)
	require.Len(t, posts, 3)
	assert.Equal(t, int32(2), atomic.LoadInt32(&pages))

	assert.Equal(t, "first", posts[0].Caption)
	assert.Equal(t, "https://cdn/1.jpg", posts[0].ImageURL)
	assert.Equal(t, time.Unix(1700000000, 0).UTC(), posts[0].TakenAt)
	assert.Equal(t, "https://cdn/2.mp4", posts[1].VideoURL)
	assert.Equal(t, "alice", posts[2].Username)
	assert.Equal(t, int64(42), posts[2].UserPK)
}

func TestFetchRecentItemsRequiresPK(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		t.Error("no request expected")
	})
	_, err := c.FetchRecentItems(context.Background(), direct, &models.Profile{Username: "x"}, 3)
	assert.True(t, errs.IsRecoverable(err))
}

func TestSearchByTag(t *testing.T) {
	var mu sync.Mutex
	var tabs []string
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/feed/tag/colorlens/", r.URL.Path)
		mu.Lock()
		tabs = append(tabs, r.URL.Query().Get("tab"))
		mu.Unlock()
		fmt.Fprint(w, `{"items":[
			{"id":"1","user":{"pk":1,"username":"a"}},
			{"id":"2","user":{"pk":2,"username":"b"}},
			{"id":"3","user":{"pk":1,"username":"a"}},
			{"id":"4","user":{"pk":3,"username":""}}],
			"more_available":false}`)
	})

	names, err := c.SearchByTag(context.Background(), direct, "#ColorLens", 10, SearchTop)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, names)
	assert.Equal(t, []string{"top"}, tabs)

	names, err = c.SearchByTag(context.Background(), direct, "colorlens", 1, "")
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, names)
	assert.Equal(t, "recent", tabs[1])

	_, err = c.SearchByTag(context.Background(), direct, "  #", 10, SearchRecent)
	assert.True(t, errs.IsNotFound(err))
}

func TestFetchFollowers(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == profilePath:
			fmt.Fprint(w, aliceProfile)
		case r.URL.Path == "/friendships/42/followers/":
			fmt.Fprint(w, `{"users":[{"pk":7,"username":"f1"},{"pk":8,"username":"f2"}],"status":"ok"}`)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	})

	names, err := c.FetchFollowers(context.Background(), direct, "alice", 5)
	require.NoError(t, err)
	assert.Equal(t, []string{"f1", "f2"}, names)
}

func TestFetchFollowersOfPrivateAccount(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, strings.Replace(aliceProfile, `"is_private":false`, `"is_private":true`, 1))
	})
	_, err := c.FetchFollowers(context.Background(), direct, "alice", 5)
	assert.True(t, errs.IsPrivate(err))
}

func TestProxyEndpointGetsOwnTransport(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {})

	a, err := c.clientFor(direct)
	require.NoError(t, err)
	b, err := c.clientFor(direct)
	require.NoError(t, err)
	assert.Same(t, a, b)

	p, err := c.clientFor(proxy.Endpoint{Address: "http://10.0.0.1:8080"})
	require.NoError(t, err)
	assert.NotSame(t, a, p)
}

func TestAuthenticateFromFallbackStore(t *testing.T) {
	t.Setenv(auth.EnvUsername, "")
	t.Setenv(auth.EnvPassword, "")

	stored := auth.NewMemoryStore(&auth.Account{Username: "alice", SessionID: "sid", CSRFToken: "tok"})
	manager, session := auth.NewMemoryManager(stored)

	var cookie, csrf string
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		cookie = r.Header.Get("Cookie")
		csrf = r.Header.Get("X-CSRFToken")
		fmt.Fprint(w, aliceProfile)
	}, WithCredentials(manager))

	require.NoError(t, c.Authenticate(context.Background()))
	assert.Equal(t, 1, session.Writes(), "resolved session is persisted")
	require.NotNil(t, c.Account())
	assert.Equal(t, "alice", c.Account().Username)

	_, err := c.FetchProfile(context.Background(), direct, "alice")
	require.NoError(t, err)
	assert.Equal(t, "sessionid=sid; csrftoken=tok", cookie)
	assert.Equal(t, "tok", csrf)
}

func TestAuthenticateWithoutCredentials(t *testing.T) {
	t.Setenv(auth.EnvUsername, "")
	t.Setenv(auth.EnvPassword, "")

	manager, _ := auth.NewMemoryManager()
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {}, WithCredentials(manager))

	err := c.Authenticate(context.Background())
	assert.True(t, errs.IsConfiguration(err))
	assert.Nil(t, c.Account())
}

func TestAnonymousClientSkipsAuthentication(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {})
	assert.NoError(t, c.Authenticate(context.Background()))
	assert.NoError(t, c.Reauthenticate(context.Background()))
	assert.Nil(t, c.Account())
}

func TestReauthenticateLogsIn(t *testing.T) {
	t.Setenv(auth.EnvUsername, "alice")
	t.Setenv(auth.EnvPassword, "secret")
	t.Setenv(auth.EnvSessionID, "")
	t.Setenv(auth.EnvCSRFToken, "")

	manager, session := auth.NewMemoryManager()
	var form string
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, loginPath, r.URL.Path)
		assert.NoError(t, r.ParseForm())
		form = r.PostForm.Get("enc_password")
		http.SetCookie(w, &http.Cookie{Name: "sessionid", Value: "fresh"})
		http.SetCookie(w, &http.Cookie{Name: "csrftoken", Value: "csrf"})
		fmt.Fprint(w, `{"authenticated":true,"user":true,"status":"ok"}`)
	}, WithCredentials(manager))

	require.NoError(t, c.Reauthenticate(context.Background()))
	assert.True(t, strings.HasSuffix(form, ":secret"))
	assert.Equal(t, "fresh", c.Account().SessionID)
	assert.Equal(t, 1, session.Writes())
}

func TestLoginRejected(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"authenticated":false,"user":true,"status":"ok"}`)
	})
	_, err := c.Login(context.Background(), "alice", "wrong")
	assert.True(t, errs.IsConfiguration(err))
}
