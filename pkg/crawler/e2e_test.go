package crawler_test

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"igcrawler/pkg/checkpoint"
	"igcrawler/pkg/config"
	"igcrawler/pkg/crawler"
	"igcrawler/pkg/delay"
	"igcrawler/pkg/logger"
	"igcrawler/pkg/proxy"
	"igcrawler/pkg/remote"
	"igcrawler/pkg/sink"
)

// mockRemote serves the profile and user feed endpoints for a fixed set of
// accounts. Unknown usernames get a 404.
func mockRemote(t *testing.T) *httptest.Server {
	t.Helper()
	profiles := map[string]string{
		"alice": `{"data":{"user":{"id":"42","username":"alice","full_name":"Alice",
"biography":"handmade jewelry","edge_followed_by":{"count":900},"edge_follow":{"count":10},
"edge_owner_to_timeline_media":{"count":2}}},"status":"ok"}`,
		"bob": `{"data":{"user":{"id":"43","username":"bob","full_name":"Bob",
"biography":"","edge_followed_by":{"count":12},"edge_follow":{"count":30},
"edge_owner_to_timeline_media":{"count":0}}},"status":"ok"}`,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/users/web_profile_info/", func(w http.ResponseWriter, r *http.Request) {
		body, ok := profiles[r.URL.Query().Get("username")]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			fmt.Fprint(w, `{"message":"user not found","status":"fail"}`)
			return
		}
		fmt.Fprint(w, body)
	})
	mux.HandleFunc("/feed/user/42/", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"items":[
{"id":"100_42","pk":100,"code":"p1","taken_at":1767225600,"media_type":1,"like_count":5,"user":{"pk":42,"username":"alice"}},
{"id":"101_42","pk":101,"code":"p2","taken_at":1767312000,"media_type":2,"like_count":9,"user":{"pk":42,"username":"alice"}}
],"more_available":false,"status":"ok"}`)
	})

	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return server
}

// forwardingProxy relays absolute-form requests to their target. With
// blocked set it answers 429 instead.
func forwardingProxy(t *testing.T, blocked bool, hits *atomic.Int32) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		if blocked {
			w.WriteHeader(http.StatusTooManyRequests)
			fmt.Fprint(w, `{"message":"rate limited","status":"fail"}`)
			return
		}

		out := r.Clone(r.Context())
		out.RequestURI = ""
		resp, err := http.DefaultTransport.RoundTrip(out)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadGateway)
			return
		}
		defer resp.Body.Close()
		for k, vs := range resp.Header {
			for _, v := range vs {
				w.Header().Add(k, v)
			}
		}
		w.WriteHeader(resp.StatusCode)
		_, _ = io.Copy(w, resp.Body)
	}))
	t.Cleanup(server.Close)
	return server
}

func readLines(t *testing.T, path string) []map[string]interface{} {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	var out []map[string]interface{}
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var rec map[string]interface{}
		require.NoError(t, json.Unmarshal(sc.Bytes(), &rec))
		out = append(out, rec)
	}
	require.NoError(t, sc.Err())
	return out
}

func TestEndToEndCrawlThroughProxies(t *testing.T) {
	remoteServer := mockRemote(t)
	var blockedHits, healthyHits atomic.Int32
	blocked := forwardingProxy(t, true, &blockedHits)
	healthy := forwardingProxy(t, false, &healthyHits)

	cfg := config.DefaultConfig()
	cfg.Remote.BaseURL = remoteServer.URL
	cfg.Remote.Username = ""
	cfg.Remote.Timeout = config.Duration(5 * time.Second)
	cfg.Proxies = []string{blocked.URL, healthy.URL}

	log := logger.NewNopLogger()
	client := remote.NewHTTPClient(cfg, remote.WithLogger(log))
	t.Cleanup(client.Close)

	outDir := t.TempDir()
	fileSink, err := sink.NewFileSink(outDir, log)
	require.NoError(t, err)

	cpPath := filepath.Join(t.TempDir(), "processed_users.csv")
	store, err := checkpoint.Open(cpPath, log)
	require.NoError(t, err)

	cc := &crawler.CrawlContext{
		Proxies: proxy.NewPool(cfg.Proxies, proxy.SettingsFromConfig(cfg),
			proxy.WithSleeper(func(context.Context, time.Duration) error { return nil })),
		Delays:     delay.New(delay.SettingsFromConfig(cfg), delay.WithRandom(func() float64 { return 0 })),
		Checkpoint: store,
		Sink:       fileSink,
		Client:     client,
		Logger:     log,
		RunID:      "e2e",
	}

	opts := crawler.OptionsFromConfig(cfg)
	opts.Workers = 1
	opts.StopFile = ""
	opts.Sleeper = func(ctx context.Context, d time.Duration) error { return ctx.Err() }

	c, err := crawler.New(cc, opts)
	require.NoError(t, err)

	summary, err := c.Run(context.Background(), []string{"alice", "bob", "nobody"})
	require.NoError(t, err)

	assert.Equal(t, 3, summary.Processed)
	assert.Equal(t, 2, summary.Succeeded)
	assert.Equal(t, 1, summary.Terminal)
	assert.Equal(t, 1, summary.RateLimits)
	assert.GreaterOrEqual(t, summary.Rotations, 1)
	assert.Equal(t, int32(1), blockedHits.Load(), "the blocked proxy is left after its first 429")
	assert.GreaterOrEqual(t, healthyHits.Load(), int32(4))

	profiles := readLines(t, filepath.Join(outDir, sink.ProfilesFile))
	require.Len(t, profiles, 2)
	names := []interface{}{profiles[0]["username"], profiles[1]["username"]}
	assert.ElementsMatch(t, []interface{}{"alice", "bob"}, names)

	posts := readLines(t, filepath.Join(outDir, sink.PostsFile))
	require.Len(t, posts, 2)
	for _, p := range posts {
		assert.Equal(t, "alice", p["username"])
	}

	reloaded, err := checkpoint.Open(cpPath, log)
	require.NoError(t, err)
	for _, id := range []string{"alice", "bob", "nobody"} {
		assert.True(t, reloaded.Contains(id), id)
	}

	// a second run over the same checkpoint has nothing left to do
	c2, err := crawler.New(cc, opts)
	require.NoError(t, err)
	assert.Empty(t, c2.Plan([]string{"alice", "bob", "nobody"}))
}
