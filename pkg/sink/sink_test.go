package sink

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"igcrawler/pkg/config"
	errs "igcrawler/pkg/errors"
	"igcrawler/pkg/logger"
	"igcrawler/pkg/models"
)

func sampleProfiles(names ...string) []models.Profile {
	out := make([]models.Profile, 0, len(names))
	for i, n := range names {
		out = append(out, models.Profile{
			Username:      n,
			PK:            int64(i + 1),
			FollowerCount: 100 * (i + 1),
			CollectedAt:   time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		})
	}
	return out
}

func readLines(t *testing.T, path string) []string {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	return strings.Split(strings.TrimSpace(string(data)), "\n")
}

func TestFileSinkUpserts(t *testing.T) {
	dir := t.TempDir()
	s, err := NewFileSink(dir, logger.NewNopLogger())
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, s.Write(ctx, sampleProfiles("a", "b"), []models.Post{{ID: "1", Username: "a"}}))

	updated := sampleProfiles("b", "c")
	updated[0].FullName = "Bee"
	require.NoError(t, s.Write(ctx, updated, []models.Post{{ID: "1", Username: "a", LikeCount: 9}, {ID: "2"}}))

	profiles, posts := s.Counts()
	assert.Equal(t, 3, profiles)
	assert.Equal(t, 2, posts)

	lines := readLines(t, filepath.Join(dir, ProfilesFile))
	require.Len(t, lines, 3)
	assert.Contains(t, lines[0], `"username":"a"`)
	assert.Contains(t, lines[1], `"full_name":"Bee"`)

	postLines := readLines(t, filepath.Join(dir, PostsFile))
	require.Len(t, postLines, 2)
	assert.Contains(t, postLines[0], `"like_count":9`)

	_, err = os.Stat(filepath.Join(dir, ProfilesFile+".tmp"))
	assert.True(t, os.IsNotExist(err))
}

func TestFileSinkReloadsExistingRecords(t *testing.T) {
	dir := t.TempDir()
	first, err := NewFileSink(dir, nil)
	require.NoError(t, err)
	require.NoError(t, first.Write(context.Background(), sampleProfiles("a", "b"), nil))

	second, err := NewFileSink(dir, nil)
	require.NoError(t, err)
	profiles, _ := second.Counts()
	assert.Equal(t, 2, profiles)

	require.NoError(t, second.Write(context.Background(), sampleProfiles("a"), nil))
	assert.Len(t, readLines(t, filepath.Join(dir, ProfilesFile)), 2)
}

func TestFileSinkRejectsCorruptFile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, ProfilesFile), []byte("{broken\n"), 0644))

	_, err := NewFileSink(dir, nil)
	assert.Error(t, err)
}

func TestFileSinkHonoursCancellation(t *testing.T) {
	s, err := NewFileSink(t.TempDir(), nil)
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, s.Write(ctx, sampleProfiles("a"), nil), context.Canceled)
}

type recordingSink struct {
	mu     sync.Mutex
	writes int
	err    error
	closed bool
}

func (r *recordingSink) Write(ctx context.Context, profiles []models.Profile, posts []models.Post) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.writes++
	return r.err
}

func (r *recordingSink) Close() error {
	r.closed = true
	return r.err
}

func TestMultiWritesEverySink(t *testing.T) {
	ok := &recordingSink{}
	failing := &recordingSink{err: errors.New("boom")}
	last := &recordingSink{}
	m := NewMulti(ok, failing, last)

	err := m.Write(context.Background(), sampleProfiles("a"), nil)
	assert.ErrorContains(t, err, "boom")
	assert.Equal(t, 1, ok.writes)
	assert.Equal(t, 1, last.writes, "a failing sink does not stop the others")

	assert.Error(t, m.Close())
	assert.True(t, ok.closed)
	assert.True(t, last.closed)
}

type fakeWriter struct {
	msgs   []kafka.Message
	err    error
	closed bool
}

func (f *fakeWriter) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	if f.err != nil {
		return f.err
	}
	f.msgs = append(f.msgs, msgs...)
	return nil
}

func (f *fakeWriter) Close() error {
	f.closed = true
	return nil
}

func TestKafkaSinkKeysMessages(t *testing.T) {
	w := &fakeWriter{}
	s := newKafkaSink(w, config.KafkaConfig{ProfilesTopic: "p"}, logger.NewNopLogger())

	require.NoError(t, s.Write(context.Background(), sampleProfiles("alice"), []models.Post{{ID: "99"}}))
	require.Len(t, w.msgs, 2)

	assert.Equal(t, "p", w.msgs[0].Topic)
	assert.Equal(t, "alice", string(w.msgs[0].Key))
	assert.Contains(t, string(w.msgs[0].Value), `"username":"alice"`)
	assert.Equal(t, "igcrawler.posts", w.msgs[1].Topic)
	assert.Equal(t, "99", string(w.msgs[1].Key))

	require.NoError(t, s.Write(context.Background(), nil, nil))
	assert.Len(t, w.msgs, 2)

	w.err = errors.New("broker down")
	assert.ErrorContains(t, s.Write(context.Background(), sampleProfiles("bob"), nil), "broker down")

	require.NoError(t, s.Close())
	assert.True(t, w.closed)
}

func TestNewKafkaSinkNeedsBrokers(t *testing.T) {
	_, err := NewKafkaSink(config.KafkaConfig{}, nil)
	assert.Error(t, err)
}

type fakePutter struct {
	mu      sync.Mutex
	objects map[string]string
}

func (f *fakePutter) PutObject(ctx context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	body, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.objects[*in.Bucket+"/"+*in.Key] = string(body)
	return &s3.PutObjectOutput{}, nil
}

func TestS3SinkOverwritesStableKeys(t *testing.T) {
	p := &fakePutter{objects: make(map[string]string)}
	s := newS3Sink(p, config.S3Config{Bucket: "b", Prefix: "crawl"}, logger.NewNopLogger())
	ctx := context.Background()

	require.NoError(t, s.Write(ctx, sampleProfiles("alice"), []models.Post{{ID: "7"}}))
	require.NoError(t, s.Write(ctx, sampleProfiles("alice"), nil))

	assert.Len(t, p.objects, 2)
	assert.Contains(t, p.objects["b/crawl/profiles/alice.json"], `"username":"alice"`)
	assert.Contains(t, p.objects, "b/crawl/posts/7.json")
}

func TestNewBuildsConfiguredTargets(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Sink.Targets = []string{config.SinkFile}
	cfg.Sink.File.Directory = t.TempDir()

	s, err := New(context.Background(), cfg, nil)
	require.NoError(t, err)
	assert.IsType(t, &FileSink{}, s)

	cfg.Sink.Targets = []string{config.SinkFile, "carrier-pigeon"}
	_, err = New(context.Background(), cfg, nil)
	require.Error(t, err)
	assert.True(t, errs.IsConfiguration(err))

	cfg.Sink.Targets = []string{config.SinkKafka}
	cfg.Sink.Kafka.Brokers = nil
	_, err = New(context.Background(), cfg, nil)
	assert.True(t, errs.IsConfiguration(err))
}
