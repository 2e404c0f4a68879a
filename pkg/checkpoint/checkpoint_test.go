package checkpoint

import (
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"igcrawler/pkg/logger"
	"igcrawler/pkg/models"
)

func TestStoreCSV(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "processed_users.csv")
	log := logger.NewTestLogger()

	t.Run("MissingFileStartsEmpty", func(t *testing.T) {
		s, err := Open(path, log)
		require.NoError(t, err)
		assert.Zero(t, s.Len())
		assert.False(t, s.Contains("alice"))
	})

	t.Run("RoundTripKeepsUsernameColumn", func(t *testing.T) {
		s, err := Open(path, log)
		require.NoError(t, err)

		assert.Equal(t, 2, s.Add("carol", "alice", "alice", " "))
		require.NoError(t, s.Flush())

		raw, err := os.ReadFile(path)
		require.NoError(t, err)
		assert.Equal(t, "username\nalice\ncarol\n", string(raw))

		reopened, err := Open(path, log)
		require.NoError(t, err)
		assert.Equal(t, []string{"alice", "carol"}, reopened.Snapshot())
	})

	t.Run("ExtraColumnsAreIgnored", func(t *testing.T) {
		other := filepath.Join(dir, "wide.csv")
		require.NoError(t, os.WriteFile(other, []byte("id,username,score\n1,dave,3\n2,erin,5\n"), 0644))

		s, err := Open(other, log)
		require.NoError(t, err)
		assert.True(t, s.Contains("dave"))
		assert.True(t, s.Contains("erin"))
		assert.False(t, s.Contains("1"))
	})

	t.Run("HeaderWithoutUsernameIsAnError", func(t *testing.T) {
		bad := filepath.Join(dir, "bad.csv")
		require.NoError(t, os.WriteFile(bad, []byte("name\nalice\n"), 0644))

		_, err := Open(bad, log)
		assert.Error(t, err)
	})
}

func TestStoreLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "usernames.txt")
	require.NoError(t, os.WriteFile(path, []byte("bob\n\n  alice \nbob\n"), 0644))

	s, err := Open(path, logger.NewTestLogger())
	require.NoError(t, err)
	assert.Equal(t, 2, s.Len())
	assert.Equal(t, []string{"bob", "alice"}, s.Ordered())

	s.Add("zed")
	require.NoError(t, s.Rewrite())

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "alice\nbob\nzed\n", string(raw))
}

func TestFlushUnionsConcurrentWriter(t *testing.T) {
	path := filepath.Join(t.TempDir(), "processed_users.csv")

	a, err := Open(path, logger.NewTestLogger())
	require.NoError(t, err)
	b, err := Open(path, logger.NewTestLogger())
	require.NoError(t, err)

	a.Add("alice")
	require.NoError(t, a.Flush())

	b.Add("bob")
	require.NoError(t, b.Flush())

	final, err := Open(path, logger.NewTestLogger())
	require.NoError(t, err)
	assert.Equal(t, []string{"alice", "bob"}, final.Snapshot(), "flush never drops entries written by another store")
	assert.True(t, b.Contains("alice"))
}

func TestRewriteDoesNotMerge(t *testing.T) {
	path := filepath.Join(t.TempDir(), "processed_users.csv")
	require.NoError(t, os.WriteFile(path, []byte("username\nalice\n"), 0644))

	s, err := Open(path, logger.NewTestLogger())
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(path, []byte("username\nalice\nmallory\n"), 0644))
	s.Add("bob")
	require.NoError(t, s.Rewrite())

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.False(t, strings.Contains(string(raw), "mallory"))
}

func TestStoreConcurrentAdd(t *testing.T) {
	s, err := Open(filepath.Join(t.TempDir(), "ids.txt"), logger.NewTestLogger())
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				s.Add(string(rune('a'+i)) + strings.Repeat("x", j))
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 400, s.Len())
	require.NoError(t, s.Flush())
}

func TestNoTempFileLeftBehind(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(filepath.Join(dir, "nested", "processed_users.csv"), logger.NewTestLogger())
	require.NoError(t, err)
	s.Add("alice")
	require.NoError(t, s.Flush())

	entries, err := os.ReadDir(filepath.Join(dir, "nested"))
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "processed_users.csv", entries[0].Name())
}

func TestStateManager(t *testing.T) {
	path := filepath.Join(t.TempDir(), "scan_state.json")
	mgr := NewStateManager(path, logger.NewTestLogger())

	t.Run("LoadMissing", func(t *testing.T) {
		state, err := mgr.Load()
		require.NoError(t, err)
		assert.Nil(t, state)
		assert.False(t, mgr.Exists())
	})

	t.Run("MarkTagAndLoad", func(t *testing.T) {
		state := &models.ScanState{RunID: "run-1"}
		require.NoError(t, mgr.MarkTag(state, "lens", 12))
		require.NoError(t, mgr.MarkTag(state, "lens", 14))
		require.NoError(t, mgr.MarkTag(state, "colorlens", 20))

		loaded, err := mgr.Load()
		require.NoError(t, err)
		require.NotNil(t, loaded)
		assert.Equal(t, "run-1", loaded.RunID)
		assert.Equal(t, []string{"lens", "colorlens"}, loaded.TagsProcessed)
		assert.Equal(t, "colorlens", loaded.LastTag)
		assert.Equal(t, 20, loaded.DiscoveredCount)
		assert.False(t, loaded.LastTimestamp.IsZero())
		assert.True(t, loaded.HasTag("lens"))
	})

	t.Run("CorruptFile", func(t *testing.T) {
		require.NoError(t, os.WriteFile(path, []byte("{not json"), 0644))
		_, err := mgr.Load()
		assert.Error(t, err)
	})

	t.Run("Delete", func(t *testing.T) {
		require.NoError(t, mgr.Delete())
		assert.False(t, mgr.Exists())
		require.NoError(t, mgr.Delete(), "deleting a missing file is not an error")
	})
}
