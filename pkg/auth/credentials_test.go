package auth

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zalando/go-keyring"
)

func testAccount(name string) *Account {
	return &Account{
		Username:  name,
		SessionID: "session_id_" + name + "_12345",
		CSRFToken: "csrf_token_" + name + "_67890",
		UserAgent: "TestAgent/1.0",
	}
}

func clearAuthEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{EnvSessionID, EnvCSRFToken, EnvUserAgent, EnvUsername, EnvPassword} {
		t.Setenv(key, "")
	}
}

func TestManagerStoreRetrieveDelete(t *testing.T) {
	manager, session := NewMemoryManager()

	require.NoError(t, manager.Store(testAccount("alice")))
	assert.Equal(t, 1, session.Len())

	got, err := manager.Retrieve("alice")
	require.NoError(t, err)
	assert.Equal(t, "session_id_alice_12345", got.SessionID)
	assert.False(t, got.LastModified.IsZero())

	accounts, err := manager.List()
	require.NoError(t, err)
	assert.Len(t, accounts, 1)

	require.NoError(t, manager.Delete("alice"))
	_, err = manager.Retrieve("alice")
	assert.Error(t, err)
	assert.Zero(t, session.Len())
}

func TestStoreValidation(t *testing.T) {
	manager, _ := NewMemoryManager()

	tests := []struct {
		name    string
		account *Account
	}{
		{"missing username", &Account{SessionID: "s", CSRFToken: "c"}},
		{"missing session", &Account{Username: "u", CSRFToken: "c"}},
		{"missing csrf", &Account{Username: "u", SessionID: "s"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Error(t, manager.Store(tt.account))
			assert.Error(t, manager.Persist(tt.account))
		})
	}
}

func TestResolveOrder(t *testing.T) {
	clearAuthEnv(t)

	keyring := NewMemoryStore(testAccount("alice"))
	manager, session := NewMemoryManager(keyring, NewEnvironmentStore())

	t.Run("FallsBackToSecondStore", func(t *testing.T) {
		account, source, err := manager.Resolve("alice", false)
		require.NoError(t, err)
		assert.Equal(t, "alice", account.Username)
		assert.NotEqual(t, SourceSessionFile, source)
	})

	t.Run("SessionFileWins", func(t *testing.T) {
		stored := testAccount("alice")
		stored.SessionID = "fresh_session_value"
		require.NoError(t, session.Store(stored))

		account, source, err := manager.Resolve("alice", false)
		require.NoError(t, err)
		assert.Equal(t, SourceSessionFile, source)
		assert.Equal(t, "fresh_session_value", account.SessionID)
	})

	t.Run("SkipSessionForReauth", func(t *testing.T) {
		account, _, err := manager.Resolve("alice", true)
		require.NoError(t, err)
		assert.Equal(t, "session_id_alice_12345", account.SessionID)
	})

	t.Run("EnvironmentLast", func(t *testing.T) {
		t.Setenv(EnvSessionID, "env-session")
		t.Setenv(EnvCSRFToken, "env-csrf")

		account, source, err := manager.Resolve("bob", true)
		require.NoError(t, err)
		assert.Equal(t, SourceEnvironment, source)
		assert.Equal(t, "bob", account.Username)
		assert.Equal(t, "env-session", account.SessionID)
	})

	t.Run("NothingFound", func(t *testing.T) {
		clearAuthEnv(t)
		_, _, err := manager.Resolve("nobody", true)
		assert.ErrorIs(t, err, ErrCredentialsNotFound)
	})
}

func TestResolveAnyPicksLatest(t *testing.T) {
	clearAuthEnv(t)
	older := testAccount("old")
	older.LastModified = time.Now().Add(-time.Hour)
	newer := testAccount("new")
	newer.LastModified = time.Now()

	manager := NewManagerWithStores(NewMemoryStore(older, newer), nil)
	account, source, err := manager.Resolve("", false)
	require.NoError(t, err)
	assert.Equal(t, SourceSessionFile, source)
	assert.Equal(t, "new", account.Username)
}

func TestPersistWritesSessionOnly(t *testing.T) {
	fallback := NewMemoryStore()
	manager, session := NewMemoryManager(fallback)

	require.NoError(t, manager.Persist(testAccount("carol")))
	assert.Equal(t, 1, session.Writes())
	assert.Zero(t, fallback.Writes())
}

func TestStoreFallsThroughOnError(t *testing.T) {
	session := NewMemoryStore()
	session.Fail("store", errors.New("disk full"))
	fallback := NewMemoryStore()
	manager := NewManagerWithStores(session, nil, fallback)

	require.NoError(t, manager.Store(testAccount("dave")))
	assert.True(t, fallback.Exists("dave"))
}

func TestSanitizeAccount(t *testing.T) {
	account := testAccount("erin")
	sanitized := SanitizeAccount(account)

	assert.Equal(t, account.Username, sanitized.Username)
	assert.Equal(t, "sess...2345", sanitized.SessionID)
	assert.NotEqual(t, account.CSRFToken, sanitized.CSRFToken)
	assert.Equal(t, "********", maskString("short"))
	assert.Nil(t, SanitizeAccount(nil))
}

func TestEnvironmentStore(t *testing.T) {
	clearAuthEnv(t)
	store := NewEnvironmentStore()

	_, err := store.Retrieve("")
	assert.ErrorIs(t, err, ErrCredentialsNotFound)
	assert.False(t, store.Exists(""))

	t.Setenv(EnvSessionID, "sid")
	t.Setenv(EnvCSRFToken, "csrf")
	t.Setenv(EnvUsername, "envuser")

	account, err := store.Retrieve("")
	require.NoError(t, err)
	assert.Equal(t, "envuser", account.Username)
	assert.True(t, store.Exists(""))
	assert.ErrorIs(t, store.Store(account), ErrStoreUnavailable)

	_, _, ok := LoginCredentials()
	assert.False(t, ok)
	t.Setenv(EnvPassword, "hunter2")
	user, pass, ok := LoginCredentials()
	assert.True(t, ok)
	assert.Equal(t, "envuser", user)
	assert.Equal(t, "hunter2", pass)
}

func TestEncryptedFileStore(t *testing.T) {
	t.Setenv(EnvPassphrase, "test-passphrase")
	path := filepath.Join(t.TempDir(), "data", "session.json")

	store, err := NewEncryptedFileStore(path)
	require.NoError(t, err)

	t.Run("MissingFile", func(t *testing.T) {
		_, err := store.Retrieve("alice")
		assert.ErrorIs(t, err, ErrCredentialsNotFound)
		accounts, err := store.List()
		require.NoError(t, err)
		assert.Empty(t, accounts)
	})

	t.Run("StoreAndReopen", func(t *testing.T) {
		require.NoError(t, store.Store(testAccount("alice")))
		require.NoError(t, store.Store(testAccount("bob")))

		raw, err := os.ReadFile(path)
		require.NoError(t, err)
		assert.NotContains(t, string(raw), "session_id_alice", "the session must be encrypted at rest")

		info, err := os.Stat(path)
		require.NoError(t, err)
		assert.Equal(t, os.FileMode(0600), info.Mode().Perm())

		reopened, err := NewEncryptedFileStore(path)
		require.NoError(t, err)
		got, err := reopened.Retrieve("alice")
		require.NoError(t, err)
		assert.Equal(t, "session_id_alice_12345", got.SessionID)
		assert.True(t, reopened.Exists("bob"))
	})

	t.Run("WrongPassphrase", func(t *testing.T) {
		t.Setenv(EnvPassphrase, "another-passphrase")
		other, err := NewEncryptedFileStore(path)
		require.NoError(t, err)
		_, err = other.Retrieve("alice")
		assert.Error(t, err)
		assert.NotErrorIs(t, err, ErrCredentialsNotFound)
	})

	t.Run("DeleteLastRemovesFile", func(t *testing.T) {
		require.NoError(t, store.Delete("alice"))
		require.NoError(t, store.Delete("bob"))
		_, err := os.Stat(path)
		assert.True(t, os.IsNotExist(err))
		assert.ErrorIs(t, store.Delete("bob"), ErrCredentialsNotFound)
	})
}

func TestEncryptedFileStoreRejectsOtherVersions(t *testing.T) {
	t.Setenv(EnvPassphrase, "test-passphrase")
	path := filepath.Join(t.TempDir(), "session.json")
	store, err := NewEncryptedFileStore(path)
	require.NoError(t, err)
	require.NoError(t, store.Store(testAccount("alice")))

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	tampered := strings.Replace(string(raw), `"version": 2`, `"version": 1`, 1)
	require.NoError(t, os.WriteFile(path, []byte(tampered), 0600))

	_, err = store.Retrieve("alice")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported session file version")
}

func TestGeneratedPassphraseIsReused(t *testing.T) {
	t.Setenv(EnvPassphrase, "")
	dir := t.TempDir()
	path := filepath.Join(dir, "session.json")

	first, err := NewEncryptedFileStore(path)
	require.NoError(t, err)
	require.NoError(t, first.Store(testAccount("alice")))

	_, err = os.Stat(filepath.Join(dir, ".passphrase"))
	require.NoError(t, err)

	second, err := NewEncryptedFileStore(path)
	require.NoError(t, err)
	assert.True(t, second.Exists("alice"))
}

func TestWriteCookieGuide(t *testing.T) {
	var buf bytes.Buffer
	WriteCookieGuide(&buf)
	assert.Contains(t, buf.String(), "sessionid")
	assert.Contains(t, buf.String(), EnvSessionID)
}

func TestKeyringStoreKeepsIndex(t *testing.T) {
	keyring.MockInit()
	store := &KeyringStore{}

	require.NoError(t, store.Store(testAccount("bob")))
	require.NoError(t, store.Store(testAccount("alice")))
	require.NoError(t, store.Store(testAccount("alice")))

	accounts, err := store.List()
	require.NoError(t, err)
	require.Len(t, accounts, 2)
	assert.Equal(t, "alice", accounts[0].Username)
	assert.Equal(t, "bob", accounts[1].Username)

	got, err := store.Retrieve("bob")
	require.NoError(t, err)
	assert.Equal(t, "session_id_bob_12345", got.SessionID)

	require.NoError(t, store.Delete("bob"))
	assert.False(t, store.Exists("bob"))
	assert.ErrorIs(t, store.Delete("bob"), ErrCredentialsNotFound)

	accounts, err = store.List()
	require.NoError(t, err)
	require.Len(t, accounts, 1)
	assert.Equal(t, "alice", accounts[0].Username)

	latest, err := retrieveAny(store, "")
	require.NoError(t, err)
	assert.Equal(t, "alice", latest.Username)
}

func TestMemoryStoreFailureHook(t *testing.T) {
	store := NewMemoryStore(testAccount("alice"))
	boom := errors.New("locked")

	store.Fail("retrieve", boom)
	_, err := store.Retrieve("alice")
	assert.ErrorIs(t, err, boom)

	store.Fail("retrieve", nil)
	_, err = store.Retrieve("alice")
	assert.NoError(t, err)
	assert.Zero(t, store.Writes())
}
