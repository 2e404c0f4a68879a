package auth

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"runtime"
	"sort"
	"sync"

	"github.com/zalando/go-keyring"
)

const (
	keyringService = "igcrawler"
	keyringIndex   = "_accounts"
)

// KeyringStore keeps one keychain secret per account plus an index secret
// listing the account names, since the keychain cannot be enumerated.
type KeyringStore struct {
	mu sync.Mutex
}

// NewKeyringStore probes the keychain and fails when it cannot be written.
func NewKeyringStore() (*KeyringStore, error) {
	if !IsKeyringAvailable() {
		return nil, ErrStoreUnavailable
	}
	if err := keyring.Set(keyringService, "_probe", "1"); err != nil {
		return nil, fmt.Errorf("keyring not available: %w", err)
	}
	_ = keyring.Delete(keyringService, "_probe")
	return &KeyringStore{}, nil
}

func (k *KeyringStore) Store(account *Account) error {
	if account == nil || account.Username == "" {
		return ErrInvalidCredentials
	}
	data, err := json.Marshal(account)
	if err != nil {
		return fmt.Errorf("failed to encode session: %w", err)
	}

	k.mu.Lock()
	defer k.mu.Unlock()
	if err := keyring.Set(keyringService, sessionKey(account.Username), string(data)); err != nil {
		return fmt.Errorf("failed to write keychain: %w", err)
	}
	names := k.indexLocked()
	if !contains(names, account.Username) {
		return k.saveIndexLocked(append(names, account.Username))
	}
	return nil
}

func (k *KeyringStore) Retrieve(username string) (*Account, error) {
	if username == "" {
		return nil, ErrInvalidCredentials
	}
	return k.get(username)
}

// List reads every account named in the index. Index entries whose secret
// is gone are skipped.
func (k *KeyringStore) List() ([]*Account, error) {
	k.mu.Lock()
	names := k.indexLocked()
	k.mu.Unlock()

	out := make([]*Account, 0, len(names))
	for _, name := range names {
		account, err := k.get(name)
		if err != nil {
			continue
		}
		out = append(out, account)
	}
	return out, nil
}

func (k *KeyringStore) Delete(username string) error {
	if username == "" {
		return ErrInvalidCredentials
	}

	k.mu.Lock()
	defer k.mu.Unlock()
	err := keyring.Delete(keyringService, sessionKey(username))
	if errors.Is(err, keyring.ErrNotFound) {
		return ErrCredentialsNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to delete from keychain: %w", err)
	}

	names := k.indexLocked()
	kept := names[:0]
	for _, n := range names {
		if n != username {
			kept = append(kept, n)
		}
	}
	return k.saveIndexLocked(kept)
}

func (k *KeyringStore) Exists(username string) bool {
	_, err := k.Retrieve(username)
	return err == nil
}

func (k *KeyringStore) get(username string) (*Account, error) {
	data, err := keyring.Get(keyringService, sessionKey(username))
	if errors.Is(err, keyring.ErrNotFound) {
		return nil, ErrCredentialsNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read keychain: %w", err)
	}
	var account Account
	if err := json.Unmarshal([]byte(data), &account); err != nil {
		return nil, fmt.Errorf("failed to decode session: %w", err)
	}
	return &account, nil
}

func (k *KeyringStore) indexLocked() []string {
	data, err := keyring.Get(keyringService, keyringIndex)
	if err != nil {
		return nil
	}
	var names []string
	if json.Unmarshal([]byte(data), &names) != nil {
		return nil
	}
	return names
}

func (k *KeyringStore) saveIndexLocked(names []string) error {
	sort.Strings(names)
	data, _ := json.Marshal(names)
	if err := keyring.Set(keyringService, keyringIndex, string(data)); err != nil {
		return fmt.Errorf("failed to update keychain index: %w", err)
	}
	return nil
}

func sessionKey(username string) string { return "session/" + username }

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// IsKeyringAvailable reports whether a keychain backend is likely reachable.
// On Linux the secret service needs a session bus.
func IsKeyringAvailable() bool {
	switch runtime.GOOS {
	case "darwin", "windows":
		return true
	case "linux", "freebsd":
		return os.Getenv("DBUS_SESSION_BUS_ADDRESS") != ""
	default:
		return false
	}
}
