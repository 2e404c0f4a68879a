package auth

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"sync"
	"time"

	"golang.org/x/crypto/pbkdf2"
)

// EnvPassphrase overrides the generated session file passphrase.
const EnvPassphrase = "IGCRAWLER_PASSPHRASE"

const (
	sessionFileVersion = 2
	kdfIterations      = 100000
	saltSize           = 32
	keySize            = 32
)

// EncryptedFileStore keeps every session of the crawler in one AES-GCM
// sealed JSON file. It is the first store Manager consults, so a session
// resolved once is reused by the next run.
type EncryptedFileStore struct {
	mu         sync.RWMutex
	path       string
	passphrase []byte
}

// envelope is the on-disk form. Only Sealed is secret.
type envelope struct {
	Version    int       `json:"version"`
	KDF        string    `json:"kdf"`
	Iterations int       `json:"iterations"`
	Salt       []byte    `json:"salt"`
	Sealed     []byte    `json:"sealed"`
	Saved      time.Time `json:"saved"`
}

// NewEncryptedFileStore opens the session file at path. The passphrase comes
// from IGCRAWLER_PASSPHRASE or a generated .passphrase file beside it.
func NewEncryptedFileStore(path string) (*EncryptedFileStore, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create session directory: %w", err)
	}
	pass, err := passphrase(dir)
	if err != nil {
		return nil, err
	}
	return &EncryptedFileStore{path: path, passphrase: pass}, nil
}

func (e *EncryptedFileStore) Path() string { return e.path }

func (e *EncryptedFileStore) Store(account *Account) error {
	if account == nil || account.Username == "" {
		return ErrInvalidCredentials
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	sessions, salt, err := e.read()
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	sessions = upsert(sessions, *account)
	return e.write(sessions, salt)
}

func (e *EncryptedFileStore) Retrieve(username string) (*Account, error) {
	if username == "" {
		return nil, ErrInvalidCredentials
	}

	e.mu.RLock()
	defer e.mu.RUnlock()
	sessions, _, err := e.read()
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrCredentialsNotFound
	}
	if err != nil {
		return nil, err
	}
	if i := find(sessions, username); i >= 0 {
		a := sessions[i]
		return &a, nil
	}
	return nil, ErrCredentialsNotFound
}

// List returns the stored sessions ordered by username.
func (e *EncryptedFileStore) List() ([]*Account, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	sessions, _, err := e.read()
	if errors.Is(err, os.ErrNotExist) {
		return []*Account{}, nil
	}
	if err != nil {
		return nil, err
	}
	out := make([]*Account, len(sessions))
	for i := range sessions {
		a := sessions[i]
		out[i] = &a
	}
	return out, nil
}

// Delete removes one session. The file goes away with the last one.
func (e *EncryptedFileStore) Delete(username string) error {
	if username == "" {
		return ErrInvalidCredentials
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	sessions, salt, err := e.read()
	if errors.Is(err, os.ErrNotExist) {
		return ErrCredentialsNotFound
	}
	if err != nil {
		return err
	}
	i := find(sessions, username)
	if i < 0 {
		return ErrCredentialsNotFound
	}
	sessions = append(sessions[:i], sessions[i+1:]...)
	if len(sessions) == 0 {
		return os.Remove(e.path)
	}
	return e.write(sessions, salt)
}

func (e *EncryptedFileStore) Exists(username string) bool {
	_, err := e.Retrieve(username)
	return err == nil
}

func (e *EncryptedFileStore) read() ([]Account, []byte, error) {
	raw, err := os.ReadFile(e.path)
	if err != nil {
		return nil, nil, err
	}
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, nil, fmt.Errorf("session file is corrupt: %w", err)
	}
	if env.Version != sessionFileVersion {
		return nil, nil, fmt.Errorf("unsupported session file version %d", env.Version)
	}

	aead, err := e.aead(env.Salt, env.Iterations)
	if err != nil {
		return nil, nil, err
	}
	n := aead.NonceSize()
	if len(env.Sealed) < n {
		return nil, nil, errors.New("session file is truncated")
	}
	plain, err := aead.Open(nil, env.Sealed[:n], env.Sealed[n:], additionalData())
	if err != nil {
		return nil, nil, fmt.Errorf("failed to decrypt session file (wrong passphrase?): %w", err)
	}

	var sessions []Account
	if err := json.Unmarshal(plain, &sessions); err != nil {
		return nil, nil, fmt.Errorf("session file is corrupt: %w", err)
	}
	return sessions, env.Salt, nil
}

func (e *EncryptedFileStore) write(sessions []Account, salt []byte) error {
	if len(salt) == 0 {
		salt = make([]byte, saltSize)
		if _, err := rand.Read(salt); err != nil {
			return fmt.Errorf("failed to generate salt: %w", err)
		}
	}
	plain, err := json.Marshal(sessions)
	if err != nil {
		return fmt.Errorf("failed to encode sessions: %w", err)
	}

	aead, err := e.aead(salt, kdfIterations)
	if err != nil {
		return err
	}
	nonce := make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return fmt.Errorf("failed to generate nonce: %w", err)
	}

	raw, err := json.MarshalIndent(envelope{
		Version:    sessionFileVersion,
		KDF:        "pbkdf2-sha256",
		Iterations: kdfIterations,
		Salt:       salt,
		Sealed:     aead.Seal(nonce, nonce, plain, additionalData()),
		Saved:      time.Now().UTC(),
	}, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode session file: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(e.path), ".sessions.*")
	if err != nil {
		return fmt.Errorf("failed to write session file: %w", err)
	}
	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to write session file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to write session file: %w", err)
	}
	return os.Rename(tmp.Name(), e.path)
}

func (e *EncryptedFileStore) aead(salt []byte, iterations int) (cipher.AEAD, error) {
	if iterations <= 0 {
		iterations = kdfIterations
	}
	key := pbkdf2.Key(e.passphrase, salt, iterations, keySize, sha256.New)
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}

// additionalData binds the ciphertext to the file format version.
func additionalData() []byte {
	return []byte("igcrawler-sessions-v" + strconv.Itoa(sessionFileVersion))
}

func upsert(sessions []Account, a Account) []Account {
	if i := find(sessions, a.Username); i >= 0 {
		sessions[i] = a
		return sessions
	}
	sessions = append(sessions, a)
	sort.Slice(sessions, func(i, j int) bool { return sessions[i].Username < sessions[j].Username })
	return sessions
}

func find(sessions []Account, username string) int {
	for i := range sessions {
		if sessions[i].Username == username {
			return i
		}
	}
	return -1
}

// passphrase returns IGCRAWLER_PASSPHRASE, or the contents of dir/.passphrase,
// generating that file on first use.
func passphrase(dir string) ([]byte, error) {
	if p := os.Getenv(EnvPassphrase); p != "" {
		return []byte(p), nil
	}

	file := filepath.Join(dir, ".passphrase")
	if content, err := os.ReadFile(file); err == nil && len(content) > 0 {
		return content, nil
	}

	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return nil, fmt.Errorf("failed to generate passphrase: %w", err)
	}
	p := []byte(base64.RawURLEncoding.EncodeToString(b))
	if err := os.WriteFile(file, p, 0600); err != nil {
		return nil, fmt.Errorf("failed to save passphrase: %w", err)
	}
	return p, nil
}
