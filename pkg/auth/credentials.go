package auth

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"igcrawler/pkg/logger"
)

// Account is an authenticated remote session.
type Account struct {
	Username     string    `json:"username"`
	SessionID    string    `json:"session_id"`
	CSRFToken    string    `json:"csrf_token"`
	UserAgent    string    `json:"user_agent,omitempty"`
	LastModified time.Time `json:"last_modified"`
}

// Validate checks that the session cookies are present.
func (a *Account) Validate() error {
	if a == nil || a.Username == "" {
		return errors.New("username is required")
	}
	if a.SessionID == "" {
		return errors.New("session ID is required")
	}
	if a.CSRFToken == "" {
		return errors.New("CSRF token is required")
	}
	return nil
}

// CredentialStore is the interface for storing and retrieving sessions
type CredentialStore interface {
	Store(account *Account) error
	// Retrieve gets the session stored for username.
	Retrieve(username string) (*Account, error)
	List() ([]*Account, error)
	Delete(username string) error
	Exists(username string) bool
}

// Source names where a session came from.
type Source string

const (
	SourceSessionFile Source = "session_file"
	SourceKeyring     Source = "keyring"
	SourceEnvironment Source = "environment"
	SourceLogin       Source = "login"
)

// Manager resolves sessions through an ordered chain of stores. The first
// store is the session file: resolved sessions are persisted there so the
// next run reuses them.
type Manager struct {
	session   CredentialStore
	fallbacks []CredentialStore
	log       logger.Logger
}

// NewManager builds the standard chain: encrypted session file, OS keyring
// when one is reachable, then environment variables.
func NewManager(sessionFile string, log logger.Logger) (*Manager, error) {
	if log == nil {
		log = logger.GetLogger()
	}

	session, err := NewEncryptedFileStore(sessionFile)
	if err != nil {
		return nil, fmt.Errorf("failed to open session file: %w", err)
	}

	var fallbacks []CredentialStore
	if keyringStore, err := NewKeyringStore(); err == nil {
		fallbacks = append(fallbacks, keyringStore)
	} else {
		log.DebugWithFields("keyring unavailable", map[string]interface{}{
			"error": err.Error(),
		})
	}
	fallbacks = append(fallbacks, NewEnvironmentStore())

	return NewManagerWithStores(session, log, fallbacks...), nil
}

// NewManagerWithStores builds a Manager over explicit stores.
func NewManagerWithStores(session CredentialStore, log logger.Logger, fallbacks ...CredentialStore) *Manager {
	if log == nil {
		log = logger.NewNopLogger()
	}
	return &Manager{
		session:   session,
		fallbacks: fallbacks,
		log:       logger.ForComponent(log, "auth"),
	}
}

// Resolve returns the first session found for username. With skipSession the
// session file is bypassed, which is what reauthentication needs after the
// cached session was rejected.
func (m *Manager) Resolve(username string, skipSession bool) (*Account, Source, error) {
	if !skipSession && m.session != nil {
		if account, err := retrieveAny(m.session, username); err == nil {
			return account, SourceSessionFile, nil
		}
	}
	for _, store := range m.fallbacks {
		account, err := retrieveAny(store, username)
		if err != nil {
			continue
		}
		return account, sourceOf(store), nil
	}
	return nil, "", ErrCredentialsNotFound
}

// Persist writes account to the session file.
func (m *Manager) Persist(account *Account) error {
	if err := account.Validate(); err != nil {
		return err
	}
	if m.session == nil {
		return ErrStoreUnavailable
	}
	account.LastModified = time.Now()
	if err := m.session.Store(account); err != nil {
		return fmt.Errorf("failed to persist session: %w", err)
	}
	m.log.InfoWithFields("session saved", map[string]interface{}{
		"username": account.Username,
	})
	return nil
}

// Store saves credentials to the first store that accepts them.
func (m *Manager) Store(account *Account) error {
	if err := account.Validate(); err != nil {
		return err
	}
	account.LastModified = time.Now()

	var lastErr error
	for _, store := range m.all() {
		err := store.Store(account)
		if err == nil {
			return nil
		}
		lastErr = err
	}
	if lastErr != nil {
		return fmt.Errorf("failed to store credentials: %w", lastErr)
	}
	return errors.New("no available credential stores")
}

// Retrieve gets credentials from the first store that has them
func (m *Manager) Retrieve(username string) (*Account, error) {
	account, _, err := m.Resolve(username, false)
	if err != nil {
		return nil, fmt.Errorf("credentials not found for user: %s", username)
	}
	return account, nil
}

// List returns every known account, keeping the most recent copy of each.
func (m *Manager) List() ([]*Account, error) {
	byName := make(map[string]*Account)
	for _, store := range m.all() {
		accounts, err := store.List()
		if err != nil {
			continue
		}
		for _, account := range accounts {
			if existing, ok := byName[account.Username]; !ok || account.LastModified.After(existing.LastModified) {
				byName[account.Username] = account
			}
		}
	}

	result := make([]*Account, 0, len(byName))
	for _, account := range byName {
		result = append(result, account)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Username < result[j].Username })
	return result, nil
}

// Delete removes credentials from every store
func (m *Manager) Delete(username string) error {
	var deleted bool
	var lastErr error

	for _, store := range m.all() {
		if err := store.Delete(username); err == nil {
			deleted = true
		} else {
			lastErr = err
		}
	}

	if !deleted && lastErr != nil {
		return fmt.Errorf("failed to delete credentials: %w", lastErr)
	}
	if !deleted {
		return fmt.Errorf("credentials not found for user: %s", username)
	}
	return nil
}

func (m *Manager) DeleteAll() error {
	accounts, err := m.List()
	if err != nil {
		return err
	}
	for _, account := range accounts {
		_ = m.Delete(account.Username)
	}
	return nil
}

func (m *Manager) all() []CredentialStore {
	stores := make([]CredentialStore, 0, len(m.fallbacks)+1)
	if m.session != nil {
		stores = append(stores, m.session)
	}
	return append(stores, m.fallbacks...)
}

// retrieveAny resolves an empty username to the most recent stored account.
func retrieveAny(store CredentialStore, username string) (*Account, error) {
	if username != "" {
		return store.Retrieve(username)
	}
	if env, ok := store.(*EnvironmentStore); ok {
		return env.Retrieve("")
	}
	accounts, err := store.List()
	if err != nil {
		return nil, err
	}
	var latest *Account
	for _, a := range accounts {
		if latest == nil || a.LastModified.After(latest.LastModified) {
			latest = a
		}
	}
	if latest == nil {
		return nil, ErrCredentialsNotFound
	}
	return latest, nil
}

func sourceOf(store CredentialStore) Source {
	switch store.(type) {
	case *EncryptedFileStore:
		return SourceSessionFile
	case *KeyringStore:
		return SourceKeyring
	case *EnvironmentStore:
		return SourceEnvironment
	default:
		return Source(fmt.Sprintf("%T", store))
	}
}

// SanitizeAccount creates a copy of the account with sensitive data masked
func SanitizeAccount(account *Account) *Account {
	if account == nil {
		return nil
	}

	return &Account{
		Username:     account.Username,
		SessionID:    maskString(account.SessionID),
		CSRFToken:    maskString(account.CSRFToken),
		UserAgent:    account.UserAgent,
		LastModified: account.LastModified,
	}
}

func maskString(s string) string {
	if len(s) <= 8 {
		return "********"
	}
	return s[:4] + "..." + s[len(s)-4:]
}

var (
	ErrCredentialsNotFound = errors.New("credentials not found")
	ErrInvalidCredentials  = errors.New("invalid credentials")
	ErrStoreUnavailable    = errors.New("credential store unavailable")
)
