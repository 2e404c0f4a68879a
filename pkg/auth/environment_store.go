package auth

import (
	"os"
	"time"
)

// Environment variables read by EnvironmentStore.
const (
	EnvSessionID = "IGCRAWLER_SESSION_ID"
	EnvCSRFToken = "IGCRAWLER_CSRF_TOKEN"
	EnvUserAgent = "IGCRAWLER_USER_AGENT"
	EnvUsername  = "IGCRAWLER_USERNAME"
	EnvPassword  = "IGCRAWLER_PASSWORD"
)

// EnvironmentStore is a read-only store over IGCRAWLER_* variables.
type EnvironmentStore struct{}

func NewEnvironmentStore() *EnvironmentStore {
	return &EnvironmentStore{}
}

func (e *EnvironmentStore) Store(account *Account) error {
	return ErrStoreUnavailable
}

// Retrieve builds an account from the environment. The username comes from
// IGCRAWLER_USERNAME when the caller does not name one.
func (e *EnvironmentStore) Retrieve(username string) (*Account, error) {
	sessionID := os.Getenv(EnvSessionID)
	csrfToken := os.Getenv(EnvCSRFToken)
	if sessionID == "" || csrfToken == "" {
		return nil, ErrCredentialsNotFound
	}

	if username == "" {
		username = os.Getenv(EnvUsername)
	}
	if username == "" {
		username = "default"
	}

	return &Account{
		Username:     username,
		SessionID:    sessionID,
		CSRFToken:    csrfToken,
		UserAgent:    os.Getenv(EnvUserAgent),
		LastModified: time.Now(),
	}, nil
}

func (e *EnvironmentStore) List() ([]*Account, error) {
	account, err := e.Retrieve("")
	if err != nil {
		return []*Account{}, nil
	}
	return []*Account{account}, nil
}

func (e *EnvironmentStore) Delete(username string) error {
	return ErrStoreUnavailable
}

func (e *EnvironmentStore) Exists(username string) bool {
	return os.Getenv(EnvSessionID) != "" && os.Getenv(EnvCSRFToken) != ""
}

// LoginCredentials returns the username and password for a fresh login.
func LoginCredentials() (username, password string, ok bool) {
	username = os.Getenv(EnvUsername)
	password = os.Getenv(EnvPassword)
	return username, password, username != "" && password != ""
}
