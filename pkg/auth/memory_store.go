package auth

import (
	"sort"
	"sync"
)

// MemoryStore keeps sessions in a map. Tests use it in place of the session
// file and the keychain; Fail makes one operation return an error.
type MemoryStore struct {
	mu       sync.Mutex
	sessions map[string]Account
	failures map[string]error
	writes   int
}

func NewMemoryStore(accounts ...*Account) *MemoryStore {
	s := &MemoryStore{
		sessions: make(map[string]Account, len(accounts)),
		failures: make(map[string]error),
	}
	for _, a := range accounts {
		s.sessions[a.Username] = *a
	}
	return s
}

// Fail makes every later call of op ("store", "retrieve", "list" or
// "delete") return err. A nil err clears it.
func (s *MemoryStore) Fail(op string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err == nil {
		delete(s.failures, op)
		return
	}
	s.failures[op] = err
}

func (s *MemoryStore) Store(account *Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failures["store"]; err != nil {
		return err
	}
	if account == nil || account.Username == "" {
		return ErrInvalidCredentials
	}
	s.sessions[account.Username] = *account
	s.writes++
	return nil
}

func (s *MemoryStore) Retrieve(username string) (*Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failures["retrieve"]; err != nil {
		return nil, err
	}
	if username == "" {
		return nil, ErrInvalidCredentials
	}
	a, ok := s.sessions[username]
	if !ok {
		return nil, ErrCredentialsNotFound
	}
	return &a, nil
}

// List returns the sessions ordered by username.
func (s *MemoryStore) List() ([]*Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failures["list"]; err != nil {
		return nil, err
	}
	out := make([]*Account, 0, len(s.sessions))
	for _, a := range s.sessions {
		a := a
		out = append(out, &a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Username < out[j].Username })
	return out, nil
}

func (s *MemoryStore) Delete(username string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failures["delete"]; err != nil {
		return err
	}
	if _, ok := s.sessions[username]; !ok {
		return ErrCredentialsNotFound
	}
	delete(s.sessions, username)
	return nil
}

func (s *MemoryStore) Exists(username string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.sessions[username]
	return ok
}

func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// Writes counts successful Store calls.
func (s *MemoryStore) Writes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writes
}

// NewMemoryManager returns a Manager whose session file is a MemoryStore.
func NewMemoryManager(fallbacks ...CredentialStore) (*Manager, *MemoryStore) {
	session := NewMemoryStore()
	return NewManagerWithStores(session, nil, fallbacks...), session
}
