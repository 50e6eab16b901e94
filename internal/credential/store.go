package credential

import (
	"errors"
	"sync"
	"time"

	"golang.org/x/oauth2"
)

// ErrNoCredential is returned by Token when no credential is held.
var ErrNoCredential = errors.New("no access credential")

// Store is the in-memory slot for the access credential.
type Store struct {
	mu        sync.RWMutex
	token     string
	expiresIn time.Duration
	issuedAt  time.Time

	now func() time.Time
}

// Compile-time check to ensure Store implements oauth2.TokenSource
var _ oauth2.TokenSource = (*Store)(nil)

// NewStore creates an empty Store.
func NewStore() *Store {
	return &Store{now: time.Now}
}

// Set replaces the held credential. expiresIn is the lifetime advertised by the
// server and is informational only.
func (s *Store) Set(token string, expiresIn time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.token = token
	s.expiresIn = expiresIn
	s.issuedAt = s.now()
}

// Get returns the held credential, if any.
func (s *Store) Get() (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.token, s.token != ""
}

// Present reports whether a credential is held.
func (s *Store) Present() bool {
	_, ok := s.Get()
	return ok
}

// Clear drops the held credential.
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.token = ""
	s.expiresIn = 0
	s.issuedAt = time.Time{}
}

// Token returns the held credential as an oauth2 bearer token.
// Expiry is derived from the advertised lifetime and is zero when the server
// did not advertise one, which oauth2 treats as "never expires".
func (s *Store) Token() (*oauth2.Token, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.token == "" {
		return nil, ErrNoCredential
	}

	tok := &oauth2.Token{
		AccessToken: s.token,
		TokenType:   "Bearer",
	}
	if s.expiresIn > 0 {
		tok.Expiry = s.issuedAt.Add(s.expiresIn)
		tok.ExpiresIn = int64(s.expiresIn / time.Second)
	}
	return tok, nil
}
