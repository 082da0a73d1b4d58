package session

import (
	"context"
	"sync"
)

// LoginPath is where the host is sent when the session is no longer valid.
const LoginPath = "/login"

// IdentityClearer is the session-state collaborator told to forget the
// authenticated user when the session is torn down.
type IdentityClearer interface {
	ClearIdentity(ctx context.Context) error
}

// Navigator moves the host to another route. A Guard without a Navigator
// runs headless and never redirects.
type Navigator interface {
	Navigate(path string) error
}

// NavigatorFunc adapts a function to Navigator.
type NavigatorFunc func(path string) error

// Navigate calls f(path).
func (f NavigatorFunc) Navigate(path string) error {
	return f(path)
}

// IdentityStore holds the signed-in user's identity blob for the host.
type IdentityStore struct {
	mu   sync.RWMutex
	user string
}

// Set records the identity, typically the raw user_data JSON.
func (s *IdentityStore) Set(user string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.user = user
}

// Current returns the identity if one is set.
func (s *IdentityStore) Current() (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.user, s.user != ""
}

// ClearIdentity forgets the identity.
func (s *IdentityStore) ClearIdentity(context.Context) error {
	s.Set("")
	return nil
}
